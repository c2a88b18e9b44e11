package handlers

import (
	"encoding/json"
	"html/template"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/transitworks/rideview/internal/explorer"
	"github.com/transitworks/rideview/internal/geo"
)

var explorerTmpl = template.Must(template.New("explorer").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Ride Quality Explorer</title>
<style>
body { font-family: sans-serif; margin: 16px; }
.controls { margin-bottom: 12px; }
.controls button { margin: 2px; padding: 6px 10px; cursor: pointer; }
.alert-warning { color: #8a6d3b; background: #fcf8e3; padding: 8px; }
.alert-error { color: #a94442; background: #f2dede; padding: 8px; }
.alert-info { color: #31708f; }
iframe { border: 1px solid #ccc; width: 100%; }
#charts-frame { height: 1500px; }
#map-frame { height: 420px; }
</style>
</head>
<body>
<h2>Ride Quality Explorer</h2>
<div class="controls">
  <label>Service date: <input type="date" id="date-picker"></label>
  <div id="run-buttons"></div>
  <div id="time-buttons"></div>
</div>
<div id="alert"></div>
<div id="row-count"></div>
<iframe id="charts-frame" src="/charts"></iframe>
<iframe id="map-frame" src="/map"></iframe>
<script>
function refreshMap() {
  document.getElementById('map-frame').contentWindow.location.reload();
}
function refreshCharts() {
  document.getElementById('charts-frame').contentWindow.location.reload();
}
function showAlert(alert) {
  var el = document.getElementById('alert');
  if (!alert) { el.textContent = ''; el.className = ''; return; }
  el.textContent = alert.text;
  el.className = 'alert-' + alert.level;
}
function post(url, body) {
  return fetch(url, {
    method: 'POST',
    headers: {'Content-Type': 'application/json'},
    body: JSON.stringify(body)
  }).then(function(r) { return r.json(); });
}
function renderButtons(containerId, items, labelFn, onClick) {
  var box = document.getElementById(containerId);
  box.innerHTML = '';
  items.forEach(function(item) {
    var b = document.createElement('button');
    b.textContent = labelFn(item);
    b.onclick = function() { onClick(item); };
    box.appendChild(b);
  });
}
document.getElementById('date-picker').addEventListener('change', function(e) {
  document.getElementById('time-buttons').innerHTML = '';
  document.getElementById('row-count').textContent = '';
  post('/api/select/date', {date: e.target.value}).then(function(resp) {
    var data = resp.data || {};
    showAlert(data.alert);
    renderButtons('run-buttons', data.runs || [], function(run) {
      return (run.leadLRV || 'N/A') + ' [' + (run.runsheetId || 'N/A') + ']';
    }, selectRun);
    refreshCharts();
    refreshMap();
  });
});
function selectRun(run) {
  document.getElementById('row-count').textContent = '';
  post('/api/select/run', {runsheetId: run.runsheetId, leadLRV: run.leadLRV}).then(function(resp) {
    var data = resp.data || {};
    showAlert(data.alert);
    renderButtons('time-buttons', data.windows || [], function(w) { return w; }, selectWindow);
    refreshCharts();
    refreshMap();
  });
}
function selectWindow(windowTime) {
  post('/api/select/window', {time: windowTime}).then(function(resp) {
    var data = resp.data || {};
    showAlert(data.alert);
    var rc = document.getElementById('row-count');
    rc.textContent = data.outcome === 'loaded' ? 'Number of Rows: ' + data.row_count : '';
    refreshCharts();
    refreshMap();
  });
}
{{if .DeepLinked}}
showAlert({{.AlertJSON}});
{{if .RowCountShown}}
document.getElementById('row-count').textContent = 'Number of Rows: {{.RowCount}}';
{{end}}
{{end}}
</script>
</body>
</html>
`))

var mapTmpl = template.Must(template.New("map").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<link rel="stylesheet" href="https://unpkg.com/leaflet@1.9.4/dist/leaflet.css">
<script src="https://unpkg.com/leaflet@1.9.4/dist/leaflet.js"></script>
<style>html, body, #map { height: 100%; margin: 0; }</style>
</head>
<body>
<div id="map"></div>
<script>
{{if .Active}}
var map = L.map('map').setView([{{.View.Lat}}, {{.View.Lng}}], {{.View.Zoom}});
L.tileLayer('https://tile.openstreetmap.org/{z}/{x}/{y}.png', {
  maxZoom: 19,
  attribution: '&copy; OpenStreetMap contributors'
}).addTo(map);
{{range .View.Stations}}
L.marker([{{.Lat}}, {{.Lng}}]).addTo(map).bindPopup({{.Popup}});
{{end}}
{{with .View.Position}}
L.marker([{{.Lat}}, {{.Lng}}]).addTo(map).bindPopup({{.Popup}}).openPopup();
{{end}}
{{else}}
document.body.innerHTML = '<p style="font-family: sans-serif; padding: 12px;">Click a charted point with a position fix to see it on the map.</p>';
{{end}}
</script>
</body>
</html>
`))

type explorerPageData struct {
	DeepLinked    bool
	AlertJSON     template.JS
	RowCountShown bool
	RowCount      int
}

// ExplorerPage serves the selection UI. A link carrying all four of
// runsheetId, leadLRV, date and time activates that window directly;
// partial parameter sets are ignored and the manual flow is served.
func (h *Handler) ExplorerPage(c *gin.Context) {
	data := explorerPageData{}

	link := explorer.DeepLink{
		RunsheetID: c.Query("runsheetId"),
		LeadLRV:    c.Query("leadLRV"),
		Date:       c.Query("date"),
		Time:       c.Query("time"),
	}
	if link.Complete() {
		out, err := h.session.Activate(c.Request.Context(), link)
		if err != nil {
			h.logger.Error("Failed to apply deep link", zap.Error(err))
		} else {
			data.DeepLinked = true
			data.AlertJSON = alertJS(out.Alert)
			if out.Outcome == explorer.OutcomeLoaded {
				data.RowCountShown = true
				data.RowCount = out.RowCount
			}
		}
	}

	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(http.StatusOK)
	if err := explorerTmpl.Execute(c.Writer, data); err != nil {
		h.logger.Error("Failed to render explorer page", zap.Error(err))
	}
}

// ChartsPage serves the rendered chart page for the active window.
func (h *Handler) ChartsPage(c *gin.Context) {
	html, ok := h.session.ChartHTML()
	if !ok {
		c.Data(http.StatusOK, "text/html; charset=utf-8", []byte("<!DOCTYPE html><html><body></body></html>"))
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", html)
}

type mapPageData struct {
	Active bool
	View   *geo.MapView
}

// MapPage serves the Leaflet map for the current position, if any.
func (h *Handler) MapPage(c *gin.Context) {
	view := h.session.MapView()

	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(http.StatusOK)
	if err := mapTmpl.Execute(c.Writer, mapPageData{Active: view != nil, View: view}); err != nil {
		h.logger.Error("Failed to render map page", zap.Error(err))
	}
}

// alertJS serializes an alert for inline script injection.
func alertJS(a *explorer.Alert) template.JS {
	if a == nil {
		return template.JS("null")
	}
	b, err := json.Marshal(a)
	if err != nil {
		return template.JS("null")
	}
	return template.JS(b)
}
