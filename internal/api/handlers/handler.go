package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/transitworks/rideview/internal/explorer"
	"github.com/transitworks/rideview/pkg/ws"
)

// Handler wires the explorer session to HTTP.
type Handler struct {
	logger   *zap.Logger
	session  *explorer.Session
	wsHub    *ws.Hub
	upgrader websocket.Upgrader
}

// NewHandler creates the HTTP handler.
func NewHandler(logger *zap.Logger, session *explorer.Session, wsHub *ws.Hub) *Handler {
	return &Handler{
		logger:  logger,
		session: session,
		wsHub:   wsHub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// RegisterRoutes registers all routes.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	// pages
	r.GET("/", h.ExplorerPage)
	r.GET("/charts", h.ChartsPage)
	r.GET("/map", h.MapPage)

	// selection API
	api := r.Group("/api")
	{
		api.POST("/select/date", h.SelectDate)
		api.POST("/select/run", h.SelectRun)
		api.POST("/select/window", h.SelectWindow)
		api.POST("/position", h.ShowPosition)
		api.GET("/state", h.GetState)
	}

	// WebSocket
	r.GET("/ws", h.HandleWebSocket)

	// health check
	r.GET("/health", h.HealthCheck)
}

type dateRequest struct {
	Date string `json:"date" form:"date"`
}

// SelectDate restarts the selection at a new service date.
func (h *Handler) SelectDate(c *gin.Context) {
	var req dateRequest
	if err := c.ShouldBind(&req); err != nil || req.Date == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Date is required"})
		return
	}

	res, err := h.session.SelectDate(c.Request.Context(), req.Date)
	if err != nil {
		h.respondSelectionError(c, err, "Failed to select date")
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": res})
}

type runRequest struct {
	RunsheetID string `json:"runsheetId" form:"runsheetId"`
	LeadLRV    string `json:"leadLRV" form:"leadLRV"`
}

// SelectRun picks a run within the chosen date.
func (h *Handler) SelectRun(c *gin.Context) {
	var req runRequest
	if err := c.ShouldBind(&req); err != nil || req.RunsheetID == "" || req.LeadLRV == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "runsheetId and leadLRV are required"})
		return
	}

	res, err := h.session.SelectRun(c.Request.Context(), req.RunsheetID, req.LeadLRV)
	if err != nil {
		h.respondSelectionError(c, err, "Failed to select run")
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": res})
}

type windowRequest struct {
	Time string `json:"time" form:"time"`
}

// SelectWindow loads one time window of the chosen run.
func (h *Handler) SelectWindow(c *gin.Context) {
	var req windowRequest
	if err := c.ShouldBind(&req); err != nil || req.Time == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Time is required"})
		return
	}

	res, err := h.session.SelectWindow(c.Request.Context(), req.Time)
	if err != nil {
		h.respondSelectionError(c, err, "Failed to select window")
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": res})
}

type positionRequest struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// ShowPosition recenters the map on a clicked sample position.
func (h *Handler) ShowPosition(c *gin.Context) {
	var req positionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "lat and lng are required"})
		return
	}

	nearest, err := h.session.ShowPosition(c.Request.Context(), req.Lat, req.Lng)
	if err != nil {
		h.logger.Error("Failed to update position", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update position"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"nearest_station": nearest,
	}})
}

// GetState returns the current session snapshot.
func (h *Handler) GetState(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": h.session.Snapshot()})
}

// respondSelectionError maps session errors to HTTP statuses. A
// stale-epoch result means a newer selection superseded this request;
// the caller gets a conflict rather than an error banner.
func (h *Handler) respondSelectionError(c *gin.Context, err error, msg string) {
	if errors.Is(err, explorer.ErrStale) {
		c.JSON(http.StatusConflict, gin.H{"error": "Selection changed, result discarded"})
		return
	}
	h.logger.Error(msg, zap.Error(err))
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

// HandleWebSocket upgrades the connection and registers the client.
func (h *Handler) HandleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade websocket", zap.Error(err))
		return
	}

	client := ws.NewClient(h.wsHub, conn)
	client.Register()

	go client.ReadPump()
	go client.WritePump()
}

// HealthCheck reports liveness.
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"state":      h.session.CurrentState(),
		"ws_clients": h.wsHub.ClientCount(),
	})
}
