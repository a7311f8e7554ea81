package simulator

import (
	"io"
	"net/http"
	"strconv"

	"netguard-console/internal/middleware"
	"netguard-console/internal/models"
	apperrors "netguard-console/pkg/errors"

	"github.com/gin-gonic/gin"
)

const defaultListLimit = 50

// Server exposes the store and hub under /api, shaped like the real backend.
type Server struct {
	Store *Store
	Hub   *Hub
}

func NewServer() *Server {
	return &Server{Store: NewStore(), Hub: NewHub()}
}

// Publish stores rec and pushes it to every connected console.
func (s *Server) Publish(rec AlertRecord) AlertRecord {
	created := s.Store.Create(rec)
	s.Hub.PublishAlert(created)
	return created
}

// InjectAlertRequest is the body of POST /api/alerts.
type InjectAlertRequest struct {
	SourceIP    string          `json:"source_ip" binding:"required,ip"`
	DestIP      string          `json:"dest_ip" binding:"required,ip"`
	SourcePort  *int            `json:"source_port" binding:"omitempty,min=0,max=65535"`
	DestPort    *int            `json:"dest_port" binding:"omitempty,min=0,max=65535"`
	Protocol    string          `json:"protocol"`
	ThreatType  string          `json:"threat_type" binding:"required"`
	Severity    models.Severity `json:"severity" binding:"required,oneof=CRITICAL HIGH MEDIUM LOW"`
	Description string          `json:"description"`
}

// Router builds the simulated backend API.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(), middleware.LoggerMiddleware())

	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "NetGuard IDS API", "status": "running"})
	})

	api := router.Group("/api")
	{
		api.GET("/alerts", s.listAlerts)
		api.POST("/alerts", s.injectAlert)
		api.POST("/alerts/:id/acknowledge", s.acknowledge)
		api.GET("/statistics", s.statistics)
		api.GET("/ws", s.Hub.HandleWebSocket)
		api.POST("/debug/push", s.pushRaw)
		api.POST("/debug/disconnect", s.disconnect)
	}
	return router
}

func (s *Server) listAlerts(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultListLimit)))
	if err != nil || limit < 0 {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "limit must be a non-negative integer"})
		return
	}
	skip, err := strconv.Atoi(c.DefaultQuery("skip", "0"))
	if err != nil || skip < 0 {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "skip must be a non-negative integer"})
		return
	}
	c.JSON(http.StatusOK, s.Store.List(skip, limit))
}

func (s *Server) injectAlert(c *gin.Context) {
	var req InjectAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": err.Error()})
		return
	}
	created := s.Publish(AlertRecord{
		SourceIP:    req.SourceIP,
		DestIP:      req.DestIP,
		SourcePort:  req.SourcePort,
		DestPort:    req.DestPort,
		Protocol:    req.Protocol,
		ThreatType:  req.ThreatType,
		Severity:    req.Severity,
		Description: req.Description,
	})
	c.JSON(http.StatusCreated, created)
}

func (s *Server) acknowledge(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "alert id must be an integer"})
		return
	}
	rec, err := s.Store.Acknowledge(id)
	if err != nil {
		c.JSON(apperrors.FromError(err).Code, gin.H{"detail": "Alert not found"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) statistics(c *gin.Context) {
	c.JSON(http.StatusOK, s.Store.Statistics())
}

// pushRaw sends the request body to every console as one frame, unvalidated.
func (s *Server) pushRaw(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 64*1024))
	if err != nil || len(body) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "empty frame"})
		return
	}
	s.Hub.PublishBytes(body)
	c.Status(http.StatusAccepted)
}

// disconnect drops every push connection with a normal close.
func (s *Server) disconnect(c *gin.Context) {
	s.Hub.DisconnectAll()
	c.Status(http.StatusAccepted)
}
