package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"netguard-console/internal/models"
	apperrors "netguard-console/pkg/errors"
	"netguard-console/pkg/pagination"
	"netguard-console/pkg/response"
	"netguard-console/pkg/validator"

	"github.com/gin-gonic/gin"
)

// ConsoleState is the read/acknowledge surface of the sync layer.
type ConsoleState interface {
	Alerts() ([]models.Alert, error)
	Statistics() (models.Statistics, bool, error)
	ConnectionState() (models.ConnectionState, error)
	RefreshStatistics() error
	Acknowledge(ctx context.Context, id models.AlertID) error
}

type ConsoleHandler struct {
	state ConsoleState
}

func NewConsoleHandler(state ConsoleState) *ConsoleHandler {
	return &ConsoleHandler{state: state}
}

// ListAlerts pages through the held alerts, newest first. Optional filters:
// severity (comma separated) and acknowledged=true|false.
func (h *ConsoleHandler) ListAlerts(c *gin.Context) {
	page := pagination.GetPage(c)
	pageSize := pagination.GetPageSize(c)

	var severities map[models.Severity]bool
	if raw := c.Query("severity"); raw != "" {
		severities = make(map[models.Severity]bool)
		for _, s := range strings.Split(raw, ",") {
			sev := models.Severity(strings.ToUpper(strings.TrimSpace(s)))
			if !sev.Valid() {
				response.InvalidParams(c, "unknown severity: "+s)
				return
			}
			severities[sev] = true
		}
	}
	ackFilter := c.Query("acknowledged")
	if ackFilter != "" {
		if err := validator.Var(ackFilter, "oneof=true false"); err != nil {
			response.InvalidParams(c, "acknowledged must be true or false")
			return
		}
	}

	alerts, err := h.state.Alerts()
	if err != nil {
		response.ServiceUnavailable(c, err.Error())
		return
	}

	filtered := make([]models.Alert, 0, len(alerts))
	for _, a := range alerts {
		if severities != nil && !severities[a.Severity] {
			continue
		}
		if ackFilter != "" && (ackFilter == "true") != a.Acknowledged {
			continue
		}
		filtered = append(filtered, a)
	}

	start, end := pagination.Window(len(filtered), page, pageSize)
	response.Page(c, filtered[start:end], page, pageSize, int64(len(filtered)))
}

func (h *ConsoleHandler) GetStatistics(c *gin.Context) {
	stats, ok, err := h.state.Statistics()
	if err != nil {
		response.ServiceUnavailable(c, err.Error())
		return
	}
	if !ok {
		response.ServiceUnavailable(c, "statistics not loaded yet")
		return
	}
	response.Success(c, stats)
}

// RefreshStatistics triggers a fetch; the new snapshot arrives asynchronously.
func (h *ConsoleHandler) RefreshStatistics(c *gin.Context) {
	if err := h.state.RefreshStatistics(); err != nil {
		response.ServiceUnavailable(c, err.Error())
		return
	}
	c.JSON(http.StatusAccepted, response.Response{Code: 0, Message: "refresh scheduled"})
}

func (h *ConsoleHandler) GetStatus(c *gin.Context) {
	state, err := h.state.ConnectionState()
	if err != nil {
		response.ServiceUnavailable(c, err.Error())
		return
	}
	response.Success(c, gin.H{
		"push_channel": state,
		"connected":    state == models.StateConnected,
	})
}

// Acknowledge waits for the backend to confirm before answering.
func (h *ConsoleHandler) Acknowledge(c *gin.Context) {
	id := models.AlertID(strings.TrimSpace(c.Param("id")))
	if id == "" {
		response.InvalidParams(c, "alert id is required")
		return
	}

	err := h.state.Acknowledge(c.Request.Context(), id)
	switch {
	case err == nil:
		response.Success(c, gin.H{"id": id, "acknowledged": true})
	case apperrors.IsNotFound(err):
		response.NotFound(c, "alert not found on backend")
	case errors.Is(err, apperrors.ErrBackendUnavailable),
		errors.Is(err, apperrors.ErrClosed),
		errors.Is(err, apperrors.ErrNotStarted):
		response.ServiceUnavailable(c, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		response.Error(c, http.StatusGatewayTimeout, err.Error())
	default:
		response.Error(c, http.StatusBadGateway, err.Error())
	}
}
