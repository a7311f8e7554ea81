package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"netguard-console/internal/config"
	"netguard-console/internal/logging"
	"netguard-console/internal/metrics"
	"netguard-console/internal/models"
	apperrors "netguard-console/pkg/errors"
	"netguard-console/pkg/validator"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
)

// AlertSource lists the most recent alerts, newest first.
type AlertSource interface {
	ListAlerts(ctx context.Context, limit int) ([]models.Alert, error)
}

// StatisticsSource fetches the aggregate statistics snapshot.
type StatisticsSource interface {
	GetStatistics(ctx context.Context) (models.Statistics, error)
}

// AlertAcknowledger confirms an acknowledgement with the backend.
type AlertAcknowledger interface {
	AcknowledgeAlert(ctx context.Context, id models.AlertID) error
}

// Backend is the detection backend REST surface used by the console.
type Backend interface {
	AlertSource
	StatisticsSource
	AlertAcknowledger
}

// BackendClient talks to the detection backend REST API.
type BackendClient struct {
	client  *http.Client
	baseURL string
	breaker *gobreaker.CircuitBreaker[any]
}

// NewBackendClient returns a client for the API rooted at cfg.Backend.BaseURL.
// With the breaker enabled, calls fail fast while the backend keeps failing.
func NewBackendClient(cfg *config.Config) *BackendClient {
	endpoint := cfg.Backend.BaseURL
	if !strings.HasPrefix(endpoint, "http") {
		endpoint = "http://" + endpoint
	}
	timeout := cfg.Backend.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &BackendClient{
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimSuffix(endpoint, "/"),
	}
	if cfg.Breaker.Enabled {
		c.breaker = newBackendBreaker(cfg.Breaker)
	}
	return c
}

func newBackendBreaker(cfg config.BreakerConfig) *gobreaker.CircuitBreaker[any] {
	log := logging.Component("backend-breaker")
	metrics.BreakerState.Set(0)
	return gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "detection-backend",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRate
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("breaker state changed")
			metrics.BreakerState.Set(float64(to))
		},
		// A 4xx is the backend answering; only transport failures and 5xx trip it.
		IsSuccessful: func(err error) bool {
			if err == nil || errors.Is(err, context.Canceled) {
				return true
			}
			codeErr := apperrors.FromError(err)
			return apperrors.IsCodeError(err) && codeErr.Code < http.StatusInternalServerError
		},
	})
}

func (c *BackendClient) execute(operation string, fn func() (any, error)) (any, error) {
	start := time.Now()
	var (
		result any
		err    error
	)
	if c.breaker != nil {
		result, err = c.breaker.Execute(fn)
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = fmt.Errorf("%w: %v", apperrors.ErrBackendUnavailable, err)
		}
	} else {
		result, err = fn()
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	metrics.BackendRequestDuration.WithLabelValues(operation, outcome).Observe(time.Since(start).Seconds())
	return result, err
}

// ListAlerts calls GET /alerts?limit=N. Elements that do not decode into a
// valid alert are skipped; a body that is not a JSON array is an error.
func (c *BackendClient) ListAlerts(ctx context.Context, limit int) ([]models.Alert, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))

	result, err := c.execute("list_alerts", func() (any, error) {
		body, err := c.doRequest(ctx, http.MethodGet, "/alerts", params)
		if err != nil {
			return nil, err
		}
		return decodeAlertList(body)
	})
	if err != nil {
		return nil, err
	}
	return result.([]models.Alert), nil
}

func decodeAlertList(body []byte) ([]models.Alert, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal alerts: %w", err)
	}
	alerts := make([]models.Alert, 0, len(raw))
	for i, item := range raw {
		alert, err := decodeAlert(item)
		if err != nil {
			logging.Warn().Err(err).Int("index", i).Msg("skipping undecodable alert in batch")
			continue
		}
		alerts = append(alerts, alert)
	}
	return alerts, nil
}

func decodeAlert(data []byte) (models.Alert, error) {
	var alert models.Alert
	if err := json.Unmarshal(data, &alert); err != nil {
		return models.Alert{}, fmt.Errorf("failed to unmarshal alert: %w", err)
	}
	if err := validator.Struct(alert); err != nil {
		return models.Alert{}, fmt.Errorf("invalid alert %q: %s: %w", alert.ID, validator.Describe(err), apperrors.ErrValidationFailed)
	}
	return alert, nil
}

// GetStatistics calls GET /statistics.
func (c *BackendClient) GetStatistics(ctx context.Context) (models.Statistics, error) {
	result, err := c.execute("get_statistics", func() (any, error) {
		body, err := c.doRequest(ctx, http.MethodGet, "/statistics", nil)
		if err != nil {
			return nil, err
		}
		var stats models.Statistics
		if err := json.Unmarshal(body, &stats); err != nil {
			return nil, fmt.Errorf("failed to unmarshal statistics: %w", err)
		}
		return stats, nil
	})
	if err != nil {
		return models.Statistics{}, err
	}
	return result.(models.Statistics), nil
}

// AcknowledgeAlert calls POST /alerts/{id}/acknowledge. Only the status code
// matters.
func (c *BackendClient) AcknowledgeAlert(ctx context.Context, id models.AlertID) error {
	path := "/alerts/" + url.PathEscape(id.String()) + "/acknowledge"
	_, err := c.execute("acknowledge_alert", func() (any, error) {
		_, err := c.doRequest(ctx, http.MethodPost, path, nil)
		return nil, err
	})
	return err
}

// HealthCheck probes the statistics endpoint without touching the breaker.
func (c *BackendClient) HealthCheck(ctx context.Context) error {
	_, err := c.doRequest(ctx, http.MethodGet, "/statistics", nil)
	return err
}

func (c *BackendClient) doRequest(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	target := c.baseURL + path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}
	var body io.Reader
	if method == http.MethodPost {
		body = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach backend: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(data))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, fmt.Errorf("%s %s: %w", method, path, apperrors.NewCodeError(resp.StatusCode, msg))
	}

	return data, nil
}
