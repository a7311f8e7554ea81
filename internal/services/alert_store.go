package services

import (
	"context"

	"netguard-console/internal/logging"
	"netguard-console/internal/metrics"
	"netguard-console/internal/models"

	"github.com/rs/zerolog"
)

// AlertStore is the console's view of alerts, newest first. Alerts are only
// ever added; the one mutation is acknowledgement, committed after the backend
// confirms it.
//
// Alerts are kept in arrival order (oldest first) so Prepend is an append;
// Alerts() reverses on the way out. The same identifier may appear more than
// once when the push channel redelivers an alert the initial fetch returned.
//
// Every method must be called on the event loop.
type AlertStore struct {
	loop    *EventLoop
	backend AlertAcknowledger
	ctx     context.Context
	log     zerolog.Logger

	alerts []models.Alert
	index  map[models.AlertID][]int

	ackSubs []func(models.AlertID)
}

// NewAlertStore returns an empty store. ctx bounds acknowledgement requests.
func NewAlertStore(ctx context.Context, loop *EventLoop, backend AlertAcknowledger) *AlertStore {
	return &AlertStore{
		loop:    loop,
		backend: backend,
		ctx:     ctx,
		log:     logging.Component("alert-store"),
		index:   make(map[models.AlertID][]int),
	}
}

// LoadInitial replaces the whole collection with alerts (newest first).
func (s *AlertStore) LoadInitial(alerts []models.Alert) {
	s.alerts = make([]models.Alert, 0, len(alerts))
	s.index = make(map[models.AlertID][]int, len(alerts))
	for i := len(alerts) - 1; i >= 0; i-- {
		s.push(alerts[i])
	}
	metrics.AlertsHeld.Set(float64(len(s.alerts)))
	s.log.Info().Int("count", len(alerts)).Msg("initial alerts loaded")
}

// Prepend puts alert at the head. Duplicated identifiers are kept.
func (s *AlertStore) Prepend(alert models.Alert) {
	s.push(alert)
	metrics.AlertsHeld.Set(float64(len(s.alerts)))
}

func (s *AlertStore) push(alert models.Alert) {
	s.index[alert.ID] = append(s.index[alert.ID], len(s.alerts))
	s.alerts = append(s.alerts, alert)
}

// Alerts returns a copy of the collection, newest first.
func (s *AlertStore) Alerts() []models.Alert {
	out := make([]models.Alert, len(s.alerts))
	for i, a := range s.alerts {
		out[len(s.alerts)-1-i] = a
	}
	return out
}

// Len is the number of alerts held.
func (s *AlertStore) Len() int {
	return len(s.alerts)
}

// Get returns the newest alert with id.
func (s *AlertStore) Get(id models.AlertID) (models.Alert, bool) {
	positions := s.index[id]
	if len(positions) == 0 {
		return models.Alert{}, false
	}
	return s.alerts[positions[len(positions)-1]], true
}

// SubscribeAcknowledged registers fn for every committed acknowledgement.
func (s *AlertStore) SubscribeAcknowledged(fn func(models.AlertID)) {
	s.ackSubs = append(s.ackSubs, fn)
}

// Acknowledge asks the backend to acknowledge id. Local state changes only if
// the backend accepts; a rejection leaves every alert as it was and is not
// retried. done, when set, runs on the loop with the backend's answer. If the
// loop has stopped by the time the answer arrives, nothing happens.
func (s *AlertStore) Acknowledge(id models.AlertID, done func(error)) {
	go func() {
		err := s.backend.AcknowledgeAlert(s.ctx, id)
		s.loop.Post(func() { s.completeAcknowledge(id, err, done) })
	}()
}

func (s *AlertStore) completeAcknowledge(id models.AlertID, err error, done func(error)) {
	if err != nil {
		metrics.Acknowledgements.WithLabelValues("failure").Inc()
		s.log.Warn().Err(err).Str("alert_id", id.String()).Msg("acknowledge rejected")
	} else {
		metrics.Acknowledgements.WithLabelValues("success").Inc()
		s.markAcknowledged(id)
	}
	if done != nil {
		done(err)
	}
}

func (s *AlertStore) markAcknowledged(id models.AlertID) {
	positions := s.index[id]
	if len(positions) == 0 {
		s.log.Info().Str("alert_id", id.String()).Msg("acknowledged alert is not held locally")
		return
	}
	for _, pos := range positions {
		s.alerts[pos].Acknowledged = true
	}
	for _, fn := range s.ackSubs {
		fn(id)
	}
}
