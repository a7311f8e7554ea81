package services

import (
	"context"
	"sync"
	"sync/atomic"

	"netguard-console/internal/config"
	"netguard-console/internal/logging"
	"netguard-console/internal/models"
	apperrors "netguard-console/pkg/errors"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const defaultInitialAlertLimit = 100

// SyncCoordinator composes the push channel, the alert store and the
// statistics poller on one event loop. It sequences the initial load, routes
// pushed alerts, and tears everything down.
//
// The exported methods are safe for concurrent use; they hand their work to
// the loop.
type SyncCoordinator struct {
	loop    *EventLoop
	backend Backend
	conn    *ConnectionManager
	store   *AlertStore
	stats   *StatsPoller
	limit   int
	log     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	started   atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once
	ready     chan struct{}
	readyOnce sync.Once
	tearDown  bool // loop-owned

	subsMu sync.RWMutex
	subs   []Broadcaster
}

// NewSyncCoordinator wires the sync components for cfg against backend.
func NewSyncCoordinator(cfg *config.Config, backend Backend) *SyncCoordinator {
	ctx, cancel := context.WithCancel(context.Background())
	loop := NewEventLoop(256)

	limit := cfg.Sync.InitialAlertLimit
	if limit <= 0 {
		limit = defaultInitialAlertLimit
	}

	c := &SyncCoordinator{
		loop:    loop,
		backend: backend,
		conn:    NewConnectionManager(loop, cfg.Backend.WSURL, cfg.Sync.ReconnectDelay, cfg.Sync.HandshakeTimeout),
		store:   NewAlertStore(ctx, loop, backend),
		stats:   NewStatsPoller(ctx, loop, backend, cfg.Sync.StatsInterval),
		limit:   limit,
		log:     logging.Component("sync"),
		ctx:     ctx,
		cancel:  cancel,
		ready:   make(chan struct{}),
	}

	c.conn.SubscribeAlerts(c.onPushAlert)
	c.conn.SubscribeState(func(state models.ConnectionState) {
		c.broadcast(func(b Broadcaster) { b.SendConnectionState(state) })
	})
	c.store.SubscribeAcknowledged(func(id models.AlertID) {
		c.broadcast(func(b Broadcaster) { b.SendAcknowledgement(id) })
	})
	c.stats.Subscribe(func(stats models.Statistics) {
		c.broadcast(func(b Broadcaster) { b.SendStatistics(stats) })
	})
	return c
}

// Subscribe adds a presentation collaborator.
func (c *SyncCoordinator) Subscribe(b Broadcaster) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	c.subs = append(c.subs, b)
}

func (c *SyncCoordinator) broadcast(send func(Broadcaster)) {
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()
	for _, b := range c.subs {
		send(b)
	}
}

// Start fetches the initial alerts and statistics, commits both, then opens
// the push channel and the statistics timer. It returns immediately; Ready is
// closed once the push channel has been opened or the coordinator closed. A failed initial fetch leaves
// that part empty until the next push or refresh.
func (c *SyncCoordinator) Start() error {
	if c.closed.Load() {
		return apperrors.ErrClosed
	}
	if !c.started.CompareAndSwap(false, true) {
		return nil
	}
	c.loop.Start()
	c.log.Info().Int("limit", c.limit).Msg("starting initial load")
	go c.initialLoad()
	return nil
}

func (c *SyncCoordinator) initialLoad() {
	var (
		alerts   []models.Alert
		stats    models.Statistics
		alertErr error
		statsErr error
		g        errgroup.Group
	)
	g.Go(func() error {
		alerts, alertErr = c.backend.ListAlerts(c.ctx, c.limit)
		return alertErr
	})
	g.Go(func() error {
		stats, statsErr = c.backend.GetStatistics(c.ctx)
		return statsErr
	})
	if err := g.Wait(); err != nil {
		c.log.Warn().Err(err).Msg("initial load incomplete")
	}

	c.loop.Post(func() { c.commitInitial(alerts, alertErr, stats, statsErr) })
}

func (c *SyncCoordinator) commitInitial(alerts []models.Alert, alertErr error, stats models.Statistics, statsErr error) {
	if c.tearDown {
		return
	}
	if alertErr != nil {
		c.log.Error().Err(alertErr).Msg("initial alert fetch failed")
	} else {
		c.store.LoadInitial(alerts)
	}
	if statsErr != nil {
		c.log.Error().Err(statsErr).Msg("initial statistics fetch failed")
	} else {
		c.stats.Replace(stats)
	}

	c.conn.Open()
	c.stats.Start()
	c.markReady()
}

func (c *SyncCoordinator) markReady() {
	c.readyOnce.Do(func() { close(c.ready) })
}

// Ready is closed once the initial load is committed and the push channel
// opened, or once Close has run, whichever comes first.
func (c *SyncCoordinator) Ready() <-chan struct{} {
	return c.ready
}

func (c *SyncCoordinator) onPushAlert(alert models.Alert) {
	c.store.Prepend(alert)
	c.stats.RefreshNow()
	c.broadcast(func(b Broadcaster) { b.SendAlert(alert) })
}

// Close stops the statistics timer and the push channel, then the loop.
// Responses still in flight are discarded. Safe to call more than once.
func (c *SyncCoordinator) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		if c.started.Load() {
			c.loop.Call(func() {
				c.tearDown = true
				c.stats.Stop()
				c.conn.Close()
			})
		} else {
			c.conn.Close()
		}
		c.loop.Stop()
		c.cancel()
		c.loop.Wait()
		c.markReady()
		c.log.Info().Msg("sync coordinator stopped")
	})
	return nil
}

// Run starts the coordinator and blocks until ctx is done. Close runs on
// every return path.
func (c *SyncCoordinator) Run(ctx context.Context) error {
	defer c.Close()
	if err := c.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

func (c *SyncCoordinator) onLoop(fn func()) error {
	if !c.started.Load() {
		return apperrors.ErrNotStarted
	}
	if c.closed.Load() || !c.loop.Call(fn) {
		return apperrors.ErrClosed
	}
	return nil
}

// Alerts returns a snapshot of the alert collection, newest first.
func (c *SyncCoordinator) Alerts() ([]models.Alert, error) {
	var out []models.Alert
	err := c.onLoop(func() { out = c.store.Alerts() })
	return out, err
}

// Statistics returns the current statistics snapshot; ok is false until one
// has been fetched.
func (c *SyncCoordinator) Statistics() (stats models.Statistics, ok bool, err error) {
	err = c.onLoop(func() { stats, ok = c.stats.Snapshot() })
	return stats, ok, err
}

// ConnectionState returns the push channel state.
func (c *SyncCoordinator) ConnectionState() (models.ConnectionState, error) {
	var state models.ConnectionState
	err := c.onLoop(func() { state = c.conn.State() })
	return state, err
}

// RefreshStatistics triggers an immediate statistics refresh.
func (c *SyncCoordinator) RefreshStatistics() error {
	return c.onLoop(c.stats.RefreshNow)
}

// Acknowledge asks the backend to acknowledge id and waits for its answer.
// The local alert changes only when the backend accepts.
func (c *SyncCoordinator) Acknowledge(ctx context.Context, id models.AlertID) error {
	result := make(chan error, 1)
	if err := c.onLoop(func() {
		c.store.Acknowledge(id, func(err error) { result <- err })
	}); err != nil {
		return err
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.loop.Done():
		return apperrors.ErrClosed
	}
}
