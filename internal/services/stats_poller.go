package services

import (
	"context"
	"time"

	"netguard-console/internal/logging"
	"netguard-console/internal/metrics"
	"netguard-console/internal/models"

	"github.com/rs/zerolog"
)

const defaultStatsInterval = 10 * time.Second

// StatsPoller keeps an eventually fresh statistics snapshot. It refreshes on
// a fixed timer and whenever RefreshNow is called; a failed fetch keeps the
// previous snapshot.
//
// Every method must be called on the event loop.
type StatsPoller struct {
	loop     *EventLoop
	source   StatisticsSource
	ctx      context.Context
	interval time.Duration
	log      zerolog.Logger

	current *models.Statistics
	ticker  *LoopTimer
	subs    []func(models.Statistics)
}

// NewStatsPoller returns a poller that fetches from source every interval once started.
func NewStatsPoller(ctx context.Context, loop *EventLoop, source StatisticsSource, interval time.Duration) *StatsPoller {
	if interval <= 0 {
		interval = defaultStatsInterval
	}
	return &StatsPoller{
		loop:     loop,
		source:   source,
		ctx:      ctx,
		interval: interval,
		log:      logging.Component("stats-poller"),
	}
}

// Start arms the periodic refresh. It does not fetch immediately.
func (p *StatsPoller) Start() {
	if p.ticker != nil {
		return
	}
	p.ticker = p.loop.Every(p.interval, p.RefreshNow)
}

// Stop cancels the periodic refresh. In-flight fetches complete as no-ops if
// the loop is gone by then.
func (p *StatsPoller) Stop() {
	p.ticker.Stop()
	p.ticker = nil
}

// RefreshNow fetches once and replaces the snapshot on success.
func (p *StatsPoller) RefreshNow() {
	go func() {
		stats, err := p.source.GetStatistics(p.ctx)
		p.loop.Post(func() { p.complete(stats, err) })
	}()
}

func (p *StatsPoller) complete(stats models.Statistics, err error) {
	if err != nil {
		metrics.StatsRefreshes.WithLabelValues("failure").Inc()
		p.log.Warn().Err(err).Msg("statistics refresh failed, keeping previous snapshot")
		return
	}
	p.Replace(stats)
}

// Replace installs stats as the current snapshot.
func (p *StatsPoller) Replace(stats models.Statistics) {
	metrics.StatsRefreshes.WithLabelValues("success").Inc()
	snapshot := stats.Clone()
	p.current = &snapshot
	for _, fn := range p.subs {
		fn(snapshot.Clone())
	}
}

// Snapshot returns a copy of the current statistics; false until the first
// successful fetch.
func (p *StatsPoller) Snapshot() (models.Statistics, bool) {
	if p.current == nil {
		return models.Statistics{}, false
	}
	return p.current.Clone(), true
}

// Subscribe registers fn for every replaced snapshot.
func (p *StatsPoller) Subscribe(fn func(models.Statistics)) {
	p.subs = append(p.subs, fn)
}
