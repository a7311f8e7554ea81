package services

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"netguard-console/internal/config"
	"netguard-console/internal/models"
	"netguard-console/internal/simulator"
	apperrors "netguard-console/pkg/errors"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingBroadcaster struct {
	mu     sync.Mutex
	alerts []models.AlertID
	acks   []models.AlertID
	stats  []models.Statistics
	states []models.ConnectionState
}

func (r *recordingBroadcaster) SendAlert(a models.Alert) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a.ID)
}

func (r *recordingBroadcaster) SendAcknowledgement(id models.AlertID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.acks = append(r.acks, id)
}

func (r *recordingBroadcaster) SendStatistics(s models.Statistics) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats = append(r.stats, s)
}

func (r *recordingBroadcaster) SendConnectionState(s models.ConnectionState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *recordingBroadcaster) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.alerts) + len(r.acks) + len(r.stats) + len(r.states)
}

type countingBackend struct {
	Backend
	mu         sync.Mutex
	statsCalls int
}

func (b *countingBackend) GetStatistics(ctx context.Context) (models.Statistics, error) {
	b.mu.Lock()
	b.statsCalls++
	b.mu.Unlock()
	return b.Backend.GetStatistics(ctx)
}

func (b *countingBackend) statsCallCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.statsCalls
}

func testConfig(wsURL string) *config.Config {
	return &config.Config{
		Backend: config.BackendConfig{BaseURL: "http://unused/api", WSURL: wsURL, Timeout: time.Second},
		Sync: config.SyncConfig{
			InitialAlertLimit: 100,
			StatsInterval:     time.Hour,
			ReconnectDelay:    50 * time.Millisecond,
			HandshakeTimeout:  time.Second,
		},
	}
}

func startCoordinator(t *testing.T, cfg *config.Config, backend Backend) (*SyncCoordinator, *recordingBroadcaster) {
	t.Helper()
	c := NewSyncCoordinator(cfg, backend)
	rec := &recordingBroadcaster{}
	c.Subscribe(rec)
	require.NoError(t, c.Start())
	t.Cleanup(func() { c.Close() })
	select {
	case <-c.Ready():
	case <-time.After(waitFor):
		t.Fatal("coordinator never became ready")
	}
	return c, rec
}

func alertIDs(t *testing.T, c *SyncCoordinator) []models.AlertID {
	t.Helper()
	alerts, err := c.Alerts()
	require.NoError(t, err)
	return ids(alerts)
}

func TestSyncCoordinator_InitialLoadThenPush(t *testing.T) {
	ps := newPushServer(t)
	backend := &fakeBackend{
		alerts: []models.Alert{testAlert("a2", models.SeverityHigh), testAlert("a1", models.SeverityLow)},
		stats:  sampleStats,
	}
	c, rec := startCoordinator(t, testConfig(ps.url()), backend)

	assert.Equal(t, []models.AlertID{"a2", "a1"}, alertIDs(t, c))
	stats, ok, err := c.Statistics()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, sampleStats, stats)

	conn := ps.accept(t)
	require.Eventually(t, func() bool {
		state, err := c.ConnectionState()
		return err == nil && state == models.StateConnected
	}, waitFor, 5*time.Millisecond)

	calls := backend.statsCallCount()
	sendAlertFrame(t, conn, testAlert("a3", models.SeverityCritical))

	require.Eventually(t, func() bool { return len(alertIDs(t, c)) == 3 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, []models.AlertID{"a3", "a2", "a1"}, alertIDs(t, c))
	require.Eventually(t, func() bool { return backend.statsCallCount() > calls }, waitFor, 5*time.Millisecond,
		"a pushed alert triggers a statistics refresh")

	rec.mu.Lock()
	assert.Equal(t, []models.AlertID{"a3"}, rec.alerts)
	assert.Contains(t, rec.states, models.StateConnected)
	rec.mu.Unlock()
}

func TestSyncCoordinator_Acknowledge(t *testing.T) {
	ps := newPushServer(t)
	backend := &fakeBackend{alerts: []models.Alert{testAlert("a2", models.SeverityHigh), testAlert("a1", models.SeverityLow)}}
	c, rec := startCoordinator(t, testConfig(ps.url()), backend)

	require.NoError(t, c.Acknowledge(context.Background(), "a1"))
	alerts, err := c.Alerts()
	require.NoError(t, err)
	assert.False(t, alerts[0].Acknowledged)
	assert.True(t, alerts[1].Acknowledged)

	rec.mu.Lock()
	assert.Equal(t, []models.AlertID{"a1"}, rec.acks)
	rec.mu.Unlock()
}

func TestSyncCoordinator_AcknowledgeRejected(t *testing.T) {
	ps := newPushServer(t)
	backend := &fakeBackend{
		alerts: []models.Alert{testAlert("a2", models.SeverityHigh), testAlert("a1", models.SeverityLow)},
		ackErr: apperrors.NewCodeError(500, "boom"),
	}
	c, rec := startCoordinator(t, testConfig(ps.url()), backend)

	err := c.Acknowledge(context.Background(), "a1")
	require.Error(t, err)
	assert.Equal(t, 500, apperrors.FromError(err).Code)

	alerts, err := c.Alerts()
	require.NoError(t, err)
	for _, a := range alerts {
		assert.False(t, a.Acknowledged)
	}
	rec.mu.Lock()
	assert.Empty(t, rec.acks)
	rec.mu.Unlock()
}

func TestSyncCoordinator_InitialFetchFailure(t *testing.T) {
	ps := newPushServer(t)
	backend := &fakeBackend{alertsErr: errors.New("down"), statsErr: errors.New("down")}
	c, _ := startCoordinator(t, testConfig(ps.url()), backend)

	assert.Empty(t, alertIDs(t, c))
	_, ok, err := c.Statistics()
	require.NoError(t, err)
	assert.False(t, ok)

	conn := ps.accept(t)
	sendAlertFrame(t, conn, testAlert("n1", models.SeverityMedium))
	require.Eventually(t, func() bool { return len(alertIDs(t, c)) == 1 }, waitFor, 5*time.Millisecond,
		"the push channel opens even when the initial fetch fails")
}

func TestSyncCoordinator_FacadeLifecycle(t *testing.T) {
	ps := newPushServer(t)
	c := NewSyncCoordinator(testConfig(ps.url()), &fakeBackend{})

	_, err := c.Alerts()
	assert.ErrorIs(t, err, apperrors.ErrNotStarted)

	require.NoError(t, c.Start())
	<-c.Ready()
	require.NoError(t, c.RefreshStatistics())

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	_, err = c.Alerts()
	assert.ErrorIs(t, err, apperrors.ErrClosed)
	assert.ErrorIs(t, c.Start(), apperrors.ErrClosed)
}

func TestSyncCoordinator_CloseBeforeStart(t *testing.T) {
	c := NewSyncCoordinator(testConfig("ws://127.0.0.1:1/api/ws"), &fakeBackend{})
	done := make(chan struct{})
	go func() {
		c.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("Close blocked on a coordinator that never started")
	}
}

func TestSyncCoordinator_CloseReleasesReady(t *testing.T) {
	ps := newPushServer(t)
	backend := &fakeBackend{statsGate: make(chan struct{})}
	c := NewSyncCoordinator(testConfig(ps.url()), backend)
	require.NoError(t, c.Start())
	require.NoError(t, c.Close())

	select {
	case <-c.Ready():
	case <-time.After(waitFor):
		t.Fatal("Ready stayed open after Close")
	}
	assert.Zero(t, ps.dialCount(), "a closed coordinator never opens the push channel")

	unstarted := NewSyncCoordinator(testConfig(ps.url()), &fakeBackend{})
	require.NoError(t, unstarted.Close())
	select {
	case <-unstarted.Ready():
	case <-time.After(waitFor):
		t.Fatal("Ready stayed open after Close on an unstarted coordinator")
	}
}

func TestSyncCoordinator_NothingAfterClose(t *testing.T) {
	ps := newPushServer(t)
	backend := &fakeBackend{
		alerts:  []models.Alert{testAlert("a1", models.SeverityLow)},
		stats:   sampleStats,
		ackGate: make(chan struct{}),
	}
	c, rec := startCoordinator(t, testConfig(ps.url()), backend)
	conn := ps.accept(t)
	require.Eventually(t, func() bool {
		state, _ := c.ConnectionState()
		return state == models.StateConnected
	}, waitFor, 5*time.Millisecond)

	ackErr := make(chan error, 1)
	go func() { ackErr <- c.Acknowledge(context.Background(), "a1") }()
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, c.Close())
	seen := rec.total()

	select {
	case err := <-ackErr:
		assert.True(t, errors.Is(err, apperrors.ErrClosed) || errors.Is(err, context.Canceled), "got %v", err)
	case <-time.After(waitFor):
		t.Fatal("pending acknowledge never returned")
	}

	_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"new_alert","data":{"id":9,"severity":"LOW","threat_type":"x"}}`))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, seen, rec.total(), "no notifications after Close")
	assert.Equal(t, 1, ps.dialCount(), "no reconnect after Close")
}

func TestSyncCoordinator_AgainstSimulator(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sim := simulator.NewServer()
	go sim.Hub.Run(ctx)
	gen := simulator.NewGenerator(1)
	for i := 0; i < 3; i++ {
		sim.Publish(gen.Next())
	}
	server := httptest.NewServer(sim.Router())
	defer server.Close()

	cfg := testConfig("ws" + strings.TrimPrefix(server.URL, "http") + "/api/ws")
	cfg.Backend.BaseURL = server.URL + "/api"
	backend := NewBackendClient(cfg)

	c, _ := startCoordinator(t, cfg, backend)
	assert.Equal(t, []models.AlertID{"3", "2", "1"}, alertIDs(t, c))
	stats, ok, err := c.Statistics()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(3), stats.TotalAlerts)

	require.Eventually(t, func() bool { return sim.Hub.Clients(ctx) == 1 }, waitFor, 5*time.Millisecond)
	sim.Publish(gen.Next())
	require.Eventually(t, func() bool { return len(alertIDs(t, c)) == 4 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, models.AlertID("4"), alertIDs(t, c)[0])
	require.Eventually(t, func() bool {
		stats, _, _ := c.Statistics()
		return stats.TotalAlerts == 4
	}, waitFor, 5*time.Millisecond)

	require.NoError(t, c.Acknowledge(context.Background(), "2"))
	alerts, err := c.Alerts()
	require.NoError(t, err)
	for _, a := range alerts {
		assert.Equal(t, a.ID == "2", a.Acknowledged, "alert %s", a.ID)
	}
	assert.True(t, apperrors.IsNotFound(c.Acknowledge(context.Background(), "999")))

	sim.Hub.DisconnectAll()
	require.Eventually(t, func() bool { return sim.Hub.Clients(ctx) == 1 }, waitFor, 10*time.Millisecond,
		"console reconnects after the backend drops it")
}

func TestSyncCoordinator_MalformedFramesChangeNothing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sim := simulator.NewServer()
	go sim.Hub.Run(ctx)
	gen := simulator.NewGenerator(7)
	for i := 0; i < 2; i++ {
		sim.Publish(gen.Next())
	}
	server := httptest.NewServer(sim.Router())
	defer server.Close()

	cfg := testConfig("ws" + strings.TrimPrefix(server.URL, "http") + "/api/ws")
	cfg.Backend.BaseURL = server.URL + "/api"
	backend := &countingBackend{Backend: NewBackendClient(cfg)}

	c, rec := startCoordinator(t, cfg, backend)
	require.Eventually(t, func() bool { return sim.Hub.Clients(ctx) == 1 }, waitFor, 5*time.Millisecond)

	before := alertIDs(t, c)
	statsBefore, ok, err := c.Statistics()
	require.NoError(t, err)
	require.True(t, ok)
	calls := backend.statsCallCount()
	rec.mu.Lock()
	alertsSent := len(rec.alerts)
	rec.mu.Unlock()

	push := func(frame []byte) {
		t.Helper()
		resp, err := http.Post(server.URL+"/api/debug/push", "application/json", bytes.NewReader(frame))
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusAccepted, resp.StatusCode)
	}
	for _, f := range []string{
		`not json at all`,
		`{"type": "heartbeat", "data": {}}`,
		`{"type": "new_alert", "data": {"id": 3, "severity": "SEVERE", "threat_type": "x"}}`,
		`{"type": "new_alert", "data": "nope"}`,
		`{"type": "new_alert"}`,
	} {
		push([]byte(f))
	}
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, before, alertIDs(t, c))
	stats, _, err := c.Statistics()
	require.NoError(t, err)
	assert.Equal(t, statsBefore, stats)
	assert.Equal(t, calls, backend.statsCallCount(), "ignored frames trigger no refresh")
	state, err := c.ConnectionState()
	require.NoError(t, err)
	assert.Equal(t, models.StateConnected, state)

	// A valid frame behind the bad ones still lands, and is the only change.
	data, err := json.Marshal(testAlert("marker", models.SeverityLow))
	require.NoError(t, err)
	frame, err := json.Marshal(models.PushMessage{Type: models.PushEventNewAlert, Data: data})
	require.NoError(t, err)
	push(frame)

	require.Eventually(t, func() bool { return len(alertIDs(t, c)) == len(before)+1 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, append([]models.AlertID{"marker"}, before...), alertIDs(t, c))
	require.Eventually(t, func() bool { return backend.statsCallCount() == calls+1 }, waitFor, 5*time.Millisecond)
	rec.mu.Lock()
	assert.Equal(t, alertsSent+1, len(rec.alerts))
	rec.mu.Unlock()
}
