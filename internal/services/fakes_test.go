package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"netguard-console/internal/models"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

// fakeBackend answers from canned values. Fields may be swapped between
// calls while holding mu.
type fakeBackend struct {
	mu        sync.Mutex
	alerts    []models.Alert
	alertsErr error
	stats     models.Statistics
	statsErr  error
	ackErr    error

	listCalls  int
	statsCalls int
	acked      []models.AlertID

	// ackGate, when set, blocks AcknowledgeAlert until closed or ctx ends.
	ackGate chan struct{}
	// statsGate does the same for GetStatistics.
	statsGate chan struct{}
}

func (f *fakeBackend) ListAlerts(ctx context.Context, limit int) ([]models.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.alertsErr != nil {
		return nil, f.alertsErr
	}
	out := append([]models.Alert(nil), f.alerts...)
	if limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeBackend) GetStatistics(ctx context.Context) (models.Statistics, error) {
	f.mu.Lock()
	gate := f.statsGate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return models.Statistics{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statsCalls++
	if f.statsErr != nil {
		return models.Statistics{}, f.statsErr
	}
	return f.stats.Clone(), nil
}

func (f *fakeBackend) AcknowledgeAlert(ctx context.Context, id models.AlertID) error {
	f.mu.Lock()
	gate := f.ackGate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, id)
	return f.ackErr
}

func (f *fakeBackend) set(fn func(f *fakeBackend)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeBackend) statsCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statsCalls
}

// pushServer is a push channel endpoint that hands each accepted connection
// to the test.
type pushServer struct {
	server   *httptest.Server
	upgrader websocket.Upgrader
	conns    chan *websocket.Conn

	mu     sync.Mutex
	reject bool
	dials  int
}

func newPushServer(t *testing.T) *pushServer {
	t.Helper()
	ps := &pushServer{
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		conns:    make(chan *websocket.Conn, 8),
	}
	ps.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ps.mu.Lock()
		ps.dials++
		reject := ps.reject
		ps.mu.Unlock()
		if reject {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		conn, err := ps.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ps.conns <- conn
	}))
	t.Cleanup(ps.server.Close)
	return ps
}

func (ps *pushServer) url() string {
	return "ws" + strings.TrimPrefix(ps.server.URL, "http") + "/api/ws"
}

func (ps *pushServer) setReject(v bool) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.reject = v
}

func (ps *pushServer) dialCount() int {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.dials
}

func (ps *pushServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-ps.conns:
		t.Cleanup(func() { conn.Close() })
		return conn
	case <-time.After(waitFor):
		t.Fatal("no push connection accepted")
		return nil
	}
}

func sendAlertFrame(t *testing.T, conn *websocket.Conn, alert models.Alert) {
	t.Helper()
	data, err := json.Marshal(alert)
	require.NoError(t, err)
	frame, err := json.Marshal(models.PushMessage{Type: models.PushEventNewAlert, Data: data})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))
}

func testAlert(id string, severity models.Severity) models.Alert {
	return models.Alert{
		ID:          models.AlertID(id),
		Severity:    severity,
		ThreatType:  "Port Scan",
		Description: "Source 203.0.113.7 scanned 20+ ports",
		SourceIP:    "203.0.113.7",
		DestIP:      "10.0.0.5",
		Protocol:    "TCP",
		Timestamp:   time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC),
	}
}

func startLoop(t *testing.T) *EventLoop {
	t.Helper()
	loop := NewEventLoop(64)
	loop.Start()
	t.Cleanup(func() {
		loop.Stop()
		loop.Wait()
	})
	return loop
}

// onLoop runs fn on loop and fails the test if the loop has stopped.
func onLoop(t *testing.T, loop *EventLoop, fn func()) {
	t.Helper()
	require.True(t, loop.Call(fn), "event loop stopped")
}

// recvState waits for the next published state.
func recvState(t *testing.T, ch <-chan models.ConnectionState) models.ConnectionState {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(waitFor):
		t.Fatal("no connection state published")
		return 0
	}
}

// waitState drains ch until want is seen.
func waitState(t *testing.T, ch <-chan models.ConnectionState, want models.ConnectionState) {
	t.Helper()
	deadline := time.After(waitFor)
	for {
		select {
		case s := <-ch:
			if s == want {
				return
			}
		case <-deadline:
			t.Fatalf("connection state %s never published", want)
		}
	}
}
