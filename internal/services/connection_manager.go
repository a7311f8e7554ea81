package services

import (
	"context"
	"net/http"
	"time"

	"netguard-console/internal/logging"
	"netguard-console/internal/metrics"
	"netguard-console/internal/models"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	defaultReconnectDelay   = 5 * time.Second
	defaultHandshakeTimeout = 10 * time.Second
	maxPushFrameSize        = 512 * 1024
)

// ConnectionManager owns the push channel to the detection backend. It keeps
// exactly one logical connection alive, reconnecting after a fixed delay for as
// long as it is open, and publishes decoded alerts to its subscribers.
//
// Every method must be called on the event loop.
type ConnectionManager struct {
	loop           *EventLoop
	url            string
	header         http.Header
	dialer         *websocket.Dialer
	reconnectDelay time.Duration
	log            zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	state  models.ConnectionState
	conn   *websocket.Conn
	gen    uint64 // bumped per attempt; events from older attempts are ignored
	retry  *LoopTimer
	opened bool
	closed bool

	alertSubs []func(models.Alert)
	stateSubs []func(models.ConnectionState)
}

// NewConnectionManager returns a manager for the push channel at wsURL.
func NewConnectionManager(loop *EventLoop, wsURL string, reconnectDelay, handshakeTimeout time.Duration) *ConnectionManager {
	if reconnectDelay <= 0 {
		reconnectDelay = defaultReconnectDelay
	}
	if handshakeTimeout <= 0 {
		handshakeTimeout = defaultHandshakeTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ConnectionManager{
		loop:           loop,
		url:            wsURL,
		dialer:         &websocket.Dialer{HandshakeTimeout: handshakeTimeout, Proxy: http.ProxyFromEnvironment},
		reconnectDelay: reconnectDelay,
		log:            logging.Component("push-channel"),
		ctx:            ctx,
		cancel:         cancel,
		state:          models.StateDisconnected,
	}
}

// SubscribeAlerts registers fn for every decoded alert.
func (m *ConnectionManager) SubscribeAlerts(fn func(models.Alert)) {
	m.alertSubs = append(m.alertSubs, fn)
}

// SubscribeState registers fn for every state transition.
func (m *ConnectionManager) SubscribeState(fn func(models.ConnectionState)) {
	m.stateSubs = append(m.stateSubs, fn)
}

// State returns the current push channel state.
func (m *ConnectionManager) State() models.ConnectionState {
	return m.state
}

// Open starts the connection. Further calls, and calls after Close, do nothing.
func (m *ConnectionManager) Open() {
	if m.opened || m.closed {
		return
	}
	m.opened = true
	m.connect()
}

// Close cancels a pending reconnect and releases the channel. No state
// transition or alert is published afterwards.
func (m *ConnectionManager) Close() {
	if m.closed {
		return
	}
	m.closed = true
	m.retry.Stop()
	m.retry = nil
	m.cancel()
	if m.conn != nil {
		_ = m.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		if err := m.conn.Close(); err != nil {
			m.log.Debug().Err(err).Msg("close push connection")
		}
		m.conn = nil
	}
	m.log.Info().Msg("push channel closed")
}

func (m *ConnectionManager) connect() {
	m.gen++
	gen := m.gen
	m.setState(models.StateConnecting)
	m.log.Info().Str("url", m.url).Uint64("attempt", gen).Msg("connecting")

	go func() {
		conn, resp, err := m.dialer.DialContext(m.ctx, m.url, m.header)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if !m.loop.Post(func() { m.onDial(gen, conn, resp, err) }) && conn != nil {
			_ = conn.Close()
		}
	}()
}

func (m *ConnectionManager) onDial(gen uint64, conn *websocket.Conn, resp *http.Response, err error) {
	if m.closed || gen != m.gen {
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		ev := m.log.Warn().Err(err)
		if resp != nil {
			ev = ev.Int("status", resp.StatusCode)
		}
		ev.Msg("push channel dial failed")
		m.setState(models.StateError)
		m.dropped()
		return
	}

	conn.SetReadLimit(maxPushFrameSize)
	m.conn = conn
	m.setState(models.StateConnected)
	m.log.Info().Msg("push channel connected")
	go m.readPump(gen, conn)
}

// readPump forwards frames to the loop until the connection fails.
func (m *ConnectionManager) readPump(gen uint64, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			m.loop.Post(func() { m.onReadError(gen, err) })
			return
		}
		if !m.loop.Post(func() { m.handleFrame(gen, data) }) {
			return
		}
	}
}

func (m *ConnectionManager) onReadError(gen uint64, err error) {
	if m.closed || gen != m.gen {
		return
	}
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		m.log.Info().Msg("push channel closed by peer")
	} else {
		m.log.Warn().Err(err).Msg("push channel read failed")
		m.setState(models.StateError)
	}
	m.dropped()
}

// dropped moves to Disconnected and arms the single reconnect timer.
func (m *ConnectionManager) dropped() {
	m.setState(models.StateDisconnected)
	if m.retry != nil {
		return
	}
	m.log.Info().Dur("delay", m.reconnectDelay).Msg("scheduling reconnect")
	m.retry = m.loop.AfterFunc(m.reconnectDelay, func() {
		m.retry = nil
		if m.closed {
			return
		}
		metrics.ReconnectAttempts.Inc()
		m.connect()
	})
}

func (m *ConnectionManager) handleFrame(gen uint64, data []byte) {
	if m.closed || gen != m.gen {
		return
	}
	metrics.PushFramesReceived.Inc()

	var msg models.PushMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		metrics.PushFramesDropped.WithLabelValues("malformed").Inc()
		m.log.Warn().Err(err).Int("bytes", len(data)).Msg("dropping malformed push frame")
		return
	}

	switch msg.Type {
	case models.PushEventNewAlert:
		alert, err := decodeAlert(msg.Data)
		if err != nil {
			metrics.PushFramesDropped.WithLabelValues("invalid_alert").Inc()
			m.log.Warn().Err(err).Msg("dropping push frame with invalid alert")
			return
		}
		for _, fn := range m.alertSubs {
			fn(alert)
		}
	default:
		metrics.PushFramesDropped.WithLabelValues("unknown_type").Inc()
		m.log.Debug().Str("type", msg.Type).Msg("ignoring push frame")
	}
}

func (m *ConnectionManager) setState(state models.ConnectionState) {
	if m.closed || m.state == state {
		return
	}
	m.state = state
	metrics.ConnectionState.Set(float64(state))
	for _, fn := range m.stateSubs {
		fn(state)
	}
}
