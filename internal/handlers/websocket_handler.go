package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"netguard-console/internal/logging"
	"netguard-console/internal/metrics"
	"netguard-console/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// Message types pushed to browser clients.
const (
	MessageSnapshot          = "snapshot"
	MessageAlert             = "alert"
	MessageAlertAcknowledged = "alert_acknowledged"
	MessageStatistics        = "statistics"
	MessageConnectionState   = "connection_state"
)

type WebSocketMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// Snapshot is sent to a browser client right after it connects.
type Snapshot struct {
	Alerts          []models.Alert          `json:"alerts"`
	Statistics      *models.Statistics      `json:"statistics"`
	ConnectionState models.ConnectionState `json:"connection_state"`
}

// SnapshotFunc builds the state a freshly connected client starts from.
type SnapshotFunc func() (*Snapshot, error)

type Client struct {
	conn *websocket.Conn
	send chan []byte
	id   string
}

// WebSocketHandler fans console updates out to browser clients. It implements
// services.Broadcaster.
type WebSocketHandler struct {
	clients   map[string]*Client
	mu        sync.RWMutex
	broadcast chan []byte
	snapshot  SnapshotFunc
}

func NewWebSocketHandler(snapshot SnapshotFunc) *WebSocketHandler {
	return &WebSocketHandler{
		clients:   make(map[string]*Client),
		broadcast: make(chan []byte, 256),
		snapshot:  snapshot,
	}
}

func (h *WebSocketHandler) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &Client{
		conn: conn,
		send: make(chan []byte, 256),
		id:   uuid.New().String(),
	}

	// deliver waits on h.mu, so every update is either in the snapshot or
	// queued behind it.
	h.mu.Lock()
	if h.snapshot != nil {
		if snap, err := h.snapshot(); err != nil {
			logging.Warn().Err(err).Msg("building client snapshot")
		} else if data, err := json.Marshal(WebSocketMessage{Type: MessageSnapshot, Payload: snap}); err == nil {
			client.send <- data
		}
	}
	h.clients[client.id] = client
	metrics.BrowserClients.Set(float64(len(h.clients)))
	h.mu.Unlock()

	logging.Info().Str("client_id", client.id).Str("remote", c.ClientIP()).Msg("websocket client connected")

	go client.writePump()
	go client.readPump(h)
}

func (h *WebSocketHandler) RemoveClient(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if client, ok := h.clients[id]; ok {
		close(client.send)
		delete(h.clients, id)
		metrics.BrowserClients.Set(float64(len(h.clients)))
		logging.Info().Str("client_id", id).Msg("websocket client disconnected")
	}
}

// ClientCount is the number of connected browser clients.
func (h *WebSocketHandler) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast queues message for every client. It never blocks: when the queue
// is full the message is dropped.
func (h *WebSocketHandler) Broadcast(message WebSocketMessage) {
	data, err := json.Marshal(message)
	if err != nil {
		logging.Error().Err(err).Str("type", message.Type).Msg("encoding websocket message")
		return
	}
	select {
	case h.broadcast <- data:
	default:
		logging.Warn().Str("type", message.Type).Msg("websocket broadcast queue full, dropping message")
	}
}

// Run delivers queued broadcasts until ctx is done.
func (h *WebSocketHandler) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case message := <-h.broadcast:
			h.deliver(message)
		}
	}
}

func (h *WebSocketHandler) deliver(message []byte) {
	var slow []string
	h.mu.RLock()
	for id, client := range h.clients {
		select {
		case client.send <- message:
		default:
			slow = append(slow, id)
		}
	}
	h.mu.RUnlock()

	for _, id := range slow {
		h.RemoveClient(id)
	}
}

func (h *WebSocketHandler) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, client := range h.clients {
		close(client.send)
		delete(h.clients, id)
	}
	metrics.BrowserClients.Set(0)
}

func (c *Client) readPump(h *WebSocketHandler) {
	defer func() {
		h.RemoveClient(c.id)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4 * 1024)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Warn().Err(err).Str("client_id", c.id).Msg("websocket read error")
			}
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *WebSocketHandler) SendAlert(alert models.Alert) {
	h.Broadcast(WebSocketMessage{Type: MessageAlert, Payload: alert})
}

func (h *WebSocketHandler) SendAcknowledgement(id models.AlertID) {
	h.Broadcast(WebSocketMessage{Type: MessageAlertAcknowledged, Payload: gin.H{"id": id}})
}

func (h *WebSocketHandler) SendStatistics(stats models.Statistics) {
	h.Broadcast(WebSocketMessage{Type: MessageStatistics, Payload: stats})
}

func (h *WebSocketHandler) SendConnectionState(state models.ConnectionState) {
	h.Broadcast(WebSocketMessage{Type: MessageConnectionState, Payload: gin.H{"state": state}})
}
