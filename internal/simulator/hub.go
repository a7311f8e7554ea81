package simulator

import (
	"context"
	"net/http"
	"time"

	"netguard-console/internal/logging"
	"netguard-console/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub is the simulator's push channel: every connected console receives each
// published frame.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
	count      chan chan int
	kick       chan struct{}
	done       chan struct{}
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		count:      make(chan chan int),
		kick:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Run owns the client set until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			return

		case c := <-h.register:
			h.clients[c] = true

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}

		case reply := <-h.count:
			reply <- len(h.clients)

		case <-h.kick:
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}

		case message := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- message:
				default:
					close(c.send)
					delete(h.clients, c)
				}
			}
		}
	}
}

// Clients reports how many consoles are connected.
func (h *Hub) Clients(ctx context.Context) int {
	reply := make(chan int, 1)
	select {
	case h.count <- reply:
		return <-reply
	case <-ctx.Done():
		return 0
	case <-h.done:
		return 0
	}
}

// DisconnectAll closes every console connection with a normal close frame.
func (h *Hub) DisconnectAll() {
	select {
	case h.kick <- struct{}{}:
	case <-h.done:
	}
}

// PublishAlert sends a new_alert frame for rec.
func (h *Hub) PublishAlert(rec AlertRecord) {
	data, err := json.Marshal(rec)
	if err != nil {
		logging.Error().Err(err).Msg("encoding alert frame")
		return
	}
	h.PublishRaw(models.PushMessage{Type: models.PushEventNewAlert, Data: data})
}

// PublishRaw sends msg as is.
func (h *Hub) PublishRaw(msg models.PushMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		logging.Error().Err(err).Msg("encoding push frame")
		return
	}
	h.PublishBytes(data)
}

// PublishBytes sends data verbatim, whether or not it is valid JSON.
func (h *Hub) PublishBytes(data []byte) {
	select {
	case h.broadcast <- data:
	case <-h.done:
	}
}

func (h *Hub) HandleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Warn().Err(err).Msg("simulator websocket upgrade failed")
		return
	}

	cl := &client{conn: conn, send: make(chan []byte, 256)}
	select {
	case h.register <- cl:
	case <-h.done:
		conn.Close()
		return
	}

	go cl.writePump()
	go cl.readPump(h)
}

func (c *client) readPump(h *Hub) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
