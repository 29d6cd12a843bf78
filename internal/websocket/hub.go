package websocket

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// TokenParser verifies a bearer token and returns its role claim.
type TokenParser interface {
	Role(token string) (string, error)
}

// Event is the frame pushed to subscribers
type Event struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
	At    time.Time   `json:"at"`
}

// Client represents a single connected WebSocket client
type Client struct {
	Hub  *Hub
	Conn *websocket.Conn
	Send chan []byte
}

// Hub fans rate, order and import events out to connected dashboards.
type Hub struct {
	clients    map[*Client]bool
	Broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	mu         sync.Mutex
	log        logrus.FieldLogger
}

// NewHub initializes a new WS Hub instance
func NewHub(log logrus.FieldLogger) *Hub {
	return &Hub{
		Broadcast:  make(chan []byte, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		log:        log.WithField("component", "ws"),
	}
}

// Publish queues an event for broadcast. It never blocks; events are dropped when the queue is full.
func (h *Hub) Publish(event string, data interface{}) {
	msg, err := json.Marshal(Event{Event: event, Data: data, At: time.Now().UTC()})
	if err != nil {
		h.log.WithError(err).WithField("event", event).Warn("failed to encode event")
		return
	}
	select {
	case h.Broadcast <- msg:
	default:
		h.log.WithField("event", event).Warn("broadcast queue full, event dropped")
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Run starts the core dispatch loop for WebSocket events
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.log.Debug("client connected")
		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.Send)
				h.log.Debug("client disconnected")
			}
			h.mu.Unlock()
		case message := <-h.Broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.Send <- message:
				default:
					close(client.Send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// writePump handles writing messages from the Hub to the WebSocket connection
func (c *Client) writePump() {
	defer func() {
		_ = c.Conn.Close()
	}()
	for message := range c.Send {
		w, err := c.Conn.NextWriter(websocket.TextMessage)
		if err != nil {
			return
		}
		_, _ = w.Write(message)

		n := len(c.Send)
		for i := 0; i < n; i++ {
			_, _ = w.Write([]byte{'\n'})
			_, _ = w.Write(<-c.Send)
		}

		if err := w.Close(); err != nil {
			return
		}
	}
	_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// readPump drains the connection so close frames are noticed
func (c *Client) readPump() {
	defer func() {
		c.Hub.unregister <- c
		_ = c.Conn.Close()
	}()
	for {
		_, _, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.log.WithError(err).Warn("unexpected close")
			}
			break
		}
	}
}

// ServeWs upgrades an authenticated request. The token comes from the "token" query parameter
// because browsers cannot set headers on websocket handshakes.
func ServeWs(hub *Hub, c *gin.Context, auth TokenParser) {
	tokenString := c.Query("token")
	if tokenString == "" {
		hub.log.Info("connection rejected: missing token")
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	role, err := auth.Role(tokenString)
	if err != nil {
		hub.log.WithError(err).Info("connection rejected: invalid token")
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	if role != "admin" && role != "analyst" {
		hub.log.WithField("role", role).Info("connection rejected: inadequate permissions")
		c.AbortWithStatus(http.StatusForbidden)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		hub.log.WithError(err).Warn("upgrade failed")
		return
	}
	client := &Client{Hub: hub, Conn: conn, Send: make(chan []byte, 256)}
	client.Hub.register <- client

	go client.writePump()
	go client.readPump()
}
