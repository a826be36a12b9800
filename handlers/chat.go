package handlers

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"onyx-server/intake"
	"onyx-server/middleware"
	"onyx-server/models"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in development
	},
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8 * 1024
)

type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	userID string
}

// Hub tracks connected chat clients and routes their turns through the
// intake engine. It doubles as the delivery transport: the engine's
// sender is SendBotMessage.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
	engine  *intake.Engine
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*Client]bool)}
}

// SetEngine wires the intake engine after construction. The engine's
// delivery sender needs the hub first, so the two cannot be built in one
// step.
func (h *Hub) SetEngine(e *intake.Engine) {
	h.engine = e
}

// inboundChat is one user turn off the wire: a typed message or a
// quick-reply tap.
type inboundChat struct {
	Type  string `json:"type"`
	Text  string `json:"text,omitempty"`
	Token string `json:"token,omitempty"`
}

// SendBotMessage pushes a dialog prompt or a reminder delivery to every
// connection the user has open. No connections is a delivery failure.
func (h *Hub) SendBotMessage(userID string, resp models.Response) error {
	data, err := json.Marshal(models.WSMessage{Type: models.WSTypeBotMessage, Payload: resp})
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	sent := 0
	for client := range h.clients {
		if client.userID == userID {
			select {
			case client.send <- data:
				sent++
			default:
				log.Printf("[WS] Client %s buffer full, dropping message", client.userID)
			}
		}
	}
	if sent == 0 {
		return fmt.Errorf("no active connection for user %s", userID)
	}
	return nil
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	total := len(h.clients)
	h.mu.Unlock()
	log.Printf("[WS] Client connected: %s (total clients: %d)", c.userID, total)
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	total := len(h.clients)
	h.mu.Unlock()
	log.Printf("[WS] Client disconnected: %s (total clients: %d)", c.userID, total)
}

func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "Token required", http.StatusUnauthorized)
		return
	}

	claims, err := middleware.ValidateToken(token)
	if err != nil {
		log.Printf("[WS] Connection rejected - invalid token from %s: %v", r.RemoteAddr, err)
		http.Error(w, "Invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WS] Upgrade error for user %s: %v", claims.UserID, err)
		return
	}

	client := &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, 256),
		userID: claims.UserID,
	}

	h.addClient(client)
	go client.writePump()
	go client.readPump()

	// Greet with the start menu so the first turn has buttons to tap.
	if err := h.SendBotMessage(claims.UserID, models.Response{
		Text:         "👋 Hi! What would you like to do?",
		QuickReplies: intake.StartMenu(),
	}); err != nil {
		log.Printf("[WS] Failed to greet user %s: %v", claims.UserID, err)
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.removeClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Printf("[WS] Read error for client %s: %v", c.userID, err)
			}
			break
		}

		var in inboundChat
		if err := json.Unmarshal(message, &in); err != nil {
			log.Printf("[WS] Bad payload from client %s: %v", c.userID, err)
			continue
		}

		var ev models.Event
		switch in.Type {
		case "select":
			ev = models.SelectEvent(in.Token)
		default:
			ev = models.TextEvent(in.Text)
		}

		// One inbound turn, one outbound response.
		resp := c.hub.engine.HandleInput(c.userID, ev)
		if err := c.hub.SendBotMessage(c.userID, resp); err != nil {
			log.Printf("[WS] Failed to answer client %s: %v", c.userID, err)
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
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("[WS] Write error for client %s: %v", c.userID, err)
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
