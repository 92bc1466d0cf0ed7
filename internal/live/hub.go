// Package live relays chat between connected players and pushes balance
// updates to the affected player. Nothing sent here is persisted.
package live

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"

	"github.com/hongminglow/all-in-floor/internal/auth"
	"github.com/hongminglow/all-in-floor/internal/middleware"
	"github.com/hongminglow/all-in-floor/internal/models"
	"github.com/hongminglow/all-in-floor/internal/notify"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 4096
	maxChatRunes   = 500
	sendBuffer     = 64
)

var _ notify.Publisher = (*Hub)(nil)

// Envelope is the frame exchanged with browsers.
type Envelope struct {
	Type    string                 `json:"type"`
	User    string                 `json:"user,omitempty"`
	Text    string                 `json:"text,omitempty"`
	At      time.Time              `json:"at,omitempty"`
	Balance *models.BalanceChanged `json:"balance,omitempty"`
}

const (
	TypeMessage = "message"
	TypeBalance = "balance"
)

type client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	userID   int64
	username string
}

// Hub tracks open sockets by user.
type Hub struct {
	mu       sync.RWMutex
	clients  map[int64]map[*client]struct{}
	upgrader websocket.Upgrader
	tokens   *auth.TokenManager
	logger   *slog.Logger
	now      func() time.Time
}

// NewHub returns a hub that authenticates sockets with tokens and accepts
// upgrades from allowedOrigins ("*" allows any).
func NewHub(tokens *auth.TokenManager, allowedOrigins []string, logger *slog.Logger) *Hub {
	h := &Hub{
		clients: make(map[int64]map[*client]struct{}),
		tokens:  tokens,
		logger:  logger,
		now:     time.Now,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
		}
		return false
	}
}

// Online returns the number of open sockets.
func (h *Hub) Online() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.clients {
		n += len(set)
	}
	return n
}

// ServeHTTP upgrades the request. Browsers cannot set headers on websocket
// handshakes, so the token is read from ?token= as well as Authorization.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("token")
	if raw == "" {
		raw, _ = middleware.BearerToken(r)
	}
	claims, err := h.tokens.Parse(raw)
	if err != nil {
		http.Error(w, "invalid or expired token", http.StatusUnauthorized)
		return
	}
	userID, _ := claims.UserID()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	c := &client{hub: h, conn: conn, send: make(chan []byte, sendBuffer), userID: userID, username: claims.Username}
	h.register(c)

	go c.writePump()
	go c.readPump()
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.userID]
	if !ok {
		set = make(map[*client]struct{})
		h.clients[c.userID] = set
	}
	set[c] = struct{}{}
	h.logger.Debug("client registered", "user_id", c.userID)
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.drop(c)
}

// drop removes c and closes its send channel. Caller holds h.mu.
func (h *Hub) drop(c *client) {
	set, ok := h.clients[c.userID]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	close(c.send)
	if len(set) == 0 {
		delete(h.clients, c.userID)
	}
	h.logger.Debug("client unregistered", "user_id", c.userID)
}

// deliver queues frame for every client accepted by match. Clients whose
// buffers are full are disconnected.
func (h *Hub) deliver(frame []byte, match func(userID int64) bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for userID, set := range h.clients {
		if !match(userID) {
			continue
		}
		for c := range set {
			select {
			case c.send <- frame:
			default:
				h.drop(c)
			}
		}
	}
}

// Broadcast relays a chat line to everyone.
func (h *Hub) Broadcast(env Envelope) error {
	frame, err := json.Marshal(env)
	if err != nil {
		return err
	}
	h.deliver(frame, func(int64) bool { return true })
	return nil
}

// Publish pushes a balance change to the affected user's sockets only.
func (h *Hub) Publish(_ context.Context, event models.BalanceChanged) error {
	frame, err := json.Marshal(Envelope{Type: TypeBalance, Balance: &event, At: event.OccurredAt})
	if err != nil {
		return err
	}
	h.deliver(frame, func(userID int64) bool { return userID == event.UserID })
	return nil
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, set := range h.clients {
		for c := range set {
			h.drop(c)
		}
	}
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("unexpected websocket close", "user_id", c.userID, "error", err)
			}
			return
		}
		var in Envelope
		if err := json.Unmarshal(data, &in); err != nil {
			c.hub.logger.Debug("dropping malformed frame", "user_id", c.userID, "error", err)
			continue
		}
		text := strings.TrimSpace(in.Text)
		if in.Type != TypeMessage || text == "" {
			continue
		}
		if utf8.RuneCountInString(text) > maxChatRunes {
			text = string([]rune(text)[:maxChatRunes])
		}
		// The sender's name comes from the token, never from the frame.
		out := Envelope{Type: TypeMessage, User: c.username, Text: text, At: c.hub.now()}
		if err := c.hub.Broadcast(out); err != nil {
			c.hub.logger.Error("broadcast chat", "error", err)
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.hub.logger.Debug("websocket write failed", "user_id", c.userID, "error", err)
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
