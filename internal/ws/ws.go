package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/4xmen/goftgu/internal/chat"
	"github.com/4xmen/goftgu/internal/metrics"
	"github.com/4xmen/goftgu/internal/models"
	"github.com/4xmen/goftgu/pkg/i18n"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 256
)

// ChatService is the part of the chat core the hub drives from client
// events.
type ChatService interface {
	SetOnline(ctx context.Context, identityKey string, online bool) error
	SetTyping(ctx context.Context, conversationID, userID string, isTyping bool) error
	MarkRead(ctx context.Context, conversationID, userID string) error
	RequireParticipant(ctx context.Context, conversationID, userID string) (*models.Conversation, error)
}

// PresenceCounter counts a user's connections across every instance, so a
// user is only marked offline when the last of them closes.
type PresenceCounter interface {
	Connected(ctx context.Context, userID string) error
	Disconnected(ctx context.Context, userID string) (remaining int64, err error)
}

// Hub fans change events out to every websocket connection of the
// recipients. A user may hold several connections at once.
type Hub struct {
	clients    map[string]map[*Client]struct{}
	broadcast  chan chat.Event
	register   chan *Client
	unregister chan *Client
	presence   chan presenceUpdate
	relayOut   chan chat.Event
	chat       ChatService
	relay      *Relay
	counter    PresenceCounter
	done       chan struct{}
	eventRate  rate.Limit
	eventBurst int
	logger     zerolog.Logger
	mu         sync.RWMutex
}

type Client struct {
	userID      string
	identityKey string
	conn        *websocket.Conn
	hub         *Hub
	send        chan chat.Event
	limiter     *rate.Limiter
}

type presenceUpdate struct {
	userID      string
	identityKey string
	online      bool
}

// InboundEvent is what clients send over the socket.
type InboundEvent struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id,omitempty"`
	IsTyping       bool   `json:"is_typing,omitempty"`
	Online         bool   `json:"online,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// origins are enforced by the CORS middleware and token auth
		return true
	},
}

type Option func(*Hub)

// WithRelay fans events out through Redis to the other instances and
// counts presence across them.
func WithRelay(r *Relay) Option {
	return func(h *Hub) {
		h.relay = r
		h.counter = r
	}
}

func WithPresenceCounter(c PresenceCounter) Option {
	return func(h *Hub) { h.counter = c }
}

// WithEventRate limits inbound client events per connection.
func WithEventRate(perSecond float64, burst int) Option {
	return func(h *Hub) {
		h.eventRate = rate.Limit(perSecond)
		h.eventBurst = burst
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(h *Hub) { h.logger = l }
}

func NewHub(svc ChatService, opts ...Option) *Hub {
	h := &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		broadcast:  make(chan chat.Event, sendBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		presence:   make(chan presenceUpdate, sendBuffer),
		relayOut:   make(chan chat.Event, sendBuffer),
		done:       make(chan struct{}),
		chat:       svc,
		eventRate:  10,
		eventBurst: 20,
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// IsUserOnline checks if a user has at least one connection here.
func (h *Hub) IsUserOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID]) > 0
}

// Publish queues ev for local delivery and, with a relay, for the other
// instances. It never blocks; events are dropped when the hub is saturated.
func (h *Hub) Publish(ev chat.Event) {
	metrics.EventsPublished.WithLabelValues(string(ev.Type)).Inc()
	h.enqueue(ev)
	if h.relay == nil {
		return
	}
	select {
	case h.relayOut <- ev:
	default:
		h.logger.Warn().Str("type", string(ev.Type)).Msg("relay queue full, dropping event")
	}
}

func (h *Hub) enqueue(ev chat.Event) {
	select {
	case h.broadcast <- ev:
	default:
		h.logger.Warn().Str("type", string(ev.Type)).Msg("broadcast queue full, dropping event")
	}
}

// Run serves registrations and deliveries until ctx is done. Clients that
// register or leave after that are turned away instead of blocking.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	go h.runPresence(ctx)
	if h.relay != nil {
		go h.runRelay(ctx)
	}

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			conns, ok := h.clients[client.userID]
			if !ok {
				conns = make(map[*Client]struct{})
				h.clients[client.userID] = conns
			}
			conns[client] = struct{}{}
			count := len(conns)
			h.mu.Unlock()
			metrics.WebsocketConnections.Inc()
			h.logger.Debug().Str("user_id", client.userID).Int("connections", count).Msg("client connected")
			if count == 1 {
				h.queuePresence(client, true)
			}

		case client := <-h.unregister:
			h.mu.Lock()
			last := false
			if conns, ok := h.clients[client.userID]; ok {
				if _, ok := conns[client]; ok {
					delete(conns, client)
					close(client.send)
					metrics.WebsocketConnections.Dec()
					if len(conns) == 0 {
						delete(h.clients, client.userID)
						last = true
					}
				}
			}
			h.mu.Unlock()
			h.logger.Debug().Str("user_id", client.userID).Msg("client disconnected")
			if last {
				h.queuePresence(client, false)
			}

		case ev := <-h.broadcast:
			h.deliver(ev)

		case <-ctx.Done():
			return
		}
	}
}

func (h *Hub) deliver(ev chat.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(ev.Recipients) == 0 {
		for _, conns := range h.clients {
			h.sendAll(conns, ev)
		}
		return
	}

	seen := make(map[string]struct{}, len(ev.Recipients))
	for _, userID := range ev.Recipients {
		if _, dup := seen[userID]; dup {
			continue
		}
		seen[userID] = struct{}{}
		h.sendAll(h.clients[userID], ev)
	}
}

func (h *Hub) sendAll(conns map[*Client]struct{}, ev chat.Event) {
	for client := range conns {
		select {
		case client.send <- ev:
		default:
			h.logger.Warn().Str("user_id", client.userID).Msg("send buffer full, dropping event")
		}
	}
}

func (h *Hub) queuePresence(c *Client, online bool) {
	if h.chat == nil || c.identityKey == "" {
		return
	}
	select {
	case h.presence <- presenceUpdate{userID: c.userID, identityKey: c.identityKey, online: online}:
	default:
		h.logger.Warn().Str("identity_key", c.identityKey).Msg("presence queue full, dropping update")
	}
}

// runPresence applies connection-driven presence changes in order.
func (h *Hub) runPresence(ctx context.Context) {
	for {
		select {
		case u := <-h.presence:
			if h.counter != nil && !h.countPresence(ctx, u) {
				continue
			}
			if err := h.chat.SetOnline(ctx, u.identityKey, u.online); err != nil {
				h.logger.Warn().Err(err).Str("identity_key", u.identityKey).Msg("failed to update presence")
			}
		case <-ctx.Done():
			return
		}
	}
}

// countPresence records u with the shared counter and reports whether the
// stored flag should change. A counter failure falls back to the local view.
func (h *Hub) countPresence(ctx context.Context, u presenceUpdate) bool {
	if u.online {
		if err := h.counter.Connected(ctx, u.userID); err != nil {
			h.logger.Warn().Err(err).Str("user_id", u.userID).Msg("failed to count connection")
		}
		return true
	}

	remaining, err := h.counter.Disconnected(ctx, u.userID)
	if err != nil {
		h.logger.Warn().Err(err).Str("user_id", u.userID).Msg("failed to count disconnection")
		return true
	}
	if remaining > 0 {
		h.logger.Debug().Str("user_id", u.userID).Int64("connections", remaining).Msg("still connected on another instance")
		return false
	}
	return true
}

func (h *Hub) runRelay(ctx context.Context) {
	go h.relay.KeepAlive(ctx)
	go func() {
		if err := h.relay.Subscribe(ctx, h.enqueue); err != nil && ctx.Err() == nil {
			h.logger.Error().Err(err).Msg("relay subscription ended")
		}
	}()

	for {
		select {
		case ev := <-h.relayOut:
			if err := h.relay.Publish(ctx, ev); err != nil {
				h.logger.Warn().Err(err).Str("type", string(ev.Type)).Msg("failed to relay event")
			}
		case <-ctx.Done():
			return
		}
	}
}

func (h *Hub) HandleWebSocket(c *gin.Context) {
	userID := c.GetString("user_id")
	identityKey := c.GetString("identity_key")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": i18n.Translate("unauthorized")})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the HTTP error
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &Client{
		userID:      userID,
		identityKey: identityKey,
		conn:        conn,
		hub:         h,
		send:        make(chan chat.Event, sendBuffer),
		limiter:     rate.NewLimiter(h.eventRate, h.eventBurst),
	}

	if !h.join(client) {
		conn.Close()
		return
	}

	go client.readPump()
	go client.writePump()
}

// join registers c, reporting false once the hub has stopped.
func (h *Hub) join(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.leave(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn().Err(err).Str("user_id", c.userID).Msg("websocket read error")
			}
			break
		}

		var event InboundEvent
		if err := json.Unmarshal(data, &event); err != nil {
			continue
		}
		c.handle(context.Background(), event)
	}
}

// handle applies one client event. Failures are logged and swallowed; a
// stale typing flag or receipt is tolerable.
func (c *Client) handle(ctx context.Context, event InboundEvent) {
	if !c.limiter.Allow() {
		c.hub.logger.Debug().Str("user_id", c.userID).Str("type", event.Type).Msg("client event rate limited")
		return
	}

	var err error
	switch event.Type {
	case "typing":
		if _, err = c.hub.chat.RequireParticipant(ctx, event.ConversationID, c.userID); err == nil {
			err = c.hub.chat.SetTyping(ctx, event.ConversationID, c.userID, event.IsTyping)
		}
	case "mark_read":
		if _, err = c.hub.chat.RequireParticipant(ctx, event.ConversationID, c.userID); err == nil {
			err = c.hub.chat.MarkRead(ctx, event.ConversationID, c.userID)
		}
	case "presence":
		err = c.hub.chat.SetOnline(ctx, c.identityKey, event.Online)
	default:
		return
	}
	if err != nil {
		c.hub.logger.Warn().Err(err).Str("user_id", c.userID).Str("type", event.Type).Msg("client event failed")
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
		case event, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			data, err := json.Marshal(outbound(event))
			if err != nil {
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
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

// outbound strips routing data before an event goes to a client.
func outbound(ev chat.Event) chat.Event {
	ev.Recipients = nil
	return ev
}
