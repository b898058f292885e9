// Package realtime is the server end of the real-time channel. A Hub
// accepts websocket connections, authenticates them with an access token
// sent in the first frame and relays messages, receipts, typing and
// presence between conversation participants.
package realtime

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/dmitrijs2005/circle/internal/common"
	"github.com/dmitrijs2005/circle/internal/logging"
	"github.com/dmitrijs2005/circle/internal/protocol"
	"github.com/dmitrijs2005/circle/internal/server/models"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	DefaultReadLimit  = 64 << 10
	DefaultWriteWait  = 10 * time.Second
	DefaultPongWait   = 60 * time.Second
	DefaultPingPeriod = (DefaultPongWait * 9) / 10

	sendBuffer   = 256
	frameTimeout = 10 * time.Second
)

// TokenVerifier resolves an access token to a user id.
type TokenVerifier interface {
	VerifyToken(token string) (string, error)
}

// Messaging is the persistence side of the relay. It is implemented by
// *services.MessagingService.
type Messaging interface {
	SendMessage(ctx context.Context, senderID, conversationID, content, messageType string, expiresInMinutes int) (*models.Message, []string, error)
	MarkRead(ctx context.Context, userID, messageID string) (string, []string, error)
	Participants(ctx context.Context, userID, conversationID string) ([]string, error)
}

type Config struct {
	ReadLimit  int64
	WriteWait  time.Duration
	PongWait   time.Duration
	PingPeriod time.Duration
	// CheckOrigin is passed to the upgrader. Nil accepts every origin, which
	// suits non-browser clients.
	CheckOrigin func(r *http.Request) bool
}

func DefaultConfig() Config {
	return Config{
		ReadLimit:  DefaultReadLimit,
		WriteWait:  DefaultWriteWait,
		PongWait:   DefaultPongWait,
		PingPeriod: DefaultPingPeriod,
	}
}

type client struct {
	connID string
	conn   *websocket.Conn
	send   chan []byte

	// userID is written once, under Hub.mu, when the socket authenticates.
	userID string
}

type Hub struct {
	verifier  TokenVerifier
	messaging Messaging
	log       logging.Logger
	cfg       Config
	upgrader  websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	clients map[*client]struct{}
	users   map[string]map[*client]struct{}
}

func NewHub(v TokenVerifier, m Messaging, log logging.Logger, cfg Config) *Hub {
	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		verifier:  v,
		messaging: m,
		log:       log.With("module", "realtime"),
		cfg:       cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		ctx:     ctx,
		cancel:  cancel,
		clients: make(map[*client]struct{}),
		users:   make(map[string]map[*client]struct{}),
	}
}

// ServeHTTP upgrades the request and serves the socket until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.ctx.Err() != nil {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn(r.Context(), "websocket upgrade failed", "error", err)
		return
	}

	c := &client{
		connID: uuid.New().String(),
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	h.log.Debug(r.Context(), "websocket connected", "conn_id", c.connID, "remote", r.RemoteAddr)

	go h.writePump(c)
	h.readPump(c)
}

// Close disconnects every socket. Later upgrades are refused.
func (h *Hub) Close() {
	h.cancel()

	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c.conn)
	}
	h.mu.RUnlock()

	deadline := time.Now().Add(h.cfg.WriteWait)
	for _, conn := range conns {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), deadline)
		_ = conn.Close()
	}
}

// Online reports whether userID has at least one authenticated socket.
func (h *Hub) Online(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID]) > 0
}

func (h *Hub) readPump(c *client) {
	defer h.unregister(c)

	c.conn.SetReadLimit(h.cfg.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Debug(h.ctx, "websocket read failed", "conn_id", c.connID, "error", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))

		frame, err := protocol.Decode(data)
		if err != nil {
			h.reply(c, &protocol.Error{Message: err.Error()})
			continue
		}
		h.handle(c, frame)
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(h.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			if _, err := w.Write(message); err != nil {
				return
			}
			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	lastSocket := false
	if c.userID != "" {
		set := h.users[c.userID]
		delete(set, c)
		if len(set) == 0 {
			delete(h.users, c.userID)
			lastSocket = true
		}
	}
	close(c.send)
	h.mu.Unlock()

	_ = c.conn.Close()
	h.log.Debug(h.ctx, "websocket disconnected", "conn_id", c.connID, "user_id", c.userID)

	if lastSocket {
		h.broadcastExcept(c.userID, &protocol.UserOffline{UserID: c.userID})
	}
}

func (h *Hub) handle(c *client, frame protocol.Frame) {
	h.mu.RLock()
	userID := c.userID
	h.mu.RUnlock()

	if auth, ok := frame.(*protocol.Authenticate); ok {
		h.authenticate(c, userID, auth.Token)
		return
	}
	if userID == "" {
		h.reply(c, &protocol.Error{Message: common.ErrNotAuthenticated.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(h.ctx, frameTimeout)
	defer cancel()

	switch f := frame.(type) {
	case *protocol.SendMessage:
		msg, participants, err := h.messaging.SendMessage(ctx, userID, f.ConversationID, f.Content, f.MessageType, f.ExpiresInMinutes)
		if err != nil {
			h.replyError(ctx, c, err)
			return
		}
		h.deliver(participants, "", &protocol.MessageReceived{Message: msg.Wire(f.ClientID)})

	case *protocol.MessageRead:
		conversationID, participants, err := h.messaging.MarkRead(ctx, userID, f.MessageID)
		if err != nil {
			h.replyError(ctx, c, err)
			return
		}
		h.deliver(participants, "", &protocol.MessageRead{MessageID: f.MessageID, ConversationID: conversationID, UserID: userID})

	case *protocol.TypingStart:
		h.relayTyping(ctx, c, userID, f.ConversationID, &protocol.TypingStart{ConversationID: f.ConversationID, UserID: userID})

	case *protocol.TypingStop:
		h.relayTyping(ctx, c, userID, f.ConversationID, &protocol.TypingStop{ConversationID: f.ConversationID, UserID: userID})

	case *protocol.Ping:
		h.reply(c, &protocol.Pong{})

	default:
		h.reply(c, &protocol.Error{Message: "unexpected frame " + string(frame.FrameType())})
	}
}

func (h *Hub) authenticate(c *client, current, token string) {
	userID, err := h.verifier.VerifyToken(token)
	if err != nil {
		msg := common.ErrInvalidToken.Error()
		if errors.Is(err, common.ErrTokenExpired) {
			msg = common.ErrTokenExpired.Error()
		}
		h.reply(c, &protocol.AuthResult{Success: false, Message: msg})
		return
	}
	if current != "" {
		if current != userID {
			h.reply(c, &protocol.AuthResult{Success: false, Message: "socket already authenticated"})
			return
		}
		h.reply(c, &protocol.AuthResult{Success: true, UserID: userID})
		return
	}

	h.mu.Lock()
	c.userID = userID
	set := h.users[userID]
	firstSocket := len(set) == 0
	if set == nil {
		set = make(map[*client]struct{})
		h.users[userID] = set
	}
	set[c] = struct{}{}
	others := make([]string, 0, len(h.users))
	for id := range h.users {
		if id != userID {
			others = append(others, id)
		}
	}
	h.mu.Unlock()

	h.log.Info(h.ctx, "websocket authenticated", "conn_id", c.connID, "user_id", userID)
	h.reply(c, &protocol.AuthResult{Success: true, UserID: userID})
	for _, id := range others {
		h.reply(c, &protocol.UserOnline{UserID: id})
	}
	if firstSocket {
		h.broadcastExcept(userID, &protocol.UserOnline{UserID: userID})
	}
}

func (h *Hub) relayTyping(ctx context.Context, c *client, userID, conversationID string, frame protocol.Frame) {
	participants, err := h.messaging.Participants(ctx, userID, conversationID)
	if err != nil {
		h.replyError(ctx, c, err)
		return
	}
	h.deliver(participants, userID, frame)
}

// clientErrors are reported to the socket verbatim. Anything else is logged
// and reported as an internal error.
var clientErrors = []error{
	common.ErrInvalidRequest,
	common.ErrNotParticipant,
	common.ErrorNotFound,
	common.ErrAccessDenied,
}

func (h *Hub) replyError(ctx context.Context, c *client, err error) {
	for _, e := range clientErrors {
		if errors.Is(err, e) {
			h.reply(c, &protocol.Error{Message: err.Error()})
			return
		}
	}
	h.log.Error(ctx, "frame handling failed", "conn_id", c.connID, "error", err)
	h.reply(c, &protocol.Error{Message: common.ErrorInternal.Error()})
}

func (h *Hub) reply(c *client, frame protocol.Frame) {
	data, err := protocol.Encode(frame)
	if err != nil {
		h.log.Error(h.ctx, "encode frame", "type", frame.FrameType(), "error", err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c]; ok {
		h.push(c, data)
	}
}

// deliver sends frame to every socket of the given users except those of
// skipUser.
func (h *Hub) deliver(userIDs []string, skipUser string, frame protocol.Frame) {
	data, err := protocol.Encode(frame)
	if err != nil {
		h.log.Error(h.ctx, "encode frame", "type", frame.FrameType(), "error", err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, id := range userIDs {
		if id == skipUser {
			continue
		}
		for c := range h.users[id] {
			h.push(c, data)
		}
	}
}

func (h *Hub) broadcastExcept(userID string, frame protocol.Frame) {
	data, err := protocol.Encode(frame)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, set := range h.users {
		if id == userID {
			continue
		}
		for c := range set {
			h.push(c, data)
		}
	}
}

// push must be called with h.mu held; unregister closes send under the
// write lock.
func (h *Hub) push(c *client, data []byte) {
	select {
	case c.send <- data:
	default:
		h.log.Warn(h.ctx, "send buffer full, dropping frame", "conn_id", c.connID, "user_id", c.userID)
	}
}
