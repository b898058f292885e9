package services

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/dmitrijs2005/circle/internal/client/messages"
	"github.com/dmitrijs2005/circle/internal/client/session"
	"github.com/dmitrijs2005/circle/internal/common"
	"github.com/dmitrijs2005/circle/internal/cryptox"
	"github.com/dmitrijs2005/circle/internal/logging"
	"github.com/dmitrijs2005/circle/internal/protocol"
)

const (
	defaultTypingIdle  = 3 * time.Second
	typingSendTimeout  = 5 * time.Second
	messageTypeText    = "text"
	defaultHistorySize = 50
)

// Session is the real-time channel the messenger drives.
type Session interface {
	State() session.State
	Events() <-chan session.Event
	SendMessage(ctx context.Context, m protocol.SendMessage) error
	MarkRead(ctx context.Context, conversationID, messageID string) error
	TypingStart(ctx context.Context, conversationID string) error
	TypingStop(ctx context.Context, conversationID string) error
}

// HistoryClient fetches stored messages over HTTP.
type HistoryClient interface {
	History(ctx context.Context, conversationID string, limit int, before string) ([]protocol.Message, error)
}

type MessengerConfig struct {
	// TypingIdle is how long after the last keystroke a TypingStop is sent.
	TypingIdle time.Duration
	// Notify, if set, is called from Run after each event has been applied
	// to the store.
	Notify func(session.Event)
}

type typingTimer struct {
	t *time.Timer
}

// Messenger ties the session, the message store and the conversation keys
// together: it encrypts outgoing text, inserts optimistic records, applies
// inbound events and tracks who is online.
type Messenger struct {
	sess   Session
	store  *messages.Store
	keys   *cryptox.KeyManager
	codec  *cryptox.Codec
	master cryptox.Key
	cfg    MessengerConfig
	log    logging.Logger

	mu       sync.Mutex
	userID   string
	current  string
	convKeys map[string]cryptox.Key
	online   map[string]bool
	typing   map[string]*typingTimer
}

func NewMessenger(sess Session, store *messages.Store, keys *cryptox.KeyManager, codec *cryptox.Codec,
	master cryptox.Key, cfg MessengerConfig, log logging.Logger) *Messenger {
	if cfg.TypingIdle <= 0 {
		cfg.TypingIdle = defaultTypingIdle
	}
	return &Messenger{
		sess:     sess,
		store:    store,
		keys:     keys,
		codec:    codec,
		master:   slices.Clone(master),
		cfg:      cfg,
		log:      log.With("component", "messenger"),
		convKeys: make(map[string]cryptox.Key),
		online:   make(map[string]bool),
		typing:   make(map[string]*typingTimer),
	}
}

// Run applies session events until the event stream closes or ctx is done.
func (m *Messenger) Run(ctx context.Context) {
	events := m.sess.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			m.apply(ctx, ev)
			if m.cfg.Notify != nil {
				m.cfg.Notify(ev)
			}
		}
	}
}

func (m *Messenger) apply(ctx context.Context, ev session.Event) {
	switch ev.Kind {
	case session.EventState:
		if ev.State == session.Authenticated {
			m.mu.Lock()
			m.userID = ev.UserID
			m.mu.Unlock()
		}
	case session.EventFrame:
		m.applyFrame(ctx, ev.Frame)
	case session.EventError:
		m.log.Warn(ctx, "session error", "error", ev.Err)
	}
}

func (m *Messenger) applyFrame(ctx context.Context, f protocol.Frame) {
	switch f := f.(type) {
	case *protocol.MessageReceived:
		m.store.Append(f.Message)
	case *protocol.MessageRead:
		m.store.MarkRead(f.MessageID, f.UserID)
	case *protocol.TypingStart:
		if f.UserID != m.UserID() {
			m.store.SetTyping(f.ConversationID, f.UserID, true)
		}
	case *protocol.TypingStop:
		m.store.SetTyping(f.ConversationID, f.UserID, false)
	case *protocol.UserOnline:
		m.setOnline(f.UserID, true)
	case *protocol.UserOffline:
		m.setOnline(f.UserID, false)
	case *protocol.Error:
		m.log.Warn(ctx, "server error", "message", f.Message)
	}
}

func (m *Messenger) setOnline(userID string, online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if online {
		m.online[userID] = true
	} else {
		delete(m.online, userID)
	}
}

// UserID is the authenticated user, empty before the first authentication.
func (m *Messenger) UserID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.userID
}

func (m *Messenger) Store() *messages.Store { return m.store }

func (m *Messenger) IsOnline(userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online[userID]
}

// Online returns the users currently reported online, sorted.
func (m *Messenger) Online() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Sorted(maps.Keys(m.online))
}

// ConversationKey returns the derived key for a conversation, cached.
func (m *Messenger) ConversationKey(conversationID string) (cryptox.Key, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if k, ok := m.convKeys[conversationID]; ok {
		return k, nil
	}
	k, err := m.keys.DeriveConversationKey(m.master, conversationID)
	if err != nil {
		return nil, err
	}
	m.convKeys[conversationID] = k
	return k, nil
}

// Decrypt opens a stored record. A record that cannot be decrypted yields
// an Undecryptable result, never an error.
func (m *Messenger) Decrypt(r messages.Record) cryptox.TransportResult {
	k, err := m.ConversationKey(r.ConversationID)
	if err != nil {
		return cryptox.TransportResult{Status: cryptox.Undecryptable, Err: err}
	}
	return m.codec.DecryptFromTransport(r.Content, k)
}

// DecryptMessage is Decrypt for a message as it arrives on the wire.
func (m *Messenger) DecryptMessage(msg protocol.Message) cryptox.TransportResult {
	return m.Decrypt(messages.Record{ConversationID: msg.ConversationID, Content: msg.Content})
}

// Send encrypts text for the conversation, inserts it locally and queues it
// on the session. The local record is reconciled once the server echoes the
// message back. If the session refuses the frame the local record stays in
// the store flagged as failed and is returned together with the error.
func (m *Messenger) Send(ctx context.Context, conversationID, text string) (messages.Record, error) {
	if m.sess.State() != session.Authenticated {
		return messages.Record{}, common.ErrNotAuthenticated
	}

	k, err := m.ConversationKey(conversationID)
	if err != nil {
		return messages.Record{}, err
	}
	content, err := m.codec.EncryptForTransport(text, k)
	if err != nil {
		return messages.Record{}, err
	}

	m.StopTyping(ctx, conversationID)

	rec := m.store.AddLocal(conversationID, m.UserID(), content, messageTypeText)
	err = m.sess.SendMessage(ctx, protocol.SendMessage{
		ConversationID: conversationID,
		Content:        content,
		MessageType:    messageTypeText,
		ClientID:       rec.ID,
	})
	if err != nil {
		m.store.MarkFailed(rec.ID)
		rec.Failed = true
		return rec, err
	}
	return rec, nil
}

// MarkRead sends a read receipt and records it locally once queued.
func (m *Messenger) MarkRead(ctx context.Context, conversationID, messageID string) error {
	if err := m.sess.MarkRead(ctx, conversationID, messageID); err != nil {
		return err
	}
	m.store.MarkRead(messageID, m.UserID())
	return nil
}

// Keystroke reports local typing in a conversation. The first keystroke
// sends TypingStart; TypingStop follows once no keystroke arrived for
// TypingIdle.
func (m *Messenger) Keystroke(ctx context.Context, conversationID string) error {
	m.mu.Lock()
	prev, active := m.typing[conversationID]
	tt := &typingTimer{}
	m.typing[conversationID] = tt
	tt.t = time.AfterFunc(m.cfg.TypingIdle, func() { m.typingIdle(conversationID, tt) })
	if active {
		prev.t.Stop()
	}
	m.mu.Unlock()

	if active {
		return nil
	}
	if err := m.sess.TypingStart(ctx, conversationID); err != nil {
		m.clearTyping(conversationID)
		return err
	}
	return nil
}

func (m *Messenger) typingIdle(conversationID string, tt *typingTimer) {
	m.mu.Lock()
	if m.typing[conversationID] != tt {
		m.mu.Unlock()
		return
	}
	delete(m.typing, conversationID)
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), typingSendTimeout)
	defer cancel()
	if err := m.sess.TypingStop(ctx, conversationID); err != nil {
		m.log.Debug(ctx, "typing stop not sent", "conversation", conversationID, "error", err)
	}
}

// clearTyping cancels the local timer and reports whether one was active.
func (m *Messenger) clearTyping(conversationID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	tt, ok := m.typing[conversationID]
	if !ok {
		return false
	}
	tt.t.Stop()
	delete(m.typing, conversationID)
	return true
}

// StopTyping ends local typing in a conversation immediately.
func (m *Messenger) StopTyping(ctx context.Context, conversationID string) {
	if !m.clearTyping(conversationID) {
		return
	}
	if err := m.sess.TypingStop(ctx, conversationID); err != nil {
		m.log.Debug(ctx, "typing stop not sent", "conversation", conversationID, "error", err)
	}
}

// Typing returns the remote users typing in a conversation.
func (m *Messenger) Typing(conversationID string) []string {
	return m.store.Typing(conversationID)
}

// Current is the conversation the user is looking at.
func (m *Messenger) Current() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// SwitchConversation stops every local typing indicator and makes id the
// current conversation.
func (m *Messenger) SwitchConversation(ctx context.Context, id string) {
	m.mu.Lock()
	active := slices.Collect(maps.Keys(m.typing))
	m.current = id
	m.mu.Unlock()

	for _, conv := range active {
		m.StopTyping(ctx, conv)
	}
}

// LoadHistory fetches up to limit messages older than before and merges
// them into the store. It returns the conversation's messages in order.
func (m *Messenger) LoadHistory(ctx context.Context, hc HistoryClient, conversationID string, limit int, before string) ([]messages.Record, error) {
	if limit <= 0 {
		limit = defaultHistorySize
	}
	msgs, err := hc.History(ctx, conversationID, limit, before)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	for _, msg := range msgs {
		m.store.Append(msg)
	}
	return m.store.Messages(conversationID), nil
}

// Close stops local typing timers and wipes cached keys. The store is
// closed too.
func (m *Messenger) Close() {
	m.mu.Lock()
	for conv, tt := range m.typing {
		tt.t.Stop()
		delete(m.typing, conv)
	}
	for id, k := range m.convKeys {
		common.WipeByteArray(k)
		delete(m.convKeys, id)
	}
	common.WipeByteArray(m.master)
	m.mu.Unlock()

	m.store.Close()
}
