// Package messages keeps the client-side view of conversations: ordered,
// de-duplicated message records plus read receipts and typing state.
package messages

import (
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/circle/internal/protocol"
	"github.com/google/uuid"
)

// Origin tells whether a record was created locally at send time or
// confirmed by the server.
type Origin int

const (
	Local Origin = iota
	Confirmed
)

func (o Origin) String() string {
	if o == Confirmed {
		return "confirmed"
	}
	return "local"
}

// Record is a snapshot of a single message. Content is the
// transport-encoded envelope, never plaintext.
type Record struct {
	ID             string
	ConversationID string
	SenderID       string
	Content        string
	MessageType    string
	Origin         Origin
	Failed         bool
	CreatedAt      time.Time
	InsertedAt     time.Time
	EditedAt       *time.Time
	DeletedAt      *time.Time
	ExpiresAt      *time.Time
	ReadBy         []string
	Reactions      map[string][]string

	seq uint64
}

// Deleted reports whether the record carries a soft delete marker.
func (r Record) Deleted() bool { return r.DeletedAt != nil }

// sortTime is the server timestamp for confirmed records and the local
// insertion time otherwise.
func (r *Record) sortTime() time.Time {
	if r.Origin == Confirmed && !r.CreatedAt.IsZero() {
		return r.CreatedAt
	}
	return r.InsertedAt
}

func (r *Record) editTime() time.Time {
	if r.EditedAt != nil {
		return *r.EditedAt
	}
	return r.sortTime()
}

func (r *Record) clone() Record {
	c := *r
	c.ReadBy = slices.Clone(r.ReadBy)
	if r.Reactions != nil {
		c.Reactions = make(map[string][]string, len(r.Reactions))
		for k, v := range r.Reactions {
			c.Reactions[k] = slices.Clone(v)
		}
	}
	return c
}

type typingEntry struct {
	timer *time.Timer
	gen   uint64
}

type conversation struct {
	records []*Record
	typing  map[string]*typingEntry
}

// Store is safe for concurrent use.
type Store struct {
	mu            sync.Mutex
	conversations map[string]*conversation
	byID          map[string]*Record
	typingTimeout time.Duration
	now           func() time.Time
	seq           uint64
	typingGen     uint64
	closed        bool
}

// NewStore creates a store whose remote typing flags expire after
// typingTimeout without a refresh. A nil clock means time.Now.
func NewStore(typingTimeout time.Duration, clock func() time.Time) *Store {
	if clock == nil {
		clock = time.Now
	}
	return &Store{
		conversations: make(map[string]*conversation),
		byID:          make(map[string]*Record),
		typingTimeout: typingTimeout,
		now:           clock,
	}
}

func (s *Store) conv(id string) *conversation {
	c, ok := s.conversations[id]
	if !ok {
		c = &conversation{typing: make(map[string]*typingEntry)}
		s.conversations[id] = c
	}
	return c
}

func (s *Store) insert(r *Record) {
	s.seq++
	r.seq = s.seq
	r.InsertedAt = s.now()
	c := s.conv(r.ConversationID)
	c.records = append(c.records, r)
	s.byID[r.ID] = r
}

// AddLocal inserts an optimistic record with a fresh temporary id. The id
// should be sent along as the frame's client id so that the confirmed copy
// can be matched.
func (s *Store) AddLocal(conversationID, senderID, content, messageType string) Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := &Record{
		ID:             "tmp-" + uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		MessageType:    messageType,
		Origin:         Local,
	}
	if senderID != "" {
		r.ReadBy = []string{senderID}
	}
	s.insert(r)
	return r.clone()
}

// Append adds a server-confirmed message. It is idempotent by id: a known id
// is merged into the existing record instead of producing a second one. A
// pending local record is replaced when the message echoes its client id or,
// failing that, carries the same encrypted content in the same
// conversation.
func (s *Store) Append(m protocol.Message) Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	in := fromProtocol(m)

	r := s.byID[m.ID]
	if r == nil {
		if local := s.findLocal(m); local != nil {
			delete(s.byID, local.ID)
			local.ID = m.ID
			s.byID[m.ID] = local
			r = local
		}
	}

	if r == nil {
		s.insert(in)
		r = in
	} else {
		merge(r, in)
	}

	if m.SenderID != "" {
		s.stopTyping(m.ConversationID, m.SenderID)
	}
	return r.clone()
}

func (s *Store) findLocal(m protocol.Message) *Record {
	if m.ClientID != "" {
		if r := s.byID[m.ClientID]; r != nil && r.Origin == Local {
			return r
		}
	}
	c, ok := s.conversations[m.ConversationID]
	if !ok {
		return nil
	}
	for _, r := range c.records {
		if r.Origin != Local || r.Content != m.Content {
			continue
		}
		if r.SenderID == "" || m.SenderID == "" || r.SenderID == m.SenderID {
			return r
		}
	}
	return nil
}

func fromProtocol(m protocol.Message) *Record {
	r := &Record{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		MessageType:    m.MessageType,
		Origin:         Confirmed,
		CreatedAt:      m.CreatedAt,
		EditedAt:       m.EditedAt,
		DeletedAt:      m.DeletedAt,
		ExpiresAt:      m.ExpiresAt,
		Reactions:      m.Reactions,
	}
	for _, u := range m.ReadBy {
		r.addReader(u)
	}
	return r
}

func (r *Record) addReader(userID string) bool {
	i, found := slices.BinarySearch(r.ReadBy, userID)
	if found {
		return false
	}
	r.ReadBy = slices.Insert(r.ReadBy, i, userID)
	return true
}

// merge folds in into r. readBy only grows; content and edit fields follow
// whichever side was edited last; soft deletion is sticky.
func merge(r, in *Record) {
	if in.Origin == Confirmed && r.Origin == Local {
		r.Origin = Confirmed
		r.Failed = false
		r.CreatedAt = in.CreatedAt
		if r.SenderID == "" {
			r.SenderID = in.SenderID
		}
	}

	for _, u := range in.ReadBy {
		r.addReader(u)
	}

	if !in.editTime().Before(r.editTime()) {
		r.Content = in.Content
		r.MessageType = in.MessageType
		r.EditedAt = in.EditedAt
		if in.Reactions != nil {
			r.Reactions = maps.Clone(in.Reactions)
		}
	}

	if r.DeletedAt == nil {
		r.DeletedAt = in.DeletedAt
	}
	if in.ExpiresAt != nil {
		r.ExpiresAt = in.ExpiresAt
	}
}

// MarkRead adds userID to the message's readers. It reports whether
// anything changed; unknown ids and repeated reads are no-ops.
func (s *Store) MarkRead(messageID, userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.byID[messageID]
	if r == nil {
		return false
	}
	return r.addReader(userID)
}

// MarkFailed flags a local record whose send did not go through.
func (s *Store) MarkFailed(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.byID[id]
	if r == nil || r.Origin != Local {
		return false
	}
	r.Failed = true
	return true
}

// Get returns a copy of the record with the given id.
func (s *Store) Get(id string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.byID[id]
	if r == nil {
		return Record{}, false
	}
	return r.clone(), true
}

// Messages returns the conversation's records in display order.
func (s *Store) Messages(conversationID string) []Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[conversationID]
	if !ok {
		return nil
	}
	sorted := slices.Clone(c.records)
	sort.Slice(sorted, func(i, j int) bool {
		ti, tj := sorted[i].sortTime(), sorted[j].sortTime()
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return sorted[i].seq < sorted[j].seq
	})

	out := make([]Record, len(sorted))
	for i, r := range sorted {
		out[i] = r.clone()
	}
	return out
}

// SetTyping records whether userID is typing in the conversation. Each
// start restarts the user's inactivity timer; when it fires without a
// refresh the flag is cleared.
func (s *Store) SetTyping(conversationID, userID string, isTyping bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !isTyping {
		s.stopTyping(conversationID, userID)
		return
	}
	if s.closed {
		return
	}

	c := s.conv(conversationID)
	e, ok := c.typing[userID]
	if !ok {
		e = &typingEntry{}
		c.typing[userID] = e
	} else if e.timer != nil {
		e.timer.Stop()
	}

	s.typingGen++
	gen := s.typingGen
	e.gen = gen
	if s.typingTimeout > 0 {
		e.timer = time.AfterFunc(s.typingTimeout, func() {
			s.expireTyping(conversationID, userID, gen)
		})
	}
}

func (s *Store) expireTyping(conversationID, userID string, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[conversationID]
	if !ok {
		return
	}
	// a newer start owns the entry
	if e, ok := c.typing[userID]; ok && e.gen == gen {
		delete(c.typing, userID)
	}
}

func (s *Store) stopTyping(conversationID, userID string) {
	c, ok := s.conversations[conversationID]
	if !ok {
		return
	}
	if e, ok := c.typing[userID]; ok {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(c.typing, userID)
	}
}

// Typing returns the users currently typing in the conversation, sorted.
func (s *Store) Typing(conversationID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[conversationID]
	if !ok {
		return nil
	}
	users := slices.Collect(maps.Keys(c.typing))
	slices.Sort(users)
	return users
}

// Close stops all typing timers. The store stays readable.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	for _, c := range s.conversations {
		for u, e := range c.typing {
			if e.timer != nil {
				e.timer.Stop()
			}
			delete(c.typing, u)
		}
	}
}
