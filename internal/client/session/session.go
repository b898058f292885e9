// Package session implements the client side of the real-time channel: a
// single connection that authenticates with an access token, serialises
// outbound frames, reports inbound frames on one ordered stream and
// reconnects with backoff after abnormal closures.
//
// All state lives in one goroutine. Public methods and socket goroutines
// only post messages to it, so two inbound events are never handled
// concurrently.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/circle/internal/common"
	"github.com/dmitrijs2005/circle/internal/logging"
	"github.com/dmitrijs2005/circle/internal/protocol"
	"github.com/golang-jwt/jwt/v5"
)

// Config tunes reconnects, keepalive and the outbound queue.
type Config struct {
	Backoff      Backoff
	PingInterval time.Duration
	SendBuffer   int
	// Now is used to check token expiry before reconnecting.
	Now func() time.Time
}

const (
	defaultSendBuffer   = 64
	defaultReconnectMin = 500 * time.Millisecond
	defaultReconnectMax = 30 * time.Second
)

var errClosed = fmt.Errorf("%w: session closed", common.ErrConnection)

// loop messages
type (
	connectCmd struct {
		token string
		reply chan error
	}
	disconnectCmd struct {
		reply chan struct{}
	}
	sendCmd struct {
		frame protocol.Frame
		reply chan error
	}
	dialedMsg struct {
		gen  uint64
		conn Conn
		err  error
	}
	frameMsg struct {
		gen  uint64
		data []byte
	}
	closedMsg struct {
		gen uint64
		err error
	}
	reconnectMsg struct {
		gen uint64
	}
)

// link is one live socket. Only the writer goroutine closes conn, after
// out has been closed and drained.
type link struct {
	gen         uint64
	conn        Conn
	out         chan []byte
	closeCode   int
	closeReason string
}

type Session struct {
	dialer Dialer
	cfg    Config
	log    logging.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	inbox     chan any
	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
	state     atomic.Int32

	// owned by run
	token    string
	userID   string
	gen      uint64
	link     *link
	waiters  []chan error
	attempt  int
	timer    *time.Timer
	timerGen uint64
	pinger   *time.Ticker
	pending  []Event
}

// New starts a disconnected session. Callers must drain Events and call
// Close when done.
func New(dialer Dialer, cfg Config, log logging.Logger) *Session {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = defaultSendBuffer
	}
	if cfg.Backoff.Min <= 0 {
		cfg.Backoff.Min = defaultReconnectMin
	}
	if cfg.Backoff.Max <= 0 {
		cfg.Backoff.Max = defaultReconnectMax
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		dialer: dialer,
		cfg:    cfg,
		log:    log.With("component", "session"),
		ctx:    ctx,
		cancel: cancel,
		inbox:  make(chan any),
		events: make(chan Event),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

// State returns the current state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Events is the ordered stream of state changes, inbound frames and
// failures. It is closed by Close.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Connect opens the socket and authenticates with token. It blocks until
// the first attempt resolves: nil once authenticated, ErrAuthentication when
// the server rejects the token, ErrConnection when the socket cannot be
// opened (a reconnect is then scheduled in the background).
//
// Calling Connect while a connection is being established or is already
// authenticated does not open another socket.
func (s *Session) Connect(ctx context.Context, token string) error {
	reply := make(chan error, 1)
	if !s.post(connectCmd{token: token, reply: reply}) {
		return errClosed
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return errClosed
	}
}

// Disconnect closes the socket with a normal close code and cancels any
// pending reconnect.
func (s *Session) Disconnect() {
	reply := make(chan struct{})
	if !s.post(disconnectCmd{reply: reply}) {
		return
	}
	select {
	case <-reply:
	case <-s.done:
	}
}

// Send queues a frame for writing. Outside Authenticated it fails with
// ErrNotAuthenticated and nothing is written.
func (s *Session) Send(ctx context.Context, f protocol.Frame) error {
	reply := make(chan error, 1)
	if !s.post(sendCmd{frame: f, reply: reply}) {
		return common.ErrNotAuthenticated
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return common.ErrNotAuthenticated
	}
}

func (s *Session) SendMessage(ctx context.Context, m protocol.SendMessage) error {
	return s.Send(ctx, m)
}

func (s *Session) MarkRead(ctx context.Context, conversationID, messageID string) error {
	return s.Send(ctx, protocol.MessageRead{MessageID: messageID, ConversationID: conversationID})
}

func (s *Session) TypingStart(ctx context.Context, conversationID string) error {
	return s.Send(ctx, protocol.TypingStart{ConversationID: conversationID})
}

func (s *Session) TypingStop(ctx context.Context, conversationID string) error {
	return s.Send(ctx, protocol.TypingStop{ConversationID: conversationID})
}

// Close stops the session, closing any socket normally. It is safe to call
// more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(s.cancel)
	<-s.done
	return nil
}

func (s *Session) post(m any) bool {
	select {
	case s.inbox <- m:
		return true
	case <-s.done:
		return false
	}
}

func (s *Session) run() {
	defer close(s.done)

	for {
		var (
			out   chan<- Event
			next  Event
			pingC <-chan time.Time
		)
		if len(s.pending) > 0 {
			out = s.events
			next = s.pending[0]
		}
		if s.pinger != nil {
			pingC = s.pinger.C
		}

		select {
		case <-s.ctx.Done():
			s.shutdown()
			return
		case m := <-s.inbox:
			s.handle(m)
		case out <- next:
			s.pending[0] = Event{}
			s.pending = s.pending[1:]
		case <-pingC:
			if err := s.enqueue(protocol.Ping{}); err != nil {
				s.log.Warn(s.ctx, "ping failed", "error", err)
			}
		}
	}
}

func (s *Session) handle(m any) {
	switch m := m.(type) {
	case connectCmd:
		s.onConnect(m)
	case disconnectCmd:
		s.onDisconnect()
		close(m.reply)
	case sendCmd:
		m.reply <- s.onSend(m.frame)
	case dialedMsg:
		s.onDialed(m)
	case frameMsg:
		s.onFrame(m)
	case closedMsg:
		s.onClosed(m)
	case reconnectMsg:
		s.onReconnect(m)
	}
}

func (s *Session) emit(ev Event) {
	s.pending = append(s.pending, ev)
}

func (s *Session) setState(st State) {
	prev := s.State()
	if prev == st {
		return
	}
	s.state.Store(int32(st))
	s.log.Info(s.ctx, "session state changed", "from", prev.String(), "to", st.String())

	ev := Event{Kind: EventState, State: st}
	if st == Authenticated {
		ev.UserID = s.userID
	}
	s.emit(ev)
}

// resolve answers every Connect call waiting on the current attempt.
func (s *Session) resolve(err error) {
	for _, w := range s.waiters {
		w <- err
	}
	s.waiters = nil
}

func (s *Session) fail(err error) {
	s.emit(Event{Kind: EventError, Err: err})
	s.resolve(err)
}

func (s *Session) onConnect(m connectCmd) {
	switch s.State() {
	case Authenticated:
		m.reply <- nil
		return
	case Connecting, ConnectedUnauthenticated, Authenticating:
		s.waiters = append(s.waiters, m.reply)
		return
	}

	if m.token == "" {
		m.reply <- fmt.Errorf("%w: empty token", common.ErrAuthentication)
		return
	}

	s.stopReconnect()
	s.token = m.token
	s.attempt = 0
	s.waiters = append(s.waiters, m.reply)
	s.dial()
}

func (s *Session) dial() {
	s.gen++
	gen := s.gen
	s.setState(Connecting)

	go func() {
		conn, err := s.dialer.Dial(s.ctx)
		if !s.post(dialedMsg{gen: gen, conn: conn, err: err}) && conn != nil {
			_ = conn.Close(protocol.CloseNormal, "")
		}
	}()
}

func (s *Session) onDialed(m dialedMsg) {
	if m.gen != s.gen || s.State() != Connecting {
		if m.conn != nil {
			_ = m.conn.Close(protocol.CloseNormal, "")
		}
		return
	}

	if m.err != nil {
		err := m.err
		if !errors.Is(err, common.ErrConnection) {
			err = fmt.Errorf("%w: %v", common.ErrConnection, err)
		}
		s.log.Warn(s.ctx, "dial failed", "error", err)
		s.setState(Disconnected)
		s.fail(err)
		s.scheduleReconnect()
		return
	}

	l := &link{
		gen:       m.gen,
		conn:      m.conn,
		out:       make(chan []byte, s.cfg.SendBuffer),
		closeCode: protocol.CloseNormal,
	}
	s.link = l
	go s.writeLoop(l)
	go s.readLoop(l)

	s.setState(ConnectedUnauthenticated)
	if err := s.enqueue(protocol.Authenticate{Token: s.token}); err != nil {
		s.teardown(protocol.CloseNormal, "")
		s.setState(Disconnected)
		s.fail(fmt.Errorf("%w: %v", common.ErrConnection, err))
		return
	}
	s.setState(Authenticating)
}

func (s *Session) onFrame(m frameMsg) {
	if s.link == nil || m.gen != s.link.gen {
		return
	}

	f, err := protocol.Decode(m.data)
	if err != nil {
		s.log.Warn(s.ctx, "dropping inbound frame", "error", err)
		return
	}

	switch f := f.(type) {
	case *protocol.AuthResult:
		if s.State() != Authenticating {
			s.log.Debug(s.ctx, "unexpected auth result", "state", s.State().String())
			return
		}
		if !f.Success {
			// no further attempts until a new Connect
			s.token = ""
			s.teardown(protocol.CloseNormal, "authentication failed")
			s.setState(Disconnected)
			s.fail(fmt.Errorf("%w: %s", common.ErrAuthentication, f.Message))
			return
		}
		s.userID = f.UserID
		s.attempt = 0
		s.setState(Authenticated)
		s.startPing()
		s.resolve(nil)
	case *protocol.Pong:
		s.log.Debug(s.ctx, "pong")
	default:
		s.emit(Event{Kind: EventFrame, Frame: f})
	}
}

func (s *Session) onClosed(m closedMsg) {
	if s.link == nil || m.gen != s.link.gen {
		return
	}

	code := CloseCode(m.err)
	s.teardown(protocol.CloseNormal, "")
	s.setState(Disconnected)

	if code == protocol.CloseNormal {
		s.log.Info(s.ctx, "socket closed normally")
		s.resolve(fmt.Errorf("%w: closed by server", common.ErrConnection))
		return
	}

	s.log.Warn(s.ctx, "socket closed", "code", code, "error", m.err)
	s.fail(fmt.Errorf("%w: %v", common.ErrConnection, m.err))
	s.scheduleReconnect()
}

func (s *Session) onReconnect(m reconnectMsg) {
	if m.gen != s.timerGen || s.State() != Disconnected || s.token == "" {
		return
	}
	s.timer = nil

	if tokenExpired(s.token, s.cfg.Now()) {
		s.token = ""
		s.log.Warn(s.ctx, "access token expired, reconnect stopped")
		s.emit(Event{Kind: EventError, Err: fmt.Errorf("%w: %w", common.ErrAuthentication, common.ErrTokenExpired)})
		return
	}

	s.dial()
}

func (s *Session) onDisconnect() {
	s.stopReconnect()
	s.token = ""
	s.teardown(protocol.CloseNormal, "")
	// invalidates a dial still in flight
	s.gen++
	s.setState(Disconnected)
	s.resolve(fmt.Errorf("%w: disconnected", common.ErrConnection))
}

func (s *Session) onSend(f protocol.Frame) error {
	if s.State() != Authenticated {
		return common.ErrNotAuthenticated
	}
	return s.enqueue(f)
}

func (s *Session) enqueue(f protocol.Frame) error {
	if s.link == nil {
		return common.ErrNotAuthenticated
	}
	data, err := protocol.Encode(f)
	if err != nil {
		return err
	}
	select {
	case s.link.out <- data:
		return nil
	default:
		return fmt.Errorf("%w: send queue full", common.ErrConnection)
	}
}

func (s *Session) scheduleReconnect() {
	if s.token == "" {
		return
	}
	if s.cfg.Backoff.Exhausted(s.attempt) {
		s.log.Warn(s.ctx, "giving up reconnecting", "attempts", s.attempt)
		s.emit(Event{Kind: EventError, Err: fmt.Errorf("%w: gave up after %d attempts", common.ErrConnection, s.attempt)})
		return
	}

	delay := s.cfg.Backoff.Delay(s.attempt)
	s.attempt++
	s.timerGen++
	gen := s.timerGen
	s.timer = time.AfterFunc(delay, func() {
		s.post(reconnectMsg{gen: gen})
	})

	s.log.Info(s.ctx, "reconnect scheduled", "attempt", s.attempt, "delay", delay)
	s.emit(Event{Kind: EventReconnect, Attempt: s.attempt, Delay: delay})
}

func (s *Session) stopReconnect() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.timerGen++
}

func (s *Session) startPing() {
	if s.cfg.PingInterval > 0 {
		s.pinger = time.NewTicker(s.cfg.PingInterval)
	}
}

func (s *Session) stopPing() {
	if s.pinger != nil {
		s.pinger.Stop()
		s.pinger = nil
	}
}

// teardown detaches the current link. Its writer flushes what is queued and
// then closes the socket with code.
func (s *Session) teardown(code int, reason string) {
	s.stopPing()
	l := s.link
	if l == nil {
		return
	}
	s.link = nil
	s.gen++
	l.closeCode = code
	l.closeReason = reason
	close(l.out)
}

func (s *Session) shutdown() {
	s.stopReconnect()
	s.token = ""
	s.teardown(protocol.CloseNormal, "client closing")
	s.state.Store(int32(Disconnected))
	s.resolve(errClosed)
	close(s.events)
}

func (s *Session) writeLoop(l *link) {
	for data := range l.out {
		if err := l.conn.WriteFrame(data); err != nil {
			s.post(closedMsg{gen: l.gen, err: err})
			for range l.out {
			}
			break
		}
	}
	_ = l.conn.Close(l.closeCode, l.closeReason)
}

func (s *Session) readLoop(l *link) {
	for {
		data, err := l.conn.ReadFrame()
		if err != nil {
			s.post(closedMsg{gen: l.gen, err: err})
			return
		}
		if !s.post(frameMsg{gen: l.gen, data: data}) {
			return
		}
	}
}

func tokenExpired(token string, now time.Time) bool {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		// not a JWT; the server decides
		return false
	}
	return claims.ExpiresAt != nil && !now.Before(claims.ExpiresAt.Time)
}
