package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmitrijs2005/circle/internal/protocol"
)

// fakeConn is an in-memory socket. onWrite plays the server side.
type fakeConn struct {
	in        chan []byte
	drop      chan *CloseError
	closed    chan struct{}
	closeOnce sync.Once
	onWrite   func(c *fakeConn, f protocol.Frame)

	mu        sync.Mutex
	written   []protocol.Frame
	closeCode int
}

func newFakeConn(onWrite func(c *fakeConn, f protocol.Frame)) *fakeConn {
	return &fakeConn{
		in:      make(chan []byte, 32),
		drop:    make(chan *CloseError, 1),
		closed:  make(chan struct{}),
		onWrite: onWrite,
	}
}

func (c *fakeConn) ReadFrame() ([]byte, error) {
	select {
	case d := <-c.in:
		return d, nil
	case ce := <-c.drop:
		return nil, ce
	case <-c.closed:
		return nil, &CloseError{Code: protocol.CloseNormal, Text: "closed locally"}
	}
}

func (c *fakeConn) WriteFrame(data []byte) error {
	f, err := protocol.Decode(data)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.written = append(c.written, f)
	c.mu.Unlock()
	if c.onWrite != nil {
		c.onWrite(c, f)
	}
	return nil
}

func (c *fakeConn) Close(code int, _ string) error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closeCode = code
		c.mu.Unlock()
		close(c.closed)
	})
	return nil
}

func (c *fakeConn) push(f protocol.Frame) {
	data, err := protocol.Encode(f)
	if err != nil {
		panic(err)
	}
	c.in <- data
}

func (c *fakeConn) frames() []protocol.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.Frame(nil), c.written...)
}

func (c *fakeConn) count(typ protocol.Type) int {
	n := 0
	for _, f := range c.frames() {
		if f.FrameType() == typ {
			n++
		}
	}
	return n
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// acceptAll answers every Authenticate with success.
func acceptAll(c *fakeConn, f protocol.Frame) {
	if _, ok := f.(*protocol.Authenticate); ok {
		c.push(protocol.AuthResult{Success: true, UserID: "u1"})
	}
}

func rejectAll(c *fakeConn, f protocol.Frame) {
	if _, ok := f.(*protocol.Authenticate); ok {
		c.push(protocol.AuthResult{Success: false, Message: "invalid token"})
	}
}

// fakeDialer hands out connections from next, or fails with errs while any
// remain.
type fakeDialer struct {
	mu    sync.Mutex
	errs  []error
	next  func() *fakeConn
	conns []*fakeConn
	dials atomic.Int32
	gate  chan struct{}
}

func (d *fakeDialer) Dial(ctx context.Context) (Conn, error) {
	d.dials.Add(1)
	if d.gate != nil {
		select {
		case <-d.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.errs) > 0 {
		err := d.errs[0]
		d.errs = d.errs[1:]
		return nil, err
	}
	c := d.next()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.conns) {
		return nil
	}
	return d.conns[i]
}

var errRefused = errors.New("connection refused")

// recorder collects session events until the session is closed.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func record(s *Session) *recorder {
	r := &recorder{}
	go func() {
		for ev := range s.Events() {
			r.mu.Lock()
			r.events = append(r.events, ev)
			r.mu.Unlock()
		}
	}()
	return r
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *recorder) states() []State {
	var out []State
	for _, ev := range r.all() {
		if ev.Kind == EventState {
			out = append(out, ev.State)
		}
	}
	return out
}

func (r *recorder) has(pred func(Event) bool) bool {
	for _, ev := range r.all() {
		if pred(ev) {
			return true
		}
	}
	return false
}

func newTestSession(t *testing.T, d Dialer, cfg Config) (*Session, *recorder) {
	t.Helper()
	if cfg.Backoff.Min == 0 {
		cfg.Backoff = Backoff{Min: 10 * time.Millisecond, Max: 50 * time.Millisecond}
	}
	s := New(d, cfg, nopLogger())
	r := record(s)
	t.Cleanup(func() { _ = s.Close() })
	return s, r
}
