package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/circle/internal/common"
	"github.com/gorilla/websocket"
)

// Conn is one open socket carrying text frames. Implementations must allow
// WriteFrame and Close to be called concurrently with ReadFrame.
type Conn interface {
	// ReadFrame blocks for the next frame. When the socket ends it returns
	// a *CloseError.
	ReadFrame() ([]byte, error)
	WriteFrame(data []byte) error
	Close(code int, reason string) error
}

// Dialer opens a new Conn.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// CloseError reports how a socket ended.
type CloseError struct {
	Code int
	Text string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("socket closed: %d %s", e.Code, e.Text)
}

// CloseCode extracts the close code from err. Anything that is not a
// *CloseError counts as an abnormal closure.
func CloseCode(err error) int {
	var ce *CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return websocket.CloseAbnormalClosure
}

const (
	writeWait        = 10 * time.Second
	defaultReadLimit = 1 << 20
)

// WebsocketDialer dials the server's /ws endpoint with gorilla/websocket.
type WebsocketDialer struct {
	URL       string
	Header    http.Header
	Dialer    *websocket.Dialer
	ReadLimit int64
}

// NewWebsocketDialer derives the socket URL from the server's HTTP base URL.
func NewWebsocketDialer(serverURL string) (*WebsocketDialer, error) {
	u, err := WebsocketURL(serverURL)
	if err != nil {
		return nil, err
	}
	return &WebsocketDialer{URL: u}, nil
}

// WebsocketURL maps http(s)://host/base to ws(s)://host/base/ws.
func WebsocketURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid server url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid server url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid server url: missing host")
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String(), nil
}

func (d *WebsocketDialer) Dial(ctx context.Context) (Conn, error) {
	wd := d.Dialer
	if wd == nil {
		wd = websocket.DefaultDialer
	}

	c, resp, err := wd.DialContext(ctx, d.URL, d.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrConnection, err)
	}

	limit := d.ReadLimit
	if limit <= 0 {
		limit = defaultReadLimit
	}
	c.SetReadLimit(limit)

	return &wsConn{c: c}, nil
}

type wsConn struct {
	c  *websocket.Conn
	wm sync.Mutex
}

func (w *wsConn) ReadFrame() ([]byte, error) {
	for {
		typ, data, err := w.c.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				return nil, &CloseError{Code: ce.Code, Text: ce.Text}
			}
			return nil, &CloseError{Code: websocket.CloseAbnormalClosure, Text: err.Error()}
		}
		if typ == websocket.TextMessage {
			return data, nil
		}
	}
}

func (w *wsConn) WriteFrame(data []byte) error {
	w.wm.Lock()
	defer w.wm.Unlock()

	_ = w.c.SetWriteDeadline(time.Now().Add(writeWait))
	return w.c.WriteMessage(websocket.TextMessage, data)
}

func (w *wsConn) Close(code int, reason string) error {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = w.c.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	return w.c.Close()
}
