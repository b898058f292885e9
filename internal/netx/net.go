// Package netx holds small HTTP helpers for moving opaque blobs to and from
// URL-addressed storage.
package netx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
)

const (
	maxErrorBody    = 4 << 10
	maxResponseBody = 1 << 20
)

// ErrBodyTooLarge is returned when a response body is longer than the
// caller's limit. Nothing beyond limit+1 bytes is read.
var ErrBodyTooLarge = errors.New("response body too large")

// Doer is satisfied by *http.Client.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// StatusError reports a non-2xx response.
type StatusError struct {
	Op         string
	StatusCode int
	Status     string
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s failed: %s; body: %s", e.Op, e.Status, e.Body)
}

// PutBytes uploads data with PUT as application/octet-stream and returns the
// response body. Extra headers are added as given.
func PutBytes(ctx context.Context, c Doer, url string, data []byte, header http.Header) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	return do(c, req, "upload", maxResponseBody)
}

// GetBytes downloads url and returns the body. Bodies longer than limit
// bytes fail with ErrBodyTooLarge.
func GetBytes(ctx context.Context, c Doer, url string, limit int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return do(c, req, "download", limit)
}

func do(c Doer, req *http.Request, op string, limit int64) ([]byte, error) {
	resp, err := c.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{Op: op, StatusCode: resp.StatusCode, Status: resp.Status, Body: string(b)}
	}

	if resp.ContentLength > limit {
		return nil, fmt.Errorf("%s: %w: %d bytes, limit %d", op, ErrBodyTooLarge, resp.ContentLength, limit)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > limit {
		return nil, fmt.Errorf("%s: %w: limit %d", op, ErrBodyTooLarge, limit)
	}
	return b, nil
}
