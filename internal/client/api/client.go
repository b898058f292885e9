// Package api is the client for the server's HTTP API: accounts,
// conversations, message history and the vault.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/circle/internal/common"
	"github.com/dmitrijs2005/circle/internal/dto"
	"github.com/dmitrijs2005/circle/internal/netx"
	"github.com/dmitrijs2005/circle/internal/protocol"
)

const (
	defaultTimeout = 30 * time.Second
	maxErrorBody   = 4 << 10

	// DefaultMaxDownloadSize matches the server's largest accepted blob.
	DefaultMaxDownloadSize = 100 << 20
)

type HTTPClient struct {
	baseURL     string
	http        *http.Client
	maxDownload int64

	mu          sync.RWMutex
	accessToken string
}

// NewHTTPClient returns a client for the server at baseURL. A nil hc gets a
// client with a default timeout.
func NewHTTPClient(baseURL string, hc *http.Client) *HTTPClient {
	if hc == nil {
		hc = &http.Client{Timeout: defaultTimeout}
	}
	return &HTTPClient{baseURL: strings.TrimSuffix(baseURL, "/"), http: hc, maxDownload: DefaultMaxDownloadSize}
}

// SetMaxDownloadSize bounds the number of bytes Download accepts.
func (c *HTTPClient) SetMaxDownloadSize(n int64) {
	c.maxDownload = n
}

func (c *HTTPClient) BaseURL() string { return c.baseURL }

func (c *HTTPClient) SetAccessToken(token string) {
	c.mu.Lock()
	c.accessToken = token
	c.mu.Unlock()
}

func (c *HTTPClient) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

func (c *HTTPClient) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := c.AccessToken(); tok != "" {
		req.Header.Set(common.AuthorizationHeaderName, "Bearer "+tok)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", common.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return mapStatus(resp.StatusCode, b)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func (c *HTTPClient) Register(ctx context.Context, username string, salt, verifier []byte) (string, error) {
	var resp dto.RegisterResponse
	err := c.do(ctx, http.MethodPost, "/auth/register", dto.RegisterRequest{Username: username, Salt: salt, Verifier: verifier}, &resp)
	if err != nil {
		return "", err
	}
	return resp.UserID, nil
}

func (c *HTTPClient) GetSalt(ctx context.Context, username string) ([]byte, error) {
	var resp dto.SaltResponse
	if err := c.do(ctx, http.MethodPost, "/auth/salt", dto.SaltRequest{Username: username}, &resp); err != nil {
		return nil, err
	}
	return resp.Salt, nil
}

// Login exchanges the verifier for an access token and keeps it for later
// calls.
func (c *HTTPClient) Login(ctx context.Context, username string, verifier []byte) (*dto.LoginResponse, error) {
	var resp dto.LoginResponse
	if err := c.do(ctx, http.MethodPost, "/auth/login", dto.LoginRequest{Username: username, Verifier: verifier}, &resp); err != nil {
		return nil, err
	}
	c.SetAccessToken(resp.AccessToken)
	return &resp, nil
}

func (c *HTTPClient) Ping(ctx context.Context) error {
	var resp dto.HealthResponse
	if err := c.do(ctx, http.MethodGet, "/health", nil, &resp); err != nil {
		return err
	}
	if resp.Status != "ok" {
		return common.ErrUnavailable
	}
	return nil
}

func (c *HTTPClient) CreateConversation(ctx context.Context, req dto.CreateConversationRequest) (*dto.Conversation, error) {
	var resp dto.Conversation
	if err := c.do(ctx, http.MethodPost, "/conversations", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) ListConversations(ctx context.Context) ([]dto.Conversation, error) {
	var resp []dto.Conversation
	if err := c.do(ctx, http.MethodGet, "/conversations", nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// History returns up to limit messages older than before (a message id,
// optional), newest first.
func (c *HTTPClient) History(ctx context.Context, conversationID string, limit int, before string) ([]protocol.Message, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if before != "" {
		q.Set("before", before)
	}
	path := "/conversations/" + url.PathEscape(conversationID) + "/messages"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp []protocol.Message
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *HTTPClient) RequestUploadToken(ctx context.Context, req dto.UploadTokenRequest) (*dto.UploadTokenResponse, error) {
	var resp dto.UploadTokenResponse
	if err := c.do(ctx, http.MethodPost, "/vault/upload-token", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Upload sends an encrypted blob to the target returned with an upload
// token.
func (c *HTTPClient) Upload(ctx context.Context, target, token string, blob []byte, checksum string) error {
	h := http.Header{}
	h.Set(common.UploadTokenHeaderName, token)
	h.Set(common.ChecksumHeaderName, checksum)
	if tok := c.AccessToken(); tok != "" {
		h.Set(common.AuthorizationHeaderName, "Bearer "+tok)
	}

	if _, err := netx.PutBytes(ctx, c.http, c.resolve(target), blob, h); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return mapError(err)
	}
	return nil
}

func (c *HTTPClient) GetDownloadURL(ctx context.Context, fileID string) (*dto.DownloadURLResponse, error) {
	var resp dto.DownloadURLResponse
	if err := c.do(ctx, http.MethodGet, "/vault/download-url/"+url.PathEscape(fileID), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Download fetches raw bytes from a download url. No credentials are sent;
// the url carries its own authorisation.
func (c *HTTPClient) Download(ctx context.Context, rawURL string) ([]byte, error) {
	b, err := netx.GetBytes(ctx, c.http, c.resolve(rawURL), c.maxDownload)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, netx.ErrBodyTooLarge) {
			return nil, fmt.Errorf("%w: %w", common.ErrFileTooLarge, err)
		}
		return nil, mapError(err)
	}
	return b, nil
}

func (c *HTTPClient) ListFiles(ctx context.Context, conversationID string, limit, offset int) ([]dto.VaultFile, error) {
	q := url.Values{}
	if conversationID != "" {
		q.Set("conversationId", conversationID)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	path := "/vault/files"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp []dto.VaultFile
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *HTTPClient) DeleteFile(ctx context.Context, fileID string) error {
	return c.do(ctx, http.MethodDelete, "/vault/files/"+url.PathEscape(fileID), nil, nil)
}

// resolve turns a server-relative path into an absolute url.
func (c *HTTPClient) resolve(target string) string {
	if strings.HasPrefix(target, "/") {
		return c.baseURL + target
	}
	return target
}
