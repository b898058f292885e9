// Package httpapi exposes the account, conversation and vault operations
// over JSON/HTTP and mounts the websocket relay.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/dmitrijs2005/circle/internal/dto"
	"github.com/dmitrijs2005/circle/internal/logging"
	"github.com/dmitrijs2005/circle/internal/server/models"
	"github.com/dmitrijs2005/circle/internal/server/services"
)

const (
	defaultMaxUploadSize = 100 << 20
	shutdownTimeout      = 10 * time.Second
)

type UserService interface {
	Register(ctx context.Context, username string, salt, verifier []byte) (*models.User, error)
	GetSalt(ctx context.Context, username string) ([]byte, error)
	Login(ctx context.Context, username string, verifier []byte) (*services.LoginResult, error)
	VerifyToken(token string) (string, error)
}

type MessagingService interface {
	CreateConversation(ctx context.Context, creatorID, name, kind string, identifiers []string) (*models.Conversation, error)
	ListConversations(ctx context.Context, userID string) ([]*models.Conversation, error)
	History(ctx context.Context, userID, conversationID string, limit int, before string) ([]*models.Message, error)
}

type VaultService interface {
	RequestUploadToken(ctx context.Context, userID string, req dto.UploadTokenRequest) (*services.UploadGrant, error)
	CompleteUpload(ctx context.Context, fileID, token, checksum string, body []byte) (*models.VaultFile, error)
	DownloadURL(ctx context.Context, userID, fileID string) (*services.DownloadGrant, error)
	ListFiles(ctx context.Context, userID, conversationID string, limit, offset int) ([]*models.VaultFile, error)
	DeleteFile(ctx context.Context, userID, fileID string) error
}

// HealthChecker is satisfied by *sql.DB.
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

type Options struct {
	// Realtime serves GET /ws. Nil leaves the route unmounted.
	Realtime http.Handler
	// Health is consulted by GET /health when set.
	Health        HealthChecker
	MaxUploadSize int64
}

type Server struct {
	address       string
	logger        logging.Logger
	users         UserService
	messaging     MessagingService
	vault         VaultService
	realtime      http.Handler
	health        HealthChecker
	maxUploadSize int64
}

func NewServer(a string, l logging.Logger, us UserService, ms MessagingService, vs VaultService, opts Options) *Server {
	maxUpload := opts.MaxUploadSize
	if maxUpload <= 0 {
		maxUpload = defaultMaxUploadSize
	}
	return &Server{
		address:       a,
		logger:        l.With("module", "http_server"),
		users:         us,
		messaging:     ms,
		vault:         vs,
		realtime:      opts.Realtime,
		health:        opts.Health,
		maxUploadSize: maxUpload,
	}
}

// Handler returns the routed API with request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("POST /auth/register", s.handleRegister)
	mux.HandleFunc("POST /auth/salt", s.handleSalt)
	mux.HandleFunc("POST /auth/login", s.handleLogin)

	mux.Handle("POST /conversations", s.requireAuth(s.handleCreateConversation))
	mux.Handle("GET /conversations", s.requireAuth(s.handleListConversations))
	mux.Handle("GET /conversations/{id}/messages", s.requireAuth(s.handleHistory))

	mux.Handle("POST /vault/upload-token", s.requireAuth(s.handleUploadToken))
	// the upload token is the credential for this route
	mux.HandleFunc("PUT /vault/upload/{id}", s.handleUpload)
	mux.Handle("GET /vault/download-url/{id}", s.requireAuth(s.handleDownloadURL))
	mux.Handle("GET /vault/files", s.requireAuth(s.handleListFiles))
	mux.Handle("DELETE /vault/files/{id}", s.requireAuth(s.handleDeleteFile))

	if s.realtime != nil {
		mux.Handle("GET /ws", s.realtime)
	}

	return s.logRequests(mux)
}

func (s *Server) Run(ctx context.Context) error {

	// announces address
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn(shutdownCtx, "HTTP server shutdown", "error", err)
		}
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", listen.Addr().String())

	if err := srv.Serve(listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}
