package cli

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/dmitrijs2005/circle/internal/client/api"
	"github.com/dmitrijs2005/circle/internal/client/config"
	"github.com/dmitrijs2005/circle/internal/client/keystore"
	"github.com/dmitrijs2005/circle/internal/client/messages"
	"github.com/dmitrijs2005/circle/internal/client/services"
	"github.com/dmitrijs2005/circle/internal/client/session"
	"github.com/dmitrijs2005/circle/internal/client/storage"
	"github.com/dmitrijs2005/circle/internal/client/vault"
	"github.com/dmitrijs2005/circle/internal/cryptox"
	"github.com/dmitrijs2005/circle/internal/dto"
	"github.com/dmitrijs2005/circle/internal/logging"
	"github.com/dmitrijs2005/circle/internal/protocol"
)

type Mode string

const (
	ModeOffline  Mode = "offline"
	ModeOnline   Mode = "online"
	ModeDisabled Mode = "disabled"
)

var (
	errNotLoggedIn    = errors.New("log in first")
	errNoMessenger    = errors.New("no master key on this device, run 'key new' or 'key import <hex>'")
	errNoConversation = errors.New("select a conversation with 'use <conversationId>'")
)

// conversationAPI is the part of the HTTP client used by conversation and
// history commands.
type conversationAPI interface {
	CreateConversation(ctx context.Context, req dto.CreateConversationRequest) (*dto.Conversation, error)
	ListConversations(ctx context.Context) ([]dto.Conversation, error)
	History(ctx context.Context, conversationID string, limit int, before string) ([]protocol.Message, error)
}

// vaultService is implemented by *vault.Manager.
type vaultService interface {
	Upload(ctx context.Context, data []byte, meta vault.Metadata, progress vault.ProgressFunc) (*dto.VaultFile, error)
	Download(ctx context.Context, fileID string, progress vault.ProgressFunc) ([]byte, error)
	Delete(ctx context.Context, fileID string) error
	List(ctx context.Context, conversationID string, limit, offset int) ([]vault.ListedFile, error)
	Transfers() []vault.Transfer
}

// accountKeystore is a test seam for the keystore of a logged in account.
var accountKeystore = func(acc *services.Account) keystore.Store {
	return acc.Keystore
}

type App struct {
	config      *config.Config
	log         logging.Logger
	reader      *bufio.Reader
	out         io.Writer
	outMu       sync.Mutex
	authService services.AuthService
	convAPI     conversationAPI
	vaultAPI    vault.API
	keys        *cryptox.KeyManager
	codec       *cryptox.Codec

	mu        sync.Mutex
	Mode      Mode
	userName  string
	account   *services.Account
	masterKey *services.MasterKeys
	vault     vaultService
	sess      *session.Session
	messenger *services.Messenger
	stopRun   context.CancelFunc
}

func NewApp(c *config.Config, logger logging.Logger) (*App, error) {
	ctx := context.Background()

	db, err := storage.InitDatabase(ctx, c.DatabasePath)
	if err != nil {
		log.Printf("error initializing database: %s", err.Error())
		return nil, err
	}

	apiClient := api.NewHTTPClient(c.ServerURL, nil)
	codec := cryptox.NewCodec()

	return &App{
		config:      c,
		log:         logger,
		reader:      bufio.NewReader(os.Stdin),
		out:         os.Stdout,
		authService: services.NewAuthService(apiClient, db, codec),
		convAPI:     apiClient,
		vaultAPI:    apiClient,
		keys:        cryptox.NewKeyManager(),
		codec:       codec,
	}, nil
}

func (a *App) setMode(mode Mode) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.Mode != mode {
		a.Mode = mode
		log.Printf("Switched to %s mode\n", mode)
	}
}

func (a *App) mode() Mode {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Mode
}

func (a *App) Run(ctx context.Context) {
	defer a.authService.Close(ctx)
	defer a.stopMessaging()
	a.Root(ctx)
}

func (a *App) isLoggedIn() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.account != nil
}

// unlock installs a freshly logged in account and, when the device already
// holds a master key, starts messaging.
func (a *App) unlock(ctx context.Context, acc *services.Account) error {
	a.mu.Lock()
	a.account = acc
	a.userName = acc.Username
	store := accountKeystore(acc)
	a.masterKey = services.NewMasterKeys(a.keys, store)
	a.vault = vault.NewManager(a.vaultAPI, a.keys, a.codec, store, a.config.TransferWorkers, a.log)
	a.mu.Unlock()

	master, err := a.masterKey.Load(ctx)
	if errors.Is(err, services.ErrNoMasterKey) {
		log.Printf("No master key on this device yet, run 'key new' or 'key import <hex>'")
		return nil
	}
	if err != nil {
		return err
	}
	return a.startMessaging(ctx, master)
}

// startMessaging replaces any running session with one keyed by master and
// connects it when the server is reachable.
func (a *App) startMessaging(ctx context.Context, master cryptox.Key) error {
	a.stopMessaging()

	dialer, err := session.NewWebsocketDialer(a.config.ServerURL)
	if err != nil {
		return err
	}
	sess := session.New(dialer, session.Config{
		Backoff: session.Backoff{
			Min:         a.config.ReconnectMin,
			Max:         a.config.ReconnectMax,
			MaxAttempts: a.config.ReconnectMaxAttempts,
		},
		PingInterval: a.config.PingInterval,
	}, a.log)

	store := messages.NewStore(a.config.TypingTimeout, nil)
	m := services.NewMessenger(sess, store, a.keys, a.codec, master, services.MessengerConfig{
		TypingIdle: a.config.TypingTimeout,
		Notify:     a.printEvent,
	}, a.log)

	runCtx, cancel := context.WithCancel(context.Background())
	go m.Run(runCtx)

	a.mu.Lock()
	a.sess, a.messenger, a.stopRun = sess, m, cancel
	a.mu.Unlock()

	a.connect(ctx)
	return nil
}

// connect authenticates the session with the stored access token. It is a
// no-op offline, without a token or while already connected.
func (a *App) connect(ctx context.Context) {
	a.mu.Lock()
	sess, acc, mode := a.sess, a.account, a.Mode
	a.mu.Unlock()

	if sess == nil || acc == nil || acc.AccessToken == "" || mode != ModeOnline {
		return
	}
	if sess.State() != session.Disconnected {
		return
	}
	if err := sess.Connect(ctx, acc.AccessToken); err != nil {
		log.Printf("Realtime connection failed: %s", err.Error())
	}
}

func (a *App) stopMessaging() {
	a.mu.Lock()
	sess, m, cancel := a.sess, a.messenger, a.stopRun
	a.sess, a.messenger, a.stopRun = nil, nil, nil
	a.mu.Unlock()

	if sess != nil {
		_ = sess.Close()
	}
	if cancel != nil {
		cancel()
	}
	if m != nil {
		m.Close()
	}
}

func (a *App) StartOnlineStatusWatcher(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			err := a.authService.Ping(pingCtx)
			cancel()

			if err != nil {
				if a.mode() == ModeOnline {
					a.setMode(ModeOffline)
				}
			} else if a.mode() != ModeOnline {
				a.setMode(ModeOnline)
				connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
				a.connect(connCtx)
				cancel()
			}

		case <-ctx.Done():
			return
		}
	}
}
