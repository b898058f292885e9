package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dmitrijs2005/circle/internal/client/api"
	"github.com/dmitrijs2005/circle/internal/common"
	"github.com/dmitrijs2005/circle/internal/cryptox"
	"github.com/dmitrijs2005/circle/internal/dto"
	"github.com/dmitrijs2005/circle/internal/server/models"
	"github.com/dmitrijs2005/circle/internal/server/services"
)

var (
	errBoom   = errors.New("boom")
	fixedTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
)

type fakeUsers struct {
	registerErr error
	salt        []byte
	loginErr    error

	lastName     string
	lastVerifier []byte
}

func (f *fakeUsers) Register(ctx context.Context, username string, salt, verifier []byte) (*models.User, error) {
	f.lastName, f.lastVerifier = username, verifier
	if f.registerErr != nil {
		return nil, f.registerErr
	}
	return &models.User{ID: "u1", UserName: username, Salt: salt, Verifier: verifier}, nil
}

func (f *fakeUsers) GetSalt(ctx context.Context, username string) ([]byte, error) {
	f.lastName = username
	return f.salt, nil
}

func (f *fakeUsers) Login(ctx context.Context, username string, verifier []byte) (*services.LoginResult, error) {
	f.lastName, f.lastVerifier = username, verifier
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	return &services.LoginResult{AccessToken: "tok-u1", UserID: "u1", ExpiresAt: fixedTime}, nil
}

func (f *fakeUsers) VerifyToken(token string) (string, error) {
	switch token {
	case "tok-u1":
		return "u1", nil
	case "expired":
		return "", common.ErrTokenExpired
	}
	return "", common.ErrInvalidToken
}

type fakeMessaging struct {
	createErr error

	lastUser        string
	lastName        string
	lastKind        string
	lastIdentifiers []string
	lastLimit       int
	lastBefore      string
}

func (f *fakeMessaging) CreateConversation(ctx context.Context, creatorID, name, kind string, identifiers []string) (*models.Conversation, error) {
	f.lastUser, f.lastName, f.lastKind, f.lastIdentifiers = creatorID, name, kind, identifiers
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &models.Conversation{
		ID:        "c1",
		Name:      name,
		Type:      kind,
		CreatedBy: creatorID,
		CreatedAt: fixedTime,
		Participants: []models.Participant{
			{ConversationID: "c1", UserID: creatorID, UserName: "alice", Role: models.RoleAdmin},
			{ConversationID: "c1", UserID: "u2", UserName: "bob", Role: models.RoleMember},
		},
	}, nil
}

func (f *fakeMessaging) ListConversations(ctx context.Context, userID string) ([]*models.Conversation, error) {
	f.lastUser = userID
	return nil, nil
}

func (f *fakeMessaging) History(ctx context.Context, userID, conversationID string, limit int, before string) ([]*models.Message, error) {
	f.lastUser, f.lastLimit, f.lastBefore = userID, limit, before
	if conversationID != "c1" {
		return nil, common.ErrNotParticipant
	}
	return []*models.Message{
		{ID: "m2", ConversationID: "c1", SenderID: "u2", Content: "b", MessageType: "text", CreatedAt: fixedTime.Add(time.Minute)},
		{ID: "m1", ConversationID: "c1", SenderID: "u1", Content: "a", MessageType: "text", CreatedAt: fixedTime, ReadBy: []string{"u2"}},
	}, nil
}

type fakeVault struct {
	requestErr error

	lastReq      dto.UploadTokenRequest
	lastToken    string
	lastChecksum string
	lastBody     []byte
	deleted      []string
	lastConv     string
	lastLimit    int
	lastOffset   int
}

func (f *fakeVault) RequestUploadToken(ctx context.Context, userID string, req dto.UploadTokenRequest) (*services.UploadGrant, error) {
	f.lastReq = req
	if f.requestErr != nil {
		return nil, f.requestErr
	}
	return &services.UploadGrant{Token: "ut", FileID: "f1", UploadTarget: "/vault/upload/f1", ExpiresAt: fixedTime}, nil
}

func (f *fakeVault) CompleteUpload(ctx context.Context, fileID, token, checksum string, body []byte) (*models.VaultFile, error) {
	f.lastToken, f.lastChecksum, f.lastBody = token, checksum, body
	if token != "ut" || fileID != "f1" {
		return nil, common.ErrInvalidToken
	}
	if checksum != cryptox.Checksum(body) {
		return nil, common.ErrChecksumMismatch
	}
	return testFile(), nil
}

func (f *fakeVault) DownloadURL(ctx context.Context, userID, fileID string) (*services.DownloadGrant, error) {
	if fileID != "f1" {
		return nil, common.ErrorNotFound
	}
	return &services.DownloadGrant{URL: "https://s3.local/vault/f1?sig=x", Checksum: "abc", ExpiresAt: fixedTime}, nil
}

func (f *fakeVault) ListFiles(ctx context.Context, userID, conversationID string, limit, offset int) ([]*models.VaultFile, error) {
	f.lastConv, f.lastLimit, f.lastOffset = conversationID, limit, offset
	return []*models.VaultFile{testFile()}, nil
}

func (f *fakeVault) DeleteFile(ctx context.Context, userID, fileID string) error {
	if userID != "u1" {
		return common.ErrAccessDenied
	}
	f.deleted = append(f.deleted, fileID)
	return nil
}

var testMetadata = cryptox.EnvelopeMetadata{Nonce: []byte("nonce"), Salt: []byte("salt"), KeyID: "k1"}

func testFile() *models.VaultFile {
	meta, _ := json.Marshal(testMetadata)
	return &models.VaultFile{
		ID:                 "f1",
		OwnerID:            "u1",
		Filename:           "notes.txt",
		Size:               5,
		ContentType:        "text/plain",
		AccessLevel:        dto.AccessPrivate,
		Checksum:           "abc",
		EncryptionMetadata: meta,
		UploadStatus:       models.UploadCompleted,
		CreatedAt:          fixedTime,
	}
}

type fixture struct {
	users     *fakeUsers
	messaging *fakeMessaging
	vault     *fakeVault
	server    *Server
	client    *api.HTTPClient
	url       string
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	f := &fixture{
		users:     &fakeUsers{salt: []byte("0123456789abcdef")},
		messaging: &fakeMessaging{},
		vault:     &fakeVault{},
	}
	f.server = NewServer("", nopLogger{}, f.users, f.messaging, f.vault, opts)
	ts := httptest.NewServer(f.server.Handler())
	t.Cleanup(ts.Close)
	f.url = ts.URL
	f.client = api.NewHTTPClient(ts.URL, ts.Client())
	return f
}

func (f *fixture) authed() *api.HTTPClient {
	f.client.SetAccessToken("tok-u1")
	return f.client
}
