package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/dmitrijs2005/circle/internal/common"
	"github.com/dmitrijs2005/circle/internal/cryptox"
	"github.com/dmitrijs2005/circle/internal/dto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) PingContext(ctx context.Context) error { return f(ctx) }

func TestAuthRoutes(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	id, err := f.client.Register(ctx, "alice", []byte("salt"), []byte("verifier"))
	require.NoError(t, err)
	assert.Equal(t, "u1", id)
	assert.Equal(t, "alice", f.users.lastName)

	salt, err := f.client.GetSalt(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, f.users.salt, salt)

	res, err := f.client.Login(ctx, "alice", []byte("verifier"))
	require.NoError(t, err)
	assert.Equal(t, "tok-u1", res.AccessToken)
	assert.True(t, res.ExpiresAt.Equal(fixedTime))
	assert.Equal(t, []byte("verifier"), f.users.lastVerifier)
	assert.Equal(t, "tok-u1", f.client.AccessToken())
}

func TestAuthRoutes_ErrorsMapToSentinels(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	f.users.registerErr = errors.Join(errors.New("error creating user"), common.ErrLoginIsTaken)
	_, err := f.client.Register(ctx, "alice", nil, nil)
	assert.ErrorIs(t, err, common.ErrLoginIsTaken)

	f.users.loginErr = common.ErrorUnauthorized
	_, err = f.client.Login(ctx, "alice", []byte("x"))
	assert.ErrorIs(t, err, common.ErrorUnauthorized)

	f.users.loginErr = errBoom
	_, err = f.client.Login(ctx, "alice", []byte("x"))
	assert.ErrorIs(t, err, common.ErrorInternal)
}

func TestHealth(t *testing.T) {
	f := newFixture(t, Options{})
	require.NoError(t, f.client.Ping(context.Background()))

	down := newFixture(t, Options{Health: pingFunc(func(context.Context) error { return errBoom })})
	assert.ErrorIs(t, down.client.Ping(context.Background()), common.ErrUnavailable)
}

func TestConversationRoutes_RequireToken(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	_, err := f.client.ListConversations(ctx)
	assert.ErrorIs(t, err, common.ErrorUnauthorized)

	f.client.SetAccessToken("expired")
	_, err = f.client.ListConversations(ctx)
	assert.ErrorIs(t, err, common.ErrTokenExpired)

	f.client.SetAccessToken("forged")
	_, err = f.client.ListConversations(ctx)
	assert.ErrorIs(t, err, common.ErrInvalidToken)
}

func TestConversationRoutes(t *testing.T) {
	f := newFixture(t, Options{})
	c := f.authed()
	ctx := context.Background()

	conv, err := c.CreateConversation(ctx, dto.CreateConversationRequest{
		Name:                   "team",
		Type:                   dto.ConversationGroup,
		ParticipantIdentifiers: []string{"bob"},
	})
	require.NoError(t, err)
	assert.Equal(t, "c1", conv.ID)
	assert.Equal(t, "u1", f.messaging.lastUser)
	assert.Equal(t, []string{"bob"}, f.messaging.lastIdentifiers)
	require.Len(t, conv.Participants, 2)
	assert.Equal(t, dto.Participant{UserID: "u2", Username: "bob", Role: "member"}, conv.Participants[1])

	list, err := c.ListConversations(ctx)
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)

	msgs, err := c.History(ctx, "c1", 20, "m9")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, 20, f.messaging.lastLimit)
	assert.Equal(t, "m9", f.messaging.lastBefore)
	assert.Equal(t, []string{"u2"}, msgs[1].ReadBy)
	assert.NotNil(t, msgs[0].ReadBy)

	_, err = c.History(ctx, "c2", 0, "")
	assert.ErrorIs(t, err, common.ErrNotParticipant)

	f.messaging.createErr = common.ErrUnknownUser
	_, err = c.CreateConversation(ctx, dto.CreateConversationRequest{Type: dto.ConversationDirect})
	assert.ErrorIs(t, err, common.ErrInvalidRequest)
}

func TestHistory_BadLimit(t *testing.T) {
	f := newFixture(t, Options{})

	req, err := http.NewRequest(http.MethodGet, f.url+"/conversations/c1/messages?limit=abc", nil)
	require.NoError(t, err)
	req.Header.Set(common.AuthorizationHeaderName, "Bearer tok-u1")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestVaultRoutes(t *testing.T) {
	f := newFixture(t, Options{})
	c := f.authed()
	ctx := context.Background()

	grant, err := c.RequestUploadToken(ctx, dto.UploadTokenRequest{
		Filename:           "notes.txt",
		Size:               5,
		AccessLevel:        dto.AccessPrivate,
		EncryptionMetadata: testMetadata,
	})
	require.NoError(t, err)
	assert.Equal(t, "f1", grant.FileID)
	assert.Equal(t, "notes.txt", f.vault.lastReq.Filename)
	assert.Equal(t, testMetadata, f.vault.lastReq.EncryptionMetadata)

	blob := []byte("hello")
	require.NoError(t, c.Upload(ctx, grant.UploadTarget, grant.Token, blob, cryptox.Checksum(blob)))
	assert.Equal(t, blob, f.vault.lastBody)

	err = c.Upload(ctx, grant.UploadTarget, grant.Token, blob, strings.Repeat("0", 64))
	assert.ErrorIs(t, err, common.ErrChecksumMismatch)

	err = c.Upload(ctx, grant.UploadTarget, "stolen", blob, cryptox.Checksum(blob))
	assert.ErrorIs(t, err, common.ErrInvalidToken)

	dl, err := c.GetDownloadURL(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, "https://s3.local/vault/f1?sig=x", dl.URL)

	_, err = c.GetDownloadURL(ctx, "nope")
	assert.ErrorIs(t, err, common.ErrorNotFound)

	files, err := c.ListFiles(ctx, "c1", 10, 20)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, testMetadata, files[0].EncryptionMetadata)
	assert.Equal(t, "c1", f.vault.lastConv)
	assert.Equal(t, 10, f.vault.lastLimit)
	assert.Equal(t, 20, f.vault.lastOffset)

	require.NoError(t, c.DeleteFile(ctx, "f1"))
	assert.Equal(t, []string{"f1"}, f.vault.deleted)
}

func TestVaultRoutes_LimitsMapTo413(t *testing.T) {
	f := newFixture(t, Options{MaxUploadSize: 4})
	c := f.authed()
	ctx := context.Background()

	blob := []byte("hello")
	err := c.Upload(ctx, "/vault/upload/f1", "ut", blob, cryptox.Checksum(blob))
	assert.ErrorIs(t, err, common.ErrFileTooLarge)

	f.vault.requestErr = common.ErrQuotaExceeded
	_, err = c.RequestUploadToken(ctx, dto.UploadTokenRequest{Filename: "x", Size: 1})
	assert.ErrorIs(t, err, common.ErrQuotaExceeded)
}

func TestUpload_MissingToken(t *testing.T) {
	f := newFixture(t, Options{})

	req, err := http.NewRequest(http.MethodPut, f.url+"/vault/upload/f1", strings.NewReader("hello"))
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRealtimeRouteMounted(t *testing.T) {
	called := false
	ws := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusTeapot)
	})
	f := newFixture(t, Options{Realtime: ws})

	resp, err := http.Get(f.url + "/ws")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.True(t, called)
	assert.Equal(t, http.StatusTeapot, resp.StatusCode)
}
