package services

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/circle/internal/common"
	"github.com/dmitrijs2005/circle/internal/dbx"
	"github.com/dmitrijs2005/circle/internal/server/models"
	"github.com/dmitrijs2005/circle/internal/server/repositories/conversations"
	"github.com/dmitrijs2005/circle/internal/server/repositories/files"
	"github.com/dmitrijs2005/circle/internal/server/repositories/messages"
	"github.com/dmitrijs2005/circle/internal/server/repositories/uploadtokens"
	"github.com/dmitrijs2005/circle/internal/server/repositories/users"
)

type errBoom struct{}

func (errBoom) Error() string { return "boom" }

func newSQLMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

// memStore is an in-memory backing for every repository the services use.
type memStore struct {
	mu sync.Mutex

	users  []*models.User
	convs  map[string]*models.Conversation
	msgs   []*models.Message
	reads  map[string][]string
	files  map[string]*models.VaultFile
	tokens map[string]*models.UploadToken
	seq    int

	createErr  error
	resolveErr error
	usedBytes  int64
	purgeErr   error
	expireErr  error
}

func newMemStore() *memStore {
	return &memStore{
		convs:  map[string]*models.Conversation{},
		reads:  map[string][]string{},
		files:  map[string]*models.VaultFile{},
		tokens: map[string]*models.UploadToken{},
	}
}

func (m *memStore) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s%d", prefix, m.seq)
}

func (m *memStore) addUser(id, name string) {
	m.users = append(m.users, &models.User{ID: id, UserName: name})
}

type fakeRepoManager struct{ s *memStore }

func (f *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error { return nil }
func (f *fakeRepoManager) Users(dbx.DBTX) users.Repository              { return (*memUsers)(f.s) }
func (f *fakeRepoManager) Conversations(dbx.DBTX) conversations.Repository {
	return (*memConvs)(f.s)
}
func (f *fakeRepoManager) Messages(dbx.DBTX) messages.Repository { return (*memMessages)(f.s) }
func (f *fakeRepoManager) Files(dbx.DBTX) files.Repository       { return (*memFiles)(f.s) }
func (f *fakeRepoManager) UploadTokens(dbx.DBTX) uploadtokens.Repository {
	return (*memTokens)(f.s)
}

// ---- users ----

type memUsers memStore

func (r *memUsers) Create(ctx context.Context, u *models.User) (*models.User, error) {
	s := (*memStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return nil, s.createErr
	}
	for _, x := range s.users {
		if x.UserName == u.UserName {
			return nil, common.ErrLoginIsTaken
		}
	}
	u.ID = s.nextID("u")
	s.users = append(s.users, u)
	return u, nil
}

func (r *memUsers) GetUserByLogin(ctx context.Context, login string) (*models.User, error) {
	s := (*memStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resolveErr != nil {
		return nil, s.resolveErr
	}
	for _, x := range s.users {
		if x.UserName == login {
			return x, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r *memUsers) Resolve(ctx context.Context, ident string) (*models.User, error) {
	s := (*memStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resolveErr != nil {
		return nil, s.resolveErr
	}
	for _, x := range s.users {
		if x.ID == ident || x.UserName == ident {
			return x, nil
		}
	}
	return nil, common.ErrorNotFound
}

// ---- conversations ----

type memConvs memStore

func (r *memConvs) Create(ctx context.Context, c *models.Conversation) error {
	s := (*memStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	c.ID = s.nextID("c")
	c.CreatedAt = time.Now()
	s.convs[c.ID] = c
	return nil
}

func (r *memConvs) AddParticipant(ctx context.Context, convID, userID, role string) error {
	s := (*memStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[convID]
	if !ok {
		return common.ErrorNotFound
	}
	if c.HasUser(userID) {
		return nil
	}
	c.Participants = append(c.Participants, models.Participant{ConversationID: convID, UserID: userID, Role: role})
	return nil
}

func (r *memConvs) Get(ctx context.Context, id string) (*models.Conversation, error) {
	s := (*memStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *memConvs) ListForUser(ctx context.Context, userID string) ([]*models.Conversation, error) {
	s := (*memStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Conversation
	for _, c := range s.convs {
		if c.HasUser(userID) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *memConvs) ParticipantIDs(ctx context.Context, convID string) ([]string, error) {
	s := (*memStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[convID]
	if !ok {
		return nil, nil
	}
	var ids []string
	for _, p := range c.Participants {
		ids = append(ids, p.UserID)
	}
	return ids, nil
}

func (r *memConvs) IsParticipant(ctx context.Context, convID, userID string) (bool, error) {
	ids, _ := r.ParticipantIDs(ctx, convID)
	return slices.Contains(ids, userID), nil
}

// ---- messages ----

type memMessages memStore

func (r *memMessages) Create(ctx context.Context, msg *models.Message) error {
	s := (*memStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	msg.ID = s.nextID("m")
	msg.CreatedAt = time.Now()
	s.msgs = append(s.msgs, msg)
	return nil
}

func (r *memMessages) MarkRead(ctx context.Context, messageID, userID string) error {
	s := (*memStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if !slices.Contains(s.reads[messageID], userID) {
		s.reads[messageID] = append(s.reads[messageID], userID)
	}
	return nil
}

func (r *memMessages) ConversationOf(ctx context.Context, messageID string) (string, error) {
	s := (*memStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.msgs {
		if m.ID == messageID {
			return m.ConversationID, nil
		}
	}
	return "", common.ErrorNotFound
}

func (r *memMessages) History(ctx context.Context, convID string, limit int, before string) ([]*models.Message, error) {
	s := (*memStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Message
	for i := len(s.msgs) - 1; i >= 0 && len(out) < limit; i-- {
		if s.msgs[i].ConversationID == convID {
			out = append(out, s.msgs[i])
		}
	}
	return out, nil
}

func (r *memMessages) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	s := (*memStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.expireErr != nil {
		return 0, s.expireErr
	}
	kept := s.msgs[:0]
	var n int64
	for _, m := range s.msgs {
		if m.ExpiresAt != nil && m.ExpiresAt.Before(now) {
			delete(s.reads, m.ID)
			n++
			continue
		}
		kept = append(kept, m)
	}
	s.msgs = kept
	return n, nil
}

// ---- files ----

type memFiles memStore

func (r *memFiles) Create(ctx context.Context, f *models.VaultFile) error {
	s := (*memStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	f.ID = s.nextID("f")
	f.CreatedAt = time.Now()
	s.files[f.ID] = f
	return nil
}

func (r *memFiles) GetByID(ctx context.Context, id string) (*models.VaultFile, error) {
	s := (*memStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[id]
	if !ok || f.DeletedAt != nil {
		return nil, common.ErrorNotFound
	}
	cp := *f
	return &cp, nil
}

func (r *memFiles) MarkCompleted(ctx context.Context, id, checksum, key string) error {
	s := (*memStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[id]
	if !ok || f.UploadStatus != models.UploadPending {
		return common.ErrorNotFound
	}
	f.UploadStatus, f.Checksum, f.StorageKey = models.UploadCompleted, checksum, key
	return nil
}

func (r *memFiles) IncrementDownloadCount(ctx context.Context, id string) error {
	s := (*memStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[id].DownloadCount++
	return nil
}

func (r *memFiles) SoftDelete(ctx context.Context, id, owner string) error {
	s := (*memStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[id]
	if !ok || f.OwnerID != owner {
		return common.ErrorNotFound
	}
	if f.DeletedAt == nil {
		now := time.Now()
		f.DeletedAt = &now
	}
	return nil
}

func (r *memFiles) List(ctx context.Context, filter files.ListFilter) ([]*models.VaultFile, error) {
	s := (*memStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.VaultFile
	for _, f := range s.files {
		if f.DeletedAt != nil || f.UploadStatus != models.UploadCompleted {
			continue
		}
		if filter.ConversationID != "" && f.ConversationID != filter.ConversationID {
			continue
		}
		if filter.ConversationID == "" && f.OwnerID != filter.OwnerID {
			continue
		}
		out = append(out, f)
	}
	slices.SortFunc(out, func(a, b *models.VaultFile) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

// liveToken reports whether fileID still holds an unused, unexpired token.
// The caller holds s.mu.
func (s *memStore) liveToken(fileID string, now time.Time) bool {
	for _, t := range s.tokens {
		if t.FileID == fileID && t.UsedAt == nil && t.ExpiresAt.After(now) {
			return true
		}
	}
	return false
}

func (r *memFiles) UsedBytes(ctx context.Context, userID string, now time.Time) (int64, error) {
	s := (*memStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.usedBytes
	for _, f := range s.files {
		if f.OwnerID != userID || f.DeletedAt != nil {
			continue
		}
		if f.UploadStatus == models.UploadCompleted || s.liveToken(f.ID, now) {
			n += f.Size
		}
	}
	return n, nil
}

func (r *memFiles) DeleteAbandoned(ctx context.Context, now time.Time) (int64, error) {
	s := (*memStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, f := range s.files {
		if f.UploadStatus == models.UploadPending && !s.liveToken(id, now) {
			delete(s.files, id)
			for k, t := range s.tokens {
				if t.FileID == id {
					delete(s.tokens, k)
				}
			}
			n++
		}
	}
	return n, nil
}

func (r *memFiles) ListExpired(ctx context.Context, now time.Time, limit int) ([]*models.VaultFile, error) {
	s := (*memStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.VaultFile
	for _, f := range s.files {
		if f.UploadStatus == models.UploadCompleted && f.ExpiresAt != nil && f.ExpiresAt.Before(now) {
			cp := *f
			out = append(out, &cp)
		}
	}
	slices.SortFunc(out, func(a, b *models.VaultFile) int { return a.ExpiresAt.Compare(*b.ExpiresAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memFiles) Purge(ctx context.Context, id string) error {
	s := (*memStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.purgeErr != nil {
		return s.purgeErr
	}
	delete(s.files, id)
	return nil
}

// ---- upload tokens ----

type memTokens memStore

func (r *memTokens) Create(ctx context.Context, t *models.UploadToken) error {
	s := (*memStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[t.Token] = t
	return nil
}

func (r *memTokens) Get(ctx context.Context, token string) (*models.UploadToken, error) {
	s := (*memStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[token]
	if !ok {
		return nil, common.ErrInvalidToken
	}
	cp := *t
	return &cp, nil
}

func (r *memTokens) MarkUsed(ctx context.Context, token string) error {
	s := (*memStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[token]
	if !ok || t.UsedAt != nil {
		return common.ErrInvalidToken
	}
	now := time.Now()
	t.UsedAt = &now
	return nil
}


func (r *memTokens) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	s := (*memStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, t := range s.tokens {
		if t.ExpiresAt.Before(now) {
			delete(s.tokens, k)
			n++
		}
	}
	return n, nil
}
