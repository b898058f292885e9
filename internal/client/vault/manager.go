// Package vault moves files between the device and the server's vault.
// Every file gets its own random key; only the encrypted blob and its
// checksum reach the server, and the key stays in the local keystore.
package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/dmitrijs2005/circle/internal/client/keystore"
	"github.com/dmitrijs2005/circle/internal/common"
	"github.com/dmitrijs2005/circle/internal/cryptox"
	"github.com/dmitrijs2005/circle/internal/dto"
	"github.com/dmitrijs2005/circle/internal/logging"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// API is the part of the server client used for transfers.
type API interface {
	RequestUploadToken(ctx context.Context, req dto.UploadTokenRequest) (*dto.UploadTokenResponse, error)
	Upload(ctx context.Context, target, token string, blob []byte, checksum string) error
	GetDownloadURL(ctx context.Context, fileID string) (*dto.DownloadURLResponse, error)
	Download(ctx context.Context, url string) ([]byte, error)
	ListFiles(ctx context.Context, conversationID string, limit, offset int) ([]dto.VaultFile, error)
	DeleteFile(ctx context.Context, fileID string) error
}

// Cipher encrypts file payloads. *cryptox.Codec implements it.
type Cipher interface {
	EncryptBytes(data []byte, key cryptox.Key) ([]byte, error)
	DecryptBytes(blob []byte, key cryptox.Key) ([]byte, error)
}

type Milestone int

const (
	EncryptionStarted Milestone = iota + 1
	EncryptionComplete
	UploadComplete
	DownloadComplete
	DecryptionComplete
)

func (m Milestone) String() string {
	switch m {
	case EncryptionStarted:
		return "encryption started"
	case EncryptionComplete:
		return "encryption complete"
	case UploadComplete:
		return "upload complete"
	case DownloadComplete:
		return "download complete"
	case DecryptionComplete:
		return "decryption complete"
	default:
		return "unknown"
	}
}

// Progress is reported at coarse milestones, in increasing order per
// transfer.
type Progress struct {
	TransferID string
	FileID     string
	Milestone  Milestone
}

type ProgressFunc func(Progress)

// Metadata describes a file being uploaded.
type Metadata struct {
	Filename       string
	ContentType    string
	ConversationID string
	AccessLevel    string
	ExpiresInHours int
}

// Transfer is a running upload or download.
type Transfer struct {
	ID        string
	Kind      string
	Name      string
	Milestone Milestone
	StartedAt time.Time
}

// ListedFile is a server record plus whether its key is on this device.
type ListedFile struct {
	dto.VaultFile
	HasKey bool
}

// keyRecord is what the keystore holds per file.
type keyRecord struct {
	Key      []byte `json:"key"`
	Checksum string `json:"checksum"`
	KeyID    string `json:"keyId"`
	Filename string `json:"filename,omitempty"`
}

type Manager struct {
	api    API
	keys   *cryptox.KeyManager
	cipher Cipher
	store  keystore.Store
	sem    *semaphore.Weighted
	log    logging.Logger

	mu        sync.Mutex
	transfers map[string]*Transfer
}

// NewManager runs at most workers encrypt/decrypt jobs at once.
func NewManager(api API, keys *cryptox.KeyManager, cipher Cipher, store keystore.Store, workers int, log logging.Logger) *Manager {
	if workers <= 0 {
		workers = 1
	}
	return &Manager{
		api:       api,
		keys:      keys,
		cipher:    cipher,
		store:     store,
		sem:       semaphore.NewWeighted(int64(workers)),
		log:       log.With("component", "vault"),
		transfers: make(map[string]*Transfer),
	}
}

func (m *Manager) begin(kind, name string) *Transfer {
	t := &Transfer{ID: uuid.NewString(), Kind: kind, Name: name, StartedAt: time.Now()}
	m.mu.Lock()
	m.transfers[t.ID] = t
	m.mu.Unlock()
	return t
}

func (m *Manager) end(t *Transfer) {
	m.mu.Lock()
	delete(m.transfers, t.ID)
	m.mu.Unlock()
}

func (m *Manager) report(ctx context.Context, t *Transfer, fileID string, ms Milestone, fn ProgressFunc) {
	m.mu.Lock()
	t.Milestone = ms
	m.mu.Unlock()

	m.log.Info(ctx, "transfer progress", "transfer_id", t.ID, "file_id", fileID, "milestone", ms.String())
	if fn != nil {
		fn(Progress{TransferID: t.ID, FileID: fileID, Milestone: ms})
	}
}

// Transfers returns the transfers in flight, oldest first.
func (m *Manager) Transfers() []Transfer {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Transfer, 0, len(m.transfers))
	for _, t := range m.transfers {
		out = append(out, *t)
	}
	slices.SortFunc(out, func(a, b Transfer) int { return a.StartedAt.Compare(b.StartedAt) })
	return out
}

// background runs fn off the caller's goroutine, bounded by the worker
// semaphore.
func (m *Manager) background(ctx context.Context, fn func() ([]byte, error)) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := m.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	type result struct {
		b   []byte
		err error
	}
	ch := make(chan result, 1)
	go func() {
		defer m.sem.Release(1)
		b, err := fn()
		ch <- result{b, err}
	}()

	select {
	case r := <-ch:
		return r.b, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Upload encrypts data under a fresh key, uploads the blob and keeps the
// key locally under the new file id.
func (m *Manager) Upload(ctx context.Context, data []byte, meta Metadata, progress ProgressFunc) (*dto.VaultFile, error) {
	if meta.AccessLevel == "" {
		meta.AccessLevel = dto.AccessPrivate
	}
	if meta.ContentType == "" {
		meta.ContentType = "application/octet-stream"
	}

	t := m.begin("upload", meta.Filename)
	defer m.end(t)

	m.report(ctx, t, "", EncryptionStarted, progress)

	key, err := m.keys.GenerateKey()
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(key)

	blob, err := m.background(ctx, func() ([]byte, error) {
		return m.cipher.EncryptBytes(data, key)
	})
	if err != nil {
		return nil, err
	}
	env, err := cryptox.ParseBlob(blob)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrEncryption, err)
	}
	checksum := cryptox.Checksum(blob)
	m.report(ctx, t, "", EncryptionComplete, progress)

	tok, err := m.api.RequestUploadToken(ctx, dto.UploadTokenRequest{
		Filename:           meta.Filename,
		ContentType:        meta.ContentType,
		Size:               int64(len(blob)),
		ConversationID:     meta.ConversationID,
		AccessLevel:        meta.AccessLevel,
		EncryptionMetadata: env.Metadata(),
		ExpiresInHours:     meta.ExpiresInHours,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrUpload, err)
	}

	// the key is saved before the blob leaves so a completed upload is
	// never left without it
	if err := m.saveKey(ctx, tok.FileID, keyRecord{Key: key, Checksum: checksum, KeyID: env.KeyID, Filename: meta.Filename}); err != nil {
		return nil, err
	}

	if err := m.api.Upload(ctx, tok.UploadTarget, tok.Token, blob, checksum); err != nil {
		if rmErr := m.store.Remove(ctx, keystore.VaultFileKey(tok.FileID)); rmErr != nil {
			m.log.Warn(ctx, "failed to drop key of failed upload", "file_id", tok.FileID, "error", rmErr)
		}
		return nil, fmt.Errorf("%w: %w", common.ErrUpload, err)
	}
	m.report(ctx, t, tok.FileID, UploadComplete, progress)

	return &dto.VaultFile{
		ID:                 tok.FileID,
		ConversationID:     meta.ConversationID,
		Filename:           meta.Filename,
		Size:               int64(len(blob)),
		ContentType:        meta.ContentType,
		AccessLevel:        meta.AccessLevel,
		Checksum:           checksum,
		EncryptionMetadata: env.Metadata(),
		CreatedAt:          time.Now().UTC(),
	}, nil
}

// Download fetches and decrypts a file. The checksum of the fetched bytes
// is verified before anything is decrypted.
func (m *Manager) Download(ctx context.Context, fileID string, progress ProgressFunc) ([]byte, error) {
	t := m.begin("download", fileID)
	defer m.end(t)

	rec, err := m.loadKey(ctx, fileID)
	if err != nil && !errors.Is(err, common.ErrorNotFound) {
		return nil, err
	}

	du, err := m.api.GetDownloadURL(ctx, fileID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrDownload, err)
	}
	blob, err := m.api.Download(ctx, du.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrDownload, err)
	}
	m.report(ctx, t, fileID, DownloadComplete, progress)

	if err := verify(blob, du.Checksum, rec); err != nil {
		m.log.Warn(ctx, "checksum mismatch", "transfer_id", t.ID, "file_id", fileID)
		return nil, err
	}

	if rec == nil {
		return nil, fmt.Errorf("file %s: %w", fileID, common.ErrMissingKey)
	}
	defer common.WipeByteArray(rec.Key)

	plain, err := m.background(ctx, func() ([]byte, error) {
		return m.cipher.DecryptBytes(blob, rec.Key)
	})
	if err != nil {
		return nil, err
	}
	m.report(ctx, t, fileID, DecryptionComplete, progress)
	return plain, nil
}

// verify compares the blob with every checksum we have. With none to
// compare against it fails closed.
func verify(blob []byte, serverSum string, rec *keyRecord) error {
	got := cryptox.Checksum(blob)
	checked := false

	if serverSum != "" {
		if serverSum != got {
			return fmt.Errorf("%w: server has %s, got %s", common.ErrChecksumMismatch, serverSum, got)
		}
		checked = true
	}
	if rec != nil && rec.Checksum != "" {
		if rec.Checksum != got {
			return fmt.Errorf("%w: uploaded %s, got %s", common.ErrChecksumMismatch, rec.Checksum, got)
		}
		checked = true
	}
	if !checked {
		return fmt.Errorf("%w: no checksum to verify against", common.ErrChecksumMismatch)
	}
	return nil
}

// Delete removes the server record and the local key. Deleting a file the
// server no longer has is not an error.
func (m *Manager) Delete(ctx context.Context, fileID string) error {
	if err := m.api.DeleteFile(ctx, fileID); err != nil && !errors.Is(err, common.ErrorNotFound) {
		return fmt.Errorf("delete %s: %w", fileID, err)
	}
	return m.store.Remove(ctx, keystore.VaultFileKey(fileID))
}

// List returns the server's files visible to the user.
func (m *Manager) List(ctx context.Context, conversationID string, limit, offset int) ([]ListedFile, error) {
	files, err := m.api.ListFiles(ctx, conversationID, limit, offset)
	if err != nil {
		return nil, err
	}

	out := make([]ListedFile, 0, len(files))
	for _, f := range files {
		_, err := m.store.Get(ctx, keystore.VaultFileKey(f.ID))
		out = append(out, ListedFile{VaultFile: f, HasKey: err == nil})
	}
	return out, nil
}

func (m *Manager) saveKey(ctx context.Context, fileID string, rec keyRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(b)
	return m.store.Set(ctx, keystore.VaultFileKey(fileID), b)
}

func (m *Manager) loadKey(ctx context.Context, fileID string) (*keyRecord, error) {
	b, err := m.store.Get(ctx, keystore.VaultFileKey(fileID))
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(b)

	var rec keyRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, fmt.Errorf("key record for %s: %w", fileID, err)
	}
	if len(rec.Key) != cryptox.KeySize {
		return nil, fmt.Errorf("key record for %s: %w", fileID, common.ErrMissingKey)
	}
	return &rec, nil
}
