// Package keystore holds secrets on the device: the messaging master key,
// the access token and per-file vault keys. Values never leave the store in
// plaintext form except through Get.
package keystore

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/dmitrijs2005/circle/internal/common"
)

// Well-known keys.
const (
	KeyMasterKey    = "master_key"
	KeyAccessToken  = "access_token"
	KeyUserID       = "user_id"
	VaultFilePrefix = "vault/file/"
)

// VaultFileKey is the key under which a file's decryption record is kept.
func VaultFileKey(fileID string) string {
	return VaultFilePrefix + fileID
}

// Store is a secure key-value store. Get returns common.ErrorNotFound for
// a missing key; Remove of a missing key is not an error.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
}

// MemoryStore keeps values in process memory. It is used by tests and by
// sessions that should leave nothing on disk.
type MemoryStore struct {
	mu sync.RWMutex
	m  map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{m: make(map[string][]byte)}
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.m[key]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return slices.Clone(v), nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.m[key] = slices.Clone(value)
	return nil
}

func (s *MemoryStore) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v, ok := s.m[key]; ok {
		common.WipeByteArray(v)
		delete(s.m, key)
	}
	return nil
}

// Keys lists stored keys with the given prefix, sorted.
func (s *MemoryStore) Keys(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []string
	for _, k := range slices.Sorted(maps.Keys(s.m)) {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out, nil
}
