package keystore

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/dmitrijs2005/circle/internal/client/repositories/keyvalue"
	"github.com/dmitrijs2005/circle/internal/common"
	"github.com/dmitrijs2005/circle/internal/cryptox"
)

const sealedPrefix = "sealed/"

// sealedRecord binds the value to its key so that rows cannot be swapped.
type sealedRecord struct {
	Key   string `json:"k"`
	Value []byte `json:"v"`
}

// SealedStore encrypts every value with the device unlock key before
// handing it to the keyvalue repository.
type SealedStore struct {
	repo  keyvalue.Repository
	codec *cryptox.Codec

	mu  sync.RWMutex
	key cryptox.Key
}

// NewSealedStore copies unlockKey; the caller may wipe its own copy.
func NewSealedStore(repo keyvalue.Repository, codec *cryptox.Codec, unlockKey cryptox.Key) *SealedStore {
	return &SealedStore{
		repo:  repo,
		codec: codec,
		key:   slices.Clone(unlockKey),
	}
}

func (s *SealedStore) unlockKey() (cryptox.Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.key == nil {
		return nil, fmt.Errorf("keystore is locked: %w", common.ErrorUnauthorized)
	}
	return s.key, nil
}

func (s *SealedStore) Get(ctx context.Context, key string) ([]byte, error) {
	k, err := s.unlockKey()
	if err != nil {
		return nil, err
	}

	blob, err := s.repo.Get(ctx, sealedPrefix+key)
	if err != nil {
		return nil, err
	}
	if blob == nil {
		return nil, common.ErrorNotFound
	}

	plain, err := s.codec.DecryptBytes(blob, k)
	if err != nil {
		return nil, fmt.Errorf("keystore[%s]: %w", key, err)
	}
	defer common.WipeByteArray(plain)

	var rec sealedRecord
	if err := json.Unmarshal(plain, &rec); err != nil || rec.Key != key {
		return nil, fmt.Errorf("keystore[%s]: %w", key, common.ErrDecryption)
	}
	return rec.Value, nil
}

func (s *SealedStore) Set(ctx context.Context, key string, value []byte) error {
	k, err := s.unlockKey()
	if err != nil {
		return err
	}

	plain, err := json.Marshal(sealedRecord{Key: key, Value: value})
	if err != nil {
		return err
	}
	defer common.WipeByteArray(plain)

	blob, err := s.codec.EncryptBytes(plain, k)
	if err != nil {
		return fmt.Errorf("keystore[%s]: %w", key, err)
	}
	return s.repo.Set(ctx, sealedPrefix+key, blob)
}

func (s *SealedStore) Remove(ctx context.Context, key string) error {
	return s.repo.Delete(ctx, sealedPrefix+key)
}

// Keys lists stored keys with the given prefix, sorted. Values are not
// decrypted.
func (s *SealedStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.repo.List(ctx, sealedPrefix+prefix)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(rows))
	for k := range rows {
		out = append(out, strings.TrimPrefix(k, sealedPrefix))
	}
	slices.Sort(out)
	return out, nil
}

// Lock wipes the unlock key. Later calls fail until a new store is built.
func (s *SealedStore) Lock() {
	s.mu.Lock()
	defer s.mu.Unlock()
	common.WipeByteArray(s.key)
	s.key = nil
}
