package services

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/circle/internal/client/keystore"
	"github.com/dmitrijs2005/circle/internal/common"
	"github.com/dmitrijs2005/circle/internal/cryptox"
)

// ErrNoMasterKey is returned when the device has no messaging master key yet.
var ErrNoMasterKey = errors.New("no master key on this device, generate or import one")

// MasterKeys manages the shared messaging master secret. Every member of a
// circle imports the same secret; conversation keys are derived from it.
type MasterKeys struct {
	keys  *cryptox.KeyManager
	store keystore.Store
}

func NewMasterKeys(keys *cryptox.KeyManager, store keystore.Store) *MasterKeys {
	return &MasterKeys{keys: keys, store: store}
}

// Load returns the stored master key or ErrNoMasterKey.
func (m *MasterKeys) Load(ctx context.Context) (cryptox.Key, error) {
	v, err := m.store.Get(ctx, keystore.KeyMasterKey)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNoMasterKey
		}
		return nil, err
	}
	if len(v) != cryptox.KeySize {
		return nil, fmt.Errorf("stored master key: %w", common.ErrDecryption)
	}
	return cryptox.Key(v), nil
}

// Generate creates and stores a fresh master key, replacing any existing one.
func (m *MasterKeys) Generate(ctx context.Context) (cryptox.Key, error) {
	k, err := m.keys.GenerateKey()
	if err != nil {
		return nil, err
	}
	if err := m.store.Set(ctx, keystore.KeyMasterKey, k); err != nil {
		return nil, err
	}
	return k, nil
}

// Import stores a master key given in hex form.
func (m *MasterKeys) Import(ctx context.Context, encoded string) (cryptox.Key, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("%w: master key must be hex", common.ErrInvalidRequest)
	}
	if len(raw) != cryptox.KeySize {
		return nil, fmt.Errorf("%w: master key must be %d bytes, got %d", common.ErrInvalidRequest, cryptox.KeySize, len(raw))
	}
	if err := m.store.Set(ctx, keystore.KeyMasterKey, raw); err != nil {
		return nil, err
	}
	return cryptox.Key(raw), nil
}

// Export returns the stored master key in hex form, for sharing with other
// members out of band.
func (m *MasterKeys) Export(ctx context.Context) (string, error) {
	k, err := m.Load(ctx)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(k), nil
}

func isNotFound(err error) bool {
	return errors.Is(err, common.ErrorNotFound)
}
