package services

import (
	"context"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/dmitrijs2005/circle/internal/client/keystore"
	"github.com/dmitrijs2005/circle/internal/common"
	"github.com/dmitrijs2005/circle/internal/cryptox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMasterKeys_GenerateLoadExport(t *testing.T) {
	ctx := context.Background()
	mk := NewMasterKeys(cryptox.NewKeyManager(), keystore.NewMemoryStore())

	_, err := mk.Load(ctx)
	require.ErrorIs(t, err, ErrNoMasterKey)
	_, err = mk.Export(ctx)
	require.ErrorIs(t, err, ErrNoMasterKey)

	k, err := mk.Generate(ctx)
	require.NoError(t, err)
	require.Len(t, k, cryptox.KeySize)

	loaded, err := mk.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, k, loaded)

	exported, err := mk.Export(ctx)
	require.NoError(t, err)
	assert.Equal(t, hex.EncodeToString(k), exported)
}

func TestMasterKeys_Import(t *testing.T) {
	ctx := context.Background()
	store := keystore.NewMemoryStore()
	mk := NewMasterKeys(cryptox.NewKeyManager(), store)

	raw := strings.Repeat("ab", cryptox.KeySize)
	k, err := mk.Import(ctx, " "+raw+"\n")
	require.NoError(t, err)
	assert.Equal(t, raw, hex.EncodeToString(k))

	// another device importing the same secret derives the same keys
	other := NewMasterKeys(cryptox.NewKeyManager(), keystore.NewMemoryStore())
	k2, err := other.Import(ctx, raw)
	require.NoError(t, err)
	km := cryptox.NewKeyManager()
	c1, err := km.DeriveConversationKey(k, "c1")
	require.NoError(t, err)
	c2, err := km.DeriveConversationKey(k2, "c1")
	require.NoError(t, err)
	assert.Equal(t, c1, c2)

	_, err = mk.Import(ctx, "zz")
	assert.ErrorIs(t, err, common.ErrInvalidRequest)
	_, err = mk.Import(ctx, "abcd")
	assert.ErrorIs(t, err, common.ErrInvalidRequest)
}

func TestMasterKeys_CorruptStoredValue(t *testing.T) {
	ctx := context.Background()
	store := keystore.NewMemoryStore()
	require.NoError(t, store.Set(ctx, keystore.KeyMasterKey, []byte("short")))

	_, err := NewMasterKeys(cryptox.NewKeyManager(), store).Load(ctx)
	assert.ErrorIs(t, err, common.ErrDecryption)
}
