// Package services contains the application services behind the Circle CLI.
// This file defines the authentication service: online/offline login,
// register, liveness ping, and housekeeping of local (offline) auth data.
package services

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/circle/internal/client/keystore"
	"github.com/dmitrijs2005/circle/internal/client/repositories/keyvalue"
	"github.com/dmitrijs2005/circle/internal/common"
	"github.com/dmitrijs2005/circle/internal/cryptox"
	"github.com/dmitrijs2005/circle/internal/dbx"
	"github.com/dmitrijs2005/circle/internal/dto"
)

// Plain (unsealed) rows needed before the keystore can be unlocked.
const (
	keyUsername = "auth/username"
	keySalt     = "auth/salt"
	keyVerifier = "auth/verifier"
	keyUserID   = "auth/user_id"
)

// AuthClient is the part of the HTTP API the auth service talks to.
type AuthClient interface {
	Register(ctx context.Context, username string, salt, verifier []byte) (string, error)
	GetSalt(ctx context.Context, username string) ([]byte, error)
	Login(ctx context.Context, username string, verifier []byte) (*dto.LoginResponse, error)
	SetAccessToken(token string)
	Ping(ctx context.Context) error
	Close() error
}

// Account is the result of a successful login. Keystore is unlocked with the
// password-derived key and stays usable until Lock is called on it.
type Account struct {
	Username    string
	UserID      string
	AccessToken string
	Keystore    *keystore.SealedStore
}

// AuthService defines authentication operations for the CLI.
//
// Contract:
//   - OnlineLogin: authenticate against the server and persist offline auth data.
//   - OfflineLogin: derive and verify credentials against locally cached data.
//   - Register: create a new user on the server.
//   - Logout: forget the access token and the cached offline credentials.
//
// Sealed secrets (master key, vault file keys) survive Logout; logging in
// again with the same password unlocks them.
type AuthService interface {
	OfflineLogin(ctx context.Context, username string, password []byte) (*Account, error)
	OnlineLogin(ctx context.Context, username string, password []byte) (*Account, error)
	Register(ctx context.Context, username string, password []byte) (string, error)
	Logout(ctx context.Context, acc *Account) error
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
	ClearOfflineData(ctx context.Context) error
}

type authService struct {
	client AuthClient
	db     *sql.DB
	codec  *cryptox.Codec
}

// NewAuthService constructs an AuthService bound to the given API client and
// local database.
func NewAuthService(client AuthClient, db *sql.DB, codec *cryptox.Codec) AuthService {
	return &authService{client: client, db: db, codec: codec}
}

func (a *authService) repo(db dbx.DBTX) keyvalue.Repository {
	return keyvalue.NewSQLiteRepository(db)
}

func (a *authService) readOffline(ctx context.Context, key string) ([]byte, error) {
	v, err := a.repo(a.db).Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, common.ErrLocalDataNotAvailable
	}
	return v, nil
}

// OfflineLogin derives the unlock key from the password and the locally
// cached salt and checks it against the cached verifier. The returned
// account carries the last access token, which may already be expired.
func (a *authService) OfflineLogin(ctx context.Context, username string, password []byte) (*Account, error) {
	savedUsername, err := a.readOffline(ctx, keyUsername)
	if err != nil {
		return nil, err
	}
	if string(savedUsername) != username {
		return nil, common.ErrorUnauthorized
	}

	salt, err := a.readOffline(ctx, keySalt)
	if err != nil {
		return nil, err
	}
	savedVerifier, err := a.readOffline(ctx, keyVerifier)
	if err != nil {
		return nil, err
	}

	unlockKey := cryptox.DeriveMasterKey(password, salt)
	defer common.WipeByteArray(unlockKey)

	if subtle.ConstantTimeCompare(savedVerifier, cryptox.MakeVerifier(unlockKey)) == 0 {
		return nil, common.ErrorUnauthorized
	}

	userID, err := a.readOffline(ctx, keyUserID)
	if err != nil {
		return nil, err
	}

	acc := &Account{
		Username: username,
		UserID:   string(userID),
		Keystore: keystore.NewSealedStore(a.repo(a.db), a.codec, unlockKey),
	}
	token, err := acc.Keystore.Get(ctx, keystore.KeyAccessToken)
	switch {
	case err == nil:
		acc.AccessToken = string(token)
		a.client.SetAccessToken(acc.AccessToken)
	case !isNotFound(err):
		return nil, fmt.Errorf("reading access token: %w", err)
	}
	return acc, nil
}

// OnlineLogin authenticates against the server, saves the offline data and
// the sealed access token, and returns the unlocked account.
func (a *authService) OnlineLogin(ctx context.Context, username string, password []byte) (*Account, error) {
	salt, err := a.client.GetSalt(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("get salt error: %w", err)
	}

	unlockKey := cryptox.DeriveMasterKey(password, salt)
	defer common.WipeByteArray(unlockKey)
	verifier := cryptox.MakeVerifier(unlockKey)

	resp, err := a.client.Login(ctx, username, verifier)
	if err != nil {
		return nil, fmt.Errorf("login error: %w", err)
	}

	if err := a.saveOfflineData(ctx, username, resp.UserID, salt, verifier); err != nil {
		return nil, fmt.Errorf("offline data saving error: %w", err)
	}

	acc := &Account{
		Username:    username,
		UserID:      resp.UserID,
		AccessToken: resp.AccessToken,
		Keystore:    keystore.NewSealedStore(a.repo(a.db), a.codec, unlockKey),
	}
	if err := acc.Keystore.Set(ctx, keystore.KeyAccessToken, []byte(resp.AccessToken)); err != nil {
		return nil, fmt.Errorf("saving access token: %w", err)
	}
	if err := acc.Keystore.Set(ctx, keystore.KeyUserID, []byte(resp.UserID)); err != nil {
		return nil, fmt.Errorf("saving user id: %w", err)
	}
	return acc, nil
}

// saveOfflineData persists the rows needed for offline login in a single
// transaction.
func (a *authService) saveOfflineData(ctx context.Context, username, userID string, salt, verifier []byte) error {
	return dbx.WithTx(ctx, a.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := a.repo(tx)
		for k, v := range map[string][]byte{
			keyUsername: []byte(username),
			keyUserID:   []byte(userID),
			keySalt:     salt,
			keyVerifier: verifier,
		} {
			if err := repo.Set(ctx, k, v); err != nil {
				return err
			}
		}
		return nil
	})
}

// Register creates a new account on the server. It generates a random salt,
// derives the unlock key from the password, and sends only salt and
// verifier.
func (a *authService) Register(ctx context.Context, username string, password []byte) (string, error) {
	salt := common.GenerateRandByteArray(32)
	key := cryptox.DeriveMasterKey(password, salt)
	defer common.WipeByteArray(key)

	return a.client.Register(ctx, username, salt, cryptox.MakeVerifier(key))
}

func (a *authService) Logout(ctx context.Context, acc *Account) error {
	a.client.SetAccessToken("")
	if acc != nil && acc.Keystore != nil {
		if err := acc.Keystore.Remove(ctx, keystore.KeyAccessToken); err != nil {
			return err
		}
		acc.Keystore.Lock()
	}
	return a.ClearOfflineData(ctx)
}

// Ping proxies a liveness check to the underlying client.
func (a *authService) Ping(ctx context.Context) error {
	return a.client.Ping(ctx)
}

// Close releases resources held by the underlying client.
func (a *authService) Close(ctx context.Context) error {
	return a.client.Close()
}

// ClearOfflineData wipes the cached offline credentials.
func (a *authService) ClearOfflineData(ctx context.Context) error {
	return dbx.WithTx(ctx, a.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := a.repo(tx)
		for _, k := range []string{keyUsername, keyUserID, keySalt, keyVerifier} {
			if err := repo.Delete(ctx, k); err != nil {
				return err
			}
		}
		return nil
	})
}
