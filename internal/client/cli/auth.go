package cli

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/dmitrijs2005/circle/internal/client/services"
	"github.com/dmitrijs2005/circle/internal/common"
)

// getSimpleText and getPassword are indirections used to facilitate testing.
// They point to interactive input helpers and can be swapped in tests.
var getSimpleText = GetSimpleText
var getPassword = GetPassword

// Register prompts for a username and password and creates the account.
// The password byte slice is wiped before returning.
func (a *App) Register(ctx context.Context) error {
	userName, err := getSimpleText(a.reader, "Enter username", os.Stdout)
	if err != nil {
		return err
	}

	password, err := getPassword(os.Stdout)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	userID, err := a.authService.Register(ctx, userName, password)
	if err != nil {
		return err
	}

	printlnFn(fmt.Sprintf("Success! Your user id is %s", userID))
	return nil
}

// Login prompts the user for credentials and tries to authenticate.
//
// The method first attempts an online login. If the server is unavailable
// (errors.Is(err, common.ErrUnavailable)), it falls back to offline login.
// The resulting Mode is:
//   - ModeOnline if online login succeeds,
//   - ModeOffline if offline login succeeds,
//   - ModeDisabled if both fail.
//
// Offline, the vault keys and message history already on the device are
// usable but nothing reaches the server.
func (a *App) Login(ctx context.Context) error {
	userName, err := getSimpleText(a.reader, "Enter username", os.Stdout)
	if err != nil {
		return err
	}

	password, err := getPassword(os.Stdout)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	var (
		acc  *services.Account
		mode Mode
	)

	acc, err = a.authService.OnlineLogin(ctx, userName, password)
	if err != nil {
		if !errors.Is(err, common.ErrUnavailable) {
			log.Printf("Login unsuccessfull: %s", err.Error())
			return err
		}
		log.Printf("Server unavailable, trying offline login...")
		acc, err = a.authService.OfflineLogin(ctx, userName, password)
		if err != nil {
			log.Printf("Offline login unsuccessfull: %s", err.Error())
			a.setMode(ModeDisabled)
			return err
		}
		log.Printf("Offline login successfull")
		mode = ModeOffline
	} else {
		log.Printf("Login successfull")
		mode = ModeOnline
	}

	a.setMode(mode)
	return a.unlock(ctx, acc)
}

// Logout stops messaging, forgets the access token and cached credentials
// and locks the keystore.
func (a *App) Logout(ctx context.Context) error {
	a.stopMessaging()

	a.mu.Lock()
	acc := a.account
	a.mu.Unlock()

	if err := a.authService.Logout(ctx, acc); err != nil {
		return err
	}

	a.mu.Lock()
	a.account, a.userName, a.masterKey, a.vault = nil, "", nil, nil
	a.mu.Unlock()
	return nil
}
