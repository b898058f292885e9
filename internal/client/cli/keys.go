package cli

import (
	"context"

	"github.com/dmitrijs2005/circle/internal/client/services"
)

func (a *App) masterKeys() (*services.MasterKeys, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.masterKey == nil {
		return nil, errNotLoggedIn
	}
	return a.masterKey, nil
}

// Key manages the shared messaging secret:
//
//	key new           generate a secret for a new circle
//	key import <hex>  join a circle with a secret received out of band
//	key export        print the secret to share it
func (a *App) Key(ctx context.Context, args []string) error {
	mk, err := a.masterKeys()
	if err != nil {
		return err
	}
	if len(args) == 0 {
		return usageError("key new | key import <hex> | key export")
	}

	switch args[0] {
	case "new":
		k, err := mk.Generate(ctx)
		if err != nil {
			return err
		}
		printlnFn("New master key generated. Share it with 'key export'.")
		return a.startMessaging(ctx, k)
	case "import":
		if len(args) != 2 {
			return usageError("key import <hex>")
		}
		k, err := mk.Import(ctx, args[1])
		if err != nil {
			return err
		}
		printlnFn("Master key imported.")
		return a.startMessaging(ctx, k)
	case "export":
		hex, err := mk.Export(ctx)
		if err != nil {
			return err
		}
		printlnFn(hex)
		return nil
	default:
		return usageError("key new | key import <hex> | key export")
	}
}
