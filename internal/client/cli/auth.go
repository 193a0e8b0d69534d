package cli

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/balli/internal/client/models"
	"github.com/dmitrijs2005/balli/internal/common"
)

// Unlock asks for the passphrase and opens the vault. The first unlock of
// a fresh store sets the passphrase.
func (a *App) Unlock(ctx context.Context) error {
	initialized, err := a.vault.Initialized(ctx)
	if err != nil {
		return err
	}

	pass, err := getSecret("Passphrase", a.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(pass)

	if err := a.vault.Unlock(ctx, pass); err != nil {
		return err
	}
	if !initialized {
		a.printf("New vault initialised\n")
	}
	a.log.Info(ctx, "vault unlocked")
	return nil
}

// LoginShare opens a share session. The account comes from args, the
// configuration or a prompt; the password is only kept in memory.
func (a *App) LoginShare(ctx context.Context, args []string) error {
	account := a.cfg.ShareAccount
	if len(args) > 0 {
		account = args[0]
	}
	if account == "" {
		var err error
		if account, err = getSimpleText(a.reader, "Share account", a.out); err != nil {
			return err
		}
	}

	pw, err := getSecret("Share password", a.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(pw)

	if err := a.share.Login(ctx, account, string(pw)); err != nil {
		return err
	}
	a.printf("Share session opened for %s\n", account)
	return nil
}

// SetToken stores a token obtained out of band: an official OAuth token
// pair or a sync server bearer token.
func (a *App) SetToken(ctx context.Context, args []string) error {
	if len(args) != 1 || (args[0] != string(models.ServiceOfficial) && args[0] != string(models.ServiceSync)) {
		a.printf("Usage: token official|sync\n")
		return nil
	}
	tok := models.TokenInfo{Service: models.Service(args[0])}

	var err error
	if tok.AccessToken, err = getSimpleText(a.reader, "Access token", a.out); err != nil {
		return err
	}
	if tok.Service == models.ServiceOfficial {
		if tok.RefreshToken, err = getSimpleText(a.reader, "Refresh token (empty to skip)", a.out); err != nil {
			return err
		}
	}

	if err := a.tokens.StoreToken(ctx, tok); err != nil {
		return err
	}
	a.printf("Stored %s token\n", tok.Service)
	return nil
}

// Logout forgets every stored token and locks the vault.
func (a *App) Logout(ctx context.Context) error {
	if err := a.tokens.ClearAll(ctx); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	a.vault.Lock()
	a.printf("Logged out\n")
	return nil
}
