// Package credentials keeps tokens and session ids of the remote services
// encrypted in the local metadata table. A Vault holds the key derived from
// the user's passphrase; a Store reads and writes tokens through it.
package credentials

import (
	"context"
	"crypto/subtle"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/balli/internal/client/models"
	"github.com/dmitrijs2005/balli/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/balli/internal/common"
	"github.com/dmitrijs2005/balli/internal/cryptox"
	"github.com/dmitrijs2005/balli/internal/dbx"
	"github.com/dmitrijs2005/balli/internal/persistence/txn"
)

const (
	keySalt     = "vault:salt"
	keyVerifier = "vault:verifier"
	tokenPrefix = "token:"
	saltSize    = 32
)

// Vault derives the encryption key from a passphrase. The first Unlock on
// an empty store initialises salt and verifier; later unlocks must present
// the same passphrase.
type Vault struct {
	db dbx.DBTX
	tm *txn.Manager

	mu  sync.RWMutex
	key []byte
}

func NewVault(db dbx.DBTX, tm *txn.Manager) *Vault {
	return &Vault{db: db, tm: tm}
}

// Initialized reports whether a passphrase was ever set.
func (v *Vault) Initialized(ctx context.Context) (bool, error) {
	salt, err := metadata.NewSQLiteRepository(v.db).Get(ctx, keySalt)
	if err != nil {
		return false, err
	}
	return salt != nil, nil
}

func (v *Vault) Unlock(ctx context.Context, passphrase []byte) error {
	repo := metadata.NewSQLiteRepository(v.db)
	salt, err := repo.Get(ctx, keySalt)
	if err != nil {
		return err
	}
	verifier, err := repo.Get(ctx, keyVerifier)
	if err != nil {
		return err
	}

	if salt == nil || verifier == nil {
		return v.initialize(ctx, passphrase)
	}

	candidate := cryptox.DeriveMasterKey(passphrase, salt)
	if subtle.ConstantTimeCompare(verifier, cryptox.MakeVerifier(candidate)) == 0 {
		common.WipeByteArray(candidate)
		return common.E(common.KindAuth, "vault.unlock", fmt.Errorf("wrong passphrase"))
	}
	v.setKey(candidate)
	return nil
}

func (v *Vault) initialize(ctx context.Context, passphrase []byte) error {
	salt := common.GenerateRandByteArray(saltSize)
	if salt == nil {
		return common.E(common.KindInternal, "vault.init", fmt.Errorf("random source failed"))
	}
	key := cryptox.DeriveMasterKey(passphrase, salt)

	err := v.tm.ExecuteTransaction(ctx, func(ctx context.Context, tx *txn.Tx) error {
		repo := metadata.NewSQLiteRepository(tx.DB())
		if err := repo.Set(ctx, keySalt, salt); err != nil {
			return err
		}
		if err := repo.Set(ctx, keyVerifier, cryptox.MakeVerifier(key)); err != nil {
			return err
		}
		tx.Touch(models.EntityMetadata, keySalt, keyVerifier)
		return nil
	})
	if err != nil {
		common.WipeByteArray(key)
		return fmt.Errorf("initialise vault: %w", err)
	}
	v.setKey(key)
	return nil
}

func (v *Vault) setKey(key []byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	common.WipeByteArray(v.key)
	v.key = key
}

// Lock wipes the key from memory.
func (v *Vault) Lock() { v.setKey(nil) }

func (v *Vault) Unlocked() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.key != nil
}

func (v *Vault) seal(value any) ([]byte, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.key == nil {
		return nil, common.ErrLocked
	}
	return cryptox.SealEntry(value, v.key)
}

func (v *Vault) open(blob []byte, out any) error {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.key == nil {
		return common.ErrLocked
	}
	if err := cryptox.OpenEntry(blob, v.key, out); err != nil {
		return common.E(common.KindCorruption, "vault.open", err)
	}
	return nil
}

// Reset forgets the passphrase and every stored token.
func (v *Vault) Reset(ctx context.Context) error {
	err := v.tm.ExecuteTransaction(ctx, func(ctx context.Context, tx *txn.Tx) error {
		repo := metadata.NewSQLiteRepository(tx.DB())
		if _, err := repo.DeletePrefix(ctx, "vault:"); err != nil {
			return err
		}
		if _, err := repo.DeletePrefix(ctx, tokenPrefix); err != nil {
			return err
		}
		tx.TouchAll(models.EntityMetadata)
		return nil
	})
	if err != nil {
		return err
	}
	v.Lock()
	return nil
}
