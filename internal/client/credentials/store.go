package credentials

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/balli/internal/client/models"
	"github.com/dmitrijs2005/balli/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/balli/internal/common"
	"github.com/dmitrijs2005/balli/internal/dbx"
	"github.com/dmitrijs2005/balli/internal/logging"
	"github.com/dmitrijs2005/balli/internal/persistence/txn"
	"github.com/dmitrijs2005/balli/internal/timex"
	"github.com/golang-jwt/jwt/v5"
)

// DefaultExpirySkew treats tokens as expired this long before their expiry.
const DefaultExpirySkew = 60 * time.Second

// Store keeps one token per service, encrypted with the vault key.
type Store struct {
	vault *Vault
	db    dbx.DBTX
	tm    *txn.Manager
	log   logging.Logger
	now   timex.Clock
	skew  time.Duration
}

func NewStore(vault *Vault, db dbx.DBTX, tm *txn.Manager, log logging.Logger, clock timex.Clock) *Store {
	return &Store{vault: vault, db: db, tm: tm, log: log, now: clock, skew: DefaultExpirySkew}
}

// WithSkew returns a copy of s using a different expiry skew.
func (s *Store) WithSkew(d time.Duration) *Store {
	c := *s
	c.skew = d
	return &c
}

func tokenKey(service models.Service) string { return tokenPrefix + string(service) }

// GetToken returns the stored token of service, or nil when there is none.
func (s *Store) GetToken(ctx context.Context, service models.Service) (*models.TokenInfo, error) {
	blob, err := metadata.NewSQLiteRepository(s.db).Get(ctx, tokenKey(service))
	if err != nil {
		return nil, err
	}
	if blob == nil {
		return nil, nil
	}
	var tok models.TokenInfo
	if err := s.vault.open(blob, &tok); err != nil {
		return nil, err
	}
	return &tok, nil
}

// StoreToken encrypts and saves tok under tok.Service, replacing any
// previous token. A missing expiry is taken from the exp claim when the
// access token is a JWT.
func (s *Store) StoreToken(ctx context.Context, tok models.TokenInfo) error {
	if tok.Service == "" || tok.AccessToken == "" {
		return common.E(common.KindValidation, "credentials.store", fmt.Errorf("service and access token are required"))
	}
	if tok.Expiry.IsZero() {
		tok.Expiry = jwtExpiry(tok.AccessToken)
	}

	blob, err := s.vault.seal(tok)
	if err != nil {
		return err
	}
	return s.tm.ExecuteTransaction(ctx, func(ctx context.Context, tx *txn.Tx) error {
		if err := metadata.NewSQLiteRepository(tx.DB()).Set(ctx, tokenKey(tok.Service), blob); err != nil {
			return err
		}
		tx.Touch(models.EntityMetadata, tokenKey(tok.Service))
		return nil
	})
}

// jwtExpiry reads exp without verifying the signature; the token belongs
// to someone else and only its lifetime matters here.
func jwtExpiry(token string) time.Time {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	if claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time.UTC()
}

// IsExpired is true when no token is stored, or when it expires within the
// skew. A locked vault or unreadable token also counts as expired, so the
// caller re-authenticates.
func (s *Store) IsExpired(ctx context.Context, service models.Service) bool {
	tok, err := s.GetToken(ctx, service)
	if err != nil {
		if !errors.Is(err, common.ErrLocked) {
			s.log.Warn(ctx, "stored token unreadable", "service", service, "error", err)
		}
		return true
	}
	if tok == nil {
		return true
	}
	return tok.ExpiresWithin(s.now.Now(), s.skew)
}

// Clear removes the token of one service, for example after an
// unrecoverable authentication failure.
func (s *Store) Clear(ctx context.Context, service models.Service) error {
	return s.tm.ExecuteTransaction(ctx, func(ctx context.Context, tx *txn.Tx) error {
		if err := metadata.NewSQLiteRepository(tx.DB()).Delete(ctx, tokenKey(service)); err != nil {
			return err
		}
		tx.Touch(models.EntityMetadata, tokenKey(service))
		return nil
	})
}

// ClearAll removes every stored token. The vault passphrase stays.
func (s *Store) ClearAll(ctx context.Context) error {
	return s.tm.ExecuteTransaction(ctx, func(ctx context.Context, tx *txn.Tx) error {
		n, err := metadata.NewSQLiteRepository(tx.DB()).DeletePrefix(ctx, tokenPrefix)
		if err != nil {
			return err
		}
		tx.TouchAll(models.EntityMetadata)
		s.log.Info(ctx, "credentials cleared", "tokens", n)
		return nil
	})
}
