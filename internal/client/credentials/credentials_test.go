package credentials

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/dmitrijs2005/balli/internal/client/migrations"
	"github.com/dmitrijs2005/balli/internal/client/models"
	"github.com/dmitrijs2005/balli/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/balli/internal/common"
	"github.com/dmitrijs2005/balli/internal/dbx"
	"github.com/dmitrijs2005/balli/internal/logging"
	"github.com/dmitrijs2005/balli/internal/persistence/txn"
	"github.com/golang-jwt/jwt/v5"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	db    *sql.DB
	tm    *txn.Manager
	vault *Vault
	store *Store
}

func setup(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	db, err := dbx.OpenSQLite(ctx, dbx.MemoryDSN)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, dbx.Migrate(ctx, db, goose.DialectSQLite3, migrations.FS))

	tm := txn.New(db, txn.DefaultConfig(), logging.Nop())
	v := NewVault(db, tm)
	s := NewStore(v, db, tm, logging.Nop(), func() time.Time { return now })
	return fixture{db: db, tm: tm, vault: v, store: s}
}

func TestVault_FirstUnlockInitialises(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	ok, err := f.vault.Initialized(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, f.vault.Unlock(ctx, []byte("correct horse")))
	assert.True(t, f.vault.Unlocked())

	ok, err = f.vault.Initialized(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVault_WrongPassphrase(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	require.NoError(t, f.vault.Unlock(ctx, []byte("correct horse")))
	f.vault.Lock()

	err := f.vault.Unlock(ctx, []byte("battery staple"))
	require.ErrorIs(t, err, common.ErrAuth)
	assert.False(t, f.vault.Unlocked())

	require.NoError(t, f.vault.Unlock(ctx, []byte("correct horse")))
	assert.True(t, f.vault.Unlocked())
}

func TestStore_LockedVaultRefuses(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	err := f.store.StoreToken(ctx, models.TokenInfo{Service: models.ServiceOfficial, AccessToken: "a"})
	require.ErrorIs(t, err, common.ErrLocked)
	assert.True(t, f.store.IsExpired(ctx, models.ServiceOfficial))
}

func TestStore_RoundTripIsEncrypted(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	require.NoError(t, f.vault.Unlock(ctx, []byte("pw")))

	in := models.TokenInfo{
		Service:      models.ServiceOfficial,
		AccessToken:  "access-secret",
		RefreshToken: "refresh-secret",
		Expiry:       now.Add(2 * time.Hour),
	}
	require.NoError(t, f.store.StoreToken(ctx, in))

	got, err := f.store.GetToken(ctx, models.ServiceOfficial)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, in.AccessToken, got.AccessToken)
	assert.Equal(t, in.RefreshToken, got.RefreshToken)
	assert.True(t, in.Expiry.Equal(got.Expiry))

	raw, err := metadata.NewSQLiteRepository(f.db).Get(ctx, "token:official")
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "access-secret")

	missing, err := f.store.GetToken(ctx, models.ServiceShare)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestStore_SurvivesRelock(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	require.NoError(t, f.vault.Unlock(ctx, []byte("pw")))
	require.NoError(t, f.store.StoreToken(ctx, models.TokenInfo{Service: models.ServiceShare, AccessToken: "session"}))

	f.vault.Lock()
	_, err := f.store.GetToken(ctx, models.ServiceShare)
	require.ErrorIs(t, err, common.ErrLocked)

	// новый Vault над той же базой: соль и верификатор уже сохранены
	v2 := NewVault(f.db, f.tm)
	require.NoError(t, v2.Unlock(ctx, []byte("pw")))
	s2 := NewStore(v2, f.db, f.tm, logging.Nop(), nil)
	got, err := s2.GetToken(ctx, models.ServiceShare)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "session", got.AccessToken)
}

func TestStore_IsExpiredHonoursSkew(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	require.NoError(t, f.vault.Unlock(ctx, []byte("pw")))

	tests := []struct {
		name   string
		expiry time.Time
		want   bool
	}{
		{"far future", now.Add(time.Hour), false},
		{"inside skew", now.Add(30 * time.Second), true},
		{"already past", now.Add(-time.Minute), true},
		{"no expiry", time.Time{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, f.store.StoreToken(ctx, models.TokenInfo{
				Service: models.ServiceOfficial, AccessToken: "opaque", Expiry: tt.expiry,
			}))
			assert.Equal(t, tt.want, f.store.IsExpired(ctx, models.ServiceOfficial))
		})
	}

	assert.True(t, f.store.IsExpired(ctx, models.ServiceSync), "absent token counts as expired")
	assert.False(t, f.store.WithSkew(0).IsExpired(ctx, models.ServiceOfficial))
}

func TestStore_ExpiryFromJWT(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	require.NoError(t, f.vault.Unlock(ctx, []byte("pw")))

	exp := now.Add(10 * time.Minute).Truncate(time.Second)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("somebody else's key"))
	require.NoError(t, err)

	require.NoError(t, f.store.StoreToken(ctx, models.TokenInfo{Service: models.ServiceSync, AccessToken: signed}))

	got, err := f.store.GetToken(ctx, models.ServiceSync)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, exp.Equal(got.Expiry), "got %v", got.Expiry)
}

func TestStore_RejectsEmptyToken(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	require.NoError(t, f.vault.Unlock(ctx, []byte("pw")))

	err := f.store.StoreToken(ctx, models.TokenInfo{Service: models.ServiceShare})
	require.ErrorIs(t, err, common.ErrValidation)
}

func TestStore_ClearAndClearAll(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	require.NoError(t, f.vault.Unlock(ctx, []byte("pw")))

	for _, s := range models.Services {
		require.NoError(t, f.store.StoreToken(ctx, models.TokenInfo{Service: s, AccessToken: "t-" + string(s)}))
	}

	require.NoError(t, f.store.Clear(ctx, models.ServiceShare))
	got, err := f.store.GetToken(ctx, models.ServiceShare)
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = f.store.GetToken(ctx, models.ServiceOfficial)
	require.NoError(t, err)
	require.NotNil(t, got)

	require.NoError(t, f.store.ClearAll(ctx))
	for _, s := range models.Services {
		got, err := f.store.GetToken(ctx, s)
		require.NoError(t, err)
		assert.Nil(t, got, s)
	}

	// пароль хранилища остаётся
	ok, err := f.vault.Initialized(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVault_ResetForgetsEverything(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	require.NoError(t, f.vault.Unlock(ctx, []byte("pw")))
	require.NoError(t, f.store.StoreToken(ctx, models.TokenInfo{Service: models.ServiceShare, AccessToken: "x"}))

	require.NoError(t, f.vault.Reset(ctx))
	assert.False(t, f.vault.Unlocked())

	ok, err := f.vault.Initialized(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	// после сброса подходит любой новый пароль
	require.NoError(t, f.vault.Unlock(ctx, []byte("another")))
	got, err := f.store.GetToken(ctx, models.ServiceShare)
	require.NoError(t, err)
	assert.Nil(t, got)
}
