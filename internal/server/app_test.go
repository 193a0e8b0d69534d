package server

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/balli/internal/logging"
	"github.com/dmitrijs2005/balli/internal/server/auth"
	"github.com/dmitrijs2005/balli/internal/server/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func TestIssueToken(t *testing.T) {
	cfg := &config.Config{SecretKey: "k", TokenValidity: time.Hour}

	tok, err := IssueToken(cfg, "u1")
	require.NoError(t, err)

	uid, err := auth.GetUserIDFromToken(tok, []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, "u1", uid)

	_, err = IssueToken(cfg, "")
	require.Error(t, err)
}

func TestApp_ServesAndShutsDown(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	mock.ExpectPing()
	mock.ExpectClose()

	cfg := &config.Config{ListenAddr: freeAddr(t), SecretKey: "k", MaxBodyBytes: 1024}
	app := newApp(cfg, logging.Nop(), db)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	var resp *http.Response
	require.Eventually(t, func() bool {
		resp, err = http.Get("http://" + cfg.ListenAddr + "/healthz")
		return err == nil
	}, 2*time.Second, 20*time.Millisecond)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
	require.NoError(t, mock.ExpectationsWereMet())
}
