// Package server wires the sync server: PostgreSQL storage with goose
// migrations, the records service, the chi router and graceful shutdown.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dmitrijs2005/balli/internal/dbx"
	"github.com/dmitrijs2005/balli/internal/logging"
	"github.com/dmitrijs2005/balli/internal/metrics"
	"github.com/dmitrijs2005/balli/internal/server/api"
	"github.com/dmitrijs2005/balli/internal/server/auth"
	"github.com/dmitrijs2005/balli/internal/server/config"
	"github.com/dmitrijs2005/balli/internal/server/migrations"
	"github.com/dmitrijs2005/balli/internal/server/records"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	config *config.Config
	logger logging.Logger
	db     *sql.DB
	server *http.Server
}

// NewApp opens the database, applies migrations and builds the HTTP
// server. It does not start listening.
func NewApp(ctx context.Context, cfg *config.Config, logger logging.Logger) (*App, error) {
	db, err := sql.Open("pgx", cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}
	if err := dbx.Migrate(ctx, db, goose.DialectPostgres, migrations.FS); err != nil {
		_ = db.Close()
		return nil, err
	}

	return newApp(cfg, logger, db), nil
}

func newApp(cfg *config.Config, logger logging.Logger, db *sql.DB) *App {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewDBStatsCollector(db, "balli"))

	svc := records.NewService(db, logger, metrics.NewCollector(reg))
	router := api.NewRouter(api.RouterDeps{
		Service:      svc,
		SecretKey:    []byte(cfg.SecretKey),
		Gatherer:     reg,
		Logger:       logger,
		MaxBodyBytes: cfg.MaxBodyBytes,
	})

	return &App{
		config: cfg,
		logger: logger,
		db:     db,
		server: &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Run serves until ctx is cancelled, then drains in-flight requests and
// closes the database.
func (app *App) Run(ctx context.Context) error {
	defer app.db.Close()

	errCh := make(chan error, 1)
	go func() {
		app.logger.Info(ctx, "sync server listening", "addr", app.config.ListenAddr)
		if err := app.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	app.logger.Info(ctx, "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return app.server.Shutdown(shutdownCtx)
}

// IssueToken mints a bearer token for userID with the configured validity.
func IssueToken(cfg *config.Config, userID string) (string, error) {
	if userID == "" {
		return "", errors.New("user id is required")
	}
	return auth.GenerateToken(userID, []byte(cfg.SecretKey), cfg.TokenValidity)
}
