package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/dmitrijs2005/balli/internal/client/config"
	"github.com/dmitrijs2005/balli/internal/client/credentials"
	"github.com/dmitrijs2005/balli/internal/client/reconcile"
	"github.com/dmitrijs2005/balli/internal/client/sources"
	"github.com/dmitrijs2005/balli/internal/client/store"
	"github.com/dmitrijs2005/balli/internal/client/syncer"
	"github.com/dmitrijs2005/balli/internal/logging"
	"github.com/dmitrijs2005/balli/internal/metrics"
	"github.com/dmitrijs2005/balli/internal/persistence"
	"github.com/dmitrijs2005/balli/internal/timex"
	"github.com/prometheus/client_golang/prometheus"
)

// App is the composition root of the client: one store, the credential
// vault, both source adapters, the reconciliation engine and the sync
// coordinator.
type App struct {
	cfg *config.Config
	log logging.Logger
	now timex.Clock

	registry *prometheus.Registry
	store    *store.Store
	vault    *credentials.Vault
	tokens   *credentials.Store
	share    *sources.ShareAdapter
	engine   *reconcile.Engine
	syncer   *syncer.Coordinator

	reader *bufio.Reader
	out    io.Writer
}

// Deps overrides the process-level collaborators of an App.
type Deps struct {
	HTTPClient *http.Client
	Clock      timex.Clock
	In         io.Reader
	Out        io.Writer
}

func NewApp(ctx context.Context, cfg *config.Config, log logging.Logger, deps Deps) (*App, error) {
	if deps.In == nil {
		deps.In = os.Stdin
	}
	if deps.Out == nil {
		deps.Out = os.Stdout
	}

	reg := prometheus.NewRegistry()
	m := metrics.NewCollector(reg)

	st, err := store.Open(ctx, cfg.Store(), log.With("component", "store"), deps.Clock, persistence.WithMetrics(m))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	vault := credentials.NewVault(st.DB(), st.Tx)
	tokens := credentials.NewStore(vault, st.DB(), st.Tx, log.With("component", "credentials"), deps.Clock)

	opts := sources.Options{
		HTTPClient:    deps.HTTPClient,
		RatePerSecond: cfg.SourceRate,
		Clock:         deps.Clock,
		Metrics:       m,
		Log:           log.With("component", "sources"),
	}
	official := sources.NewOfficialAdapter(cfg.Official(), tokens, opts)
	share := sources.NewShareAdapter(cfg.Share(), tokens, opts)

	engine := reconcile.NewEngine(official, share, st.Core, cfg.Engine(), log.With("component", "reconcile"),
		reconcile.WithMetrics(m), reconcile.WithClock(deps.Clock))

	remote := syncer.NewHTTPRemote(cfg.Remote(), deps.HTTPClient, tokens, log.With("component", "remote"),
		syncer.WithRemoteMetrics(m))
	coord := syncer.NewCoordinator(remote, st.Core, syncer.DefaultConfig(), log.With("component", "sync"),
		syncer.WithMetrics(m), syncer.WithClock(deps.Clock))

	return &App{
		cfg:      cfg,
		log:      log,
		now:      deps.Clock,
		registry: reg,
		store:    st,
		vault:    vault,
		tokens:   tokens,
		share:    share,
		engine:   engine,
		syncer:   coord,
		reader:   bufio.NewReader(deps.In),
		out:      deps.Out,
	}, nil
}

// Run shows the prompt until the user exits or input ends.
func (a *App) Run(ctx context.Context) {
	a.printf("balli (type 'help' for commands)\n")
	runREPL(ctx, a, a.status, a.reader)
}

func (a *App) Close() error {
	a.vault.Lock()
	return a.store.Close()
}

// Registry exposes the metrics of this App.
func (a *App) Registry() *prometheus.Registry { return a.registry }

func (a *App) isUnlocked() bool {
	return a.vault.Unlocked()
}

func (a *App) status() string {
	state := "locked"
	if a.isUnlocked() {
		state = "unlocked"
	}
	return fmt.Sprintf("(%s %s)", a.cfg.UserID, state)
}

func (a *App) printf(format string, args ...any) {
	fmt.Fprintf(a.out, format, args...)
}
