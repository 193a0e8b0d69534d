package config

import (
	"time"

	"github.com/dmitrijs2005/balli/internal/client/reconcile"
	"github.com/dmitrijs2005/balli/internal/client/sources"
	"github.com/dmitrijs2005/balli/internal/client/store"
	"github.com/dmitrijs2005/balli/internal/client/syncer"
	"github.com/dmitrijs2005/balli/internal/logging"
	"github.com/dmitrijs2005/balli/internal/persistence"
)

// Config holds runtime settings of the balli client.
type Config struct {
	UserID   string
	DBPath   string
	LogLevel string
	LogFile  string

	OfficialURL          string
	OfficialClientID     string
	OfficialClientSecret string
	OfficialRedirectURI  string

	ShareURL        string
	ShareAppID      string
	ShareAccount    string
	ShareSessionTTL time.Duration

	// SourceRate is the request rate per source, per second.
	SourceRate   float64
	FetchTimeout time.Duration

	Retention    time.Duration
	GapThreshold time.Duration
	Tolerance    int

	QueryCacheSize   int
	EntityCacheSize  int
	HitRateThreshold float64
	BatchSize        int
	ParallelLimit    int
	HealthHistory    int
	MaxReadings      int64
	MaxBytes         int64

	SyncURL       string
	SyncRetries   uint64
	SyncBaseDelay time.Duration
	SyncTimeout   time.Duration
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	st := store.DefaultConfig()
	eng := reconcile.DefaultConfig()
	rem := syncer.DefaultRemoteConfig()

	c.UserID = "me"
	c.DBPath = "balli.db"
	c.LogLevel = "info"
	c.LogFile = "balli.log"

	c.OfficialURL = "https://api.dexcom.com"
	c.ShareURL = "https://share2.dexcom.com"
	c.ShareAppID = "d89443d2-327c-4a6f-89e5-496bbb0317db"
	c.ShareSessionTTL = 8 * time.Hour

	c.SourceRate = 1
	c.FetchTimeout = eng.FetchTimeout

	c.Retention = eng.Retention
	c.GapThreshold = eng.GapThreshold
	c.Tolerance = eng.Tolerance

	c.QueryCacheSize = st.Persistence.Cache.QueryCapacity
	c.EntityCacheSize = st.Persistence.Cache.EntityCapacity
	c.HitRateThreshold = st.Persistence.Cache.HitRateThreshold
	c.BatchSize = st.Persistence.Txn.BatchSize
	c.ParallelLimit = st.Persistence.Txn.ParallelLimit
	c.HealthHistory = st.Persistence.Health.HistorySize
	c.MaxReadings = st.MaxReadings
	c.MaxBytes = st.MaxBytes

	c.SyncURL = "http://127.0.0.1:8080"
	c.SyncRetries = rem.MaxRetries
	c.SyncBaseDelay = rem.BaseDelay
	c.SyncTimeout = rem.Timeout
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig(args []string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if err := parseJSON(cfg, args); err != nil {
		return nil, err
	}
	if err := parseFlags(cfg, args); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Store() store.Config {
	st := store.DefaultConfig()
	st.Path = c.DBPath
	st.Retention = c.Retention
	st.MaxReadings = c.MaxReadings
	st.MaxBytes = c.MaxBytes

	p := persistence.DefaultConfig()
	p.Cache.QueryCapacity = c.QueryCacheSize
	p.Cache.EntityCapacity = c.EntityCacheSize
	p.Cache.HitRateThreshold = c.HitRateThreshold
	p.Txn.BatchSize = c.BatchSize
	p.Txn.ParallelLimit = c.ParallelLimit
	p.Health.HistorySize = c.HealthHistory
	st.Persistence = p
	return st
}

func (c *Config) Engine() reconcile.Config {
	return reconcile.Config{
		Tolerance:    c.Tolerance,
		GapThreshold: c.GapThreshold,
		Retention:    c.Retention,
		FetchTimeout: c.FetchTimeout,
	}
}

func (c *Config) Official() sources.OfficialConfig {
	return sources.OfficialConfig{
		BaseURL:      c.OfficialURL,
		ClientID:     c.OfficialClientID,
		ClientSecret: c.OfficialClientSecret,
		RedirectURI:  c.OfficialRedirectURI,
	}
}

func (c *Config) Share() sources.ShareConfig {
	return sources.ShareConfig{BaseURL: c.ShareURL, ApplicationID: c.ShareAppID, SessionTTL: c.ShareSessionTTL}
}

func (c *Config) Remote() syncer.RemoteConfig {
	return syncer.RemoteConfig{
		BaseURL:    c.SyncURL,
		MaxRetries: c.SyncRetries,
		BaseDelay:  c.SyncBaseDelay,
		Timeout:    c.SyncTimeout,
	}
}

func (c *Config) Logging() logging.Options {
	return logging.Options{Level: c.LogLevel, File: c.LogFile, MaxSizeMB: 10, MaxBackups: 3, MaxAgeDays: 28}
}
