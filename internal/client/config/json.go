package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dmitrijs2005/balli/internal/flagx"
	"github.com/dmitrijs2005/balli/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. Pointer
// fields distinguish "absent" from a zero value, so a file only overrides
// what it names.
type JsonConfig struct {
	UserID   *string `json:"user_id"`
	DBPath   *string `json:"db_path"`
	LogLevel *string `json:"log_level"`
	LogFile  *string `json:"log_file"`

	Official *struct {
		URL          *string `json:"url"`
		ClientID     *string `json:"client_id"`
		ClientSecret *string `json:"client_secret"`
		RedirectURI  *string `json:"redirect_uri"`
	} `json:"official"`

	Share *struct {
		URL        *string         `json:"url"`
		AppID      *string         `json:"application_id"`
		Account    *string         `json:"account"`
		SessionTTL *timex.Duration `json:"session_ttl"`
	} `json:"share"`

	SourceRate   *float64        `json:"source_rate"`
	FetchTimeout *timex.Duration `json:"fetch_timeout"`
	Retention    *timex.Duration `json:"retention"`
	GapThreshold *timex.Duration `json:"gap_threshold"`
	Tolerance    *int            `json:"tolerance"`

	QueryCacheSize   *int     `json:"query_cache_size"`
	EntityCacheSize  *int     `json:"entity_cache_size"`
	HitRateThreshold *float64 `json:"hit_rate_threshold"`
	BatchSize        *int     `json:"batch_size"`
	ParallelLimit    *int     `json:"parallel_limit"`
	HealthHistory    *int     `json:"health_history"`
	MaxReadings      *int64   `json:"max_readings"`
	MaxBytes         *int64   `json:"max_bytes"`

	Sync *struct {
		URL       *string         `json:"url"`
		Retries   *uint64         `json:"retries"`
		BaseDelay *timex.Duration `json:"base_delay"`
		Timeout   *timex.Duration `json:"timeout"`
	} `json:"sync"`
}

func set[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

func setDuration(dst *time.Duration, src *timex.Duration) {
	if src != nil {
		*dst = src.Duration
	}
}

// parseJSON overlays cfg with the file named by -c/-config in args. No
// file flag means no changes.
func parseJSON(cfg *Config, args []string) error {
	path := flagx.ConfigPath(args)
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	var jc JsonConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	set(&cfg.UserID, jc.UserID)
	set(&cfg.DBPath, jc.DBPath)
	set(&cfg.LogLevel, jc.LogLevel)
	set(&cfg.LogFile, jc.LogFile)

	if o := jc.Official; o != nil {
		set(&cfg.OfficialURL, o.URL)
		set(&cfg.OfficialClientID, o.ClientID)
		set(&cfg.OfficialClientSecret, o.ClientSecret)
		set(&cfg.OfficialRedirectURI, o.RedirectURI)
	}
	if s := jc.Share; s != nil {
		set(&cfg.ShareURL, s.URL)
		set(&cfg.ShareAppID, s.AppID)
		set(&cfg.ShareAccount, s.Account)
		setDuration(&cfg.ShareSessionTTL, s.SessionTTL)
	}

	set(&cfg.SourceRate, jc.SourceRate)
	set(&cfg.Tolerance, jc.Tolerance)
	setDuration(&cfg.FetchTimeout, jc.FetchTimeout)
	setDuration(&cfg.Retention, jc.Retention)
	setDuration(&cfg.GapThreshold, jc.GapThreshold)

	set(&cfg.QueryCacheSize, jc.QueryCacheSize)
	set(&cfg.EntityCacheSize, jc.EntityCacheSize)
	set(&cfg.HitRateThreshold, jc.HitRateThreshold)
	set(&cfg.BatchSize, jc.BatchSize)
	set(&cfg.ParallelLimit, jc.ParallelLimit)
	set(&cfg.HealthHistory, jc.HealthHistory)
	set(&cfg.MaxReadings, jc.MaxReadings)
	set(&cfg.MaxBytes, jc.MaxBytes)

	if s := jc.Sync; s != nil {
		set(&cfg.SyncURL, s.URL)
		set(&cfg.SyncRetries, s.Retries)
		setDuration(&cfg.SyncBaseDelay, s.BaseDelay)
		setDuration(&cfg.SyncTimeout, s.Timeout)
	}
	return nil
}
