package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dmitrijs2005/balli/internal/flagx"
	"github.com/dmitrijs2005/balli/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling.
type JsonConfig struct {
	ListenAddr    *string         `json:"listen_addr"`
	DatabaseDSN   *string         `json:"database_dsn"`
	SecretKey     *string         `json:"secret_key"`
	TokenValidity *timex.Duration `json:"token_validity"`
	MaxBodyBytes  *int64          `json:"max_body_bytes"`
	LogLevel      *string         `json:"log_level"`
	LogFile       *string         `json:"log_file"`
}

func set[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

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

	set(&cfg.ListenAddr, jc.ListenAddr)
	set(&cfg.DatabaseDSN, jc.DatabaseDSN)
	set(&cfg.SecretKey, jc.SecretKey)
	set(&cfg.MaxBodyBytes, jc.MaxBodyBytes)
	set(&cfg.LogLevel, jc.LogLevel)
	set(&cfg.LogFile, jc.LogFile)
	if jc.TokenValidity != nil {
		cfg.TokenValidity = jc.TokenValidity.Duration
	}
	return nil
}
