// Package config loads runtime configuration for the balli client.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file selected via flags: -c or -config.
//  3. Command-line flags, which override earlier values.
//
// # JSON schema
//
// Durations use timex.Duration, so values can be strings like "15m" or
// integer nanoseconds. Absent keys keep their previous value:
//
//	{
//	  "user_id": "me",
//	  "db_path": "/var/lib/balli/balli.db",
//	  "official": {"url": "https://api.dexcom.com", "client_id": "...", "client_secret": "..."},
//	  "share": {"url": "https://share2.dexcom.com", "account": "me@example.com", "session_ttl": "8h"},
//	  "retention": "2160h",
//	  "gap_threshold": "15m",
//	  "tolerance": 5,
//	  "sync": {"url": "http://127.0.0.1:8080", "retries": 3, "base_delay": "500ms", "timeout": "30s"}
//	}
//
// The Store, Engine, Official, Share, Remote and Logging methods turn the
// flat settings into the configuration types of the components.
package config
