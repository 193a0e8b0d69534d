package dbx

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"

	_ "modernc.org/sqlite"
)

// MemoryDSN opens a private in-memory database.
const MemoryDSN = ":memory:"

// OpenSQLite opens the local store at path with WAL journaling, a busy
// timeout and foreign keys enabled on every pooled connection.
// In-memory databases are limited to one connection so every caller sees
// the same data.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if isMemory(path) {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	} else {
		db.SetMaxOpenConns(4)
		db.SetMaxIdleConns(4)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return db, nil
}

func isMemory(path string) bool {
	return path == MemoryDSN || strings.Contains(path, "mode=memory")
}

func sqliteDSN(path string) string {
	pragmas := []string{"busy_timeout(5000)", "foreign_keys(1)"}
	if !isMemory(path) {
		pragmas = append(pragmas, "journal_mode(WAL)")
	}

	q := url.Values{}
	for _, p := range pragmas {
		q.Add("_pragma", p)
	}

	if path == MemoryDSN {
		return "file::memory:?" + q.Encode()
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	if !strings.HasPrefix(path, "file:") {
		path = "file:" + path
	}
	return path + sep + q.Encode()
}
