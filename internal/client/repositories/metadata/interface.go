// Package metadata is a small key/value store in the local database. The
// credential vault keeps its salt, verifier and encrypted tokens here under
// "vault:" and "token:" keys.
package metadata

import "context"

type Repository interface {
	// Get returns (nil, nil) when key is absent.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	// DeletePrefix removes every key starting with prefix and reports how
	// many went away. LIKE wildcards in prefix match literally.
	DeletePrefix(ctx context.Context, prefix string) (int64, error)
}
