package health

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/balli/internal/persistence/query"
	"github.com/dmitrijs2005/balli/internal/persistence/txn"
	"github.com/dmitrijs2005/balli/internal/timex"
)

// Fixers below write through the transaction manager so every change
// reaches its commit observers and the cache stays coherent.

// OrphanCleanup deletes rows whose parent is missing.
func OrphanCleanup(tm *txn.Manager, relations []Relation) Fixer {
	byName := make(map[string]Relation, len(relations))
	for _, r := range relations {
		byName[r.Name] = r
	}
	return func(ctx context.Context, issue Issue) (int64, error) {
		r, ok := byName[issue.Rule]
		if !ok {
			return 0, fmt.Errorf("unknown relation %q", issue.Rule)
		}
		return exec(ctx, tm, r.Entity, "DELETE FROM "+r.Child+" WHERE "+r.orphanCond())
	}
}

// RelationshipRepair copies the owner column from the parent onto children
// that disagree with it.
func RelationshipRepair(tm *txn.Manager, rules []Consistency) Fixer {
	byName := make(map[string]Consistency, len(rules))
	for _, c := range rules {
		byName[c.Name] = c
	}
	return func(ctx context.Context, issue Issue) (int64, error) {
		c, ok := byName[issue.Rule]
		if !ok {
			return 0, fmt.Errorf("unknown consistency rule %q", issue.Rule)
		}
		stmt := fmt.Sprintf("UPDATE %[1]s SET %[2]s = (SELECT p.%[3]s FROM %[4]s p WHERE p.%[5]s = %[1]s.%[6]s) WHERE %[7]s",
			c.Child, c.ChildOwner, c.ParentOwner, c.Parent, c.ParentKey, c.ChildKey, c.mismatchCond())
		return exec(ctx, tm, c.Entity, stmt)
	}
}

// Retention names a time column of an entity whose rows expire.
type Retention struct {
	Schema query.Schema
	Column string
}

// SizeReduction purges rows older than keep from every target. It runs for
// any size issue, since the purge is what shrinks the store.
func SizeReduction(tm *txn.Manager, targets []Retention, keep time.Duration, clock timex.Clock) Fixer {
	return func(ctx context.Context, _ Issue) (int64, error) {
		cutoff := clock.Now().Add(-keep)
		var total int64
		for _, t := range targets {
			n, err := tm.BatchDelete(ctx, t.Schema, query.Where(t.Column, query.Lt, cutoff))
			if err != nil {
				return total, fmt.Errorf("purge %s: %w", t.Schema.Table, err)
			}
			total += n
		}
		return total, nil
	}
}

func exec(ctx context.Context, tm *txn.Manager, entity, stmt string) (int64, error) {
	return txn.Execute(ctx, tm, func(ctx context.Context, tx *txn.Tx) (int64, error) {
		res, err := tx.DB().ExecContext(ctx, stmt)
		if err != nil {
			return 0, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		if n > 0 {
			tx.TouchAll(entity)
		}
		return n, nil
	})
}
