package health

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/balli/internal/dbx"
)

// Relation declares that every Child.ChildKey must reference an existing
// Parent.ParentKey. Entity is the entity type written when orphans are
// removed.
type Relation struct {
	Name      string
	Entity    string
	Child     string
	ChildKey  string
	Parent    string
	ParentKey string
}

func (r Relation) orphanCond() string {
	return fmt.Sprintf("%[1]s.%[2]s IS NOT NULL AND NOT EXISTS (SELECT 1 FROM %[3]s p WHERE p.%[4]s = %[1]s.%[2]s)",
		r.Child, r.ChildKey, r.Parent, r.ParentKey)
}

// Consistency declares that a child row and the parent it references agree
// on an owner column.
type Consistency struct {
	Name        string
	Entity      string
	Child       string
	ChildKey    string
	ChildOwner  string
	Parent      string
	ParentKey   string
	ParentOwner string
}

func (c Consistency) mismatchCond() string {
	return fmt.Sprintf("EXISTS (SELECT 1 FROM %[3]s p WHERE p.%[4]s = %[1]s.%[2]s AND p.%[5]s <> %[1]s.%[6]s)",
		c.Child, c.ChildKey, c.Parent, c.ParentKey, c.ParentOwner, c.ChildOwner)
}

// CorruptionRule flags rows of Table for which Condition holds.
type CorruptionRule struct {
	Name      string
	Table     string
	Condition string
}

// SizeLimit caps the row count of a table.
type SizeLimit struct {
	Table   string
	MaxRows int64
}

// Rules is the integrity configuration of a store. Table and column names
// are trusted identifiers declared by the application.
type Rules struct {
	Relations   []Relation
	Consistency []Consistency
	Corruption  []CorruptionRule
	Sizes       []SizeLimit
	// MaxBytes caps the database file size; zero disables the check.
	MaxBytes int64
}

// SQLiteInspector runs Rules against a SQLite database.
type SQLiteInspector struct {
	db    dbx.DBTX
	rules Rules
}

func NewSQLiteInspector(db dbx.DBTX, rules Rules) *SQLiteInspector {
	return &SQLiteInspector{db: db, rules: rules}
}

func (s *SQLiteInspector) Rules() Rules { return s.rules }

func (s *SQLiteInspector) Inspect(ctx context.Context) ([]Issue, error) {
	var issues []Issue

	for _, r := range s.rules.Relations {
		n, err := s.count(ctx, r.Child, r.orphanCond())
		if err != nil {
			return nil, fmt.Errorf("relation %s: %w", r.Name, err)
		}
		if n > 0 {
			issues = append(issues, Issue{
				Kind: OrphanedData, Rule: r.Name, Table: r.Child, Count: n,
				Detail: fmt.Sprintf("%d %s rows reference a missing %s", n, r.Child, r.Parent),
			})
		}
	}

	for _, c := range s.rules.Consistency {
		n, err := s.count(ctx, c.Child, c.mismatchCond())
		if err != nil {
			return nil, fmt.Errorf("consistency %s: %w", c.Name, err)
		}
		if n > 0 {
			issues = append(issues, Issue{
				Kind: InconsistentRelationship, Rule: c.Name, Table: c.Child, Count: n,
				Detail: fmt.Sprintf("%d %s rows disagree with %s on %s", n, c.Child, c.Parent, c.ChildOwner),
			})
		}
	}

	for _, c := range s.rules.Corruption {
		n, err := s.count(ctx, c.Table, c.Condition)
		if err != nil {
			return nil, fmt.Errorf("corruption %s: %w", c.Name, err)
		}
		if n > 0 {
			issues = append(issues, Issue{
				Kind: CorruptedData, Rule: c.Name, Table: c.Table, Count: n,
				Detail: fmt.Sprintf("%d %s rows fail %s", n, c.Table, c.Name),
			})
		}
	}

	for _, l := range s.rules.Sizes {
		n, err := s.count(ctx, l.Table, "1=1")
		if err != nil {
			return nil, fmt.Errorf("size %s: %w", l.Table, err)
		}
		if l.MaxRows > 0 && n > l.MaxRows {
			issues = append(issues, Issue{
				Kind: ExcessiveSize, Rule: "rows:" + l.Table, Table: l.Table, Count: n,
				Detail: fmt.Sprintf("%s holds %d rows, limit %d", l.Table, n, l.MaxRows),
			})
		}
	}

	if s.rules.MaxBytes > 0 {
		size, err := s.DatabaseBytes(ctx)
		if err != nil {
			return nil, err
		}
		if size > s.rules.MaxBytes {
			issues = append(issues, Issue{
				Kind: ExcessiveSize, Rule: "bytes", Count: size,
				Detail: fmt.Sprintf("database is %d bytes, limit %d", size, s.rules.MaxBytes),
			})
		}
	}
	return issues, nil
}

func (s *SQLiteInspector) count(ctx context.Context, table, cond string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table+" WHERE "+cond).Scan(&n)
	return n, err
}

// DatabaseBytes returns page_count * page_size.
func (s *SQLiteInspector) DatabaseBytes(ctx context.Context) (int64, error) {
	var pages, pageSize int64
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pages); err != nil {
		return 0, fmt.Errorf("page_count: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err != nil {
		return 0, fmt.Errorf("page_size: %w", err)
	}
	return pages * pageSize, nil
}

var _ Inspector = (*SQLiteInspector)(nil)
