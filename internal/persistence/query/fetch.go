package query

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/balli/internal/common"
)

// Sort orders results by one field.
type Sort struct {
	Field string
	Desc  bool
}

func Asc(field string) Sort { return Sort{Field: field} }
func Desc(field string) Sort { return Sort{Field: field, Desc: true} }

// Query is a complete read description.
type Query struct {
	Schema Schema
	Where  Predicate
	Sort   []Sort
	Limit  int
}

// Fingerprint is the canonical cache key of a query: entity type, predicate
// and sort. Equal queries always produce equal fingerprints, independently
// of the order their conditions were added in.
type Fingerprint struct {
	Entity string
	Key    string
}

func (f Fingerprint) String() string { return f.Entity + "|" + f.Key }

func (q Query) Fingerprint() Fingerprint {
	var b strings.Builder
	b.WriteString(q.Where.canonical())
	b.WriteString("|")
	for i, s := range q.Sort {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(s.Field)
		if s.Desc {
			b.WriteString(" desc")
		}
	}
	if q.Limit > 0 {
		b.WriteString("|limit " + strconv.Itoa(q.Limit))
	}
	return Fingerprint{Entity: q.Schema.Entity, Key: b.String()}
}

// Select renders "SELECT columns FROM table WHERE ... ORDER BY ... LIMIT n".
func (q Query) Select(columns ...string) (string, []any, error) {
	for _, c := range columns {
		if _, err := q.Schema.kind(c); err != nil {
			return "", nil, err
		}
	}
	where, args, err := q.Where.Compile(q.Schema)
	if err != nil {
		return "", nil, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s WHERE %s", strings.Join(columns, ", "), q.Schema.Table, where)
	if len(q.Sort) > 0 {
		order := make([]string, 0, len(q.Sort))
		for _, s := range q.Sort {
			if _, err := q.Schema.kind(s.Field); err != nil {
				return "", nil, err
			}
			dir := "ASC"
			if s.Desc {
				dir = "DESC"
			}
			order = append(order, s.Field+" "+dir)
		}
		b.WriteString(" ORDER BY " + strings.Join(order, ", "))
	}
	if q.Limit < 0 {
		return "", nil, common.E(common.KindValidation, "query", fmt.Errorf("negative limit %d", q.Limit))
	}
	if q.Limit > 0 {
		b.WriteString(" LIMIT " + strconv.Itoa(q.Limit))
	}
	return b.String(), args, nil
}

// Set is one column assignment of a batch update.
type Set struct {
	Field string
	Value any
}

// Delete renders a predicate-based DELETE.
func Delete(s Schema, where Predicate) (string, []any, error) {
	cond, args, err := where.Compile(s)
	if err != nil {
		return "", nil, err
	}
	return "DELETE FROM " + s.Table + " WHERE " + cond, args, nil
}

// Update renders a predicate-based UPDATE. At least one assignment is required.
func Update(s Schema, where Predicate, sets []Set) (string, []any, error) {
	if len(sets) == 0 {
		return "", nil, common.E(common.KindValidation, "query", fmt.Errorf("%s: update without assignments", s.Entity))
	}
	assign := make([]string, 0, len(sets))
	args := make([]any, 0, len(sets))
	for _, set := range sets {
		kind, err := s.kind(set.Field)
		if err != nil {
			return "", nil, err
		}
		if set.Value == nil {
			assign = append(assign, set.Field+" = NULL")
			continue
		}
		v, err := Normalize(kind, set.Value)
		if err != nil {
			return "", nil, common.E(common.KindValidation, "query", fmt.Errorf("%s.%s: %w", s.Entity, set.Field, err))
		}
		assign = append(assign, set.Field+" = ?")
		args = append(args, v)
	}

	cond, condArgs, err := where.Compile(s)
	if err != nil {
		return "", nil, err
	}
	return "UPDATE " + s.Table + " SET " + strings.Join(assign, ", ") + " WHERE " + cond, append(args, condArgs...), nil
}
