// Package query describes reads and batch writes against the local store as
// plain data: a conjunction of (field, operator, value) conditions checked
// against a declared schema before any SQL is produced.
package query

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/balli/internal/common"
	"github.com/dmitrijs2005/balli/internal/timex"
)

// Op is a comparison operator.
type Op string

const (
	Eq      Op = "eq"
	Ne      Op = "ne"
	Lt      Op = "lt"
	Le      Op = "le"
	Gt      Op = "gt"
	Ge      Op = "ge"
	In      Op = "in"
	IsNull  Op = "isNull"
	NotNull Op = "notNull"
)

var opSQL = map[Op]string{
	Eq: "=", Ne: "<>", Lt: "<", Le: "<=", Gt: ">", Ge: ">=",
}

// Cond is one condition of a predicate.
type Cond struct {
	Field string
	Op    Op
	Value any
}

// Predicate is an AND of conditions. The zero value matches every row.
type Predicate struct {
	conds []Cond
}

// Where starts a predicate with a single condition.
func Where(field string, op Op, value any) Predicate {
	return Predicate{}.And(field, op, value)
}

// And returns a copy of p with one more condition.
func (p Predicate) And(field string, op Op, value any) Predicate {
	conds := make([]Cond, len(p.conds), len(p.conds)+1)
	copy(conds, p.conds)
	return Predicate{conds: append(conds, Cond{Field: field, Op: op, Value: value})}
}

func (p Predicate) Conds() []Cond {
	return append([]Cond(nil), p.conds...)
}

func (p Predicate) IsEmpty() bool { return len(p.conds) == 0 }

// Kind is the storage class of a column.
type Kind int

const (
	Text Kind = iota
	Int
	Real
	Bool
	Time // stored as unix milliseconds
)

// Schema declares the columns of an entity type that may appear in
// predicates, sorts and batch assignments.
type Schema struct {
	Entity  string
	Table   string
	Key     string
	Columns map[string]Kind
}

func (s Schema) kind(field string) (Kind, error) {
	k, ok := s.Columns[field]
	if !ok {
		return 0, common.E(common.KindValidation, "query", fmt.Errorf("%s: unknown field %q", s.Entity, field))
	}
	return k, nil
}

// Normalize converts value to the driver representation of kind, or fails
// when the Go type does not fit the column.
func Normalize(kind Kind, value any) (any, error) {
	switch kind {
	case Text:
		if s, ok := value.(string); ok {
			return s, nil
		}
		if s, ok := value.(fmt.Stringer); ok {
			return s.String(), nil
		}
		if rv := reflect.ValueOf(value); rv.IsValid() && rv.Kind() == reflect.String {
			return rv.String(), nil
		}
	case Int:
		if i, ok := toInt64(value); ok {
			return i, nil
		}
	case Real:
		if i, ok := toInt64(value); ok {
			return float64(i), nil
		}
		switch v := value.(type) {
		case float64:
			return v, nil
		case float32:
			return float64(v), nil
		}
	case Bool:
		if b, ok := value.(bool); ok {
			if b {
				return int64(1), nil
			}
			return int64(0), nil
		}
	case Time:
		if t, ok := value.(time.Time); ok {
			return timex.UnixMilli(t), nil
		}
	}
	return nil, fmt.Errorf("value %v (%T) does not fit column kind %d", value, value, kind)
}

func toInt64(value any) (int64, bool) {
	rv := reflect.ValueOf(value)
	if !rv.IsValid() {
		return 0, false
	}
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32:
		return int64(rv.Uint()), true
	}
	return 0, false
}

func listValues(value any) ([]any, bool) {
	rv := reflect.ValueOf(value)
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// Validate checks every condition against s without producing SQL.
func (p Predicate) Validate(s Schema) error {
	_, _, err := p.Compile(s)
	return err
}

// Compile renders p as a SQL boolean expression with ? placeholders.
// An empty predicate compiles to "1=1".
func (p Predicate) Compile(s Schema) (string, []any, error) {
	if len(p.conds) == 0 {
		return "1=1", nil, nil
	}

	parts := make([]string, 0, len(p.conds))
	var args []any
	for _, c := range p.conds {
		kind, err := s.kind(c.Field)
		if err != nil {
			return "", nil, err
		}

		switch c.Op {
		case IsNull:
			parts = append(parts, c.Field+" IS NULL")
		case NotNull:
			parts = append(parts, c.Field+" IS NOT NULL")
		case In:
			values, ok := listValues(c.Value)
			if !ok {
				return "", nil, condError(s, c, "in requires a slice")
			}
			if len(values) == 0 {
				parts = append(parts, "1=0")
				continue
			}
			for _, v := range values {
				nv, err := Normalize(kind, v)
				if err != nil {
					return "", nil, condError(s, c, err.Error())
				}
				args = append(args, nv)
			}
			parts = append(parts, c.Field+" IN ("+strings.TrimSuffix(strings.Repeat("?,", len(values)), ",")+")")
		default:
			sqlOp, ok := opSQL[c.Op]
			if !ok {
				return "", nil, condError(s, c, "unknown operator")
			}
			nv, err := Normalize(kind, c.Value)
			if err != nil {
				return "", nil, condError(s, c, err.Error())
			}
			args = append(args, nv)
			parts = append(parts, c.Field+" "+sqlOp+" ?")
		}
	}
	return strings.Join(parts, " AND "), args, nil
}

func condError(s Schema, c Cond, msg string) error {
	return common.E(common.KindValidation, "query", fmt.Errorf("%s.%s %s: %s", s.Entity, c.Field, c.Op, msg))
}

// canonical renders p independently of condition order.
func (p Predicate) canonical() string {
	parts := make([]string, 0, len(p.conds))
	for _, c := range p.conds {
		parts = append(parts, c.Field+" "+string(c.Op)+" "+renderValue(c.Value))
	}
	sort.Strings(parts)
	return strings.Join(parts, " & ")
}

func renderValue(v any) string {
	if values, ok := listValues(v); ok {
		rendered := make([]string, len(values))
		for i, x := range values {
			rendered[i] = renderValue(x)
		}
		return "[" + strings.Join(rendered, ",") + "]"
	}
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return strconv.Quote(x)
	case time.Time:
		return "t" + strconv.FormatInt(timex.UnixMilli(x), 10)
	case fmt.Stringer:
		return strconv.Quote(x.String())
	}
	if i, ok := toInt64(v); ok {
		return strconv.FormatInt(i, 10)
	}
	return fmt.Sprintf("%v", v)
}
