// Package txn runs units of work against the local store: one write
// transaction commits at a time, failures and panics roll back, tracked
// entities are validated before commit and observers learn about every
// committed change before ExecuteTransaction returns.
package txn

import (
	"fmt"
	"sort"

	"github.com/dmitrijs2005/balli/internal/common"
	"github.com/dmitrijs2005/balli/internal/dbx"
)

// State is the lifecycle position of a transaction.
type State string

const (
	StateOpen        State = "open"
	StateCommitting  State = "committing"
	StateCommitted   State = "committed"
	StateRollingBack State = "rolling-back"
	StateRolledBack  State = "rolled-back"
)

var transitions = map[State][]State{
	StateOpen:        {StateCommitting, StateRollingBack},
	StateCommitting:  {StateCommitted, StateRollingBack},
	StateRollingBack: {StateRolledBack},
}

// Entity is a persisted object that can be tracked by a transaction.
type Entity interface {
	EntityType() string
	EntityID() string
}

// Validatable entities check their own invariants before commit.
type Validatable interface {
	Validate() error
}

// Change lists what one committed transaction wrote to one entity type.
// All is set when the affected ids are unknown.
type Change struct {
	Entity string
	IDs    []string
	All    bool
}

// Tx is a scoped unit of work. It belongs to the function it was handed to
// and must not be retained or shared after that function returns.
type Tx struct {
	id      string
	db      dbx.DBTX
	state   State
	tracked []Entity
	touched map[string]map[string]struct{}
	all     map[string]bool
}

func newTx(id string, db dbx.DBTX) *Tx {
	return &Tx{
		id:      id,
		db:      db,
		state:   StateOpen,
		touched: make(map[string]map[string]struct{}),
		all:     make(map[string]bool),
	}
}

func (t *Tx) ID() string { return t.id }
func (t *Tx) State() State { return t.state }
func (t *Tx) DB() dbx.DBTX { return t.db }
func (t *Tx) Tracked() []Entity { return append([]Entity(nil), t.tracked...) }

// Track registers an inserted or updated entity for validation and cache
// invalidation.
func (t *Tx) Track(e Entity) {
	t.tracked = append(t.tracked, e)
	t.Touch(e.EntityType(), e.EntityID())
}

// Touch marks ids of entity as written without validating anything.
func (t *Tx) Touch(entity string, ids ...string) {
	set, ok := t.touched[entity]
	if !ok {
		set = make(map[string]struct{})
		t.touched[entity] = set
	}
	for _, id := range ids {
		set[id] = struct{}{}
	}
}

// TouchAll marks the whole entity type as written (predicate-based writes,
// inserts into listed results).
func (t *Tx) TouchAll(entity string) {
	t.all[entity] = true
	if _, ok := t.touched[entity]; !ok {
		t.touched[entity] = make(map[string]struct{})
	}
}

func (t *Tx) transition(to State) error {
	for _, allowed := range transitions[t.state] {
		if allowed == to {
			t.state = to
			return nil
		}
	}
	return common.E(common.KindInternal, "txn", fmt.Errorf("transaction %s: illegal transition %s -> %s", t.id, t.state, to))
}

// changes returns the change set in a stable order.
func (t *Tx) changes() []Change {
	out := make([]Change, 0, len(t.touched))
	for entity, set := range t.touched {
		c := Change{Entity: entity, All: t.all[entity]}
		for id := range set {
			c.IDs = append(c.IDs, id)
		}
		sort.Strings(c.IDs)
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Entity < out[j].Entity })
	return out
}
