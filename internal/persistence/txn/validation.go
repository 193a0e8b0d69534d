package txn

import (
	"fmt"
	"slices"
	"strings"

	"github.com/dmitrijs2005/balli/internal/common"
)

// Validator checks one tracked entity before commit.
type Validator func(Entity) error

// Failure is one entity that did not pass validation.
type Failure struct {
	Entity string
	ID     string
	Err    error
}

// ValidationError aggregates every failure of a transaction. It matches
// common.ErrConflict: the whole unit of work was rolled back.
type ValidationError struct {
	TxID     string
	Failures []Failure
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s %s: %v", f.Entity, f.ID, f.Err))
	}
	return fmt.Sprintf("transaction %s: %d entities failed validation: %s", e.TxID, len(e.Failures), strings.Join(parts, "; "))
}

func (e *ValidationError) Is(target error) bool { return target == common.ErrConflict }

func (e *ValidationError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

// validate runs every check on every tracked entity and reports all failures
// at once.
func (m *Manager) validate(t *Tx) error {
	// RegisterValidator may run concurrently; read the checks under the lock
	m.mu.RLock()
	validators := make(map[string][]Validator, len(m.validators))
	for entity, checks := range m.validators {
		validators[entity] = slices.Clone(checks)
	}
	m.mu.RUnlock()

	var failures []Failure
	for _, e := range t.tracked {
		var errs []error
		if v, ok := e.(Validatable); ok {
			if err := v.Validate(); err != nil {
				errs = append(errs, err)
			}
		}
		for _, check := range validators[e.EntityType()] {
			if err := check(e); err != nil {
				errs = append(errs, err)
			}
		}
		for _, err := range errs {
			failures = append(failures, Failure{Entity: e.EntityType(), ID: e.EntityID(), Err: err})
		}
	}
	if len(failures) == 0 {
		return nil
	}
	return &ValidationError{TxID: t.id, Failures: failures}
}
