// Package common defines shared constants, sentinel errors and the error
// taxonomy used across the client, persistence and sync server layers.
// Callers should use errors.Is to match these values and KindOf to
// classify an arbitrary error.
package common

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// Repository-level errors.
	ErrNotFound = errors.New("not found")

	// Taxonomy sentinels. Every *Error matches exactly one of them via errors.Is.
	ErrValidation  = errors.New("validation error")
	ErrAuth        = errors.New("authentication error")
	ErrNetwork     = errors.New("network error")
	ErrRateLimited = errors.New("rate limited")
	ErrConflict    = errors.New("conflict")
	ErrCorruption  = errors.New("data corruption")
	ErrInternal    = errors.New("internal error")

	// Token lifecycle errors.
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
	ErrLocked       = errors.New("credential store is locked")

	ErrTimeout = errors.New("timeout")
)

// Kind classifies a failure for propagation and retry decisions.
type Kind string

const (
	KindValidation Kind = "validation"
	KindAuth       Kind = "authentication"
	KindNetwork    Kind = "network"
	KindRateLimit  Kind = "rateLimit"
	KindConflict   Kind = "conflict"
	KindCorruption Kind = "corruption"
	KindInternal   Kind = "internal"
)

var kindSentinels = map[Kind]error{
	KindValidation: ErrValidation,
	KindAuth:       ErrAuth,
	KindNetwork:    ErrNetwork,
	KindRateLimit:  ErrRateLimited,
	KindConflict:   ErrConflict,
	KindCorruption: ErrCorruption,
	KindInternal:   ErrInternal,
}

// Error is a classified error. Op names the failing operation
// ("official.fetch", "sync.upload facts"), Status is the HTTP status when
// the failure came from a remote call.
type Error struct {
	Kind   Kind
	Op     string
	Status int
	Err    error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrNetwork) and friends match on the kind.
func (e *Error) Is(target error) bool {
	s, ok := kindSentinels[e.Kind]
	return ok && s == target
}

// E builds a classified error.
func E(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the taxonomy kind of err. Unclassified errors are internal,
// except context deadline/cancel errors which count as network failures.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	for k, s := range kindSentinels {
		if errors.Is(err, s) {
			return k
		}
	}
	if errors.Is(err, ErrTimeout) {
		return KindNetwork
	}
	if errors.Is(err, ErrTokenExpired) || errors.Is(err, ErrInvalidToken) {
		return KindAuth
	}
	return KindInternal
}

// KindFromStatus maps a non-2xx HTTP status to a taxonomy kind.
func KindFromStatus(status int) Kind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuth
	case status == http.StatusTooManyRequests:
		return KindRateLimit
	case status == http.StatusRequestTimeout:
		return KindNetwork
	case status == http.StatusConflict:
		return KindConflict
	case status >= 500:
		return KindNetwork
	case status >= 400:
		return KindValidation
	default:
		return KindInternal
	}
}

// FromStatus wraps an HTTP failure into a classified error.
func FromStatus(op string, status int, err error) *Error {
	return &Error{Kind: KindFromStatus(status), Op: op, Status: status, Err: err}
}

// IsRetryable reports whether a remote call that failed with err may be
// attempted again: network failures, 5xx, 408 and 429. Any other 4xx is
// permanent.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		if e.Status != 0 {
			return e.Status >= 500 || e.Status == http.StatusRequestTimeout || e.Status == http.StatusTooManyRequests
		}
		return e.Kind == KindNetwork || e.Kind == KindRateLimit
	}
	return false
}
