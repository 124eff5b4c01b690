// Package errs classifies pipeline errors into the recovery taxonomy the
// rest of the module acts on: transient failures are retried in place,
// permanent ones are counted and dropped, and only configuration errors
// are fatal at startup.
package errs

import (
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// Kind identifies how a caller should react to an error.
type Kind int

const (
	// KindTransientTransport covers WS closes, TCP resets: retry with backoff, shard stays live.
	KindTransientTransport Kind = iota
	// KindParse covers malformed frames: drop and count, never retried.
	KindParse
	// KindStoreTransient covers connection refused/timeout: batch retained, retried with backoff.
	KindStoreTransient
	// KindStorePermanent covers constraint/schema errors: batch dropped and counted.
	KindStorePermanent
	// KindReconstructorGap covers update-id gaps: resync via REST.
	KindReconstructorGap
	// KindREST covers snapshot fetch failures: attempt dropped, next diff retries.
	KindREST
	// KindConfig covers missing DSN or unresolvable symbol universe: fatal at startup.
	KindConfig
)

func (k Kind) String() string {
	switch k {
	case KindTransientTransport:
		return "transient_transport"
	case KindParse:
		return "parse"
	case KindStoreTransient:
		return "store_transient"
	case KindStorePermanent:
		return "store_permanent"
	case KindReconstructorGap:
		return "reconstructor_gap"
	case KindREST:
		return "rest"
	case KindConfig:
		return "config"
	default:
		return "unknown"
	}
}

// Error wraps an underlying error with a recovery Kind.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap annotates err with a Kind. Returns nil if err is nil.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// ClassifyStoreError distinguishes transient from permanent Postgres
// failures by SQLSTATE class, matching the behavior described in
// original_source/collector/storage/postgres_manager.py's batch flush
// (connection errors are retried, constraint/schema errors are not).
func ClassifyStoreError(err error) Kind {
	if err == nil {
		return KindStoreTransient
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		class := string(pqErr.Code.Class())
		switch class {
		case "23": // integrity_constraint_violation
			return KindStorePermanent
		case "42": // syntax_error_or_access_rule_violation
			return KindStorePermanent
		}
		return KindStoreTransient
	}
	// Connection-level errors (net.Error, sql.ErrConnDone, context deadline) are transient.
	return KindStoreTransient
}
