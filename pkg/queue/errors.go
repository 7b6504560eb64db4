package queue

import (
	"github.com/cockroachdb/errors"

	"blockqueue/pkg/backend"
)

// ErrNoSpace marks a backend completion that ran out of backing-store
// space. No-space errors are latched preferentially over other errors (§7):
// once latched, a later non-no-space error does not overwrite it. It is the
// same sentinel backend implementations mark their own errors with, so that
// errors.Is matching works across the package boundary.
var ErrNoSpace = backend.ErrNoSpace

// Sentinel errors returned by Queue/Driver operations. Backend-originated
// causes are wrapped around these with cockroachdb/errors so callers can
// still match with errors.Is while retaining a stack trace for logging.
var (
	// ErrClosed is returned by any Producer Context call made after the
	// owning Driver has been destroyed.
	ErrClosed = errors.New("blockqueue: queue is closed")

	// ErrDestroyNotEmpty is raised (as a panic, not a returned error; see
	// Driver.Destroy) when destroy is invoked without a prior successful
	// drain. It is exported so tests can match it with errors.Is against
	// the panic value.
	ErrDestroyNotEmpty = errors.New("blockqueue: destroy called with a non-empty queue")

	// ErrSectionsInvariant marks a pop that found the popped Barrier was not
	// also the head of the sections index (I1). This is a logical-misuse
	// bug, not a runtime condition, and is only ever seen wrapped in a
	// panic.
	ErrSectionsInvariant = errors.New("blockqueue: sections invariant violated")
)

// ErrorHandler decides what happens to a failed in-flight request. It
// returns true to keep the queue and retry (the request is reinserted at
// the head of pending once the handler returns), or false to fail forward
// (the request is discarded and error_ret stays latched).
type ErrorHandler func(opaque any, err error) bool

// IsNoSpace reports whether err (or any error it wraps) is ErrNoSpace.
func IsNoSpace(err error) bool {
	return errors.Is(err, ErrNoSpace)
}
