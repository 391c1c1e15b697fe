// Package fence defines the write-boundary check that makes the lock layer
// safe. A protected resource persists the highest fencing token it has ever
// accepted per key and commits a mutation only together with that
// high-water-mark update, in one atomic step. A lease that looked valid to
// a paused or partitioned holder buys nothing here: its stale token is
// rejected at commit time no matter when the write arrives.
package fence

import (
	"context"
	"errors"
)

// ErrStaleTokenRejected reports a write whose token was below the
// resource's high-water mark. Callers must abort the write and, if still
// relevant, re-acquire and retry with a fresh token. Swallowing this error
// reintroduces the corruption the token exists to prevent.
var ErrStaleTokenRejected = errors.New("stale fencing token rejected")

// Mutation is the opaque payload a caller wants committed.
type Mutation []byte

// Resource is any write target guarded by fencing tokens. Implementations
// must keep the high-water mark in the same durability boundary as the
// guarded data and update both in the same transaction, never as a
// separately-losable cache entry.
type Resource interface {
	// ValidateAndCommit compares token against the persisted high-water
	// mark for resourceID. Tokens below the mark return (false,
	// ErrStaleTokenRejected); otherwise the mutation is applied and the
	// mark raised to token in the same atomic step.
	ValidateAndCommit(ctx context.Context, resourceID string, token uint64, mutation Mutation) (bool, error)

	// Get returns the current value and the token that committed it.
	Get(ctx context.Context, resourceID string) (Mutation, uint64, error)
}
