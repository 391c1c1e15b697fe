// Package lock implements lease-based mutual exclusion over independent
// coordination backends, with fencing tokens as the actual write-safety
// guarantee. A granted lease only bounds contention; a holder can stall
// arbitrarily long and come back after its lease has silently expired, so
// the token check at the write boundary (package fence) is what prevents
// a superseded holder from corrupting state.
package lock

import (
	"context"
	"time"
)

// Store is a thin client to one independent coordination backend. Every
// primitive must be atomic on the backend side; no implementation may
// perform a read-modify-write across two network calls.
type Store interface {
	// TryCreate sets key=value with expiry ttl only if the key is absent.
	// A conflict is reported as (false, nil), not as an error.
	TryCreate(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// CompareAndDelete deletes key only if its current value equals expected.
	// Mismatch or absence is (false, nil).
	CompareAndDelete(ctx context.Context, key, expected string) (bool, error)

	// CompareAndExtend refreshes the expiry on key to ttl only if its current
	// value equals expected. Mismatch or absence is (false, nil).
	CompareAndExtend(ctx context.Context, key, expected string, ttl time.Duration) (bool, error)

	// AtomicIncrement increments the counter at key, creating it at zero
	// first if absent, and returns the post-increment value.
	AtomicIncrement(ctx context.Context, key string) (int64, error)
}

// Lease captures a granted lease on a resource. Owner is the opaque token
// that identifies the holder across all participating stores.
type Lease struct {
	Resource  string    `json:"resource"`
	Owner     string    `json:"owner"`
	ExpiresAt time.Time `json:"expires_at"`
}

func leaseKey(resource string) string {
	return "lease:" + resource
}

func fenceKey(resource string) string {
	return "fence:" + resource
}
