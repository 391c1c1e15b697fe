package lock

import (
	"context"
	"fmt"
	"strings"

	"github.com/fencelock/fencelock/core/infra/metrics"
)

// TokenAllocator issues strictly increasing fencing tokens per resource,
// backed by one store's atomic increment. The counter lives in the backend,
// not in process memory, so tokens survive allocator restarts and multiple
// allocator instances never collide or regress.
//
// The allocator deliberately does not check lease ownership: doing so would
// race exactly the way a stale holder does. Convention is that the current
// lease holder calls Next; correctness comes from the commit-time check.
type TokenAllocator struct {
	store   Store
	metrics metrics.LockMetrics
}

// NewTokenAllocator binds the allocator to one coordination store.
func NewTokenAllocator(store Store, m metrics.LockMetrics) (*TokenAllocator, error) {
	if store == nil {
		return nil, fmt.Errorf("store required")
	}
	if m == nil {
		m = metrics.Noop{}
	}
	return &TokenAllocator{store: store, metrics: m}, nil
}

// Next returns the next fencing token for resource.
func (a *TokenAllocator) Next(ctx context.Context, resource string) (uint64, error) {
	resource = strings.TrimSpace(resource)
	if resource == "" {
		return 0, fmt.Errorf("resource required")
	}
	v, err := a.store.AtomicIncrement(ctx, fenceKey(resource))
	if err != nil {
		return 0, fmt.Errorf("allocate fencing token: %w", err)
	}
	a.metrics.IncTokenIssued()
	return uint64(v), nil
}
