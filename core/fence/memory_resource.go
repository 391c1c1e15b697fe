package fence

import (
	"context"
	"sync"

	"github.com/fencelock/fencelock/core/infra/metrics"
)

// MemoryResource implements Resource with a mutex-guarded map, for tests
// and single-process embedding. Value and high-water mark live in the same
// entry so they change together under one lock.
type MemoryResource struct {
	mu      sync.Mutex
	entries map[string]memoryState
	metrics metrics.LockMetrics
}

type memoryState struct {
	value Mutation
	token uint64
	set   bool
}

// NewMemoryResource constructs an empty in-process guarded resource.
func NewMemoryResource(m metrics.LockMetrics) *MemoryResource {
	if m == nil {
		m = metrics.Noop{}
	}
	return &MemoryResource{entries: make(map[string]memoryState), metrics: m}
}

func (r *MemoryResource) ValidateAndCommit(ctx context.Context, resourceID string, token uint64, mutation Mutation) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	state := r.entries[resourceID]
	if state.set && token < state.token {
		r.metrics.IncStaleRejected()
		return false, ErrStaleTokenRejected
	}
	r.entries[resourceID] = memoryState{value: append(Mutation(nil), mutation...), token: token, set: true}
	return true, nil
}

func (r *MemoryResource) Get(ctx context.Context, resourceID string) (Mutation, uint64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.entries[resourceID]
	if !ok {
		return nil, 0, nil
	}
	return append(Mutation(nil), state.value...), state.token, nil
}
