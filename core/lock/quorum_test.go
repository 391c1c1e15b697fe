package lock

import (
	"context"
	"errors"
	"testing"
	"time"
)

// faultyStore wraps a MemoryStore to simulate unreachable or slow quorum
// participants.
type faultyStore struct {
	inner *MemoryStore
	down  bool
	delay time.Duration
}

var errStoreDown = errors.New("store unreachable")

func (f *faultyStore) wait(ctx context.Context) error {
	if f.down {
		return errStoreDown
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (f *faultyStore) TryCreate(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if err := f.wait(ctx); err != nil {
		return false, err
	}
	return f.inner.TryCreate(ctx, key, value, ttl)
}

func (f *faultyStore) CompareAndDelete(ctx context.Context, key, expected string) (bool, error) {
	if err := f.wait(ctx); err != nil {
		return false, err
	}
	return f.inner.CompareAndDelete(ctx, key, expected)
}

func (f *faultyStore) CompareAndExtend(ctx context.Context, key, expected string, ttl time.Duration) (bool, error) {
	if err := f.wait(ctx); err != nil {
		return false, err
	}
	return f.inner.CompareAndExtend(ctx, key, expected, ttl)
}

func (f *faultyStore) AtomicIncrement(ctx context.Context, key string) (int64, error) {
	if err := f.wait(ctx); err != nil {
		return 0, err
	}
	return f.inner.AtomicIncrement(ctx, key)
}

func newFaultyQuorum(t *testing.T, n int, opts QuorumOptions) ([]*faultyStore, *QuorumClient) {
	t.Helper()
	faulty := make([]*faultyStore, n)
	stores := make([]Store, n)
	for i := range faulty {
		faulty[i] = &faultyStore{inner: NewMemoryStore()}
		stores[i] = faulty[i]
	}
	if opts.PerStoreTimeout == 0 {
		opts.PerStoreTimeout = time.Second
	}
	if opts.DriftMargin == 0 {
		opts.DriftMargin = 50 * time.Millisecond
	}
	client, err := NewQuorumClient(stores, opts)
	if err != nil {
		t.Fatalf("new quorum client: %v", err)
	}
	return faulty, client
}

// holds reports whether the store currently holds the lease for owner,
// restoring the entry it checks.
func holds(t *testing.T, s *faultyStore, resource, owner string) bool {
	t.Helper()
	ctx := context.Background()
	ok, err := s.inner.CompareAndExtend(ctx, leaseKey(resource), owner, time.Minute)
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	return ok
}

func TestQuorumAcquireWithMinorityUnreachable(t *testing.T) {
	faulty, client := newFaultyQuorum(t, 5, QuorumOptions{})
	faulty[3].down = true
	faulty[4].down = true

	lease, ok, err := client.Acquire(context.Background(), "orders", 5*time.Second)
	if err != nil || !ok {
		t.Fatalf("expected grant with 3/5 reachable, err=%v ok=%v", err, ok)
	}
	granted := 0
	for _, f := range faulty[:3] {
		if holds(t, f, "orders", lease.Owner) {
			granted++
		}
	}
	if granted != 3 {
		t.Fatalf("expected lease on all reachable stores, got %d", granted)
	}
}

func TestQuorumAcquireFailsWithoutMajority(t *testing.T) {
	faulty, client := newFaultyQuorum(t, 5, QuorumOptions{})
	faulty[2].down = true
	faulty[3].down = true
	faulty[4].down = true

	lease, ok, err := client.Acquire(context.Background(), "orders", 5*time.Second)
	if err != nil {
		t.Fatalf("unreachable stores must not abort the call: %v", err)
	}
	if ok || lease != nil {
		t.Fatalf("expected no grant with 2/5 reachable")
	}

	// The two minority successes must have been cleaned up.
	ctx := context.Background()
	for i, f := range faulty[:2] {
		if ok, err := f.inner.TryCreate(ctx, leaseKey("orders"), "probe", time.Second); err != nil || !ok {
			t.Fatalf("store %d still holds a stale minority lease, err=%v ok=%v", i, err, ok)
		}
	}
}

func TestQuorumAcquireTTLBudgetExhausted(t *testing.T) {
	faulty, client := newFaultyQuorum(t, 3, QuorumOptions{
		PerStoreTimeout: time.Second,
		DriftMargin:     50 * time.Millisecond,
	})
	for _, f := range faulty {
		f.delay = 120 * time.Millisecond
	}

	// All stores vote yes, but by then ttl − elapsed − margin is negative.
	_, ok, err := client.Acquire(context.Background(), "orders", 150*time.Millisecond)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if ok {
		t.Fatalf("expected grant to be refused after ttl budget exhausted")
	}
	ctx := context.Background()
	for i, f := range faulty {
		if ok, err := f.inner.TryCreate(ctx, leaseKey("orders"), "probe", time.Second); err != nil || !ok {
			t.Fatalf("store %d kept a lease past a refused grant, err=%v ok=%v", i, err, ok)
		}
	}
}

func TestQuorumSecondAcquireConflicts(t *testing.T) {
	_, client := newFaultyQuorum(t, 3, QuorumOptions{})
	ctx := context.Background()

	_, ok, err := client.Acquire(ctx, "orders", 5*time.Second)
	if err != nil || !ok {
		t.Fatalf("first acquire: err=%v ok=%v", err, ok)
	}
	if _, ok, err := client.Acquire(ctx, "orders", 5*time.Second); err != nil || ok {
		t.Fatalf("second acquire must fail while lease held, err=%v ok=%v", err, ok)
	}
}

func TestQuorumReleaseIdempotent(t *testing.T) {
	_, client := newFaultyQuorum(t, 3, QuorumOptions{})
	ctx := context.Background()

	lease, ok, err := client.Acquire(ctx, "orders", 5*time.Second)
	if err != nil || !ok {
		t.Fatalf("acquire: err=%v ok=%v", err, ok)
	}
	if err := client.Release(ctx, lease.Resource, lease.Owner); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := client.Release(ctx, lease.Resource, lease.Owner); err != nil {
		t.Fatalf("second release must not error: %v", err)
	}
	if _, ok, err := client.Acquire(ctx, "orders", 5*time.Second); err != nil || !ok {
		t.Fatalf("expected acquire after release, err=%v ok=%v", err, ok)
	}
}

func TestQuorumExtendRequiresMajority(t *testing.T) {
	faulty, client := newFaultyQuorum(t, 5, QuorumOptions{})
	ctx := context.Background()

	lease, ok, err := client.Acquire(ctx, "orders", 5*time.Second)
	if err != nil || !ok {
		t.Fatalf("acquire: err=%v ok=%v", err, ok)
	}
	if ok, err := client.Extend(ctx, lease.Resource, lease.Owner, 10*time.Second); err != nil || !ok {
		t.Fatalf("extend with all stores up: err=%v ok=%v", err, ok)
	}

	faulty[0].down = true
	faulty[1].down = true
	faulty[2].down = true
	if ok, err := client.Extend(ctx, lease.Resource, lease.Owner, 10*time.Second); err != nil || ok {
		t.Fatalf("extend without majority must report false, err=%v ok=%v", err, ok)
	}
}

func TestQuorumAcquireCancelled(t *testing.T) {
	faulty, client := newFaultyQuorum(t, 3, QuorumOptions{})
	for _, f := range faulty {
		f.delay = 200 * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, ok, err := client.Acquire(ctx, "orders", 5*time.Second)
	if ok {
		t.Fatalf("cancelled acquire must not grant")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got: %v", err)
	}
}
