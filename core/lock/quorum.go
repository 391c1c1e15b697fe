package lock

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fencelock/fencelock/core/infra/logging"
	"github.com/fencelock/fencelock/core/infra/metrics"
)

const quorumComponent = "quorum"

// QuorumOptions configures a QuorumClient. PerStoreTimeout bounds each
// individual store call so one unreachable backend cannot stall the whole
// broadcast. DriftMargin is the operator's bound on clock drift plus
// GC/scheduling pauses across participants; it is subtracted from the lease
// validity and has no default.
type QuorumOptions struct {
	PerStoreTimeout time.Duration
	DriftMargin     time.Duration
	Metrics         metrics.LockMetrics
}

// QuorumClient coordinates one lease across M independent stores and
// requires floor(M/2)+1 of them to agree. An unreachable store is a negative
// vote, never an aborted call. Success of Acquire bounds contention only;
// callers must still fence their writes with a token.
type QuorumClient struct {
	stores          []Store
	perStoreTimeout time.Duration
	driftMargin     time.Duration
	metrics         metrics.LockMetrics
}

// NewQuorumClient builds a client over the given stores. Three or more
// stores (odd count recommended) give the availability the quorum model is
// for; a single store degenerates to single-node behavior.
func NewQuorumClient(stores []Store, opts QuorumOptions) (*QuorumClient, error) {
	if len(stores) == 0 {
		return nil, fmt.Errorf("at least one store required")
	}
	if opts.PerStoreTimeout <= 0 {
		return nil, fmt.Errorf("per-store timeout must be positive")
	}
	if opts.DriftMargin <= 0 {
		return nil, fmt.Errorf("clock-drift margin must be set explicitly")
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.Noop{}
	}
	return &QuorumClient{
		stores:          stores,
		perStoreTimeout: opts.PerStoreTimeout,
		driftMargin:     opts.DriftMargin,
		metrics:         m,
	}, nil
}

// Quorum returns the number of affirmative votes required.
func (c *QuorumClient) Quorum() int {
	return len(c.stores)/2 + 1
}

type vote struct {
	store Store
	ok    bool
	err   error
}

// Acquire attempts to take the lease on resource across all stores in
// parallel. It succeeds iff a majority created the lease AND the remaining
// validity (ttl minus elapsed wall-clock minus the drift margin) is still
// positive. On failure every store that did create the lease gets a
// best-effort conditional delete; stores missed by cleanup shed the stale
// minority lease via TTL.
func (c *QuorumClient) Acquire(ctx context.Context, resource string, ttl time.Duration) (*Lease, bool, error) {
	resource = strings.TrimSpace(resource)
	if resource == "" {
		return nil, false, fmt.Errorf("resource required")
	}
	if ttl <= 0 {
		return nil, false, fmt.Errorf("ttl must be positive")
	}

	owner := uuid.NewString()
	key := leaseKey(resource)
	start := time.Now()

	votes := make(chan vote, len(c.stores))
	for _, s := range c.stores {
		go func(s Store) {
			callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.perStoreTimeout)
			defer cancel()
			ok, err := s.TryCreate(callCtx, key, owner, ttl)
			votes <- vote{store: s, ok: ok, err: err}
		}(s)
	}

	granted := 0
	created := make([]Store, 0, len(c.stores))
	cancelled := false
collect:
	for i := 0; i < len(c.stores); i++ {
		select {
		case v := <-votes:
			if v.err != nil {
				// Negative vote, not a failure of the overall call.
				logging.Error(quorumComponent, "store vote failed", "resource", resource, "error", v.err)
				continue
			}
			if v.ok {
				granted++
				created = append(created, v.store)
			}
		case <-ctx.Done():
			// Abandon in-flight calls; whatever they create expires via TTL.
			cancelled = true
			break collect
		}
	}

	elapsed := time.Since(start)
	c.metrics.ObserveAcquireSeconds(elapsed.Seconds())
	validity := ttl - elapsed - c.driftMargin

	if !cancelled && granted >= c.Quorum() && validity > 0 {
		c.metrics.IncAcquire(metrics.ResultGranted)
		return &Lease{Resource: resource, Owner: owner, ExpiresAt: start.Add(ttl - c.driftMargin)}, true, nil
	}

	c.cleanup(ctx, key, owner, created)
	switch {
	case cancelled:
		c.metrics.IncAcquire(metrics.ResultCancelled)
		return nil, false, ctx.Err()
	case granted < c.Quorum():
		c.metrics.IncAcquire(metrics.ResultNoQuorum)
		logging.Info(quorumComponent, "quorum not reached", "resource", resource, "granted", granted, "needed", c.Quorum())
	default:
		c.metrics.IncAcquire(metrics.ResultNoBudget)
		logging.Info(quorumComponent, "ttl budget exhausted", "resource", resource, "elapsed", elapsed, "margin", c.driftMargin)
	}
	return nil, false, nil
}

// Release broadcasts a conditional delete to every store. Individual
// failures are logged and ignored; any orphaned lease expires via TTL.
func (c *QuorumClient) Release(ctx context.Context, resource, owner string) error {
	if resource == "" || owner == "" {
		return fmt.Errorf("resource and owner required")
	}
	c.broadcastDelete(ctx, leaseKey(resource), owner, c.stores)
	c.metrics.IncRelease(metrics.ResultGranted)
	return nil
}

// Extend broadcasts a conditional TTL refresh and reports ok only when a
// majority of stores still recognized owner as the holder.
func (c *QuorumClient) Extend(ctx context.Context, resource, owner string, ttl time.Duration) (bool, error) {
	if resource == "" || owner == "" {
		return false, fmt.Errorf("resource and owner required")
	}
	if ttl <= 0 {
		return false, fmt.Errorf("ttl must be positive")
	}
	key := leaseKey(resource)
	votes := make(chan vote, len(c.stores))
	for _, s := range c.stores {
		go func(s Store) {
			callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.perStoreTimeout)
			defer cancel()
			ok, err := s.CompareAndExtend(callCtx, key, owner, ttl)
			votes <- vote{store: s, ok: ok, err: err}
		}(s)
	}
	extended := 0
	for i := 0; i < len(c.stores); i++ {
		select {
		case v := <-votes:
			if v.err != nil {
				logging.Error(quorumComponent, "extend vote failed", "resource", resource, "error", v.err)
				continue
			}
			if v.ok {
				extended++
			}
		case <-ctx.Done():
			c.metrics.IncExtend(metrics.ResultCancelled)
			return false, ctx.Err()
		}
	}
	if extended >= c.Quorum() {
		c.metrics.IncExtend(metrics.ResultGranted)
		return true, nil
	}
	c.metrics.IncExtend(metrics.ResultNoQuorum)
	return false, nil
}

func (c *QuorumClient) cleanup(ctx context.Context, key, owner string, created []Store) {
	if len(created) == 0 {
		return
	}
	c.broadcastDelete(ctx, key, owner, created)
}

func (c *QuorumClient) broadcastDelete(ctx context.Context, key, owner string, stores []Store) {
	done := make(chan struct{}, len(stores))
	for _, s := range stores {
		go func(s Store) {
			defer func() { done <- struct{}{} }()
			// Detached from the caller's cancellation so a timed-out Acquire
			// still gets its minority leases cleaned up.
			callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.perStoreTimeout)
			defer cancel()
			if _, err := s.CompareAndDelete(callCtx, key, owner); err != nil {
				c.metrics.IncCleanupFailure()
				logging.Error(quorumComponent, "lease cleanup failed", "key", key, "error", err)
			}
		}(s)
	}
	for range stores {
		<-done
	}
}
