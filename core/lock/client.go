package lock

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fencelock/fencelock/core/infra/config"
	"github.com/fencelock/fencelock/core/infra/metrics"
)

// Handle identifies a held lease for Release/Extend calls.
type Handle struct {
	Resource  string
	Owner     string
	ExpiresAt time.Time
}

// Client is the caller-facing surface: quorum acquire/release/extend plus
// fencing-token allocation, wired from one Locks configuration. Tokens are
// allocated on the first configured store.
type Client struct {
	quorum *QuorumClient
	alloc  *TokenAllocator
	cfg    *config.Locks
}

// OpenStores builds one Store per configured endpoint. redis:// and
// rediss:// endpoints talk to Redis directly; http:// and https:// endpoints
// talk to a lockd daemon; "memory:" yields an in-process store.
func OpenStores(endpoints []string) ([]Store, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("at least one endpoint required")
	}
	stores := make([]Store, 0, len(endpoints))
	for _, ep := range endpoints {
		ep = strings.TrimSpace(ep)
		switch {
		case strings.HasPrefix(ep, "redis://"), strings.HasPrefix(ep, "rediss://"):
			s, err := NewRedisStore(ep)
			if err != nil {
				return nil, fmt.Errorf("open %s: %w", ep, err)
			}
			stores = append(stores, s)
		case strings.HasPrefix(ep, "http://"), strings.HasPrefix(ep, "https://"):
			s, err := NewHTTPStore(ep)
			if err != nil {
				return nil, fmt.Errorf("open %s: %w", ep, err)
			}
			stores = append(stores, s)
		case ep == "memory:":
			stores = append(stores, NewMemoryStore())
		default:
			return nil, fmt.Errorf("unsupported endpoint scheme: %s", ep)
		}
	}
	return stores, nil
}

// NewClient wires a quorum client and token allocator from configuration.
func NewClient(cfg *config.Locks, m metrics.LockMetrics) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("lock config required")
	}
	stores, err := OpenStores(cfg.Endpoints)
	if err != nil {
		return nil, err
	}
	return NewClientWithStores(stores, cfg, m)
}

// NewClientWithStores wires a client over pre-built stores, mainly for
// embedding and tests.
func NewClientWithStores(stores []Store, cfg *config.Locks, m metrics.LockMetrics) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("lock config required")
	}
	if m == nil {
		m = metrics.Noop{}
	}
	quorum, err := NewQuorumClient(stores, QuorumOptions{
		PerStoreTimeout: cfg.PerStoreTimeout(),
		DriftMargin:     cfg.ClockDriftMargin(),
		Metrics:         m,
	})
	if err != nil {
		return nil, err
	}
	alloc, err := NewTokenAllocator(stores[0], m)
	if err != nil {
		return nil, err
	}
	return &Client{quorum: quorum, alloc: alloc, cfg: cfg}, nil
}

// Acquire takes a quorum lease on resourceID. ok=false without error means
// the lease is contended or the TTL budget ran out; both are retryable.
func (c *Client) Acquire(ctx context.Context, resourceID string, ttl time.Duration) (*Handle, bool, error) {
	if ttl <= 0 {
		ttl = c.cfg.TTL()
	}
	lease, ok, err := c.quorum.Acquire(ctx, resourceID, ttl)
	if err != nil || !ok {
		return nil, false, err
	}
	return &Handle{Resource: lease.Resource, Owner: lease.Owner, ExpiresAt: lease.ExpiresAt}, true, nil
}

// AcquireWithRetry loops Acquire under the configured backoff policy until
// the lease is granted or ctx expires. This is the caller-side retry loop
// the core clients refuse to hide.
func (c *Client) AcquireWithRetry(ctx context.Context, resourceID string, ttl time.Duration) (*Handle, error) {
	for attempt := 0; ; attempt++ {
		h, ok, err := c.Acquire(ctx, resourceID, ttl)
		if err != nil {
			return nil, err
		}
		if ok {
			return h, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.cfg.RetryBackoff.Delay(attempt)):
		}
	}
}

// Release gives up the lease everywhere; always safe to call again.
func (c *Client) Release(ctx context.Context, h *Handle) error {
	if h == nil {
		return fmt.Errorf("handle required")
	}
	return c.quorum.Release(ctx, h.Resource, h.Owner)
}

// Extend refreshes the lease TTL on a majority of stores.
func (c *Client) Extend(ctx context.Context, h *Handle, newTTL time.Duration) (bool, error) {
	if h == nil {
		return false, fmt.Errorf("handle required")
	}
	ok, err := c.quorum.Extend(ctx, h.Resource, h.Owner, newTTL)
	if ok {
		h.ExpiresAt = time.Now().Add(newTTL)
	}
	return ok, err
}

// AllocateFencingToken issues the next token for resourceID. Callers hold
// the lease by convention, but the token check at commit time is what
// actually protects the write.
func (c *Client) AllocateFencingToken(ctx context.Context, resourceID string) (uint64, error) {
	return c.alloc.Next(ctx, resourceID)
}
