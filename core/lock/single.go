package lock

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SingleNodeClient acquires, releases, and extends a lease against exactly
// one Store. It never retries internally; retry policy belongs to the caller.
type SingleNodeClient struct {
	store Store
}

// NewSingleNodeClient wraps one coordination store.
func NewSingleNodeClient(store Store) (*SingleNodeClient, error) {
	if store == nil {
		return nil, fmt.Errorf("store required")
	}
	return &SingleNodeClient{store: store}, nil
}

// Acquire generates a fresh owner token and attempts conditional creation.
// A held lease is reported as ok=false without error.
func (c *SingleNodeClient) Acquire(ctx context.Context, resource string, ttl time.Duration) (*Lease, bool, error) {
	resource = strings.TrimSpace(resource)
	if resource == "" {
		return nil, false, fmt.Errorf("resource required")
	}
	if ttl <= 0 {
		return nil, false, fmt.Errorf("ttl must be positive")
	}
	owner := uuid.NewString()
	created, err := c.store.TryCreate(ctx, leaseKey(resource), owner, ttl)
	if err != nil {
		return nil, false, err
	}
	if !created {
		return nil, false, nil
	}
	return &Lease{Resource: resource, Owner: owner, ExpiresAt: time.Now().Add(ttl)}, true, nil
}

// Release deletes the lease only while owner still holds it. Releasing
// twice, or after expiry, is a no-op returning false without error, and can
// never touch a newer owner's lease.
func (c *SingleNodeClient) Release(ctx context.Context, resource, owner string) (bool, error) {
	if resource == "" || owner == "" {
		return false, fmt.Errorf("resource and owner required")
	}
	return c.store.CompareAndDelete(ctx, leaseKey(resource), owner)
}

// Extend refreshes the lease TTL while owner still holds it, for critical
// sections that outlive the original ttl.
func (c *SingleNodeClient) Extend(ctx context.Context, resource, owner string, ttl time.Duration) (bool, error) {
	if resource == "" || owner == "" {
		return false, fmt.Errorf("resource and owner required")
	}
	if ttl <= 0 {
		return false, fmt.Errorf("ttl must be positive")
	}
	return c.store.CompareAndExtend(ctx, leaseKey(resource), owner, ttl)
}
