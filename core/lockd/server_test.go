package lockd

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fencelock/fencelock/core/lock"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv, err := New(lock.NewMemoryStore(), nil)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func postOp(t *testing.T, ts *httptest.Server, req lock.OpRequest) (*http.Response, lock.OpResponse) {
	t.Helper()
	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(ts.URL+"/api/v1/store", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	var decoded lock.OpResponse
	if resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
			t.Fatalf("decode: %v", err)
		}
	}
	return resp, decoded
}

func TestServerCreateConflictAndDelete(t *testing.T) {
	ts := newTestServer(t)

	_, resp := postOp(t, ts, lock.OpRequest{Op: lock.OpCreate, Key: "lease:orders", Value: "owner-a", TTLMs: 5000})
	if !resp.OK {
		t.Fatalf("expected create ok: %+v", resp)
	}
	_, resp = postOp(t, ts, lock.OpRequest{Op: lock.OpCreate, Key: "lease:orders", Value: "owner-b", TTLMs: 5000})
	if resp.OK || resp.Err != "" {
		t.Fatalf("conflict must be ok=false without err: %+v", resp)
	}
	_, resp = postOp(t, ts, lock.OpRequest{Op: lock.OpCDelete, Key: "lease:orders", Expected: "owner-b"})
	if resp.OK {
		t.Fatalf("mismatched delete must be ok=false: %+v", resp)
	}
	_, resp = postOp(t, ts, lock.OpRequest{Op: lock.OpCDelete, Key: "lease:orders", Expected: "owner-a"})
	if !resp.OK {
		t.Fatalf("expected matching delete ok: %+v", resp)
	}
}

func TestServerExtendAndIncrement(t *testing.T) {
	ts := newTestServer(t)

	postOp(t, ts, lock.OpRequest{Op: lock.OpCreate, Key: "lease:orders", Value: "owner-a", TTLMs: 5000})
	_, resp := postOp(t, ts, lock.OpRequest{Op: lock.OpCExtend, Key: "lease:orders", Expected: "owner-a", TTLMs: 10000})
	if !resp.OK {
		t.Fatalf("expected extend ok: %+v", resp)
	}
	_, resp = postOp(t, ts, lock.OpRequest{Op: lock.OpCExtend, Key: "lease:orders", Expected: "owner-b", TTLMs: 10000})
	if resp.OK {
		t.Fatalf("non-owner extend must be ok=false: %+v", resp)
	}

	for want := int64(1); want <= 3; want++ {
		_, resp = postOp(t, ts, lock.OpRequest{Op: lock.OpIncr, Key: "fence:orders"})
		if !resp.OK || resp.Value != want {
			t.Fatalf("expected incr %d: %+v", want, resp)
		}
	}
}

func TestServerRejectsMalformedRequests(t *testing.T) {
	ts := newTestServer(t)

	httpResp, _ := postOp(t, ts, lock.OpRequest{Op: "NOPE", Key: "k"})
	if httpResp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown op: status %d", httpResp.StatusCode)
	}
	httpResp, _ = postOp(t, ts, lock.OpRequest{Op: lock.OpCreate, Key: "k"})
	if httpResp.StatusCode != http.StatusBadRequest {
		t.Fatalf("create without value/ttl: status %d", httpResp.StatusCode)
	}
	httpResp, _ = postOp(t, ts, lock.OpRequest{Op: lock.OpCreate, Value: "v", TTLMs: 1000})
	if httpResp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing key: status %d", httpResp.StatusCode)
	}

	resp, err := http.Post(ts.URL+"/api/v1/store", "application/json", bytes.NewReader([]byte("{")))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid json: status %d", resp.StatusCode)
	}
}

func TestServerHealthz(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status %d", resp.StatusCode)
	}
}

// Five lockd daemons as quorum participants, exercised through HTTPStore.
func TestQuorumOverWireContract(t *testing.T) {
	servers := make([]*httptest.Server, 5)
	stores := make([]lock.Store, 5)
	for i := range servers {
		servers[i] = newTestServer(t)
		s, err := lock.NewHTTPStore(servers[i].URL)
		if err != nil {
			t.Fatalf("new http store: %v", err)
		}
		stores[i] = s
	}

	client, err := lock.NewQuorumClient(stores, lock.QuorumOptions{
		PerStoreTimeout: time.Second,
		DriftMargin:     50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new quorum client: %v", err)
	}
	ctx := context.Background()

	// Two unreachable daemons leave an exact majority; the grant stands.
	servers[3].Close()
	servers[4].Close()
	lease, ok, err := client.Acquire(ctx, "orders", 5*time.Second)
	if err != nil || !ok {
		t.Fatalf("expected grant with 3/5 daemons up, err=%v ok=%v", err, ok)
	}
	if err := client.Release(ctx, lease.Resource, lease.Owner); err != nil {
		t.Fatalf("release: %v", err)
	}

	// Losing one more daemon breaks the majority.
	servers[2].Close()
	if _, ok, err := client.Acquire(ctx, "orders", 5*time.Second); err != nil || ok {
		t.Fatalf("expected no grant with 2/5 daemons up, err=%v ok=%v", err, ok)
	}
}
