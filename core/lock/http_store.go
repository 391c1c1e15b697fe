package lock

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Wire operation names shared with the lockd daemon.
const (
	OpCreate  = "CREATE"
	OpCDelete = "CDELETE"
	OpCExtend = "CEXTEND"
	OpIncr    = "INCR"
)

// OpRequest is the minimal wire contract for one store operation.
type OpRequest struct {
	Op       string `json:"op"`
	Key      string `json:"key"`
	Value    string `json:"value,omitempty"`
	TTLMs    int64  `json:"ttlMs,omitempty"`
	Expected string `json:"expected,omitempty"`
}

// OpResponse is the wire result of one store operation.
type OpResponse struct {
	OK    bool   `json:"ok"`
	Value int64  `json:"value,omitempty"`
	Err   string `json:"err,omitempty"`
}

// HTTPStore implements Store against a remote lockd daemon speaking the
// wire contract. Any transport failure surfaces as an error so the quorum
// client can count it as a negative vote.
type HTTPStore struct {
	baseURL string
	client  *http.Client
}

// NewHTTPStore points a store client at a lockd base URL.
func NewHTTPStore(baseURL string) (*HTTPStore, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("base url required")
	}
	return &HTTPStore{
		baseURL: baseURL,
		// Per-call deadlines come from the caller's context; the transport
		// timeout is only a backstop against leaked connections.
		client: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (s *HTTPStore) TryCreate(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	resp, err := s.do(ctx, OpRequest{Op: OpCreate, Key: key, Value: value, TTLMs: ttl.Milliseconds()})
	if err != nil {
		return false, err
	}
	return resp.OK, nil
}

func (s *HTTPStore) CompareAndDelete(ctx context.Context, key, expected string) (bool, error) {
	resp, err := s.do(ctx, OpRequest{Op: OpCDelete, Key: key, Expected: expected})
	if err != nil {
		return false, err
	}
	return resp.OK, nil
}

func (s *HTTPStore) CompareAndExtend(ctx context.Context, key, expected string, ttl time.Duration) (bool, error) {
	resp, err := s.do(ctx, OpRequest{Op: OpCExtend, Key: key, Expected: expected, TTLMs: ttl.Milliseconds()})
	if err != nil {
		return false, err
	}
	return resp.OK, nil
}

func (s *HTTPStore) AtomicIncrement(ctx context.Context, key string) (int64, error) {
	resp, err := s.do(ctx, OpRequest{Op: OpIncr, Key: key})
	if err != nil {
		return 0, err
	}
	if !resp.OK {
		return 0, fmt.Errorf("increment rejected")
	}
	return resp.Value, nil
}

func (s *HTTPStore) do(ctx context.Context, op OpRequest) (*OpResponse, error) {
	body, err := json.Marshal(op)
	if err != nil {
		return nil, fmt.Errorf("encode store op: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/api/v1/store", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build store request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	httpResp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("store %s unreachable: %w", s.baseURL, err)
	}
	defer func() { _ = httpResp.Body.Close() }()
	data, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<16))
	if err != nil {
		return nil, fmt.Errorf("read store response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("store %s status %d: %s", s.baseURL, httpResp.StatusCode, strings.TrimSpace(string(data)))
	}
	var resp OpResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode store response: %w", err)
	}
	if resp.Err != "" {
		return nil, fmt.Errorf("store %s: %s", s.baseURL, resp.Err)
	}
	return &resp, nil
}
