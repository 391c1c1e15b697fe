// Package lockd exposes one coordination store over the minimal wire
// contract so independent daemons can serve as quorum participants.
package lockd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/fencelock/fencelock/core/infra/logging"
	"github.com/fencelock/fencelock/core/infra/metrics"
	"github.com/fencelock/fencelock/core/lock"
)

const component = "lockd"

// Server serves the store wire contract over HTTP.
type Server struct {
	store   lock.Store
	metrics metrics.HTTPMetrics
	mux     *http.ServeMux
}

// New builds a server over one backing store.
func New(store lock.Store, m metrics.HTTPMetrics) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("store required")
	}
	if m == nil {
		m = metrics.NoopHTTP{}
	}
	s := &Server{store: store, metrics: m, mux: http.NewServeMux()}
	s.mux.HandleFunc("POST /api/v1/store", s.instrumented("/api/v1/store", s.handleStoreOp))
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	return s, nil
}

// Handler returns the HTTP handler for the wire surface.
func (s *Server) Handler() http.Handler {
	return s.mux
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrumented(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		s.metrics.ObserveRequest(r.Method, route, strconv.Itoa(rec.status), time.Since(start).Seconds())
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleStoreOp(w http.ResponseWriter, r *http.Request) {
	var req lock.OpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Key == "" {
		http.Error(w, "key required", http.StatusBadRequest)
		return
	}

	var resp lock.OpResponse
	switch req.Op {
	case lock.OpCreate:
		if req.Value == "" || req.TTLMs <= 0 {
			http.Error(w, "value and ttlMs required for CREATE", http.StatusBadRequest)
			return
		}
		ok, err := s.store.TryCreate(r.Context(), req.Key, req.Value, time.Duration(req.TTLMs)*time.Millisecond)
		resp = opResult(ok, 0, err)
	case lock.OpCDelete:
		if req.Expected == "" {
			http.Error(w, "expected required for CDELETE", http.StatusBadRequest)
			return
		}
		ok, err := s.store.CompareAndDelete(r.Context(), req.Key, req.Expected)
		resp = opResult(ok, 0, err)
	case lock.OpCExtend:
		if req.Expected == "" || req.TTLMs <= 0 {
			http.Error(w, "expected and ttlMs required for CEXTEND", http.StatusBadRequest)
			return
		}
		ok, err := s.store.CompareAndExtend(r.Context(), req.Key, req.Expected, time.Duration(req.TTLMs)*time.Millisecond)
		resp = opResult(ok, 0, err)
	case lock.OpIncr:
		v, err := s.store.AtomicIncrement(r.Context(), req.Key)
		resp = opResult(err == nil, v, err)
	default:
		http.Error(w, "unknown op", http.StatusBadRequest)
		return
	}

	if resp.Err != "" {
		logging.Error(component, "store op failed", "op", req.Op, "key", req.Key, "error", resp.Err)
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func opResult(ok bool, value int64, err error) lock.OpResponse {
	if err != nil {
		return lock.OpResponse{Err: err.Error()}
	}
	return lock.OpResponse{OK: ok, Value: value}
}
