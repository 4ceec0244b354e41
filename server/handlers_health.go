package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/onnwee/channel-harvest/recovery"
)

// Handlers carries the shared dependencies for all HTTP handlers.
type Handlers struct {
	deps Deps
}

// HandleHealthz responds to liveness probes. In SQL mode the database must be
// reachable; in-memory mode is always live.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if h.deps.SQL != nil {
		if err := h.deps.SQL.PingContext(r.Context()); err != nil {
			http.Error(w, "unhealthy", http.StatusServiceUnavailable)
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz responds to readiness probes with detailed system checks: the
// database, the extractor binary, and the transfer circuit breakers.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"database", func() error {
			if h.deps.SQL == nil {
				return nil
			}
			return h.deps.SQL.PingContext(r.Context())
		}},
		{"extractor", func() error {
			if h.deps.Ext == nil {
				return nil
			}
			return h.deps.Ext.CheckDependency()
		}},
		{"circuit_breaker", func() error {
			if h.deps.Rec == nil {
				return nil
			}
			for op, state := range h.deps.Rec.BreakerStates() {
				if state == recovery.BreakerOpen {
					return fmt.Errorf("circuit breaker %s open", op)
				}
			}
			return nil
		}},
	}

	for _, check := range checks {
		if err := check.fn(); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"status":       "not_ready",
				"failed_check": check.name,
				"error":        err.Error(),
			})
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}
