package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/onnwee/channel-harvest/db"
	"github.com/onnwee/channel-harvest/extractor"
	"github.com/onnwee/channel-harvest/progress"
	"github.com/onnwee/channel-harvest/ratelimit"
	"github.com/onnwee/channel-harvest/recovery"
)

func newTestDeps(t *testing.T) Deps {
	t.Helper()
	limiter, err := ratelimit.New(nil)
	if err != nil {
		t.Fatal(err)
	}
	rec, err := recovery.NewManager(t.TempDir(), 10)
	if err != nil {
		t.Fatal(err)
	}
	mon := progress.NewMonitor("job_http", "channels.txt", 2)
	return Deps{
		Store:    db.NewMemStore(),
		Ext:      extractor.New("sh", limiter),
		Limiter:  limiter,
		Rec:      rec,
		Progress: func() *progress.Monitor { return mon },
	}
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHealthz(t *testing.T) {
	h := NewMux(newTestDeps(t))
	rr := get(t, h, "/healthz")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if body := rr.Body.String(); body != "ok" {
		t.Fatalf("body = %q", body)
	}
	if rr.Header().Get("X-Correlation-ID") == "" {
		t.Fatal("correlation id header missing")
	}
}

func TestHealthzEchoesCorrelationID(t *testing.T) {
	h := NewMux(newTestDeps(t))
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Correlation-ID", "corr-123")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if got := rr.Header().Get("X-Correlation-ID"); got != "corr-123" {
		t.Fatalf("correlation id = %q", got)
	}
}

func TestReadyzReady(t *testing.T) {
	h := NewMux(newTestDeps(t))
	rr := get(t, h, "/readyz")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	var body map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ready" {
		t.Fatalf("body = %v", body)
	}
}

func TestReadyzExtractorMissing(t *testing.T) {
	deps := newTestDeps(t)
	deps.Ext = extractor.New("definitely-not-a-real-binary-xyz", nil)
	rr := get(t, NewMux(deps), "/readyz")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rr.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["failed_check"] != "extractor" {
		t.Fatalf("failed_check = %q", body["failed_check"])
	}
}

func TestReadyzOpenBreaker(t *testing.T) {
	deps := newTestDeps(t)
	cb := deps.Rec.Breaker("transfer:stuck")
	cb.FailureThreshold = 1
	_ = cb.Call(context.Background(), func(context.Context) error { return errors.New("down") }, nil)
	rr := get(t, NewMux(deps), "/readyz")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "circuit_breaker") {
		t.Fatalf("body = %s", rr.Body.String())
	}
}

func TestStatusDocument(t *testing.T) {
	deps := newTestDeps(t)
	mon := deps.Progress()
	mon.ChannelProcessed()
	mon.VideosDiscovered(5)
	// Touch the limiter so StatusAll has a bucket to report.
	deps.Limiter.Acquire("youtube", 1)

	rr := get(t, NewMux(deps), "/status")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}

	job, ok := body["job"].(map[string]any)
	if !ok {
		t.Fatalf("no job section: %v", body)
	}
	if job["job_id"] != "job_http" || job["channels_processed"] != float64(1) {
		t.Fatalf("job section: %v", job)
	}
	if job["percent"] != float64(50) {
		t.Fatalf("percent = %v", job["percent"])
	}

	if _, ok := body["store"].(map[string]any); !ok {
		t.Fatalf("no store section: %v", body)
	}
	limits, ok := body["rate_limits"].(map[string]any)
	if !ok || limits["youtube"] == nil {
		t.Fatalf("rate_limits section: %v", body["rate_limits"])
	}
	if body["dead_letter_depth"] != float64(0) {
		t.Fatalf("dead_letter_depth = %v", body["dead_letter_depth"])
	}
}

func TestStatusWithoutJob(t *testing.T) {
	deps := newTestDeps(t)
	deps.Progress = func() *progress.Monitor { return nil }
	rr := get(t, NewMux(deps), "/status")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if _, ok := body["job"]; ok {
		t.Fatal("job section must be absent before a job starts")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	rr := get(t, NewMux(newTestDeps(t)), "/metrics")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "go_goroutines") {
		t.Fatal("metrics output missing standard collectors")
	}
}
