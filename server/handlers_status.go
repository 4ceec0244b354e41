package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/onnwee/channel-harvest/progress"
)

// HandleStatus reports the live job counters, store aggregates, limiter
// utilization, breaker states, resource pressure, and dead-letter depth as one
// JSON document.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{
		"time": time.Now().UTC().Format(time.RFC3339),
	}

	var mon *progress.Monitor
	if h.deps.Progress != nil {
		mon = h.deps.Progress()
	}
	if mon != nil {
		snap := mon.Snapshot()
		job := map[string]any{
			"job_id":             snap.JobID,
			"status":             string(snap.Status),
			"channels_total":     snap.TotalChannels,
			"channels_processed": snap.ChannelsProcessed,
			"channels_failed":    snap.ChannelsFailed,
			"channels_skipped":   snap.ChannelsSkipped,
			"videos_total":       snap.TotalVideos,
			"videos_processed":   snap.VideosProcessed,
			"videos_failed":      snap.VideosFailed,
			"videos_skipped":     snap.VideosSkipped,
			"percent":            mon.Percent(),
			"started_at":         snap.StartedAt.Format(time.RFC3339),
		}
		if eta, ok := mon.ETA(); ok {
			job["eta_seconds"] = int(eta.Seconds())
		}
		out["job"] = job
	}

	if h.deps.Store != nil {
		if st, err := h.deps.Store.Stats(r.Context()); err == nil {
			byStatus := make(map[string]int, len(st.ByStatus))
			for k, v := range st.ByStatus {
				byStatus[string(k)] = v
			}
			out["store"] = map[string]any{
				"persons":     st.TotalPersons,
				"videos":      st.TotalVideos,
				"by_status":   byStatus,
				"total_bytes": st.TotalBytes,
			}
		}
	}

	if h.deps.Limiter != nil {
		out["rate_limits"] = h.deps.Limiter.StatusAll()
	}

	if h.deps.Rec != nil {
		breakers := make(map[string]string)
		for op, state := range h.deps.Rec.BreakerStates() {
			breakers[op] = state.String()
		}
		out["circuit_breakers"] = breakers
		out["dead_letter_depth"] = h.deps.Rec.DLQ.Len()
	}

	if h.deps.Monitor != nil {
		if s, ok := h.deps.Monitor.Latest(); ok {
			out["resources"] = map[string]any{
				"cpu_percent": s.CPUPercent,
				"mem_percent": s.MemPercent,
				"rss_bytes":   s.RSSBytes,
				"goroutines":  s.Goroutines,
				"band":        string(s.Band()),
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}
