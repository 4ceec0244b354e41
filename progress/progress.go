// Package progress tracks per-job ingestion counters, persists them through
// the store, mirrors them to an atomic JSON snapshot file, and estimates
// completion from the observed channel throughput.
package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/renameio/v2"

	"github.com/onnwee/channel-harvest/db"
	"github.com/onnwee/channel-harvest/model"
)

// Callback observes each counter mutation with a consistent snapshot.
type Callback func(model.Progress)

// Monitor owns the live counters for one job. All mutations are serialized;
// snapshots are value copies and safe to retain.
type Monitor struct {
	mu        sync.Mutex
	p         model.Progress
	callbacks []Callback

	store        db.Store // optional; nil in no-persistence mode
	snapshotPath string   // optional; "" disables the file mirror
}

// NewMonitor starts a running job with the given totals.
func NewMonitor(jobID, inputFile string, totalChannels int) *Monitor {
	return &Monitor{p: model.Progress{
		JobID:         jobID,
		InputFile:     inputFile,
		TotalChannels: totalChannels,
		Status:        model.JobRunning,
		StartedAt:     time.Now().UTC(),
	}}
}

// Resume continues a previously persisted job. The counters are zeroed: the
// new run recounts every channel, and already-persisted videos come back as
// skips, so processed+failed+skipped never exceeds the totals. Job identity
// and the original start time are kept.
func Resume(saved *model.Progress, totalChannels int) *Monitor {
	cp := *saved
	cp.Status = model.JobRunning
	cp.TotalChannels = totalChannels
	cp.ChannelsProcessed, cp.ChannelsFailed, cp.ChannelsSkipped = 0, 0, 0
	cp.TotalVideos, cp.VideosProcessed, cp.VideosFailed, cp.VideosSkipped = 0, 0, 0, 0
	cp.ErrorMsg = ""
	cp.CompletedAt = time.Time{}
	return &Monitor{p: cp}
}

// AttachStore enables persistence flushes through the store.
func (m *Monitor) AttachStore(s db.Store) { m.store = s }

// AttachSnapshot mirrors every flush to path via an atomic rename.
func (m *Monitor) AttachSnapshot(path string) { m.snapshotPath = path }

// OnUpdate registers a callback invoked after every counter change.
func (m *Monitor) OnUpdate(cb Callback) {
	m.mu.Lock()
	m.callbacks = append(m.callbacks, cb)
	m.mu.Unlock()
}

func (m *Monitor) mutate(f func(*model.Progress)) {
	m.mu.Lock()
	f(&m.p)
	snap := m.p
	cbs := m.callbacks
	m.mu.Unlock()
	for _, cb := range cbs {
		cb(snap)
	}
}

// ChannelProcessed records one channel finishing successfully.
func (m *Monitor) ChannelProcessed() { m.mutate(func(p *model.Progress) { p.ChannelsProcessed++ }) }

// ChannelFailed records one channel failing after recovery was exhausted.
func (m *Monitor) ChannelFailed() { m.mutate(func(p *model.Progress) { p.ChannelsFailed++ }) }

// ChannelSkipped records one channel skipped by policy.
func (m *Monitor) ChannelSkipped() { m.mutate(func(p *model.Progress) { p.ChannelsSkipped++ }) }

// VideosDiscovered raises the video total after an enumeration.
func (m *Monitor) VideosDiscovered(n int) { m.mutate(func(p *model.Progress) { p.TotalVideos += n }) }

// VideoProcessed records one video persisted.
func (m *Monitor) VideoProcessed() { m.mutate(func(p *model.Progress) { p.VideosProcessed++ }) }

// VideoFailed records one video that could not be persisted or transferred.
func (m *Monitor) VideoFailed() { m.mutate(func(p *model.Progress) { p.VideosFailed++ }) }

// VideoSkipped records one duplicate video.
func (m *Monitor) VideoSkipped() { m.mutate(func(p *model.Progress) { p.VideosSkipped++ }) }

// SetStatus transitions the job. Transitions out of a terminal status are
// rejected.
func (m *Monitor) SetStatus(status model.JobStatus, errMsg string) error {
	var rejected error
	m.mutate(func(p *model.Progress) {
		if p.Status.Terminal() && status != p.Status {
			rejected = fmt.Errorf("job %s is already %s", p.JobID, p.Status)
			return
		}
		p.Status = status
		p.ErrorMsg = errMsg
		if status.Terminal() && p.CompletedAt.IsZero() {
			p.CompletedAt = time.Now().UTC()
		}
	})
	return rejected
}

// Snapshot returns a copy of the current counters.
func (m *Monitor) Snapshot() model.Progress {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.p
}

// Percent reports channel completion in [0,100]. Unknown totals report 0.
func (m *Monitor) Percent() float64 {
	s := m.Snapshot()
	if s.TotalChannels == 0 {
		return 0
	}
	done := s.ChannelsProcessed + s.ChannelsFailed + s.ChannelsSkipped
	return float64(done) / float64(s.TotalChannels) * 100
}

// ETA estimates time remaining from the average per-channel duration so far.
// Returns false until at least one channel has finished.
func (m *Monitor) ETA() (time.Duration, bool) {
	s := m.Snapshot()
	done := s.ChannelsProcessed + s.ChannelsFailed + s.ChannelsSkipped
	if done == 0 || s.TotalChannels == 0 {
		return 0, false
	}
	elapsed := time.Since(s.StartedAt)
	remaining := s.TotalChannels - done
	if remaining <= 0 {
		return 0, true
	}
	perChannel := elapsed / time.Duration(done)
	return perChannel * time.Duration(remaining), true
}

// Flush persists the counters through the store and rewrites the snapshot
// file. Either sink may be absent.
func (m *Monitor) Flush(ctx context.Context) error {
	snap := m.Snapshot()
	if m.store != nil {
		if err := m.store.UpdateProgress(ctx, &snap); err != nil {
			return fmt.Errorf("flush progress: %w", err)
		}
	}
	if m.snapshotPath != "" {
		data, err := json.MarshalIndent(snap, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal progress snapshot: %w", err)
		}
		if err := renameio.WriteFile(m.snapshotPath, data, 0o644); err != nil {
			return fmt.Errorf("write progress snapshot: %w", err)
		}
	}
	return nil
}

// Run logs and flushes on the interval until ctx is done, then flushes once
// more so the final counters are never lost.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			fctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := m.Flush(fctx); err != nil {
				slog.Warn("final progress flush failed", slog.Any("err", err))
			}
			cancel()
			return
		case <-t.C:
			s := m.Snapshot()
			attrs := []any{
				slog.String("job_id", s.JobID),
				slog.Int("channels_done", s.ChannelsProcessed),
				slog.Int("channels_failed", s.ChannelsFailed),
				slog.Int("channels_total", s.TotalChannels),
				slog.Int("videos_done", s.VideosProcessed),
				slog.Int("videos_skipped", s.VideosSkipped),
				slog.String("percent", fmt.Sprintf("%.1f%%", m.Percent())),
			}
			if eta, ok := m.ETA(); ok {
				attrs = append(attrs, slog.Duration("eta", eta.Round(time.Second)))
			}
			slog.Info("ingestion progress", attrs...)
			if err := m.Flush(ctx); err != nil {
				slog.Warn("progress flush failed", slog.Any("err", err))
			}
		}
	}
}
