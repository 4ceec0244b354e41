package progress

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/onnwee/channel-harvest/db"
	"github.com/onnwee/channel-harvest/model"
)

func TestMonitorCounters(t *testing.T) {
	m := NewMonitor("job_1", "channels.txt", 4)
	m.ChannelProcessed()
	m.ChannelProcessed()
	m.ChannelFailed()
	m.ChannelSkipped()
	m.VideosDiscovered(10)
	m.VideoProcessed()
	m.VideoFailed()
	m.VideoSkipped()

	s := m.Snapshot()
	if s.ChannelsProcessed != 2 || s.ChannelsFailed != 1 || s.ChannelsSkipped != 1 {
		t.Fatalf("channel counters: %+v", s)
	}
	if s.TotalVideos != 10 || s.VideosProcessed != 1 || s.VideosFailed != 1 || s.VideosSkipped != 1 {
		t.Fatalf("video counters: %+v", s)
	}
	if got := m.Percent(); got != 100 {
		t.Fatalf("percent = %v, want 100", got)
	}
}

func TestMonitorPercentUnknownTotal(t *testing.T) {
	m := NewMonitor("job_1", "", 0)
	m.ChannelProcessed()
	if got := m.Percent(); got != 0 {
		t.Fatalf("percent with zero total = %v, want 0", got)
	}
}

func TestMonitorTerminalTransitionRejected(t *testing.T) {
	m := NewMonitor("job_1", "", 1)
	if err := m.SetStatus(model.JobCompleted, ""); err != nil {
		t.Fatal(err)
	}
	if m.Snapshot().CompletedAt.IsZero() {
		t.Fatal("terminal status must stamp completed_at")
	}
	if err := m.SetStatus(model.JobRunning, ""); err == nil {
		t.Fatal("transition out of terminal must be rejected")
	}
	// Re-asserting the same terminal status is a no-op, not an error.
	if err := m.SetStatus(model.JobCompleted, ""); err != nil {
		t.Fatal(err)
	}
}

func TestMonitorCallbacks(t *testing.T) {
	m := NewMonitor("job_1", "", 2)
	var seen []int
	m.OnUpdate(func(p model.Progress) { seen = append(seen, p.ChannelsProcessed) })
	m.ChannelProcessed()
	m.ChannelProcessed()
	if len(seen) != 2 || seen[0] != 1 || seen[1] != 2 {
		t.Fatalf("callback snapshots = %v", seen)
	}
}

func TestMonitorETA(t *testing.T) {
	m := NewMonitor("job_1", "", 4)
	if _, ok := m.ETA(); ok {
		t.Fatal("no channels done: ETA must be unavailable")
	}
	// Backdate the start so the per-channel average is meaningful.
	m.mu.Lock()
	m.p.StartedAt = time.Now().Add(-2 * time.Second)
	m.mu.Unlock()
	m.ChannelProcessed()
	m.ChannelProcessed()

	eta, ok := m.ETA()
	if !ok {
		t.Fatal("ETA must be available after progress")
	}
	// 2 channels in ~2s leaves 2 channels at ~1s each.
	if eta < time.Second || eta > 4*time.Second {
		t.Fatalf("eta = %v, want around 2s", eta)
	}

	m.ChannelProcessed()
	m.ChannelFailed()
	if eta, ok := m.ETA(); !ok || eta != 0 {
		t.Fatalf("all channels done: eta = (%v,%v), want (0,true)", eta, ok)
	}
}

func TestMonitorResume(t *testing.T) {
	started := time.Now().Add(-time.Minute)
	saved := &model.Progress{
		JobID:             "job_1",
		TotalChannels:     5,
		ChannelsProcessed: 3,
		ChannelsFailed:    1,
		TotalVideos:       40,
		VideosProcessed:   17,
		Status:            model.JobPaused,
		ErrorMsg:          "interrupted, resumable",
		StartedAt:         started,
	}
	m := Resume(saved, 5)
	s := m.Snapshot()
	if s.Status != model.JobRunning {
		t.Fatalf("resumed status = %s, want running", s.Status)
	}
	if s.JobID != "job_1" || !s.StartedAt.Equal(started) {
		t.Fatalf("resume must keep job identity: %+v", s)
	}
	// The resumed run re-walks the roster, so every counter starts at zero;
	// already-persisted work comes back as skips rather than stale totals.
	if s.ChannelsProcessed != 0 || s.ChannelsFailed != 0 || s.TotalVideos != 0 || s.VideosProcessed != 0 {
		t.Fatalf("resume must reset counters: %+v", s)
	}
	if s.TotalChannels != 5 {
		t.Fatalf("total channels = %d, want roster size", s.TotalChannels)
	}
	if s.ErrorMsg != "" || !s.CompletedAt.IsZero() {
		t.Fatalf("resume must clear terminal fields: %+v", s)
	}
}

func TestMonitorFlush(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemStore()
	m := NewMonitor("job_1", "channels.txt", 2)
	m.AttachStore(store)
	path := filepath.Join(t.TempDir(), "progress.json")
	m.AttachSnapshot(path)

	seed := m.Snapshot()
	if err := store.CreateProgress(ctx, &seed); err != nil {
		t.Fatal(err)
	}

	m.ChannelProcessed()
	if err := m.Flush(ctx); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetProgress(ctx, "job_1")
	if err != nil {
		t.Fatal(err)
	}
	if got.ChannelsProcessed != 1 {
		t.Fatalf("store not updated: %+v", got)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var snap model.Progress
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatal(err)
	}
	if snap.JobID != "job_1" || snap.ChannelsProcessed != 1 {
		t.Fatalf("snapshot file wrong: %+v", snap)
	}
}
