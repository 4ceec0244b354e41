package recovery

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *CheckpointStore {
	t.Helper()
	s, err := NewCheckpointStore(filepath.Join(t.TempDir(), "checkpoints"))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestCheckpointSaveLoad(t *testing.T) {
	s := newTestStore(t)
	cp := &Checkpoint{
		ID:        "chan_abc_20250101T000000",
		Operation: "process_channel",
		State:     map[string]string{"channel_url": "https://www.youtube.com/@abc"},
		Completed: []string{"vid00000001", "vid00000002"},
		Pending:   []string{"vid00000003"},
	}
	if err := s.Save(cp); err != nil {
		t.Fatal(err)
	}
	got, err := s.Load(cp.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Version != checkpointVersion {
		t.Fatalf("version = %d, want %d", got.Version, checkpointVersion)
	}
	if len(got.Completed) != 2 || got.Pending[0] != "vid00000003" {
		t.Fatalf("roundtrip mismatch: %+v", got)
	}
	if got.State["channel_url"] != cp.State["channel_url"] {
		t.Fatal("state map lost")
	}
}

func TestCheckpointRejectsOverlappingLists(t *testing.T) {
	s := newTestStore(t)
	cp := &Checkpoint{
		ID:        "overlap",
		Completed: []string{"vid00000001"},
		Pending:   []string{"vid00000001"},
	}
	if err := s.Save(cp); err == nil {
		t.Fatal("overlapping completed/pending must be rejected")
	}
	cp = &Checkpoint{
		ID:        "overlap2",
		Completed: []string{"vid00000001"},
		Failed:    []FailedItem{{Item: "vid00000001"}},
	}
	if err := s.Save(cp); err == nil {
		t.Fatal("overlapping completed/failed must be rejected")
	}
}

func TestCheckpointLatest(t *testing.T) {
	s := newTestStore(t)
	if cp, err := s.Latest(); err != nil || cp != nil {
		t.Fatalf("empty store Latest = (%v,%v), want (nil,nil)", cp, err)
	}
	if err := s.Save(&Checkpoint{ID: "first"}); err != nil {
		t.Fatal(err)
	}
	time.Sleep(10 * time.Millisecond)
	if err := s.Save(&Checkpoint{ID: "second"}); err != nil {
		t.Fatal(err)
	}
	got, err := s.Latest()
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != "second" {
		t.Fatalf("Latest = %q, want second", got.ID)
	}
}

func TestCheckpointCleanup(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "checkpoints")
	s, err := NewCheckpointStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Save(&Checkpoint{ID: "old"}); err != nil {
		t.Fatal(err)
	}
	stale := time.Now().Add(-8 * 24 * time.Hour)
	if err := os.Chtimes(s.pathFor("old"), stale, stale); err != nil {
		t.Fatal(err)
	}
	if err := s.Save(&Checkpoint{ID: "fresh"}); err != nil {
		t.Fatal(err)
	}
	removed, err := s.Cleanup(7 * 24 * time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if _, err := s.Load("fresh"); err != nil {
		t.Fatal("fresh checkpoint must survive cleanup")
	}
}

func TestCheckpointIDSanitizes(t *testing.T) {
	id := CheckpointID("https://www.youtube.com/@some channel/with?query")
	for _, r := range id {
		if !(r == '_' || r == '.' || r == '-' ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
			t.Fatalf("unsafe rune %q in checkpoint id %q", r, id)
		}
	}
}
