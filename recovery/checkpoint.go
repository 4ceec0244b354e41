package recovery

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/renameio/v2"
)

// checkpointVersion tags the on-disk record form so future readers can
// migrate. Checkpoints hold only value-type state; re-binding a loaded
// checkpoint to a fresh coordinator is always safe.
const checkpointVersion = 1

// FailedItem is a work item that failed within a checkpointed operation.
type FailedItem struct {
	Item  string       `json:"item"`
	Error ErrorContext `json:"error"`
}

// Checkpoint is a per-channel-attempt snapshot of ingestion progress.
// Completed, Pending and Failed item lists are pairwise disjoint.
type Checkpoint struct {
	Version   int               `json:"version"`
	ID        string            `json:"checkpoint_id"`
	Operation string            `json:"operation"`
	Timestamp time.Time         `json:"timestamp"`
	State     map[string]string `json:"state,omitempty"`
	Completed []string          `json:"completed_items"`
	Pending   []string          `json:"pending_items"`
	Failed    []FailedItem      `json:"failed_items"`
}

// validate enforces the disjointness invariant across the three item lists.
func (c *Checkpoint) validate() error {
	seen := make(map[string]string, len(c.Completed)+len(c.Pending)+len(c.Failed))
	add := func(list string, items []string) error {
		for _, it := range items {
			if prev, ok := seen[it]; ok {
				return fmt.Errorf("checkpoint %s: item %q appears in both %s and %s", c.ID, it, prev, list)
			}
			seen[it] = list
		}
		return nil
	}
	if err := add("completed", c.Completed); err != nil {
		return err
	}
	if err := add("pending", c.Pending); err != nil {
		return err
	}
	failed := make([]string, 0, len(c.Failed))
	for _, f := range c.Failed {
		failed = append(failed, f.Item)
	}
	return add("failed", failed)
}

var checkpointIDUnsafe = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// CheckpointID derives a collision-resistant checkpoint id from a channel
// reference: sanitized URL remainder plus a timestamp.
func CheckpointID(channelRef string) string {
	s := strings.TrimPrefix(channelRef, "https://")
	s = strings.TrimPrefix(s, "http://")
	s = checkpointIDUnsafe.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	if len(s) > 80 {
		s = s[:80]
	}
	return fmt.Sprintf("%s_%s", s, time.Now().UTC().Format("20060102T150405"))
}

// CheckpointStore persists checkpoints as one JSON file per id under a
// directory, written atomically (temp file + rename).
type CheckpointStore struct {
	dir string
}

// NewCheckpointStore creates the directory if needed.
func NewCheckpointStore(dir string) (*CheckpointStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("checkpoint dir: %w", err)
	}
	return &CheckpointStore{dir: dir}, nil
}

func (s *CheckpointStore) pathFor(id string) string {
	return filepath.Join(s.dir, checkpointIDUnsafe.ReplaceAllString(id, "_")+".json")
}

// Save validates and writes the checkpoint.
func (s *CheckpointStore) Save(cp *Checkpoint) error {
	if cp.ID == "" {
		return fmt.Errorf("checkpoint id must not be empty")
	}
	if err := cp.validate(); err != nil {
		return err
	}
	cp.Version = checkpointVersion
	if cp.Timestamp.IsZero() {
		cp.Timestamp = time.Now().UTC()
	}
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	if err := renameio.WriteFile(s.pathFor(cp.ID), data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint %s: %w", cp.ID, err)
	}
	return nil
}

// Load reads one checkpoint by id.
func (s *CheckpointStore) Load(id string) (*Checkpoint, error) {
	data, err := os.ReadFile(s.pathFor(id))
	if err != nil {
		return nil, fmt.Errorf("read checkpoint %s: %w", id, err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", id, err)
	}
	return &cp, nil
}

// Latest returns the most recently written checkpoint, resolved by file
// modification time, or nil when the store is empty.
func (s *CheckpointStore) Latest() (*Checkpoint, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var newest string
	var newestMod time.Time
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if newest == "" || info.ModTime().After(newestMod) {
			newest = e.Name()
			newestMod = info.ModTime()
		}
	}
	if newest == "" {
		return nil, nil
	}
	return s.Load(strings.TrimSuffix(newest, ".json"))
}

// Cleanup removes checkpoints older than maxAge, returning the removed count.
func (s *CheckpointStore) Cleanup(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil {
				slog.Warn("checkpoint cleanup failed", slog.String("file", e.Name()), slog.Any("err", err))
				continue
			}
			removed++
		}
	}
	return removed, nil
}
