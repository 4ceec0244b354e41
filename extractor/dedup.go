package extractor

import "sync"

// Tracker remembers which video ids have already been persisted, mapping each
// to its stable UUID. Seeded from the store at job start so a resumed job
// skips rows it has already written.
type Tracker struct {
	mu   sync.Mutex
	seen map[string]string // video id -> UUID ("" when unknown)
}

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{seen: make(map[string]string)}
}

// IsDuplicate reports whether the id has been seen.
func (t *Tracker) IsDuplicate(videoID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.seen[videoID]
	return ok
}

// MarkProcessed records the id and its UUID. Idempotent; an earlier non-empty
// UUID is never overwritten with an empty one.
func (t *Tracker) MarkProcessed(videoID, uuid string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if prev, ok := t.seen[videoID]; ok && prev != "" && uuid == "" {
		return
	}
	t.seen[videoID] = uuid
}

// UUIDFor returns the recorded UUID for a seen id.
func (t *Tracker) UUIDFor(videoID string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	u, ok := t.seen[videoID]
	return u, ok
}

// LoadExisting seeds the tracker from persistence.
func (t *Tracker) LoadExisting(existing map[string]string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, uuid := range existing {
		if prev, ok := t.seen[id]; ok && prev != "" && uuid == "" {
			continue
		}
		t.seen[id] = uuid
	}
}

// Len returns the number of tracked ids.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.seen)
}
