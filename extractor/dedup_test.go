package extractor

import "testing"

func TestTrackerMarksAndDetects(t *testing.T) {
	tr := NewTracker()
	if tr.IsDuplicate("abcdefghijk") {
		t.Fatal("fresh tracker must report nothing as duplicate")
	}
	tr.MarkProcessed("abcdefghijk", "uuid-1")
	if !tr.IsDuplicate("abcdefghijk") {
		t.Fatal("marked id must be a duplicate")
	}
	if u, ok := tr.UUIDFor("abcdefghijk"); !ok || u != "uuid-1" {
		t.Fatalf("UUIDFor = (%q,%v)", u, ok)
	}
	if tr.Len() != 1 {
		t.Fatalf("len = %d", tr.Len())
	}
}

func TestTrackerKeepsKnownUUID(t *testing.T) {
	tr := NewTracker()
	tr.MarkProcessed("abcdefghijk", "uuid-1")
	tr.MarkProcessed("abcdefghijk", "")
	if u, _ := tr.UUIDFor("abcdefghijk"); u != "uuid-1" {
		t.Fatalf("empty UUID must not overwrite, got %q", u)
	}
}

func TestTrackerLoadExisting(t *testing.T) {
	tr := NewTracker()
	tr.MarkProcessed("aaaaaaaaaaa", "uuid-a")
	tr.LoadExisting(map[string]string{
		"aaaaaaaaaaa": "",
		"bbbbbbbbbbb": "uuid-b",
	})
	if u, _ := tr.UUIDFor("aaaaaaaaaaa"); u != "uuid-a" {
		t.Fatalf("seed must not clobber known UUID, got %q", u)
	}
	if !tr.IsDuplicate("bbbbbbbbbbb") || tr.Len() != 2 {
		t.Fatal("seeded ids must be tracked")
	}
}
