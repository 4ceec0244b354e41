package ingest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeRoster(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "channels.txt")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParseInputFile(t *testing.T) {
	path := writeRoster(t, `# roster comment
https://www.youtube.com/@bare

Alice,https://www.youtube.com/@alice
Bob Smith, bob@example.com , https://www.youtube.com/@bob
`)
	entries, err := ParseInputFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(entries))
	}
	if entries[0].ChannelURL != "https://www.youtube.com/@bare" || entries[0].Name != "" {
		t.Fatalf("bare line: %+v", entries[0])
	}
	if entries[1].Name != "Alice" || entries[1].Email != "" {
		t.Fatalf("two-field line: %+v", entries[1])
	}
	if entries[2].Name != "Bob Smith" || entries[2].Email != "bob@example.com" ||
		entries[2].ChannelURL != "https://www.youtube.com/@bob" {
		t.Fatalf("three-field line must be trimmed: %+v", entries[2])
	}
}

func TestParseInputFileDuplicateURL(t *testing.T) {
	path := writeRoster(t, `https://www.youtube.com/@dup
Alice,https://www.youtube.com/@dup
`)
	_, err := ParseInputFile(path)
	if err == nil {
		t.Fatal("duplicate channel must be rejected")
	}
	if !strings.Contains(err.Error(), "line 2") || !strings.Contains(err.Error(), "line 1") {
		t.Fatalf("error should name both lines: %v", err)
	}
}

func TestParseInputFileBadLines(t *testing.T) {
	for _, content := range []string{
		"Alice,alice@example.com\n",           // last field not a URL
		"a,b,c,https://www.youtube.com/@x\n",  // too many fields
		"# only comments\n\n",                 // empty roster
	} {
		path := writeRoster(t, content)
		if _, err := ParseInputFile(path); err == nil {
			t.Errorf("content %q must be rejected", content)
		}
	}
}

func TestParseInputFileMissing(t *testing.T) {
	if _, err := ParseInputFile(filepath.Join(t.TempDir(), "nope.txt")); err == nil {
		t.Fatal("missing file must error")
	}
}
