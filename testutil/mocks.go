package testutil

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
)

// FakeExtractorRun is a scripted extractor.CommandRunner. Each invocation is
// matched against the URL argument (the last arg) and answered with canned
// JSON-lines output. Unmatched URLs report an error with no output, like a
// channel yt-dlp cannot resolve.
type FakeExtractorRun struct {
	mu      sync.Mutex
	byURL   map[string][]byte
	errs    map[string]error
	hangs   map[string]bool
	Calls   []string // URLs in invocation order
	ArgLogs [][]string
}

// NewFakeExtractorRun returns an empty scripted runner.
func NewFakeExtractorRun() *FakeExtractorRun {
	return &FakeExtractorRun{
		byURL: make(map[string][]byte),
		errs:  make(map[string]error),
		hangs: make(map[string]bool),
	}
}

// Script sets the records returned for a URL, encoded one JSON object per line.
func (f *FakeExtractorRun) Script(t *testing.T, url string, records ...map[string]any) {
	t.Helper()
	var b strings.Builder
	for _, rec := range records {
		line, err := json.Marshal(rec)
		if err != nil {
			t.Fatalf("marshal scripted record: %v", err)
		}
		b.Write(line)
		b.WriteByte('\n')
	}
	f.mu.Lock()
	f.byURL[url] = []byte(b.String())
	f.mu.Unlock()
}

// ScriptError makes invocations for url fail with err alongside any scripted
// output, modelling a nonzero exit with partial results.
func (f *FakeExtractorRun) ScriptError(url string, err error) {
	f.mu.Lock()
	f.errs[url] = err
	f.mu.Unlock()
}

// ScriptHang makes invocations for url block until the context is cancelled,
// modelling an extractor that never produces output.
func (f *FakeExtractorRun) ScriptHang(url string) {
	f.mu.Lock()
	f.hangs[url] = true
	f.mu.Unlock()
}

// Run implements extractor.CommandRunner.
func (f *FakeExtractorRun) Run(ctx context.Context, _ string, args ...string) ([]byte, error) {
	url := ""
	if len(args) > 0 {
		url = args[len(args)-1]
	}
	f.mu.Lock()
	f.Calls = append(f.Calls, url)
	f.ArgLogs = append(f.ArgLogs, append([]string(nil), args...))
	out, ok := f.byURL[url]
	err, bad := f.errs[url]
	hang := f.hangs[url]
	f.mu.Unlock()

	if hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if bad {
		return out, err
	}
	if !ok {
		return nil, errors.New("exit status 1")
	}
	return out, nil
}
