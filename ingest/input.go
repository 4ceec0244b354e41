// Package ingest coordinates the full pipeline: parse the input roster,
// enumerate each channel, persist persons and videos, and optionally transfer
// media into object storage, all under the recovery substrate.
package ingest

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// Entry is one roster line: a channel to ingest with optional owner details.
type Entry struct {
	Name       string
	Email      string
	ChannelURL string
}

// ParseInputFile reads the channel roster. Each non-blank, non-comment line is
// either a bare channel URL, "name,url", or "name,email,url". Owner names
// missing from the roster are filled from the probed channel title later.
func ParseInputFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input file: %w", err)
	}
	defer f.Close()

	var entries []Entry
	seen := make(map[string]int)
	sc := bufio.NewScanner(f)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		e, err := parseLine(line)
		if err != nil {
			return nil, fmt.Errorf("input line %d: %w", lineNo, err)
		}
		if prev, ok := seen[e.ChannelURL]; ok {
			return nil, fmt.Errorf("input line %d: channel %s already listed on line %d", lineNo, e.ChannelURL, prev)
		}
		seen[e.ChannelURL] = lineNo
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read input file: %w", err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("input file %s contains no channels", path)
	}
	return entries, nil
}

func parseLine(line string) (Entry, error) {
	fields := strings.Split(line, ",")
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	var e Entry
	switch len(fields) {
	case 1:
		e.ChannelURL = fields[0]
	case 2:
		e.Name, e.ChannelURL = fields[0], fields[1]
	case 3:
		e.Name, e.Email, e.ChannelURL = fields[0], fields[1], fields[2]
	default:
		return Entry{}, fmt.Errorf("expected 1-3 comma-separated fields, got %d", len(fields))
	}
	if !strings.HasPrefix(e.ChannelURL, "http") {
		return Entry{}, fmt.Errorf("last field %q is not a channel URL", e.ChannelURL)
	}
	return e, nil
}
