// Package extractor wraps the external media-extractor tool (yt-dlp). It
// probes channels, enumerates their videos as one-JSON-object-per-line
// records, and turns each record into a typed VideoMetadata. All invocations
// are gated by the per-service rate limiter.
package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/onnwee/channel-harvest/ratelimit"
	"github.com/onnwee/channel-harvest/recovery"
	"github.com/onnwee/channel-harvest/telemetry"
)

// RateService is the limiter bucket guarding every extractor invocation.
const RateService = "youtube"

// Default invocation timeouts: a channel-info probe is one flat item,
// enumeration can page through thousands.
const (
	defaultProbeTimeout = 60 * time.Second
	defaultEnumTimeout  = 300 * time.Second
	rateWait            = 60 * time.Second
)

// CommandRunner executes an external command and returns its stdout. On a
// nonzero exit the bytes produced so far are still returned alongside the
// error, so callers can salvage partial output.
type CommandRunner func(ctx context.Context, binary string, args ...string) ([]byte, error)

func defaultRunner(ctx context.Context, binary string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, binary, args...)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	err := cmd.Run()
	return stdout.Bytes(), err
}

// ChannelInfo is the channel-identifying result of a probe.
type ChannelInfo struct {
	ChannelID string
	Title     string
	URL       string
}

// Extractor invokes the external tool under rate limiting.
type Extractor struct {
	Binary  string
	Run     CommandRunner
	Limiter *ratelimit.Limiter

	ProbeTimeout time.Duration
	EnumTimeout  time.Duration
}

// New builds an Extractor shelling out to binary (default "yt-dlp").
func New(binary string, limiter *ratelimit.Limiter) *Extractor {
	if strings.TrimSpace(binary) == "" {
		binary = "yt-dlp"
	}
	return &Extractor{
		Binary:       binary,
		Run:          defaultRunner,
		Limiter:      limiter,
		ProbeTimeout: defaultProbeTimeout,
		EnumTimeout:  defaultEnumTimeout,
	}
}

// CheckDependency verifies the extractor binary is installed. A missing tool
// is fatal at startup.
func (e *Extractor) CheckDependency() error {
	if _, err := exec.LookPath(e.Binary); err != nil {
		return recovery.Ef(recovery.KindDependencyMissing, "extractor", "%s not found in PATH", e.Binary)
	}
	return nil
}

// baseArgs: emit one JSON object per line, flat playlist, ignore per-item
// errors.
func (e *Extractor) baseArgs() []string {
	return []string{"--dump-json", "--flat-playlist", "--ignore-errors", "--no-warnings"}
}

func (e *Extractor) wait(ctx context.Context, op string) error {
	if e.Limiter == nil {
		return nil
	}
	if !e.Limiter.Wait(ctx, RateService, 1, rateWait) {
		return recovery.Ef(recovery.KindRateLimitTimeout, op, "rate limiter wait for %q timed out", RateService)
	}
	return nil
}

// ProbeChannel runs a single flat-list first-item invocation and coalesces
// the channel-identifying fields. When no native channel id can be found it
// is derived from the URL, or synthesized as UNKNOWN_<title-prefix>.
func (e *Extractor) ProbeChannel(ctx context.Context, channelURL string) (*ChannelInfo, error) {
	normalized, err := NormalizeChannelURL(channelURL)
	if err != nil {
		return nil, err
	}
	if err := e.wait(ctx, "probe_channel"); err != nil {
		return nil, err
	}
	cctx, cancel := context.WithTimeout(ctx, e.ProbeTimeout)
	defer cancel()

	args := append(e.baseArgs(), "--playlist-items", "1", normalized)
	out, runErr := e.Run(cctx, e.Binary, args...)
	records := decodeLines(out)
	if len(records) == 0 {
		if cctx.Err() != nil {
			return nil, recovery.E(recovery.KindTransport, "probe_channel", cctx.Err())
		}
		if runErr != nil {
			return nil, recovery.E(recovery.KindNotFound, "probe_channel", fmt.Errorf("no output for %s: %w", normalized, runErr))
		}
		return nil, recovery.Ef(recovery.KindNotFound, "probe_channel", "channel %s produced no records", normalized)
	}
	rec := records[0]

	info := &ChannelInfo{URL: normalized}
	// Channel title priority: channel, uploader, playlist_title, then the
	// record's own title.
	for _, key := range []string{"channel", "uploader", "playlist_title", "title"} {
		if s := strings.TrimSpace(stringField(rec, key)); s != "" {
			info.Title = s
			break
		}
	}
	info.ChannelID = pickChannelID(rec)
	if info.ChannelID == "" {
		info.ChannelID = channelIDFromURL(normalized)
	}
	if info.ChannelID == "" {
		prefix := info.Title
		if len(prefix) > 20 {
			prefix = prefix[:20]
		}
		info.ChannelID = "UNKNOWN_" + strings.ReplaceAll(prefix, " ", "_")
	}
	return info, nil
}

// Enumerate lists the channel's videos in extractor emission order, up to
// maxVideos (0 means no cap). A nonzero exit that still produced lines is
// treated as partial results with a warning; a nonzero exit with no output
// is a not-found condition the caller may downgrade to an empty channel.
func (e *Extractor) Enumerate(ctx context.Context, channelURL string, maxVideos int) ([]*VideoMetadata, error) {
	normalized, err := NormalizeChannelURL(channelURL)
	if err != nil {
		return nil, err
	}
	if err := e.wait(ctx, "enumerate"); err != nil {
		return nil, err
	}
	cctx, cancel := context.WithTimeout(ctx, e.EnumTimeout)
	defer cancel()

	args := e.baseArgs()
	if maxVideos > 0 {
		args = append(args, "--playlist-end", strconv.Itoa(maxVideos))
	}
	args = append(args, normalized)

	var out []byte
	var runErr error
	telemetry.TimeFunc(telemetry.EnumerationDuration, func() {
		out, runErr = e.Run(cctx, e.Binary, args...)
	})

	records := decodeLines(out)
	if len(records) == 0 {
		if cctx.Err() != nil {
			return nil, recovery.E(recovery.KindTransport, "enumerate", cctx.Err())
		}
		if runErr != nil {
			return nil, recovery.E(recovery.KindNotFound, "enumerate", fmt.Errorf("no output for %s: %w", normalized, runErr))
		}
		return nil, nil
	}
	if runErr != nil {
		slog.Warn("extractor exited nonzero with partial output",
			slog.String("channel_url", normalized),
			slog.Int("records", len(records)),
			slog.Any("err", runErr))
	}

	videos := make([]*VideoMetadata, 0, len(records))
	for _, rec := range records {
		vm, err := parseVideoMetadata(rec)
		if err != nil {
			slog.Warn("skipping unparseable record", slog.String("channel_url", normalized), slog.Any("err", err))
			continue
		}
		videos = append(videos, vm)
		if maxVideos > 0 && len(videos) >= maxVideos {
			break
		}
	}
	return videos, nil
}

// decodeLines parses each non-empty output line as one JSON record. Parse
// failures are warned and skipped, never fatal.
func decodeLines(out []byte) []map[string]any {
	var records []map[string]any
	for _, line := range bytes.Split(out, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var rec map[string]any
		if err := json.Unmarshal(line, &rec); err != nil {
			slog.Warn("skipping malformed extractor line", slog.Any("err", err))
			continue
		}
		records = append(records, rec)
	}
	return records
}
