package extractor

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// DownloadOptions select the media variant yt-dlp fetches.
type DownloadOptions struct {
	Resolution string // e.g. "1080"; empty means best available
	Format     string // container hint, e.g. "mp4"
	Subtitles  bool
}

// formatSelector builds the -f argument. Prefer any best streams to maximize
// success; cap height when a resolution is requested.
func (o DownloadOptions) formatSelector() string {
	if o.Resolution != "" {
		return fmt.Sprintf("bestvideo[height<=%s]+bestaudio/best[height<=%s]", o.Resolution, o.Resolution)
	}
	return "bestvideo*+bestaudio/best"
}

func (o DownloadOptions) ext() string {
	if o.Format != "" {
		return o.Format
	}
	return "mp4"
}

func watchURL(videoID string) string {
	return "https://www.youtube.com/watch?v=" + videoID
}

// DownloadToFile fetches one video into destDir and returns the file path.
// The output path is stable per video id so yt-dlp can resume a partial
// download (.part file) across restarts.
func (e *Extractor) DownloadToFile(ctx context.Context, videoID, destDir string, opts DownloadOptions) (string, error) {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir download dir: %w", err)
	}
	out := filepath.Join(destDir, fmt.Sprintf("%s.%s", videoID, opts.ext()))
	args := []string{
		"--continue",
		"--no-warnings",
		"--concurrent-fragments", "4",
		"-f", opts.formatSelector(),
		"-o", out,
	}
	if opts.Format != "" {
		args = append(args, "--merge-output-format", opts.Format)
	}
	if opts.Subtitles {
		args = append(args, "--write-subs", "--sub-langs", "en.*")
	}
	args = append(args, watchURL(videoID))

	cmd := exec.CommandContext(ctx, e.Binary, args...)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("yt-dlp download %s: %w: %s", videoID, err, firstLine(stderr.String()))
	}
	return out, nil
}

// StreamDownload pipes the media directly into w without touching local disk.
// Streaming forces a single muxed format since stdout cannot be merged.
func (e *Extractor) StreamDownload(ctx context.Context, videoID string, opts DownloadOptions, w io.Writer) error {
	format := "best"
	if opts.Resolution != "" {
		format = fmt.Sprintf("best[height<=%s]", opts.Resolution)
	}
	args := []string{
		"--no-warnings",
		"-f", format,
		"-o", "-",
		watchURL(videoID),
	}
	cmd := exec.CommandContext(ctx, e.Binary, args...)
	// Bound Wait once the process is killed so a receiver that stopped
	// draining w cannot wedge the stdout copy forever.
	cmd.WaitDelay = 10 * time.Second
	cmd.Stdout = w
	var stderr strings.Builder
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("yt-dlp stream %s: %w: %s", videoID, err, firstLine(stderr.String()))
	}
	return nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
