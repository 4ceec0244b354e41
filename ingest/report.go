package ingest

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/renameio/v2"

	"github.com/onnwee/channel-harvest/model"
)

// WriteReport renders the end-of-job summary to
// <report_dir>/mass_download_report_<job_id>.txt, written atomically.
func (c *Coordinator) WriteReport(ctx context.Context) error {
	snap := c.Progress.Snapshot()
	var b strings.Builder
	fmt.Fprintf(&b, "Ingestion report for job %s\n", snap.JobID)
	fmt.Fprintf(&b, "Generated: %s\n\n", time.Now().UTC().Format(time.RFC3339))

	fmt.Fprintf(&b, "Status:     %s\n", snap.Status)
	if snap.ErrorMsg != "" {
		fmt.Fprintf(&b, "Note:       %s\n", snap.ErrorMsg)
	}
	fmt.Fprintf(&b, "Input:      %s\n", snap.InputFile)
	fmt.Fprintf(&b, "Started:    %s\n", snap.StartedAt.Format(time.RFC3339))
	if !snap.CompletedAt.IsZero() {
		fmt.Fprintf(&b, "Completed:  %s (%s)\n", snap.CompletedAt.Format(time.RFC3339),
			snap.CompletedAt.Sub(snap.StartedAt).Round(time.Second))
	}

	fmt.Fprintf(&b, "\nChannels: %d total, %d processed, %d failed, %d skipped\n",
		snap.TotalChannels, snap.ChannelsProcessed, snap.ChannelsFailed, snap.ChannelsSkipped)
	fmt.Fprintf(&b, "Videos:   %d discovered, %d processed, %d failed, %d skipped\n",
		snap.TotalVideos, snap.VideosProcessed, snap.VideosFailed, snap.VideosSkipped)

	if st, err := c.Store.Stats(ctx); err == nil {
		fmt.Fprintf(&b, "\nStore totals: %d persons, %d videos, %s\n",
			st.TotalPersons, st.TotalVideos, humanBytes(st.TotalBytes))
		for _, status := range []model.DownloadStatus{
			model.StatusPending, model.StatusDownloading, model.StatusCompleted,
			model.StatusFailed, model.StatusSkipped,
		} {
			if n := st.ByStatus[status]; n > 0 {
				fmt.Fprintf(&b, "  %-12s %d\n", status, n)
			}
		}
		if len(st.PerPerson) > 0 {
			fmt.Fprintf(&b, "\nPer channel owner:\n")
			for _, ps := range st.PerPerson {
				fmt.Fprintf(&b, "  %-30s %5d videos  %s\n", ps.Name, ps.Videos, humanBytes(ps.Bytes))
			}
		}
	}

	if c.Rec != nil {
		if n := c.Rec.DLQ.Len(); n > 0 {
			fmt.Fprintf(&b, "\nDead-letter queue: %d unresolved operations\n", n)
			for _, dl := range c.Rec.DLQ.Items() {
				fmt.Fprintf(&b, "  %s: %s (%s, retried %d)\n",
					dl.Item, dl.Error.ErrorMessage, dl.Error.ErrorType, dl.Error.RetryCount)
			}
		}
	}

	path := filepath.Join(c.Opts.ReportDir, fmt.Sprintf("mass_download_report_%s.txt", snap.JobID))
	if err := renameio.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
