package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/channel-harvest/db"
	"github.com/onnwee/channel-harvest/extractor"
	"github.com/onnwee/channel-harvest/model"
	"github.com/onnwee/channel-harvest/pool"
	"github.com/onnwee/channel-harvest/progress"
	"github.com/onnwee/channel-harvest/recovery"
	"github.com/onnwee/channel-harvest/resource"
	"github.com/onnwee/channel-harvest/storage"
	"github.com/onnwee/channel-harvest/telemetry"
)

// Options tune one ingestion run. The boolean policy fields are phrased so
// the zero value is the default behavior: skip known videos, keep going past
// failed channels, delete local media after a successful upload.
type Options struct {
	JobID               string
	InputFile           string
	ChannelConcurrency  int
	DownloadConcurrency int
	MaxVideosPerChannel int // 0 means every video
	Downloads           bool
	Streaming           bool // pipe media straight into object storage
	DownloadDir         string
	DownloadOpts        extractor.DownloadOptions
	CheckpointEvery     int
	ReportDir           string
	SnapshotPath        string
	ProgressInterval    time.Duration

	ReprocessExisting     bool          // re-save videos the tracker already knows
	AbortOnChannelFailure bool          // first failed channel cancels the job
	KeepLocalAfterUpload  bool          // leave downloaded files on disk
	ChannelTimeout        time.Duration // per-channel wall clock budget
}

func (o *Options) withDefaults() {
	if o.JobID == "" {
		o.JobID = "job_" + time.Now().UTC().Format("20060102T150405") + "_" + uuid.NewString()[:8]
	}
	if o.ChannelConcurrency < 1 {
		o.ChannelConcurrency = 3
	}
	if o.DownloadConcurrency < 1 {
		o.DownloadConcurrency = 5
	}
	if o.CheckpointEvery < 1 {
		o.CheckpointEvery = 25
	}
	if o.DownloadDir == "" {
		o.DownloadDir = "downloads"
	}
	if o.ReportDir == "" {
		o.ReportDir = "."
	}
	if o.ProgressInterval <= 0 {
		o.ProgressInterval = 30 * time.Second
	}
	if o.ChannelTimeout <= 0 {
		o.ChannelTimeout = time.Hour
		if o.Downloads {
			o.ChannelTimeout = 2 * time.Hour
		}
	}
}

// Coordinator drives the pipeline end to end for one job.
type Coordinator struct {
	Store    db.Store
	Ext      *extractor.Extractor
	Objects  *storage.Client // nil disables uploads
	Rec      *recovery.Manager
	Monitor  *resource.Monitor // nil disables adaptive concurrency
	Opts     Options
	Progress *progress.Monitor

	pool    *pool.Pool
	tracker *extractor.Tracker
}

// New wires a Coordinator. The store and extractor are required; object
// storage, recovery manager and resource monitor degrade gracefully when nil.
func New(store db.Store, ext *extractor.Extractor, objects *storage.Client, rec *recovery.Manager, mon *resource.Monitor, opts Options) *Coordinator {
	opts.withDefaults()
	return &Coordinator{
		Store:   store,
		Ext:     ext,
		Objects: objects,
		Rec:     rec,
		Monitor: mon,
		Opts:    opts,
		pool:    pool.New(opts.ChannelConcurrency, opts.DownloadConcurrency),
		tracker: extractor.NewTracker(),
	}
}

// Run executes the whole job: parse the roster, seed the duplicate tracker,
// process every channel concurrently, and finalize the progress row. A run
// where some channels fail still completes; only cancellation leaves the job
// paused for resumption.
func (c *Coordinator) Run(ctx context.Context) error {
	entries, err := ParseInputFile(c.Opts.InputFile)
	if err != nil {
		return err
	}
	if err := c.Ext.CheckDependency(); err != nil {
		return err
	}

	c.Progress = c.startProgress(ctx, len(entries))

	// jctx fans out to the channel tasks; an abort-on-failure policy cancels
	// it without touching the caller's ctx.
	jctx, jcancel := context.WithCancel(ctx)
	defer jcancel()

	existing, err := c.Store.ListVideoIDs(ctx)
	if err != nil {
		return fmt.Errorf("seed duplicate tracker: %w", err)
	}
	c.tracker.LoadExisting(existing)
	slog.Info("starting ingestion job",
		slog.String("job_id", c.Opts.JobID),
		slog.Int("channels", len(entries)),
		slog.Int("known_videos", c.tracker.Len()))

	mctx, stopMonitors := context.WithCancel(ctx)
	defer stopMonitors()
	go c.Progress.Run(mctx, c.Opts.ProgressInterval)
	if c.Monitor != nil {
		go c.Monitor.Run(mctx, func(_ resource.Sample, rec int) {
			if rec > c.Opts.ChannelConcurrency {
				rec = c.Opts.ChannelConcurrency
			}
			c.pool.Resize(rec)
		})
	}

	futures := make([]*pool.Future, 0, len(entries))
	for _, e := range entries {
		e := e
		futures = append(futures, c.pool.Submit(jctx, func(tctx context.Context) error {
			// Each channel gets a wall-clock budget; overruns count as a
			// failed channel, not a hung job.
			cctx, cancel := context.WithTimeout(tctx, c.Opts.ChannelTimeout)
			defer cancel()
			return c.processEntry(cctx, e)
		}))
	}

	var abortErr error
	for _, f := range futures {
		<-f.Done()
		if err := f.Err(); err != nil && c.Opts.AbortOnChannelFailure && abortErr == nil && ctx.Err() == nil {
			abortErr = err
			jcancel()
		}
	}

	return c.finalize(ctx, abortErr)
}

func (c *Coordinator) startProgress(ctx context.Context, totalChannels int) *progress.Monitor {
	var mon *progress.Monitor
	if saved, err := c.Store.GetProgress(ctx, c.Opts.JobID); err == nil && !saved.Status.Terminal() {
		mon = progress.Resume(saved, totalChannels)
		slog.Info("resuming job", slog.String("job_id", c.Opts.JobID),
			slog.Int("previously_done", saved.ChannelsProcessed))
	} else {
		mon = progress.NewMonitor(c.Opts.JobID, c.Opts.InputFile, totalChannels)
		snap := mon.Snapshot()
		if err := c.Store.CreateProgress(ctx, &snap); err != nil {
			slog.Warn("create progress row failed", slog.Any("err", err))
		}
	}
	mon.AttachStore(c.Store)
	if c.Opts.SnapshotPath != "" {
		mon.AttachSnapshot(c.Opts.SnapshotPath)
	}
	return mon
}

func (c *Coordinator) finalize(ctx context.Context, abortErr error) error {
	snap := c.Progress.Snapshot()
	status := model.JobCompleted
	errMsg := ""
	switch {
	case ctx.Err() != nil:
		status = model.JobPaused
		errMsg = "interrupted, resumable"
	case abortErr != nil:
		status = model.JobFailed
		errMsg = "aborted on channel failure: " + truncateErr(abortErr)
	case snap.ChannelsFailed > 0:
		errMsg = fmt.Sprintf("%d of %d channels failed", snap.ChannelsFailed, snap.TotalChannels)
	}
	if err := c.Progress.SetStatus(status, errMsg); err != nil {
		slog.Warn("progress status transition rejected", slog.Any("err", err))
	}
	fctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.Progress.Flush(fctx); err != nil {
		slog.Warn("final progress flush failed", slog.Any("err", err))
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return abortErr
}

// processEntry runs the per-channel pipeline under a correlation id: probe and
// upsert the owner atomically, enumerate, persist in checkpointed batches, and
// optionally transfer media.
func (c *Coordinator) processEntry(ctx context.Context, e Entry) (err error) {
	corr := uuid.NewString()[:8]
	ctx = telemetry.WithCorrelation(ctx, corr)
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("channel_url", e.ChannelURL))

	start := time.Now()
	defer func() {
		telemetry.ChannelDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			telemetry.ChannelsFailed.Inc()
			c.Progress.ChannelFailed()
			if ctx.Err() == nil {
				log.Error("channel failed", slog.Any("err", err))
			}
		} else {
			telemetry.ChannelsProcessed.Inc()
			c.Progress.ChannelProcessed()
			log.Info("channel done", slog.Duration("took", time.Since(start).Round(time.Millisecond)))
		}
		// Persist the counters after every channel so a crash mid-job loses
		// at most the channel in flight.
		fctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if ferr := c.Progress.Flush(fctx); ferr != nil {
			log.Warn("per-channel progress flush failed", slog.Any("err", ferr))
		}
		cancel()
	}()

	person, err := c.ensurePerson(ctx, e)
	if err != nil {
		// A private or vanished channel is not a pipeline failure: record it
		// as processed with zero videos.
		if recovery.KindOf(err) == recovery.KindNotFound {
			log.Warn("channel unresolvable, treating as empty", slog.Any("err", err))
			return nil
		}
		return err
	}

	var metas []*extractor.VideoMetadata
	enumerate := func(fctx context.Context) error {
		var eerr error
		metas, eerr = c.Ext.Enumerate(fctx, e.ChannelURL, c.Opts.MaxVideosPerChannel)
		return eerr
	}
	if c.Rec != nil {
		err = c.Rec.WithRecovery(ctx, "enumerate:"+e.ChannelURL, enumerate, recovery.StrategyRetryBackoff, nil)
	} else {
		err = enumerate(ctx)
	}
	if err != nil {
		if recovery.KindOf(err) == recovery.KindNotFound {
			log.Warn("enumeration found nothing, treating as empty", slog.Any("err", err))
			return nil
		}
		return fmt.Errorf("enumerate %s: %w", e.ChannelURL, err)
	}
	if len(metas) == 0 {
		log.Info("channel has no videos")
		return nil
	}
	c.Progress.VideosDiscovered(len(metas))

	return c.persistVideos(ctx, log, e, person, metas)
}

// ensurePerson probes the channel and upserts its owner as one logical
// transaction: a failed save deletes nothing, a save that later turns out to
// be part of a failed channel keeps its person row once any video references
// it.
func (c *Coordinator) ensurePerson(ctx context.Context, e Entry) (*model.Person, error) {
	var info *extractor.ChannelInfo
	person := &model.Person{
		Name:       e.Name,
		Email:      e.Email,
		ChannelURL: e.ChannelURL,
	}
	tx := recovery.NewTransaction("ingest_person").
		Add("probe_channel", func(sctx context.Context) error {
			probe := func(pctx context.Context) error {
				var perr error
				info, perr = c.Ext.ProbeChannel(pctx, e.ChannelURL)
				return perr
			}
			if c.Rec != nil {
				return c.Rec.WithRecovery(sctx, "probe:"+e.ChannelURL, probe, recovery.StrategyRetryBackoff, nil)
			}
			return probe(sctx)
		}, nil).
		Add("save_person", func(sctx context.Context) error {
			person.ChannelID = info.ChannelID
			person.ChannelURL = info.URL
			if person.Name == "" {
				person.Name = strings.TrimSpace(info.Title)
			}
			if person.Name == "" {
				person.Name = info.ChannelID
			}
			_, serr := c.Store.SavePerson(sctx, person)
			return serr
		}, func(sctx context.Context) error {
			if person.ID == 0 {
				return nil
			}
			return c.Store.DeletePerson(sctx, person.ID)
		})
	if err := tx.Execute(ctx); err != nil {
		return nil, err
	}
	return person, nil
}

// persistVideos saves the enumerated videos in checkpointed batches and, when
// downloads are enabled, transfers each newly saved video's media.
func (c *Coordinator) persistVideos(ctx context.Context, log *slog.Logger, e Entry, person *model.Person, metas []*extractor.VideoMetadata) error {
	cpID := recovery.CheckpointID(e.ChannelURL)
	var completed []string
	var failed []recovery.FailedItem
	pending := make([]string, 0, len(metas))
	for _, m := range metas {
		pending = append(pending, m.VideoID)
	}

	checkpoint := func() {
		if c.Rec == nil {
			return
		}
		cp := &recovery.Checkpoint{
			ID:        cpID,
			Operation: "process_channel",
			State: map[string]string{
				"channel_url": e.ChannelURL,
				"person_id":   strconv.FormatInt(person.ID, 10),
				"job_id":      c.Opts.JobID,
			},
			Completed: append([]string(nil), completed...),
			Pending:   append([]string(nil), pending...),
			Failed:    append([]recovery.FailedItem(nil), failed...),
		}
		if err := c.Rec.Checkpoints.Save(cp); err != nil {
			log.Warn("checkpoint save failed", slog.Any("err", err))
		}
	}

	sinceCheckpoint := 0
	var batch []*model.Video
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		saved, err := c.Store.BatchSaveVideos(ctx, batch)
		if err != nil {
			return fmt.Errorf("batch save: %w", err)
		}
		for _, v := range batch {
			c.tracker.MarkProcessed(v.VideoID, v.UUID)
			completed = append(completed, v.VideoID)
			pending = remove(pending, v.VideoID)
			c.Progress.VideoProcessed()
		}
		telemetry.VideosSaved.Add(float64(saved))
		batch = batch[:0]
		return nil
	}

	for _, m := range metas {
		if err := ctx.Err(); err != nil {
			checkpoint()
			return err
		}
		if !c.Opts.ReprocessExisting && c.tracker.IsDuplicate(m.VideoID) {
			pending = remove(pending, m.VideoID)
			c.Progress.VideoSkipped()
			telemetry.VideosSkipped.Inc()
			continue
		}
		v := model.NewVideo(person.ID, m.VideoID, m.Title)
		v.Description = m.Description
		v.Duration = m.Duration
		v.UploadDate = m.UploadDate
		v.ViewCount = m.ViewCount
		if err := v.Validate(); err != nil {
			pending = remove(pending, m.VideoID)
			failed = append(failed, recovery.FailedItem{
				Item:  m.VideoID,
				Error: recovery.NewErrorContext("save_video", err, ""),
			})
			c.Progress.VideoFailed()
			continue
		}
		batch = append(batch, v)
		sinceCheckpoint++
		if sinceCheckpoint >= c.Opts.CheckpointEvery {
			if err := flush(); err != nil {
				checkpoint()
				return err
			}
			checkpoint()
			sinceCheckpoint = 0
		}
	}
	if err := flush(); err != nil {
		checkpoint()
		return err
	}
	checkpoint()

	if c.Opts.Downloads {
		c.transferAll(ctx, log, completed, &failed)
		checkpoint()
	}
	if len(failed) > 0 {
		log.Warn("channel finished with failed videos", slog.Int("failed", len(failed)))
	}
	return nil
}

// transferAll downloads and uploads each video's media under the circuit
// breaker. Individual transfer failures mark the video failed and continue.
func (c *Coordinator) transferAll(ctx context.Context, log *slog.Logger, videoIDs []string, failed *[]recovery.FailedItem) {
	for _, id := range videoIDs {
		if ctx.Err() != nil {
			return
		}
		id := id
		op := func(fctx context.Context) error { return c.transferVideo(fctx, id) }
		var err error
		if c.Rec != nil {
			err = c.Rec.WithRecovery(ctx, "transfer:"+id, op, recovery.StrategyCircuitBreaker, nil)
		} else {
			err = op(ctx)
		}
		if err != nil {
			*failed = append(*failed, recovery.FailedItem{
				Item:  id,
				Error: recovery.NewErrorContext("transfer", err, string(recovery.StrategyCircuitBreaker)),
			})
			c.Progress.VideoFailed()
			if uerr := c.Store.UpdateVideoStatus(ctx, id, model.StatusFailed, "", 0, truncateErr(err)); uerr != nil {
				log.Warn("mark video failed", slog.String("video_id", id), slog.Any("err", uerr))
			}
		}
	}
}

// transferVideo moves one video's media: download slot, yt-dlp fetch, object
// storage upload, then the status/size update. Local files are removed after
// a successful upload.
func (c *Coordinator) transferVideo(ctx context.Context, videoID string) error {
	v, err := c.Store.GetVideo(ctx, videoID)
	if err != nil {
		return err
	}
	if v.Status == model.StatusCompleted {
		return nil
	}
	if err := c.pool.AcquireDownload(ctx); err != nil {
		return err
	}
	defer c.pool.ReleaseDownload()

	if err := c.Store.UpdateVideoStatus(ctx, videoID, model.StatusDownloading, "", 0, ""); err != nil {
		return err
	}
	start := time.Now()

	if c.Opts.Streaming && c.Objects != nil {
		key, size, err := c.streamTransfer(ctx, v)
		telemetry.DownloadDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			telemetry.DownloadsFailed.Inc()
			return err
		}
		telemetry.DownloadsSucceeded.Inc()
		return c.Store.UpdateVideoStatus(ctx, videoID, model.StatusCompleted, key, size, "")
	}

	path, err := c.Ext.DownloadToFile(ctx, videoID, c.Opts.DownloadDir, c.Opts.DownloadOpts)
	telemetry.DownloadDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		telemetry.DownloadsFailed.Inc()
		return recovery.E(recovery.KindTransport, "download", err)
	}
	telemetry.DownloadsSucceeded.Inc()

	var size int64
	if fi, serr := os.Stat(path); serr == nil {
		size = fi.Size()
	}
	storagePath := path
	if c.Objects != nil {
		key, uerr := c.Objects.UploadFile(ctx, v, path)
		if uerr != nil {
			return recovery.E(recovery.KindTransport, "upload", uerr)
		}
		storagePath = key
		if !c.Opts.KeepLocalAfterUpload {
			if rerr := os.Remove(path); rerr != nil {
				slog.Warn("local media cleanup failed", slog.String("path", path), slog.Any("err", rerr))
			}
		}
	}
	return c.Store.UpdateVideoStatus(ctx, videoID, model.StatusCompleted, storagePath, size, "")
}

// streamTransfer pipes yt-dlp stdout straight into the object store.
func (c *Coordinator) streamTransfer(ctx context.Context, v *model.Video) (string, int64, error) {
	return pipeTransfer(
		func(w io.Writer) error {
			return c.Ext.StreamDownload(ctx, v.VideoID, c.Opts.DownloadOpts, w)
		},
		func(r io.Reader) (string, int64, error) {
			return c.Objects.UploadStream(ctx, v, r, c.Opts.DownloadOpts.Format)
		})
}

// pipeTransfer streams produce's output into consume through an in-memory
// pipe. When consume fails mid-stream the read side is closed with its error,
// so a producer blocked writing into the pipe unblocks instead of wedging.
func pipeTransfer(produce func(io.Writer) error, consume func(io.Reader) (string, int64, error)) (string, int64, error) {
	pr, pw := io.Pipe()
	prodErr := make(chan error, 1)
	go func() {
		err := produce(pw)
		pw.CloseWithError(err)
		prodErr <- err
	}()
	key, size, err := consume(pr)
	if err != nil {
		pr.CloseWithError(err)
	}
	derr := <-prodErr
	if derr != nil && err == nil {
		return "", 0, recovery.E(recovery.KindTransport, "stream_download", derr)
	}
	if err != nil {
		return "", 0, recovery.E(recovery.KindTransport, "stream_upload", err)
	}
	return key, size, nil
}

// RetryFailedOperations re-drives the dead-letter queue using each record's
// retained closure. Records persisted by an earlier process have no closure
// and stay queued.
func (c *Coordinator) RetryFailedOperations(ctx context.Context) (int, int) {
	if c.Rec == nil {
		return 0, 0
	}
	return c.Rec.DLQ.RetryAll(ctx, func(rctx context.Context, dl *recovery.DeadLetter) error {
		if dl.Retry == nil {
			return errors.New("no retry closure for persisted dead letter")
		}
		return dl.Retry(rctx)
	})
}

// Shutdown stops the workers, writes the final report, and prunes checkpoints
// older than a week.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.pool.Stop()
	if c.Rec != nil {
		if removed, err := c.Rec.Checkpoints.Cleanup(7 * 24 * time.Hour); err != nil {
			slog.Warn("checkpoint cleanup failed", slog.Any("err", err))
		} else if removed > 0 {
			slog.Info("pruned old checkpoints", slog.Int("removed", removed))
		}
	}
	if c.Progress == nil {
		return nil
	}
	return c.WriteReport(ctx)
}

func remove(list []string, item string) []string {
	for i, v := range list {
		if v == item {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

func truncateErr(err error) string {
	msg := err.Error()
	if len(msg) > 500 {
		return msg[:500]
	}
	return msg
}
