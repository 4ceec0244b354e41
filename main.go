// Command channel-harvest ingests a roster of video channels end to end:
// it enumerates each channel with yt-dlp, persists owners and video records,
// optionally transfers media into S3-compatible object storage, and exposes
// a minimal HTTP server with /healthz, /readyz, /status, and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM: in-flight channels checkpoint and
// the job is left resumable.
//
// Exit codes: 0 success, 1 fatal error, 2 completed with failed channels,
// 130 interrupted.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/channel-harvest/config"
	"github.com/onnwee/channel-harvest/db"
	"github.com/onnwee/channel-harvest/extractor"
	"github.com/onnwee/channel-harvest/ingest"
	"github.com/onnwee/channel-harvest/progress"
	"github.com/onnwee/channel-harvest/ratelimit"
	"github.com/onnwee/channel-harvest/recovery"
	"github.com/onnwee/channel-harvest/resource"
	"github.com/onnwee/channel-harvest/server"
	"github.com/onnwee/channel-harvest/storage"
	"github.com/onnwee/channel-harvest/telemetry"
)

func main() { os.Exit(run()) }

func run() int {
	// Load .env if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	initLogging()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		return 1
	}

	shutdownTracing, err := telemetry.InitTracing("channel-harvest", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		return 1
	}
	defer shutdownTracing()

	// Store: Postgres when DB_DSN is set, otherwise in-memory.
	var store db.Store
	deps := server.Deps{}
	if cfg.DBDsn != "" {
		database, err := db.Connect()
		if err != nil {
			slog.Error("failed to open db", slog.Any("err", err))
			return 1
		}
		defer func() {
			if err := database.Close(); err != nil {
				slog.Error("failed to close database", slog.Any("err", err))
			}
		}()
		mctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err = db.Migrate(mctx, database)
		cancel()
		if err != nil {
			slog.Error("failed to migrate db", slog.Any("err", err))
			return 1
		}
		store = db.NewSQLStore(database)
		deps.SQL = database
	} else {
		slog.Info("DB_DSN not set, using in-memory store")
		store = db.NewMemStore()
	}

	limiter, err := ratelimit.New(map[string]ratelimit.ServiceConfig{
		extractor.RateService: {Rate: cfg.RatePerSecond, Burst: cfg.RateBurst},
	})
	if err != nil {
		slog.Error("rate limiter config invalid", slog.Any("err", err))
		return 1
	}
	ext := extractor.New(cfg.ExtractorBinary, limiter)

	rec, err := recovery.NewManager(cfg.RecoveryDir, cfg.DLQSize)
	if err != nil {
		slog.Error("recovery manager init failed", slog.Any("err", err))
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var objects *storage.Client
	if cfg.UploadsConfigured() {
		objects, err = storage.NewClient(ctx, storage.ClientConfig{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			Prefix:    cfg.S3Prefix,
			UseSSL:    cfg.S3UseSSL,
		})
		if err != nil {
			slog.Error("object storage init failed", slog.Any("err", err))
			return 1
		}
	} else {
		slog.Info("object storage not configured, uploads disabled")
	}

	mon, err := resource.NewMonitor(cfg.CheckInterval, cfg.ChannelConcurrency)
	if err != nil {
		slog.Warn("resource monitor unavailable", slog.Any("err", err))
		mon = nil
	} else {
		mon.MaxCPUPercent = cfg.MaxCPUPercent
		mon.MaxMemPercent = cfg.MaxMemPercent
		mon.ThrottleFactor = cfg.ThrottleFactor
		mon.MinSlots = cfg.MinConcurrent
	}

	coord := ingest.New(store, ext, objects, rec, mon, ingest.Options{
		JobID:               cfg.JobID,
		InputFile:           cfg.InputFile,
		ChannelConcurrency:  cfg.ChannelConcurrency,
		DownloadConcurrency: cfg.DownloadConcurrency,
		MaxVideosPerChannel: cfg.MaxVideosPerChannel,
		Downloads:           cfg.Downloads,
		Streaming:           cfg.Streaming,
		DownloadDir:         cfg.DownloadDir,
		DownloadOpts: extractor.DownloadOptions{
			Resolution: cfg.Resolution,
			Format:     cfg.MediaFormat,
			Subtitles:  cfg.Subtitles,
		},
		CheckpointEvery:  cfg.CheckpointEvery,
		ReportDir:        cfg.ReportDir,
		SnapshotPath:     cfg.SnapshotPath,
		ProgressInterval: cfg.ProgressInterval,

		ReprocessExisting:     !cfg.SkipExisting,
		AbortOnChannelFailure: !cfg.ContinueOnError,
		KeepLocalAfterUpload:  !cfg.DeleteAfterUpload,
		ChannelTimeout:        cfg.ChannelTimeout,
	})

	deps.Store = store
	deps.Ext = ext
	deps.Limiter = limiter
	deps.Rec = rec
	deps.Monitor = mon
	deps.Progress = func() *progress.Monitor { return coord.Progress }
	go func() {
		if err := server.Start(ctx, deps, cfg.ServerAddr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	runErr := coord.Run(ctx)

	sctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := coord.Shutdown(sctx); err != nil {
		slog.Warn("shutdown report failed", slog.Any("err", err))
	}

	switch {
	case errors.Is(runErr, context.Canceled):
		slog.Info("interrupted, job left resumable")
		return 130
	case runErr != nil:
		slog.Error("ingestion failed", slog.Any("err", runErr))
		return 1
	}
	if coord.Progress != nil {
		if snap := coord.Progress.Snapshot(); snap.ChannelsFailed > 0 {
			slog.Warn("completed with failures",
				slog.Int("channels_failed", snap.ChannelsFailed),
				slog.Int("channels_total", snap.TotalChannels))
			return 2
		}
	}
	slog.Info("ingestion complete")
	return 0
}

// initLogging configures slog from LOG_LEVEL and LOG_FORMAT.
// Defaults: level=info, format=text.
func initLogging() {
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	var handler slog.Handler
	if strings.ToLower(os.Getenv("LOG_FORMAT")) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
}
