// Package config loads environment variables and provides a typed Config used
// across the service. It applies sensible defaults so the binary can run
// locally with minimal setup; missing optional variables disable features
// (object storage, Postgres persistence).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Input
	InputFile string
	JobID     string

	// Database
	DBDsn string // empty selects in-memory mode

	// Extraction
	ExtractorBinary     string
	MaxVideosPerChannel int
	RatePerSecond       float64
	RateBurst           int

	// Concurrency
	ChannelConcurrency  int
	DownloadConcurrency int

	// Pipeline policy
	SkipExisting    bool // skip videos already persisted
	ContinueOnError bool // false aborts the job on the first failed channel
	ChannelTimeout  time.Duration

	// Downloads
	Downloads         bool
	Streaming         bool
	DownloadDir       string
	Resolution        string
	MediaFormat       string
	Subtitles         bool
	DeleteAfterUpload bool

	// Resource monitor
	MaxCPUPercent  float64
	MaxMemPercent  float64
	CheckInterval  time.Duration
	ThrottleFactor float64
	MinConcurrent  int

	// Object storage
	S3Endpoint  string // empty disables uploads
	S3AccessKey string
	S3SecretKey string
	S3Bucket    string
	S3Prefix    string
	S3UseSSL    bool

	// Recovery
	RecoveryDir     string
	DLQSize         int
	CheckpointEvery int

	// Reporting
	ReportDir        string
	SnapshotPath     string
	ProgressInterval time.Duration

	// HTTP
	ServerAddr string
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getint(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s (integer): %w", key, err)
	}
	return n, nil
}

func getbool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s (bool): %w", key, err)
	}
	return b, nil
}

func getfloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s (float): %w", key, err)
	}
	return f, nil
}

// Load reads environment variables and applies defaults. Numeric and boolean
// variables fail fast on malformed values instead of silently defaulting.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	cfg.InputFile = getenv("INPUT_FILE", "channels.txt")
	cfg.JobID = os.Getenv("JOB_ID")

	cfg.DBDsn = os.Getenv("DB_DSN")

	cfg.ExtractorBinary = getenv("EXTRACTOR_BINARY", "yt-dlp")
	if cfg.MaxVideosPerChannel, err = getint("MAX_VIDEOS_PER_CHANNEL", 0); err != nil {
		return nil, err
	}
	if cfg.RatePerSecond, err = getfloat("RATE_PER_SECOND", 2.0); err != nil {
		return nil, err
	}
	if cfg.RateBurst, err = getint("RATE_BURST", 5); err != nil {
		return nil, err
	}

	if cfg.ChannelConcurrency, err = getint("CHANNEL_CONCURRENCY", 3); err != nil {
		return nil, err
	}
	if cfg.DownloadConcurrency, err = getint("DOWNLOAD_CONCURRENCY", 5); err != nil {
		return nil, err
	}

	if cfg.SkipExisting, err = getbool("SKIP_EXISTING_VIDEOS", true); err != nil {
		return nil, err
	}
	if cfg.ContinueOnError, err = getbool("CONTINUE_ON_ERROR", true); err != nil {
		return nil, err
	}
	if v := os.Getenv("CHANNEL_TIMEOUT"); v != "" {
		d, perr := time.ParseDuration(v)
		if perr != nil {
			return nil, fmt.Errorf("invalid CHANNEL_TIMEOUT (duration): %w", perr)
		}
		cfg.ChannelTimeout = d
	}

	if cfg.Downloads, err = getbool("DOWNLOADS_ENABLED", false); err != nil {
		return nil, err
	}
	if cfg.Streaming, err = getbool("STREAMING_UPLOAD", false); err != nil {
		return nil, err
	}
	cfg.DownloadDir = getenv("DOWNLOAD_DIR", "downloads")
	cfg.Resolution = os.Getenv("MEDIA_RESOLUTION")
	cfg.MediaFormat = getenv("MEDIA_FORMAT", "mp4")
	if cfg.Subtitles, err = getbool("MEDIA_SUBTITLES", false); err != nil {
		return nil, err
	}
	if cfg.DeleteAfterUpload, err = getbool("DELETE_AFTER_UPLOAD", true); err != nil {
		return nil, err
	}

	if cfg.MaxCPUPercent, err = getfloat("MAX_CPU_PERCENT", 75); err != nil {
		return nil, err
	}
	if cfg.MaxMemPercent, err = getfloat("MAX_MEMORY_PERCENT", 75); err != nil {
		return nil, err
	}
	checkSeconds, err := getint("CHECK_INTERVAL_SECONDS", 5)
	if err != nil {
		return nil, err
	}
	cfg.CheckInterval = time.Duration(checkSeconds) * time.Second
	if cfg.ThrottleFactor, err = getfloat("THROTTLE_FACTOR", 0.5); err != nil {
		return nil, err
	}
	if cfg.MinConcurrent, err = getint("MIN_CONCURRENT", 1); err != nil {
		return nil, err
	}

	cfg.S3Endpoint = os.Getenv("S3_ENDPOINT")
	cfg.S3AccessKey = os.Getenv("S3_ACCESS_KEY")
	cfg.S3SecretKey = os.Getenv("S3_SECRET_KEY")
	cfg.S3Bucket = getenv("S3_BUCKET", "channel-harvest")
	cfg.S3Prefix = getenv("S3_PREFIX", "videos")
	if cfg.S3UseSSL, err = getbool("S3_USE_SSL", false); err != nil {
		return nil, err
	}
	if cfg.S3Endpoint != "" && (cfg.S3AccessKey == "" || cfg.S3SecretKey == "") {
		return nil, fmt.Errorf("S3_ENDPOINT set but S3_ACCESS_KEY/S3_SECRET_KEY missing")
	}

	cfg.RecoveryDir = getenv("RECOVERY_DIR", "recovery")
	if cfg.DLQSize, err = getint("DLQ_SIZE", 100); err != nil {
		return nil, err
	}
	if cfg.CheckpointEvery, err = getint("CHECKPOINT_EVERY", 25); err != nil {
		return nil, err
	}

	cfg.ReportDir = getenv("REPORT_DIR", ".")
	cfg.SnapshotPath = os.Getenv("PROGRESS_SNAPSHOT")
	if v := os.Getenv("PROGRESS_INTERVAL"); v != "" {
		d, perr := time.ParseDuration(v)
		if perr != nil {
			return nil, fmt.Errorf("invalid PROGRESS_INTERVAL (duration): %w", perr)
		}
		cfg.ProgressInterval = d
	} else {
		cfg.ProgressInterval = 30 * time.Second
	}

	cfg.ServerAddr = getenv("SERVER_ADDR", ":8080")

	return cfg, nil
}

// UploadsConfigured reports whether object storage is fully configured.
func (c *Config) UploadsConfigured() bool { return c.S3Endpoint != "" }
