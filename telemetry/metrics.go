// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Counters
	ChannelsProcessed  = promauto.NewCounter(prometheus.CounterOpts{Name: "ingest_channels_processed_total", Help: "Channels fully processed"})
	ChannelsFailed     = promauto.NewCounter(prometheus.CounterOpts{Name: "ingest_channels_failed_total", Help: "Channels that ended in failure"})
	VideosSaved        = promauto.NewCounter(prometheus.CounterOpts{Name: "ingest_videos_saved_total", Help: "Video records inserted or updated"})
	VideosSkipped      = promauto.NewCounter(prometheus.CounterOpts{Name: "ingest_videos_skipped_total", Help: "Videos skipped as duplicates"})
	DownloadsSucceeded = promauto.NewCounter(prometheus.CounterOpts{Name: "ingest_downloads_succeeded_total", Help: "Media downloads completed"})
	DownloadsFailed    = promauto.NewCounter(prometheus.CounterOpts{Name: "ingest_downloads_failed_total", Help: "Media downloads failed"})
	UploadsSucceeded   = promauto.NewCounter(prometheus.CounterOpts{Name: "ingest_uploads_succeeded_total", Help: "Object storage uploads completed"})
	UploadsFailed      = promauto.NewCounter(prometheus.CounterOpts{Name: "ingest_uploads_failed_total", Help: "Object storage uploads failed"})
	DeadLettered       = promauto.NewCounter(prometheus.CounterOpts{Name: "ingest_dead_lettered_total", Help: "Operations routed to the dead-letter queue"})

	RateLimitRejections    = promauto.NewCounterVec(prometheus.CounterOpts{Name: "ingest_ratelimit_rejected_total", Help: "Non-blocking token acquisitions denied"}, []string{"service"})
	RateLimitWaitsTimedOut = promauto.NewCounterVec(prometheus.CounterOpts{Name: "ingest_ratelimit_wait_timeout_total", Help: "Blocking token waits that timed out"}, []string{"service"})

	// Histograms (seconds)
	EnumerationDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "ingest_enumeration_duration_seconds", Help: "Channel enumeration duration", Buckets: prometheus.DefBuckets})
	DownloadDuration    = promauto.NewHistogram(prometheus.HistogramOpts{Name: "ingest_download_duration_seconds", Help: "Per-video download duration", Buckets: prometheus.ExponentialBuckets(1, 2, 12)})
	ChannelDuration     = promauto.NewHistogram(prometheus.HistogramOpts{Name: "ingest_channel_duration_seconds", Help: "Full per-channel pipeline duration", Buckets: prometheus.ExponentialBuckets(1, 2, 12)})

	// Gauges
	QueueDepth             = promauto.NewGauge(prometheus.GaugeOpts{Name: "ingest_queue_depth", Help: "Channel tasks submitted but not yet finished"})
	ActiveDownloads        = promauto.NewGauge(prometheus.GaugeOpts{Name: "ingest_active_downloads", Help: "Downloads currently holding a slot"})
	CircuitState           = promauto.NewGaugeVec(prometheus.GaugeOpts{Name: "ingest_circuit_open", Help: "Circuit breaker state per operation: 1=open, 0.5=half-open, 0=closed"}, []string{"operation"})
	RecommendedConcurrency = promauto.NewGauge(prometheus.GaugeOpts{Name: "ingest_recommended_concurrency", Help: "Channel concurrency recommended by the resource monitor"})
)

// TimeFunc measures the duration of fn and records it in obs if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------

type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns the correlation id or an empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger carrying the corr attribute when present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
