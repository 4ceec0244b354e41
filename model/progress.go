package model

import (
	"fmt"
	"time"
)

// JobStatus is the lifecycle state of an ingestion job's progress row.
type JobStatus string

const (
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobPaused    JobStatus = "paused"
)

// Valid reports whether s is one of the closed set of job statuses.
func (s JobStatus) Valid() bool {
	switch s {
	case JobRunning, JobCompleted, JobFailed, JobPaused:
		return true
	}
	return false
}

// Terminal reports whether a job in this status can no longer be resumed.
func (s JobStatus) Terminal() bool { return s == JobCompleted || s == JobFailed }

// Progress is the persisted per-job counter row. At any observation point
// processed+failed+skipped never exceeds the corresponding total.
type Progress struct {
	ID                int64
	JobID             string
	InputFile         string
	TotalChannels     int
	ChannelsProcessed int
	ChannelsFailed    int
	ChannelsSkipped   int
	TotalVideos       int
	VideosProcessed   int
	VideosFailed      int
	VideosSkipped     int
	Status            JobStatus
	ErrorMsg          string
	StartedAt         time.Time
	UpdatedAt         time.Time
	CompletedAt       time.Time
}

// Validate enforces the progress invariants before persistence.
func (p *Progress) Validate() error {
	if p.JobID == "" {
		return fmt.Errorf("%w: job_id must not be empty", ErrValidation)
	}
	for name, n := range map[string]int{
		"total_channels":     p.TotalChannels,
		"channels_processed": p.ChannelsProcessed,
		"channels_failed":    p.ChannelsFailed,
		"channels_skipped":   p.ChannelsSkipped,
		"total_videos":       p.TotalVideos,
		"videos_processed":   p.VideosProcessed,
		"videos_failed":      p.VideosFailed,
		"videos_skipped":     p.VideosSkipped,
	} {
		if n < 0 {
			return fmt.Errorf("%w: counter %s must not be negative", ErrValidation, name)
		}
	}
	if !p.Status.Valid() {
		return fmt.Errorf("%w: unknown job status %q", ErrValidation, p.Status)
	}
	return nil
}
