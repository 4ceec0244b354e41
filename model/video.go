package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// VideoIDWidth is the platform's fixed-width opaque video identifier length.
const VideoIDWidth = 11

// DownloadStatus is the lifecycle state of a video's media transfer.
type DownloadStatus string

const (
	StatusPending     DownloadStatus = "pending"
	StatusDownloading DownloadStatus = "downloading"
	StatusCompleted   DownloadStatus = "completed"
	StatusFailed      DownloadStatus = "failed"
	StatusSkipped     DownloadStatus = "skipped"
)

// Valid reports whether s is one of the closed set of download statuses.
func (s DownloadStatus) Valid() bool {
	switch s {
	case StatusPending, StatusDownloading, StatusCompleted, StatusFailed, StatusSkipped:
		return true
	}
	return false
}

func (s DownloadStatus) String() string { return string(s) }

// Video is one media item attributed to exactly one Person.
// UUID is assigned once on creation and never changes after first persistence;
// it is the stable handle used in object storage keys.
type Video struct {
	ID          int64
	PersonID    int64
	VideoID     string
	Title       string
	Description string
	Duration    int // seconds
	UploadDate  time.Time
	ViewCount   int64
	UUID        string
	StoragePath string
	FileSize    int64
	Status      DownloadStatus
	ErrorMsg    string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewVideo builds a pending Video with a freshly assigned UUID.
func NewVideo(personID int64, videoID, title string) *Video {
	return &Video{
		PersonID: personID,
		VideoID:  videoID,
		Title:    title,
		UUID:     uuid.NewString(),
		Status:   StatusPending,
	}
}

// Validate enforces the video invariants before persistence.
func (v *Video) Validate() error {
	if len(v.VideoID) != VideoIDWidth {
		return fmt.Errorf("%w: video_id %q must be exactly %d characters", ErrValidation, v.VideoID, VideoIDWidth)
	}
	if strings.TrimSpace(v.Title) == "" {
		return fmt.Errorf("%w: title must not be empty", ErrValidation)
	}
	if v.Duration < 0 {
		return fmt.Errorf("%w: duration must not be negative", ErrValidation)
	}
	if v.ViewCount < 0 {
		return fmt.Errorf("%w: view_count must not be negative", ErrValidation)
	}
	if v.FileSize < 0 {
		return fmt.Errorf("%w: file_size must not be negative", ErrValidation)
	}
	if v.UUID == "" {
		return fmt.Errorf("%w: uuid must be assigned before save", ErrValidation)
	}
	if !v.Status.Valid() {
		return fmt.Errorf("%w: unknown download_status %q", ErrValidation, v.Status)
	}
	return nil
}
