package model

import (
	"strings"
	"testing"
)

func TestNewVideoAssignsUUID(t *testing.T) {
	v := NewVideo(1, "abcdefghijk", "First Video")
	if v.UUID == "" {
		t.Fatal("NewVideo must assign a UUID")
	}
	if v.Status != StatusPending {
		t.Fatalf("new video status = %q, want pending", v.Status)
	}
	v2 := NewVideo(1, "abcdefghijk", "First Video")
	if v.UUID == v2.UUID {
		t.Fatal("UUIDs must be unique per construction")
	}
	if err := v.Validate(); err != nil {
		t.Fatalf("fresh video should validate: %v", err)
	}
}

func TestVideoValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Video)
		wantErr bool
	}{
		{"valid", func(v *Video) {}, false},
		{"short id", func(v *Video) { v.VideoID = "short" }, true},
		{"long id", func(v *Video) { v.VideoID = strings.Repeat("x", 12) }, true},
		{"empty title", func(v *Video) { v.Title = "  " }, true},
		{"negative duration", func(v *Video) { v.Duration = -1 }, true},
		{"negative views", func(v *Video) { v.ViewCount = -5 }, true},
		{"negative size", func(v *Video) { v.FileSize = -1 }, true},
		{"missing uuid", func(v *Video) { v.UUID = "" }, true},
		{"bogus status", func(v *Video) { v.Status = "uploading" }, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := NewVideo(7, "abcdefghijk", "Title")
			tc.mutate(v)
			err := v.Validate()
			if tc.wantErr && err == nil {
				t.Fatal("expected error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestJobStatusTerminal(t *testing.T) {
	for status, terminal := range map[JobStatus]bool{
		JobRunning: false, JobPaused: false, JobCompleted: true, JobFailed: true,
	} {
		if status.Terminal() != terminal {
			t.Errorf("%s.Terminal() = %v, want %v", status, status.Terminal(), terminal)
		}
	}
	if JobStatus("queued").Valid() {
		t.Error("unknown job status must not validate")
	}
}

func TestProgressValidate(t *testing.T) {
	p := &Progress{JobID: "job_1", Status: JobRunning}
	if err := p.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p.VideosFailed = -1
	if err := p.Validate(); err == nil {
		t.Fatal("negative counter must fail validation")
	}
	p.VideosFailed = 0
	p.JobID = ""
	if err := p.Validate(); err == nil {
		t.Fatal("empty job id must fail validation")
	}
}
