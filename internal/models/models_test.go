package models

import (
	"database/sql"
	"strings"
	"testing"
	"time"
)

func TestSelectionSpec(t *testing.T) {
	tests := []struct {
		sel  Selection
		want string
	}{
		{Selection{FormatID: "18"}, "18"},
		{Selection{VideoFormatID: "137", AudioFormatID: "140"}, "137+140"},
		{Selection{VideoFormatID: "137"}, "137"},
		{Selection{AudioFormatID: "251", AudioOnly: true}, "251"},
	}

	for _, tt := range tests {
		if got := tt.sel.Spec(); got != tt.want {
			t.Errorf("Spec(%+v) = %q, want %q", tt.sel, got, tt.want)
		}
	}
}

func TestJobUpdateApply(t *testing.T) {
	job := &Job{
		TaskID:   "t1",
		Status:   StatusDownloading,
		Progress: 10,
		Title:    "old",
		FilePath: sql.NullString{String: "/a.mp4", Valid: true},
	}

	if !(JobUpdate{}).IsEmpty() {
		t.Error("zero update should be empty")
	}

	status := StatusCompleted
	progress := 100.0
	empty := ""
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	JobUpdate{Status: &status, Progress: &progress, FilePath: &empty, CompletedAt: &now}.Apply(job)

	if job.Status != StatusCompleted || job.Progress != 100 {
		t.Errorf("status/progress = %s/%v", job.Status, job.Progress)
	}
	if job.Title != "old" {
		t.Errorf("title changed to %q", job.Title)
	}
	if job.FilePath.Valid {
		t.Error("empty file path should clear the field")
	}
	if !job.CompletedAt.Valid || !job.CompletedAt.Time.Equal(now) {
		t.Errorf("completed_at = %+v", job.CompletedAt)
	}
}

func TestJobClone(t *testing.T) {
	job := &Job{TaskID: "t1", Progress: 5}
	c := job.Clone()
	c.Progress = 50
	if job.Progress != 5 {
		t.Error("clone shares state with original")
	}
	if (*Job)(nil).Clone() != nil {
		t.Error("nil clone should be nil")
	}
}

func TestNewJobView(t *testing.T) {
	job := &Job{
		TaskID:      "abc",
		Status:      StatusCompleted,
		Progress:    100,
		FilePath:    sql.NullString{String: "/data/abc/abc.mp3", Valid: true},
		CompletedAt: sql.NullTime{Time: time.Now(), Valid: true},
	}

	view := NewJobView(job, "https://host/api/v1/")
	if view.DownloadURL != "https://host/api/v1/download/abc/file" {
		t.Errorf("download_url = %q", view.DownloadURL)
	}
	if view.FileURL != "https://host/api/v1/download/abc.mp3" {
		t.Errorf("file_url = %q", view.FileURL)
	}
	if view.CompletedAt == nil {
		t.Error("completed_at missing")
	}

	job.Status = StatusDownloading
	view = NewJobView(job, "https://host/api/v1")
	if view.DownloadURL != "" || view.FileURL != "" {
		t.Errorf("urls exposed before completion: %+v", view)
	}

	job.Status = StatusError
	job.Error = sql.NullString{String: "boom", Valid: true}
	if view = NewJobView(job, ""); !strings.Contains(view.Error, "boom") {
		t.Errorf("error = %q", view.Error)
	}
}

func TestQualityLabels(t *testing.T) {
	if !IsVideoQuality("FullHD") || IsVideoQuality("fullhd") {
		t.Error("video quality labels are case sensitive")
	}
	if !IsAudioQuality("medium") || IsAudioQuality("HD") {
		t.Error("unexpected audio quality match")
	}
}
