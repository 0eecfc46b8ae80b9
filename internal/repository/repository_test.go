package repository

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"vasset/fetch-service/internal/models"
	"vasset/fetch-service/internal/utils"
)

func ptr[T any](v T) *T {
	return &v
}

func TestMemoryRepository_Lifecycle(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	job := &models.Job{TaskID: "t1", URL: "https://example.com", Status: models.StatusPending, CreatedAt: created}
	if err := repo.Create(ctx, job); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.ID != 1 {
		t.Errorf("expected id 1, got %d", job.ID)
	}
	if err := repo.Create(ctx, &models.Job{TaskID: "t1"}); err == nil {
		t.Error("expected duplicate task id to fail")
	}

	done := created.Add(time.Minute)
	err := repo.UpdateFields(ctx, "t1", models.JobUpdate{
		Status:      ptr(models.StatusCompleted),
		Progress:    ptr(100.0),
		FilePath:    ptr("/d/t1/t1.mp4"),
		CompletedAt: &done,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := repo.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != models.StatusCompleted || got.Progress != 100 {
		t.Errorf("unexpected job state: %+v", got)
	}
	if !got.FilePath.Valid || got.FilePath.String != "/d/t1/t1.mp4" {
		t.Errorf("unexpected file path: %+v", got.FilePath)
	}
	if !got.CompletedAt.Valid || !got.CompletedAt.Time.Equal(done) {
		t.Errorf("unexpected completed_at: %+v", got.CompletedAt)
	}

	// 清空 file_path 不影响其他字段
	if err := repo.UpdateFields(ctx, "t1", models.JobUpdate{FilePath: ptr("")}); err != nil {
		t.Fatal(err)
	}
	got, _ = repo.Get(ctx, "t1")
	if got.FilePath.Valid {
		t.Error("expected file path cleared")
	}
	if got.Status != models.StatusCompleted || got.Progress != 100 {
		t.Errorf("status/progress changed: %+v", got)
	}
}

func TestMemoryRepository_SnapshotsAreIsolated(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	job := &models.Job{TaskID: "t1", Status: models.StatusPending}
	if err := repo.Create(ctx, job); err != nil {
		t.Fatal(err)
	}
	job.Status = models.StatusError

	got, _ := repo.Get(ctx, "t1")
	if got.Status != models.StatusPending {
		t.Errorf("stored job mutated through caller pointer: %s", got.Status)
	}
	got.Progress = 50

	again, _ := repo.Get(ctx, "t1")
	if again.Progress != 0 {
		t.Error("stored job mutated through snapshot")
	}
}

func TestMemoryRepository_NotFound(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	if _, err := repo.Get(ctx, "missing"); !errors.Is(err, utils.ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
	if err := repo.UpdateFields(ctx, "missing", models.JobUpdate{Title: ptr("x")}); !errors.Is(err, utils.ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}

func TestMemoryRepository_ListOrder(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		if err := repo.Create(ctx, &models.Job{TaskID: id, CreatedAt: base.Add(time.Duration(i) * time.Hour)}); err != nil {
			t.Fatal(err)
		}
	}

	jobs, err := repo.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, j := range jobs {
		ids = append(ids, j.TaskID)
	}
	if strings.Join(ids, ",") != "c,b,a" {
		t.Errorf("expected newest first, got %v", ids)
	}
}

func TestBuildUpdate(t *testing.T) {
	done := time.Now()
	tests := []struct {
		name     string
		update   models.JobUpdate
		clause   string
		argCount int
	}{
		{
			name:     "single field",
			update:   models.JobUpdate{Progress: ptr(42.0)},
			clause:   "progress = $1",
			argCount: 1,
		},
		{
			name:     "completion",
			update:   models.JobUpdate{Status: ptr(models.StatusCompleted), Progress: ptr(100.0), CompletedAt: &done},
			clause:   "status = $1, progress = $2, completed_at = $3",
			argCount: 3,
		},
		{
			name:     "clear file path",
			update:   models.JobUpdate{FilePath: ptr("")},
			clause:   "file_path = $1",
			argCount: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clause, args := buildUpdate(tt.update)
			if clause != tt.clause {
				t.Errorf("expected %q, got %q", tt.clause, clause)
			}
			if len(args) != tt.argCount {
				t.Errorf("expected %d args, got %d", tt.argCount, len(args))
			}
		})
	}
}
