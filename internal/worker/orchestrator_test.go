package worker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"vasset/fetch-service/internal/models"
	"vasset/fetch-service/internal/repository"
	"vasset/fetch-service/internal/storage"
	"vasset/fetch-service/internal/utils"
	"vasset/fetch-service/internal/ytdlp"
)

// downloadFunc 测试用下载器
type downloadFunc func(ctx context.Context, opts ytdlp.DownloadOptions, onProgress ytdlp.ProgressFunc) error

func (f downloadFunc) Download(ctx context.Context, opts ytdlp.DownloadOptions, onProgress ytdlp.ProgressFunc) error {
	return f(ctx, opts, onProgress)
}

// scriptedVerifier 按顺序返回预设结果, 用完后返回最后一个
type scriptedVerifier struct {
	mu      sync.Mutex
	results []bool
	calls   int
}

func (v *scriptedVerifier) Verify(context.Context, string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls++
	if len(v.results) == 0 {
		return false
	}
	idx := v.calls - 1
	if idx >= len(v.results) {
		idx = len(v.results) - 1
	}
	return v.results[idx]
}

// recordingStore 记录每次写入后的进度
type recordingStore struct {
	*repository.MemoryRepository
	mu       sync.Mutex
	progress []float64
	statuses []models.JobStatus
}

func (s *recordingStore) UpdateFields(ctx context.Context, taskID string, update models.JobUpdate) error {
	if err := s.MemoryRepository.UpdateFields(ctx, taskID, update); err != nil {
		return err
	}
	job, _ := s.MemoryRepository.Get(ctx, taskID)
	s.mu.Lock()
	s.progress = append(s.progress, job.Progress)
	s.statuses = append(s.statuses, job.Status)
	s.mu.Unlock()
	return nil
}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []models.ProgressMessage
}

func (p *recordingPublisher) Publish(_ context.Context, msg *models.ProgressMessage) error {
	p.mu.Lock()
	p.msgs = append(p.msgs, *msg)
	p.mu.Unlock()
	return nil
}

func (p *recordingPublisher) last() models.ProgressMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.msgs[len(p.msgs)-1]
}

var start = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeClock clockwork 测试时钟
type fakeClock interface {
	clockwork.Clock
	Advance(d time.Duration)
	BlockUntil(n int)
}

// advanceOnWait 每当有等待者时推进 d, 共 n 次
func advanceOnWait(clk fakeClock, d time.Duration, n int) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < n; i++ {
			clk.BlockUntil(1)
			clk.Advance(d)
		}
	}()
	return done
}

type harness struct {
	store     *recordingStore
	files     *storage.FileManager
	clock     fakeClock
	verifier  *scriptedVerifier
	publisher *recordingPublisher
}

func newHarness(t *testing.T, results ...bool) *harness {
	t.Helper()
	return &harness{
		store:     &recordingStore{MemoryRepository: repository.NewMemoryRepository()},
		files:     storage.NewFileManager(t.TempDir(), nil, zap.NewNop()),
		clock:     clockwork.NewFakeClockAt(start),
		verifier:  &scriptedVerifier{results: results},
		publisher: &recordingPublisher{},
	}
}

func (h *harness) orchestrator(d Downloader) *Orchestrator {
	return NewOrchestrator(h.store, d, h.verifier, h.files, h.publisher, h.clock,
		Options{VerifyAttempts: 3, VerifyDelay: 2 * time.Second}, zap.NewNop())
}

func (h *harness) newJob(t *testing.T, taskID string) *models.Job {
	t.Helper()
	job := &models.Job{
		TaskID:      taskID,
		URL:         "https://example.com/watch?v=1",
		VideoFormat: "137",
		AudioFormat: "140",
		Title:       "Sample",
		Status:      models.StatusPending,
		CreatedAt:   h.clock.Now(),
	}
	if err := h.store.Create(context.Background(), job); err != nil {
		t.Fatal(err)
	}
	return job
}

func (h *harness) job(t *testing.T, taskID string) *models.Job {
	t.Helper()
	job, err := h.store.Get(context.Background(), taskID)
	if err != nil {
		t.Fatal(err)
	}
	return job
}

func bytesEvent(done, total int64) models.ProgressEvent {
	return models.ProgressEvent{Status: models.EventDownloading, DownloadedBytes: done, TotalBytes: total}
}

func TestRun_Completes(t *testing.T) {
	h := newHarness(t, true)
	job := h.newJob(t, "t1")

	var got ytdlp.DownloadOptions
	o := h.orchestrator(downloadFunc(func(_ context.Context, opts ytdlp.DownloadOptions, on ytdlp.ProgressFunc) error {
		got = opts
		on(bytesEvent(10, 100))
		on(bytesEvent(60, 100))
		on(models.ProgressEvent{Status: models.EventFinished, Filename: "/x/t1.f137.mp4"})
		return nil
	}))

	o.Run(context.Background(), job)

	if got.FormatSpec != "137+140" {
		t.Errorf("expected spec 137+140, got %s", got.FormatSpec)
	}
	if got.OutputTemplate != h.files.OutputTemplate("t1") {
		t.Errorf("unexpected output template %s", got.OutputTemplate)
	}

	final := h.job(t, "t1")
	if final.Status != models.StatusCompleted {
		t.Fatalf("expected completed, got %s", final.Status)
	}
	if final.Progress != 100 {
		t.Errorf("expected progress 100, got %v", final.Progress)
	}
	if !final.CompletedAt.Valid || !final.CompletedAt.Time.Equal(h.clock.Now()) {
		t.Errorf("unexpected completed_at %+v", final.CompletedAt)
	}
	if final.Title != "Sample" {
		t.Errorf("expected title kept, got %q", final.Title)
	}
	if msg := h.publisher.last(); msg.Status != models.StatusCompleted {
		t.Errorf("expected completed message, got %+v", msg)
	}
}

func TestRun_ProgressIsCappedAndMonotonic(t *testing.T) {
	h := newHarness(t, true)
	job := h.newJob(t, "t1")

	o := h.orchestrator(downloadFunc(func(_ context.Context, _ ytdlp.DownloadOptions, on ytdlp.ProgressFunc) error {
		on(bytesEvent(50, 100))
		on(bytesEvent(30, 100)) // 第二个流从头开始
		on(bytesEvent(100, 100))
		on(models.ProgressEvent{Status: models.EventDownloading, FragmentIndex: 1, FragmentCount: 10})
		on(models.ProgressEvent{Status: models.EventFinished})
		on(bytesEvent(5, 100)) // finished 之后的事件不会把状态拉回
		return nil
	}))

	o.Run(context.Background(), job)

	h.store.mu.Lock()
	defer h.store.mu.Unlock()

	prev := 0.0
	for i, p := range h.store.progress {
		if p < prev {
			t.Fatalf("progress decreased at write %d: %v -> %v", i, prev, p)
		}
		if h.store.statuses[i] != models.StatusCompleted && p > maxDownloadProgress {
			t.Fatalf("progress %v above cap before completion", p)
		}
		prev = p
	}
	for i := 1; i < len(h.store.statuses); i++ {
		if h.store.statuses[i-1] == models.StatusProcessing && h.store.statuses[i] == models.StatusDownloading {
			t.Fatal("status went back from processing to downloading")
		}
	}
	if prev != 100 {
		t.Errorf("expected final progress 100, got %v", prev)
	}
}

func TestRun_NeverFinishedStaysDownloading(t *testing.T) {
	h := newHarness(t, true)
	job := h.newJob(t, "t1")

	release := make(chan struct{})
	emitted := make(chan struct{})
	o := h.orchestrator(downloadFunc(func(_ context.Context, _ ytdlp.DownloadOptions, on ytdlp.ProgressFunc) error {
		on(bytesEvent(40, 100))
		close(emitted)
		<-release
		return nil
	}))

	o.Start(job)
	<-emitted

	mid := h.job(t, "t1")
	if mid.Status != models.StatusDownloading {
		t.Errorf("expected downloading while running, got %s", mid.Status)
	}
	if mid.Progress != 40 {
		t.Errorf("expected progress 40, got %v", mid.Progress)
	}
	if o.Active() != 1 {
		t.Errorf("expected 1 active job, got %d", o.Active())
	}

	close(release)
	o.Wait()

	final := h.job(t, "t1")
	if final.Status != models.StatusDownloading {
		t.Errorf("expected job to stay downloading, got %s", final.Status)
	}
	if h.verifier.calls != 0 {
		t.Errorf("verification should not run, got %d calls", h.verifier.calls)
	}
}

func TestRun_VerificationExhausted(t *testing.T) {
	h := newHarness(t, false)
	job := h.newJob(t, "t1")

	o := h.orchestrator(downloadFunc(func(_ context.Context, _ ytdlp.DownloadOptions, on ytdlp.ProgressFunc) error {
		on(models.ProgressEvent{Status: models.EventFinished, Filename: "/x/t1.mp4"})
		return nil
	}))

	advanced := advanceOnWait(h.clock, 2*time.Second, 2)
	o.Run(context.Background(), job)
	<-advanced

	final := h.job(t, "t1")
	if final.Status != models.StatusError {
		t.Fatalf("expected error, got %s", final.Status)
	}
	if final.Error.String != utils.VerificationFailedMessage {
		t.Errorf("expected %q, got %q", utils.VerificationFailedMessage, final.Error.String)
	}
	if h.verifier.calls != 3 {
		t.Errorf("expected 3 attempts, got %d", h.verifier.calls)
	}
	if waited := h.clock.Since(start); waited != 4*time.Second {
		t.Errorf("expected two 2s delays, waited %v", waited)
	}
	if final.Progress != maxDownloadProgress {
		t.Errorf("expected progress to stay at 95, got %v", final.Progress)
	}
}

func TestRun_VerificationSucceedsOnThirdAttempt(t *testing.T) {
	h := newHarness(t, false, false, true)
	job := h.newJob(t, "t1")

	o := h.orchestrator(downloadFunc(func(_ context.Context, _ ytdlp.DownloadOptions, on ytdlp.ProgressFunc) error {
		on(models.ProgressEvent{Status: models.EventFinished})
		return nil
	}))

	advanced := advanceOnWait(h.clock, 2*time.Second, 2)
	o.Run(context.Background(), job)
	<-advanced

	if final := h.job(t, "t1"); final.Status != models.StatusCompleted {
		t.Errorf("expected completed, got %s", final.Status)
	}
	if h.verifier.calls != 3 {
		t.Errorf("expected 3 attempts, got %d", h.verifier.calls)
	}
}

func TestRun_Failures(t *testing.T) {
	tests := []struct {
		name     string
		download downloadFunc
		message  string
	}{
		{
			name: "error event",
			download: func(_ context.Context, _ ytdlp.DownloadOptions, on ytdlp.ProgressFunc) error {
				on(bytesEvent(10, 100))
				on(models.ProgressEvent{Status: models.EventError, Error: "HTTP Error 403: Forbidden"})
				return errors.New("ignored after error event")
			},
			message: "HTTP Error 403: Forbidden",
		},
		{
			name: "executor error",
			download: func(context.Context, ytdlp.DownloadOptions, ytdlp.ProgressFunc) error {
				return errors.New("ERROR: Requested format is not available")
			},
			message: "ERROR: Requested format is not available",
		},
		{
			name: "panic",
			download: func(context.Context, ytdlp.DownloadOptions, ytdlp.ProgressFunc) error {
				panic("boom")
			},
			message: "boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, true)
			job := h.newJob(t, "t1")

			h.orchestrator(tt.download).Run(context.Background(), job)

			final := h.job(t, "t1")
			if final.Status != models.StatusError {
				t.Fatalf("expected error, got %s", final.Status)
			}
			if final.Error.String != tt.message {
				t.Errorf("expected %q, got %q", tt.message, final.Error.String)
			}
			if h.verifier.calls != 0 {
				t.Errorf("verification should not run, got %d calls", h.verifier.calls)
			}
		})
	}
}

func TestRun_PurgesTaskDirectory(t *testing.T) {
	h := newHarness(t, true)
	job := h.newJob(t, "t1")

	dir := h.files.TaskDir("t1")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "t1.mp4"), []byte("stale"), 0644); err != nil {
		t.Fatal(err)
	}

	var leftover int
	o := h.orchestrator(downloadFunc(func(context.Context, ytdlp.DownloadOptions, ytdlp.ProgressFunc) error {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return err
		}
		leftover = len(entries)
		return nil
	}))

	o.Run(context.Background(), job)

	if leftover != 0 {
		t.Errorf("expected purged directory, found %d entries", leftover)
	}
}

func TestRun_NoSelection(t *testing.T) {
	h := newHarness(t, true)
	job := h.newJob(t, "t1")
	job.VideoFormat, job.AudioFormat = "", ""

	called := false
	h.orchestrator(downloadFunc(func(context.Context, ytdlp.DownloadOptions, ytdlp.ProgressFunc) error {
		called = true
		return nil
	})).Run(context.Background(), job)

	if called {
		t.Error("downloader should not be called")
	}
	if final := h.job(t, "t1"); final.Status != models.StatusError {
		t.Errorf("expected error, got %s", final.Status)
	}
}

func TestStart_RunsJobsConcurrently(t *testing.T) {
	h := newHarness(t, true)

	o := h.orchestrator(downloadFunc(func(_ context.Context, _ ytdlp.DownloadOptions, on ytdlp.ProgressFunc) error {
		on(models.ProgressEvent{Status: models.EventFinished})
		return nil
	}))

	ids := []string{"a", "b", "c", "d"}
	for _, id := range ids {
		o.Start(h.newJob(t, id))
	}
	o.Wait()

	for _, id := range ids {
		if got := h.job(t, id).Status; got != models.StatusCompleted {
			t.Errorf("job %s: expected completed, got %s", id, got)
		}
	}
	if o.Active() != 0 {
		t.Errorf("expected no active jobs, got %d", o.Active())
	}
}

func TestComputeProgress(t *testing.T) {
	tests := []struct {
		name     string
		event    models.ProgressEvent
		expected float64
		ok       bool
	}{
		{"bytes", models.ProgressEvent{DownloadedBytes: 25, TotalBytes: 100}, 25, true},
		{"estimate", models.ProgressEvent{DownloadedBytes: 50, TotalBytesEstimate: 200}, 25, true},
		{"fragments", models.ProgressEvent{FragmentIndex: 3, FragmentCount: 4}, 75, true},
		{"capped", models.ProgressEvent{DownloadedBytes: 100, TotalBytes: 100}, 95, true},
		{"unknown", models.ProgressEvent{DownloadedBytes: 100}, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ComputeProgress(tt.event)
			if ok != tt.ok || got != tt.expected {
				t.Errorf("expected (%v, %v), got (%v, %v)", tt.expected, tt.ok, got, ok)
			}
		})
	}
}
