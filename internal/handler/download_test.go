package handler

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"vasset/fetch-service/internal/formats"
	"vasset/fetch-service/internal/models"
	"vasset/fetch-service/internal/repository"
	"vasset/fetch-service/internal/service"
	"vasset/fetch-service/internal/storage"
	"vasset/fetch-service/internal/utils"
)

const testTaskID = "3f2504e0-4f89-41d3-9a0c-0305e82c3301"

type stubSource struct {
	list []models.Format
	err  error
}

func (s *stubSource) GetInfo(context.Context, string) (*models.VideoInfo, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &models.VideoInfo{ID: "abc", Title: "Sample", Duration: 60}, nil
}

func (s *stubSource) GetFormats(context.Context, string) ([]models.Format, error) {
	return s.list, s.err
}

func (s *stubSource) GetBuckets(context.Context, string) (*models.Buckets, error) {
	if s.err != nil {
		return nil, s.err
	}
	return formats.BucketFormats(s.list), nil
}

func (s *stubSource) GetSelection(ctx context.Context, url string) (*models.Buckets, []models.Format, error) {
	buckets, err := s.GetBuckets(ctx, url)
	if err != nil {
		return nil, nil, err
	}
	return buckets, s.list, nil
}

type nopRunner struct{ started int }

func (r *nopRunner) Start(*models.Job) { r.started++ }

type testEnv struct {
	router *gin.Engine
	store  *repository.MemoryRepository
	files  *storage.FileManager
	runner *nopRunner
}

func newTestEnv(t *testing.T, src *stubSource) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := repository.NewMemoryRepository()
	files := storage.NewFileManager(t.TempDir(), nil, zap.NewNop())
	runner := &nopRunner{}
	svc := service.NewDownloadService(store, src, runner, files, clockwork.NewRealClock(), zap.NewNop())
	h := NewDownloadHandler(svc, "", time.Second, zap.NewNop())

	r := gin.New()
	v1 := r.Group(apiPrefix)
	v1.GET("/info", h.GetInfo)
	v1.GET("/formats", h.GetFormats)
	v1.GET("/audio/formats", h.GetAudioFormats)
	v1.POST("/download", h.SubmitDownload)
	v1.GET("/download", h.SubmitDownloadQuery)
	v1.GET("/downloads", h.ListDownloads)
	v1.GET("/download/:task_id", h.GetDownload)
	v1.GET("/download/:task_id/file", h.DownloadFile)

	return &testEnv{router: r, store: store, files: files, runner: runner}
}

func sampleFormats() []models.Format {
	return []models.Format{
		{FormatID: "136", Ext: "mp4", Resolution: "1280x720", VCodec: "avc1", ACodec: "none", TBR: 2000},
		{FormatID: "140", Ext: "m4a", Resolution: "audio only", VCodec: "none", ACodec: "mp4a.40.2", TBR: 128, ABR: 128},
	}
}

func (e *testEnv) do(method, target string, body []byte) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, data interface{}) models.Response {
	t.Helper()
	resp := models.Response{Data: data}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json %q: %v", w.Body.String(), err)
	}
	return resp
}

func (e *testEnv) createJob(t *testing.T, job *models.Job) {
	t.Helper()
	if err := e.store.Create(context.Background(), job); err != nil {
		t.Fatalf("create job: %v", err)
	}
}

func TestGetInfo(t *testing.T) {
	env := newTestEnv(t, &stubSource{list: sampleFormats()})

	w := env.do(http.MethodGet, "/api/v1/info?url=https://example.com/watch?v=1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var info models.VideoInfo
	decode(t, w, &info)
	if info.Title != "Sample" {
		t.Errorf("title = %q", info.Title)
	}

	if w := env.do(http.MethodGet, "/api/v1/info", nil); w.Code != http.StatusBadRequest {
		t.Errorf("missing url status = %d, want 400", w.Code)
	}
}

func TestGetInfoExtractionFailed(t *testing.T) {
	env := newTestEnv(t, &stubSource{err: utils.ErrExtractionFailed})

	w := env.do(http.MethodGet, "/api/v1/info?url=https://example.com/v", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestGetFormats(t *testing.T) {
	env := newTestEnv(t, &stubSource{list: sampleFormats()})

	w := env.do(http.MethodGet, "/api/v1/formats?url=https://example.com/v", nil)
	var list []models.Format
	decode(t, w, &list)
	if w.Code != http.StatusOK || len(list) != 2 {
		t.Fatalf("status = %d, formats = %d", w.Code, len(list))
	}

	w = env.do(http.MethodGet, "/api/v1/formats?url=https://example.com/v&filtered=true", nil)
	var buckets models.Buckets
	decode(t, w, &buckets)
	if _, ok := buckets.Formats[models.QualityHD]; !ok {
		t.Errorf("expected HD bucket, got %+v", buckets.Formats)
	}

	w = env.do(http.MethodGet, "/api/v1/audio/formats?url=https://example.com/v", nil)
	var audio []models.AudioFormat
	decode(t, w, &audio)
	if len(audio) != 1 || audio[0].Quality != models.AudioMedium {
		t.Errorf("audio formats = %+v", audio)
	}
}

func TestSubmitDownload(t *testing.T) {
	env := newTestEnv(t, &stubSource{list: sampleFormats()})

	body, _ := json.Marshal(models.DownloadRequest{URL: "https://example.com/v", Format: "HD"})
	w := env.do(http.MethodPost, "/api/v1/download", body)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp models.SubmitResponse
	decode(t, w, &resp)
	if resp.Status != models.StatusPending || resp.TaskID == "" {
		t.Errorf("response = %+v", resp)
	}
	if env.runner.started != 1 {
		t.Errorf("runner started %d jobs, want 1", env.runner.started)
	}
}

func TestSubmitDownloadQuery(t *testing.T) {
	env := newTestEnv(t, &stubSource{list: sampleFormats()})

	w := env.do(http.MethodGet, "/api/v1/download?url=https://example.com/v&format=140&audio_only=true", nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	jobs, _ := env.store.List(context.Background())
	if len(jobs) != 1 || !jobs[0].AudioOnly {
		t.Errorf("jobs = %+v", jobs)
	}
}

func TestSubmitDownloadRejected(t *testing.T) {
	tests := []struct {
		name string
		req  models.DownloadRequest
	}{
		{"unavailable quality", models.DownloadRequest{URL: "https://example.com/v", Format: "4K"}},
		{"unknown format id", models.DownloadRequest{URL: "https://example.com/v", Format: "999"}},
		{"no selection", models.DownloadRequest{URL: "https://example.com/v"}},
		{"invalid url", models.DownloadRequest{URL: "not a url", Format: "HD"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, &stubSource{list: sampleFormats()})
			body, _ := json.Marshal(tt.req)

			w := env.do(http.MethodPost, "/api/v1/download", body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400 (%s)", w.Code, w.Body.String())
			}
			if env.runner.started != 0 {
				t.Error("job must not be started")
			}
		})
	}
}

func TestSubmitDownloadBadJSON(t *testing.T) {
	env := newTestEnv(t, &stubSource{list: sampleFormats()})

	w := env.do(http.MethodPost, "/api/v1/download", []byte("{"))
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestGetDownloadStatus(t *testing.T) {
	env := newTestEnv(t, &stubSource{list: sampleFormats()})

	path := filepath.Join(env.files.TaskDir(testTaskID), testTaskID+".mp4")
	env.createJob(t, &models.Job{
		TaskID:      testTaskID,
		URL:         "https://example.com/v",
		Status:      models.StatusCompleted,
		Progress:    100,
		FilePath:    sql.NullString{String: path, Valid: true},
		CreatedAt:   time.Now(),
		CompletedAt: sql.NullTime{Time: time.Now(), Valid: true},
	})

	w := env.do(http.MethodGet, "/api/v1/download/"+testTaskID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var view models.JobView
	decode(t, w, &view)
	if view.Status != models.StatusCompleted || view.Progress != 100 {
		t.Errorf("view = %+v", view)
	}
	if !strings.HasSuffix(view.DownloadURL, "/api/v1/download/"+testTaskID+"/file") {
		t.Errorf("download_url = %q", view.DownloadURL)
	}
	if !strings.HasSuffix(view.FileURL, "/api/v1/download/"+testTaskID+".mp4") {
		t.Errorf("file_url = %q", view.FileURL)
	}
	if strings.Contains(w.Body.String(), "file_path") {
		t.Error("file_path must not be exposed")
	}
}

func TestGetDownloadErrors(t *testing.T) {
	env := newTestEnv(t, &stubSource{list: sampleFormats()})

	if w := env.do(http.MethodGet, "/api/v1/download/not-a-uuid", nil); w.Code != http.StatusBadRequest {
		t.Errorf("invalid id status = %d, want 400", w.Code)
	}
	if w := env.do(http.MethodGet, "/api/v1/download/"+testTaskID, nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown id status = %d, want 404", w.Code)
	}
}

func TestDownloadFile(t *testing.T) {
	env := newTestEnv(t, &stubSource{list: sampleFormats()})

	dir := env.files.TaskDir(testTaskID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, testTaskID+".mp4")
	if err := os.WriteFile(path, []byte("media-bytes"), 0644); err != nil {
		t.Fatal(err)
	}
	env.createJob(t, &models.Job{
		TaskID:      testTaskID,
		Status:      models.StatusCompleted,
		Progress:    100,
		FilePath:    sql.NullString{String: path, Valid: true},
		CompletedAt: sql.NullTime{Time: time.Now(), Valid: true},
	})

	for _, target := range []string{
		"/api/v1/download/" + testTaskID + "/file",
		"/api/v1/download/" + testTaskID + ".mp4",
	} {
		w := env.do(http.MethodGet, target, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("%s: status = %d, body = %s", target, w.Code, w.Body.String())
		}
		if w.Body.String() != "media-bytes" {
			t.Errorf("%s: body = %q", target, w.Body.String())
		}
		if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, testTaskID+".mp4") {
			t.Errorf("%s: Content-Disposition = %q", target, cd)
		}
	}
}

func TestDownloadFileNotReady(t *testing.T) {
	tests := []struct {
		name       string
		job        *models.Job
		wantStatus int
		wantInBody string
	}{
		{
			name:       "still downloading",
			job:        &models.Job{TaskID: testTaskID, Status: models.StatusDownloading, Progress: 42},
			wantStatus: http.StatusBadRequest,
			wantInBody: `"progress":42`,
		},
		{
			name:       "failed",
			job:        &models.Job{TaskID: testTaskID, Status: models.StatusError, Error: sql.NullString{String: "HTTP 403", Valid: true}},
			wantStatus: http.StatusBadRequest,
			wantInBody: "HTTP 403",
		},
		{
			name:       "completed without artifact",
			job:        &models.Job{TaskID: testTaskID, Status: models.StatusCompleted, Progress: 100},
			wantStatus: http.StatusNotFound,
			wantInBody: "media file not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, &stubSource{list: sampleFormats()})
			env.createJob(t, tt.job)

			w := env.do(http.MethodGet, "/api/v1/download/"+testTaskID+"/file", nil)
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if !strings.Contains(w.Body.String(), tt.wantInBody) {
				t.Errorf("body %q does not contain %q", w.Body.String(), tt.wantInBody)
			}
		})
	}
}

func TestListDownloads(t *testing.T) {
	env := newTestEnv(t, &stubSource{list: sampleFormats()})
	env.createJob(t, &models.Job{TaskID: testTaskID, Status: models.StatusPending, CreatedAt: time.Now()})

	w := env.do(http.MethodGet, "/api/v1/downloads", nil)
	var views []models.JobView
	decode(t, w, &views)
	if w.Code != http.StatusOK || len(views) != 1 {
		t.Fatalf("status = %d, views = %+v", w.Code, views)
	}
}

func TestRespondErrorMapping(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewDownloadHandler(nil, "", 0, zap.NewNop())

	tests := []struct {
		err  error
		want int
	}{
		{utils.ErrInvalidURL, http.StatusBadRequest},
		{utils.ErrQualityUnavailable, http.StatusBadRequest},
		{utils.ErrJobNotFound, http.StatusNotFound},
		{utils.ErrArtifactNotFound, http.StatusNotFound},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("db down"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

		h.respondError(c, tt.err)
		if w.Code != tt.want {
			t.Errorf("%v: status = %d, want %d", tt.err, w.Code, tt.want)
		}
	}
}
