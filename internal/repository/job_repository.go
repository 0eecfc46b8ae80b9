package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"vasset/fetch-service/internal/models"
	"vasset/fetch-service/internal/utils"
)

// JobStore 任务存储接口
type JobStore interface {
	Create(ctx context.Context, job *models.Job) error
	Get(ctx context.Context, taskID string) (*models.Job, error)
	// UpdateFields 按字段部分更新, 只写入 update 中非 nil 的字段
	UpdateFields(ctx context.Context, taskID string, update models.JobUpdate) error
	List(ctx context.Context) ([]*models.Job, error)
}

const jobColumns = `id, task_id, url, format, video_format, audio_format, audio_only, convert_to_mp3,
		       status, progress, title, file_path, error, created_at, completed_at`

// JobRepository 基于 PostgreSQL 的任务存储
type JobRepository struct {
	db *sql.DB
}

// NewJobRepository 创建任务仓储
func NewJobRepository(db *sql.DB) *JobRepository {
	return &JobRepository{db: db}
}

// Create 创建任务记录
func (r *JobRepository) Create(ctx context.Context, job *models.Job) error {
	query := `
		INSERT INTO downloads (task_id, url, format, video_format, audio_format, audio_only,
		                       convert_to_mp3, status, progress, title, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`

	err := r.db.QueryRowContext(
		ctx, query,
		job.TaskID,
		job.URL,
		job.Format,
		job.VideoFormat,
		job.AudioFormat,
		job.AudioOnly,
		job.ConvertToMP3,
		job.Status,
		job.Progress,
		job.Title,
		job.CreatedAt,
	).Scan(&job.ID)

	if err != nil {
		return fmt.Errorf("failed to create download record: %w", err)
	}

	return nil
}

// Get 按任务 ID 查询
func (r *JobRepository) Get(ctx context.Context, taskID string) (*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM downloads WHERE task_id = $1`

	job, err := scanJob(r.db.QueryRowContext(ctx, query, taskID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, utils.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find by task id: %w", err)
	}

	return job, nil
}

// UpdateFields 部分更新任务字段
func (r *JobRepository) UpdateFields(ctx context.Context, taskID string, update models.JobUpdate) error {
	if update.IsEmpty() {
		return nil
	}

	setClause, args := buildUpdate(update)
	args = append(args, taskID)
	query := fmt.Sprintf("UPDATE downloads SET %s WHERE task_id = $%d", setClause, len(args))

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update download record: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if rows == 0 {
		return utils.ErrJobNotFound
	}

	return nil
}

// List 查询全部任务, 按创建时间倒序
func (r *JobRepository) List(ctx context.Context) ([]*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM downloads ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list download records: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan download record: %w", err)
		}
		jobs = append(jobs, job)
	}

	return jobs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	job := &models.Job{}
	var status string
	err := row.Scan(
		&job.ID, &job.TaskID, &job.URL, &job.Format, &job.VideoFormat, &job.AudioFormat,
		&job.AudioOnly, &job.ConvertToMP3, &status, &job.Progress, &job.Title,
		&job.FilePath, &job.Error, &job.CreatedAt, &job.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	job.Status = models.JobStatus(status)
	return job, nil
}

// buildUpdate 构建 SET 子句, 占位符从 $1 开始
func buildUpdate(update models.JobUpdate) (string, []interface{}) {
	var (
		sets []string
		args []interface{}
	)
	add := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if update.Status != nil {
		add("status", string(*update.Status))
	}
	if update.Progress != nil {
		add("progress", *update.Progress)
	}
	if update.Title != nil {
		add("title", *update.Title)
	}
	if update.FilePath != nil {
		add("file_path", nullString(*update.FilePath))
	}
	if update.Error != nil {
		add("error", nullString(*update.Error))
	}
	if update.CompletedAt != nil {
		add("completed_at", *update.CompletedAt)
	}

	return strings.Join(sets, ", "), args
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
