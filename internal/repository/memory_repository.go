package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"vasset/fetch-service/internal/models"
	"vasset/fetch-service/internal/utils"
)

// MemoryRepository 内存任务存储, 未配置数据库时使用
type MemoryRepository struct {
	mu     sync.RWMutex
	jobs   map[string]*models.Job
	nextID int64
}

// NewMemoryRepository 创建内存存储
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{jobs: make(map[string]*models.Job)}
}

// Create 创建任务记录
func (r *MemoryRepository) Create(_ context.Context, job *models.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[job.TaskID]; exists {
		return fmt.Errorf("failed to create download record: task %s already exists", job.TaskID)
	}

	r.nextID++
	job.ID = r.nextID
	r.jobs[job.TaskID] = job.Clone()
	return nil
}

// Get 返回任务快照
func (r *MemoryRepository) Get(_ context.Context, taskID string) (*models.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[taskID]
	if !ok {
		return nil, utils.ErrJobNotFound
	}
	return job.Clone(), nil
}

// UpdateFields 部分更新任务字段
func (r *MemoryRepository) UpdateFields(_ context.Context, taskID string, update models.JobUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[taskID]
	if !ok {
		return utils.ErrJobNotFound
	}
	update.Apply(job)
	return nil
}

// List 返回全部任务快照, 按创建时间倒序
func (r *MemoryRepository) List(_ context.Context) ([]*models.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	jobs := make([]*models.Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		jobs = append(jobs, job.Clone())
	}
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].ID > jobs[j].ID
		}
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	return jobs, nil
}
