package manager

import (
	"context"
	"sync"
	"time"

	"github.com/charlesren/ylog"
	"github.com/google/uuid"
)

type JobStatus string

const (
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

type jobHandle interface {
	Cancel()
	Status() JobStatus
}

// Job 可取消、可等待的后台工作流，供界面层在事件循环之外调度
type Job[T any] struct {
	ID        string
	Name      string
	StartedAt time.Time

	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	status JobStatus
	result T
	err    error
}

// Submit 在后台运行fn。Manager.Stop会取消并等待所有未完成的任务
func Submit[T any](m *Manager, ctx context.Context, name string, fn func(ctx context.Context) (T, error)) *Job[T] {
	jobCtx, cancel := context.WithCancel(ctx)
	// Manager停止时一并取消
	stopWatch := context.AfterFunc(m.baseCtx, cancel)

	job := &Job[T]{
		ID:        uuid.NewString(),
		Name:      name,
		StartedAt: time.Now(),
		cancel:    cancel,
		done:      make(chan struct{}),
		status:    JobRunning,
	}

	m.mu.Lock()
	m.jobs[job.ID] = job
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer stopWatch()
		defer cancel()

		result, err := fn(jobCtx)

		job.mu.Lock()
		job.result, job.err = result, err
		switch {
		case err == nil:
			job.status = JobSucceeded
		case jobCtx.Err() != nil:
			job.status = JobCancelled
		default:
			job.status = JobFailed
		}
		status := job.status
		job.mu.Unlock()
		close(job.done)

		m.mu.Lock()
		delete(m.jobs, job.ID)
		m.mu.Unlock()

		ylog.Debugf("Job", "%s (%s) finished: %s in %v", job.Name, job.ID, status, time.Since(job.StartedAt))
	}()
	return job
}

func (j *Job[T]) Done() <-chan struct{} {
	return j.done
}

func (j *Job[T]) Cancel() {
	j.cancel()
}

func (j *Job[T]) Status() JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// Wait 等待任务结束；ctx结束时返回ctx错误，任务继续运行
func (j *Job[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-j.done:
		j.mu.Lock()
		defer j.mu.Unlock()
		return j.result, j.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// RunningJobs 当前未完成的任务数
func (m *Manager) RunningJobs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs)
}
