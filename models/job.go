package models

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// JobProgress is coarse per-job progress for pollers.
type JobProgress struct {
	Total       int    `json:"total"`
	Completed   int    `json:"completed"`
	CurrentStep string `json:"current_step"`
}

// Job is one asynchronous unit of background work. A job is created by the
// orchestrator, mutated only by the worker running it, and read by pollers.
type Job struct {
	ID          string      `json:"id"`
	Type        JobType     `json:"type"`
	Status      JobStatus   `json:"status"`
	CreatedAt   time.Time   `json:"created_at"`
	StartedAt   *time.Time  `json:"started_at"`
	CompletedAt *time.Time  `json:"completed_at"`
	Progress    JobProgress `json:"progress"`
	Result      any         `json:"result"`
	Error       string      `json:"error"`
	DurationMs  int64       `json:"duration_ms"`
}

func (j *Job) snapshot() *Job {
	cp := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		cp.StartedAt = &t
		end := time.Now()
		if j.CompletedAt != nil {
			t2 := *j.CompletedAt
			cp.CompletedAt = &t2
			end = t2
		}
		cp.DurationMs = end.Sub(t).Milliseconds()
	}
	return &cp
}

// JobStore is an in-memory job registry with age-based expiry. All mutations
// are keyed by id; each job is only ever mutated by the single worker that
// owns it, so the store only needs to guard the map itself.
type JobStore struct {
	mu        sync.RWMutex
	jobs      map[string]*Job
	retention time.Duration
}

func NewJobStore(retention time.Duration) *JobStore {
	if retention <= 0 {
		retention = time.Hour
	}
	return &JobStore{
		jobs:      make(map[string]*Job),
		retention: retention,
	}
}

func (s *JobStore) Create(jobType JobType) *Job {
	job := &Job{
		ID:        uuid.NewString(),
		Type:      jobType,
		Status:    JobStatusPending,
		CreatedAt: time.Now(),
	}
	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()
	return job.snapshot()
}

// MarkRunning transitions pending -> running. StartedAt is set exactly once;
// repeated calls are no-ops.
func (s *JobStore) MarkRunning(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || job.Status != JobStatusPending {
		return
	}
	now := time.Now()
	job.Status = JobStatusRunning
	job.StartedAt = &now
}

func (s *JobStore) SetProgress(id string, total int, completed int, currentStep string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return
	}
	job.Progress = JobProgress{Total: total, Completed: completed, CurrentStep: currentStep}
}

// Complete moves a job to its terminal completed state. CompletedAt is set
// exactly once; a job already terminal is left untouched.
func (s *JobStore) Complete(id string, result any) {
	s.finish(id, JobStatusCompleted, result, "")
}

// Fail moves a job to its terminal failed state with an error message.
func (s *JobStore) Fail(id string, errMsg string) {
	s.finish(id, JobStatusFailed, nil, errMsg)
}

// FailWith is Fail keeping a partial result payload on the record, for work
// that produced something before dying.
func (s *JobStore) FailWith(id string, errMsg string, result any) {
	s.finish(id, JobStatusFailed, result, errMsg)
}

func (s *JobStore) finish(id string, status JobStatus, result any, errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return
	}
	if job.Status == JobStatusCompleted || job.Status == JobStatusFailed {
		return
	}
	now := time.Now()
	job.Status = status
	job.CompletedAt = &now
	job.Result = result
	job.Error = errMsg
}

// Get returns a copy of the job, or nil if unknown or already expired.
func (s *JobStore) Get(id string) *Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil
	}
	return job.snapshot()
}

// GetMany returns a copy per requested id; missing ids map to nil.
func (s *JobStore) GetMany(ids []string) map[string]*Job {
	out := make(map[string]*Job, len(ids))
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range ids {
		if job, ok := s.jobs[id]; ok {
			out[id] = job.snapshot()
		} else {
			out[id] = nil
		}
	}
	return out
}

// List returns a count-by-status summary and the most recent n jobs.
func (s *JobStore) List(n int) (map[JobStatus]int, []*Job) {
	s.mu.RLock()
	all := make([]*Job, 0, len(s.jobs))
	counts := map[JobStatus]int{
		JobStatusPending:   0,
		JobStatusRunning:   0,
		JobStatusCompleted: 0,
		JobStatusFailed:    0,
	}
	for _, job := range s.jobs {
		counts[job.Status]++
		all = append(all, job.snapshot())
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	if n > 0 && len(all) > n {
		all = all[:n]
	}
	return counts, all
}

// Purge drops jobs older than the retention window. Called on a periodic
// sweep and opportunistically on each finalize request.
func (s *JobStore) Purge() int {
	cutoff := time.Now().Add(-s.retention)
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, job := range s.jobs {
		if job.CreatedAt.Before(cutoff) {
			delete(s.jobs, id)
			removed++
		}
	}
	return removed
}

// StartSweeper runs Purge on the given interval until ctx is done.
func (s *JobStore) StartSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Purge()
			}
		}
	}()
}
