package workflow

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"bitbucket.org/mmdatafocus/storefront_backend/config"
	"bitbucket.org/mmdatafocus/storefront_backend/models"
)

// Task is one queued unit of background work. Run receives a context that
// outlives the originating request; the outcome lands on the job record, never
// on the caller's response.
type Task struct {
	JobId  string
	UserId string
	Title  string
	Run    func(ctx context.Context) (any, error)
}

// Queue hands background work from request handlers to a worker pool. The
// handler enqueues a task after its response is decided; a worker dequeues,
// runs it, and records the terminal transition plus a notification.
type Queue struct {
	tasks         chan Task
	jobs          *models.JobStore
	notifications *models.NotificationStore
	logger        *logrus.Logger
}

func NewQueue(jobs *models.JobStore, notifications *models.NotificationStore, logger *logrus.Logger, buffer int) *Queue {
	if buffer <= 0 {
		buffer = 256
	}
	return &Queue{
		tasks:         make(chan Task, buffer),
		jobs:          jobs,
		notifications: notifications,
		logger:        logger,
	}
}

// Start launches the worker pool. Workers drain until ctx is done.
func (q *Queue) Start(ctx context.Context, workers int) {
	if workers <= 0 {
		workers = 4
	}
	for i := 0; i < workers; i++ {
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case task := <-q.tasks:
					q.execute(ctx, task)
				}
			}
		}()
	}
}

// Enqueue hands a task to the pool. A full queue runs the task on its own
// goroutine instead of dropping it; the job record must not strand in pending.
func (q *Queue) Enqueue(task Task) {
	select {
	case q.tasks <- task:
	default:
		q.logger.WithFields(logrus.Fields{
			"module": "workflow",
			"job_id": task.JobId,
		}).Warn("job queue full; running task inline")
		go q.execute(context.Background(), task)
	}
}

func (q *Queue) execute(ctx context.Context, task Task) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			config.LogError(q.logger, "workflow", "Queue.execute", "task panicked", task.JobId, err)
			q.finish(task, nil, err)
		}
	}()

	q.jobs.MarkRunning(task.JobId)
	result, err := task.Run(ctx)
	q.finish(task, result, err)
}

func (q *Queue) finish(task Task, result any, err error) {
	if err != nil {
		q.jobs.FailWith(task.JobId, err.Error(), result)
		q.notifications.Add(task.UserId, models.NotificationTypeJobFailed,
			task.Title+" failed", err.Error(), map[string]any{"job_id": task.JobId})
		return
	}
	q.jobs.Complete(task.JobId, result)
	q.notifications.Add(task.UserId, models.NotificationTypeJobCompleted,
		task.Title+" completed", "", map[string]any{"job_id": task.JobId})
}
