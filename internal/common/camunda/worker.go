// internal/common/camunda/worker.go
package camunda

import (
	"fmt"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"

	"mailmerge-workers/internal/common/logger"
)

// JobHandler is implemented by every worker package.
type JobHandler interface {
	Handle(client worker.JobClient, job entities.Job)
	GetTaskType() string
}

type WorkerOptions struct {
	MaxJobsActive int
	Timeout       time.Duration
}

// Worker is one open job subscription.
type Worker struct {
	taskType string
	worker   worker.JobWorker
	logger   logger.Logger
}

// StartWorker opens a job worker for handler's task type.
func (c *Client) StartWorker(handler JobHandler, opts WorkerOptions, log logger.Logger) *Worker {
	taskType := handler.GetTaskType()
	jobWorker := c.client.NewJobWorker().
		JobType(taskType).
		Handler(handler.Handle).
		MaxJobsActive(opts.MaxJobsActive).
		Timeout(opts.Timeout).
		Name(fmt.Sprintf("%s-worker", taskType)).
		Open()

	log.Info("worker started", map[string]interface{}{
		"taskType":      taskType,
		"maxJobsActive": opts.MaxJobsActive,
		"timeout":       opts.Timeout.String(),
	})
	return &Worker{taskType: taskType, worker: jobWorker, logger: log}
}

// Stop closes the subscription and waits for in-flight jobs.
func (w *Worker) Stop() {
	w.logger.Info("stopping worker", map[string]interface{}{"taskType": w.taskType})
	w.worker.Close()
	w.worker.AwaitClose()
}
