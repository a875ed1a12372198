// internal/common/camunda/worker.go
package camunda

import (
	"time"

	"capsule-notifier/internal/common/logger"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"
)

// JobHandler completes or fails the job itself.
type JobHandler interface {
	Handle(client worker.JobClient, job entities.Job)
}

type WorkerConfig struct {
	TaskType      string
	MaxJobsActive int
	// Timeout is how long the broker waits before handing the job to another worker.
	Timeout time.Duration
}

type CamundaWorker struct {
	worker   worker.JobWorker
	logger   logger.Logger
	taskType string
}

func NewWorker(client zbc.Client, cfg WorkerConfig, handler JobHandler, log logger.Logger) *CamundaWorker {
	step := client.NewJobWorker().
		JobType(cfg.TaskType).
		Handler(handler.Handle).
		MaxJobsActive(cfg.MaxJobsActive)
	if cfg.Timeout > 0 {
		step = step.Timeout(cfg.Timeout)
	}

	log = log.WithFields(map[string]interface{}{"taskType": cfg.TaskType})
	log.Info("worker started", nil)

	return &CamundaWorker{
		worker:   step.Open(),
		logger:   log,
		taskType: cfg.TaskType,
	}
}

// Stop closes the job worker and waits for in-flight jobs.
func (w *CamundaWorker) Stop() {
	w.logger.Info("stopping worker", nil)
	w.worker.Close()
	w.worker.AwaitClose()
}
