package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/activity"
	temporalsdkclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/whiskertales/backend/internal/logger"
	"github.com/whiskertales/backend/internal/services"
	"github.com/whiskertales/backend/internal/temporalx"
	"github.com/whiskertales/backend/internal/utils"
)

// Runner owns the Temporal worker: registration and the start/stop loop.
type Runner struct {
	log  *logger.Logger
	tc   temporalsdkclient.Client
	acts *Activities
}

func NewRunner(log *logger.Logger, tc temporalsdkclient.Client, acts *Activities) (*Runner, error) {
	if tc == nil {
		return nil, fmt.Errorf("temporal client is not configured")
	}
	if acts == nil {
		return nil, fmt.Errorf("worker activities missing")
	}
	return &Runner{log: log.With("component", "JobRunner"), tc: tc, acts: acts}, nil
}

// Start brings the worker up, retrying transient failures, and stops it
// when ctx is cancelled.
func (r *Runner) Start(ctx context.Context) error {
	cfg := temporalx.LoadConfig()
	r.log.Info("Starting job worker", "namespace", cfg.Namespace, "task_queue", cfg.TaskQueue)

	maxWait := 60 * time.Second
	deadline := time.Now().Add(maxWait)

	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		w := r.newWorker(cfg.TaskQueue)
		startErr := w.Start()
		if startErr == nil {
			go func() {
				<-ctx.Done()
				w.Stop()
			}()
			r.log.Info("Job worker started", "task_queue", cfg.TaskQueue, "attempts", attempt)
			return nil
		}
		w.Stop()

		var nfe *serviceerror.NamespaceNotFound
		if errors.As(startErr, &nfe) {
			// Will not heal without provisioning; fail fast.
			return fmt.Errorf("temporal namespace not found (namespace=%s): %w", cfg.Namespace, startErr)
		}
		if !temporalx.IsRetryableRPC(startErr) || time.Now().After(deadline) {
			return startErr
		}
		r.log.Warn("Job worker failed to start; retrying", "attempt", attempt, "error", startErr)
		time.Sleep(time.Duration(attempt) * 500 * time.Millisecond)
	}
}

func (r *Runner) newWorker(taskQueue string) worker.Worker {
	concurrency := utils.GetEnvAsInt("WORKER_CONCURRENCY", 4, r.log)
	if concurrency < 1 {
		concurrency = 1
	}

	w := worker.New(r.tc, taskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     concurrency,
		MaxConcurrentWorkflowTaskExecutionSize: concurrency,
	})

	// Workflow names match the job kinds the dispatcher starts.
	w.RegisterWorkflowWithOptions(DocumentExtractWorkflow, workflow.RegisterOptions{Name: services.JobDocumentExtract})
	w.RegisterWorkflowWithOptions(SimplificationGenerateWorkflow, workflow.RegisterOptions{Name: services.JobSimplificationGenerate})
	w.RegisterWorkflowWithOptions(FileCleanupWorkflow, workflow.RegisterOptions{Name: services.JobFileCleanup})
	w.RegisterWorkflowWithOptions(NotificationSendWorkflow, workflow.RegisterOptions{Name: services.JobNotificationSend})

	w.RegisterActivityWithOptions(r.acts.ExtractDocument, activity.RegisterOptions{Name: ActivityExtract})
	w.RegisterActivityWithOptions(r.acts.GenerateSimplification, activity.RegisterOptions{Name: ActivityGenerate})
	w.RegisterActivityWithOptions(r.acts.CleanupFile, activity.RegisterOptions{Name: ActivityCleanup})
	w.RegisterActivityWithOptions(r.acts.SendNotification, activity.RegisterOptions{Name: ActivityNotify})
	return w
}
