package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/api/enums/v1"
	temporalsdkclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"

	"github.com/whiskertales/backend/internal/logger"
)

// Job kinds dispatched to the queue. Each maps to one registered workflow.
const (
	JobDocumentExtract        = "document_extract"
	JobSimplificationGenerate = "simplification_generate"
	JobFileCleanup            = "file_cleanup"
	JobNotificationSend       = "notification_send"
)

// Job is the unit of work handed to the queue collaborator.
type Job struct {
	Kind       string    `json:"kind"`
	DocumentID uuid.UUID `json:"document_id,omitempty"`
	TargetID   uuid.UUID `json:"target_id,omitempty"`
	StorageKey string    `json:"storage_key,omitempty"`
	UserID     uuid.UUID `json:"user_id,omitempty"`
	Payload    string    `json:"payload,omitempty"`
}

// Dispatcher enqueues a job with an optional delay. Dispatch is
// fire-and-forget: callers never consult the job's outcome.
type Dispatcher interface {
	Dispatch(ctx context.Context, job Job, delay time.Duration) error
}

type temporalDispatcher struct {
	log       *logger.Logger
	client    temporalsdkclient.Client
	taskQueue string
}

func NewTemporalDispatcher(log *logger.Logger, c temporalsdkclient.Client, taskQueue string) Dispatcher {
	if strings.TrimSpace(taskQueue) == "" {
		taskQueue = "whiskertales"
	}
	return &temporalDispatcher{
		log:       log.With("service", "TemporalDispatcher"),
		client:    c,
		taskQueue: taskQueue,
	}
}

func (d *temporalDispatcher) Dispatch(ctx context.Context, job Job, delay time.Duration) error {
	if d.client == nil {
		return fmt.Errorf("temporal not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if delay < 0 {
		delay = 0
	}

	opts := temporalsdkclient.StartWorkflowOptions{
		ID:                    workflowID(job),
		TaskQueue:             d.taskQueue,
		StartDelay:            delay,
		WorkflowIDReusePolicy: enums.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    30 * time.Second,
			BackoffCoefficient: 1.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    5,
		},
	}

	_, err := d.client.ExecuteWorkflow(ctx, opts, job.Kind, job)
	if err != nil {
		return fmt.Errorf("dispatch %s: %w", job.Kind, err)
	}
	d.log.Debug("Job dispatched", "kind", job.Kind, "workflow_id", opts.ID, "delay", delay.String())
	return nil
}

func workflowID(job Job) string {
	target := job.TargetID
	if target == uuid.Nil {
		target = job.DocumentID
	}
	// uuid suffix keeps re-dispatches of the same target from colliding.
	return fmt.Sprintf("%s-%s-%s", job.Kind, target, uuid.NewString()[:8])
}
