package jobs

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/whiskertales/backend/internal/services"
)

// Activity registration names. Workflows reference activities by name so
// the API process can dispatch without linking the worker binary.
const (
	ActivityExtract  = "ExtractDocument"
	ActivityGenerate = "GenerateSimplification"
	ActivityCleanup  = "CleanupFile"
	ActivityNotify   = "SendNotification"
)

func activityOptions(timeout time.Duration) workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		HeartbeatTimeout:    time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    30 * time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    5 * time.Minute,
			MaximumAttempts:    5,
		},
	}
}

// Each workflow is a thin shell around one activity. The queue handles
// delay, retry, and dedup; the domain work lives in the services layer.

func DocumentExtractWorkflow(ctx workflow.Context, job services.Job) error {
	ctx = workflow.WithActivityOptions(ctx, activityOptions(10*time.Minute))
	return workflow.ExecuteActivity(ctx, ActivityExtract, job).Get(ctx, nil)
}

func SimplificationGenerateWorkflow(ctx workflow.Context, job services.Job) error {
	ctx = workflow.WithActivityOptions(ctx, activityOptions(15*time.Minute))
	return workflow.ExecuteActivity(ctx, ActivityGenerate, job).Get(ctx, nil)
}

func FileCleanupWorkflow(ctx workflow.Context, job services.Job) error {
	ctx = workflow.WithActivityOptions(ctx, activityOptions(5*time.Minute))
	return workflow.ExecuteActivity(ctx, ActivityCleanup, job).Get(ctx, nil)
}

func NotificationSendWorkflow(ctx workflow.Context, job services.Job) error {
	ctx = workflow.WithActivityOptions(ctx, activityOptions(2*time.Minute))
	return workflow.ExecuteActivity(ctx, ActivityNotify, job).Get(ctx, nil)
}
