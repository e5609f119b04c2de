// Package workflows holds the Temporal workflows run by the worker.
package workflows

import (
	"fmt"
	"time"

	"paperflow/internal/activities"
	"paperflow/internal/models"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// RetryWorkflowID is the workflow id for retrying one stage of one paper, so
// two concurrent retries of the same stage collide.
func RetryWorkflowID(paperID int64, stage models.Stage) string {
	return fmt.Sprintf("retry-%d-%s", paperID, stage)
}

// StageRetryWorkflow re-drives a stuck or failed stage. It returns the final
// status, which is also available through the GetRetryStatus query.
func StageRetryWorkflow(ctx workflow.Context, input StageRetryInput) (StageRetryStatus, error) {
	status := StageRetryStatus{PaperID: input.PaperID, Stage: input.Stage, Phase: PhaseLoading}
	if err := workflow.SetQueryHandler(ctx, QueryGetRetryStatus, func() (StageRetryStatus, error) {
		return status, nil
	}); err != nil {
		return status, err
	}

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    2 * time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    20 * time.Second,
			MaximumAttempts:    3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)
	logger := workflow.GetLogger(ctx)

	var target activities.LoadRetryTargetOutput
	if err := workflow.ExecuteActivity(ctx, "LoadRetryTargetActivity", activities.LoadRetryTargetInput{
		PaperID: input.PaperID,
		Stage:   input.Stage,
	}).Get(ctx, &target); err != nil {
		status.Phase, status.Detail = PhaseFailed, err.Error()
		return status, err
	}
	if target.Skip {
		status.Phase, status.Detail = PhaseSkipped, target.Reason
		logger.Info("stage retry skipped", "paper_id", input.PaperID, "stage", input.Stage, "reason", target.Reason)
		return status, nil
	}

	var out activities.RequeueStageOutput
	if err := workflow.ExecuteActivity(ctx, "RequeueStageActivity", activities.RequeueStageInput{
		PaperID: input.PaperID,
		Stage:   input.Stage,
	}).Get(ctx, &out); err != nil {
		status.Phase, status.Detail = PhaseFailed, err.Error()
		return status, err
	}
	status.Phase, status.LogID, status.EventKind = PhaseRequeued, out.LogID, out.EventKind
	logger.Info("stage requeued", "paper_id", input.PaperID, "stage", input.Stage, "log_id", out.LogID)
	return status, nil
}
