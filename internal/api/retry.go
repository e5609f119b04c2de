package api

import (
	"context"
	"errors"
	"fmt"

	"paperflow/internal/apperr"
	"paperflow/internal/models"
	"paperflow/internal/workflows"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	tclient "go.temporal.io/sdk/client"
)

// Retrier starts an operator retry of one stage of one paper.
type Retrier interface {
	StartRetry(ctx context.Context, paperID int64, stage models.Stage) (workflowID, runID string, err error)
}

type TemporalRetrier struct {
	client    tclient.Client
	taskQueue string
}

func NewTemporalRetrier(c tclient.Client, taskQueue string) *TemporalRetrier {
	return &TemporalRetrier{client: c, taskQueue: taskQueue}
}

// StartRetry runs StageRetryWorkflow under a per-stage workflow id. A retry
// still running for the same stage is reported as a conflict; a finished one
// may be started again.
func (t *TemporalRetrier) StartRetry(ctx context.Context, paperID int64, stage models.Stage) (string, string, error) {
	opts := tclient.StartWorkflowOptions{
		ID:                    workflows.RetryWorkflowID(paperID, stage),
		TaskQueue:             t.taskQueue,
		WorkflowIDReusePolicy: enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
	}
	opts.WorkflowExecutionErrorWhenAlreadyStarted = true
	run, err := t.client.ExecuteWorkflow(ctx, opts, workflows.StageRetryWorkflow, workflows.StageRetryInput{PaperID: paperID, Stage: stage})
	if err != nil {
		var started *serviceerror.WorkflowExecutionAlreadyStarted
		if errors.As(err, &started) {
			return "", "", apperr.Conflict(fmt.Sprintf("a %s retry is already running for paper %d", stage, paperID))
		}
		return "", "", apperr.ExternalDependency("temporal", err)
	}
	return run.GetID(), run.GetRunID(), nil
}
