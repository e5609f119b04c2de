package workflows

import (
	"context"
	"testing"

	"paperflow/internal/activities"
	"paperflow/internal/models"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"
)

func registerActivityName[T any](env *testsuite.TestWorkflowEnvironment, name string, fn T) {
	env.RegisterActivityWithOptions(fn, activity.RegisterOptions{Name: name})
}

func newEnv(t *testing.T) *testsuite.TestWorkflowEnvironment {
	t.Helper()
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(StageRetryWorkflow)
	registerActivityName(env, "LoadRetryTargetActivity", func(context.Context, activities.LoadRetryTargetInput) (activities.LoadRetryTargetOutput, error) {
		return activities.LoadRetryTargetOutput{}, nil
	})
	registerActivityName(env, "RequeueStageActivity", func(context.Context, activities.RequeueStageInput) (activities.RequeueStageOutput, error) {
		return activities.RequeueStageOutput{}, nil
	})
	return env
}

func TestStageRetryRequeuesFailedStage(t *testing.T) {
	env := newEnv(t)
	in := StageRetryInput{PaperID: 4, Stage: models.StageExtract}
	env.OnActivity("LoadRetryTargetActivity", mock.Anything, activities.LoadRetryTargetInput{PaperID: 4, Stage: models.StageExtract}).
		Return(activities.LoadRetryTargetOutput{CurrentStatus: models.StageFailed}, nil)
	env.OnActivity("RequeueStageActivity", mock.Anything, activities.RequeueStageInput{PaperID: 4, Stage: models.StageExtract}).
		Return(activities.RequeueStageOutput{LogID: 12, EventKind: "EXTRACTION_REQUESTED"}, nil).Once()

	env.ExecuteWorkflow(StageRetryWorkflow, in)
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out StageRetryStatus
	require.NoError(t, env.GetWorkflowResult(&out))
	require.Equal(t, PhaseRequeued, out.Phase)
	require.Equal(t, int64(12), out.LogID)

	q, err := env.QueryWorkflow(QueryGetRetryStatus)
	require.NoError(t, err)
	var queried StageRetryStatus
	require.NoError(t, q.Get(&queried))
	require.Equal(t, out, queried)
	env.AssertExpectations(t)
}

func TestStageRetrySkipsSucceededStage(t *testing.T) {
	env := newEnv(t)
	env.OnActivity("LoadRetryTargetActivity", mock.Anything, mock.Anything).
		Return(activities.LoadRetryTargetOutput{Skip: true, Reason: "stage already succeeded", CurrentStatus: models.StageSuccess}, nil)

	env.ExecuteWorkflow(StageRetryWorkflow, StageRetryInput{PaperID: 4, Stage: models.StageSummarize})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out StageRetryStatus
	require.NoError(t, env.GetWorkflowResult(&out))
	require.Equal(t, PhaseSkipped, out.Phase)
	require.Equal(t, "stage already succeeded", out.Detail)
}

func TestStageRetryUnknownPaperFails(t *testing.T) {
	env := newEnv(t)
	env.OnActivity("LoadRetryTargetActivity", mock.Anything, mock.Anything).
		Return(activities.LoadRetryTargetOutput{}, temporal.NewNonRetryableApplicationError("paper not found: 9", "NOT_FOUND", nil))

	env.ExecuteWorkflow(StageRetryWorkflow, StageRetryInput{PaperID: 9, Stage: models.StageExtract})
	require.True(t, env.IsWorkflowCompleted())
	require.Error(t, env.GetWorkflowError())
}

func TestRetryWorkflowID(t *testing.T) {
	require.Equal(t, "retry-7-EXTRACT", RetryWorkflowID(7, models.StageExtract))
}
