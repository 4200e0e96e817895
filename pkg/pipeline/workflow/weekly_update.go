package workflow

import (
	"time"

	"github.com/stratocost/pricefeed/pkg/pipeline/activity"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// WeeklyUpdateWorkflowName is the registered name of the pipeline workflow.
const WeeklyUpdateWorkflowName = "weekly-update-workflow"

// WeeklyUpdateInput restricts the run to one provider; empty runs the
// default.
type WeeklyUpdateInput struct {
	Provider string `json:"provider"`
}

// WeeklyUpdateWorkflow drives one pipeline run through its stages. Stage
// failures that survive the activity retry policy finalize the run via
// FailRun; single-flight rejections and invariant violations are
// non-retryable and fail the workflow immediately without touching any run
// state.
func (wc *Context) WeeklyUpdateWorkflow(ctx workflow.Context, in WeeklyUpdateInput) error {
	retry := &temporal.RetryPolicy{
		InitialInterval:    5 * time.Second,
		BackoffCoefficient: 2.0,
		MaximumInterval:    2 * time.Minute,
		MaximumAttempts:    5,
		NonRetryableErrorTypes: []string{
			activity.ErrTypeRunInFlight,
			activity.ErrTypeConsistency,
		},
	}

	ao := workflow.ActivityOptions{
		// Normalization of a full dump dominates the run; give every stage
		// the whole run budget and let the activity's own deadline cut it.
		StartToCloseTimeout: 3 * time.Hour,
		HeartbeatTimeout:    10 * time.Minute,
		RetryPolicy:         retry,
	}
	ctx = workflow.WithActivityOptions(ctx, ao)
	logger := workflow.GetLogger(ctx)

	timings := make(map[string]float64)

	var state activity.RunState
	if err := workflow.ExecuteActivity(ctx, wc.ActivityContext.BeginRun, activity.BeginRunInput{
		Provider: in.Provider,
	}).Get(ctx, &state); err != nil {
		// No run record exists yet; nothing to finalize.
		return err
	}
	timings["begin_run_ms"] = state.DurationMs

	stages := []struct {
		name string
		fn   interface{}
	}{
		{"stage_dump_ms", wc.ActivityContext.StageDump},
		{"normalize_ms", wc.ActivityContext.NormalizePrices},
		{"materialize_ms", wc.ActivityContext.MaterializeFeatures},
	}

	for _, stage := range stages {
		if err := workflow.ExecuteActivity(ctx, stage.fn, state).Get(ctx, &state); err != nil {
			logger.Error("Stage failed", "stage", stage.name, "error", err)
			return wc.failRun(ctx, state, err)
		}
		timings[stage.name] = state.DurationMs
	}

	return workflow.ExecuteActivity(ctx, wc.ActivityContext.CompleteRun, activity.CompleteRunInput{
		Run:        state.Run,
		LeaseOwner: state.LeaseOwner,
		Timings:    timings,
	}).Get(ctx, nil)
}

// failRun finalizes the run record after a stage gave up. The workflow still
// returns the stage error so the failure is visible in Temporal.
func (wc *Context) failRun(ctx workflow.Context, state activity.RunState, cause error) error {
	if failErr := workflow.ExecuteActivity(ctx, wc.ActivityContext.FailRun, activity.FailRunInput{
		Run:        state.Run,
		LeaseOwner: state.LeaseOwner,
		Reason:     cause.Error(),
	}).Get(ctx, nil); failErr != nil {
		workflow.GetLogger(ctx).Error("Failed to finalize failed run", "error", failErr)
	}
	return cause
}
