// Package activity hosts the Temporal activities that drive a pipeline run.
// Each activity wraps one orchestrator stage so the workflow can retry and
// time stages independently.
package activity

import (
	"time"

	models "github.com/stratocost/pricefeed/pkg/db/models/pricing"
	pricingdb "github.com/stratocost/pricefeed/pkg/db/pricing"
	"github.com/stratocost/pricefeed/pkg/pipeline"
	"github.com/stratocost/pricefeed/pkg/utils"
	"go.uber.org/zap"
)

// Context carries the dependencies shared by all pipeline activities.
type Context struct {
	Logger   *zap.Logger
	Pipeline *pipeline.Pipeline
	Store    pricingdb.Store
}

// runBudget mirrors the orchestrator's wall-clock budget.
func runBudget() time.Duration {
	return utils.EnvDuration("RUN_BUDGET", pipeline.DefaultRunBudget)
}

// leaseTTL is the lease duration used by activities: the run budget plus the
// same margin the direct orchestrator uses.
func leaseTTL() time.Duration {
	return runBudget() + 5*time.Minute
}

// RunState is the run record threaded through the workflow. Activities
// accumulate counters on it and hand it to the next stage.
type RunState struct {
	Run        *models.RunRecord `json:"run"`
	LeaseOwner string            `json:"leaseOwner"`
	DurationMs float64           `json:"durationMs"`
}

// BeginRunInput restricts the run to one provider; empty means the default.
type BeginRunInput struct {
	Provider string `json:"provider"`
}

// FailRunInput finalizes a run that died partway through the workflow.
type FailRunInput struct {
	Run        *models.RunRecord `json:"run"`
	LeaseOwner string            `json:"leaseOwner"`
	Reason     string            `json:"reason"`
}

// CompleteRunInput carries the finished run plus per-stage timings for the
// terminal log line.
type CompleteRunInput struct {
	Run        *models.RunRecord  `json:"run"`
	LeaseOwner string             `json:"leaseOwner"`
	Timings    map[string]float64 `json:"timings"`
}
