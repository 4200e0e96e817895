package activity

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	models "github.com/stratocost/pricefeed/pkg/db/models/pricing"
	"github.com/stratocost/pricefeed/pkg/pipeline"
	"github.com/stratocost/pricefeed/pkg/utils"
	"go.temporal.io/sdk/temporal"
	"go.uber.org/zap"
)

// Error types Temporal must not retry: another run in flight and broken
// invariants both require intervention, not repetition.
const (
	ErrTypeRunInFlight = "RunInFlight"
	ErrTypeConsistency = "ConsistencyViolation"
)

// BeginRun is the single-flight gate. It takes the Redis lease, verifies no
// persisted run is still executing, and creates the run record in staging
// state.
func (ac *Context) BeginRun(ctx context.Context, in BeginRunInput) (RunState, error) {
	start := time.Now()

	provider := in.Provider
	if provider == "" {
		provider = utils.Env("PRICING_PROVIDER", "aws")
	}

	owner := uuid.NewString()
	ok, err := ac.Pipeline.Online.AcquireRunLease(ctx, owner, leaseTTL())
	if err != nil {
		return RunState{}, err
	}
	if !ok {
		return RunState{}, temporal.NewNonRetryableApplicationError(
			pipeline.ErrRunInFlight.Error(), ErrTypeRunInFlight, pipeline.ErrRunInFlight)
	}

	releaseLease := func() {
		if err := ac.Pipeline.Online.ReleaseRunLease(ctx, owner); err != nil {
			ac.Logger.Warn("Failed to release run lease", zap.Error(err))
		}
	}

	if err := ac.Pipeline.CheckRunInFlight(ctx, runBudget()); err != nil {
		releaseLease()
		if errors.Is(err, pipeline.ErrRunInFlight) {
			return RunState{}, temporal.NewNonRetryableApplicationError(
				err.Error(), ErrTypeRunInFlight, err)
		}
		return RunState{}, err
	}

	run := &models.RunRecord{
		RunID:     uuid.NewString(),
		Status:    models.RunStatusStaging,
		Provider:  provider,
		StartedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := ac.Store.UpsertRunRecord(ctx, run); err != nil {
		releaseLease()
		return RunState{}, err
	}

	return RunState{
		Run:        run,
		LeaseOwner: owner,
		DurationMs: msSince(start),
	}, nil
}

// StageDump bulk-loads the provider dump into staging.
func (ac *Context) StageDump(ctx context.Context, in RunState) (RunState, error) {
	start := time.Now()
	ac.renewLease(ctx, in.LeaseOwner)

	if err := ac.Pipeline.StageDump(ctx, in.Run); err != nil {
		return in, err
	}

	in.DurationMs = msSince(start)
	return in, nil
}

// NormalizePrices runs the dedup engine over the staged rows.
func (ac *Context) NormalizePrices(ctx context.Context, in RunState) (RunState, error) {
	start := time.Now()
	ac.renewLease(ctx, in.LeaseOwner)

	if err := ac.transition(ctx, in.Run, models.RunStatusNormalizing); err != nil {
		return in, err
	}

	if _, err := ac.Pipeline.NormalizePrices(ctx, in.Run); err != nil {
		if pipeline.IsConsistencyError(err) {
			return in, temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeConsistency, err)
		}
		return in, err
	}

	in.DurationMs = msSince(start)
	return in, nil
}

// MaterializeFeatures derives and writes features for every digest the run
// touched, discovering them from the canonical table so the digest set never
// travels through workflow history.
func (ac *Context) MaterializeFeatures(ctx context.Context, in RunState) (RunState, error) {
	start := time.Now()
	ac.renewLease(ctx, in.LeaseOwner)

	if err := ac.transition(ctx, in.Run, models.RunStatusMaterializing); err != nil {
		return in, err
	}

	if err := ac.Pipeline.MaterializeRun(ctx, in.Run); err != nil {
		if pipeline.IsConsistencyError(err) {
			return in, temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeConsistency, err)
		}
		return in, err
	}

	in.DurationMs = msSince(start)
	return in, nil
}

// CompleteRun finalizes a successful run: terminal status, staging truncate,
// lease release.
func (ac *Context) CompleteRun(ctx context.Context, in CompleteRunInput) error {
	run := in.Run
	status := models.RunStatusDone
	if run.OnlineFailures > 0 {
		status = models.RunStatusDegraded
	}

	if err := ac.Store.TruncateStaging(ctx); err != nil {
		ac.Logger.Warn("Failed to clear staging after run", zap.Error(err))
	}

	now := time.Now().UTC()
	run.Status = status
	run.FinishedAt = &now
	run.UpdatedAt = now
	if err := ac.Store.UpsertRunRecord(ctx, run); err != nil {
		return err
	}

	if err := ac.Pipeline.Online.ReleaseRunLease(ctx, in.LeaseOwner); err != nil {
		ac.Logger.Warn("Failed to release run lease", zap.Error(err))
	}

	ac.Logger.Info("Run finished",
		zap.String("run_id", run.RunID),
		zap.String("status", run.Status),
		zap.String("summary", pipeline.Summary(run)),
		zap.Any("timings", in.Timings))
	return nil
}

// FailRun finalizes a run after a stage failed for good. Staging is kept for
// inspection.
func (ac *Context) FailRun(ctx context.Context, in FailRunInput) error {
	run := in.Run
	now := time.Now().UTC()
	run.Status = models.RunStatusFailed
	run.FinishedAt = &now
	run.UpdatedAt = now
	run.Error = in.Reason

	if err := ac.Store.UpsertRunRecord(ctx, run); err != nil {
		ac.Logger.Error("Failed to finalize failed run", zap.Error(err))
	}
	if err := ac.Pipeline.Online.ReleaseRunLease(ctx, in.LeaseOwner); err != nil {
		ac.Logger.Warn("Failed to release run lease", zap.Error(err))
	}

	ac.Logger.Warn("Run failed",
		zap.String("run_id", run.RunID),
		zap.String("reason", in.Reason))
	return nil
}

// RepairOnline rebuilds the online projection from the offline store.
func (ac *Context) RepairOnline(ctx context.Context) (uint64, error) {
	return ac.Pipeline.RepairOnline(ctx)
}

func (ac *Context) transition(ctx context.Context, run *models.RunRecord, status string) error {
	run.Status = status
	run.UpdatedAt = time.Now().UTC()
	return ac.Store.UpsertRunRecord(ctx, run)
}

func (ac *Context) renewLease(ctx context.Context, owner string) {
	if owner == "" {
		return
	}
	if err := ac.Pipeline.Online.RenewRunLease(ctx, owner, leaseTTL()); err != nil {
		ac.Logger.Warn("Failed to renew run lease", zap.Error(err))
	}
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
