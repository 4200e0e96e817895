package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	models "github.com/stratocost/pricefeed/pkg/db/models/pricing"
	"github.com/stratocost/pricefeed/pkg/utils"
	"go.uber.org/zap"
)

// Options restricts a manual or backfill run. The zero value runs the default
// provider.
type Options struct {
	Provider string
}

// DefaultRunBudget bounds a run's wall clock when RUN_BUDGET is unset.
const DefaultRunBudget = 2 * time.Hour

// leaseMargin keeps the lease alive past the run budget so a run that is
// finalizing its record is not raced by the next scheduled invocation.
const leaseMargin = 5 * time.Minute

// RunWeeklyUpdate executes one full pipeline run and returns the finalized
// RunRecord, the sole visible surface of a run. Single-flight is enforced by
// the Redis lease plus the persisted run-record check: a concurrent
// invocation gets ErrRunInFlight, never a queue slot.
func (p *Pipeline) RunWeeklyUpdate(ctx context.Context, opts Options) (*models.RunRecord, error) {
	provider := opts.Provider
	if provider == "" {
		provider = utils.Env("PRICING_PROVIDER", "aws")
	}

	budget := utils.EnvDuration("RUN_BUDGET", DefaultRunBudget)
	owner := uuid.NewString()

	ok, err := p.Online.AcquireRunLease(ctx, owner, budget+leaseMargin)
	if err != nil {
		return nil, &TransientError{Op: "acquire run lease", Err: err}
	}
	if !ok {
		return nil, ErrRunInFlight
	}
	defer func() {
		if err := p.Online.ReleaseRunLease(context.WithoutCancel(ctx), owner); err != nil {
			p.Logger.Warn("Failed to release run lease", zap.Error(err))
		}
	}()

	// The lease alone is not enough: a flushed Redis would forget a run that
	// is still executing. The run-record check covers that case.
	if err := p.CheckRunInFlight(ctx, budget); err != nil {
		return nil, err
	}

	run := &models.RunRecord{
		RunID:     uuid.NewString(),
		Status:    models.RunStatusStaging,
		Provider:  provider,
		StartedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := p.Store.UpsertRunRecord(ctx, run); err != nil {
		return nil, &TransientError{Op: "create run record", Err: err}
	}

	runCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	if err := p.execute(runCtx, run, owner, budget); err != nil {
		p.finalize(ctx, run, models.RunStatusFailed, err)
		return run, err
	}

	status := models.RunStatusDone
	if run.OnlineFailures > 0 {
		status = models.RunStatusDegraded
	}

	// Staging is cleared only on a terminal success; a failed run keeps its
	// staged rows for inspection.
	if err := p.Store.TruncateStaging(ctx); err != nil {
		p.Logger.Warn("Failed to clear staging after run", zap.Error(err))
	}

	p.finalize(ctx, run, status, nil)
	return run, nil
}

// CheckRunInFlight rejects when a persisted run record says a run is still
// executing. A live run keeps its record's updated_at moving on every status
// transition; a record that has not advanced for longer than the budget plus
// the lease margin belongs to a crashed worker and is finalized as failed
// instead of wedging the schedule until someone edits the table.
func (p *Pipeline) CheckRunInFlight(ctx context.Context, budget time.Duration) error {
	running, err := p.Store.GetRunningRun(ctx)
	if err != nil {
		return &TransientError{Op: "check running run", Err: err}
	}
	if running == nil {
		return nil
	}

	lastProgress := running.UpdatedAt
	if running.StartedAt.After(lastProgress) {
		lastProgress = running.StartedAt
	}
	if time.Since(lastProgress) <= budget+leaseMargin {
		p.Logger.Warn("Run already in flight per run records",
			zap.String("running_run_id", running.RunID),
			zap.String("status", running.Status))
		return ErrRunInFlight
	}

	p.Logger.Warn("Finalizing abandoned run",
		zap.String("run_id", running.RunID),
		zap.String("status", running.Status),
		zap.Time("last_progress", lastProgress))
	p.finalize(ctx, running, models.RunStatusFailed, errors.New("abandoned: worker stopped reporting"))
	return nil
}

// execute drives the stage sequence, renewing the lease and persisting the
// status transition between stages.
func (p *Pipeline) execute(ctx context.Context, run *models.RunRecord, owner string, budget time.Duration) error {
	if err := p.StageDump(ctx, run); err != nil {
		return p.classify(ctx, err)
	}

	if err := p.transition(ctx, run, models.RunStatusNormalizing, owner, budget); err != nil {
		return err
	}
	touched, err := p.NormalizePrices(ctx, run)
	if err != nil {
		return p.classify(ctx, err)
	}

	if err := p.transition(ctx, run, models.RunStatusMaterializing, owner, budget); err != nil {
		return err
	}
	if err := p.MaterializeFeatures(ctx, run, touched); err != nil {
		return p.classify(ctx, err)
	}

	return nil
}

func (p *Pipeline) transition(ctx context.Context, run *models.RunRecord, status, owner string, budget time.Duration) error {
	if err := p.Online.RenewRunLease(ctx, owner, budget+leaseMargin); err != nil {
		p.Logger.Warn("Failed to renew run lease", zap.Error(err))
	}
	run.Status = status
	run.UpdatedAt = time.Now().UTC()
	if err := p.Store.UpsertRunRecord(ctx, run); err != nil {
		return &TransientError{Op: "persist status transition", Err: err}
	}
	return nil
}

// classify maps a stage error to its terminal form. A deadline hit anywhere
// surfaces as the budget error: committed batches remain valid, the failure
// is resumable.
func (p *Pipeline) classify(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		budget := utils.EnvDuration("RUN_BUDGET", DefaultRunBudget)
		return &BudgetExceededError{Budget: budget.String()}
	}
	return err
}

// finalize writes the terminal run record. Uses a context detached from the
// run budget so a timed-out run still gets its terminal status persisted.
func (p *Pipeline) finalize(ctx context.Context, run *models.RunRecord, status string, cause error) {
	now := time.Now().UTC()
	run.Status = status
	run.FinishedAt = &now
	run.UpdatedAt = now
	if cause != nil {
		run.Error = cause.Error()
	}

	finalCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := p.Store.UpsertRunRecord(finalCtx, run); err != nil {
		p.Logger.Error("Failed to finalize run record",
			zap.String("run_id", run.RunID), zap.Error(err))
	}

	p.Logger.Info("Run finished",
		zap.String("run_id", run.RunID),
		zap.String("status", run.Status),
		zap.String("summary", Summary(run)))
}

// Summary renders the human-readable one-liner recorded with every terminal
// run.
func Summary(run *models.RunRecord) string {
	duration := time.Duration(0)
	if run.FinishedAt != nil {
		duration = run.FinishedAt.Sub(run.StartedAt).Round(time.Second)
	}
	return fmt.Sprintf("%s: staged=%d inserted=%d skipped=%d superseded=%d failed=%d features=%d online_failures=%d duration=%s",
		run.Status, run.StagedRows, run.Inserted, run.Skipped, run.Superseded,
		run.MalformedRows, run.FeaturesWritten, run.OnlineFailures, duration)
}
