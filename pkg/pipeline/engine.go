package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"github.com/shopspring/decimal"
	"github.com/stratocost/pricefeed/pkg/classify"
	models "github.com/stratocost/pricefeed/pkg/db/models/pricing"
	pricingdb "github.com/stratocost/pricefeed/pkg/db/pricing"
	"github.com/stratocost/pricefeed/pkg/normalize"
	"github.com/stratocost/pricefeed/pkg/retry"
	"go.uber.org/zap"
)

// engineRun carries the per-run state of the dedup engine: the cursor
// position, per-run counters and a cache of active records already resolved,
// so a digest seen in batch N is not re-read from the database in batch N+5.
type engineRun struct {
	run     *models.RunRecord
	active  *xsync.Map[string, *models.CanonicalPriceRecord]
	touched map[string]struct{}
	lastSeq uint64
}

// NormalizePrices streams staging rows through the normalize/classify/dedup
// decision and writes canonical and history rows. The cursor is a bounded
// keyset walk: batch N+1 is not fetched until batch N has committed, which is
// the engine's hard memory ceiling.
//
// Returns the set of digests touched this run for the materializer.
func (p *Pipeline) NormalizePrices(ctx context.Context, run *models.RunRecord) (map[string]struct{}, error) {
	state := &engineRun{
		run:     run,
		active:  xsync.NewMap[string, *models.CanonicalPriceRecord](),
		touched: make(map[string]struct{}),
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		rows, err := p.Store.FetchStagingBatch(ctx, run.RunID, state.lastSeq, p.EngineBatchSize)
		if err != nil {
			return nil, &TransientError{Op: "fetch staging batch", Err: err}
		}
		if len(rows) == 0 {
			break
		}

		// The write set for a batch is decided exactly once. A retried
		// commit re-sends byte-identical rows: the canonical table collapses
		// them on its sort key, so an attempt that died between the two
		// inserts cannot fork the timeline or double-activate a digest.
		var permanent error
		var plan *batchPlan
		err = retry.WithBackoff(ctx, p.RetryConfig, p.Logger, "normalize_batch", func() error {
			if plan == nil {
				built, planErr := p.planBatch(ctx, state, rows)
				if planErr != nil {
					if IsConsistencyError(planErr) {
						permanent = planErr
						return nil
					}
					return planErr
				}
				plan = built
			}
			return p.commitBatch(ctx, plan)
		})
		if permanent != nil {
			return nil, permanent
		}
		if err != nil {
			return nil, err
		}

		plan.apply(state)
		state.lastSeq = rows[len(rows)-1].Seq
	}

	p.Logger.Info("Normalization complete",
		zap.String("run_id", run.RunID),
		zap.Uint64("inserted", run.Inserted),
		zap.Uint64("skipped", run.Skipped),
		zap.Uint64("superseded", run.Superseded),
		zap.Uint64("malformed_rows", run.MalformedRows))
	return state.touched, nil
}

// batchPlan is the fully decided write set for one staging batch. Timestamps,
// effective-date bumps and counters are frozen at plan time; its row slices
// never change after planBatch returns.
type batchPlan struct {
	canonical []*models.CanonicalPriceRecord
	history   []*models.PriceHistoryEntry
	// newActive replaces the cached active record per digest once the plan
	// commits.
	newActive map[string]*models.CanonicalPriceRecord

	malformed  uint64
	inserted   uint64
	skipped    uint64
	superseded uint64
}

// apply publishes a committed plan to the per-run cache and counters.
func (plan *batchPlan) apply(state *engineRun) {
	for digest, record := range plan.newActive {
		state.active.Store(digest, record)
		state.touched[digest] = struct{}{}
	}
	state.run.MalformedRows += plan.malformed
	state.run.Inserted += plan.inserted
	state.run.Skipped += plan.skipped
	state.run.Superseded += plan.superseded
}

// planBatch runs the dedup decision for one batch of staging rows and returns
// the write set. All superseded-version rows and their replacements travel in
// a single canonical insert so readers never observe a digest with zero or two
// active records.
func (p *Pipeline) planBatch(ctx context.Context, state *engineRun, rows []*models.RawPriceObservation) (*batchPlan, error) {
	now := time.Now().UTC()

	type decision struct {
		digest    string
		candidate *models.CanonicalPriceRecord
	}

	plan := &batchPlan{newActive: make(map[string]*models.CanonicalPriceRecord)}

	// Normalize first; malformed rows drop out before any digest lookup.
	candidates := make([]decision, 0, len(rows))
	digestSet := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		candidate, err := p.buildCandidate(row, state.run.RunID, now)
		if err != nil {
			plan.malformed++
			p.Logger.Debug("Skipping malformed staging row",
				zap.Uint64("seq", row.Seq), zap.Error(err))
			continue
		}
		candidates = append(candidates, decision{digest: candidate.Digest, candidate: candidate})
		digestSet[candidate.Digest] = struct{}{}
	}

	// Resolve active records for digests this run has not seen yet.
	missing := make([]string, 0, len(digestSet))
	for digest := range digestSet {
		if _, ok := state.active.Load(digest); !ok {
			missing = append(missing, digest)
		}
	}
	if len(missing) > 0 {
		fetched, err := p.Store.GetActiveByDigests(ctx, missing)
		if err != nil {
			if errors.Is(err, pricingdb.ErrDuplicateActive) {
				return nil, &ConsistencyError{Detail: err.Error()}
			}
			return nil, &TransientError{Op: "lookup active records", Err: err}
		}
		for digest, record := range fetched {
			state.active.Store(digest, record)
		}
	}

	for _, d := range candidates {
		current := plan.newActive[d.digest]
		if current == nil {
			current, _ = state.active.Load(d.digest)
		}

		switch {
		case current == nil:
			plan.canonical = append(plan.canonical, d.candidate)
			plan.newActive[d.digest] = d.candidate
			plan.inserted++

		case current.SameNormalizedContent(d.candidate):
			plan.skipped++

		default:
			// The per-digest timeline must stay strictly increasing. A
			// provider re-pricing a product without advancing its effective
			// date gets the observation time instead.
			if !d.candidate.EffectiveDate.After(current.EffectiveDate) {
				d.candidate.EffectiveDate = now
			}

			retired := *current
			retired.IsActive = 0
			endDate := now
			retired.EndDate = &endDate
			retired.RunID = state.run.RunID
			retired.UpdatedAt = now

			plan.canonical = append(plan.canonical, &retired, d.candidate)
			plan.history = append(plan.history, historyEntry(&retired, d.candidate, now))
			plan.newActive[d.digest] = d.candidate
			plan.superseded++
		}
	}

	return plan, nil
}

// commitBatch writes a plan's rows. Safe to call again after a failure: the
// rows are identical on every attempt.
func (p *Pipeline) commitBatch(ctx context.Context, plan *batchPlan) error {
	if err := p.Store.InsertCanonical(ctx, plan.canonical); err != nil {
		return &TransientError{Op: "insert canonical batch", Err: err}
	}
	if err := p.Store.InsertHistory(ctx, plan.history); err != nil {
		return &TransientError{Op: "insert history batch", Err: err}
	}
	return nil
}

// buildCandidate normalizes one staging row into a canonical record.
func (p *Pipeline) buildCandidate(row *models.RawPriceObservation, runID string, now time.Time) (*models.CanonicalPriceRecord, error) {
	price, err := decimal.NewFromString(row.PriceRaw)
	if err != nil {
		return nil, &MalformedRowError{Seq: row.Seq, Reason: fmt.Sprintf("bad price %q", row.PriceRaw)}
	}
	if price.IsNegative() {
		return nil, &MalformedRowError{Seq: row.Seq, Reason: fmt.Sprintf("negative price %s", price)}
	}

	unit := normalize.Parse(row.UnitRaw)
	domain := classify.Classify(row.ServiceName, row.InstanceType)

	return &models.CanonicalPriceRecord{
		Digest:          IdentityDigest(row),
		Provider:        row.Provider,
		ServiceCode:     row.ServiceCode,
		ServiceName:     row.ServiceName,
		InstanceType:    row.InstanceType,
		Region:          row.Region,
		Domain:          string(domain),
		Price:           price,
		UnitAmount:      unit.Amount,
		UnitBase:        unit.Base,
		UnitPeriod:      unit.Period,
		UnitModifier:    unit.Modifier,
		UnitNotes:       unit.Notes,
		TermType:        row.TermType,
		LeaseLength:     row.LeaseLength,
		PurchaseOption:  row.PurchaseOption,
		OperatingSystem: row.OperatingSystem,
		Tenancy:         row.Tenancy,
		VCPU:            row.VCPU,
		MemoryGB:        row.MemoryGB,
		Storage:         row.Storage,
		Currency:        row.Currency,
		EffectiveDate:   row.EffectiveDate,
		IsActive:        1,
		RunID:           runID,
		UpdatedAt:       now,
	}, nil
}

// historyEntry captures the retired record's final state, plus the percentage
// move to the record replacing it.
func historyEntry(retired, replacement *models.CanonicalPriceRecord, now time.Time) *models.PriceHistoryEntry {
	entry := &models.PriceHistoryEntry{
		Digest:        retired.Digest,
		Price:         retired.Price,
		UnitAmount:    retired.UnitAmount,
		UnitBase:      retired.UnitBase,
		UnitPeriod:    retired.UnitPeriod,
		UnitModifier:  retired.UnitModifier,
		EffectiveDate: retired.EffectiveDate,
		EndDate:       *retired.EndDate,
		RunID:         retired.RunID,
		RecordedAt:    now,
	}
	if !retired.Price.IsZero() {
		pct, _ := replacement.Price.Sub(retired.Price).
			Div(retired.Price).
			Mul(decimal.NewFromInt(100)).
			Float64()
		entry.ChangePct = &pct
	}
	return entry
}
