package pipeline

import (
	"context"
	"errors"
	"sort"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/shopspring/decimal"
	models "github.com/stratocost/pricefeed/pkg/db/models/pricing"
	pricingdb "github.com/stratocost/pricefeed/pkg/db/pricing"
	"go.uber.org/zap"
)

// MaterializeFeatures computes the derived per-product features for every
// digest touched this run and writes them to both stores. The offline
// snapshot is written first: it is append-only and durable, so a crash after
// that write is recoverable by RepairOnline. Only then is the online
// projection overwritten from the just-written rows.
//
// Online failures do not fail the run; they are counted and the caller marks
// the run degraded. Offline failures are real failures.
func (p *Pipeline) MaterializeFeatures(ctx context.Context, run *models.RunRecord, touched map[string]struct{}) error {
	digests := make([]string, 0, len(touched))
	for digest := range touched {
		digests = append(digests, digest)
	}
	sort.Strings(digests)

	for start := 0; start < len(digests); start += p.FeatureBatchSize {
		end := start + p.FeatureBatchSize
		if end > len(digests) {
			end = len(digests)
		}
		if err := p.materializeBatch(ctx, run, digests[start:end]); err != nil {
			return err
		}
	}

	p.Logger.Info("Features materialized",
		zap.String("run_id", run.RunID),
		zap.Uint64("features_written", run.FeaturesWritten),
		zap.Uint64("online_failures", run.OnlineFailures))
	return nil
}

func (p *Pipeline) materializeBatch(ctx context.Context, run *models.RunRecord, digests []string) error {
	now := time.Now().UTC()

	active, err := p.Store.GetActiveByDigests(ctx, digests)
	if err != nil {
		// A double-active digest is a broken invariant, not a flaky read.
		if errors.Is(err, pricingdb.ErrDuplicateActive) {
			return &ConsistencyError{Detail: err.Error()}
		}
		return &TransientError{Op: "read active records", Err: err}
	}
	history, err := p.Store.LatestHistoryByDigests(ctx, digests)
	if err != nil {
		return &TransientError{Op: "read latest history", Err: err}
	}
	changeCounts, err := p.Store.ChangeCounts90d(ctx, digests, now)
	if err != nil {
		return &TransientError{Op: "read change counts", Err: err}
	}

	records := make([]*models.FeatureRecord, 0, len(digests))
	for _, digest := range digests {
		record := active[digest]
		if record == nil {
			// Touched but no longer active would mean the engine retired a
			// digest without replacing it, which it never does.
			continue
		}
		records = append(records, buildFeatures(run.RunID, record, history[digest], changeCounts[digest], now))
	}

	// Offline first. This is the durable projection; the online store below
	// is only a cache of it.
	if err := p.Store.InsertFeatureSnapshots(ctx, records); err != nil {
		return &TransientError{Op: "insert feature snapshots", Err: err}
	}
	run.FeaturesWritten += uint64(len(records))

	run.OnlineFailures += p.writeOnline(ctx, records)
	return nil
}

// writeOnline overwrites the online hashes for a batch of feature rows using
// a bounded worker pool. Returns the number of failed writes.
func (p *Pipeline) writeOnline(ctx context.Context, records []*models.FeatureRecord) uint64 {
	var failures atomic.Uint64

	pool := pond.NewPool(p.OnlineWorkers)
	group := pool.NewGroupContext(ctx)
	groupCtx := group.Context()

	for _, record := range records {
		record := record
		group.Submit(func() {
			if err := groupCtx.Err(); err != nil {
				failures.Add(1)
				return
			}
			if err := p.Online.SetFeatures(groupCtx, record.Digest, record.OnlineFields()); err != nil {
				failures.Add(1)
				p.Logger.Warn("Online feature write failed",
					zap.String("digest", record.Digest),
					zap.Error(err))
			}
		})
	}

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		p.Logger.Warn("Online write group error", zap.Error(err))
	}
	pool.StopAndWait()

	return failures.Load()
}

// MaterializeRun materializes features for every digest the given run wrote,
// discovering them from the canonical table instead of an in-memory set. Used
// when materialization runs in a separate process or retry from the
// normalization that produced the digests.
func (p *Pipeline) MaterializeRun(ctx context.Context, run *models.RunRecord) error {
	afterDigest := ""
	for {
		digests, err := p.Store.TouchedDigests(ctx, run.RunID, afterDigest, p.FeatureBatchSize)
		if err != nil {
			return &TransientError{Op: "walk touched digests", Err: err}
		}
		if len(digests) == 0 {
			return nil
		}
		if err := p.materializeBatch(ctx, run, digests); err != nil {
			return err
		}
		afterDigest = digests[len(digests)-1]
	}
}

// RepairOnline rebuilds the online projection from the latest offline
// snapshots. It walks every active digest, so it can recover from any online
// store state including a full flush. Idempotent and callable at any time
// without re-running normalization.
func (p *Pipeline) RepairOnline(ctx context.Context) (uint64, error) {
	var repaired uint64
	afterDigest := ""

	for {
		digests, err := p.Store.ActiveDigests(ctx, afterDigest, p.FeatureBatchSize)
		if err != nil {
			return repaired, &TransientError{Op: "walk active digests", Err: err}
		}
		if len(digests) == 0 {
			break
		}

		snapshots, err := p.Store.LatestFeatureSnapshots(ctx, digests)
		if err != nil {
			return repaired, &TransientError{Op: "read latest feature snapshots", Err: err}
		}

		records := make([]*models.FeatureRecord, 0, len(snapshots))
		for _, digest := range digests {
			if snapshot := snapshots[digest]; snapshot != nil {
				records = append(records, snapshot)
			}
		}

		if failures := p.writeOnline(ctx, records); failures > 0 {
			return repaired, &TransientError{Op: "repair online projection", Err: errors.New("online writes failed")}
		}
		repaired += uint64(len(records))
		afterDigest = digests[len(digests)-1]
	}

	p.Logger.Info("Online projection repaired", zap.Uint64("digests", repaired))
	return repaired, nil
}

// buildFeatures derives one feature row from the active record and its most
// recent history entry.
func buildFeatures(runID string, active *models.CanonicalPriceRecord, previous *models.PriceHistoryEntry, changes90d uint32, now time.Time) *models.FeatureRecord {
	record := &models.FeatureRecord{
		RunID:                   runID,
		Digest:                  active.Digest,
		LatestPrice:             active.Price,
		DaysSincePriceChange:    int64(now.Sub(active.EffectiveDate).Hours() / 24),
		PriceChangeFrequency90d: changes90d,
		SnapshotAt:              now,
	}

	if previous != nil {
		prev := previous.Price
		record.PreviousPrice = &prev

		diff := active.Price.Sub(prev)
		record.PriceDiffAbs = &diff

		if !prev.IsZero() {
			pct, _ := diff.Div(prev).Mul(decimal.NewFromInt(100)).Float64()
			record.PriceDiffPct = &pct
		}
	}

	return record
}
