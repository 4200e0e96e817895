package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	models "github.com/stratocost/pricefeed/pkg/db/models/pricing"
	"github.com/stratocost/pricefeed/pkg/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestPipeline(store *fakeStore, online *fakeOnline, rows []*models.RawPriceObservation) *Pipeline {
	p := New(zap.NewNop(), store, online, &fakeDump{rows: rows})
	p.OpenDump = func(string, string) (RowReader, error) {
		return &sliceReader{rows: rows}, nil
	}
	p.RetryConfig = retry.Config{
		MaxRetries:   3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
	return p
}

func ec2Row(price string) *models.RawPriceObservation {
	return &models.RawPriceObservation{
		Provider:      "aws",
		ServiceCode:   "AmazonEC2",
		ServiceName:   "AmazonEC2",
		InstanceType:  "m5.2xlarge",
		Region:        "us-east-1",
		PriceRaw:      price,
		UnitRaw:       "Hrs",
		TermType:      "OnDemand",
		VCPU:          8,
		MemoryGB:      32,
		Currency:      "USD",
		EffectiveDate: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestFirstIngestionCreatesActiveRecord(t *testing.T) {
	store := newFakeStore()
	online := newFakeOnline()
	p := newTestPipeline(store, online, []*models.RawPriceObservation{ec2Row("0.384")})

	run, err := p.RunWeeklyUpdate(context.Background(), Options{Provider: "aws"})
	require.NoError(t, err)

	assert.Equal(t, models.RunStatusDone, run.Status)
	assert.Equal(t, uint64(1), run.StagedRows)
	assert.Equal(t, uint64(1), run.Inserted)
	assert.Equal(t, uint64(0), run.Skipped)
	assert.Equal(t, uint64(1), run.FeaturesWritten)
	require.NotNil(t, run.FinishedAt)

	digest := IdentityDigest(ec2Row("0.384"))
	record, err := store.GetActiveByDigest(context.Background(), digest)
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.True(t, record.Price.Equal(decimal.RequireFromString("0.384")))
	assert.Equal(t, "iaas", record.Domain)
	assert.Equal(t, "Hrs", record.UnitBase)
	assert.Equal(t, "hour", record.UnitPeriod)
	assert.Equal(t, 1.0, record.UnitAmount)

	// Staging is cleared after the successful run.
	count, err := store.CountStaging(context.Background(), run.RunID)
	require.NoError(t, err)
	assert.Zero(t, count)

	// Online projection exists for the digest.
	fields, err := online.GetFeatures(context.Background(), digest)
	require.NoError(t, err)
	assert.NotNil(t, fields)
}

func TestReingestIdenticalRowSkips(t *testing.T) {
	store := newFakeStore()
	online := newFakeOnline()

	p := newTestPipeline(store, online, []*models.RawPriceObservation{ec2Row("0.384")})
	_, err := p.RunWeeklyUpdate(context.Background(), Options{Provider: "aws"})
	require.NoError(t, err)

	run, err := p.RunWeeklyUpdate(context.Background(), Options{Provider: "aws"})
	require.NoError(t, err)

	assert.Equal(t, uint64(0), run.Inserted)
	assert.Equal(t, uint64(1), run.Skipped)
	assert.Equal(t, uint64(0), run.Superseded)
	assert.Empty(t, store.history)

	count, err := store.CountActive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)
}

func TestPriceChangeSupersedes(t *testing.T) {
	store := newFakeStore()
	online := newFakeOnline()

	p := newTestPipeline(store, online, []*models.RawPriceObservation{ec2Row("0.384")})
	_, err := p.RunWeeklyUpdate(context.Background(), Options{Provider: "aws"})
	require.NoError(t, err)

	p.OpenDump = func(string, string) (RowReader, error) {
		return &sliceReader{rows: []*models.RawPriceObservation{ec2Row("0.400")}}, nil
	}
	run, err := p.RunWeeklyUpdate(context.Background(), Options{Provider: "aws"})
	require.NoError(t, err)

	assert.Equal(t, uint64(1), run.Superseded)
	assert.Equal(t, uint64(0), run.Inserted)

	digest := IdentityDigest(ec2Row("0.400"))

	record, err := store.GetActiveByDigest(context.Background(), digest)
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.True(t, record.Price.Equal(decimal.RequireFromString("0.400")))

	// Exactly one history entry, capturing the retired price.
	entries, err := store.HistoryByDigest(context.Background(), digest, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Price.Equal(decimal.RequireFromString("0.384")))
	require.NotNil(t, entries[0].ChangePct)
	assert.InDelta(t, 4.1666, *entries[0].ChangePct, 0.001)

	// Feature diff reflects the change.
	snapshots, err := store.LatestFeatureSnapshots(context.Background(), []string{digest})
	require.NoError(t, err)
	require.NotNil(t, snapshots[digest])
	require.NotNil(t, snapshots[digest].PriceDiffAbs)
	assert.True(t, snapshots[digest].PriceDiffAbs.Equal(decimal.RequireFromString("0.016")))
	require.NotNil(t, snapshots[digest].PreviousPrice)
	assert.True(t, snapshots[digest].PreviousPrice.Equal(decimal.RequireFromString("0.384")))
	assert.Equal(t, uint32(1), snapshots[digest].PriceChangeFrequency90d)
}

func TestDedupIdempotenceWithinOneRun(t *testing.T) {
	store := newFakeStore()
	online := newFakeOnline()

	// The same row twice in one dump: one insert, one skip.
	rows := []*models.RawPriceObservation{ec2Row("0.384"), ec2Row("0.384")}
	p := newTestPipeline(store, online, rows)

	run, err := p.RunWeeklyUpdate(context.Background(), Options{Provider: "aws"})
	require.NoError(t, err)

	assert.Equal(t, uint64(1), run.Inserted)
	assert.Equal(t, uint64(1), run.Skipped)
	assert.Empty(t, store.history)

	count, err := store.CountActive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)
}

func TestBatchRetryAfterTransientFailure(t *testing.T) {
	store := newFakeStore()
	store.failCanonicalInserts = 1
	online := newFakeOnline()
	p := newTestPipeline(store, online, []*models.RawPriceObservation{ec2Row("0.384")})

	run, err := p.RunWeeklyUpdate(context.Background(), Options{Provider: "aws"})
	require.NoError(t, err)

	// The failed attempt committed nothing, so the retry inserts cleanly.
	assert.Equal(t, uint64(1), run.Inserted)
	count, err := store.CountActive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)
}

func TestSupersedeRetrySurvivesPartialCommit(t *testing.T) {
	store := newFakeStore()
	online := newFakeOnline()

	p := newTestPipeline(store, online, []*models.RawPriceObservation{ec2Row("0.384")})
	_, err := p.RunWeeklyUpdate(context.Background(), Options{Provider: "aws"})
	require.NoError(t, err)

	// Re-price without advancing the effective date, and kill the first
	// history insert: the canonical rows of that attempt land, the history
	// rows do not. The retried commit must re-send the same rows rather than
	// re-deciding with a fresh bump timestamp.
	store.failHistoryInserts = 1
	p.OpenDump = func(string, string) (RowReader, error) {
		return &sliceReader{rows: []*models.RawPriceObservation{ec2Row("0.400")}}, nil
	}
	run, err := p.RunWeeklyUpdate(context.Background(), Options{Provider: "aws"})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), run.Superseded)

	digest := IdentityDigest(ec2Row("0.400"))
	record, err := store.GetActiveByDigest(context.Background(), digest)
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.True(t, record.Price.Equal(decimal.RequireFromString("0.400")))

	count, err := store.CountActive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)

	// Exactly one history entry per deactivation, retry or not.
	entries, err := store.HistoryByDigest(context.Background(), digest, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Price.Equal(decimal.RequireFromString("0.384")))
}

func TestMalformedRowsCountedNotFatal(t *testing.T) {
	store := newFakeStore()
	online := newFakeOnline()

	bad := ec2Row("not-a-price")
	rows := []*models.RawPriceObservation{ec2Row("0.384"), bad}
	p := newTestPipeline(store, online, rows)

	run, err := p.RunWeeklyUpdate(context.Background(), Options{Provider: "aws"})
	require.NoError(t, err)

	assert.Equal(t, models.RunStatusDone, run.Status)
	assert.Equal(t, uint64(1), run.Inserted)
	assert.Equal(t, uint64(1), run.MalformedRows)
}

func TestConcurrentInvocationRejected(t *testing.T) {
	store := newFakeStore()
	online := newFakeOnline()
	p := newTestPipeline(store, online, []*models.RawPriceObservation{ec2Row("0.384")})

	// Another owner holds the lease.
	held, err := online.AcquireRunLease(context.Background(), "other-owner", time.Hour)
	require.NoError(t, err)
	require.True(t, held)

	_, err = p.RunWeeklyUpdate(context.Background(), Options{Provider: "aws"})
	assert.ErrorIs(t, err, ErrRunInFlight)
}

func TestPersistedRunCheckRejectsAfterLeaseLoss(t *testing.T) {
	store := newFakeStore()
	online := newFakeOnline()
	p := newTestPipeline(store, online, []*models.RawPriceObservation{ec2Row("0.384")})

	// Simulate a flushed Redis: no lease, but a run record says normalizing.
	require.NoError(t, store.UpsertRunRecord(context.Background(), &models.RunRecord{
		RunID:     "stuck-run",
		Status:    models.RunStatusNormalizing,
		StartedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}))

	_, err := p.RunWeeklyUpdate(context.Background(), Options{Provider: "aws"})
	assert.ErrorIs(t, err, ErrRunInFlight)

	// The lease taken during the check must be released again.
	held, err := online.AcquireRunLease(context.Background(), "next-owner", time.Hour)
	require.NoError(t, err)
	assert.True(t, held)
}

func TestAbandonedRunFinalizedNotBlocking(t *testing.T) {
	store := newFakeStore()
	online := newFakeOnline()
	p := newTestPipeline(store, online, []*models.RawPriceObservation{ec2Row("0.384")})

	// A worker that died mid-run left a non-terminal record behind, long past
	// any plausible budget. It must not block the schedule forever.
	stale := time.Now().UTC().Add(-72 * time.Hour)
	require.NoError(t, store.UpsertRunRecord(context.Background(), &models.RunRecord{
		RunID:     "crashed-run",
		Status:    models.RunStatusNormalizing,
		StartedAt: stale,
		UpdatedAt: stale,
	}))

	run, err := p.RunWeeklyUpdate(context.Background(), Options{Provider: "aws"})
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusDone, run.Status)

	// The crashed run was finalized, not left dangling.
	crashed, err := store.GetRun(context.Background(), "crashed-run")
	require.NoError(t, err)
	require.NotNil(t, crashed)
	assert.Equal(t, models.RunStatusFailed, crashed.Status)
	assert.Contains(t, crashed.Error, "abandoned")
	require.NotNil(t, crashed.FinishedAt)
}

func TestMaterializeDoubleActiveIsConsistencyError(t *testing.T) {
	store := newFakeStore()
	online := newFakeOnline()
	p := newTestPipeline(store, online, nil)

	// Two active rows for one digest: the invariant the engine guards is
	// already broken in the table.
	digest := IdentityDigest(ec2Row("0.384"))
	now := time.Now().UTC()
	for i, price := range []string{"0.384", "0.400"} {
		require.NoError(t, store.InsertCanonical(context.Background(), []*models.CanonicalPriceRecord{{
			Digest:        digest,
			Price:         decimal.RequireFromString(price),
			EffectiveDate: now.Add(time.Duration(i) * time.Hour),
			IsActive:      1,
			UpdatedAt:     now,
		}}))
	}

	run := &models.RunRecord{RunID: "mat-run", Status: models.RunStatusMaterializing}
	err := p.MaterializeFeatures(context.Background(), run, map[string]struct{}{digest: {}})
	require.Error(t, err)
	assert.True(t, IsConsistencyError(err), "double-active must surface as a consistency error, got %v", err)
}

func TestOnlineFailureDegradesRun(t *testing.T) {
	store := newFakeStore()
	online := newFakeOnline()
	online.failWrites = true
	p := newTestPipeline(store, online, []*models.RawPriceObservation{ec2Row("0.384")})

	run, err := p.RunWeeklyUpdate(context.Background(), Options{Provider: "aws"})
	require.NoError(t, err)

	assert.Equal(t, models.RunStatusDegraded, run.Status)
	assert.Equal(t, uint64(1), run.OnlineFailures)
	// The offline snapshot still landed.
	assert.Equal(t, uint64(1), run.FeaturesWritten)
	assert.Len(t, store.features, 1)
}

func TestRepairOnlineRestoresParity(t *testing.T) {
	store := newFakeStore()
	online := newFakeOnline()
	online.failWrites = true
	p := newTestPipeline(store, online, []*models.RawPriceObservation{ec2Row("0.384")})

	run, err := p.RunWeeklyUpdate(context.Background(), Options{Provider: "aws"})
	require.NoError(t, err)
	require.Equal(t, models.RunStatusDegraded, run.Status)

	// Online store recovers; repair re-derives it from the offline rows.
	online.failWrites = false
	repaired, err := p.RepairOnline(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), repaired)

	digest := IdentityDigest(ec2Row("0.384"))
	fields, err := online.GetFeatures(context.Background(), digest)
	require.NoError(t, err)
	assert.NotNil(t, fields)
}

func TestRunBudgetExceeded(t *testing.T) {
	t.Setenv("RUN_BUDGET", "1ns")

	store := newFakeStore()
	online := newFakeOnline()
	p := newTestPipeline(store, online, []*models.RawPriceObservation{ec2Row("0.384")})

	run, err := p.RunWeeklyUpdate(context.Background(), Options{Provider: "aws"})
	require.Error(t, err)

	var budgetErr *BudgetExceededError
	assert.True(t, errors.As(err, &budgetErr))
	assert.Equal(t, models.RunStatusFailed, run.Status)
	require.NotNil(t, run.FinishedAt)
	assert.NotEmpty(t, run.Error)
}

func TestHistoryInvariant(t *testing.T) {
	store := newFakeStore()
	online := newFakeOnline()

	prices := []string{"0.384", "0.400", "0.420"}
	p := newTestPipeline(store, online, nil)
	for _, price := range prices {
		price := price
		p.OpenDump = func(string, string) (RowReader, error) {
			return &sliceReader{rows: []*models.RawPriceObservation{ec2Row(price)}}, nil
		}
		_, err := p.RunWeeklyUpdate(context.Background(), Options{Provider: "aws"})
		require.NoError(t, err)
	}

	// count(history) + 1 active == number of distinct normalized states.
	digest := IdentityDigest(ec2Row("0.384"))
	entries, err := store.HistoryByDigest(context.Background(), digest, 10)
	require.NoError(t, err)
	assert.Len(t, entries, len(prices)-1)

	record, err := store.GetActiveByDigest(context.Background(), digest)
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.True(t, record.Price.Equal(decimal.RequireFromString("0.420")))
}

func TestIdentityDigestStability(t *testing.T) {
	a := IdentityDigest(ec2Row("0.384"))
	b := IdentityDigest(ec2Row("0.400"))
	assert.Equal(t, a, b, "price must not affect the identity digest")

	other := ec2Row("0.384")
	other.InstanceType = "m5.4xlarge"
	assert.NotEqual(t, a, IdentityDigest(other))
}
