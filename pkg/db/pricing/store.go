package pricing

import (
	"context"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	models "github.com/stratocost/pricefeed/pkg/db/models/pricing"
)

// Store describes the pricing database operations required by the pipeline
// stages and the query surface.
type Store interface {
	DatabaseName() string
	GetConnection() driver.Conn

	// --- Init

	InitializeDB(ctx context.Context) error

	// --- Staging

	InsertStagingBatch(ctx context.Context, rows []*models.RawPriceObservation) error
	FetchStagingBatch(ctx context.Context, runID string, lastSeq uint64, limit int) ([]*models.RawPriceObservation, error)
	CountStaging(ctx context.Context, runID string) (uint64, error)
	TruncateStaging(ctx context.Context) error

	// --- Canonical records

	GetActiveByDigests(ctx context.Context, digests []string) (map[string]*models.CanonicalPriceRecord, error)
	GetActiveByDigest(ctx context.Context, digest string) (*models.CanonicalPriceRecord, error)
	InsertCanonical(ctx context.Context, records []*models.CanonicalPriceRecord) error
	ActiveDigests(ctx context.Context, afterDigest string, limit int) ([]string, error)
	TouchedDigests(ctx context.Context, runID, afterDigest string, limit int) ([]string, error)
	CountActive(ctx context.Context) (uint64, error)

	// --- Price history

	InsertHistory(ctx context.Context, entries []*models.PriceHistoryEntry) error
	HistoryByDigest(ctx context.Context, digest string, limit int) ([]*models.PriceHistoryEntry, error)
	LatestHistoryByDigests(ctx context.Context, digests []string) (map[string]*models.PriceHistoryEntry, error)
	ChangeCounts90d(ctx context.Context, digests []string, asOf time.Time) (map[string]uint32, error)

	// --- Feature snapshots

	InsertFeatureSnapshots(ctx context.Context, records []*models.FeatureRecord) error
	LatestFeatureSnapshots(ctx context.Context, digests []string) (map[string]*models.FeatureRecord, error)
	FeatureSnapshotsByRun(ctx context.Context, runID, afterDigest string, limit int) ([]*models.FeatureRecord, error)

	// --- Run records

	UpsertRunRecord(ctx context.Context, run *models.RunRecord) error
	GetRun(ctx context.Context, runID string) (*models.RunRecord, error)
	GetRunningRun(ctx context.Context) (*models.RunRecord, error)
	RecentRuns(ctx context.Context, limit int) ([]*models.RunRecord, error)

	Close() error
}

var _ Store = (*DB)(nil)
