package pricing

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/stratocost/pricefeed/pkg/db/clickhouse"
	models "github.com/stratocost/pricefeed/pkg/db/models/pricing"
)

// initFeatures creates the feature_snapshots table. Append-only MergeTree so
// offline training sets can reconstruct features as of any past run.
func (db *DB) initFeatures(ctx context.Context) error {
	schemaSQL := models.ColumnsToSchemaSQL(models.FeatureColumns)

	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS "%s"."%s" (
			%s
		) ENGINE = %s
		ORDER BY (digest, snapshot_at)
	`, db.Name, models.FeatureTableName, schemaSQL, clickhouse.MergeTree)
	if err := db.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", models.FeatureTableName, err)
	}

	return nil
}

// InsertFeatureSnapshots appends one batch of offline feature rows. This is
// the durable write; the online projection is refreshed only after the batch
// lands.
func (db *DB) InsertFeatureSnapshots(ctx context.Context, records []*models.FeatureRecord) error {
	if len(records) == 0 {
		return nil
	}

	query := fmt.Sprintf(`INSERT INTO "%s"."%s" (%s) VALUES`,
		db.Name, models.FeatureTableName, models.ColumnNames(models.FeatureColumns))
	batch, err := db.PrepareBatch(ctx, query)
	if err != nil {
		return err
	}
	defer func(batch driver.Batch) {
		_ = batch.Abort()
	}(batch)

	for _, r := range records {
		err = batch.Append(
			r.RunID,
			r.Digest,
			r.LatestPrice,
			r.PreviousPrice,
			r.PriceDiffAbs,
			r.PriceDiffPct,
			r.DaysSincePriceChange,
			r.PriceChangeFrequency90d,
			r.SnapshotAt,
		)
		if err != nil {
			return err
		}
	}

	return batch.Send()
}

// LatestFeatureSnapshots returns the most recent offline feature row per
// digest. The online repair path reads these to rebuild Redis from the
// offline source of truth.
func (db *DB) LatestFeatureSnapshots(ctx context.Context, digests []string) (map[string]*models.FeatureRecord, error) {
	if len(digests) == 0 {
		return map[string]*models.FeatureRecord{}, nil
	}

	var records []*models.FeatureRecord
	query := fmt.Sprintf(`
		SELECT %s
		FROM "%s"."%s"
		WHERE digest IN (?)
		ORDER BY digest, snapshot_at DESC
		LIMIT 1 BY digest
	`, models.ColumnNames(models.FeatureColumns), db.Name, models.FeatureTableName)

	if err := db.Select(ctx, &records, query, digests); err != nil {
		return nil, fmt.Errorf("query latest feature snapshots: %w", err)
	}

	latest := make(map[string]*models.FeatureRecord, len(records))
	for _, r := range records {
		latest[r.Digest] = r
	}
	return latest, nil
}

// FeatureSnapshotsByRun returns all offline feature rows written by one run,
// paged by digest keyset.
func (db *DB) FeatureSnapshotsByRun(ctx context.Context, runID, afterDigest string, limit int) ([]*models.FeatureRecord, error) {
	var records []*models.FeatureRecord
	query := fmt.Sprintf(`
		SELECT %s
		FROM "%s"."%s"
		WHERE run_id = ? AND digest > ?
		ORDER BY digest
		LIMIT ?
	`, models.ColumnNames(models.FeatureColumns), db.Name, models.FeatureTableName)

	if err := db.Select(ctx, &records, query, runID, afterDigest, limit); err != nil {
		return nil, fmt.Errorf("query feature snapshots for run %s: %w", runID, err)
	}
	return records, nil
}
