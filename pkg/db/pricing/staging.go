package pricing

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/stratocost/pricefeed/pkg/db/clickhouse"
	models "github.com/stratocost/pricefeed/pkg/db/models/pricing"
)

// initStaging creates the staging_prices table. Plain MergeTree ordered by the
// loader-assigned sequence number so keyset reads scan in insert order.
func (db *DB) initStaging(ctx context.Context) error {
	schemaSQL := models.ColumnsToSchemaSQL(models.StagingColumns)

	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS "%s"."%s" (
			%s
		) ENGINE = %s
		ORDER BY (seq)
	`, db.Name, models.StagingTableName, schemaSQL, clickhouse.MergeTree)
	if err := db.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", models.StagingTableName, err)
	}

	return nil
}

// InsertStagingBatch bulk-inserts one chunk of raw observations.
func (db *DB) InsertStagingBatch(ctx context.Context, rows []*models.RawPriceObservation) error {
	if len(rows) == 0 {
		return nil
	}

	query := fmt.Sprintf(`INSERT INTO "%s"."%s" (%s) VALUES`,
		db.Name, models.StagingTableName, models.ColumnNames(models.StagingColumns))
	batch, err := db.PrepareBatch(ctx, query)
	if err != nil {
		return err
	}
	defer func(batch driver.Batch) {
		_ = batch.Abort()
	}(batch)

	for _, row := range rows {
		err = batch.Append(
			row.Seq,
			row.RunID,
			row.Provider,
			row.ServiceCode,
			row.ServiceName,
			row.InstanceType,
			row.Region,
			row.PriceRaw,
			row.UnitRaw,
			row.TermType,
			row.LeaseLength,
			row.PurchaseOption,
			row.OperatingSystem,
			row.Tenancy,
			row.VCPU,
			row.MemoryGB,
			row.Storage,
			row.Currency,
			row.EffectiveDate,
		)
		if err != nil {
			return err
		}
	}

	return batch.Send()
}

// FetchStagingBatch returns up to limit rows with seq strictly greater than
// lastSeq, in sequence order. This is the keyset cursor the dedup engine walks;
// it never re-reads a row and never needs an OFFSET scan.
func (db *DB) FetchStagingBatch(ctx context.Context, runID string, lastSeq uint64, limit int) ([]*models.RawPriceObservation, error) {
	var rows []*models.RawPriceObservation
	query := fmt.Sprintf(`
		SELECT %s
		FROM "%s"."%s"
		WHERE run_id = ? AND seq > ?
		ORDER BY seq
		LIMIT ?
	`, models.ColumnNames(models.StagingColumns), db.Name, models.StagingTableName)

	if err := db.Select(ctx, &rows, query, runID, lastSeq, limit); err != nil {
		return nil, fmt.Errorf("fetch staging batch after seq %d: %w", lastSeq, err)
	}
	return rows, nil
}

// CountStaging returns the number of staged rows for a run.
func (db *DB) CountStaging(ctx context.Context, runID string) (uint64, error) {
	var count uint64
	query := fmt.Sprintf(`SELECT count() FROM "%s"."%s" WHERE run_id = ?`,
		db.Name, models.StagingTableName)
	if err := db.QueryRow(ctx, query, runID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count staging rows: %w", err)
	}
	return count, nil
}

// TruncateStaging drops all staged rows. Called after a run completes, or
// immediately when the bulk load itself fails so a partial dump never leaks
// into the next run.
func (db *DB) TruncateStaging(ctx context.Context) error {
	query := fmt.Sprintf(`TRUNCATE TABLE "%s"."%s"`, db.Name, models.StagingTableName)
	return db.Exec(ctx, query)
}
