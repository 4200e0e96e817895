package pricing

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/stratocost/pricefeed/pkg/db/clickhouse"
	models "github.com/stratocost/pricefeed/pkg/db/models/pricing"
)

// initRuns creates the run_records table. ReplacingMergeTree keyed by run_id
// and versioned by updated_at: each status transition re-inserts the row.
func (db *DB) initRuns(ctx context.Context) error {
	schemaSQL := models.ColumnsToSchemaSQL(models.RunColumns)

	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS "%s"."%s" (
			%s
		) ENGINE = %s(updated_at)
		ORDER BY (run_id)
	`, db.Name, models.RunTableName, schemaSQL, clickhouse.ReplacingMergeTree)
	if err := db.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", models.RunTableName, err)
	}

	return nil
}

// UpsertRunRecord writes the current state of a run. Both the initial insert
// and every later status transition go through here; the latest updated_at
// wins on read.
func (db *DB) UpsertRunRecord(ctx context.Context, run *models.RunRecord) error {
	query := fmt.Sprintf(`INSERT INTO "%s"."%s" (%s) VALUES`,
		db.Name, models.RunTableName, models.ColumnNames(models.RunColumns))
	batch, err := db.PrepareBatch(ctx, query)
	if err != nil {
		return err
	}
	defer func(batch driver.Batch) {
		_ = batch.Abort()
	}(batch)

	err = batch.Append(
		run.RunID,
		run.Status,
		run.Provider,
		run.StartedAt,
		run.FinishedAt,
		run.StagedRows,
		run.MalformedRows,
		run.Inserted,
		run.Skipped,
		run.Superseded,
		run.FeaturesWritten,
		run.OnlineFailures,
		run.Error,
		run.UpdatedAt,
	)
	if err != nil {
		return err
	}

	return batch.Send()
}

// GetRun returns the latest state of one run, or nil when unknown.
func (db *DB) GetRun(ctx context.Context, runID string) (*models.RunRecord, error) {
	var runs []*models.RunRecord
	query := fmt.Sprintf(`
		SELECT %s
		FROM "%s"."%s" FINAL
		WHERE run_id = ?
		LIMIT 1
	`, models.ColumnNames(models.RunColumns), db.Name, models.RunTableName)

	if err := db.SelectWithFinal(ctx, &runs, query, runID); err != nil {
		return nil, fmt.Errorf("query run %s: %w", runID, err)
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return runs[0], nil
}

// GetRunningRun returns the most recent run still in a non-terminal status,
// or nil when no run is in flight. This backs the single-flight check beyond
// the Redis lease: even after a cache flush, a run that is actually executing
// still shows up here.
func (db *DB) GetRunningRun(ctx context.Context) (*models.RunRecord, error) {
	var runs []*models.RunRecord
	query := fmt.Sprintf(`
		SELECT %s
		FROM "%s"."%s" FINAL
		WHERE status NOT IN ('%s', '%s', '%s')
		ORDER BY started_at DESC
		LIMIT 1
	`, models.ColumnNames(models.RunColumns), db.Name, models.RunTableName,
		models.RunStatusDone, models.RunStatusDegraded, models.RunStatusFailed)

	if err := db.SelectWithFinal(ctx, &runs, query); err != nil {
		return nil, fmt.Errorf("query running run: %w", err)
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return runs[0], nil
}

// RecentRuns returns the latest runs in start order, newest first.
func (db *DB) RecentRuns(ctx context.Context, limit int) ([]*models.RunRecord, error) {
	var runs []*models.RunRecord
	query := fmt.Sprintf(`
		SELECT %s
		FROM "%s"."%s" FINAL
		ORDER BY started_at DESC
		LIMIT ?
	`, models.ColumnNames(models.RunColumns), db.Name, models.RunTableName)

	if err := db.SelectWithFinal(ctx, &runs, query, limit); err != nil {
		return nil, fmt.Errorf("query recent runs: %w", err)
	}
	return runs, nil
}
