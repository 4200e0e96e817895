package pricing

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/stratocost/pricefeed/pkg/db/clickhouse"
	models "github.com/stratocost/pricefeed/pkg/db/models/pricing"
)

// initHistory creates the price_history table. Append-only MergeTree; entries
// are never rewritten once recorded.
func (db *DB) initHistory(ctx context.Context) error {
	schemaSQL := models.ColumnsToSchemaSQL(models.HistoryColumns)

	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS "%s"."%s" (
			%s
		) ENGINE = %s
		ORDER BY (digest, end_date)
	`, db.Name, models.HistoryTableName, schemaSQL, clickhouse.MergeTree)
	if err := db.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", models.HistoryTableName, err)
	}

	return nil
}

// InsertHistory appends history entries for superseded records.
func (db *DB) InsertHistory(ctx context.Context, entries []*models.PriceHistoryEntry) error {
	if len(entries) == 0 {
		return nil
	}

	query := fmt.Sprintf(`INSERT INTO "%s"."%s" (%s) VALUES`,
		db.Name, models.HistoryTableName, models.ColumnNames(models.HistoryColumns))
	batch, err := db.PrepareBatch(ctx, query)
	if err != nil {
		return err
	}
	defer func(batch driver.Batch) {
		_ = batch.Abort()
	}(batch)

	for _, e := range entries {
		err = batch.Append(
			e.Digest,
			e.Price,
			e.UnitAmount,
			e.UnitBase,
			e.UnitPeriod,
			e.UnitModifier,
			e.EffectiveDate,
			e.EndDate,
			e.ChangePct,
			e.RunID,
			e.RecordedAt,
		)
		if err != nil {
			return err
		}
	}

	return batch.Send()
}

// HistoryByDigest returns the full price history for one product, most recent
// supersession first.
func (db *DB) HistoryByDigest(ctx context.Context, digest string, limit int) ([]*models.PriceHistoryEntry, error) {
	var entries []*models.PriceHistoryEntry
	query := fmt.Sprintf(`
		SELECT %s
		FROM "%s"."%s"
		WHERE digest = ?
		ORDER BY end_date DESC
		LIMIT ?
	`, models.ColumnNames(models.HistoryColumns), db.Name, models.HistoryTableName)

	if err := db.Select(ctx, &entries, query, digest, limit); err != nil {
		return nil, fmt.Errorf("query history for %s: %w", digest, err)
	}
	return entries, nil
}

// ChangeCounts90d returns, per digest, the number of history entries recorded
// in the 90 days before asOf. Digests with no recent changes are absent.
func (db *DB) ChangeCounts90d(ctx context.Context, digests []string, asOf time.Time) (map[string]uint32, error) {
	if len(digests) == 0 {
		return map[string]uint32{}, nil
	}

	query := fmt.Sprintf(`
		SELECT digest, toUInt32(count()) AS changes
		FROM "%s"."%s"
		WHERE digest IN (?) AND end_date > ?
		GROUP BY digest
	`, db.Name, models.HistoryTableName)

	rows, err := db.Query(ctx, query, digests, asOf.Add(-90*24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("query change counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]uint32, len(digests))
	for rows.Next() {
		var digest string
		var changes uint32
		if err := rows.Scan(&digest, &changes); err != nil {
			return nil, fmt.Errorf("scan change count: %w", err)
		}
		counts[digest] = changes
	}
	return counts, rows.Err()
}

// LatestHistoryByDigests returns the most recent history entry per digest,
// used to compute the previous-price features. Digests with no history are
// absent from the map.
func (db *DB) LatestHistoryByDigests(ctx context.Context, digests []string) (map[string]*models.PriceHistoryEntry, error) {
	if len(digests) == 0 {
		return map[string]*models.PriceHistoryEntry{}, nil
	}

	var entries []*models.PriceHistoryEntry
	query := fmt.Sprintf(`
		SELECT %s
		FROM "%s"."%s"
		WHERE digest IN (?)
		ORDER BY digest, end_date DESC
		LIMIT 1 BY digest
	`, models.ColumnNames(models.HistoryColumns), db.Name, models.HistoryTableName)

	if err := db.Select(ctx, &entries, query, digests); err != nil {
		return nil, fmt.Errorf("query latest history: %w", err)
	}

	latest := make(map[string]*models.PriceHistoryEntry, len(entries))
	for _, e := range entries {
		latest[e.Digest] = e
	}
	return latest, nil
}
