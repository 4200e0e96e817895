package pricing

import (
	"context"
	"errors"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/stratocost/pricefeed/pkg/db/clickhouse"
	models "github.com/stratocost/pricefeed/pkg/db/models/pricing"
)

// ErrDuplicateActive reports a broken at-most-one-active invariant. Callers
// must treat it as fatal and never retry past it.
var ErrDuplicateActive = errors.New("more than one active record for digest")

// initCanonical creates the canonical_prices table. ReplacingMergeTree keyed
// by (digest, effective_date) and versioned by updated_at: a deactivation is a
// re-insert of the same key with a later version, so readers using FINAL see
// exactly one winning row per key.
func (db *DB) initCanonical(ctx context.Context) error {
	schemaSQL := models.ColumnsToSchemaSQL(models.CanonicalColumns)

	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS "%s"."%s" (
			%s
		) ENGINE = %s(updated_at)
		ORDER BY (digest, effective_date)
	`, db.Name, models.CanonicalTableName, schemaSQL, clickhouse.ReplacingMergeTree)
	if err := db.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", models.CanonicalTableName, err)
	}

	return nil
}

// GetActiveByDigests returns the active canonical record for each of the given
// digests, keyed by digest. Digests with no active record are absent from the
// map. More than one active row for a digest is a corruption of the
// at-most-one-active invariant and is reported as an error rather than
// silently picking one.
func (db *DB) GetActiveByDigests(ctx context.Context, digests []string) (map[string]*models.CanonicalPriceRecord, error) {
	if len(digests) == 0 {
		return map[string]*models.CanonicalPriceRecord{}, nil
	}

	var rows []*models.CanonicalPriceRecord
	query := fmt.Sprintf(`
		SELECT %s
		FROM "%s"."%s" FINAL
		WHERE digest IN (?) AND is_active = 1
	`, models.ColumnNames(models.CanonicalColumns), db.Name, models.CanonicalTableName)

	if err := db.SelectWithFinal(ctx, &rows, query, digests); err != nil {
		return nil, fmt.Errorf("query active records: %w", err)
	}

	active := make(map[string]*models.CanonicalPriceRecord, len(rows))
	for _, row := range rows {
		if _, dup := active[row.Digest]; dup {
			return nil, fmt.Errorf("digest %s: %w", row.Digest, ErrDuplicateActive)
		}
		active[row.Digest] = row
	}
	return active, nil
}

// GetActiveByDigest returns the active record for one digest, or nil when the
// product has never been seen.
func (db *DB) GetActiveByDigest(ctx context.Context, digest string) (*models.CanonicalPriceRecord, error) {
	active, err := db.GetActiveByDigests(ctx, []string{digest})
	if err != nil {
		return nil, err
	}
	return active[digest], nil
}

// InsertCanonical appends canonical rows in a single insert block. Supersede
// pairs (the deactivated old version and its replacement) must travel in the
// same call so they land atomically.
func (db *DB) InsertCanonical(ctx context.Context, records []*models.CanonicalPriceRecord) error {
	if len(records) == 0 {
		return nil
	}

	query := fmt.Sprintf(`INSERT INTO "%s"."%s" (%s) VALUES`,
		db.Name, models.CanonicalTableName, models.ColumnNames(models.CanonicalColumns))
	batch, err := db.PrepareBatch(ctx, query)
	if err != nil {
		return err
	}
	defer func(batch driver.Batch) {
		_ = batch.Abort()
	}(batch)

	for _, r := range records {
		err = batch.Append(
			r.Digest,
			r.Provider,
			r.ServiceCode,
			r.ServiceName,
			r.InstanceType,
			r.Region,
			r.Domain,
			r.Price,
			r.UnitAmount,
			r.UnitBase,
			r.UnitPeriod,
			r.UnitModifier,
			r.UnitNotes,
			r.TermType,
			r.LeaseLength,
			r.PurchaseOption,
			r.OperatingSystem,
			r.Tenancy,
			r.VCPU,
			r.MemoryGB,
			r.Storage,
			r.Currency,
			r.EffectiveDate,
			r.EndDate,
			r.IsActive,
			r.RunID,
			r.UpdatedAt,
		)
		if err != nil {
			return err
		}
	}

	return batch.Send()
}

// ActiveDigests streams the digests of all currently active records in
// batches. Used by the feature materializer to walk the full catalog without
// loading every digest at once.
func (db *DB) ActiveDigests(ctx context.Context, afterDigest string, limit int) ([]string, error) {
	query := fmt.Sprintf(`
		SELECT digest
		FROM "%s"."%s" FINAL
		WHERE is_active = 1 AND digest > ?
		ORDER BY digest
		LIMIT ?
	`, db.Name, models.CanonicalTableName)

	rows, err := db.Query(ctx, query, afterDigest, limit)
	if err != nil {
		return nil, fmt.Errorf("query active digests: %w", err)
	}
	defer rows.Close()

	var digests []string
	for rows.Next() {
		var digest string
		if err := rows.Scan(&digest); err != nil {
			return nil, fmt.Errorf("scan active digest: %w", err)
		}
		digests = append(digests, digest)
	}
	return digests, rows.Err()
}

// TouchedDigests pages through the digests written by one run, in digest
// order. Both new active rows and retired versions carry the run id, so this
// is the full set of products the run touched.
func (db *DB) TouchedDigests(ctx context.Context, runID, afterDigest string, limit int) ([]string, error) {
	query := fmt.Sprintf(`
		SELECT digest
		FROM "%s"."%s" FINAL
		WHERE run_id = ? AND digest > ?
		GROUP BY digest
		ORDER BY digest
		LIMIT ?
	`, db.Name, models.CanonicalTableName)

	rows, err := db.Query(ctx, query, runID, afterDigest, limit)
	if err != nil {
		return nil, fmt.Errorf("query touched digests: %w", err)
	}
	defer rows.Close()

	var digests []string
	for rows.Next() {
		var digest string
		if err := rows.Scan(&digest); err != nil {
			return nil, fmt.Errorf("scan touched digest: %w", err)
		}
		digests = append(digests, digest)
	}
	return digests, rows.Err()
}

// CountActive returns the number of active canonical records.
func (db *DB) CountActive(ctx context.Context) (uint64, error) {
	var count uint64
	query := fmt.Sprintf(`SELECT count() FROM "%s"."%s" FINAL WHERE is_active = 1`,
		db.Name, models.CanonicalTableName)
	if err := db.QueryRow(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("count active records: %w", err)
	}
	return count, nil
}
