package pricing

import (
	"time"

	"github.com/shopspring/decimal"
)

const FeatureTableName = "feature_snapshots"

// FeatureColumns defines the schema for the feature_snapshots table, the
// append-only offline projection. One row per (run_id, digest); training sets
// reconstruct feature values "as of" any past run by filtering on run_id or
// snapshot_at.
var FeatureColumns = []ColumnDef{
	{Name: "run_id", Type: "String"},
	{Name: "digest", Type: "String"},
	{Name: "latest_price", Type: "Decimal(18, 6)"},
	{Name: "previous_price", Type: "Nullable(Decimal(18, 6))"},
	{Name: "price_diff_abs", Type: "Nullable(Decimal(18, 6))"},
	{Name: "price_diff_pct", Type: "Nullable(Float64)"},
	{Name: "days_since_price_change", Type: "Int64"},
	{Name: "price_change_frequency_90d", Type: "UInt32"},
	{Name: "snapshot_at", Type: "DateTime64(6)"},
}

// FeatureRecord holds the derived per-product features for one run. The online
// projection in Redis is a cache of the latest offline row, never an
// independent source of truth.
type FeatureRecord struct {
	RunID                   string           `ch:"run_id" json:"run_id"`
	Digest                  string           `ch:"digest" json:"digest"`
	LatestPrice             decimal.Decimal  `ch:"latest_price" json:"latest_price"`
	PreviousPrice           *decimal.Decimal `ch:"previous_price" json:"previous_price,omitempty"`
	PriceDiffAbs            *decimal.Decimal `ch:"price_diff_abs" json:"price_diff_abs,omitempty"`
	PriceDiffPct            *float64         `ch:"price_diff_pct" json:"price_diff_pct,omitempty"`
	DaysSincePriceChange    int64            `ch:"days_since_price_change" json:"days_since_price_change"`
	PriceChangeFrequency90d uint32           `ch:"price_change_frequency_90d" json:"price_change_frequency_90d"`
	SnapshotAt              time.Time        `ch:"snapshot_at" json:"snapshot_at"`
}

// OnlineFields flattens the record into the field map stored in the online
// projection hash. Null features are written as empty strings so readers can
// distinguish "no previous price" from zero.
func (f *FeatureRecord) OnlineFields() map[string]interface{} {
	fields := map[string]interface{}{
		"run_id":                     f.RunID,
		"latest_price":               f.LatestPrice.String(),
		"previous_price":             "",
		"price_diff_abs":             "",
		"price_diff_pct":             "",
		"days_since_price_change":    f.DaysSincePriceChange,
		"price_change_frequency_90d": f.PriceChangeFrequency90d,
		"snapshot_at":                f.SnapshotAt.UTC().Format(time.RFC3339Nano),
	}
	if f.PreviousPrice != nil {
		fields["previous_price"] = f.PreviousPrice.String()
	}
	if f.PriceDiffAbs != nil {
		fields["price_diff_abs"] = f.PriceDiffAbs.String()
	}
	if f.PriceDiffPct != nil {
		fields["price_diff_pct"] = *f.PriceDiffPct
	}
	return fields
}
