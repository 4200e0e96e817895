package pricing

import (
	"time"

	"github.com/shopspring/decimal"
)

const HistoryTableName = "price_history"

// HistoryColumns defines the schema for the price_history table.
// Plain MergeTree: history entries are write-once and never updated.
var HistoryColumns = []ColumnDef{
	{Name: "digest", Type: "String"},
	{Name: "price", Type: "Decimal(18, 6)"},
	{Name: "unit_amount", Type: "Float64"},
	{Name: "unit_base", Type: "LowCardinality(String)"},
	{Name: "unit_period", Type: "LowCardinality(String)"},
	{Name: "unit_modifier", Type: "LowCardinality(String)"},
	{Name: "effective_date", Type: "DateTime64(6)"},
	{Name: "end_date", Type: "DateTime64(6)"},
	{Name: "change_pct", Type: "Nullable(Float64)"},
	{Name: "run_id", Type: "String"},
	{Name: "recorded_at", Type: "DateTime64(6)"},
}

// PriceHistoryEntry captures the final state of a canonical record at the
// moment it was superseded. Exactly one entry exists per deactivation.
type PriceHistoryEntry struct {
	Digest        string          `ch:"digest" json:"digest"`
	Price         decimal.Decimal `ch:"price" json:"price"`
	UnitAmount    float64         `ch:"unit_amount" json:"unit_amount"`
	UnitBase      string          `ch:"unit_base" json:"unit_base"`
	UnitPeriod    string          `ch:"unit_period" json:"unit_period"`
	UnitModifier  string          `ch:"unit_modifier" json:"unit_modifier"`
	EffectiveDate time.Time       `ch:"effective_date" json:"effective_date"`
	EndDate       time.Time       `ch:"end_date" json:"end_date"`
	ChangePct     *float64        `ch:"change_pct" json:"change_pct,omitempty"`
	RunID         string          `ch:"run_id" json:"run_id"`
	RecordedAt    time.Time       `ch:"recorded_at" json:"recorded_at"`
}
