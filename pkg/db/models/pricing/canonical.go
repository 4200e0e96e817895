package pricing

import (
	"time"

	"github.com/shopspring/decimal"
)

const CanonicalTableName = "canonical_prices"

// CanonicalColumns defines the schema for the canonical_prices table.
// The table is a ReplacingMergeTree versioned by updated_at: deactivating a
// record means re-inserting it with is_active=0 and a bumped version, so the
// superseded version and its replacement travel in one atomic insert block.
var CanonicalColumns = []ColumnDef{
	{Name: "digest", Type: "String"},
	{Name: "provider", Type: "LowCardinality(String)"},
	{Name: "service_code", Type: "String"},
	{Name: "service_name", Type: "String"},
	{Name: "instance_type", Type: "String"},
	{Name: "region", Type: "LowCardinality(String)"},
	{Name: "domain", Type: "LowCardinality(String)"},
	{Name: "price", Type: "Decimal(18, 6)"},
	{Name: "unit_amount", Type: "Float64"},
	{Name: "unit_base", Type: "LowCardinality(String)"},
	{Name: "unit_period", Type: "LowCardinality(String)"},
	{Name: "unit_modifier", Type: "LowCardinality(String)"},
	{Name: "unit_notes", Type: "String"},
	{Name: "term_type", Type: "LowCardinality(String)"},
	{Name: "lease_length", Type: "LowCardinality(String)"},
	{Name: "purchase_option", Type: "LowCardinality(String)"},
	{Name: "operating_system", Type: "LowCardinality(String)"},
	{Name: "tenancy", Type: "LowCardinality(String)"},
	{Name: "vcpu", Type: "UInt32"},
	{Name: "memory_gb", Type: "Float64"},
	{Name: "storage", Type: "String"},
	{Name: "currency", Type: "LowCardinality(String)"},
	{Name: "effective_date", Type: "DateTime64(6)"},
	{Name: "end_date", Type: "Nullable(DateTime64(6))"},
	{Name: "is_active", Type: "UInt8"},
	{Name: "run_id", Type: "String"},
	{Name: "updated_at", Type: "DateTime64(6)"},
}

// CanonicalPriceRecord is the durable representation of one priced product at
// one point in time. Digest is the dedup key derived from the product's
// immutable attributes; at most one row per digest has IsActive set.
type CanonicalPriceRecord struct {
	Digest          string          `ch:"digest" json:"digest"`
	Provider        string          `ch:"provider" json:"provider"`
	ServiceCode     string          `ch:"service_code" json:"service_code"`
	ServiceName     string          `ch:"service_name" json:"service_name"`
	InstanceType    string          `ch:"instance_type" json:"instance_type"`
	Region          string          `ch:"region" json:"region"`
	Domain          string          `ch:"domain" json:"domain"`
	Price           decimal.Decimal `ch:"price" json:"price"`
	UnitAmount      float64         `ch:"unit_amount" json:"unit_amount"`
	UnitBase        string          `ch:"unit_base" json:"unit_base"`
	UnitPeriod      string          `ch:"unit_period" json:"unit_period"`
	UnitModifier    string          `ch:"unit_modifier" json:"unit_modifier"`
	UnitNotes       string          `ch:"unit_notes" json:"unit_notes"`
	TermType        string          `ch:"term_type" json:"term_type"`
	LeaseLength     string          `ch:"lease_length" json:"lease_length"`
	PurchaseOption  string          `ch:"purchase_option" json:"purchase_option"`
	OperatingSystem string          `ch:"operating_system" json:"operating_system"`
	Tenancy         string          `ch:"tenancy" json:"tenancy"`
	VCPU            uint32          `ch:"vcpu" json:"vcpu"`
	MemoryGB        float64         `ch:"memory_gb" json:"memory_gb"`
	Storage         string          `ch:"storage" json:"storage"`
	Currency        string          `ch:"currency" json:"currency"`
	EffectiveDate   time.Time       `ch:"effective_date" json:"effective_date"`
	EndDate         *time.Time      `ch:"end_date" json:"end_date,omitempty"`
	IsActive        uint8           `ch:"is_active" json:"is_active"`
	RunID           string          `ch:"run_id" json:"run_id"`
	UpdatedAt       time.Time       `ch:"updated_at" json:"updated_at"`
}

// SameNormalizedContent reports whether two records carry the same normalized
// content for dedup purposes. Comparison is field-level over the normalized
// record, not over the raw payload: raw-payload noise must not churn history,
// while any change to price, unit, shape, domain or term fields must.
func (r *CanonicalPriceRecord) SameNormalizedContent(other *CanonicalPriceRecord) bool {
	return r.Price.Equal(other.Price) &&
		r.UnitAmount == other.UnitAmount &&
		r.UnitBase == other.UnitBase &&
		r.UnitPeriod == other.UnitPeriod &&
		r.UnitModifier == other.UnitModifier &&
		r.Domain == other.Domain &&
		r.ServiceName == other.ServiceName &&
		r.OperatingSystem == other.OperatingSystem &&
		r.Tenancy == other.Tenancy &&
		r.VCPU == other.VCPU &&
		r.MemoryGB == other.MemoryGB &&
		r.Storage == other.Storage &&
		r.Currency == other.Currency &&
		r.TermType == other.TermType &&
		r.LeaseLength == other.LeaseLength &&
		r.PurchaseOption == other.PurchaseOption
}
