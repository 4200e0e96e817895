package pricing

import (
	"time"
)

const StagingTableName = "staging_prices"

// StagingColumns defines the schema for the staging_prices table.
var StagingColumns = []ColumnDef{
	{Name: "seq", Type: "UInt64"},
	{Name: "run_id", Type: "String"},
	{Name: "provider", Type: "LowCardinality(String)"},
	{Name: "service_code", Type: "String"},
	{Name: "service_name", Type: "String"},
	{Name: "instance_type", Type: "String"},
	{Name: "region", Type: "LowCardinality(String)"},
	{Name: "price_raw", Type: "String"},
	{Name: "unit_raw", Type: "String"},
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
}

// RawPriceObservation is one line of a provider pricing dump, staged verbatim.
// Rows are transient: the table only holds data for the duration of one run
// and is truncated after the run completes. Seq is assigned by the staging
// loader and is the keyset-cursor key for the dedup engine.
type RawPriceObservation struct {
	Seq             uint64    `ch:"seq" json:"seq"`
	RunID           string    `ch:"run_id" json:"run_id"`
	Provider        string    `ch:"provider" json:"provider"`
	ServiceCode     string    `ch:"service_code" json:"service_code"`
	ServiceName     string    `ch:"service_name" json:"service_name"`
	InstanceType    string    `ch:"instance_type" json:"instance_type"`
	Region          string    `ch:"region" json:"region"`
	PriceRaw        string    `ch:"price_raw" json:"price_raw"`
	UnitRaw         string    `ch:"unit_raw" json:"unit_raw"`
	TermType        string    `ch:"term_type" json:"term_type"`
	LeaseLength     string    `ch:"lease_length" json:"lease_length"`
	PurchaseOption  string    `ch:"purchase_option" json:"purchase_option"`
	OperatingSystem string    `ch:"operating_system" json:"operating_system"`
	Tenancy         string    `ch:"tenancy" json:"tenancy"`
	VCPU            uint32    `ch:"vcpu" json:"vcpu"`
	MemoryGB        float64   `ch:"memory_gb" json:"memory_gb"`
	Storage         string    `ch:"storage" json:"storage"`
	Currency        string    `ch:"currency" json:"currency"`
	EffectiveDate   time.Time `ch:"effective_date" json:"effective_date"`
}
