package pricing

import "time"

const RunTableName = "run_records"

// Run lifecycle states. A run moves staging -> normalizing -> materializing
// and terminates in exactly one of done, degraded or failed.
const (
	RunStatusStaging       = "staging"
	RunStatusNormalizing   = "normalizing"
	RunStatusMaterializing = "materializing"
	RunStatusDone          = "done"
	RunStatusDegraded      = "degraded"
	RunStatusFailed        = "failed"
)

// RunColumns defines the schema for the run_records table.
// ReplacingMergeTree keyed by run_id: status transitions re-insert the row
// with a bumped updated_at and the latest version wins on read.
var RunColumns = []ColumnDef{
	{Name: "run_id", Type: "String"},
	{Name: "status", Type: "LowCardinality(String)"},
	{Name: "provider", Type: "LowCardinality(String)"},
	{Name: "started_at", Type: "DateTime64(6)"},
	{Name: "finished_at", Type: "Nullable(DateTime64(6))"},
	{Name: "staged_rows", Type: "UInt64"},
	{Name: "malformed_rows", Type: "UInt64"},
	{Name: "inserted", Type: "UInt64"},
	{Name: "skipped", Type: "UInt64"},
	{Name: "superseded", Type: "UInt64"},
	{Name: "features_written", Type: "UInt64"},
	{Name: "online_failures", Type: "UInt64"},
	{Name: "error", Type: "String"},
	{Name: "updated_at", Type: "DateTime64(6)"},
}

// RunRecord is the persisted audit trail of one pipeline run.
type RunRecord struct {
	RunID           string     `ch:"run_id" json:"run_id"`
	Status          string     `ch:"status" json:"status"`
	Provider        string     `ch:"provider" json:"provider"`
	StartedAt       time.Time  `ch:"started_at" json:"started_at"`
	FinishedAt      *time.Time `ch:"finished_at" json:"finished_at,omitempty"`
	StagedRows      uint64     `ch:"staged_rows" json:"staged_rows"`
	MalformedRows   uint64     `ch:"malformed_rows" json:"malformed_rows"`
	Inserted        uint64     `ch:"inserted" json:"inserted"`
	Skipped         uint64     `ch:"skipped" json:"skipped"`
	Superseded      uint64     `ch:"superseded" json:"superseded"`
	FeaturesWritten uint64     `ch:"features_written" json:"features_written"`
	OnlineFailures  uint64     `ch:"online_failures" json:"online_failures"`
	Error           string     `ch:"error" json:"error,omitempty"`
	UpdatedAt       time.Time  `ch:"updated_at" json:"updated_at"`
}

// Running reports whether the run holds a non-terminal status.
func (r *RunRecord) Running() bool {
	switch r.Status {
	case RunStatusDone, RunStatusDegraded, RunStatusFailed:
		return false
	default:
		return true
	}
}
