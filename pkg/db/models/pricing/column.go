package pricing

import (
	"fmt"
	"strings"
)

// ColumnDef defines a single column for a table. The column lists below are
// the single source of truth for the table schemas created by pkg/db/pricing.
type ColumnDef struct {
	// Name is the column name.
	Name string

	// Type is the ClickHouse data type (e.g., "UInt64", "String", "Decimal(18, 6)").
	Type string

	// Codec is the optional compression codec (e.g., "ZSTD(1)").
	Codec string
}

// SQL returns the full column definition for CREATE TABLE statements.
func (c ColumnDef) SQL() string {
	if c.Codec != "" {
		return fmt.Sprintf("%s %s CODEC(%s)", c.Name, c.Type, c.Codec)
	}
	return fmt.Sprintf("%s %s", c.Name, c.Type)
}

// ColumnsToSchemaSQL converts a list of ColumnDef to a CREATE TABLE schema string.
func ColumnsToSchemaSQL(columns []ColumnDef) string {
	var parts []string
	for _, col := range columns {
		parts = append(parts, col.SQL())
	}
	return strings.Join(parts, ",\n\t\t\t")
}

// ColumnNames returns the comma-separated column list for INSERT statements.
func ColumnNames(columns []ColumnDef) string {
	names := make([]string, 0, len(columns))
	for _, col := range columns {
		names = append(names, col.Name)
	}
	return strings.Join(names, ", ")
}
