package dump

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	models "github.com/stratocost/pricefeed/pkg/db/models/pricing"
)

// ErrMalformedRow marks a row that could not be parsed. Callers count and
// skip these; they never abort the stream.
var ErrMalformedRow = errors.New("malformed dump row")

// Reader streams RawPriceObservation values from a decompressed CSV dump.
// Rows are materialized one at a time; the file is never loaded into memory.
type Reader struct {
	provider string
	file     *os.File
	csv      *csv.Reader
	columns  map[string]int
	seq      uint64
}

// Open opens a dump file and reads its header row. Column order is
// provider-defined; fields are located by header name.
func Open(provider, path string) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dump: %w", err)
	}

	cr := csv.NewReader(file)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("read dump header: %w", err)
	}

	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[normalizeHeader(name)] = i
	}

	return &Reader{
		provider: provider,
		file:     file,
		csv:      cr,
		columns:  columns,
	}, nil
}

// Next returns the next observation. It returns io.EOF at end of stream and
// an error wrapping ErrMalformedRow for individually bad rows.
func (r *Reader) Next(runID string) (*models.RawPriceObservation, error) {
	record, err := r.csv.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		// csv.Reader recovers on the next line after a quote/field error.
		return nil, fmt.Errorf("%w: %v", ErrMalformedRow, err)
	}

	r.seq++
	row := &models.RawPriceObservation{
		Seq:             r.seq,
		RunID:           runID,
		Provider:        r.provider,
		ServiceCode:     r.field(record, "service_code", "servicecode"),
		ServiceName:     r.field(record, "service_name", "servicename", "product_family"),
		InstanceType:    r.field(record, "instance_type", "instancetype", "sku"),
		Region:          RegionCode(r.field(record, "region", "location")),
		PriceRaw:        r.field(record, "price", "price_per_unit", "priceperunit"),
		UnitRaw:         r.field(record, "unit", "price_unit", "unitofmeasure"),
		TermType:        r.field(record, "term_type", "termtype"),
		LeaseLength:     r.field(record, "lease_length", "leasecontractlength"),
		PurchaseOption:  r.field(record, "purchase_option", "purchaseoption"),
		OperatingSystem: r.field(record, "operating_system", "operatingsystem"),
		Tenancy:         r.field(record, "tenancy"),
		Storage:         r.field(record, "storage"),
		Currency:        r.field(record, "currency"),
	}

	if row.ServiceName == "" || row.PriceRaw == "" {
		return nil, fmt.Errorf("%w: missing service name or price (line %d)", ErrMalformedRow, r.seq)
	}
	if row.Currency == "" {
		row.Currency = "USD"
	}

	if raw := r.field(record, "vcpu"); raw != "" {
		vcpu, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: bad vcpu %q (line %d)", ErrMalformedRow, raw, r.seq)
		}
		row.VCPU = uint32(vcpu)
	}

	if raw := r.field(record, "memory_gb", "memory"); raw != "" {
		row.MemoryGB, err = parseMemoryGB(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: bad memory %q (line %d)", ErrMalformedRow, raw, r.seq)
		}
	}

	row.EffectiveDate, err = parseEffectiveDate(r.field(record, "effective_date", "effectivedate"))
	if err != nil {
		return nil, fmt.Errorf("%w: bad effective date (line %d): %v", ErrMalformedRow, r.seq, err)
	}

	return row, nil
}

// Close releases the underlying file.
func (r *Reader) Close() error {
	return r.file.Close()
}

func (r *Reader) field(record []string, names ...string) string {
	for _, name := range names {
		if idx, ok := r.columns[name]; ok && idx < len(record) {
			return strings.TrimSpace(record[idx])
		}
	}
	return ""
}

func normalizeHeader(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = strings.ReplaceAll(s, " ", "_")
	return s
}

// parseMemoryGB handles both bare numbers and AWS-style "32 GiB" strings.
func parseMemoryGB(raw string) (float64, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimSuffix(s, "GiB")
	s = strings.TrimSuffix(s, "GB")
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "NA") {
		return 0, nil
	}
	return strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
}

// parseEffectiveDate accepts the date layouts seen across provider dumps and
// falls back to the current time when the column is absent.
func parseEffectiveDate(raw string) (time.Time, error) {
	if raw == "" {
		return time.Now().UTC(), nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", raw)
}
