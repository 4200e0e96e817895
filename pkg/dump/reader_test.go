package dump

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeDumpFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dump.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReaderStreamsRows(t *testing.T) {
	path := writeDumpFile(t,
		"service_name,service_code,instance_type,region,price,unit,term_type,vcpu,memory,effective_date\n"+
			"AmazonEC2,AmazonEC2,m5.2xlarge,US East (N. Virginia),0.384,Hrs,OnDemand,8,32 GiB,2026-08-01\n"+
			"AmazonEC2,AmazonEC2,m5.4xlarge,us-east-1,0.768,Hrs,OnDemand,16,64 GiB,2026-08-01\n")

	r, err := Open("aws", path)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	row, err := r.Next("run-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), row.Seq)
	assert.Equal(t, "run-1", row.RunID)
	assert.Equal(t, "aws", row.Provider)
	assert.Equal(t, "m5.2xlarge", row.InstanceType)
	assert.Equal(t, "us-east-1", row.Region)
	assert.Equal(t, "0.384", row.PriceRaw)
	assert.Equal(t, "Hrs", row.UnitRaw)
	assert.Equal(t, uint32(8), row.VCPU)
	assert.Equal(t, 32.0, row.MemoryGB)
	assert.Equal(t, "USD", row.Currency)

	row, err = r.Next("run-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), row.Seq)
	assert.Equal(t, "m5.4xlarge", row.InstanceType)

	_, err = r.Next("run-1")
	assert.Equal(t, io.EOF, err)
}

func TestReaderMalformedRowIsSkippable(t *testing.T) {
	path := writeDumpFile(t,
		"service_name,price,vcpu\n"+
			"AmazonEC2,0.384,not-a-number\n"+
			"AmazonEC2,0.5,4\n")

	r, err := Open("aws", path)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	_, err = r.Next("run-1")
	assert.True(t, errors.Is(err, ErrMalformedRow))

	// The stream continues past the bad row.
	row, err := r.Next("run-1")
	require.NoError(t, err)
	assert.Equal(t, uint32(4), row.VCPU)

	_, err = r.Next("run-1")
	assert.Equal(t, io.EOF, err)
}

func TestReaderMissingRequiredFields(t *testing.T) {
	path := writeDumpFile(t,
		"service_name,price\n"+
			",0.384\n")

	r, err := Open("aws", path)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	_, err = r.Next("run-1")
	assert.True(t, errors.Is(err, ErrMalformedRow))
}

func TestRegionCode(t *testing.T) {
	assert.Equal(t, "us-east-1", RegionCode("US East (N. Virginia)"))
	assert.Equal(t, "eu-central-1", RegionCode("Europe (Frankfurt)"))
	assert.Equal(t, "us-east-1", RegionCode("us-east-1"))
	assert.Equal(t, "custom-region", RegionCode(" custom-region "))
}
