package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyCuratedLists(t *testing.T) {
	tests := []struct {
		service  string
		instance string
		want     Domain
	}{
		{"AWSLambda", "", DomainFaaS},
		{"AmazonWorkSpaces", "", DomainDaaS},
		{"AmazonRDS", "db.m5.large", DomainDB},
		{"AmazonDynamoDB", "", DomainDB},
		{"AmazonEKS", "", DomainPaaS},
		{"AmazonConnect", "", DomainSaaS},
		{"AWSLicenseManager", "", DomainLicense},
	}

	for _, tc := range tests {
		t.Run(tc.service, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.service, tc.instance))
		})
	}
}

func TestClassifyIaaSShapes(t *testing.T) {
	for _, instance := range []string{
		"m5.2xlarge",
		"t3a.micro",
		"c6gd.metal",
		"r7iz.32xlarge",
		"m7g.large",
	} {
		assert.Equal(t, DomainIaaS, Classify("AmazonEC2", instance), "instance=%q", instance)
	}
}

func TestClassifyAccelerated(t *testing.T) {
	assert.Equal(t, DomainAccelerated, Classify("AmazonEC2", "p4d.24xlarge"))
	assert.Equal(t, DomainAccelerated, Classify("AmazonEC2", "g5.xlarge"))
	assert.Equal(t, DomainAccelerated, Classify("GPU Compute", ""))
	assert.Equal(t, DomainAccelerated, Classify("Elastic Inference", ""))
}

func TestClassifyUtility(t *testing.T) {
	assert.Equal(t, DomainUtility, Classify("AWS Data Transfer", ""))
	assert.Equal(t, DomainUtility, Classify("EBS Snapshot Storage", ""))
	assert.Equal(t, DomainUtility, Classify("AmazonCloudWatch Monitoring", ""))
}

// Curated list membership outranks the shape regex. RDS SKUs look like
// instance shapes but must still classify as managed database.
func TestClassifyListOutranksShape(t *testing.T) {
	assert.Equal(t, DomainDB, Classify("AmazonRDS", "m5.2xlarge"))
}

func TestClassifyAcceleratedOutranksShape(t *testing.T) {
	// p4d.24xlarge matches the generic shape regex too; the accelerated
	// family test runs first.
	assert.Equal(t, DomainAccelerated, Classify("AmazonEC2", "p4d.24xlarge"))
}

func TestClassifyTotality(t *testing.T) {
	known := map[Domain]bool{
		DomainFaaS: true, DomainDaaS: true, DomainDB: true, DomainPaaS: true,
		DomainSaaS: true, DomainLicense: true, DomainAccelerated: true,
		DomainIaaS: true, DomainUtility: true, DomainOther: true,
	}

	inputs := [][2]string{
		{"", ""},
		{"AmazonEC2", "m5.2xlarge"},
		{"совершенно неизвестный", "???"},
		{"AmazonS3", ""},
		{"x", "y"},
		{"AWSLambda", "m5.2xlarge"},
	}
	for _, in := range inputs {
		got := Classify(in[0], in[1])
		assert.True(t, known[got], "Classify(%q, %q) = %q", in[0], in[1], got)
	}
}

func TestClassifyFallbackOther(t *testing.T) {
	assert.Equal(t, DomainOther, Classify("AmazonS3", ""))
	assert.Equal(t, DomainOther, Classify("", ""))
}

// The headline scenario: a plain EC2 on-demand row.
func TestClassifyEC2OnDemand(t *testing.T) {
	assert.Equal(t, DomainIaaS, Classify("AmazonEC2", "m5.2xlarge"))
}
