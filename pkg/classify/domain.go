// Package classify assigns a coarse domain label to a priced product based on
// its service name and instance type. Classification is total: every input
// maps to exactly one label.
package classify

import (
	"regexp"
	"strings"
)

// Domain is one of the fixed coarse category labels.
type Domain string

const (
	DomainFaaS        Domain = "faas"
	DomainDaaS        Domain = "daas"
	DomainDB          Domain = "db"
	DomainPaaS        Domain = "paas"
	DomainSaaS        Domain = "saas"
	DomainLicense     Domain = "license"
	DomainAccelerated Domain = "accelerated"
	DomainIaaS        Domain = "iaas"
	DomainUtility     Domain = "utility"
	DomainOther       Domain = "other"
)

// Curated service lists. Membership tests run before any structural pattern:
// a service that is nominally storage but whose SKUs look like instance shapes
// must resolve via its list entry, not the shape regex.
var (
	faasServices = stringSet(
		"awslambda",
		"lambda",
		"azure functions",
		"cloud functions",
		"cloud run functions",
		"google cloud functions",
	)

	daasServices = stringSet(
		"amazonworkspaces",
		"workspaces",
		"amazonappstream",
		"appstream",
		"azure virtual desktop",
	)

	dbServices = stringSet(
		"amazonrds",
		"amazondynamodb",
		"amazonelasticache",
		"amazonredshift",
		"amazondocdb",
		"amazonneptune",
		"amazonmemorydb",
		"amazontimestream",
		"cloud sql",
		"cloud spanner",
		"cloud bigtable",
		"azure sql database",
		"azure database for postgresql",
		"azure cosmos db",
	)

	paasServices = stringSet(
		"awselasticbeanstalk",
		"amazonecs",
		"amazoneks",
		"awsfargate",
		"amazonapprunner",
		"app engine",
		"azure app service",
		"azure kubernetes service",
		"google kubernetes engine",
	)

	saasServices = stringSet(
		"amazonchime",
		"amazonconnect",
		"amazonquicksight",
		"amazonworkdocs",
		"amazonworkmail",
		"amazonhoneycode",
	)

	licenseServices = stringSet(
		"awslicensemanager",
		"windows server license",
		"sql server license",
		"red hat enterprise linux",
		"suse linux enterprise server",
	)
)

var acceleratedKeywords = []string{
	"gpu",
	"accelerated",
	"inferentia",
	"trainium",
	"tensor",
	"elastic inference",
}

// Instance families that carry dedicated accelerators.
var acceleratedFamilies = stringSet(
	"p2", "p3", "p4", "p4d", "p5",
	"g3", "g4ad", "g4dn", "g5", "g5g", "g6",
	"inf1", "inf2",
	"trn1", "trn1n",
	"dl1", "dl2q",
	"f1", "vt1",
)

var utilityKeywords = []string{
	"data transfer",
	"datatransfer",
	"snapshot",
	"support",
	"monitoring",
	"backup",
	"cloudwatch",
	"logging",
}

// instanceShapeRe matches provider instance-type shapes like m5.2xlarge,
// t3a.micro, c6gd.metal or r7iz.32xlarge.
var instanceShapeRe = regexp.MustCompile(
	`^[a-z]{1,4}\d[a-z0-9]*\.(nano|micro|small|medium|large|\d*xlarge|metal(?:-\d+xl)?)$`)

// Classify maps a (service name, instance type) pair to its domain label.
// The priority chain is fixed: curated lists, accelerated structural tests,
// the IaaS shape regex, utility keywords, then other. It always returns a
// label.
func Classify(serviceName, instanceType string) Domain {
	service := strings.ToLower(strings.TrimSpace(serviceName))
	instance := strings.ToLower(strings.TrimSpace(instanceType))

	switch {
	case faasServices[service]:
		return DomainFaaS
	case daasServices[service]:
		return DomainDaaS
	case dbServices[service]:
		return DomainDB
	case paasServices[service]:
		return DomainPaaS
	case saasServices[service]:
		return DomainSaaS
	case licenseServices[service]:
		return DomainLicense
	}

	if isAccelerated(service, instance) {
		return DomainAccelerated
	}

	if instanceShapeRe.MatchString(instance) {
		return DomainIaaS
	}

	for _, kw := range utilityKeywords {
		if strings.Contains(service, kw) {
			return DomainUtility
		}
	}

	return DomainOther
}

func isAccelerated(service, instance string) bool {
	for _, kw := range acceleratedKeywords {
		if strings.Contains(service, kw) {
			return true
		}
	}
	if family, _, found := strings.Cut(instance, "."); found {
		return acceleratedFamilies[family]
	}
	return false
}

func stringSet(items ...string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, item := range items {
		set[item] = true
	}
	return set
}
