package dump

import "strings"

// regionCodes maps the human-readable region names used in provider pricing
// dumps back to their region codes. Rows that already carry a code pass
// through untouched.
var regionCodes = map[string]string{
	"us east (n. virginia)":      "us-east-1",
	"us east (ohio)":             "us-east-2",
	"us west (n. california)":    "us-west-1",
	"us west (oregon)":           "us-west-2",
	"canada (central)":           "ca-central-1",
	"europe (ireland)":           "eu-west-1",
	"europe (london)":            "eu-west-2",
	"europe (paris)":             "eu-west-3",
	"europe (frankfurt)":         "eu-central-1",
	"europe (stockholm)":         "eu-north-1",
	"asia pacific (singapore)":   "ap-southeast-1",
	"asia pacific (sydney)":      "ap-southeast-2",
	"asia pacific (tokyo)":       "ap-northeast-1",
	"asia pacific (seoul)":       "ap-northeast-2",
	"asia pacific (mumbai)":      "ap-south-1",
	"south america (sao paulo)":  "sa-east-1",
	"south america (são paulo)":  "sa-east-1",
	"aws govcloud (us-west)":     "us-gov-west-1",
	"aws govcloud (us-east)":     "us-gov-east-1",
}

// RegionCode normalizes a region value from a dump row to a region code.
func RegionCode(raw string) string {
	if code, ok := regionCodes[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return code
	}
	return strings.TrimSpace(raw)
}
