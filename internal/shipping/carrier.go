// Package shipping classifies tracking numbers by carrier from their
// format alone. Pure and stateless; no carrier API calls.
package shipping

import (
	"regexp"
	"strings"
)

const (
	CarrierUPS     = "ups"
	CarrierUSPS    = "usps"
	CarrierFedEx   = "fedex"
	CarrierDHL     = "dhl"
	CarrierUnknown = "unknown"
)

// Patterns are checked in order; the more distinctive formats come first so
// the generic all-digit ones cannot shadow them.
var carrierPatterns = []struct {
	carrier string
	re      *regexp.Regexp
}{
	{CarrierUPS, regexp.MustCompile(`^1Z[0-9A-Z]{8,16}$`)},
	{CarrierUSPS, regexp.MustCompile(`^(9[2-5])[0-9]{18,24}$`)},
	{CarrierFedEx, regexp.MustCompile(`^[0-9]{12}([0-9]{3})?$`)},
	{CarrierDHL, regexp.MustCompile(`^[0-9]{10}$`)},
}

// DetectCarrier returns the carrier code for a tracking number, or
// CarrierUnknown when the format matches none of the known shapes.
func DetectCarrier(trackingNumber string) string {
	tn := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(trackingNumber), " ", ""))
	if tn == "" {
		return CarrierUnknown
	}
	for _, p := range carrierPatterns {
		if p.re.MatchString(tn) {
			return p.carrier
		}
	}
	return CarrierUnknown
}
