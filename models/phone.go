package models

import "strings"

// PhoneSuffix strips every non-digit character and returns the last 9
// digits. Phone formats are never canonicalized anywhere in the
// system, so suffix equality is the matching strategy throughout:
// unsubscribe checks, inbound sender matching. This is a deliberate
// heuristic, not E.164 normalization; it tolerates country-code and
// formatting variance at the cost of rare false positives on short
// numbers.
func PhoneSuffix(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) > 9 {
		return digits[len(digits)-9:]
	}
	return digits
}
