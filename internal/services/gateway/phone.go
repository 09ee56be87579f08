package gateway

import "strings"

// NormalizePhone best-effort converts a user-entered number into the
// international MSISDN form providers expect: digits only, no dialing
// prefix, country calling code in front. A bare 10-digit number is assumed
// to be local and gets the default country code prepended. Numbers that
// already start with the country code are left alone. Anything else passes
// through as-is; the provider will reject what it cannot route.
func NormalizePhone(raw, defaultCountryCode string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	// "00" international dialing prefix ("+" was already dropped above)
	digits = strings.TrimPrefix(digits, "00")

	if strings.HasPrefix(digits, defaultCountryCode) && len(digits) > len(defaultCountryCode) {
		return digits
	}
	if len(digits) == 10 {
		return defaultCountryCode + digits
	}
	return digits
}
