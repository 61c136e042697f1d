// Package masking redacts credentials before they land in receipts or audit
// metadata. Only a short suffix survives, enough to tell two secrets apart.
package masking

import "strings"

const maskToken = "****"

var knownPrefixes = []string{"Bearer ", "sha256=", "Basic "}

// MaskSecret redacts a secret while keeping the scheme prefix and a minimal
// suffix for correlation.
func MaskSecret(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}

	prefix, remainder := splitPrefix(trimmed)
	if len(remainder) <= 4 {
		return prefix + maskToken
	}
	return prefix + maskToken + remainder[len(remainder)-4:]
}

func splitPrefix(value string) (string, string) {
	for _, prefix := range knownPrefixes {
		if strings.HasPrefix(value, prefix) {
			return prefix, value[len(prefix):]
		}
	}
	return "", value
}
