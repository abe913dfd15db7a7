// Package textutil holds small string helpers shared by the transport and payment adapters.
package textutil

import "strings"

// CompactStringMap trims keys and values and drops entries where either is empty. Queue attributes
// and Stripe metadata both treat an empty value as absent, so it is never forwarded.
func CompactStringMap(values map[string]string) map[string]string {
	result := make(map[string]string, len(values))
	for key, value := range values {
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		result[key] = value
	}
	return result
}
