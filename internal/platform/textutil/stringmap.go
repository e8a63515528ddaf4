package textutil

import "strings"

// NormalizeStringMap returns a copy of values with keys and values trimmed.
// Entries whose key trims to empty are dropped, and an empty result collapses
// to nil so callers can test len directly.
func NormalizeStringMap(values map[string]string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	result := make(map[string]string, len(values))
	for key, value := range values {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			continue
		}
		result[trimmedKey] = strings.TrimSpace(value)
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
