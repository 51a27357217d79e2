package textutil

import "strings"

// CompactStringMap trims keys and values and drops entries whose key or value ends up empty.
// It returns nil when nothing remains.
func CompactStringMap(values map[string]string) map[string]string {
	result := make(map[string]string, len(values))
	for key, value := range values {
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		result[key] = value
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
