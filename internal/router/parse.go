package router

import (
	"encoding/json"
	"strings"
)

// ExtractNames finds the most plausible JSON string array in raw. Each '['
// is tried from the left against every later ']' (nearest first) and the
// first candidate that decodes as []string wins. Surrounding prose is
// ignored.
func ExtractNames(raw string) ([]string, bool) {
	for start := strings.IndexByte(raw, '['); start >= 0; {
		rest := raw[start:]
		for end := strings.IndexByte(rest, ']'); end >= 0; {
			var names []string
			if err := json.Unmarshal([]byte(rest[:end+1]), &names); err == nil {
				return names, true
			}
			next := strings.IndexByte(rest[end+1:], ']')
			if next < 0 {
				break
			}
			end += next + 1
		}

		next := strings.IndexByte(raw[start+1:], '[')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return nil, false
}

// ParseDecision extracts names from raw and keeps those accepted by valid,
// in order and without duplicates.
func ParseDecision(raw string, valid func(string) bool) ([]string, error) {
	names, ok := ExtractNames(raw)
	if !ok {
		return nil, ErrNoDecision
	}

	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if _, dup := seen[n]; dup || !valid(n) {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	if len(out) == 0 {
		return nil, ErrNoDecision
	}
	return out, nil
}
