package domain

import "strings"

// Scrub recursively removes null bytes from every string in a decoded JSON
// structure. Postgres rejects \u0000 inside jsonb values, and chat exports
// occasionally contain them.
func Scrub(v any) any {
	switch t := v.(type) {
	case string:
		return strings.ReplaceAll(t, "\x00", "")
	case []any:
		for i, e := range t {
			t[i] = Scrub(e)
		}
		return t
	case map[string]any:
		for k, e := range t {
			t[k] = Scrub(e)
		}
		return t
	}
	return v
}

// ScrubMap is Scrub specialized for the decoded-object case, keeping the
// call sites free of type assertions.
func ScrubMap(m map[string]any) map[string]any {
	Scrub(m)
	return m
}
