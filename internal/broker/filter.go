package broker

import (
	"fmt"
	"strings"
)

// Filter is a conjunction of per-field set-membership tests over the payload:
// {"country": ["BR", "US"]} matches payloads whose "country" equals one of the
// listed values. A nil or empty filter matches everything. This is the whole
// grammar; operators like $gt are deliberately unsupported.
type Filter map[string][]any

// SanitizeFilter validates the filter structure and strips control characters
// from string keys and values. Allowed element types are strings, numbers,
// and booleans; null and nested values are rejected.
func SanitizeFilter(f Filter) (Filter, error) {
	if len(f) == 0 {
		return f, nil
	}
	sanitized := make(Filter, len(f))
	for key, values := range f {
		if values == nil {
			return nil, InvalidArgument(fmt.Sprintf("filter field %q: values must be an array of strings, numbers, or booleans", key))
		}
		cleanValues := make([]any, 0, len(values))
		for _, v := range values {
			switch tv := v.(type) {
			case string:
				cleanValues = append(cleanValues, stripControlChars(tv))
			case float64, bool, int, int64:
				cleanValues = append(cleanValues, tv)
			default:
				return nil, InvalidArgument(fmt.Sprintf("filter field %q: values must be strings, numbers, or booleans", key))
			}
		}
		sanitized[stripControlChars(key)] = cleanValues
	}
	return sanitized, nil
}

// Matches evaluates the filter against a decoded payload: every filter key
// must be present in the payload and equal at least one allowed value under
// JSON equality. This mirrors the jsonb comparison the publish statement
// performs server-side; it exists for validation and tests.
func (f Filter) Matches(payload map[string]any) bool {
	if len(f) == 0 {
		return true
	}
	for key, allowed := range f {
		got, ok := payload[key]
		if !ok {
			return false
		}
		matched := false
		for _, want := range allowed {
			if jsonEqual(got, want) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

// jsonEqual compares two decoded JSON scalars: numbers numerically,
// strings and booleans literally. Mixed types never match.
func jsonEqual(a, b any) bool {
	if na, aok := asFloat(a); aok {
		nb, bok := asFloat(b)
		return bok && na == nb
	}
	switch ta := a.(type) {
	case string:
		tb, ok := b.(string)
		return ok && ta == tb
	case bool:
		tb, ok := b.(bool)
		return ok && ta == tb
	}
	return false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// stripControlChars removes null bytes and control characters other than
// newline and tab, matching the API's input sanitation rules.
func stripControlChars(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
}
