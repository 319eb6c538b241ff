// Package sanitize turns untrusted client payloads into bounded events that
// are safe to store.
package sanitize

import (
	"strings"

	"github.com/roniherschmann/go-pulse/internal/domain"
)

// Payload bounds.
const (
	MaxBatch     = 100
	MaxStringLen = 500
	MaxListLen   = 50
)

// blocklist holds normalized field names that must never be stored.
var blocklist = map[string]struct{}{
	"email":         {},
	"emailaddress":  {},
	"mail":          {},
	"phone":         {},
	"phonenumber":   {},
	"mobile":        {},
	"tel":           {},
	"password":      {},
	"passwd":        {},
	"pwd":           {},
	"secret":        {},
	"token":         {},
	"accesstoken":   {},
	"refreshtoken":  {},
	"idtoken":       {},
	"apikey":        {},
	"authorization": {},
	"auth":          {},
	"cookie":        {},
	"session":       {},
	"creditcard":    {},
	"cardnumber":    {},
	"cvv":           {},
	"iban":          {},
	"ssn":           {},
	"address":       {},
	"streetaddress": {},
	"firstname":     {},
	"lastname":      {},
	"fullname":      {},
	"ip":            {},
	"ipaddress":     {},
	"userid":        {},
}

// Blocked reports whether key names a sensitive field. Matching ignores case,
// underscores, dashes and dots.
func Blocked(key string) bool {
	_, ok := blocklist[normalizeKey(key)]
	return ok
}

func normalizeKey(key string) string {
	var b strings.Builder
	b.Grow(len(key))
	for _, r := range strings.ToLower(key) {
		switch r {
		case '_', '-', '.', ' ':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Metadata cleans a top-level metadata map. Blocklisted keys are removed,
// strings and lists are bounded, and nested maps are cleaned one level deep.
// Anything deeper is dropped.
func Metadata(in map[string]domain.Value) map[string]domain.Value {
	return cleanMap(in, 0)
}

// depth is 0 for the top-level metadata map and 1 for a map nested in it.
func cleanMap(in map[string]domain.Value, depth int) map[string]domain.Value {
	out := make(map[string]domain.Value, len(in))
	for k, v := range in {
		if Blocked(k) {
			continue
		}
		if cleaned, ok := cleanValue(v, depth); ok {
			out[k] = cleaned
		}
	}
	return out
}

func cleanValue(v domain.Value, depth int) (domain.Value, bool) {
	switch v.Kind() {
	case domain.KindNull, domain.KindBool:
		return v, true
	case domain.KindNumber:
		n, _ := v.AsNumber()
		return v, domain.ValidNumber(n)
	case domain.KindString:
		s, _ := v.AsString()
		return domain.StringValue(domain.TruncateRunes(s, MaxStringLen)), true
	case domain.KindList:
		items, _ := v.AsList()
		return cleanList(items), true
	case domain.KindMap:
		if depth >= 1 {
			return domain.Value{}, false
		}
		m, _ := v.AsMap()
		return domain.MapValue(cleanMap(m, depth+1)), true
	default:
		return domain.Value{}, false
	}
}

// cleanList keeps the first MaxListLen elements and drops non-scalar ones
// and numbers out of float64 range.
func cleanList(items []domain.Value) domain.Value {
	if len(items) > MaxListLen {
		items = items[:MaxListLen]
	}
	out := make([]domain.Value, 0, len(items))
	for _, item := range items {
		if !item.IsScalar() {
			continue
		}
		if cleaned, ok := cleanValue(item, 1); ok {
			out = append(out, cleaned)
		}
	}
	return domain.ListValue(out...)
}
