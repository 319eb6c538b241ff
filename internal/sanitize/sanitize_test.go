package sanitize

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roniherschmann/go-pulse/internal/domain"
)

func mustValue(t *testing.T, s string) domain.Value {
	t.Helper()
	var v domain.Value
	require.NoError(t, json.Unmarshal([]byte(s), &v))
	return v
}

func mustMap(t *testing.T, s string) map[string]domain.Value {
	t.Helper()
	m, ok := mustValue(t, s).AsMap()
	require.True(t, ok, "expected a JSON object: %s", s)
	return m
}

func newTestSanitizer() *Sanitizer {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return New().WithClock(func() time.Time { return fixed })
}

func TestMetadata_RemovesBlockedKeysAtBothLevels(t *testing.T) {
	in := mustMap(t, `{
		"email": "a@b.c",
		"Phone_Number": "555",
		"label": "pricing",
		"user": {"password": "hunter2", "API-Key": "k", "plan": "pro"}
	}`)

	out := Metadata(in)

	assert.NotContains(t, out, "email")
	assert.NotContains(t, out, "Phone_Number")
	assert.Contains(t, out, "label")

	user, ok := out["user"].AsMap()
	require.True(t, ok)
	assert.NotContains(t, user, "password")
	assert.NotContains(t, user, "API-Key")
	assert.Contains(t, user, "plan")
}

func TestMetadata_TruncatesStringsAndLists(t *testing.T) {
	items := make([]domain.Value, 80)
	for i := range items {
		items[i] = domain.IntValue(int64(i))
	}
	in := map[string]domain.Value{
		"long":  domain.StringValue(strings.Repeat("é", 700)),
		"items": domain.ListValue(items...),
	}

	out := Metadata(in)

	s, _ := out["long"].AsString()
	assert.Equal(t, MaxStringLen, len([]rune(s)))
	list, _ := out["items"].AsList()
	assert.Len(t, list, MaxListLen)
}

func TestMetadata_DropsBeyondDepthOne(t *testing.T) {
	in := mustMap(t, `{
		"click": {"x": 10, "y": 20, "target": {"id": "btn"}},
		"rows": [1, "two", {"three": 3}, [4], true, null]
	}`)

	out := Metadata(in)

	click, ok := out["click"].AsMap()
	require.True(t, ok)
	assert.Contains(t, click, "x")
	assert.NotContains(t, click, "target", "maps at depth 2 are dropped")

	rows, ok := out["rows"].AsList()
	require.True(t, ok)
	assert.Len(t, rows, 4, "non-scalar list elements are dropped")
}

func TestMetadata_ScalarsPassThrough(t *testing.T) {
	in := mustMap(t, `{"n": 12.50, "big": 12345678901234567890, "b": false, "z": null}`)

	out := Metadata(in)

	n, _ := out["n"].AsNumber()
	assert.Equal(t, "12.50", n.String())
	big, _ := out["big"].AsNumber()
	assert.Equal(t, "12345678901234567890", big.String())
	assert.Equal(t, domain.BoolValue(false), out["b"])
	assert.Equal(t, domain.KindNull, out["z"].Kind())
}

func TestMetadata_DropsOverflowingNumbers(t *testing.T) {
	in := mustMap(t, `{"huge": 1e400, "ok": 3, "nested": {"huge": -1e400, "ok": 1.5}, "list": [1, 1e400, "a"]}`)

	out := Metadata(in)

	assert.NotContains(t, out, "huge")
	assert.Contains(t, out, "ok")
	nested, ok := out["nested"].AsMap()
	require.True(t, ok)
	assert.NotContains(t, nested, "huge")
	assert.Contains(t, nested, "ok")
	list, ok := out["list"].AsList()
	require.True(t, ok)
	assert.Len(t, list, 2)

	_, err := json.Marshal(domain.MapValue(out))
	assert.NoError(t, err)
}

func TestMetadata_Idempotent(t *testing.T) {
	in := mustMap(t, `{
		"sessionId": "s1",
		"page": "/",
		"token": "x",
		"text": "`+strings.Repeat("a", 900)+`",
		"nested": {"email": "x", "deep": {"a": 1}, "tags": ["a", {"b": 1}], "ok": 1},
		"list": [1, 2, 3]
	}`)

	once := Metadata(in)
	twice := Metadata(once)

	assert.Equal(t, once, twice)
}

func TestEvent_NoBlockedKeyInOutput(t *testing.T) {
	inputs := []string{
		`{"type":"click","metadata":{"sessionId":"s","page":"/","email":"x","nested":{"EMAIL":"y","ssn":"z"}}}`,
		`{"type":"click","metadata":{"sessionId":"s","page":"/","creditCard":"x","n":{"access_token":"t","deep":{"password":"p"}}}}`,
	}
	s := newTestSanitizer()
	for _, in := range inputs {
		ev, _, ok := s.Event(mustValue(t, in))
		require.True(t, ok)
		for k, v := range ev.Metadata {
			assert.False(t, Blocked(k), "blocked key %q at depth 0", k)
			if m, ok := v.AsMap(); ok {
				for nk := range m {
					assert.False(t, Blocked(nk), "blocked key %q at depth 1", nk)
				}
			}
		}
	}
}

func TestEvent_ExtractsSessionAndPage(t *testing.T) {
	ev, _, ok := newTestSanitizer().Event(mustValue(t,
		`{"type":"click","metadata":{"sessionId":"s1","page":"/","click":{"x":10,"y":20}}}`))

	require.True(t, ok)
	assert.Equal(t, "click", ev.Type)
	assert.Equal(t, "s1", ev.SessionID)
	assert.Equal(t, "/", ev.Page)
	assert.NotEqual(t, [16]byte{}, [16]byte(ev.ID))
	assert.Equal(t, 2026, ev.CreatedAt.Year())
}

func TestEvent_AcceptsSnakeCaseSessionID(t *testing.T) {
	ev, _, ok := newTestSanitizer().Event(mustValue(t,
		`{"type":"page_view","metadata":{"session_id":"s2","page":"/pricing"}}`))

	require.True(t, ok)
	assert.Equal(t, "s2", ev.SessionID)
}

func TestEvent_Drops(t *testing.T) {
	cases := []struct {
		name   string
		raw    string
		reason DropReason
	}{
		{"array item", `[1,2]`, DropNotObject},
		{"missing type", `{"metadata":{"sessionId":"s","page":"/"}}`, DropMissingType},
		{"empty type", `{"type":"","metadata":{"sessionId":"s","page":"/"}}`, DropMissingType},
		{"numeric type", `{"type":7,"metadata":{"sessionId":"s","page":"/"}}`, DropMissingType},
		{"no metadata", `{"type":"click"}`, DropMissingScope},
		{"metadata not a map", `{"type":"click","metadata":"s"}`, DropMissingScope},
		{"no page", `{"type":"click","metadata":{"sessionId":"s"}}`, DropMissingScope},
		{"no session", `{"type":"click","metadata":{"page":"/"}}`, DropMissingScope},
	}
	s := newTestSanitizer()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, reason, ok := s.Event(mustValue(t, tc.raw))
			assert.False(t, ok)
			assert.Equal(t, tc.reason, reason)
		})
	}
}

func TestEvent_SanitizingCleanEventIsStable(t *testing.T) {
	s := newTestSanitizer()
	raw := mustValue(t, `{"type":"scroll","metadata":{"sessionId":"s","page":"/","depth":75,"email":"x","ctx":{"a":{"b":1},"c":"d"}}}`)

	first, _, ok := s.Event(raw)
	require.True(t, ok)

	again := domain.MapValue(map[string]domain.Value{
		"type":     domain.StringValue(first.Type),
		"metadata": domain.MapValue(first.Metadata),
	})
	second, _, ok := s.Event(again)
	require.True(t, ok)

	assert.Equal(t, first.Type, second.Type)
	assert.Equal(t, first.Metadata, second.Metadata)
}

func TestBatch_CapsAtMaxBatch(t *testing.T) {
	raw := make([]domain.Value, 150)
	assert.Len(t, Batch(raw), MaxBatch)
	assert.Len(t, Batch(raw[:3]), 3)
}
