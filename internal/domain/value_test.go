package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValue_DecodesEveryKind(t *testing.T) {
	var v Value
	require.NoError(t, json.Unmarshal([]byte(`{"n":null,"b":true,"num":1.50,"s":"hi","l":[1,"a"],"m":{"k":2}}`), &v))

	require.Equal(t, KindMap, v.Kind())
	kinds := map[string]Kind{"n": KindNull, "b": KindBool, "num": KindNumber, "s": KindString, "l": KindList, "m": KindMap}
	for key, want := range kinds {
		child, ok := v.Get(key)
		require.True(t, ok, key)
		assert.Equal(t, want, child.Kind(), key)
	}

	num, _ := v.Get("num")
	n, ok := num.AsNumber()
	assert.True(t, ok)
	assert.Equal(t, json.Number("1.50"), n)
}

func TestValue_EncodesSortedAndExact(t *testing.T) {
	v := MapValue(map[string]Value{
		"z": NumberValue("10.000"),
		"a": ListValue(StringValue("x"), NullValue(), BoolValue(false)),
		"m": IntValue(-3),
	})

	out, err := json.Marshal(v)

	require.NoError(t, err)
	assert.Equal(t, `{"a":["x",null,false],"m":-3,"z":10.000}`, string(out))
}

func TestValue_RoundTrip(t *testing.T) {
	in := `{"click":{"x":10,"y":20.5},"labels":["a","b"],"page":"/","ok":true}`
	var v Value
	require.NoError(t, json.Unmarshal([]byte(in), &v))

	out, err := json.Marshal(v)

	require.NoError(t, err)
	assert.JSONEq(t, in, string(out))
}

func TestValue_RejectsInvalidNumber(t *testing.T) {
	_, err := json.Marshal(NumberValue("NaN"))
	assert.Error(t, err)
}

func TestValue_Accessors(t *testing.T) {
	s := StringValue("x")
	_, ok := s.AsNumber()
	assert.False(t, ok)
	_, ok = s.Get("k")
	assert.False(t, ok)
	assert.True(t, s.IsScalar())
	assert.True(t, NullValue().IsScalar())
	assert.False(t, ListValue().IsScalar())
	assert.False(t, MapValue(nil).IsScalar())

	m, ok := MapValue(nil).AsMap()
	assert.True(t, ok)
	assert.NotNil(t, m)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "map", fmt.Sprint(KindMap))
}

func TestEvent_MetadataJSON(t *testing.T) {
	ev := Event{Metadata: map[string]Value{"page": StringValue("/"), "depth": IntValue(40)}}

	out, err := ev.MetadataJSON()

	require.NoError(t, err)
	assert.Equal(t, `{"depth":40,"page":"/"}`, string(out))
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "héll", TruncateRunes("héllo", 4))
	assert.Equal(t, "héllo", TruncateRunes("héllo", 5))
	assert.Equal(t, "", TruncateRunes("abc", 0))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindValidation, KindOf(ErrUnknownMetric))
	wrapped := fmt.Errorf("resolve: %w", NewError(KindForbidden, "no", nil))
	assert.Equal(t, KindForbidden, KindOf(wrapped))
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))

	cause := errors.New("dial tcp: refused")
	err := NewError(KindSourceUnavailable, "source unavailable", cause)
	assert.Equal(t, "source unavailable", err.Error())
	assert.ErrorIs(t, err, cause)
}
