package scope

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueOf_Conversions(t *testing.T) {
	tests := []struct {
		name string
		in   any
		kind Kind
	}{
		{"nil", nil, KindNull},
		{"bool", true, KindBool},
		{"int", 7, KindNumber},
		{"uint64", uint64(7), KindNumber},
		{"float32", float32(1.5), KindNumber},
		{"json number", json.Number("12.5"), KindNumber},
		{"string", "hi", KindString},
		{"string slice", []string{"a", "b"}, KindList},
		{"any slice", []any{1, "x", nil}, KindList},
		{"string map", map[string]string{"a": "b"}, KindMap},
		{"nested", map[string]any{"a": []any{map[string]any{"b": false}}}, KindMap},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := ValueOf(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, v.Kind())
		})
	}
}

func TestValueOf_Rejects(t *testing.T) {
	for name, in := range map[string]any{
		"channel":         make(chan int),
		"func":            func() {},
		"nan":             math.NaN(),
		"nested inf":      map[string]any{"x": []any{math.Inf(-1)}},
		"struct":          struct{ A int }{1},
		"bad json number": json.Number("1e"),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ValueOf(in)
			assert.ErrorIs(t, err, ErrInvalidValue)
		})
	}
}

func TestValue_JSON(t *testing.T) {
	v := MustValue(map[string]any{
		"name":  "pixel",
		"ram":   8,
		"flags": []any{true, nil, "x"},
	})

	data, err := json.Marshal(v)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"pixel","ram":8,"flags":[true,null,"x"]}`, string(data))

	var back Value
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, back.Equal(v))

	_, err = json.Marshal(Number(math.NaN()))
	assert.Error(t, err)
}

func TestValue_CloneIsDeep(t *testing.T) {
	inner := map[string]Value{"a": Int(1)}
	v := Map(inner)
	inner["a"] = Int(2)

	got, ok := v.AsMap()
	require.True(t, ok)
	assert.True(t, got["a"].Equal(Int(1)))

	got["a"] = Int(3)
	again, _ := v.AsMap()
	assert.True(t, again["a"].Equal(Int(1)))
}

func TestLevel_TextRoundTrip(t *testing.T) {
	for _, l := range []Level{LevelNone, LevelDebug, LevelInfo, LevelWarning, LevelError, LevelFatal} {
		text, err := l.MarshalText()
		require.NoError(t, err)

		var back Level
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, l, back)
	}

	l, err := ParseLevel("warn")
	require.NoError(t, err)
	assert.Equal(t, LevelWarning, l)

	_, err = ParseLevel("loud")
	assert.ErrorIs(t, err, ErrInvalidValue)
	assert.True(t, LevelDebug < LevelFatal)
}
