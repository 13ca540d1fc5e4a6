package ir

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIRValueSealed(t *testing.T) {
	var _ IRValue = IRNull{}
	var _ IRValue = IRString("test")
	var _ IRValue = IRInt(42)
	var _ IRValue = IRBool(true)
	var _ IRValue = IRArray{IRString("a"), IRInt(1)}
	var _ IRValue = IRObject{"key": IRString("value")}
}

func TestSortedKeysUTF16Order(t *testing.T) {
	// U+FF61 is a single UTF-16 unit; U+1F600 is a surrogate pair starting at 0xD83D.
	// UTF-8 byte order would put the emoji last, UTF-16 order puts it first.
	obj := IRObject{
		"｡":     IRInt(1),
		"\U0001F600": IRInt(2),
		"a":          IRInt(3),
	}
	assert.Equal(t, []string{"a", "\U0001F600", "｡"}, obj.SortedKeys())
}

func TestCloneIsDeep(t *testing.T) {
	orig := IRObject{
		"id":   IRString("1"),
		"tags": IRArray{IRString("x")},
		"meta": IRObject{"n": IRInt(1)},
	}
	clone := orig.Clone()
	clone["tags"].(IRArray)[0] = IRString("changed")
	clone["meta"].(IRObject)["n"] = IRInt(2)
	clone["id"] = IRString("2")

	assert.Equal(t, IRString("x"), orig["tags"].(IRArray)[0])
	assert.Equal(t, IRInt(1), orig["meta"].(IRObject)["n"])
	assert.Equal(t, IRString("1"), orig["id"])
	assert.Nil(t, IRObject(nil).Clone())
}

func TestMerge(t *testing.T) {
	base := IRObject{"a": IRInt(1), "b": IRInt(2)}
	merged := base.Merge(IRObject{"b": IRInt(3), "_": IRBool(true)})

	assert.Equal(t, IRObject{"a": IRInt(1), "b": IRInt(3), "_": IRBool(true)}, merged)
	assert.Equal(t, IRInt(2), base["b"], "receiver must not change")

	fromNil := IRObject(nil).Merge(IRObject{"x": IRInt(1)})
	assert.Equal(t, IRObject{"x": IRInt(1)}, fromNil)
}

func TestEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b IRValue
		want bool
	}{
		{"same string", IRString("a"), IRString("a"), true},
		{"different kinds", IRString("1"), IRInt(1), false},
		{"nil equals null", nil, IRNull{}, true},
		{"arrays", IRArray{IRInt(1)}, IRArray{IRInt(1)}, true},
		{"array length", IRArray{IRInt(1)}, IRArray{}, false},
		{"objects", IRObject{"a": IRBool(true)}, IRObject{"a": IRBool(true)}, true},
		{"object missing key", IRObject{"a": IRNull{}}, IRObject{"b": IRNull{}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Equal(tt.a, tt.b))
		})
	}
}

func TestStr(t *testing.T) {
	rec := IRObject{"id": IRString("t-1"), "n": IRInt(3)}

	id, ok := rec.Str("id")
	assert.True(t, ok)
	assert.Equal(t, "t-1", id)

	_, ok = rec.Str("n")
	assert.False(t, ok)
	_, ok = rec.Str("missing")
	assert.False(t, ok)
	assert.True(t, rec.Has("n"))
}

func TestParseObject(t *testing.T) {
	rec, err := ParseObject([]byte(`{"id":"t-1","count":9007199254740993,"done":false,"note":null,"tags":["a"]}`))
	require.NoError(t, err)

	assert.Equal(t, IRString("t-1"), rec["id"])
	assert.Equal(t, IRInt(9007199254740993), rec["count"], "large ints keep precision")
	assert.Equal(t, IRBool(false), rec["done"])
	assert.Equal(t, IRNull{}, rec["note"])
	assert.Equal(t, IRArray{IRString("a")}, rec["tags"])
}

func TestParseObjectErrors(t *testing.T) {
	_, err := ParseObject([]byte(`{"price":1.5}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "floats are not allowed")

	_, err = ParseObject([]byte(`[1,2]`))
	require.Error(t, err)

	_, err = ParseObject([]byte(`{`))
	require.Error(t, err)
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		in   string
		want IRValue
	}{
		{`"open"`, IRString("open")},
		{`2`, IRInt(2)},
		{`true`, IRBool(true)},
		{`null`, IRNull{}},
		{`[1,"a"]`, IRArray{IRInt(1), IRString("a")}},
		{`{"k":1}`, IRObject{"k": IRInt(1)}},
	}
	for _, tt := range tests {
		got, err := ParseValue([]byte(tt.in))
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	for _, bad := range []string{`open`, `1.5`, `1 apple`, ``} {
		_, err := ParseValue([]byte(bad))
		assert.Error(t, err, bad)
	}
}

func TestJSONRoundTrip(t *testing.T) {
	rec := IRObject{"id": IRString("1"), "items": IRArray{IRObject{"qty": IRInt(2)}}}

	data, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.Equal(t, `{"id":"1","items":[{"qty":2}]}`, string(data))

	var back IRObject
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, Equal(rec, back))
}

func TestNativeConversion(t *testing.T) {
	native := map[string]any{
		"s":   "x",
		"i":   3,
		"f":   float64(4),
		"b":   true,
		"n":   nil,
		"arr": []any{"a", int64(1)},
	}
	v, err := FromNative(native)
	require.NoError(t, err)
	obj := v.(IRObject)
	assert.Equal(t, IRInt(4), obj["f"])
	assert.Equal(t, IRNull{}, obj["n"])

	back := ToNative(obj).(map[string]any)
	assert.Equal(t, int64(3), back["i"])
	assert.Nil(t, back["n"])
	assert.Equal(t, []any{"a", int64(1)}, back["arr"])

	_, err = FromNative(2.5)
	require.Error(t, err)
	_, err = FromNative(struct{}{})
	require.Error(t, err)
}
