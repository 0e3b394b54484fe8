package manifest

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSanitize_StripsNullDictValues(t *testing.T) {
	in := map[string]any{
		"a": "keep",
		"b": nil,
	}
	out := Sanitize(in).(map[string]any)
	require.Equal(t, "keep", out["a"])
	_, present := out["b"]
	require.False(t, present)
}

func TestSanitize_StripsNullArrayElements(t *testing.T) {
	in := []any{"x", nil, "y"}
	out := Sanitize(in).([]any)
	require.Equal(t, []any{"x", "y"}, out)
}

func TestSanitize_Nested(t *testing.T) {
	in := map[string]any{
		"list": []any{
			map[string]any{"keep": "yes", "drop": nil},
			nil,
		},
	}
	out := Sanitize(in).(map[string]any)
	list := out["list"].([]any)
	require.Len(t, list, 1)
	inner := list[0].(map[string]any)
	require.Equal(t, "yes", inner["keep"])
	_, present := inner["drop"]
	require.False(t, present)
}

func TestSanitize_ScalarPassthrough(t *testing.T) {
	require.Equal(t, "hello", Sanitize("hello"))
	require.Equal(t, 42.0, Sanitize(42.0))
	require.Nil(t, Sanitize(nil))
}

func TestSanitize_YAMLStyleMapKeys(t *testing.T) {
	in := map[any]any{"a": "b", 1: "ignored-nonstring-key"}
	out := Sanitize(in).(map[string]any)
	require.Equal(t, "b", out["a"])
	require.Len(t, out, 1)
}
