package normalize

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, raw string) any {
	var v any
	err := json.Unmarshal([]byte(raw), &v)
	require.NoError(t, err)
	return v
}

func TestKindOf(t *testing.T) {
	testCases := []struct {
		value    any
		expected Kind
	}{
		{value: map[string]any{}, expected: KindMapping},
		{value: []any{}, expected: KindSequence},
		{value: "text", expected: KindString},
		{value: 1.5, expected: KindScalar},
		{value: true, expected: KindScalar},
		{value: nil, expected: KindScalar},
	}

	for _, test := range testCases {
		require.Equal(t, test.expected, KindOf(test.value))
	}
}

func TestExtractSingleMatch(t *testing.T) {
	tree := decode(t, `{"a": {"response": {"x": 1}}}`)

	matches, err := Extract(tree, "response", false)
	require.NoError(t, err)
	require.Equal(t, []any{map[string]any{"x": 1.0}}, matches)
}

func TestExtractNoMatch(t *testing.T) {
	tree := decode(t, `{"a": [1, 2, {"b": "c"}]}`)

	matches, err := Extract(tree, "response", false)
	require.NoError(t, err)
	require.NotNil(t, matches)
	require.Empty(t, matches)
}

func TestExtractScalarTree(t *testing.T) {
	matches, err := Extract(42.0, "response", false)
	require.NoError(t, err)
	require.Empty(t, matches)
}

func TestExtractOrderIsDeterministic(t *testing.T) {
	// sibling keys are visited in sorted order
	tree := decode(t, `{"b": {"response": 2}, "a": {"response": 1}, "c": [{"response": 3}]}`)

	for i := 0; i < 20; i++ {
		matches, err := Extract(tree, "response", false)
		require.NoError(t, err)
		require.Equal(t, []any{1.0, 2.0, 3.0}, matches)
	}
}

func TestExtractNestedUnderMatch(t *testing.T) {
	tree := decode(t, `{"response": {"inner": {"response": "deep"}}}`)

	matches, err := Extract(tree, "response", false)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	require.Equal(t, map[string]any{"inner": map[string]any{"response": "deep"}}, matches[0])
	require.Equal(t, "deep", matches[1])
}

func TestExtractSearchesEmbeddedJSONStrings(t *testing.T) {
	tree := decode(t, `{"body": "{\"response\": 42}"}`)

	matches, err := Extract(tree, "response", false)
	require.NoError(t, err)
	require.Equal(t, []any{42.0}, matches)
}

func TestExtractKeepStructure(t *testing.T) {
	tree := decode(t, `{"a": {"response": [1]}}`)

	matches, err := Extract(tree, "response", true)
	require.NoError(t, err)
	require.Equal(t, []any{map[string]any{"response": []any{1.0}}}, matches)
}

func TestExtractEmptyStringIsALeaf(t *testing.T) {
	tree := decode(t, `{"response": ""}`)

	matches, err := Extract(tree, "response", false)
	require.NoError(t, err)
	require.Equal(t, []any{""}, matches)
}

func TestExtractTooDeep(t *testing.T) {
	tree := any("leaf")
	for i := 0; i < maxDepth+10; i++ {
		tree = []any{tree}
	}

	_, err := Extract(tree, "response", false)
	require.ErrorIs(t, err, ErrTooDeep)
}

func TestDeepParse(t *testing.T) {
	testCases := []struct {
		name     string
		input    any
		expected any
	}{
		{
			name:     "numeric strings in a sequence",
			input:    `["5", "7"]`,
			expected: []any{5.0, 7.0},
		},
		{
			name:     "plain string passes through",
			input:    "hello",
			expected: "hello",
		},
		{
			name:     "scalar passes through",
			input:    3.5,
			expected: 3.5,
		},
		{
			name:     "nested object string",
			input:    map[string]any{"quote": `{"price": "12.5", "ok": true}`},
			expected: map[string]any{"quote": map[string]any{"price": 12.5, "ok": true}},
		},
		{
			name:     "doubly encoded",
			input:    `"{\"a\": \"1\"}"`,
			expected: map[string]any{"a": 1.0},
		},
		{
			name:     "null string decodes to nil",
			input:    "null",
			expected: nil,
		},
	}

	for _, test := range testCases {
		t.Run(test.name, func(t *testing.T) {
			out, err := DeepParse(test.input)
			require.NoError(t, err)

			diff := cmp.Diff(test.expected, out)
			if diff != "" {
				t.Fatal(diff)
			}
		})
	}
}

func TestDeepParseIsIdempotent(t *testing.T) {
	input := decode(t, `{"a": "[\"5\", \"7\"]", "b": ["{\"x\": \"2\"}", "plain"]}`)

	once, err := DeepParse(input)
	require.NoError(t, err)
	twice, err := DeepParse(once)
	require.NoError(t, err)

	diff := cmp.Diff(once, twice)
	if diff != "" {
		t.Fatal(diff)
	}
}

func TestNormalizeSingleMatchIsBare(t *testing.T) {
	tree := decode(t, `{"url": "https://example.com", "response": "{\"price\": \"42\"}"}`)

	out, err := Normalize(context.Background(), tree, Options{})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"price": 42.0}, out)
}

func TestNormalizeMultipleMatchesAreASlice(t *testing.T) {
	tree := decode(t, `[{"response": "1"}, {"response": "2"}, {"response": "3"}]`)

	out, err := Normalize(context.Background(), tree, Options{})
	require.NoError(t, err)
	require.Equal(t, []any{1.0, 2.0, 3.0}, out)
}

func TestNormalizeNoMatchesIsAnEmptySlice(t *testing.T) {
	tree := decode(t, `{"status": "ok"}`)

	out, err := Normalize(context.Background(), tree, Options{})
	require.NoError(t, err)
	require.Equal(t, []any{}, out)
}

func TestNormalizeCustomKey(t *testing.T) {
	tree := decode(t, `{"data": {"points": ["1", "2"]}, "status": "ok"}`)

	out, err := Normalize(context.Background(), tree, Options{TargetKey: "data"})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"points": []any{1.0, 2.0}}, out)
}

func TestNormalizeKeepStructure(t *testing.T) {
	tree := decode(t, `{"a": {"response": "7"}}`)

	out, err := Normalize(context.Background(), tree, Options{KeepStructure: true})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"response": 7.0}, out)
}

func TestNormalizeOnlyParse(t *testing.T) {
	tree := decode(t, `{"response": "ignored", "other": "[1]"}`)

	out, err := Normalize(context.Background(), tree, Options{OnlyParse: true})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"response": "ignored", "other": []any{1.0}}, out)
}
