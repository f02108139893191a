package htmlutil

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
)

func TestGetText(t *testing.T) {
	doc, err := html.Parse(strings.NewReader(
		`<html><body><div>hello <b>bold</b> world</div></body></html>`,
	))
	require.NoError(t, err)

	require.Equal(t, "hello bold world", GetText(doc))
}

func TestCleanText(t *testing.T) {
	testCases := []struct {
		input    string
		expected string
	}{
		{input: "  4 Weeks\n\tBank Discount  ", expected: "4 Weeks Bank Discount"},
		{input: "plain", expected: "plain"},
		{input: "a\x00b", expected: "ab"},
		{input: "price\u200b", expected: "price"},
		{input: "", expected: ""},
	}

	for _, test := range testCases {
		require.Equal(t, test.expected, CleanText(test.input), "%q", test.input)
	}
}

func TestCheckDocument(t *testing.T) {
	full := `<!DOCTYPE html><html><head><title>Daily Rates</title></head><body><table></table></body></html>`
	require.NoError(t, CheckDocument(full))

	require.Error(t, CheckDocument(`{"error": "rate limited"}`))
	require.Error(t, CheckDocument(`<html><body>no head</body></html>`))
}
