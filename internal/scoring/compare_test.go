package scoring

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	cases := map[string]struct {
		input    string
		expected string
	}{
		"empty":             {input: "", expected: ""},
		"trims whitespace":  {input: "  hello \n", expected: "hello"},
		"crlf":              {input: "a\r\nb\r\n", expected: "a\nb"},
		"bare cr":           {input: "a\rb", expected: "a\nb"},
		"collapses blanks":  {input: "a\n\n\nb\r\n\r\nc", expected: "a\nb\nc"},
		"keeps inner space": {input: "1 2  3", expected: "1 2  3"},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			normalized := Normalize(tc.input)
			require.Equal(t, tc.expected, normalized)
			require.Equal(t, normalized, Normalize(normalized))
		})
	}
}

func TestCompareToleratesLineEndingsAndPadding(t *testing.T) {
	require.True(t, Compare("1\n2\n\n", "1\r\n2"))
	require.True(t, Compare("\n\nresult\n", "result"))
	require.False(t, Compare("1 2", "12"))
	require.False(t, Compare("Hello", "hello"))
}

func TestCompareTrimsOnlyOutputEdges(t *testing.T) {
	require.True(t, Compare("4 ", "4"))
	require.True(t, Compare("\t4\n", "4"))
	require.False(t, Compare("1 \n2", "1\n2"))
	require.False(t, Compare("1\n 2", "1\n2"))
}
