package dataset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveDelimiter(t *testing.T) {
	assert.Equal(t, ",", ResolveDelimiter(""))
	assert.Equal(t, "\t", ResolveDelimiter(`\t`))
	assert.Equal(t, ";", ResolveDelimiter(";"))
	assert.Equal(t, "||", ResolveDelimiter("||"))
}

func TestLineParser(t *testing.T) {
	tests := map[string]struct {
		delimiter string
		quoted    bool
		line      string
		want      []string
	}{
		"default comma":         {"", false, "a,b,c", []string{"a", "b", "c"}},
		"empty fields kept":     {"", false, "a,,c,", []string{"a", "", "c", ""}},
		"tab escape":            {`\t`, false, "a\tb", []string{"a", "b"}},
		"multi character":       {"||", false, "a||b", []string{"a", "b"}},
		"unquoted keeps quotes": {"", false, `"a,b",c`, []string{`"a`, `b"`, "c"}},
		"quoted":                {"", true, `"a,b",c`, []string{"a,b", "c"}},
		"quoted escaped quote":  {"", true, `"say ""hi""",x`, []string{`say "hi"`, "x"}},
		"quoted lazy":           {"", true, `a "b" c,d`, []string{`a "b" c`, "d"}},
		"quoted tab":            {`\t`, true, "\"a\tb\"\tc", []string{"a\tb", "c"}},
		"quoted empty line":     {"", true, "", []string{""}},
		"unquoted empty line":   {"", false, "", []string{""}},
		"quoted ragged":         {";", true, "1;2;3;4", []string{"1", "2", "3", "4"}},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			parser, err := NewLineParser(tc.delimiter, tc.quoted)
			require.NoError(t, err)
			got, err := parser(tc.line)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestLineParser_QuotedNeedsSingleCharacterDelimiter(t *testing.T) {
	_, err := NewLineParser("||", true)
	assert.Error(t, err)
	_, err = NewLineParser(`"`, true)
	assert.Error(t, err)
}

func TestSplitVariableNames(t *testing.T) {
	assert.Nil(t, SplitVariableNames(""))
	assert.Nil(t, SplitVariableNames("  "))
	assert.Equal(t, []string{"user", "password", "id"}, SplitVariableNames(" user, password ,id"))
}
