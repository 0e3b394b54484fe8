package rules

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeDomain(t *testing.T) {
	require.Equal(t, "example.com", NormalizeDomain("Example.COM."))
	require.Equal(t, "example.com", NormalizeDomain("example.com"))
}

func TestStripWildcardPrefix(t *testing.T) {
	require.Equal(t, "example.com", StripWildcardPrefix("*.example.com"))
	require.Equal(t, "example.com", StripWildcardPrefix("example.com"))
}

func TestRuleKey(t *testing.T) {
	r := &Rule{Domain: "example.com", Type: Exact, Source: SourceUser}
	require.Equal(t, RuleKey{Domain: "example.com", Type: Exact, Source: SourceUser}, r.Key())
}

func TestCompile_NonRegexNoop(t *testing.T) {
	r := &Rule{Domain: "example.com", Type: Exact}
	require.NoError(t, r.Compile())
}

func TestCompile_RegexValid(t *testing.T) {
	r := &Rule{Domain: `^ads\.`, Type: Regex}
	require.NoError(t, r.Compile())
	require.True(t, MatchRegex(r, "ads.example.com"))
}

func TestCompile_RegexInvalid(t *testing.T) {
	r := &Rule{Domain: `(unclosed`, Type: Regex}
	require.Error(t, r.Compile())
}
