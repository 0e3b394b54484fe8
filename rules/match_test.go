package rules

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMatchExact(t *testing.T) {
	r := &Rule{Domain: "example.com", Type: Exact}
	require.True(t, MatchExact(r, "example.com"))
	require.False(t, MatchExact(r, "sub.example.com"))
}

func TestMatchWildcard_SubdomainsOnly(t *testing.T) {
	r := &Rule{Domain: "example.com", Type: Wildcard}
	require.True(t, MatchWildcard(r, "a.example.com", SubdomainsOnly))
	require.True(t, MatchWildcard(r, "b.a.example.com", SubdomainsOnly))
	require.False(t, MatchWildcard(r, "example.com", SubdomainsOnly))
	require.False(t, MatchWildcard(r, "notexample.com", SubdomainsOnly))
}

func TestMatchWildcard_IncludeRoot(t *testing.T) {
	r := &Rule{Domain: "example.com", Type: Wildcard}
	require.True(t, MatchWildcard(r, "example.com", IncludeRoot))
	require.True(t, MatchWildcard(r, "a.example.com", IncludeRoot))
}

func TestMatchRegex(t *testing.T) {
	r := &Rule{Domain: `ads\.\w+\.com`, Type: Regex}
	require.NoError(t, r.Compile())
	require.True(t, MatchRegex(r, "ads.example.com"))
	require.False(t, MatchRegex(r, "shop.example.com"))
}

func TestMatchRegex_Uncompiled(t *testing.T) {
	r := &Rule{Domain: `ads\.`, Type: Regex}
	require.False(t, MatchRegex(r, "ads.example.com"))
}

func TestMatches_Dispatch(t *testing.T) {
	exact := &Rule{Domain: "example.com", Type: Exact}
	require.True(t, Matches(exact, "example.com", SubdomainsOnly))

	wc := &Rule{Domain: "example.com", Type: Wildcard}
	require.True(t, Matches(wc, "a.example.com", SubdomainsOnly))
}

func TestLabelCount(t *testing.T) {
	require.Equal(t, 0, labelCount(""))
	require.Equal(t, 1, labelCount("com"))
	require.Equal(t, 3, labelCount("a.b.com"))
}
