package ruledb

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gemini-oss/dnshield/rules"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "rules.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAddBulkAndGet(t *testing.T) {
	s := openTestStore(t)
	r := &rules.Rule{Domain: "ads.example.com", Type: rules.Exact, Action: rules.Block, Source: rules.SourceUser}
	require.NoError(t, s.AddBulk([]*rules.Rule{r}))

	got, err := s.Get(r.Key())
	require.NoError(t, err)
	require.Equal(t, r.Domain, got.Domain)
	require.Equal(t, r.Action, got.Action)
}

func TestAddBulkUpsertReplaces(t *testing.T) {
	s := openTestStore(t)
	r1 := &rules.Rule{Domain: "x.com", Type: rules.Exact, Action: rules.Block, Source: rules.SourceUser, Priority: 1}
	require.NoError(t, s.AddBulk([]*rules.Rule{r1}))

	r2 := &rules.Rule{Domain: "x.com", Type: rules.Exact, Action: rules.Allow, Source: rules.SourceUser, Priority: 5}
	require.NoError(t, s.AddBulk([]*rules.Rule{r2}))

	got, err := s.Get(r2.Key())
	require.NoError(t, err)
	require.Equal(t, rules.Allow, got.Action)
	require.Equal(t, uint32(5), got.Priority)

	n, err := s.Count()
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestGet_NotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Get(rules.RuleKey{Domain: "nope.com", Type: rules.Exact, Source: rules.SourceUser})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCandidatesFor_Exact(t *testing.T) {
	s := openTestStore(t)
	r := &rules.Rule{Domain: "example.com", Type: rules.Exact, Action: rules.Block, Source: rules.SourceUser}
	require.NoError(t, s.AddBulk([]*rules.Rule{r}))

	cands, err := s.CandidatesFor("example.com")
	require.NoError(t, err)
	require.Len(t, cands, 1)
	require.Equal(t, "example.com", cands[0].Domain)
}

func TestCandidatesFor_WildcardAncestor(t *testing.T) {
	s := openTestStore(t)
	r := &rules.Rule{Domain: "example.com", Type: rules.Wildcard, Action: rules.Block, Source: rules.SourceManifest}
	require.NoError(t, s.AddBulk([]*rules.Rule{r}))

	cands, err := s.CandidatesFor("a.b.example.com")
	require.NoError(t, err)
	require.Len(t, cands, 1)
	require.Equal(t, rules.Wildcard, cands[0].Type)
}

func TestCandidatesFor_Regex(t *testing.T) {
	s := openTestStore(t)
	r := &rules.Rule{Domain: `^ads\.`, Type: rules.Regex, Action: rules.Block, Source: rules.SourceUser}
	require.NoError(t, s.AddBulk([]*rules.Rule{r}))

	cands, err := s.CandidatesFor("anything.com")
	require.NoError(t, err)
	require.Len(t, cands, 1)
	require.Equal(t, rules.Regex, cands[0].Type)
	require.True(t, rules.MatchRegex(cands[0], "ads.example.com"))
}

func TestDeleteBySource(t *testing.T) {
	s := openTestStore(t)
	manifestRule := &rules.Rule{Domain: "m.com", Type: rules.Exact, Action: rules.Block, Source: rules.SourceManifest}
	userRule := &rules.Rule{Domain: "u.com", Type: rules.Exact, Action: rules.Block, Source: rules.SourceUser}
	require.NoError(t, s.AddBulk([]*rules.Rule{manifestRule, userRule}))

	require.NoError(t, s.DeleteBySource(rules.SourceManifest))

	_, err := s.Get(manifestRule.Key())
	require.ErrorIs(t, err, ErrNotFound)

	got, err := s.Get(userRule.Key())
	require.NoError(t, err)
	require.Equal(t, "u.com", got.Domain)

	n, err := s.Count()
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestReversedLabels(t *testing.T) {
	require.Equal(t, "com.example.a.b", reversedLabels("b.a.example.com"))
	require.Equal(t, "", reversedLabels(""))
}

func TestCounts(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.AddBulk([]*rules.Rule{
		{Domain: "a.com", Type: rules.Exact, Action: rules.Block, Source: rules.SourceUser},
		{Domain: "b.com", Type: rules.Exact, Action: rules.Block, Source: rules.SourceUser},
		{Domain: "c.com", Type: rules.Exact, Action: rules.Allow, Source: rules.SourceUser},
	}))

	allow, block, err := s.Counts()
	require.NoError(t, err)
	require.Equal(t, 1, allow)
	require.Equal(t, 2, block)
}

func TestReplaceSource_AtomicSwap(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.AddBulk([]*rules.Rule{
		{Domain: "old.com", Type: rules.Exact, Action: rules.Block, Source: rules.SourceManifest},
		{Domain: "keep.com", Type: rules.Exact, Action: rules.Block, Source: rules.SourceUser},
	}))

	require.NoError(t, s.ReplaceSource(rules.SourceManifest, []*rules.Rule{
		{Domain: "new.com", Type: rules.Exact, Action: rules.Block, Source: rules.SourceManifest},
	}))

	_, err := s.Get(rules.RuleKey{Domain: "old.com", Type: rules.Exact, Source: rules.SourceManifest})
	require.ErrorIs(t, err, ErrNotFound)

	got, err := s.Get(rules.RuleKey{Domain: "new.com", Type: rules.Exact, Source: rules.SourceManifest})
	require.NoError(t, err)
	require.Equal(t, "new.com", got.Domain)

	got, err = s.Get(rules.RuleKey{Domain: "keep.com", Type: rules.Exact, Source: rules.SourceUser})
	require.NoError(t, err)
	require.Equal(t, "keep.com", got.Domain)
}

func TestReplaceSource_RejectsMismatchedSource(t *testing.T) {
	s := openTestStore(t)
	err := s.ReplaceSource(rules.SourceManifest, []*rules.Rule{
		{Domain: "x.com", Type: rules.Exact, Action: rules.Block, Source: rules.SourceUser},
	})
	require.Error(t, err)
}
