package rulemanager

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gemini-oss/dnshield/logging"
	"github.com/gemini-oss/dnshield/manifest"
	"github.com/gemini-oss/dnshield/rulecache"
	"github.com/gemini-oss/dnshield/rules"
)

// fakeDB is an in-memory RuleLookup, partitioned by source, so tests
// don't need a real bbolt file for behavior ReplaceSource/Counts already
// cover at the ruledb layer.
type fakeDB struct {
	mu  sync.Mutex
	bySource map[rules.Source][]*rules.Rule
}

func newFakeDB() *fakeDB {
	return &fakeDB{bySource: map[rules.Source][]*rules.Rule{}}
}

func (f *fakeDB) ReplaceSource(source rules.Source, newRules []*rules.Rule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range newRules {
		if r.Source != source {
			return fmt.Errorf("fakeDB: rule %q has source %s, want %s", r.Domain, r.Source, source)
		}
	}
	f.bySource[source] = newRules
	return nil
}

func (f *fakeDB) Counts() (allow, block int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, set := range f.bySource {
		for _, r := range set {
			if r.Action == rules.Allow {
				allow++
			} else {
				block++
			}
		}
	}
	return allow, block, nil
}

func newTestCache(t *testing.T) *rulecache.Cache {
	t.Helper()
	c, err := rulecache.New(rulecache.Config{Logger: logging.Nop{}})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestSync_ConvertsManagedAndSourceRules(t *testing.T) {
	hostsSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "tracker.example.com\n@@safe.example.com\n*.ads.example.com\n")
	}))
	defer hostsSrv.Close()

	manifestSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/default.json" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{
			"manifest_version": "1.0",
			"identifier": "default",
			"managed_rules": {"block": ["evil.example.com"], "allow": ["good.example.com"]},
			"rule_sources": [
				{"id": "hosts-1", "type": "https", "url": %q, "format": "hosts", "priority": 50}
			]
		}`, hostsSrv.URL)
	}))
	defer manifestSrv.Close()

	fetcher := &manifest.Fetcher{Client: manifestSrv.Client(), Logger: logging.Nop{}}
	resolver := manifest.NewResolver(fetcher, t.TempDir(), nil, logging.Nop{}, manifest.FormatJSON)

	db := newFakeDB()
	cache := newTestCache(t)

	rm := New(db, cache, resolver, manifestSrv.URL, []string{"default"}, logging.Nop{})

	result, err := rm.Sync(context.Background())
	require.NoError(t, err)
	require.Equal(t, "default", result.Identifier)
	require.Equal(t, 2, result.ManagedRules) // evil.example.com + good.example.com
	require.Equal(t, 3, result.SourceRules) // tracker.example.com block, safe.example.com allow, *.ads.example.com wildcard block

	managed := db.bySource[rules.SourceManaged]
	require.Len(t, managed, 2)

	fromSources := db.bySource[rules.SourceManifest]
	require.NotEmpty(t, fromSources)
	var sawTracker, sawSafeAllow bool
	for _, r := range fromSources {
		if r.Domain == "tracker.example.com" && r.Action == rules.Block {
			sawTracker = true
		}
		if r.Domain == "safe.example.com" && r.Action == rules.Allow {
			sawSafeAllow = true
		}
	}
	require.True(t, sawTracker)
	require.True(t, sawSafeAllow)

	entry, ok := cache.Get("hosts-1", time.Hour)
	require.True(t, ok)
	require.NotEmpty(t, entry.RuleSet)
}

func TestSync_SkipsDisabledRuleSource(t *testing.T) {
	manifestSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"manifest_version": "1.0",
			"identifier": "default",
			"rule_sources": [
				{"id": "disabled-1", "type": "https", "url": "http://127.0.0.1:0/never", "format": "hosts", "enabled": false}
			]
		}`)
	}))
	defer manifestSrv.Close()

	fetcher := &manifest.Fetcher{Client: manifestSrv.Client(), Logger: logging.Nop{}}
	resolver := manifest.NewResolver(fetcher, t.TempDir(), nil, logging.Nop{}, manifest.FormatJSON)

	db := newFakeDB()
	rm := New(db, nil, resolver, manifestSrv.URL, []string{"default"}, logging.Nop{})

	result, err := rm.Sync(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, result.SourceRules)
}

func TestStartStop_CancelsPreviousTimer(t *testing.T) {
	db := newFakeDB()
	manifestSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"manifest_version": "1", "identifier": "default"}`)
	}))
	defer manifestSrv.Close()

	fetcher := &manifest.Fetcher{Client: manifestSrv.Client(), Logger: logging.Nop{}}
	resolver := manifest.NewResolver(fetcher, t.TempDir(), nil, logging.Nop{}, manifest.FormatJSON)
	rm := New(db, nil, resolver, manifestSrv.URL, []string{"default"}, logging.Nop{})

	rm.Start(50 * time.Millisecond)
	rm.Start(50 * time.Millisecond) // must cancel the first timer, not panic or double-fire
	time.Sleep(120 * time.Millisecond)
	rm.Stop()
	rm.Stop() // idempotent
}
