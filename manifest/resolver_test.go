package manifest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gemini-oss/dnshield/clock"
)

func TestResolver_SimpleRootOnly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"manifest_version":"1.0","identifier":"default","managed_rules":{"block":["ads.example.com"]}}`))
	}))
	defer srv.Close()

	fetcher := &Fetcher{Client: srv.Client(), MaxAttempts: 1, InitialBackoff: time.Millisecond}
	fc := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	r := NewResolver(fetcher, t.TempDir(), fc, nil, FormatJSON)

	resolved, err := r.Resolve(context.Background(), srv.URL, []string{"default"}, EvaluationContext{})
	require.NoError(t, err)
	require.Equal(t, []string{"ads.example.com"}, resolved.Block)
}

func TestResolver_FollowsIncludes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/default.json":
			w.Write([]byte(`{"manifest_version":"1.0","identifier":"default","included_manifests":["child"],"managed_rules":{"block":["root.example.com"]}}`))
		case "/child.json":
			w.Write([]byte(`{"manifest_version":"1.0","identifier":"child","managed_rules":{"block":["child.example.com"]}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	fetcher := &Fetcher{Client: srv.Client(), MaxAttempts: 1, InitialBackoff: time.Millisecond}
	fc := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	r := NewResolver(fetcher, t.TempDir(), fc, nil, FormatJSON)

	resolved, err := r.Resolve(context.Background(), srv.URL, []string{"default"}, EvaluationContext{})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"root.example.com", "child.example.com"}, resolved.Block)
}

func TestResolver_IncludeCycleDetected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/default.json":
			w.Write([]byte(`{"manifest_version":"1.0","identifier":"default","included_manifests":["a"],"managed_rules":{"block":["root.example.com"]}}`))
		case "/a.json":
			w.Write([]byte(`{"manifest_version":"1.0","identifier":"a","included_manifests":["default"],"managed_rules":{"block":["a.example.com"]}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	fetcher := &Fetcher{Client: srv.Client(), MaxAttempts: 1, InitialBackoff: time.Millisecond}
	fc := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	r := NewResolver(fetcher, t.TempDir(), fc, nil, FormatJSON)

	resolved, err := r.Resolve(context.Background(), srv.URL, []string{"default"}, EvaluationContext{})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"root.example.com", "a.example.com"}, resolved.Block)
}

func TestResolver_ConditionalItemApplied(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"manifest_version": "1.0",
			"identifier": "default",
			"conditional_items": [
				{"condition": "is_business_hours()", "managed_rules": {"block": ["work-hours.example.com"]}},
				{"condition": "user_group == \"exec\"", "managed_rules": {"block": ["exec-only.example.com"]}}
			]
		}`))
	}))
	defer srv.Close()

	fetcher := &Fetcher{Client: srv.Client(), MaxAttempts: 1, InitialBackoff: time.Millisecond}
	fc := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	r := NewResolver(fetcher, t.TempDir(), fc, nil, FormatJSON)

	resolved, err := r.Resolve(context.Background(), srv.URL, []string{"default"},
		EvaluationContext{TimeOfDay: "10:00", IsWeekend: false, UserGroup: "engineering"})
	require.NoError(t, err)
	require.Equal(t, []string{"work-hours.example.com"}, resolved.Block)
}

func TestResolver_FallsBackToStaleCacheOnFetchFailure(t *testing.T) {
	up := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !up {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"manifest_version":"1.0","identifier":"default","managed_rules":{"block":["cached.example.com"]}}`))
	}))
	defer srv.Close()

	fetcher := &Fetcher{Client: srv.Client(), MaxAttempts: 1, InitialBackoff: time.Millisecond}
	fc := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	dir := t.TempDir()
	r := NewResolver(fetcher, dir, fc, nil, FormatJSON)

	_, err := r.Resolve(context.Background(), srv.URL, []string{"default"}, EvaluationContext{})
	require.NoError(t, err)

	up = false
	resolved, err := r.Resolve(context.Background(), srv.URL, []string{"default"}, EvaluationContext{})
	require.NoError(t, err)
	require.Equal(t, []string{"cached.example.com"}, resolved.Block)
}

func TestDedupe_RemovesDuplicatesPreservingOrder(t *testing.T) {
	resolved := &ResolvedManifest{
		Allow: []string{"a.com", "b.com", "a.com"},
		Block: []string{"x.com", "x.com"},
	}
	dedupe(resolved)
	require.Equal(t, []string{"a.com", "b.com"}, resolved.Allow)
	require.Equal(t, []string{"x.com"}, resolved.Block)
}
