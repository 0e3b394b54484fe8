package manifest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIdentifierChain_AllDistinct(t *testing.T) {
	chain := IdentifierChain("client-1", "", "SERIAL123")
	require.Equal(t, []string{"client-1", "SERIAL123", DefaultIdentifier}, chain)
}

func TestIdentifierChain_FallsBackToLegacy(t *testing.T) {
	chain := IdentifierChain("", "legacy-id", "SERIAL123")
	require.Equal(t, []string{"legacy-id", "SERIAL123", DefaultIdentifier}, chain)
}

func TestIdentifierChain_FallsBackToSerial(t *testing.T) {
	chain := IdentifierChain("", "", "SERIAL123")
	require.Equal(t, []string{"SERIAL123", DefaultIdentifier}, chain)
}

func TestIdentifierChain_FallsBackToDefault(t *testing.T) {
	chain := IdentifierChain("", "", "")
	require.Equal(t, []string{DefaultIdentifier}, chain)
}

func TestIdentifierChain_SerialEqualsInitial(t *testing.T) {
	chain := IdentifierChain("SAME", "", "SAME")
	require.Equal(t, []string{"SAME", DefaultIdentifier}, chain)
}

func TestFetchChain_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/client-1.json" {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"manifest_version":"1.0","identifier":"client-1"}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := &Fetcher{Client: srv.Client(), MaxAttempts: 1, InitialBackoff: time.Millisecond}
	result, err := f.FetchChain(context.Background(), srv.URL, []string{"client-1"}, FormatJSON)
	require.NoError(t, err)
	require.Equal(t, "client-1", result.Identifier)
	require.Equal(t, FormatJSON, result.Format)
}

func TestFetchChain_FallsThroughOn404(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/default.json" {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"manifest_version":"1.0","identifier":"default"}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := &Fetcher{Client: srv.Client(), MaxAttempts: 1, InitialBackoff: time.Millisecond}
	result, err := f.FetchChain(context.Background(), srv.URL, []string{"client-1", "default"}, FormatJSON)
	require.NoError(t, err)
	require.Equal(t, "default", result.Identifier)
}

func TestFetchChain_NonRetryable4xxAborts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	f := &Fetcher{Client: srv.Client(), MaxAttempts: 1, InitialBackoff: time.Millisecond}
	_, err := f.FetchChain(context.Background(), srv.URL, []string{"client-1", "default"}, FormatJSON)
	require.Error(t, err)
}

func TestFetchChain_RetriesOn5xxThenSucceeds(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"manifest_version":"1.0","identifier":"default"}`))
	}))
	defer srv.Close()

	f := &Fetcher{Client: srv.Client(), MaxAttempts: 3, InitialBackoff: time.Millisecond}
	result, err := f.FetchChain(context.Background(), srv.URL, []string{"default"}, FormatJSON)
	require.NoError(t, err)
	require.Equal(t, "default", result.Identifier)
	require.GreaterOrEqual(t, attempts, 2)
}

func TestParseHeaderPairs(t *testing.T) {
	out := parseHeaderPairs([]string{"X-Api-Key: abc123", "malformed-no-colon"})
	require.Equal(t, "abc123", out["X-Api-Key"])
	require.Len(t, out, 1)
}
