package manifest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gemini-oss/dnshield/logging"
	"github.com/gemini-oss/dnshield/prefs"
)

// DefaultIdentifier is the literal final fallback of §4.6's identifier
// chain, per the Open Question decision recorded in the grounding ledger:
// no configurable DefaultManifestIdentifier pref is implemented.
const DefaultIdentifier = "default"

// formatExtensions orders the candidate file extensions §4.6 tries per
// identifier, with preferred listed first.
func formatExtensions(preferred RuleFormat) []string {
	all := []string{".json", ".plist", ".yml", ".yaml"}
	ext := map[RuleFormat]string{
		FormatJSON:  ".json",
		FormatPlist: ".plist",
		FormatYAML:  ".yml",
	}[preferred]
	if ext == "" {
		return all
	}
	ordered := []string{ext}
	for _, e := range all {
		if e != ext {
			ordered = append(ordered, e)
		}
	}
	return ordered
}

// IdentifierChain builds the §4.6 "[initial, serial_if_different,
// default]" fallback chain. clientID is the ClientIdentifier pref,
// legacyID is the legacy ManifestIdentifier pref, serial is the device
// serial number.
func IdentifierChain(clientID, legacyID, serial string) []string {
	initial := clientID
	if initial == "" {
		initial = legacyID
	}
	if initial == "" {
		initial = serial
	}
	if initial == "" {
		initial = DefaultIdentifier
	}

	chain := []string{initial}
	if serial != "" && serial != initial {
		chain = append(chain, serial)
	}
	if chain[len(chain)-1] != DefaultIdentifier {
		chain = append(chain, DefaultIdentifier)
	}
	return chain
}

// Fetcher performs §4.6's HTTP GET with retry/backoff against a manifest
// base URL, trying each identifier in turn. Grounded on
// parser/loader.go's Loader (a *http.Client plus a fetch method),
// generalized from "fetch one blocklist" to "fetch the first identifier
// in the chain that isn't 401/404".
type Fetcher struct {
	Client  *http.Client
	Logger  logging.Logger
	Headers map[string]string

	MaxAttempts    int
	InitialBackoff time.Duration
}

// NewFetcher builds a Fetcher from a preferences snapshot, matching
// §6's AdditionalHttpHeaders/MaxRetries/InitialBackoffMs keys.
// AdditionalHTTPHeaders entries are "Key: Value" strings, the same shape
// the §6 preference table stores them in.
func NewFetcher(snap prefs.Snapshot, logger logging.Logger) *Fetcher {
	return &Fetcher{
		Client:         &http.Client{Timeout: 30 * time.Second},
		Logger:         logging.OrNop(logger),
		Headers:        parseHeaderPairs(snap.AdditionalHTTPHeaders),
		MaxAttempts:    int(snap.MaxRetries),
		InitialBackoff: snap.InitialBackoff,
	}
}

func parseHeaderPairs(pairs []string) map[string]string {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, found := strings.Cut(p, ":")
		if !found {
			continue
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out
}

// FetchResult is the outcome of resolving one identifier's manifest.
type FetchResult struct {
	Identifier string
	Raw        []byte
	Format     RuleFormat
}

// FetchChain tries each identifier in chain against baseURL, in order,
// stopping at the first that returns a non-{401,404} response. A 401/404
// falls through to the next identifier (§4.6 "401 and 404 trigger
// fall-through to the next identifier"); other 4xx responses are
// non-retryable and abort the whole chain; 5xx and transport errors are
// retried per-identifier with exponential backoff before falling through.
func (f *Fetcher) FetchChain(ctx context.Context, baseURL string, chain []string, preferred RuleFormat) (*FetchResult, error) {
	var lastErr error
	for _, id := range chain {
		for _, ext := range formatExtensions(preferred) {
			url := baseURL + "/" + id + ext
			raw, status, err := f.fetchWithRetry(ctx, url)
			if err != nil {
				lastErr = err
				continue
			}
			switch {
			case status == http.StatusUnauthorized || status == http.StatusNotFound:
				f.Logger.Debug("manifest: identifier fell through", "identifier", id, "url", url, "status", status)
				continue // next extension; if all extensions fail, the outer loop tries the next identifier
			case status >= 400:
				return nil, fmt.Errorf("manifest: non-retryable status %d fetching %s", status, url)
			}
			return &FetchResult{Identifier: id, Raw: raw, Format: formatFromExt(ext)}, nil
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("manifest: all identifiers in chain exhausted: %w", lastErr)
	}
	return nil, fmt.Errorf("manifest: no identifier in chain %v resolved", chain)
}

func formatFromExt(ext string) RuleFormat {
	switch ext {
	case ".json":
		return FormatJSON
	case ".plist":
		return FormatPlist
	case ".yml", ".yaml":
		return FormatYAML
	default:
		return ""
	}
}

// fetchWithRetry performs the retryable-status/transport-error retry
// loop described in §4.6 (5xx and transport errors retryable with
// exponential backoff, 250ms initial, up to 3 attempts by default).
func (f *Fetcher) fetchWithRetry(ctx context.Context, url string) ([]byte, int, error) {
	maxAttempts := f.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	backoff := f.InitialBackoff
	if backoff <= 0 {
		backoff = 250 * time.Millisecond
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		raw, status, err := f.doGet(ctx, url)
		if err == nil && status < 500 {
			return raw, status, nil
		}
		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("manifest: server error %d", status)
		}
		if attempt == maxAttempts {
			break
		}
		f.Logger.Warn("manifest: fetch attempt failed, retrying", "url", url, "attempt", attempt, "err", lastErr)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		}
		backoff *= 2
	}
	return nil, 0, lastErr
}

func (f *Fetcher) doGet(ctx context.Context, url string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}
	for k, v := range f.Headers {
		req.Header.Set(k, v)
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return raw, resp.StatusCode, nil
}
