package manifest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gemini-oss/dnshield/clock"
	"github.com/gemini-oss/dnshield/logging"
)

// cacheTTL is how long a disk-cached manifest is considered fresh (§4.6
// "Cache entries older than 300s are considered expired").
const cacheTTL = 300 * time.Second

// cacheRecord is the on-disk shape written under manifest_cache/<id>.
type cacheRecord struct {
	FetchedAt time.Time `json:"fetched_at"`
	Manifest  any       `json:"manifest"` // sanitized, null-free decoded document
}

// Resolver resolves a manifest's full include graph into a
// ResolvedManifest, fetching over HTTP with a disk-cache fallback.
// Grounded on parser/loader.go's LoadFromURLWithCache (cache-then-fetch,
// here inverted to fetch-then-cache-with-stale-fallback per §4.6),
// generalized from one flat rule file to a recursive include graph.
type Resolver struct {
	Fetcher   *Fetcher
	CacheDir  string
	Clock     clock.Clock
	Logger    logging.Logger
	Preferred RuleFormat
}

// NewResolver constructs a Resolver.
func NewResolver(fetcher *Fetcher, cacheDir string, clk clock.Clock, logger logging.Logger, preferred RuleFormat) *Resolver {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Resolver{
		Fetcher:   fetcher,
		CacheDir:  cacheDir,
		Clock:     clk,
		Logger:    logging.OrNop(logger),
		Preferred: preferred,
	}
}

// Resolve fetches baseURL's manifest for the given identifier chain,
// follows its include graph depth-first with cycle detection, evaluates
// every ConditionalItem against evalCtx, and merges everything into one
// ResolvedManifest (§4.6 "Merging").
func (r *Resolver) Resolve(ctx context.Context, baseURL string, chain []string, evalCtx EvaluationContext) (*ResolvedManifest, error) {
	root, rootID, err := r.loadOne(ctx, baseURL, chain)
	if err != nil {
		return nil, err
	}

	resolved := &ResolvedManifest{Identifier: rootID}
	visited := map[string]bool{rootID: true}

	if err := r.merge(ctx, baseURL, root, evalCtx, resolved, visited); err != nil {
		return nil, err
	}
	dedupe(resolved)
	return resolved, nil
}

// merge folds m's own managed_rules/rule_sources into resolved, then
// recurses into includes (depth-first, visited-guarded) and evaluates
// conditional items, each contributing their own managed_rules/
// rule_sources when their condition holds.
func (r *Resolver) merge(ctx context.Context, baseURL string, m *Manifest, evalCtx EvaluationContext, resolved *ResolvedManifest, visited map[string]bool) error {
	resolved.Allow = append(resolved.Allow, m.ManagedRules.Allow...)
	resolved.Block = append(resolved.Block, m.ManagedRules.Block...)
	resolved.RuleSources = append(resolved.RuleSources, m.RuleSources...)

	if err := r.mergeIncludes(ctx, baseURL, m.IncludedManifests, evalCtx, resolved, visited); err != nil {
		return err
	}

	for _, item := range m.ConditionalItems {
		ok, err := EvaluatePredicate(item.Condition, evalCtx)
		if err != nil {
			r.Logger.Warn("manifest: condition evaluation failed, skipping item", "condition", item.Condition, "err", err)
			continue
		}
		if !ok {
			continue
		}
		resolved.Allow = append(resolved.Allow, item.ManagedRules.Allow...)
		resolved.Block = append(resolved.Block, item.ManagedRules.Block...)
		resolved.RuleSources = append(resolved.RuleSources, applyItemPriority(item)...)

		if err := r.mergeIncludes(ctx, baseURL, item.IncludedManifests, evalCtx, resolved, visited); err != nil {
			return err
		}
	}
	return nil
}

// mergeIncludes resolves and folds in each of includeIDs, depth-first
// with the shared visited set, skipping (and logging) any cycle or
// unresolvable include rather than aborting the whole merge.
func (r *Resolver) mergeIncludes(ctx context.Context, baseURL string, includeIDs []string, evalCtx EvaluationContext, resolved *ResolvedManifest, visited map[string]bool) error {
	for _, includeID := range includeIDs {
		if visited[includeID] {
			r.Logger.Warn("manifest: include cycle detected, skipping", "identifier", includeID)
			continue
		}
		visited[includeID] = true

		included, _, err := r.loadOne(ctx, baseURL, []string{includeID})
		if err != nil {
			r.Logger.Warn("manifest: failed to resolve include, skipping", "identifier", includeID, "err", err)
			continue
		}
		if err := r.merge(ctx, baseURL, included, evalCtx, resolved, visited); err != nil {
			return err
		}
	}
	return nil
}

// applyItemPriority overrides each contributed RuleSource's Priority with
// item.Priority when the conditional item set one explicitly.
func applyItemPriority(item ConditionalItem) []RuleSource {
	if item.Priority == nil {
		return item.RuleSources
	}
	out := make([]RuleSource, len(item.RuleSources))
	for i, src := range item.RuleSources {
		src.Priority = *item.Priority
		out[i] = src
	}
	return out
}

// loadOne fetches (with disk-cache fallback) and parses the manifest for
// the given identifier chain, returning the decoded Manifest and the
// identifier that actually resolved.
func (r *Resolver) loadOne(ctx context.Context, baseURL string, chain []string) (*Manifest, string, error) {
	result, fetchErr := r.Fetcher.FetchChain(ctx, baseURL, chain, r.Preferred)
	if fetchErr == nil {
		m, parseErr := Parse(result.Raw, result.Format)
		if parseErr == nil {
			r.writeCache(result.Identifier, m)
			return m, result.Identifier, nil
		}
		fetchErr = parseErr
	}

	// Fetch/parse failed: fall back to a stale cache entry for any
	// identifier in the chain (§4.6 "if the next fetch fails, the expired
	// entry is returned ... and its mtime touched").
	for _, id := range chain {
		if m, wasExpired := r.readCache(id); m != nil {
			if wasExpired {
				r.touchCache(id)
			}
			r.Logger.Warn("manifest: serving cached manifest after fetch failure", "identifier", id, "was_expired", wasExpired, "err", fetchErr)
			return m, id, nil
		}
	}
	return nil, "", fmt.Errorf("manifest: resolving chain %v: %w", chain, fetchErr)
}

func (r *Resolver) cachePath(identifier string) string {
	return filepath.Join(r.CacheDir, "manifest_cache", identifier)
}

func (r *Resolver) writeCache(identifier string, m *Manifest) {
	if r.CacheDir == "" {
		return
	}
	path := r.cachePath(identifier)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		r.Logger.Warn("manifest: cache mkdir failed", "identifier", identifier, "err", err)
		return
	}

	sanitized := Sanitize(toGenericMap(m))
	raw, err := json.Marshal(cacheRecord{FetchedAt: r.Clock.Now(), Manifest: sanitized})
	if err != nil {
		r.Logger.Warn("manifest: cache encode failed", "identifier", identifier, "err", err)
		return
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		r.Logger.Warn("manifest: cache write failed", "identifier", identifier, "err", err)
	}
}

// readCache loads identifier's cached manifest, if any, reporting
// whether the entry is older than cacheTTL.
func (r *Resolver) readCache(identifier string) (*Manifest, bool) {
	if r.CacheDir == "" {
		return nil, false
	}
	raw, err := os.ReadFile(r.cachePath(identifier))
	if err != nil {
		return nil, false
	}
	var rec cacheRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, false
	}

	manifestRaw, err := json.Marshal(rec.Manifest)
	if err != nil {
		return nil, false
	}
	var m Manifest
	if err := json.Unmarshal(manifestRaw, &m); err != nil {
		return nil, false
	}

	expired := r.Clock.Now().Sub(rec.FetchedAt) > cacheTTL
	return &m, expired
}

func (r *Resolver) touchCache(identifier string) {
	now := r.Clock.Now()
	_ = os.Chtimes(r.cachePath(identifier), now, now)
}

// toGenericMap round-trips m through JSON to obtain a plain
// map[string]any, the shape Sanitize's toNode expects.
func toGenericMap(m *Manifest) any {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	var v any
	_ = json.Unmarshal(raw, &v)
	return v
}

// dedupe removes duplicate allow/block domains and rule sources from
// resolved, preserving first-seen (i.e. include/merge) order so "later
// sources win at equal priority" (§4.6) is expressed by the merge order
// itself rather than by dedupe.
func dedupe(resolved *ResolvedManifest) {
	resolved.Allow = dedupeStrings(resolved.Allow)
	resolved.Block = dedupeStrings(resolved.Block)
	resolved.RuleSources = dedupeSources(resolved.RuleSources)
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// dedupeSources removes duplicate rule sources by identity key rather
// than full equality, since RuleSource carries a Configuration map and is
// therefore not comparable/hashable as a map key.
func dedupeSources(in []RuleSource) []RuleSource {
	seen := make(map[string]bool, len(in))
	out := make([]RuleSource, 0, len(in))
	for _, s := range in {
		key := sourceDedupeKey(s)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	return out
}

func sourceDedupeKey(s RuleSource) string {
	if s.ID != "" {
		return "id:" + s.ID
	}
	if s.URL != "" {
		return "url:" + s.URL
	}
	return "path:" + s.Path
}
