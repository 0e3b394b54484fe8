package rulemanager

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gemini-oss/dnshield/logging"
	"github.com/gemini-oss/dnshield/manifest"
	"github.com/gemini-oss/dnshield/rulecache"
	"github.com/gemini-oss/dnshield/rules"
)

// RuleLookup is the subset of ruledb.Store a RuleManager writes through.
type RuleLookup interface {
	ReplaceSource(source rules.Source, newRules []*rules.Rule) error
	Counts() (allow, block int, err error)
}

// RuleManager ties the manifest resolver to the rule database and rule
// cache (§9's "RuleManager+Manifest" design note), generalized into a
// plain struct with an explicit optional timer field rather than the
// teacher-language's associated-object trick: "multiple start calls
// cancel the previous timer before installing a new one" is implemented
// literally by manifestUpdateTimer below.
type RuleManager struct {
	DB         RuleLookup
	Cache      *rulecache.Cache
	Resolver   *manifest.Resolver
	BaseURL    string
	Chain      []string
	EvalCtx    func() manifest.EvaluationContext
	HTTPClient *http.Client
	Logger     logging.Logger

	mu                  sync.Mutex
	manifestUpdateTimer *time.Timer
}

// New constructs a RuleManager. db and resolver must be non-nil; cache
// may be nil to disable the rule-set cache tier.
func New(db RuleLookup, cache *rulecache.Cache, resolver *manifest.Resolver, baseURL string, chain []string, logger logging.Logger) *RuleManager {
	return &RuleManager{
		DB:       db,
		Cache:    cache,
		Resolver: resolver,
		BaseURL:  baseURL,
		Chain:    chain,
		Logger:   logging.OrNop(logger),
	}
}

// SyncResult summarizes one Sync call and is returned to Sync's caller.
type SyncResult struct {
	Identifier  string
	ManagedRules int
	SourceRules  int
	Allow        int
	Block        int
}

// Sync resolves the manifest, converts its managed_rules and rule_sources
// into Rules, and atomically replaces the SourceManaged and
// SourceManifest partitions of the rule database (§2 "manifest resolver
// -> rule database"). It also refreshes the rule cache with the parsed
// rule set for each individual rule_source, keyed by that source's own
// id (§4.4), independent of the coarser SourceManaged/SourceManifest
// partition the database itself uses.
func (m *RuleManager) Sync(ctx context.Context) (*SyncResult, error) {
	evalCtx := manifest.EvaluationContext{}
	if m.EvalCtx != nil {
		evalCtx = m.EvalCtx()
	}

	resolved, err := m.Resolver.Resolve(ctx, m.BaseURL, m.Chain, evalCtx)
	if err != nil {
		return nil, fmt.Errorf("rulemanager: resolving manifest: %w", err)
	}

	managed := domainsToRules(resolved.Block, rules.Block, rules.SourceManaged, 0)
	managed = append(managed, domainsToRules(resolved.Allow, rules.Allow, rules.SourceManaged, 0)...)

	var fromSources []*rules.Rule
	for _, src := range resolved.RuleSources {
		if !src.IsEnabled() {
			continue
		}
		raw, err := m.fetchRuleSource(ctx, src)
		if err != nil {
			m.Logger.Warn("rulemanager: fetching rule source failed", "id", src.ID, "err", err)
			continue
		}
		parsed, err := parseRuleSource(raw, src)
		if err != nil {
			m.Logger.Warn("rulemanager: parsing rule source failed", "id", src.ID, "err", err)
			continue
		}
		fromSources = append(fromSources, parsed...)

		if m.Cache != nil && src.ID != "" {
			ttl := time.Duration(src.UpdateInterval) * time.Second
			m.Cache.Store(src.ID, parsed, ttl)
		}
	}

	if err := m.DB.ReplaceSource(rules.SourceManaged, managed); err != nil {
		return nil, fmt.Errorf("rulemanager: replacing managed rules: %w", err)
	}
	if err := m.DB.ReplaceSource(rules.SourceManifest, fromSources); err != nil {
		return nil, fmt.Errorf("rulemanager: replacing manifest rules: %w", err)
	}

	allow, block, err := m.DB.Counts()
	if err != nil {
		return nil, fmt.Errorf("rulemanager: reading counts: %w", err)
	}

	m.Logger.Info("rulemanager: synced", "identifier", resolved.Identifier,
		"managed_rules", len(managed), "source_rules", len(fromSources))

	return &SyncResult{
		Identifier:   resolved.Identifier,
		ManagedRules: len(managed),
		SourceRules:  len(fromSources),
		Allow:        allow,
		Block:        block,
	}, nil
}

// Start begins refreshing the rule database every interval, cancelling
// any timer installed by a previous Start call first (§9: "Multiple
// 'start' calls cancel the previous timer before installing a new one").
func (m *RuleManager) Start(interval time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.manifestUpdateTimer != nil {
		m.manifestUpdateTimer.Stop()
	}
	if interval <= 0 {
		interval = 300 * time.Second
	}

	var tick func()
	tick = func() {
		if _, err := m.Sync(context.Background()); err != nil {
			m.Logger.Warn("rulemanager: scheduled sync failed", "err", err)
		}
		m.mu.Lock()
		if m.manifestUpdateTimer != nil {
			m.manifestUpdateTimer = time.AfterFunc(interval, tick)
		}
		m.mu.Unlock()
	}
	m.manifestUpdateTimer = time.AfterFunc(interval, tick)
}

// Stop cancels the update timer started by Start, if any.
func (m *RuleManager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.manifestUpdateTimer != nil {
		m.manifestUpdateTimer.Stop()
		m.manifestUpdateTimer = nil
	}
}
