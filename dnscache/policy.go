// Package dnscache implements the fixed-capacity DNS response cache of
// §4.5: a (domain,qtype)-keyed store of TTL-clamped response bytes, with
// per-domain never/always/custom caching policies and wildcard pattern
// matching. Direct generalization of server/cache.go's TTLCache.
package dnscache

import (
	"strings"
	"time"
)

// PolicyKind selects how a domain's responses should be cached.
type PolicyKind int

const (
	// PolicyDefault clamps the response's own TTL to [minTTL, maxTTL].
	PolicyDefault PolicyKind = iota
	// PolicyNever disables caching for matching domains entirely.
	PolicyNever
	// PolicyAlways caches for maxTTL regardless of the response's own TTL.
	PolicyAlways
	// PolicyCustom caches for a fixed TTL, still clamped to [minTTL, maxTTL].
	PolicyCustom
)

// Policy is one per-domain caching override (§6's DomainCacheRule, mapped
// to dnscache's own vocabulary).
type Policy struct {
	Pattern string // exact domain, or "*.suffix" wildcard
	Kind    PolicyKind
	TTL     time.Duration // only meaningful when Kind == PolicyCustom
}

// matches reports whether p's pattern matches domain, supporting the
// same "*.suffix" wildcard shape used by §6's preference table.
func (p Policy) matches(domain string) bool {
	if strings.HasPrefix(p.Pattern, "*.") {
		suffix := p.Pattern[1:] // keep the leading dot
		return domain == p.Pattern[2:] || strings.HasSuffix(domain, suffix)
	}
	return p.Pattern == domain
}

// PolicySet resolves the first matching Policy for a domain, in
// configuration order, falling back to PolicyDefault when none match.
type PolicySet struct {
	policies []Policy
}

// NewPolicySet builds a PolicySet from an ordered policy list.
func NewPolicySet(policies []Policy) PolicySet {
	return PolicySet{policies: policies}
}

// Resolve returns the first matching Policy for domain, or the zero
// (PolicyDefault) Policy when nothing matches.
func (ps PolicySet) Resolve(domain string) Policy {
	for _, p := range ps.policies {
		if p.matches(domain) {
			return p
		}
	}
	return Policy{Kind: PolicyDefault}
}
