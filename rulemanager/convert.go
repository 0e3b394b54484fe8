// Package rulemanager is the "RuleManager" design note (§9) made
// concrete: the component that ties manifest resolution to the rule
// database and rule cache. It fetches a manifest's managed_rules and
// rule_sources, converts them into rules.Rule values, and commits them to
// ruledb.Store and rulecache.Cache on a restartable timer, generalizing
// engine.Engine.ReloadRules's fan-out source loading (engine/engine.go)
// from an in-memory trie swap to a durable bulk upsert.
package rulemanager

import (
	"strings"

	"golang.org/x/net/idna"

	"github.com/gemini-oss/dnshield/rules"
)

// normalizeForRule lowercases domain, strips a trailing dot, and converts
// any non-ASCII labels to punycode, per §3's invariant that every
// Rule.Domain is "lowercase ASCII (after punycode normalization)".
// Domains that fail IDNA conversion (already-invalid input) are passed
// through NormalizeDomain alone; the rule simply won't match anything
// sensible, which is preferable to dropping the source entry outright.
func normalizeForRule(domain string) string {
	domain = strings.TrimSpace(domain)
	if ascii, err := idna.Lookup.ToASCII(domain); err == nil {
		domain = ascii
	}
	return rules.NormalizeDomain(domain)
}

// domainToRule converts one plain-text domain entry (as found in
// managed_rules or a hosts-format rule source) into a Rule, detecting the
// "*." wildcard prefix and AdGuard-style "||domain^" block syntax carried
// over from parser/parser.go's ParseRule.
func domainToRule(raw string, action rules.Action, source rules.Source, priority uint32) *rules.Rule {
	text := strings.TrimSpace(raw)
	if text == "" {
		return nil
	}

	r := &rules.Rule{Action: action, Source: source, Priority: priority}

	switch {
	case strings.HasPrefix(text, "||") && strings.HasSuffix(text, "^"):
		r.Type = rules.Wildcard
		r.Domain = normalizeForRule(text[2 : len(text)-1])
	case strings.HasPrefix(text, "*."):
		r.Type = rules.Wildcard
		r.Domain = normalizeForRule(rules.StripWildcardPrefix(text))
	default:
		r.Type = rules.Exact
		r.Domain = normalizeForRule(text)
	}

	if r.Domain == "" {
		return nil
	}
	return r
}

// domainsToRules converts a slice of plain-text domain entries into
// Rules sharing the same action/source/priority.
func domainsToRules(domains []string, action rules.Action, source rules.Source, priority uint32) []*rules.Rule {
	out := make([]*rules.Rule, 0, len(domains))
	for _, d := range domains {
		if r := domainToRule(d, action, source, priority); r != nil {
			out = append(out, r)
		}
	}
	return out
}
