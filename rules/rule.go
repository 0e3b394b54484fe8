// Package rules implements the rule model and precedence resolution of
// §4.2: exact, wildcard, and regex rules, with a five-step precedence
// ladder over a candidate match set. It generalizes engine.Engine.Resolve's
// match-group evaluation (important-whitelist beats important-block beats
// whitelist beats block) into the spec's action/priority/source/
// specificity/lexicographic ladder.
package rules

import (
	"regexp"
	"strings"
)

// Type is the rule matching strategy.
type Type int

const (
	Exact Type = iota
	Wildcard
	Regex
)

func (t Type) String() string {
	switch t {
	case Exact:
		return "Exact"
	case Wildcard:
		return "Wildcard"
	case Regex:
		return "Regex"
	default:
		return "Unknown"
	}
}

// Action is the effect a matching rule has on a query.
type Action int

const (
	// Block takes the integer encoding 0, Allow takes 1 — this mirrors the
	// persisted `action` column's encoding in §6 (0=Block, 1=Allow), kept
	// equal in both layers so ruledb never has to translate.
	Block Action = 0
	Allow Action = 1
)

func (a Action) String() string {
	if a == Allow {
		return "Allow"
	}
	return "Block"
}

// Source is the origin of a rule, used for bulk invalidation and as a
// precedence tiebreak. Order matters: User > Managed > Manifest > System >
// Default, most-trusted first (§4.2 step 3).
type Source int

const (
	SourceUser Source = iota
	SourceManaged
	SourceManifest
	SourceSystem
	SourceDefault
)

func (s Source) String() string {
	switch s {
	case SourceUser:
		return "User"
	case SourceManaged:
		return "Managed"
	case SourceManifest:
		return "Manifest"
	case SourceSystem:
		return "System"
	case SourceDefault:
		return "Default"
	default:
		return "Unknown"
	}
}

// rank returns the source's precedence rank; lower ranks win (§4.2 step 3).
func (s Source) rank() int { return int(s) }

// WildcardMode controls whether a Wildcard rule also matches its own root
// domain (§3 invariants).
type WildcardMode int

const (
	// SubdomainsOnly: *.example.com matches sub.example.com but not
	// example.com itself.
	SubdomainsOnly WildcardMode = iota
	// IncludeRoot: *.example.com matches example.com and all subdomains.
	IncludeRoot
)

// Rule is one filtering rule (§3 data model).
type Rule struct {
	Domain  string // lowercase ASCII, leading "*." stripped for Wildcard
	Type    Type
	Action  Action
	Source  Source
	Priority uint32
	Comment string

	// compiled is set lazily for Regex rules by Compile.
	compiled *regexp.Regexp
}

// Key returns the (domain, type, source) identity §3 and §4.3 use to
// dedupe and to replace-on-upsert.
func (r *Rule) Key() RuleKey {
	return RuleKey{Domain: r.Domain, Type: r.Type, Source: r.Source}
}

// RuleKey is the unique identity of a Rule within the database.
type RuleKey struct {
	Domain string
	Type   Type
	Source Source
}

// Compile compiles a Regex rule's pattern and holds the result on this
// Rule value, so MatchRegex on it does not recompile. It is a no-op,
// returning nil, for non-Regex rules. ruledb calls it each time it decodes
// a stored Regex rule, so rules read back from the database are compiled
// again on every lookup. Grounded on engine.Engine's RegexRule wrapper
// (engine/engine.go) and blocklistdb-regexp.go's NewRegexpDB.
func (r *Rule) Compile() error {
	if r.Type != Regex {
		return nil
	}
	re, err := regexp.Compile(r.Domain)
	if err != nil {
		return err
	}
	r.compiled = re
	return nil
}

// NormalizeDomain lowercases a domain and strips a trailing dot, per the
// §3 invariant that every Rule.Domain is lowercase ASCII. Punycode
// conversion of non-ASCII labels is the caller's responsibility (done once
// at ingestion, e.g. in manifest parsing) since it requires an IDNA
// profile decision the rule model itself shouldn't make per-lookup.
func NormalizeDomain(domain string) string {
	domain = strings.TrimSuffix(domain, ".")
	return strings.ToLower(domain)
}

// StripWildcardPrefix removes a leading "*." from domain, per §3's
// invariant that Wildcard rules are stored without it.
func StripWildcardPrefix(domain string) string {
	return strings.TrimPrefix(domain, "*.")
}
