package rules

import "strings"

// Candidate is a Rule paired with the specificity of the match that
// produced it, used by Resolve to break ties between multiple matching
// rules (§4.2 step 4).
type Candidate struct {
	Rule        *Rule
	Specificity int // number of matched labels; higher is more specific
}

// MatchExact reports whether domain matches rule exactly (case-insensitive,
// both sides already normalized by NormalizeDomain at ingestion time).
func MatchExact(rule *Rule, domain string) bool {
	return rule.Type == Exact && rule.Domain == domain
}

// MatchWildcard reports whether domain is matched by a Wildcard rule whose
// stored Domain is the root (without "*."), under mode. Grounded on
// engine/trie.go's reversed-label suffix walk: a wildcard rule for
// "example.com" matches "a.example.com", "b.a.example.com", and, under
// IncludeRoot, "example.com" itself.
func MatchWildcard(rule *Rule, domain string, mode WildcardMode) bool {
	if rule.Type != Wildcard {
		return false
	}
	if domain == rule.Domain {
		return mode == IncludeRoot
	}
	return strings.HasSuffix(domain, "."+rule.Domain)
}

// MatchRegex reports whether domain matches rule's compiled pattern.
// Rule.Compile must have been called already; an uncompiled Regex rule
// never matches.
func MatchRegex(rule *Rule, domain string) bool {
	if rule.Type != Regex || rule.compiled == nil {
		return false
	}
	return rule.compiled.MatchString(domain)
}

// Matches reports whether rule applies to domain under the given wildcard
// mode, dispatching on rule.Type.
func Matches(rule *Rule, domain string, mode WildcardMode) bool {
	switch rule.Type {
	case Exact:
		return MatchExact(rule, domain)
	case Wildcard:
		return MatchWildcard(rule, domain, mode)
	case Regex:
		return MatchRegex(rule, domain)
	default:
		return false
	}
}

// specificity scores how specific a match is: Exact beats Wildcard beats
// Regex, and within Wildcard, a longer (more label) root domain beats a
// shorter one (§4.2 step 4, "more specific domain wins").
func specificity(rule *Rule, domain string) int {
	switch rule.Type {
	case Exact:
		return 1_000_000
	case Wildcard:
		return 1000 + labelCount(rule.Domain)
	case Regex:
		return 1
	default:
		return 0
	}
}

func labelCount(domain string) int {
	if domain == "" {
		return 0
	}
	return strings.Count(domain, ".") + 1
}
