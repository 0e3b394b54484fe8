package rules

import "sort"

// Resolve applies the five-step precedence ladder (§4.2) over the set of
// rules that match domain, and returns the winning rule, or nil if no
// rule matches. Grounded on engine.Engine.Resolve (engine/engine.go),
// whose ordered match-group evaluation this generalizes:
//
//  1. Action: among matches, Allow never loses to Block regardless of
//     source or priority — this mirrors the teacher's
//     important-whitelist/important-block split, collapsed into a single
//     Allow-wins rule since the spec's Rule model carries no "important"
//     flag.
//  2. Priority: higher Rule.Priority wins.
//  3. Source: lower Source.rank() (User < Managed < Manifest < System <
//     Default) wins.
//  4. Specificity: Exact beats Wildcard beats Regex; among Wildcard
//     matches, more labels in the root domain wins.
//  5. Lexicographic: Rule.Domain, ascending, as a final deterministic
//     tiebreak.
func Resolve(candidates []*Rule, domain string, mode WildcardMode) *Rule {
	matched := make([]*Rule, 0, len(candidates))
	for _, r := range candidates {
		if Matches(r, domain, mode) {
			matched = append(matched, r)
		}
	}
	if len(matched) == 0 {
		return nil
	}
	if len(matched) == 1 {
		return matched[0]
	}

	sort.SliceStable(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]

		if a.Action != b.Action {
			return a.Action == Allow
		}
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if a.Source.rank() != b.Source.rank() {
			return a.Source.rank() < b.Source.rank()
		}
		sa, sb := specificity(a, domain), specificity(b, domain)
		if sa != sb {
			return sa > sb
		}
		return a.Domain < b.Domain
	})

	return matched[0]
}
