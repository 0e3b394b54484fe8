// Package rulecache implements the two-tier (memory LRU + optional disk)
// rule-set cache of §4.4: each entry holds the parsed Rule slice fetched
// for one rule source, keyed by source_id, so a hot source's rules don't
// require re-fetching/re-parsing/re-running the database lookup on every
// refresh cycle.
package rulecache

import (
	"time"

	"github.com/gemini-oss/dnshield/rules"
)

// Entry is one cached rule set, as fetched from a single rule source.
type Entry struct {
	SourceID  string
	RuleSet   []*rules.Rule
	StoredAt  time.Time
	ExpiresAt time.Time
}

// remainingTTL returns how much of the entry's lifetime is left as of now.
func (e Entry) remainingTTL(now time.Time) time.Duration {
	return e.ExpiresAt.Sub(now)
}

// approxSize estimates the entry's memory footprint in bytes, used by the
// memory tier's byte-size-bounded eviction (§4.4 "bounded by total
// approximate byte size"). It doesn't need to be exact, only monotonic in
// rule-set size and domain-string length.
func (e Entry) approxSize() int64 {
	const perRuleOverhead = 64 // enum fields, priority, struct header
	size := int64(len(e.SourceID)) + perRuleOverhead
	for _, r := range e.RuleSet {
		size += int64(len(r.Domain)) + int64(len(r.Comment)) + perRuleOverhead
	}
	return size
}
