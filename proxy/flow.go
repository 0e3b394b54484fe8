package proxy

import (
	"context"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/gemini-oss/dnshield/dnscache"
	"github.com/gemini-oss/dnshield/logging"
	"github.com/gemini-oss/dnshield/rules"
	"github.com/gemini-oss/dnshield/wire"
)

// RuleLookup is the subset of ruledb.Store the flow needs, narrowed to a
// port so flow.go can be tested without a real bbolt file.
type RuleLookup interface {
	CandidatesFor(domain string) ([]*rules.Rule, error)
}

// Upstream forwards a raw DNS query to addr and returns the raw response,
// narrowed from proxy/server.go's miekg/dns-backed implementation so
// Flow itself stays wire-format-only.
type Upstream interface {
	Exchange(ctx context.Context, raw []byte, addr string) ([]byte, error)
}

// Flow runs the per-query state machine of §4.7: RECEIVE → PARSE →
// CLASSIFY_SOURCE → CACHE_LOOKUP_DNS → RULE_LOOKUP →
// SYNTHESIZE_BLOCK/FORWARD_UPSTREAM → CACHE_DNS → RETURN. Grounded on
// server/dns.go's handleRequest, generalized from the teacher's
// engine.Engine.Resolve call into rules.Resolve over ruledb.Store
// candidates, and from a single fixed upstream into classify-then-route.
type Flow struct {
	RuleDB       RuleLookup
	Cache        *dnscache.Cache
	Classifier   *Classifier
	Upstreams    []string
	WildcardMode rules.WildcardMode
	Upstream     Upstream
	Logger       logging.Logger

	// Bypass forwards every query upstream without rule evaluation when
	// true; the cache is still consulted (§4.7 "Bypass mode").
	Bypass atomic.Bool

	// Offline, when it reports true, restricts the flow to serving from
	// cache only (§4.7 "Offline mode").
	Offline func() bool
}

// Handle runs one query through the full state machine and returns the
// raw response bytes to write back to the client.
func (f *Flow) Handle(ctx context.Context, raw []byte, source netip.AddrPort) []byte {
	query, err := wire.ParseQuery(raw)
	if err != nil {
		return wire.BuildFORMERR(raw)
	}

	route := f.Classifier.Classify(source)

	if cached, ok := f.Cache.Get(query.Domain, query.QType); ok {
		return rewriteID(cached, query.ID)
	}

	if f.Offline != nil && f.Offline() {
		return mustSERVFAIL(query)
	}

	if !f.Bypass.Load() {
		if resp, handled := f.tryRuleLookup(query); handled {
			return resp
		}
	}

	return f.forward(ctx, query, raw, route)
}

// tryRuleLookup resolves query's domain against the rule database. It
// returns (response, true) only for a Block verdict; Allow and Unknown
// both fall through to forwarding (§4.7's match arms for {Allow} and
// {Unknown} are identical — both forward upstream).
func (f *Flow) tryRuleLookup(query *wire.DNSQuery) ([]byte, bool) {
	candidates, err := f.RuleDB.CandidatesFor(query.Domain)
	if err != nil {
		f.Logger.Warn("proxy: rule lookup failed", "domain", query.Domain, "err", err)
		return nil, false
	}

	verdict := rules.Resolve(candidates, query.Domain, f.WildcardMode)
	if verdict == nil || verdict.Action != rules.Block {
		return nil, false
	}

	resp, err := synthesizeBlock(query)
	if err != nil {
		f.Logger.Warn("proxy: block synthesis failed", "domain", query.Domain, "err", err)
		return nil, false
	}
	return resp, true
}

func synthesizeBlock(query *wire.DNSQuery) ([]byte, error) {
	if query.QType == wire.TypeAAAA {
		return wire.BuildBlockedAAAA(query)
	}
	return wire.BuildBlockedA(query)
}

// forward sends query upstream (to route.ReturnTo when chain
// preservation applies, otherwise to the first configured upstream),
// caches a successful response, and applies the §7 failure policy
// (timeout/malformed upstream → SERVFAIL) on error.
func (f *Flow) forward(ctx context.Context, query *wire.DNSQuery, raw []byte, route Route) []byte {
	addr := f.upstreamAddr(route)

	resp, err := f.Upstream.Exchange(ctx, raw, addr)
	if err != nil {
		f.Logger.Warn("proxy: upstream exchange failed", "domain", query.Domain, "upstream", addr, "err", err)
		return mustSERVFAIL(query)
	}

	parsed, err := wire.ParseResponse(resp)
	if err != nil {
		f.Logger.Warn("proxy: malformed upstream response", "domain", query.Domain, "err", err)
		return mustSERVFAIL(query)
	}

	if parsed.RCode == wire.RCodeNoError {
		f.Cache.Insert(query.Domain, query.QType, resp, time.Duration(parsed.MinTTLSecs)*time.Second)
	}
	return rewriteID(resp, query.ID)
}

func (f *Flow) upstreamAddr(route Route) string {
	if route.EnforceOriginalResolver && route.ReturnTo.IsValid() {
		return route.ReturnTo.String()
	}
	if len(f.Upstreams) > 0 {
		return f.Upstreams[0]
	}
	return ""
}

// rewriteID returns a copy of raw with its transaction ID overwritten to
// match id, so a cached response (stored under whatever ID it originally
// carried) satisfies a later query with a different ID.
func rewriteID(raw []byte, id uint16) []byte {
	out := make([]byte, len(raw))
	copy(out, raw)
	if len(out) >= 2 {
		out[0] = byte(id >> 8)
		out[1] = byte(id)
	}
	return out
}

func mustSERVFAIL(query *wire.DNSQuery) []byte {
	resp, err := wire.BuildSERVFAIL(query)
	if err != nil {
		// BuildSERVFAIL only fails if query.Domain itself can't be
		// re-encoded, which ParseQuery already validated; this is
		// unreachable in practice but must still return something.
		return []byte{}
	}
	return resp
}
