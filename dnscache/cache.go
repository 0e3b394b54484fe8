package dnscache

import (
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/gemini-oss/dnshield/clock"
	"github.com/gemini-oss/dnshield/wire"
)

const (
	minTTL = 30 * time.Second
	maxTTL = 300 * time.Second

	defaultCapacity = 10_000
)

// key identifies a cached response by lowercased domain and query type,
// per §4.5.
type key struct {
	domain string
	qtype  wire.QType
}

// entry is one cached response.
type entry struct {
	raw       []byte
	expiresAt time.Time
}

// Cache is the fixed-capacity DNS response cache described in §4.5.
// Direct generalization of server/cache.go's TTLCache: same
// get-if-not-expired / clamp-then-insert shape, made capacity-bounded
// (via hashicorp/golang-lru/v2, already wired for rulecache) and
// policy-aware instead of using a single global TTL.
type Cache struct {
	mu      sync.RWMutex
	entries *lru.Cache[key, entry]
	clock   clock.Clock
	policy  PolicySet
}

// Config configures a Cache.
type Config struct {
	Capacity int // default 10,000
	Clock    clock.Clock
	Policies []Policy
}

// New constructs a Cache from cfg.
func New(cfg Config) (*Cache, error) {
	if cfg.Capacity == 0 {
		cfg.Capacity = defaultCapacity
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	c, err := lru.New[key, entry](cfg.Capacity)
	if err != nil {
		return nil, err
	}
	return &Cache{
		entries: c,
		clock:   cfg.Clock,
		policy:  NewPolicySet(cfg.Policies),
	}, nil
}

// Get returns the cached response bytes for (domain, qtype), or
// (nil, false) on a miss or an expired entry.
func (c *Cache) Get(domain string, qtype wire.QType) ([]byte, bool) {
	domain = strings.ToLower(domain)
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries.Get(key{domain: domain, qtype: qtype})
	if !ok {
		return nil, false
	}
	if c.clock.Now().After(e.expiresAt) {
		return nil, false
	}
	return e.raw, true
}

// Insert stores raw's response bytes for (domain, qtype), clamping the
// effective TTL per the resolved per-domain Policy (§4.5). sourceTTL is
// the response's own min TTL as parsed from the wire; it is used
// verbatim (after clamping) unless the policy overrides it.
func (c *Cache) Insert(domain string, qtype wire.QType, raw []byte, sourceTTL time.Duration) {
	domain = strings.ToLower(domain)
	p := c.policy.Resolve(domain)
	if p.Kind == PolicyNever {
		return
	}

	ttl := clampTTL(sourceTTL)
	switch p.Kind {
	case PolicyAlways:
		ttl = maxTTL
	case PolicyCustom:
		ttl = clampTTL(p.TTL)
	}

	// Rewrite the TTL actually carried in the cached bytes so a later hit
	// reflects the clamped value rather than whatever upstream sent
	// (§4.5, §8 scenario "Cache TTL clamp"). Responses with no answer
	// record (NXDOMAIN, SERVFAIL) have nothing to rewrite; store as-is.
	if stamped, err := wire.UpdateTTL(raw, uint32(ttl.Seconds())); err == nil {
		raw = stamped
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Add(key{domain: domain, qtype: qtype}, entry{
		raw:       raw,
		expiresAt: c.clock.Now().Add(ttl),
	})
}

// clampTTL bounds ttl to [minTTL, maxTTL] per §4.5's insert clamp.
func clampTTL(ttl time.Duration) time.Duration {
	if ttl < minTTL {
		return minTTL
	}
	if ttl > maxTTL {
		return maxTTL
	}
	return ttl
}

// Len returns the number of entries currently in the cache, expired or
// not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries.Len()
}

// Purge empties the cache, used by command.clearCache (§4.8).
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Purge()
}
