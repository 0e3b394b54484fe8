package rulecache

import (
	"sync"
	"time"

	"github.com/gemini-oss/dnshield/clock"
	"github.com/gemini-oss/dnshield/logging"
	"github.com/gemini-oss/dnshield/rules"
)

// Stats tracks memory/disk hits and misses and computes a hit rate.
// Cache never fills in LastLoadTimes, and Stats carries no sizes; the
// memory tier's current size is reported by Cache.MemorySize.
type Stats struct {
	MemoryHits   uint64
	MemoryMisses uint64
	DiskHits     uint64
	DiskMisses   uint64
	LastLoadTimes []time.Duration
}

// HitRate returns the overall (memory+disk) hit rate, or 0 if there have
// been no lookups yet.
func (s Stats) HitRate() float64 {
	hits := s.MemoryHits + s.DiskHits
	total := s.MemoryHits + s.MemoryMisses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

const maxLoadTimeSamples = 50

// Cache is the two-tier rule-set cache described in §4.4: an in-memory
// LRU tier always present, and an optional disk tier for persistence
// across restarts. Grounded on folbricht-routedns/cache-memory.go's
// memoryBackend (Store/Lookup/Evict/startGC shape), generalized from
// per-query DNS answer caching to per-source rule-set caching.
type Cache struct {
	mu     sync.Mutex
	memory *memoryTier
	disk   *diskTier // nil if persistence disabled
	clock  clock.Clock
	logger logging.Logger
	stats  Stats

	defaultTTL time.Duration
	stopSweep  chan struct{}
}

// Config configures a Cache.
type Config struct {
	MemoryMaxBytes int64         // default ~16MB
	DiskMaxBytes   int64         // default ~128MB; 0 with DiskPath="" disables the disk tier
	DiskPath       string        // empty disables persistence
	DefaultTTL     time.Duration // entry lifetime used by store() unless overridden
	SweepInterval  time.Duration // defaulted to 5 min but not read by Cache; StartSweep takes its own interval
	Clock          clock.Clock
	Logger         logging.Logger
}

// New constructs a Cache from cfg, applying §4.4's defaults for any zero
// field.
func New(cfg Config) (*Cache, error) {
	if cfg.MemoryMaxBytes == 0 {
		cfg.MemoryMaxBytes = 16 * 1024 * 1024
	}
	if cfg.DiskMaxBytes == 0 {
		cfg.DiskMaxBytes = 128 * 1024 * 1024
	}
	if cfg.DefaultTTL == 0 {
		cfg.DefaultTTL = 1 * time.Hour
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = 5 * time.Minute
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	cfg.Logger = logging.OrNop(cfg.Logger)

	mem, err := newMemoryTier(cfg.MemoryMaxBytes)
	if err != nil {
		return nil, err
	}

	var disk *diskTier
	if cfg.DiskPath != "" {
		disk, err = newDiskTier(cfg.DiskPath, cfg.DiskMaxBytes)
		if err != nil {
			return nil, err
		}
	}

	return &Cache{
		memory:     mem,
		disk:       disk,
		clock:      cfg.Clock,
		logger:     cfg.Logger,
		defaultTTL: cfg.DefaultTTL,
	}, nil
}

// Close releases the disk tier's file handle, if any, and stops the
// sweep goroutine if it was started.
func (c *Cache) Close() error {
	c.StopSweep()
	if c.disk != nil {
		return c.disk.close()
	}
	return nil
}

// Store inserts ruleSet under sourceID into the memory tier, and the disk
// tier too when persistence is enabled (§4.4 store operation). A ttl of
// 0 uses the cache's configured default.
func (c *Cache) Store(sourceID string, ruleSet []*rules.Rule, ttl time.Duration) {
	if ttl == 0 {
		ttl = c.defaultTTL
	}
	now := c.clock.Now()
	entry := Entry{
		SourceID:  sourceID,
		RuleSet:   ruleSet,
		StoredAt:  now,
		ExpiresAt: now.Add(ttl),
	}
	c.memory.store(entry)
	if c.disk != nil {
		if err := c.disk.store(entry); err != nil {
			c.logger.Warn("rulecache: disk store failed", "source_id", sourceID, "err", err)
		}
	}
	c.logger.Debug("rulecache: stored", "source_id", sourceID, "rules", len(entry.RuleSet))
}

// Get looks up sourceID, memory first, then disk with promotion back to
// memory on a disk hit (§4.4 get operation). It returns (entry, false) on
// a miss, including when the remaining TTL is below
// defaultTTL - maxAge.
func (c *Cache) Get(sourceID string, maxAge time.Duration) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	minRemaining := c.defaultTTL - maxAge

	if entry, ok := c.memory.get(sourceID); ok {
		if entry.remainingTTL(now) >= minRemaining {
			c.stats.MemoryHits++
			return entry, true
		}
		c.stats.MemoryMisses++
		return Entry{}, false
	}
	c.stats.MemoryMisses++

	if c.disk == nil {
		c.stats.DiskMisses++
		return Entry{}, false
	}

	entry, found, err := c.disk.get(sourceID)
	if err != nil {
		c.logger.Warn("rulecache: disk get failed", "source_id", sourceID, "err", err)
		c.stats.DiskMisses++
		return Entry{}, false
	}
	if !found || entry.remainingTTL(now) < minRemaining {
		c.stats.DiskMisses++
		return Entry{}, false
	}

	c.stats.DiskHits++
	c.memory.store(entry) // promote
	return entry, true
}

// Invalidate removes sourceID from both tiers (§4.4 invalidate).
func (c *Cache) Invalidate(sourceID string) {
	c.memory.remove(sourceID)
	if c.disk != nil {
		if err := c.disk.remove(sourceID); err != nil {
			c.logger.Warn("rulecache: disk remove failed", "source_id", sourceID, "err", err)
		}
	}
	c.logger.Debug("rulecache: evicted", "source_id", sourceID)
}

// PurgeAll evicts every source from both tiers, per §4.8's clearCache
// command ("flush both caches").
func (c *Cache) PurgeAll() {
	for _, key := range c.memory.keys() {
		c.Invalidate(key)
	}
	if c.disk != nil {
		keys, err := c.disk.keys()
		if err != nil {
			c.logger.Warn("rulecache: disk keys failed during purge", "err", err)
			return
		}
		for _, key := range keys {
			c.Invalidate(key)
		}
	}
}

// PreloadAll reads every key from the disk tier and hydrates the memory
// tier with it, per §4.4's preload_all startup step.
func (c *Cache) PreloadAll() error {
	if c.disk == nil {
		return nil
	}
	keys, err := c.disk.keys()
	if err != nil {
		return err
	}
	now := c.clock.Now()
	for _, key := range keys {
		entry, found, err := c.disk.get(key)
		if err != nil || !found {
			continue
		}
		if entry.remainingTTL(now) <= 0 {
			continue
		}
		c.memory.store(entry)
	}
	return nil
}

// Sweep removes expired entries from both tiers. Safe to call directly
// as well as from the periodic goroutine started by StartSweep.
func (c *Cache) Sweep() {
	now := c.clock.Now()
	for _, key := range c.memory.keys() {
		entry, ok := c.memory.get(key)
		if ok && entry.remainingTTL(now) <= 0 {
			c.memory.remove(key)
		}
	}
	if c.disk == nil {
		return
	}
	keys, err := c.disk.keys()
	if err != nil {
		return
	}
	for _, key := range keys {
		entry, found, err := c.disk.get(key)
		if err != nil || !found {
			continue
		}
		if entry.remainingTTL(now) <= 0 {
			_ = c.disk.remove(key)
		}
	}
}

// StartSweep launches the periodic sweep goroutine (§4.4 "Periodic sweep
// ... removes expired entries from both tiers"). Call StopSweep or Close
// to stop it.
func (c *Cache) StartSweep(interval time.Duration) {
	if interval == 0 {
		interval = 5 * time.Minute
	}
	c.stopSweep = make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.Sweep()
			case <-c.stopSweep:
				return
			}
		}
	}()
}

// StopSweep stops the goroutine started by StartSweep, if running.
func (c *Cache) StopSweep() {
	if c.stopSweep != nil {
		close(c.stopSweep)
		c.stopSweep = nil
	}
}

// Stats returns a snapshot of the cache's running statistics.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// MemorySize returns the memory tier's current approximate byte size.
func (c *Cache) MemorySize() int64 { return c.memory.size() }
