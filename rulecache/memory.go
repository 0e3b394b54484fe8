package rulecache

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// memoryTier is an LRU cache over Entry, additionally bounded by total
// approximate byte size (§4.4 "bounded by total approximate byte size,
// default ~16MB"), since golang-lru/v2 alone only bounds by entry count.
// Grounded on the LRU usage in xiguagua-tailscale/bavix-outway's go.mod,
// extended with a running byte-size accountant the way
// folbricht-routedns/cache-memory.go tracks its own entry count.
type memoryTier struct {
	mu       sync.Mutex
	lru      *lru.Cache[string, Entry]
	maxBytes int64
	curBytes int64
}

func newMemoryTier(maxBytes int64) (*memoryTier, error) {
	// capacity is a hard backstop on entry count (very large; the byte
	// budget is the tier's real limit) so a pathological flood of tiny
	// entries can't grow the underlying map without bound.
	const capacityBackstop = 100_000
	m := &memoryTier{maxBytes: maxBytes}
	c, err := lru.NewWithEvict[string, Entry](capacityBackstop, m.onEvict)
	if err != nil {
		return nil, err
	}
	m.lru = c
	return m, nil
}

// onEvict is called by the LRU whenever an entry leaves it (entry-count
// backstop, RemoveOldest, or Remove); it is the only place curBytes is
// reduced for a departing entry.
func (m *memoryTier) onEvict(key string, entry Entry) {
	m.curBytes -= entry.approxSize()
}

func (m *memoryTier) get(sourceID string) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lru.Get(sourceID)
}

func (m *memoryTier) store(entry Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.lru.Peek(entry.SourceID); ok {
		m.curBytes -= old.approxSize()
	}
	m.lru.Add(entry.SourceID, entry)
	m.curBytes += entry.approxSize()

	for m.curBytes > m.maxBytes {
		_, _, ok := m.lru.RemoveOldest()
		if !ok {
			break
		}
	}
}

func (m *memoryTier) remove(sourceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lru.Remove(sourceID)
}

func (m *memoryTier) size() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.curBytes
}

func (m *memoryTier) keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lru.Keys()
}
