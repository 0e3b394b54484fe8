package rulecache

import (
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"
)

var bucketEntries = []byte("entries")

// diskTier is an optional, size-bounded persistence layer backed by
// bbolt, storing each Entry as JSON — the same json.Encoder/Decoder
// approach folbricht-routedns's lruCache.serialize/deserialize uses for
// its own disk persistence, adapted to a real-file KV store instead of a
// single append-only stream since entries must be independently
// invalidated.
type diskTier struct {
	db       *bbolt.DB
	maxBytes int64
}

func newDiskTier(path string, maxBytes int64) (*diskTier, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("rulecache: open disk tier %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketEntries)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("rulecache: init disk tier: %w", err)
	}
	return &diskTier{db: db, maxBytes: maxBytes}, nil
}

func (d *diskTier) close() error { return d.db.Close() }

func (d *diskTier) get(sourceID string) (Entry, bool, error) {
	var entry Entry
	found := false
	err := d.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketEntries).Get([]byte(sourceID))
		if raw == nil {
			return nil
		}
		if err := json.Unmarshal(raw, &entry); err != nil {
			return err
		}
		found = true
		return nil
	})
	return entry, found, err
}

func (d *diskTier) store(entry Entry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return d.db.Update(func(tx *bbolt.Tx) error {
		if err := enforceDiskBudget(tx, d.maxBytes, int64(len(raw))); err != nil {
			return err
		}
		return tx.Bucket(bucketEntries).Put([]byte(entry.SourceID), raw)
	})
}

// enforceDiskBudget evicts the oldest-stored entries (by StoredAt) until
// there is room for an incoming write of incomingSize bytes, per §4.4's
// disk tier being "bounded by a configurable size".
func enforceDiskBudget(tx *bbolt.Tx, maxBytes, incomingSize int64) error {
	b := tx.Bucket(bucketEntries)
	total := int64(0)
	type candidate struct {
		key      []byte
		size     int64
		storedAt int64
	}
	var candidates []candidate

	c := b.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		total += int64(len(v))
		var e Entry
		if err := json.Unmarshal(v, &e); err == nil {
			candidates = append(candidates, candidate{key: append([]byte{}, k...), size: int64(len(v)), storedAt: e.StoredAt.UnixNano()})
		}
	}

	if total+incomingSize <= maxBytes {
		return nil
	}

	// Oldest first.
	for i := 0; i < len(candidates); i++ {
		for j := i + 1; j < len(candidates); j++ {
			if candidates[j].storedAt < candidates[i].storedAt {
				candidates[i], candidates[j] = candidates[j], candidates[i]
			}
		}
	}

	for _, cand := range candidates {
		if total+incomingSize <= maxBytes {
			break
		}
		if err := b.Delete(cand.key); err != nil {
			return err
		}
		total -= cand.size
	}
	return nil
}

func (d *diskTier) remove(sourceID string) error {
	return d.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketEntries).Delete([]byte(sourceID))
	})
}

func (d *diskTier) keys() ([]string, error) {
	var keys []string
	err := d.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketEntries).ForEach(func(k, v []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	return keys, err
}
