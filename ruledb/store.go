// Package ruledb implements the persistent, indexed rule database of
// §4.3: bulk upsert, exact/wildcard/source lookup, and bulk invalidation
// by source, backed by go.etcd.io/bbolt so no component ever resorts to a
// SQL LIKE scan over a rules table. It generalizes engine/trie.go's
// in-memory reversed-label trie into a durable, transactional store.
package ruledb

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"go.etcd.io/bbolt"

	"github.com/gemini-oss/dnshield/rules"
)

var (
	bucketPrimary   = []byte("rules")          // key -> encoded Rule
	bucketBySource  = []byte("idx_source")     // source -> set of keys
	bucketByAction  = []byte("idx_type_action") // type\x00action -> set of keys
	bucketWildcard  = []byte("idx_wildcard")    // reversed(domain) -> set of keys
)

// ErrNotFound is returned when a lookup finds no matching rule.
var ErrNotFound = errors.New("ruledb: rule not found")

// Store is a bbolt-backed persistent rule database.
type Store struct {
	db *bbolt.DB
}

// Open opens (creating if necessary) the bbolt database at path and
// ensures all buckets exist. Grounded on the embedded-KV-store pattern
// shared by every pack repo that persists a filter list (AdGuardHome,
// haukened-rr-dns) rather than a relational table.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("ruledb: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketPrimary, bucketBySource, bucketByAction, bucketWildcard} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("ruledb: init buckets: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database file.
func (s *Store) Close() error { return s.db.Close() }

// primaryKey encodes a RuleKey as "domain\x00type\x00source" so the
// primary bucket sorts by domain, which keeps sequential full scans
// (CandidatesFor's regex pass, Count, Counts) domain-locality-friendly.
func primaryKey(k rules.RuleKey) []byte {
	var buf bytes.Buffer
	buf.WriteString(k.Domain)
	buf.WriteByte(0)
	binary.Write(&buf, binary.BigEndian, int32(k.Type))
	buf.WriteByte(0)
	binary.Write(&buf, binary.BigEndian, int32(k.Source))
	return buf.Bytes()
}

func sourceIndexKey(source rules.Source) []byte {
	return []byte(fmt.Sprintf("src:%d", int(source)))
}

func actionIndexKey(t rules.Type, a rules.Action) []byte {
	return []byte(fmt.Sprintf("ta:%d:%d", int(t), int(a)))
}

// reversedLabels returns domain's labels reversed and dot-joined, e.g.
// "a.b.example.com" -> "com.example.b.a", so the wildcard index bucket's
// keys sort by TLD first; CandidatesFor finds every rule whose root is an
// ancestor of a query domain with one lookup per ancestor suffix. Grounded on engine/trie.go's reversed-
// label node map, persisted as a sorted key prefix instead of nested maps.
func reversedLabels(domain string) string {
	if domain == "" {
		return ""
	}
	labels := strings.Split(domain, ".")
	for i, j := 0, len(labels)-1; i < j; i, j = i+1, j-1 {
		labels[i], labels[j] = labels[j], labels[i]
	}
	return strings.Join(labels, ".")
}

func appendIndexKey(tx *bbolt.Tx, bucket, indexKey, primary []byte) error {
	b := tx.Bucket(bucket)
	set, err := decodeKeySet(b.Get(indexKey))
	if err != nil {
		return err
	}
	set[string(primary)] = struct{}{}
	return b.Put(indexKey, encodeKeySet(set))
}

func removeIndexKey(tx *bbolt.Tx, bucket, indexKey, primary []byte) error {
	b := tx.Bucket(bucket)
	set, err := decodeKeySet(b.Get(indexKey))
	if err != nil {
		return err
	}
	delete(set, string(primary))
	if len(set) == 0 {
		return b.Delete(indexKey)
	}
	return b.Put(indexKey, encodeKeySet(set))
}

// encodeKeySet/decodeKeySet store a set of primary keys as newline-joined
// strings — a plain, inspectable encoding adequate for index postings
// that rarely exceed a few thousand entries per key.
func encodeKeySet(set map[string]struct{}) []byte {
	var buf bytes.Buffer
	for k := range set {
		buf.WriteString(k)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

func decodeKeySet(raw []byte) (map[string]struct{}, error) {
	set := make(map[string]struct{})
	if len(raw) == 0 {
		return set, nil
	}
	for _, part := range bytes.Split(raw, []byte{'\n'}) {
		if len(part) == 0 {
			continue
		}
		set[string(part)] = struct{}{}
	}
	return set, nil
}
