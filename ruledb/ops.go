package ruledb

import (
	"fmt"
	"strings"

	"go.etcd.io/bbolt"

	"github.com/gemini-oss/dnshield/rules"
)

// AddBulk upserts every rule in one bbolt transaction, replacing any
// existing rule with the same (domain,type,source) key and updating all
// secondary indexes. Grounded on engine.Engine.ReloadRules's fan-out
// rebuild (engine/engine.go), here done transactionally instead of by
// swapping an in-memory map wholesale, since the store must survive a
// daemon restart (§4.3).
func (s *Store) AddBulk(batch []*rules.Rule) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, r := range batch {
			if err := upsertOne(tx, r); err != nil {
				return err
			}
		}
		return nil
	})
}

func upsertOne(tx *bbolt.Tx, r *rules.Rule) error {
	key := primaryKey(r.Key())
	primary := tx.Bucket(bucketPrimary)

	if existing := primary.Get(key); existing != nil {
		if err := unindexOne(tx, key, existing); err != nil {
			return err
		}
	}

	if err := primary.Put(key, encodeRule(r)); err != nil {
		return err
	}
	return indexOne(tx, key, r)
}

func indexOne(tx *bbolt.Tx, key []byte, r *rules.Rule) error {
	if err := appendIndexKey(tx, bucketBySource, sourceIndexKey(r.Source), key); err != nil {
		return err
	}
	if err := appendIndexKey(tx, bucketByAction, actionIndexKey(r.Type, r.Action), key); err != nil {
		return err
	}
	if r.Type == rules.Wildcard {
		wk := []byte(reversedLabels(r.Domain))
		if err := appendIndexKey(tx, bucketWildcard, wk, key); err != nil {
			return err
		}
	}
	return nil
}

func unindexOne(tx *bbolt.Tx, key, encoded []byte) error {
	old, err := decodeRule(encoded)
	if err != nil {
		return err
	}
	if err := removeIndexKey(tx, bucketBySource, sourceIndexKey(old.Source), key); err != nil {
		return err
	}
	if err := removeIndexKey(tx, bucketByAction, actionIndexKey(old.Type, old.Action), key); err != nil {
		return err
	}
	if old.Type == rules.Wildcard {
		wk := []byte(reversedLabels(old.Domain))
		if err := removeIndexKey(tx, bucketWildcard, wk, key); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the rule stored under key, or ErrNotFound.
func (s *Store) Get(key rules.RuleKey) (*rules.Rule, error) {
	var r *rules.Rule
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketPrimary).Get(primaryKey(key))
		if raw == nil {
			return ErrNotFound
		}
		decoded, err := decodeRule(raw)
		if err != nil {
			return err
		}
		r = decoded
		return nil
	})
	return r, err
}

// CandidatesFor returns every rule that could possibly match domain: all
// Exact rules for domain, all Regex rules (evaluated linearly per §4.3),
// and every Wildcard rule whose root domain is an ancestor of domain
// (found by a label-walk up domain's own label chain, mirroring
// engine/trie.go's suffix search but against the persisted wildcard
// index instead of an in-memory map).
func (s *Store) CandidatesFor(domain string) ([]*rules.Rule, error) {
	var out []*rules.Rule
	err := s.db.View(func(tx *bbolt.Tx) error {
		primary := tx.Bucket(bucketPrimary)

		// Exact: any (domain, Exact, *source) key has this exact prefix.
		prefix := append([]byte(domain), 0)
		c := primary.Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			r, err := decodeRule(v)
			if err != nil {
				return err
			}
			if r.Type == rules.Exact && r.Domain == domain {
				out = append(out, r)
			}
		}

		// Wildcard: walk every ancestor suffix of domain (including
		// domain itself, to support WildcardMode.IncludeRoot upstream).
		wcBucket := tx.Bucket(bucketWildcard)
		labels := strings.Split(domain, ".")
		for i := 0; i < len(labels); i++ {
			ancestor := strings.Join(labels[i:], ".")
			wk := []byte(reversedLabels(ancestor))
			set, err := decodeKeySet(wcBucket.Get(wk))
			if err != nil {
				return err
			}
			for pk := range set {
				raw := primary.Get([]byte(pk))
				if raw == nil {
					continue
				}
				r, err := decodeRule(raw)
				if err != nil {
					return err
				}
				out = append(out, r)
			}
		}

		// Regex: linear scan over every rule whose type is Regex.
		pc := primary.Cursor()
		for k, v := pc.First(); k != nil; k, v = pc.Next() {
			r, err := decodeRule(v)
			if err != nil {
				return err
			}
			if r.Type == rules.Regex {
				out = append(out, r)
			}
		}
		return nil
	})
	return out, err
}

func hasPrefix(b, prefix []byte) bool {
	return len(b) >= len(prefix) && string(b[:len(prefix)]) == string(prefix)
}

// DeleteBySource removes every rule whose Source is source, e.g. when a
// manifest is re-synced and its previous SourceManifest rules must be
// replaced wholesale (§4.8's syncRules command).
func (s *Store) DeleteBySource(source rules.Source) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		srcBucket := tx.Bucket(bucketBySource)
		ik := sourceIndexKey(source)
		set, err := decodeKeySet(srcBucket.Get(ik))
		if err != nil {
			return err
		}
		primary := tx.Bucket(bucketPrimary)
		for pk := range set {
			key := []byte(pk)
			raw := primary.Get(key)
			if raw == nil {
				continue
			}
			if err := unindexOne(tx, key, raw); err != nil {
				return err
			}
			if err := primary.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}

// Count returns the total number of stored rules.
func (s *Store) Count() (int, error) {
	n := 0
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketPrimary).ForEach(func(k, v []byte) error {
			n++
			return nil
		})
	})
	return n, err
}

// Counts returns the total number of stored rules partitioned by action
// (§4.3 "counts() -> totals by action (used by status)").
func (s *Store) Counts() (allow, block int, err error) {
	err = s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketPrimary).ForEach(func(k, v []byte) error {
			r, decErr := decodeRule(v)
			if decErr != nil {
				return decErr
			}
			if r.Action == rules.Allow {
				allow++
			} else {
				block++
			}
			return nil
		})
	})
	return allow, block, err
}

// ReplaceSource atomically removes every existing rule whose Source is
// source and inserts newRules in its place, within a single bbolt
// transaction, so a concurrent reader never observes a half-applied
// update (§5 "Rule updates from a single source are atomic"). newRules
// whose own Source differs from source are rejected with an error rather
// than silently accepted, since that would let a caller smuggle rules
// into a source's generation under a different identity.
func (s *Store) ReplaceSource(source rules.Source, newRules []*rules.Rule) error {
	for _, r := range newRules {
		if r.Source != source {
			return fmt.Errorf("ruledb: ReplaceSource(%s): rule %q has source %s", source, r.Domain, r.Source)
		}
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		srcBucket := tx.Bucket(bucketBySource)
		ik := sourceIndexKey(source)
		set, err := decodeKeySet(srcBucket.Get(ik))
		if err != nil {
			return err
		}
		primary := tx.Bucket(bucketPrimary)
		for pk := range set {
			key := []byte(pk)
			raw := primary.Get(key)
			if raw == nil {
				continue
			}
			if err := unindexOne(tx, key, raw); err != nil {
				return err
			}
			if err := primary.Delete(key); err != nil {
				return err
			}
		}
		for _, r := range newRules {
			if err := upsertOne(tx, r); err != nil {
				return err
			}
		}
		return nil
	})
}
