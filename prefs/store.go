// Package prefs models the key-value preference store collaborator named
// in §1 and the preference table in §6 of the spec: ManifestURL,
// ManifestFormat, ClientIdentifier, VPNResolvers, and so on. On the real
// macOS-resident daemon these come from a `defaults`-managed preference
// domain; the core only needs the narrow Store interface below, generalized
// from config/manager.go's load-then-read-under-lock shape.
package prefs

import (
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Known preference keys, per the §6 table.
const (
	KeyManifestURL                 = "ManifestURL"
	KeySoftwareRepoURL             = "SoftwareRepoURL" // legacy alias for ManifestURL
	KeyManifestFormat              = "ManifestFormat"
	KeyManifestUpdateInterval      = "ManifestUpdateInterval"
	KeyClientIdentifier            = "ClientIdentifier"
	KeyManifestIdentifier          = "ManifestIdentifier" // legacy alias for ClientIdentifier
	KeyAdditionalHTTPHeaders       = "AdditionalHttpHeaders"
	KeyVPNResolvers                = "VPNResolvers"
	KeyEnableDNSChainPreservation  = "EnableDNSChainPreservation"
	KeyMaxRetries                  = "MaxRetries"
	KeyInitialBackoffMs            = "InitialBackoffMs"
	KeyDomainCacheRules            = "DomainCacheRules"
	KeyCacheBypassDomains          = "CacheBypassDomains"
)

// DefaultVPNResolvers are the CIDRs used when VPNResolvers is unset.
var DefaultVPNResolvers = []string{"100.64.0.0/10", "fc00::/7"}

// DomainCacheRule is one entry of the DomainCacheRules mapping: a domain
// glob pattern paired with a cache action and optional TTL override.
type DomainCacheRule struct {
	Pattern string        `yaml:"pattern"`
	Action  string        `yaml:"action"` // "never" | "always" | "custom"
	TTL     time.Duration `yaml:"ttl,omitempty"`
}

// Store is a key-value preference reader/writer. Get returns (nil, false)
// for an unset key so callers can apply the documented default themselves.
type Store interface {
	Get(key string) (any, bool)
	Set(key string, value any) error
}

// Snapshot is a typed, convenience view over a Store for the keys this
// core actually reads, with the §6 defaults applied.
type Snapshot struct {
	ManifestURL                string
	ManifestFormat             string
	ManifestUpdateInterval     time.Duration
	ClientIdentifier           string
	AdditionalHTTPHeaders      []string
	VPNResolvers               []string
	EnableDNSChainPreservation bool
	MaxRetries                 uint32
	InitialBackoff             time.Duration
	DomainCacheRules           []DomainCacheRule
	CacheBypassDomains         []string
}

// Read builds a Snapshot from s, applying §6 defaults for unset keys.
func Read(s Store) Snapshot {
	snap := Snapshot{
		ManifestFormat:             "json",
		ManifestUpdateInterval:     300 * time.Second,
		VPNResolvers:               append([]string(nil), DefaultVPNResolvers...),
		EnableDNSChainPreservation: true,
		MaxRetries:                 3,
		InitialBackoff:             250 * time.Millisecond,
	}

	if v, ok := s.Get(KeyManifestURL); ok {
		snap.ManifestURL, _ = v.(string)
	} else if v, ok := s.Get(KeySoftwareRepoURL); ok {
		snap.ManifestURL, _ = v.(string)
	}

	if v, ok := s.Get(KeyManifestFormat); ok {
		if str, ok := v.(string); ok && str != "" {
			snap.ManifestFormat = str
		}
	}

	if v, ok := s.Get(KeyManifestUpdateInterval); ok {
		if secs, ok := toInt(v); ok {
			snap.ManifestUpdateInterval = time.Duration(secs) * time.Second
		}
	}

	if v, ok := s.Get(KeyClientIdentifier); ok {
		snap.ClientIdentifier, _ = v.(string)
	} else if v, ok := s.Get(KeyManifestIdentifier); ok {
		snap.ClientIdentifier, _ = v.(string)
	}

	if v, ok := s.Get(KeyAdditionalHTTPHeaders); ok {
		snap.AdditionalHTTPHeaders, _ = toStringSlice(v)
	}

	if v, ok := s.Get(KeyVPNResolvers); ok {
		if vals, ok := toStringSlice(v); ok && len(vals) > 0 {
			snap.VPNResolvers = vals
		}
	}

	if v, ok := s.Get(KeyEnableDNSChainPreservation); ok {
		if b, ok := v.(bool); ok {
			snap.EnableDNSChainPreservation = b
		}
	}

	if v, ok := s.Get(KeyMaxRetries); ok {
		if n, ok := toInt(v); ok {
			snap.MaxRetries = uint32(n)
		}
	}

	if v, ok := s.Get(KeyInitialBackoffMs); ok {
		if n, ok := toInt(v); ok {
			snap.InitialBackoff = time.Duration(n) * time.Millisecond
		}
	}

	if v, ok := s.Get(KeyCacheBypassDomains); ok {
		snap.CacheBypassDomains, _ = toStringSlice(v)
	}

	if v, ok := s.Get(KeyDomainCacheRules); ok {
		if rules, ok := v.([]DomainCacheRule); ok {
			snap.DomainCacheRules = rules
		}
	}

	return snap
}

func toInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case uint32:
		return int64(n), true
	case float64:
		return int64(n), true
	}
	return 0, false
}

func toStringSlice(v any) ([]string, bool) {
	switch vals := v.(type) {
	case []string:
		return vals, true
	case []any:
		out := make([]string, 0, len(vals))
		for _, e := range vals {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out, true
	}
	return nil, false
}

// FileStore is a YAML-file-backed Store, generalizing config/manager.go's
// Manager (RWMutex-guarded load/get) from a single static config struct to
// an arbitrary key-value preference document.
type FileStore struct {
	mu   sync.RWMutex
	path string
	data map[string]any
}

// NewFileStore creates a FileStore reading/writing path. The file need not
// exist yet; Load tolerates a missing file as an empty preference set.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path, data: map[string]any{}}
}

// Load (re)reads the backing YAML file into memory.
func (f *FileStore) Load() error {
	b, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			f.mu.Lock()
			f.data = map[string]any{}
			f.mu.Unlock()
			return nil
		}
		return fmt.Errorf("prefs: read %s: %w", f.path, err)
	}

	var doc map[string]any
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return fmt.Errorf("prefs: parse %s: %w", f.path, err)
	}
	if doc == nil {
		doc = map[string]any{}
	}

	f.mu.Lock()
	f.data = doc
	f.mu.Unlock()
	return nil
}

// Get implements Store.
func (f *FileStore) Get(key string) (any, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	v, ok := f.data[key]
	return v, ok
}

// Set implements Store and persists the change to disk immediately.
func (f *FileStore) Set(key string, value any) error {
	f.mu.Lock()
	f.data[key] = value
	doc := make(map[string]any, len(f.data))
	for k, v := range f.data {
		doc[k] = v
	}
	f.mu.Unlock()

	b, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("prefs: marshal: %w", err)
	}
	if err := os.WriteFile(f.path, b, 0o644); err != nil {
		return fmt.Errorf("prefs: write %s: %w", f.path, err)
	}
	return nil
}

var _ Store = (*FileStore)(nil)
