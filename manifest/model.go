// Package manifest implements the manifest resolver of §4.6: identifier
// fallback, HTTP fetch with retry/backoff, JSON/YAML/plist parsing,
// conditional predicate evaluation, null-sanitization, and recursive
// include-graph resolution with disk caching. Grounded on
// parser/loader.go's Loader (LoadFromPath / LoadFromURLWithCache), whose
// fetch-then-cache-fallback shape this generalizes from "load one
// blocklist file" to "resolve a manifest and everything it includes".
package manifest

import "time"

// SourceType is the kind of rule source a Manifest references.
type SourceType string

const (
	SourceHTTPS SourceType = "https"
	SourceFile  SourceType = "file"
)

// RuleFormat is the on-disk/wire format of a rule source or manifest.
type RuleFormat string

const (
	FormatJSON  RuleFormat = "json"
	FormatYAML  RuleFormat = "yaml"
	FormatPlist RuleFormat = "plist"
	FormatHosts RuleFormat = "hosts"
)

// RuleSource is one reference to an externally hosted or local rule list
// (§4.6 "rule_sources[*]", §6 schema). Priority and UpdateInterval carry
// no Go-level default: per the §9 Open Question decision, callers must
// set them explicitly (the manifest document itself asserts 100/300 when
// it wants the documented defaults, per §6's schema comment).
type RuleSource struct {
	ID             string         `json:"id" yaml:"id"`
	Type           SourceType     `json:"type" yaml:"type"`
	URL            string         `json:"url,omitempty" yaml:"url,omitempty"`
	Path           string         `json:"path,omitempty" yaml:"path,omitempty"`
	Format         RuleFormat     `json:"format,omitempty" yaml:"format,omitempty"`
	Priority       uint32         `json:"priority,omitempty" yaml:"priority,omitempty"`
	UpdateInterval uint32         `json:"updateInterval,omitempty" yaml:"updateInterval,omitempty"`
	// Enabled is a pointer so an absent field is distinguishable from an
	// explicit "enabled": false; IsEnabled treats absence as enabled.
	Enabled       *bool          `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Configuration map[string]any `json:"configuration,omitempty" yaml:"configuration,omitempty"`
}

// IsEnabled reports whether src should be treated as active: true unless
// the document explicitly set "enabled": false.
func (src RuleSource) IsEnabled() bool {
	return src.Enabled == nil || *src.Enabled
}

// ManagedRules is the inline allow/block domain list a manifest may carry
// directly, restricted to the allow/block keys (§4.6 validation).
type ManagedRules struct {
	Allow []string `json:"allow,omitempty" yaml:"allow,omitempty"`
	Block []string `json:"block,omitempty" yaml:"block,omitempty"`
}

// ConditionalItem bundles a predicate with the rules/sources/includes
// that apply only when it evaluates true (§4.6 "Conditional evaluation").
// Priority is optional and, when set, overrides the priority any
// RuleSources this item contributes would otherwise carry.
type ConditionalItem struct {
	Condition        string       `json:"condition" yaml:"condition"`
	ManagedRules     ManagedRules `json:"managed_rules,omitempty" yaml:"managed_rules,omitempty"`
	RuleSources      []RuleSource `json:"rule_sources,omitempty" yaml:"rule_sources,omitempty"`
	IncludedManifests []string    `json:"included_manifests,omitempty" yaml:"included_manifests,omitempty"`
	Priority         *uint32      `json:"priority,omitempty" yaml:"priority,omitempty"`
}

// Manifest is one decoded manifest document, prior to include resolution
// (§6 schema).
type Manifest struct {
	ManifestVersion   string            `json:"manifest_version" yaml:"manifest_version"`
	Identifier        string            `json:"identifier" yaml:"identifier"`
	DisplayName       string            `json:"display_name,omitempty" yaml:"display_name,omitempty"`
	IncludedManifests []string          `json:"included_manifests,omitempty" yaml:"included_manifests,omitempty"`
	ManagedRules      ManagedRules      `json:"managed_rules,omitempty" yaml:"managed_rules,omitempty"`
	RuleSources       []RuleSource      `json:"rule_sources,omitempty" yaml:"rule_sources,omitempty"`
	ConditionalItems  []ConditionalItem `json:"conditional_items,omitempty" yaml:"conditional_items,omitempty"`
	Metadata          map[string]any    `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// ResolvedManifest is the final, flattened result of walking a manifest's
// include graph and evaluating its conditional items (§4.6 "Merging").
type ResolvedManifest struct {
	Identifier  string
	Allow       []string
	Block       []string
	RuleSources []RuleSource
}

// EvaluationContext supplies the variables §4.6's predicate language
// evaluates against: time, system, network, user, and caller-provided
// custom keys.
type EvaluationContext struct {
	// Time
	Now         time.Time
	TimeOfDay   string // "HH:MM", derived from Now unless set explicitly
	DayOfWeek   string
	IsWeekend   bool
	CurrentDate string

	// System
	OSVersion   string
	DeviceType  string
	DeviceModel string

	// Network
	NetworkLocation string
	NetworkSSID     string
	VPNConnected    bool
	VPNIdentifier   string

	// User
	UserGroup        string
	DeviceIdentifier string
	SecurityScore    float64

	// Custom, caller-provided keys, merged into the evaluation environment
	// at the top level (§4.6 "caller-provided custom keys").
	Custom map[string]any
}
