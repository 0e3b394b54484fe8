package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"howett.net/plist"
	"gopkg.in/yaml.v3"
)

// ErrInvalidManifest wraps a manifest validation failure (§4.6
// "Validate").
type ErrInvalidManifest struct {
	Reason string
}

func (e *ErrInvalidManifest) Error() string {
	return fmt.Sprintf("manifest: invalid manifest: %s", e.Reason)
}

// DetectFormat sniffs raw's format by content, per §4.6: `{`/`[` leads
// with JSON, `<?xml`/`bplist` leads with plist, otherwise YAML.
func DetectFormat(raw []byte) RuleFormat {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return FormatYAML
	}
	switch trimmed[0] {
	case '{', '[':
		return FormatJSON
	}
	if bytes.HasPrefix(trimmed, []byte("<?xml")) || bytes.HasPrefix(trimmed, []byte("bplist")) {
		return FormatPlist
	}
	return FormatYAML
}

// Parse decodes raw as a Manifest, auto-detecting the format unless
// preferred is non-empty, in which case preferred is tried first and
// DetectFormat's guess is the fallback. Grounded on parser/loader.go's
// LoadFromPath dispatch-by-extension, generalized to dispatch by content
// sniff (§4.6 names no file extension requirement for fetched manifests).
func Parse(raw []byte, preferred RuleFormat) (*Manifest, error) {
	format := preferred
	if format == "" {
		format = DetectFormat(raw)
	}

	var m Manifest
	var err error
	switch format {
	case FormatJSON:
		err = json.Unmarshal(raw, &m)
	case FormatYAML:
		err = yaml.Unmarshal(raw, &m)
	case FormatPlist:
		err = plist.Unmarshal(raw, &m)
	default:
		return nil, fmt.Errorf("manifest: unsupported format %q", format)
	}
	if err != nil {
		if preferred != "" && DetectFormat(raw) != preferred {
			return Parse(raw, "")
		}
		return nil, fmt.Errorf("manifest: decoding %s: %w", format, err)
	}

	if err := Validate(&m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks the structural invariants §4.6 lists: a supported
// manifest_version, a non-empty identifier, well-formed rule_sources, and
// managed_rules keys restricted to allow/block (enforced structurally by
// ManagedRules already only declaring those two fields — this validates
// the remaining constraints that the type system can't).
func Validate(m *Manifest) error {
	if m.ManifestVersion != "1.0" {
		return &ErrInvalidManifest{Reason: fmt.Sprintf("unsupported manifest_version %q", m.ManifestVersion)}
	}
	if strings.TrimSpace(m.Identifier) == "" {
		return &ErrInvalidManifest{Reason: "missing identifier"}
	}
	for i, src := range m.RuleSources {
		if err := validateRuleSource(i, src); err != nil {
			return err
		}
	}
	for _, item := range m.ConditionalItems {
		if strings.TrimSpace(item.Condition) == "" {
			return &ErrInvalidManifest{Reason: "conditional_items entry missing condition"}
		}
		for i, src := range item.RuleSources {
			if err := validateRuleSource(i, src); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateRuleSource(i int, src RuleSource) error {
	switch src.Type {
	case SourceHTTPS:
		if strings.TrimSpace(src.URL) == "" {
			return &ErrInvalidManifest{Reason: fmt.Sprintf("rule_sources[%d]: type=https requires url", i)}
		}
	case SourceFile:
		if strings.TrimSpace(src.Path) == "" {
			return &ErrInvalidManifest{Reason: fmt.Sprintf("rule_sources[%d]: type=file requires path", i)}
		}
	default:
		return &ErrInvalidManifest{Reason: fmt.Sprintf("rule_sources[%d]: unsupported type %q", i, src.Type)}
	}
	return nil
}
