package manifest

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDetectFormat(t *testing.T) {
	require.Equal(t, FormatJSON, DetectFormat([]byte(`{"a":1}`)))
	require.Equal(t, FormatJSON, DetectFormat([]byte(`[1,2]`)))
	require.Equal(t, FormatPlist, DetectFormat([]byte("<?xml version=\"1.0\"?>")))
	require.Equal(t, FormatPlist, DetectFormat([]byte("bplist00")))
	require.Equal(t, FormatYAML, DetectFormat([]byte("manifest_version: \"1.0\"")))
}

func TestParse_JSON(t *testing.T) {
	raw := []byte(`{"manifest_version":"1.0","identifier":"default","managed_rules":{"block":["ads.example.com"]}}`)
	m, err := Parse(raw, "")
	require.NoError(t, err)
	require.Equal(t, "default", m.Identifier)
	require.Equal(t, []string{"ads.example.com"}, m.ManagedRules.Block)
}

func TestParse_YAML(t *testing.T) {
	raw := []byte("manifest_version: \"1.0\"\nidentifier: default\nmanaged_rules:\n  block:\n    - ads.example.com\n")
	m, err := Parse(raw, "")
	require.NoError(t, err)
	require.Equal(t, "default", m.Identifier)
	require.Equal(t, []string{"ads.example.com"}, m.ManagedRules.Block)
}

func TestValidate_MissingVersion(t *testing.T) {
	m := &Manifest{Identifier: "x"}
	err := Validate(m)
	require.Error(t, err)
	var invalid *ErrInvalidManifest
	require.ErrorAs(t, err, &invalid)
}

func TestValidate_MissingIdentifier(t *testing.T) {
	m := &Manifest{ManifestVersion: "1.0"}
	require.Error(t, Validate(m))
}

func TestValidate_RuleSourceMissingURL(t *testing.T) {
	m := &Manifest{
		ManifestVersion: "1.0",
		Identifier:      "x",
		RuleSources:     []RuleSource{{Type: SourceHTTPS}},
	}
	require.Error(t, Validate(m))
}

func TestValidate_RuleSourceMissingPath(t *testing.T) {
	m := &Manifest{
		ManifestVersion: "1.0",
		Identifier:      "x",
		RuleSources:     []RuleSource{{Type: SourceFile}},
	}
	require.Error(t, Validate(m))
}

func TestValidate_UnsupportedType(t *testing.T) {
	m := &Manifest{
		ManifestVersion: "1.0",
		Identifier:      "x",
		RuleSources:     []RuleSource{{Type: "ftp"}},
	}
	require.Error(t, Validate(m))
}

func TestValidate_Valid(t *testing.T) {
	m := &Manifest{
		ManifestVersion: "1.0",
		Identifier:      "x",
		RuleSources:     []RuleSource{{Type: SourceHTTPS, URL: "https://example.com/a"}},
	}
	require.NoError(t, Validate(m))
}
