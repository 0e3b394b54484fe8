package rulemanager

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
	"howett.net/plist"

	"github.com/gemini-oss/dnshield/manifest"
	"github.com/gemini-oss/dnshield/rules"
)

// fetchRuleSource retrieves the raw bytes of src, over HTTP for
// SourceHTTPS or from the local filesystem for SourceFile. Grounded on
// parser/loader.go's LoadFromPath/LoadFromURLWithCache split, minus the
// teacher's own file-based cache (that concern now belongs to
// rulecache.Cache, which already persists per-source rule sets).
func (m *RuleManager) fetchRuleSource(ctx context.Context, src manifest.RuleSource) ([]byte, error) {
	switch src.Type {
	case manifest.SourceFile:
		return os.ReadFile(src.Path)
	case manifest.SourceHTTPS:
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
		if err != nil {
			return nil, err
		}
		client := m.HTTPClient
		if client == nil {
			client = &http.Client{Timeout: 30 * time.Second}
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("rulemanager: %s: unexpected status %d", src.URL, resp.StatusCode)
		}
		buf := new(bytes.Buffer)
		if _, err := buf.ReadFrom(resp.Body); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("rulemanager: unsupported rule source type %q", src.Type)
	}
}

// parseRuleSource decodes raw per src.Format into Rules, all tagged
// SourceManifest (the §4.2 source used for rule_sources-derived rules, as
// distinct from SourceManaged for a manifest's own managed_rules).
func parseRuleSource(raw []byte, src manifest.RuleSource) ([]*rules.Rule, error) {
	switch src.Format {
	case manifest.FormatHosts, "":
		return parseHostsFormat(raw, src.Priority), nil
	case manifest.FormatJSON:
		mr, err := decodeManagedRulesDoc(raw)
		if err != nil {
			return nil, fmt.Errorf("rulemanager: decoding json rule source %s: %w", src.ID, err)
		}
		return managedRulesToRules(mr, src.Priority), nil
	case manifest.FormatYAML:
		var mr manifest.ManagedRules
		if err := yaml.Unmarshal(raw, &mr); err != nil {
			return nil, fmt.Errorf("rulemanager: decoding yaml rule source %s: %w", src.ID, err)
		}
		return managedRulesToRules(mr, src.Priority), nil
	case manifest.FormatPlist:
		var mr manifest.ManagedRules
		if err := plist.Unmarshal(raw, &mr); err != nil {
			return nil, fmt.Errorf("rulemanager: decoding plist rule source %s: %w", src.ID, err)
		}
		return managedRulesToRules(mr, src.Priority), nil
	default:
		return nil, fmt.Errorf("rulemanager: unsupported rule source format %q", src.Format)
	}
}

// parseHostsFormat parses a plain-text blocklist: one domain per line,
// blank lines and "#"/"!" comments skipped, "||domain^" and "*.domain"
// wildcard syntax recognized, "@@" negating to an Allow rule. Grounded on
// parser/parser.go's ParseRule, stripped of its modifier language (§4.2's
// Rule has no Modifiers field) down to the domain/wildcard/allow syntax
// a hosts-format source actually needs.
func parseHostsFormat(raw []byte, priority uint32) []*rules.Rule {
	var out []*rules.Rule
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
			continue
		}

		action := rules.Block
		if strings.HasPrefix(line, "@@") {
			action = rules.Allow
			line = line[2:]
		}

		fields := strings.Fields(line)
		if len(fields) >= 2 {
			// "IP domain" hosts syntax: only loopback/unspecified targets
			// denote a block entry; anything else isn't a rule this model
			// can express (no DNS-rewrite concept), so it's skipped.
			if isBlockRedirectTarget(fields[0]) {
				line = fields[1]
			} else {
				continue
			}
		}

		if r := domainToRule(line, action, rules.SourceManifest, priority); r != nil {
			out = append(out, r)
		}
	}
	return out
}

func isBlockRedirectTarget(ip string) bool {
	switch ip {
	case "0.0.0.0", "127.0.0.1", "::", "::1":
		return true
	default:
		return false
	}
}

// managedRulesToRules converts a rule_source's decoded allow/block lists
// into Rules tagged SourceManifest.
func managedRulesToRules(mr manifest.ManagedRules, priority uint32) []*rules.Rule {
	out := domainsToRules(mr.Block, rules.Block, rules.SourceManifest, priority)
	out = append(out, domainsToRules(mr.Allow, rules.Allow, rules.SourceManifest, priority)...)
	return out
}

// decodeManagedRulesDoc decodes raw into a ManagedRules, accepting either
// the {"allow":[...],"block":[...]} object shape or a bare JSON array of
// block-list domains (the common flat-file blocklist shape).
func decodeManagedRulesDoc(raw []byte) (manifest.ManagedRules, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var domains []string
		if err := json.Unmarshal(raw, &domains); err != nil {
			return manifest.ManagedRules{}, err
		}
		return manifest.ManagedRules{Block: domains}, nil
	}
	var mr manifest.ManagedRules
	if err := json.Unmarshal(raw, &mr); err != nil {
		return manifest.ManagedRules{}, err
	}
	return mr, nil
}
