// Package proxy implements the DNS request path of §4.7: source
// classification for chain preservation, the per-flow
// receive/parse/classify/cache/rule-lookup/forward state machine, and the
// UDP listener boundary. Grounded on server/dns.go's handleRequest, whose
// client-info → cache-check → rule-check → respond/forward pipeline this
// generalizes.
package proxy

import (
	"net/netip"
)

// Route describes how a flow's response should be sent, carrying
// whatever "enforce original resolver" semantics §4.7's classification
// step requires.
type Route struct {
	Kind                    RouteKind
	ReturnTo                netip.AddrPort
	EnforceOriginalResolver bool
}

// RouteKind is the result of classifying a query's source endpoint.
type RouteKind int

const (
	// RouteUpstream forwards to the configured upstream resolver list.
	RouteUpstream RouteKind = iota
	// RouteDNSServerPort preserves the chain back to a resolver that
	// queried us on port 53 directly.
	RouteDNSServerPort
	// RouteVPNResolver preserves the chain back to a resolver inside a
	// configured VPN CIDR.
	RouteVPNResolver
)

// Classifier implements §4.7's "DNS chain preservation" classification:
// given the query's source endpoint, decide whether to route back to the
// original resolver (port 53 or a VPN CIDR) or to the configured upstream
// list. Grounded on engine/user.go's netip.Prefix-table CIDR matching,
// retargeted from per-user CIDR membership to VPNResolvers membership.
type Classifier struct {
	vpnCIDRs []netip.Prefix
}

// NewClassifier parses cidrs (e.g. prefs.Snapshot.VPNResolvers) into a
// Classifier, skipping any entry that fails to parse.
func NewClassifier(cidrs []string) *Classifier {
	c := &Classifier{}
	for _, s := range cidrs {
		if p, err := netip.ParsePrefix(s); err == nil {
			c.vpnCIDRs = append(c.vpnCIDRs, p)
		}
	}
	return c
}

// Classify implements §4.7's three-way classification ladder:
//   - src_port == 53 → RouteDNSServerPort, enforce original resolver
//   - src_ip ∈ VPNResolvers CIDRs → RouteVPNResolver, enforce original resolver
//   - otherwise → RouteUpstream
func (c *Classifier) Classify(source netip.AddrPort) Route {
	if source.Port() == 53 {
		return Route{Kind: RouteDNSServerPort, ReturnTo: source, EnforceOriginalResolver: true}
	}
	for _, cidr := range c.vpnCIDRs {
		if cidr.Contains(source.Addr()) {
			// The resolver listens on 53, not on the ephemeral source
			// port the query arrived from.
			returnTo := netip.AddrPortFrom(source.Addr(), 53)
			return Route{Kind: RouteVPNResolver, ReturnTo: returnTo, EnforceOriginalResolver: true}
		}
	}
	return Route{Kind: RouteUpstream}
}
