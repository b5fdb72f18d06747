// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package net implements the outbound HTTP(S) policy for user-supplied feed
// URLs. Custom list feeds are the only place the daemon fetches an address an
// operator typed in, so every such URL passes the allowlist here first.
package net

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/net/idna"
)

var (
	// ErrOutboundDisabled indicates outbound HTTP(S) access is disabled by policy.
	ErrOutboundDisabled = errors.New("outbound http(s) disabled")
	// ErrOutboundNotAllowed indicates the URL did not match the allowlist.
	ErrOutboundNotAllowed = errors.New("outbound url not allowed")
)

// Allowlist defines the allowed outbound URL components.
type Allowlist struct {
	Hosts   []string
	CIDRs   []string
	Ports   []int
	Schemes []string
}

// Policy defines the outbound access policy for custom feeds. The zero
// value denies everything.
type Policy struct {
	Enabled bool
	Allow   Allowlist
}

// ruleset is an Allowlist compiled into matchable form. Policies arrive
// from config as plain strings; compiling them per validation keeps the
// Policy value trivially copyable and the config layer dumb.
type ruleset struct {
	hosts   map[string]struct{}
	cidrs   []*net.IPNet
	ports   map[int]struct{}
	schemes map[string]struct{}
}

func compile(a Allowlist) (*ruleset, error) {
	rs := &ruleset{
		hosts:   make(map[string]struct{}, len(a.Hosts)),
		ports:   make(map[int]struct{}, len(a.Ports)),
		schemes: make(map[string]struct{}, len(a.Schemes)),
	}
	for _, h := range a.Hosts {
		norm, err := NormalizeHost(h)
		if err != nil {
			return nil, fmt.Errorf("allowlist host: %w", err)
		}
		rs.hosts[norm] = struct{}{}
	}
	for _, raw := range a.CIDRs {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		ipnet, err := parseCIDROrIP(raw)
		if err != nil {
			return nil, err
		}
		rs.cidrs = append(rs.cidrs, ipnet)
	}
	for _, p := range a.Ports {
		rs.ports[p] = struct{}{}
	}
	for _, s := range a.Schemes {
		rs.schemes[strings.ToLower(strings.TrimSpace(s))] = struct{}{}
	}
	return rs, nil
}

// parseCIDROrIP accepts either CIDR notation or a bare IP, which gets a
// single-address mask.
func parseCIDROrIP(raw string) (*net.IPNet, error) {
	if ip, ipnet, err := net.ParseCIDR(raw); err == nil {
		ipnet.IP = ip
		return ipnet, nil
	}
	ip := net.ParseIP(raw)
	if ip == nil {
		return nil, fmt.Errorf("invalid CIDR or IP: %s", raw)
	}
	bits := 128
	if ip.To4() != nil {
		bits = 32
	}
	return &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)}, nil
}

func (rs *ruleset) cidrMatch(ip net.IP) bool {
	for _, n := range rs.cidrs {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// NormalizeHost validates and normalizes a host for comparison. IDN hosts
// are folded to their ASCII form, IPs to their canonical textual form.
func NormalizeHost(raw string) (string, error) {
	host := strings.TrimSpace(raw)
	switch {
	case host == "":
		return "", fmt.Errorf("host is empty")
	case strings.Contains(host, "://"):
		return "", fmt.Errorf("host must not include scheme: %s", raw)
	case strings.Contains(host, "/"):
		return "", fmt.Errorf("host must not include path: %s", raw)
	case strings.Contains(host, "@"):
		return "", fmt.Errorf("host must not include userinfo: %s", raw)
	}
	if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
		host = host[1 : len(host)-1]
	}
	if strings.Contains(host, ":") && net.ParseIP(host) == nil {
		return "", fmt.Errorf("host must not include port: %s", raw)
	}
	if strings.Contains(host, "%") {
		return "", fmt.Errorf("host must not include zone: %s", raw)
	}
	host = strings.TrimSuffix(host, ".")
	if host == "" {
		return "", fmt.Errorf("host is empty")
	}
	if ip := net.ParseIP(host); ip != nil {
		return strings.ToLower(ip.String()), nil
	}
	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return "", fmt.Errorf("invalid host %q: %w", raw, err)
	}
	return strings.ToLower(ascii), nil
}

// ValidateOutboundURL verifies a URL against the outbound policy and returns
// a normalized URL string. Hosts are resolved so a DNS name pointing at a
// loopback or link-local address is caught before any request leaves.
func ValidateOutboundURL(ctx context.Context, raw string, policy Policy) (string, error) {
	if !policy.Enabled {
		return "", ErrOutboundDisabled
	}
	u, err := parseCandidate(raw)
	if err != nil {
		return "", err
	}
	rs, err := compile(policy.Allow)
	if err != nil {
		return "", err
	}

	scheme := strings.ToLower(u.Scheme)
	if _, ok := rs.schemes[scheme]; !ok {
		return "", fmt.Errorf("scheme %q not allowed", scheme)
	}
	port, err := effectivePort(u.Port(), scheme)
	if err != nil {
		return "", err
	}
	if _, ok := rs.ports[port]; !ok {
		return "", fmt.Errorf("port %d not allowed", port)
	}

	host, err := NormalizeHost(u.Hostname())
	if err != nil {
		return "", err
	}
	ips, err := resolveHost(ctx, host)
	if err != nil {
		return "", err
	}

	// A name on the host allowlist still may not resolve into blocked
	// address space unless a CIDR explicitly opens it. Loopback feeds in
	// tests ride on exactly that escape hatch.
	_, hostOK := rs.hosts[host]
	cidrOK := false
	for _, ip := range ips {
		inCIDR := rs.cidrMatch(ip)
		if blockedAddr(ip) && !inCIDR {
			return "", fmt.Errorf("blocked ip %s", ip)
		}
		cidrOK = cidrOK || inCIDR
	}
	if !hostOK && !cidrOK {
		return "", ErrOutboundNotAllowed
	}

	u.Host = canonicalHostPort(host, u.Port())
	return u.String(), nil
}

// parseCandidate applies the structural rules every feed URL must meet
// before any allowlist comparison happens.
func parseCandidate(raw string) (*url.URL, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("outbound url empty")
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	switch {
	case u.Scheme == "":
		return nil, fmt.Errorf("missing url scheme")
	case u.Host == "":
		return nil, fmt.Errorf("missing url host")
	case u.Fragment != "":
		return nil, fmt.Errorf("fragments not allowed")
	case u.User != nil:
		return nil, fmt.Errorf("credentials in url not allowed")
	}
	return u, nil
}

func effectivePort(portStr, scheme string) (int, error) {
	if portStr == "" {
		switch scheme {
		case "http":
			return 80, nil
		case "https":
			return 443, nil
		}
		return 0, fmt.Errorf("unknown scheme %q", scheme)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0, fmt.Errorf("invalid port %q: %w", portStr, err)
	}
	return port, nil
}

func resolveHost(ctx context.Context, host string) ([]net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return []net.IP{ip}, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("resolve host %q: %w", host, err)
	}
	ips := make([]net.IP, 0, len(addrs))
	for _, addr := range addrs {
		if addr.IP != nil {
			ips = append(ips, addr.IP)
		}
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("resolve host %q: no addresses", host)
	}
	return ips, nil
}

// blockedAddr reports address space the daemon never fetches from unless
// a CIDR opens it: loopback, unspecified, link-local, multicast.
func blockedAddr(ip net.IP) bool {
	if ip == nil {
		return true
	}
	return ip.IsLoopback() ||
		ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsMulticast()
}

func canonicalHostPort(host, port string) string {
	if port == "" {
		if strings.Contains(host, ":") {
			return "[" + host + "]"
		}
		return host
	}
	return net.JoinHostPort(host, port)
}
