// Package util provides utility functions for network operations.
//
// This package contains helper functions for:
// - CIDR parsing and IPv4 checks
// - Host prefixes used in flow matches
// - MAC address normalization for map keys
package util

import (
	"fmt"
	"net"
	"strings"

	utilnet "k8s.io/utils/net"
)

// ParseCIDR parses a CIDR string and returns the IP network
//
// Parameters:
//   - cidr: CIDR string (e.g., "10.0.0.0/24")
//
// Returns:
//   - *net.IPNet: Parsed IP network
//   - error: Parse error
func ParseCIDR(cidr string) (*net.IPNet, error) {
	_, ipNet, err := net.ParseCIDR(cidr)
	if err != nil {
		return nil, fmt.Errorf("invalid CIDR %s: %v", cidr, err)
	}
	return ipNet, nil
}

// ParseIPv4CIDR parses a CIDR string and rejects non-IPv4 ranges.
// Overlay rules only classify IPv4 traffic.
func ParseIPv4CIDR(cidr string) (*net.IPNet, error) {
	ipNet, err := ParseCIDR(cidr)
	if err != nil {
		return nil, err
	}
	if !utilnet.IsIPv4CIDR(ipNet) {
		return nil, fmt.Errorf("CIDR %s is not an IPv4 range", cidr)
	}
	return ipNet, nil
}

// HostPrefix returns the /32 prefix of an IPv4 address, or nil for anything else
func HostPrefix(ip net.IP) *net.IPNet {
	if !utilnet.IsIPv4(ip) {
		return nil
	}
	return &net.IPNet{IP: ip.To4(), Mask: net.CIDRMask(32, 32)}
}

// IPInRange checks if an IP is within a CIDR range
func IPInRange(ip net.IP, cidr *net.IPNet) bool {
	return cidr != nil && cidr.Contains(ip)
}

// MACKey returns the canonical lower-case form of a MAC address
func MACKey(mac net.HardwareAddr) string {
	return strings.ToLower(mac.String())
}

// MustParseMAC parses a MAC address and panics on failure.
// Intended for constants and tests.
func MustParseMAC(s string) net.HardwareAddr {
	mac, err := net.ParseMAC(s)
	if err != nil {
		panic(err)
	}
	return mac
}

// CIDRString returns the string form of a possibly nil network
func CIDRString(n *net.IPNet) string {
	if n == nil {
		return ""
	}
	return n.String()
}
