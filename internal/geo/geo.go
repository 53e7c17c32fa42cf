// Package geo provides a static prefix-table implementation of the
// Geolocate capability. Deployments with a real geolocation service
// inject their own implementation instead.
package geo

import (
	"net"
	"strings"
	"sync"
)

// Entry maps a CIDR block to a coarse location.
type Entry struct {
	CIDR    string `yaml:"cidr"`
	Country string `yaml:"country"`
	Region  string `yaml:"region"`
}

// StaticResolver resolves addresses against a fixed prefix table.
// Unmatched public addresses and all private addresses report ok=false,
// which makes the geographic detector skip them.
type StaticResolver struct {
	mu      sync.RWMutex
	entries []staticEntry
}

type staticEntry struct {
	network *net.IPNet
	country string
	region  string
}

// NewStaticResolver builds a resolver from the entry table. Entries with
// unparsable CIDRs are skipped.
func NewStaticResolver(entries []Entry) *StaticResolver {
	r := &StaticResolver{}
	for _, e := range entries {
		cidr := e.CIDR
		if !strings.Contains(cidr, "/") {
			cidr += "/32"
		}
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			continue
		}
		r.entries = append(r.entries, staticEntry{
			network: network,
			country: e.Country,
			region:  e.Region,
		})
	}
	return r
}

// Geolocate resolves an address to (country, region).
func (r *StaticResolver) Geolocate(ip string) (country, region string, ok bool) {
	parsed := net.ParseIP(ip)
	if parsed == nil || parsed.IsPrivate() || parsed.IsLoopback() {
		return "", "", false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		if e.network.Contains(parsed) {
			return e.country, e.region, true
		}
	}
	return "", "", false
}

// Add registers an additional entry at runtime.
func (r *StaticResolver) Add(e Entry) {
	cidr := e.CIDR
	if !strings.Contains(cidr, "/") {
		cidr += "/32"
	}
	_, network, err := net.ParseCIDR(cidr)
	if err != nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, staticEntry{
		network: network,
		country: e.Country,
		region:  e.Region,
	})
}
