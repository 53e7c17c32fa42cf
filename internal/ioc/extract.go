// Package ioc extracts indicators of compromise from alerts and maintains
// a running ledger of observed indicators with confidence accumulation.
package ioc

import (
	"net"
	"regexp"
	"strings"

	"threatlens/internal/schema"
)

// IndicatorType classifies an observed indicator.
type IndicatorType string

const (
	TypeIP       IndicatorType = "ip"
	TypeDomain   IndicatorType = "domain"
	TypeEmail    IndicatorType = "email"
	TypeMD5      IndicatorType = "md5"
	TypeSHA1     IndicatorType = "sha1"
	TypeSHA256   IndicatorType = "sha256"
	TypeUser     IndicatorType = "user"
	TypeHostname IndicatorType = "hostname"
)

// Indicator is the (type, value) key of an IOC observation.
type Indicator struct {
	Type  IndicatorType `json:"type"`
	Value string        `json:"value"`
}

// Key returns the ledger key for the indicator.
func (i Indicator) Key() string {
	return string(i.Type) + ":" + i.Value
}

var (
	emailPattern  = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
	domainPattern = regexp.MustCompile(`\b(?:[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?\.)+[a-zA-Z]{2,}\b`)
	hexPattern    = regexp.MustCompile(`\b[a-fA-F0-9]{32,64}\b`)
)

// internal-looking suffixes excluded from domain extraction
var excludedDomainSuffixes = []string{".local", ".internal", ".lan", ".corp", ".home"}

// Extract pulls indicators from a single alert: network addresses, user and
// host fields, plus regex-derived emails, public-looking domains, and
// 32/40/64-hex tokens classified as md5/sha1/sha256. Extraction never
// fails; an alert with no usable fields simply contributes nothing.
func Extract(alert *schema.SecurityAlert) []Indicator {
	var out []Indicator
	seen := make(map[Indicator]bool)

	add := func(t IndicatorType, v string) {
		v = strings.TrimSpace(v)
		if v == "" {
			return
		}
		ind := Indicator{Type: t, Value: v}
		if !seen[ind] {
			seen[ind] = true
			out = append(out, ind)
		}
	}

	if alert.SourceIP != "" && net.ParseIP(alert.SourceIP) != nil {
		add(TypeIP, alert.SourceIP)
	}
	if alert.DestIP != "" && net.ParseIP(alert.DestIP) != nil {
		add(TypeIP, alert.DestIP)
	}
	if alert.User != "" {
		add(TypeUser, strings.ToLower(alert.User))
	}
	if alert.Host != "" {
		add(TypeHostname, strings.ToLower(alert.Host))
	}

	text := alert.Title + " " + alert.Description

	for _, email := range emailPattern.FindAllString(text, -1) {
		add(TypeEmail, strings.ToLower(email))
	}

	for _, domain := range domainPattern.FindAllString(text, -1) {
		d := strings.ToLower(domain)
		if net.ParseIP(d) != nil {
			continue // dotted quad, already handled as IP
		}
		if isInternalDomain(d) {
			continue
		}
		if seen[Indicator{Type: TypeEmail, Value: d}] {
			continue
		}
		add(TypeDomain, d)
	}

	for _, token := range hexPattern.FindAllString(text, -1) {
		switch len(token) {
		case 32:
			add(TypeMD5, strings.ToLower(token))
		case 40:
			add(TypeSHA1, strings.ToLower(token))
		case 64:
			add(TypeSHA256, strings.ToLower(token))
		}
	}

	return out
}

// isInternalDomain reports whether a domain looks like private
// infrastructure rather than a public indicator.
func isInternalDomain(domain string) bool {
	for _, suffix := range excludedDomainSuffixes {
		if strings.HasSuffix(domain, suffix) {
			return true
		}
	}
	// All-numeric labels are address fragments, not domains.
	allNumeric := true
	for _, label := range strings.Split(domain, ".") {
		for _, r := range label {
			if r < '0' || r > '9' {
				allNumeric = false
			}
		}
	}
	return allNumeric
}

// IsHashType reports whether the indicator type is a file hash.
func IsHashType(t IndicatorType) bool {
	return t == TypeMD5 || t == TypeSHA1 || t == TypeSHA256
}

// IsPrivateIP reports whether the value parses as an RFC 1918 / loopback /
// link-local address.
func IsPrivateIP(value string) bool {
	ip := net.ParseIP(value)
	if ip == nil {
		return false
	}
	return ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast()
}
