package ioc

import (
	"testing"

	"threatlens/internal/schema"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name  string
		alert schema.SecurityAlert
		want  []Indicator
	}{
		{
			name: "network addresses",
			alert: schema.SecurityAlert{
				SourceIP: "203.0.113.7",
				DestIP:   "198.51.100.3",
			},
			want: []Indicator{
				{Type: TypeIP, Value: "203.0.113.7"},
				{Type: TypeIP, Value: "198.51.100.3"},
			},
		},
		{
			name: "user and host lowercased",
			alert: schema.SecurityAlert{
				User: "Admin",
				Host: "WEB-01",
			},
			want: []Indicator{
				{Type: TypeUser, Value: "admin"},
				{Type: TypeHostname, Value: "web-01"},
			},
		},
		{
			name: "email and sender domain",
			alert: schema.SecurityAlert{
				Title: "Phishing mail from attacker@evil-domain.com",
			},
			want: []Indicator{
				{Type: TypeEmail, Value: "attacker@evil-domain.com"},
				{Type: TypeDomain, Value: "evil-domain.com"},
			},
		},
		{
			name: "internal domains excluded",
			alert: schema.SecurityAlert{
				Description: "Beacon to c2.badsite.net from dc01.corp",
			},
			want: []Indicator{
				{Type: TypeDomain, Value: "c2.badsite.net"},
			},
		},
		{
			name: "hash classification",
			alert: schema.SecurityAlert{
				Description: "Dropped d41d8cd98f00b204e9800998ecf8427e and " +
					"da39a3ee5e6b4b0d3255bfef95601890afd80709",
			},
			want: []Indicator{
				{Type: TypeMD5, Value: "d41d8cd98f00b204e9800998ecf8427e"},
				{Type: TypeSHA1, Value: "da39a3ee5e6b4b0d3255bfef95601890afd80709"},
			},
		},
		{
			name: "invalid ip dropped",
			alert: schema.SecurityAlert{
				SourceIP: "not-an-ip",
			},
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Extract(&tt.alert)
			if len(got) != len(tt.want) {
				t.Fatalf("Extract() = %v, want %v", got, tt.want)
			}
			gotSet := make(map[Indicator]bool, len(got))
			for _, ind := range got {
				gotSet[ind] = true
			}
			for _, ind := range tt.want {
				if !gotSet[ind] {
					t.Errorf("missing indicator %v in %v", ind, got)
				}
			}
		})
	}
}

func TestExtractDeduplicates(t *testing.T) {
	alert := schema.SecurityAlert{
		SourceIP:    "203.0.113.7",
		Description: "Repeated contact with c2.badsite.net and c2.badsite.net",
	}
	got := Extract(&alert)

	seen := make(map[Indicator]int)
	for _, ind := range got {
		seen[ind]++
		if seen[ind] > 1 {
			t.Errorf("indicator %v extracted twice", ind)
		}
	}
}

func TestIsHashType(t *testing.T) {
	for _, ht := range []IndicatorType{TypeMD5, TypeSHA1, TypeSHA256} {
		if !IsHashType(ht) {
			t.Errorf("IsHashType(%s) = false, want true", ht)
		}
	}
	for _, nt := range []IndicatorType{TypeIP, TypeDomain, TypeUser, TypeHostname, TypeEmail} {
		if IsHashType(nt) {
			t.Errorf("IsHashType(%s) = true, want false", nt)
		}
	}
}

func TestIsPrivateIP(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"10.0.0.1", true},
		{"192.168.1.5", true},
		{"172.16.0.9", true},
		{"127.0.0.1", true},
		{"169.254.1.1", true},
		{"203.0.113.7", false},
		{"8.8.8.8", false},
		{"garbage", false},
	}
	for _, tt := range tests {
		if got := IsPrivateIP(tt.value); got != tt.want {
			t.Errorf("IsPrivateIP(%s) = %v, want %v", tt.value, got, tt.want)
		}
	}
}

func TestIndicatorKey(t *testing.T) {
	ind := Indicator{Type: TypeIP, Value: "203.0.113.7"}
	if got := ind.Key(); got != "ip:203.0.113.7" {
		t.Errorf("Key() = %q, want %q", got, "ip:203.0.113.7")
	}
}
