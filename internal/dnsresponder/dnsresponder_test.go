package dnsresponder

import (
	"testing"

	"github.com/miekg/dns"

	"github.com/dhtech/netbootd/internal/config"
)

func TestConfigureBuildsOverrideTable(t *testing.T) {
	s := NewService()
	err := s.Configure(&config.DNSServer{
		Overrides: map[string]string{
			"ftp.se.debian.org": "10.0.0.5",
		},
	})
	if err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if got := len(s.overrides); got != 1 {
		t.Fatalf("overrides len = %d, want 1", got)
	}
}

func TestConfigureRejectsInvalidAddress(t *testing.T) {
	s := NewService()
	err := s.Configure(&config.DNSServer{
		Overrides: map[string]string{"example.com": "not-an-ip"},
	})
	if err == nil {
		t.Fatal("expected error for invalid override address")
	}
}

func TestLookupReturnsOverrideA(t *testing.T) {
	s := NewService()
	if err := s.Configure(&config.DNSServer{
		Overrides: map[string]string{"ftp.se.debian.org": "10.0.0.5"},
	}); err != nil {
		t.Fatal(err)
	}

	rrs := s.lookup(dns.TypeA, "ftp.se.debian.org.")
	if len(rrs) != 1 {
		t.Fatalf("len(rrs) = %d, want 1", len(rrs))
	}
	a, ok := rrs[0].(*dns.A)
	if !ok {
		t.Fatalf("rr is %T, want *dns.A", rrs[0])
	}
	if a.A.String() != "10.0.0.5" {
		t.Fatalf("A = %s, want 10.0.0.5", a.A.String())
	}
}

func TestLookupOverriddenNameUnsupportedQtypeReturnsNil(t *testing.T) {
	s := NewService()
	if err := s.Configure(&config.DNSServer{
		Overrides: map[string]string{"ftp.se.debian.org": "10.0.0.5"},
	}); err != nil {
		t.Fatal(err)
	}
	if rrs := s.lookup(dns.TypeMX, "ftp.se.debian.org."); rrs != nil {
		t.Fatalf("expected nil for MX query against an A-only override, got %v", rrs)
	}
}

func TestLookupMissReturnsNil(t *testing.T) {
	s := NewService()
	if err := s.Configure(&config.DNSServer{}); err != nil {
		t.Fatal(err)
	}
	if rrs := s.lookup(dns.TypeA, "unknown.example."); rrs != nil {
		t.Fatalf("expected nil for unconfigured domain, got %v", rrs)
	}
}
