// Package dnsresponder is the thin DNS collaborator spec.md describes:
// a UDP responder that answers A/AAAA queries from a static override
// table and forwards everything else to an upstream resolver. Grounded
// in the teacher's internal/services/dns package — the miekg/dns
// dns.Server{PacketConn, Handler} wiring and the ServeDNS dispatch
// shape are kept; the cache, blocklist, DoT/DoH upstream pool and
// DNSSEC validation the teacher carries are dropped, since this
// responder's only job is PXE-path name resolution, not a full
// recursive/forwarding resolver.
package dnsresponder

import (
	"context"
	"fmt"
	"log"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"

	"github.com/dhtech/netbootd/internal/config"
	"github.com/dhtech/netbootd/internal/netsvc"
)

// Service answers DNS queries for a small set of configured overrides
// and forwards everything else upstream.
type Service struct {
	mu        sync.RWMutex
	cfg       *config.DNSServer
	overrides map[string]net.IP
	server    *dns.Server
	client    *dns.Client
	running   bool
	lastErr   string
}

func NewService() *Service {
	return &Service{client: &dns.Client{Timeout: 2 * time.Second}}
}

func (s *Service) Name() string { return "dns" }

func (s *Service) Status() netsvc.Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return netsvc.Status{Name: "dns", Running: s.running, Error: s.lastErr}
}

// Configure loads the override table. Per SPEC_FULL.md §5.5, an
// override for "ftp.se.debian.org." lets a netboot environment pin
// Debian's package mirror to a local cache without touching upstream
// DNS.
func (s *Service) Configure(cfg *config.DNSServer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	overrides := make(map[string]net.IP, len(cfg.Overrides))
	for name, addr := range cfg.Overrides {
		ip := net.ParseIP(addr)
		if ip == nil {
			return fmt.Errorf("dnsresponder: override %q: invalid address %q", name, addr)
		}
		overrides[dns.Fqdn(strings.ToLower(name))] = ip
	}
	s.overrides = overrides
	return nil
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.cfg == nil {
		s.mu.Unlock()
		return fmt.Errorf("dnsresponder: Configure must be called before Start")
	}
	addr := fmt.Sprintf("%s:%d", s.cfg.Address, s.cfg.Port)
	pc, err := net.ListenPacket("udp", addr)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("dnsresponder: listen %s: %w", addr, err)
	}
	s.server = &dns.Server{PacketConn: pc, Addr: addr, Net: "udp", Handler: s}
	s.running = true
	s.mu.Unlock()

	log.Printf("[DNS] listening on %s (%d overrides, upstream=%s)", addr, len(s.overrides), s.cfg.Upstream)

	go func() {
		if err := s.server.ActivateAndServe(); err != nil {
			s.mu.Lock()
			s.lastErr = err.Error()
			s.mu.Unlock()
			log.Printf("[DNS] server error: %v", err)
		}
	}()
	return nil
}

func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.running = false
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown()
}

// ServeDNS implements dns.Handler. It answers from the override table
// via lookup, then falls back to forwarding upstream.
func (s *Service) ServeDNS(w dns.ResponseWriter, r *dns.Msg) {
	msg := new(dns.Msg)
	msg.SetReply(r)
	msg.Compress = false
	msg.Authoritative = true
	msg.RecursionAvailable = true

	if len(r.Question) == 0 {
		w.WriteMsg(msg)
		return
	}

	q := r.Question[0]
	name := strings.ToLower(q.Name)

	s.mu.RLock()
	_, overridden := s.overrides[name]
	upstream := ""
	if s.cfg != nil {
		upstream = s.cfg.Upstream
	}
	s.mu.RUnlock()

	if overridden {
		// This responder owns the name; answer from the table (possibly
		// empty, for a qtype the override doesn't cover) rather than
		// forwarding upstream.
		msg.Answer = s.lookup(q.Qtype, name)
		w.WriteMsg(msg)
		return
	}

	if upstream == "" {
		msg.Rcode = dns.RcodeNameError
		w.WriteMsg(msg)
		return
	}

	resp, _, err := s.client.Exchange(r, upstream)
	if err != nil {
		log.Printf("[DNS] upstream exchange for %s failed: %v", name, err)
		msg.Rcode = dns.RcodeServerFailure
		w.WriteMsg(msg)
		return
	}
	resp.Id = r.Id
	w.WriteMsg(resp)
}

// lookup answers qtype/domain from the override table. It returns nil
// when the domain has no override, and also when it has one but the
// override's address does not fit qtype (ServeDNS then answers the
// overridden name with an empty answer section).
func (s *Service) lookup(qtype uint16, domain string) []dns.RR {
	s.mu.RLock()
	ip, ok := s.overrides[domain]
	s.mu.RUnlock()
	if !ok {
		return nil
	}

	switch qtype {
	case dns.TypeA:
		v4 := ip.To4()
		if v4 == nil {
			return nil
		}
		return []dns.RR{&dns.A{
			Hdr: dns.RR_Header{Name: domain, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 60},
			A:   v4,
		}}
	case dns.TypeAAAA:
		v6 := ip.To16()
		if v6 == nil || ip.To4() != nil {
			return nil
		}
		return []dns.RR{&dns.AAAA{
			Hdr:  dns.RR_Header{Name: domain, Rrtype: dns.TypeAAAA, Class: dns.ClassINET, Ttl: 60},
			AAAA: v6,
		}}
	default:
		return nil
	}
}
