// Package dhcp implements spec.md §4.1: a PXE-enabling DHCP server —
// hand-rolled BOOTP/TLV wire codec over a socket built with
// insomniacslk/dhcp's server4 helper for broadcast/device-pinned setup,
// in the shape the teacher's internal/services/dhcp package uses.
package dhcp

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/insomniacslk/dhcp/dhcpv4/server4"
	"go.etcd.io/bbolt"

	"github.com/dhtech/netbootd/internal/clock"
	"github.com/dhtech/netbootd/internal/config"
	"github.com/dhtech/netbootd/internal/netsvc"
)

type scopeServer struct {
	scope    config.DHCPScope
	serverIP net.IP // siaddr / option 54: this server's own boot-file address, not the router's
	conn     net.PacketConn
	store    *LeaseStore
}

// Service runs one DHCP server instance per configured scope.
type Service struct {
	mu         sync.RWMutex
	scopes     []*scopeServer
	running    bool
	stopReaper chan struct{}
	db         *bbolt.DB
	clock      clock.Clock
}

// NewService builds a DHCP Service. db may be nil to disable lease
// persistence.
func NewService(db *bbolt.DB) *Service {
	return &Service{db: db, clock: &clock.RealClock{}}
}

func (s *Service) Name() string { return "DHCP" }

// Status reports whether any scope server is running.
func (s *Service) Status() netsvc.Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return netsvc.Status{Name: s.Name(), Running: s.running}
}

// Configure tears down any existing scope servers and builds new ones
// from cfg. Must be called before Start.
func (s *Service) Configure(cfg *config.DHCPServer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closeScopesLocked()

	if cfg == nil || !cfg.Enabled {
		return nil
	}

	for _, scope := range cfg.Scopes {
		store, err := NewLeaseStore(scope, s.db, s.clock)
		if err != nil {
			return fmt.Errorf("dhcp: scope %s: %w", scope.Name, err)
		}

		iface := scope.Interface
		if iface == "" {
			iface = cfg.Interface
		}
		conn, err := server4.NewIPv4UDPConn(iface, &net.UDPAddr{IP: net.IPv4zero, Port: 67})
		if err != nil {
			return fmt.Errorf("dhcp: scope %s: bind: %w", scope.Name, err)
		}

		fileServer := scope.FileServer
		if fileServer == "" {
			fileServer = cfg.IP
		}
		serverIP := net.ParseIP(fileServer).To4()
		if serverIP == nil {
			log.Printf("[DHCP] %s: no ip/file_server configured, siaddr and option 54 will be empty", scope.Name)
		}

		s.scopes = append(s.scopes, &scopeServer{scope: scope, serverIP: serverIP, conn: conn, store: store})
	}

	return nil
}

func (s *Service) closeScopesLocked() {
	for _, sc := range s.scopes {
		sc.conn.Close()
	}
	s.scopes = nil
}

// Start begins serving every configured scope and starts the lease
// expiration reaper.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	for _, sc := range s.scopes {
		go s.serve(sc)
	}
	s.stopReaper = make(chan struct{})
	go s.reapExpired(s.stopReaper)
	s.running = true
	return nil
}

// Stop closes every scope's socket and halts the reaper.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	if s.stopReaper != nil {
		close(s.stopReaper)
		s.stopReaper = nil
	}
	s.closeScopesLocked()
	s.running = false
	return nil
}

func (s *Service) reapExpired(stop <-chan struct{}) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.mu.RLock()
			scopes := s.scopes
			s.mu.RUnlock()
			for _, sc := range scopes {
				sc.store.ExpireLeases()
			}
		case <-stop:
			return
		}
	}
}

func (s *Service) serve(sc *scopeServer) {
	buf := make([]byte, 1024)
	for {
		n, addr, err := sc.conn.ReadFrom(buf)
		if err != nil {
			return // socket closed on Stop
		}
		pkt, err := ParsePacket(buf[:n])
		if err != nil {
			log.Printf("[DHCP] %s: malformed packet from %v: %v", sc.scope.Name, addr, err)
			continue
		}

		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("[DHCP] %s: recovered from handler panic: %v", sc.scope.Name, r)
				}
			}()
			s.handle(sc, addr, pkt)
		}()
	}
}

func (s *Service) handle(sc *scopeServer, addr net.Addr, pkt *Packet) {
	dest := addr
	if udpAddr, ok := addr.(*net.UDPAddr); ok && (udpAddr.IP.IsUnspecified() || udpAddr.IP.Equal(net.IPv4zero)) {
		dest = &net.UDPAddr{IP: net.IPv4bcast, Port: 68}
	}

	mac := pkt.CHAddr.String()

	switch pkt.MessageType() {
	case MsgDiscover:
		ip, err := sc.store.Allocate(sc.scope.Name, mac)
		if err != nil {
			log.Printf("[DHCP] %s: discover from %s: %v", sc.scope.Name, mac, err)
			return
		}
		reply := BuildReply(pkt, ip, sc.serverIP, s.buildOptions(sc, pkt, mac, MsgOffer))
		if _, err := sc.conn.WriteTo(reply, dest); err != nil {
			log.Printf("[DHCP] %s: write offer: %v", sc.scope.Name, err)
		}

	case MsgRequest:
		requested := pkt.RequestedIP()
		if requested == nil {
			requested = pkt.CIAddr
		}
		allocated, err := sc.store.Allocate(sc.scope.Name, mac)
		if err != nil {
			log.Printf("[DHCP] %s: request from %s: %v", sc.scope.Name, mac, err)
			return
		}
		if requested != nil && !requested.IsUnspecified() && !allocated.Equal(requested) {
			log.Printf("[DHCP] %s: NAK %s requested %v, assigned %v", sc.scope.Name, mac, requested, allocated)
			reply := BuildReply(pkt, net.IPv4zero, sc.serverIP, []Option{{Code: 53, Value: []byte{MsgNak}}})
			sc.conn.WriteTo(reply, dest)
			return
		}
		reply := BuildReply(pkt, allocated, sc.serverIP, s.buildOptions(sc, pkt, mac, MsgAck))
		if _, err := sc.conn.WriteTo(reply, dest); err != nil {
			log.Printf("[DHCP] %s: write ack: %v", sc.scope.Name, err)
		}
	}
}

func routerIP(scope config.DHCPScope) net.IP {
	return net.ParseIP(scope.Router).To4()
}

// buildOptions crafts the option TLVs for an OFFER or ACK: 53, 54, 1,
// 3, 6, 51, 66, 67 in that order, then scope-wide and per-host custom
// options, matching spec.md §8's S1 scenario byte-for-byte for the
// fixed fields.
func (s *Service) buildOptions(sc *scopeServer, pkt *Packet, mac string, msgType byte) []Option {
	scope := sc.scope
	router := routerIP(scope)

	opts := []Option{
		{Code: 53, Value: []byte{msgType}},
		{Code: 54, Value: sc.serverIP},
	}

	mask := net.ParseIP(scope.SubnetMask).To4()
	if mask == nil {
		mask = net.IPv4(255, 255, 255, 0).To4()
	}
	opts = append(opts, Option{Code: 1, Value: mask})
	opts = append(opts, Option{Code: 3, Value: router})

	if len(scope.DNS) > 0 {
		var dns []byte
		for _, d := range scope.DNS {
			if ip := net.ParseIP(d).To4(); ip != nil {
				dns = append(dns, ip...)
			}
		}
		if len(dns) > 0 {
			opts = append(opts, Option{Code: 6, Value: dns})
		}
	}

	leaseSecs := scope.LeaseSeconds
	if leaseSecs == 0 {
		leaseSecs = 86400
	}
	leaseBytes := make([]byte, 4)
	leaseBytes[0] = byte(leaseSecs >> 24)
	leaseBytes[1] = byte(leaseSecs >> 16)
	leaseBytes[2] = byte(leaseSecs >> 8)
	leaseBytes[3] = byte(leaseSecs)
	opts = append(opts, Option{Code: 51, Value: leaseBytes})

	if scope.TFTPServer != "" {
		opts = append(opts, Option{Code: 66, Value: []byte(scope.TFTPServer)})
	}

	bootFile := scope.BootFile
	if res, ok := sc.store.reservations[mac]; ok && res.BootFile != "" {
		bootFile = res.BootFile
	}
	if bootFile != "" {
		opts = append(opts, Option{Code: 67, Value: append([]byte(bootFile), 0)})
	}

	for k, v := range scope.Options {
		if opt, err := parseOption(k, v); err == nil {
			opts = append(opts, opt)
		} else {
			log.Printf("[DHCP] %s: option %s=%s: %v", scope.Name, k, v, err)
		}
	}
	if res, ok := sc.store.reservations[mac]; ok {
		for k, v := range res.Options {
			if opt, err := parseOption(k, v); err == nil {
				opts = append(opts, opt)
			} else {
				log.Printf("[DHCP] %s: host option %s=%s: %v", scope.Name, k, v, err)
			}
		}
	}

	return opts
}
