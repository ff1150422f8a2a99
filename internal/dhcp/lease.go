package dhcp

import (
	"encoding/json"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	"github.com/dhtech/netbootd/internal/clock"
	"github.com/dhtech/netbootd/internal/config"
)

var leaseBucketName = []byte("dhcp-leases")

// lease is what gets persisted per MAC.
type lease struct {
	IP       string    `json:"ip"`
	Hostname string    `json:"hostname"`
	Expires  time.Time `json:"expires"`
}

// LeaseStore allocates and tracks dynamic leases for one scope, with
// static reservations taking priority and (optionally) a bbolt bucket
// for persistence across restarts. Grounded in the teacher's
// services/dhcp LeaseStore, trimmed to what a read-mostly PXE boot
// segment needs and swapped onto bbolt rather than the heavier
// sqlite-backed state store (see DESIGN.md).
type LeaseStore struct {
	mu           sync.Mutex
	leases       map[string]net.IP // MAC -> IP
	takenIPs     map[string]string // IP -> MAC
	expiry       map[string]time.Time
	hostnames    map[string]string
	reservations map[string]config.DHCPReservation // MAC -> reservation
	reservedIPs  map[string]string                 // IP -> MAC

	rangeStart net.IP
	rangeEnd   net.IP
	leaseTime  time.Duration

	clock clock.Clock
	db    *bbolt.DB
}

// NewLeaseStore builds a lease store for the given scope. db may be nil
// to run purely in-memory (useful in tests).
func NewLeaseStore(scope config.DHCPScope, db *bbolt.DB, clk clock.Clock) (*LeaseStore, error) {
	start := net.ParseIP(scope.RangeStart).To4()
	end := net.ParseIP(scope.RangeEnd).To4()
	if start == nil || end == nil {
		return nil, fmt.Errorf("dhcp: invalid range %q-%q for scope %q", scope.RangeStart, scope.RangeEnd, scope.Name)
	}
	if clk == nil {
		clk = &clock.RealClock{}
	}

	ls := &LeaseStore{
		leases:       map[string]net.IP{},
		takenIPs:     map[string]string{},
		expiry:       map[string]time.Time{},
		hostnames:    map[string]string{},
		reservations: map[string]config.DHCPReservation{},
		reservedIPs:  map[string]string{},
		rangeStart:   start,
		rangeEnd:     end,
		leaseTime:    leaseDuration(scope.LeaseSeconds),
		clock:        clk,
		db:           db,
	}

	for _, res := range scope.Reservations {
		ip := net.ParseIP(res.IP).To4()
		if ip == nil {
			continue
		}
		ls.reservations[res.MAC] = res
		ls.reservedIPs[ip.String()] = res.MAC
	}

	if db != nil {
		if err := ls.load(scope.Name); err != nil {
			return nil, err
		}
	}

	return ls, nil
}

func leaseDuration(seconds uint32) time.Duration {
	if seconds == 0 {
		return 86400 * time.Second
	}
	return time.Duration(seconds) * time.Second
}

func (s *LeaseStore) load(scopeName string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(leaseBucketName)
		if err != nil {
			return err
		}
		prefix := []byte(scopeName + "/")
		c := b.Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var l lease
			if err := json.Unmarshal(v, &l); err != nil {
				continue
			}
			mac := string(k[len(prefix):])
			ip := net.ParseIP(l.IP).To4()
			if ip == nil {
				continue
			}
			s.leases[mac] = ip
			s.takenIPs[ip.String()] = mac
			s.expiry[mac] = l.Expires
			s.hostnames[mac] = l.Hostname
		}
		return nil
	})
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}

func (s *LeaseStore) persist(scopeName, mac string, ip net.IP, hostname string, expires time.Time) error {
	if s.db == nil {
		return nil
	}
	l := lease{IP: ip.String(), Hostname: hostname, Expires: expires}
	data, err := json.Marshal(l)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(leaseBucketName)
		if err != nil {
			return err
		}
		return b.Put([]byte(scopeName+"/"+mac), data)
	})
}

// Allocate returns the IP this MAC should be assigned: any
// already-active lease first, then a static reservation, then the next
// free address from the pool. Matches spec.md's assignment order and its
// "no offered IP ends in .0" invariant by skipping .0 hosts in the pool
// scan.
func (s *LeaseStore) Allocate(scopeName, mac string) (net.IP, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ip, ok := s.leases[mac]; ok {
		expires := s.clock.Now().Add(s.leaseTime)
		if err := s.persist(scopeName, mac, ip, s.hostnames[mac], expires); err != nil {
			return nil, fmt.Errorf("dhcp: persist lease: %w", err)
		}
		s.expiry[mac] = expires
		return ip, nil
	}

	if res, ok := s.reservations[mac]; ok {
		if ip := net.ParseIP(res.IP).To4(); ip != nil {
			return ip, nil
		}
	}

	for ip := s.rangeStart; ipLessOrEqual(ip, s.rangeEnd); ip = incIP(ip) {
		if ip[3] == 0 {
			continue // spec.md: never offer a host ending in .0
		}
		ipStr := ip.String()
		if _, reserved := s.reservedIPs[ipStr]; reserved {
			continue
		}
		if _, taken := s.takenIPs[ipStr]; taken {
			continue
		}

		newIP := append(net.IP{}, ip...)
		expires := s.clock.Now().Add(s.leaseTime)
		if err := s.persist(scopeName, mac, newIP, "", expires); err != nil {
			return nil, fmt.Errorf("dhcp: persist lease: %w", err)
		}
		s.leases[mac] = newIP
		s.takenIPs[ipStr] = mac
		s.expiry[mac] = expires
		return newIP, nil
	}

	return nil, fmt.Errorf("dhcp: no IPs available in scope %s", scopeName)
}

// SetHostname records a hostname for later DNS integration / expiry.
func (s *LeaseStore) SetHostname(mac, hostname string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hostnames[mac] = hostname
}

// ExpireLeases removes leases whose expiry has passed. Returns how many
// were removed.
func (s *LeaseStore) ExpireLeases() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	removed := 0
	for mac, exp := range s.expiry {
		if now.After(exp) {
			if ip, ok := s.leases[mac]; ok {
				delete(s.takenIPs, ip.String())
			}
			delete(s.leases, mac)
			delete(s.expiry, mac)
			delete(s.hostnames, mac)
			removed++
		}
	}
	if removed > 0 {
		log.Printf("[DHCP] expired %d lease(s)", removed)
	}
	return removed
}

func incIP(ip net.IP) net.IP {
	out := append(net.IP{}, ip...)
	for i := len(out) - 1; i >= 0; i-- {
		out[i]++
		if out[i] != 0 {
			break
		}
	}
	return out
}

func ipLessOrEqual(a, b net.IP) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return true
}
