// Package tftp implements spec.md §4.2: a read-only TFTP server
// (RFC1350 + RFC2348 blksize/tsize options) with pluggable backends.
// One listener socket accepts new requests; each transfer gets its own
// ephemeral socket and goroutine that blocks with its retransmit
// deadline as the wait bound, rather than the zero-timeout busy poll
// PyPXE's BaseTFTPD.listen() uses — spec.md §9's explicit redesign.
package tftp

import (
	"context"
	"encoding/binary"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/dhtech/netbootd/internal/config"
	"github.com/dhtech/netbootd/internal/netsvc"
)

// Service is the TFTP server.
type Service struct {
	mu      sync.Mutex
	conn    *net.UDPConn
	backend Backend
	cfg     *config.TFTPServer
	running bool
	wg      sync.WaitGroup
}

func NewService() *Service { return &Service{} }

func (s *Service) Name() string { return "TFTP" }

func (s *Service) Status() netsvc.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return netsvc.Status{Name: s.Name(), Running: s.running}
}

// Configure sets up the backend and binds the listener. Must be called
// before Start.
func (s *Service) Configure(cfg *config.TFTPServer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.cfg = cfg

	if cfg == nil || !cfg.Enabled {
		return nil
	}

	if cfg.HTTPOrigin != "" {
		s.backend = NewHTTPBackend(cfg.HTTPOrigin)
	} else {
		s.backend = &FSBackend{Root: cfg.Root}
	}

	addr := &net.UDPAddr{IP: net.ParseIP(cfg.Address), Port: cfg.Port}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("tftp: listen: %w", err)
	}
	s.conn = conn
	return nil
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running || s.conn == nil {
		return nil
	}
	s.running = true
	go s.listen()
	return nil
}

func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	s.wg.Wait()
	return nil
}

func (s *Service) listen() {
	buf := make([]byte, 1024)
	for {
		n, peer, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			return // socket closed on Stop
		}
		if n < 2 {
			continue
		}
		opcode := binary.BigEndian.Uint16(buf[:2])
		if opcode != opRRQ {
			continue // WRQ and everything else: out of scope (read-only server)
		}

		filename, mode, options := parseRRQ(buf[2:n])
		xfer, err := newTransfer(s.conn, peer, s.backend, s.cfg.DefaultRetries, time.Duration(s.cfg.TimeoutSeconds)*time.Second, s.cfg.Debug)
		if err != nil {
			log.Printf("[TFTP] failed to open transfer socket: %v", err)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			xfer.beginRequest(filename, mode, options)
			if !xfer.dead {
				s.runTransfer(xfer)
			}
		}()
	}
}

// runTransfer blocks on the transfer's own socket with its retransmit
// timeout as the read deadline: no work happens until either an ACK
// arrives or the deadline fires, so there is no busy polling.
func (s *Service) runTransfer(t *transfer) {
	buf := make([]byte, 4)
	for !t.dead {
		t.conn.SetReadDeadline(time.Now().Add(t.timeout))
		n, _, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				if t.noRetries() {
					t.log("giving up on %s after %d retries", t.filename, t.maxRetries)
					t.close()
					return
				}
				if err := t.sendBlock(); err != nil {
					t.close()
					return
				}
				continue
			}
			return // socket closed
		}
		if n < 2 {
			continue
		}
		opcode := binary.BigEndian.Uint16(buf[:2])
		if opcode != opACK {
			continue
		}
		t.handleACK(buf[2:4])
	}
}
