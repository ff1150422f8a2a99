package nfs

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"

	"github.com/dhtech/netbootd/internal/config"
	"github.com/dhtech/netbootd/internal/netsvc"
)

// Service is the netsvc.Service lifecycle wrapper around a Processor:
// it owns the TCP listener and the per-connection record-marked RPC
// loop, following the same mutex-guarded start/stop shape as the
// dhcp and tftp services in this module.
type Service struct {
	mu        sync.RWMutex
	listener  net.Listener
	processor *Processor
	cfg       *config.NFSServer
	running   bool
	wg        sync.WaitGroup
	lastErr   string
}

func NewService() *Service {
	return &Service{}
}

func (s *Service) Name() string { return "nfs" }

func (s *Service) Status() netsvc.Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return netsvc.Status{Name: "nfs", Running: s.running, Error: s.lastErr}
}

func (s *Service) Configure(cfg *config.NFSServer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	s.processor = NewProcessor(cfg.Root, cfg.ReadOnly)
	return nil
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.cfg == nil {
		s.mu.Unlock()
		return fmt.Errorf("nfs: Configure must be called before Start")
	}
	addr := fmt.Sprintf("%s:%d", s.cfg.Address, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("nfs: listen %s: %w", addr, err)
	}
	s.listener = ln
	s.running = true
	s.mu.Unlock()

	log.Printf("[NFS] listening on %s root=%s readonly=%v", addr, s.cfg.Root, s.cfg.ReadOnly)

	s.wg.Add(1)
	go s.accept()
	return nil
}

func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.running = false
	ln := s.listener
	s.mu.Unlock()

	if ln != nil {
		ln.Close()
	}
	s.wg.Wait()
	return nil
}

func (s *Service) accept() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.mu.RLock()
			running := s.running
			s.mu.RUnlock()
			if !running {
				return
			}
			s.mu.Lock()
			s.lastErr = err.Error()
			s.mu.Unlock()
			log.Printf("[NFS] accept error: %v", err)
			continue
		}
		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

func (s *Service) serveConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	for {
		body, err := readRecord(conn)
		if err != nil {
			return
		}
		hdr, args, err := decodeCallHeader(body)
		if err != nil {
			log.Printf("[NFS] malformed rpc call from %s: %v", conn.RemoteAddr(), err)
			return
		}
		if hdr.program != nfsProgram || hdr.version != nfsVersion4 {
			continue
		}

		reply := encodeReplyHeader(hdr.xid)
		switch hdr.proc {
		case nfsProcNull:
			// no result body
		case nfsProcCompound:
			reply = append(reply, s.processor.ProcessCompoundAs(args, hdr.uid, hdr.gid, hdr.hasAuthSys)...)
		default:
			continue
		}

		if err := writeRecord(conn, reply); err != nil {
			return
		}
	}
}
