// Package server implements the event-driven TCP front end: one
// acceptor goroutine handing freshly accepted connections to a fixed
// pool of worker goroutines over a round-robin ring, each worker then
// driving its owned connections through a Reading/Processing/Writing/
// Closing state machine without ever blocking on another connection's
// I/O.
package server

import (
	"fmt"
	"net"
	"sync"

	"github.com/salviati/cuckoocache/internal/cuckoo"
	"github.com/salviati/cuckoocache/internal/engine"
	"github.com/salviati/cuckoocache/internal/log"
	"github.com/salviati/cuckoocache/internal/metrics"
)

// Config holds the I/O core's tunables, mirroring the configuration
// surface table's tcp_backlog/tcp_poolsize/buf_init_size/
// ring_array_cap/idle-timeout knobs.
type Config struct {
	Host            string
	Port            int
	Backlog         int // recorded only; Go's net package does not expose backlog directly, see Server.Listen
	Workers         int
	PerWorkerConns  int // tcp_poolsize
	BufInitSize     int // buf_init_size
	BufSockPoolsize int // buf_sock_poolsize: recorded only; the sync.Pool-backed bufPool has no depth limit
	RingArrayCap    int // ring_array_cap: capacity of each worker's hand-off channel
	IdleTimeoutSecs uint32
}

// Server is the composed TCP front end: acceptor + worker pool bound
// to a single storage engine.
type Server struct {
	cfg     Config
	ln      net.Listener
	ring    *ring
	workers []*worker
	bufs    *bufPool
	logger  *log.Logger
	wg      sync.WaitGroup
}

// New builds a Server. Listen must be called before Serve.
func New(cfg Config, e *engine.Engine, clock *cuckoo.Clock, logger *log.Logger, m *metrics.Registry) *Server {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	bufs := newBufPool(cfg.BufInitSize)
	r := newRing(cfg.Workers, cfg.RingArrayCap)
	workers := make([]*worker, cfg.Workers)
	for i := range workers {
		workers[i] = newWorker(i, r.slots[i], e, clock, bufs, cfg.PerWorkerConns, cfg.IdleTimeoutSecs, logger, m)
	}
	return &Server{cfg: cfg, ring: r, workers: workers, bufs: bufs, logger: logger}
}

// Listen binds the TCP address with net.Listen. The standard library
// does not expose a portable listen() backlog parameter, so
// tcp_backlog is kept in Config but not applied — the kernel's default
// backlog applies, which is the same limitation every pure-Go TCP
// server in the pack lives with.
func (s *Server) Listen() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", addr, err)
	}
	s.ln = ln
	return nil
}

// Addr returns the bound listener address, useful in tests that bind
// to port 0.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// Serve starts every worker and the acceptor loop. It blocks until
// the listener is closed by Shutdown.
func (s *Server) Serve() error {
	for _, w := range s.workers {
		s.wg.Add(1)
		go func(w *worker) {
			defer s.wg.Done()
			w.run()
		}(w)
	}

	for {
		nc, err := s.ln.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return err // listener closed: Shutdown was called.
		}
		c := newConn(nc, s.cfg.BufInitSize, s.workers[0].clock, s.bufs)
		if !s.ring.handoff(c) {
			s.logger.Warn("connection rejected: ring at capacity", "remote", nc.RemoteAddr().String())
			c.close()
		}
	}
}

// Shutdown closes the listener and stops every worker, closing their
// owned connections.
func (s *Server) Shutdown() {
	if s.ln != nil {
		_ = s.ln.Close()
	}
	for _, w := range s.workers {
		w.stop()
	}
	s.wg.Wait()
}
