package server

import (
	"io"
	"net"
	"time"

	"github.com/salviati/cuckoocache/internal/cuckoo"
	"github.com/salviati/cuckoocache/internal/engine"
	"github.com/salviati/cuckoocache/internal/log"
	"github.com/salviati/cuckoocache/internal/metrics"
	"github.com/salviati/cuckoocache/internal/proto"
)

// pollDeadline is the near-zero read/write deadline each worker sets
// before touching a connection, standing in for a non-blocking socket
// read/write: net.Error.Timeout() plays the role EAGAIN would play in
// a raw-epoll reactor. No repo in the corpus binds epoll directly, so
// this is the idiomatic Go substitute for the same cooperative,
// single-goroutine-per-connection-set topology.
const pollDeadline = time.Millisecond

// ring is the round-robin hand-off queue an acceptor uses to assign
// freshly accepted connections across the worker pool.
type ring struct {
	slots []chan *conn
	next  int
}

func newRing(workers, cap int) *ring {
	r := &ring{slots: make([]chan *conn, workers)}
	for i := range r.slots {
		r.slots[i] = make(chan *conn, cap)
	}
	return r
}

// handoff assigns c to the next worker in round-robin order. It never
// blocks the acceptor indefinitely: a full ring applies back-pressure
// by closing the new connection rather than stalling accept().
func (r *ring) handoff(c *conn) bool {
	target := r.slots[r.next]
	r.next = (r.next + 1) % len(r.slots)
	select {
	case target <- c:
		return true
	default:
		return false
	}
}

// worker owns a disjoint set of connections for their entire lifetime
// and round-robins Reading/Processing/Writing/Closing over them each
// pass, never running two connections' request handling concurrently
// within itself.
type worker struct {
	id          int
	incoming    chan *conn
	conns       []*conn
	engine      *engine.Engine
	clock       *cuckoo.Clock
	bufs        *bufPool
	maxConns    int
	idleTimeout uint32 // seconds; 0 disables idle eviction
	logger      *log.Logger
	metrics     *metrics.Registry
	done        chan struct{}
}

func newWorker(id int, incoming chan *conn, e *engine.Engine, clock *cuckoo.Clock, bufs *bufPool, maxConns int, idleTimeout uint32, logger *log.Logger, m *metrics.Registry) *worker {
	return &worker{
		id:          id,
		incoming:    incoming,
		engine:      e,
		clock:       clock,
		bufs:        bufs,
		maxConns:    maxConns,
		idleTimeout: idleTimeout,
		logger:      logger,
		metrics:     m,
		done:        make(chan struct{}),
	}
}

func (w *worker) stop() { close(w.done) }

// run is the worker's reactor loop: drain newly handed-off
// connections, then sweep every owned connection through one
// Reading/Processing/Writing/Closing pass, evicting idle or closed
// connections as it goes.
func (w *worker) run() {
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-w.done:
			for _, c := range w.conns {
				c.close()
			}
			return
		case c := <-w.incoming:
			if len(w.conns) >= w.maxConns {
				c.close()
				continue
			}
			w.conns = append(w.conns, c)
			if w.metrics != nil {
				w.metrics.ConnectionsAccepted.Inc()
			}
		case <-ticker.C:
			w.sweep()
		}
	}
}

func (w *worker) sweep() {
	live := w.conns[:0]
	for _, c := range w.conns {
		if w.step(c) {
			live = append(live, c)
		} else {
			c.close()
			if w.metrics != nil {
				w.metrics.ConnectionsClosed.Inc()
			}
		}
	}
	w.conns = live
}

// step drives one connection through its next state-machine phase,
// returning false when the connection should be dropped.
func (w *worker) step(c *conn) bool {
	now := w.clock.Now()
	if w.idleTimeout != 0 && now-c.lastBusy > w.idleTimeout {
		c.state = stateClosing
	}

	switch c.state {
	case stateReading:
		if !w.doRead(c, now) {
			return false
		}
	case stateProcessing:
		w.doProcess(c)
	case stateWriting:
		if !w.doWrite(c) {
			return false
		}
	case stateClosing:
		return false
	}
	return true
}

func (w *worker) doRead(c *conn, now uint32) bool {
	_ = c.nc.SetReadDeadline(time.Now().Add(pollDeadline))
	chunk := make([]byte, 4096)
	n, err := c.nc.Read(chunk)
	if n > 0 {
		c.inbuf = append(c.inbuf, chunk[:n]...)
		c.lastBusy = now
		c.state = stateProcessing
		return true
	}
	if err == io.EOF {
		return false
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		// no bytes ready yet: stay in Reading and try again next pass.
		return true
	}
	if err != nil {
		return false
	}
	return true
}

func (w *worker) doProcess(c *conn) {
	wrote := false
	for {
		res := proto.Parse(c.inbuf, c.pos, w.engine.Table.MaxKeyLen(), w.engine.Table.MaxValLen())
		switch res.Status {
		case proto.StatusNeed:
			w.compact(c)
			if wrote {
				c.state = stateWriting
			} else {
				c.state = stateReading
			}
			return
		case proto.StatusRequest:
			c.pos += res.Consumed
			if res.Request.Cmd == proto.CmdQuit {
				c.state = stateClosing
				return
			}
			if w.writeResponse(c, w.engine.Apply(res.Request)) {
				wrote = true
			}
		case proto.StatusClientError:
			c.pos += res.Consumed
			if !res.Request.NoReply {
				if w.writeResponse(c, proto.Response{Kind: proto.RespClientError, Msg: res.Message}) {
					wrote = true
				}
			}
		case proto.StatusError:
			c.pos += res.Consumed
			if w.writeResponse(c, proto.Response{Kind: proto.RespError}) {
				wrote = true
			}
		}
		if c.pos >= len(c.inbuf) {
			c.inbuf = c.inbuf[:0]
			c.pos = 0
		}
	}
}

// compact drops already-consumed bytes so inbuf doesn't grow unbounded
// across partial frames.
func (w *worker) compact(c *conn) {
	if c.pos == 0 {
		return
	}
	old := c.inbuf
	remaining := old[c.pos:]
	buf := w.bufs.get()
	buf = append(buf, remaining...)
	c.inbuf = buf
	c.pos = 0
	w.bufs.put(old)
}

// writeResponse buffers resp into the connection's writer, returning
// whether anything was actually queued (false for a suppressed
// noreply). It never flushes; doWrite owns the flush/deadline dance.
func (w *worker) writeResponse(c *conn, resp proto.Response) bool {
	if resp.Kind == proto.RespNone {
		return false
	}
	if err := proto.Write(c.rw.Writer, resp); err != nil {
		c.state = stateClosing
		return false
	}
	return true
}

func (w *worker) doWrite(c *conn) bool {
	_ = c.nc.SetWriteDeadline(time.Now().Add(pollDeadline))
	if err := c.rw.Writer.Flush(); err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return true // partial flush: retry next pass.
		}
		return false
	}
	c.lastBusy = w.clock.Now()
	c.state = stateReading
	return true
}
