package server

import (
	"bufio"
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/salviati/cuckoocache/internal/cuckoo"
)

// connState is the per-connection state machine stage, mirroring the
// Reading/Processing/Writing/Closing phases the reactor's I/O loop
// drives each connection through every pass.
type connState int

const (
	stateReading connState = iota
	stateProcessing
	stateWriting
	stateClosing
)

// conn is one client connection owned by exactly one worker for its
// entire lifetime (no connection migrates between workers).
type conn struct {
	id       string
	nc       net.Conn
	rw       *bufio.ReadWriter
	state    connState
	inbuf    []byte // bytes read but not yet parsed
	pos      int    // parse cursor into inbuf
	lastBusy uint32 // clock tick of last successful read/write, for idle eviction
	bufs     *bufPool
}

func newConn(nc net.Conn, bufSize int, clock *cuckoo.Clock, bufs *bufPool) *conn {
	return &conn{
		id:       uuid.NewString(),
		nc:       nc,
		rw:       bufio.NewReadWriter(bufio.NewReaderSize(nc, bufSize), bufio.NewWriterSize(nc, bufSize)),
		state:    stateReading,
		inbuf:    bufs.get(),
		lastBusy: clock.Now(),
		bufs:     bufs,
	}
}

func (c *conn) close() {
	_ = c.nc.Close()
	c.bufs.put(c.inbuf)
}

// bufPool recycles the byte slices backing conn.inbuf, grounded on the
// sync.Pool read-buffer idiom in the retrieved key-value cache server
// example, sized to buf_init_size.
type bufPool struct {
	pool sync.Pool
}

func newBufPool(size int) *bufPool {
	return &bufPool{pool: sync.Pool{New: func() interface{} {
		b := make([]byte, size)
		return &b
	}}}
}

func (p *bufPool) get() []byte {
	b := p.pool.Get().(*[]byte)
	return (*b)[:0]
}

func (p *bufPool) put(b []byte) {
	p.pool.Put(&b)
}
