package server

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/salviati/cuckoocache/internal/cuckoo"
	"github.com/salviati/cuckoocache/internal/engine"
	"github.com/salviati/cuckoocache/internal/log"
)

func newTestServer(t *testing.T) (*Server, net.Addr) {
	t.Helper()
	clock := cuckoo.NewClock()
	t.Cleanup(clock.Stop)
	tbl, err := cuckoo.Open(cuckoo.Config{NumSlots: 1024}, clock)
	require.NoError(t, err)
	e := engine.New(tbl, clock, nil)
	logger := log.New(nil, "error")

	srv := New(Config{
		Host:            "127.0.0.1",
		Port:            0,
		Workers:         2,
		PerWorkerConns:  16,
		BufInitSize:     4096,
		BufSockPoolsize: 16,
		RingArrayCap:    16,
	}, e, clock, logger, nil)
	require.NoError(t, srv.Listen())

	go func() { _ = srv.Serve() }()
	t.Cleanup(srv.Shutdown)
	return srv, srv.Addr()
}

func TestServeRespondsToSetAndGet(t *testing.T) {
	// Registered before newTestServer so it runs after that helper's
	// Shutdown and clock.Stop cleanups (cleanups run last-in first-out).
	t.Cleanup(func() {
		goleak.VerifyNone(t,
			goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
		)
	})

	_, addr := newTestServer(t)

	nc, err := net.DialTimeout("tcp", addr.String(), time.Second)
	require.NoError(t, err)
	defer nc.Close()

	rw := bufio.NewReadWriter(bufio.NewReader(nc), bufio.NewWriter(nc))
	_, err = rw.WriteString("set foo 0 0 3\r\nbar\r\n")
	require.NoError(t, err)
	require.NoError(t, rw.Flush())

	line, err := readLineWithDeadline(t, nc, rw)
	require.NoError(t, err)
	require.Equal(t, "STORED\r\n", line)

	_, err = rw.WriteString("get foo\r\n")
	require.NoError(t, err)
	require.NoError(t, rw.Flush())

	valueLine, err := readLineWithDeadline(t, nc, rw)
	require.NoError(t, err)
	require.Equal(t, "VALUE foo 0 3\r\n", valueLine)
}

func readLineWithDeadline(t *testing.T, nc net.Conn, rw *bufio.ReadWriter) (string, error) {
	t.Helper()
	require.NoError(t, nc.SetReadDeadline(time.Now().Add(5*time.Second)))
	return rw.ReadString('\n')
}
