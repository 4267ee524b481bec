package proto

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNeedsMoreOnIncompleteLine(t *testing.T) {
	r := Parse([]byte("get foo"), 0, 250, 1024)
	assert.Equal(t, StatusNeed, r.Status)
}

func TestParseNeedsMoreOnIncompleteDataBlock(t *testing.T) {
	r := Parse([]byte("set foo 0 0 3\r\nba"), 0, 250, 1024)
	assert.Equal(t, StatusNeed, r.Status)
}

func TestParseSet(t *testing.T) {
	buf := []byte("set foo 0 0 3\r\nbar\r\n")
	r := Parse(buf, 0, 250, 1024)
	require.Equal(t, StatusRequest, r.Status)
	assert.Equal(t, CmdSet, r.Request.Cmd)
	assert.Equal(t, "foo", string(r.Request.Keys[0]))
	assert.Equal(t, "bar", string(r.Request.Value))
	assert.Equal(t, len(buf), r.Consumed)
}

func TestParseGetMultiKey(t *testing.T) {
	r := Parse([]byte("get a b c\r\n"), 0, 250, 1024)
	require.Equal(t, StatusRequest, r.Status)
	assert.Equal(t, CmdGet, r.Request.Cmd)
	require.Len(t, r.Request.Keys, 3)
}

func TestParseNoreplySuppressesNothingInParser(t *testing.T) {
	r := Parse([]byte("set foo 0 0 3 noreply\r\nbar\r\n"), 0, 250, 1024)
	require.Equal(t, StatusRequest, r.Status)
	assert.True(t, r.Request.NoReply)
}

func TestParseOversizeKeyIsClientError(t *testing.T) {
	longKey := make([]byte, 251)
	for i := range longKey {
		longKey[i] = 'a'
	}
	buf := append([]byte("get "), longKey...)
	buf = append(buf, []byte("\r\n")...)
	r := Parse(buf, 0, 250, 1024)
	assert.Equal(t, StatusClientError, r.Status)
}

func TestParseKeyAtMaxLenAccepted(t *testing.T) {
	key := make([]byte, 250)
	for i := range key {
		key[i] = 'a'
	}
	buf := append([]byte("get "), key...)
	buf = append(buf, []byte("\r\n")...)
	r := Parse(buf, 0, 250, 1024)
	assert.Equal(t, StatusRequest, r.Status)
}

func TestParseOversizeValueNeedsFullFrameBeforeClientError(t *testing.T) {
	// The command line alone isn't enough: the codec must wait for the
	// client's already-committed nbytes+CRLF data block too.
	r := Parse([]byte("set foo 0 0 2000\r\n"), 0, 250, 1024)
	assert.Equal(t, StatusNeed, r.Status)
}

func TestParseOversizeValueSwallowsDataBlockAndResyncs(t *testing.T) {
	value := bytes.Repeat([]byte("x"), 2000)
	buf := append([]byte("set foo 0 0 2000\r\n"), value...)
	buf = append(buf, []byte("\r\nget bar\r\n")...)

	r := Parse(buf, 0, 250, 1024)
	require.Equal(t, StatusClientError, r.Status)
	assert.Equal(t, "CLIENT_ERROR object too large for cache", r.Message)

	// Consumed must cover the whole oversize frame (line + data + CRLF)
	// so the next Parse call resumes on the following command line
	// rather than misreading raw value bytes as a command.
	next := Parse(buf, r.Consumed, 250, 1024)
	require.Equal(t, StatusRequest, next.Status)
	assert.Equal(t, CmdGet, next.Request.Cmd)
	assert.Equal(t, "bar", string(next.Request.Keys[0]))
}

func TestParseAppendPrependRejected(t *testing.T) {
	r := Parse([]byte("append foo 0 0 3\r\nbar\r\n"), 0, 250, 1024)
	assert.Equal(t, StatusClientError, r.Status)
	assert.Equal(t, "CLIENT_ERROR not supported", r.Message)
}

func TestParseUnknownCommandIsError(t *testing.T) {
	r := Parse([]byte("frobnicate foo\r\n"), 0, 250, 1024)
	assert.Equal(t, StatusError, r.Status)
}

func TestParseCAS(t *testing.T) {
	r := Parse([]byte("cas foo 0 0 3 42\r\nqux\r\n"), 0, 250, 1024)
	require.Equal(t, StatusRequest, r.Status)
	assert.Equal(t, CmdCAS, r.Request.Cmd)
	assert.Equal(t, uint64(42), r.Request.CASToken)
}

func TestParseIncrDecr(t *testing.T) {
	r := Parse([]byte("incr n 1\r\n"), 0, 250, 1024)
	require.Equal(t, StatusRequest, r.Status)
	assert.True(t, r.Request.Incr)
	assert.Equal(t, uint64(1), r.Request.Delta)

	r = Parse([]byte("decr n 100\r\n"), 0, 250, 1024)
	require.Equal(t, StatusRequest, r.Status)
	assert.False(t, r.Request.Incr)
}

func TestParseIncrNonNumericDelta(t *testing.T) {
	r := Parse([]byte("incr n abc\r\n"), 0, 250, 1024)
	assert.Equal(t, StatusClientError, r.Status)
}

func TestParsePipelinedRequestsAdvanceCursor(t *testing.T) {
	buf := []byte("set a 0 0 1\r\n1\r\nset b 0 0 1\r\n2\r\nget a b\r\n")
	pos := 0

	r1 := Parse(buf, pos, 250, 1024)
	require.Equal(t, StatusRequest, r1.Status)
	pos += r1.Consumed

	r2 := Parse(buf, pos, 250, 1024)
	require.Equal(t, StatusRequest, r2.Status)
	pos += r2.Consumed

	r3 := Parse(buf, pos, 250, 1024)
	require.Equal(t, StatusRequest, r3.Status)
	assert.Equal(t, CmdGet, r3.Request.Cmd)
	pos += r3.Consumed

	assert.Equal(t, len(buf), pos)
}

func TestWriteGetResponse(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	err := Write(w, Response{
		Kind: RespValues,
		Values: []ValueRow{
			{Key: []byte("foo"), Flags: 0, Value: []byte("bar")},
		},
	})
	require.NoError(t, err)
	require.NoError(t, w.Flush())
	assert.Equal(t, "VALUE foo 0 3\r\nbar\r\nEND\r\n", buf.String())
}

func TestWriteGetsResponseIncludesCAS(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	err := Write(w, Response{
		Kind: RespValues,
		Values: []ValueRow{
			{Key: []byte("foo"), Flags: 0, Value: []byte("bar"), CAS: 7, HasCAS: true},
		},
	})
	require.NoError(t, err)
	require.NoError(t, w.Flush())
	assert.Equal(t, "VALUE foo 0 3 7\r\nbar\r\nEND\r\n", buf.String())
}

func TestWriteEmptyGetIsJustEnd(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	require.NoError(t, Write(w, Response{Kind: RespValues}))
	require.NoError(t, w.Flush())
	assert.Equal(t, "END\r\n", buf.String())
}

func TestWriteStored(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	require.NoError(t, Write(w, Response{Kind: RespStored}))
	require.NoError(t, w.Flush())
	assert.Equal(t, "STORED\r\n", buf.String())
}
