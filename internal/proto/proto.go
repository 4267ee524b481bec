// Package proto implements the subset of the memcached ASCII text
// protocol this cache speaks: tokenizing a byte stream into Requests
// and serializing Responses back to bytes. The codec owns no I/O of
// its own — it is handed a buffer and a cursor and returns how many
// bytes it consumed, so the event loop (internal/server) and tests can
// drive it identically.
//
// Grounded on the client-side framing in
// _examples/other_examples/dcb6a340_ttakezawa-memalpha (reply token
// vocabulary, error type hierarchy) and the server-side per-command
// switch in _examples/other_examples/93ca9790_grumpylabs-gopogo,
// generalized from a bufio.Reader-owning handler into a pure
// buffer-and-cursor parser.
package proto

import (
	"bytes"
	"strconv"
)

// Command identifies which verb a Request carries.
type Command int

const (
	CmdGet Command = iota
	CmdGets
	CmdSet
	CmdAdd
	CmdReplace
	CmdAppend  // parsed, but always rejected by Parse: see Non-goals.
	CmdPrepend // parsed, but always rejected by Parse: see Non-goals.
	CmdCAS
	CmdDelete
	CmdIncr
	CmdDecr
	CmdTouch
	CmdFlushAll
	CmdStats
	CmdVersion
	CmdQuit
)

// Request is a fully parsed command ready to apply to the storage
// engine. Value and Keys are slices borrowed from the caller's input
// buffer and must not be retained past the next Parse call on that
// buffer.
type Request struct {
	Cmd        Command
	Keys       [][]byte
	Flags      uint32
	Expiry     uint32
	Value      []byte
	CASToken   uint64
	Delta      uint64
	Incr       bool
	FlushDelay uint32
	StatsArg   string
	NoReply    bool
}

// Status reports what Parse was able to do with the bytes on hand.
type Status int

const (
	// StatusNeed means the buffer does not yet hold a complete frame;
	// the caller must read more bytes before parsing again.
	StatusNeed Status = iota
	// StatusRequest means a full Request was parsed; Consumed bytes
	// must be dropped (or the cursor advanced) before the next Parse.
	StatusRequest
	// StatusClientError means the frame was malformed in a way that
	// still lets the codec resynchronize (e.g. bad argument); the
	// caller should write a CLIENT_ERROR response (unless NoReply) and
	// advance past Consumed bytes.
	StatusClientError
	// StatusError means the command word itself is not recognized;
	// the caller should write ERROR and advance past Consumed bytes.
	StatusError
)

// ParseResult is the outcome of one Parse call.
type ParseResult struct {
	Status   Status
	Request  Request
	Consumed int    // bytes to advance the cursor by, meaningful when Status != StatusNeed
	Message  string // populated for StatusClientError / StatusError
}

const crlf = "\r\n"

// Parse attempts to read exactly one frame from buf[pos:]. It never
// looks before pos and never advances the cursor itself — callers own
// the cursor and must add Consumed to pos themselves.
func Parse(buf []byte, pos int, maxKeyLen, maxValLen int) ParseResult {
	data := buf[pos:]
	lineEnd := bytes.Index(data, []byte(crlf))
	if lineEnd < 0 {
		return ParseResult{Status: StatusNeed}
	}
	line := data[:lineEnd]
	afterLine := lineEnd + len(crlf)

	fields := bytes.Fields(line)
	if len(fields) == 0 {
		return ParseResult{Status: StatusError, Consumed: afterLine, Message: "ERROR"}
	}

	verb := string(fields[0])
	switch verb {
	case "get", "gets":
		return parseRetrieve(verb, fields, afterLine, maxKeyLen)
	case "set", "add", "replace", "append", "prepend":
		return parseStorage(verb, fields, data, afterLine, maxKeyLen, maxValLen)
	case "cas":
		return parseCAS(fields, data, afterLine, maxKeyLen, maxValLen)
	case "delete":
		return parseDelete(fields, afterLine, maxKeyLen)
	case "incr", "decr":
		return parseIncrDecr(verb, fields, afterLine, maxKeyLen)
	case "touch":
		return parseTouch(fields, afterLine, maxKeyLen)
	case "flush_all":
		return parseFlushAll(fields, afterLine)
	case "stats":
		return parseStats(fields, afterLine)
	case "version":
		return ParseResult{Status: StatusRequest, Request: Request{Cmd: CmdVersion}, Consumed: afterLine}
	case "quit":
		return ParseResult{Status: StatusRequest, Request: Request{Cmd: CmdQuit}, Consumed: afterLine}
	default:
		return ParseResult{Status: StatusError, Consumed: afterLine, Message: "ERROR"}
	}
}

func clientErr(consumed int, msg string) ParseResult {
	return ParseResult{Status: StatusClientError, Consumed: consumed, Message: "CLIENT_ERROR " + msg}
}

func validKey(key []byte, maxKeyLen int) bool {
	if len(key) < 1 || len(key) > maxKeyLen {
		return false
	}
	for _, b := range key {
		if b <= 0x20 || b == 0x7f {
			return false
		}
	}
	return true
}

func parseRetrieve(verb string, fields [][]byte, consumed, maxKeyLen int) ParseResult {
	if len(fields) < 2 {
		return clientErr(consumed, "bad command line format")
	}
	keys := make([][]byte, 0, len(fields)-1)
	for _, k := range fields[1:] {
		if !validKey(k, maxKeyLen) {
			return clientErr(consumed, "bad command line format")
		}
		keys = append(keys, k)
	}
	cmd := CmdGet
	if verb == "gets" {
		cmd = CmdGets
	}
	return ParseResult{Status: StatusRequest, Request: Request{Cmd: cmd, Keys: keys}, Consumed: consumed}
}

func commandFor(verb string) Command {
	switch verb {
	case "set":
		return CmdSet
	case "add":
		return CmdAdd
	case "replace":
		return CmdReplace
	case "append":
		return CmdAppend
	case "prepend":
		return CmdPrepend
	}
	panic("proto: unreachable verb " + verb)
}

// parseStorage handles set/add/replace/append/prepend, all of which
// share the "<cmd> <key> <flags> <exptime> <bytes> [noreply]" line
// shape followed by a data block. append/prepend are parsed fully (so
// the data block is consumed and the stream stays in sync) but always
// yield a StatusClientError "not supported" — the spec's documented
// Non-goal.
func parseStorage(verb string, fields [][]byte, data []byte, lineConsumed, maxKeyLen, maxValLen int) ParseResult {
	if len(fields) < 5 || len(fields) > 6 {
		return clientErr(lineConsumed, "bad command line format")
	}
	key := fields[1]
	if !validKey(key, maxKeyLen) {
		return clientErr(lineConsumed, "bad command line format")
	}
	flags, err1 := strconv.ParseUint(string(fields[2]), 10, 32)
	exptimeRaw, err2 := strconv.ParseInt(string(fields[3]), 10, 64)
	nbytes, err3 := strconv.Atoi(string(fields[4]))
	if err1 != nil || err2 != nil || err3 != nil || nbytes < 0 {
		return clientErr(lineConsumed, "bad command line format")
	}
	noreply := false
	if len(fields) == 6 {
		if string(fields[5]) != "noreply" {
			return clientErr(lineConsumed, "bad command line format")
		}
		noreply = true
	}
	dataStart := lineConsumed
	dataEnd := dataStart + nbytes
	if nbytes > maxValLen {
		// The client already committed to sending nbytes+CRLF on the
		// wire; real memcached still reads and discards that whole
		// block before replying, so the next Parse call resumes on a
		// command line rather than raw value bytes. Wait for the full
		// frame before reporting the error.
		if dataEnd+len(crlf) > len(data) {
			return ParseResult{Status: StatusNeed}
		}
		return clientErr(dataEnd+len(crlf), "object too large for cache")
	}
	if dataEnd+len(crlf) > len(data) {
		return ParseResult{Status: StatusNeed}
	}
	if string(data[dataEnd:dataEnd+len(crlf)]) != crlf {
		// resync past the next CRLF after the bad data chunk.
		rest := data[dataEnd:]
		nl := bytes.Index(rest, []byte(crlf))
		if nl < 0 {
			return ParseResult{Status: StatusNeed}
		}
		return clientErr(dataEnd+nl+len(crlf), "bad data chunk")
	}

	value := data[dataStart:dataEnd]
	consumed := dataEnd + len(crlf)

	if verb == "append" || verb == "prepend" {
		return ParseResult{
			Status:   StatusClientError,
			Request:  Request{Cmd: commandFor(verb), Keys: [][]byte{key}, NoReply: noreply},
			Consumed: consumed,
			Message:  "CLIENT_ERROR not supported",
		}
	}

	return ParseResult{
		Status: StatusRequest,
		Request: Request{
			Cmd:     commandFor(verb),
			Keys:    [][]byte{key},
			Flags:   uint32(flags),
			Expiry:  normalizeExpiry(exptimeRaw),
			Value:   value,
			NoReply: noreply,
		},
		Consumed: consumed,
	}
}

func parseCAS(fields [][]byte, data []byte, lineConsumed, maxKeyLen, maxValLen int) ParseResult {
	if len(fields) < 6 || len(fields) > 7 {
		return clientErr(lineConsumed, "bad command line format")
	}
	key := fields[1]
	if !validKey(key, maxKeyLen) {
		return clientErr(lineConsumed, "bad command line format")
	}
	flags, err1 := strconv.ParseUint(string(fields[2]), 10, 32)
	exptimeRaw, err2 := strconv.ParseInt(string(fields[3]), 10, 64)
	nbytes, err3 := strconv.Atoi(string(fields[4]))
	casToken, err4 := strconv.ParseUint(string(fields[5]), 10, 64)
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil || nbytes < 0 {
		return clientErr(lineConsumed, "bad command line format")
	}
	noreply := false
	if len(fields) == 7 {
		if string(fields[6]) != "noreply" {
			return clientErr(lineConsumed, "bad command line format")
		}
		noreply = true
	}
	dataStart := lineConsumed
	dataEnd := dataStart + nbytes
	if nbytes > maxValLen {
		if dataEnd+len(crlf) > len(data) {
			return ParseResult{Status: StatusNeed}
		}
		return clientErr(dataEnd+len(crlf), "object too large for cache")
	}
	if dataEnd+len(crlf) > len(data) {
		return ParseResult{Status: StatusNeed}
	}
	if string(data[dataEnd:dataEnd+len(crlf)]) != crlf {
		rest := data[dataEnd:]
		nl := bytes.Index(rest, []byte(crlf))
		if nl < 0 {
			return ParseResult{Status: StatusNeed}
		}
		return clientErr(dataEnd+nl+len(crlf), "bad data chunk")
	}

	return ParseResult{
		Status: StatusRequest,
		Request: Request{
			Cmd:      CmdCAS,
			Keys:     [][]byte{key},
			Flags:    uint32(flags),
			Expiry:   normalizeExpiry(exptimeRaw),
			Value:    data[dataStart:dataEnd],
			CASToken: casToken,
			NoReply:  noreply,
		},
		Consumed: dataEnd + len(crlf),
	}
}

func parseDelete(fields [][]byte, consumed, maxKeyLen int) ParseResult {
	if len(fields) < 2 || len(fields) > 3 {
		return clientErr(consumed, "bad command line format")
	}
	key := fields[1]
	if !validKey(key, maxKeyLen) {
		return clientErr(consumed, "bad command line format")
	}
	noreply := false
	if len(fields) == 3 {
		if string(fields[2]) != "noreply" {
			return clientErr(consumed, "bad command line format")
		}
		noreply = true
	}
	return ParseResult{Status: StatusRequest, Request: Request{Cmd: CmdDelete, Keys: [][]byte{key}, NoReply: noreply}, Consumed: consumed}
}

func parseIncrDecr(verb string, fields [][]byte, consumed, maxKeyLen int) ParseResult {
	if len(fields) < 3 || len(fields) > 4 {
		return clientErr(consumed, "invalid numeric delta argument")
	}
	key := fields[1]
	if !validKey(key, maxKeyLen) {
		return clientErr(consumed, "bad command line format")
	}
	delta, err := strconv.ParseUint(string(fields[2]), 10, 64)
	if err != nil {
		return clientErr(consumed, "invalid numeric delta argument")
	}
	noreply := false
	if len(fields) == 4 {
		if string(fields[3]) != "noreply" {
			return clientErr(consumed, "bad command line format")
		}
		noreply = true
	}
	cmd := CmdIncr
	if verb == "decr" {
		cmd = CmdDecr
	}
	return ParseResult{
		Status:   StatusRequest,
		Request:  Request{Cmd: cmd, Keys: [][]byte{key}, Delta: delta, Incr: verb == "incr", NoReply: noreply},
		Consumed: consumed,
	}
}

func parseTouch(fields [][]byte, consumed, maxKeyLen int) ParseResult {
	if len(fields) < 3 || len(fields) > 4 {
		return clientErr(consumed, "bad command line format")
	}
	key := fields[1]
	if !validKey(key, maxKeyLen) {
		return clientErr(consumed, "bad command line format")
	}
	exptimeRaw, err := strconv.ParseInt(string(fields[2]), 10, 64)
	if err != nil {
		return clientErr(consumed, "invalid exptime argument")
	}
	noreply := false
	if len(fields) == 4 {
		if string(fields[3]) != "noreply" {
			return clientErr(consumed, "bad command line format")
		}
		noreply = true
	}
	return ParseResult{
		Status:   StatusRequest,
		Request:  Request{Cmd: CmdTouch, Keys: [][]byte{key}, Expiry: normalizeExpiry(exptimeRaw), NoReply: noreply},
		Consumed: consumed,
	}
}

func parseFlushAll(fields [][]byte, consumed int) ParseResult {
	if len(fields) > 3 {
		return clientErr(consumed, "bad command line format")
	}
	var delay uint64
	idx := 1
	if len(fields) > idx && string(fields[idx]) != "noreply" {
		d, err := strconv.ParseUint(string(fields[idx]), 10, 32)
		if err != nil {
			return clientErr(consumed, "bad command line format")
		}
		delay = d
		idx++
	}
	noreply := false
	if len(fields) > idx {
		if string(fields[idx]) != "noreply" {
			return clientErr(consumed, "bad command line format")
		}
		noreply = true
	}
	return ParseResult{
		Status:   StatusRequest,
		Request:  Request{Cmd: CmdFlushAll, FlushDelay: uint32(delay), NoReply: noreply},
		Consumed: consumed,
	}
}

func parseStats(fields [][]byte, consumed int) ParseResult {
	arg := ""
	if len(fields) > 1 {
		arg = string(fields[1])
	}
	return ParseResult{Status: StatusRequest, Request: Request{Cmd: CmdStats, StatsArg: arg}, Consumed: consumed}
}

// normalizeExpiry follows memcached's convention: a value less than 30
// days in seconds is a relative offset from now; anything larger is
// treated as an absolute unix timestamp. Resolving "relative to now"
// into an absolute timestamp is the caller's job (it owns the clock);
// positive values pass through unchanged and IsRelative tells the
// caller which of them are offsets.
const thirtyDaysSeconds = 60 * 60 * 24 * 30

func normalizeExpiry(raw int64) uint32 {
	if raw <= 0 {
		if raw < 0 {
			// already-expired sentinel: the smallest value IsRelative
			// treats as absolute, an instant long in the past.
			return thirtyDaysSeconds
		}
		return 0 // never
	}
	return uint32(raw)
}

// IsRelative reports whether a normalized, nonzero expiry value from
// normalizeExpiry should be interpreted as a relative offset from now
// rather than an absolute unix timestamp.
func IsRelative(expiry uint32) bool {
	return expiry != 0 && expiry < thirtyDaysSeconds
}
