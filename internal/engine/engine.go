// Package engine applies parsed protocol requests to a cuckoo.Table
// and produces the protocol response describing the outcome. It is
// the seam between internal/proto's wire-level Request/Response types
// and internal/cuckoo's storage semantics, kept separate so each half
// stays testable without a socket.
package engine

import (
	"strconv"
	"sync"

	"github.com/salviati/cuckoocache/internal/cuckoo"
	"github.com/salviati/cuckoocache/internal/metrics"
	"github.com/salviati/cuckoocache/internal/proto"
)

// Version is reported in response to the protocol's "version" command.
const Version = "1.0.0"

// Engine binds a storage table and clock to request application.
type Engine struct {
	Table   *cuckoo.Table
	Clock   *cuckoo.Clock
	Metrics *metrics.Registry

	statsMu           sync.Mutex
	lastEvictions     int64
	lastDisplacements int64
}

// New builds an Engine. Metrics may be nil, in which case command
// counters are simply not recorded.
func New(tbl *cuckoo.Table, clock *cuckoo.Clock, m *metrics.Registry) *Engine {
	return &Engine{Table: tbl, Clock: clock, Metrics: m}
}

// resolveExpiry turns a normalized protocol expiry (0 = never, < 30
// days = relative, else absolute unix time) into the absolute instant
// the storage engine expects.
func (e *Engine) resolveExpiry(expiry uint32) uint32 {
	if expiry == 0 {
		return 0
	}
	if proto.IsRelative(expiry) {
		return e.Clock.Now() + expiry
	}
	return expiry
}

// Apply executes req against the table and returns the wire response.
// Quit is handled by the caller (it closes the connection rather than
// writing a reply), so it is not produced here.
func (e *Engine) Apply(req proto.Request) proto.Response {
	resp := e.apply(req)
	if e.Metrics != nil {
		e.Metrics.CommandsTotal.WithLabelValues(commandLabel(req.Cmd), outcomeLabel(resp.Kind)).Inc()
	}
	if req.NoReply {
		return proto.Response{Kind: proto.RespNone}
	}
	return resp
}

func (e *Engine) apply(req proto.Request) proto.Response {
	switch req.Cmd {
	case proto.CmdGet, proto.CmdGets:
		return e.applyRetrieve(req)
	case proto.CmdSet:
		defer e.recordTableMetrics()
		return outcomeResponse(e.Table.Set(e.itemFromRequest(req)))
	case proto.CmdAdd:
		defer e.recordTableMetrics()
		return outcomeResponse(e.Table.Add(e.itemFromRequest(req)))
	case proto.CmdReplace:
		defer e.recordTableMetrics()
		return outcomeResponse(e.Table.Replace(e.itemFromRequest(req)))
	case proto.CmdCAS:
		defer e.recordTableMetrics()
		return outcomeResponse(e.Table.CAS(e.itemFromRequest(req), req.CASToken))
	case proto.CmdAppend, proto.CmdPrepend:
		// the codec already rejects these with a client error before an
		// Apply call would ever see them; this case only guards against
		// a future caller driving Apply directly.
		return proto.Response{Kind: proto.RespClientError, Msg: "CLIENT_ERROR not supported"}
	case proto.CmdDelete:
		return outcomeResponse(e.Table.Delete(req.Keys[0]))
	case proto.CmdIncr, proto.CmdDecr:
		return e.applyIncrDecr(req)
	case proto.CmdTouch:
		if e.Table.Touch(req.Keys[0], e.resolveExpiry(req.Expiry)) == cuckoo.Stored {
			return proto.Response{Kind: proto.RespTouched}
		}
		return proto.Response{Kind: proto.RespNotFound}
	case proto.CmdFlushAll:
		// Table.Flush takes a delay; an absolute flush time is turned
		// back into the seconds remaining until it.
		delay := req.FlushDelay
		if delay != 0 && !proto.IsRelative(delay) {
			if now := e.Clock.Now(); delay > now {
				delay -= now
			} else {
				delay = 0
			}
		}
		e.Table.Flush(delay)
		return proto.Response{Kind: proto.RespOK}
	case proto.CmdStats:
		return e.applyStats()
	case proto.CmdVersion:
		return proto.Response{Kind: proto.RespVersion, Msg: Version}
	default:
		return proto.Response{Kind: proto.RespError}
	}
}

// itemFromRequest builds the Item the table will retain. proto.Parse's
// Key/Value slices are borrowed from the connection's read buffer and
// must not be retained past the next Parse call, so both are cloned
// here before the item ever reaches the table: keys and values are
// embedded in a slot, not pointed at the buffer that produced them.
func (e *Engine) itemFromRequest(req proto.Request) cuckoo.Item {
	return cuckoo.Item{
		Key:    append([]byte(nil), req.Keys[0]...),
		Value:  append([]byte(nil), req.Value...),
		Flags:  req.Flags,
		Expiry: e.resolveExpiry(req.Expiry),
	}
}

func (e *Engine) applyRetrieve(req proto.Request) proto.Response {
	rows := make([]proto.ValueRow, 0, len(req.Keys))
	for _, key := range req.Keys {
		it, ok := e.Table.Get(key)
		if !ok {
			continue
		}
		rows = append(rows, proto.ValueRow{
			Key:    it.Key,
			Flags:  it.Flags,
			Value:  it.Value,
			CAS:    it.CAS,
			HasCAS: req.Cmd == proto.CmdGets,
		})
	}
	return proto.Response{Kind: proto.RespValues, Values: rows}
}

func (e *Engine) applyIncrDecr(req proto.Request) proto.Response {
	v, outcome, err := e.Table.IncrDecr(req.Keys[0], req.Delta, req.Cmd == proto.CmdIncr)
	if err != nil {
		return proto.Response{Kind: proto.RespClientError, Msg: "CLIENT_ERROR cannot increment or decrement non-numeric value"}
	}
	if outcome == cuckoo.NotFound {
		return proto.Response{Kind: proto.RespNotFound}
	}
	return proto.Response{Kind: proto.RespInt, Int: v}
}

// recordTableMetrics diffs the table's cumulative eviction/displacement
// counters against the last observation and folds the delta into the
// Prometheus counters. Store ops (Set/Add/Replace/CAS) are the only
// ones that ever run the insert path, so this is only called from
// those branches; it is a no-op when Metrics is nil.
func (e *Engine) recordTableMetrics() {
	if e.Metrics == nil {
		return
	}
	s := e.Table.Stats()
	e.statsMu.Lock()
	dEvict := s.Evictions - e.lastEvictions
	dDisp := s.Displacements - e.lastDisplacements
	e.lastEvictions = s.Evictions
	e.lastDisplacements = s.Displacements
	e.statsMu.Unlock()

	if dEvict > 0 {
		e.Metrics.Evictions.Add(float64(dEvict))
	}
	if dDisp > 0 {
		e.Metrics.DisplacementChain.Observe(float64(dDisp))
	}
}

func (e *Engine) applyStats() proto.Response {
	s := e.Table.Stats()
	rows := []proto.StatRow{
		{Name: "curr_items", Value: strconv.FormatInt(s.CurrItems, 10)},
		{Name: "total_items", Value: strconv.FormatInt(s.TotalItems, 10)},
		{Name: "evictions", Value: strconv.FormatInt(s.Evictions, 10)},
		{Name: "cas_hits", Value: strconv.FormatInt(s.CASHits, 10)},
		{Name: "cas_misses", Value: strconv.FormatInt(s.CASMisses, 10)},
		{Name: "cas_badval", Value: strconv.FormatInt(s.CASBadval, 10)},
		{Name: "expired_unfetched", Value: strconv.FormatInt(s.ExpiredUnfetched, 10)},
		{Name: "displacements", Value: strconv.FormatInt(s.Displacements, 10)},
	}
	return proto.Response{Kind: proto.RespStats, Stats: rows}
}

func outcomeResponse(o cuckoo.Outcome) proto.Response {
	switch o {
	case cuckoo.Stored:
		return proto.Response{Kind: proto.RespStored}
	case cuckoo.NotStored:
		return proto.Response{Kind: proto.RespNotStored}
	case cuckoo.Exists:
		return proto.Response{Kind: proto.RespExists}
	case cuckoo.NotFound:
		return proto.Response{Kind: proto.RespNotFound}
	case cuckoo.Deleted:
		return proto.Response{Kind: proto.RespDeleted}
	default:
		return proto.Response{Kind: proto.RespServerError, Msg: "SERVER_ERROR unexpected outcome"}
	}
}

func commandLabel(cmd proto.Command) string {
	switch cmd {
	case proto.CmdGet:
		return "get"
	case proto.CmdGets:
		return "gets"
	case proto.CmdSet:
		return "set"
	case proto.CmdAdd:
		return "add"
	case proto.CmdReplace:
		return "replace"
	case proto.CmdAppend:
		return "append"
	case proto.CmdPrepend:
		return "prepend"
	case proto.CmdCAS:
		return "cas"
	case proto.CmdDelete:
		return "delete"
	case proto.CmdIncr:
		return "incr"
	case proto.CmdDecr:
		return "decr"
	case proto.CmdTouch:
		return "touch"
	case proto.CmdFlushAll:
		return "flush_all"
	case proto.CmdStats:
		return "stats"
	case proto.CmdVersion:
		return "version"
	case proto.CmdQuit:
		return "quit"
	default:
		return "unknown"
	}
}

func outcomeLabel(kind proto.ResponseKind) string {
	switch kind {
	case proto.RespStored:
		return "stored"
	case proto.RespNotStored:
		return "not_stored"
	case proto.RespExists:
		return "exists"
	case proto.RespNotFound:
		return "not_found"
	case proto.RespDeleted:
		return "deleted"
	case proto.RespTouched:
		return "touched"
	case proto.RespValues:
		return "values"
	case proto.RespInt:
		return "int"
	case proto.RespOK:
		return "ok"
	case proto.RespError:
		return "error"
	case proto.RespClientError:
		return "client_error"
	case proto.RespServerError:
		return "server_error"
	case proto.RespVersion:
		return "version"
	case proto.RespStats:
		return "stats"
	default:
		return "none"
	}
}
