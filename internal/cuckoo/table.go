package cuckoo

import (
	"errors"
	"strconv"
	"sync"
)

// Outcome classifies the result of a mutating operation.
type Outcome int

const (
	Stored Outcome = iota
	NotStored
	Exists
	NotFound
	Deleted
)

// ErrNotNumeric is returned by Incr/Decr when the stored value is not
// a bare, non-negative decimal integer.
var ErrNotNumeric = errors.New("cuckoo: value is not numeric")

// Stats is a point-in-time snapshot of table occupancy and activity,
// grounded on orca-zhang-cache's inspector callback idiom but recorded
// inline rather than delivered through a caller-supplied hook, since
// nothing in this spec calls for pluggable inspection.
type Stats struct {
	CurrItems        int64
	TotalItems       int64
	Evictions        int64
	CASHits          int64
	CASMisses        int64
	CASBadval        int64
	ExpiredUnfetched int64
	Displacements    int64
}

// Table is a fixed-capacity, d-ary cuckoo hash table. All memory for
// slots is preallocated in Open and never resized. A single mutex
// serializes mutating operations; Get takes the same lock since slots
// are mutated in place, matching the "coarse lock per operation is
// acceptable" tradeoff the specification explicitly allows.
type Table struct {
	mu    sync.Mutex
	cfg   Config
	slots []slot
	seeds []uint64
	clock *Clock
	rng   *fastrand

	casCounter   uint64
	flushHorizon uint32
	stats        Stats
}

// Open creates a table with the given configuration, preallocating all
// slots up front. The clock is shared with callers (typically the I/O
// core) so expiry checks never issue a time syscall per operation.
func Open(cfg Config, clock *Clock) (*Table, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	t := &Table{
		cfg:   cfg,
		slots: make([]slot, cfg.NumSlots),
		seeds: make([]uint64, cfg.NumHashes),
		clock: clock,
		rng:   newFastrand(clock.Now()*2654435761 + 1),
	}
	for i := range t.seeds {
		t.seeds[i] = uint64(t.rng.next())<<32 | uint64(t.rng.next())
	}
	return t, nil
}

// MaxKeyLen returns the configured key length ceiling, for callers
// (the protocol codec) that must reject oversize keys before ever
// touching the table.
func (t *Table) MaxKeyLen() int { return t.cfg.MaxKeyLen }

// MaxValLen returns the configured value length ceiling.
func (t *Table) MaxValLen() int { return t.cfg.MaxValLen }

// Stats returns a snapshot of table counters.
func (t *Table) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}

// candidates computes the (possibly duplicated) candidate slot indices
// for key.
func (t *Table) candidates(key []byte) []int {
	h := make([]int, t.cfg.NumHashes)
	for j := range h {
		h[j] = candidateHash(t.cfg.HashAlgo, key, t.seeds[j], j, len(t.slots))
	}
	return h
}

// liveAt reports whether the slot at idx holds an unexpired,
// unflushed item, and returns a pointer to it when so.
func (t *Table) liveAt(idx int, now uint32) (*Item, bool) {
	s := &t.slots[idx]
	if !s.occupied {
		return nil, false
	}
	if s.item.expired(now) || s.item.flushedBy(t.flushHorizon) {
		return nil, false
	}
	return &s.item, true
}

func (t *Table) findOccupied(key []byte, now uint32) (idx int, found bool) {
	for _, c := range t.candidates(key) {
		if item, live := t.liveAt(c, now); live && string(item.Key) == string(key) {
			return c, true
		}
	}
	return -1, false
}

// hadExpired reports whether key currently occupies one of its
// candidate slots with an item that failed liveness purely due to
// expiry (used only for the expired_unfetched stat).
func (t *Table) hadExpired(key []byte, now uint32) bool {
	for _, c := range t.candidates(key) {
		s := &t.slots[c]
		if s.occupied && string(s.item.Key) == string(key) && s.item.expired(now) {
			return true
		}
	}
	return false
}

// Get returns a copy of the resident item for key, or ok=false on a
// miss (including logical misses from expiry or flush).
func (t *Table) Get(key []byte) (Item, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock.Now()
	idx, found := t.findOccupied(key, now)
	if !found {
		if t.hadExpired(key, now) {
			t.stats.ExpiredUnfetched++
		}
		return Item{}, false
	}
	return t.slots[idx].item, true
}

// storeMode selects the precondition a Put must satisfy.
type storeMode int

const (
	modeSet storeMode = iota
	modeAdd
	modeReplace
	modeCAS
)

// Set stores the item unconditionally.
func (t *Table) Set(it Item) Outcome {
	return t.put(modeSet, it, 0)
}

// Add stores the item only if the key is absent or expired.
func (t *Table) Add(it Item) Outcome {
	return t.put(modeAdd, it, 0)
}

// Replace stores the item only if the key is present and unexpired.
func (t *Table) Replace(it Item) Outcome {
	return t.put(modeReplace, it, 0)
}

// CAS stores the item only if the resident item's CAS stamp equals token.
func (t *Table) CAS(it Item, token uint64) Outcome {
	return t.put(modeCAS, it, token)
}

func (t *Table) put(mode storeMode, it Item, token uint64) Outcome {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	existingIdx, existingFound := t.findOccupied(it.Key, now)

	switch mode {
	case modeAdd:
		if existingFound {
			return NotStored
		}
	case modeReplace:
		if !existingFound {
			return NotStored
		}
	case modeCAS:
		if !existingFound {
			t.stats.CASMisses++
			return NotFound
		}
		if t.slots[existingIdx].item.CAS != token {
			t.stats.CASBadval++
			return Exists
		}
		t.stats.CASHits++
	}

	it.Created = now
	if t.cfg.CASEnabled {
		t.casCounter++
		it.CAS = t.casCounter
	}

	if existingFound {
		t.slots[existingIdx].item = it
		return Stored
	}

	if !t.insert(it, now) {
		// insert always succeeds by evicting, but guard defensively.
		return NotStored
	}
	t.stats.TotalItems++
	return Stored
}

// insert runs the candidate-probe / displacement-chain / eviction
// algorithm. It always succeeds: if the displacement budget is
// exhausted, the current item is evicted to make room.
//
// Grounded on salviati-cuckoo's tryInsert/tryAdd/tryGreedyAdd random
// walk, generalized from fixed uint32 keys to byte-slice keys and from
// "grow on failure" to "evict on failure" per this table's fixed-
// capacity, no-resize requirement.
func (t *Table) insert(it Item, now uint32) bool {
	cand := t.candidates(it.Key)

	// 1. any free or expired candidate: write directly.
	for _, idx := range cand {
		s := &t.slots[idx]
		if !s.occupied || s.item.expired(now) || s.item.flushedBy(t.flushHorizon) {
			if s.occupied {
				t.stats.CurrItems--
			}
			s.occupied = true
			s.item = it
			t.stats.CurrItems++
			return true
		}
	}

	// 2. displacement chain, bounded by DisplacementMax.
	for depth := 0; depth < t.cfg.DisplacementMax; depth++ {
		victim := t.chooseVictim(cand, now)
		evictedItem := t.slots[victim].item

		t.slots[victim].item = it
		t.stats.Displacements++

		otherCand := t.candidates(evictedItem.Key)
		for _, idx := range otherCand {
			if idx == victim {
				continue
			}
			s := &t.slots[idx]
			if !s.occupied || s.item.expired(now) || s.item.flushedBy(t.flushHorizon) {
				if s.occupied {
					t.stats.CurrItems--
				}
				s.occupied = true
				s.item = evictedItem
				t.stats.CurrItems++
				return true
			}
		}

		// none of the victim's other candidates are free: keep
		// displacing the evicted item.
		it = evictedItem
		cand = otherCand
	}

	// 3. budget exhausted: evict whatever now sits in the last victim
	// slot's candidate set by overwriting the most recently displaced
	// slot, bounding worst-case insertion work at DisplacementMax+1
	// slot writes.
	victim := t.chooseVictim(cand, now)
	t.slots[victim].occupied = true
	t.slots[victim].item = it
	t.stats.Evictions++
	return true
}

// chooseVictim selects which candidate slot to displace when all
// candidates are occupied by live items.
func (t *Table) chooseVictim(cand []int, now uint32) int {
	if t.cfg.Policy == PolicyExpireFirst {
		best := cand[0]
		bestExpiry := t.slots[best].item.Expiry
		for _, idx := range cand[1:] {
			e := t.slots[idx].item.Expiry
			if expiryBefore(e, bestExpiry) || (e == bestExpiry && idx < best) {
				best, bestExpiry = idx, e
			}
		}
		return best
	}
	return cand[t.rng.intn(len(cand))]
}

// expiryBefore orders expiries with 0 ("never") sorting last.
func expiryBefore(a, b uint32) bool {
	if a == 0 {
		return false
	}
	if b == 0 {
		return true
	}
	return a < b
}

// Delete removes key if present.
func (t *Table) Delete(key []byte) Outcome {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock.Now()
	idx, found := t.findOccupied(key, now)
	if !found {
		return NotFound
	}
	t.slots[idx].occupied = false
	t.stats.CurrItems--
	return Deleted
}

// Touch updates only the expiry of a resident item.
func (t *Table) Touch(key []byte, expiry uint32) Outcome {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock.Now()
	idx, found := t.findOccupied(key, now)
	if !found {
		return NotFound
	}
	t.slots[idx].item.Expiry = expiry
	if t.cfg.CASEnabled {
		t.casCounter++
		t.slots[idx].item.CAS = t.casCounter
	}
	return Stored
}

// IncrDecr applies a saturating/wrapping delta to the stored value,
// which must parse as an ASCII unsigned 64-bit decimal integer.
// incr wraps at 2^64 per memcached convention; decr saturates at 0.
func (t *Table) IncrDecr(key []byte, delta uint64, incr bool) (newValue uint64, outcome Outcome, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock.Now()
	idx, found := t.findOccupied(key, now)
	if !found {
		return 0, NotFound, nil
	}

	cur, perr := strconv.ParseUint(string(t.slots[idx].item.Value), 10, 64)
	if perr != nil {
		return 0, NotFound, ErrNotNumeric
	}

	if incr {
		cur += delta // wraps at 2^64, matching memcached
	} else if delta >= cur {
		cur = 0
	} else {
		cur -= delta
	}

	t.slots[idx].item.Value = []byte(strconv.FormatUint(cur, 10))
	if t.cfg.CASEnabled {
		t.casCounter++
		t.slots[idx].item.CAS = t.casCounter
	}
	return cur, Stored, nil
}

// Flush sets the flush horizon to now+after, logically discarding
// every item last written at or before that instant. Reclamation is
// lazy: occupied slots are freed on the next collision, not scanned.
func (t *Table) Flush(after uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.flushHorizon = t.clock.Now() + after
}
