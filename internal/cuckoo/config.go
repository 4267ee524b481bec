// Package cuckoo implements a fixed-capacity d-ary cuckoo hash table
// specialized for small memcached-style items. Keys and values are
// embedded directly in slots; the table never grows after Open.
package cuckoo

import "fmt"

// DisplacementPolicy selects how a victim slot is chosen among the
// candidate set during insertion when every candidate is occupied.
type DisplacementPolicy int

const (
	// PolicyRandom picks a uniformly random candidate as the victim.
	PolicyRandom DisplacementPolicy = iota
	// PolicyExpireFirst prefers the candidate with the nearest expiry,
	// breaking ties by the lowest slot index.
	PolicyExpireFirst
)

// HashAlgo selects the family of hash functions used to compute a
// key's candidate set.
type HashAlgo int

const (
	// HashXXHash derives the d seeds from xxhash.Sum64WithSeed. This is
	// the default: fast, well distributed, and already a dependency of
	// the surrounding stack.
	HashXXHash HashAlgo = iota
	// HashLegacy32 folds the key to a uint32 and rotates across the
	// murmur3/xxhash32/memcached-style 32-bit mixers. Kept for tables
	// migrated from deployments seeded with the 32-bit scheme.
	HashLegacy32
)

const (
	// DefaultMaxKeyLen matches the memcached ASCII protocol's key limit.
	DefaultMaxKeyLen = 250
	// DefaultNumHashes is the number of candidate slots per key (d).
	DefaultNumHashes = 4
	// DefaultDisplacementMax bounds the random-walk displacement chain.
	DefaultDisplacementMax = 4
	// MaxDisplacementMax is the hard ceiling on DisplacementMax.
	MaxDisplacementMax = 8
)

// Config holds the knobs fixed at table creation. Capacity, key/value
// caps, and the hash scheme are chosen once and never revisited.
type Config struct {
	// NumSlots is the number of preallocated slots (N). Never resized.
	NumSlots int
	// MaxKeyLen upper-bounds key length in bytes (1..250 by protocol).
	MaxKeyLen int
	// MaxValLen upper-bounds value length in bytes.
	MaxValLen int
	// NumHashes is d, the number of independent candidate slots per key.
	NumHashes int
	// DisplacementMax bounds the random-walk insertion chain (D_MAX).
	DisplacementMax int
	// Policy selects victim-selection during displacement.
	Policy DisplacementPolicy
	// HashAlgo selects the hash function family.
	HashAlgo HashAlgo
	// CASEnabled turns on per-item CAS stamping.
	CASEnabled bool
	// ItemSize is the optional raw per-item byte budget (cuckoo_item_size)
	// that MaxKeyLen/MaxValLen were derived from. Zero means
	// "unconstrained": callers that already derived MaxKeyLen/MaxValLen
	// from a known-good budget (tests, mostly) may leave it unset, since
	// there is then nothing left to check it against.
	ItemSize int
}

// WithDefaults returns a copy of cfg with zero-valued fields replaced
// by their defaults.
func (cfg Config) WithDefaults() Config {
	if cfg.MaxKeyLen == 0 {
		cfg.MaxKeyLen = DefaultMaxKeyLen
	}
	if cfg.NumHashes == 0 {
		cfg.NumHashes = DefaultNumHashes
	}
	if cfg.DisplacementMax == 0 {
		cfg.DisplacementMax = DefaultDisplacementMax
	}
	return cfg
}

// Validate rejects configurations that cannot hold even a minimal
// item at startup rather than silently truncating later.
func (cfg Config) Validate() error {
	if cfg.NumSlots <= 0 {
		return fmt.Errorf("cuckoo: cuckoo_nitem must be positive, got %d", cfg.NumSlots)
	}
	if cfg.MaxKeyLen <= 0 || cfg.MaxKeyLen > DefaultMaxKeyLen {
		return fmt.Errorf("cuckoo: max key length must be in 1..%d, got %d", DefaultMaxKeyLen, cfg.MaxKeyLen)
	}
	if cfg.MaxValLen < 0 {
		return fmt.Errorf("cuckoo: max value length cannot be negative, got %d", cfg.MaxValLen)
	}
	if cfg.NumHashes < 1 {
		return fmt.Errorf("cuckoo: number of hash functions must be >= 1, got %d", cfg.NumHashes)
	}
	if cfg.DisplacementMax < 1 || cfg.DisplacementMax > MaxDisplacementMax {
		return fmt.Errorf("cuckoo: displacement budget must be in 1..%d, got %d", MaxDisplacementMax, cfg.DisplacementMax)
	}
	if cfg.ItemSize != 0 && cfg.ItemSize < HeaderSize+cfg.MaxKeyLen {
		return fmt.Errorf("cuckoo: cuckoo_item_size %d cannot hold even a minimal header(%d)+key(%d)+zero-value item",
			cfg.ItemSize, HeaderSize, cfg.MaxKeyLen)
	}
	return nil
}

// HeaderSize is the fixed per-item bookkeeping overhead (flags, expiry,
// cas, created-at, key/value length prefixes) used only to validate
// that a configured item budget is not absurdly small; Go slots are
// garbage-collected structs rather than a hand-laid-out byte region,
// so this is a sizing sanity check, not an actual memory stride.
const HeaderSize = 4 /*flags*/ + 4 /*expiry*/ + 8 /*cas*/ + 4 /*created*/ + 2 /*keylen*/ + 4 /*vallen*/
