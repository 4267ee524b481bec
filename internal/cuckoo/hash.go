package cuckoo

import "github.com/cespare/xxhash/v2"

// legacy32Func mixes a folded key integer with a per-candidate seed.
// Kept from the original integer-keyed implementation this table's
// hash scheme is descended from.
type legacy32Func func(k uint32, seed uint32) uint32

const (
	murmur3C1_32 uint32 = 0xcc9e2d51
	murmur3C2_32 uint32 = 0x1b873593
)

const (
	xxPrime32_1 uint32 = 2654435761
	xxPrime32_2 uint32 = 2246822519
	xxPrime32_3 uint32 = 3266489917
	xxPrime32_4 uint32 = 668265263
	xxPrime32_5 uint32 = 374761393
)

const (
	memC0 = 2860486313
	memC1 = 3267000013
)

func legacyMurmur3Mix(k uint32, seed uint32) uint32 {
	k *= murmur3C1_32
	k = (k << 15) | (k >> (32 - 15))
	k *= murmur3C2_32

	h := seed
	h ^= k
	h = (h << 13) | (h >> (32 - 13))
	h = (h<<2 + h) + 0xe6546b64

	return h
}

func legacyXXHash32Mix(k uint32, seed uint32) uint32 {
	h := seed + xxPrime32_5
	h += k * xxPrime32_3
	h = ((h << 17) | (h >> (32 - 17))) * xxPrime32_4
	h ^= h >> 15
	h *= xxPrime32_2
	h ^= h >> 13
	h *= xxPrime32_3
	h ^= h >> 16

	return h
}

func legacyMemcachedMix(k uint32, seed uint32) uint32 {
	h := k ^ memC0
	h ^= (k & 0xff) * memC1
	h ^= (k >> 8 & 0xff) * memC1
	h ^= (k >> 16 & 0xff) * memC1
	h ^= (k >> 24 & 0xff) * memC1

	return h
}

// legacy32Funcs is rotated across candidates d=0,1,2,... (mod len) when
// HashLegacy32 is selected, so candidates j and j+3 share a mixer and
// differ only by seed. legacyMemcachedMix ignores the seed, so the
// candidates it serves depend on the key alone.
var legacy32Funcs = [3]legacy32Func{legacyMurmur3Mix, legacyXXHash32Mix, legacyMemcachedMix}

// foldKey collapses an arbitrary-length key into a single uint32 for
// the legacy 32-bit mixers, the way the original integer-keyed table
// would have received its key directly.
func foldKey(key []byte) uint32 {
	var h uint32 = 0x811c9dc5 // FNV offset basis, just a cheap mixing seed
	for _, b := range key {
		h ^= uint32(b)
		h *= 16777619 // FNV prime
	}
	return h
}

// candidateHash returns the slot index for the j-th candidate of key,
// modulo n (the table's slot count).
func candidateHash(algo HashAlgo, key []byte, seed uint64, j int, n int) int {
	switch algo {
	case HashLegacy32:
		folded := foldKey(key)
		mixed := legacy32Funcs[j%len(legacy32Funcs)](folded, uint32(seed))
		return int(mixed) % n
	default:
		return int(xxhash.Sum64WithSeed(key, seed) % uint64(n))
	}
}
