package cuckoo

// Item is the unit of storage: a key/value pair plus the metadata the
// memcached ASCII protocol exposes to clients.
type Item struct {
	Key     []byte
	Value   []byte
	Flags   uint32
	Expiry  uint32 // absolute unix seconds; 0 means "never expires"
	CAS     uint64 // meaningful only when the table has CAS enabled
	Created uint32 // absolute unix seconds at which this item was stored
}

func (it *Item) expired(now uint32) bool {
	return it.Expiry != 0 && it.Expiry <= now
}

// flushedBy reports whether the item was last stored at or before the
// given flush horizon and should be treated as logically absent.
// Created is stamped on every successful mutation (not just initial
// insertion), so this is the "last written at" timestamp regardless of
// whether CAS stamping is enabled for the table.
func (it *Item) flushedBy(horizon uint32) bool {
	return horizon != 0 && it.Created <= horizon
}

type slot struct {
	occupied bool
	item     Item
}
