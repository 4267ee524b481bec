package cuckoo

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClock() *Clock {
	c := NewClock()
	return c
}

func newTestTable(t *testing.T, cfg Config) *Table {
	t.Helper()
	clock := testClock()
	t.Cleanup(clock.Stop)
	tbl, err := Open(cfg, clock)
	require.NoError(t, err)
	return tbl
}

func TestSetGetRoundTrip(t *testing.T) {
	tbl := newTestTable(t, Config{NumSlots: 1024})
	tbl.Set(Item{Key: []byte("foo"), Value: []byte("bar")})

	got, ok := tbl.Get([]byte("foo"))
	require.True(t, ok)
	assert.Equal(t, []byte("bar"), got.Value)
}

func TestAddRejectsExistingKey(t *testing.T) {
	tbl := newTestTable(t, Config{NumSlots: 1024})
	require.Equal(t, Stored, tbl.Add(Item{Key: []byte("foo"), Value: []byte("bar")}))
	assert.Equal(t, NotStored, tbl.Add(Item{Key: []byte("foo"), Value: []byte("baz")}))
}

func TestReplaceRequiresExistingKey(t *testing.T) {
	tbl := newTestTable(t, Config{NumSlots: 1024})
	assert.Equal(t, NotStored, tbl.Replace(Item{Key: []byte("foo"), Value: []byte("bar")}))
	tbl.Set(Item{Key: []byte("foo"), Value: []byte("bar")})
	assert.Equal(t, Stored, tbl.Replace(Item{Key: []byte("foo"), Value: []byte("baz")}))
}

func TestCASRoundTrip(t *testing.T) {
	tbl := newTestTable(t, Config{NumSlots: 1024, CASEnabled: true})
	tbl.Set(Item{Key: []byte("foo"), Value: []byte("bar")})

	got, ok := tbl.Get([]byte("foo"))
	require.True(t, ok)
	tok := got.CAS

	assert.Equal(t, Stored, tbl.CAS(Item{Key: []byte("foo"), Value: []byte("qux")}, tok))

	// same (now stale) token must fail with Exists.
	assert.Equal(t, Exists, tbl.CAS(Item{Key: []byte("foo"), Value: []byte("zzz")}, tok))

	assert.Equal(t, NotFound, tbl.CAS(Item{Key: []byte("missing"), Value: []byte("v")}, 1))
}

func TestCASMonotonic(t *testing.T) {
	tbl := newTestTable(t, Config{NumSlots: 1024, CASEnabled: true})
	var last uint64
	for i := 0; i < 50; i++ {
		tbl.Set(Item{Key: []byte(fmt.Sprintf("k%d", i)), Value: []byte("v")})
		got, ok := tbl.Get([]byte(fmt.Sprintf("k%d", i)))
		require.True(t, ok)
		assert.Greater(t, got.CAS, last)
		last = got.CAS
	}
}

func TestIncrDecr(t *testing.T) {
	tbl := newTestTable(t, Config{NumSlots: 1024})
	tbl.Set(Item{Key: []byte("n"), Value: []byte("41")})

	v, outcome, err := tbl.IncrDecr([]byte("n"), 1, true)
	require.NoError(t, err)
	assert.Equal(t, Stored, outcome)
	assert.Equal(t, uint64(42), v)

	v, outcome, err = tbl.IncrDecr([]byte("n"), 100, false)
	require.NoError(t, err)
	assert.Equal(t, Stored, outcome)
	assert.Equal(t, uint64(0), v) // saturates at 0, does not go negative

	_, _, err = tbl.IncrDecr([]byte("missing"), 1, true)
	require.NoError(t, err)
}

func TestIncrNonNumericIsClientError(t *testing.T) {
	tbl := newTestTable(t, Config{NumSlots: 1024})
	tbl.Set(Item{Key: []byte("s"), Value: []byte("not-a-number")})
	_, _, err := tbl.IncrDecr([]byte("s"), 1, true)
	assert.ErrorIs(t, err, ErrNotNumeric)
}

func TestDeleteIsIdempotentNotFoundAfter(t *testing.T) {
	tbl := newTestTable(t, Config{NumSlots: 1024})
	tbl.Set(Item{Key: []byte("foo"), Value: []byte("bar")})
	assert.Equal(t, Deleted, tbl.Delete([]byte("foo")))
	assert.Equal(t, NotFound, tbl.Delete([]byte("foo")))

	_, ok := tbl.Get([]byte("foo"))
	assert.False(t, ok)
}

func TestExpiredItemIsAMiss(t *testing.T) {
	clock := testClock()
	t.Cleanup(clock.Stop)
	tbl, err := Open(Config{NumSlots: 1024}, clock)
	require.NoError(t, err)

	tbl.Set(Item{Key: []byte("t"), Value: []byte("x"), Expiry: clock.Now() - 1})
	_, ok := tbl.Get([]byte("t"))
	assert.False(t, ok)
}

func TestNeverExpiresWhenExpiryZero(t *testing.T) {
	tbl := newTestTable(t, Config{NumSlots: 1024})
	tbl.Set(Item{Key: []byte("forever"), Value: []byte("x"), Expiry: 0})
	_, ok := tbl.Get([]byte("forever"))
	assert.True(t, ok)
}

func TestTouchUpdatesExpiryOnly(t *testing.T) {
	tbl := newTestTable(t, Config{NumSlots: 1024})
	tbl.Set(Item{Key: []byte("foo"), Value: []byte("bar")})
	exp := tbl.clock.Now() + 3600 // Touch takes an absolute instant
	assert.Equal(t, Stored, tbl.Touch([]byte("foo"), exp))
	got, ok := tbl.Get([]byte("foo"))
	require.True(t, ok)
	assert.Equal(t, exp, got.Expiry)
	assert.Equal(t, []byte("bar"), got.Value)

	assert.Equal(t, NotFound, tbl.Touch([]byte("missing"), 1000))
}

func TestFlushAllHidesExistingItems(t *testing.T) {
	tbl := newTestTable(t, Config{NumSlots: 1024})
	tbl.Set(Item{Key: []byte("foo"), Value: []byte("bar")})
	tbl.Flush(0)

	_, ok := tbl.Get([]byte("foo"))
	assert.False(t, ok)

	tbl.Set(Item{Key: []byte("after"), Value: []byte("v")})
	_, ok = tbl.Get([]byte("after"))
	assert.True(t, ok, "items written after the flush horizon must survive")
}

func TestOverflowEvictsButNeverPanics(t *testing.T) {
	tbl := newTestTable(t, Config{NumSlots: 8, DisplacementMax: 4})
	for i := 0; i < 1000; i++ {
		key := []byte(fmt.Sprintf("key-%d", i))
		assert.NotPanics(t, func() {
			tbl.Set(Item{Key: key, Value: []byte("v")})
		})
	}
	stats := tbl.Stats()
	assert.LessOrEqual(t, int(stats.CurrItems), 8)
}

func TestGetReturnsAtMostOneValue(t *testing.T) {
	tbl := newTestTable(t, Config{NumSlots: 4096, NumHashes: 4})
	keys := make([][]byte, 200)
	for i := range keys {
		keys[i] = []byte(fmt.Sprintf("dup-%d", i))
		tbl.Set(Item{Key: keys[i], Value: []byte(fmt.Sprintf("v%d", i))})
	}
	for i, k := range keys {
		got, ok := tbl.Get(k)
		if !ok {
			continue // may have been evicted under pressure; that's allowed
		}
		assert.Equal(t, fmt.Sprintf("v%d", i), string(got.Value))
	}
}

func TestDisplacementPolicyExpireFirst(t *testing.T) {
	tbl := newTestTable(t, Config{NumSlots: 8, NumHashes: 2, DisplacementMax: 4, Policy: PolicyExpireFirst})
	for i := 0; i < 50; i++ {
		assert.NotPanics(t, func() {
			tbl.Set(Item{Key: []byte(fmt.Sprintf("k%d", i)), Value: []byte("v"), Expiry: uint32(i + 1)})
		})
	}
}

func TestLegacy32HashAlgoWorks(t *testing.T) {
	tbl := newTestTable(t, Config{NumSlots: 1024, HashAlgo: HashLegacy32})
	tbl.Set(Item{Key: []byte("foo"), Value: []byte("bar")})
	got, ok := tbl.Get([]byte("foo"))
	require.True(t, ok)
	assert.Equal(t, []byte("bar"), got.Value)
}

func TestConfigValidateRejectsZeroSlots(t *testing.T) {
	clock := testClock()
	t.Cleanup(clock.Stop)
	_, err := Open(Config{NumSlots: 0}, clock)
	assert.Error(t, err)
}

func TestConfigValidateRejectsOversizeMaxKeyLen(t *testing.T) {
	clock := testClock()
	t.Cleanup(clock.Stop)
	_, err := Open(Config{NumSlots: 16, MaxKeyLen: 9999}, clock)
	assert.Error(t, err)
}
