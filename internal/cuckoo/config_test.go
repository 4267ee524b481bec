package cuckoo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateAcceptsZeroItemSizeAsUnconstrained(t *testing.T) {
	cfg := Config{NumSlots: 1024, MaxKeyLen: DefaultMaxKeyLen, NumHashes: DefaultNumHashes, DisplacementMax: DefaultDisplacementMax}
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsItemSizeTooSmallForHeaderAndKey(t *testing.T) {
	cfg := Config{
		NumSlots:        1024,
		MaxKeyLen:       DefaultMaxKeyLen,
		NumHashes:       DefaultNumHashes,
		DisplacementMax: DefaultDisplacementMax,
		ItemSize:        HeaderSize + DefaultMaxKeyLen - 1,
	}
	assert.Error(t, cfg.Validate())
}

func TestValidateAcceptsItemSizeExactlyAtFloor(t *testing.T) {
	cfg := Config{
		NumSlots:        1024,
		MaxKeyLen:       DefaultMaxKeyLen,
		NumHashes:       DefaultNumHashes,
		DisplacementMax: DefaultDisplacementMax,
		ItemSize:        HeaderSize + DefaultMaxKeyLen,
	}
	assert.NoError(t, cfg.Validate())
}
