package ipc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_QueueIndex_Arithmetic_Wraps_Modulo_Ring_Multiple(t *testing.T) {
	t.Parallel()

	const queueSize = 5
	m := indexModulus(queueSize)
	require.Equal(t, uint64(0), m%queueSize, "modulus must be a multiple of the ring length")
	require.Less(t, m, uint64(1)<<32)

	zero := queueIndexZero(queueSize)
	assert.Equal(t, uint32(0), zero.raw())
	assert.Equal(t, uint32(3), zero.incrementBy(3).raw())
	assert.Equal(t, uint32(3), zero.incrementBy(3).wrapped())
	assert.Equal(t, uint32(1), zero.incrementBy(6).wrapped())

	// One step back from zero is the top of the cycle.
	back := zero.decrementBy(1)
	assert.Equal(t, uint32(m-1), back.raw())
	assert.Equal(t, back.increment(), zero)

	// The slot sequence stays continuous across the wrap.
	top := queueIndexFromRaw(uint32(m-1), queueSize)
	assert.Equal(t, (top.wrapped()+1)%queueSize, top.increment().wrapped())
}

func Test_QueueIndex_Modulus_Excludes_Sentinel_For_PowerOfTwo_Rings(t *testing.T) {
	t.Parallel()

	for _, queueSize := range []uint32{2, 4, 64, 1024, 32768} {
		m := indexModulus(queueSize)
		assert.Equal(t, uint64(0), m%uint64(queueSize))
		assert.Less(t, m, uint64(queueIndexSentinel),
			"queue size %d: sentinel must be outside the value range", queueSize)
	}
}

func Test_QueueIndex_Invalid_Is_Not_Valid_And_ZeroOrValid_Maps_To_Zero(t *testing.T) {
	t.Parallel()

	inv := queueIndexInvalid(8)
	assert.False(t, inv.valid())
	assert.Equal(t, queueIndexZero(8), inv.zeroOrValid())

	fromRaw := queueIndexFromRaw(queueIndexSentinel, 8)
	assert.False(t, fromRaw.valid())

	valid := queueIndexFromRaw(17, 8)
	assert.True(t, valid.valid())
	assert.Equal(t, valid, valid.zeroOrValid())
}

func Test_MessageIndex_Packs_Pool_And_Tag(t *testing.T) {
	t.Parallel()

	const queueSize = 64
	q := queueIndexZero(queueSize).incrementBy(0x12345)
	idx := makeMessageIndex(q, 7)

	assert.True(t, idx.valid())
	assert.Equal(t, uint32(7), idx.pool())
	assert.Equal(t, uint32(0x2345), idx.tag())
	assert.True(t, idx.plausible(q))
	assert.False(t, idx.plausible(q.increment()))

	// Tags recur every 2^16 publications; plausible is only a filter.
	assert.True(t, idx.plausible(q.incrementBy(1<<16)))
}

func Test_MessageIndex_Invalid_Is_Never_Plausible(t *testing.T) {
	t.Parallel()

	q := queueIndexZero(4)
	assert.False(t, messageIndexInvalid.plausible(q))
	assert.False(t, messageIndexInvalid.valid())
}

func Test_MessageIndex_Ring_Seed_Is_Plausible_Exactly_One_Generation_Back(t *testing.T) {
	t.Parallel()

	const queueSize = 4
	zero := queueIndexZero(queueSize)
	for slot := uint32(0); slot < queueSize; slot++ {
		ancient := zero.incrementBy(slot).decrementBy(queueSize)
		seed := makeMessageIndex(ancient, slot)

		target := zero.incrementBy(slot)
		assert.True(t, seed.plausible(target.decrementBy(queueSize)),
			"slot %d: the seed must look like the previous generation", slot)
		assert.False(t, seed.plausible(target),
			"slot %d: the seed must not look already published", slot)
	}
}
