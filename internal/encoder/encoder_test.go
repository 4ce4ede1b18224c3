package encoder

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAlignRoundsUpToMultiple(t *testing.T) {
	assert.Equal(t, 1920, align(1920, 16))
	assert.Equal(t, 1088, align(1080, 16))
	assert.Equal(t, 32, align(17, 16))
	assert.Equal(t, 0, align(0, 16))
}

func TestIDRCadenceMatchesFrameCounterModPeriod(t *testing.T) {
	for i := uint64(0); i < 1000; i++ {
		want := i%intraIdrPeriod == 0
		assert.Equal(t, want, isIDRFrame(i), "frame %d", i)
	}
}

func TestReferenceRingSlotIsAlwaysPriorFrameSlot(t *testing.T) {
	const ringLen = 2
	for i := uint64(1); i < 10_000; i++ {
		cur := ringIndex(i, ringLen)
		prev := ringIndex(i-1, ringLen)
		assert.NotEqual(t, cur, prev, "frame %d: current and reference slot must differ", i)
		assert.Equal(t, int(i%ringLen), cur)
	}
}

func TestRingIndexWrapsAtRingLen(t *testing.T) {
	assert.Equal(t, 0, ringIndex(0, 2))
	assert.Equal(t, 1, ringIndex(1, 2))
	assert.Equal(t, 0, ringIndex(2, 2))
	assert.Equal(t, 1, ringIndex(3, 2))
}
