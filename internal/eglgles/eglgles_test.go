//go:build linux

package eglgles

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatrixCoeffsFullRangeHasZeroLumaOffset(t *testing.T) {
	_, lumaOff, _, chromaOff := matrixCoeffs(ColorSpaceBT709, RangeFull)
	assert.Equal(t, float32(0), lumaOff)
	assert.Equal(t, float32(0.5), chromaOff[0])
	assert.Equal(t, float32(0.5), chromaOff[1])
}

func TestMatrixCoeffsNarrowRangeOffsetsLumaAndChroma(t *testing.T) {
	_, lumaOff, _, chromaOff := matrixCoeffs(ColorSpaceBT601, RangeNarrow)
	assert.InDelta(t, 16.0/255.0, lumaOff, 1e-6)
	assert.InDelta(t, 128.0/255.0, chromaOff[0], 1e-6)
}

func TestMatrixCoeffsBT709VsBT601DifferInLumaWeights(t *testing.T) {
	luma601, _, _, _ := matrixCoeffs(ColorSpaceBT601, RangeFull)
	luma709, _, _, _ := matrixCoeffs(ColorSpaceBT709, RangeFull)
	assert.NotEqual(t, luma601, luma709)
}

func TestScreenFillingQuadCoversClipSpaceCorners(t *testing.T) {
	assert.Len(t, screenFillingQuad, 16)
	assert.Equal(t, float32(-1), screenFillingQuad[0])
	assert.Equal(t, float32(-1), screenFillingQuad[1])
	assert.Equal(t, float32(1), screenFillingQuad[4])
	assert.Equal(t, float32(-1), screenFillingQuad[5])
}

func TestFormatFourccListEmptyReportsNoneQueryable(t *testing.T) {
	assert.Equal(t, "(none queryable)", formatFourccList(nil))
}

func TestFormatFourccListFormatsEachEntryAsHex(t *testing.T) {
	assert.Equal(t, "[0x3231564e 0x20203852]", formatFourccList([]uint32{FourccNV12, drmFourccR8}))
}
