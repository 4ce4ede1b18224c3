package hevc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamer/internal/bitio"
)

func testSeq() *SeqParams {
	return &SeqParams{
		PTL: ProfileTierLevel{
			GeneralProfileSpace: 0,
			GeneralTierFlag:     false,
			GeneralProfileIdc:   1,
			GeneralLevelIdc:     120,
		},
		PicWidthInLumaSamples:  1920,
		PicHeightInLumaSamples: 1080,
		SourceWidth:            1918,
		SourceHeight:           1078,

		Log2MinLumaCodingBlockSizeMinus3:  1,
		Log2DiffMaxMinLumaCodingBlockSize: 2,
		Log2MinTransformBlockSizeMinus2:   0,
		Log2DiffMaxMinTransformBlockSize:  3,
		MaxTransformHierarchyDepthInter:   2,
		MaxTransformHierarchyDepthIntra:   2,

		Log2MaxPicOrderCntLsbMinus4: 8,
		ChromaFormatIdc:             1,

		MaxDecPicBufferingMinus1: 1,
		MaxNumReorderPics:        0,
		MaxLatencyIncreasePlus1:  0,

		AmpEnabledFlag: true,

		NumUnitsInTick: 1,
		TimeScale:      60,
		BT709:          true,
	}
}

func TestVPSHeaderStartsWithCorrectNUT(t *testing.T) {
	outer := bitio.New(32)
	PackVPS(outer, testSeq())
	b := outer.Bytes()
	require.Equal(t, []byte{0x00, 0x00, 0x00, 0x01}, b[:4])
	// nal_unit_type=32 -> forbidden_zero(0) | type(6 bits)=100000 | layer_id high bit(0) => byte = 0100_0000 = 0x40
	assert.Equal(t, byte(0x40), b[4])
}

func TestSPSHeaderStartsWithCorrectNUT(t *testing.T) {
	outer := bitio.New(64)
	PackSPS(outer, testSeq())
	b := outer.Bytes()
	require.Equal(t, []byte{0x00, 0x00, 0x00, 0x01}, b[:4])
	// type=33 -> 0100_0010 = 0x42
	assert.Equal(t, byte(0x42), b[4])
}

func TestPPSHeaderStartsWithCorrectNUT(t *testing.T) {
	outer := bitio.New(32)
	PackPPS(outer, &PicParams{PicInitQp: 26})
	b := outer.Bytes()
	require.Equal(t, []byte{0x00, 0x00, 0x00, 0x01}, b[:4])
	// type=34 -> 0100_0100 = 0x44
	assert.Equal(t, byte(0x44), b[4])
}

func TestIDRSliceHeaderStartsWithCorrectNUT(t *testing.T) {
	outer := bitio.New(32)
	pic := &PicParams{NalUnitType: NalIDRWRADL, IdrPicFlag: true, CodingType: CodingTypeIDR, ReferenceFrameIndex: -1}
	slice := &SliceParams{SliceType: SliceTypeI, NumCtuInSlice: 4080, MaxNumMergeCand: 5, SliceLoopFilterAcrossSlicesEnabledFlag: true}
	PackSliceSegmentHeader(outer, pic, slice, SliceContext{Log2MaxPicOrderCntLsbMinus4: 8})
	b := outer.Bytes()
	require.Equal(t, []byte{0x00, 0x00, 0x00, 0x01}, b[:4])
	// type=19 (IDR_W_RADL) -> 0010_0110 = 0x26
	assert.Equal(t, byte(0x26), b[4])
}

func TestPSliceSegmentHeaderEncodesSingleNegativeReference(t *testing.T) {
	outer := bitio.New(32)
	pic := &PicParams{NalUnitType: NalTRAILR, CodingType: CodingTypeP, ReferenceFrameIndex: 0, DecodedCurrPicOrderCnt: 5}
	slice := &SliceParams{SliceType: SliceTypeP, NumCtuInSlice: 4080, MaxNumMergeCand: 5, RefPicList0Index: 0, SliceLoopFilterAcrossSlicesEnabledFlag: true}
	PackSliceSegmentHeader(outer, pic, slice, SliceContext{Log2MaxPicOrderCntLsbMinus4: 8})
	b := outer.Bytes()
	require.Equal(t, []byte{0x00, 0x00, 0x00, 0x01}, b[:4])
	// type=1 (TRAIL_R) -> 0000_0010 = 0x02
	assert.Equal(t, byte(0x02), b[4])

	payload := bitio.DeflateFrom(b[5:])
	r := bitio.NewReader(payload)
	// The NUT byte ends with the high bit of nuh_layer_id; the NAL header's
	// second byte (low 5 layer_id bits + temporal_id_plus1) follows.
	_ = r.ReadBits(8) // nuh second byte
	require.Equal(t, uint64(1), r.ReadBit())          // first_slice_segment_in_pic_flag
	require.Equal(t, uint32(0), r.ReadUE())           // slice_pic_parameter_set_id
	require.Equal(t, uint32(SliceTypeP), r.ReadUE())  // slice_type
	_ = r.ReadBits(12)                                // slice_pic_order_cnt_lsb (8 bit log2 minus4 + 4 = 12)
	require.Equal(t, uint64(0), r.ReadBit())           // short_term_ref_pic_set_sps_flag
	require.Equal(t, uint32(1), r.ReadUE())            // num_negative_pics
	require.Equal(t, uint32(0), r.ReadUE())            // num_positive_pics
	require.Equal(t, uint32(0), r.ReadUE())            // delta_poc_s0_minus1[0]
	require.Equal(t, uint64(1), r.ReadBit())           // used_by_curr_pic_s0_flag[0]
}

func TestSPSConformanceWindowCropOffsets(t *testing.T) {
	seq := testSeq()
	right, bottom, needed := seq.AlignedCropOffsets()
	assert.True(t, needed)
	assert.Equal(t, uint32(1), right)
	assert.Equal(t, uint32(1), bottom)
}

func TestSPSNoConformanceWindowWhenDimensionsMatch(t *testing.T) {
	seq := testSeq()
	seq.SourceWidth = seq.PicWidthInLumaSamples
	seq.SourceHeight = seq.PicHeightInLumaSamples
	_, _, needed := seq.AlignedCropOffsets()
	assert.False(t, needed)
}

func TestPPSRejectsUnsupportedTiles(t *testing.T) {
	assert.Panics(t, func() {
		outer := bitio.New(32)
		PackPPS(outer, &PicParams{PicInitQp: 26, TilesEnabledFlag: true})
	})
}

func TestSPSRejectsUnsupportedPCM(t *testing.T) {
	assert.Panics(t, func() {
		outer := bitio.New(32)
		seq := testSeq()
		seq.PcmEnabledFlag = true
		PackSPS(outer, seq)
	})
}
