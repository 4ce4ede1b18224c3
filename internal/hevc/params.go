// Package hevc packs VPS, SPS, PPS and slice-segment-header NAL units
// conforming to ITU-T H.265, parameterized by the small parameter structs
// below that stand in for VA-API's VAEncSequenceParameterBufferHEVC /
// VAEncPictureParameterBufferHEVC / VAEncSliceParameterBufferHEVC.
package hevc

// NAL unit types used by this encoder (Table 7-1).
const (
	NalVPS        = 32
	NalSPS        = 33
	NalPPS        = 34
	NalIDRWRADL   = 19
	NalTRAILR     = 1
	nalBLAWLP     = 16 // lower bound of the "append no_output_of_prior_pics_flag" range
	nalRSVIRAP23  = 23 // upper bound of that range
)

// Slice types, Table 7-7.
const (
	SliceTypeB = 0
	SliceTypeP = 1
	SliceTypeI = 2
)

// CodingType mirrors VA-API's coding_type field.
const (
	CodingTypeIDR = 1
	CodingTypeP   = 2
)

// ProfileTierLevel is the profile_tier_level() block shared verbatim by VPS
// and SPS (H.265 §7.3.3).
type ProfileTierLevel struct {
	GeneralProfileSpace uint8 // always 0
	GeneralTierFlag     bool
	GeneralProfileIdc   uint8 // 1 = Main
	GeneralLevelIdc     uint8 // level * 30, e.g. 120 for level 4.0
}

// SeqParams mirrors the fields of VAEncSequenceParameterBufferHEVC this
// packer consults. Set once at encoder construction, ahead of the first
// frame.
type SeqParams struct {
	PTL ProfileTierLevel

	PicWidthInLumaSamples  uint32
	PicHeightInLumaSamples uint32

	// Source (un-aligned) dimensions, used to compute the SPS conformance
	// window when they differ from the aligned dimensions above.
	SourceWidth  uint32
	SourceHeight uint32

	Log2MinLumaCodingBlockSizeMinus3  uint8
	Log2DiffMaxMinLumaCodingBlockSize uint8
	Log2MinTransformBlockSizeMinus2   uint8
	Log2DiffMaxMinTransformBlockSize  uint8
	MaxTransformHierarchyDepthInter   uint8
	MaxTransformHierarchyDepthIntra   uint8

	Log2MaxPicOrderCntLsbMinus4 uint8 // fixed at 8 (12-bit POC LSB)

	ChromaFormatIdc      uint8 // 1 = 4:2:0
	BitDepthLumaMinus8   uint8
	BitDepthChromaMinus8 uint8

	MaxDecPicBufferingMinus1 uint8 // fixed at 1: the reconstruction ring holds one reference
	MaxNumReorderPics        uint8 // fixed at 0: no B-frame reordering
	MaxLatencyIncreasePlus1  uint8 // fixed at 0, paired with MaxNumReorderPics=0

	AmpEnabledFlag                  bool
	SampleAdaptiveOffsetEnabledFlag bool
	PcmEnabledFlag                  bool
	SpsTemporalMvpEnabledFlag       bool
	StrongIntraSmoothingEnabledFlag bool

	// VUI / timing, fixed at num_units_in_tick=1, time_scale=60 to match the
	// 60 Hz capture cadence.
	NumUnitsInTick uint32
	TimeScale      uint32
	// FullRange and BT709 select the VUI colour_description fields.
	FullRange bool
	BT709     bool
}

// AlignedCropOffsets returns the SPS conformance-window right/bottom offsets
// in chroma samples (the conf_win_right/bottom_offset semantics of H.265
// §7.4.3.2.1), and whether a conformance window is needed at all.
func (s *SeqParams) AlignedCropOffsets() (right, bottom uint32, needed bool) {
	if s.PicWidthInLumaSamples == s.SourceWidth && s.PicHeightInLumaSamples == s.SourceHeight {
		return 0, 0, false
	}
	// chroma_format_idc==1 (4:2:0): SubWidthC = SubHeightC = 2.
	right = (s.PicWidthInLumaSamples - s.SourceWidth) / 2
	bottom = (s.PicHeightInLumaSamples - s.SourceHeight) / 2
	return right, bottom, true
}

// PicParams mirrors VAEncPictureParameterBufferHEVC, rebuilt each frame.
type PicParams struct {
	DecodedCurrPicIndex    int // reconstruction ring slot
	DecodedCurrPicOrderCnt uint32

	// ReferenceFrameIndex is the ring slot of the single reference, or -1
	// when there is none (IDR pictures).
	ReferenceFrameIndex int

	NalUnitType uint8
	IdrPicFlag  bool
	CodingType  uint8

	CuQpDeltaEnabledFlag         bool
	DiffCuQpDeltaDepth           uint8
	PpsCbQpOffset                int8
	PpsCrQpOffset                int8
	WeightedPredFlag             bool
	WeightedBipredFlag           bool
	TransquantBypassEnabledFlag  bool
	TilesEnabledFlag             bool
	EntropyCodingSyncEnabledFlag bool

	PicInitQp int8
}

// SliceParams mirrors VAEncSliceParameterBufferHEVC for the single slice
// covering the whole picture.
type SliceParams struct {
	SliceType uint8

	NumCtuInSlice uint32

	// RefPicList0Index mirrors pic.ReferenceFrameIndex; -1 when invalid
	// (IDR slices carry no reference list).
	RefPicList0Index int

	MaxNumMergeCand uint8 // five_minus_max_num_merge_cand is derived as 5 - this

	SliceQpDelta int8

	NumRefIdxL0ActiveMinus1 uint8

	SliceLoopFilterAcrossSlicesEnabledFlag bool
}
