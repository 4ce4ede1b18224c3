package hevc

import "streamer/internal/bitio"

// profileCompatibilityMask builds the 32-bit general_profile_compatibility_flag
// mask with bit profile_idc set (H.265 §7.3.3).
func profileCompatibilityMask(profileIdc uint8) uint32 {
	return 1 << uint(profileIdc)
}

func writeProfileTierLevel(w *bitio.Writer, ptl ProfileTierLevel) {
	w.Append(uint64(ptl.GeneralProfileSpace), 2)
	w.AppendFlag(ptl.GeneralTierFlag)
	w.Append(uint64(ptl.GeneralProfileIdc), 5)
	w.Append(uint64(profileCompatibilityMask(ptl.GeneralProfileIdc)), 32)

	// general_progressive_source_flag=1, interlaced=0, non_packed=1,
	// frame_only=1 (general constraint flags, H.265 §7.3.3), then 43
	// reserved zero bits, general_inbld_flag=0 — 44 bits total after the four.
	w.AppendFlag(true)  // progressive_source_flag
	w.AppendFlag(false) // interlaced_source_flag
	w.AppendFlag(true)  // non_packed_constraint_flag
	w.AppendFlag(true)  // frame_only_constraint_flag
	w.Append(0, 43)     // reserved_zero_43bits (the bits between frame_only and inbld)
	w.AppendFlag(false) // general_inbld_flag / reserved, hardcoded 0

	w.Append(uint64(ptl.GeneralLevelIdc), 8)
}

// PackVPS emits a VPS NAL (NUT 32) into outer, start-code prefixed.
func PackVPS(outer *bitio.Writer, seq *SeqParams) {
	inner := bitio.New(64)
	writeNALHeader(inner, NalVPS)

	inner.Append(0, 4) // vps_video_parameter_set_id = 0
	inner.AppendFlag(true) // vps_base_layer_internal_flag
	inner.AppendFlag(true) // vps_base_layer_available_flag
	inner.Append(0, 6)     // vps_max_layers_minus1 = 0
	inner.Append(0, 3)     // vps_max_sub_layers_minus1 = 0
	inner.AppendFlag(true) // vps_temporal_id_nesting_flag = 1
	inner.Append(0xFFFF, 16) // vps_reserved_0xffff_16bits

	writeProfileTierLevel(inner, seq.PTL)

	inner.AppendFlag(false) // vps_sub_layer_ordering_info_present_flag = 0
	inner.AppendUE(1)       // vps_max_dec_pic_buffering_minus1
	inner.AppendUE(0)       // vps_max_num_reorder_pics
	inner.AppendUE(0)       // vps_max_latency_increase_plus1

	inner.Append(0, 6) // vps_max_layer_id = 0
	inner.AppendUE(0)  // vps_num_layer_sets_minus1 = 0

	inner.AppendFlag(true) // vps_timing_info_present_flag = 1
	inner.Append(uint64(seq.NumUnitsInTick), 32)
	inner.Append(uint64(seq.TimeScale), 32)
	inner.AppendFlag(false) // vps_poc_proportional_to_timing_flag = 0
	inner.AppendUE(0)       // vps_num_hrd_parameters = 0

	inner.AppendFlag(false) // vps_extension_flag = 0

	writeRbspTrailingBits(inner)

	bitio.InflateInto(outer, inner.Bytes())
}

// PackSPS emits an SPS NAL (NUT 33).
func PackSPS(outer *bitio.Writer, seq *SeqParams) {
	inner := bitio.New(64)
	writeNALHeader(inner, NalSPS)

	inner.Append(0, 4)     // sps_video_parameter_set_id = 0
	inner.Append(0, 3)     // sps_max_sub_layers_minus1 = 0
	inner.AppendFlag(true) // sps_temporal_id_nesting_flag = 1

	writeProfileTierLevel(inner, seq.PTL)

	inner.AppendUE(0) // sps_seq_parameter_set_id = 0
	inner.AppendUE(uint32(seq.ChromaFormatIdc))
	inner.AppendUE(seq.PicWidthInLumaSamples)
	inner.AppendUE(seq.PicHeightInLumaSamples)

	right, bottom, needed := seq.AlignedCropOffsets()
	inner.AppendFlag(needed)
	if needed {
		inner.AppendUE(0)      // conf_win_left_offset
		inner.AppendUE(right)  // conf_win_right_offset
		inner.AppendUE(0)      // conf_win_top_offset
		inner.AppendUE(bottom) // conf_win_bottom_offset
	}

	inner.AppendUE(uint32(seq.BitDepthLumaMinus8))
	inner.AppendUE(uint32(seq.BitDepthChromaMinus8))
	inner.AppendUE(uint32(seq.Log2MaxPicOrderCntLsbMinus4))

	inner.AppendFlag(false) // sps_sub_layer_ordering_info_present_flag = 0
	inner.AppendUE(uint32(seq.MaxDecPicBufferingMinus1))
	inner.AppendUE(uint32(seq.MaxNumReorderPics))
	inner.AppendUE(uint32(seq.MaxLatencyIncreasePlus1))

	inner.AppendUE(uint32(seq.Log2MinLumaCodingBlockSizeMinus3))
	inner.AppendUE(uint32(seq.Log2DiffMaxMinLumaCodingBlockSize))
	inner.AppendUE(uint32(seq.Log2MinTransformBlockSizeMinus2))
	inner.AppendUE(uint32(seq.Log2DiffMaxMinTransformBlockSize))
	inner.AppendUE(uint32(seq.MaxTransformHierarchyDepthInter))
	inner.AppendUE(uint32(seq.MaxTransformHierarchyDepthIntra))

	inner.AppendFlag(false) // scaling_list_enabled_flag = 0
	inner.AppendFlag(seq.AmpEnabledFlag)
	inner.AppendFlag(seq.SampleAdaptiveOffsetEnabledFlag)
	inner.AppendFlag(seq.PcmEnabledFlag)
	if seq.PcmEnabledFlag {
		panic("hevc: pcm_enabled_flag unexpectedly set, not supported")
	}

	inner.AppendUE(0) // num_short_term_ref_pic_sets = 0

	inner.AppendFlag(false) // long_term_ref_pics_present_flag = 0
	inner.AppendFlag(seq.SpsTemporalMvpEnabledFlag)
	inner.AppendFlag(seq.StrongIntraSmoothingEnabledFlag)

	inner.AppendFlag(true) // vui_parameters_present_flag = 1
	writeVUI(inner, seq)

	inner.AppendFlag(false) // sps_extension_present_flag = 0

	writeRbspTrailingBits(inner)

	bitio.InflateInto(outer, inner.Bytes())
}

func writeVUI(w *bitio.Writer, seq *SeqParams) {
	w.AppendFlag(false) // aspect_ratio_info_present_flag
	w.AppendFlag(false) // overscan_info_present_flag

	w.AppendFlag(true) // video_signal_type_present_flag
	w.Append(5, 3)     // video_format = 5 (unspecified)
	w.AppendFlag(seq.FullRange)
	w.AppendFlag(true) // colour_description_present_flag
	w.Append(2, 8)     // colour_primaries = 2 (unspecified)
	w.Append(2, 8)     // transfer_characteristics = 2 (unspecified)
	if seq.BT709 {
		w.Append(1, 8) // matrix_coeffs = 1 (BT.709)
	} else {
		w.Append(6, 8) // matrix_coeffs = 6 (BT.601)
	}

	w.AppendFlag(false) // chroma_loc_info_present_flag
	w.AppendFlag(false) // neutral_chroma_indication_flag
	w.AppendFlag(false) // field_seq_flag
	w.AppendFlag(false) // frame_field_info_present_flag
	w.AppendFlag(false) // default_display_window_flag

	w.AppendFlag(true) // vui_timing_info_present_flag
	w.Append(uint64(seq.NumUnitsInTick), 32)
	w.Append(uint64(seq.TimeScale), 32)
	w.AppendFlag(false) // vui_poc_proportional_to_timing_flag
	w.AppendFlag(false) // vui_hrd_parameters_present_flag

	w.AppendFlag(true) // bitstream_restriction_flag
	w.AppendFlag(false) // tiles_fixed_structure_flag
	w.AppendFlag(true) // motion_vectors_over_pic_boundaries_flag
	w.AppendFlag(true) // restricted_ref_pic_lists_flag
	w.AppendUE(0)      // min_spatial_segmentation_idc
	w.AppendUE(0)      // max_bytes_per_pic_denom
	w.AppendUE(0)      // max_bits_per_min_cu_denom
	w.AppendUE(15)     // log2_max_mv_length_horizontal
	w.AppendUE(15)     // log2_max_mv_length_vertical
}

// PackPPS emits a PPS NAL (NUT 34).
func PackPPS(outer *bitio.Writer, pic *PicParams) {
	inner := bitio.New(32)
	writeNALHeader(inner, NalPPS)

	inner.AppendUE(0) // pps_pic_parameter_set_id = 0
	inner.AppendUE(0) // pps_seq_parameter_set_id = 0

	inner.AppendFlag(false) // dependent_slice_segments_enabled_flag
	inner.AppendFlag(false) // output_flag_present_flag
	inner.Append(0, 3)      // num_extra_slice_header_bits
	inner.AppendFlag(false) // sign_data_hiding_enabled_flag
	inner.AppendFlag(false) // cabac_init_present_flag

	inner.AppendUE(0) // num_ref_idx_l0_default_active_minus1
	inner.AppendUE(0) // num_ref_idx_l1_default_active_minus1

	inner.AppendSE(int32(pic.PicInitQp) - 26)

	inner.AppendFlag(false) // constrained_intra_pred_flag
	inner.AppendFlag(false) // transform_skip_enabled_flag
	inner.AppendFlag(pic.CuQpDeltaEnabledFlag)
	if pic.CuQpDeltaEnabledFlag {
		inner.AppendUE(uint32(pic.DiffCuQpDeltaDepth))
	}

	inner.AppendSE(int32(pic.PpsCbQpOffset))
	inner.AppendSE(int32(pic.PpsCrQpOffset))

	inner.AppendFlag(false) // pps_slice_chroma_qp_offsets_present_flag
	inner.AppendFlag(pic.WeightedPredFlag)
	inner.AppendFlag(pic.WeightedBipredFlag)
	inner.AppendFlag(pic.TransquantBypassEnabledFlag)
	inner.AppendFlag(pic.TilesEnabledFlag)
	if pic.TilesEnabledFlag {
		panic("hevc: tiles_enabled_flag unexpectedly set, not supported")
	}
	inner.AppendFlag(pic.EntropyCodingSyncEnabledFlag)

	inner.AppendFlag(true) // pps_loop_filter_across_slices_enabled_flag = 1

	inner.AppendFlag(false) // deblocking_filter_control_present_flag = 0
	inner.AppendFlag(false) // pps_scaling_list_data_present_flag = 0
	inner.AppendFlag(false) // lists_modification_present_flag = 0
	inner.AppendUE(0)       // log2_parallel_merge_level_minus2 = 0
	inner.AppendFlag(false) // slice_segment_header_extension_present_flag = 0
	inner.AppendFlag(false) // pps_extension_present_flag = 0

	writeRbspTrailingBits(inner)

	bitio.InflateInto(outer, inner.Bytes())
}

// SliceContext carries the fields the slice header needs beyond slice/pic
// params proper: whether the SPS enables SAO/temporal-MVP (so the header
// knows whether to emit the corresponding per-slice flags) and the POC LSB
// width.
type SliceContext struct {
	Log2MaxPicOrderCntLsbMinus4     uint8
	SpsTemporalMvpEnabledFlag       bool
	SampleAdaptiveOffsetEnabledFlag bool
}

// PackSliceSegmentHeader emits the slice segment header NAL, NUT taken from
// pic.NalUnitType.
func PackSliceSegmentHeader(outer *bitio.Writer, pic *PicParams, slice *SliceParams, ctx SliceContext) {
	inner := bitio.New(32)
	writeNALHeader(inner, pic.NalUnitType)

	inner.AppendFlag(true) // first_slice_segment_in_pic_flag = 1

	if pic.NalUnitType >= nalBLAWLP && pic.NalUnitType <= nalRSVIRAP23 {
		inner.AppendFlag(false) // no_output_of_prior_pics_flag
	}

	inner.AppendUE(0) // slice_pic_parameter_set_id = 0

	// first_slice_segment_in_pic_flag is set, so slice_segment_address and
	// dependent_slice_segment_flag are both absent.

	inner.AppendUE(uint32(slice.SliceType))

	isIDR := pic.NalUnitType == NalIDRWRADL
	if !isIDR {
		pocLsbBits := int(ctx.Log2MaxPicOrderCntLsbMinus4) + 4
		mask := uint64(1)<<uint(pocLsbBits) - 1
		inner.Append(uint64(pic.DecodedCurrPicOrderCnt)&mask, pocLsbBits)

		inner.AppendFlag(false) // short_term_ref_pic_set_sps_flag = 0
		// Inline short_term_ref_pic_set(0): single negative-POC reference.
		inner.AppendUE(1) // num_negative_pics
		inner.AppendUE(0) // num_positive_pics
		inner.AppendUE(0) // delta_poc_s0_minus1[0]
		inner.AppendFlag(true) // used_by_curr_pic_s0_flag[0]

		if ctx.SpsTemporalMvpEnabledFlag {
			inner.AppendFlag(true) // slice_temporal_mvp_enabled_flag
		}
	}

	if ctx.SampleAdaptiveOffsetEnabledFlag {
		inner.AppendFlag(false) // slice_sao_luma_flag
		inner.AppendFlag(false) // slice_sao_chroma_flag
	}

	if slice.SliceType == SliceTypeP {
		inner.AppendFlag(true) // num_ref_idx_active_override_flag
		inner.AppendUE(uint32(slice.NumRefIdxL0ActiveMinus1))

		// five_minus_max_num_merge_cand
		inner.AppendUE(uint32(5 - slice.MaxNumMergeCand))
	}

	inner.AppendSE(int32(slice.SliceQpDelta))

	inner.AppendFlag(slice.SliceLoopFilterAcrossSlicesEnabledFlag)

	writeRbspTrailingBits(inner)

	bitio.InflateInto(outer, inner.Bytes())
}

func writeNALHeader(w *bitio.Writer, nalUnitType uint8) {
	w.AppendFlag(false)              // forbidden_zero_bit
	w.Append(uint64(nalUnitType), 6) // nal_unit_type
	w.Append(0, 6)                   // nuh_layer_id = 0
	w.Append(1, 3)                   // nuh_temporal_id_plus1 = 1
}

func writeRbspTrailingBits(w *bitio.Writer) {
	w.AppendFlag(true) // rbsp_stop_one_bit
	w.ByteAlign()
}
