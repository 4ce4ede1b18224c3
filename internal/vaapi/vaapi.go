//go:build linux

// Package vaapi wraps the subset of libva (and libva-drm) the HEVC encoder
// needs: display/config/context/surface/buffer lifecycle, the packed-header
// and HEVC capability probe, and the per-frame begin/render/end/sync/map
// sequence. Parameter buffers are assembled by small C helpers since Go
// cannot address VA-API's bitfield structs directly — this mirrors how the
// platform headers themselves expect callers to build them.
package vaapi

/*
#cgo pkg-config: libva libva-drm
#include <fcntl.h>
#include <unistd.h>
#include <stdlib.h>
#include <string.h>
#include <va/va.h>
#include <va/va_enc_hevc.h>
#include <va/va_drm.h>
#include <va/va_drmcommon.h>

static VADisplay open_display(int fd) {
	return vaGetDisplayDRM(fd);
}

static int query_packed_headers(VADisplay dpy, VAProfile profile, VAEntrypoint entry, unsigned int *out) {
	VAConfigAttrib attr;
	attr.type = VAConfigAttribEncPackedHeaders;
	VAStatus st = vaGetConfigAttributes(dpy, profile, entry, &attr, 1);
	if (st != VA_STATUS_SUCCESS) return (int)st;
	*out = attr.value;
	return VA_STATUS_SUCCESS;
}

static int query_hevc_features(VADisplay dpy, VAProfile profile, VAEntrypoint entry, unsigned int *out) {
	VAConfigAttrib attr;
	attr.type = VAConfigAttribEncHEVCFeatures;
	VAStatus st = vaGetConfigAttributes(dpy, profile, entry, &attr, 1);
	if (st != VA_STATUS_SUCCESS) return (int)st;
	*out = attr.value;
	return VA_STATUS_SUCCESS;
}

static int query_hevc_block_sizes(VADisplay dpy, VAProfile profile, VAEntrypoint entry, unsigned int *out) {
	VAConfigAttrib attr;
	attr.type = VAConfigAttribEncHEVCBlockSizes;
	VAStatus st = vaGetConfigAttributes(dpy, profile, entry, &attr, 1);
	if (st != VA_STATUS_SUCCESS) return (int)st;
	*out = attr.value;
	return VA_STATUS_SUCCESS;
}

// build_seq_params assembles a VAEncSequenceParameterBufferHEVC from plain
// scalar fields; the bitfield unions inside it cannot be set from Go.
static void build_seq_params(VAEncSequenceParameterBufferHEVC *s,
		unsigned int general_profile_idc, unsigned int general_level_idc,
		unsigned int general_tier_flag,
		unsigned int intra_period, unsigned int intra_idr_period, unsigned int ip_period,
		unsigned int bits_per_second,
		unsigned int pic_width_in_luma_samples, unsigned int pic_height_in_luma_samples,
		unsigned int chroma_format_idc, unsigned int bit_depth_luma_minus8, unsigned int bit_depth_chroma_minus8,
		unsigned int log2_min_luma_coding_block_size_minus3,
		unsigned int log2_diff_max_min_luma_coding_block_size,
		unsigned int log2_min_transform_block_size_minus2,
		unsigned int log2_diff_max_min_transform_block_size,
		unsigned int max_transform_hierarchy_depth_inter,
		unsigned int max_transform_hierarchy_depth_intra,
		unsigned int log2_max_pic_order_cnt_lsb_minus4,
		unsigned int amp_enabled_flag, unsigned int sample_adaptive_offset_enabled_flag,
		unsigned int scaling_list_enabled_flag, unsigned int strong_intra_smoothing_enabled_flag) {
	memset(s, 0, sizeof(*s));
	s->general_profile_idc = general_profile_idc;
	s->general_level_idc = general_level_idc;
	s->general_tier_flag = general_tier_flag;
	s->intra_period = intra_period;
	s->intra_idr_period = intra_idr_period;
	s->ip_period = ip_period;
	s->bits_per_second = bits_per_second;
	s->pic_width_in_luma_samples = pic_width_in_luma_samples;
	s->pic_height_in_luma_samples = pic_height_in_luma_samples;
	s->seq_fields.bits.chroma_format_idc = chroma_format_idc;
	s->seq_fields.bits.bit_depth_luma_minus8 = bit_depth_luma_minus8;
	s->seq_fields.bits.bit_depth_chroma_minus8 = bit_depth_chroma_minus8;
	s->seq_fields.bits.log2_min_luma_coding_block_size_minus3 = log2_min_luma_coding_block_size_minus3;
	s->seq_fields.bits.log2_diff_max_min_luma_coding_block_size = log2_diff_max_min_luma_coding_block_size;
	s->seq_fields.bits.log2_min_transform_block_size_minus2 = log2_min_transform_block_size_minus2;
	s->seq_fields.bits.log2_diff_max_min_transform_block_size = log2_diff_max_min_transform_block_size;
	s->seq_fields.bits.max_transform_hierarchy_depth_inter = max_transform_hierarchy_depth_inter;
	s->seq_fields.bits.max_transform_hierarchy_depth_intra = max_transform_hierarchy_depth_intra;
	s->seq_fields.bits.amp_enabled_flag = amp_enabled_flag;
	s->seq_fields.bits.sample_adaptive_offset_enabled_flag = sample_adaptive_offset_enabled_flag;
	s->seq_fields.bits.scaling_list_enabled_flag = scaling_list_enabled_flag;
	s->seq_fields.bits.strong_intra_smoothing_enabled_flag = strong_intra_smoothing_enabled_flag;
	s->log2_max_pic_order_cnt_lsb_minus4 = log2_max_pic_order_cnt_lsb_minus4;
}

static void build_pic_params(VAEncPictureParameterBufferHEVC *p,
		VASurfaceID decoded_curr_pic, unsigned int decoded_curr_pic_order_cnt,
		VASurfaceID reference_frame, unsigned int has_reference,
		VABufferID coded_buf,
		unsigned int nal_unit_type, unsigned int idr_pic_flag, unsigned int coding_type,
		int pic_init_qp) {
	memset(p, 0, sizeof(*p));
	p->decoded_curr_pic.picture_id = decoded_curr_pic;
	p->decoded_curr_pic.pic_order_cnt = decoded_curr_pic_order_cnt;
	for (int i = 0; i < 15; i++) {
		p->reference_frames[i].picture_id = VA_INVALID_SURFACE;
	}
	if (has_reference) {
		p->reference_frames[0].picture_id = reference_frame;
	}
	p->coded_buf = coded_buf;
	p->nal_unit_type = nal_unit_type;
	p->pic_fields.bits.idr_pic_flag = idr_pic_flag;
	p->pic_fields.bits.coding_type = coding_type;
	p->pic_fields.bits.reference_pic_flag = 1;
	p->pic_init_qp = pic_init_qp;
}

// build_misc_rate_control wraps a VAEncMiscParameterRateControl inside its
// VAEncMiscParameterBuffer envelope, matching the layout every VA-API misc
// parameter buffer uses: a small header naming the payload kind, followed
// immediately by the kind-specific struct.
static void build_misc_rate_control(VAEncMiscParameterBuffer *m, unsigned int icq_quality_factor) {
	m->type = VAEncMiscParameterTypeRateControl;
	VAEncMiscParameterRateControl *rc = (VAEncMiscParameterRateControl *)m->data;
	memset(rc, 0, sizeof(*rc));
	rc->ICQ_quality_factor = icq_quality_factor;
}

static void build_misc_frame_rate(VAEncMiscParameterBuffer *m, unsigned int framerate) {
	m->type = VAEncMiscParameterTypeFrameRate;
	VAEncMiscParameterFrameRate *fr = (VAEncMiscParameterFrameRate *)m->data;
	memset(fr, 0, sizeof(*fr));
	fr->framerate = framerate;
}

static void build_slice_params(VAEncSliceParameterBufferHEVC *sl,
		unsigned int ctu_address, unsigned int num_ctu_in_slice,
		unsigned int slice_type, VASurfaceID ref_pic0, unsigned int has_ref0,
		int slice_qp_delta, unsigned int max_num_merge_cand) {
	memset(sl, 0, sizeof(*sl));
	sl->slice_segment_address = ctu_address;
	sl->num_ctu_in_slice = num_ctu_in_slice;
	sl->slice_type = slice_type;
	for (int list = 0; list < 2; list++) {
		for (int i = 0; i < 15; i++) {
			sl->ref_pic_list0[i].picture_id = VA_INVALID_SURFACE;
			sl->ref_pic_list1[i].picture_id = VA_INVALID_SURFACE;
		}
	}
	if (has_ref0) {
		sl->ref_pic_list0[0].picture_id = ref_pic0;
	}
	sl->slice_qp_delta = slice_qp_delta;
	sl->max_num_merge_cand = max_num_merge_cand;
}
*/
import "C"

import (
	"fmt"
	"syscall"
	"unsafe"

	"streamer/internal/gpuframe"
	"streamer/internal/streamerr"
)

func openRW(path string) (int, error) {
	return syscall.Open(path, syscall.O_RDWR, 0)
}

func closeFd(fd int) {
	if fd >= 0 {
		syscall.Close(fd)
	}
}

// Capabilities records the subset of the driver's codec capability probe
// the encoder consults before building parameter buffers.
type Capabilities struct {
	PackedHeaders   uint32
	HEVCFeatures    uint32
	HEVCBlockSizes  uint32
	SupportsSeqHdr  bool
	SupportsSliceHdr bool
}

// Packed header bits, matching va/va.h's VA_ENC_PACKED_HEADER_* constants.
const (
	packedHeaderSequence = 1 << 0
	packedHeaderSlice    = 1 << 2
)

// Display owns a VADisplay opened against a DRM render node fd.
type Display struct {
	dpy   C.VADisplay
	drmFd int
}

// Open opens renderNodePath (e.g. "/dev/dri/renderD128") and initializes
// VA-API against it.
func Open(renderNodePath string) (*Display, error) {
	fd, err := openRW(renderNodePath)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", streamerr.ErrDeviceUnavailable, renderNodePath, err)
	}

	dpy := C.open_display(C.int(fd))
	if dpy == nil {
		closeFd(fd)
		return nil, fmt.Errorf("%w: vaGetDisplayDRM(%s)", streamerr.ErrDeviceUnavailable, renderNodePath)
	}

	var major, minor C.int
	if st := C.vaInitialize(dpy, &major, &minor); st != C.VA_STATUS_SUCCESS {
		closeFd(fd)
		return nil, fmt.Errorf("%w: %v", streamerr.ErrDeviceUnavailable, streamerr.NewVaError("vaInitialize", int32(st)))
	}

	return &Display{dpy: dpy, drmFd: fd}, nil
}

// Close tears down VA-API and the underlying render-node fd.
func (d *Display) Close() {
	if d.dpy != nil {
		C.vaTerminate(d.dpy)
		d.dpy = nil
	}
	closeFd(d.drmFd)
}

// ProbeCapabilities queries EncPackedHeaders, EncHEVCFeatures and
// EncHEVCBlockSizes for HEVCMain/EncSlice.
func (d *Display) ProbeCapabilities() (Capabilities, error) {
	var caps Capabilities

	var packed C.uint
	if st := C.query_packed_headers(d.dpy, C.VAProfileHEVCMain, C.VAEntrypointEncSlice, &packed); st != C.VA_STATUS_SUCCESS {
		return caps, streamerr.NewVaError("vaGetConfigAttributes(PackedHeaders)", int32(st))
	}
	caps.PackedHeaders = uint32(packed)
	caps.SupportsSeqHdr = caps.PackedHeaders&packedHeaderSequence != 0
	caps.SupportsSliceHdr = caps.PackedHeaders&packedHeaderSlice != 0

	var feats C.uint
	if st := C.query_hevc_features(d.dpy, C.VAProfileHEVCMain, C.VAEntrypointEncSlice, &feats); st == C.VA_STATUS_SUCCESS {
		caps.HEVCFeatures = uint32(feats)
	}

	var blocks C.uint
	if st := C.query_hevc_block_sizes(d.dpy, C.VAProfileHEVCMain, C.VAEntrypointEncSlice, &blocks); st == C.VA_STATUS_SUCCESS {
		caps.HEVCBlockSizes = uint32(blocks)
	}

	return caps, nil
}

// RateControl selects the encoder's rate-control mode.
type RateControl int

const (
	RateControlICQ RateControl = iota
	RateControlCQP
)

// ConfigID identifies a VA-API encoder configuration.
type ConfigID struct{ id C.VAConfigID }

// CreateConfig creates an HEVCMain/EncSlice config with the given rate
// control mode. The ICQ quality factor itself is not a config-time
// attribute — it travels per-context as a VAEncMiscParameterRateControl,
// uploaded by UploadRateControlMiscParam.
func (d *Display) CreateConfig(rc RateControl) (ConfigID, error) {
	attrs := make([]C.VAConfigAttrib, 0, 2)
	rtAttr := C.VAConfigAttrib{_type: C.VAConfigAttribRTFormat}
	rtAttr.value = C.VA_RT_FORMAT_YUV420
	attrs = append(attrs, rtAttr)

	rcAttr := C.VAConfigAttrib{_type: C.VAConfigAttribRateControl}
	if rc == RateControlICQ {
		rcAttr.value = C.VA_RC_ICQ
	} else {
		rcAttr.value = C.VA_RC_CQP
	}
	attrs = append(attrs, rcAttr)

	var cfg C.VAConfigID
	st := C.vaCreateConfig(d.dpy, C.VAProfileHEVCMain, C.VAEntrypointEncSlice,
		(*C.VAConfigAttrib)(unsafe.Pointer(&attrs[0])), C.int(len(attrs)), &cfg)
	if st != C.VA_STATUS_SUCCESS {
		return ConfigID{}, streamerr.NewVaError("vaCreateConfig", int32(st))
	}
	return ConfigID{id: cfg}, nil
}

func (d *Display) DestroyConfig(cfg ConfigID) {
	C.vaDestroyConfig(d.dpy, cfg.id)
}

// SurfaceID identifies a VA-API surface.
type SurfaceID struct{ id C.VASurfaceID }

// InvalidSurface mirrors VA_INVALID_SURFACE, used for "no reference".
var InvalidSurface = SurfaceID{id: C.VASurfaceID(C.VA_INVALID_SURFACE)}

// CreateSurfaces allocates count YUV420 surfaces at width x height.
func (d *Display) CreateSurfaces(width, height, count int) ([]SurfaceID, error) {
	raw := make([]C.VASurfaceID, count)
	st := C.vaCreateSurfaces(d.dpy, C.VA_RT_FORMAT_YUV420, C.uint(width), C.uint(height),
		&raw[0], C.uint(count), nil, 0)
	if st != C.VA_STATUS_SUCCESS {
		return nil, streamerr.NewVaError("vaCreateSurfaces", int32(st))
	}
	out := make([]SurfaceID, count)
	for i, s := range raw {
		out[i] = SurfaceID{id: s}
	}
	return out, nil
}

func (d *Display) DestroySurfaces(surfaces []SurfaceID) {
	if len(surfaces) == 0 {
		return
	}
	raw := make([]C.VASurfaceID, len(surfaces))
	for i, s := range surfaces {
		raw[i] = s.id
	}
	C.vaDestroySurfaces(d.dpy, &raw[0], C.int(len(raw)))
}

// ContextID identifies a VA-API encode context.
type ContextID struct{ id C.VAContextID }

// CreateContext binds a config to the aligned picture dimensions and the
// full set of surfaces the encoder will ever reference (input + ring).
func (d *Display) CreateContext(cfg ConfigID, alignedW, alignedH int, surfaces []SurfaceID) (ContextID, error) {
	raw := make([]C.VASurfaceID, len(surfaces))
	for i, s := range surfaces {
		raw[i] = s.id
	}
	var ctx C.VAContextID
	st := C.vaCreateContext(d.dpy, cfg.id, C.int(alignedW), C.int(alignedH),
		C.VA_PROGRESSIVE, &raw[0], C.int(len(raw)), &ctx)
	if st != C.VA_STATUS_SUCCESS {
		return ContextID{}, streamerr.NewVaError("vaCreateContext", int32(st))
	}
	return ContextID{id: ctx}, nil
}

func (d *Display) DestroyContext(ctx ContextID) {
	C.vaDestroyContext(d.dpy, ctx.id)
}

// BufferID identifies an uploaded VA-API parameter or coded buffer.
type BufferID struct{ id C.VABufferID }

// CreateCodedBuffer allocates the output buffer sized roughly 3*W*H/2,
// the worst case for one HEVC-coded picture at this resolution.
func (d *Display) CreateCodedBuffer(ctx ContextID, size int) (BufferID, error) {
	var buf C.VABufferID
	st := C.vaCreateBuffer(d.dpy, ctx.id, C.VAEncCodedBufferType, C.uint(size), 1, nil, &buf)
	if st != C.VA_STATUS_SUCCESS {
		return BufferID{}, streamerr.NewVaError("vaCreateBuffer(Coded)", int32(st))
	}
	return BufferID{id: buf}, nil
}

// SeqParams is the driver-facing mirror of VAEncSequenceParameterBufferHEVC
// this package knows how to upload; distinct from hevc.SeqParams, which
// drives this process's own bitstream packer rather than the driver's.
type SeqParams struct {
	GeneralProfileIdc, GeneralLevelIdc, GeneralTierFlag           uint32
	IntraPeriod, IntraIdrPeriod, IpPeriod                         uint32
	BitsPerSecond                                                 uint32
	PicWidthInLumaSamples, PicHeightInLumaSamples                 uint32
	ChromaFormatIdc, BitDepthLumaMinus8, BitDepthChromaMinus8     uint32
	Log2MinLumaCodingBlockSizeMinus3, Log2DiffMaxMinLumaCodingBlockSize uint32
	Log2MinTransformBlockSizeMinus2, Log2DiffMaxMinTransformBlockSize   uint32
	MaxTransformHierarchyDepthInter, MaxTransformHierarchyDepthIntra    uint32
	Log2MaxPicOrderCntLsbMinus4                                   uint32
	AmpEnabledFlag, SampleAdaptiveOffsetEnabledFlag                bool
	ScalingListEnabledFlag, StrongIntraSmoothingEnabledFlag        bool
}

func boolToC(b bool) C.uint {
	if b {
		return 1
	}
	return 0
}

// UploadSequenceParams builds and uploads a VAEncSequenceParameterBufferHEVC.
func (d *Display) UploadSequenceParams(ctx ContextID, p SeqParams) (BufferID, error) {
	var cs C.VAEncSequenceParameterBufferHEVC
	C.build_seq_params(&cs,
		C.uint(p.GeneralProfileIdc), C.uint(p.GeneralLevelIdc), C.uint(p.GeneralTierFlag),
		C.uint(p.IntraPeriod), C.uint(p.IntraIdrPeriod), C.uint(p.IpPeriod),
		C.uint(p.BitsPerSecond),
		C.uint(p.PicWidthInLumaSamples), C.uint(p.PicHeightInLumaSamples),
		C.uint(p.ChromaFormatIdc), C.uint(p.BitDepthLumaMinus8), C.uint(p.BitDepthChromaMinus8),
		C.uint(p.Log2MinLumaCodingBlockSizeMinus3), C.uint(p.Log2DiffMaxMinLumaCodingBlockSize),
		C.uint(p.Log2MinTransformBlockSizeMinus2), C.uint(p.Log2DiffMaxMinTransformBlockSize),
		C.uint(p.MaxTransformHierarchyDepthInter), C.uint(p.MaxTransformHierarchyDepthIntra),
		C.uint(p.Log2MaxPicOrderCntLsbMinus4),
		boolToC(p.AmpEnabledFlag), boolToC(p.SampleAdaptiveOffsetEnabledFlag),
		boolToC(p.ScalingListEnabledFlag), boolToC(p.StrongIntraSmoothingEnabledFlag))

	var buf C.VABufferID
	st := C.vaCreateBuffer(d.dpy, ctx.id, C.VAEncSequenceParameterBufferType,
		C.uint(unsafe.Sizeof(cs)), 1, unsafe.Pointer(&cs), &buf)
	if st != C.VA_STATUS_SUCCESS {
		return BufferID{}, streamerr.NewVaError("vaCreateBuffer(Seq)", int32(st))
	}
	return BufferID{id: buf}, nil
}

// PicParams is the driver-facing mirror of VAEncPictureParameterBufferHEVC.
type PicParams struct {
	DecodedCurrPic        SurfaceID
	DecodedCurrPicOrderCnt uint32
	ReferenceFrame        SurfaceID
	HasReference          bool
	CodedBuf              BufferID
	NalUnitType           uint32
	IdrPicFlag            bool
	CodingType            uint32
	PicInitQp             int32
}

// UploadPictureParams builds and uploads a VAEncPictureParameterBufferHEVC.
func (d *Display) UploadPictureParams(ctx ContextID, p PicParams) (BufferID, error) {
	var cp C.VAEncPictureParameterBufferHEVC
	C.build_pic_params(&cp,
		p.DecodedCurrPic.id, C.uint(p.DecodedCurrPicOrderCnt),
		p.ReferenceFrame.id, boolToC(p.HasReference),
		p.CodedBuf.id,
		C.uint(p.NalUnitType), boolToC(p.IdrPicFlag), C.uint(p.CodingType),
		C.int(p.PicInitQp))

	var buf C.VABufferID
	st := C.vaCreateBuffer(d.dpy, ctx.id, C.VAEncPictureParameterBufferType,
		C.uint(unsafe.Sizeof(cp)), 1, unsafe.Pointer(&cp), &buf)
	if st != C.VA_STATUS_SUCCESS {
		return BufferID{}, streamerr.NewVaError("vaCreateBuffer(Pic)", int32(st))
	}
	return BufferID{id: buf}, nil
}

// SliceParams is the driver-facing mirror of VAEncSliceParameterBufferHEVC.
type SliceParams struct {
	CtuAddress, NumCtuInSlice uint32
	SliceType                 uint32
	RefPicList0                SurfaceID
	HasRefPicList0              bool
	SliceQpDelta               int32
	MaxNumMergeCand            uint32
}

// UploadSliceParams builds and uploads a VAEncSliceParameterBufferHEVC.
func (d *Display) UploadSliceParams(ctx ContextID, p SliceParams) (BufferID, error) {
	var cs C.VAEncSliceParameterBufferHEVC
	C.build_slice_params(&cs,
		C.uint(p.CtuAddress), C.uint(p.NumCtuInSlice),
		C.uint(p.SliceType), p.RefPicList0.id, boolToC(p.HasRefPicList0),
		C.int(p.SliceQpDelta), C.uint(p.MaxNumMergeCand))

	var buf C.VABufferID
	st := C.vaCreateBuffer(d.dpy, ctx.id, C.VAEncSliceParameterBufferType,
		C.uint(unsafe.Sizeof(cs)), 1, unsafe.Pointer(&cs), &buf)
	if st != C.VA_STATUS_SUCCESS {
		return BufferID{}, streamerr.NewVaError("vaCreateBuffer(Slice)", int32(st))
	}
	return BufferID{id: buf}, nil
}

// UploadRateControlMiscParam builds and uploads a VAEncMiscParameterBuffer
// carrying a VAEncMiscParameterRateControl, wired with the ICQ quality
// factor so ICQ mode actually reaches the driver (CQP ignores this field).
func (d *Display) UploadRateControlMiscParam(ctx ContextID, icqQualityFactor uint32) (BufferID, error) {
	total := int(C.sizeof_VAEncMiscParameterBuffer) + int(C.sizeof_VAEncMiscParameterRateControl)
	raw := make([]byte, total)
	C.build_misc_rate_control((*C.VAEncMiscParameterBuffer)(unsafe.Pointer(&raw[0])), C.uint(icqQualityFactor))

	var buf C.VABufferID
	st := C.vaCreateBuffer(d.dpy, ctx.id, C.VAEncMiscParameterBufferType,
		C.uint(total), 1, unsafe.Pointer(&raw[0]), &buf)
	if st != C.VA_STATUS_SUCCESS {
		return BufferID{}, streamerr.NewVaError("vaCreateBuffer(MiscRateControl)", int32(st))
	}
	return BufferID{id: buf}, nil
}

// UploadFrameRateMiscParam builds and uploads a VAEncMiscParameterBuffer
// carrying a VAEncMiscParameterFrameRate, so the driver's rate controller
// paces bit allocation against the true 60 Hz capture cadence rather than
// a guessed default.
func (d *Display) UploadFrameRateMiscParam(ctx ContextID, framerate uint32) (BufferID, error) {
	total := int(C.sizeof_VAEncMiscParameterBuffer) + int(C.sizeof_VAEncMiscParameterFrameRate)
	raw := make([]byte, total)
	C.build_misc_frame_rate((*C.VAEncMiscParameterBuffer)(unsafe.Pointer(&raw[0])), C.uint(framerate))

	var buf C.VABufferID
	st := C.vaCreateBuffer(d.dpy, ctx.id, C.VAEncMiscParameterBufferType,
		C.uint(total), 1, unsafe.Pointer(&raw[0]), &buf)
	if st != C.VA_STATUS_SUCCESS {
		return BufferID{}, streamerr.NewVaError("vaCreateBuffer(MiscFrameRate)", int32(st))
	}
	return BufferID{id: buf}, nil
}

// PackedHeaderType selects which packed-header parameter buffer type to
// pair a raw NAL payload with.
type PackedHeaderType int

const (
	PackedHeaderSequence PackedHeaderType = iota
	PackedHeaderSlice
)

// UploadPackedHeader uploads a raw, already-packed NAL bitstream (with
// emulation-prevention bytes already inserted) as a packed-header pair:
// the VAEncPackedHeaderParameterBuffer describing it, followed by the raw
// data buffer. Returns both buffer IDs, in upload order.
func (d *Display) UploadPackedHeader(ctx ContextID, kind PackedHeaderType, bitSize int, data []byte) (hdr, raw BufferID, err error) {
	var cType C.VAEncPackedHeaderType
	if kind == PackedHeaderSequence {
		cType = C.VAEncPackedHeaderSequence
	} else {
		cType = C.VAEncPackedHeaderSlice
	}

	var hp C.VAEncPackedHeaderParameterBuffer
	hp._type = cType
	hp.bit_length = C.uint(bitSize)
	hp.has_emulation_bytes = 1

	var hdrBuf C.VABufferID
	st := C.vaCreateBuffer(d.dpy, ctx.id, C.VAEncPackedHeaderParameterBufferType,
		C.uint(unsafe.Sizeof(hp)), 1, unsafe.Pointer(&hp), &hdrBuf)
	if st != C.VA_STATUS_SUCCESS {
		return BufferID{}, BufferID{}, streamerr.NewVaError("vaCreateBuffer(PackedHeaderParam)", int32(st))
	}

	var rawBuf C.VABufferID
	st = C.vaCreateBuffer(d.dpy, ctx.id, C.VAEncPackedHeaderDataBufferType,
		C.uint(len(data)), 1, unsafe.Pointer(&data[0]), &rawBuf)
	if st != C.VA_STATUS_SUCCESS {
		C.vaDestroyBuffer(d.dpy, hdrBuf)
		return BufferID{}, BufferID{}, streamerr.NewVaError("vaCreateBuffer(PackedHeaderData)", int32(st))
	}

	return BufferID{id: hdrBuf}, BufferID{id: rawBuf}, nil
}

func (d *Display) DestroyBuffer(buf BufferID) {
	C.vaDestroyBuffer(d.dpy, buf.id)
}

// BeginPicture, RenderPicture and EndPicture drive one VA-API encode pass.
func (d *Display) BeginPicture(ctx ContextID, target SurfaceID) error {
	if st := C.vaBeginPicture(d.dpy, ctx.id, target.id); st != C.VA_STATUS_SUCCESS {
		return streamerr.NewVaError("vaBeginPicture", int32(st))
	}
	return nil
}

func (d *Display) RenderPicture(ctx ContextID, buffers []BufferID) error {
	raw := make([]C.VABufferID, len(buffers))
	for i, b := range buffers {
		raw[i] = b.id
	}
	if st := C.vaRenderPicture(d.dpy, ctx.id, &raw[0], C.int(len(raw))); st != C.VA_STATUS_SUCCESS {
		return streamerr.NewVaError("vaRenderPicture", int32(st))
	}
	return nil
}

func (d *Display) EndPicture(ctx ContextID) error {
	if st := C.vaEndPicture(d.dpy, ctx.id); st != C.VA_STATUS_SUCCESS {
		return streamerr.NewVaError("vaEndPicture", int32(st))
	}
	return nil
}

// SyncBuffer blocks until the coded buffer's contents are ready.
func (d *Display) SyncBuffer(buf BufferID) error {
	if st := C.vaSyncBuffer(d.dpy, buf.id, C.VA_TIMEOUT_INFINITE); st != C.VA_STATUS_SUCCESS {
		return streamerr.NewVaError("vaSyncBuffer", int32(st))
	}
	return nil
}

// CodedSegment is one VACodedBufferSegment's worth of bitstream bytes.
type CodedSegment struct {
	Data []byte
}

// MapCodedBuffer maps buf, copies out its single segment into a Go slice,
// and unmaps it. Returns an error if the driver reports more than one segment —
// this encoder never splits a picture into multiple slices, so it only
// ever expects one segment back.
func (d *Display) MapCodedBuffer(buf BufferID) (CodedSegment, error) {
	var ptr unsafe.Pointer
	if st := C.vaMapBuffer(d.dpy, buf.id, &ptr); st != C.VA_STATUS_SUCCESS {
		return CodedSegment{}, streamerr.NewVaError("vaMapBuffer", int32(st))
	}
	defer C.vaUnmapBuffer(d.dpy, buf.id)

	seg := (*C.VACodedBufferSegment)(ptr)
	if seg.next != nil {
		return CodedSegment{}, fmt.Errorf("vaapi: coded buffer has more than one segment")
	}

	data := C.GoBytes(seg.buf, C.int(seg.size))
	return CodedSegment{Data: data}, nil
}

// DRMPlane is one plane of a vaExportSurfaceHandle result.
type DRMPlane struct {
	Fd       int
	Offset   uint32
	Pitch    uint32
	Modifier uint64
}

// ExportSurfaceHandle exports surface as a set of DMA-BUF planes via
// vaExportSurfaceHandle(DRM_PRIME_2 | COMPOSED_LAYERS | WRITE_ONLY).
func (d *Display) ExportSurfaceHandle(surface SurfaceID) ([]DRMPlane, uint32, error) {
	var desc C.VADRMPRIMESurfaceDescriptor
	st := C.vaExportSurfaceHandle(d.dpy, surface.id,
		C.VA_SURFACE_ATTRIB_MEM_TYPE_DRM_PRIME_2,
		C.VA_EXPORT_SURFACE_COMPOSED_LAYERS|C.VA_EXPORT_SURFACE_WRITE_ONLY,
		unsafe.Pointer(&desc))
	if st != C.VA_STATUS_SUCCESS {
		return nil, 0, streamerr.NewVaError("vaExportSurfaceHandle", int32(st))
	}

	var planes []DRMPlane
	for l := C.uint32_t(0); l < desc.num_layers; l++ {
		layer := desc.layers[l]
		objIdx := layer.object_index[0]
		obj := desc.objects[objIdx]
		for p := C.uint32_t(0); p < layer.num_planes; p++ {
			planes = append(planes, DRMPlane{
				Fd:       int(obj.fd),
				Offset:   uint32(layer.offset[p]),
				Pitch:    uint32(layer.pitch[p]),
				Modifier: uint64(obj.drm_format_modifier),
			})
		}
	}
	return planes, uint32(desc.fourcc), nil
}

// PlaneToGpuFrame is a convenience conversion used by the encoder to hand
// ExportSurfaceHandle's result to package gpuframe's Plane type.
func PlaneToGpuFramePlane(p DRMPlane) gpuframe.Plane {
	return gpuframe.Plane{Fd: p.Fd, Offset: p.Offset, Pitch: p.Pitch, Modifier: p.Modifier}
}
