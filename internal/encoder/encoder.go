// Package encoder owns the VA-API encode context end to end: surface
// layout, the reconstruction ring, per-frame parameter-buffer construction,
// optional self-packed VPS/SPS/PPS/slice headers, and draining the coded
// bitstream to a sink.
package encoder

import (
	"streamer/internal/bitio"
	"streamer/internal/eglgles"
	"streamer/internal/gpuframe"
	"streamer/internal/hevc"
	"streamer/internal/protocol"
	"streamer/internal/vaapi"
)

const (
	intraIdrPeriod = 120
	ipPeriod       = 1
	ringLen        = 2
	minCBAlign     = 16
	ctuAlign       = 32
	icqQuality     = 28
	pictureInitQP  = 26
	frameRate      = 60

	generalProfileIdcMain = 1
	generalLevelIdc4      = 120
)

func align(v, to int) int { return (v + to - 1) / to * to }

// isIDRFrame reports whether frameCounter starts a new IDR period.
func isIDRFrame(frameCounter uint64) bool { return frameCounter%intraIdrPeriod == 0 }

// ringIndex maps a frame counter to its reconstruction-ring slot.
func ringIndex(frameCounter uint64, ringLen int) int { return int(frameCounter % uint64(ringLen)) }

// Encoder drives one VA-API encode context across the lifetime of a
// session: one input surface, a reconstruction ring, and the growing
// frame_counter that selects IDR cadence and ring slots.
type Encoder struct {
	dpy    *vaapi.Display
	cfg    vaapi.ConfigID
	ctx    vaapi.ContextID
	caps   vaapi.Capabilities
	rc     vaapi.RateControl

	width, height       int
	alignedW, alignedH  int
	colorspace          eglgles.ColorSpace
	colorRange          eglgles.Range

	inputSurface vaapi.SurfaceID
	inputFrame   *gpuframe.GpuFrame
	ring         []vaapi.SurfaceID

	coded       vaapi.BufferID
	codedSize   int
	frameCounter uint64
}

// New opens the display's default render node, probes capabilities,
// creates the config/surfaces/context, exports the input surface as an
// NV12 GpuFrame via gpu, and initializes parameter-buffer state.
func New(gpu *eglgles.Context, width, height int, cs eglgles.ColorSpace, rng eglgles.Range) (*Encoder, error) {
	dpy, err := vaapi.Open("/dev/dri/renderD128")
	if err != nil {
		return nil, err
	}

	caps, err := dpy.ProbeCapabilities()
	if err != nil {
		dpy.Close()
		return nil, err
	}

	rc := vaapi.RateControlICQ
	cfg, err := dpy.CreateConfig(rc)
	if err != nil {
		rc = vaapi.RateControlCQP
		cfg, err = dpy.CreateConfig(rc)
		if err != nil {
			dpy.Close()
			return nil, err
		}
	}

	alignedW, alignedH := align(width, minCBAlign), align(height, minCBAlign)

	inputSurfaces, err := dpy.CreateSurfaces(width, height, 1)
	if err != nil {
		dpy.DestroyConfig(cfg)
		dpy.Close()
		return nil, err
	}
	inputSurface := inputSurfaces[0]

	ring, err := dpy.CreateSurfaces(alignedW, alignedH, ringLen)
	if err != nil {
		dpy.DestroySurfaces(inputSurfaces)
		dpy.DestroyConfig(cfg)
		dpy.Close()
		return nil, err
	}

	all := append([]vaapi.SurfaceID{inputSurface}, ring...)
	ctx, err := dpy.CreateContext(cfg, alignedW, alignedH, all)
	if err != nil {
		dpy.DestroySurfaces(ring)
		dpy.DestroySurfaces(inputSurfaces)
		dpy.DestroyConfig(cfg)
		dpy.Close()
		return nil, err
	}

	planes, fourcc, err := dpy.ExportSurfaceHandle(inputSurface)
	if err != nil {
		dpy.DestroyContext(ctx)
		dpy.DestroySurfaces(ring)
		dpy.DestroySurfaces(inputSurfaces)
		dpy.DestroyConfig(cfg)
		dpy.Close()
		return nil, err
	}
	gfPlanes := make([]gpuframe.Plane, len(planes))
	for i, p := range planes {
		gfPlanes[i] = vaapi.PlaneToGpuFramePlane(p)
	}
	inputFrame, err := gpu.ImportFrame(width, height, fourcc, gfPlanes)
	for _, p := range gfPlanes {
		p.Close()
	}
	if err != nil {
		dpy.DestroyContext(ctx)
		dpy.DestroySurfaces(ring)
		dpy.DestroySurfaces(inputSurfaces)
		dpy.DestroyConfig(cfg)
		dpy.Close()
		return nil, err
	}

	codedSize := 3 * width * height / 2
	coded, err := dpy.CreateCodedBuffer(ctx, codedSize)
	if err != nil {
		inputFrame.Close()
		dpy.DestroyContext(ctx)
		dpy.DestroySurfaces(ring)
		dpy.DestroySurfaces(inputSurfaces)
		dpy.DestroyConfig(cfg)
		dpy.Close()
		return nil, err
	}

	return &Encoder{
		dpy: dpy, cfg: cfg, ctx: ctx, caps: caps, rc: rc,
		width: width, height: height, alignedW: alignedW, alignedH: alignedH,
		colorspace: cs, colorRange: rng,
		inputSurface: inputSurface, inputFrame: inputFrame, ring: ring,
		coded: coded, codedSize: codedSize,
	}, nil
}

// InputFrame returns the wrapped NV12 input surface, the exclusive
// destination of the GPU conversion pass.
func (e *Encoder) InputFrame() *gpuframe.GpuFrame { return e.inputFrame }

func (e *Encoder) ringSlot(i uint64) vaapi.SurfaceID {
	return e.ring[ringIndex(i, len(e.ring))]
}

func (e *Encoder) seqParams() vaapi.SeqParams {
	return vaapi.SeqParams{
		GeneralProfileIdc: generalProfileIdcMain,
		GeneralLevelIdc:   generalLevelIdc4,
		GeneralTierFlag:   0,
		IntraPeriod:       intraIdrPeriod,
		IntraIdrPeriod:    intraIdrPeriod,
		IpPeriod:          ipPeriod,
		BitsPerSecond:     0,
		PicWidthInLumaSamples:  uint32(e.alignedW),
		PicHeightInLumaSamples: uint32(e.alignedH),
		ChromaFormatIdc:        1,
		Log2MinLumaCodingBlockSizeMinus3:  1,
		Log2DiffMaxMinLumaCodingBlockSize: 2,
		Log2MinTransformBlockSizeMinus2:   0,
		Log2DiffMaxMinTransformBlockSize:  3,
		MaxTransformHierarchyDepthInter:   2,
		MaxTransformHierarchyDepthIntra:   2,
		Log2MaxPicOrderCntLsbMinus4:       8,
		AmpEnabledFlag:                    true,
	}
}

func (e *Encoder) hevcSeqParams() *hevc.SeqParams {
	bt709 := e.colorspace == eglgles.ColorSpaceBT709
	return &hevc.SeqParams{
		PTL: hevc.ProfileTierLevel{
			GeneralProfileSpace: 0,
			GeneralTierFlag:     false,
			GeneralProfileIdc:   generalProfileIdcMain,
			GeneralLevelIdc:     generalLevelIdc4,
		},
		PicWidthInLumaSamples:  uint32(e.alignedW),
		PicHeightInLumaSamples: uint32(e.alignedH),
		SourceWidth:            uint32(e.width),
		SourceHeight:           uint32(e.height),

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
		BT709:          bt709,
		FullRange:      e.colorRange == eglgles.RangeFull,
	}
}

func (e *Encoder) ctuCount() uint32 {
	cw := (e.width + ctuAlign - 1) / ctuAlign
	ch := (e.height + ctuAlign - 1) / ctuAlign
	return uint32(cw * ch)
}

// EncodeFrame performs one picture encode per the documented seven-step
// algorithm and writes the resulting coded segment as a framed video
// message to sink.
func (e *Encoder) EncodeFrame(sink protocol.VideoSink) error {
	idr := isIDRFrame(e.frameCounter)
	poc := uint32(e.frameCounter % intraIdrPeriod)
	curSlot := e.ringSlot(e.frameCounter)

	var uploaded []vaapi.BufferID
	destroyUploaded := func() {
		for _, b := range uploaded {
			e.dpy.DestroyBuffer(b)
		}
	}

	if idr {
		seqBuf, err := e.dpy.UploadSequenceParams(e.ctx, e.seqParams())
		if err != nil {
			return err
		}
		uploaded = append(uploaded, seqBuf)

		// Rate control and frame rate are per-context misc parameters, not
		// sequence-parameter fields; re-asserted on every IDR alongside the
		// sequence header so a mid-stream driver reset picks them back up.
		rcBuf, err := e.dpy.UploadRateControlMiscParam(e.ctx, icqQuality)
		if err != nil {
			destroyUploaded()
			return err
		}
		uploaded = append(uploaded, rcBuf)

		frBuf, err := e.dpy.UploadFrameRateMiscParam(e.ctx, frameRate)
		if err != nil {
			destroyUploaded()
			return err
		}
		uploaded = append(uploaded, frBuf)
	}

	picParams := vaapi.PicParams{
		DecodedCurrPic:         curSlot,
		DecodedCurrPicOrderCnt: poc,
		CodedBuf:               e.coded,
		PicInitQp:              pictureInitQP,
	}
	var nalType uint8
	var codingType uint8
	var prevRingIdx int
	if idr {
		picParams.HasReference = false
		nalType = hevc.NalIDRWRADL
		picParams.IdrPicFlag = true
		codingType = hevc.CodingTypeIDR
	} else {
		picParams.ReferenceFrame = e.ringSlot(e.frameCounter - 1)
		picParams.HasReference = true
		nalType = hevc.NalTRAILR
		picParams.IdrPicFlag = false
		codingType = hevc.CodingTypeP
		prevRingIdx = ringIndex(e.frameCounter-1, len(e.ring))
	}
	picParams.NalUnitType = uint32(nalType)
	picParams.CodingType = uint32(codingType)

	picBuf, err := e.dpy.UploadPictureParams(e.ctx, picParams)
	if err != nil {
		destroyUploaded()
		return err
	}
	uploaded = append(uploaded, picBuf)

	if e.caps.SupportsSeqHdr && idr {
		if err := e.uploadPackedSeqHeader(&uploaded); err != nil {
			destroyUploaded()
			return err
		}
	}

	var sliceType uint8 = hevc.SliceTypeP
	if idr {
		sliceType = hevc.SliceTypeI
	}
	numCtu := e.ctuCount()
	var maxMergeCand uint8 = 5

	sliceVaParams := vaapi.SliceParams{
		NumCtuInSlice:   numCtu,
		SliceType:       uint32(sliceType),
		SliceQpDelta:    0,
		MaxNumMergeCand: uint32(maxMergeCand),
	}
	if !idr {
		sliceVaParams.RefPicList0 = picParams.ReferenceFrame
		sliceVaParams.HasRefPicList0 = true
	}

	if e.caps.SupportsSliceHdr {
		if err := e.uploadPackedSliceHeader(nalType, idr, poc, prevRingIdx, sliceType, numCtu, maxMergeCand, &uploaded); err != nil {
			destroyUploaded()
			return err
		}
	}

	sliceBuf, err := e.dpy.UploadSliceParams(e.ctx, sliceVaParams)
	if err != nil {
		destroyUploaded()
		return err
	}
	uploaded = append(uploaded, sliceBuf)

	if err := e.dpy.BeginPicture(e.ctx, e.inputSurface); err != nil {
		destroyUploaded()
		return err
	}
	if err := e.dpy.RenderPicture(e.ctx, uploaded); err != nil {
		destroyUploaded()
		return err
	}
	if err := e.dpy.EndPicture(e.ctx); err != nil {
		destroyUploaded()
		return err
	}

	if err := e.dpy.SyncBuffer(e.coded); err != nil {
		destroyUploaded()
		return err
	}

	segment, err := e.dpy.MapCodedBuffer(e.coded)
	if err != nil {
		destroyUploaded()
		return err
	}

	if err := sink.WriteVideo(segment.Data, idr, 0); err != nil {
		destroyUploaded()
		return err
	}

	destroyUploaded()
	e.frameCounter++
	return nil
}

func (e *Encoder) uploadPackedSeqHeader(uploaded *[]vaapi.BufferID) error {
	seq := e.hevcSeqParams()
	outer := bitio.New(256)
	hevc.PackVPS(outer, seq)
	hevc.PackSPS(outer, seq)
	hevc.PackPPS(outer, &hevc.PicParams{PicInitQp: pictureInitQP})

	data := outer.Bytes()
	hdrBuf, rawBuf, err := e.dpy.UploadPackedHeader(e.ctx, vaapi.PackedHeaderSequence, len(data)*8, data)
	if err != nil {
		return err
	}
	*uploaded = append(*uploaded, hdrBuf, rawBuf)
	return nil
}

func (e *Encoder) uploadPackedSliceHeader(nalType uint8, idr bool, poc uint32, prevRingIdx int, sliceType uint8, numCtu uint32, maxMergeCand uint8, uploaded *[]vaapi.BufferID) error {
	pic := &hevc.PicParams{
		NalUnitType:            nalType,
		IdrPicFlag:             idr,
		DecodedCurrPicOrderCnt: poc,
		ReferenceFrameIndex:    -1,
	}
	if !idr {
		pic.ReferenceFrameIndex = prevRingIdx
	}
	slice := &hevc.SliceParams{
		SliceType:                              sliceType,
		NumCtuInSlice:                          numCtu,
		MaxNumMergeCand:                        maxMergeCand,
		RefPicList0Index:                       pic.ReferenceFrameIndex,
		SliceLoopFilterAcrossSlicesEnabledFlag: true,
	}

	outer := bitio.New(64)
	hevc.PackSliceSegmentHeader(outer, pic, slice, hevc.SliceContext{Log2MaxPicOrderCntLsbMinus4: 8})
	data := outer.Bytes()

	hdrBuf, rawBuf, err := e.dpy.UploadPackedHeader(e.ctx, vaapi.PackedHeaderSlice, len(data)*8, data)
	if err != nil {
		return err
	}
	*uploaded = append(*uploaded, hdrBuf, rawBuf)
	return nil
}

// Close releases all VA-API resources in reverse creation order.
func (e *Encoder) Close() {
	e.dpy.DestroyBuffer(e.coded)
	e.inputFrame.Close()
	e.dpy.DestroyContext(e.ctx)
	e.dpy.DestroySurfaces(e.ring)
	e.dpy.DestroySurfaces([]vaapi.SurfaceID{e.inputSurface})
	e.dpy.DestroyConfig(e.cfg)
	e.dpy.Close()
}
