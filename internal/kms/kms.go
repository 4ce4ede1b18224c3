//go:build linux

// Package kms captures the active display's framebuffer through DRM/KMS:
// enumerate CRTCs on the first usable render card, locate the one with a
// live framebuffer, and export its handles as PRIME fds once per tick.
package kms

/*
#cgo pkg-config: libdrm
#include <stdlib.h>
#include <string.h>
#include <xf86drm.h>
#include <xf86drmMode.h>
*/
import "C"

import (
	"fmt"
	"syscall"
	"unsafe"

	"streamer/internal/eglgles"
	"streamer/internal/gpuframe"
	"streamer/internal/streamerr"
)

func openRW(path string) (int, error) {
	return syscall.Open(path, syscall.O_RDWR|syscall.O_CLOEXEC, 0)
}

// probeNodes lists candidate DRM device nodes in order; the first one
// that opens and reports usable KMS resources is used.
var probeNodes = []string{
	"/dev/dri/card0",
	"/dev/dri/card1",
	"/dev/dri/card2",
}

// Capture owns the DRM fd and the chosen CRTC.
type Capture struct {
	fd      int
	crtcID  uint32
	gpu     *eglgles.Context
}

// New opens the first probe-list node with a CRTC whose current
// framebuffer id is non-zero. The framebuffer's plane handles are not
// checked here; NextFrame fails if none of them is valid.
func New(gpu *eglgles.Context) (*Capture, error) {
	var lastErr error
	for _, node := range probeNodes {
		c, err := tryOpen(node, gpu)
		if err == nil {
			return c, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: no usable KMS node among %v: %v", streamerr.ErrNoDisplay, probeNodes, lastErr)
}

func tryOpen(node string, gpu *eglgles.Context) (*Capture, error) {
	cpath := C.CString(node)
	defer C.free(unsafe.Pointer(cpath))

	fd := C.drmOpen(nil, cpath)
	if fd < 0 {
		fdOpen, err := openDevice(node)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", node, err)
		}
		fd = C.int(fdOpen)
	}

	res := C.drmModeGetResources(fd)
	if res == nil {
		C.drmClose(fd)
		return nil, fmt.Errorf("%s: drmModeGetResources failed", node)
	}
	defer C.drmModeFreeResources(res)

	crtcCount := int(res.count_crtcs)
	crtcIDs := unsafe.Slice(res.crtcs, crtcCount)

	for _, id := range crtcIDs {
		crtc := C.drmModeGetCrtc(fd, id)
		if crtc == nil {
			continue
		}
		hasFb := crtc.buffer_id != 0
		C.drmModeFreeCrtc(crtc)
		if hasFb {
			return &Capture{fd: int(fd), crtcID: uint32(id), gpu: gpu}, nil
		}
	}

	C.drmClose(fd)
	return nil, fmt.Errorf("%s: no CRTC with a live framebuffer", node)
}

func openDevice(path string) (int, error) {
	return openRW(path)
}

// Close releases the DRM fd.
func (c *Capture) Close() {
	if c.fd >= 0 {
		C.drmClose(C.int(c.fd))
		c.fd = -1
	}
}

// NextFrame fetches the chosen CRTC's current framebuffer, exports each
// non-null handle as a PRIME fd, and imports the result through the GPU
// context. The PRIME fds are closed after import; the returned GpuFrame
// owns its own duplicated fds.
func (c *Capture) NextFrame() (*gpuframe.GpuFrame, error) {
	crtc := C.drmModeGetCrtc(C.int(c.fd), C.uint32_t(c.crtcID))
	if crtc == nil {
		return nil, fmt.Errorf("%w: drmModeGetCrtc", streamerr.ErrNoDisplay)
	}
	fbID := crtc.buffer_id
	C.drmModeFreeCrtc(crtc)
	if fbID == 0 {
		return nil, fmt.Errorf("%w: CRTC has no framebuffer", streamerr.ErrNoDisplay)
	}

	fb2 := C.drmModeGetFB2(C.int(c.fd), fbID)
	if fb2 == nil {
		return nil, fmt.Errorf("%w: drmModeGetFB2", streamerr.ErrNoDisplay)
	}
	defer C.drmModeFreeFB2(fb2)

	width := int(fb2.width)
	height := int(fb2.height)
	fourcc := uint32(fb2.pixel_format)
	modifier := uint64(fb2.modifier)

	var planes []gpuframe.Plane
	for i := 0; i < 4; i++ {
		handle := fb2.handles[i]
		if handle == 0 {
			continue
		}
		var primeFd C.int
		if ret := C.drmPrimeHandleToFD(C.int(c.fd), handle, C.DRM_CLOEXEC, &primeFd); ret != 0 {
			for _, p := range planes {
				p.Close()
			}
			return nil, fmt.Errorf("%w: drmPrimeHandleToFD plane %d: ret=%d", streamerr.ErrNoDisplay, i, ret)
		}
		planes = append(planes, gpuframe.Plane{
			Fd:       int(primeFd),
			Offset:   uint32(fb2.offsets[i]),
			Pitch:    uint32(fb2.pitches[i]),
			Modifier: modifier,
		})
	}

	if len(planes) == 0 {
		return nil, fmt.Errorf("%w: framebuffer has no valid plane handles", streamerr.ErrNoDisplay)
	}

	frame, err := c.gpu.ImportFrame(width, height, fourcc, planes)
	for _, p := range planes {
		p.Close()
	}
	if err != nil {
		return nil, err
	}
	return frame, nil
}
