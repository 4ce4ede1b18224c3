// Package gpuframe holds the shared frame data model: plane descriptors
// describing an external DMA-BUF-backed image, and GpuFrame, the owned
// GPU-side representation built from them. Both the KMS capture path and
// the EGL GPU context build and consume these types, so the ownership and
// destruction invariants live in one place.
package gpuframe

import "syscall"

// MaxPlanes bounds how many planes a single imported image can carry.
const MaxPlanes = 4

// Plane describes one plane of an externally-produced image: an owned
// DMA-BUF file descriptor, a byte offset into it, a row pitch, and the
// format modifier that applies framebuffer-wide.
type Plane struct {
	Fd       int
	Offset   uint32
	Pitch    uint32
	Modifier uint64
}

// Close releases the plane's fd. Safe to call more than once.
func (p *Plane) Close() {
	if p.Fd >= 0 {
		syscall.Close(p.Fd)
		p.Fd = -1
	}
}

// Role distinguishes the two GpuFrame slots the pipeline ever holds at
// once: the frame captured this tick, and the encoder's NV12 input.
type Role int

const (
	RoleCaptureOutput Role = iota
	RoleEncoderInput
)

// Image is one EGL image plus the GL texture sampling it. NV12 frames carry
// two (luma R8, chroma GR88); packed RGB frames carry one multi-plane image.
type Image struct {
	EGLImage uintptr // EGLImageKHR
	Texture  uint32  // GLuint
}

func (i Image) empty() bool { return i.EGLImage == 0 && i.Texture == 0 }

// GpuFrame is a set of 1-4 owned DMA-BUF fds duplicated from an external
// plane descriptor, plus the EGL images and GL textures built from them.
//
// Invariants (enforced by the constructors in package eglgles, not here):
// exactly one Image per logical plane of the frame's format; a texture is
// non-zero iff its image is non-null; the fd set is never shared with any
// other GpuFrame. Destruction order is textures/images first, fds last —
// Close does that.
type GpuFrame struct {
	Width  int
	Height int
	Fourcc uint32

	fds    []int
	images []Image
}

// New wraps already-duplicated fds and already-created images into a
// GpuFrame. Callers (package eglgles) own the dup and image-creation steps;
// this constructor only establishes the invariant bookkeeping.
func New(width, height int, fourcc uint32, fds []int, images []Image) *GpuFrame {
	f := &GpuFrame{
		Width:  width,
		Height: height,
		Fourcc: fourcc,
		fds:    append([]int(nil), fds...),
		images: append([]Image(nil), images...),
	}
	return f
}

// Fds returns the frame's owned file descriptors. Do not close them
// directly; Close does that in the correct order.
func (f *GpuFrame) Fds() []int { return f.fds }

// Images returns the frame's EGL image / GL texture pairs.
func (f *GpuFrame) Images() []Image { return f.images }

// Texture returns the GL texture of image index i, or 0 if absent.
func (f *GpuFrame) Texture(i int) uint32 {
	if i < 0 || i >= len(f.images) {
		return 0
	}
	return f.images[i].Texture
}

// destroyImage is set by eglgles.New when it creates a GPU context, so
// GpuFrame can release GL/EGL resources without importing eglgles (which
// imports gpuframe, so the reverse import would cycle).
var destroyImage func(Image)

// SetImageDestroyer installs the EGL/GL teardown callback. Called by
// eglgles.New.
func SetImageDestroyer(fn func(Image)) { destroyImage = fn }

// Close destroys textures and images (in that order, via destroyImage) and
// then closes every owned fd. Safe to call more than once; a second call is
// a no-op since the slices are cleared after the first.
func (f *GpuFrame) Close() {
	if destroyImage != nil {
		for _, img := range f.images {
			if !img.empty() {
				destroyImage(img)
			}
		}
	}
	f.images = nil

	for _, fd := range f.fds {
		if fd >= 0 {
			syscall.Close(fd)
		}
	}
	f.fds = nil
}
