//go:build linux

// Package eglgles owns the EGL/OpenGL-ES side of the pipeline: a
// surfaceless GL ES 3.1 context, the luma/chroma conversion programs, and
// DMA-BUF import of externally-produced planes into textures. It is the
// only package that constructs gpuframe.Image values, and it installs the
// teardown callback gpuframe.GpuFrame.Close calls through.
package eglgles

/*
#cgo pkg-config: egl glesv2
#include <stdlib.h>
#include <string.h>
#include <EGL/egl.h>
#include <EGL/eglext.h>
#include <GLES3/gl3.h>
#include <GLES2/gl2ext.h>

static EGLImageKHR create_dmabuf_image(EGLDisplay dpy, int width, int height, uint32_t fourcc,
		int fd0, uint32_t offset0, uint32_t pitch0, uint64_t mod0,
		int fd1, uint32_t offset1, uint32_t pitch1, uint64_t mod1,
		int nplanes) {
	PFNEGLCREATEIMAGEKHRPROC eglCreateImageKHR =
		(PFNEGLCREATEIMAGEKHRPROC)eglGetProcAddress("eglCreateImageKHR");
	if (!eglCreateImageKHR) return EGL_NO_IMAGE_KHR;

	EGLint attrs[40];
	int i = 0;
	attrs[i++] = EGL_WIDTH; attrs[i++] = width;
	attrs[i++] = EGL_HEIGHT; attrs[i++] = height;
	attrs[i++] = EGL_LINUX_DRM_FOURCC_EXT; attrs[i++] = (EGLint)fourcc;

	attrs[i++] = EGL_DMA_BUF_PLANE0_FD_EXT; attrs[i++] = fd0;
	attrs[i++] = EGL_DMA_BUF_PLANE0_OFFSET_EXT; attrs[i++] = (EGLint)offset0;
	attrs[i++] = EGL_DMA_BUF_PLANE0_PITCH_EXT; attrs[i++] = (EGLint)pitch0;
	attrs[i++] = EGL_DMA_BUF_PLANE0_MODIFIER_LO_EXT; attrs[i++] = (EGLint)(mod0 & 0xffffffff);
	attrs[i++] = EGL_DMA_BUF_PLANE0_MODIFIER_HI_EXT; attrs[i++] = (EGLint)(mod0 >> 32);

	if (nplanes > 1) {
		attrs[i++] = EGL_DMA_BUF_PLANE1_FD_EXT; attrs[i++] = fd1;
		attrs[i++] = EGL_DMA_BUF_PLANE1_OFFSET_EXT; attrs[i++] = (EGLint)offset1;
		attrs[i++] = EGL_DMA_BUF_PLANE1_PITCH_EXT; attrs[i++] = (EGLint)pitch1;
		attrs[i++] = EGL_DMA_BUF_PLANE1_MODIFIER_LO_EXT; attrs[i++] = (EGLint)(mod1 & 0xffffffff);
		attrs[i++] = EGL_DMA_BUF_PLANE1_MODIFIER_HI_EXT; attrs[i++] = (EGLint)(mod1 >> 32);
	}
	attrs[i++] = EGL_NONE;

	return eglCreateImageKHR(dpy, EGL_NO_CONTEXT, EGL_LINUX_DMA_BUF_EXT, (EGLClientBuffer)NULL, attrs);
}

static void destroy_image(EGLDisplay dpy, EGLImageKHR img) {
	PFNEGLDESTROYIMAGEKHRPROC eglDestroyImageKHR =
		(PFNEGLDESTROYIMAGEKHRPROC)eglGetProcAddress("eglDestroyImageKHR");
	if (eglDestroyImageKHR && img != EGL_NO_IMAGE_KHR) {
		eglDestroyImageKHR(dpy, img);
	}
}

static void gl_image_target_texture(GLuint tex, EGLImageKHR img) {
	PFNGLEGLIMAGETARGETTEXTURE2DOESPROC glEGLImageTargetTexture2DOES =
		(PFNGLEGLIMAGETARGETTEXTURE2DOESPROC)eglGetProcAddress("glEGLImageTargetTexture2DOES");
	glBindTexture(GL_TEXTURE_2D, tex);
	if (glEGLImageTargetTexture2DOES) {
		glEGLImageTargetTexture2DOES(GL_TEXTURE_2D, img);
	}
	glTexParameteri(GL_TEXTURE_2D, GL_TEXTURE_MIN_FILTER, GL_NEAREST);
	glTexParameteri(GL_TEXTURE_2D, GL_TEXTURE_MAG_FILTER, GL_NEAREST);
	glTexParameteri(GL_TEXTURE_2D, GL_TEXTURE_WRAP_S, GL_CLAMP_TO_EDGE);
	glTexParameteri(GL_TEXTURE_2D, GL_TEXTURE_WRAP_T, GL_CLAMP_TO_EDGE);
}

static EGLSyncKHR fence_sync(EGLDisplay dpy) {
	PFNEGLCREATESYNCKHRPROC eglCreateSyncKHR =
		(PFNEGLCREATESYNCKHRPROC)eglGetProcAddress("eglCreateSyncKHR");
	if (!eglCreateSyncKHR) return EGL_NO_SYNC_KHR;
	return eglCreateSyncKHR(dpy, EGL_SYNC_FENCE_KHR, NULL);
}

static int fence_wait(EGLDisplay dpy, EGLSyncKHR sync) {
	PFNEGLCLIENTWAITSYNCKHRPROC eglClientWaitSyncKHR =
		(PFNEGLCLIENTWAITSYNCKHRPROC)eglGetProcAddress("eglClientWaitSyncKHR");
	PFNEGLDESTROYSYNCKHRPROC eglDestroySyncKHR =
		(PFNEGLDESTROYSYNCKHRPROC)eglGetProcAddress("eglDestroySyncKHR");
	if (!eglClientWaitSyncKHR) return -1;
	EGLint result = eglClientWaitSyncKHR(dpy, sync, EGL_SYNC_FLUSH_COMMANDS_BIT_KHR, EGL_FOREVER_KHR);
	if (eglDestroySyncKHR) eglDestroySyncKHR(dpy, sync);
	return result == EGL_CONDITION_SATISFIED_KHR ? 0 : -1;
}

typedef EGLBoolean (*PFNEGLQUERYDMABUFFORMATSEXTPROC)(EGLDisplay dpy, EGLint max_formats, EGLint *formats, EGLint *num_formats);
typedef EGLBoolean (*PFNEGLQUERYDMABUFMODIFIERSEXTPROC)(EGLDisplay dpy, EGLint format, EGLint max_modifiers,
		EGLuint64KHR *modifiers, EGLBoolean *external_only, EGLint *num_modifiers);

// query_dmabuf_formats fills out (capacity cap) with every fourcc
// eglQueryDmaBufFormatsEXT reports and returns the count, or -1 if the
// extension isn't exposed by this EGL implementation.
static int query_dmabuf_formats(EGLDisplay dpy, EGLint *out, int cap) {
	PFNEGLQUERYDMABUFFORMATSEXTPROC eglQueryDmaBufFormatsEXT =
		(PFNEGLQUERYDMABUFFORMATSEXTPROC)eglGetProcAddress("eglQueryDmaBufFormatsEXT");
	if (!eglQueryDmaBufFormatsEXT) return -1;

	EGLint n = 0;
	if (!eglQueryDmaBufFormatsEXT(dpy, 0, NULL, &n)) return -1;
	if (n > cap) n = cap;
	if (n > 0 && !eglQueryDmaBufFormatsEXT(dpy, n, out, &n)) return -1;
	return (int)n;
}

static int dmabuf_format_supports_modifiers(EGLDisplay dpy, EGLint format) {
	PFNEGLQUERYDMABUFMODIFIERSEXTPROC eglQueryDmaBufModifiersEXT =
		(PFNEGLQUERYDMABUFMODIFIERSEXTPROC)eglGetProcAddress("eglQueryDmaBufModifiersEXT");
	if (!eglQueryDmaBufModifiersEXT) return 0;
	EGLint n = 0;
	eglQueryDmaBufModifiersEXT(dpy, format, 0, NULL, NULL, &n);
	return (int)n;
}

static GLuint compile_shader(GLenum kind, const char *src) {
	GLuint sh = glCreateShader(kind);
	glShaderSource(sh, 1, &src, NULL);
	glCompileShader(sh);
	GLint ok = 0;
	glGetShaderiv(sh, GL_COMPILE_STATUS, &ok);
	if (!ok) {
		glDeleteShader(sh);
		return 0;
	}
	return sh;
}

static GLuint link_program(GLuint vs, GLuint fs) {
	GLuint prog = glCreateProgram();
	glAttachShader(prog, vs);
	glAttachShader(prog, fs);
	glLinkProgram(prog);
	GLint ok = 0;
	glGetProgramiv(prog, GL_LINK_STATUS, &ok);
	if (!ok) {
		glDeleteProgram(prog);
		return 0;
	}
	return prog;
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

// ColorSpace selects the YUV matrix coefficients used by both conversion
// programs.
type ColorSpace int

const (
	ColorSpaceBT601 ColorSpace = iota
	ColorSpaceBT709
)

// Range selects narrow (studio, 16-235) or full (0-255) output range.
type Range int

const (
	RangeNarrow Range = iota
	RangeFull
)

const vertexShaderSrc = `#version 310 es
layout(location = 0) in vec2 a_pos;
layout(location = 1) in vec2 a_uv;
out vec2 v_uv;
void main() {
	v_uv = a_uv;
	gl_Position = vec4(a_pos, 0.0, 1.0);
}
`

const lumaFragmentShaderSrc = `#version 310 es
precision mediump float;
in vec2 v_uv;
out vec4 frag;
uniform sampler2D u_rgb;
uniform vec3 u_lumaCoeff;
uniform float u_lumaOffset;
void main() {
	vec3 rgb = texture(u_rgb, v_uv).rgb;
	float y = dot(rgb, u_lumaCoeff) + u_lumaOffset;
	frag = vec4(y, 0.0, 0.0, 1.0);
}
`

const chromaFragmentShaderSrc = `#version 310 es
precision mediump float;
in vec2 v_uv;
out vec4 frag;
uniform sampler2D u_rgb;
uniform vec4 u_sampleOffsets; // (0,0) (1/W,0) (0,1/H) (1/W,1/H), packed as two vec2
uniform mat2 u_chromaCoeff;   // rows: Cb coeffs, Cr coeffs
uniform vec2 u_chromaOffset;
void main() {
	vec2 o1 = vec2(u_sampleOffsets.x, u_sampleOffsets.y);
	vec2 o2 = vec2(u_sampleOffsets.z, u_sampleOffsets.w);
	vec3 s0 = texture(u_rgb, v_uv).rgb;
	vec3 s1 = texture(u_rgb, v_uv + vec2(o1.x, 0.0)).rgb;
	vec3 s2 = texture(u_rgb, v_uv + vec2(0.0, o2.y)).rgb;
	vec3 s3 = texture(u_rgb, v_uv + vec2(o1.x, o2.y)).rgb;
	vec3 avg = (s0 + s1 + s2 + s3) * 0.25;
	float cb = dot(avg, vec3(u_chromaCoeff[0], 0.0)) + u_chromaOffset.x;
	float cr = dot(avg, vec3(u_chromaCoeff[1], 0.0)) + u_chromaOffset.y;
	frag = vec4(cb, cr, 0.0, 1.0);
}
`

// matrixCoeffs returns (lumaCoeff, lumaOffset, chromaCoeff[2][2], chromaOffset)
// for the given colorspace/range combination.
func matrixCoeffs(cs ColorSpace, rng Range) (luma [3]float32, lumaOff float32, chroma [2][2]float32, chromaOff [2]float32) {
	full := rng == RangeFull
	if cs == ColorSpaceBT709 {
		luma = [3]float32{0.2126, 0.7152, 0.0722}
	} else {
		luma = [3]float32{0.299, 0.587, 0.114}
	}
	if full {
		lumaOff = 0
		chroma = [2][2]float32{{-luma[0] / (2 * (1 - luma[2])), -luma[1] / (2 * (1 - luma[2]))}, {-luma[0] / (2 * (1 - luma[0])), -luma[1] / (2 * (1 - luma[0]))}}
		chromaOff = [2]float32{0.5, 0.5}
	} else {
		lumaOff = 16.0 / 255.0
		scaleY := 219.0 / 255.0
		luma[0] *= float32(scaleY)
		luma[1] *= float32(scaleY)
		luma[2] *= float32(scaleY)
		scaleC := 224.0 / 255.0
		chroma = [2][2]float32{
			{float32(-0.5*scaleC) * luma[0] / (1 - luma[2]), float32(-0.5*scaleC) * luma[1] / (1 - luma[2])},
			{float32(-0.5*scaleC) * luma[0] / (1 - luma[0]), float32(-0.5*scaleC) * luma[1] / (1 - luma[0])},
		}
		chromaOff = [2]float32{128.0 / 255.0, 128.0 / 255.0}
	}
	return
}

type program struct {
	id                               C.GLuint
	uRGB, uLumaCoeff, uLumaOffset    C.GLint
	uSampleOffsets, uChromaCoeff, uChromaOffset C.GLint
}

// Context owns the EGL display/context, both conversion programs, and the
// shared FBO/vertex-buffer state.
type Context struct {
	dpy C.EGLDisplay
	ctx C.EGLContext

	luma, chroma program
	fbo          C.GLuint
	vbo          C.GLuint

	colorspace ColorSpace
	colorRange Range

	// dmaBufFourccs is the set eglQueryDmaBufFormatsEXT reported at context
	// creation, queried once up front so ImportError can enumerate what the
	// driver actually supports instead of just the rejected format.
	dmaBufFourccs []uint32
}

// New creates the EGL display and a GL ES 3 context, compiles both shaders,
// uploads the vertex buffer, and creates the shared FBO (Convert binds it).
// It does not query or check the EGL/GL extension strings.
func New(cs ColorSpace, rng Range) (*Context, error) {
	dpy := C.eglGetDisplay(C.EGLNativeDisplayType(C.EGL_DEFAULT_DISPLAY))
	if dpy == C.EGL_NO_DISPLAY {
		return nil, fmt.Errorf("%w: eglGetDisplay", streamerr.ErrDeviceUnavailable)
	}

	var major, minor C.EGLint
	if C.eglInitialize(dpy, &major, &minor) == C.EGL_FALSE {
		return nil, fmt.Errorf("%w: eglInitialize", streamerr.ErrDeviceUnavailable)
	}

	if C.eglBindAPI(C.EGL_OPENGL_ES_API) == C.EGL_FALSE {
		return nil, fmt.Errorf("%w: eglBindAPI", streamerr.ErrDeviceUnavailable)
	}

	ctxAttrs := []C.EGLint{C.EGL_CONTEXT_CLIENT_VERSION, 3, C.EGL_NONE}
	ctx := C.eglCreateContext(dpy, nil, C.EGL_NO_CONTEXT, (*C.EGLint)(unsafe.Pointer(&ctxAttrs[0])))
	if ctx == C.EGL_NO_CONTEXT {
		return nil, fmt.Errorf("%w: eglCreateContext (surfaceless/no-config required)", streamerr.ErrDeviceUnavailable)
	}

	if C.eglMakeCurrent(dpy, C.EGL_NO_SURFACE, C.EGL_NO_SURFACE, ctx) == C.EGL_FALSE {
		C.eglDestroyContext(dpy, ctx)
		return nil, fmt.Errorf("%w: eglMakeCurrent", streamerr.ErrDeviceUnavailable)
	}

	gc := &Context{dpy: dpy, ctx: ctx, colorspace: cs, colorRange: rng}

	var err error
	gc.luma, err = buildProgram(lumaFragmentShaderSrc)
	if err != nil {
		gc.Close()
		return nil, fmt.Errorf("%w: luma program: %v", streamerr.ErrDeviceUnavailable, err)
	}
	gc.chroma, err = buildProgram(chromaFragmentShaderSrc)
	if err != nil {
		gc.Close()
		return nil, fmt.Errorf("%w: chroma program: %v", streamerr.ErrDeviceUnavailable, err)
	}

	gc.setUniforms()
	gc.uploadVertexBuffer()

	var fbo C.GLuint
	C.glGenFramebuffers(1, &fbo)
	gc.fbo = fbo

	gc.dmaBufFourccs = queryDmaBufFormats(dpy)

	gpuframe.SetImageDestroyer(gc.destroyImage)

	return gc, nil
}

// maxDmaBufFormats bounds one eglQueryDmaBufFormatsEXT call; real drivers
// report a handful of formats (NV12, the R8/GR88 pair, a few RGB variants).
const maxDmaBufFormats = 64

// queryDmaBufFormats returns every DMA-BUF fourcc dpy's EGL implementation
// advertises via EGL_EXT_image_dma_buf_import_modifiers, or nil when the
// extension isn't present (older Mesa, or a vendor driver without
// DMA-BUF import support at all).
func queryDmaBufFormats(dpy C.EGLDisplay) []uint32 {
	var raw [maxDmaBufFormats]C.EGLint
	n := C.query_dmabuf_formats(dpy, &raw[0], C.int(maxDmaBufFormats))
	if n <= 0 {
		return nil
	}
	out := make([]uint32, n)
	for i := 0; i < int(n); i++ {
		out[i] = uint32(raw[i])
	}
	return out
}

func buildProgram(fragSrc string) (program, error) {
	vsSrc := C.CString(vertexShaderSrc)
	defer C.free(unsafe.Pointer(vsSrc))
	fsSrc := C.CString(fragSrc)
	defer C.free(unsafe.Pointer(fsSrc))

	vs := C.compile_shader(C.GL_VERTEX_SHADER, vsSrc)
	if vs == 0 {
		return program{}, fmt.Errorf("vertex shader compile failed")
	}
	fs := C.compile_shader(C.GL_FRAGMENT_SHADER, fsSrc)
	if fs == 0 {
		return program{}, fmt.Errorf("fragment shader compile failed")
	}
	prog := C.link_program(vs, fs)
	C.glDeleteShader(vs)
	C.glDeleteShader(fs)
	if prog == 0 {
		return program{}, fmt.Errorf("program link failed")
	}

	nameRGB := C.CString("u_rgb")
	defer C.free(unsafe.Pointer(nameRGB))
	nameLC := C.CString("u_lumaCoeff")
	defer C.free(unsafe.Pointer(nameLC))
	nameLO := C.CString("u_lumaOffset")
	defer C.free(unsafe.Pointer(nameLO))
	nameSO := C.CString("u_sampleOffsets")
	defer C.free(unsafe.Pointer(nameSO))
	nameCC := C.CString("u_chromaCoeff")
	defer C.free(unsafe.Pointer(nameCC))
	nameCO := C.CString("u_chromaOffset")
	defer C.free(unsafe.Pointer(nameCO))

	return program{
		id:              prog,
		uRGB:            C.glGetUniformLocation(prog, nameRGB),
		uLumaCoeff:      C.glGetUniformLocation(prog, nameLC),
		uLumaOffset:     C.glGetUniformLocation(prog, nameLO),
		uSampleOffsets:  C.glGetUniformLocation(prog, nameSO),
		uChromaCoeff:    C.glGetUniformLocation(prog, nameCC),
		uChromaOffset:   C.glGetUniformLocation(prog, nameCO),
	}, nil
}

func (g *Context) setUniforms() {
	luma, lumaOff, chroma, chromaOff := matrixCoeffs(g.colorspace, g.colorRange)

	C.glUseProgram(g.luma.id)
	C.glUniform3f(g.luma.uLumaCoeff, C.GLfloat(luma[0]), C.GLfloat(luma[1]), C.GLfloat(luma[2]))
	C.glUniform1f(g.luma.uLumaOffset, C.GLfloat(lumaOff))
	C.glUniform1i(g.luma.uRGB, 0)

	C.glUseProgram(g.chroma.id)
	C.glUniform1i(g.chroma.uRGB, 0)
	C.glUniformMatrix2fv(g.chroma.uChromaCoeff, 1, C.GL_FALSE,
		(*C.GLfloat)(unsafe.Pointer(&chroma[0][0])))
	C.glUniform2f(g.chroma.uChromaOffset, C.GLfloat(chromaOff[0]), C.GLfloat(chromaOff[1]))
}

// screenFillingQuad is two triangles covering clip space with a UV mapping
// for a TRIANGLE_FAN draw (4 vertices: pos.xy, uv.xy).
var screenFillingQuad = [16]float32{
	-1, -1, 0, 1,
	1, -1, 1, 1,
	1, 1, 1, 0,
	-1, 1, 0, 0,
}

func (g *Context) uploadVertexBuffer() {
	var vbo C.GLuint
	C.glGenBuffers(1, &vbo)
	g.vbo = vbo
	C.glBindBuffer(C.GL_ARRAY_BUFFER, vbo)
	C.glBufferData(C.GL_ARRAY_BUFFER, C.GLsizeiptr(len(screenFillingQuad)*4),
		unsafe.Pointer(&screenFillingQuad[0]), C.GL_STATIC_DRAW)
}

func (g *Context) bindVertexAttribs() {
	C.glBindBuffer(C.GL_ARRAY_BUFFER, g.vbo)
	C.glVertexAttribPointer(0, 2, C.GL_FLOAT, C.GL_FALSE, 16, unsafe.Pointer(uintptr(0)))
	C.glEnableVertexAttribArray(0)
	C.glVertexAttribPointer(1, 2, C.GL_FLOAT, C.GL_FALSE, 16, unsafe.Pointer(uintptr(8)))
	C.glEnableVertexAttribArray(1)
}

// NV12 fourcc, matching drm_fourcc.h's DRM_FORMAT_NV12.
const FourccNV12 = 0x3231564e

// ImportFrame dup's each plane fd, builds one or two EGL images depending
// on fourcc, and creates a nearest-filtered, clamp-to-edge GL texture per
// image.
func (g *Context) ImportFrame(width, height int, fourcc uint32, planes []gpuframe.Plane) (*gpuframe.GpuFrame, error) {
	if len(planes) == 0 || len(planes) > gpuframe.MaxPlanes {
		return nil, fmt.Errorf("%w: invalid plane count %d", streamerr.ErrImportError, len(planes))
	}

	dupFds := make([]int, len(planes))
	for i, p := range planes {
		fd, err := syscall.Dup(p.Fd)
		if err != nil {
			for _, done := range dupFds[:i] {
				syscall.Close(done)
			}
			return nil, fmt.Errorf("%w: dup plane %d: %v", streamerr.ErrImportError, i, err)
		}
		dupFds[i] = fd
	}

	var images []gpuframe.Image
	if fourcc == FourccNV12 {
		lumaImg, err := g.createImage(width, height, drmFourccR8, dupFds[0], planes[0].Offset, planes[0].Pitch, planes[0].Modifier, -1, 0, 0, 0, 1)
		if err != nil {
			closeAll(dupFds)
			return nil, err
		}
		images = append(images, lumaImg)

		chromaImg, err := g.createImage(width/2, height/2, drmFourccGR88, dupFds[1], planes[1].Offset, planes[1].Pitch, planes[1].Modifier, -1, 0, 0, 0, 1)
		if err != nil {
			g.destroyImage(lumaImg)
			closeAll(dupFds)
			return nil, err
		}
		images = append(images, chromaImg)
	} else {
		fd1 := -1
		var off1, pitch1 uint32
		var mod1 uint64
		n := 1
		if len(planes) > 1 {
			fd1, off1, pitch1, mod1, n = dupFds[1], planes[1].Offset, planes[1].Pitch, planes[1].Modifier, 2
		}
		img, err := g.createImage(width, height, fourcc, dupFds[0], planes[0].Offset, planes[0].Pitch, planes[0].Modifier, fd1, off1, pitch1, mod1, n)
		if err != nil {
			closeAll(dupFds)
			return nil, err
		}
		images = append(images, img)
	}

	return gpuframe.New(width, height, fourcc, dupFds, images), nil
}

const (
	drmFourccR8   = 0x20203852
	drmFourccGR88 = 0x38385247
)

func (g *Context) createImage(w, h int, fourcc uint32, fd0 int, off0, pitch0 uint32, mod0 uint64, fd1 int, off1, pitch1 uint32, mod1 uint64, nplanes int) (gpuframe.Image, error) {
	img := C.create_dmabuf_image(g.dpy, C.int(w), C.int(h), C.uint32_t(fourcc),
		C.int(fd0), C.uint32_t(off0), C.uint32_t(pitch0), C.uint64_t(mod0),
		C.int(fd1), C.uint32_t(off1), C.uint32_t(pitch1), C.uint64_t(mod1),
		C.int(nplanes))
	if img == C.EGL_NO_IMAGE_KHR {
		return gpuframe.Image{}, fmt.Errorf("%w: eglCreateImageKHR fourcc=%#x not supported, driver supports %s",
			streamerr.ErrImportError, fourcc, formatFourccList(g.dmaBufFourccs))
	}

	var tex C.GLuint
	C.glGenTextures(1, &tex)
	C.gl_image_target_texture(tex, img)

	return gpuframe.Image{EGLImage: uintptr(unsafe.Pointer(img)), Texture: uint32(tex)}, nil
}

// SupportedDmaBufFourccs returns the fourcc set queried from
// eglQueryDmaBufFormatsEXT at context creation; empty when the driver
// doesn't expose the extension.
func (g *Context) SupportedDmaBufFourccs() []uint32 { return g.dmaBufFourccs }

// SupportsExplicitModifiers reports whether fourcc has at least one
// modifier eglQueryDmaBufModifiersEXT will enumerate; when false, the
// caller should omit the PLANE*_MODIFIER_LO/HI_EXT attrs entirely instead
// of passing DRM_FORMAT_MOD_INVALID, which some drivers reject outright.
func (g *Context) SupportsExplicitModifiers(fourcc uint32) bool {
	return C.dmabuf_format_supports_modifiers(g.dpy, C.EGLint(fourcc)) > 0
}

func formatFourccList(fourccs []uint32) string {
	if len(fourccs) == 0 {
		return "(none queryable)"
	}
	s := "["
	for i, f := range fourccs {
		if i > 0 {
			s += " "
		}
		s += fmt.Sprintf("%#x", f)
	}
	return s + "]"
}

func closeAll(fds []int) {
	for _, fd := range fds {
		syscall.Close(fd)
	}
}

// destroyImage is installed via gpuframe.SetImageDestroyer.
func (g *Context) destroyImage(img gpuframe.Image) {
	C.glDeleteTextures(1, (*C.GLuint)(unsafe.Pointer(&img.Texture)))
	if img.EGLImage != 0 {
		C.destroy_image(g.dpy, C.EGLImageKHR(unsafe.Pointer(img.EGLImage)))
	}
}

// Convert runs the luma then chroma pass, writing into to's two NV12
// planes from the single RGB texture of from.
func (g *Context) Convert(from, to *gpuframe.GpuFrame) error {
	rgbTex := from.Texture(0)
	if rgbTex == 0 {
		return fmt.Errorf("%w: source frame has no texture", streamerr.ErrGlError)
	}
	lumaTex := to.Texture(0)
	chromaTex := to.Texture(1)
	if lumaTex == 0 || chromaTex == 0 {
		return fmt.Errorf("%w: destination frame is not NV12", streamerr.ErrGlError)
	}

	C.glBindFramebuffer(C.GL_FRAMEBUFFER, g.fbo)
	C.glActiveTexture(C.GL_TEXTURE0)
	C.glBindTexture(C.GL_TEXTURE_2D, C.GLuint(rgbTex))

	if err := g.renderPass(g.luma, C.GLuint(lumaTex), to.Width, to.Height, func() {}); err != nil {
		return err
	}

	w, h := to.Width, to.Height
	offX, offY := float32(1)/float32(w), float32(1)/float32(h)
	if err := g.renderPass(g.chroma, C.GLuint(chromaTex), w/2, h/2, func() {
		C.glUniform4f(g.chroma.uSampleOffsets, C.GLfloat(offX), 0, 0, C.GLfloat(offY))
	}); err != nil {
		return err
	}

	C.glBindFramebuffer(C.GL_FRAMEBUFFER, 0)
	return nil
}

func (g *Context) renderPass(prog program, target C.GLuint, w, h int, setExtraUniforms func()) error {
	C.glFramebufferTexture2D(C.GL_FRAMEBUFFER, C.GL_COLOR_ATTACHMENT0, C.GL_TEXTURE_2D, target, 0)
	if status := C.glCheckFramebufferStatus(C.GL_FRAMEBUFFER); status != C.GL_FRAMEBUFFER_COMPLETE {
		return fmt.Errorf("%w: incomplete framebuffer %#x", streamerr.ErrGlError, uint32(status))
	}

	C.glViewport(0, 0, C.GLsizei(w), C.GLsizei(h))
	C.glUseProgram(prog.id)
	setExtraUniforms()
	g.bindVertexAttribs()
	C.glDrawArrays(C.GL_TRIANGLE_FAN, 0, 4)

	if errCode := C.glGetError(); errCode != C.GL_NO_ERROR {
		return fmt.Errorf("%w: glGetError=%#x", streamerr.ErrGlError, uint32(errCode))
	}
	return nil
}

// Sync issues an EGL fence and blocks until it is signalled.
func (g *Context) Sync() error {
	sync := C.fence_sync(g.dpy)
	if sync == C.EGL_NO_SYNC_KHR {
		C.glFinish()
		return nil
	}
	if C.fence_wait(g.dpy, sync) != 0 {
		return fmt.Errorf("%w: eglClientWaitSyncKHR", streamerr.ErrGlError)
	}
	return nil
}

// Close releases the shader programs, FBO, vertex buffer, EGL context and
// display, in reverse creation order.
func (g *Context) Close() {
	if g.fbo != 0 {
		C.glDeleteFramebuffers(1, &g.fbo)
	}
	if g.vbo != 0 {
		C.glDeleteBuffers(1, &g.vbo)
	}
	if g.luma.id != 0 {
		C.glDeleteProgram(g.luma.id)
	}
	if g.chroma.id != 0 {
		C.glDeleteProgram(g.chroma.id)
	}
	if g.ctx != C.EGL_NO_CONTEXT && g.dpy != C.EGL_NO_DISPLAY {
		C.eglMakeCurrent(g.dpy, C.EGL_NO_SURFACE, C.EGL_NO_SURFACE, C.EGL_NO_CONTEXT)
		C.eglDestroyContext(g.dpy, g.ctx)
	}
	if g.dpy != C.EGL_NO_DISPLAY {
		C.eglTerminate(g.dpy)
	}
}
