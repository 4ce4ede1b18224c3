// Package streamerr defines the error-kind vocabulary shared across the
// pipeline: a small set of sentinel errors session and startup code test
// against with errors.Is, plus a VaError wrapper that carries a VA-API
// status code through to the log line.
package streamerr

import "errors"

var (
	// ErrDeviceUnavailable means DRM open, VA-API init, EGL init, or shader
	// compile failed. Fatal at startup.
	ErrDeviceUnavailable = errors.New("streamerr: device unavailable")

	// ErrNoDisplay means no CRTC has a usable framebuffer. Fatal at startup.
	ErrNoDisplay = errors.New("streamerr: no display")

	// ErrImportError means the current framebuffer's format or modifier is
	// not supported by EGL for DMA-BUF import. Session-fatal.
	ErrImportError = errors.New("streamerr: dma-buf import error")

	// ErrGlError covers OpenGL ES failures (incomplete FBO, glGetError).
	// Session-fatal.
	ErrGlError = errors.New("streamerr: gl error")

	// ErrSinkClosed means the client socket returned EPIPE or a short
	// write. Session-fatal, not a process error.
	ErrSinkClosed = errors.New("streamerr: sink closed")

	// ErrAudioError means the audio thread reported unrecoverable failure
	// through the wake pipe. Session-fatal.
	ErrAudioError = errors.New("streamerr: audio error")
)

// VaError wraps a VA-API status code mapped to its VA_STATUS_ERROR_* name.
type VaError struct {
	Call string
	Code int32
	Name string
}

func (e *VaError) Error() string {
	return "streamerr: " + e.Call + ": " + e.Name
}

// NewVaError builds a VaError, resolving code to its stable name via Name.
func NewVaError(call string, code int32) *VaError {
	return &VaError{Call: call, Code: code, Name: Name(code)}
}

// Name maps a VA-API status code to the stable VA_STATUS_ERROR_* string used
// in logs. Unknown codes map to "VA_STATUS_ERROR_UNKNOWN" so new driver
// errors never panic the logger.
func Name(code int32) string {
	if name, ok := vaStatusNames[code]; ok {
		return name
	}
	return "VA_STATUS_ERROR_UNKNOWN"
}

// vaStatusNames mirrors the subset of va/va.h's VAStatus codes this encoder
// can actually hit; it is not exhaustive over the whole VA-API surface.
var vaStatusNames = map[int32]string{
	0:   "VA_STATUS_SUCCESS",
	1:   "VA_STATUS_ERROR_OPERATION_FAILED",
	2:   "VA_STATUS_ERROR_ALLOCATION_FAILED",
	3:   "VA_STATUS_ERROR_INVALID_DISPLAY",
	4:   "VA_STATUS_ERROR_INVALID_CONFIG",
	5:   "VA_STATUS_ERROR_INVALID_CONTEXT",
	6:   "VA_STATUS_ERROR_INVALID_SURFACE",
	7:   "VA_STATUS_ERROR_INVALID_BUFFER",
	8:   "VA_STATUS_ERROR_INVALID_IMAGE",
	9:   "VA_STATUS_ERROR_INVALID_SUBPICTURE",
	10:  "VA_STATUS_ERROR_ATTR_NOT_SUPPORTED",
	11:  "VA_STATUS_ERROR_MAX_NUM_EXCEEDED",
	12:  "VA_STATUS_ERROR_UNSUPPORTED_PROFILE",
	13:  "VA_STATUS_ERROR_UNSUPPORTED_ENTRYPOINT",
	14:  "VA_STATUS_ERROR_UNSUPPORTED_RT_FORMAT",
	15:  "VA_STATUS_ERROR_UNSUPPORTED_BUFFERTYPE",
	16:  "VA_STATUS_ERROR_SURFACE_BUSY",
	17:  "VA_STATUS_ERROR_FLAG_NOT_SUPPORTED",
	18:  "VA_STATUS_ERROR_INVALID_PARAMETER",
	19:  "VA_STATUS_ERROR_RESOLUTION_NOT_SUPPORTED",
	20:  "VA_STATUS_ERROR_UNIMPLEMENTED",
	21:  "VA_STATUS_ERROR_SURFACE_IN_DISPLAYING",
	22:  "VA_STATUS_ERROR_INVALID_IMAGE_FORMAT",
	23:  "VA_STATUS_ERROR_DECODING_ERROR",
	24:  "VA_STATUS_ERROR_ENCODING_ERROR",
	25:  "VA_STATUS_ERROR_INVALID_VALUE",
	32:  "VA_STATUS_ERROR_UNSUPPORTED_FILTER",
	33:  "VA_STATUS_ERROR_INVALID_FILTER_CHAIN",
	34:  "VA_STATUS_ERROR_HW_BUSY",
	36:  "VA_STATUS_ERROR_UNSUPPORTED_MEMORY_TYPE",
	37:  "VA_STATUS_ERROR_NOT_ENOUGH_BUFFER",
	38:  "VA_STATUS_ERROR_TIMEDOUT",
}
