package gpuframe

import (
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pipeFd(t *testing.T) int {
	t.Helper()
	var fds [2]int
	require.NoError(t, syscall.Pipe(fds[:]))
	t.Cleanup(func() { syscall.Close(fds[1]) })
	return fds[0]
}

func TestCloseReleasesOwnedFds(t *testing.T) {
	fd := pipeFd(t)
	f := New(1920, 1080, 0x3231564e /* "NV12" */, []int{fd}, nil)

	assert.Equal(t, []int{fd}, f.Fds())
	f.Close()

	// A closed fd fails any further syscall with EBADF.
	_, _, errno := syscall.Syscall(syscall.SYS_FCNTL, uintptr(fd), syscall.F_GETFD, 0)
	assert.Equal(t, syscall.EBADF, errno)
}

func TestCloseIsIdempotent(t *testing.T) {
	fd := pipeFd(t)
	f := New(64, 64, 0, []int{fd}, nil)
	f.Close()
	assert.NotPanics(t, func() { f.Close() })
}

func TestCloseInvokesImageDestroyerBeforeClosingFds(t *testing.T) {
	var destroyed []Image
	SetImageDestroyer(func(img Image) { destroyed = append(destroyed, img) })
	defer SetImageDestroyer(nil)

	fd := pipeFd(t)
	img := Image{EGLImage: 0xdead, Texture: 7}
	f := New(64, 64, 0, []int{fd}, []Image{img})

	f.Close()

	require.Len(t, destroyed, 1)
	assert.Equal(t, img, destroyed[0])
	assert.Nil(t, f.Images())
}

func TestTextureReturnsZeroOutOfRange(t *testing.T) {
	f := New(64, 64, 0, nil, []Image{{EGLImage: 1, Texture: 2}})
	assert.Equal(t, uint32(2), f.Texture(0))
	assert.Equal(t, uint32(0), f.Texture(1))
	assert.Equal(t, uint32(0), f.Texture(-1))
}
