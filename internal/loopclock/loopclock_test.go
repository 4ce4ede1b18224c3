//go:build linux

package loopclock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestTickPeriodIsSixtyHertz(t *testing.T) {
	assert.InDelta(t, float64(time.Second)/60, float64(TickPeriod), float64(time.Microsecond))
}

func TestNewTimerFdFiresAndIsDrainable(t *testing.T) {
	fd, err := NewTimerFd(5 * time.Millisecond)
	require.NoError(t, err)
	defer unix.Close(fd)

	pfd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	n, err := unix.Poll(pfd, 500)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	require.NoError(t, DrainTimerFd(fd))
}

func TestRegisterAndRearmRoundTrip(t *testing.T) {
	l, err := New()
	require.NoError(t, err)
	defer l.Close()

	fd, err := NewTimerFd(5 * time.Millisecond)
	require.NoError(t, err)
	defer unix.Close(fd)

	fired := make(chan struct{}, 1)
	require.NoError(t, l.Register(fd, unix.EPOLLIN, func(loop *Loop) error {
		DrainTimerFd(fd)
		fired <- struct{}{}
		loop.RequestShutdown()
		return nil
	}))

	done := make(chan error, 1)
	go func() { done <- l.Run() }()

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer handler never fired")
	}

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("loop did not exit after shutdown requested")
	}
}

func TestShutdownRequestedReflectsFlag(t *testing.T) {
	l, err := New()
	require.NoError(t, err)
	defer l.Close()

	assert.False(t, l.ShutdownRequested())
	l.RequestShutdown()
	assert.True(t, l.ShutdownRequested())
}
