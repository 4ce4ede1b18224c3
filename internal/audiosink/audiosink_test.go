//go:build linux

package audiosink

import (
	"testing"

	"github.com/jfreymuth/pulse/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestConfigLineFormatsRateAndChannels(t *testing.T) {
	s := &Sink{cfg: Config{SampleRate: 48000, Channels: 2}}
	assert.Equal(t, "48000:2", s.ConfigLine())
}

func TestPcmCollectorDrainReturnsNilWhenEmpty(t *testing.T) {
	p := &pcmCollector{}
	assert.Nil(t, p.drain(100))
}

func TestPcmCollectorDrainCapsAtMaxBytesAndLeavesRemainder(t *testing.T) {
	p := &pcmCollector{}
	p.Write([]byte{1, 2, 3, 4, 5, 6})

	first := p.drain(4)
	assert.Equal(t, []byte{1, 2, 3, 4}, first)

	second := p.drain(4)
	assert.Equal(t, []byte{5, 6}, second)

	assert.Nil(t, p.drain(4))
}

func TestPcmCollectorFormatIsInt16LE(t *testing.T) {
	p := &pcmCollector{}
	assert.Equal(t, byte(proto.FormatInt16LE), p.Format())
}

func TestEnqueueDrainRoundTripsAndSignalsWakePipe(t *testing.T) {
	wakeR, wakeW, err := newWakePipe()
	require.NoError(t, err)
	defer wakeR.Close()
	defer wakeW.Close()

	s := &Sink{wakeR: wakeR, wakeW: wakeW}

	s.enqueue([]byte{1, 2, 3})
	s.enqueue([]byte{4, 5})

	var buf [8]byte
	n, err := unix.Read(s.WakeFd(), buf[:])
	require.NoError(t, err)
	assert.Equal(t, 2, n) // one wake byte per enqueue call

	got := s.Drain()
	assert.Equal(t, [][]byte{{1, 2, 3}, {4, 5}}, got)
	assert.Nil(t, s.Drain())
}

func TestWakeFdIsNonBlockingWhenQueueEmpty(t *testing.T) {
	wakeR, wakeW, err := newWakePipe()
	require.NoError(t, err)
	defer wakeR.Close()
	defer wakeW.Close()

	var buf [1]byte
	_, err = unix.Read(wakeR.fd, buf[:])
	assert.ErrorIs(t, err, unix.EAGAIN)
}
