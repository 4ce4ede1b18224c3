package protocol

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFrameThenReadFrameRoundTrips(t *testing.T) {
	var buf bytes.Buffer
	fr := NewFramer(&buf)

	require.NoError(t, fr.WriteVideo([]byte{0, 0, 0, 1, 0x40}, true, 12))
	require.NoError(t, fr.WriteAudioConfig("48000:2"))
	require.NoError(t, fr.WriteAudioData([]byte{1, 2, 3, 4}, 3))

	got1, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, MsgVideo, got1.Type)
	assert.True(t, got1.Keyframe())
	assert.Equal(t, uint16(12), got1.LatencyMs)
	assert.Equal(t, []byte{0, 0, 0, 1, 0x40}, got1.Body)

	got2, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, MsgAudio, got2.Type)
	assert.True(t, got2.Keyframe())
	assert.Equal(t, "48000:2", string(got2.Body))

	got3, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.False(t, got3.Keyframe())
	assert.Equal(t, []byte{1, 2, 3, 4}, got3.Body)
}

// shortWriter truncates every Write to at most n bytes, simulating a
// socket buffer that only accepts part of the payload per syscall.
type shortWriter struct {
	buf bytes.Buffer
	n   int
}

func (s *shortWriter) Write(p []byte) (int, error) {
	if len(p) > s.n {
		p = p[:s.n]
	}
	return s.buf.Write(p)
}

func TestWriteFrameSurvivesShortWrites(t *testing.T) {
	for n := 1; n <= 9; n++ {
		sw := &shortWriter{n: n}
		fr := NewFramer(sw)
		body := []byte("the quick brown fox jumps over the lazy dog")
		require.NoError(t, fr.WriteVideo(body, false, 0))

		got, err := ReadFrame(&sw.buf)
		require.NoError(t, err)
		assert.Equal(t, body, got.Body, "short-write boundary n=%d", n)
	}
}

type flakyWriter struct{ calls int }

func (f *flakyWriter) Write(p []byte) (int, error) {
	f.calls++
	if f.calls == 1 {
		return 0, errors.New("simulated non-retryable write failure")
	}
	return len(p), nil
}

func TestWriteFrameReturnsErrorOnNonRetryableFailure(t *testing.T) {
	fr := NewFramer(&flakyWriter{})
	err := fr.WriteVideo([]byte{1, 2, 3}, false, 0)
	require.Error(t, err)
}

func TestReadFrameReturnsEOFOnEmptyStream(t *testing.T) {
	_, err := ReadFrame(&bytes.Buffer{})
	assert.ErrorIs(t, err, io.EOF)
}

func TestZeroLengthBodyRoundTrips(t *testing.T) {
	var buf bytes.Buffer
	fr := NewFramer(&buf)
	require.NoError(t, fr.WriteFrame(Frame{Type: MsgMisc}))

	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Empty(t, got.Body)
	assert.Equal(t, MsgMisc, got.Type)
}
