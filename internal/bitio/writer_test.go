package bitio

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendUERoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 2000; i++ {
		v := uint32(rng.Int31n(1 << 30))
		w := New(8)
		w.AppendUE(v)
		w.ByteAlign()
		r := NewReader(w.Bytes())
		got := r.ReadUE()
		require.Equal(t, v, got, "round trip of %d", v)
	}
}

func TestAppendSERoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	for i := 0; i < 2000; i++ {
		v := rng.Int31n(1<<30) - (1 << 29)
		w := New(8)
		w.AppendSE(v)
		w.ByteAlign()
		r := NewReader(w.Bytes())
		got := r.ReadSE()
		require.Equal(t, v, got, "round trip of %d", v)
	}
}

func TestByteAlignPadsWithZero(t *testing.T) {
	w := New(8)
	w.Append(0b101, 3)
	w.ByteAlign()
	assert.Equal(t, 0, w.BitSize()%8)
	r := NewReader(w.Bytes())
	require.Equal(t, uint64(0b101), r.ReadBits(3))
	require.Equal(t, uint64(0), r.ReadBits(5))
}

func TestAppendRejectsOversizedValue(t *testing.T) {
	w := New(8)
	assert.Panics(t, func() { w.Append(0xFF, 4) })
}

func TestInflateInsertsEmulationPreventionBytes(t *testing.T) {
	cases := [][]byte{
		{0x00, 0x00, 0x00},
		{0x00, 0x00, 0x01},
		{0x00, 0x00, 0x02},
		{0x00, 0x00, 0x03},
		{0x00, 0x00, 0x04},
		{0x01, 0x00, 0x00, 0x00, 0x02, 0x00, 0x00, 0x01},
	}
	for _, inner := range cases {
		outer := New(16)
		InflateInto(outer, inner)
		body := outer.Bytes()[4:] // skip start code
		assert.NotContains(t, tripletsOf(body), [3]byte{0x00, 0x00, 0x00}, "no unescaped 00 00 00")
		assert.Equal(t, inner, DeflateFrom(body), "deflate recovers original payload")
	}
}

func TestInflateRandomPayloadRoundTrips(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 200; i++ {
		n := rng.Intn(64)
		inner := make([]byte, n)
		for j := range inner {
			inner[j] = byte(rng.Intn(6)) // bias toward small values to exercise EPBs
		}
		outer := New(16)
		InflateInto(outer, inner)
		body := outer.Bytes()[4:]
		require.Equal(t, inner, DeflateFrom(body))
		assert.Equal(t, []byte{0x00, 0x00, 0x00, 0x01}, outer.Bytes()[:4])
	}
}

func tripletsOf(b []byte) [][3]byte {
	var out [][3]byte
	for i := 0; i+3 <= len(b); i++ {
		out = append(out, [3]byte{b[i], b[i+1], b[i+2]})
	}
	return out
}
