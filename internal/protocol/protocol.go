// Package protocol implements the wire framing shared by every message the
// session writes to or reads from the client socket: an 8-byte header
// (size, type, flags, latency) followed by the body, little-endian on the
// wire. The header and the body are written with separate Write calls, not
// one vectored write; short writes and EINTR are retried.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"syscall"
)

// MsgType identifies a frame's payload kind.
type MsgType uint8

const (
	MsgMisc  MsgType = 0
	MsgVideo MsgType = 1
	MsgAudio MsgType = 2
)

// FlagKeyframe is bit0 of a frame's flags byte.
const FlagKeyframe uint8 = 1 << 0

const headerSize = 8

// Frame is one decoded or about-to-be-encoded wire message.
type Frame struct {
	Type      MsgType
	Flags     uint8
	LatencyMs uint16
	Body      []byte
}

// Keyframe reports whether FlagKeyframe is set.
func (f Frame) Keyframe() bool { return f.Flags&FlagKeyframe != 0 }

// Framer writes Frame values to an underlying connection, header first and
// then body in a second Write call, retrying on short writes and EINTR.
type Framer struct {
	w io.Writer
}

// NewFramer wraps w. w is typically the TCP client connection.
func NewFramer(w io.Writer) *Framer {
	return &Framer{w: w}
}

// WriteFrame writes header-then-body, retrying partial writes until the
// whole message lands or a non-retryable error occurs.
func (fr *Framer) WriteFrame(f Frame) error {
	var hdr [headerSize]byte
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(len(f.Body)))
	hdr[4] = byte(f.Type)
	hdr[5] = f.Flags
	binary.LittleEndian.PutUint16(hdr[6:8], f.LatencyMs)

	if err := writeAll(fr.w, hdr[:]); err != nil {
		return err
	}
	if len(f.Body) > 0 {
		if err := writeAll(fr.w, f.Body); err != nil {
			return err
		}
	}
	return nil
}

// writeAll loops Write until every byte of buf is written, tolerating
// short writes; an io.ErrShortWrite or partial write is not itself an
// error unless the underlying Write also returns one.
func writeAll(w io.Writer, buf []byte) error {
	for len(buf) > 0 {
		n, err := w.Write(buf)
		if n > 0 {
			buf = buf[n:]
		}
		if err != nil {
			if errors.Is(err, syscall.EINTR) {
				continue
			}
			return fmt.Errorf("protocol: short write: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("protocol: write made no progress")
		}
	}
	return nil
}

// WriteVideo writes a type=video frame; keyframe controls FlagKeyframe.
func (fr *Framer) WriteVideo(body []byte, keyframe bool, latencyMs uint16) error {
	var flags uint8
	if keyframe {
		flags = FlagKeyframe
	}
	return fr.WriteFrame(Frame{Type: MsgVideo, Flags: flags, LatencyMs: latencyMs, Body: body})
}

// WriteAudioConfig writes the type=audio, flags.keyframe=1 "rate:channels"
// handshake message that must precede any audio data frame.
func (fr *Framer) WriteAudioConfig(rateChannels string) error {
	return fr.WriteFrame(Frame{Type: MsgAudio, Flags: FlagKeyframe, Body: []byte(rateChannels)})
}

// WriteAudioData writes a type=audio, flags.keyframe=0 raw PCM frame.
func (fr *Framer) WriteAudioData(pcm []byte, latencyMs uint16) error {
	return fr.WriteFrame(Frame{Type: MsgAudio, Flags: 0, LatencyMs: latencyMs, Body: pcm})
}

// ReadFrame blocks until one full frame has been read from r.
func ReadFrame(r io.Reader) (Frame, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Frame{}, err
	}
	size := binary.LittleEndian.Uint32(hdr[0:4])
	f := Frame{
		Type:      MsgType(hdr[4]),
		Flags:     hdr[5],
		LatencyMs: binary.LittleEndian.Uint16(hdr[6:8]),
	}
	if size > 0 {
		f.Body = make([]byte, size)
		if _, err := io.ReadFull(r, f.Body); err != nil {
			return Frame{}, err
		}
	}
	return f, nil
}

// VideoSink is the narrow interface the encoder writes coded pictures
// through, letting it stay agnostic of the rest of the session's framing.
type VideoSink interface {
	WriteVideo(body []byte, keyframe bool, latencyMs uint16) error
}
