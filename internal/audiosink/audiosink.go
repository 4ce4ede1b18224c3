//go:build linux

// Package audiosink captures the default PulseAudio sink's monitor stream
// and hands raw S16LE PCM buffers to the session loop as framed audio
// messages, with no Opus (or any other) compression step.
//
// Capture runs on its own goroutine, but that goroutine never touches the
// client socket: it only pushes buffers onto a mutex-guarded queue and
// signals a wake pipe. The session's epoll loop is the only reader of the
// queue and the only writer to the wire, so audio and video frames can
// never interleave on the connection.
package audiosink

import (
	"fmt"
	"sync"
	"time"

	"github.com/jfreymuth/pulse"
	"github.com/jfreymuth/pulse/proto"
	"golang.org/x/sys/unix"
)

const (
	frameDurationMs = 20
)

// Config selects the PCM format streamed to the client. WireLine is the
// exact "rate:channels" string the CLI was given (e.g. "48000:FL,FR"); it
// is echoed verbatim in the audio-config handshake message. Capture itself
// uses neither the channel-position list nor Channels: Open always records
// two channels.
type Config struct {
	SampleRate int
	Channels   int
	WireLine   string
}

// Sink owns the PulseAudio client/record stream and a queue of captured
// PCM buffers awaiting pickup by the session loop.
type Sink struct {
	cfg    Config
	client *pulse.Client
	stream *pulse.RecordStream

	collector *pcmCollector

	mu    sync.Mutex
	queue [][]byte

	wakeR *fdFile
	wakeW *fdFile
}

// pcmCollector implements pulse.Writer, buffering raw bytes exactly as
// PulseAudio delivers them; no sample-level decoding is needed since the
// wire protocol forwards PCM bytes unmodified.
type pcmCollector struct {
	mu  sync.Mutex
	buf []byte
}

func (p *pcmCollector) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.buf = append(p.buf, data...)
	return len(data), nil
}

func (p *pcmCollector) Format() byte { return proto.FormatInt16LE }

func (p *pcmCollector) drain(maxBytes int) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.buf) == 0 {
		return nil
	}
	n := len(p.buf)
	if n > maxBytes {
		n = maxBytes
	}
	out := make([]byte, n)
	copy(out, p.buf[:n])
	p.buf = p.buf[n:]
	return out
}

// Open connects to the local PulseAudio daemon and starts recording the
// default sink's monitor. A failure here is never fatal to the caller;
// the session runs video-only when audio isn't configured or available.
func Open(cfg Config) (*Sink, error) {
	cfg.Channels = 2 // PulseAudio monitor capture is always stereo here

	client, err := pulse.NewClient(
		pulse.ClientApplicationName("streamer"),
	)
	if err != nil {
		return nil, fmt.Errorf("audiosink: pulse connect: %w", err)
	}

	sink, err := client.DefaultSink()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("audiosink: default sink: %w", err)
	}

	collector := &pcmCollector{}

	// Capture is always stereo at the PulseAudio layer (RecordStereo),
	// whatever channel list the CLI was given. The handshake still carries
	// the CLI's WireLine unchanged, so for a channel list that is not two
	// entries long it does not describe the PCM that follows.
	bytesPerFrame := cfg.SampleRate * cfg.Channels * 2 * frameDurationMs / 1000
	stream, err := client.NewRecord(
		collector,
		pulse.RecordMonitor(sink),
		pulse.RecordStereo,
		pulse.RecordSampleRate(uint32(cfg.SampleRate)),
		pulse.RecordBufferFragmentSize(uint32(bytesPerFrame)),
	)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("audiosink: record stream: %w", err)
	}

	wakeR, wakeW, err := newWakePipe()
	if err != nil {
		stream.Stop()
		client.Close()
		return nil, fmt.Errorf("audiosink: wake pipe: %w", err)
	}

	return &Sink{
		cfg: cfg, client: client, stream: stream, collector: collector,
		wakeR: wakeR, wakeW: wakeW,
	}, nil
}

// newWakePipe opens a non-blocking pipe the audio goroutine signals after
// every enqueue, so the session loop's epoll wait only wakes when there is
// actually a buffer to pick up.
func newWakePipe() (r, w *fdFile, err error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC|unix.O_NONBLOCK); err != nil {
		return nil, nil, err
	}
	return &fdFile{fd: fds[0]}, &fdFile{fd: fds[1]}, nil
}

// fdFile is a bare fd wrapper; unlike os.File it never closes on nil use
// and avoids pulling os.Pipe's blocking default into this package.
type fdFile struct{ fd int }

func (f *fdFile) Close() error { return unix.Close(f.fd) }

func (f *fdFile) Write(p []byte) (int, error) { return unix.Write(f.fd, p) }

// ConfigLine returns the "rate:channels" handshake string that must
// precede every audio data frame on the wire, preferring the CLI's exact
// channel-position list over a synthesized channel count.
func (s *Sink) ConfigLine() string {
	if s.cfg.WireLine != "" {
		return s.cfg.WireLine
	}
	return fmt.Sprintf("%d:%d", s.cfg.SampleRate, s.cfg.Channels)
}

// WakeFd returns the read end of the wake pipe, registered by the session
// loop's epoll instance; it becomes readable every time Run enqueues a
// buffer.
func (s *Sink) WakeFd() int { return s.wakeR.fd }

// enqueue appends pcm to the queue and signals the wake pipe. It never
// blocks: the queue is a plain mutex-guarded slice (no condition
// variable) because the producer never waits on the consumer, and the
// consumer only polls the pipe.
func (s *Sink) enqueue(pcm []byte) {
	s.mu.Lock()
	s.queue = append(s.queue, pcm)
	s.mu.Unlock()
	s.wakeW.Write([]byte{1})
}

// Drain pops every buffered PCM chunk off the queue without blocking. It
// is the session loop's job to call this from its wake-pipe handler and
// write each chunk out as an audio packet.
func (s *Sink) Drain() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return nil
	}
	out := s.queue
	s.queue = nil
	return out
}

// Run starts the record stream and enqueues buffered PCM every
// frameDurationMs until stop is closed. It performs no socket I/O itself.
func (s *Sink) Run(stop <-chan struct{}) {
	s.stream.Start()
	defer s.stream.Stop()

	bytesPerFrame := s.cfg.SampleRate * s.cfg.Channels * 2 * frameDurationMs / 1000

	ticker := time.NewTicker(frameDurationMs * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			pcm := s.collector.drain(bytesPerFrame)
			if pcm == nil {
				continue
			}
			s.enqueue(pcm)
		}
	}
}

// Close stops the record stream, releases the PulseAudio client, and
// closes the wake pipe.
func (s *Sink) Close() {
	s.stream.Stop()
	s.client.Close()
	s.wakeR.Close()
	s.wakeW.Close()
}
