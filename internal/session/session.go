//go:build linux

// Package session is the accept-one-client state machine: Listening ->
// Serving(client, encoder?) -> Listening on any serving error, Terminating
// on SIGINT/SIGTERM. It is the one package that drives internal/loopclock's
// multiplexer and wires kms, eglgles, encoder, protocol, audiosink, and
// uhidinject together into the 60 Hz capture/convert/encode/send pipeline.
package session

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"

	"streamer/internal/audiosink"
	"streamer/internal/eglgles"
	"streamer/internal/encoder"
	"streamer/internal/kms"
	"streamer/internal/loopclock"
	"streamer/internal/protocol"
	"streamer/internal/streamerr"
	"streamer/internal/uhidinject"
)

// Config holds the CLI-derived settings for one server lifetime.
type Config struct {
	Port        int
	DisableUHID bool
	Audio       *audiosink.Config // nil disables audio entirely
	Stats       bool
}

// client is the serving-state bundle torn down as one unit on any
// session-fatal error.
type client struct {
	id        string
	file      *os.File
	framer    *protocol.Framer
	uhid      *uhidinject.Injector
	audio     *audiosink.Sink
	audioStop chan struct{}
	// audioWakeFd is the registered wake-pipe fd audio.WakeFd() returns,
	// or -1 when no audio sink is attached; kept so teardown can
	// unregister it without re-deriving it from a possibly-nil audio.
	audioWakeFd int
}

// stats accumulates the rolling counters the optional --stats flag logs
// every 5 seconds.
type stats struct {
	framesCaptured uint64
	framesEncoded  uint64
	lastLog        time.Time
}

// Server owns the listening socket, the GPU/capture/encoder pipeline
// state, and at most one connected client.
type Server struct {
	cfg Config

	loop     *loopclock.Loop
	listenFd int
	timerFd  int
	sigFd    int

	gpu     *eglgles.Context
	capture *kms.Capture
	enc     *encoder.Encoder

	colorspace eglgles.ColorSpace
	colorRange eglgles.Range

	cur   *client
	stats stats
}

// New builds the GPU context, opens the KMS capture device, creates the
// listening socket and the epoll loop, and registers every long-lived
// handler. Failures here are startup-fatal (streamerr.ErrDeviceUnavailable
// / streamerr.ErrNoDisplay); cmd/streamer logs them via log.Fatal and exits.
func New(cfg Config) (*Server, error) {
	gpu, err := eglgles.New(eglgles.ColorSpaceBT709, eglgles.RangeFull)
	if err != nil {
		return nil, fmt.Errorf("session: gpu context: %w", err)
	}

	cap, err := kms.New(gpu)
	if err != nil {
		gpu.Close()
		return nil, fmt.Errorf("session: kms capture: %w", err)
	}

	loop, err := loopclock.New()
	if err != nil {
		cap.Close()
		gpu.Close()
		return nil, fmt.Errorf("session: loop: %w", err)
	}

	listenFd, err := listen(cfg.Port)
	if err != nil {
		loop.Close()
		cap.Close()
		gpu.Close()
		return nil, fmt.Errorf("%w: listen :%d: %v", streamerr.ErrDeviceUnavailable, cfg.Port, err)
	}

	s := &Server{
		cfg:        cfg,
		loop:       loop,
		listenFd:   listenFd,
		gpu:        gpu,
		capture:    cap,
		colorspace: eglgles.ColorSpaceBT709,
		colorRange: eglgles.RangeFull,
		stats:      stats{lastLog: time.Now()},
	}

	if err := loop.Register(listenFd, unix.EPOLLIN, s.handleAccept); err != nil {
		s.Close()
		return nil, err
	}

	timerFd, err := loopclock.NewTimerFd(loopclock.TickPeriod)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.timerFd = timerFd
	if err := loop.Register(timerFd, unix.EPOLLIN, s.handleTick); err != nil {
		s.Close()
		return nil, err
	}

	sigFd, err := loop.InstallSignalHandling()
	if err != nil {
		s.Close()
		return nil, err
	}
	s.sigFd = sigFd
	if err := loop.Register(sigFd, unix.EPOLLIN, s.handleSignal); err != nil {
		s.Close()
		return nil, err
	}

	return s, nil
}

// listen creates a non-exclusive TCP listening socket bound to 0.0.0.0:port
// with a backlog of one — the server only ever serves one client at a time,
// so a deeper backlog would just delay the immediate-close rejection of a
// second connect.
func listen(port int) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, fmt.Errorf("socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("setsockopt SO_REUSEADDR: %w", err)
	}
	addr := &unix.SockaddrInet4{Port: port}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("bind :%d: %w", port, err)
	}
	if err := unix.Listen(fd, 1); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("listen: %w", err)
	}
	return fd, nil
}

// Run blocks, driving the epoll loop, until SIGINT/SIGTERM or an
// unrecoverable multiplexer error.
func (s *Server) Run() error {
	return s.loop.Run()
}

// Close tears down any serving client and releases every long-lived
// resource. Safe to call after Run returns.
func (s *Server) Close() {
	if s.cur != nil {
		s.teardownClient(nil)
	}
	if s.enc != nil {
		s.enc.Close()
		s.enc = nil
	}
	if s.capture != nil {
		s.capture.Close()
	}
	if s.gpu != nil {
		s.gpu.Close()
	}
	if s.listenFd >= 0 {
		unix.Close(s.listenFd)
	}
	s.loop.Close()
}

func (s *Server) handleSignal(l *loopclock.Loop) error {
	var buf [1]byte
	unix.Read(s.sigFd, buf[:])
	log.Info().Msg("shutdown signal received")
	l.RequestShutdown()
	return nil
}

// handleAccept implements single-tenancy: a second connect is accepted
// then closed within this one handler invocation, before the listener is
// re-armed.
func (s *Server) handleAccept(l *loopclock.Loop) error {
	defer l.Rearm(s.listenFd, unix.EPOLLIN)

	connFd, _, err := unix.Accept4(s.listenFd, unix.SOCK_CLOEXEC)
	if err != nil {
		log.Error().Err(err).Msg("accept failed")
		return nil
	}

	if s.cur != nil {
		unix.Close(connFd)
		return nil
	}

	if err := unix.SetsockoptInt(connFd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
		log.Error().Err(err).Msg("TCP_NODELAY failed")
		unix.Close(connFd)
		return nil
	}

	id := uuid.New().String()
	file := os.NewFile(uintptr(connFd), "client-"+id)
	framer := protocol.NewFramer(file)

	c := &client{id: id, file: file, framer: framer, audioWakeFd: -1}

	if !s.cfg.DisableUHID {
		uh, err := uhidinject.Open("streamer-input")
		if err != nil {
			log.Warn().Err(err).Msg("uhid injector unavailable, input events will be dropped")
		} else {
			c.uhid = uh
		}
	}

	if s.cfg.Audio != nil {
		sink, err := audiosink.Open(*s.cfg.Audio)
		if err != nil {
			log.Warn().Err(err).Msg("audio sink unavailable, streaming video only")
		} else {
			// Written synchronously, here on the main loop, before this
			// handler returns and before the 60 Hz tick can fire — the
			// audio-config handshake is guaranteed to be the first frame
			// this client ever receives when audio is configured.
			if err := framer.WriteAudioConfig(sink.ConfigLine()); err != nil {
				log.Warn().Err(err).Msg("audio config handshake failed, streaming video only")
				sink.Close()
			} else if err := l.Register(sink.WakeFd(), unix.EPOLLIN, s.handleAudioReadable); err != nil {
				log.Warn().Err(err).Msg("register audio wake fd failed, streaming video only")
				sink.Close()
			} else {
				c.audio = sink
				c.audioWakeFd = sink.WakeFd()
				c.audioStop = make(chan struct{})
				go sink.Run(c.audioStop)
			}
		}
	}

	if err := l.Register(connFd, unix.EPOLLIN, s.handleClientReadable); err != nil {
		log.Error().Err(err).Msg("register client fd failed")
		if c.audioWakeFd >= 0 {
			l.Unregister(c.audioWakeFd)
		}
		closeClient(c)
		return nil
	}

	s.cur = c
	log.Info().Str("session_id", id).Msg("client connected")
	return nil
}

// handleClientReadable reads one opaque input-event frame and forwards its
// body to the HID injector; the core never interprets the payload.
func (s *Server) handleClientReadable(l *loopclock.Loop) error {
	c := s.cur
	if c == nil {
		return nil
	}

	frame, err := protocol.ReadFrame(c.file)
	if err != nil {
		s.teardownClient(fmt.Errorf("%w: %v", streamerr.ErrSinkClosed, err))
		return nil
	}

	if c.uhid != nil && len(frame.Body) > 0 {
		if err := c.uhid.InjectReport(frame.Body); err != nil {
			log.Warn().Err(err).Str("session_id", c.id).Msg("input injection failed")
		}
	}

	return l.Rearm(int(c.file.Fd()), unix.EPOLLIN)
}

// handleAudioReadable drains the audio sink's wake pipe and its PCM queue,
// then writes each buffered chunk out as an audio packet. This is the only
// place audio data reaches the wire, so it can never interleave with a
// video frame pump() is mid-way through writing.
func (s *Server) handleAudioReadable(l *loopclock.Loop) error {
	c := s.cur
	if c == nil || c.audio == nil {
		return nil
	}
	defer l.Rearm(c.audioWakeFd, unix.EPOLLIN)

	var buf [64]byte
	for {
		if _, err := unix.Read(c.audioWakeFd, buf[:]); err != nil {
			break
		}
	}

	for _, pcm := range c.audio.Drain() {
		if err := c.framer.WriteAudioData(pcm, 0); err != nil {
			s.teardownClient(fmt.Errorf("%w: %v", streamerr.ErrAudioError, err))
			return nil
		}
	}
	return nil
}

// handleTick drives one capture/convert/encode/send cycle when a client is
// connected; with no client, it only drains the timer and rearms, touching
// no pipeline state (testable property: capture counter stays at zero).
func (s *Server) handleTick(l *loopclock.Loop) error {
	defer l.Rearm(s.timerFd, unix.EPOLLIN)
	loopclock.DrainTimerFd(s.timerFd)

	if s.cur == nil {
		return nil
	}

	if err := s.pump(); err != nil {
		s.teardownClient(err)
		return nil
	}

	if s.cfg.Stats {
		s.maybeLogStats()
	}
	return nil
}

// pump performs one capture/convert/encode/send cycle: capture, lazily
// create the encoder sized to the first frame, convert, encode, send.
func (s *Server) pump() error {
	captured, err := s.capture.NextFrame()
	if err != nil {
		return err
	}
	defer captured.Close()
	s.stats.framesCaptured++

	if s.enc == nil {
		enc, err := encoder.New(s.gpu, captured.Width, captured.Height, s.colorspace, s.colorRange)
		if err != nil {
			return err
		}
		s.enc = enc
	}

	if err := s.gpu.Convert(captured, s.enc.InputFrame()); err != nil {
		return err
	}
	if err := s.gpu.Sync(); err != nil {
		return err
	}

	if err := s.enc.EncodeFrame(s.cur.framer); err != nil {
		return err
	}
	s.stats.framesEncoded++
	return nil
}

func (s *Server) maybeLogStats() {
	if time.Since(s.stats.lastLog) < 5*time.Second {
		return
	}
	log.Info().
		Uint64("frames_captured", s.stats.framesCaptured).
		Uint64("frames_encoded", s.stats.framesEncoded).
		Msg("pipeline stats")
	s.stats.lastLog = time.Now()
}

// teardownClient drops the current client and its encoder, logging err
// (nil on a clean shutdown-time teardown), and returns the server to
// Listening.
func (s *Server) teardownClient(err error) {
	c := s.cur
	if c == nil {
		return
	}
	if err != nil {
		log.Error().Str("session_id", c.id).Err(err).Msg("session teardown")
	}

	s.loop.Unregister(int(c.file.Fd()))
	if c.audioWakeFd >= 0 {
		s.loop.Unregister(c.audioWakeFd)
	}
	closeClient(c)
	s.cur = nil

	if s.enc != nil {
		s.enc.Close()
		s.enc = nil
	}
}

func closeClient(c *client) {
	if c.audioStop != nil {
		close(c.audioStop)
	}
	if c.audio != nil {
		c.audio.Close()
	}
	if c.uhid != nil {
		c.uhid.Close()
	}
	c.file.Close()
}
