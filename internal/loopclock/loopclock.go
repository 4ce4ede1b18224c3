//go:build linux

// Package loopclock is the process-wide I/O multiplexer: a single epoll
// instance that the session loop registers read-readiness handlers on for
// the listening socket, the accepted client, the 60 Hz capture timer, and
// the signal-notification pipe. Every handler is one-shot (EPOLLONESHOT)
// and must re-arm itself by calling Rearm before returning.
package loopclock

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// TickPeriod is the fixed 60 Hz capture cadence the encoder's VUI timing
// info assumes (num_units_in_tick=1, time_scale=60); kept as a compile-time
// constant rather than derived from measured capture timing.
const TickPeriod = 16_666_667 * time.Nanosecond

// Handler is invoked when its fd becomes readable. It must call Loop.Rearm
// before returning if it wants to keep receiving events.
type Handler func(l *Loop) error

// Loop owns one epoll instance and its registered handlers.
type Loop struct {
	epfd     int
	handlers map[int32]Handler

	sigR *os.File
	sigW *os.File

	shutdown bool
}

// New creates the epoll instance.
func New() (*Loop, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("loopclock: epoll_create1: %w", err)
	}
	return &Loop{epfd: fd, handlers: make(map[int32]Handler)}, nil
}

// Close releases the epoll fd and the signal pipe, if installed.
func (l *Loop) Close() {
	unix.Close(l.epfd)
	if l.sigR != nil {
		l.sigR.Close()
		l.sigW.Close()
	}
}

// Register adds fd to the epoll set with the given event mask, one-shot.
func (l *Loop) Register(fd int, events uint32, h Handler) error {
	ev := unix.EpollEvent{Events: events | unix.EPOLLONESHOT, Fd: int32(fd)}
	if err := unix.EpollCtl(l.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("loopclock: epoll_ctl(ADD, %d): %w", fd, err)
	}
	l.handlers[int32(fd)] = h
	return nil
}

// Rearm re-registers fd for another one-shot firing.
func (l *Loop) Rearm(fd int, events uint32) error {
	ev := unix.EpollEvent{Events: events | unix.EPOLLONESHOT, Fd: int32(fd)}
	if err := unix.EpollCtl(l.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return fmt.Errorf("loopclock: epoll_ctl(MOD, %d): %w", fd, err)
	}
	return nil
}

// Unregister removes fd from the epoll set entirely.
func (l *Loop) Unregister(fd int) {
	unix.EpollCtl(l.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	delete(l.handlers, int32(fd))
}

// NewTimerFd creates a CLOCK_MONOTONIC timerfd firing every period,
// starting after the first period elapses.
func NewTimerFd(period time.Duration) (int, error) {
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_CLOEXEC|unix.TFD_NONBLOCK)
	if err != nil {
		return -1, fmt.Errorf("loopclock: timerfd_create: %w", err)
	}
	spec := unix.ItimerSpec{
		Interval: unix.NsecToTimespec(period.Nanoseconds()),
		Value:    unix.NsecToTimespec(period.Nanoseconds()),
	}
	if err := unix.TimerfdSettime(fd, 0, &spec, nil); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("loopclock: timerfd_settime: %w", err)
	}
	return fd, nil
}

// DrainTimerFd reads (and discards) the expiration counter so the fd's
// readiness is cleared before rearming.
func DrainTimerFd(fd int) error {
	var buf [8]byte
	_, err := unix.Read(fd, buf[:])
	if err != nil && err != unix.EAGAIN {
		return err
	}
	return nil
}

// InstallSignalHandling ignores SIGPIPE process-wide (so writes to a
// closed client socket surface as EPIPE, not process death) and arranges
// for SIGINT/SIGTERM to make the returned fd readable exactly once.
func (l *Loop) InstallSignalHandling() (fd int, err error) {
	signal.Ignore(syscall.SIGPIPE)

	r, w, err := os.Pipe()
	if err != nil {
		return -1, fmt.Errorf("loopclock: signal pipe: %w", err)
	}
	l.sigR, l.sigW = r, w

	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		l.sigW.Write([]byte{1})
	}()

	return int(r.Fd()), nil
}

// RequestShutdown sets the shutdown flag; Run returns once the current
// iteration's handlers have finished.
func (l *Loop) RequestShutdown() { l.shutdown = true }

// ShutdownRequested reports the volatile flag SIGINT/SIGTERM sets.
func (l *Loop) ShutdownRequested() bool { return l.shutdown }

// maxEvents bounds one epoll_wait batch; this loop only ever registers a
// handful of fds (listener, client, timer, signal pipe).
const maxEvents = 16

// Run blocks, dispatching ready handlers, until ShutdownRequested reports
// true after an iteration.
func (l *Loop) Run() error {
	events := make([]unix.EpollEvent, maxEvents)
	for !l.shutdown {
		n, err := unix.EpollWait(l.epfd, events, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("loopclock: epoll_wait: %w", err)
		}
		for i := 0; i < n; i++ {
			fd := events[i].Fd
			if h, ok := l.handlers[fd]; ok {
				if err := h(l); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
