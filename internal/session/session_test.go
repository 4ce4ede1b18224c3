//go:build linux

package session

import (
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"streamer/internal/loopclock"
)

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func TestListenAcceptsTCPConnections(t *testing.T) {
	port := freePort(t)
	fd, err := listen(port)
	require.NoError(t, err)
	defer unix.Close(fd)

	conn, err := net.Dial("tcp", "127.0.0.1:"+strconv.Itoa(port))
	require.NoError(t, err)
	defer conn.Close()

	connFd, _, err := unix.Accept4(fd, 0)
	require.NoError(t, err)
	unix.Close(connFd)
}

// TestSecondConnectIsClosedImmediately drives the real handleAccept twice
// against a loopback socket without any GPU/capture state, directly
// implementing testable property 6 (single-tenancy).
func TestSecondConnectIsClosedImmediately(t *testing.T) {
	port := freePort(t)
	listenFd, err := listen(port)
	require.NoError(t, err)
	defer unix.Close(listenFd)

	loop, err := loopclock.New()
	require.NoError(t, err)
	defer loop.Close()

	s := &Server{
		cfg:      Config{DisableUHID: true},
		loop:     loop,
		listenFd: listenFd,
	}
	require.NoError(t, loop.Register(listenFd, unix.EPOLLIN, s.handleAccept))

	first, err := net.Dial("tcp", "127.0.0.1:"+strconv.Itoa(port))
	require.NoError(t, err)
	defer first.Close()

	waitReadable(t, listenFd)
	require.NoError(t, s.handleAccept(loop))
	require.NotNil(t, s.cur)
	firstID := s.cur.id

	second, err := net.Dial("tcp", "127.0.0.1:"+strconv.Itoa(port))
	require.NoError(t, err)
	defer second.Close()

	waitReadable(t, listenFd)
	require.NoError(t, s.handleAccept(loop))

	assert.Equal(t, firstID, s.cur.id, "first client must remain the server's sole client")

	second.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 1)
	_, err = second.Read(buf)
	assert.Error(t, err, "second connection must be closed by the server")
}

func waitReadable(t *testing.T, fd int) {
	t.Helper()
	pfd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	n, err := unix.Poll(pfd, 1000)
	require.NoError(t, err)
	require.Equal(t, 1, n, "fd never became readable")
}

