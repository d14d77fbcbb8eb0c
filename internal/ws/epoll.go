//go:build linux

package ws

import (
	"net"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

const (
	// waitTimeoutMs bounds one epoll_wait so the event loop notices
	// shutdown without a wakeup fd.
	waitTimeoutMs = 250
	// maxEvents is the size of the reusable event buffer.
	maxEvents = 128
	// readEvents is level-triggered. RDHUP and HUP wake the loop when the
	// peer goes away so the read path can clean up.
	readEvents = unix.EPOLLIN | unix.EPOLLRDHUP | unix.EPOLLHUP
)

// Epoll reports which registered sockets are readable.
type Epoll struct {
	fd     int
	mu     sync.RWMutex
	byFD   map[int32]net.Conn
	events []unix.EpollEvent
}

// NewEpoll creates an epoll instance.
func NewEpoll() (*Epoll, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &Epoll{
		fd:     fd,
		byFD:   make(map[int32]net.Conn),
		events: make([]unix.EpollEvent, maxEvents),
	}, nil
}

// Add starts watching conn.
func (e *Epoll) Add(conn net.Conn) error {
	fd := socketFD(conn)
	if fd < 0 {
		return syscall.EINVAL
	}
	ev := unix.EpollEvent{Events: readEvents, Fd: int32(fd)}
	if err := unix.EpollCtl(e.fd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return err
	}

	e.mu.Lock()
	e.byFD[int32(fd)] = conn
	e.mu.Unlock()
	return nil
}

// Remove stops watching conn.
func (e *Epoll) Remove(conn net.Conn) error {
	fd := socketFD(conn)
	if fd < 0 {
		return syscall.EINVAL
	}
	e.mu.Lock()
	delete(e.byFD, int32(fd))
	e.mu.Unlock()
	return unix.EpollCtl(e.fd, unix.EPOLL_CTL_DEL, fd, nil)
}

// Len returns the number of watched sockets.
func (e *Epoll) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.byFD)
}

// Wait returns the readable connections, or none when the wait times out.
// A socket removed while the kernel was reporting it is skipped.
func (e *Epoll) Wait() ([]net.Conn, error) {
	n, err := unix.EpollWait(e.fd, e.events, waitTimeoutMs)
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.byFD == nil {
		return nil, net.ErrClosed
	}
	ready := make([]net.Conn, 0, n)
	for _, ev := range e.events[:n] {
		if conn, ok := e.byFD[ev.Fd]; ok {
			ready = append(ready, conn)
		}
	}
	return ready, nil
}

// Close releases the epoll descriptor.
func (e *Epoll) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.byFD = nil
	return unix.Close(e.fd)
}

// socketFD returns the descriptor behind conn without dup'ing it, or -1
// when conn is not a socket.
func socketFD(conn net.Conn) int {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return -1
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return -1
	}
	fd := -1
	if err := raw.Control(func(s uintptr) { fd = int(s) }); err != nil {
		return -1
	}
	return fd
}
