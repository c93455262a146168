//go:build linux

package modbus

import (
	"golang.org/x/sys/unix"
)

const listenBacklog = 5

// passiveOpen creates, binds and listens on a nonblocking,
// close-on-exec socket for ep. The caller owns the returned fd.
func passiveOpen(ep endpoint) (int, error) {
	fd, err := unix.Socket(ep.family, ep.sockType|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, ep.protocol)
	if err != nil {
		return -1, wrapSystemError("socket", err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, wrapSystemError("setsockopt SO_REUSEADDR", err)
	}

	if err := unix.Bind(fd, ep.sockAddr); err != nil {
		unix.Close(fd)
		return -1, wrapSystemError("bind", err)
	}

	if err := unix.Listen(fd, listenBacklog); err != nil {
		unix.Close(fd)
		return -1, wrapSystemError("listen", err)
	}

	return fd, nil
}

// acceptConn accepts a single pending connection on the nonblocking
// listening socket fd. ok is false (with err nil) on a transient
// would-block/aborted/timed-out condition, in which case the caller
// should simply return to the poll loop.
func acceptConn(fd int) (connFD int, sa unix.Sockaddr, ok bool, err error) {
	connFD, sa, err = unix.Accept4(fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		switch err {
		case unix.EAGAIN:
			return -1, nil, false, nil
		case unix.ECONNABORTED, unix.ETIMEDOUT:
			return -1, nil, false, nil
		default:
			return -1, nil, false, wrapSystemError("accept4", err)
		}
	}
	return connFD, sa, true, nil
}

func setTCPNoDelay(fd int) error {
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
		return wrapSystemError("setsockopt TCP_NODELAY", err)
	}
	return nil
}

// sockaddrBytes extracts the raw address bytes (IP only, no port) from
// a resolved unix.Sockaddr, used for the deterministic client id hash.
func sockaddrBytes(sa unix.Sockaddr) []byte {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return append([]byte(nil), a.Addr[:]...)
	case *unix.SockaddrInet6:
		return append([]byte(nil), a.Addr[:]...)
	default:
		return nil
	}
}

// sockaddrString renders sa as a textual host:port peer address.
func sockaddrString(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return formatHostPort(ipString(a.Addr[:]), a.Port)
	case *unix.SockaddrInet6:
		return formatHostPort(ipString(a.Addr[:]), a.Port)
	default:
		return ""
	}
}
