//go:build linux

package modbus

import (
	"encoding/binary"

	"golang.org/x/sys/unix"
)

// wakeupHandle is the counter-based event object signalled by
// Shutdown/CloseClientConnection to interrupt a blocked poll() call.
// Built on eventfd(2) in semaphore mode, matching the original
// library's use of EFD_SEMAPHORE.
type wakeupHandle struct {
	fd int
}

func newWakeupHandle() (*wakeupHandle, error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_SEMAPHORE|unix.EFD_NONBLOCK)
	if err != nil {
		return nil, wrapSystemError("eventfd", err)
	}
	return &wakeupHandle{fd: fd}, nil
}

func (w *wakeupHandle) Fd() int {
	return w.fd
}

// Signal increments the eventfd counter by one, waking a blocked poll.
func (w *wakeupHandle) Signal() error {
	buf := make([]byte, 8)
	binary.NativeEndian.PutUint64(buf, 1)
	for {
		_, err := unix.Write(w.fd, buf)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return wrapSystemError("eventfd write", err)
		}
		return nil
	}
}

// Drain consumes one pending signal (EFD_SEMAPHORE mode decrements the
// counter by one per read, or blocks/EAGAIN's if zero).
func (w *wakeupHandle) Drain() error {
	buf := make([]byte, 8)
	for {
		_, err := unix.Read(w.fd, buf)
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			return nil
		}
		if err != nil {
			return wrapSystemError("eventfd read", err)
		}
		return nil
	}
}

func (w *wakeupHandle) Close() error {
	return unix.Close(w.fd)
}
