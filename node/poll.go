// SPDX-License-Identifier: GPL-3.0-or-later

package node

import (
	"time"

	"golang.org/x/sys/unix"
)

// polled is implemented by anything that can be registered with a pollSet:
// a raw, pollable file descriptor. TCP and UDP Conns and Listeners return
// their socket's fd; the QUIC-backed ones (multi-stream, cc-datagram)
// return -1 and are polled directly by the scheduler instead.
type polled interface {
	pollFD() int
}

// readyFlags describes which interests fired for a polled fd.
type readyFlags struct {
	Readable bool
	Writable bool
}

// pollSet is the poll primitive named throughout spec.md's scheduler design
// (§4.E): a level-triggered, edge-agnostic multiplexer over the control
// handle, the data listeners, and every accepted/owner connection. It's a
// thin Go wrapper around golang.org/x/sys/unix's epoll(7) bindings, used the
// way heistp-antler/node/net.go reaches for golang.org/x/sys/unix directly
// for socket-level work the standard net package doesn't expose — here,
// batched readiness across many fds with a single timed wait, which net
// simply has no equivalent for.
type pollSet struct {
	epfd int
	// interest tracks the last-registered event mask per fd, so Wait can
	// toggle writable interest without a redundant EPOLL_CTL_ADD.
	interest map[int]uint32
}

// newPollSet creates a new, empty pollSet.
func newPollSet() (p *pollSet, err error) {
	var fd int
	if fd, err = unix.EpollCreate1(unix.EPOLL_CLOEXEC); err != nil {
		return
	}
	p = &pollSet{fd, make(map[int]uint32)}
	return
}

// Add registers fd for readability, and for writability iff writable is
// true.
func (p *pollSet) Add(fd int, writable bool) error {
	ev := eventMask(writable)
	p.interest[fd] = ev
	e := unix.EpollEvent{Events: ev, Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &e)
}

// SetWritable updates the writable interest for a registered fd.
func (p *pollSet) SetWritable(fd int, writable bool) error {
	ev := eventMask(writable)
	if p.interest[fd] == ev {
		return nil
	}
	p.interest[fd] = ev
	e := unix.EpollEvent{Events: ev, Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &e)
}

// Remove deregisters fd.
func (p *pollSet) Remove(fd int) error {
	delete(p.interest, fd)
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// Wait blocks for up to timeout (floored at zero) for any registered fd to
// become ready, and returns the readiness per fd that fired.
func (p *pollSet) Wait(timeout time.Duration) (ready map[int]readyFlags, err error) {
	if timeout < 0 {
		timeout = 0
	}
	msec := int(timeout / time.Millisecond)
	ev := make([]unix.EpollEvent, len(p.interest)+4)
	var n int
	for {
		n, err = unix.EpollWait(p.epfd, ev, msec)
		if err == unix.EINTR {
			continue
		}
		break
	}
	if err != nil {
		return
	}
	ready = make(map[int]readyFlags, n)
	for i := 0; i < n; i++ {
		fd := int(ev[i].Fd)
		ready[fd] = readyFlags{
			Readable: ev[i].Events&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLERR) != 0,
			Writable: ev[i].Events&unix.EPOLLOUT != 0,
		}
	}
	return
}

// Close releases the underlying epoll fd.
func (p *pollSet) Close() error {
	return unix.Close(p.epfd)
}

func eventMask(writable bool) uint32 {
	m := uint32(unix.EPOLLIN)
	if writable {
		m |= unix.EPOLLOUT
	}
	return m
}
