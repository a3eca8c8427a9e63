// SPDX-License-Identifier: GPL-3.0-or-later

package node

import (
	"context"
	"errors"
	"net"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// streamTransport implements Transport for ProtoReliableStream, using TCP.
type streamTransport struct {
	// Sockopts are applied to every dialed or accepted connection, the
	// way heistp-antler/node/net.go's Sockopts.dialControl applies
	// generic socket options (CCA, ToS) via golang.org/x/sys/unix.
	Sockopts Sockopts
}

// Protocol implements Transport
func (*streamTransport) Protocol() Protocol { return ProtoReliableStream }

// Dial implements Transport
func (t *streamTransport) Dial(ctx context.Context, addr string) (c Conn, err error) {
	d := net.Dialer{Control: t.Sockopts.dialControl}
	var nc net.Conn
	if nc, err = d.DialContext(ctx, "tcp", addr); err != nil {
		return
	}
	c = &streamConn{conn: nc.(*net.TCPConn)}
	return
}

// Listen implements Transport
func (t *streamTransport) Listen(addr string) (l Listener, err error) {
	lc := net.ListenConfig{Control: t.Sockopts.dialControl}
	var nl net.Listener
	if nl, err = lc.Listen(context.Background(), "tcp", addr); err != nil {
		return
	}
	l = &streamListener{nl.(*net.TCPListener)}
	return
}

// streamListener implements Listener for TCP.
type streamListener struct {
	l *net.TCPListener
}

// Accept implements Listener
func (s *streamListener) Accept() (c Conn, err error) {
	var nc *net.TCPConn
	if nc, err = s.l.AcceptTCP(); err != nil {
		return
	}
	c = &streamConn{conn: nc}
	return
}

func (s *streamListener) pollFD() int {
	return fdOf(s.l)
}

// Close implements Listener
func (s *streamListener) Close() error {
	return s.l.Close()
}

// streamConn implements Conn for TCP, per spec.md's byte-oriented stream
// transport trait set.
type streamConn struct {
	conn *net.TCPConn
	fd   int
}

// Protocol implements Conn
func (*streamConn) Protocol() Protocol { return ProtoReliableStream }

// IsStreamOriented implements Conn
func (*streamConn) IsStreamOriented() bool { return true }

// IsMessageOriented implements Conn
func (*streamConn) IsMessageOriented() bool { return false }

// SupportsMultiStream implements Conn
func (*streamConn) SupportsMultiStream() bool { return false }

// SupportsPartialReliability implements Conn
func (*streamConn) SupportsPartialReliability() bool { return false }

// SupportsNotifications implements Conn
func (*streamConn) SupportsNotifications() bool { return false }

// Send implements Conn
//
// Saturated flows call Send after epoll reports the fd writable, but paced
// flows and the control channel call it without that check, so the send
// buffer may be full; an immediate deadline converts any such stall into
// ErrWouldBlock rather than a blocking call, preserving the
// non-blocking contract spec.md §5 requires.
func (s *streamConn) Send(payload []byte, stream StreamID, ordered, reliable bool) (n int, err error) {
	s.conn.SetWriteDeadline(immediateDeadline)
	n, err = s.conn.Write(payload)
	if err != nil {
		if isWouldBlock(err) {
			err = ErrWouldBlock
		}
	}
	return
}

// Receive implements Conn
func (s *streamConn) Receive(buf []byte) (r RecvResult, err error) {
	s.conn.SetReadDeadline(immediateDeadline)
	var n int
	n, err = s.conn.Read(buf)
	if err != nil {
		if isWouldBlock(err) {
			err = ErrWouldBlock
		}
		return
	}
	r = RecvResult{N: n, EndOfRecord: true}
	return
}

// SetNonblocking implements Conn
func (s *streamConn) SetNonblocking(nonblocking bool) (err error) {
	s.fd = fdOf(s.conn)
	return nil
}

func (s *streamConn) pollFD() int {
	if s.fd == 0 {
		s.fd = fdOf(s.conn)
	}
	return s.fd
}

// Close implements Conn
func (s *streamConn) Close() error {
	return s.conn.Close()
}

// Sockopt represents the information needed to set a socket option,
// adapted from heistp-antler/node/net.go.
type Sockopt struct {
	Type  string // "string", "int" or "byte"
	Level int
	Opt   int
	Name  string
	Value any
}

func (s Sockopt) set(fd int) (err error) {
	switch s.Type {
	case "string":
		err = unix.SetsockoptString(fd, s.Level, s.Opt, s.Value.(string))
	case "int":
		err = unix.SetsockoptInt(fd, s.Level, s.Opt, s.Value.(int))
	case "byte":
		err = unix.SetsockoptByte(fd, s.Level, s.Opt, byte(s.Value.(int)))
	}
	return
}

// Sockopts holds the socket options applied to stream and datagram
// connections, grounded on heistp-antler/node/net.go's Sockopts type.
type Sockopts struct {
	Sockopt []Sockopt
	DS      int    // ToS/Traffic Class byte
	CCA     string // TCP congestion control algorithm
}

func (s Sockopts) sockopt() (opt []Sockopt) {
	if s.CCA != "" {
		opt = append(opt, Sockopt{"string", unix.IPPROTO_TCP,
			unix.TCP_CONGESTION, "CCA", s.CCA})
	}
	if s.DS != 0 {
		opt = append(opt, Sockopt{"int", unix.IPPROTO_IP, unix.IP_TOS, "ToS", s.DS})
	}
	return append(opt, s.Sockopt...)
}

func (s Sockopts) dialControl(network, address string, c syscall.RawConn) (err error) {
	ctl := func(fd uintptr) {
		for _, o := range s.sockopt() {
			if e := o.set(int(fd)); e != nil && err == nil {
				err = e
			}
		}
	}
	if e := c.Control(ctl); e != nil && err == nil {
		err = e
	}
	return
}

// fdOf returns the raw file descriptor behind a *net.TCPConn, *net.UDPConn
// or *net.TCPListener, for registration with a pollSet. Unlike File(), which
// dups the descriptor, SyscallConn()+Control() hands back the live fd the
// runtime poller already owns: it isn't a dup, so it stays valid only as
// long as the underlying net.Conn/net.Listener itself stays open, and
// closing that connection invalidates this fd too rather than leaving a
// separate descriptor to clean up.
func fdOf(sc syscall.Conn) int {
	raw, err := sc.SyscallConn()
	if err != nil {
		return -1
	}
	var fd int
	raw.Control(func(f uintptr) {
		fd = int(f)
	})
	return fd
}

// immediateDeadline is used to turn a Read/Write that would otherwise block
// into an immediate, non-blocking attempt: since it's already in the past,
// the call returns instantly with either the available data/space or a
// timeout error, which isWouldBlock maps to ErrWouldBlock.
var immediateDeadline = time.Unix(1, 0)

func isWouldBlock(err error) bool {
	if err == syscall.EAGAIN || err == syscall.EWOULDBLOCK {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}
