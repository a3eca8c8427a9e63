// SPDX-License-Identifier: GPL-3.0-or-later

package node

import (
	"context"
	"net"
)

// datagramTransport implements Transport for ProtoDatagram, using UDP.
type datagramTransport struct {
	Sockopts Sockopts
}

// Protocol implements Transport
func (*datagramTransport) Protocol() Protocol { return ProtoDatagram }

// Dial implements Transport
func (t *datagramTransport) Dial(ctx context.Context, addr string) (c Conn, err error) {
	d := net.Dialer{Control: t.Sockopts.dialControl}
	var nc net.Conn
	if nc, err = d.DialContext(ctx, "udp", addr); err != nil {
		return
	}
	c = &datagramConn{conn: nc.(*net.UDPConn), connected: true}
	return
}

// Listen implements Transport
//
// A single bound UDP socket receives from, and is shared among, all
// passive-side flows of this protocol: individual remote peers are
// distinguished by source address (spec.md §4.G.1), so Listen returns a
// Listener whose one Accept call hands back the shared socket wrapped as a
// Conn the first time it's called, and blocks (via ErrWouldBlock) after
// that — matching "four listening data handles" in spec.md §4.E.1, where
// the datagram listener contributes exactly one handle, not one per peer.
func (t *datagramTransport) Listen(addr string) (l Listener, err error) {
	var pc net.PacketConn
	lc := net.ListenConfig{Control: t.Sockopts.dialControl}
	if pc, err = lc.ListenPacket(context.Background(), "udp", addr); err != nil {
		return
	}
	l = &datagramListener{conn: pc.(*net.UDPConn)}
	return
}

// datagramListener hands out the single shared UDP socket exactly once.
type datagramListener struct {
	conn   *net.UDPConn
	handed bool
}

// Accept implements Listener
func (d *datagramListener) Accept() (c Conn, err error) {
	if d.handed {
		err = ErrWouldBlock
		return
	}
	d.handed = true
	c = &datagramConn{conn: d.conn}
	return
}

func (d *datagramListener) pollFD() int {
	return fdOf(d.conn)
}

// Close implements Listener
func (d *datagramListener) Close() error {
	return d.conn.Close()
}

// datagramConn implements Conn for UDP, per spec.md's message-oriented
// datagram transport trait set: one read returns exactly one message, with
// no framed-reader state required (spec.md §4.C.2).
type datagramConn struct {
	conn      *net.UDPConn
	connected bool
	fd        int
}

// Protocol implements Conn
func (*datagramConn) Protocol() Protocol { return ProtoDatagram }

// IsStreamOriented implements Conn
func (*datagramConn) IsStreamOriented() bool { return false }

// IsMessageOriented implements Conn
func (*datagramConn) IsMessageOriented() bool { return true }

// SupportsMultiStream implements Conn
func (*datagramConn) SupportsMultiStream() bool { return false }

// SupportsPartialReliability implements Conn
func (*datagramConn) SupportsPartialReliability() bool { return false }

// SupportsNotifications implements Conn
func (*datagramConn) SupportsNotifications() bool { return false }

// Send implements Conn
func (d *datagramConn) Send(payload []byte, stream StreamID, ordered, reliable bool) (n int, err error) {
	d.conn.SetWriteDeadline(immediateDeadline)
	n, err = d.conn.Write(payload)
	if err != nil && isWouldBlock(err) {
		err = ErrWouldBlock
	}
	return
}

// SendTo writes payload to a specific remote address, used by the passive
// side on its shared, unconnected socket once a flow's remote source
// address has been bound.
func (d *datagramConn) SendTo(payload []byte, addr *net.UDPAddr) (n int, err error) {
	d.conn.SetWriteDeadline(immediateDeadline)
	n, err = d.conn.WriteToUDP(payload, addr)
	if err != nil && isWouldBlock(err) {
		err = ErrWouldBlock
	}
	return
}

// Receive implements Conn
func (d *datagramConn) Receive(buf []byte) (r RecvResult, err error) {
	d.conn.SetReadDeadline(immediateDeadline)
	var n int
	var src *net.UDPAddr
	n, src, err = d.conn.ReadFromUDP(buf)
	if err != nil {
		if isWouldBlock(err) {
			err = ErrWouldBlock
		}
		return
	}
	r = RecvResult{N: n, Source: src, EndOfRecord: true}
	return
}

// SetNonblocking implements Conn
func (d *datagramConn) SetNonblocking(nonblocking bool) error {
	d.fd = fdOf(d.conn)
	return nil
}

func (d *datagramConn) pollFD() int {
	if d.fd == 0 {
		d.fd = fdOf(d.conn)
	}
	return d.fd
}

// Close implements Conn
func (d *datagramConn) Close() error {
	if !d.connected {
		// shared listening socket; owned by the Listener
		return nil
	}
	return d.conn.Close()
}
