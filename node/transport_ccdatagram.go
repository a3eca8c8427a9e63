// SPDX-License-Identifier: GPL-3.0-or-later

package node

import (
	"context"
	"time"

	"github.com/quic-go/quic-go"
)

// ccDatagramTransport implements Transport for
// ProtoCongestionControlledDatagram: a QUIC connection used only for its
// unreliable DATAGRAM frames (RFC 9221), giving congestion control without
// retransmission or ordering — the direct Go/QUIC analogue of the
// original's DCCP transport.
type ccDatagramTransport struct{}

// Protocol implements Transport
func (*ccDatagramTransport) Protocol() Protocol { return ProtoCongestionControlledDatagram }

// Dial implements Transport
func (*ccDatagramTransport) Dial(ctx context.Context, addr string) (c Conn, err error) {
	qc, err := quic.DialAddr(ctx, addr, clientTLSConfig(), &quic.Config{
		EnableDatagrams:      true,
		HandshakeIdleTimeout: quicDefaults.HandshakeIdleTimeout,
		MaxIdleTimeout:       quicDefaults.MaxIdleTimeout,
	})
	if err != nil {
		return
	}
	c = &ccDatagramConn{qc: qc}
	return
}

// Listen implements Transport
func (*ccDatagramTransport) Listen(addr string) (l Listener, err error) {
	tlsConf, err := generateSelfSignedTLSConfig()
	if err != nil {
		return
	}
	ql, err := quic.ListenAddr(addr, tlsConf, &quic.Config{
		EnableDatagrams:      true,
		HandshakeIdleTimeout: quicDefaults.HandshakeIdleTimeout,
		MaxIdleTimeout:       quicDefaults.MaxIdleTimeout,
	})
	if err != nil {
		return
	}
	l = &ccDatagramListener{ql}
	return
}

// ccDatagramListener implements Listener for QUIC-datagram-only
// connections.
type ccDatagramListener struct {
	l *quic.Listener
}

// Accept implements Listener
func (c *ccDatagramListener) Accept() (conn Conn, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	qc, err := c.l.Accept(ctx)
	if err != nil {
		err = ErrWouldBlock
		return
	}
	conn = &ccDatagramConn{qc: qc}
	return
}

func (c *ccDatagramListener) pollFD() int { return -1 }

// Close implements Listener
func (c *ccDatagramListener) Close() error {
	return c.l.Close()
}

// ccDatagramConn implements Conn for the cc-datagram transport: message
// oriented, no multi-stream, no partial-reliability knob (it's always
// unreliable). SupportsNotifications reports true, but Receive returns
// datagrams only and never sets RecvResult.Notification.
type ccDatagramConn struct {
	qc quic.Connection
}

// Protocol implements Conn
func (*ccDatagramConn) Protocol() Protocol { return ProtoCongestionControlledDatagram }

// IsStreamOriented implements Conn
func (*ccDatagramConn) IsStreamOriented() bool { return false }

// IsMessageOriented implements Conn
func (*ccDatagramConn) IsMessageOriented() bool { return true }

// SupportsMultiStream implements Conn
func (*ccDatagramConn) SupportsMultiStream() bool { return false }

// SupportsPartialReliability implements Conn
func (*ccDatagramConn) SupportsPartialReliability() bool { return false }

// SupportsNotifications implements Conn
func (*ccDatagramConn) SupportsNotifications() bool { return true }

// Send implements Conn
func (c *ccDatagramConn) Send(payload []byte, stream StreamID, ordered, reliable bool) (n int, err error) {
	if err = c.qc.SendDatagram(payload); err != nil {
		return
	}
	n = len(payload)
	return
}

// Receive implements Conn
func (c *ccDatagramConn) Receive(buf []byte) (r RecvResult, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	d, err := c.qc.ReceiveDatagram(ctx)
	if err != nil {
		err = ErrWouldBlock
		return
	}
	n := copy(buf, d)
	r = RecvResult{N: n, EndOfRecord: true}
	return
}

// SetNonblocking implements Conn
func (c *ccDatagramConn) SetNonblocking(nonblocking bool) error { return nil }

func (c *ccDatagramConn) pollFD() int { return -1 }

// Close implements Conn
func (c *ccDatagramConn) Close() error {
	return c.qc.CloseWithError(0, "done")
}
