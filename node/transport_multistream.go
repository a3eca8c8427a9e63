// SPDX-License-Identifier: GPL-3.0-or-later

package node

import (
	"context"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
)

// multiStreamTransport implements Transport for ProtoMultiStreamMessage.
//
// One multiStreamConn wraps a single quic.Connection and is shared by every
// sibling flow in a stream group, exactly as spec.md §3.2 describes for the
// "original" (owner) flow of a multi-stream session: StreamIDs start at 0
// for the first stream and increase contiguously in creation order
// (spec.md §3.4).
type multiStreamTransport struct {
	tr *quic.Transport
}

// Protocol implements Transport
func (*multiStreamTransport) Protocol() Protocol { return ProtoMultiStreamMessage }

// Dial implements Transport
func (t *multiStreamTransport) Dial(ctx context.Context, addr string) (c Conn, err error) {
	qc, err := quic.DialAddr(ctx, addr, clientTLSConfig(), &quic.Config{
		EnableDatagrams:      true,
		HandshakeIdleTimeout: quicDefaults.HandshakeIdleTimeout,
		MaxIdleTimeout:       quicDefaults.MaxIdleTimeout,
	})
	if err != nil {
		return
	}
	c = newMultiStreamConn(qc, true)
	return
}

// Listen implements Transport
func (t *multiStreamTransport) Listen(addr string) (l Listener, err error) {
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
	l = &multiStreamListener{ql}
	return
}

// multiStreamListener implements Listener for QUIC.
type multiStreamListener struct {
	l *quic.Listener
}

// Accept implements Listener
func (m *multiStreamListener) Accept() (c Conn, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	qc, err := m.l.Accept(ctx)
	if err != nil {
		err = ErrWouldBlock
		return
	}
	c = newMultiStreamConn(qc, false)
	return
}

func (m *multiStreamListener) pollFD() int {
	return -1 // QUIC listeners are polled by timeout-based Accept, not epoll
}

// Close implements Listener
func (m *multiStreamListener) Close() error {
	return m.l.Close()
}

// multiStreamConn implements Conn for the multi-stream message transport.
// Streams are opened lazily per StreamID on the active side, and accepted
// in order on the passive side (assigning IDs 0, 1, 2, ... as they arrive,
// per spec.md §3.4's contiguous sibling-stream invariant).
type multiStreamConn struct {
	qc       quic.Connection
	active   bool
	mu       sync.Mutex
	byID     map[StreamID]quic.Stream
	nextAcpt StreamID
	pending  []quic.Stream // accepted but not yet associated with a StreamID read
}

func newMultiStreamConn(qc quic.Connection, active bool) *multiStreamConn {
	return &multiStreamConn{qc: qc, active: active, byID: make(map[StreamID]quic.Stream)}
}

// Protocol implements Conn
func (*multiStreamConn) Protocol() Protocol { return ProtoMultiStreamMessage }

// IsStreamOriented implements Conn
func (*multiStreamConn) IsStreamOriented() bool { return true }

// IsMessageOriented implements Conn
func (*multiStreamConn) IsMessageOriented() bool { return false }

// SupportsMultiStream implements Conn
func (*multiStreamConn) SupportsMultiStream() bool { return true }

// SupportsPartialReliability implements Conn
func (*multiStreamConn) SupportsPartialReliability() bool { return true }

// SupportsNotifications implements Conn
func (*multiStreamConn) SupportsNotifications() bool { return true }

// streamFor returns (opening if needed) the quic.Stream for id, on the
// active side. The passive side instead discovers streams via AcceptStream
// as data arrives; see Receive.
func (m *multiStreamConn) streamFor(id StreamID) (s quic.Stream, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.byID[id]; ok {
		return s, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s, err = m.qc.OpenStreamSync(ctx)
	if err != nil {
		return
	}
	m.byID[id] = s
	return
}

// Send implements Conn
//
// Per spec.md §4.F.3, ordered and reliable are per-message Bernoulli draws
// made by the caller (the sender, component F); this method only needs to
// honor them. A message that's both ordered and reliable goes out on its
// assigned QUIC stream (reliable, ordered by construction). Anything less
// than fully ordered+reliable goes out as a QUIC DATAGRAM frame instead,
// which is unordered and unreliable — QUIC has no half-way point, so the
// transport rounds down to the nearest trait it actually has.
func (m *multiStreamConn) Send(payload []byte, stream StreamID, ordered, reliable bool) (n int, err error) {
	if ordered && reliable {
		var s quic.Stream
		if s, err = m.streamFor(stream); err != nil {
			return
		}
		s.SetWriteDeadline(immediateDeadline)
		n, err = s.Write(payload)
		if err != nil && isWouldBlock(err) {
			err = ErrWouldBlock
		}
		return
	}
	if err = m.qc.SendDatagram(payload); err != nil {
		return
	}
	n = len(payload)
	return
}

// Receive implements Conn
//
// Receive first reads from the first stream with data in map iteration
// order (which is unspecified, not by StreamID), then falls back to an
// unreliable datagram.
// EndOfRecord mirrors spec.md §4.C.3: stream reads return a full
// application message's worth of bytes in a single Read when the sender
// wrote it in one Write (true for our own sender), and datagrams are
// always complete records.
func (m *multiStreamConn) Receive(buf []byte) (r RecvResult, err error) {
	if r, err = m.receiveFromStreams(buf); err == nil {
		return
	}
	if err != ErrWouldBlock {
		return
	}
	return m.receiveDatagram(buf)
}

func (m *multiStreamConn) receiveFromStreams(buf []byte) (r RecvResult, err error) {
	if e := m.acceptPendingStreams(); e != nil && e != ErrWouldBlock {
		err = e
		return
	}
	m.mu.Lock()
	ids := make([]StreamID, 0, len(m.byID))
	for id := range m.byID {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.mu.Lock()
		s := m.byID[id]
		m.mu.Unlock()
		s.SetReadDeadline(immediateDeadline)
		var n int
		n, err = s.Read(buf)
		if err != nil {
			if isWouldBlock(err) {
				continue
			}
			return
		}
		r = RecvResult{N: n, Stream: id, EndOfRecord: true}
		return
	}
	err = ErrWouldBlock
	return
}

// acceptPendingStreams accepts any newly opened streams from the peer on
// the passive side, assigning them StreamIDs 0, 1, 2, ... in arrival order.
func (m *multiStreamConn) acceptPendingStreams() error {
	for {
		ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
		s, err := m.qc.AcceptStream(ctx)
		cancel()
		if err != nil {
			return ErrWouldBlock
		}
		m.mu.Lock()
		m.byID[m.nextAcpt] = s
		m.nextAcpt++
		m.mu.Unlock()
	}
}

func (m *multiStreamConn) receiveDatagram(buf []byte) (r RecvResult, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	d, err := m.qc.ReceiveDatagram(ctx)
	if err != nil {
		err = ErrWouldBlock
		return
	}
	n := copy(buf, d)
	r = RecvResult{N: n, EndOfRecord: true}
	return
}

// SetNonblocking implements Conn
func (m *multiStreamConn) SetNonblocking(nonblocking bool) error { return nil }

func (m *multiStreamConn) pollFD() int { return -1 }

// Close implements Conn
func (m *multiStreamConn) Close() error {
	return m.qc.CloseWithError(0, "done")
}
