// SPDX-License-Identifier: GPL-3.0-or-later

package node

import (
	"encoding/binary"
	"net"
	"testing"
)

// fakeConn is a minimal Conn stub whose Receive plays back a fixed queue of
// byte chunks, one per call, so the reader's partial-read accumulation can
// be exercised deterministically.
type fakeConn struct {
	proto                         Protocol
	messageOriented, multiStream  bool
	chunks                        [][]byte
	idx                           int
	source                        net.Addr
	notif                         bool
	endOfRecord                   bool
	stream                        StreamID
}

func (c *fakeConn) Protocol() Protocol               { return c.proto }
func (c *fakeConn) IsStreamOriented() bool            { return !c.messageOriented && !c.multiStream }
func (c *fakeConn) IsMessageOriented() bool           { return c.messageOriented }
func (c *fakeConn) SupportsMultiStream() bool         { return c.multiStream }
func (c *fakeConn) SupportsPartialReliability() bool  { return c.multiStream }
func (c *fakeConn) SupportsNotifications() bool       { return c.multiStream }
func (c *fakeConn) SetNonblocking(bool) error         { return nil }
func (c *fakeConn) pollFD() int                       { return -1 }
func (c *fakeConn) Close() error                      { return nil }

func (c *fakeConn) Send(payload []byte, stream StreamID, ordered, reliable bool) (int, error) {
	return len(payload), nil
}

func (c *fakeConn) Receive(buf []byte) (RecvResult, error) {
	if c.idx >= len(c.chunks) {
		return RecvResult{}, ErrWouldBlock
	}
	chunk := c.chunks[c.idx]
	c.idx++
	n := copy(buf, chunk)
	return RecvResult{
		N: n, Source: c.source, Stream: c.stream,
		EndOfRecord: c.endOfRecord, Notification: c.notif,
	}, nil
}

func frame(typ uint8, payload []byte) []byte {
	buf := make([]byte, headerSize+len(payload))
	buf[0] = typ
	buf[1] = 0
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(buf)))
	copy(buf[headerSize:], payload)
	return buf
}

func TestReaderByteOrientedAcrossPartialReads(t *testing.T) {
	full := frame(7, []byte("hello world"))
	c := &fakeConn{chunks: [][]byte{full[0:2], full[2:4], full[4:]}}
	r := newReader(c, 1024)

	for i := 0; i < 2; i++ {
		_, code := r.read()
		if code != ReadPartial {
			t.Fatalf("read %d: got code %v, want ReadPartial", i, code)
		}
	}
	m, code := r.read()
	if code != ReadComplete {
		t.Fatalf("got code %v, want ReadComplete", code)
	}
	if m.Type != 7 || string(m.Payload) != "hello world" {
		t.Fatalf("got message %+v", m)
	}
	if m.Reads != 3 {
		t.Fatalf("got Reads=%d, want 3", m.Reads)
	}

	// reader must reset cleanly for the next message
	full2 := frame(8, []byte("x"))
	c.chunks = append(c.chunks, full2[:headerSize], full2[headerSize:])
	if _, code := r.read(); code != ReadPartial {
		t.Fatalf("second message header: got code %v, want ReadPartial", code)
	}
	m2, code := r.read()
	if code != ReadComplete || m2.Type != 8 || string(m2.Payload) != "x" || m2.Reads != 2 {
		t.Fatalf("second message: code=%v m=%+v", code, m2)
	}
}

func TestReaderByteOrientedBadLength(t *testing.T) {
	buf := make([]byte, headerSize)
	binary.BigEndian.PutUint16(buf[2:4], 1) // length < headerSize
	c := &fakeConn{chunks: [][]byte{buf}}
	r := newReader(c, 1024)
	_, code := r.read()
	if code != ReadStreamError {
		t.Fatalf("got code %v, want ReadStreamError", code)
	}
	// the reader must stay in the error state until the handle is closed
	_, code = r.read()
	if code != ReadStreamError {
		t.Fatalf("second read: got code %v, want ReadStreamError", code)
	}
}

func TestReaderByteOrientedOversizeLength(t *testing.T) {
	buf := make([]byte, headerSize)
	binary.BigEndian.PutUint16(buf[2:4], 9999)
	c := &fakeConn{chunks: [][]byte{buf}}
	r := newReader(c, 128)
	_, code := r.read()
	if code != ReadStreamError {
		t.Fatalf("got code %v, want ReadStreamError", code)
	}
}

func TestReaderMessageOriented(t *testing.T) {
	full := frame(3, []byte("payload"))
	addr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9000}
	c := &fakeConn{messageOriented: true, chunks: [][]byte{full}, source: addr}
	r := newReader(c, 1024)
	m, code := r.read()
	if code != ReadComplete {
		t.Fatalf("got code %v, want ReadComplete", code)
	}
	if m.Type != 3 || string(m.Payload) != "payload" || m.Reads != 1 {
		t.Fatalf("got message %+v", m)
	}
	if m.Source != addr {
		t.Fatalf("got Source %v, want %v", m.Source, addr)
	}
}

func TestReaderMultiStreamDataAndNotification(t *testing.T) {
	full := frame(1, []byte("sibling"))
	c := &fakeConn{multiStream: true, chunks: [][]byte{full}, endOfRecord: true, stream: 2}
	r := newReader(c, 1024)
	m, code := r.read()
	if code != ReadComplete || m.Stream != 2 || string(m.Payload) != "sibling" {
		t.Fatalf("data: code=%v m=%+v", code, m)
	}

	c2 := &fakeConn{multiStream: true, chunks: [][]byte{[]byte("event")}, notif: true, stream: 2}
	r2 := newReader(c2, 1024)
	m2, code2 := r2.read()
	if code2 != ReadComplete || !m2.Notification || string(m2.Payload) != "event" {
		t.Fatalf("notification: code=%v m=%+v", code2, m2)
	}
}

func TestReaderMultiStreamRecordBoundaryMismatch(t *testing.T) {
	full := frame(1, []byte("sibling"))
	// EndOfRecord false: the TLV completed but the record didn't end there
	c := &fakeConn{multiStream: true, chunks: [][]byte{full}, endOfRecord: false, stream: 0}
	r := newReader(c, 1024)
	_, code := r.read()
	if code != ReadStreamError {
		t.Fatalf("got code %v, want ReadStreamError", code)
	}
}
