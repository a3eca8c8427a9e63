// SPDX-License-Identifier: GPL-3.0-or-later

package node

import (
	"encoding/binary"
	"net"
)

// headerSize is the size in bytes of a TLV header: Type(1) + Flags(1) +
// Length(2), big-endian, per spec.md §3.3.
const headerSize = 4

// ReadCode is the result of one reader.read call, per spec.md §4.C.4.
type ReadCode uint8

const (
	// ReadPartial means more bytes are needed; not an error, the caller
	// re-polls.
	ReadPartial ReadCode = iota
	// ReadComplete means a full TLV (or notification) was delivered.
	ReadComplete
	// ReadSocketError means the underlying Receive failed.
	ReadSocketError
	// ReadStreamError means the TLV or record framing was invalid; the
	// handle must be closed and its flow torn down.
	ReadStreamError
	// ReadBadSocket means the handle was never registered.
	ReadBadSocket
)

// readerState is the per-handle state machine named in spec.md §4.C.
type readerState uint8

const (
	stateWaitingForHeader readerState = iota
	statePartialRead
	stateStreamError
)

// Message is a fully reassembled unit delivered by reader.read: either a
// complete TLV (Type/Flags valid, Payload set) or an opaque notification
// (Notification true, Payload holds whatever bytes the transport record
// contained).
type Message struct {
	Type         uint8
	Flags        uint8
	Payload      []byte
	Stream       StreamID
	Source       net.Addr
	Notification bool
	// Reads is the number of underlying transport read events that
	// contributed to this delivery, surfaced so the receiver (component G)
	// can count "packets" as one per transport-layer read, per spec.md
	// §4.G.2, even though the framed reader may have assembled one
	// message from several partial reads on a stream transport.
	Reads int
}

// reader reassembles inbound bytes from one Conn into complete TLV
// messages, implementing the state machine of spec.md §4.C (and, in turn,
// of original_source/src/messagereader.cc's MessageReader::receiveMessage).
type reader struct {
	conn   Conn
	bufCap int

	state   readerState
	buf     []byte
	bytes   int
	msgSize int
	reads   int
}

// newReader returns a reader for conn, whose message buffer is capped at
// maxMessageSize (spec.md's "max_msg_size", clamped to [128, 65536] by
// Engine.Run per spec.md §4.F.4).
func newReader(conn Conn, maxMessageSize int) *reader {
	return &reader{conn: conn, bufCap: maxMessageSize, buf: make([]byte, maxMessageSize)}
}

// read performs one non-blocking read attempt and advances the state
// machine, per spec.md §4.C.1-4.
func (r *reader) read() (m Message, code ReadCode) {
	if r.state == stateStreamError {
		code = ReadStreamError
		return
	}
	switch {
	case r.conn.IsMessageOriented():
		return r.readMessageOriented()
	case r.conn.SupportsMultiStream():
		return r.readMultiStream()
	default:
		return r.readByteOriented()
	}
}

// readByteOriented implements spec.md §4.C.1 for stream transports: bytes
// accumulate into a per-handle buffer; once the 4-byte header is in, the
// Length field is parsed and validated, and the reader keeps reading until
// the full message arrives.
func (r *reader) readByteOriented() (m Message, code ReadCode) {
	var toRead int
	switch r.state {
	case stateWaitingForHeader:
		toRead = headerSize - r.bytes
	case statePartialRead:
		toRead = r.msgSize - r.bytes
	}
	res, err := r.conn.Receive(r.buf[r.bytes : r.bytes+toRead])
	if err != nil {
		if err == ErrWouldBlock {
			code = ReadPartial
			return
		}
		code = ReadSocketError
		return
	}
	r.bytes += res.N
	r.reads++
	if r.state == stateWaitingForHeader {
		if r.bytes < headerSize {
			code = ReadPartial
			return
		}
		length := int(binary.BigEndian.Uint16(r.buf[2:4]))
		if length < headerSize {
			r.state = stateStreamError
			code = ReadStreamError
			return
		}
		if length > r.bufCap {
			// resource exhaustion (buffer too small): spec.md §7 treats
			// this the same as a framing error at the reader level.
			r.state = stateStreamError
			code = ReadStreamError
			return
		}
		r.msgSize = length
		r.state = statePartialRead
		if r.bytes < r.msgSize {
			code = ReadPartial
			return
		}
	}
	if r.bytes < r.msgSize {
		code = ReadPartial
		return
	}
	m = Message{
		Type:    r.buf[0],
		Flags:   r.buf[1],
		Payload: append([]byte(nil), r.buf[headerSize:r.msgSize]...),
		Reads:   r.reads,
	}
	r.reset()
	code = ReadComplete
	return
}

// readMessageOriented implements spec.md §4.C.2 for message-oriented
// datagram transports: one Receive call returns one full message, no state
// needed.
func (r *reader) readMessageOriented() (m Message, code ReadCode) {
	res, err := r.conn.Receive(r.buf)
	if err != nil {
		if err == ErrWouldBlock {
			code = ReadPartial
			return
		}
		code = ReadSocketError
		return
	}
	if res.N < headerSize {
		code = ReadStreamError
		return
	}
	length := int(binary.BigEndian.Uint16(r.buf[2:4]))
	if length < headerSize || length > res.N {
		code = ReadStreamError
		return
	}
	m = Message{
		Type:    r.buf[0],
		Flags:   r.buf[1],
		Payload: append([]byte(nil), r.buf[headerSize:length]...),
		Source:  res.Source,
		Reads:   1,
	}
	code = ReadComplete
	return
}

// readMultiStream implements spec.md §4.C.3: each datagram carries an
// end-of-record flag and may be a notification. Data frames must have their
// TLV end coincide exactly with the record boundary; notifications are
// surfaced opaquely with no TLV expected.
func (r *reader) readMultiStream() (m Message, code ReadCode) {
	res, err := r.conn.Receive(r.buf)
	if err != nil {
		if err == ErrWouldBlock {
			code = ReadPartial
			return
		}
		code = ReadSocketError
		return
	}
	if res.Notification {
		m = Message{Payload: append([]byte(nil), r.buf[:res.N]...),
			Stream: res.Stream, Notification: true, Reads: 1}
		code = ReadComplete
		return
	}
	if res.N < headerSize {
		code = ReadStreamError
		return
	}
	length := int(binary.BigEndian.Uint16(r.buf[2:4]))
	if length < headerSize {
		code = ReadStreamError
		return
	}
	if !res.EndOfRecord || length != res.N {
		// the TLV must exactly match the transport record boundary
		code = ReadStreamError
		return
	}
	m = Message{
		Type:    r.buf[0],
		Flags:   r.buf[1],
		Payload: append([]byte(nil), r.buf[headerSize:length]...),
		Stream:  res.Stream,
		Reads:   1,
	}
	code = ReadComplete
	return
}

// reset returns the reader to stateWaitingForHeader, ready for the next
// message.
func (r *reader) reset() {
	r.state = stateWaitingForHeader
	r.bytes = 0
	r.msgSize = 0
	r.reads = 0
}
