// SPDX-License-Identifier: GPL-3.0-or-later

package node

import (
	"context"
	"errors"
	"net"
)

// ErrWouldBlock is returned by Conn.Send and Conn.Receive when the
// operation could not complete without blocking. It is not an error
// condition: the scheduler (component E) simply retries on the next poll
// iteration.
var ErrWouldBlock = errors.New("would block")

// RecvResult carries everything a Conn.Receive call can report about one
// inbound unit, per spec.md §4.B.
type RecvResult struct {
	// N is the number of bytes placed into the caller's buffer.
	N int
	// Source is the originating address, set for connectionless transports.
	Source net.Addr
	// Stream identifies the stream the data arrived on, for transports
	// that support multi-stream (else always 0).
	Stream StreamID
	// EndOfRecord is true when N bytes complete one transport-level record
	// (meaningful for the multi-stream transport; always true otherwise).
	EndOfRecord bool
	// Notification is true when the received unit is a transport-level
	// notification rather than application data. None of this package's
	// transports sets it; their Receive methods return data only.
	Notification bool
}

// Conn is a single established connection or association over one of the
// four supported protocols. It exposes the traits spec.md §4.B requires so
// the framed reader (component C) and scheduler (component E) can treat all
// four transports uniformly.
type Conn interface {
	// Protocol identifies which of the four transports this Conn uses.
	Protocol() Protocol

	// IsStreamOriented is true when reads may return partial or coalesced
	// messages (reliable stream transport).
	IsStreamOriented() bool
	// IsMessageOriented is true when one Receive call returns exactly one
	// application message (datagram and cc-datagram transports).
	IsMessageOriented() bool
	// SupportsMultiStream is true when the transport can multiplex
	// independent StreamIDs over one Conn (multi-stream message transport).
	SupportsMultiStream() bool
	// SupportsPartialReliability is true when Send's ordered/reliable
	// flags have an effect (multi-stream message transport).
	SupportsPartialReliability() bool
	// SupportsNotifications is true when Receive may surface
	// Notification results distinct from application data.
	SupportsNotifications() bool

	// Send writes payload, honoring stream, ordered and reliable on
	// transports that support them; they're ignored otherwise. It returns
	// the number of bytes accepted by the transport. Send never blocks:
	// it returns ErrWouldBlock instead.
	Send(payload []byte, stream StreamID, ordered, reliable bool) (n int, err error)

	// Receive reads the next available unit into buf. It never blocks: it
	// returns ErrWouldBlock if nothing is available.
	Receive(buf []byte) (RecvResult, error)

	// SetNonblocking puts the Conn into (or out of) non-blocking mode.
	// All Conns are put into non-blocking mode once accepted or connected,
	// per spec.md §5.
	SetNonblocking(nonblocking bool) error

	// pollFD returns the raw fd used to register this Conn with a
	// pollSet.
	pollFD() int

	Close() error
}

// Listener accepts inbound connections/associations for one protocol.
type Listener interface {
	Accept() (Conn, error)
	pollFD() int
	Close() error
}

// Transport dials or listens for one of the four protocols. There's one
// implementation per Protocol value.
type Transport interface {
	Protocol() Protocol
	Dial(ctx context.Context, addr string) (Conn, error)
	Listen(addr string) (Listener, error)
}

// NewTransport returns the Transport implementation for the given Protocol.
func NewTransport(p Protocol) (Transport, error) {
	switch p {
	case ProtoReliableStream:
		return &streamTransport{}, nil
	case ProtoDatagram:
		return &datagramTransport{}, nil
	case ProtoMultiStreamMessage:
		return &multiStreamTransport{}, nil
	case ProtoCongestionControlledDatagram:
		return &ccDatagramTransport{}, nil
	default:
		return nil, &Error{KindConfig, "transport",
			errorfProtocol(p)}
	}
}

func errorfProtocol(p Protocol) error {
	return errUnknownProtocol{p}
}

type errUnknownProtocol struct{ p Protocol }

func (e errUnknownProtocol) Error() string {
	return "unknown protocol: " + e.p.String()
}
