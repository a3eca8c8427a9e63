// SPDX-License-Identifier: GPL-3.0-or-later

package node

import "fmt"

// MeasurementID identifies a measurement, generated by the active peer
// (typically a clock reading).
type MeasurementID uint64

// FlowID identifies a flow, unique within a MeasurementID.
type FlowID uint32

// StreamID identifies a stream within a multi-stream flow group. It's
// meaningful only on ProtoMultiStreamMessage flows; otherwise it's 0.
type StreamID uint16

// FlowKey uniquely identifies a flow within the active set.
type FlowKey struct {
	Measurement MeasurementID
	Flow        FlowID
	Stream      StreamID
}

func (k FlowKey) String() string {
	return fmt.Sprintf("%d/%d/%d", k.Measurement, k.Flow, k.Stream)
}

// Protocol selects the transport used to carry a flow.
type Protocol uint8

const (
	ProtoReliableStream Protocol = iota
	ProtoDatagram
	ProtoMultiStreamMessage
	ProtoCongestionControlledDatagram
)

func (p Protocol) String() string {
	switch p {
	case ProtoReliableStream:
		return "reliable-stream"
	case ProtoDatagram:
		return "datagram"
	case ProtoMultiStreamMessage:
		return "multi-stream-message"
	case ProtoCongestionControlledDatagram:
		return "cc-datagram"
	default:
		return fmt.Sprintf("proto(%d)", uint8(p))
	}
}

// Dist selects the distribution used to sample a rate or size parameter.
type Dist uint8

const (
	DistConstant Dist = iota
	DistNegExponential
)

func (d Dist) String() string {
	switch d {
	case DistConstant:
		return "constant"
	case DistNegExponential:
		return "negative exponential"
	default:
		return fmt.Sprintf("dist(%d)", uint8(d))
	}
}

// Param pairs a distribution kind with its value, used for both rate and
// size parameters in a FlowSpec.
type Param struct {
	Dist  Dist
	Value float64
}
