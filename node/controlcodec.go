// SPDX-License-Identifier: GPL-3.0-or-later

package node

import (
	"encoding/binary"
	"math"
)

// Control PDU types, sharing the same 4-byte TLV envelope as data frames
// (spec.md §3.3, §6) but distinguished by Type values reserved for the
// control channel, translated from original_source/src/netperfmeter.cc's
// NETPERFMETER_ADD_FLOW / ...REMOVE_FLOW / ...START_MEAS / ...STOP_MEAS /
// ...ACKNOWLEDGE message type constants.
const (
	typeAddFlow uint8 = 0x10 + iota
	typeRemoveFlow
	typeStartMeas
	typeStopMeas
	typeAck
	// typePing/typePong are the liveness heartbeat added in SPEC_FULL.md
	// §4.H: not part of the original message set, used only to detect a
	// dead control channel promptly.
	typePing
	typePong
)

// ackStatus is the status code carried by an ACK PDU.
type ackStatus uint8

const (
	ackOK ackStatus = iota
	ackRejected
	ackUnsupported
)

// addFlowMsg is the decoded ADD_FLOW payload.
type addFlowMsg struct {
	Key         FlowKey
	Protocol    Protocol
	InRate      Param
	InSize      Param
	OutRate     Param
	OutSize     Param
	OrderedMode float64
	ReliableMode float64
	OnOff       []uint32
	Description string
}

// removeFlowMsg is the decoded REMOVE_FLOW payload.
type removeFlowMsg struct {
	Key FlowKey
}

// measMsg is the decoded START_MEAS/STOP_MEAS payload.
type measMsg struct {
	Measurement MeasurementID
}

// ackMsg is the decoded ACK payload.
type ackMsg struct {
	RefType uint8
	Status  ackStatus
}

func putParam(buf []byte, p Param) []byte {
	buf = append(buf, uint8(p.Dist))
	var bits [8]byte
	binary.BigEndian.PutUint64(bits[:], math.Float64bits(p.Value))
	return append(buf, bits[:]...)
}

func getParam(buf []byte) (Param, []byte) {
	dist := Dist(buf[0])
	value := math.Float64frombits(binary.BigEndian.Uint64(buf[1:9]))
	return Param{dist, value}, buf[9:]
}

// encodeAddFlow serializes an ADD_FLOW PDU, fixed-order fields followed by
// the variable-length on/off list and description, each preceded by a u16
// length, per spec.md §6.
func encodeAddFlow(m addFlowMsg) []byte {
	buf := make([]byte, 0, 64+4*len(m.OnOff)+len(m.Description))
	var u64 [8]byte
	binary.BigEndian.PutUint64(u64[:], uint64(m.Key.Measurement))
	buf = append(buf, u64[:]...)
	var u32 [4]byte
	binary.BigEndian.PutUint32(u32[:], uint32(m.Key.Flow))
	buf = append(buf, u32[:]...)
	var u16 [2]byte
	binary.BigEndian.PutUint16(u16[:], uint16(m.Key.Stream))
	buf = append(buf, u16[:]...)
	buf = append(buf, uint8(m.Protocol))
	buf = putParam(buf, m.InRate)
	buf = putParam(buf, m.InSize)
	buf = putParam(buf, m.OutRate)
	buf = putParam(buf, m.OutSize)
	var f64 [8]byte
	binary.BigEndian.PutUint64(f64[:], math.Float64bits(m.OrderedMode))
	buf = append(buf, f64[:]...)
	binary.BigEndian.PutUint64(f64[:], math.Float64bits(m.ReliableMode))
	buf = append(buf, f64[:]...)

	binary.BigEndian.PutUint16(u16[:], uint16(len(m.OnOff)))
	buf = append(buf, u16[:]...)
	for _, t := range m.OnOff {
		binary.BigEndian.PutUint32(u32[:], t)
		buf = append(buf, u32[:]...)
	}

	binary.BigEndian.PutUint16(u16[:], uint16(len(m.Description)))
	buf = append(buf, u16[:]...)
	buf = append(buf, m.Description...)
	return buf
}

// decodeAddFlow is the inverse of encodeAddFlow.
func decodeAddFlow(buf []byte) (m addFlowMsg, ok bool) {
	if len(buf) < 15+9*4+16+2 {
		return
	}
	m.Key.Measurement = MeasurementID(binary.BigEndian.Uint64(buf))
	buf = buf[8:]
	m.Key.Flow = FlowID(binary.BigEndian.Uint32(buf))
	buf = buf[4:]
	m.Key.Stream = StreamID(binary.BigEndian.Uint16(buf))
	buf = buf[2:]
	m.Protocol = Protocol(buf[0])
	buf = buf[1:]
	m.InRate, buf = getParam(buf)
	m.InSize, buf = getParam(buf)
	m.OutRate, buf = getParam(buf)
	m.OutSize, buf = getParam(buf)
	if len(buf) < 18 {
		return
	}
	m.OrderedMode = math.Float64frombits(binary.BigEndian.Uint64(buf))
	buf = buf[8:]
	m.ReliableMode = math.Float64frombits(binary.BigEndian.Uint64(buf))
	buf = buf[8:]

	n := int(binary.BigEndian.Uint16(buf))
	buf = buf[2:]
	if len(buf) < n*4+2 {
		return
	}
	m.OnOff = make([]uint32, n)
	for i := range m.OnOff {
		m.OnOff[i] = binary.BigEndian.Uint32(buf)
		buf = buf[4:]
	}

	dn := int(binary.BigEndian.Uint16(buf))
	buf = buf[2:]
	if len(buf) < dn {
		return
	}
	m.Description = string(buf[:dn])
	ok = true
	return
}

func encodeRemoveFlow(m removeFlowMsg) []byte {
	buf := make([]byte, 14)
	binary.BigEndian.PutUint64(buf, uint64(m.Key.Measurement))
	binary.BigEndian.PutUint32(buf[8:], uint32(m.Key.Flow))
	binary.BigEndian.PutUint16(buf[12:], uint16(m.Key.Stream))
	return buf
}

func decodeRemoveFlow(buf []byte) (m removeFlowMsg, ok bool) {
	if len(buf) < 14 {
		return
	}
	m.Key.Measurement = MeasurementID(binary.BigEndian.Uint64(buf))
	m.Key.Flow = FlowID(binary.BigEndian.Uint32(buf[8:]))
	m.Key.Stream = StreamID(binary.BigEndian.Uint16(buf[12:]))
	ok = true
	return
}

func encodeMeas(m measMsg) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(m.Measurement))
	return buf
}

func decodeMeas(buf []byte) (m measMsg, ok bool) {
	if len(buf) < 8 {
		return
	}
	m.Measurement = MeasurementID(binary.BigEndian.Uint64(buf))
	ok = true
	return
}

func encodeAck(m ackMsg) []byte {
	return []byte{m.RefType, uint8(m.Status)}
}

func decodeAck(buf []byte) (m ackMsg, ok bool) {
	if len(buf) < 2 {
		return
	}
	m.RefType, m.Status = buf[0], ackStatus(buf[1])
	ok = true
	return
}
