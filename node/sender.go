// SPDX-License-Identifier: GPL-3.0-or-later

package node

import "encoding/binary"

// typeData is the TLV Type used for data frames, distinguishing them from
// control PDUs sharing the same envelope (spec.md §3.3, §6).
const typeData uint8 = 0

// sender builds and writes data frames for a Flow, implementing spec.md
// §4.F. It holds no per-flow state: fire writes to the Flow's Conn and
// updates the Flow's own counters; the scheduler decides when to call fire.
type sender struct {
	pattern byte // fill byte for the payload; arbitrary, unverified by the receiver
}

// fire builds one data frame for f and writes it to f.Conn, per spec.md
// §4.F:
//  1. sample the frame size (at least headerSize)
//  2. fill the payload with an arbitrary pattern
//  3. for the multi-stream transport, draw ordered/reliable flags
//  4. write in chunks capped by maxMsgSize, updating counters per write
//  5. update FirstTransmission/LastTransmission
//  6. on would-block, abort this firing; the caller retries later
func (s sender) fire(f *Flow, now Micros, maxMsgSize int) (err error) {
	size := f.sampleFrameSize()
	buf := make([]byte, size)
	buf[0] = typeData
	buf[1] = 0
	binary.BigEndian.PutUint16(buf[2:4], uint16(size))
	for i := headerSize; i < size; i++ {
		buf[i] = s.pattern
	}

	ordered, reliable := true, true
	if f.Protocol == ProtoMultiStreamMessage {
		ordered = f.sampleOrdered()
		reliable = f.sampleReliable()
	}

	// a passive-side ProtoDatagram flow shares one unconnected UDP socket
	// with every other flow of that protocol (transport_datagram.go's
	// datagramListener hands it out once); Conn.Send has no default peer to
	// write to on that socket, so replies must go via SendTo to the
	// address learned from the flow's first inbound datagram instead.
	dc, shared := f.Conn.(*datagramConn)
	shared = shared && !dc.connected
	if shared && f.RemoteAddr == nil {
		// no inbound datagram seen yet: nothing to reply to.
		return nil
	}

	sent := 0
	for sent < size {
		end := sent + maxMsgSize
		if end > size {
			end = size
		}
		var n int
		if shared {
			n, err = dc.SendTo(buf[sent:end], f.RemoteAddr)
		} else {
			n, err = f.Conn.Send(buf[sent:end], f.Key.Stream, ordered, reliable)
		}
		if err != nil {
			return
		}
		f.TransmittedPackets++
		f.TransmittedBytes += uint64(n)
		if f.FirstTransmission == 0 {
			f.FirstTransmission = now
		}
		f.LastTransmission = now
		sent += n
		if n == 0 {
			// defensive: a zero-byte accepted write would spin forever
			break
		}
	}
	if sent >= size {
		f.TransmittedFrames++
	}
	return
}
