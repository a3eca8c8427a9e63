// SPDX-License-Identifier: GPL-3.0-or-later

package node

import (
	"math/rand"
	"net"
)

// Status is a Flow's runtime status, per spec.md §3.2.
type Status uint8

const (
	WaitingForStartup Status = iota
	On
	Off
)

func (s Status) String() string {
	switch s {
	case WaitingForStartup:
		return "WaitingForStartup"
	case On:
		return "On"
	case Off:
		return "Off"
	default:
		return "?"
	}
}

// Flow is the flow descriptor named in spec.md §3.2: parameters, on/off
// schedule, runtime status and counters, translated from
// original_source/src/flowspec.cc's FlowSpec into idiomatic Go.
type Flow struct {
	// Identity
	Key         FlowKey
	Description string
	Protocol    Protocol

	// Outbound parameters
	OutRate Param
	OutSize Param

	// Inbound parameters (informational only; shared with the remote peer
	// via ADD_FLOW but not locally enforced)
	InRate Param
	InSize Param

	// Reliability knobs, meaningful only for ProtoMultiStreamMessage
	OrderedMode  float64
	ReliableMode float64

	// Schedule
	BaseTime  Micros
	OnOff     []uint32 // ascending millisecond offsets from BaseTime
	onOffNext int       // index of the next unconsumed OnOff entry

	// Runtime status
	Status Status

	// Association state
	Conn            Conn
	Owner           bool // true if this flow owns Conn and must close it
	RemoteAssocID   uint64
	RemoteAddrBound bool
	// RemoteAddr is the resolved peer address, set once RemoteAddrBound is
	// true on a connectionless transport (flowTable.BindSource). It's how
	// the passive peer's reply traffic on a shared, unconnected UDP socket
	// finds its way back to the one source address it's mirroring, since
	// that socket has no Dial'd default peer for Conn.Send to use.
	RemoteAddr *net.UDPAddr

	// Counters, reset at start-measurement
	FirstTransmission Micros
	LastTransmission  Micros
	FirstReception    Micros
	LastReception     Micros
	TransmittedBytes   uint64
	TransmittedPackets uint64
	TransmittedFrames  uint64
	ReceivedBytes      uint64
	ReceivedPackets    uint64
	ReceivedFrames     uint64

	// Last-snapshot copies, for computing deltas in the vector sink
	LastTransmittedBytes   uint64
	LastTransmittedPackets uint64
	LastTransmittedFrames  uint64
	LastReceivedBytes      uint64
	LastReceivedPackets    uint64
	LastReceivedFrames     uint64

	// Deadlines, absolute Micros
	NextStatusChangeEvent Micros
	NextTransmissionEvent Micros

	// rng is the flow's private source of randomness for rate/size
	// sampling and the ordered/reliable Bernoulli draws, so a seeded test
	// run is reproducible per spec.md §4.A.
	rng *rand.Rand
}

// NewFlow returns a new Flow with its schedule and counters initialized.
// rng must not be nil; callers share one *rand.Rand per measurement or use
// one per flow depending on the determinism they want.
func NewFlow(key FlowKey, proto Protocol, now Micros, onOff []uint32, rng *rand.Rand) *Flow {
	f := &Flow{
		Key:      key,
		Protocol: proto,
		BaseTime: now,
		OnOff:    onOff,
		Status:   WaitingForStartup,
		rng:      rng,
	}
	f.resetStatistics()
	return f
}

// IsSaturated reports whether the flow is a saturated sender per spec.md's
// glossary: rate ≈ 0 and size > 0, so it fires on WRITABLE rather than on a
// paced deadline.
func (f *Flow) IsSaturated() bool {
	return f.OutRate.Dist == DistConstant && f.OutRate.Value == 0 && f.OutSize.Value > 0
}

// start implements the Flow side of spec.md §3.5's "Start": resets
// counters, sets BaseTime to now, and transitions the flow to On or Off per
// its schedule (On from the start if the schedule is empty, Off until the
// first event otherwise).
func (f *Flow) start(now Micros) {
	f.resetStatistics()
	f.BaseTime = now
	f.onOffNext = 0
	if len(f.OnOff) == 0 {
		f.Status = On
	} else {
		f.Status = Off
	}
	f.scheduleNextStatusChange()
	f.scheduleNextTransmission()
}

// scheduleNextStatusChange implements spec.md §4.D's
// schedule_next_status_change: if there are pending on/off events and the
// flow isn't still WaitingForStartup, the next deadline is BaseTime plus
// the first remaining event's offset; otherwise it's Forever.
func (f *Flow) scheduleNextStatusChange() {
	if f.Status != WaitingForStartup && f.onOffNext < len(f.OnOff) {
		f.NextStatusChangeEvent = f.BaseTime + Micros(1000)*Micros(f.OnOff[f.onOffNext])
	} else {
		f.NextStatusChangeEvent = Forever
	}
}

// statusChangeEvent implements spec.md §4.D's status_change_event: if the
// current deadline has fired, toggle On<->Off (WaitingForStartup is left to
// start, not here), consume the first pending event, and
// reschedule.
func (f *Flow) statusChangeEvent(now Micros) {
	if f.NextStatusChangeEvent > now {
		return
	}
	switch f.Status {
	case Off:
		f.Status = On
	case On:
		f.Status = Off
	}
	f.onOffNext++
	f.scheduleNextStatusChange()
}

// scheduleNextTransmission implements spec.md §4.D's
// schedule_next_transmission: if On, draw a rate sample and set the next
// deadline LastTransmission + 1e6/rate microseconds; else Forever.
func (f *Flow) scheduleNextTransmission() {
	if f.Status != On {
		f.NextTransmissionEvent = Forever
		return
	}
	rate := NewSampler(f.OutRate).Sample(f.rng)
	if rate <= 0 {
		f.NextTransmissionEvent = Forever
		return
	}
	f.NextTransmissionEvent = f.LastTransmission + Micros(1e6/rate+0.5)
}

// resetStatistics implements spec.md §4.D's reset_statistics: zeroes all
// counters and their last-snapshot copies.
func (f *Flow) resetStatistics() {
	f.FirstTransmission = 0
	f.LastTransmission = 0
	f.FirstReception = 0
	f.LastReception = 0
	f.TransmittedBytes, f.TransmittedPackets, f.TransmittedFrames = 0, 0, 0
	f.ReceivedBytes, f.ReceivedPackets, f.ReceivedFrames = 0, 0, 0
	f.LastTransmittedBytes, f.LastTransmittedPackets, f.LastTransmittedFrames = 0, 0, 0
	f.LastReceivedBytes, f.LastReceivedPackets, f.LastReceivedFrames = 0, 0, 0
}

// sampleOrdered draws the per-message ordered flag per spec.md §4.F.3.
func (f *Flow) sampleOrdered() bool {
	return Bernoulli(f.rng, f.OrderedMode)
}

// sampleReliable draws the per-message reliable flag per spec.md §4.F.3.
func (f *Flow) sampleReliable() bool {
	return Bernoulli(f.rng, f.ReliableMode)
}

// sampleFrameSize draws a frame size for this firing, clamped to at least
// headerSize, per spec.md §4.F.1.
func (f *Flow) sampleFrameSize() int {
	s := int(NewSampler(f.OutSize).Sample(f.rng) + 0.5)
	if s < headerSize {
		s = headerSize
	}
	return s
}

// onAt reports whether the flow's schedule has it On at offset ms
// (milliseconds since BaseTime), used by tests to check spec.md §8's
// on/off-interval property without running the scheduler.
func onAt(onOff []uint32, ms uint32) bool {
	// empty schedule: On from BaseTime. Non-empty: Off until the first
	// event, which turns the flow On (spec.md §3.2/§8).
	on := len(onOff) == 0
	for _, t := range onOff {
		if ms < t {
			return on
		}
		on = !on
	}
	return on
}
