// SPDX-License-Identifier: GPL-3.0-or-later

package node

import (
	"math/rand"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()
	table := newFlowTable()
	rec := newRecorder("test", zap.NewNop())
	s, err := NewScheduler(rec, table, nil, nil, 16000, Forever)
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	return s
}

// TestFireCatchingUpWithinCapFiresOnce exercises the ≤1s comparison against
// LastTransmission: a flow that missed several paced deadlines but is still
// within the catch-up cap fires once per call, advancing one period at a
// time, rather than bursting every missed deadline at once.
func TestFireCatchingUpWithinCapFiresOnce(t *testing.T) {
	s := newTestScheduler(t)
	f := NewFlow(FlowKey{1, 1, 0}, ProtoReliableStream, 0, nil, rand.New(rand.NewSource(1)))
	f.OutRate = Param{Dist: DistConstant, Value: 10} // 100ms period
	f.OutSize = Param{Dist: DistConstant, Value: 100}
	f.Conn = &fakeConn{proto: ProtoReliableStream}
	f.Status = On
	f.LastTransmission = 900_000
	f.NextTransmissionEvent = 1_000_000

	s.fireCatchingUp(f, 1_200_000)

	if f.TransmittedFrames == 0 {
		t.Fatal("expected at least one frame transmitted")
	}
	if f.LastTransmission != 1_200_000 {
		t.Fatalf("got LastTransmission=%d, want 1200000", f.LastTransmission)
	}
}

// TestFireCatchingUpBeyondCapFiresOnceAndResyncs verifies spec.md §4.E/§9's
// catch-up cap: once now-LastTransmission exceeds one second, the flow fires
// exactly once and resynchronizes to now instead of looping through every
// deadline it missed while paused.
func TestFireCatchingUpBeyondCapFiresOnceAndResyncs(t *testing.T) {
	s := newTestScheduler(t)
	f := NewFlow(FlowKey{1, 1, 0}, ProtoReliableStream, 0, nil, rand.New(rand.NewSource(1)))
	f.OutRate = Param{Dist: DistConstant, Value: 10}
	f.OutSize = Param{Dist: DistConstant, Value: 100}
	f.Conn = &fakeConn{proto: ProtoReliableStream}
	f.Status = On
	f.LastTransmission = 0
	f.NextTransmissionEvent = 100_000

	now := Micros(2_000_000) // 1.5s since LastTransmission (set below) > catchUpCap
	// seed LastTransmission to a real nonzero value first so the cap branch
	// (LastTransmission != 0) is reachable.
	f.LastTransmission = 500_000
	s.fireCatchingUp(f, now)

	if f.TransmittedFrames != 1 {
		t.Fatalf("got TransmittedFrames=%d, want exactly 1 beyond the cap", f.TransmittedFrames)
	}
	if f.LastTransmission != now {
		t.Fatalf("got LastTransmission=%d, want resynced to now=%d", f.LastTransmission, now)
	}
}

func TestNextTimeoutCappedByUnpollableConn(t *testing.T) {
	s := newTestScheduler(t)
	s.stopAt = Micros(10 * time.Second / time.Microsecond)
	s.unpollableConns = append(s.unpollableConns, &registeredConn{conn: &fakeConn{proto: ProtoMultiStreamMessage}})

	d := s.nextTimeout(0)
	if d > quicPollInterval {
		t.Fatalf("got timeout %v, want capped at %v", d, quicPollInterval)
	}
}

func TestNextTimeoutUncappedWithoutUnpollableHandles(t *testing.T) {
	s := newTestScheduler(t)
	s.stopAt = Micros(10 * time.Second / time.Microsecond)

	d := s.nextTimeout(0)
	if d != 10*time.Second {
		t.Fatalf("got timeout %v, want 10s", d)
	}
}

func TestNextTimeoutFloorsAtZero(t *testing.T) {
	s := newTestScheduler(t)
	s.stopAt = 0
	d := s.nextTimeout(5_000_000)
	if d != 0 {
		t.Fatalf("got timeout %v, want 0 (floored, not negative)", d)
	}
}
