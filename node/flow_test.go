// SPDX-License-Identifier: GPL-3.0-or-later

package node

import (
	"math/rand"
	"testing"
)

func TestOnAtEmptySchedule(t *testing.T) {
	if !onAt(nil, 0) {
		t.Fatal("empty schedule must be On from the start")
	}
	if !onAt(nil, 5000) {
		t.Fatal("empty schedule must stay On")
	}
}

func TestOnAtSchedule(t *testing.T) {
	// On in [0,1000) ∪ [2000,3000), Off elsewhere, per spec.md §8's numbered
	// scenario 5.
	oo := []uint32{0, 1000, 2000, 3000}
	cases := []struct {
		ms uint32
		on bool
	}{
		{0, true}, {500, true}, {999, true},
		{1000, false}, {1500, false}, {1999, false},
		{2000, true}, {2500, true}, {2999, true},
		{3000, false}, {10000, false},
	}
	for _, c := range cases {
		if got := onAt(oo, c.ms); got != c.on {
			t.Errorf("onAt(%v, %d) = %v, want %v", oo, c.ms, got, c.on)
		}
	}
}

func TestFlowStartEmptySchedule(t *testing.T) {
	f := NewFlow(FlowKey{1, 1, 0}, ProtoReliableStream, 1000, nil, rand.New(rand.NewSource(1)))
	f.start(1000)
	if f.Status != On {
		t.Fatalf("got status %v, want On", f.Status)
	}
	if f.NextStatusChangeEvent != Forever {
		t.Fatalf("got NextStatusChangeEvent=%d, want Forever", f.NextStatusChangeEvent)
	}
}

func TestFlowStartWithSchedule(t *testing.T) {
	f := NewFlow(FlowKey{1, 1, 0}, ProtoReliableStream, 1000, []uint32{500}, rand.New(rand.NewSource(1)))
	f.start(1000)
	if f.Status != Off {
		t.Fatalf("got status %v, want Off", f.Status)
	}
	if want := Micros(1000) + Micros(500)*1000; f.NextStatusChangeEvent != want {
		t.Fatalf("got NextStatusChangeEvent=%d, want %d", f.NextStatusChangeEvent, want)
	}
}

func TestFlowStatusChangeEventToggles(t *testing.T) {
	f := NewFlow(FlowKey{1, 1, 0}, ProtoReliableStream, 0, []uint32{100, 200}, rand.New(rand.NewSource(1)))
	f.start(0)
	if f.Status != Off {
		t.Fatalf("got status %v, want Off", f.Status)
	}
	f.statusChangeEvent(Micros(100) * 1000)
	if f.Status != On {
		t.Fatalf("after first event: got status %v, want On", f.Status)
	}
	f.statusChangeEvent(Micros(200) * 1000)
	if f.Status != Off {
		t.Fatalf("after second event: got status %v, want Off", f.Status)
	}
	if f.NextStatusChangeEvent != Forever {
		t.Fatalf("after exhausting schedule: got %d, want Forever", f.NextStatusChangeEvent)
	}
}

func TestFlowIsSaturated(t *testing.T) {
	f := NewFlow(FlowKey{1, 1, 0}, ProtoReliableStream, 0, nil, rand.New(rand.NewSource(1)))
	f.OutRate = Param{Dist: DistConstant, Value: 0}
	f.OutSize = Param{Dist: DistConstant, Value: 1400}
	if !f.IsSaturated() {
		t.Fatal("rate=0, size>0 must be saturated")
	}
	f.OutRate.Value = 10
	if f.IsSaturated() {
		t.Fatal("rate>0 must not be saturated")
	}
}

func TestScheduleNextTransmissionRate(t *testing.T) {
	f := NewFlow(FlowKey{1, 1, 0}, ProtoReliableStream, 0, nil, rand.New(rand.NewSource(1)))
	f.OutRate = Param{Dist: DistConstant, Value: 10} // 10/s -> 100ms period
	f.Status = On
	f.LastTransmission = 1_000_000
	f.scheduleNextTransmission()
	want := Micros(1_000_000 + 100_000)
	if f.NextTransmissionEvent != want {
		t.Fatalf("got %d, want %d", f.NextTransmissionEvent, want)
	}
}

func TestResetStatisticsZeroesCounters(t *testing.T) {
	f := NewFlow(FlowKey{1, 1, 0}, ProtoReliableStream, 0, nil, rand.New(rand.NewSource(1)))
	f.TransmittedBytes = 100
	f.ReceivedFrames = 3
	f.LastTransmittedBytes = 50
	f.resetStatistics()
	if f.TransmittedBytes != 0 || f.ReceivedFrames != 0 || f.LastTransmittedBytes != 0 {
		t.Fatalf("counters not reset: %+v", f)
	}
}
