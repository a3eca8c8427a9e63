// SPDX-License-Identifier: GPL-3.0-or-later

package node

import "testing"

func TestAddFlowRoundTrip(t *testing.T) {
	m := addFlowMsg{
		Key:         FlowKey{Measurement: 123, Flow: 4, Stream: 2},
		Protocol:    ProtoMultiStreamMessage,
		InRate:      Param{Dist: DistConstant, Value: 1000},
		InSize:      Param{Dist: DistNegExponential, Value: 1400},
		OutRate:     Param{Dist: DistConstant, Value: 500},
		OutSize:     Param{Dist: DistConstant, Value: 200},
		OrderedMode: 0.5,
		ReliableMode: 0.0,
		OnOff:       []uint32{0, 1000, 2000, 3000},
		Description: "sibling stream",
	}
	buf := encodeAddFlow(m)
	got, ok := decodeAddFlow(buf)
	if !ok {
		t.Fatal("decodeAddFlow failed")
	}
	if got.Key != m.Key || got.Protocol != m.Protocol {
		t.Fatalf("got %+v, want %+v", got, m)
	}
	if got.InRate != m.InRate || got.InSize != m.InSize || got.OutRate != m.OutRate || got.OutSize != m.OutSize {
		t.Fatalf("params mismatch: got %+v, want %+v", got, m)
	}
	if got.OrderedMode != m.OrderedMode || got.ReliableMode != m.ReliableMode {
		t.Fatalf("reliability knobs mismatch: got %+v, want %+v", got, m)
	}
	if len(got.OnOff) != len(m.OnOff) {
		t.Fatalf("got OnOff=%v, want %v", got.OnOff, m.OnOff)
	}
	for i := range m.OnOff {
		if got.OnOff[i] != m.OnOff[i] {
			t.Fatalf("OnOff[%d] = %d, want %d", i, got.OnOff[i], m.OnOff[i])
		}
	}
	if got.Description != m.Description {
		t.Fatalf("got Description=%q, want %q", got.Description, m.Description)
	}
}

func TestAddFlowRoundTripEmptyOnOff(t *testing.T) {
	m := addFlowMsg{Key: FlowKey{1, 1, 0}, Protocol: ProtoReliableStream}
	buf := encodeAddFlow(m)
	got, ok := decodeAddFlow(buf)
	if !ok {
		t.Fatal("decodeAddFlow failed")
	}
	if len(got.OnOff) != 0 {
		t.Fatalf("got OnOff=%v, want empty", got.OnOff)
	}
	if got.Description != "" {
		t.Fatalf("got Description=%q, want empty", got.Description)
	}
}

func TestAddFlowDecodeTruncated(t *testing.T) {
	m := addFlowMsg{Key: FlowKey{1, 1, 0}, Protocol: ProtoReliableStream, OnOff: []uint32{1, 2}}
	buf := encodeAddFlow(m)
	_, ok := decodeAddFlow(buf[:len(buf)-1])
	if ok {
		t.Fatal("decodeAddFlow must fail on truncated input")
	}
}

func TestRemoveFlowRoundTrip(t *testing.T) {
	m := removeFlowMsg{Key: FlowKey{Measurement: 9, Flow: 2, Stream: 1}}
	got, ok := decodeRemoveFlow(encodeRemoveFlow(m))
	if !ok || got.Key != m.Key {
		t.Fatalf("got %+v ok=%v, want %+v", got, ok, m)
	}
}

func TestMeasRoundTrip(t *testing.T) {
	m := measMsg{Measurement: 42}
	got, ok := decodeMeas(encodeMeas(m))
	if !ok || got.Measurement != m.Measurement {
		t.Fatalf("got %+v ok=%v, want %+v", got, ok, m)
	}
}

func TestAckRoundTrip(t *testing.T) {
	m := ackMsg{RefType: typeAddFlow, Status: ackRejected}
	got, ok := decodeAck(encodeAck(m))
	if !ok || got != m {
		t.Fatalf("got %+v ok=%v, want %+v", got, ok, m)
	}
}
