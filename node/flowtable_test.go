// SPDX-License-Identifier: GPL-3.0-or-later

package node

import (
	"math/rand"
	"net"
	"testing"
)

func TestFlowTableAddByKeyRemove(t *testing.T) {
	table := newFlowTable()
	f := NewFlow(FlowKey{1, 1, 0}, ProtoReliableStream, 0, nil, rand.New(rand.NewSource(1)))
	table.Add(f)
	got, ok := table.ByKey(f.Key)
	if !ok || got != f {
		t.Fatalf("ByKey: got %v ok=%v, want %v", got, ok, f)
	}
	table.Remove(f)
	if _, ok := table.ByKey(f.Key); ok {
		t.Fatal("flow still present after Remove")
	}
}

func TestFlowTableBindConnReindexes(t *testing.T) {
	table := newFlowTable()
	f := NewFlow(FlowKey{1, 1, 0}, ProtoReliableStream, 0, nil, rand.New(rand.NewSource(1)))
	table.Add(f)
	c1 := &fakeConn{proto: ProtoReliableStream}
	table.BindConn(f, c1)
	if got, ok := table.ByConn(c1); !ok || got != f {
		t.Fatalf("ByConn(c1): got %v ok=%v", got, ok)
	}
	c2 := &fakeConn{proto: ProtoReliableStream}
	table.BindConn(f, c2)
	if _, ok := table.ByConn(c1); ok {
		t.Fatal("old Conn association must be removed after rebind")
	}
	if got, ok := table.ByConn(c2); !ok || got != f {
		t.Fatalf("ByConn(c2): got %v ok=%v", got, ok)
	}
}

func TestFlowTableByConnStreamSiblings(t *testing.T) {
	table := newFlowTable()
	c := &fakeConn{proto: ProtoMultiStreamMessage, multiStream: true}
	f0 := NewFlow(FlowKey{1, 1, 0}, ProtoMultiStreamMessage, 0, nil, rand.New(rand.NewSource(1)))
	f1 := NewFlow(FlowKey{1, 2, 1}, ProtoMultiStreamMessage, 0, nil, rand.New(rand.NewSource(2)))
	table.Add(f0)
	table.Add(f1)
	table.BindConn(f0, c)
	table.BindConn(f1, c)

	got0, ok0 := table.ByConnStream(c, 0)
	got1, ok1 := table.ByConnStream(c, 1)
	if !ok0 || got0 != f0 {
		t.Fatalf("stream 0: got %v ok=%v, want %v", got0, ok0, f0)
	}
	if !ok1 || got1 != f1 {
		t.Fatalf("stream 1: got %v ok=%v, want %v", got1, ok1, f1)
	}
}

func TestFlowTableBySourceMirror(t *testing.T) {
	table := newFlowTable()
	f := NewFlow(FlowKey{1, 1, 0}, ProtoDatagram, 0, nil, rand.New(rand.NewSource(1)))
	table.Add(f)
	if _, ok := table.BySource("10.0.0.1:5000"); ok {
		t.Fatal("no source bound yet")
	}
	addr := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 5000}
	table.BindSource("10.0.0.1:5000", addr, f)
	got, ok := table.BySource("10.0.0.1:5000")
	if !ok || got != f {
		t.Fatalf("got %v ok=%v, want %v", got, ok, f)
	}
	if !f.RemoteAddrBound {
		t.Fatal("BindSource must mark RemoteAddrBound")
	}
	if f.RemoteAddr != addr {
		t.Fatalf("got RemoteAddr=%v, want %v", f.RemoteAddr, addr)
	}
}

func TestFlowTableInOrderIsCreationOrder(t *testing.T) {
	table := newFlowTable()
	var keys []FlowKey
	for i := 0; i < 5; i++ {
		f := NewFlow(FlowKey{1, FlowID(i), 0}, ProtoReliableStream, 0, nil, rand.New(rand.NewSource(int64(i))))
		table.Add(f)
		keys = append(keys, f.Key)
	}
	var visited []FlowKey
	table.InOrder(func(f *Flow) { visited = append(visited, f.Key) })
	if len(visited) != len(keys) {
		t.Fatalf("got %d flows, want %d", len(visited), len(keys))
	}
	for i := range keys {
		if visited[i] != keys[i] {
			t.Fatalf("visited[%d]=%v, want %v", i, visited[i], keys[i])
		}
	}
}
