// SPDX-License-Identifier: GPL-3.0-or-later

package node

import (
	"fmt"
	"net"
	"time"

	cache "github.com/patrickmn/go-cache"
)

// flowTable is the active set of Flows, indexed the ways spec.md §4.D's
// lookup helpers require: by (MeasurementID, FlowID, StreamID), by
// (handle, StreamID), by remote association id, and by source address.
type flowTable struct {
	byKey    map[FlowKey]*Flow
	byConn   map[Conn]map[StreamID]*Flow
	byAssoc  map[uint64]*Flow
	bySource *cache.Cache // key: addr.String(), value: *Flow

	order []FlowKey // creation order, for the scheduler's tie-break rule
}

// newFlowTable returns an empty flowTable. Source-address entries expire
// after sourceAddrTTL if not refreshed, so a passive-side mirror flow whose
// peer vanished without a clean REMOVE_FLOW doesn't pin memory forever —
// the same role github.com/patrickmn/go-cache plays for ephemeral
// per-connection state in cppla-moto/controller/server.go.
func newFlowTable() *flowTable {
	return &flowTable{
		byKey:    make(map[FlowKey]*Flow),
		byConn:   make(map[Conn]map[StreamID]*Flow),
		byAssoc:  make(map[uint64]*Flow),
		bySource: cache.New(sourceAddrTTL, sourceAddrTTL/2),
	}
}

const sourceAddrTTL = 5 * time.Minute

// Add registers a new Flow, indexed by key and by (Conn, StreamID).
func (t *flowTable) Add(f *Flow) {
	t.byKey[f.Key] = f
	m, ok := t.byConn[f.Conn]
	if !ok {
		m = make(map[StreamID]*Flow)
		t.byConn[f.Conn] = m
	}
	m[f.Key.Stream] = f
	if f.RemoteAssocID != 0 {
		t.byAssoc[f.RemoteAssocID] = f
	}
	t.order = append(t.order, f.Key)
}

// Remove deregisters f.
func (t *flowTable) Remove(f *Flow) {
	delete(t.byKey, f.Key)
	if m, ok := t.byConn[f.Conn]; ok {
		delete(m, f.Key.Stream)
		if len(m) == 0 {
			delete(t.byConn, f.Conn)
		}
	}
	if f.RemoteAssocID != 0 {
		delete(t.byAssoc, f.RemoteAssocID)
	}
	for i, k := range t.order {
		if k == f.Key {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}

// BindConn associates f with c in the (Conn, StreamID) index, used once an
// accepted or dialed Conn is assigned to a Flow created before the
// transport connection existed (the common passive-side ADD_FLOW case:
// the Flow is registered first, its Conn arrives later via accept).
func (t *flowTable) BindConn(f *Flow, c Conn) {
	if old, ok := t.byConn[f.Conn]; ok {
		delete(old, f.Key.Stream)
		if len(old) == 0 {
			delete(t.byConn, f.Conn)
		}
	}
	f.Conn = c
	m, ok := t.byConn[c]
	if !ok {
		m = make(map[StreamID]*Flow)
		t.byConn[c] = m
	}
	m[f.Key.Stream] = f
}

// ByKey looks up a Flow by its full identity.
func (t *flowTable) ByKey(k FlowKey) (*Flow, bool) {
	f, ok := t.byKey[k]
	return f, ok
}

// ByConnStream looks up a Flow by (Conn, StreamID); used for
// ProtoMultiStreamMessage, where several Flows share one Conn.
func (t *flowTable) ByConnStream(c Conn, s StreamID) (*Flow, bool) {
	m, ok := t.byConn[c]
	if !ok {
		return nil, false
	}
	f, ok := m[s]
	return f, ok
}

// ByConn looks up the (single) Flow owning c, for transports where each
// Conn belongs to exactly one Flow.
func (t *flowTable) ByConn(c Conn) (*Flow, bool) {
	m, ok := t.byConn[c]
	if !ok {
		return nil, false
	}
	for _, f := range m {
		return f, true
	}
	return nil, false
}

// ByAssoc looks up a Flow by its remote association id.
func (t *flowTable) ByAssoc(id uint64) (*Flow, bool) {
	f, ok := t.byAssoc[id]
	return f, ok
}

// BySource looks up a Flow by source address string, for connectionless
// passive-side reception before a remote address has been bound.
func (t *flowTable) BySource(addr string) (*Flow, bool) {
	v, ok := t.bySource.Get(addr)
	if !ok {
		return nil, false
	}
	return v.(*Flow), true
}

// BindSource associates addr with f, refreshing its TTL, and marks f as
// remote-address-bound per spec.md §3.2. a is the resolved peer address,
// stashed on f so a reply on an unconnected shared socket (the UDP
// passive-side listener) has somewhere to send to.
func (t *flowTable) BindSource(addr string, a net.Addr, f *Flow) {
	t.bySource.Set(addr, f, cache.DefaultExpiration)
	f.RemoteAddrBound = true
	if udpAddr, ok := a.(*net.UDPAddr); ok {
		f.RemoteAddr = udpAddr
	}
}

// InOrder calls fn for every Flow in creation order, used by the scheduler
// (spec.md §4.E's tie-break: "among flows, creation order") and by the
// statistics writer's periodic snapshot.
func (t *flowTable) InOrder(fn func(*Flow)) {
	for _, k := range t.order {
		if f, ok := t.byKey[k]; ok {
			fn(f)
		}
	}
}

// String aids debugging/logging.
func (t *flowTable) String() string {
	return fmt.Sprintf("flowTable{%d flows}", len(t.byKey))
}
