// SPDX-License-Identifier: GPL-3.0-or-later

package node

import (
	"math/rand"
	"net"
	"testing"
	"time"
)

// newLoopbackDatagramConn returns an unconnected UDP socket wrapped the same
// way datagramListener.Accept does for the passive side's shared ProtoDatagram
// handle, plus a second socket to act as the remote peer.
func newLoopbackDatagramConn(t *testing.T) (*datagramConn, *net.UDPConn) {
	t.Helper()
	local, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	t.Cleanup(func() { local.Close() })
	peer, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP (peer): %v", err)
	}
	t.Cleanup(func() { peer.Close() })
	return &datagramConn{conn: local, connected: false}, peer
}

func TestSenderFireUsesSendToOnSharedSocket(t *testing.T) {
	dc, peer := newLoopbackDatagramConn(t)
	f := NewFlow(FlowKey{1, 1, 0}, ProtoDatagram, 0, nil, rand.New(rand.NewSource(1)))
	f.OutRate = Param{Dist: DistConstant, Value: 0}
	f.OutSize = Param{Dist: DistConstant, Value: 64}
	f.Conn = dc
	f.RemoteAddr = peer.LocalAddr().(*net.UDPAddr)

	s := sender{pattern: 0x5a}
	if err := s.fire(f, 1000, 16000); err != nil {
		t.Fatalf("fire: %v", err)
	}
	if f.TransmittedFrames != 1 {
		t.Fatalf("got TransmittedFrames=%d, want 1", f.TransmittedFrames)
	}

	buf := make([]byte, 128)
	peer.SetReadDeadline(time.Now().Add(time.Second))
	n, _, err := peer.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("peer ReadFromUDP: %v", err)
	}
	if n != 64 {
		t.Fatalf("got %d bytes at peer, want 64", n)
	}
}

func TestSenderFireNoOpWithoutRemoteAddr(t *testing.T) {
	dc, _ := newLoopbackDatagramConn(t)
	f := NewFlow(FlowKey{1, 1, 0}, ProtoDatagram, 0, nil, rand.New(rand.NewSource(1)))
	f.OutRate = Param{Dist: DistConstant, Value: 0}
	f.OutSize = Param{Dist: DistConstant, Value: 64}
	f.Conn = dc
	f.RemoteAddr = nil // no inbound datagram observed yet

	s := sender{pattern: 0x5a}
	if err := s.fire(f, 1000, 16000); err != nil {
		t.Fatalf("fire: %v", err)
	}
	if f.TransmittedFrames != 0 {
		t.Fatalf("got TransmittedFrames=%d, want 0 (nothing to reply to)", f.TransmittedFrames)
	}
}
