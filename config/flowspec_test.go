// SPDX-License-Identifier: GPL-3.0-or-later

package config

import (
	"testing"

	"github.com/tiger-yu99/netperfmeter/node"
)

func TestParseArgsPassiveDefaultProtocol(t *testing.T) {
	cfg, err := ParseArgs([]string{"7000", "const1000", "const1400", "const0", "const0"})
	if err != nil {
		t.Fatalf("ParseArgs: %v", err)
	}
	if cfg.Active {
		t.Fatal("port-only endpoint must be passive")
	}
	if cfg.Port != 7000 {
		t.Fatalf("got Port=%d, want 7000", cfg.Port)
	}
	if len(cfg.Flows) != 1 {
		t.Fatalf("got %d flows, want 1", len(cfg.Flows))
	}
	fs := cfg.Flows[0]
	if fs.Protocol != node.ProtoReliableStream {
		t.Fatalf("got protocol %v, want ProtoReliableStream (the default)", fs.Protocol)
	}
	if fs.OutRate.Value != 1000 || fs.OutRate.Dist != node.DistConstant {
		t.Fatalf("got OutRate=%+v", fs.OutRate)
	}
}

func TestParseArgsActiveEndpoint(t *testing.T) {
	cfg, err := ParseArgs([]string{"10.0.0.1:7000", "const1000", "const1400", "const0", "const0"})
	if err != nil {
		t.Fatalf("ParseArgs: %v", err)
	}
	if !cfg.Active {
		t.Fatal("non-numeric endpoint must be active")
	}
	if cfg.Endpoint != "10.0.0.1:7000" {
		t.Fatalf("got Endpoint=%q", cfg.Endpoint)
	}
}

func TestParseArgsPortOutOfRange(t *testing.T) {
	if _, err := ParseArgs([]string{"80"}); err == nil {
		t.Fatal("port below 1024 must be rejected")
	}
	if _, err := ParseArgs([]string{"70000"}); err == nil {
		t.Fatal("port above 65534 must be rejected")
	}
}

func TestParseArgsMultipleFlowsAcrossProtocols(t *testing.T) {
	cfg, err := ParseArgs([]string{
		"7000",
		"-udp", "const500", "const200", "const0", "const0",
		"-sctp", "exp1000", "const1400", "const0", "const0", "unordered=0.5", "description=sibling",
	})
	if err != nil {
		t.Fatalf("ParseArgs: %v", err)
	}
	if len(cfg.Flows) != 2 {
		t.Fatalf("got %d flows, want 2", len(cfg.Flows))
	}
	if cfg.Flows[0].Protocol != node.ProtoDatagram {
		t.Fatalf("flow 0: got protocol %v, want ProtoDatagram", cfg.Flows[0].Protocol)
	}
	if cfg.Flows[1].Protocol != node.ProtoMultiStreamMessage {
		t.Fatalf("flow 1: got protocol %v, want ProtoMultiStreamMessage", cfg.Flows[1].Protocol)
	}
	if cfg.Flows[1].OutRate.Dist != node.DistNegExponential {
		t.Fatalf("flow 1: got dist %v, want DistNegExponential", cfg.Flows[1].OutRate.Dist)
	}
	if cfg.Flows[1].Unordered != 0.5 {
		t.Fatalf("flow 1: got Unordered=%v, want 0.5", cfg.Flows[1].Unordered)
	}
	if cfg.Flows[1].Description != "sibling" {
		t.Fatalf("flow 1: got Description=%q, want sibling", cfg.Flows[1].Description)
	}
}

func TestParseArgsGlobalOptions(t *testing.T) {
	cfg, err := ParseArgs([]string{
		"7000", "-runtime=30", "-maxmsgsize=8000", "-vector=out.vec.gz", "-scalar=out.sca",
		"const1000", "const1400", "const0", "const0",
	})
	if err != nil {
		t.Fatalf("ParseArgs: %v", err)
	}
	if cfg.Runtime != 30 || cfg.MaxMsgSize != 8000 || cfg.VectorPath != "out.vec.gz" || cfg.ScalarPath != "out.sca" {
		t.Fatalf("got %+v", cfg)
	}
}

func TestParseArgsUnrecognizedOption(t *testing.T) {
	if _, err := ParseArgs([]string{"7000", "-bogus"}); err == nil {
		t.Fatal("unrecognized global option must be rejected")
	}
}

func TestParseArgsTooFewDistEntries(t *testing.T) {
	if _, err := ParseArgs([]string{"7000", "const1000", "const1400"}); err == nil {
		t.Fatal("a flow spec with fewer than 4 distribution entries must be rejected")
	}
}

func TestParseDistConstAndExp(t *testing.T) {
	p, err := parseDist("const1400")
	if err != nil || p.Dist != node.DistConstant || p.Value != 1400 {
		t.Fatalf("got %+v err=%v", p, err)
	}
	p, err = parseDist("exp250.5")
	if err != nil || p.Dist != node.DistNegExponential || p.Value != 250.5 {
		t.Fatalf("got %+v err=%v", p, err)
	}
	if _, err := parseDist("garbage"); err == nil {
		t.Fatal("unrecognized distribution prefix must be rejected")
	}
}

func TestParseOnOffAbsoluteAndRelative(t *testing.T) {
	got, err := parseOnOff("1000:+500:3000:")
	if err != nil {
		t.Fatalf("parseOnOff: %v", err)
	}
	want := []uint32{1000, 1500, 3000}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestParseOnOffEmpty(t *testing.T) {
	got, err := parseOnOff("")
	if err != nil || got != nil {
		t.Fatalf("got %v err=%v, want nil/nil", got, err)
	}
}

func TestParseOnOffBadEntry(t *testing.T) {
	if _, err := parseOnOff("abc"); err == nil {
		t.Fatal("non-numeric onoff entry must be rejected")
	}
}

func TestIsBoundaryToken(t *testing.T) {
	cases := map[string]bool{
		"-tcp":             true,
		"-udp":             true,
		"-runtime=30":      true,
		"unordered=0.5":    false,
		"const1000":        true, // no '=' -> boundary (next flow's distribution entry)
	}
	for tok, want := range cases {
		if got := isBoundaryToken(tok); got != want {
			t.Errorf("isBoundaryToken(%q) = %v, want %v", tok, got, want)
		}
	}
}

func TestFlowSpecFlowRequestInvertsProbabilities(t *testing.T) {
	fs := FlowSpec{Unordered: 0.3, Unreliable: 0.1}
	req := fs.FlowRequest()
	if req.OrderedMode != 0.7 {
		t.Fatalf("got OrderedMode=%v, want 0.7", req.OrderedMode)
	}
	if req.ReliableMode != 0.9 {
		t.Fatalf("got ReliableMode=%v, want 0.9", req.ReliableMode)
	}
}
