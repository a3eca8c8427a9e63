// SPDX-License-Identifier: GPL-3.0-or-later

// Package config parses a measurement's flow set, either from the
// positional-argument token grammar or from a CUE scenario file, into the
// []FlowSpec the engine needs.
package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tiger-yu99/netperfmeter/node"
)

// FlowSpec is one parsed flow request, translated from
// original_source/src/netperfmeter.cc's argument loop into a Go value the
// engine can act on directly.
type FlowSpec struct {
	Protocol    node.Protocol
	OutRate     node.Param
	OutSize     node.Param
	InRate      node.Param
	InSize      node.Param
	Unordered   float64
	Unreliable  float64
	Description string
	OnOff       []uint32
}

// RunConfig is the full result of parsing a CLI invocation or scenario
// file: the peer role, the endpoint, and the global and per-flow options.
type RunConfig struct {
	Active     bool
	Endpoint   string // active: "host:port" of the passive peer's data port
	Port       int    // passive: the data port to listen on (control is Port+1)
	Runtime    int    // seconds
	MaxMsgSize int
	VectorPath string
	ScalarPath string
	Flows      []FlowSpec
}

const defaultMaxMsgSize = 16000

// FlowRequest translates a parsed FlowSpec into the node.FlowRequest the
// engine dials/advertises, converting the `unordered=`/`unreliable=`
// probabilities into the ordered/reliable probabilities Flow.sampleOrdered/
// sampleReliable draw from.
func (fs FlowSpec) FlowRequest() node.FlowRequest {
	return node.FlowRequest{
		Protocol:     fs.Protocol,
		OutRate:      fs.OutRate,
		OutSize:      fs.OutSize,
		InRate:       fs.InRate,
		InSize:       fs.InSize,
		OrderedMode:  1 - fs.Unordered,
		ReliableMode: 1 - fs.Unreliable,
		OnOff:        fs.OnOff,
		Description:  fs.Description,
	}
}

// FlowRequests translates every flow in the RunConfig.
func (c *RunConfig) FlowRequests() []node.FlowRequest {
	reqs := make([]node.FlowRequest, len(c.Flows))
	for i, fs := range c.Flows {
		reqs[i] = fs.FlowRequest()
	}
	return reqs
}

// ParseArgs parses the token stream spec.md §6 describes: a leading
// port-or-endpoint, then a stream of `-tcp|-udp|-sctp|-dccp` protocol
// selectors, flow specs (four distribution entries plus options), and
// global `-runtime=`/`-maxmsgsize=`/`-vector=`/`-scalar=` options.
func ParseArgs(args []string) (*RunConfig, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("missing port or endpoint argument")
	}
	cfg := &RunConfig{MaxMsgSize: defaultMaxMsgSize}
	if err := parseEndpoint(cfg, args[0]); err != nil {
		return nil, err
	}

	proto := node.ProtoReliableStream
	rest := args[1:]
	for len(rest) > 0 {
		tok := rest[0]
		switch {
		case tok == "-tcp":
			proto = node.ProtoReliableStream
			rest = rest[1:]
		case tok == "-udp":
			proto = node.ProtoDatagram
			rest = rest[1:]
		case tok == "-sctp":
			proto = node.ProtoMultiStreamMessage
			rest = rest[1:]
		case tok == "-dccp":
			proto = node.ProtoCongestionControlledDatagram
			rest = rest[1:]
		case strings.HasPrefix(tok, "-runtime="):
			n, err := strconv.Atoi(tok[len("-runtime="):])
			if err != nil {
				return nil, fmt.Errorf("bad -runtime=: %w", err)
			}
			cfg.Runtime = n
			rest = rest[1:]
		case strings.HasPrefix(tok, "-maxmsgsize="):
			n, err := strconv.Atoi(tok[len("-maxmsgsize="):])
			if err != nil {
				return nil, fmt.Errorf("bad -maxmsgsize=: %w", err)
			}
			cfg.MaxMsgSize = n
			rest = rest[1:]
		case strings.HasPrefix(tok, "-vector="):
			cfg.VectorPath = tok[len("-vector="):]
			rest = rest[1:]
		case strings.HasPrefix(tok, "-scalar="):
			cfg.ScalarPath = tok[len("-scalar="):]
			rest = rest[1:]
		case strings.HasPrefix(tok, "-"):
			return nil, fmt.Errorf("unrecognized option %q", tok)
		default:
			fs, n, err := parseFlowSpec(proto, rest)
			if err != nil {
				return nil, err
			}
			cfg.Flows = append(cfg.Flows, fs)
			rest = rest[n:]
		}
	}
	return cfg, nil
}

// parseEndpoint decides active vs. passive mode from the leading argument,
// per spec.md §6: a bare port number in [1024, 65534] is passive mode,
// anything else is treated as a remote endpoint address (active mode).
func parseEndpoint(cfg *RunConfig, tok string) error {
	if n, err := strconv.Atoi(tok); err == nil {
		if n < 1024 || n > 65534 {
			return fmt.Errorf("port %d out of range [1024, 65534]", n)
		}
		cfg.Active = false
		cfg.Port = n
		return nil
	}
	cfg.Active = true
	cfg.Endpoint = tok
	return nil
}

// parseFlowSpec consumes one flow spec starting at toks[0]: four
// distribution entries (outbound rate, outbound size, inbound rate,
// inbound size) followed by any number of `key=value` options, stopping at
// the next protocol selector, global option, or end of input. It returns
// the number of tokens consumed.
func parseFlowSpec(proto node.Protocol, toks []string) (FlowSpec, int, error) {
	fs := FlowSpec{Protocol: proto}
	if len(toks) < 4 {
		return fs, 0, fmt.Errorf("flow spec needs 4 distribution entries, got %d", len(toks))
	}
	var err error
	if fs.OutRate, err = parseDist(toks[0]); err != nil {
		return fs, 0, err
	}
	if fs.OutSize, err = parseDist(toks[1]); err != nil {
		return fs, 0, err
	}
	if fs.InRate, err = parseDist(toks[2]); err != nil {
		return fs, 0, err
	}
	if fs.InSize, err = parseDist(toks[3]); err != nil {
		return fs, 0, err
	}
	n := 4
	for n < len(toks) {
		tok := toks[n]
		if isBoundaryToken(tok) {
			break
		}
		if err := parseFlowOption(&fs, tok); err != nil {
			return fs, 0, err
		}
		n++
	}
	return fs, n, nil
}

// isBoundaryToken reports whether tok starts a new protocol selector,
// global option, or the next flow spec (i.e. isn't a `key=value` flow
// option), ending the current flow spec's option list.
func isBoundaryToken(tok string) bool {
	switch tok {
	case "-tcp", "-udp", "-sctp", "-dccp":
		return true
	}
	if strings.HasPrefix(tok, "-") {
		return true
	}
	return !strings.Contains(tok, "=")
}

func parseFlowOption(fs *FlowSpec, tok string) error {
	k, v, ok := strings.Cut(tok, "=")
	if !ok {
		return fmt.Errorf("malformed flow option %q", tok)
	}
	switch k {
	case "unordered":
		p, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("bad unordered=: %w", err)
		}
		fs.Unordered = p
	case "unreliable":
		p, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("bad unreliable=: %w", err)
		}
		fs.Unreliable = p
	case "description":
		fs.Description = v
	case "onoff":
		oo, err := parseOnOff(v)
		if err != nil {
			return fmt.Errorf("bad onoff=: %w", err)
		}
		fs.OnOff = oo
	default:
		return fmt.Errorf("unrecognized flow option %q", k)
	}
	return nil
}

// parseDist parses a `constN` or `expN` distribution entry.
func parseDist(tok string) (node.Param, error) {
	switch {
	case strings.HasPrefix(tok, "const"):
		v, err := strconv.ParseFloat(tok[len("const"):], 64)
		if err != nil {
			return node.Param{}, fmt.Errorf("bad const entry %q: %w", tok, err)
		}
		return node.Param{Dist: node.DistConstant, Value: v}, nil
	case strings.HasPrefix(tok, "exp"):
		v, err := strconv.ParseFloat(tok[len("exp"):], 64)
		if err != nil {
			return node.Param{}, fmt.Errorf("bad exp entry %q: %w", tok, err)
		}
		return node.Param{Dist: node.DistNegExponential, Value: v}, nil
	default:
		return node.Param{}, fmt.Errorf("distribution entry %q must start with const or exp", tok)
	}
}

// parseOnOff parses a colon-terminated list of on/off schedule entries:
// `<ms>` is an absolute millisecond offset from the flow's base time,
// `+<ms>` is relative to the prior entry, per spec.md §6.
func parseOnOff(s string) ([]uint32, error) {
	s = strings.TrimSuffix(s, ":")
	if s == "" {
		return nil, nil
	}
	var out []uint32
	var last uint32
	for _, e := range strings.Split(s, ":") {
		if e == "" {
			continue
		}
		if rel, ok := strings.CutPrefix(e, "+"); ok {
			n, err := strconv.ParseUint(rel, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("bad relative entry %q: %w", e, err)
			}
			last += uint32(n)
		} else {
			n, err := strconv.ParseUint(e, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("bad absolute entry %q: %w", e, err)
			}
			last = uint32(n)
		}
		out = append(out, last)
	}
	return out, nil
}
