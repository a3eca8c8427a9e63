// SPDX-License-Identifier: GPL-3.0-or-later

package config

import (
	_ "embed"
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"

	"github.com/tiger-yu99/netperfmeter/node"
)

//go:embed scenario.cue
var scenarioCUE string

// scenarioDist/scenarioFlow/scenarioDoc mirror scenario.cue's schema as a
// plain Go decode target; they're translated into a RunConfig by
// toRunConfig rather than used directly, the same two-step
// compile-then-decode shape as heistp-antler/config.go's LoadConfig.
type scenarioDist struct {
	Dist  string  `json:"dist"`
	Value float64 `json:"value"`
}

type scenarioFlow struct {
	Protocol    string       `json:"protocol"`
	OutRate     scenarioDist `json:"outRate"`
	OutSize     scenarioDist `json:"outSize"`
	InRate      scenarioDist `json:"inRate"`
	InSize      scenarioDist `json:"inSize"`
	Unordered   float64      `json:"unordered"`
	Unreliable  float64      `json:"unreliable"`
	Description string       `json:"description"`
	OnOff       []uint32     `json:"onoff"`
}

type scenarioDoc struct {
	Active     bool           `json:"active"`
	Endpoint   string         `json:"endpoint"`
	Port       int            `json:"port"`
	Runtime    int            `json:"runtime"`
	MaxMsgSize int            `json:"maxMsgSize"`
	Vector     string         `json:"vector"`
	Scalar     string         `json:"scalar"`
	Flows      []scenarioFlow `json:"flows"`
}

// LoadScenario loads a CUE scenario from the instance found at dir
// (typically "." with a single .cue data file alongside it), unifies it
// with the embedded schema, and translates the result into a RunConfig —
// an alternative to ParseArgs for repeatable test scenarios, per
// SPEC_FULL.md §6.
func LoadScenario(dir string) (*RunConfig, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(scenarioCUE, cue.Filename("scenario.cue"))
	if schema.Err() != nil {
		return nil, schema.Err()
	}

	insts := load.Instances([]string{}, &load.Config{Dir: dir})
	if len(insts) == 0 {
		return nil, fmt.Errorf("no CUE instance found in %s", dir)
	}
	data := ctx.BuildInstance(insts[0])
	if data.Err() != nil {
		return nil, data.Err()
	}

	v := data.Unify(schema)
	if v.Err() != nil {
		return nil, v.Err()
	}

	var doc scenarioDoc
	if err := v.Decode(&doc); err != nil {
		return nil, err
	}
	return toRunConfig(doc)
}

func toRunConfig(doc scenarioDoc) (*RunConfig, error) {
	cfg := &RunConfig{
		Active:     doc.Active,
		Endpoint:   doc.Endpoint,
		Port:       doc.Port,
		Runtime:    doc.Runtime,
		MaxMsgSize: doc.MaxMsgSize,
		VectorPath: doc.Vector,
		ScalarPath: doc.Scalar,
	}
	if cfg.MaxMsgSize == 0 {
		cfg.MaxMsgSize = defaultMaxMsgSize
	}
	for _, sf := range doc.Flows {
		proto, err := protocolFromName(sf.Protocol)
		if err != nil {
			return nil, err
		}
		cfg.Flows = append(cfg.Flows, FlowSpec{
			Protocol:    proto,
			OutRate:     toParam(sf.OutRate),
			OutSize:     toParam(sf.OutSize),
			InRate:      toParam(sf.InRate),
			InSize:      toParam(sf.InSize),
			Unordered:   sf.Unordered,
			Unreliable:  sf.Unreliable,
			Description: sf.Description,
			OnOff:       sf.OnOff,
		})
	}
	return cfg, nil
}

func protocolFromName(name string) (node.Protocol, error) {
	switch name {
	case "tcp":
		return node.ProtoReliableStream, nil
	case "udp":
		return node.ProtoDatagram, nil
	case "sctp":
		return node.ProtoMultiStreamMessage, nil
	case "dccp":
		return node.ProtoCongestionControlledDatagram, nil
	default:
		return 0, fmt.Errorf("unrecognized protocol %q", name)
	}
}

func toParam(d scenarioDist) node.Param {
	dist := node.DistConstant
	if d.Dist == "exp" {
		dist = node.DistNegExponential
	}
	return node.Param{Dist: dist, Value: d.Value}
}
