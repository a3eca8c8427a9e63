// SPDX-License-Identifier: GPL-3.0-or-later

package node

import (
	"context"
	"math/rand"
	"net"
	"strconv"

	"go.uber.org/zap"
)

// FlowRequest is one flow the active peer asks for, translated from a
// parsed CLI or scenario-file flow spec (config.FlowSpec) into the fields
// ADD_FLOW needs.
type FlowRequest struct {
	Protocol                  Protocol
	OutRate, OutSize          Param
	InRate, InSize            Param
	OrderedMode, ReliableMode float64
	OnOff                     []uint32
	Description               string
}

// EngineConfig configures one run of the engine, active or passive, per
// spec.md §6's CLI surface.
type EngineConfig struct {
	Active        bool
	DataPort      int    // passive: listening port for data traffic (control uses DataPort+1)
	RemoteAddr    string // active: "host:port" of the passive peer's data port
	Flows         []FlowRequest
	Runtime       Micros
	MaxMsgSize    int
	VectorPath    string
	ScalarPath    string
	StatsInterval Micros
}

// Engine wires the scheduler (E), control protocol (H) and flow registry
// together for one measurement, on either peer role. It owns the
// active side's request sequencing (ADD_FLOW* → START_MEAS → … →
// STOP_MEAS → REMOVE_FLOW*). Setup is driven cooperatively from inside the
// scheduler's single-threaded loop via Scheduler.OnIteration, each request
// waiting for the previous ACK. Teardown is sent by Run after the loop has
// returned: STOP_MEAS and every REMOVE_FLOW back to back, without waiting
// for their ACKs.
type Engine struct {
	rec   *recorder
	cfg   EngineConfig
	ef    ErrorFactory
	clock Clock

	table *flowTable
	ctrl  *control
	sched *Scheduler

	measurement MeasurementID

	// shared, per-protocol connections for transports where several
	// flows multiplex one underlying association (multi-stream message)
	// or one shared listening socket (datagram).
	sharedConn map[Protocol]Conn
	// pendingByProto queues Flows awaiting a Conn: FIFO for one-Conn-per-
	// flow transports (reliable stream, cc-datagram), and "all of these
	// get the next shared Conn" for datagram/multi-stream.
	pendingByProto map[Protocol][]*Flow

	// active-side setup sequencing
	nextFlowID   FlowID
	nextStreamID StreamID
	addIdx       int
	allAdded     bool
	started      bool
}

// NewEngine returns an Engine ready to Run, logging through log (a
// process-wide *zap.Logger, typically from internal/logging).
func NewEngine(log *zap.Logger, cfg EngineConfig) *Engine {
	return &Engine{
		rec:            newRecorder("engine", log),
		cfg:            cfg,
		ef:             ErrorFactory{Tag: "engine"},
		sharedConn:     make(map[Protocol]Conn),
		pendingByProto: make(map[Protocol][]*Flow),
	}
}

// Run sets up the transports and control channel for the configured role,
// then drives the scheduler until the measurement completes.
func (e *Engine) Run(ctx context.Context) error {
	if e.cfg.MaxMsgSize < 128 {
		e.cfg.MaxMsgSize = 128
	} else if e.cfg.MaxMsgSize > 65536 {
		e.cfg.MaxMsgSize = 65536
	}
	now := e.clock.Now()
	e.measurement = MeasurementID(now)
	e.table = newFlowTable()
	e.ctrl = newControl(e.rec, e.cfg.Active)

	stats, err := newStatsWriter(e.rec, e.cfg.VectorPath, e.cfg.ScalarPath, e.cfg.StatsInterval, now)
	if err != nil {
		return err
	}
	defer stats.Close()

	sched, err := NewScheduler(e.rec, e.table, e.ctrl, stats, e.cfg.MaxMsgSize, Forever)
	if err != nil {
		return err
	}
	e.sched = sched
	sched.AcceptHook = e.onAccept
	sched.Mirror = e.onMirror
	sched.OnIteration = e.onIteration

	if e.cfg.Active {
		if err := e.setupActive(ctx); err != nil {
			return err
		}
	} else {
		if err := e.setupPassive(); err != nil {
			return err
		}
		e.ctrl.OnAddFlow = e.onAddFlow
		e.ctrl.OnRemoveFlow = e.onRemoveFlow
		e.ctrl.OnStartMeas = e.onStartMeas
		e.ctrl.OnStopMeas = e.onStopMeas
	}

	runErr := sched.Run(ctx)
	if e.cfg.Active && e.ctrl.Connected() {
		e.ctrl.SendStopMeas(measMsg{e.measurement})
		e.table.InOrder(func(f *Flow) {
			e.ctrl.SendRemoveFlow(removeFlowMsg{f.Key})
		})
	}
	return runErr
}

// setupActive dials the control association and leaves the per-flow data
// connections to be dialed lazily as ADD_FLOW requests are issued.
func (e *Engine) setupActive(ctx context.Context) error {
	host, port, err := net.SplitHostPort(e.cfg.RemoteAddr)
	if err != nil {
		return e.ef.NewErrorf(KindConfig, "bad remote endpoint %q: %v", e.cfg.RemoteAddr, err)
	}
	dataPort, err := strconv.Atoi(port)
	if err != nil {
		return e.ef.NewErrorf(KindConfig, "bad remote port %q: %v", port, err)
	}
	controlAddr := net.JoinHostPort(host, strconv.Itoa(dataPort+1))

	tr, _ := NewTransport(ProtoReliableStream)
	cc, err := tr.Dial(ctx, controlAddr)
	if err != nil {
		return e.ef.NewErrore(KindTransport, err)
	}
	cc.SetNonblocking(true)
	e.ctrl.attach(cc, e.cfg.MaxMsgSize)
	return nil
}

// setupPassive opens the four data listeners (one may be absent if the
// platform lacks the transport) and the control listener.
func (e *Engine) setupPassive() error {
	dataAddr := net.JoinHostPort("", strconv.Itoa(e.cfg.DataPort))
	controlAddr := net.JoinHostPort("", strconv.Itoa(e.cfg.DataPort+1))

	for _, p := range []Protocol{
		ProtoReliableStream, ProtoDatagram,
		ProtoMultiStreamMessage, ProtoCongestionControlledDatagram,
	} {
		tr, err := NewTransport(p)
		if err != nil {
			continue
		}
		l, err := tr.Listen(dataAddr)
		if err != nil {
			e.rec.Warnf("listen %s on %s: %s (transport unavailable on this host)", p, dataAddr, err)
			continue
		}
		e.sched.AddListener(l)
	}

	ctr, err := NewTransport(ProtoReliableStream)
	if err != nil {
		return err
	}
	cl, err := ctr.Listen(controlAddr)
	if err != nil {
		return e.ef.NewErrore(KindTransport, err)
	}
	e.sched.AttachControlListener(cl)
	return nil
}

// onIteration drives the active peer's ADD_FLOW/START_MEAS sequencing
// per spec.md §4.H's synchronous-ACK rule: the next request is only
// issued once the previous one's ACK has arrived.
func (e *Engine) onIteration(now Micros) {
	if !e.cfg.Active || !e.ctrl.Connected() || e.ctrl.AwaitingAck() {
		return
	}
	if e.addIdx < len(e.cfg.Flows) {
		e.issueNextAddFlow(now)
		return
	}
	if !e.allAdded {
		e.allAdded = true
		e.ctrl.SendStartMeas(measMsg{e.measurement})
		return
	}
	if !e.started {
		e.started = true
		e.sched.SetStopAt(now + e.cfg.Runtime)
		e.table.InOrder(func(f *Flow) { f.start(now) })
	}
}

func (e *Engine) issueNextAddFlow(now Micros) {
	req := e.cfg.Flows[e.addIdx]
	e.addIdx++

	flowID := e.nextFlowID
	e.nextFlowID++
	var stream StreamID
	if req.Protocol == ProtoMultiStreamMessage {
		stream = e.nextStreamID
		e.nextStreamID++
	}
	key := FlowKey{e.measurement, flowID, stream}

	conn, err := e.dialDataConn(req.Protocol)
	if err != nil {
		e.rec.Warnf("dial flow %s: %s", key, err)
		return
	}

	f := NewFlow(key, req.Protocol, now, req.OnOff, rand.New(rand.NewSource(int64(flowID)+1)))
	f.Description = req.Description
	f.OutRate, f.OutSize = req.OutRate, req.OutSize
	f.InRate, f.InSize = req.InRate, req.InSize
	f.OrderedMode, f.ReliableMode = req.OrderedMode, req.ReliableMode
	e.table.Add(f)
	e.table.BindConn(f, conn)
	f.Owner = req.Protocol != ProtoMultiStreamMessage || stream == 0

	e.ctrl.SendAddFlow(addFlowMsg{
		Key: key, Protocol: req.Protocol,
		InRate: req.InRate, InSize: req.InSize,
		OutRate: req.OutRate, OutSize: req.OutSize,
		OrderedMode: req.OrderedMode, ReliableMode: req.ReliableMode,
		OnOff: req.OnOff, Description: req.Description,
	})
}

// dialDataConn returns the Conn for a newly added flow's protocol, dialing
// and registering a new one, or reusing the shared multi-stream
// association once one has been established.
func (e *Engine) dialDataConn(proto Protocol) (Conn, error) {
	if proto == ProtoMultiStreamMessage {
		if c, ok := e.sharedConn[proto]; ok {
			return c, nil
		}
	}
	tr, err := NewTransport(proto)
	if err != nil {
		return nil, err
	}
	c, err := tr.Dial(context.Background(), e.cfg.RemoteAddr)
	if err != nil {
		return nil, e.ef.NewErrore(KindTransport, err)
	}
	c.SetNonblocking(true)
	e.sched.registerConn(c, nil)
	if proto == ProtoMultiStreamMessage {
		e.sharedConn[proto] = c
	}
	return c, nil
}

// onAccept resolves the Flow (if any) that owns a newly accepted passive-
// side data Conn, per spec.md §4.E.1/§4.G.1:
//   - reliable stream, cc-datagram: one Conn per flow, FIFO by add order.
//   - datagram: one shared socket for every flow of that protocol,
//     resolved later by source address (receiver.deliver's BySource path).
//   - multi-stream: one shared association for every flow of that
//     protocol, resolved later by StreamID (ByConnStream).
func (e *Engine) onAccept(c Conn) *Flow {
	proto := c.Protocol()
	if proto == ProtoDatagram || proto == ProtoMultiStreamMessage {
		e.sharedConn[proto] = c
		q := e.pendingByProto[proto]
		for _, f := range q {
			e.table.BindConn(f, c)
		}
		if len(q) > 0 {
			q[0].Owner = true
		}
		e.pendingByProto[proto] = nil
		return nil
	}
	q := e.pendingByProto[proto]
	if len(q) == 0 {
		e.rec.Warnf("accepted %s connection with no pending flow", proto)
		return nil
	}
	f := q[0]
	e.pendingByProto[proto] = q[1:]
	e.table.BindConn(f, c)
	f.Owner = true
	return f
}

// onMirror implements the passive-side lazy mirror for connectionless
// flows: the first unbound datagram flow, in creation order, is assigned
// to the first source address seen for it.
func (e *Engine) onMirror(addr string) *Flow {
	var found *Flow
	e.table.InOrder(func(f *Flow) {
		if found == nil && f.Protocol == ProtoDatagram && !f.RemoteAddrBound {
			found = f
		}
	})
	return found
}

// onAddFlow is the passive side's control.OnAddFlow hook: it creates the
// Flow (outbound/inbound swapped relative to the active peer's naming,
// since what the active peer calls "inbound" is what this peer transmits)
// and queues it for a Conn.
func (e *Engine) onAddFlow(a addFlowMsg) ackStatus {
	f := NewFlow(a.Key, a.Protocol, e.clock.Now(), a.OnOff, rand.New(rand.NewSource(int64(a.Key.Flow)+1)))
	f.Description = a.Description
	f.OutRate, f.OutSize = a.InRate, a.InSize
	f.InRate, f.InSize = a.OutRate, a.OutSize
	f.OrderedMode, f.ReliableMode = a.OrderedMode, a.ReliableMode
	e.table.Add(f)
	if c, ok := e.sharedConn[a.Protocol]; ok {
		e.table.BindConn(f, c)
	} else {
		e.pendingByProto[a.Protocol] = append(e.pendingByProto[a.Protocol], f)
	}
	return ackOK
}

// onRemoveFlow is the passive side's control.OnRemoveFlow hook.
func (e *Engine) onRemoveFlow(m removeFlowMsg) ackStatus {
	f, ok := e.table.ByKey(m.Key)
	if !ok {
		return ackRejected
	}
	if f.Owner && f.Conn != nil {
		f.Conn.Close()
	}
	e.table.Remove(f)
	return ackOK
}

// onStartMeas is the passive side's control.OnStartMeas hook.
func (e *Engine) onStartMeas(m measMsg) ackStatus {
	now := e.clock.Now()
	e.table.InOrder(func(f *Flow) { f.start(now) })
	return ackOK
}

// onStopMeas is the passive side's control.OnStopMeas hook: it asks the
// scheduler to stop on its next iteration, which triggers the final
// scalar snapshot.
func (e *Engine) onStopMeas(m measMsg) ackStatus {
	e.sched.SetStopAt(e.clock.Now())
	return ackOK
}
