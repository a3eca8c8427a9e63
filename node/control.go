// SPDX-License-Identifier: GPL-3.0-or-later

package node

import (
	"fmt"
)

// controlState is the passive side's per-measurement state machine named in
// spec.md §4.H. An accepted STOP_MEAS returns the machine straight to
// ctlIdle; ctlStopped is declared but never entered.
type controlState uint8

const (
	ctlIdle controlState = iota
	ctlConfiguring
	ctlRunning
	ctlStopped
)

func (s controlState) String() string {
	switch s {
	case ctlIdle:
		return "Idle"
	case ctlConfiguring:
		return "Configuring"
	case ctlRunning:
		return "Running"
	case ctlStopped:
		return "Stopped"
	default:
		return fmt.Sprintf("controlState(%d)", uint8(s))
	}
}

// pingInterval/pongGrace implement the PING/PONG heartbeat SPEC_FULL.md
// §4.H adds: the active peer pings every pingInterval, and treats a missing PONG
// within pongGrace as the control channel dying (spec.md §7's "abort").
const (
	pingInterval = Micros(2 * 1000 * 1000)
	pongGrace    = Micros(6 * 1000 * 1000)
)

// control drives the control-protocol wire format (controlcodec.go) and
// state machine for one measurement, on either peer role. It's attached to
// a Conn by the engine once the control association is established, and
// polled once per scheduler iteration.
type control struct {
	rec    *recorder
	ef     ErrorFactory
	active bool

	conn Conn
	rdr  *reader

	state       controlState
	measurement MeasurementID

	awaitingAck bool
	lastPingSent Micros
	lastPongSeen Micros
	// heartbeatStarted is set by the first tick, which starts the pongGrace clock.
	heartbeatStarted bool

	// OnAddFlow etc. are supplied by the engine to actually create/tear
	// down Flows and (dis)connect transports; control.go only knows the
	// wire protocol and the state machine that gates it.
	OnAddFlow    func(addFlowMsg) ackStatus
	OnRemoveFlow func(removeFlowMsg) ackStatus
	OnStartMeas  func(measMsg) ackStatus
	OnStopMeas   func(measMsg) ackStatus
}

// newControl returns a control for the given role. active is true for the
// peer that issues ADD_FLOW/REMOVE_FLOW/START_MEAS/STOP_MEAS requests.
func newControl(rec *recorder, active bool) *control {
	return &control{rec: rec, ef: ErrorFactory{Tag: "control"}, active: active, state: ctlIdle}
}

// attach binds conn as the control association, replacing any previous one.
func (c *control) attach(conn Conn, maxMsgSize int) {
	c.conn = conn
	c.rdr = newReader(conn, maxMsgSize)
}

// Connected reports whether a control association is attached.
func (c *control) Connected() bool {
	return c.conn != nil
}

// poll drains any pending control frames and dispatches them, then (active
// side only) sends a liveness PING every pingInterval. It returns
// a KindAbort *Error if the control channel is judged dead.
func (c *control) poll(ready map[int]readyFlags, now Micros) error {
	if c.conn == nil {
		return nil
	}
	for {
		m, code := c.rdr.read()
		switch code {
		case ReadPartial:
			return c.tick(now)
		case ReadComplete:
			if err := c.dispatch(m, now); err != nil {
				return err
			}
		case ReadSocketError, ReadStreamError:
			return c.ef.NewErrorf(KindAbort, "control channel lost")
		case ReadBadSocket:
			return nil
		}
	}
}

// tick implements the heartbeat half of poll: on the active side, ping
// periodically and abort if no PONG has been seen within pongGrace.
func (c *control) tick(now Micros) error {
	if !c.active {
		return nil
	}
	if !c.heartbeatStarted {
		c.heartbeatStarted = true
		c.lastPongSeen = now
	}
	if now-c.lastPongSeen > pongGrace {
		return c.ef.NewErrorf(KindAbort, "control channel unresponsive")
	}
	if now-c.lastPingSent > pingInterval {
		c.send(typePing, nil)
		c.lastPingSent = now
	}
	return nil
}

// dispatch handles one decoded control Message, per spec.md §4.H's state
// machine and message set.
func (c *control) dispatch(m Message, now Micros) error {
	if c.active {
		switch m.Type {
		case typeAck:
			a, ok := decodeAck(m.Payload)
			if !ok {
				return nil
			}
			c.awaitingAck = false
			if a.Status != ackOK {
				c.rec.Warnf("request type %#x rejected: status %d", a.RefType, a.Status)
			}
		case typePing:
			c.send(typePong, nil)
		case typePong:
			c.lastPongSeen = now
		default:
			c.rec.Logf("unexpected control message type %#x on active side", m.Type)
		}
		return nil
	}
	switch m.Type {
	case typeAddFlow:
		a, ok := decodeAddFlow(m.Payload)
		if !ok {
			c.ack(typeAddFlow, ackRejected)
			return nil
		}
		if c.state != ctlIdle && c.state != ctlConfiguring {
			c.ack(typeAddFlow, ackRejected)
			return nil
		}
		status := ackRejected
		if c.OnAddFlow != nil {
			status = c.OnAddFlow(a)
		}
		if status == ackOK {
			c.measurement = a.Key.Measurement
			c.state = ctlConfiguring
		}
		c.ack(typeAddFlow, status)
	case typeRemoveFlow:
		r, ok := decodeRemoveFlow(m.Payload)
		if !ok {
			c.ack(typeRemoveFlow, ackRejected)
			return nil
		}
		status := ackRejected
		if c.OnRemoveFlow != nil {
			status = c.OnRemoveFlow(r)
		}
		c.ack(typeRemoveFlow, status)
	case typeStartMeas:
		meas, ok := decodeMeas(m.Payload)
		if !ok {
			c.ack(typeStartMeas, ackRejected)
			return nil
		}
		if c.state == ctlRunning && meas.Measurement == c.measurement {
			c.ack(typeStartMeas, ackOK) // idempotent per spec.md §4.H
			return nil
		}
		status := ackRejected
		if c.OnStartMeas != nil {
			status = c.OnStartMeas(meas)
		}
		if status == ackOK {
			c.measurement = meas.Measurement
			c.state = ctlRunning
		}
		c.ack(typeStartMeas, status)
	case typeStopMeas:
		meas, ok := decodeMeas(m.Payload)
		if !ok {
			c.ack(typeStopMeas, ackRejected)
			return nil
		}
		if c.state == ctlIdle {
			c.ack(typeStopMeas, ackOK) // no-op success per spec.md §4.H
			return nil
		}
		status := ackRejected
		if c.OnStopMeas != nil {
			status = c.OnStopMeas(meas)
		}
		if status == ackOK {
			c.state = ctlIdle
		}
		c.ack(typeStopMeas, status)
	case typePing:
		c.send(typePong, nil)
	case typePong:
		c.lastPongSeen = now
	default:
		c.ack(m.Type, ackUnsupported)
	}
	return nil
}

func (c *control) ack(refType uint8, status ackStatus) {
	c.send(typeAck, encodeAck(ackMsg{refType, status}))
}

// send frames and writes one control PDU, discarding a would-block result:
// control traffic is small and infrequent enough that a dropped PING/PONG
// is harmless. A request (ADD_FLOW etc.) dropped this way is not re-sent,
// and AwaitingAck stays true.
func (c *control) send(t uint8, payload []byte) {
	buf := make([]byte, 4+len(payload))
	buf[0] = t
	buf[1] = 0
	putLength(buf, len(payload))
	copy(buf[4:], payload)
	c.conn.Send(buf, 0, true, true)
}

func putLength(buf []byte, payloadLen int) {
	length := headerSize + payloadLen
	buf[2] = byte(length >> 8)
	buf[3] = byte(length)
}

// request sends one active-side request PDU, enforcing spec.md §4.H's
// synchronous ACK rule: callers must check AwaitingAck() before issuing the
// next one.
func (c *control) request(t uint8, payload []byte) {
	c.send(t, payload)
	c.awaitingAck = true
}

// AwaitingAck reports whether the active side is still waiting for the ACK
// to its last request.
func (c *control) AwaitingAck() bool {
	return c.awaitingAck
}

func (c *control) SendAddFlow(m addFlowMsg)       { c.request(typeAddFlow, encodeAddFlow(m)) }
func (c *control) SendRemoveFlow(m removeFlowMsg) { c.request(typeRemoveFlow, encodeRemoveFlow(m)) }
func (c *control) SendStartMeas(m measMsg)         { c.request(typeStartMeas, encodeMeas(m)) }
func (c *control) SendStopMeas(m measMsg)          { c.request(typeStopMeas, encodeMeas(m)) }
