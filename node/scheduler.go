// SPDX-License-Identifier: GPL-3.0-or-later

package node

import (
	"context"
	"fmt"
	"time"
)

// loopState is the scheduler's own run state, distinct from any individual
// flow's Status, following the shape of heistp-antler/node/node.go's state
// enum (there: run/cancel/canceled/done) generalized here to the three
// states a single cooperative loop needs.
type loopState uint8

const (
	loopRunning loopState = iota
	loopDraining
	loopStopped
)

func (s loopState) String() string {
	switch s {
	case loopRunning:
		return "running"
	case loopDraining:
		return "draining"
	case loopStopped:
		return "stopped"
	default:
		return fmt.Sprintf("loopState(%d)", uint8(s))
	}
}

// quicPollInterval bounds how long the poll primitive ever blocks while any
// QUIC-backed (unpollable, pollFD() == -1) handle is registered, since such
// handles can't be folded into the epoll wait and must be attempted
// directly every iteration instead.
const quicPollInterval = 5 * time.Millisecond

// registeredConn is one accepted or dialed data connection under scheduler
// management: its framed reader, and the Flow that owns it (for
// non-multi-stream transports) or nil (multi-stream flows are resolved per
// message, by StreamID, via the flowTable).
type registeredConn struct {
	conn  Conn
	rdr   *reader
	owner *Flow // nil for ProtoMultiStreamMessage conns, which may host several flows
}

// Scheduler is the single-threaded, cooperative main loop of spec.md §4.E:
// component E. One Scheduler drives one measurement's data plane; the
// control protocol (component H) and statistics writer (component I) are
// driven from the same loop, never from their own goroutines.
type Scheduler struct {
	rec   *recorder
	ef    ErrorFactory
	clock Clock
	poll  *pollSet
	table *flowTable
	snd   sender
	rcv   *receiver
	ctrl  *control
	stats *statsWriter

	maxMsgSize int
	stopAt     Micros

	pollableListeners   map[int]Listener
	unpollableListeners []Listener

	pollableConns   map[int]*registeredConn
	unpollableConns []*registeredConn

	// AcceptHook lets the engine decide which Flow (if any) owns a newly
	// accepted data Conn; returning nil registers the Conn with no owner,
	// for transports where ownership is resolved per message instead (the
	// multi-stream transport's ByConnStream lookup, or the connectionless
	// BySource lookup via Mirror).
	AcceptHook func(c Conn) *Flow
	// Mirror lazily creates a passive-side Flow for a not-yet-seen source
	// address on a connectionless transport, per spec.md §4.G.
	Mirror func(addr string) *Flow

	// ctrlListener is the passive peer's control listener (port P+1); once
	// it yields a connection, ctrl is attached and the listener is closed
	// (only one control association is ever accepted per measurement).
	ctrlListener Listener

	// OnIteration, if set, is called once per loop iteration before the
	// control/accept/receive/flow dispatch steps, letting the engine drive
	// its setup sequence (sending ADD_FLOW/START_MEAS) from inside the same
	// single-threaded loop rather than from a separate goroutine. Teardown
	// (STOP_MEAS/REMOVE_FLOW) is not driven from here: Engine.Run sends it
	// after Run returns.
	OnIteration func(now Micros)

	state loopState
}

// NewScheduler returns a Scheduler ready to have listeners and the control
// channel attached before Run is called.
func NewScheduler(rec *recorder, table *flowTable, ctrl *control, stats *statsWriter, maxMsgSize int, stopAt Micros) (*Scheduler, error) {
	p, err := newPollSet()
	if err != nil {
		return nil, ErrorFactory{Tag: "scheduler"}.NewErrore(KindResource, err)
	}
	return &Scheduler{
		rec:               rec,
		ef:                ErrorFactory{Tag: "scheduler"},
		clock:             Clock{},
		poll:              p,
		table:             table,
		snd:               sender{pattern: 0x5a},
		rcv:               newReceiver(table, rec),
		ctrl:              ctrl,
		stats:             stats,
		maxMsgSize:        maxMsgSize,
		stopAt:            stopAt,
		pollableListeners: make(map[int]Listener),
		pollableConns:     make(map[int]*registeredConn),
		state:             loopRunning,
	}, nil
}

// AddListener registers a passive-side data listener for one protocol. Data
// listeners are only present on the passive peer; the active peer dials
// per-flow connections instead, via Engine.dialDataConn.
func (s *Scheduler) AddListener(l Listener) {
	if fd := l.pollFD(); fd >= 0 {
		s.pollableListeners[fd] = l
		s.poll.Add(fd, false)
	} else {
		s.unpollableListeners = append(s.unpollableListeners, l)
	}
}

// SetStopAt updates the measurement's stop deadline, used once the active
// peer knows when START_MEAS actually took effect.
func (s *Scheduler) SetStopAt(t Micros) {
	s.stopAt = t
}

// AttachControlListener registers the passive peer's control listener. It's
// checked on every iteration until it yields the one control connection,
// after which it's closed.
func (s *Scheduler) AttachControlListener(l Listener) {
	s.ctrlListener = l
	if fd := l.pollFD(); fd >= 0 {
		s.poll.Add(fd, false)
	}
}

// registerConn adds an established Conn to the scheduler's dispatch tables,
// associating it with owner (nil for multi-stream group connections, which
// may carry several flows).
func (s *Scheduler) registerConn(c Conn, owner *Flow) *registeredConn {
	rc := &registeredConn{conn: c, rdr: newReader(c, s.maxMsgSize), owner: owner}
	if fd := c.pollFD(); fd >= 0 {
		s.pollableConns[fd] = rc
		s.poll.Add(fd, false)
	} else {
		s.unpollableConns = append(s.unpollableConns, rc)
	}
	return rc
}

// Run drives the loop until ctx is canceled or stop_at is reached, per
// spec.md §4.E/§5. It returns the first KindAbort error from the control
// channel, a KindResource error if the poll wait fails, or nil on a clean
// stop.
func (s *Scheduler) Run(ctx context.Context) error {
	defer s.poll.Close()
	for s.state != loopStopped {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		now := s.clock.Now()
		timeout := s.nextTimeout(now)
		ready, err := s.poll.Wait(timeout)
		if err != nil {
			return s.ef.NewErrore(KindResource, err)
		}
		now = s.clock.Now()

		if s.OnIteration != nil {
			s.OnIteration(now)
		}

		// a. control channel
		if abort := s.pollControl(ready, now); abort != nil {
			return abort
		}

		// b. listening handles -> accept
		s.acceptNew(ready, now)

		// c. accepted/owner handles with READABLE -> receiver pipeline
		s.receiveReadable(ready, now)

		// d. per-flow status change and transmission, in creation order
		s.table.InOrder(func(f *Flow) {
			s.driveFlow(f, ready, now)
		})

		if now >= s.stopAt {
			s.state = loopStopped
			if s.stats != nil {
				if e := s.stats.Final(now, s.table); e != nil {
					s.rec.Warnf("final statistics: %s", e)
				}
			}
		}

		if s.stats != nil && s.stats.NextEvent() <= now {
			if e := s.stats.Snapshot(now, s.table); e != nil {
				s.rec.Warnf("statistics snapshot: %s", e)
			}
		}
	}
	return nil
}

// nextTimeout computes spec.md §4.E step 2's poll timeout: the delta to the
// nearest of every flow's next_status_change/next_transmission, the next
// statistics snapshot, and stop_at, floored at zero. It's additionally
// capped at quicPollInterval whenever any QUIC-backed (unpollable) handle
// is registered, since such handles need direct polling every iteration
// rather than an epoll wakeup.
func (s *Scheduler) nextTimeout(now Micros) time.Duration {
	deadline := s.stopAt
	if s.stats != nil {
		if e := s.stats.NextEvent(); e < deadline {
			deadline = e
		}
	}
	s.table.InOrder(func(f *Flow) {
		if f.NextStatusChangeEvent < deadline {
			deadline = f.NextStatusChangeEvent
		}
		if f.NextTransmissionEvent < deadline {
			deadline = f.NextTransmissionEvent
		}
	})
	d := time.Duration(deadline-now) * time.Microsecond
	if d < 0 {
		d = 0
	}
	if len(s.unpollableConns) > 0 || len(s.unpollableListeners) > 0 {
		if d > quicPollInterval {
			d = quicPollInterval
		}
	}
	return d
}

// pollControl implements spec.md §4.E step 3a: first accept the control
// connection if it hasn't arrived yet (passive peer), then drain it.
func (s *Scheduler) pollControl(ready map[int]readyFlags, now Micros) error {
	if s.ctrl == nil {
		return nil
	}
	if s.ctrlListener != nil && !s.ctrl.Connected() {
		if c, err := s.ctrlListener.Accept(); err == nil {
			c.SetNonblocking(true)
			s.ctrl.attach(c, s.maxMsgSize)
			s.ctrlListener.Close()
			s.ctrlListener = nil
		} else if err != ErrWouldBlock {
			s.rec.Warnf("control accept: %s", err)
		}
	}
	return s.ctrl.poll(ready, now)
}

// acceptNew implements spec.md §4.E step 3b: every listening handle whose
// interest fired (or, for QUIC listeners with no raw fd, every listening
// handle unconditionally) is drained of pending connections.
func (s *Scheduler) acceptNew(ready map[int]readyFlags, now Micros) {
	for fd, l := range s.pollableListeners {
		if !ready[fd].Readable {
			continue
		}
		s.acceptAllFrom(l)
	}
	for _, l := range s.unpollableListeners {
		s.acceptAllFrom(l)
	}
}

func (s *Scheduler) acceptAllFrom(l Listener) {
	for {
		c, err := l.Accept()
		if err != nil {
			if err != ErrWouldBlock {
				s.rec.Warnf("accept: %s", err)
			}
			return
		}
		c.SetNonblocking(true)
		var owner *Flow
		if s.AcceptHook != nil {
			owner = s.AcceptHook(c)
		}
		s.registerConn(c, owner)
	}
}

// receiveReadable implements spec.md §4.E step 3c: every registered
// accepted/owner handle with data pending is drained through the framed
// reader and handed to the receiver (component G).
func (s *Scheduler) receiveReadable(ready map[int]readyFlags, now Micros) {
	for fd, rc := range s.pollableConns {
		if !ready[fd].Readable {
			continue
		}
		s.drainConn(rc, now)
	}
	for _, rc := range s.unpollableConns {
		s.drainConn(rc, now)
	}
}

func (s *Scheduler) drainConn(rc *registeredConn, now Micros) {
	for {
		m, code := rc.rdr.read()
		switch code {
		case ReadPartial:
			return
		case ReadComplete:
			s.rcv.deliver(rc.conn, m, now, s.Mirror)
		case ReadSocketError, ReadStreamError:
			s.closeConn(rc)
			return
		case ReadBadSocket:
			return
		}
	}
}

func (s *Scheduler) closeConn(rc *registeredConn) {
	if fd := rc.conn.pollFD(); fd >= 0 {
		s.poll.Remove(fd)
		delete(s.pollableConns, fd)
	} else {
		for i, u := range s.unpollableConns {
			if u == rc {
				s.unpollableConns = append(s.unpollableConns[:i], s.unpollableConns[i+1:]...)
				break
			}
		}
	}
	rc.conn.Close()
}

// driveFlow implements spec.md §4.E step 3d: a status change if due, then a
// saturated or paced firing if the flow is On.
func (s *Scheduler) driveFlow(f *Flow, ready map[int]readyFlags, now Micros) {
	f.statusChangeEvent(now)
	s.updateWritableInterest(f)
	if f.Status != On {
		return
	}
	if f.IsSaturated() {
		if f.Conn == nil {
			return
		}
		fd := f.Conn.pollFD()
		if fd >= 0 && !ready[fd].Writable {
			return
		}
		if err := s.snd.fire(f, now, s.maxMsgSize); err != nil {
			s.rec.Warnf("send on flow %s: %s", f.Key, err)
		}
		return
	}
	s.fireCatchingUp(f, now)
}

// fireCatchingUp implements the paced-sender half of step 3d, including the
// ≤1s catch-up cap of spec.md §4.E/§9: the comparison is against
// last_transmission, not against the missed scheduled deadlines themselves.
func (s *Scheduler) fireCatchingUp(f *Flow, now Micros) {
	if f.NextTransmissionEvent > now {
		return
	}
	const catchUpCap = Micros(time.Second / time.Microsecond)
	if f.LastTransmission != 0 && now-f.LastTransmission > catchUpCap {
		if err := s.snd.fire(f, now, s.maxMsgSize); err != nil {
			s.rec.Warnf("send on flow %s: %s", f.Key, err)
		}
		f.scheduleNextTransmission()
		return
	}
	for f.NextTransmissionEvent <= now {
		err := s.snd.fire(f, now, s.maxMsgSize)
		if err == ErrWouldBlock {
			// the handle isn't writable yet: stop here and retry once it is,
			// without advancing the deadline.
			break
		}
		if err != nil {
			s.rec.Warnf("send on flow %s: %s", f.Key, err)
		}
		// always reschedule, even on a real error: otherwise
		// NextTransmissionEvent never advances and this becomes a tight
		// busy-loop re-logging the same failure every iteration.
		f.scheduleNextTransmission()
		if err != nil {
			break
		}
	}
}

// updateWritableInterest toggles epoll's writable interest for a saturated
// flow's owner handle. driveFlow calls it for every flow on every
// iteration, right after the flow's status change.
func (s *Scheduler) updateWritableInterest(f *Flow) {
	if f.Conn == nil {
		return
	}
	fd := f.Conn.pollFD()
	if fd < 0 {
		return
	}
	s.poll.SetWritable(fd, f.Status == On && f.IsSaturated())
}
