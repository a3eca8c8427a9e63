// SPDX-License-Identifier: GPL-3.0-or-later

package node

// receiver consumes inbound frames delivered by a reader and updates the
// owning Flow's counters, implementing spec.md §4.G.
type receiver struct {
	table *flowTable
	rec   *recorder
}

// newReceiver returns a receiver bound to the given flowTable.
func newReceiver(table *flowTable, rec *recorder) *receiver {
	return &receiver{table, rec}
}

// deliver resolves m's owning Flow and updates its counters, per spec.md
// §4.G:
//  1. resolve by (handle, StreamID) for multi-stream, else by handle; on
//     connectionless transports without an association, resolve by source
//     address, creating a mirror flow lazily on the passive side.
//  2. update first/last reception, bytes, packets, frames.
//  3. silently discard notifications and malformed frames after logging.
func (r *receiver) deliver(conn Conn, m Message, now Micros, mirror func(addr string) *Flow) {
	if m.Notification {
		r.rec.Logf("discarding notification on %v stream %d", conn, m.Stream)
		return
	}

	var f *Flow
	var ok bool
	switch {
	case conn.SupportsMultiStream():
		f, ok = r.table.ByConnStream(conn, m.Stream)
	case !conn.IsStreamOriented() && m.Source != nil:
		if dc, isDC := conn.(*datagramConn); isDC && dc.connected {
			// a dialed (connected) datagram socket is its flow's own association
			f, ok = r.table.ByConn(conn)
			break
		}
		f, ok = r.table.BySource(m.Source.String())
		if !ok && mirror != nil {
			f = mirror(m.Source.String())
			ok = f != nil
			if ok {
				r.table.BindSource(m.Source.String(), m.Source, f)
			}
		}
	default:
		f, ok = r.table.ByConn(conn)
	}
	if !ok {
		r.rec.Logf("discarding frame for unknown flow on %v stream %d", conn, m.Stream)
		return
	}

	if f.FirstReception == 0 {
		f.FirstReception = now
	}
	f.LastReception = now
	reads := m.Reads
	if reads < 1 {
		reads = 1
	}
	f.ReceivedPackets += uint64(reads)
	f.ReceivedBytes += uint64(headerSize + len(m.Payload))
	f.ReceivedFrames++
}
