// SPDX-License-Identifier: GPL-3.0-or-later

package node

import (
	"fmt"
	"time"

	"github.com/tiger-yu99/netperfmeter/node/metric"
)

// DefaultStatsInterval is the default snapshot period for the vector sink,
// per spec.md §4.I.
const DefaultStatsInterval = Micros(1000 * 1000)

// statsWriter is component I: it owns next_event (read by the scheduler's
// timeout computation) and writes one self-describing ASCII line per flow
// per tick to the vector sink, plus one summary line per flow at stop time
// to the scalar sink, each line's shape grounded on
// original_source/src/outputfile.h's printf-style per-line writes.
type statsWriter struct {
	rec      *recorder
	vector   Sink
	scalar   Sink
	interval Micros
	next     Micros
}

// newStatsWriter opens the configured sinks (either may be empty, meaning
// disabled) and schedules the first vector snapshot at now+interval.
func newStatsWriter(rec *recorder, vectorPath, scalarPath string, interval Micros, now Micros) (*statsWriter, error) {
	if interval <= 0 {
		interval = DefaultStatsInterval
	}
	sw := &statsWriter{rec: rec, interval: interval, next: Forever}
	if vectorPath != "" {
		sw.vector = NewSink(vectorPath)
		if err := sw.vector.Open(vectorPath); err != nil {
			return nil, ErrorFactory{Tag: "stats"}.NewErrore(KindResource, err)
		}
		sw.next = now + interval
	}
	if scalarPath != "" {
		sw.scalar = NewSink(scalarPath)
		if err := sw.scalar.Open(scalarPath); err != nil {
			return nil, ErrorFactory{Tag: "stats"}.NewErrore(KindResource, err)
		}
	}
	return sw, nil
}

// NextEvent returns the absolute deadline of the next vector snapshot, or
// Forever if no vector sink is configured.
func (sw *statsWriter) NextEvent() Micros {
	return sw.next
}

// Snapshot writes one vector line per flow (creation order) and reschedules
// the next snapshot, per spec.md §4.E step 5 / §4.I.
func (sw *statsWriter) Snapshot(now Micros, table *flowTable) error {
	if sw.vector == nil {
		return nil
	}
	var firstErr error
	table.InOrder(func(f *Flow) {
		if err := sw.vector.AppendLine(vectorLine(now, f)); err != nil && firstErr == nil {
			firstErr = err
		}
	})
	sw.next = now + sw.interval
	return firstErr
}

// Final writes the terminal scalar summary line per flow, called once at
// stop_at, per spec.md §4.I, and logs a human-readable bitrate summary for
// the operator watching the console.
func (sw *statsWriter) Final(now Micros, table *flowTable) error {
	table.InOrder(func(f *Flow) {
		sw.rec.Logf("flow %s: sent %s at %s, received %s at %s",
			f.Key,
			metric.Bytes(f.TransmittedBytes), averageBitrate(f.TransmittedBytes, f.FirstTransmission, f.LastTransmission),
			metric.Bytes(f.ReceivedBytes), averageBitrate(f.ReceivedBytes, f.FirstReception, f.LastReception))
	})
	if sw.scalar == nil {
		return nil
	}
	var firstErr error
	table.InOrder(func(f *Flow) {
		if err := sw.scalar.AppendLine(scalarLine(now, f)); err != nil && firstErr == nil {
			firstErr = err
		}
	})
	return firstErr
}

// averageBitrate returns the average metric.Bitrate for bytes transferred
// between first and last, or 0 if the span is empty.
func averageBitrate(bytes uint64, first, last Micros) metric.Bitrate {
	if first == 0 || last <= first {
		return 0
	}
	return metric.CalcBitrate(metric.Bytes(bytes), time.Duration(last-first)*time.Microsecond)
}

// Close flushes and closes whichever sinks are configured.
func (sw *statsWriter) Close() error {
	var firstErr error
	if sw.vector != nil {
		if err := sw.vector.Close(); err != nil {
			firstErr = err
		}
	}
	if sw.scalar != nil {
		if err := sw.scalar.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// vectorLine formats one per-tick delta line and rolls f's last-snapshot
// counters forward.
func vectorLine(now Micros, f *Flow) string {
	dtb := f.TransmittedBytes - f.LastTransmittedBytes
	dtp := f.TransmittedPackets - f.LastTransmittedPackets
	dtf := f.TransmittedFrames - f.LastTransmittedFrames
	drb := f.ReceivedBytes - f.LastReceivedBytes
	drp := f.ReceivedPackets - f.LastReceivedPackets
	drf := f.ReceivedFrames - f.LastReceivedFrames
	line := fmt.Sprintf(
		"t=%d flow=%s status=%s tx_bytes=%d tx_packets=%d tx_frames=%d rx_bytes=%d rx_packets=%d rx_frames=%d",
		now, f.Key, f.Status, dtb, dtp, dtf, drb, drp, drf)
	f.LastTransmittedBytes, f.LastTransmittedPackets, f.LastTransmittedFrames =
		f.TransmittedBytes, f.TransmittedPackets, f.TransmittedFrames
	f.LastReceivedBytes, f.LastReceivedPackets, f.LastReceivedFrames =
		f.ReceivedBytes, f.ReceivedPackets, f.ReceivedFrames
	return line
}

// scalarLine formats one end-of-measurement summary line, totals only, no
// deltas.
func scalarLine(now Micros, f *Flow) string {
	return fmt.Sprintf(
		"t=%d flow=%s status=%s tx_bytes=%d tx_packets=%d tx_frames=%d rx_bytes=%d rx_packets=%d rx_frames=%d first_tx=%d last_tx=%d first_rx=%d last_rx=%d",
		now, f.Key, f.Status,
		f.TransmittedBytes, f.TransmittedPackets, f.TransmittedFrames,
		f.ReceivedBytes, f.ReceivedPackets, f.ReceivedFrames,
		f.FirstTransmission, f.LastTransmission, f.FirstReception, f.LastReception)
}
