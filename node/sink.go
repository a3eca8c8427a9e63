// SPDX-License-Identifier: GPL-3.0-or-later

package node

import (
	"bufio"
	"compress/gzip"
	"os"
	"strings"
)

// Sink is an append-only text destination for one statistics stream
// (vector or scalar), mirroring the Open/write/Close contract of
// original_source/src/outputfile.h's OutputFile (initialize/printf/finish),
// translated into a small Go interface so the statistics writer doesn't
// care whether a sink is plain or compressed.
type Sink interface {
	Open(name string) error
	AppendLine(line string) error
	Close() error
}

// NewSink returns a PlainSink, or a GzipSink if name ends in ".gz" — the
// same filename-decides-compression convention outputfile.h's
// compressFile helper uses.
func NewSink(name string) Sink {
	if strings.HasSuffix(name, ".gz") {
		return &GzipSink{}
	}
	return &PlainSink{}
}

// PlainSink writes lines to an uncompressed, buffered, append-only file.
type PlainSink struct {
	f *os.File
	w *bufio.Writer
}

func (s *PlainSink) Open(name string) error {
	f, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	s.f = f
	s.w = bufio.NewWriter(f)
	return nil
}

func (s *PlainSink) AppendLine(line string) error {
	if _, err := s.w.WriteString(line); err != nil {
		return err
	}
	return s.w.WriteByte('\n')
}

func (s *PlainSink) Close() error {
	if s.w != nil {
		if err := s.w.Flush(); err != nil {
			s.f.Close()
			return err
		}
	}
	if s.f != nil {
		return s.f.Close()
	}
	return nil
}

// GzipSink writes lines to a gzip-compressed, append-only file. Unlike
// github.com/natefinch/lumberjack (used for the diagnostic log stream,
// internal/logging/log.go), compression here is a caller-chosen, per-session property
// of one continuously-written file, not a post-rotation transform of
// completed files — lumberjack has no mode for that, so this sink is built
// directly on the standard library's compress/gzip, as DESIGN.md records.
type GzipSink struct {
	f  *os.File
	gz *gzip.Writer
	w  *bufio.Writer
}

func (s *GzipSink) Open(name string) error {
	f, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	s.f = f
	s.gz = gzip.NewWriter(f)
	s.w = bufio.NewWriter(s.gz)
	return nil
}

func (s *GzipSink) AppendLine(line string) error {
	if _, err := s.w.WriteString(line); err != nil {
		return err
	}
	return s.w.WriteByte('\n')
}

func (s *GzipSink) Close() error {
	if s.w != nil {
		if err := s.w.Flush(); err != nil {
			s.gz.Close()
			s.f.Close()
			return err
		}
	}
	if s.gz != nil {
		if err := s.gz.Close(); err != nil {
			s.f.Close()
			return err
		}
	}
	if s.f != nil {
		return s.f.Close()
	}
	return nil
}
