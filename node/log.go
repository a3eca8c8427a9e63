// SPDX-License-Identifier: GPL-3.0-or-later

package node

import "go.uber.org/zap"

// recorder is a small helper pairing a tagged *zap.Logger with an
// ErrorFactory of the same tag, so components can both log and construct
// Errors without repeating the tag.
type recorder struct {
	tag string
	log *zap.Logger
	ErrorFactory
}

// newRecorder returns a new recorder for the given tag, using log as its
// base logger.
func newRecorder(tag string, log *zap.Logger) *recorder {
	return &recorder{tag, log.With(zap.String("component", tag)), ErrorFactory{tag}}
}

// WithTag returns a copy of this recorder with a different tag.
func (r *recorder) WithTag(tag string) *recorder {
	return newRecorder(tag, r.log)
}

// Logf logs an info message using printf-style args.
func (r *recorder) Logf(format string, a ...interface{}) {
	r.log.Sugar().Infof(format, a...)
}

// Warnf logs a warning message using printf-style args.
func (r *recorder) Warnf(format string, a ...interface{}) {
	r.log.Sugar().Warnf(format, a...)
}
