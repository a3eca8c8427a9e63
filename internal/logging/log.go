// SPDX-License-Identifier: GPL-3.0-or-later

// Package logging configures the process-wide zap logger used by the node
// package and the netperfmeter command, rotating and optionally compressing its output with
// lumberjack.
package logging

import (
	"os"

	"github.com/natefinch/lumberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options configures New.
type Options struct {
	// Path is the log file path. If empty, logs go to stderr and are not
	// rotated.
	Path string
	// Level is one of "debug", "info", "warn", "error".
	Level string
	// Compress rotated log files with gzip.
	Compress bool
}

var levelMap = map[string]zapcore.Level{
	"debug": zapcore.DebugLevel,
	"info":  zapcore.InfoLevel,
	"warn":  zapcore.WarnLevel,
	"error": zapcore.ErrorLevel,
}

// New returns a configured *zap.Logger. Callers must call Sync before exit.
func New(opt Options) *zap.Logger {
	lvl, ok := levelMap[opt.Level]
	if !ok {
		lvl = zapcore.InfoLevel
	}
	enabler := zap.LevelEnablerFunc(func(l zapcore.Level) bool {
		return l >= lvl
	})
	encCfg := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	var sink zapcore.WriteSyncer
	if opt.Path == "" {
		sink = zapcore.AddSync(os.Stderr)
	} else {
		sink = zapcore.AddSync(&lumberjack.Logger{
			Filename:   opt.Path,
			MaxSize:    64,
			MaxBackups: 5,
			MaxAge:     30,
			Compress:   opt.Compress,
		})
	}
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), sink, enabler)
	return zap.New(core, zap.AddCaller())
}
