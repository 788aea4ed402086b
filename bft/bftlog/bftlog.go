// Package bftlog is a thin structured-logging helper shared by the
// Driver and the host-facing runner. The core packages (bft/round,
// bft/votekeeper) stay logging-free -- they are pure and the core
// must never do its own I/O -- but the layers that compose them log
// height/round starts, accepted proposals, skip-round and round-expiry
// transitions at debug level and dropped or erroring inputs at warn,
// matching the density the teacher
// logs at its enterXxx transition boundaries
// (consensus/tendermint/core/consensus.go, "log.Debug(\"enterPropose\",
// ...)"), carried over to go.uber.org/zap since go-ethereum's log
// package isn't redistributable outside that module.
package bftlog

import "go.uber.org/zap"

// Logger wraps a *zap.SugaredLogger with the key/value convention
// used throughout bft/driver: always lead with "height", followed by
// "round" where the entry concerns one.
type Logger struct {
	sugar *zap.SugaredLogger
}

// New wraps an existing zap logger. Passing nil yields a Logger whose
// methods are all safe no-ops, for tests that don't care about
// logging output.
func New(base *zap.Logger) *Logger {
	if base == nil {
		return &Logger{}
	}
	return &Logger{sugar: base.Sugar()}
}

// Nop returns a Logger that discards everything, for tests and
// callers that don't want a dependency on a real logger.
func Nop() *Logger { return &Logger{} }

func (l *Logger) Debugw(msg string, kv ...interface{}) {
	if l == nil || l.sugar == nil {
		return
	}
	l.sugar.Debugw(msg, kv...)
}

func (l *Logger) Warnw(msg string, kv ...interface{}) {
	if l == nil || l.sugar == nil {
		return
	}
	l.sugar.Warnw(msg, kv...)
}

func (l *Logger) Infow(msg string, kv ...interface{}) {
	if l == nil || l.sugar == nil {
		return
	}
	l.sugar.Infow(msg, kv...)
}
