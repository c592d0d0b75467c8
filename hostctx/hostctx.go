// Package hostctx supplies the two things the core asks of its host
// application: a logger and a default dataset. It wraps go.uber.org/zap
// the way erigon wires zap into its own components -- a *zap.SugaredLogger
// handed to a constructor, never reached for through a package-level
// global.
package hostctx

import (
	"github.com/4degrees/datacentric-lib/tid"
	"go.uber.org/zap"
)

// Level mirrors the handful of levels the core ever logs at.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// Context is what the core consumes from its host: a place to log, and a
// dataset to default to when a caller doesn't supply one.
type Context interface {
	Log(level Level, msg string, fields ...any)
	DefaultDataSet() tid.TID
}

// ZapContext is the reference Context backed by a *zap.SugaredLogger.
type ZapContext struct {
	log     *zap.SugaredLogger
	dataSet tid.TID
}

// New builds a ZapContext. logger may be nil, in which case a
// no-op logger is used -- useful for tests that don't care about log
// output but still need a valid Context.
func New(logger *zap.SugaredLogger, defaultDataSet tid.TID) *ZapContext {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &ZapContext{log: logger, dataSet: defaultDataSet}
}

func (c *ZapContext) Log(level Level, msg string, fields ...any) {
	switch level {
	case LevelDebug:
		c.log.Debugw(msg, fields...)
	case LevelWarn:
		c.log.Warnw(msg, fields...)
	case LevelError:
		c.log.Errorw(msg, fields...)
	default:
		c.log.Infow(msg, fields...)
	}
}

func (c *ZapContext) DefaultDataSet() tid.TID { return c.dataSet }

// WithDefaultDataSet returns a copy of c with a different default
// dataset, leaving the logger untouched.
func (c *ZapContext) WithDefaultDataSet(ds tid.TID) *ZapContext {
	return &ZapContext{log: c.log, dataSet: ds}
}
