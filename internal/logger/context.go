package logger

import (
	"context"
	"time"
)

// contextKey is a private type for context keys to avoid collisions
type contextKey struct{}

// logContextKey is the key for LogContext in context.Context
var logContextKey = contextKey{}

// LogContext holds operation-scoped logging context: which PAR3 operation
// is running, against which InputSetID, on which file/block, so every log
// line inside a long-running create/verify/repair call carries the same
// correlation fields without threading them through every function call.
type LogContext struct {
	Operation  string // "create", "verify", "repair", "list", "trial"
	SetID      uint64 // InputSetID of the set being processed
	File       string // input file currently being processed
	BlockIndex int    // block index currently being processed, -1 if n/a
	StartTime  time.Time
}

// WithContext returns a new context with the given LogContext
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext from context, or nil if not present
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// NewLogContext creates a new LogContext for the given operation.
func NewLogContext(operation string) *LogContext {
	return &LogContext{
		Operation:  operation,
		BlockIndex: -1,
		StartTime:  time.Now(),
	}
}

// Clone creates a copy of the LogContext
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	clone := *lc
	return &clone
}

// WithSetID returns a copy with the InputSetID set.
func (lc *LogContext) WithSetID(setID uint64) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.SetID = setID
	}
	return clone
}

// WithFile returns a copy with the current file name set.
func (lc *LogContext) WithFile(name string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.File = name
	}
	return clone
}

// WithBlock returns a copy with the current block index set.
func (lc *LogContext) WithBlock(index int) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.BlockIndex = index
	}
	return clone
}

// DurationMs returns the duration since StartTime in milliseconds
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return float64(time.Since(lc.StartTime).Microseconds()) / 1000.0
}
