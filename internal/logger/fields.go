package logger

import (
	"fmt"
	"log/slog"
)

// Standard field keys for structured logging across par3's create/verify/
// repair pipeline. Use these keys consistently so log aggregation and
// querying works across packages.
const (
	KeyOperation  = "operation"   // create, verify, repair, list, trial
	KeySetID      = "set_id"      // InputSetID, hex
	KeyFile       = "file"        // input file path
	KeyBlock      = "block"       // block index
	KeyChunk      = "chunk"       // chunk index
	KeySlice      = "slice"       // slice index
	KeyOffset     = "offset"      // byte offset within a file
	KeySize       = "size"        // byte count
	KeyStrategy   = "strategy"    // mapper strategy: simple, hashed, slide-search
	KeyFieldWidth = "field_width" // Galois field width: 1 (GF(2^8)) or 2 (GF(2^16))
	KeyRecovery   = "recovery"    // recovery block count
	KeyLost       = "lost"        // lost block count
	KeyScheme     = "scheme"      // container sizing scheme
	KeyDurationMs = "duration_ms"
	KeyError      = "error"
	KeyStatus     = "status" // file status: complete, repairable, damaged, missing, renamed
)

// Operation names the PAR3 operation being performed.
func Operation(op string) slog.Attr {
	return slog.String(KeyOperation, op)
}

// SetID formats an InputSetID as 16 hex digits.
func SetID(id uint64) slog.Attr {
	return slog.String(KeySetID, fmt.Sprintf("%016x", id))
}

// File names the input file a log line concerns.
func File(path string) slog.Attr {
	return slog.String(KeyFile, path)
}

// Block identifies a block index.
func Block(index int) slog.Attr {
	return slog.Int(KeyBlock, index)
}

// Chunk identifies a chunk index.
func Chunk(index int) slog.Attr {
	return slog.Int(KeyChunk, index)
}

// Slice identifies a slice index.
func Slice(index int) slog.Attr {
	return slog.Int(KeySlice, index)
}

// Offset records a byte offset within a file.
func Offset(off int64) slog.Attr {
	return slog.Int64(KeyOffset, off)
}

// Size records a byte count.
func Size(n int64) slog.Attr {
	return slog.Int64(KeySize, n)
}

// Strategy records the mapper strategy in use.
func Strategy(name string) slog.Attr {
	return slog.String(KeyStrategy, name)
}

// FieldWidth records the selected Galois field width.
func FieldWidth(width int) slog.Attr {
	return slog.Int(KeyFieldWidth, width)
}

// RecoveryCount records a recovery-block count.
func RecoveryCount(n int) slog.Attr {
	return slog.Int(KeyRecovery, n)
}

// LostCount records a lost-block count.
func LostCount(n int) slog.Attr {
	return slog.Int(KeyLost, n)
}

// Scheme records the container sizing scheme in use.
func Scheme(name string) slog.Attr {
	return slog.String(KeyScheme, name)
}

// DurationMs records an operation's elapsed time in milliseconds.
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err wraps an error for structured logging. Returns an empty attr for a
// nil error so callers can log it unconditionally.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// Status records a file's verification status.
func Status(status string) slog.Attr {
	return slog.String(KeyStatus, status)
}
