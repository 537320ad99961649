package logger

import (
	"log/slog"
	"time"
)

// Standard field keys for structured logging.
// Use these keys consistently across all log statements so that lock traffic
// of one client, session or lock can be queried in aggregated logs.
const (
	// ========================================================================
	// Distributed Tracing
	// ========================================================================
	KeyTraceID = "trace_id" // OpenTelemetry trace ID for request correlation
	KeySpanID  = "span_id"  // OpenTelemetry span ID for operation tracking

	// ========================================================================
	// Lock Identity
	// ========================================================================
	KeyLockID     = "lock_id"    // Lock identifier
	KeyThreadID   = "thread_id"  // Requesting thread (0 = the client VM)
	KeyLockLevel  = "lock_level" // READ, WRITE or SYNCHRONOUS_WRITE
	KeyGreediness = "greediness" // Client-side greediness state
	KeyOperation  = "operation"  // lock, try_lock, unlock, wait, notify, recall, ...

	// ========================================================================
	// Client & Session
	// ========================================================================
	KeyClientID  = "client_id"  // Lock client identifier
	KeySessionID = "session_id" // Server session the client is bound to
	KeyAwardID   = "award_id"   // Server-assigned award sequence number
	KeyState     = "state"      // Lock manager lifecycle state

	// ========================================================================
	// Operation Metadata
	// ========================================================================
	KeyDurationMs = "duration_ms" // Operation duration in milliseconds
	KeyTimeout    = "timeout"     // Requested timeout
	KeyCount      = "count"       // Number of items affected (locks, contexts, commits)
	KeyError      = "error"       // Error message
	KeyErrorCode  = "error_code"  // Lock error code
	KeyAddress    = "address"     // Listen address
)

// ============================================================================
// Field constructors for type safety
// ============================================================================

// TraceID returns a slog.Attr for OpenTelemetry trace ID
func TraceID(id string) slog.Attr {
	return slog.String(KeyTraceID, id)
}

// SpanID returns a slog.Attr for OpenTelemetry span ID
func SpanID(id string) slog.Attr {
	return slog.String(KeySpanID, id)
}

// LockID returns a slog.Attr for a lock identifier
func LockID(id string) slog.Attr {
	return slog.String(KeyLockID, id)
}

// ThreadID returns a slog.Attr for a thread identifier
func ThreadID(id uint64) slog.Attr {
	return slog.Uint64(KeyThreadID, id)
}

// LockLevel returns a slog.Attr for a lock level
func LockLevel(level string) slog.Attr {
	return slog.String(KeyLockLevel, level)
}

// Greediness returns a slog.Attr for a greediness state
func Greediness(state string) slog.Attr {
	return slog.String(KeyGreediness, state)
}

// Operation returns a slog.Attr for the lock operation name
func Operation(op string) slog.Attr {
	return slog.String(KeyOperation, op)
}

// ClientID returns a slog.Attr for a lock client identifier
func ClientID(id string) slog.Attr {
	return slog.String(KeyClientID, id)
}

// SessionID returns a slog.Attr for a server session
func SessionID(id uint64) slog.Attr {
	return slog.Uint64(KeySessionID, id)
}

// AwardID returns a slog.Attr for an award sequence number
func AwardID(id int64) slog.Attr {
	return slog.Int64(KeyAwardID, id)
}

// DurationMs returns a slog.Attr for duration in milliseconds
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Timeout returns a slog.Attr for a requested timeout
func Timeout(d time.Duration) slog.Attr {
	return slog.Duration(KeyTimeout, d)
}

// Count returns a slog.Attr for a number of affected items
func Count(n int) slog.Attr {
	return slog.Int(KeyCount, n)
}

// Err returns a slog.Attr for an error
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// ErrorCode returns a slog.Attr for a lock error code
func ErrorCode(code string) slog.Attr {
	return slog.String(KeyErrorCode, code)
}
