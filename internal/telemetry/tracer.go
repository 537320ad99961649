package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys for lock operations.
const (
	// ========================================================================
	// Lock attributes
	// ========================================================================
	AttrLockID    = "lock.id"
	AttrLockLevel = "lock.level"
	AttrThreadID  = "lock.thread_id"
	AttrAcquired  = "lock.acquired"
	AttrOperation = "lock.operation"
	AttrLockCount = "lock.count"

	// ========================================================================
	// Client attributes
	// ========================================================================
	AttrClientID  = "client.id"
	AttrSessionID = "client.session_id"

	// ========================================================================
	// Remote gateway attributes
	// ========================================================================
	AttrBatchSize = "gateway.batch_size"
)

// Span names for operations outside a single lock call.
const (
	SpanHandshake   = "manager.handshake"
	SpanGC          = "manager.gc"
	SpanFlush       = "gateway.flush"
	SpanRecallBatch = "gateway.recall_commit"
)

// LockID returns an attribute for a lock identifier
func LockID(id string) attribute.KeyValue {
	return attribute.String(AttrLockID, id)
}

// LockLevel returns an attribute for a lock level
func LockLevel(level string) attribute.KeyValue {
	return attribute.String(AttrLockLevel, level)
}

// ThreadID returns an attribute for a thread identifier
func ThreadID(id uint64) attribute.KeyValue {
	return attribute.Int64(AttrThreadID, int64(id))
}

// Acquired returns an attribute telling whether a lock was acquired
func Acquired(ok bool) attribute.KeyValue {
	return attribute.Bool(AttrAcquired, ok)
}

// LockCount returns an attribute for a number of locks or contexts
func LockCount(n int) attribute.KeyValue {
	return attribute.Int(AttrLockCount, n)
}

// ClientID returns an attribute for a lock client identifier
func ClientID(id string) attribute.KeyValue {
	return attribute.String(AttrClientID, id)
}

// SessionID returns an attribute for a server session
func SessionID(id uint64) attribute.KeyValue {
	return attribute.Int64(AttrSessionID, int64(id))
}

// BatchSize returns an attribute for the number of entries in a batch
func BatchSize(n int) attribute.KeyValue {
	return attribute.Int(AttrBatchSize, n)
}

// StartLockSpan starts a span for an operation on one lock.
// This is a convenience function that sets common attributes.
func StartLockSpan(ctx context.Context, operation, lockID string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		attribute.String(AttrOperation, operation),
		LockID(lockID),
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, operation, trace.WithAttributes(allAttrs...))
}
