package remote

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/marmos91/dittolock/internal/logger"
	"github.com/marmos91/dittolock/internal/telemetry"
	"github.com/marmos91/dittolock/pkg/lock"
)

// Default gateway settings.
const (
	DefaultRecallBatchSize  = 32
	DefaultRecallBatchDelay = 10 * time.Millisecond
	DefaultFlushTimeout     = 30 * time.Second
)

// Config configures a Gateway.
type Config struct {
	// ClientID is stamped on every message.
	ClientID lock.ClientID

	// RecallBatchSize is the largest batch of recall commits. Values below 2
	// disable batching.
	RecallBatchSize int

	// RecallBatchDelay is how long a batched commit may wait for others.
	RecallBatchDelay time.Duration

	// FlushTimeout bounds synchronous flushes (0 = only the caller's context).
	FlushTimeout time.Duration
}

// DefaultConfig returns the default gateway configuration.
func DefaultConfig() Config {
	return Config{
		RecallBatchSize:  DefaultRecallBatchSize,
		RecallBatchDelay: DefaultRecallBatchDelay,
		FlushTimeout:     DefaultFlushTimeout,
	}
}

// Gateway implements lock.RemoteLockGateway over a Channel.
//
// Thread Safety:
// Gateway is safe for concurrent use. Requests are sent synchronously on
// the caller's goroutine, except batched recall commits which leave from
// the batching goroutine. Messages for one lock reach the channel in call
// order.
type Gateway struct {
	config  Config
	channel Channel
	flusher Flusher
	metrics *lock.Metrics

	session atomic.Uint64
	closed  atomic.Bool
	batcher *commitBatcher
	once    sync.Once
}

var _ lock.RemoteLockGateway = (*Gateway)(nil)

// NewGateway creates a gateway sending on ch and flushing through f.
// f may be nil when the client buffers no operations; metrics may be nil.
func NewGateway(ch Channel, f Flusher, cfg Config, metrics *lock.Metrics) *Gateway {
	if f == nil {
		f = NopFlusher{}
	}
	g := &Gateway{
		config:  cfg,
		channel: ch,
		flusher: f,
		metrics: metrics,
	}
	if cfg.RecallBatchSize > 1 {
		g.batcher = newCommitBatcher(cfg.RecallBatchSize, cfg.RecallBatchDelay, g.sendCommits)
		g.batcher.Start()
	}
	return g
}

// SetSession sets the session stamped on outgoing messages.
func (g *Gateway) SetSession(session lock.SessionID) {
	g.session.Store(uint64(session))
}

// Session returns the session stamped on outgoing messages.
func (g *Gateway) Session() lock.SessionID {
	return lock.SessionID(g.session.Load())
}

func (g *Gateway) newMessage(typ MessageType, id lock.LockID, thread lock.ThreadID) *Message {
	msg := NewMessage(typ, g.Session(), g.config.ClientID)
	msg.LockID = id
	msg.ThreadID = thread
	return msg
}

// sendFor sends a request for msg.LockID after any commit for that lock
// still queued in the batcher.
func (g *Gateway) sendFor(msg *Message) {
	if g.batcher != nil {
		g.batcher.flushLock(msg.LockID)
	}
	g.send(msg)
}

func (g *Gateway) send(msg *Message) {
	if g.closed.Load() && msg.Type != TypeDisconnect {
		logger.Debug("Gateway closed, dropping request", "type", string(msg.Type), logger.KeyLockID, msg.LockID.String())
		return
	}
	if err := g.channel.Send(msg); err != nil {
		logger.Warn("Failed to send lock request",
			"type", string(msg.Type),
			logger.KeyLockID, msg.LockID.String(),
			logger.KeyError, err)
	}
}

// Lock implements lock.RemoteLockGateway.
func (g *Gateway) Lock(id lock.LockID, thread lock.ThreadID, level lock.ServerLockLevel) {
	msg := g.newMessage(TypeLock, id, thread)
	msg.Level = level
	g.sendFor(msg)
}

// TryLock implements lock.RemoteLockGateway.
func (g *Gateway) TryLock(id lock.LockID, thread lock.ThreadID, level lock.ServerLockLevel, timeout time.Duration) {
	msg := g.newMessage(TypeTryLock, id, thread)
	msg.Level = level
	msg.Timeout = timeout
	g.sendFor(msg)
}

// Unlock implements lock.RemoteLockGateway.
func (g *Gateway) Unlock(id lock.LockID, thread lock.ThreadID, level lock.ServerLockLevel) {
	msg := g.newMessage(TypeUnlock, id, thread)
	msg.Level = level
	g.sendFor(msg)
}

// Wait implements lock.RemoteLockGateway.
func (g *Gateway) Wait(id lock.LockID, thread lock.ThreadID, timeout time.Duration) {
	msg := g.newMessage(TypeWait, id, thread)
	msg.Timeout = timeout
	g.sendFor(msg)
}

// Interrupt implements lock.RemoteLockGateway.
func (g *Gateway) Interrupt(id lock.LockID, thread lock.ThreadID) {
	g.sendFor(g.newMessage(TypeInterrupt, id, thread))
}

// Notify implements lock.RemoteLockGateway.
func (g *Gateway) Notify(id lock.LockID, thread lock.ThreadID, all bool) {
	msg := g.newMessage(TypeNotify, id, thread)
	msg.All = all
	g.sendFor(msg)
}

// Query implements lock.RemoteLockGateway.
func (g *Gateway) Query(id lock.LockID, thread lock.ThreadID) {
	g.sendFor(g.newMessage(TypeQuery, id, thread))
}

// Flush implements lock.RemoteLockGateway.
func (g *Gateway) Flush(ctx context.Context, id lock.LockID, level lock.ServerLockLevel) error {
	if g.config.FlushTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.config.FlushTimeout)
		defer cancel()
	}
	ctx, span := telemetry.StartLockSpan(ctx, telemetry.SpanFlush, id.String(),
		telemetry.LockLevel(level.String()))
	defer span.End()

	err := g.flusher.Flush(ctx, id, level)
	telemetry.RecordError(ctx, err)
	return err
}

// AsyncFlush implements lock.RemoteLockGateway.
func (g *Gateway) AsyncFlush(id lock.LockID, level lock.ServerLockLevel, cb lock.FlushCallback) bool {
	return g.flusher.FlushAsync(id, level, cb.FlushComplete)
}

// RecallCommit implements lock.RemoteLockGateway. Batched commits are
// coalesced with other batched commits; the rest are sent at once, after
// any batched commit queued for the same lock.
func (g *Gateway) RecallCommit(id lock.LockID, contexts []lock.ExchangeContext, batch bool) {
	c := Commit{LockID: id, Contexts: contexts}
	if batch && g.batcher != nil && !g.closed.Load() {
		g.batcher.add(c)
		return
	}
	if g.batcher != nil {
		g.batcher.flushLock(id)
	}
	g.sendCommits([]Commit{c})
}

func (g *Gateway) sendCommits(commits []Commit) {
	msg := g.newMessage(TypeRecallCommit, "", lock.NullThreadID)
	msg.Commits = commits
	msg.Batch = len(commits) > 1
	if len(commits) == 1 {
		msg.LockID = commits[0].LockID
	}
	_, span := telemetry.StartSpan(context.Background(), telemetry.SpanRecallBatch,
		trace.WithAttributes(telemetry.BatchSize(len(commits)), telemetry.SessionID(uint64(g.Session()))))
	defer span.End()

	g.metrics.ObserveRecallBatch(len(commits))
	g.send(msg)
}

// Shutdown implements lock.RemoteLockGateway: it sends pending batched
// commits, says goodbye to the server and drops every later request.
func (g *Gateway) Shutdown() {
	g.once.Do(func() {
		if g.batcher != nil {
			g.batcher.Stop()
		}
		g.closed.Store(true)
		g.send(g.newMessage(TypeDisconnect, "", lock.NullThreadID))
	})
}
