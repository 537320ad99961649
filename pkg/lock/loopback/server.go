// Package loopback provides an in-process lock server for local nodes,
// benchmarks and tests.
//
// The server keeps the cluster-wide view of every lock: greedy grants per
// client, per-thread holds, queued requests and waiters. It grants the whole
// client (greedily) when nobody else is interested in a lock, recalls
// greedy grants on contention and falls back to per-thread grants while a
// lock is contended.
//
// Server implements remote.Channel and remote.Flusher, so a remote.Gateway
// can talk to it directly. Answers are delivered by one goroutine per
// client and never on the sender's goroutine.
package loopback

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/marmos91/dittolock/internal/logger"
	"github.com/marmos91/dittolock/pkg/lock"
	"github.com/marmos91/dittolock/pkg/lock/remote"
)

// Config configures the loopback server.
type Config struct {
	// RecallLease lets a recalled greedy client keep its grant this long
	// while its own threads are still queued for it (0 = no lease).
	RecallLease time.Duration

	// FlushDelay simulates the time a flush takes (0 = nothing to flush).
	FlushDelay time.Duration
}

// Client is the lock manager side of a connection. *lock.Manager
// implements it.
type Client interface {
	remote.Callbacks
	Pause() bool
	InitializeHandshake(session lock.SessionID) ([]lock.ExchangeContext, error)
	Unpause() bool
	Rejoin() bool
}

// SessionSetter is told the session to stamp on outgoing requests.
// *remote.Gateway implements it.
type SessionSetter interface {
	SetSession(session lock.SessionID)
}

var (
	_ Client         = (*lock.Manager)(nil)
	_ SessionSetter  = (*remote.Gateway)(nil)
	_ remote.Channel = (*Server)(nil)
	_ remote.Flusher = (*Server)(nil)
)

type holder struct {
	client lock.ClientID
	thread lock.ThreadID
}

type request struct {
	holder
	level lock.ServerLockLevel
	try   bool
	timer *time.Timer
}

type peer struct {
	id      lock.ClientID
	client  Client
	gateway SessionSetter
	out     *outbox
}

// Server is an in-process lock server.
//
// Thread Safety:
// All state is guarded by one mutex. Messages to clients are queued under
// it and delivered after it is released.
type Server struct {
	config Config

	mu        sync.Mutex
	session   lock.SessionID
	nextAward int64
	clients   map[lock.ClientID]*peer
	locks     map[lock.LockID]*entry
}

// NewServer creates a loopback server.
func NewServer(cfg Config) *Server {
	return &Server{
		config:  cfg,
		session: 1,
		clients: make(map[lock.ClientID]*peer),
		locks:   make(map[lock.LockID]*entry),
	}
}

// Session returns the current server session.
func (s *Server) Session() lock.SessionID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// ============================================================================
// Connections
// ============================================================================

// Connect registers a client and runs the connection handshake: the client
// is paused, reports its lock state under the server session and resumes.
func (s *Server) Connect(id lock.ClientID, c Client, gw SessionSetter) error {
	s.mu.Lock()
	if old, ok := s.clients[id]; ok {
		old.out.close()
		s.dropClient(id)
	}
	p := &peer{id: id, client: c, gateway: gw, out: newOutbox(c)}
	s.clients[id] = p
	session := s.session
	s.mu.Unlock()

	logger.Info("Loopback client connected", logger.KeyClientID, string(id))
	return s.handshake(p, session)
}

func (s *Server) handshake(p *peer, session lock.SessionID) error {
	contexts, err := s.prepare(p, session)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.session != session {
		s.mu.Unlock()
		return fmt.Errorf("handshake of %s: session %d superseded", p.id, session)
	}
	s.processAll(s.rebuild(p, contexts))
	s.mu.Unlock()

	return s.resume(p)
}

// prepare pauses p and collects its lock state under session.
func (s *Server) prepare(p *peer, session lock.SessionID) ([]lock.ExchangeContext, error) {
	p.client.Pause()
	p.gateway.SetSession(session)

	contexts, err := p.client.InitializeHandshake(session)
	if err != nil {
		return nil, fmt.Errorf("handshake of %s: %w", p.id, err)
	}
	return contexts, nil
}

func (s *Server) resume(p *peer) error {
	if !p.client.Unpause() {
		return fmt.Errorf("handshake of %s: client could not resume", p.id)
	}
	return nil
}

// Restart simulates a server failover: every lock is forgotten, the session
// changes and every client reconnects. Like a grace period, nothing is
// granted until every client has reported the state it holds.
func (s *Server) Restart(ctx context.Context) error {
	s.mu.Lock()
	s.session++
	session := s.session
	for _, e := range s.locks {
		e.stopTimers()
	}
	s.locks = make(map[lock.LockID]*entry)
	peers := make([]*peer, 0, len(s.clients))
	for _, p := range s.clients {
		peers = append(peers, p)
	}
	s.mu.Unlock()

	logger.Info("Loopback server restarted", logger.KeySessionID, uint64(session))

	reports := make([][]lock.ExchangeContext, len(peers))
	g, _ := errgroup.WithContext(ctx)
	for i, p := range peers {
		g.Go(func() error {
			contexts, err := s.prepare(p, session)
			reports[i] = contexts
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.session != session {
		s.mu.Unlock()
		return fmt.Errorf("restart: session %d superseded", session)
	}
	touched := make(map[lock.LockID]*entry)
	for i, p := range peers {
		for id, e := range s.rebuild(p, reports[i]) {
			touched[id] = e
		}
	}
	s.processAll(touched)
	s.mu.Unlock()

	g, _ = errgroup.WithContext(ctx)
	for _, p := range peers {
		g.Go(func() error {
			return s.resume(p)
		})
	}
	return g.Wait()
}

// Expel forgets everything a client holds and makes it rejoin from
// scratch, as after a network partition.
func (s *Server) Expel(id lock.ClientID) error {
	s.mu.Lock()
	p, ok := s.clients[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("unknown client %s", id)
	}
	s.dropClient(id)
	session := s.session
	s.mu.Unlock()

	p.client.Rejoin()
	return s.handshake(p, session)
}

// Clients returns the connected client ids, sorted.
func (s *Server) Clients() []lock.ClientID {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]lock.ClientID, 0, len(s.clients))
	for id := range s.clients {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Close disconnects every client.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, p := range s.clients {
		p.out.close()
		s.dropClient(id)
	}
}

// rebuild imports the handshake state of p and returns the touched locks.
// Locks the client holds greedily are served locally, so only the grant
// itself is recorded for them.
func (s *Server) rebuild(p *peer, contexts []lock.ExchangeContext) map[lock.LockID]*entry {
	greedy := make(map[lock.LockID]bool)
	for _, c := range contexts {
		if c.Kind == lock.ContextGreedy {
			greedy[c.LockID] = true
		}
	}

	touched := make(map[lock.LockID]*entry)
	for _, c := range contexts {
		if greedy[c.LockID] && c.Kind != lock.ContextGreedy {
			continue
		}
		e := s.entry(c.LockID)
		e.importContext(p.id, c, s)
		touched[c.LockID] = e
	}
	logger.Debug("Rebuilt client lock state",
		logger.KeyClientID, string(p.id),
		logger.KeyCount, len(contexts))
	return touched
}

func (s *Server) processAll(entries map[lock.LockID]*entry) {
	for _, e := range entries {
		s.process(e)
	}
}

// dropClient forgets every grant, hold, request and waiter of id.
func (s *Server) dropClient(id lock.ClientID) {
	for _, e := range s.locks {
		e.dropClient(id)
		s.process(e)
	}
	delete(s.clients, id)
}

// ============================================================================
// remote.Channel
// ============================================================================

// Send implements remote.Channel.
func (s *Server) Send(msg *remote.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.clients[msg.ClientID]
	if !ok {
		return fmt.Errorf("unknown client %s", msg.ClientID)
	}
	if msg.Type == remote.TypeDisconnect {
		p.out.close()
		s.dropClient(p.id)
		logger.Info("Loopback client disconnected", logger.KeyClientID, string(p.id))
		return nil
	}
	if msg.Session != s.session {
		logger.Debug("Dropping request from stale session",
			"type", string(msg.Type),
			logger.KeyClientID, string(msg.ClientID),
			logger.KeySessionID, uint64(msg.Session))
		return nil
	}

	h := holder{client: p.id, thread: msg.ThreadID}
	switch msg.Type {
	case remote.TypeLock:
		s.request(s.entry(msg.LockID), &request{holder: h, level: msg.Level}, 0)
	case remote.TypeTryLock:
		s.request(s.entry(msg.LockID), &request{holder: h, level: msg.Level, try: true}, msg.Timeout)
	case remote.TypeUnlock:
		e := s.entry(msg.LockID)
		delete(e.holds, h)
		s.process(e)
	case remote.TypeWait:
		e := s.entry(msg.LockID)
		delete(e.holds, h)
		e.addWaiter(h)
		s.process(e)
	case remote.TypeInterrupt:
		e := s.entry(msg.LockID)
		if e.removeWaiter(h) {
			e.addRequest(&request{holder: h, level: lock.ServerWrite})
		}
		s.process(e)
	case remote.TypeNotify:
		s.notify(s.entry(msg.LockID), msg.All)
	case remote.TypeRecallCommit:
		for _, c := range msg.Commits {
			s.commit(p, c)
		}
	case remote.TypeQuery:
		e := s.entry(msg.LockID)
		out := s.message(remote.TypeInfo, msg.LockID, msg.ThreadID)
		out.Contexts = e.contexts()
		p.out.push(out)
		s.process(e)
	default:
		return fmt.Errorf("unexpected client message type %q", msg.Type)
	}
	return nil
}

func (s *Server) entry(id lock.LockID) *entry {
	e, ok := s.locks[id]
	if !ok {
		e = newEntry(id)
		s.locks[id] = e
	}
	return e
}

func (s *Server) message(typ remote.MessageType, id lock.LockID, thread lock.ThreadID) *remote.Message {
	msg := remote.NewMessage(typ, s.session, "")
	msg.LockID = id
	msg.ThreadID = thread
	return msg
}

func (s *Server) send(client lock.ClientID, msg *remote.Message) {
	p, ok := s.clients[client]
	if !ok {
		return
	}
	msg.ClientID = client
	p.out.push(msg)
}

// ============================================================================
// Lock table
// ============================================================================

// request queues r and grants it if possible. A try request that cannot be
// granted at once is refused immediately (timeout 0) or when timeout ends.
func (s *Server) request(e *entry, r *request, timeout time.Duration) {
	if !e.addRequest(r) {
		return
	}
	s.process(e)
	if !e.hasRequest(r) || !r.try {
		return
	}
	if timeout <= 0 {
		e.removeRequest(r)
		s.refuse(e, r)
		s.process(e)
		return
	}
	r.timer = time.AfterFunc(timeout, func() {
		s.expire(e.id, r)
	})
}

func (s *Server) expire(id lock.LockID, r *request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.locks[id]
	if !ok || !e.removeRequest(r) {
		return
	}
	s.refuse(e, r)
	s.process(e)
}

func (s *Server) refuse(e *entry, r *request) {
	msg := s.message(remote.TypeRefuse, e.id, r.thread)
	msg.Level = r.level
	s.send(r.client, msg)
}

func (s *Server) award(e *entry, client lock.ClientID, thread lock.ThreadID, level lock.ServerLockLevel) {
	s.nextAward++
	msg := s.message(remote.TypeAward, e.id, thread)
	msg.Level = level
	msg.AwardID = s.nextAward
	s.send(client, msg)
}

// process grants whatever the queue allows and drops the entry once it is
// unused.
func (s *Server) process(e *entry) {
	for progress := true; progress; {
		progress = false
		for _, r := range append([]*request(nil), e.pending...) {
			if e.hasRequest(r) && s.tryGrant(e, r) {
				progress = true
			}
		}
	}
	if e.empty() {
		delete(s.locks, e.id)
	}
}

func (s *Server) tryGrant(e *entry, r *request) bool {
	if greedy := e.conflictingGreedy(r.level); len(greedy) > 0 {
		s.recall(e, greedy, r.level, false)
		return false
	}
	if e.conflictingHold(r) {
		return false
	}
	e.removeRequest(r)

	if level, ok := e.greedyLevel(r); ok {
		e.greedy[r.client] = level
		e.dropRequestsOf(r.client)
		logger.Debug("Granting lock greedily",
			logger.KeyLockID, e.id.String(),
			logger.KeyClientID, string(r.client),
			logger.KeyLockLevel, level.String())
		s.award(e, r.client, lock.VMThreadID, level)
		return true
	}

	e.holds[r.holder] = r.level
	s.award(e, r.client, r.thread, r.level)
	return true
}

// recall asks greedy clients for their grant. A client is asked again only
// when the interest grows.
func (s *Server) recall(e *entry, clients []lock.ClientID, interest lock.ServerLockLevel, batch bool) {
	for _, c := range clients {
		if prev, ok := e.recalling[c]; ok && prev >= interest {
			continue
		}
		e.recalling[c] = interest
		msg := s.message(remote.TypeRecall, e.id, lock.NullThreadID)
		msg.Level = interest
		msg.Lease = s.config.RecallLease
		msg.Batch = batch
		s.send(c, msg)
	}
}

func (s *Server) commit(p *peer, c remote.Commit) {
	e, ok := s.locks[c.LockID]
	if !ok || !e.isGreedy(p.id) {
		logger.Debug("Ignoring recall commit without grant",
			logger.KeyLockID, c.LockID.String(),
			logger.KeyClientID, string(p.id))
		return
	}
	delete(e.greedy, p.id)
	delete(e.recalling, p.id)
	for _, ctx := range c.Contexts {
		e.importContext(p.id, ctx, s)
	}
	s.process(e)
}

func (s *Server) notify(e *entry, all bool) {
	for len(e.waiters) > 0 {
		w := e.waiters[0]
		e.waiters = e.waiters[1:]
		s.send(w.client, s.message(remote.TypeNotified, e.id, w.thread))
		e.addRequest(&request{holder: w, level: lock.ServerWrite})
		if !all {
			break
		}
	}
	s.process(e)
}

// RecallLock asks every client holding id greedily to give it back, in a
// batch. It reports whether any client was greedy.
func (s *Server) RecallLock(id lock.LockID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.locks[id]
	if !ok || len(e.greedy) == 0 {
		return false
	}
	clients := make([]lock.ClientID, 0, len(e.greedy))
	for c := range e.greedy {
		clients = append(clients, c)
	}
	s.recall(e, clients, lock.ServerWrite, true)
	return true
}

// Contexts returns the server view of id.
func (s *Server) Contexts(id lock.LockID) []lock.ExchangeContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.locks[id]
	if !ok {
		return nil
	}
	return e.contexts()
}

// ============================================================================
// remote.Flusher
// ============================================================================

// Flush implements remote.Flusher.
func (s *Server) Flush(ctx context.Context, _ lock.LockID, _ lock.ServerLockLevel) error {
	if s.config.FlushDelay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(s.config.FlushDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FlushAsync implements remote.Flusher.
func (s *Server) FlushAsync(_ lock.LockID, _ lock.ServerLockLevel, done func()) bool {
	if s.config.FlushDelay <= 0 {
		return true
	}
	time.AfterFunc(s.config.FlushDelay, done)
	return false
}
