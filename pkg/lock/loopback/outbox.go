package loopback

import (
	"sync"

	"github.com/marmos91/dittolock/internal/logger"
	"github.com/marmos91/dittolock/pkg/lock/remote"
)

// outbox delivers server messages to one client on its own goroutine, in
// order. push never blocks, so the server can queue messages while holding
// its mutex.
type outbox struct {
	client remote.Callbacks

	mu     sync.Mutex
	queue  []*remote.Message
	closed bool

	signal chan struct{}
	done   chan struct{}
}

func newOutbox(client remote.Callbacks) *outbox {
	o := &outbox{
		client: client,
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go o.run()
	return o
}

func (o *outbox) push(msg *remote.Message) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.queue = append(o.queue, msg)
	o.mu.Unlock()

	select {
	case o.signal <- struct{}{}:
	default:
	}
}

func (o *outbox) pop() *remote.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed || len(o.queue) == 0 {
		return nil
	}
	msg := o.queue[0]
	o.queue[0] = nil
	o.queue = o.queue[1:]
	return msg
}

// close drops undelivered messages. It does not wait for a delivery in
// progress.
func (o *outbox) close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.closed = true
	o.queue = nil
	close(o.done)
}

func (o *outbox) run() {
	for {
		select {
		case <-o.done:
			return
		case <-o.signal:
		}

		for msg := o.pop(); msg != nil; msg = o.pop() {
			if err := remote.Dispatch(o.client, msg); err != nil {
				logger.Warn("Failed to deliver server message", logger.KeyError, err)
			}
		}
	}
}
