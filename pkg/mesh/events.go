package mesh

import (
	"context"
	"fmt"
	"sync"
)

// EventKind is the kind of a link lifecycle event.
type EventKind int

const (
	// EventActivated is emitted once a link is established.
	EventActivated EventKind = iota
	// EventData carries one payload received on a link.
	EventData
	// EventClosed is emitted once after an activated link goes away.
	EventClosed
)

func (k EventKind) String() string {
	switch k {
	case EventActivated:
		return "activated"
	case EventData:
		return "data"
	case EventClosed:
		return "closed"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// LinkEvent is delivered to link event subscribers. For outbound links
// Fingerprint is the remote destination; for inbound links it is the local
// destination the link was opened to.
type LinkEvent struct {
	ID          LinkID
	Fingerprint Fingerprint
	Kind        EventKind
	Payload     []byte
}

const defaultSubscriberBuffer = 64

// broadcaster fans values out to every subscriber in publish order. A slow
// subscriber blocks publishers instead of losing values. The subscriber
// set is only locked long enough to copy it, so cancelling one
// subscription never waits on another.
type broadcaster[T any] struct {
	mu     sync.RWMutex
	subs   map[uint64]*subscription[T]
	nextID uint64
	buffer int
	closed bool

	closing   chan struct{}
	closeOnce sync.Once
}

type subscription[T any] struct {
	ch   chan T
	done chan struct{}
	once sync.Once

	// sendMu guards sends on ch against its close.
	sendMu sync.Mutex
	shut   bool
}

// deliver blocks until v is queued, the subscription ends, the
// broadcaster closes or ctx is done.
func (s *subscription[T]) deliver(ctx context.Context, closing <-chan struct{}, v T) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if s.shut {
		return nil
	}
	select {
	case s.ch <- v:
	case <-s.done:
	case <-closing:
		return ErrEndpointClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// shutdown closes ch once no send is in flight. Callers unblock a pending
// send first by closing done or the broadcaster.
func (s *subscription[T]) shutdown() {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if !s.shut {
		s.shut = true
		close(s.ch)
	}
}

func newBroadcaster[T any](buffer int) *broadcaster[T] {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	return &broadcaster[T]{
		subs:    make(map[uint64]*subscription[T]),
		buffer:  buffer,
		closing: make(chan struct{}),
	}
}

// subscribe returns a channel receiving every value published from now on
// and a function that ends the subscription and closes the channel.
func (b *broadcaster[T]) subscribe() (<-chan T, func()) {
	sub := &subscription[T]{
		ch:   make(chan T, b.buffer),
		done: make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		sub.shutdown()
		return sub.ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	cancel := func() {
		sub.once.Do(func() {
			close(sub.done)

			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()

			sub.shutdown()
		})
	}
	return sub.ch, cancel
}

// publish delivers v to every current subscriber. It returns early with
// the context error if ctx ends while a subscriber is full.
func (b *broadcaster[T]) publish(ctx context.Context, v T) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrEndpointClosed
	}
	subs := make([]*subscription[T], 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		if err := sub.deliver(ctx, b.closing, v); err != nil {
			return err
		}
	}
	return nil
}

// close ends every subscription. Subscribers see their channel closed.
func (b *broadcaster[T]) close() {
	b.closeOnce.Do(func() {
		close(b.closing)

		b.mu.Lock()
		b.closed = true
		subs := b.subs
		b.subs = make(map[uint64]*subscription[T])
		b.mu.Unlock()

		for _, sub := range subs {
			sub.shutdown()
		}
	})
}
