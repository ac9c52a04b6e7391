package memory

import (
	"context"
	"sync"

	"github.com/gammazero/deque"

	"github.com/Comcenn/jamgenguessr/internal/broker"
)

// Broker is an in-process broker.Broker. Delivery is lossless: every
// subscription owns an unbounded queue, so a slow relay never drops events.
type Broker struct {
	mu     sync.Mutex
	subs   map[string]map[*subscription]struct{}
	closed bool
}

// New creates an empty in-process broker.
func New() *Broker {
	return &Broker{
		subs: make(map[string]map[*subscription]struct{}),
	}
}

// Subscribe registers a new subscription for channel.
func (b *Broker) Subscribe(_ context.Context, channel string) (broker.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, broker.ErrClosed
	}

	sub := &subscription{
		broker:  b,
		channel: channel,
		notify:  make(chan struct{}, 1),
	}
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[*subscription]struct{})
	}
	b.subs[channel][sub] = struct{}{}
	return sub, nil
}

// Publish appends payload to every subscriber queue of channel.
// The broker lock is held for the whole fanout so all subscribers
// observe concurrent publishes in the same order.
func (b *Broker) Publish(_ context.Context, channel string, payload []byte) error {
	msg := make([]byte, len(payload))
	copy(msg, payload)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return broker.ErrClosed
	}
	for sub := range b.subs[channel] {
		sub.push(msg)
	}
	return nil
}

// NumSubscribers returns the number of live subscriptions for channel.
func (b *Broker) NumSubscribers(_ context.Context, channel string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int64(len(b.subs[channel])), nil
}

// Close shuts down every subscription.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	for channel, subs := range b.subs {
		for sub := range subs {
			sub.close()
		}
		delete(b.subs, channel)
	}
	return nil
}

func (b *Broker) remove(sub *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[sub.channel]
	delete(subs, sub)
	if len(subs) == 0 {
		delete(b.subs, sub.channel)
	}
}

type subscription struct {
	broker  *Broker
	channel string
	notify  chan struct{}

	mu     sync.Mutex
	queue  deque.Deque[[]byte]
	closed bool
}

func (s *subscription) Channel() string {
	return s.channel
}

func (s *subscription) Next(ctx context.Context) ([]byte, error) {
	for {
		s.mu.Lock()
		if s.queue.Len() > 0 {
			msg := s.queue.PopFront()
			s.mu.Unlock()
			return msg, nil
		}
		closed := s.closed
		s.mu.Unlock()

		if closed {
			return nil, broker.ErrClosed
		}

		select {
		case <-s.notify:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (s *subscription) Unsubscribe(_ context.Context) error {
	s.broker.remove(s)
	s.close()
	return nil
}

func (s *subscription) push(msg []byte) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue.PushBack(msg)
	s.mu.Unlock()
	s.wake()
}

func (s *subscription) close() {
	s.mu.Lock()
	s.closed = true
	s.queue.Clear()
	s.mu.Unlock()
	s.wake()
}

func (s *subscription) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

var _ broker.Broker = (*Broker)(nil)
