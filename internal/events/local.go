package events

import (
	"context"
	"sync"
)

// LocalBus is an in-process Bus.
type LocalBus struct {
	mu     sync.Mutex
	subs   map[string]map[*subscriber]struct{}
	closed bool
}

// NewLocalBus creates an empty in-process bus.
func NewLocalBus() *LocalBus {
	return &LocalBus{subs: make(map[string]map[*subscriber]struct{})}
}

// Publish queues ev for every current subscriber of ev.Topic. It never blocks.
func (b *LocalBus) Publish(_ context.Context, ev Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs[ev.Topic] {
		s.push(ev)
	}
	return nil
}

// Subscribe registers a subscriber for topic until ctx is done.
func (b *LocalBus) Subscribe(ctx context.Context, topic string) (<-chan Event, error) {
	subCtx, cancel := context.WithCancel(ctx)
	s := newSubscriber(cancel)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		cancel()
		close(s.out)
		return s.out, nil
	}
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[*subscriber]struct{})
	}
	b.subs[topic][s] = struct{}{}
	b.mu.Unlock()

	go s.forward(subCtx)
	go func() {
		<-subCtx.Done()
		b.remove(topic, s)
	}()
	return s.out, nil
}

func (b *LocalBus) remove(topic string, s *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs[topic], s)
	if len(b.subs[topic]) == 0 {
		delete(b.subs, topic)
	}
}

// Close ends every subscription and closes their channels.
func (b *LocalBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for topic, subs := range b.subs {
		for s := range subs {
			s.cancel()
		}
		delete(b.subs, topic)
	}
	b.closed = true
	return nil
}
