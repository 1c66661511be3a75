package events

import (
	"context"
	"sync"
)

const (
	// subscriberBuffer is the channel buffer handed to a subscriber.
	subscriberBuffer = 64
	// progressBacklog bounds queued progress events per subscriber. Progress
	// beyond it is dropped; later progress supersedes it anyway.
	progressBacklog = 256
	// maxBacklog bounds the whole queue of a subscriber that stopped reading.
	maxBacklog = 1024
)

// subscriber queues events for one reader so that publishing never blocks.
// Progress events give way first: stage and toast events are only dropped
// once the queue is at maxBacklog.
type subscriber struct {
	out    chan Event
	wake   chan struct{}
	cancel context.CancelFunc

	mu       sync.Mutex
	queue    []Event
	progress int
}

func newSubscriber(cancel context.CancelFunc) *subscriber {
	return &subscriber{
		out:    make(chan Event, subscriberBuffer),
		wake:   make(chan struct{}, 1),
		cancel: cancel,
	}
}

// push queues ev and reports whether it was kept.
func (s *subscriber) push(ev Event) bool {
	s.mu.Lock()
	if len(s.queue) >= maxBacklog || (ev.Type == TypeProgress && s.progress >= progressBacklog) {
		s.mu.Unlock()
		return false
	}
	s.queue = append(s.queue, ev)
	if ev.Type == TypeProgress {
		s.progress++
	}
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return true
}

func (s *subscriber) take() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.queue
	s.queue = nil
	s.progress = 0
	return q
}

// forward moves queued events to out, in order, until ctx is done. out is
// closed on return; events already in its buffer stay readable.
func (s *subscriber) forward(ctx context.Context) {
	defer close(s.out)
	for {
		for _, ev := range s.take() {
			select {
			case s.out <- ev:
			case <-ctx.Done():
				return
			}
		}
		select {
		case <-s.wake:
		case <-ctx.Done():
			return
		}
	}
}
