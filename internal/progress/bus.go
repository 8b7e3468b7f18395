// Package progress delivers per-job progress events from converting
// workers to observers without ever blocking the worker.
//
// Subscribers receive the latest known snapshot immediately, then live
// events. Delivery coalesces: a slow subscriber sees the most recent
// non-terminal event rather than a backlog, and the terminal event is
// never dropped.
package progress

import (
	"sync"

	"converto/internal/job"
)

// Event is one progress or lifecycle observation for a job.
type Event struct {
	JobID    string
	State    job.State
	Fraction float64
	Status   string
	Terminal bool
}

// Bus fans progress events out to per-job subscribers.
type Bus struct {
	mu     sync.Mutex
	last   map[string]Event
	closed map[string]bool
	subs   map[string][]*Subscription
}

// NewBus constructs an empty bus.
func NewBus() *Bus {
	return &Bus{
		last:   make(map[string]Event),
		closed: make(map[string]bool),
		subs:   make(map[string][]*Subscription),
	}
}

// Publish records evt as the job's latest snapshot and wakes subscribers.
// It never blocks on subscriber consumption. Events published after the
// terminal event are ignored.
func (b *Bus) Publish(evt Event) {
	b.mu.Lock()
	if b.closed[evt.JobID] {
		b.mu.Unlock()
		return
	}
	b.last[evt.JobID] = evt
	if evt.Terminal {
		b.closed[evt.JobID] = true
	}
	subs := append([]*Subscription(nil), b.subs[evt.JobID]...)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.offer(evt)
	}
}

// Subscribe registers an observer for one job. If the job already reached
// a terminal event, the subscription yields that event and closes. The
// caller must drain Events or Close.
func (b *Bus) Subscribe(jobID string) *Subscription {
	sub := &Subscription{
		bus:   b,
		jobID: jobID,
		out:   make(chan Event),
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}

	b.mu.Lock()
	last, hasLast := b.last[jobID]
	b.subs[jobID] = append(b.subs[jobID], sub)
	b.mu.Unlock()

	if hasLast {
		sub.offer(last)
	}
	go sub.pump()
	return sub
}

// Forget drops all retained state for a job. Active subscriptions are
// closed without a terminal event; callers invoke this only after the
// retention window expires.
func (b *Bus) Forget(jobID string) {
	b.mu.Lock()
	delete(b.last, jobID)
	delete(b.closed, jobID)
	subs := b.subs[jobID]
	delete(b.subs, jobID)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
}

func (b *Bus) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.subs[sub.jobID]
	for i, candidate := range list {
		if candidate == sub {
			b.subs[sub.jobID] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(b.subs[sub.jobID]) == 0 {
		delete(b.subs, sub.jobID)
	}
}

// Subscription is one observer's view of a job's progress stream. Events
// is closed after the terminal event is delivered.
type Subscription struct {
	bus   *Bus
	jobID string
	out   chan Event

	mu       sync.Mutex
	pending  *Event
	terminal bool

	wake chan struct{}
	done chan struct{}
	once sync.Once
}

// offer stores evt as the pending delivery, overwriting an undelivered
// non-terminal event. It never blocks.
func (s *Subscription) offer(evt Event) {
	s.mu.Lock()
	if s.terminal {
		s.mu.Unlock()
		return
	}
	s.pending = &evt
	if evt.Terminal {
		s.terminal = true
	}
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscription) pump() {
	defer close(s.out)
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}
		for {
			s.mu.Lock()
			evt := s.pending
			s.pending = nil
			s.mu.Unlock()
			if evt == nil {
				break
			}
			select {
			case s.out <- *evt:
			case <-s.done:
				return
			}
			if evt.Terminal {
				s.bus.unsubscribe(s)
				return
			}
		}
	}
}

// Events yields the subscription's delivery stream.
func (s *Subscription) Events() <-chan Event {
	return s.out
}

// Close detaches the subscriber. Safe to call multiple times.
func (s *Subscription) Close() {
	s.bus.unsubscribe(s)
	s.stop()
}

func (s *Subscription) stop() {
	s.once.Do(func() { close(s.done) })
}
