// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package events

import (
	"sync"
	"sync/atomic"

	"github.com/ManuGH/stagecache/internal/log"
	"github.com/ManuGH/stagecache/internal/metrics"
	"github.com/rs/zerolog"
)

const (
	// DefaultQueueDepth bounds each subscriber queue unless overridden.
	DefaultQueueDepth = 256

	dropLogEvery = 100
)

// Bus fans typed events out to subscribers. Delivery is best-effort and
// per-subscriber ordered: each subscriber owns a bounded queue, and when the
// queue is full the oldest queued event is dropped and counted. Publishers
// never block on slow subscribers.
type Bus struct {
	mu     sync.Mutex
	subs   map[*Subscriber]struct{}
	depth  int
	closed bool
	logger zerolog.Logger

	dropCount atomic.Uint64
}

// NewBus creates a bus whose subscribers default to the given queue depth.
// A depth below 1 falls back to DefaultQueueDepth.
func NewBus(depth int) *Bus {
	if depth < 1 {
		depth = DefaultQueueDepth
	}
	return &Bus{
		subs:   make(map[*Subscriber]struct{}),
		depth:  depth,
		logger: log.WithComponent("events"),
	}
}

// Publish delivers ev to every current subscriber. The bus lock is held for
// the duration of the fan-out so concurrent publishers cannot interleave
// events within a single subscriber queue.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for sub := range b.subs {
		select {
		case sub.ch <- ev:
		default:
			// Queue full: shed the oldest event, then retry once. The pop
			// only misses when a receiver drained the queue in between, in
			// which case nothing is dropped and the retry succeeds.
			dropped := false
			select {
			case <-sub.ch:
				dropped = true
			default:
			}
			select {
			case sub.ch <- ev:
			default:
				dropped = true
			}
			if dropped {
				sub.dropped.Add(1)
				b.recordDrop(ev.Type)
			}
		}
	}
}

func (b *Bus) recordDrop(t Type) {
	metrics.IncBusDropReason(string(t), "subscriber_full")
	count := b.dropCount.Add(1)
	if count%dropLogEvery == 0 {
		b.logger.Warn().
			Str("event", "bus.drop").
			Str("topic", string(t)).
			Uint64("dropped", count).
			Msg("subscriber queue full, shedding oldest events")
	}
}

// Subscribe registers a new subscriber with the bus default queue depth.
func (b *Bus) Subscribe() *Subscriber {
	return b.SubscribeDepth(b.depth)
}

// SubscribeDepth registers a new subscriber with an explicit queue depth.
func (b *Bus) SubscribeDepth(depth int) *Subscriber {
	if depth < 1 {
		depth = b.depth
	}
	sub := &Subscriber{bus: b, ch: make(chan Event, depth)}
	b.mu.Lock()
	if b.closed {
		close(sub.ch)
	} else {
		b.subs[sub] = struct{}{}
	}
	b.mu.Unlock()
	return sub
}

// Close withdraws all subscribers and closes their channels. Publish becomes
// a no-op afterwards.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		close(sub.ch)
		delete(b.subs, sub)
	}
}

// Subscriber is a leased consumer endpoint. Callers drain C() and must Close
// when done; a closed subscriber's channel is closed by the bus.
type Subscriber struct {
	bus       *Bus
	ch        chan Event
	dropped   atomic.Uint64
	closeOnce sync.Once
}

// C returns the subscriber's event channel.
func (s *Subscriber) C() <-chan Event {
	return s.ch
}

// Dropped reports how many events were shed for this subscriber.
func (s *Subscriber) Dropped() uint64 {
	return s.dropped.Load()
}

// Close withdraws the subscriber from the bus and closes its channel.
func (s *Subscriber) Close() {
	s.closeOnce.Do(func() {
		s.bus.mu.Lock()
		if _, ok := s.bus.subs[s]; ok {
			delete(s.bus.subs, s)
			close(s.ch)
		}
		s.bus.mu.Unlock()
	})
}

var _ Sink = (*Bus)(nil)
