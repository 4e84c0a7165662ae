package browser

import (
	"sync"
	"sync/atomic"
)

// Handler receives published events. Handlers run on the publishing
// goroutine and must not block.
type Handler func(Event)

// Bus fans events out to subscribers filtered by kind.
type Bus struct {
	mu   sync.RWMutex
	next uint64
	subs map[uint64]*subscription
}

type subscription struct {
	kinds  map[EventKind]struct{}
	fn     Handler
	active atomic.Bool
}

func (s *subscription) wants(kind EventKind) bool {
	if len(s.kinds) == 0 {
		return true
	}
	_, ok := s.kinds[kind]
	return ok
}

func NewBus() *Bus {
	return &Bus{subs: make(map[uint64]*subscription)}
}

// Subscribe registers fn for the given kinds (all kinds when none are given)
// and returns a function that removes the subscription. Events published
// after the returned function has completed never reach fn. A Publish already
// running on another goroutine may still deliver to fn once, so handlers must
// tolerate a late event.
func (b *Bus) Subscribe(fn Handler, kinds ...EventKind) func() {
	sub := &subscription{fn: fn}
	if len(kinds) > 0 {
		sub.kinds = make(map[EventKind]struct{}, len(kinds))
		for _, k := range kinds {
			sub.kinds[k] = struct{}{}
		}
	}
	sub.active.Store(true)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = sub
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			sub.active.Store(false)
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// Publish delivers ev to every active subscriber interested in its kind.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	targets := make([]*subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.wants(ev.Kind) {
			targets = append(targets, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		if sub.active.Load() {
			sub.fn(ev)
		}
	}
}

// Len returns the number of live subscriptions.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
