package reporter

import (
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// DefaultBuffer is the queue size used when NewEmitter is given zero.
const DefaultBuffer = 4096

// Emitter is an asynchronous Reporter. Events are queued without blocking;
// when the queue is full the event is dropped and counted.
type Emitter struct {
	logger *zap.Logger
	events chan Event
	done   chan struct{}

	mu        sync.RWMutex
	closed    bool
	listeners map[int]Listener
	order     []int
	nextID    int

	dropped atomic.Int64
	now     func() time.Time
}

var _ Reporter = (*Emitter)(nil)

// NewEmitter starts the dispatch goroutine. Call Close to stop it.
func NewEmitter(buffer int, logger *zap.Logger) *Emitter {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Emitter{
		logger:    logger,
		events:    make(chan Event, buffer),
		done:      make(chan struct{}),
		listeners: make(map[int]Listener),
		now:       time.Now,
	}
	go e.dispatch()
	return e
}

// Subscribe adds l. Events already queued are delivered to it too.
func (e *Emitter) Subscribe(l Listener) (unsubscribe func()) {
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.listeners[id] = l
	e.order = append(e.order, id)
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.listeners, id)
			for i, v := range e.order {
				if v == id {
					e.order = append(e.order[:i], e.order[i+1:]...)
					break
				}
			}
			e.mu.Unlock()
		})
	}
}

func (e *Emitter) Measurement(m Measurement) {
	e.Emit(Event{Kind: KindMeasurement, Measurement: &m})
}

func (e *Emitter) Trace(label string, responseCode int, data TraceData) {
	e.Emit(Event{Kind: KindTrace, Trace: &Trace{Label: label, ResponseCode: responseCode, Data: data}})
}

// For returns a Reporter that stamps every event with vu.
func (e *Emitter) For(vu string) Reporter {
	return scoped{e: e, vu: vu}
}

// Emit queues ev. It never blocks and is a no-op after Close.
func (e *Emitter) Emit(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = e.now()
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return
	}
	select {
	case e.events <- ev:
	default:
		e.dropped.Add(1)
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (e *Emitter) Dropped() int64 {
	return e.dropped.Load()
}

// Close stops accepting events, waits until the queued ones are delivered
// and closes every listener that implements io.Closer.
func (e *Emitter) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		<-e.done
		return nil
	}
	e.closed = true
	close(e.events)
	e.mu.Unlock()
	<-e.done

	if n := e.dropped.Load(); n > 0 {
		e.logger.Warn("reporter queue overflowed", zap.Int64("dropped", n))
	}

	var firstErr error
	for _, l := range e.snapshot() {
		if c, ok := l.(io.Closer); ok {
			if err := c.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (e *Emitter) dispatch() {
	defer close(e.done)
	for ev := range e.events {
		for _, l := range e.snapshot() {
			e.deliver(l, ev)
		}
	}
}

func (e *Emitter) deliver(l Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("reporter listener panicked", zap.Any("panic", r), zap.String("kind", string(ev.Kind)))
		}
	}()
	l.Handle(ev)
}

func (e *Emitter) snapshot() []Listener {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Listener, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.listeners[id])
	}
	return out
}

type scoped struct {
	e  *Emitter
	vu string
}

func (s scoped) Measurement(m Measurement) {
	s.e.Emit(Event{Kind: KindMeasurement, VU: s.vu, Measurement: &m})
}

func (s scoped) Trace(label string, responseCode int, data TraceData) {
	s.e.Emit(Event{Kind: KindTrace, VU: s.vu, Trace: &Trace{Label: label, ResponseCode: responseCode, Data: data}})
}
