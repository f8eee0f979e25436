// Package effect shows pooled HUD resources for a fixed time.
//
// A Layer acquires a resource from a pool when asked to show something (or
// when a bound bus event fires), counts its remaining display time down with
// the per-frame delta and releases it back once the countdown reaches zero.
// When the layer is at its MaxActive limit the oldest entry is evicted to
// make room. When the pool itself is exhausted the effect is dropped.
package effect

import (
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/trickstertwo/hudbus"
	"github.com/trickstertwo/hudbus/pool"
	"github.com/trickstertwo/xlog"
)

var (
	ErrNoPool   = errors.New("effect: pool is required")
	ErrDisposed = errors.New("effect: layer disposed")
)

// Options configures a Layer.
type Options[T comparable] struct {
	Name string
	Pool *pool.Pool[T]
	// MaxActive caps concurrently shown entries; 0 leaves only the pool's
	// own maximum.
	MaxActive int
	// Tick, when set, runs for every active entry on each Update with the
	// remaining time and the entry's progress in [0,1].
	Tick func(r T, remaining, progress float64)
	// DisposePool makes Dispose also dispose the pool (with removeUnderlying).
	DisposePool bool
	Logger      *xlog.Logger
}

// BindFunc turns an event payload into a display request. Returning ok=false
// skips the event.
type BindFunc[T comparable] func(p hudbus.Payload) (seconds float64, setup func(T), ok bool)

// Stats counts what happened to show requests.
type Stats struct {
	Shown   uint64
	Expired uint64
	Evicted uint64
	Dropped uint64
	Active  int
}

type binding struct {
	bus *hudbus.Bus
	sub hudbus.Subscription
}

type entry[T comparable] struct {
	acq       pool.Acquisition[T]
	duration  float64
	remaining float64
}

// Layer tracks shown resources and their countdowns.
type Layer[T comparable] struct {
	name      string
	pool      *pool.Pool[T]
	maxActive int
	tick      func(T, float64, float64)
	ownsPool  bool
	log       *xlog.Logger

	mu       sync.Mutex
	active   []*entry[T] // oldest first
	bindings []binding
	stats    Stats
	disposed bool
}

// New builds a Layer over opts.Pool.
func New[T comparable](opts Options[T]) (*Layer[T], error) {
	if opts.Pool == nil {
		return nil, ErrNoPool
	}
	if opts.MaxActive < 0 {
		return nil, fmt.Errorf("effect: max active must be >= 0, got %d", opts.MaxActive)
	}
	name := opts.Name
	if name == "" {
		name = "effect"
	}
	lg := opts.Logger
	if lg == nil {
		lg = xlog.Default()
	}
	return &Layer[T]{
		name:      name,
		pool:      opts.Pool,
		maxActive: opts.MaxActive,
		tick:      opts.Tick,
		ownsPool:  opts.DisposePool,
		log:       lg.With(xlog.Str("layer", name)),
	}, nil
}

// Name returns the layer name.
func (l *Layer[T]) Name() string { return l.name }

// Show acquires a resource, runs setup on it and keeps it for seconds.
// It returns false when the effect was dropped.
func (l *Layer[T]) Show(seconds float64, setup func(T)) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.disposed || seconds <= 0 {
		l.stats.Dropped++
		return false
	}
	if l.maxActive > 0 && len(l.active) >= l.maxActive {
		l.evictOldestLocked()
	}

	acq := l.pool.Acquire()
	if !acq.OK {
		l.stats.Dropped++
		l.log.Debug().Msg("effect: pool exhausted, effect dropped")
		return false
	}
	if setup != nil {
		setup(acq.Resource)
	}
	l.active = append(l.active, &entry[T]{acq: acq, duration: seconds, remaining: seconds})
	l.stats.Shown++
	return true
}

// Init satisfies the frame driver contract; the layer needs no setup.
func (l *Layer[T]) Init() error { return nil }

// Update counts every active entry down by dt seconds and releases the ones
// that ran out.
func (l *Layer[T]) Update(dt float64) {
	if dt < 0 {
		dt = 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.active[:0]
	for _, e := range l.active {
		e.remaining -= dt
		if e.remaining <= 0 {
			e.acq.Release()
			l.stats.Expired++
			continue
		}
		if l.tick != nil {
			l.tick(e.acq.Resource, e.remaining, 1-e.remaining/e.duration)
		}
		kept = append(kept, e)
	}
	for i := len(kept); i < len(l.active); i++ {
		l.active[i] = nil
	}
	l.active = kept
}

// Bind subscribes the layer to eventName on bus; every emission becomes a
// Show request. Subscriptions are dropped on Dispose.
func (l *Layer[T]) Bind(bus *hudbus.Bus, eventName string, fn BindFunc[T]) error {
	if fn == nil {
		return hudbus.ErrNilHandler
	}
	l.mu.Lock()
	disposed := l.disposed
	l.mu.Unlock()
	if disposed {
		return ErrDisposed
	}

	sub, err := bus.Subscribe(eventName, func(p hudbus.Payload) error {
		seconds, setup, ok := fn(p)
		if !ok {
			return nil
		}
		l.Show(seconds, setup)
		return nil
	})
	if err != nil {
		return fmt.Errorf("effect %s: bind %s: %w", l.name, eventName, err)
	}

	l.mu.Lock()
	if l.disposed {
		l.mu.Unlock()
		bus.Unsubscribe(sub)
		return ErrDisposed
	}
	l.bindings = append(l.bindings, binding{bus: bus, sub: sub})
	l.mu.Unlock()
	return nil
}

// Active returns the number of entries on screen.
func (l *Layer[T]) Active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.active)
}

// Each visits active entries oldest first.
func (l *Layer[T]) Each(fn func(r T, remaining float64)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.active {
		fn(e.acq.Resource, e.remaining)
	}
}

// Clear releases every active entry without counting them as expired.
func (l *Layer[T]) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.active {
		e.acq.Release()
	}
	l.active = nil
}

// Stats returns counters.
func (l *Layer[T]) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.stats
	s.Active = len(l.active)
	return s
}

// Dispose unsubscribes, releases everything on screen and, when configured,
// disposes the pool. Idempotent.
func (l *Layer[T]) Dispose() {
	l.mu.Lock()
	if l.disposed {
		l.mu.Unlock()
		return
	}
	l.disposed = true
	bindings := l.bindings
	l.bindings = nil
	for _, e := range l.active {
		e.acq.Release()
	}
	l.active = nil
	stats := l.stats
	l.mu.Unlock()

	// Unsubscribe outside the lock; a handler may be mid-Show.
	for _, b := range bindings {
		b.bus.Unsubscribe(b.sub)
	}
	if l.ownsPool {
		l.pool.Dispose(true)
	}
	l.log.Debug().
		Str("shown", strconv.FormatUint(stats.Shown, 10)).
		Str("dropped", strconv.FormatUint(stats.Dropped, 10)).
		Msg("effect: layer disposed")
}

func (l *Layer[T]) evictOldestLocked() {
	if len(l.active) == 0 {
		return
	}
	oldest := l.active[0]
	oldest.acq.Release()
	l.active[0] = nil
	l.active = l.active[1:]
	l.stats.Evicted++
}
