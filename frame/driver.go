// Package frame drives HUD components once per frame.
package frame

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/trickstertwo/hudbus"
	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// Component is the lifecycle contract every HUD widget implements.
type Component interface {
	Init() error
	Update(dt float64)
	Dispose()
}

var (
	ErrDisposed       = errors.New("frame: driver disposed")
	ErrInitInProgress = errors.New("frame: init already running")
)

// DefaultMaxDelta caps the delta handed to components after a stall.
const DefaultMaxDelta = 0.25

type namedComponent struct {
	name string
	c    Component
}

// Driver owns an ordered set of components and ticks them.
type Driver struct {
	clock    hudbus.Clock
	log      *xlog.Logger
	maxDelta float64

	mu           sync.Mutex
	components   []namedComponent
	initialized  bool
	initializing bool
	disposed     bool
	frames       uint64
	faults       uint64
}

// Option configures a Driver.
type Option func(*Driver)

// WithClock injects the clock Run measures deltas with.
func WithClock(c hudbus.Clock) Option {
	return func(d *Driver) { d.clock = c }
}

// WithLogger injects a custom xlog logger.
func WithLogger(l *xlog.Logger) Option {
	return func(d *Driver) { d.log = l }
}

// WithMaxDelta changes the per-frame delta cap (seconds).
func WithMaxDelta(seconds float64) Option {
	return func(d *Driver) {
		if seconds > 0 {
			d.maxDelta = seconds
		}
	}
}

func NewDriver(opts ...Option) *Driver {
	d := &Driver{maxDelta: DefaultMaxDelta}
	for _, o := range opts {
		if o != nil {
			o(d)
		}
	}
	if d.clock == nil {
		d.clock = xclock.Default()
	}
	if d.log == nil {
		d.log = xlog.Default()
	}
	return d
}

// Add registers c. Components added after Init are initialized immediately.
// Component Init runs without the driver lock, so it may call back into d.
func (d *Driver) Add(name string, c Component) error {
	if c == nil {
		return fmt.Errorf("frame: component %q is nil", name)
	}
	d.mu.Lock()
	if d.disposed {
		d.mu.Unlock()
		return ErrDisposed
	}
	if !d.initialized {
		d.components = append(d.components, namedComponent{name: name, c: c})
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()

	if err := c.Init(); err != nil {
		return fmt.Errorf("frame: init %s: %w", name, err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.disposed {
		c.Dispose()
		return ErrDisposed
	}
	d.components = append(d.components, namedComponent{name: name, c: c})
	return nil
}

// Init initializes components in order. If one fails, the ones already
// initialized are disposed in reverse order and dropped from the driver
// together with the failing one; the error is returned. Components after
// the failing one stay registered for a later Init.
func (d *Driver) Init() error {
	d.mu.Lock()
	switch {
	case d.disposed:
		d.mu.Unlock()
		return ErrDisposed
	case d.initialized:
		d.mu.Unlock()
		return nil
	case d.initializing:
		d.mu.Unlock()
		return ErrInitInProgress
	}
	d.initializing = true
	d.mu.Unlock()

	done := 0
	for {
		d.mu.Lock()
		if d.disposed {
			d.initializing = false
			d.mu.Unlock()
			return ErrDisposed
		}
		if done == len(d.components) {
			d.initialized = true
			d.initializing = false
			d.mu.Unlock()
			break
		}
		nc := d.components[done]
		d.mu.Unlock()

		if err := nc.c.Init(); err != nil {
			d.mu.Lock()
			rolled := make([]namedComponent, done)
			copy(rolled, d.components[:done])
			d.components = append([]namedComponent(nil), d.components[done+1:]...)
			d.initializing = false
			d.mu.Unlock()

			for j := len(rolled) - 1; j >= 0; j-- {
				rolled[j].c.Dispose()
			}
			return fmt.Errorf("frame: init %s: %w", nc.name, err)
		}
		done++
	}

	d.log.Debug().Str("components", strconv.Itoa(done)).Msg("frame: driver initialized")
	return nil
}

// Tick updates every component once with dt seconds. A panicking component
// is logged and skipped for this frame only.
func (d *Driver) Tick(dt float64) {
	if dt < 0 {
		dt = 0
	}
	if dt > d.maxDelta {
		dt = d.maxDelta
	}

	d.mu.Lock()
	if d.disposed {
		d.mu.Unlock()
		return
	}
	components := make([]namedComponent, len(d.components))
	copy(components, d.components)
	d.frames++
	d.mu.Unlock()

	for _, nc := range components {
		d.update(nc, dt)
	}
}

func (d *Driver) update(nc namedComponent, dt float64) {
	defer func() {
		if r := recover(); r != nil {
			d.mu.Lock()
			d.faults++
			d.mu.Unlock()
			d.log.Error().
				Str("component", nc.name).
				Err(fmt.Errorf("panic recovered: %v", r)).
				Msg("frame: component update failed")
		}
	}()
	nc.c.Update(dt)
}

// Run ticks at the given interval with clock-measured deltas until ctx is
// done.
func (d *Driver) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("frame: interval must be > 0, got %v", interval)
	}
	if err := d.Init(); err != nil {
		return err
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := d.clock.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			now := d.clock.Now()
			d.Tick(now.Sub(last).Seconds())
			last = now
		}
	}
}

// Frames returns how many ticks ran.
func (d *Driver) Frames() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.frames
}

// Faults returns how many component updates panicked.
func (d *Driver) Faults() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.faults
}

// Dispose disposes components in reverse order. Idempotent.
func (d *Driver) Dispose() {
	d.mu.Lock()
	if d.disposed {
		d.mu.Unlock()
		return
	}
	d.disposed = true
	components := d.components
	d.components = nil
	d.mu.Unlock()

	for i := len(components) - 1; i >= 0; i-- {
		components[i].c.Dispose()
	}
}
