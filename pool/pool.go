// Package pool recycles display resources that cycle rapidly through the HUD
// (damage numbers, hit markers, feed entries).
//
// A Pool hands out resources created by a caller-supplied factory, resets
// them on release, grows in increments up to a hard maximum and groups new
// resources into fixed-size blocks so a growth step mounts once per block
// instead of once per resource. When the maximum is reached Acquire reports
// exhaustion instead of allocating: callers drop the effect.
package pool

import (
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/trickstertwo/xlog"
)

const (
	DefaultGrowthIncrement = 5
	DefaultBlockCapacity   = 10
)

var (
	ErrInvalidConfig     = errors.New("pool: invalid config")
	ErrDuplicateResource = errors.New("pool: duplicate resource")
)

// Options configures a Pool. Factory and Reset are required.
type Options[T comparable] struct {
	// Name labels log lines and metrics.
	Name string
	// Factory creates one resource in its hidden, inert state. Every call
	// must return a distinct handle.
	Factory func() T
	// Reset restores a resource to that state before it is reused.
	Reset func(T)
	// Destroy tears a resource down when the pool is disposed with
	// removeUnderlying set.
	Destroy func(T)

	InitialCount    int
	MaxCount        int
	GrowthIncrement int // 0 means DefaultGrowthIncrement
	BlockCapacity   int // 0 means DefaultBlockCapacity

	// Mount is called once per block per growth step with the resources
	// just added to it.
	Mount func(b *Block[T], added []T)
	// Unmount is called for every block on Dispose(true).
	Unmount func(b *Block[T])

	Logger *xlog.Logger
}

func (o *Options[T]) validate() error {
	if o.Factory == nil {
		return fmt.Errorf("%w: factory is required", ErrInvalidConfig)
	}
	if o.Reset == nil {
		return fmt.Errorf("%w: reset is required", ErrInvalidConfig)
	}
	if o.InitialCount < 0 {
		return fmt.Errorf("%w: initial count must be >= 0, got %d", ErrInvalidConfig, o.InitialCount)
	}
	if o.MaxCount < 1 {
		return fmt.Errorf("%w: max count must be >= 1, got %d", ErrInvalidConfig, o.MaxCount)
	}
	if o.MaxCount < o.InitialCount {
		return fmt.Errorf("%w: max count %d is below initial count %d", ErrInvalidConfig, o.MaxCount, o.InitialCount)
	}
	if o.GrowthIncrement < 0 {
		return fmt.Errorf("%w: growth increment must be >= 1, got %d", ErrInvalidConfig, o.GrowthIncrement)
	}
	if o.BlockCapacity < 0 {
		return fmt.Errorf("%w: block capacity must be >= 1, got %d", ErrInvalidConfig, o.BlockCapacity)
	}
	return nil
}

// Stats is a point-in-time view of pool usage.
type Stats struct {
	Name      string
	Created   int
	Acquired  uint64
	Released  uint64
	PeakInUse int
	Exhausted uint64
	Available int
	InUse     int
	Blocks    int
	MaxCount  int
}

// Acquisition is the result of Acquire. When OK is false the pool was
// exhausted (or disposed) and Resource is the zero value.
type Acquisition[T comparable] struct {
	Resource T
	OK       bool

	pool  *Pool[T]
	lease uint64
}

// Release hands the resource back. Only the acquisition that currently holds
// the resource can release it: once released, or once the resource has been
// handed to someone else, Release returns false.
func (a Acquisition[T]) Release() bool {
	if !a.OK || a.pool == nil {
		return false
	}
	return a.pool.releaseLease(a.Resource, a.lease)
}

// Pool is a bounded free-list of reusable resources. It is safe for
// concurrent use; hooks run under the pool lock and must not call back into
// the same pool.
type Pool[T comparable] struct {
	opts Options[T]
	log  *xlog.Logger

	mu        sync.Mutex
	available []T
	inUse     map[T]uint64 // resource -> lease
	known     map[T]struct{}
	blocks    []*Block[T]
	leases    uint64
	created   int
	disposed  bool

	acquired  uint64
	released  uint64
	peakInUse int
	exhausted uint64
}

// New validates opts and pre-creates InitialCount resources.
func New[T comparable](opts Options[T]) (*Pool[T], error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if opts.GrowthIncrement == 0 {
		opts.GrowthIncrement = DefaultGrowthIncrement
	}
	if opts.BlockCapacity == 0 {
		opts.BlockCapacity = DefaultBlockCapacity
	}
	if opts.Name == "" {
		opts.Name = "pool"
	}
	lg := opts.Logger
	if lg == nil {
		lg = xlog.Default()
	}

	p := &Pool[T]{
		opts:      opts,
		log:       lg.With(xlog.Str("pool", opts.Name)),
		available: make([]T, 0, opts.MaxCount),
		inUse:     make(map[T]uint64, opts.MaxCount),
		known:     make(map[T]struct{}, opts.MaxCount),
	}
	if opts.InitialCount > 0 {
		if err := p.grow(opts.InitialCount); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Acquire takes a resource from the pool, growing it when needed.
func (p *Pool[T]) Acquire() Acquisition[T] {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.disposed {
		return Acquisition[T]{}
	}

	if len(p.available) == 0 {
		n := min(p.opts.GrowthIncrement, p.opts.MaxCount-p.created)
		if n <= 0 {
			p.exhausted++
			p.log.Warn().
				Str("max_count", strconv.Itoa(p.opts.MaxCount)).
				Str("exhausted", strconv.FormatUint(p.exhausted, 10)).
				Msg("pool: exhausted, dropping request")
			return Acquisition[T]{}
		}
		if err := p.grow(n); err != nil {
			p.log.Error().Err(err).Msg("pool: growth failed")
			if len(p.available) == 0 {
				return Acquisition[T]{}
			}
		}
	}

	last := len(p.available) - 1
	r := p.available[last]
	var zero T
	p.available[last] = zero
	p.available = p.available[:last]
	p.leases++
	p.inUse[r] = p.leases

	p.acquired++
	if n := len(p.inUse); n > p.peakInUse {
		p.peakInUse = n
	}
	return Acquisition[T]{Resource: r, OK: true, pool: p, lease: p.leases}
}

// Release resets r and returns it to the available list. It returns false
// when r is not currently handed out by this pool.
func (p *Pool[T]) Release(r T) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.inUse[r]; !ok {
		return false
	}
	p.releaseLocked(r)
	return true
}

func (p *Pool[T]) releaseLease(r T, lease uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if held, ok := p.inUse[r]; !ok || held != lease {
		return false
	}
	p.releaseLocked(r)
	return true
}

func (p *Pool[T]) releaseLocked(r T) {
	p.opts.Reset(r)
	delete(p.inUse, r)
	p.available = append(p.available, r)
	p.released++
}

// ReleaseAll force-releases every resource in use and returns how many were
// released.
func (p *Pool[T]) ReleaseAll() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.releaseAllLocked()
}

func (p *Pool[T]) releaseAllLocked() int {
	n := 0
	for r := range p.inUse {
		p.releaseLocked(r)
		n++
	}
	return n
}

// InUse reports whether r is currently handed out.
func (p *Pool[T]) InUse(r T) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.inUse[r]
	return ok
}

// Len returns the number of resources created so far.
func (p *Pool[T]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.created
}

// Blocks returns the number of blocks created so far.
func (p *Pool[T]) Blocks() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.blocks)
}

// Stats returns current counters.
func (p *Pool[T]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Name:      p.opts.Name,
		Created:   p.created,
		Acquired:  p.acquired,
		Released:  p.released,
		PeakInUse: p.peakInUse,
		Exhausted: p.exhausted,
		Available: len(p.available),
		InUse:     len(p.inUse),
		Blocks:    len(p.blocks),
		MaxCount:  p.opts.MaxCount,
	}
}

// Disposed reports whether Dispose has run.
func (p *Pool[T]) Disposed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.disposed
}

// Dispose releases everything and retires the pool. With removeUnderlying
// set, every resource goes through Destroy and every block through Unmount.
// Further Acquire calls fail and Release returns false.
func (p *Pool[T]) Dispose(removeUnderlying bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.disposed {
		return
	}
	released := p.releaseAllLocked()
	p.disposed = true

	if removeUnderlying {
		if p.opts.Destroy != nil {
			for _, r := range p.available {
				p.opts.Destroy(r)
			}
		}
		if p.opts.Unmount != nil {
			for _, b := range p.blocks {
				p.opts.Unmount(b)
			}
		}
		for _, b := range p.blocks {
			b.members = nil
		}
		p.available = nil
		p.blocks = nil
		p.known = nil
	}

	p.log.Debug().
		Str("released", strconv.Itoa(released)).
		Str("created", strconv.Itoa(p.created)).
		Msg("pool: disposed")
}

// grow creates n resources and packs them into blocks. Caller holds p.mu.
// Factory must return a distinct handle on every call.
func (p *Pool[T]) grow(n int) error {
	if p.created+n > p.opts.MaxCount {
		return fmt.Errorf("pool %s: growing by %d would exceed max count %d", p.opts.Name, n, p.opts.MaxCount)
	}

	for n > 0 {
		b := p.openBlock()
		take := min(n, b.Free())
		added := make([]T, 0, take)
		var dup error
		for i := 0; i < take; i++ {
			r := p.opts.Factory()
			if _, seen := p.known[r]; seen {
				dup = fmt.Errorf("%w: factory returned a handle already in the pool", ErrDuplicateResource)
				break
			}
			p.known[r] = struct{}{}
			b.members = append(b.members, r)
			added = append(added, r)
		}
		take = len(added)
		p.available = append(p.available, added...)
		p.created += take
		n -= take

		if p.opts.Mount != nil && len(added) > 0 {
			p.opts.Mount(b, added)
		}
		if dup != nil {
			return dup
		}
	}
	return nil
}

// openBlock returns the newest block if it has room, else starts a new one.
func (p *Pool[T]) openBlock() *Block[T] {
	if n := len(p.blocks); n > 0 && p.blocks[n-1].Free() > 0 {
		return p.blocks[n-1]
	}
	b := &Block[T]{
		index:    len(p.blocks),
		capacity: p.opts.BlockCapacity,
		members:  make([]T, 0, p.opts.BlockCapacity),
	}
	p.blocks = append(p.blocks, b)
	return b
}
