package hudbus

import (
	"context"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// BusBuilder constructs Bus instances (Builder pattern).
type BusBuilder struct {
	codecName string
	codecInst Codec

	middlewares []Middleware
	observers   []Observer
	logger      *xlog.Logger
	clock       Clock

	asyncObservers    bool
	observerWorkers   int
	observerQueueSize int

	instrumented  bool
	instOpts      InstrumentationOptions
	validateNames bool
}

// NewBusBuilder returns a new builder with sensible defaults.
func NewBusBuilder() *BusBuilder {
	return &BusBuilder{
		codecName: "json",
	}
}

func (bb *BusBuilder) WithCodec(name string) *BusBuilder {
	bb.codecName = name
	return bb
}

// WithCodecInstance accepts a ready Codec instance.
func (bb *BusBuilder) WithCodecInstance(c Codec) *BusBuilder {
	bb.codecInst = c
	return bb
}

func (bb *BusBuilder) WithMiddleware(mw ...Middleware) *BusBuilder {
	if len(mw) == 0 {
		return bb
	}
	bb.middlewares = append(bb.middlewares, mw...)
	return bb
}

func (bb *BusBuilder) WithObserver(obs ...Observer) *BusBuilder {
	for _, o := range obs {
		if o != nil {
			bb.observers = append(bb.observers, o)
		}
	}
	return bb
}

// WithAsyncObservers delivers lifecycle events to observers on background
// workers instead of inline. Events are dropped when the queue is full.
func (bb *BusBuilder) WithAsyncObservers(workers, queueSize int) *BusBuilder {
	bb.asyncObservers = true
	bb.observerWorkers = workers
	bb.observerQueueSize = queueSize
	return bb
}

func (bb *BusBuilder) WithLogger(l *xlog.Logger) *BusBuilder {
	bb.logger = l
	return bb
}

func (bb *BusBuilder) WithClock(c Clock) *BusBuilder {
	bb.clock = c
	return bb
}

// WithInstrumentation turns on per-event performance records from the start.
func (bb *BusBuilder) WithInstrumentation(opts InstrumentationOptions) *BusBuilder {
	bb.instrumented = true
	bb.instOpts = opts
	return bb
}

// WithNameValidation rejects names that are not namespace:action or
// namespace:id:action.
func (bb *BusBuilder) WithNameValidation(enabled bool) *BusBuilder {
	bb.validateNames = enabled
	return bb
}

func (bb *BusBuilder) Build() (*Bus, error) {
	var cd Codec
	if bb.codecInst != nil {
		cd = bb.codecInst
	} else {
		var err error
		cd, err = NewCodec(bb.codecName)
		if err != nil {
			return nil, err
		}
	}

	var clk Clock
	if bb.clock != nil {
		clk = bb.clock
	} else {
		clk = xclock.Default()
	}
	lg := bb.logger
	if lg == nil {
		lg = xlog.Default()
	}

	b := &Bus{
		clock:         clk,
		epoch:         clk.Now(),
		logger:        lg,
		codec:         cd,
		middlewares:   bb.middlewares,
		validateNames: bb.validateNames,
		channels:      make(map[string][]*subscriber),
		records:       make(map[string]*PerformanceRecord),
		metrics:       &busMetrics{},
	}
	if bb.asyncObservers {
		b.observerQ = NewObserverPool(context.Background(), bb.observerWorkers, bb.observerQueueSize)
	}
	b.SetInstrumentation(bb.instrumented, bb.instOpts)

	for _, o := range bb.observers {
		b.AddObserver(o)
	}
	return b, nil
}

// New constructs a Bus via Builder.
func New(init func(b *BusBuilder)) (*Bus, error) {
	b := NewBusBuilder()
	if init != nil {
		init(b)
	}
	return b.Build()
}
