package hudbus

import (
	"strconv"
	"sync"

	"github.com/trickstertwo/xlog"
)

// ObserverFunc is an Adapter that lets a plain function satisfy Observer.
type ObserverFunc func(e Event)

func (f ObserverFunc) OnEvent(e Event) { f(e) }

// LoggingObserver is an Adapter that mirrors bus lifecycle events to xlog.
// Faults and slow handlers are already logged by the bus itself, so they go
// out at debug level here.
type LoggingObserver struct {
	Logger *xlog.Logger
}

func (o LoggingObserver) OnEvent(e Event) {
	if o.Logger == nil {
		return
	}
	ev := o.Logger.With(
		xlog.Str("type", string(e.Type)),
		xlog.Str("event_name", e.EventName),
		xlog.Str("subscription", strconv.FormatUint(e.SubscriptionID, 10)),
		xlog.Str("handler", e.Handler),
	)
	if e.Duration > 0 {
		ev = ev.With(xlog.Dur("duration", e.Duration))
	}
	switch e.Type {
	case HighFrequency:
		ev.Info().Float64("frequency_hz", e.FrequencyHz).Msg("hudbus event")
	case HandlerFault:
		ev.Debug().Err(e.Err).Msg("hudbus event")
	default:
		ev.Debug().Msg("hudbus event")
	}
}

// CountingObserver tallies lifecycle events by type. Useful in tests and for
// exporting counters.
type CountingObserver struct {
	mu     sync.Mutex
	counts map[EventType]uint64
}

func NewCountingObserver() *CountingObserver {
	return &CountingObserver{counts: make(map[EventType]uint64)}
}

func (o *CountingObserver) OnEvent(e Event) {
	o.mu.Lock()
	o.counts[e.Type]++
	o.mu.Unlock()
}

// Count returns how many events of type t were observed.
func (o *CountingObserver) Count(t EventType) uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.counts[t]
}
