package hudbus

import (
	"time"
)

// Handler processes one payload. A returned error or a panic is a handler
// fault: it is logged and counted, never propagated to the emitter.
type Handler func(p Payload) error

// Middleware composes processing concerns around a Handler.
type Middleware func(next Handler) Handler

// Observer receives bus lifecycle events. Implementations must not block;
// they run on the emitting goroutine unless the bus was built with
// WithAsyncObservers.
type Observer interface {
	OnEvent(e Event)
}

// Clock is the time source the bus reads. xclock.Clock satisfies it.
type Clock interface {
	Now() time.Time
}

// API represents the complete hudbus surface.
type API interface {
	Subscribe(eventName string, h Handler) (Subscription, error)
	Unsubscribe(s Subscription) bool
	Emit(eventName string, data Fields) error
	EmitValue(eventName string, v any) error
	HasSubscribers(eventName string) bool
	SubscriberCount(eventName string) int
	SetInstrumentation(enabled bool, opts InstrumentationOptions)
	Clear()
	ResetMetrics()
	Metrics() map[string]PerformanceRecord
	Stats() BusStats
	AddObserver(obs Observer)
	RemoveObserver(obs Observer)
	Close()
}
