package hudbus

import (
	"fmt"
	"reflect"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/trickstertwo/xlog"
)

var _ API = (*Bus)(nil)

// subscriptionSeq makes subscription ids unique across every bus in the process.
var subscriptionSeq atomic.Uint64

// Bus is a synchronous, named-channel publish/subscribe registry.
type Bus struct {
	clock       Clock
	epoch       time.Time
	logger      *xlog.Logger
	codec       Codec
	middlewares []Middleware

	validateNames bool

	// channels are copy-on-write: a dispatch snapshot is just the slice header.
	mu       sync.RWMutex
	channels map[string][]*subscriber

	instrumented atomic.Bool
	instMu       sync.Mutex
	inst         InstrumentationOptions
	records      map[string]*PerformanceRecord

	observersMu sync.RWMutex
	observers   []Observer
	observerQ   *ObserverPool

	metrics   *busMetrics
	closed    atomic.Bool
	closeOnce sync.Once
}

type subscriber struct {
	id      uint64
	name    string
	handler Handler
}

type busMetrics struct {
	emitted   atomic.Uint64
	delivered atomic.Uint64
	faults    atomic.Uint64
	slow      atomic.Uint64
	rejected  atomic.Uint64
}

// Codec returns the configured codec.
func (b *Bus) Codec() Codec { return b.codec }

// Subscribe appends h to the channel for eventName. Handlers run in
// subscription order.
func (b *Bus) Subscribe(eventName string, h Handler) (Subscription, error) {
	return b.subscribe(eventName, h, "")
}

func (b *Bus) subscribe(eventName string, h Handler, label string) (Subscription, error) {
	if b.closed.Load() {
		return Subscription{}, ErrBusClosed
	}
	if err := b.checkName(eventName); err != nil {
		return Subscription{}, err
	}
	if h == nil {
		return Subscription{}, ErrNilHandler
	}
	if label == "" {
		label = funcName(h)
	}

	// Panic recovery first, then configured middlewares.
	base := RecoveryMiddleware()(h)
	s := &subscriber{
		id:      subscriptionSeq.Add(1),
		name:    label,
		handler: Chain(base, b.middlewares...),
	}

	b.mu.Lock()
	subs := b.channels[eventName]
	next := make([]*subscriber, len(subs), len(subs)+1)
	copy(next, subs)
	b.channels[eventName] = append(next, s)
	b.mu.Unlock()

	b.notify(Event{Type: Subscribed, EventName: eventName, SubscriptionID: s.id, Handler: s.name})
	return Subscription{EventName: eventName, ID: s.id}, nil
}

// Unsubscribe removes the registration behind s. It returns false when the
// channel or id is already gone, so calling it twice is safe.
func (b *Bus) Unsubscribe(s Subscription) bool {
	b.mu.Lock()
	subs, ok := b.channels[s.EventName]
	if !ok {
		b.mu.Unlock()
		return false
	}
	idx := -1
	for i, sub := range subs {
		if sub.id == s.ID {
			idx = i
			break
		}
	}
	if idx < 0 {
		b.mu.Unlock()
		return false
	}
	name := subs[idx].name
	if len(subs) == 1 {
		delete(b.channels, s.EventName)
	} else {
		next := make([]*subscriber, 0, len(subs)-1)
		next = append(next, subs[:idx]...)
		next = append(next, subs[idx+1:]...)
		b.channels[s.EventName] = next
	}
	b.mu.Unlock()

	b.notify(Event{Type: Unsubscribed, EventName: s.EventName, SubscriptionID: s.ID, Handler: name})
	return true
}

// Emit delivers data to every handler subscribed to eventName at the moment
// of the call, in subscription order. Handler faults are contained here; the
// returned error only reports a rejected name or a closed bus.
func (b *Bus) Emit(eventName string, data Fields) error {
	if b.closed.Load() {
		return ErrBusClosed
	}
	if err := b.checkName(eventName); err != nil {
		return err
	}
	b.metrics.emitted.Add(1)

	b.mu.RLock()
	subs := b.channels[eventName]
	b.mu.RUnlock()
	if len(subs) == 0 {
		return nil
	}

	now := b.clock.Now()
	ts := b.millis(now)
	instrumented := b.instrumented.Load()
	var opts InstrumentationOptions
	if instrumented {
		opts = b.instrumentation()
	}

	for _, s := range subs {
		p := Payload{Type: eventName, Timestamp: ts, Fields: copyFields(data)}

		var start time.Time
		if instrumented {
			start = b.clock.Now()
		}
		err := b.dispatch(s, p)
		if instrumented {
			if d := b.clock.Now().Sub(start); durationMs(d) > opts.SlowHandlerThresholdMs {
				b.slowHandler(eventName, s, d)
			}
		}

		if err != nil {
			b.fault(eventName, s, err)
			continue
		}
		b.metrics.delivered.Add(1)
	}

	if instrumented {
		exec := durationMs(b.clock.Now().Sub(now))
		if hot, changed := b.record(eventName, ts, exec, opts); changed {
			b.hotChanged(eventName, hot)
		}
	}
	return nil
}

// EmitValue encodes v (typically one of the payload structs) into fields with
// the bus codec and emits it.
func (b *Bus) EmitValue(eventName string, v any) error {
	data, err := encodeFields(b.codec, v)
	if err != nil {
		return fmt.Errorf("hudbus: encode %s payload: %w", eventName, err)
	}
	return b.Emit(eventName, data)
}

// dispatch runs one handler; the outer recover covers panicking middlewares.
func (b *Bus) dispatch(s *subscriber, p Payload) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()
	return s.handler(p)
}

func (b *Bus) fault(eventName string, s *subscriber, err error) {
	b.metrics.faults.Add(1)
	b.logger.Error().
		Err(err).
		Str("event", eventName).
		Str("handler", s.name).
		Str("subscription", strconv.FormatUint(s.id, 10)).
		Msg("hudbus: handler fault suppressed")
	b.notify(Event{Type: HandlerFault, EventName: eventName, SubscriptionID: s.id, Handler: s.name, Err: err})
}

func (b *Bus) slowHandler(eventName string, s *subscriber, d time.Duration) {
	b.metrics.slow.Add(1)
	b.logger.Warn().
		Str("event", eventName).
		Str("handler", s.name).
		Dur("duration", d).
		Msg("hudbus: slow handler")
	b.notify(Event{Type: SlowHandler, EventName: eventName, SubscriptionID: s.id, Handler: s.name, Duration: d})
}

func (b *Bus) hotChanged(eventName string, hot bool) {
	rec, _ := b.Record(eventName)
	if hot {
		b.logger.Warn().
			Str("event", eventName).
			Float64("frequency_hz", rec.FrequencyHz).
			Msg("hudbus: high frequency event")
		b.notify(Event{Type: HighFrequency, EventName: eventName, FrequencyHz: rec.FrequencyHz})
		return
	}
	b.logger.Debug().
		Str("event", eventName).
		Float64("frequency_hz", rec.FrequencyHz).
		Msg("hudbus: event frequency back under threshold")
}

// HasSubscribers reports whether eventName has at least one handler.
func (b *Bus) HasSubscribers(eventName string) bool {
	return b.SubscriberCount(eventName) > 0
}

// SubscriberCount returns the number of handlers on eventName.
func (b *Bus) SubscriberCount(eventName string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.channels[eventName])
}

// EventNames lists channels that currently have subscribers.
func (b *Bus) EventNames() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.channels))
	for name := range b.channels {
		names = append(names, name)
	}
	return names
}

// Clear drops every channel and subscription. Performance records survive;
// use ResetMetrics for those.
func (b *Bus) Clear() {
	b.mu.Lock()
	b.channels = make(map[string][]*subscriber)
	b.mu.Unlock()
	b.notify(Event{Type: Cleared})
}

// Stats returns aggregate counters.
func (b *Bus) Stats() BusStats {
	b.mu.RLock()
	channels := len(b.channels)
	subs := 0
	for _, s := range b.channels {
		subs += len(s)
	}
	b.mu.RUnlock()

	return BusStats{
		Emitted:       b.metrics.emitted.Load(),
		Delivered:     b.metrics.delivered.Load(),
		Faults:        b.metrics.faults.Load(),
		SlowHandlers:  b.metrics.slow.Load(),
		RejectedNames: b.metrics.rejected.Load(),
		Channels:      channels,
		Subscriptions: subs,
	}
}

// ObserverQueueStats returns async observer telemetry; ok is false when
// observers run inline.
func (b *Bus) ObserverQueueStats() (s ObserverPoolStats, ok bool) {
	if b.observerQ == nil {
		return ObserverPoolStats{}, false
	}
	return b.observerQ.Stats(), true
}

// Health reports "degraded" once more than 5% of deliveries fault.
func (b *Bus) Health() HealthStatus {
	if b.closed.Load() {
		return HealthStatus{
			Status:    "unhealthy",
			Timestamp: b.clock.Now(),
			Message:   "bus is closed",
		}
	}

	stats := b.Stats()
	status := "healthy"
	if attempts := stats.Delivered + stats.Faults; stats.Faults > 0 && attempts > 0 {
		if float64(stats.Faults)/float64(attempts) > 0.05 {
			status = "degraded"
		}
	}
	return HealthStatus{
		Status:    status,
		Stats:     stats,
		Timestamp: b.clock.Now(),
	}
}

// Close marks the bus closed and drops all subscriptions. Idempotent.
func (b *Bus) Close() {
	b.closeOnce.Do(func() {
		b.closed.Store(true)
		b.mu.Lock()
		b.channels = make(map[string][]*subscriber)
		b.mu.Unlock()
		if b.observerQ != nil {
			if err := b.observerQ.Close(2 * time.Second); err != nil {
				b.logger.Warn().Err(err).Msg("hudbus: observer queue did not drain")
			}
		}
		b.logger.Debug().Msg("hudbus: bus closed")
	})
}

// AddObserver registers an observer (thread-safe).
func (b *Bus) AddObserver(obs Observer) {
	if obs == nil {
		return
	}
	b.observersMu.Lock()
	b.observers = append(b.observers, obs)
	b.observersMu.Unlock()
}

// RemoveObserver removes an observer. Observers of non-comparable types
// (such as ObserverFunc) cannot be removed.
func (b *Bus) RemoveObserver(obs Observer) {
	if obs == nil || !reflect.TypeOf(obs).Comparable() {
		return
	}
	b.observersMu.Lock()
	defer b.observersMu.Unlock()

	for i, o := range b.observers {
		if o == obs {
			b.observers = append(b.observers[:i:i], b.observers[i+1:]...)
			break
		}
	}
}

func (b *Bus) notify(e Event) {
	b.observersMu.RLock()
	if len(b.observers) == 0 {
		b.observersMu.RUnlock()
		return
	}
	obs := make([]Observer, len(b.observers))
	copy(obs, b.observers)
	b.observersMu.RUnlock()

	if b.observerQ != nil {
		b.observerQ.Notify(e, obs)
		return
	}
	for _, o := range obs {
		callObserver(o, e)
	}
}

// callObserver isolates observer panics from the caller.
func callObserver(o Observer, e Event) {
	defer func() { _ = recover() }()
	o.OnEvent(e)
}

func (b *Bus) checkName(eventName string) error {
	if eventName == "" {
		b.metrics.rejected.Add(1)
		return fmt.Errorf("%w: name must not be empty", ErrInvalidEventName)
	}
	if !b.validateNames {
		return nil
	}
	if err := ValidateEventName(eventName); err != nil {
		b.metrics.rejected.Add(1)
		return err
	}
	return nil
}

func (b *Bus) millis(t time.Time) float64 {
	return durationMs(t.Sub(b.epoch))
}

func durationMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func copyFields(data Fields) Fields {
	out := make(Fields, len(data))
	for k, v := range data {
		if k == "type" || k == "timestamp" {
			continue
		}
		out[k] = v
	}
	return out
}

// funcName identifies a handler in logs by its function name.
func funcName(fn any) string {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func || v.IsNil() {
		return "unknown"
	}
	if f := runtime.FuncForPC(v.Pointer()); f != nil {
		return f.Name()
	}
	return "unknown"
}
