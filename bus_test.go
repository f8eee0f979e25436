package hudbus

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// manualClock advances by step on every Now call, plus whatever Advance adds.
type manualClock struct {
	mu   sync.Mutex
	t    time.Time
	step time.Duration
}

func newManualClock(step time.Duration) *manualClock {
	return &manualClock{t: time.Unix(1_700_000_000, 0), step: step}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(c.step)
	return c.t
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestBus(t *testing.T, init func(b *BusBuilder)) *Bus {
	t.Helper()
	b, err := New(func(bb *BusBuilder) {
		bb.WithClock(newManualClock(time.Millisecond))
		if init != nil {
			init(bb)
		}
	})
	require.NoError(t, err)
	t.Cleanup(b.Close)
	return b
}

func TestEmit_SubscriptionOrder(t *testing.T) {
	bus := newTestBus(t, nil)

	var calls []string
	for _, name := range []string{"h1", "h2", "h3"} {
		name := name
		_, err := bus.Subscribe("ammo:changed", func(Payload) error {
			calls = append(calls, name)
			return nil
		})
		require.NoError(t, err)
	}

	require.NoError(t, bus.Emit("ammo:changed", nil))
	assert.Equal(t, []string{"h1", "h2", "h3"}, calls)
}

func TestEmit_PayloadEnrichment(t *testing.T) {
	bus := newTestBus(t, nil)

	var got []Payload
	_, err := bus.Subscribe("ammo:changed", func(p Payload) error {
		got = append(got, p)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, bus.Emit("ammo:changed", Fields{"value": 10, "previous": 30}))
	require.NoError(t, bus.Emit("ammo:changed", Fields{"value": 9, "previous": 10}))

	require.Len(t, got, 2)
	assert.Equal(t, "ammo:changed", got[0].Type)
	assert.Equal(t, 10, got[0].Fields["value"])
	assert.Equal(t, 30, got[0].Fields["previous"])
	assert.Greater(t, got[1].Timestamp, got[0].Timestamp)

	v, ok := got[1].Float("value")
	assert.True(t, ok)
	assert.Equal(t, 9.0, v)
}

func TestEmit_TypeAndTimestampAreAuthoritative(t *testing.T) {
	bus := newTestBus(t, nil)

	var got Payload
	_, err := bus.Subscribe("x:y", func(p Payload) error {
		got = p
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, bus.Emit("x:y", Fields{"type": "spoofed", "timestamp": -1.0, "foo": 1}))
	assert.Equal(t, "x:y", got.Type)
	assert.Greater(t, got.Timestamp, 0.0)
	assert.NotContains(t, got.Fields, "type")
	assert.NotContains(t, got.Fields, "timestamp")
	assert.Equal(t, 1, got.Fields["foo"])
}

func TestEmit_HandlersGetIndependentFields(t *testing.T) {
	bus := newTestBus(t, nil)

	_, err := bus.Subscribe("x:y", func(p Payload) error {
		p.Fields["foo"] = "mutated"
		return nil
	})
	require.NoError(t, err)
	var seen any
	_, err = bus.Subscribe("x:y", func(p Payload) error {
		seen = p.Fields["foo"]
		return nil
	})
	require.NoError(t, err)

	data := Fields{"foo": 1}
	require.NoError(t, bus.Emit("x:y", data))
	assert.Equal(t, 1, seen)
	assert.Equal(t, 1, data["foo"])
}

func TestEmit_FaultIsolation(t *testing.T) {
	obs := NewCountingObserver()
	bus := newTestBus(t, func(b *BusBuilder) { b.WithObserver(obs) })

	var first, third int
	_, err := bus.Subscribe("damage:taken", func(Payload) error { first++; return nil })
	require.NoError(t, err)
	_, err = bus.Subscribe("damage:taken", func(Payload) error { panic("boom") })
	require.NoError(t, err)
	_, err = bus.Subscribe("damage:taken", func(Payload) error { third++; return nil })
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		assert.NoError(t, bus.Emit("damage:taken", Fields{"amount": 5}))
	})
	assert.Equal(t, 1, first)
	assert.Equal(t, 1, third)

	stats := bus.Stats()
	assert.Equal(t, uint64(1), stats.Faults)
	assert.Equal(t, uint64(2), stats.Delivered)
	assert.Equal(t, uint64(1), obs.Count(HandlerFault))
}

func TestEmit_ReturnedErrorIsAFault(t *testing.T) {
	var faultErr error
	bus := newTestBus(t, func(b *BusBuilder) {
		b.WithObserver(ObserverFunc(func(e Event) {
			if e.Type == HandlerFault {
				faultErr = e.Err
			}
		}))
	})

	boom := errors.New("boom")
	_, err := bus.Subscribe("damage:taken", func(Payload) error { return boom })
	require.NoError(t, err)
	var called bool
	_, err = bus.Subscribe("damage:taken", func(Payload) error { called = true; return nil })
	require.NoError(t, err)

	require.NoError(t, bus.Emit("damage:taken", nil))
	assert.True(t, called)
	assert.ErrorIs(t, faultErr, boom)
}

func TestEmit_PanicIsWrapped(t *testing.T) {
	var faultErr error
	bus := newTestBus(t, func(b *BusBuilder) {
		b.WithObserver(ObserverFunc(func(e Event) {
			if e.Type == HandlerFault {
				faultErr = e.Err
			}
		}))
	})

	_, err := bus.Subscribe("damage:taken", func(Payload) error { panic("boom") })
	require.NoError(t, err)
	require.NoError(t, bus.Emit("damage:taken", nil))
	assert.ErrorIs(t, faultErr, ErrHandlerPanic)
}

func TestEmit_NoSubscribersIsNoop(t *testing.T) {
	bus := newTestBus(t, func(b *BusBuilder) { b.WithInstrumentation(InstrumentationOptions{}) })

	assert.NoError(t, bus.Emit("nobody:listens", Fields{"a": 1}))
	_, ok := bus.Record("nobody:listens")
	assert.False(t, ok)
}

func TestUnsubscribe_Idempotent(t *testing.T) {
	bus := newTestBus(t, nil)

	calls := 0
	sub, err := bus.Subscribe("health:changed", func(Payload) error { calls++; return nil })
	require.NoError(t, err)

	assert.True(t, bus.Unsubscribe(sub))
	assert.False(t, bus.Unsubscribe(sub))
	assert.False(t, bus.Unsubscribe(Subscription{EventName: "never:used", ID: 42}))

	require.NoError(t, bus.Emit("health:changed", nil))
	assert.Equal(t, 0, calls)
	assert.False(t, bus.HasSubscribers("health:changed"))
}

func TestUnsubscribe_UnknownIDOnLiveChannel(t *testing.T) {
	bus := newTestBus(t, nil)

	sub, err := bus.Subscribe("health:changed", func(Payload) error { return nil })
	require.NoError(t, err)
	assert.False(t, bus.Unsubscribe(Subscription{EventName: sub.EventName, ID: sub.ID + 1000}))
	assert.Equal(t, 1, bus.SubscriberCount("health:changed"))
}

func TestSubscribe_TokensAreUnique(t *testing.T) {
	a := newTestBus(t, nil)
	b := newTestBus(t, nil)

	seen := map[uint64]bool{}
	for _, bus := range []*Bus{a, b, a, b} {
		sub, err := bus.Subscribe("x:y", func(Payload) error { return nil })
		require.NoError(t, err)
		assert.False(t, seen[sub.ID], "duplicate subscription id %d", sub.ID)
		seen[sub.ID] = true
	}
}

func TestSubscribe_Validation(t *testing.T) {
	tests := []struct {
		name     string
		validate bool
		event    string
		handler  Handler
		wantErr  error
	}{
		{"empty name", false, "", func(Payload) error { return nil }, ErrInvalidEventName},
		{"nil handler", false, "x:y", nil, ErrNilHandler},
		{"free-form name without validation", false, "whatever", func(Payload) error { return nil }, nil},
		{"malformed name with validation", true, "whatever", func(Payload) error { return nil }, ErrInvalidEventName},
		{"three-part name with validation", true, "enemy:42:died", func(Payload) error { return nil }, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := newTestBus(t, func(b *BusBuilder) { b.WithNameValidation(tt.validate) })
			_, err := bus.Subscribe(tt.event, tt.handler)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestEmit_RejectsMalformedNameWhenValidating(t *testing.T) {
	bus := newTestBus(t, func(b *BusBuilder) { b.WithNameValidation(true) })

	err := bus.Emit("not-a-valid-name", nil)
	assert.ErrorIs(t, err, ErrInvalidEventName)
	assert.Equal(t, uint64(1), bus.Stats().RejectedNames)
}

func TestEmit_ReentrantUnsubscribeUsesSnapshot(t *testing.T) {
	bus := newTestBus(t, nil)

	var calls []string
	var second Subscription
	_, err := bus.Subscribe("x:y", func(Payload) error {
		calls = append(calls, "first")
		bus.Unsubscribe(second)
		_, _ = bus.Subscribe("x:y", func(Payload) error {
			calls = append(calls, "late")
			return nil
		})
		return nil
	})
	require.NoError(t, err)
	second, err = bus.Subscribe("x:y", func(Payload) error {
		calls = append(calls, "second")
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, bus.Emit("x:y", nil))
	assert.Equal(t, []string{"first", "second"}, calls)

	calls = nil
	require.NoError(t, bus.Emit("x:y", nil))
	assert.Equal(t, []string{"first", "late"}, calls)
}

func TestEmit_ReentrantSelfUnsubscribe(t *testing.T) {
	bus := newTestBus(t, nil)

	calls := 0
	var self Subscription
	var err error
	self, err = bus.Subscribe("x:y", func(Payload) error {
		calls++
		bus.Unsubscribe(self)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, bus.Emit("x:y", nil))
	require.NoError(t, bus.Emit("x:y", nil))
	assert.Equal(t, 1, calls)
}

func TestClear_KeepsMetrics(t *testing.T) {
	bus := newTestBus(t, func(b *BusBuilder) { b.WithInstrumentation(InstrumentationOptions{}) })

	_, err := bus.Subscribe("x:y", func(Payload) error { return nil })
	require.NoError(t, err)
	require.NoError(t, bus.Emit("x:y", nil))

	bus.Clear()
	assert.False(t, bus.HasSubscribers("x:y"))
	assert.Empty(t, bus.EventNames())
	_, ok := bus.Record("x:y")
	assert.True(t, ok)

	bus.ResetMetrics()
	assert.Empty(t, bus.Metrics())
}

func TestClose(t *testing.T) {
	bus := newTestBus(t, nil)
	_, err := bus.Subscribe("x:y", func(Payload) error { return nil })
	require.NoError(t, err)

	bus.Close()
	bus.Close()

	_, err = bus.Subscribe("x:y", func(Payload) error { return nil })
	assert.ErrorIs(t, err, ErrBusClosed)
	assert.ErrorIs(t, bus.Emit("x:y", nil), ErrBusClosed)
	assert.Equal(t, "unhealthy", bus.Health().Status)
}

func TestHealth_DegradedOnFaults(t *testing.T) {
	bus := newTestBus(t, nil)
	_, err := bus.Subscribe("x:y", func(Payload) error { return errors.New("nope") })
	require.NoError(t, err)

	assert.Equal(t, "healthy", bus.Health().Status)
	require.NoError(t, bus.Emit("x:y", nil))
	assert.Equal(t, "degraded", bus.Health().Status)
}

func TestMiddleware_Order(t *testing.T) {
	var order []string
	mw := func(tag string) Middleware {
		return func(next Handler) Handler {
			return func(p Payload) error {
				order = append(order, tag)
				return next(p)
			}
		}
	}
	bus := newTestBus(t, func(b *BusBuilder) { b.WithMiddleware(mw("outer"), mw("inner")) })

	_, err := bus.Subscribe("x:y", func(Payload) error {
		order = append(order, "handler")
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, bus.Emit("x:y", nil))
	assert.Equal(t, []string{"outer", "inner", "handler"}, order)
}

func TestFilterMiddleware(t *testing.T) {
	bus := newTestBus(t, func(b *BusBuilder) {
		b.WithMiddleware(FilterMiddleware(func(p Payload) bool {
			crit, _ := p.Fields["isCritical"].(bool)
			return crit
		}))
	})

	calls := 0
	_, err := bus.Subscribe("hit:registered", func(Payload) error { calls++; return nil })
	require.NoError(t, err)

	require.NoError(t, bus.Emit("hit:registered", Fields{"isCritical": false}))
	require.NoError(t, bus.Emit("hit:registered", Fields{"isCritical": true}))
	assert.Equal(t, 1, calls)
}

func TestObservers_AddRemove(t *testing.T) {
	bus := newTestBus(t, nil)
	obs := NewCountingObserver()
	bus.AddObserver(obs)

	sub, err := bus.Subscribe("x:y", func(Payload) error { return nil })
	require.NoError(t, err)
	bus.Unsubscribe(sub)
	assert.Equal(t, uint64(1), obs.Count(Subscribed))
	assert.Equal(t, uint64(1), obs.Count(Unsubscribed))

	bus.RemoveObserver(obs)
	_, err = bus.Subscribe("x:y", func(Payload) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, uint64(1), obs.Count(Subscribed))

	// Function observers cannot be compared; removing one is a no-op.
	assert.NotPanics(t, func() { bus.RemoveObserver(ObserverFunc(func(Event) {})) })
}

func TestObserverPanicDoesNotBreakDispatch(t *testing.T) {
	bus := newTestBus(t, func(b *BusBuilder) {
		b.WithObserver(ObserverFunc(func(Event) { panic("observer") }))
	})

	calls := 0
	_, err := bus.Subscribe("x:y", func(Payload) error { calls++; return nil })
	require.NoError(t, err)
	require.NoError(t, bus.Emit("x:y", nil))
	assert.Equal(t, 1, calls)
}

func TestIntrospection(t *testing.T) {
	bus := newTestBus(t, nil)
	assert.False(t, bus.HasSubscribers("x:y"))
	assert.Equal(t, 0, bus.SubscriberCount("x:y"))

	_, err := bus.Subscribe("x:y", func(Payload) error { return nil })
	require.NoError(t, err)
	_, err = bus.Subscribe("x:y", func(Payload) error { return nil })
	require.NoError(t, err)
	_, err = bus.Subscribe("a:b", func(Payload) error { return nil })
	require.NoError(t, err)

	assert.True(t, bus.HasSubscribers("x:y"))
	assert.Equal(t, 2, bus.SubscriberCount("x:y"))
	assert.ElementsMatch(t, []string{"x:y", "a:b"}, bus.EventNames())

	stats := bus.Stats()
	assert.Equal(t, 2, stats.Channels)
	assert.Equal(t, 3, stats.Subscriptions)
}

func TestConcurrentEmitAndSubscribe(t *testing.T) {
	bus := newTestBus(t, func(b *BusBuilder) { b.WithInstrumentation(InstrumentationOptions{}) })

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				sub, err := bus.Subscribe("x:y", func(Payload) error { return nil })
				if err == nil {
					bus.Unsubscribe(sub)
				}
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = bus.Emit("x:y", Fields{"j": j})
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, uint64(800), bus.Stats().Emitted)
}
