package hudbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAsyncObservers_DeliveredOffThePath(t *testing.T) {
	obs := NewCountingObserver()
	b, err := New(func(bb *BusBuilder) {
		bb.WithAsyncObservers(1, 64).WithObserver(obs)
	})
	require.NoError(t, err)

	_, err = b.Subscribe("kill:confirmed", func(Payload) error { panic("bad") })
	require.NoError(t, err)
	require.NoError(t, b.Emit("kill:confirmed", nil))

	require.Eventually(t, func() bool {
		return obs.Count(Subscribed) == 1 && obs.Count(HandlerFault) == 1
	}, time.Second, time.Millisecond)

	s, ok := b.ObserverQueueStats()
	require.True(t, ok)
	assert.Equal(t, uint64(0), s.Dropped)

	b.Close()
	s, _ = b.ObserverQueueStats()
	assert.Equal(t, uint64(2), s.Processed)
}

func TestObserverPool_DropsWhenFull(t *testing.T) {
	release := make(chan struct{})
	blocking := ObserverFunc(func(Event) { <-release })

	op := NewObserverPool(context.Background(), 1, 1)
	op.Notify(Event{Type: Subscribed}, []Observer{blocking})
	require.Eventually(t, func() bool { return len(op.jobs) == 0 }, time.Second, time.Millisecond)

	op.Notify(Event{Type: Subscribed}, []Observer{blocking}) // queued
	op.Notify(Event{Type: Subscribed}, []Observer{blocking}) // dropped
	assert.Equal(t, uint64(1), op.Stats().Dropped)

	close(release)
	require.NoError(t, op.Close(time.Second))
	assert.Equal(t, uint64(2), op.Stats().Processed)
	require.NoError(t, op.Close(time.Second))

	op.Notify(Event{Type: Cleared}, []Observer{blocking})
	assert.Equal(t, uint64(1), op.Stats().Dropped)
}

func TestObserverPool_RecoversObserverPanic(t *testing.T) {
	got := make(chan EventType, 1)
	op := NewObserverPool(context.Background(), 1, 4)
	defer op.Close(time.Second)

	op.Notify(Event{Type: Cleared}, []Observer{
		ObserverFunc(func(Event) { panic("observer broke") }),
		ObserverFunc(func(e Event) { got <- e.Type }),
	})
	select {
	case typ := <-got:
		assert.Equal(t, Cleared, typ)
	case <-time.After(time.Second):
		t.Fatal("second observer was not called")
	}
}
