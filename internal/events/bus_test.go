package events

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_EmitReachesSubscribers(t *testing.T) {
	bus := NewEventBus()

	var calls atomic.Int32
	var got atomic.Value
	bus.Subscribe(EventCommandCompleted, "a", func(ctx context.Context, e Event) error {
		calls.Add(1)
		got.Store(e)
		return nil
	})
	bus.Subscribe(EventCommandCompleted, "b", func(ctx context.Context, e Event) error {
		calls.Add(1)
		return nil
	})
	bus.Subscribe(EventCommandFailed, "other", func(ctx context.Context, e Event) error {
		t.Error("handler for another event type must not run")
		return nil
	})

	bus.Emit(context.Background(), Event{
		Type:    EventCommandCompleted,
		Source:  "test",
		Payload: CommandPayload{Command: "status"},
	})
	bus.Stop()

	assert.Equal(t, int32(2), calls.Load())
	e := got.Load().(Event)
	assert.False(t, e.Time.IsZero())
	assert.Equal(t, "status", e.Payload.(CommandPayload).Command)
}

func TestBus_EmitSyncReturnsFirstError(t *testing.T) {
	bus := NewEventBus()
	boom := errors.New("boom")

	bus.Subscribe(EventStateChanged, "fails", func(ctx context.Context, e Event) error {
		return boom
	})

	err := bus.EmitSync(context.Background(), Event{Type: EventStateChanged})
	assert.ErrorIs(t, err, boom)
}

func TestBus_PanicIsContained(t *testing.T) {
	bus := NewEventBus()
	bus.Subscribe(EventStateChanged, "panics", func(ctx context.Context, e Event) error {
		panic("handler bug")
	})

	require.NotPanics(t, func() {
		require.NoError(t, bus.EmitSync(context.Background(), Event{Type: EventStateChanged}))
	})
}

func TestBus_UnsubscribeAndStop(t *testing.T) {
	bus := NewEventBus()
	var calls atomic.Int32

	bus.Subscribe(EventShutdown, "h", func(ctx context.Context, e Event) error {
		calls.Add(1)
		return nil
	})
	assert.Equal(t, 1, bus.HandlerCount(EventShutdown))

	bus.Unsubscribe(EventShutdown, "h")
	assert.Equal(t, 0, bus.HandlerCount(EventShutdown))

	bus.Subscribe(EventShutdown, "h2", func(ctx context.Context, e Event) error {
		calls.Add(1)
		return nil
	})
	bus.Stop()
	bus.Emit(context.Background(), Event{Type: EventShutdown})

	assert.Equal(t, int32(0), calls.Load())
}
