package events

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestBusDeliversByName(t *testing.T) {
	bus := NewBus("test", nil)
	var created, all []Name
	bus.Subscribe(TaskCreated, func(e Event) error { created = append(created, e.Name); return nil })
	bus.SubscribeAll(func(e Event) error { all = append(all, e.Name); return nil })

	bus.Emit(TaskCreated, nil)
	bus.Emit(TaskDeleted, nil)

	assert.Equal(t, []Name{TaskCreated}, created)
	assert.Equal(t, []Name{TaskCreated, TaskDeleted}, all)
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus("test", nil)
	calls := 0
	stop := bus.Subscribe(Synced, func(Event) error { calls++; return nil })
	bus.Emit(Synced, nil)
	stop()
	stop()
	bus.Emit(Synced, nil)
	assert.Equal(t, 1, calls)
}

func TestBusIsolatesListenerFailures(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	bus := NewBus("test", zap.New(core))
	reached := false
	bus.Subscribe(TaskUpdated, func(Event) error { panic("boom") })
	bus.Subscribe(TaskUpdated, func(Event) error { return errors.New("nope") })
	bus.Subscribe(TaskUpdated, func(e Event) error {
		reached = true
		assert.Equal(t, "test", e.Source)
		assert.Equal(t, "payload", e.Payload)
		return nil
	})

	assert.NotPanics(t, func() { bus.Emit(TaskUpdated, "payload") })
	assert.True(t, reached)
	assert.Equal(t, 1, logs.FilterMessage("event listener panicked").Len())
	assert.Equal(t, 1, logs.FilterMessage("event listener failed").Len())
}
