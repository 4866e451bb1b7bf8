package messaging

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/reading-engine/internal/domain/shared"
)

func TestInMemoryEventBus_SyncDelivery(t *testing.T) {
	bus := NewInMemoryEventBus(Config{AsyncMode: false})

	var typed, all int
	require.NoError(t, bus.Subscribe(shared.EventMemberSynced, func(shared.Event) error { typed++; return nil }))
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { all++; return nil }))

	require.NoError(t, bus.Publish(shared.NewMemberSyncedEvent("u1", []string{"class-7b"})))

	assert.Equal(t, 1, typed)
	assert.Equal(t, 1, all)
	assert.Equal(t, int64(1), bus.Metrics().Snapshot().Published)
	assert.Equal(t, int64(2), bus.Metrics().Snapshot().Handled)
}

func TestInMemoryEventBus_HandlerFailuresAreContained(t *testing.T) {
	bus := NewInMemoryEventBus(Config{AsyncMode: false})

	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { return errors.New("boom") }))
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { panic("kaboom") }))

	assert.NoError(t, bus.Publish(shared.NewMemberSyncedEvent("u1", nil)))
	assert.Equal(t, int64(2), bus.Metrics().Snapshot().Failed)
}

func TestInMemoryEventBus_AsyncCloseWaits(t *testing.T) {
	bus := NewInMemoryEventBus(Config{AsyncMode: true, WorkerPoolSize: 2})

	var n atomic.Int32
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { n.Add(1); return nil }))

	for i := 0; i < 20; i++ {
		require.NoError(t, bus.Publish(shared.NewMemberSyncedEvent("u1", nil)))
	}
	require.NoError(t, bus.Close())

	assert.LessOrEqual(t, n.Load(), int32(20))
	assert.ErrorIs(t, bus.Publish(shared.NewMemberSyncedEvent("u1", nil)), ErrEventBusClosed)
	assert.ErrorIs(t, bus.SubscribeAll(func(shared.Event) error { return nil }), ErrEventBusClosed)
}
