package notify

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPreSwitchFirstCancelWins(t *testing.T) {
	bus := NewWatermillBus(zerolog.Nop())
	defer bus.Close()

	calls := 0
	bus.OnPreSwitch(func(context.Context, string, string, string) Result {
		calls++
		return Allow()
	})
	bus.OnPreSwitch(func(_ context.Context, _ string, _ string, to string) Result {
		calls++
		if to == "arena" {
			return Cancel("arena is locked")
		}
		return Allow()
	})
	bus.OnPreSwitch(func(context.Context, string, string, string) Result {
		calls++
		return Cancel("never reached")
	})

	res := bus.PreSwitch(context.Background(), "o1", "main", "arena")
	assert.True(t, res.Cancelled)
	assert.Equal(t, "arena is locked", res.Reason)
	assert.Equal(t, 2, calls)
}

func TestProfileHooksDefaultToAllowed(t *testing.T) {
	bus := NewWatermillBus(zerolog.Nop())
	defer bus.Close()
	assert.False(t, bus.ProfileCreated(context.Background(), "o1", "x").Cancelled)

	bus.OnProfileDeleted(func(_ context.Context, _ string, name string) Result {
		return Cancel("")
	})
	res := bus.ProfileDeleted(context.Background(), "o1", "x")
	assert.True(t, res.Cancelled)
	assert.Equal(t, "cancelled", res.Reason)
}

func TestPublishReachesSubscriber(t *testing.T) {
	bus := NewWatermillBus(zerolog.Nop())
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	bus.Publish(ctx, Event{Type: EventWarmupTick, OwnerID: "o1", To: "pvp", Remaining: 2})

	select {
	case ev := <-events:
		assert.Equal(t, EventWarmupTick, ev.Type)
		assert.Equal(t, 2, ev.Remaining)
		assert.NotEmpty(t, ev.ID)
		assert.False(t, ev.At.IsZero())
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestPublishWithoutSubscribersDoesNotBlock(t *testing.T) {
	bus := NewWatermillBus(zerolog.Nop())
	defer bus.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			bus.Publish(context.Background(), Event{Type: EventProfileCreated, OwnerID: "o1"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked without subscribers")
	}
}
