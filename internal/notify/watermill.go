package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ent0n29/profileswitch/internal/logging"
)

const Topic = "profile.events"

// WatermillBus runs cancellable hooks in-process and fans events out over a
// watermill gochannel pub/sub.
type WatermillBus struct {
	mu        sync.RWMutex
	preSwitch []PreSwitchHook
	created   []ProfileHook
	deleted   []ProfileHook

	pubsub *gochannel.GoChannel
	logger zerolog.Logger
}

func NewWatermillBus(logger zerolog.Logger) *WatermillBus {
	ps := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 256,
	}, logging.NewWatermill(logger))
	return &WatermillBus{pubsub: ps, logger: logger}
}

func (b *WatermillBus) OnPreSwitch(hook PreSwitchHook) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.preSwitch = append(b.preSwitch, hook)
}

func (b *WatermillBus) OnProfileCreated(hook ProfileHook) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.created = append(b.created, hook)
}

func (b *WatermillBus) OnProfileDeleted(hook ProfileHook) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deleted = append(b.deleted, hook)
}

// PreSwitch runs hooks in registration order; the first cancel wins.
func (b *WatermillBus) PreSwitch(ctx context.Context, ownerID, from, to string) Result {
	b.mu.RLock()
	hooks := append([]PreSwitchHook(nil), b.preSwitch...)
	b.mu.RUnlock()
	for _, hook := range hooks {
		if res := hook(ctx, ownerID, from, to); res.Cancelled {
			return res
		}
	}
	return Allow()
}

func (b *WatermillBus) ProfileCreated(ctx context.Context, ownerID, name string) Result {
	b.mu.RLock()
	hooks := append([]ProfileHook(nil), b.created...)
	b.mu.RUnlock()
	return runProfileHooks(ctx, hooks, ownerID, name)
}

func (b *WatermillBus) ProfileDeleted(ctx context.Context, ownerID, name string) Result {
	b.mu.RLock()
	hooks := append([]ProfileHook(nil), b.deleted...)
	b.mu.RUnlock()
	return runProfileHooks(ctx, hooks, ownerID, name)
}

func runProfileHooks(ctx context.Context, hooks []ProfileHook, ownerID, name string) Result {
	for _, hook := range hooks {
		if res := hook(ctx, ownerID, name); res.Cancelled {
			return res
		}
	}
	return Allow()
}

func (b *WatermillBus) Publish(_ context.Context, event Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		b.logger.Error().Err(err).Str("type", string(event.Type)).Msg("encode event failed")
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := b.pubsub.Publish(Topic, msg); err != nil {
		b.logger.Warn().Err(err).Str("type", string(event.Type)).Msg("publish event failed")
	}
}

// Subscribe streams events published after the call until ctx is done.
func (b *WatermillBus) Subscribe(ctx context.Context) (<-chan Event, error) {
	msgs, err := b.pubsub.Subscribe(ctx, Topic)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", Topic, err)
	}
	out := make(chan Event, 64)
	go func() {
		defer close(out)
		for msg := range msgs {
			var ev Event
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				b.logger.Warn().Err(err).Str("message_id", msg.UUID).Msg("drop malformed event")
				msg.Ack()
				continue
			}
			msg.Ack()
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (b *WatermillBus) Close() error {
	return b.pubsub.Close()
}

var _ Bus = (*WatermillBus)(nil)
