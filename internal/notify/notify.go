package notify

import (
	"context"
	"time"
)

// Result is the outcome of a cancellable notification.
type Result struct {
	Cancelled bool   `json:"cancelled"`
	Reason    string `json:"reason,omitempty"`
}

func Allow() Result { return Result{} }

func Cancel(reason string) Result {
	if reason == "" {
		reason = "cancelled"
	}
	return Result{Cancelled: true, Reason: reason}
}

type EventType string

const (
	EventWarmupStarted    EventType = "warmup_started"
	EventWarmupTick       EventType = "warmup_tick"
	EventSwitchCommitted  EventType = "switch_committed"
	EventSwitchCancelled  EventType = "switch_cancelled"
	EventSwitchFailed     EventType = "switch_failed"
	EventProfileCreated   EventType = "profile_created"
	EventProfileDeleted   EventType = "profile_deleted"
	EventProfilesLoaded   EventType = "profiles_loaded"
	EventProfilesUnloaded EventType = "profiles_unloaded"
	EventCombatTagged     EventType = "combat_tagged"
)

// Event is a fire-and-forget notification about an owner.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	OwnerID   string    `json:"owner_id"`
	From      string    `json:"from,omitempty"`
	To        string    `json:"to,omitempty"`
	Profile   string    `json:"profile,omitempty"`
	Remaining int       `json:"remaining,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Forced    bool      `json:"forced,omitempty"`
	At        time.Time `json:"at"`
}

type PreSwitchHook func(ctx context.Context, ownerID, from, to string) Result

type ProfileHook func(ctx context.Context, ownerID, name string) Result

// Bus delivers lifecycle notifications. The Pre*/Profile* calls are
// synchronous and may cancel; Publish never blocks on listeners.
type Bus interface {
	PreSwitch(ctx context.Context, ownerID, from, to string) Result
	ProfileCreated(ctx context.Context, ownerID, name string) Result
	ProfileDeleted(ctx context.Context, ownerID, name string) Result
	Publish(ctx context.Context, event Event)
}

// Nop allows everything and drops events.
type Nop struct{}

func (Nop) PreSwitch(context.Context, string, string, string) Result { return Allow() }
func (Nop) ProfileCreated(context.Context, string, string) Result { return Allow() }
func (Nop) ProfileDeleted(context.Context, string, string) Result { return Allow() }
func (Nop) Publish(context.Context, Event) {}
