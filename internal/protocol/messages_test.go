package protocol

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/ent0n29/profileswitch/internal/notify"
)

func TestParseClientMessageMove(t *testing.T) {
	raw := []byte(`{"type":"signal_move","owner_id":"o1","from":{"world":"w","x":1.5,"y":64,"z":2},"to":{"world":"w","x":2.5,"y":64,"z":2}}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	move, ok := msg.(SignalMove)
	if !ok {
		t.Fatalf("message type = %T, want SignalMove", msg)
	}
	if move.OwnerID != "o1" || move.From == nil || move.To.X != 2.5 {
		t.Fatalf("unexpected move: %+v", move)
	}
}

func TestParseClientMessageMoveWithoutFrom(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"signal_move","owner_id":"o1","to":{"x":1,"y":2,"z":3}}`))
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	if move := msg.(SignalMove); move.From != nil {
		t.Fatalf("From = %+v, want nil", move.From)
	}
}

func TestParseClientMessageRejectsUnknownType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"wat"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}

func TestParseClientMessageCombatHit(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"signal_combat_hit","attacker_id":"a","victim_id":"v"}`))
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	hit, ok := msg.(SignalCombatHit)
	if !ok {
		t.Fatalf("message type = %T, want SignalCombatHit", msg)
	}
	if hit.AttackerID != "a" || hit.VictimID != "v" {
		t.Fatalf("unexpected hit: %+v", hit)
	}

	if _, err := ParseClientMessage([]byte(`{"type":"signal_combat_hit","attacker_id":"a","victim_id":"a"}`)); err == nil {
		t.Fatalf("expected self-hit to be rejected")
	}
}

func TestParseClientMessageSwitchRequest(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"switch_request","owner_id":"o1","profile":"pvp","force":true}`))
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	req, ok := msg.(SwitchRequest)
	if !ok {
		t.Fatalf("message type = %T, want SwitchRequest", msg)
	}
	if req.Profile != "pvp" || !req.Force {
		t.Fatalf("unexpected switch request: %+v", req)
	}
}

func TestParseClientMessageRejectsMissingOwner(t *testing.T) {
	for _, raw := range []string{
		`{"type":"signal_damage"}`,
		`{"type":"signal_disconnect","owner_id":""}`,
		`{"type":"switch_request","owner_id":"o1"}`,
		`not json`,
	} {
		if _, err := ParseClientMessage([]byte(raw)); err == nil {
			t.Fatalf("ParseClientMessage(%s) expected error", raw)
		}
	}
}

func TestProfileEventEncoding(t *testing.T) {
	b, err := json.Marshal(NewProfileEvent(notify.Event{Type: notify.EventWarmupTick, OwnerID: "o1", Remaining: 2}))
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	got := string(b)
	if !strings.Contains(got, `"type":"profile_event"`) || !strings.Contains(got, `"remaining":2`) {
		t.Fatalf("encoded = %s", got)
	}
}

func BenchmarkParseClientMessageMove(b *testing.B) {
	raw := []byte(`{"type":"signal_move","owner_id":"o1","from":{"x":1,"y":64,"z":1},"to":{"x":1.2,"y":64,"z":1.1}}`)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		msg, err := ParseClientMessage(raw)
		if err != nil {
			b.Fatalf("ParseClientMessage() error = %v", err)
		}
		if _, ok := msg.(SignalMove); !ok {
			b.Fatalf("message type = %T, want SignalMove", msg)
		}
	}
}
