package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ent0n29/profileswitch/internal/host"
	"github.com/ent0n29/profileswitch/internal/notify"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeSignalMove       MessageType = "signal_move"
	TypeSignalDamage     MessageType = "signal_damage"
	TypeSignalCombatHit  MessageType = "signal_combat_hit"
	TypeSignalDisconnect MessageType = "signal_disconnect"
	TypeSwitchRequest    MessageType = "switch_request"
	TypeProfileEvent     MessageType = "profile_event"
	TypeAck              MessageType = "ack"
	TypeErrorEvent       MessageType = "error_event"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

type SignalMove struct {
	Type    MessageType    `json:"type"`
	OwnerID string         `json:"owner_id"`
	From    *host.Position `json:"from,omitempty"`
	To      host.Position  `json:"to"`
}

type SignalDamage struct {
	Type    MessageType `json:"type"`
	OwnerID string      `json:"owner_id"`
}

type SignalCombatHit struct {
	Type       MessageType `json:"type"`
	AttackerID string      `json:"attacker_id"`
	VictimID   string      `json:"victim_id"`
}

type SignalDisconnect struct {
	Type    MessageType `json:"type"`
	OwnerID string      `json:"owner_id"`
}

type SwitchRequest struct {
	Type    MessageType `json:"type"`
	OwnerID string      `json:"owner_id"`
	Profile string      `json:"profile"`
	Force   bool        `json:"force,omitempty"`
}

type ProfileEvent struct {
	Type  MessageType  `json:"type"`
	Event notify.Event `json:"event"`
}

type Ack struct {
	Type      MessageType `json:"type"`
	For       MessageType `json:"for"`
	OwnerID   string      `json:"owner_id,omitempty"`
	Cancelled bool        `json:"cancelled,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	OwnerID   string      `json:"owner_id,omitempty"`
	Code      string      `json:"code"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func NewProfileEvent(ev notify.Event) ProfileEvent {
	return ProfileEvent{Type: TypeProfileEvent, Event: ev}
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeSignalMove:
		var msg SignalMove
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.OwnerID == "" {
			return nil, errors.New("invalid signal_move")
		}
		return msg, nil
	case TypeSignalDamage:
		var msg SignalDamage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.OwnerID == "" {
			return nil, errors.New("invalid signal_damage")
		}
		return msg, nil
	case TypeSignalCombatHit:
		var msg SignalCombatHit
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.AttackerID == "" || msg.VictimID == "" || msg.AttackerID == msg.VictimID {
			return nil, errors.New("invalid signal_combat_hit")
		}
		return msg, nil
	case TypeSignalDisconnect:
		var msg SignalDisconnect
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.OwnerID == "" {
			return nil, errors.New("invalid signal_disconnect")
		}
		return msg, nil
	case TypeSwitchRequest:
		var msg SwitchRequest
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.OwnerID == "" || msg.Profile == "" {
			return nil, errors.New("invalid switch_request")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
