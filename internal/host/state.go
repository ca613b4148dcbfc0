package host

import (
	"context"
	"fmt"
	"math"

	"github.com/fxamacker/cbor/v2"
)

// Snapshotter captures and restores an owner's live state as an opaque blob.
type Snapshotter interface {
	Capture(ctx context.Context, ownerID string) ([]byte, error)
	Apply(ctx context.Context, ownerID string, state []byte) error
}

type Item struct {
	Slot   int    `json:"slot" cbor:"1,keyasint"`
	Kind   string `json:"kind" cbor:"2,keyasint"`
	Amount int    `json:"amount" cbor:"3,keyasint"`
	Meta   []byte `json:"meta,omitempty" cbor:"4,keyasint,omitempty"`
}

type Effect struct {
	Kind      string `json:"kind" cbor:"1,keyasint"`
	Amplifier int    `json:"amplifier" cbor:"2,keyasint"`
	Ticks     int    `json:"ticks" cbor:"3,keyasint"`
}

type Position struct {
	World string  `json:"world,omitempty" cbor:"1,keyasint,omitempty"`
	X     float64 `json:"x" cbor:"2,keyasint"`
	Y     float64 `json:"y" cbor:"3,keyasint"`
	Z     float64 `json:"z" cbor:"4,keyasint"`
	Yaw   float32 `json:"yaw,omitempty" cbor:"5,keyasint,omitempty"`
	Pitch float32 `json:"pitch,omitempty" cbor:"6,keyasint,omitempty"`
}

// SameBlock compares whole-block coordinates; orientation is ignored.
func SameBlock(a, b Position) bool {
	return a.World == b.World &&
		math.Floor(a.X) == math.Floor(b.X) &&
		math.Floor(a.Y) == math.Floor(b.Y) &&
		math.Floor(a.Z) == math.Floor(b.Z)
}

// LiveState is everything a profile snapshot restores. Position is not part
// of a profile.
type LiveState struct {
	Inventory  []Item   `json:"inventory" cbor:"1,keyasint"`
	Armor      []Item   `json:"armor,omitempty" cbor:"2,keyasint,omitempty"`
	Health     float64  `json:"health" cbor:"3,keyasint"`
	Food       int      `json:"food" cbor:"4,keyasint"`
	Saturation float64  `json:"saturation" cbor:"5,keyasint"`
	Level      int      `json:"level" cbor:"6,keyasint"`
	XP         float64  `json:"xp" cbor:"7,keyasint"`
	Effects    []Effect `json:"effects,omitempty" cbor:"8,keyasint,omitempty"`
}

// FreshState is what a player starts with.
func FreshState() LiveState {
	return LiveState{Health: 20, Food: 20, Saturation: 5}
}

var encMode = func() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

func EncodeState(s LiveState) ([]byte, error) {
	b, err := encMode.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode live state: %w", err)
	}
	return b, nil
}

// DecodeState treats an empty blob as a fresh state.
func DecodeState(b []byte) (LiveState, error) {
	if len(b) == 0 {
		return FreshState(), nil
	}
	var s LiveState
	if err := cbor.Unmarshal(b, &s); err != nil {
		return LiveState{}, fmt.Errorf("decode live state: %w", err)
	}
	return s, nil
}
