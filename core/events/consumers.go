package events

import (
	"strconv"

	"metatx/core/types"
	"metatx/crypto"
)

const (
	// TypeFlipped is emitted by the flipper contract on every flip.
	TypeFlipped = "flipper.flipped"
	// TypeNameRegistered is emitted when an account claims a name.
	TypeNameRegistered = "registry.registered"
	// TypeNameUnregistered is emitted when an account releases its name.
	TypeNameUnregistered = "registry.unregistered"
)

// Flipped records the effective caller and the new flipper value.
type Flipped struct {
	Contract crypto.AccountID
	Caller   crypto.AccountID
	Value    bool
}

// EventType satisfies the events.Event interface.
func (Flipped) EventType() string { return TypeFlipped }

// Event renders the flip payload.
func (e Flipped) Event() *types.Event {
	return &types.Event{Type: TypeFlipped, Attributes: map[string]string{
		"contract": e.Contract.String(),
		"caller":   e.Caller.String(),
		"value":    strconv.FormatBool(e.Value),
	}}
}

// NameRegistered records a name claim.
type NameRegistered struct {
	Contract crypto.AccountID
	Owner    crypto.AccountID
	Name     string
}

// EventType satisfies the events.Event interface.
func (NameRegistered) EventType() string { return TypeNameRegistered }

// Event renders the registration payload.
func (e NameRegistered) Event() *types.Event {
	return &types.Event{Type: TypeNameRegistered, Attributes: map[string]string{
		"contract": e.Contract.String(),
		"owner":    e.Owner.String(),
		"name":     e.Name,
	}}
}

// NameUnregistered records a released name.
type NameUnregistered struct {
	Contract crypto.AccountID
	Owner    crypto.AccountID
	Name     string
}

// EventType satisfies the events.Event interface.
func (NameUnregistered) EventType() string { return TypeNameUnregistered }

// Event renders the release payload.
func (e NameUnregistered) Event() *types.Event {
	return &types.Event{Type: TypeNameUnregistered, Attributes: map[string]string{
		"contract": e.Contract.String(),
		"owner":    e.Owner.String(),
		"name":     e.Name,
	}}
}
