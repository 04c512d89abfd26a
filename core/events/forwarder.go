package events

import (
	"encoding/hex"
	"strconv"

	"metatx/core/types"
	"metatx/crypto"
)

const (
	// TypeEnvelopeExecuted is emitted when the forwarder completes the nested
	// call of a signed envelope.
	TypeEnvelopeExecuted = "forwarder.executed"
)

// EnvelopeExecuted captures a successfully forwarded envelope.
type EnvelopeExecuted struct {
	Forwarder crypto.AccountID
	Relayer   crypto.AccountID
	Envelope  *types.Envelope
	Digest    [32]byte
}

// EventType satisfies the events.Event interface.
func (EnvelopeExecuted) EventType() string { return TypeEnvelopeExecuted }

// Event renders the executed envelope payload.
func (e EnvelopeExecuted) Event() *types.Event {
	attrs := map[string]string{
		"forwarder": e.Forwarder.String(),
		"relayer":   e.Relayer.String(),
		"digest":    "0x" + hex.EncodeToString(e.Digest[:]),
	}
	if e.Envelope != nil {
		attrs["caller"] = e.Envelope.From.String()
		attrs["callee"] = e.Envelope.Callee.String()
		attrs["selector"] = e.Envelope.Selector.String()
		attrs["nonce"] = e.Envelope.NonceValue().Dec()
		attrs["value"] = e.Envelope.Value().Dec()
		attrs["gasLimit"] = strconv.FormatUint(e.Envelope.GasLimit, 10)
		attrs["expiration"] = strconv.FormatUint(e.Envelope.Expiration, 10)
		if encoded, err := e.Envelope.Encode(); err == nil {
			attrs["envelope"] = "0x" + hex.EncodeToString(encoded)
		}
	}
	return &types.Event{Type: TypeEnvelopeExecuted, Attributes: attrs}
}
