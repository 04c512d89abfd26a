package events

import (
	"metatx/core/types"
	"metatx/crypto"
)

// TypeTrustedForwarderSet is emitted when a contract changes its trusted
// forwarder.
const TypeTrustedForwarderSet = "metatx.trustedForwarderSet"

// TrustedForwarderSet records a forwarder configuration update.
type TrustedForwarderSet struct {
	Contract  crypto.AccountID
	Forwarder crypto.AccountID
	Previous  *crypto.AccountID
	Sender    crypto.AccountID
}

// EventType satisfies the events.Event interface.
func (TrustedForwarderSet) EventType() string { return TypeTrustedForwarderSet }

// Event renders the configuration update.
func (e TrustedForwarderSet) Event() *types.Event {
	attrs := map[string]string{
		"contract":  e.Contract.String(),
		"forwarder": e.Forwarder.String(),
		"sender":    e.Sender.String(),
	}
	if e.Previous != nil {
		attrs["previous"] = e.Previous.String()
	}
	return &types.Event{Type: TypeTrustedForwarderSet, Attributes: attrs}
}
