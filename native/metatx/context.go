package metatx

import (
	"errors"
	"fmt"

	"metatx/core/events"
	"metatx/core/vm"
	"metatx/crypto"
	"metatx/native/access"
)

// ErrRecoverAccountIDFailed is returned when a payload relayed by the trusted
// forwarder does not start with an account id.
var ErrRecoverAccountIDFailed = errors.New("metatx: recover account id failed")

var trustedForwarderKey = []byte("metatx/trusted-forwarder")

// Context resolves the effective caller of a contract message. Only the one
// forwarder configured by an admin may assert a caller other than itself, by
// prefixing the payload it relays with the signer's account id.
type Context struct {
	access *access.Control
}

// New returns a context gated by the provided role table.
func New(ctl *access.Control) *Context {
	if ctl == nil {
		ctl = access.New()
	}
	return &Context{access: ctl}
}

// TrustedForwarder returns the configured forwarder, if any.
func (c *Context) TrustedForwarder(env vm.Env) (crypto.AccountID, bool, error) {
	var raw []byte
	ok, err := env.Storage().KVGet(trustedForwarderKey, &raw)
	if err != nil || !ok {
		return crypto.AccountID{}, false, err
	}
	forwarder, err := crypto.AccountIDFromBytes(raw)
	if err != nil {
		return crypto.AccountID{}, false, err
	}
	return forwarder, true, nil
}

// SetTrustedForwarder overwrites the configured forwarder. The direct caller
// must hold access.DefaultAdminRole.
func (c *Context) SetTrustedForwarder(env vm.Env, forwarder crypto.AccountID) error {
	if err := c.access.OnlyRole(env, access.DefaultAdminRole); err != nil {
		return err
	}
	evt := events.TrustedForwarderSet{
		Contract:  env.Self(),
		Forwarder: forwarder,
		Sender:    env.Caller(),
	}
	previous, ok, err := c.TrustedForwarder(env)
	if err != nil {
		return err
	}
	if ok {
		evt.Previous = &previous
	}
	if err := env.Storage().KVPut(trustedForwarderKey, forwarder.Bytes()); err != nil {
		return err
	}
	return env.Emit(evt)
}

// ResolveCaller returns the effective caller of the current message. When the
// direct caller is the trusted forwarder the first 32 bytes of payload name
// the caller; otherwise payload is ignored.
func (c *Context) ResolveCaller(env vm.Env, payload []byte) (crypto.AccountID, error) {
	caller := env.Caller()
	forwarder, ok, err := c.TrustedForwarder(env)
	if err != nil {
		return crypto.AccountID{}, err
	}
	if !ok || caller != forwarder {
		return caller, nil
	}
	if len(payload) < crypto.AccountIDLength {
		return crypto.AccountID{}, fmt.Errorf("%w: payload has %d bytes", ErrRecoverAccountIDFailed, len(payload))
	}
	var resolved crypto.AccountID
	copy(resolved[:], payload[:crypto.AccountIDLength])
	return resolved, nil
}
