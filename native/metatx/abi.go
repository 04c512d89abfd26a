package metatx

import (
	"fmt"

	"metatx/core/types"
	"metatx/core/vm"
	"metatx/crypto"
)

// Message selectors.
var (
	SelectorGetTrustedForwarder = types.SelectorFromLabel("get_trusted_forwarder")
	SelectorSetTrustedForwarder = types.SelectorFromLabel("set_trusted_forwarder")
)

// EncodeOptionalAccount encodes an optional account id: 0x00 for none, 0x01
// followed by the id otherwise.
func EncodeOptionalAccount(account crypto.AccountID, ok bool) []byte {
	if !ok {
		return []byte{0x00}
	}
	w := types.NewScaleWriter(1 + crypto.AccountIDLength)
	w.WriteBool(true)
	w.WriteFixed(account[:])
	return w.Bytes()
}

// DecodeOptionalAccount decodes the output of EncodeOptionalAccount.
func DecodeOptionalAccount(output []byte) (crypto.AccountID, bool, error) {
	r := types.NewScaleReader(output)
	some, err := r.ReadBool()
	if err != nil {
		return crypto.AccountID{}, false, err
	}
	if !some {
		return crypto.AccountID{}, false, r.Done()
	}
	raw, err := r.ReadFixed(crypto.AccountIDLength)
	if err != nil {
		return crypto.AccountID{}, false, err
	}
	if err := r.Done(); err != nil {
		return crypto.AccountID{}, false, err
	}
	var account crypto.AccountID
	copy(account[:], raw)
	return account, true, nil
}

// Methods exposes get_trusted_forwarder and set_trusted_forwarder for
// composition into a contract.
func (c *Context) Methods() vm.Methods {
	return vm.Methods{
		SelectorGetTrustedForwarder: func(env vm.Env, _ []byte) ([]byte, error) {
			forwarder, ok, err := c.TrustedForwarder(env)
			if err != nil {
				return nil, err
			}
			return EncodeOptionalAccount(forwarder, ok), nil
		},
		SelectorSetTrustedForwarder: func(env vm.Env, input []byte) ([]byte, error) {
			forwarder, err := crypto.AccountIDFromBytes(input)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", vm.ErrInvalidInput, err)
			}
			return nil, c.SetTrustedForwarder(env, forwarder)
		},
	}
}
