package access

import (
	"fmt"

	"metatx/core/types"
	"metatx/core/vm"
	"metatx/crypto"
)

// Message selectors.
var (
	SelectorHasRole      = types.SelectorFromLabel("has_role")
	SelectorGetRoleAdmin = types.SelectorFromLabel("get_role_admin")
	SelectorGrantRole    = types.SelectorFromLabel("grant_role")
	SelectorRevokeRole   = types.SelectorFromLabel("revoke_role")
	SelectorRenounceRole = types.SelectorFromLabel("renounce_role")
)

// EncodeRoleArgs encodes the (role, account) arguments shared by the role
// messages.
func EncodeRoleArgs(role uint32, account crypto.AccountID) []byte {
	w := types.NewScaleWriter(4 + crypto.AccountIDLength)
	w.WriteU32(role)
	w.WriteFixed(account[:])
	return w.Bytes()
}

// DecodeRoleArgs decodes the (role, account) arguments.
func DecodeRoleArgs(input []byte) (uint32, crypto.AccountID, error) {
	r := types.NewScaleReader(input)
	role, err := r.ReadU32()
	if err != nil {
		return 0, crypto.AccountID{}, fmt.Errorf("%w: role: %v", vm.ErrInvalidInput, err)
	}
	raw, err := r.ReadFixed(crypto.AccountIDLength)
	if err != nil {
		return 0, crypto.AccountID{}, fmt.Errorf("%w: account: %v", vm.ErrInvalidInput, err)
	}
	if err := r.Done(); err != nil {
		return 0, crypto.AccountID{}, fmt.Errorf("%w: %v", vm.ErrInvalidInput, err)
	}
	var account crypto.AccountID
	copy(account[:], raw)
	return role, account, nil
}

// Methods exposes the role messages for composition into a contract.
func (c *Control) Methods() vm.Methods {
	return vm.Methods{
		SelectorHasRole: func(env vm.Env, input []byte) ([]byte, error) {
			role, account, err := DecodeRoleArgs(input)
			if err != nil {
				return nil, err
			}
			w := types.NewScaleWriter(1)
			w.WriteBool(c.HasRole(env, role, account))
			return w.Bytes(), nil
		},
		SelectorGetRoleAdmin: func(env vm.Env, input []byte) ([]byte, error) {
			r := types.NewScaleReader(input)
			role, err := r.ReadU32()
			if err != nil {
				return nil, fmt.Errorf("%w: role: %v", vm.ErrInvalidInput, err)
			}
			admin, err := c.RoleAdmin(env, role)
			if err != nil {
				return nil, err
			}
			w := types.NewScaleWriter(4)
			w.WriteU32(admin)
			return w.Bytes(), nil
		},
		SelectorGrantRole:    c.roleHandler(c.GrantRole),
		SelectorRevokeRole:   c.roleHandler(c.RevokeRole),
		SelectorRenounceRole: c.roleHandler(c.RenounceRole),
	}
}

func (c *Control) roleHandler(op func(vm.Env, uint32, crypto.AccountID) error) vm.Handler {
	return func(env vm.Env, input []byte) ([]byte, error) {
		role, account, err := DecodeRoleArgs(input)
		if err != nil {
			return nil, err
		}
		return nil, op(env, role, account)
	}
}
