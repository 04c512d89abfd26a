package access

import (
	"encoding/binary"
	"errors"
	"fmt"

	"metatx/core/events"
	"metatx/core/types"
	"metatx/core/vm"
	"metatx/crypto"
)

// DefaultAdminRole administers every role that has no explicit admin.
const DefaultAdminRole uint32 = 0

// ManagerRole is the conventional role for operational configuration.
var ManagerRole = binary.BigEndian.Uint32(func() []byte {
	sel := types.SelectorFromLabel("MANAGER")
	return sel[:]
}())

var (
	// ErrMissingRole is returned when the caller lacks the role required for an
	// operation, or when revoking a role the account does not hold.
	ErrMissingRole = errors.New("access: missing role")
	// ErrRoleRedundant is returned when granting a role the account already
	// holds.
	ErrRoleRedundant = errors.New("access: role redundant")
	// ErrInvalidCaller is returned when renouncing a role for another account.
	ErrInvalidCaller = errors.New("access: invalid caller")
)

var (
	memberPrefix = []byte("access/role/")
	adminPrefix  = []byte("access/admin/")
)

func memberKey(role uint32, account crypto.AccountID) []byte {
	buf := make([]byte, 0, len(memberPrefix)+4+1+len(account))
	buf = append(buf, memberPrefix...)
	buf = binary.BigEndian.AppendUint32(buf, role)
	buf = append(buf, '/')
	return append(buf, account[:]...)
}

func adminKey(role uint32) []byte {
	buf := make([]byte, 0, len(adminPrefix)+4)
	buf = append(buf, adminPrefix...)
	return binary.BigEndian.AppendUint32(buf, role)
}

// Control is a role table stored in the storage of the contract that embeds
// it. Checks are made against the direct caller of the current frame.
type Control struct{}

// New returns an access control handle.
func New() *Control { return &Control{} }

// InitWithAdmin grants DefaultAdminRole to admin. It is meant to be called
// from a constructor and performs no caller check.
func (c *Control) InitWithAdmin(env vm.Env, admin crypto.AccountID) error {
	return c.grant(env, DefaultAdminRole, admin)
}

// HasRole reports whether account holds role. Storage failures read as false.
func (c *Control) HasRole(env vm.Env, role uint32, account crypto.AccountID) bool {
	ok, err := env.Storage().KVGet(memberKey(role, account), nil)
	return err == nil && ok
}

// RoleAdmin returns the role that administers role.
func (c *Control) RoleAdmin(env vm.Env, role uint32) (uint32, error) {
	var admin uint32
	ok, err := env.Storage().KVGet(adminKey(role), &admin)
	if err != nil {
		return 0, err
	}
	if !ok {
		return DefaultAdminRole, nil
	}
	return admin, nil
}

// SetRoleAdmin changes the admin role of role without a caller check.
func (c *Control) SetRoleAdmin(env vm.Env, role, admin uint32) error {
	return env.Storage().KVPut(adminKey(role), admin)
}

// CheckRole returns ErrMissingRole unless account holds role.
func (c *Control) CheckRole(env vm.Env, role uint32, account crypto.AccountID) error {
	if !c.HasRole(env, role, account) {
		return fmt.Errorf("%w: role %d for %s", ErrMissingRole, role, account)
	}
	return nil
}

// OnlyRole checks role against the direct caller.
func (c *Control) OnlyRole(env vm.Env, role uint32) error {
	return c.CheckRole(env, role, env.Caller())
}

// GrantRole grants role to account. The caller must hold the role's admin role.
func (c *Control) GrantRole(env vm.Env, role uint32, account crypto.AccountID) error {
	admin, err := c.RoleAdmin(env, role)
	if err != nil {
		return err
	}
	if err := c.OnlyRole(env, admin); err != nil {
		return err
	}
	if c.HasRole(env, role, account) {
		return ErrRoleRedundant
	}
	return c.grant(env, role, account)
}

// RevokeRole removes role from account. The caller must hold the role's admin
// role.
func (c *Control) RevokeRole(env vm.Env, role uint32, account crypto.AccountID) error {
	admin, err := c.RoleAdmin(env, role)
	if err != nil {
		return err
	}
	if err := c.OnlyRole(env, admin); err != nil {
		return err
	}
	if err := c.CheckRole(env, role, account); err != nil {
		return err
	}
	return c.revoke(env, role, account)
}

// RenounceRole lets the caller give up one of its own roles.
func (c *Control) RenounceRole(env vm.Env, role uint32, account crypto.AccountID) error {
	if env.Caller() != account {
		return ErrInvalidCaller
	}
	if err := c.CheckRole(env, role, account); err != nil {
		return err
	}
	return c.revoke(env, role, account)
}

func (c *Control) grant(env vm.Env, role uint32, account crypto.AccountID) error {
	if err := env.Storage().KVPut(memberKey(role, account), true); err != nil {
		return err
	}
	return env.Emit(events.RoleGranted{
		Contract: env.Self(),
		Role:     role,
		Account:  account,
		Sender:   env.Caller(),
	})
}

func (c *Control) revoke(env vm.Env, role uint32, account crypto.AccountID) error {
	if err := env.Storage().KVDelete(memberKey(role, account)); err != nil {
		return err
	}
	return env.Emit(events.RoleRevoked{
		Contract: env.Self(),
		Role:     role,
		Account:  account,
		Sender:   env.Caller(),
	})
}
