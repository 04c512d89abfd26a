package events

import (
	"strconv"

	"metatx/core/types"
	"metatx/crypto"
)

const (
	// TypeRoleGranted is emitted when an account joins a role.
	TypeRoleGranted = "access.roleGranted"
	// TypeRoleRevoked is emitted when an account leaves a role.
	TypeRoleRevoked = "access.roleRevoked"
)

// RoleGranted records a role assignment inside a contract.
type RoleGranted struct {
	Contract crypto.AccountID
	Role     uint32
	Account  crypto.AccountID
	Sender   crypto.AccountID
}

// EventType satisfies the events.Event interface.
func (RoleGranted) EventType() string { return TypeRoleGranted }

// Event renders the grant payload.
func (e RoleGranted) Event() *types.Event {
	return &types.Event{Type: TypeRoleGranted, Attributes: roleAttrs(e.Contract, e.Role, e.Account, e.Sender)}
}

// RoleRevoked records a role removal inside a contract. Renounced roles carry
// the account itself as sender.
type RoleRevoked struct {
	Contract crypto.AccountID
	Role     uint32
	Account  crypto.AccountID
	Sender   crypto.AccountID
}

// EventType satisfies the events.Event interface.
func (RoleRevoked) EventType() string { return TypeRoleRevoked }

// Event renders the revocation payload.
func (e RoleRevoked) Event() *types.Event {
	return &types.Event{Type: TypeRoleRevoked, Attributes: roleAttrs(e.Contract, e.Role, e.Account, e.Sender)}
}

func roleAttrs(contract crypto.AccountID, role uint32, account, sender crypto.AccountID) map[string]string {
	attrs := map[string]string{
		"contract": contract.String(),
		"role":     strconv.FormatUint(uint64(role), 10),
		"account":  account.String(),
	}
	if !sender.IsZero() {
		attrs["sender"] = sender.String()
	}
	return attrs
}
