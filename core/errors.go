package core

import (
	"errors"

	"metatx/core/vm"
	"metatx/native/access"
	"metatx/native/forwarder"
	"metatx/native/metatx"
	"metatx/native/registry"
)

var (
	// ErrGenesisAdminRequired is returned when initialising a fresh database
	// without an admin for the consumer contracts.
	ErrGenesisAdminRequired = errors.New("core: genesis admin required")
	// ErrUnknownContract is returned for labels or addresses that do not name
	// a consumer contract.
	ErrUnknownContract = errors.New("core: unknown contract")
)

// KindInternal is reported for errors without a stable kind.
const KindInternal = "Internal"

var errorKinds = []struct {
	err  error
	kind string
}{
	// TransactionFailed wraps the callee error, so it is matched first.
	{forwarder.ErrTransactionFailed, "TransactionFailed"},
	{forwarder.ErrIncorrectSignature, "IncorrectSignature"},
	{forwarder.ErrIncorrectNonce, "IncorrectNonce"},
	{forwarder.ErrValueTransferMismatch, "ValueTransferMismatch"},
	{forwarder.ErrTransactionExpired, "TransactionExpired"},
	{forwarder.ErrNonceOverflow, "NonceOverflow"},
	{forwarder.ErrMalformedCall, "MalformedCall"},
	{metatx.ErrRecoverAccountIDFailed, "RecoverAccountIdFailed"},
	{access.ErrMissingRole, "MissingRole"},
	{access.ErrRoleRedundant, "RoleRedundant"},
	{access.ErrInvalidCaller, "InvalidCaller"},
	{registry.ErrNameTaken, "NameTaken"},
	{registry.ErrAlreadyRegistered, "AlreadyRegistered"},
	{registry.ErrNameNotRegistered, "NameNotRegistered"},
	{vm.ErrOutOfGas, "OutOfGas"},
	{vm.ErrReentranceDenied, "ReentranceDenied"},
	{vm.ErrCallDepthExceeded, "CallDepthExceeded"},
	{vm.ErrInsufficientBalance, "InsufficientBalance"},
	{vm.ErrContractNotFound, "ContractNotFound"},
	{vm.ErrUnknownSelector, "UnknownSelector"},
	{vm.ErrInvalidInput, "InvalidInput"},
	{vm.ErrContractTrapped, "ContractTrapped"},
	{ErrUnknownContract, "UnknownContract"},
}

// ErrorKind returns the stable name of the domain error wrapped by err, or
// KindInternal. A nil error has an empty kind.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	for _, candidate := range errorKinds {
		if errors.Is(err, candidate.err) {
			return candidate.kind
		}
	}
	return KindInternal
}
