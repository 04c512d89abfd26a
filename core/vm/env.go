package vm

import (
	"log/slog"

	"github.com/holiman/uint256"

	"metatx/core/events"
	"metatx/core/types"
	"metatx/crypto"
)

// Contract is a native contract deployed on the host. Call dispatches a
// message identified by selector with SCALE-encoded input.
type Contract interface {
	Call(env Env, selector types.Selector, input []byte) ([]byte, error)
}

// Constructor is implemented by contracts that initialise their storage when
// instantiated.
type Constructor interface {
	Construct(env Env, input []byte) error
}

// Storage is the contract-scoped key-value store. Values are RLP encoded.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
}

// Env is what a contract sees of the host while it executes.
type Env interface {
	// Caller is the direct caller of the current frame.
	Caller() crypto.AccountID
	// Self is the address of the executing contract.
	Self() crypto.AccountID
	// TransferredValue is the value attached to the current frame.
	TransferredValue() *uint256.Int
	// BlockTimestamp is the execution timestamp in Unix milliseconds.
	BlockTimestamp() uint64
	Storage() Storage
	Emit(evt events.Event) error
	// Invoke performs a synchronous nested call from the executing contract.
	// A failure the callee returned through Persist reaches the caller
	// unmarked, so the caller's own frame is reverted unless it persists
	// explicitly.
	Invoke(call Call) ([]byte, error)
	Balance(addr crypto.AccountID) (*uint256.Int, error)
	// Transfer moves amount from the executing contract to addr.
	Transfer(addr crypto.AccountID, amount *uint256.Int) error
	GasLeft() uint64
	Logger() *slog.Logger
}

// Call describes a nested call.
type Call struct {
	Callee   crypto.AccountID
	Selector types.Selector
	Input    []byte
	Value    *uint256.Int
	// GasLimit caps the callee; zero forwards all remaining gas.
	GasLimit uint64
	// AllowReentry lets the callee call back into the calling contract.
	AllowReentry bool
}
