package vm

import "errors"

var (
	// ErrContractNotFound is returned when a call targets an address without
	// a deployed contract.
	ErrContractNotFound = errors.New("vm: contract not found")
	// ErrContractExists is returned when deploying over an existing contract.
	ErrContractExists = errors.New("vm: contract already deployed")
	// ErrUnknownSelector is returned by contract dispatchers for selectors
	// they do not implement.
	ErrUnknownSelector = errors.New("vm: unknown selector")
	// ErrReentranceDenied is returned when a call targets a contract that is
	// waiting on a nested call issued without re-entry permission.
	ErrReentranceDenied = errors.New("vm: reentrance denied")
	// ErrCallDepthExceeded is returned when nested calls exceed MaxCallDepth.
	ErrCallDepthExceeded = errors.New("vm: call depth exceeded")
	// ErrOutOfGas is returned when a frame exhausts its gas limit.
	ErrOutOfGas = errors.New("vm: out of gas")
	// ErrInsufficientBalance is returned when the caller cannot cover the
	// value attached to a call.
	ErrInsufficientBalance = errors.New("vm: insufficient balance")
	// ErrContractTrapped is returned when a contract panics.
	ErrContractTrapped = errors.New("vm: contract trapped")
	// ErrInvalidInput is returned by dispatchers when arguments do not decode.
	ErrInvalidInput = errors.New("vm: invalid input")
)

// persistedError marks a frame failure whose state changes must be kept.
type persistedError struct {
	err error
}

func (p *persistedError) Error() string { return p.err.Error() }

func (p *persistedError) Unwrap() error { return p.err }

// Persist marks err so that the frame returning it keeps its state writes and
// events instead of being reverted. The marker only applies to the frame that
// returns it directly: wrapping the error again drops it, and Env.Invoke strips
// it before the calling contract sees the error.
func Persist(err error) error {
	if err == nil {
		return nil
	}
	return &persistedError{err: err}
}

// IsPersisted reports whether err was returned through Persist.
func IsPersisted(err error) bool {
	_, ok := err.(*persistedError)
	return ok
}
