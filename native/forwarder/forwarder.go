package forwarder

import (
	"fmt"
	"log/slog"

	"github.com/holiman/uint256"

	"metatx/core/events"
	"metatx/core/types"
	"metatx/core/vm"
	"metatx/crypto"
)

// Forwarder executes signed envelopes on behalf of their signers. It is a
// native contract; its only state is the nonce registry.
type Forwarder struct {
	methods vm.Methods
}

// New returns a forwarder contract.
func New() *Forwarder {
	f := &Forwarder{}
	f.methods = vm.Methods{
		SelectorGetNonce: f.handleGetNonce,
		SelectorVerify:   f.handleVerify,
		SelectorExecute:  f.handleExecute,
	}
	return f
}

// Call implements vm.Contract.
func (f *Forwarder) Call(env vm.Env, selector types.Selector, input []byte) ([]byte, error) {
	return f.methods.Dispatch(env, selector, input)
}

// Nonce returns the next expected nonce of signer.
func (f *Forwarder) Nonce(env vm.Env, signer crypto.AccountID) (*uint256.Int, error) {
	return NewNonceRegistry(env.Storage()).Get(signer)
}

// Verify authenticates e against sig without touching state.
func (f *Forwarder) Verify(env vm.Env, e *types.Envelope, sig []byte) error {
	return NewVerifier(NewNonceRegistry(env.Storage())).Verify(e, sig)
}

// Execute verifies e, checks the attached value and the expiration, consumes
// the signer's nonce and performs the nested call described by e. A failed
// nested call reports ErrTransactionFailed, keeps the nonce consumed and
// returns the attached value to the relayer.
func (f *Forwarder) Execute(env vm.Env, e *types.Envelope, sig []byte) error {
	nonces := NewNonceRegistry(env.Storage())
	if err := NewVerifier(nonces).Verify(e, sig); err != nil {
		return err
	}
	if !env.TransferredValue().Eq(e.Value()) {
		return ErrValueTransferMismatch
	}
	if env.BlockTimestamp() >= e.Expiration {
		return ErrTransactionExpired
	}
	if _, err := nonces.Advance(e.From); err != nil {
		return err
	}

	_, err := env.Invoke(vm.Call{
		Callee:       e.Callee,
		Selector:     e.Selector,
		Input:        e.Input,
		Value:        e.Value(),
		GasLimit:     nestedGasLimit(env, e),
		AllowReentry: e.AllowReentry,
	})
	if err != nil {
		env.Logger().Info("forwarded call failed",
			slog.String("signer", e.From.String()),
			slog.String("callee", e.Callee.String()),
			slog.String("selector", e.Selector.String()),
			slog.Any("error", err))
		if refundErr := env.Transfer(env.Caller(), e.Value()); refundErr != nil {
			return fmt.Errorf("%w: refund: %w", ErrTransactionFailed, refundErr)
		}
		return vm.Persist(fmt.Errorf("%w: %w", ErrTransactionFailed, err))
	}

	digest, err := e.Digest()
	if err != nil {
		return err
	}
	return env.Emit(events.EnvelopeExecuted{
		Forwarder: env.Self(),
		Relayer:   env.Caller(),
		Envelope:  e.Clone(),
		Digest:    digest,
	})
}

// nestedGasLimit bounds the nested call so that the refund of the attached
// value can still be paid for when the callee fails.
func nestedGasLimit(env vm.Env, e *types.Envelope) uint64 {
	limit := e.GasLimit
	if e.Value().IsZero() {
		return limit
	}
	left := env.GasLeft()
	if left <= vm.GasValueTransfer {
		return limit
	}
	if avail := left - vm.GasValueTransfer; limit == 0 || limit > avail {
		return avail
	}
	return limit
}

func (f *Forwarder) handleGetNonce(env vm.Env, input []byte) ([]byte, error) {
	signer, err := DecodeGetNonce(input)
	if err != nil {
		return nil, err
	}
	nonce, err := f.Nonce(env, signer)
	if err != nil {
		return nil, err
	}
	return EncodeNonce(nonce)
}

func (f *Forwarder) handleVerify(env vm.Env, input []byte) ([]byte, error) {
	e, sig, err := DecodeEnvelopeCall(input)
	if err != nil {
		return nil, err
	}
	return nil, f.Verify(env, e, sig)
}

func (f *Forwarder) handleExecute(env vm.Env, input []byte) ([]byte, error) {
	e, sig, err := DecodeEnvelopeCall(input)
	if err != nil {
		return nil, err
	}
	return nil, f.Execute(env, e, sig)
}
