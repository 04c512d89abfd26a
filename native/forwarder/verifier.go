package forwarder

import (
	"fmt"

	"metatx/core/types"
	"metatx/crypto"
)

// Verifier authenticates envelopes against their signature and the signer's
// nonce. It never mutates state.
type Verifier struct {
	nonces *NonceRegistry
}

// NewVerifier returns a verifier reading nonces from the registry.
func NewVerifier(nonces *NonceRegistry) *Verifier {
	return &Verifier{nonces: nonces}
}

// Verify checks that sig was produced by e.From over the canonical encoding of
// e and that e.Nonce is the signer's next expected nonce. When both checks
// fail the nonce mismatch is reported.
func (v *Verifier) Verify(e *types.Envelope, sig []byte) error {
	if e == nil {
		return fmt.Errorf("%w: envelope required", ErrMalformedCall)
	}
	digest, err := e.Digest()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedCall, err)
	}
	signer, err := crypto.RecoverAccountID(digest[:], sig)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIncorrectSignature, err)
	}
	expected, err := v.nonces.Get(e.From)
	if err != nil {
		return err
	}
	if !expected.Eq(e.NonceValue()) {
		return ErrIncorrectNonce
	}
	if signer != e.From {
		return ErrIncorrectSignature
	}
	return nil
}
