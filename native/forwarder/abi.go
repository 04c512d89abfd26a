package forwarder

import (
	"fmt"

	"github.com/holiman/uint256"

	"metatx/core/types"
	"metatx/crypto"
)

// Message selectors.
var (
	SelectorGetNonce = types.SelectorFromLabel("get_nonce")
	SelectorVerify   = types.SelectorFromLabel("verify")
	SelectorExecute  = types.SelectorFromLabel("execute")
)

// EncodeGetNonce encodes the get_nonce argument.
func EncodeGetNonce(signer crypto.AccountID) []byte {
	return signer.Bytes()
}

// DecodeGetNonce decodes the get_nonce argument.
func DecodeGetNonce(input []byte) (crypto.AccountID, error) {
	signer, err := crypto.AccountIDFromBytes(input)
	if err != nil {
		return crypto.AccountID{}, fmt.Errorf("%w: %v", ErrMalformedCall, err)
	}
	return signer, nil
}

// EncodeNonce encodes a nonce result as a little-endian u128.
func EncodeNonce(nonce *uint256.Int) ([]byte, error) {
	w := types.NewScaleWriter(16)
	if err := w.WriteU128(nonce); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// DecodeNonce decodes a get_nonce result.
func DecodeNonce(output []byte) (*uint256.Int, error) {
	r := types.NewScaleReader(output)
	nonce, err := r.ReadU128()
	if err != nil {
		return nil, err
	}
	if err := r.Done(); err != nil {
		return nil, err
	}
	return nonce, nil
}

// EncodeEnvelopeCall encodes the verify and execute arguments: the canonical
// envelope followed by the 65-byte signature.
func EncodeEnvelopeCall(e *types.Envelope, sig []byte) ([]byte, error) {
	if len(sig) != crypto.SignatureLength {
		return nil, fmt.Errorf("%w: signature must be %d bytes", ErrMalformedCall, crypto.SignatureLength)
	}
	w := types.NewScaleWriter(types.EnvelopeFixedLength + len(e.Input) + crypto.SignatureLength + 5)
	if err := e.EncodeTo(w); err != nil {
		return nil, err
	}
	w.WriteFixed(sig)
	return w.Bytes(), nil
}

// DecodeEnvelopeCall decodes the verify and execute arguments.
func DecodeEnvelopeCall(input []byte) (*types.Envelope, []byte, error) {
	r := types.NewScaleReader(input)
	e, err := types.ReadEnvelope(r)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformedCall, err)
	}
	sig, err := r.ReadFixed(crypto.SignatureLength)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: signature: %v", ErrMalformedCall, err)
	}
	if err := r.Done(); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformedCall, err)
	}
	return e, sig, nil
}
