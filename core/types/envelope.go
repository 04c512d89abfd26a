package types

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"metatx/crypto"
)

// Envelope is the signed description of a call that a relayer submits on
// behalf of its signer. The canonical encoding of the fields, in declaration
// order, is what gets hashed and signed; any change to the order or widths
// invalidates every existing signature.
type Envelope struct {
	// From is the signer the call is executed for.
	From crypto.AccountID
	// Callee is the contract that receives the nested call.
	Callee crypto.AccountID
	// Selector identifies the callee message.
	Selector Selector
	// Input holds the encoded message arguments.
	Input []byte
	// TransferredValue must match the value attached to the submission and is
	// forwarded to the callee. Limited to 128 bits.
	TransferredValue *uint256.Int
	// GasLimit bounds the nested call.
	GasLimit uint64
	// AllowReentry lets the callee call back into the forwarder.
	AllowReentry bool
	// Nonce must equal the signer's next expected nonce. Limited to 128 bits.
	Nonce *uint256.Int
	// Expiration is a Unix timestamp in milliseconds; the envelope is rejected
	// at or after it.
	Expiration uint64
}

// EnvelopeFixedLength is the encoded size of every field except Input.
const EnvelopeFixedLength = crypto.AccountIDLength*2 + SelectorLength + 16 + 8 + 1 + 16 + 8

var errNilEnvelope = errors.New("envelope: nil")

// Value returns the transferred value, treating nil as zero.
func (e *Envelope) Value() *uint256.Int {
	if e == nil || e.TransferredValue == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(e.TransferredValue)
}

// NonceValue returns the nonce, treating nil as zero.
func (e *Envelope) NonceValue() *uint256.Int {
	if e == nil || e.Nonce == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(e.Nonce)
}

// Clone returns a deep copy of the envelope.
func (e *Envelope) Clone() *Envelope {
	if e == nil {
		return nil
	}
	clone := *e
	clone.Input = append([]byte(nil), e.Input...)
	clone.TransferredValue = e.Value()
	clone.Nonce = e.NonceValue()
	return &clone
}

// EncodeTo appends the canonical encoding to w.
func (e *Envelope) EncodeTo(w *ScaleWriter) error {
	if e == nil {
		return errNilEnvelope
	}
	w.WriteFixed(e.From[:])
	w.WriteFixed(e.Callee[:])
	w.WriteFixed(e.Selector[:])
	w.WriteBytes(e.Input)
	if err := w.WriteU128(e.TransferredValue); err != nil {
		return fmt.Errorf("envelope: transferred value: %w", err)
	}
	w.WriteU64(e.GasLimit)
	w.WriteBool(e.AllowReentry)
	if err := w.WriteU128(e.Nonce); err != nil {
		return fmt.Errorf("envelope: nonce: %w", err)
	}
	w.WriteU64(e.Expiration)
	return nil
}

// Encode returns the canonical encoding of the envelope.
func (e *Envelope) Encode() ([]byte, error) {
	if e == nil {
		return nil, errNilEnvelope
	}
	w := NewScaleWriter(EnvelopeFixedLength + len(e.Input) + 5)
	if err := e.EncodeTo(w); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// ReadEnvelope decodes one envelope from r.
func ReadEnvelope(r *ScaleReader) (*Envelope, error) {
	e := new(Envelope)
	from, err := r.ReadFixed(crypto.AccountIDLength)
	if err != nil {
		return nil, fmt.Errorf("envelope: from: %w", err)
	}
	copy(e.From[:], from)
	callee, err := r.ReadFixed(crypto.AccountIDLength)
	if err != nil {
		return nil, fmt.Errorf("envelope: callee: %w", err)
	}
	copy(e.Callee[:], callee)
	sel, err := r.ReadFixed(SelectorLength)
	if err != nil {
		return nil, fmt.Errorf("envelope: selector: %w", err)
	}
	copy(e.Selector[:], sel)
	if e.Input, err = r.ReadBytes(); err != nil {
		return nil, fmt.Errorf("envelope: input: %w", err)
	}
	if e.TransferredValue, err = r.ReadU128(); err != nil {
		return nil, fmt.Errorf("envelope: transferred value: %w", err)
	}
	if e.GasLimit, err = r.ReadU64(); err != nil {
		return nil, fmt.Errorf("envelope: gas limit: %w", err)
	}
	if e.AllowReentry, err = r.ReadBool(); err != nil {
		return nil, fmt.Errorf("envelope: allow reentry: %w", err)
	}
	if e.Nonce, err = r.ReadU128(); err != nil {
		return nil, fmt.Errorf("envelope: nonce: %w", err)
	}
	if e.Expiration, err = r.ReadU64(); err != nil {
		return nil, fmt.Errorf("envelope: expiration: %w", err)
	}
	return e, nil
}

// DecodeEnvelope decodes a canonical encoding, rejecting trailing bytes.
func DecodeEnvelope(b []byte) (*Envelope, error) {
	r := NewScaleReader(b)
	e, err := ReadEnvelope(r)
	if err != nil {
		return nil, err
	}
	if err := r.Done(); err != nil {
		return nil, fmt.Errorf("envelope: %w", err)
	}
	return e, nil
}

// Digest returns the BLAKE2b-256 digest of the canonical encoding.
func (e *Envelope) Digest() ([crypto.HashLength]byte, error) {
	encoded, err := e.Encode()
	if err != nil {
		return [crypto.HashLength]byte{}, err
	}
	return crypto.Blake2x256(encoded), nil
}

// Sign signs the envelope digest with key. The key is expected to control
// e.From; Sign does not enforce it so that tests can build forged envelopes.
func (e *Envelope) Sign(key *crypto.PrivateKey) ([]byte, error) {
	if key == nil {
		return nil, errors.New("envelope: nil signing key")
	}
	digest, err := e.Digest()
	if err != nil {
		return nil, err
	}
	return key.Sign(digest[:])
}

// RecoverSigner returns the account whose key produced sig over the envelope.
func (e *Envelope) RecoverSigner(sig []byte) (crypto.AccountID, error) {
	digest, err := e.Digest()
	if err != nil {
		return crypto.AccountID{}, err
	}
	return crypto.RecoverAccountID(digest[:], sig)
}
