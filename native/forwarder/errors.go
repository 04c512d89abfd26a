package forwarder

import "errors"

var (
	// ErrIncorrectSignature is returned when the signature does not recover to
	// the envelope signer, or cannot be recovered at all.
	ErrIncorrectSignature = errors.New("forwarder: incorrect signature")
	// ErrIncorrectNonce is returned when the envelope nonce differs from the
	// signer's next expected nonce.
	ErrIncorrectNonce = errors.New("forwarder: incorrect nonce")
	// ErrValueTransferMismatch is returned when the value attached to the
	// submission differs from the envelope's transferred value.
	ErrValueTransferMismatch = errors.New("forwarder: value transfer mismatch")
	// ErrTransactionExpired is returned at or after the envelope expiration.
	ErrTransactionExpired = errors.New("forwarder: transaction expired")
	// ErrTransactionFailed is returned when the forwarded call fails. The
	// signer's nonce stays consumed.
	ErrTransactionFailed = errors.New("forwarder: transaction failed")
	// ErrNonceOverflow is returned when a nonce would exceed 128 bits.
	ErrNonceOverflow = errors.New("forwarder: nonce overflow")
	// ErrMalformedCall is returned when message arguments do not decode.
	ErrMalformedCall = errors.New("forwarder: malformed call")
)
