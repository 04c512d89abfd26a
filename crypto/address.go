package crypto

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/bech32"
)

// AccountPrefix is the human-readable part used when rendering account ids.
const AccountPrefix = "mtx"

// AccountIDLength is the fixed width of an account identifier.
const AccountIDLength = 32

// ErrInvalidAccountID is returned when raw bytes cannot be interpreted as an
// account identifier.
var ErrInvalidAccountID = errors.New("crypto: invalid account id")

// AccountID identifies a signer or a contract. Signer ids are the BLAKE2b-256
// digest of the compressed secp256k1 public key.
type AccountID [AccountIDLength]byte

// AccountIDFromBytes converts an exactly 32 byte slice into an AccountID.
func AccountIDFromBytes(b []byte) (AccountID, error) {
	var id AccountID
	if len(b) != AccountIDLength {
		return id, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidAccountID, AccountIDLength, len(b))
	}
	copy(id[:], b)
	return id, nil
}

// ContractAddress derives the deterministic address of a native contract from
// its label.
func ContractAddress(label string) AccountID {
	return AccountID(Blake2x256([]byte("metatx/contract/"), []byte(strings.TrimSpace(label))))
}

// Bytes returns a copy of the identifier bytes.
func (a AccountID) Bytes() []byte {
	out := make([]byte, AccountIDLength)
	copy(out, a[:])
	return out
}

// IsZero reports whether the identifier is all zero bytes.
func (a AccountID) IsZero() bool {
	return a == AccountID{}
}

// Hex renders the identifier as 0x-prefixed hex.
func (a AccountID) Hex() string {
	return "0x" + hex.EncodeToString(a[:])
}

// String renders the bech32 form of the identifier.
func (a AccountID) String() string {
	conv, err := bech32.ConvertBits(a[:], 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(AccountPrefix, conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

// MarshalText implements encoding.TextMarshaler using the bech32 form.
func (a AccountID) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText accepts either the bech32 or the 0x-hex form.
func (a *AccountID) UnmarshalText(text []byte) error {
	decoded, err := DecodeAccountID(string(text))
	if err != nil {
		return err
	}
	*a = decoded
	return nil
}

// DecodeAccountID parses a bech32 (mtx1...) or 0x-prefixed hex identifier.
func DecodeAccountID(s string) (AccountID, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return AccountID{}, fmt.Errorf("%w: empty", ErrInvalidAccountID)
	}
	if strings.HasPrefix(trimmed, "0x") || strings.HasPrefix(trimmed, "0X") {
		raw, err := hex.DecodeString(trimmed[2:])
		if err != nil {
			return AccountID{}, fmt.Errorf("%w: %v", ErrInvalidAccountID, err)
		}
		return AccountIDFromBytes(raw)
	}
	prefix, decoded, err := bech32.Decode(trimmed)
	if err != nil {
		return AccountID{}, fmt.Errorf("%w: invalid bech32 string: %v", ErrInvalidAccountID, err)
	}
	if prefix != AccountPrefix {
		return AccountID{}, fmt.Errorf("%w: unexpected prefix %q", ErrInvalidAccountID, prefix)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return AccountID{}, fmt.Errorf("%w: error converting bits: %v", ErrInvalidAccountID, err)
	}
	return AccountIDFromBytes(conv)
}

// MustDecodeAccountID is DecodeAccountID for constants and tests.
func MustDecodeAccountID(s string) AccountID {
	id, err := DecodeAccountID(s)
	if err != nil {
		panic(err)
	}
	return id
}
