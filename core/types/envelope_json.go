package types

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/holiman/uint256"

	"metatx/crypto"
)

type envelopeJSON struct {
	From             crypto.AccountID `json:"from" yaml:"from"`
	Callee           crypto.AccountID `json:"callee" yaml:"callee"`
	Selector         Selector         `json:"selector" yaml:"selector"`
	Input            string           `json:"input" yaml:"input"`
	TransferredValue string           `json:"transferredValue" yaml:"transferredValue"`
	GasLimit         uint64           `json:"gasLimit" yaml:"gasLimit"`
	AllowReentry     bool             `json:"allowReentry" yaml:"allowReentry"`
	Nonce            string           `json:"nonce" yaml:"nonce"`
	Expiration       uint64           `json:"expiration" yaml:"expiration"`
}

func (e Envelope) view() envelopeJSON {
	return envelopeJSON{
		From:             e.From,
		Callee:           e.Callee,
		Selector:         e.Selector,
		Input:            "0x" + hex.EncodeToString(e.Input),
		TransferredValue: e.Value().Dec(),
		GasLimit:         e.GasLimit,
		AllowReentry:     e.AllowReentry,
		Nonce:            e.NonceValue().Dec(),
		Expiration:       e.Expiration,
	}
}

// MarshalJSON renders accounts in bech32, the input as 0x-hex and the wide
// integers as decimal strings.
func (e Envelope) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.view())
}

// MarshalYAML uses the same field names and formats as MarshalJSON.
func (e Envelope) MarshalYAML() (interface{}, error) {
	return e.view(), nil
}

// UnmarshalJSON decodes the RPC representation produced by MarshalJSON.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	if e == nil {
		return fmt.Errorf("envelope: nil receiver")
	}
	var payload envelopeJSON
	if err := json.Unmarshal(data, &payload); err != nil {
		return err
	}
	input, err := DecodeHexBytes(payload.Input)
	if err != nil {
		return fmt.Errorf("envelope: input: %w", err)
	}
	value, err := ParseUint128(payload.TransferredValue)
	if err != nil {
		return fmt.Errorf("envelope: transferredValue: %w", err)
	}
	nonce, err := ParseUint128(payload.Nonce)
	if err != nil {
		return fmt.Errorf("envelope: nonce: %w", err)
	}
	*e = Envelope{
		From:             payload.From,
		Callee:           payload.Callee,
		Selector:         payload.Selector,
		Input:            input,
		TransferredValue: value,
		GasLimit:         payload.GasLimit,
		AllowReentry:     payload.AllowReentry,
		Nonce:            nonce,
		Expiration:       payload.Expiration,
	}
	return nil
}

// DecodeHexBytes decodes optional 0x-prefixed hex. An empty string yields an
// empty slice.
func DecodeHexBytes(s string) ([]byte, error) {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	if trimmed == "" {
		return []byte{}, nil
	}
	return hex.DecodeString(trimmed)
}

// ParseUint128 parses a decimal or 0x-hex string that must fit in 128 bits.
// An empty string parses as zero.
func ParseUint128(s string) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return new(uint256.Int), nil
	}
	var (
		v   *uint256.Int
		err error
	)
	if strings.HasPrefix(trimmed, "0x") || strings.HasPrefix(trimmed, "0X") {
		v, err = uint256.FromHex(trimmed)
	} else {
		v, err = uint256.FromDecimal(trimmed)
	}
	if err != nil {
		return nil, err
	}
	if v.BitLen() > 128 {
		return nil, ErrU128Overflow
	}
	return v, nil
}
