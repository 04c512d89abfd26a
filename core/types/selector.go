package types

import (
	"encoding/hex"
	"fmt"
	"strings"

	"metatx/crypto"
)

// SelectorLength is the width of a message selector.
const SelectorLength = 4

// Selector identifies a contract message. Selectors are the first four bytes
// of the BLAKE2b-256 digest of the message label.
type Selector [SelectorLength]byte

// SelectorFromLabel derives the selector for a message label such as "flip".
func SelectorFromLabel(label string) Selector {
	digest := crypto.Blake2x256([]byte(label))
	var sel Selector
	copy(sel[:], digest[:SelectorLength])
	return sel
}

// ParseSelector decodes a 0x-prefixed or bare 8 character hex selector.
func ParseSelector(s string) (Selector, error) {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return Selector{}, fmt.Errorf("selector: %w", err)
	}
	if len(raw) != SelectorLength {
		return Selector{}, fmt.Errorf("selector: expected %d bytes, got %d", SelectorLength, len(raw))
	}
	var sel Selector
	copy(sel[:], raw)
	return sel, nil
}

func (s Selector) String() string {
	return "0x" + hex.EncodeToString(s[:])
}

func (s Selector) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Selector) UnmarshalText(text []byte) error {
	parsed, err := ParseSelector(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
