package crypto

import (
	"golang.org/x/crypto/blake2b"
)

// HashLength is the width of every digest produced by this package.
const HashLength = 32

// Blake2x256 returns the 32 byte BLAKE2b digest of the concatenated inputs.
func Blake2x256(data ...[]byte) [HashLength]byte {
	h, err := blake2b.New256(nil)
	if err != nil {
		// New256 only fails for oversized keys.
		panic(err)
	}
	for _, chunk := range data {
		h.Write(chunk)
	}
	var out [HashLength]byte
	copy(out[:], h.Sum(nil))
	return out
}
