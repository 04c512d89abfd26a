package crypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"errors"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// SignatureLength is the size of a recoverable secp256k1 signature (r || s || v).
const SignatureLength = 65

// ErrInvalidSignature marks signatures that are malformed or do not recover
// to a public key.
var ErrInvalidSignature = errors.New("crypto: invalid signature")

// --- Key Management ---

type PrivateKey struct {
	*ecdsa.PrivateKey
}

type PublicKey struct {
	*ecdsa.PublicKey
}

func GeneratePrivateKey() (*PrivateKey, error) {
	key, err := ecdsa.GenerateKey(ethcrypto.S256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	key, err := ethcrypto.ToECDSA(b)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// Bytes returns the byte representation of the private key.
func (k *PrivateKey) Bytes() []byte {
	return ethcrypto.FromECDSA(k.PrivateKey)
}

func (k *PrivateKey) PubKey() *PublicKey {
	return &PublicKey{&k.PrivateKey.PublicKey}
}

// AccountID derives the account identifier controlled by this key.
func (k *PrivateKey) AccountID() AccountID {
	return k.PubKey().AccountID()
}

// Sign produces a 65 byte recoverable signature over a 32 byte digest. The
// recovery id in the last byte is 0 or 1.
func (k *PrivateKey) Sign(digest []byte) ([]byte, error) {
	if len(digest) != HashLength {
		return nil, fmt.Errorf("crypto: digest must be %d bytes, got %d", HashLength, len(digest))
	}
	return ethcrypto.Sign(digest, k.PrivateKey)
}

// Compressed returns the 33 byte SEC1 compressed encoding of the key.
func (k *PublicKey) Compressed() []byte {
	return ethcrypto.CompressPubkey(k.PublicKey)
}

// AccountID hashes the compressed public key into an account identifier.
func (k *PublicKey) AccountID() AccountID {
	return AccountIDFromCompressedKey(k.Compressed())
}

// AccountIDFromCompressedKey derives the account id of a 33 byte compressed key.
func AccountIDFromCompressedKey(compressed []byte) AccountID {
	return AccountID(Blake2x256(compressed))
}

// RecoverCompressed recovers the compressed public key that produced sig over
// digest. Recovery ids of 27/28 are accepted alongside 0/1.
func RecoverCompressed(digest, sig []byte) ([]byte, error) {
	if len(digest) != HashLength {
		return nil, fmt.Errorf("%w: digest must be %d bytes", ErrInvalidSignature, HashLength)
	}
	if len(sig) != SignatureLength {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidSignature, SignatureLength, len(sig))
	}
	normalized := make([]byte, SignatureLength)
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	if normalized[64] > 1 {
		return nil, fmt.Errorf("%w: recovery id %d", ErrInvalidSignature, sig[64])
	}
	pub, err := ethcrypto.SigToPub(digest, normalized)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return ethcrypto.CompressPubkey(pub), nil
}

// RecoverAccountID recovers the signer's account id from sig over digest.
func RecoverAccountID(digest, sig []byte) (AccountID, error) {
	compressed, err := RecoverCompressed(digest, sig)
	if err != nil {
		return AccountID{}, err
	}
	return AccountIDFromCompressedKey(compressed), nil
}
