package forwarder

import (
	"errors"

	"github.com/holiman/uint256"

	"metatx/crypto"
)

// kvStore abstracts the subset of contract storage required by the forwarder.
type kvStore interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

var noncePrefix = []byte("forwarder/nonce/")

func nonceKey(signer crypto.AccountID) []byte {
	buf := make([]byte, 0, len(noncePrefix)+len(signer))
	buf = append(buf, noncePrefix...)
	return append(buf, signer[:]...)
}

// NonceRegistry tracks the next expected nonce per signer. Entries start at
// zero, grow by one per authorised envelope and are never removed.
type NonceRegistry struct {
	store kvStore
}

// NewNonceRegistry binds a registry to the provided storage backend.
func NewNonceRegistry(store kvStore) *NonceRegistry {
	return &NonceRegistry{store: store}
}

// Get returns the next expected nonce of signer.
func (r *NonceRegistry) Get(signer crypto.AccountID) (*uint256.Int, error) {
	if r == nil || r.store == nil {
		return nil, errors.New("forwarder: nonce storage unavailable")
	}
	var raw []byte
	ok, err := r.store.KVGet(nonceKey(signer), &raw)
	if err != nil {
		return nil, err
	}
	if !ok {
		return new(uint256.Int), nil
	}
	return new(uint256.Int).SetBytes(raw), nil
}

// Advance consumes the current nonce of signer and returns the new value.
// Calling it twice advances twice.
func (r *NonceRegistry) Advance(signer crypto.AccountID) (*uint256.Int, error) {
	current, err := r.Get(signer)
	if err != nil {
		return nil, err
	}
	next := new(uint256.Int).AddUint64(current, 1)
	if next.BitLen() > 128 {
		return nil, ErrNonceOverflow
	}
	if err := r.store.KVPut(nonceKey(signer), next.Bytes()); err != nil {
		return nil, err
	}
	return next, nil
}
