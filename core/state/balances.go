package state

import (
	"errors"

	"github.com/holiman/uint256"

	"metatx/crypto"
)

var (
	// ErrInsufficientBalance is returned when a debit exceeds the balance.
	ErrInsufficientBalance = errors.New("state: insufficient balance")
	// ErrBalanceOverflow is returned when a credit would exceed 128 bits.
	ErrBalanceOverflow = errors.New("state: balance exceeds 128 bits")
)

var balancePrefix = []byte("balance/")

func balanceKey(addr crypto.AccountID) []byte {
	buf := make([]byte, 0, len(balancePrefix)+len(addr))
	buf = append(buf, balancePrefix...)
	return append(buf, addr[:]...)
}

// Balance returns the native balance of addr, zero when never credited.
func (m *Manager) Balance(addr crypto.AccountID) (*uint256.Int, error) {
	var raw []byte
	ok, err := m.KVGet(balanceKey(addr), &raw)
	if err != nil {
		return nil, err
	}
	if !ok {
		return new(uint256.Int), nil
	}
	return new(uint256.Int).SetBytes(raw), nil
}

// SetBalance overwrites the balance of addr.
func (m *Manager) SetBalance(addr crypto.AccountID, amount *uint256.Int) error {
	if amount == nil {
		amount = new(uint256.Int)
	}
	if amount.BitLen() > 128 {
		return ErrBalanceOverflow
	}
	return m.KVPut(balanceKey(addr), amount.Bytes())
}

// Transfer moves amount from one account to another.
func (m *Manager) Transfer(from, to crypto.AccountID, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() || from == to {
		return nil
	}
	fromBal, err := m.Balance(from)
	if err != nil {
		return err
	}
	if fromBal.Lt(amount) {
		return ErrInsufficientBalance
	}
	toBal, err := m.Balance(to)
	if err != nil {
		return err
	}
	credited := new(uint256.Int).Add(toBal, amount)
	if credited.BitLen() > 128 {
		return ErrBalanceOverflow
	}
	if err := m.SetBalance(from, new(uint256.Int).Sub(fromBal, amount)); err != nil {
		return err
	}
	return m.SetBalance(to, credited)
}
