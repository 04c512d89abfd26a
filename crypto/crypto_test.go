package crypto

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/keystore"
)

func TestSignRecoverAccountID(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	digest := Blake2x256([]byte("envelope"))
	sig, err := key.Sign(digest[:])
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if len(sig) != SignatureLength {
		t.Fatalf("unexpected signature length %d", len(sig))
	}
	recovered, err := RecoverAccountID(digest[:], sig)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if recovered != key.AccountID() {
		t.Fatalf("recovered %s, want %s", recovered, key.AccountID())
	}

	legacy := append([]byte(nil), sig...)
	legacy[64] += 27
	recovered, err = RecoverAccountID(digest[:], legacy)
	if err != nil {
		t.Fatalf("recover with 27/28 recovery id: %v", err)
	}
	if recovered != key.AccountID() {
		t.Fatalf("legacy recovery id recovered wrong account")
	}
}

func TestRecoverRejectsMalformedSignature(t *testing.T) {
	digest := Blake2x256([]byte("envelope"))
	if _, err := RecoverAccountID(digest[:], make([]byte, 64)); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature for short signature, got %v", err)
	}
	bad := make([]byte, SignatureLength)
	bad[64] = 9
	if _, err := RecoverAccountID(digest[:], bad); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature for bad recovery id, got %v", err)
	}
}

func TestAccountIDIsBlake2OfCompressedKey(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	compressed := key.PubKey().Compressed()
	if len(compressed) != 33 {
		t.Fatalf("expected 33 byte compressed key, got %d", len(compressed))
	}
	want := Blake2x256(compressed)
	if !bytes.Equal(key.AccountID().Bytes(), want[:]) {
		t.Fatalf("account id mismatch")
	}
}

func TestAccountIDTextForms(t *testing.T) {
	var id AccountID
	for i := range id {
		id[i] = byte(i)
	}
	encoded := id.String()
	if !strings.HasPrefix(encoded, AccountPrefix+"1") {
		t.Fatalf("unexpected bech32 form %q", encoded)
	}
	decoded, err := DecodeAccountID(encoded)
	if err != nil {
		t.Fatalf("decode bech32: %v", err)
	}
	if decoded != id {
		t.Fatalf("bech32 round trip mismatch")
	}
	decoded, err = DecodeAccountID(id.Hex())
	if err != nil {
		t.Fatalf("decode hex: %v", err)
	}
	if decoded != id {
		t.Fatalf("hex round trip mismatch")
	}
	if _, err := DecodeAccountID("0x1234"); !errors.Is(err, ErrInvalidAccountID) {
		t.Fatalf("expected ErrInvalidAccountID for short hex, got %v", err)
	}
}

func TestContractAddressDeterministic(t *testing.T) {
	if ContractAddress("forwarder") != ContractAddress(" forwarder ") {
		t.Fatalf("contract address should ignore surrounding whitespace")
	}
	if ContractAddress("forwarder") == ContractAddress("flipper") {
		t.Fatalf("distinct labels must yield distinct addresses")
	}
}

func TestKeystoreRoundTrip(t *testing.T) {
	keystoreScryptN, keystoreScryptP = keystore.LightScryptN, keystore.LightScryptP
	t.Cleanup(func() {
		keystoreScryptN, keystoreScryptP = keystore.StandardScryptN, keystore.StandardScryptP
	})

	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	path := filepath.Join(t.TempDir(), "keys", "signer.keystore")
	if err := SaveToKeystore(path, key, "correct horse"); err != nil {
		t.Fatalf("save keystore: %v", err)
	}
	loaded, err := LoadFromKeystore(path, "correct horse")
	if err != nil {
		t.Fatalf("load keystore: %v", err)
	}
	if loaded.AccountID() != key.AccountID() {
		t.Fatalf("loaded key controls a different account")
	}
	if _, err := LoadFromKeystore(path, "wrong"); err == nil {
		t.Fatalf("expected error for wrong passphrase")
	}
}
