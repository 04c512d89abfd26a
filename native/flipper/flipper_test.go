package flipper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/holiman/uint256"

	"metatx/core/events"
	"metatx/core/state"
	"metatx/core/types"
	"metatx/core/vm"
	"metatx/crypto"
	"metatx/native/access"
	"metatx/native/forwarder"
	"metatx/native/metatx"
	"metatx/storage"
)

const testNow = 1_700_000_000_000

type fixture struct {
	host      *vm.Host
	flipper   crypto.AccountID
	forwarder crypto.AccountID
	deployer  crypto.AccountID
	relayer   crypto.AccountID
}

func newFixture(t *testing.T, initValue bool) *fixture {
	t.Helper()
	f := &fixture{
		host:      vm.NewHost(state.NewManager(storage.NewMemDB()), vm.WithClock(func() time.Time { return time.UnixMilli(testNow) })),
		flipper:   crypto.ContractAddress("flipper"),
		forwarder: crypto.ContractAddress("forwarder"),
		deployer:  crypto.ContractAddress("deployer"),
		relayer:   crypto.ContractAddress("relayer"),
	}
	if err := f.host.Deploy(f.forwarder, forwarder.New()); err != nil {
		t.Fatalf("deploy forwarder: %v", err)
	}
	receipt, err := f.host.Instantiate(context.Background(), f.deployer, f.flipper, New(), EncodeConstructor(f.forwarder, initValue))
	if err != nil || receipt.Err != nil {
		t.Fatalf("instantiate flipper: %v %v", err, receipt.Err)
	}
	return f
}

func (f *fixture) call(t *testing.T, from, to crypto.AccountID, sel types.Selector, input []byte) *vm.Receipt {
	t.Helper()
	receipt, err := f.host.Transact(context.Background(), vm.Message{From: from, To: to, Selector: sel, Input: input})
	if err != nil {
		t.Fatalf("transact: %v", err)
	}
	return receipt
}

func (f *fixture) value(t *testing.T) bool {
	t.Helper()
	receipt := f.call(t, f.relayer, f.flipper, SelectorGet, nil)
	if receipt.Err != nil || len(receipt.Output) != 1 {
		t.Fatalf("get: %v %x", receipt.Err, receipt.Output)
	}
	return receipt.Output[0] == 1
}

func TestConstructorAndFlip(t *testing.T) {
	f := newFixture(t, false)
	if f.value(t) {
		t.Fatalf("expected initial value false")
	}
	if r := f.call(t, f.relayer, f.flipper, SelectorFlip, nil); r.Err != nil {
		t.Fatalf("flip: %v", r.Err)
	}
	if !f.value(t) {
		t.Fatalf("expected value true after flip")
	}

	trusted := f.call(t, f.relayer, f.flipper, metatx.SelectorGetTrustedForwarder, nil)
	account, ok, err := metatx.DecodeOptionalAccount(trusted.Output)
	if err != nil || !ok || account != f.forwarder {
		t.Fatalf("expected forwarder configured by constructor, got %s ok=%v err=%v", account, ok, err)
	}
	admin := f.call(t, f.relayer, f.flipper, access.SelectorHasRole, access.EncodeRoleArgs(access.DefaultAdminRole, f.deployer))
	if admin.Err != nil || len(admin.Output) != 1 || admin.Output[0] != 1 {
		t.Fatalf("expected deployer to be admin")
	}

	initTrue := newFixture(t, true)
	if !initTrue.value(t) {
		t.Fatalf("expected initial value true")
	}
}

func TestFlipMetaContextDirectCaller(t *testing.T) {
	f := newFixture(t, false)
	receipt := f.call(t, f.relayer, f.flipper, SelectorFlipMetaContext, EncodeFlipMetaContext(nil))
	if receipt.Err != nil {
		t.Fatalf("flip meta context: %v", receipt.Err)
	}
	flipped := receipt.Events[0].(events.Flipped)
	if flipped.Caller != f.relayer || !flipped.Value {
		t.Fatalf("expected relayer as effective caller, got %+v", flipped)
	}
}

func TestFlipMetaContextThroughForwarder(t *testing.T) {
	f := newFixture(t, false)
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	signer := key.AccountID()

	e := &types.Envelope{
		From:             signer,
		Callee:           f.flipper,
		Selector:         SelectorFlipMetaContext,
		Input:            EncodeFlipMetaContext(signer.Bytes()),
		TransferredValue: new(uint256.Int),
		Nonce:            new(uint256.Int),
		Expiration:       testNow + 60_000,
	}
	sig, err := e.Sign(key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	input, err := forwarder.EncodeEnvelopeCall(e, sig)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	receipt := f.call(t, f.relayer, f.forwarder, forwarder.SelectorExecute, input)
	if receipt.Err != nil {
		t.Fatalf("execute: %v", receipt.Err)
	}
	if !f.value(t) {
		t.Fatalf("expected flipped value")
	}
	var flipped *events.Flipped
	for _, evt := range receipt.Events {
		if fl, ok := evt.(events.Flipped); ok {
			flipped = &fl
		}
	}
	if flipped == nil || flipped.Caller != signer {
		t.Fatalf("expected signer as effective caller, got %+v", flipped)
	}

	// A forwarded payload without an account id cannot be attributed.
	bad := e.Clone()
	bad.Nonce = uint256.NewInt(1)
	bad.Input = EncodeFlipMetaContext([]byte{0x01})
	badSig, _ := bad.Sign(key)
	badInput, _ := forwarder.EncodeEnvelopeCall(bad, badSig)
	failed := f.call(t, f.relayer, f.forwarder, forwarder.SelectorExecute, badInput)
	if !errors.Is(failed.Err, forwarder.ErrTransactionFailed) || !errors.Is(failed.Err, metatx.ErrRecoverAccountIDFailed) {
		t.Fatalf("expected recover failure through forwarder, got %v", failed.Err)
	}
	if !f.value(t) {
		t.Fatalf("expected failed flip to leave value unchanged")
	}
}
