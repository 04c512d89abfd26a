package metatx

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"metatx/core/events"
	"metatx/core/state"
	"metatx/core/types"
	"metatx/core/vm"
	"metatx/crypto"
	"metatx/native/access"
	"metatx/storage"
)

var selWhoAmI = types.SelectorFromLabel("whoami")

type consumer struct {
	access  *access.Control
	meta    *Context
	methods vm.Methods
}

func newConsumer() *consumer {
	ctl := access.New()
	c := &consumer{access: ctl, meta: New(ctl)}
	c.methods = vm.Methods{
		selWhoAmI: func(env vm.Env, input []byte) ([]byte, error) {
			caller, err := c.meta.ResolveCaller(env, input)
			if err != nil {
				return nil, err
			}
			return caller.Bytes(), nil
		},
	}.Merge(c.meta.Methods())
	return c
}

func (c *consumer) Construct(env vm.Env, _ []byte) error {
	return c.access.InitWithAdmin(env, env.Caller())
}

func (c *consumer) Call(env vm.Env, selector types.Selector, input []byte) ([]byte, error) {
	return c.methods.Dispatch(env, selector, input)
}

type fixture struct {
	host      *vm.Host
	contract  crypto.AccountID
	admin     crypto.AccountID
	forwarder crypto.AccountID
	user      crypto.AccountID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		host:      vm.NewHost(state.NewManager(storage.NewMemDB())),
		contract:  crypto.ContractAddress("consumer"),
		admin:     crypto.ContractAddress("admin"),
		forwarder: crypto.ContractAddress("forwarder"),
		user:      crypto.ContractAddress("user"),
	}
	receipt, err := f.host.Instantiate(context.Background(), f.admin, f.contract, newConsumer(), nil)
	if err != nil || receipt.Err != nil {
		t.Fatalf("instantiate: %v %v", err, receipt.Err)
	}
	return f
}

func (f *fixture) call(t *testing.T, from crypto.AccountID, sel types.Selector, input []byte) *vm.Receipt {
	t.Helper()
	receipt, err := f.host.Transact(context.Background(), vm.Message{From: from, To: f.contract, Selector: sel, Input: input})
	if err != nil {
		t.Fatalf("transact: %v", err)
	}
	return receipt
}

func (f *fixture) trusted(t *testing.T) (crypto.AccountID, bool) {
	t.Helper()
	receipt := f.call(t, f.user, SelectorGetTrustedForwarder, nil)
	if receipt.Err != nil {
		t.Fatalf("get trusted forwarder: %v", receipt.Err)
	}
	account, ok, err := DecodeOptionalAccount(receipt.Output)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return account, ok
}

func TestSetTrustedForwarderRequiresAdmin(t *testing.T) {
	f := newFixture(t)
	if _, ok := f.trusted(t); ok {
		t.Fatalf("expected no trusted forwarder by default")
	}

	denied := f.call(t, f.user, SelectorSetTrustedForwarder, f.forwarder.Bytes())
	if !errors.Is(denied.Err, access.ErrMissingRole) {
		t.Fatalf("expected missing role, got %v", denied.Err)
	}
	if _, ok := f.trusted(t); ok {
		t.Fatalf("expected denied update to leave config empty")
	}

	set := f.call(t, f.admin, SelectorSetTrustedForwarder, f.forwarder.Bytes())
	if set.Err != nil {
		t.Fatalf("set trusted forwarder: %v", set.Err)
	}
	if len(set.Events) != 1 || set.Events[0].EventType() != events.TypeTrustedForwarderSet {
		t.Fatalf("expected forwarder set event, got %+v", set.Events)
	}
	if got, ok := f.trusted(t); !ok || got != f.forwarder {
		t.Fatalf("expected %s, got %s (ok=%v)", f.forwarder, got, ok)
	}

	replacement := crypto.ContractAddress("forwarder-2")
	update := f.call(t, f.admin, SelectorSetTrustedForwarder, replacement.Bytes())
	if update.Err != nil {
		t.Fatalf("overwrite trusted forwarder: %v", update.Err)
	}
	evt := update.Events[0].(events.TrustedForwarderSet)
	if evt.Previous == nil || *evt.Previous != f.forwarder {
		t.Fatalf("expected previous forwarder in event, got %+v", evt)
	}
	if got, _ := f.trusted(t); got != replacement {
		t.Fatalf("expected overwrite, got %s", got)
	}

	if r := f.call(t, f.admin, SelectorSetTrustedForwarder, []byte{0x01}); !errors.Is(r.Err, vm.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", r.Err)
	}
}

func TestResolveCaller(t *testing.T) {
	f := newFixture(t)
	signer := crypto.ContractAddress("signer")
	payload := append(signer.Bytes(), 0xde, 0xad)

	// Without a configured forwarder every caller resolves to itself.
	if r := f.call(t, f.forwarder, selWhoAmI, payload); r.Err != nil || !bytes.Equal(r.Output, f.forwarder.Bytes()) {
		t.Fatalf("expected direct caller, got %x err=%v", r.Output, r.Err)
	}

	if r := f.call(t, f.admin, SelectorSetTrustedForwarder, f.forwarder.Bytes()); r.Err != nil {
		t.Fatalf("set trusted forwarder: %v", r.Err)
	}

	if r := f.call(t, f.user, selWhoAmI, payload); r.Err != nil || !bytes.Equal(r.Output, f.user.Bytes()) {
		t.Fatalf("expected payload ignored for untrusted caller, got %x err=%v", r.Output, r.Err)
	}
	if r := f.call(t, f.user, selWhoAmI, nil); r.Err != nil || !bytes.Equal(r.Output, f.user.Bytes()) {
		t.Fatalf("expected empty payload accepted for untrusted caller, got %x err=%v", r.Output, r.Err)
	}
	if r := f.call(t, f.forwarder, selWhoAmI, payload); r.Err != nil || !bytes.Equal(r.Output, signer.Bytes()) {
		t.Fatalf("expected signer from payload, got %x err=%v", r.Output, r.Err)
	}
	if r := f.call(t, f.forwarder, selWhoAmI, signer.Bytes()[:31]); !errors.Is(r.Err, ErrRecoverAccountIDFailed) {
		t.Fatalf("expected recover failure, got %v", r.Err)
	}
}

func TestOptionalAccountEncoding(t *testing.T) {
	account := crypto.ContractAddress("x")
	encoded := EncodeOptionalAccount(account, true)
	if len(encoded) != 33 || encoded[0] != 0x01 {
		t.Fatalf("unexpected encoding %x", encoded)
	}
	got, ok, err := DecodeOptionalAccount(encoded)
	if err != nil || !ok || got != account {
		t.Fatalf("decode some: %v %v %v", got, ok, err)
	}
	if _, ok, err := DecodeOptionalAccount([]byte{0x00}); err != nil || ok {
		t.Fatalf("decode none: ok=%v err=%v", ok, err)
	}
	if _, _, err := DecodeOptionalAccount([]byte{0x02}); err == nil {
		t.Fatalf("expected invalid option tag to fail")
	}
}
