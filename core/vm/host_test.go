package vm

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/holiman/uint256"

	"metatx/core/state"
	"metatx/core/types"
	"metatx/crypto"
	"metatx/storage"
)

var (
	selInc     = types.SelectorFromLabel("inc")
	selFail    = types.SelectorFromLabel("fail")
	selPersist = types.SelectorFromLabel("persist")
	selForward = types.SelectorFromLabel("forward")
	selRecurse = types.SelectorFromLabel("recurse")
	selPanic   = types.SelectorFromLabel("panic")
	selCaller  = types.SelectorFromLabel("caller")
)

var errCounter = errors.New("counter failure")

type counterEvent struct{ n uint64 }

func (counterEvent) EventType() string { return "counter.inc" }

func (counterEvent) Event() *types.Event { return &types.Event{Type: "counter.inc"} }

// counter is a small contract used to exercise the host.
type counter struct {
	methods Methods
}

func newCounter() *counter {
	p := &counter{}
	p.methods = Methods{
		selInc: func(env Env, _ []byte) ([]byte, error) {
			_, err := p.inc(env)
			return nil, err
		},
		selFail: func(env Env, _ []byte) ([]byte, error) {
			if _, err := p.inc(env); err != nil {
				return nil, err
			}
			return nil, errCounter
		},
		selPersist: func(env Env, _ []byte) ([]byte, error) {
			if _, err := p.inc(env); err != nil {
				return nil, err
			}
			return nil, Persist(errCounter)
		},
		selForward: func(env Env, input []byte) ([]byte, error) {
			call, err := decodeForward(input)
			if err != nil {
				return nil, err
			}
			return env.Invoke(call)
		},
		selRecurse: func(env Env, _ []byte) ([]byte, error) {
			return env.Invoke(Call{Callee: env.Self(), Selector: selRecurse, AllowReentry: true})
		},
		selPanic: func(Env, []byte) ([]byte, error) {
			panic("boom")
		},
		selCaller: func(env Env, _ []byte) ([]byte, error) {
			caller := env.Caller()
			return caller[:], nil
		},
	}
	return p
}

func (p *counter) Call(env Env, selector types.Selector, input []byte) ([]byte, error) {
	return p.methods.Dispatch(env, selector, input)
}

func (p *counter) inc(env Env) (uint64, error) {
	var n uint64
	if _, err := env.Storage().KVGet([]byte("n"), &n); err != nil {
		return 0, err
	}
	n++
	if err := env.Storage().KVPut([]byte("n"), n); err != nil {
		return 0, err
	}
	return n, env.Emit(counterEvent{n: n})
}

// forward input: callee(32) selector(4) allowReentry(1) gasLimit(8) value(8) inner...
func encodeForward(callee crypto.AccountID, sel types.Selector, allowReentry bool, gas uint64, value uint64, inner []byte) []byte {
	buf := append([]byte{}, callee[:]...)
	buf = append(buf, sel[:]...)
	if allowReentry {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = binary.LittleEndian.AppendUint64(buf, gas)
	buf = binary.LittleEndian.AppendUint64(buf, value)
	return append(buf, inner...)
}

func decodeForward(input []byte) (Call, error) {
	if len(input) < 32+4+1+8+8 {
		return Call{}, ErrInvalidInput
	}
	var call Call
	copy(call.Callee[:], input[:32])
	copy(call.Selector[:], input[32:36])
	call.AllowReentry = input[36] == 1
	call.GasLimit = binary.LittleEndian.Uint64(input[37:45])
	call.Value = uint256.NewInt(binary.LittleEndian.Uint64(input[45:53]))
	call.Input = input[53:]
	return call, nil
}

type fixture struct {
	host *Host
	a, b crypto.AccountID
	user crypto.AccountID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := state.NewManager(storage.NewMemDB())
	host := NewHost(st, WithClock(func() time.Time { return time.UnixMilli(1_700_000_000_000) }))
	f := &fixture{
		host: host,
		a:    crypto.ContractAddress("counter-a"),
		b:    crypto.ContractAddress("counter-b"),
		user: crypto.ContractAddress("user"),
	}
	if err := host.Deploy(f.a, newCounter()); err != nil {
		t.Fatalf("deploy a: %v", err)
	}
	if err := host.Deploy(f.b, newCounter()); err != nil {
		t.Fatalf("deploy b: %v", err)
	}
	return f
}

func (f *fixture) counter(t *testing.T, addr crypto.AccountID) uint64 {
	t.Helper()
	var n uint64
	if _, err := f.host.State().Scoped(ContractStoragePrefix(addr)).KVGet([]byte("n"), &n); err != nil {
		t.Fatalf("read counter: %v", err)
	}
	return n
}

func (f *fixture) transact(t *testing.T, msg Message) *Receipt {
	t.Helper()
	receipt, err := f.host.Transact(context.Background(), msg)
	if err != nil {
		t.Fatalf("transact: %v", err)
	}
	return receipt
}

func TestTransactSuccessKeepsWritesAndEvents(t *testing.T) {
	f := newFixture(t)
	receipt := f.transact(t, Message{From: f.user, To: f.a, Selector: selInc})
	if receipt.Status != StatusSuccess || receipt.Err != nil {
		t.Fatalf("unexpected receipt: %+v", receipt)
	}
	if got := f.counter(t, f.a); got != 1 {
		t.Fatalf("expected counter 1, got %d", got)
	}
	if len(receipt.Events) != 1 {
		t.Fatalf("expected one event, got %d", len(receipt.Events))
	}
	if receipt.Timestamp != 1_700_000_000_000 {
		t.Fatalf("unexpected timestamp %d", receipt.Timestamp)
	}
	want := GasCallBase + GasStorageRead + GasStorageWrite + GasEvent
	if receipt.GasUsed != want {
		t.Fatalf("expected gas %d, got %d", want, receipt.GasUsed)
	}
}

func TestFailedFrameReverts(t *testing.T) {
	f := newFixture(t)
	receipt := f.transact(t, Message{From: f.user, To: f.a, Selector: selFail})
	if receipt.Status != StatusFailed || !errors.Is(receipt.Err, errCounter) {
		t.Fatalf("expected counter failure, got %+v", receipt)
	}
	if got := f.counter(t, f.a); got != 0 {
		t.Fatalf("expected reverted counter, got %d", got)
	}
	if len(receipt.Events) != 0 {
		t.Fatalf("expected reverted events, got %d", len(receipt.Events))
	}
}

func TestPersistedFailureKeepsWrites(t *testing.T) {
	f := newFixture(t)
	receipt := f.transact(t, Message{From: f.user, To: f.a, Selector: selPersist})
	if receipt.Status != StatusFailed || !errors.Is(receipt.Err, errCounter) {
		t.Fatalf("expected persisted counter failure, got %+v", receipt)
	}
	if !IsPersisted(receipt.Err) {
		t.Fatalf("expected persisted marker on receipt error")
	}
	if got := f.counter(t, f.a); got != 1 {
		t.Fatalf("expected persisted counter 1, got %d", got)
	}
}

func TestPersistMarkerDoesNotSurviveWrapping(t *testing.T) {
	wrapped := errors.Join(Persist(errCounter))
	if IsPersisted(wrapped) {
		t.Fatalf("expected wrapped persisted error to lose the marker")
	}
	if Persist(nil) != nil {
		t.Fatalf("expected Persist(nil) to be nil")
	}
}

func TestPersistMarkerStrippedAtCallBoundary(t *testing.T) {
	f := newFixture(t)
	receipt := f.transact(t, Message{
		From:     f.user,
		To:       f.a,
		Selector: selForward,
		Input:    encodeForward(f.b, selPersist, false, 0, 0, nil),
	})
	if receipt.Status != StatusFailed || !errors.Is(receipt.Err, errCounter) {
		t.Fatalf("expected counter failure, got %+v", receipt)
	}
	if IsPersisted(receipt.Err) {
		t.Fatalf("expected callee's persisted marker to stay with the callee frame")
	}
	if got := f.counter(t, f.b); got != 0 {
		t.Fatalf("expected caller revert to discard callee writes, got %d", got)
	}
}

func TestNestedFailureRevertsOnlyInnerFrame(t *testing.T) {
	f := newFixture(t)
	// a increments itself through b's failure being swallowed.
	swallow := &swallowing{inner: encodeForward(f.b, selFail, false, 0, 0, nil)}
	addr := crypto.ContractAddress("swallow")
	if err := f.host.Deploy(addr, swallow); err != nil {
		t.Fatalf("deploy: %v", err)
	}
	receipt := f.transact(t, Message{From: f.user, To: addr})
	if receipt.Status != StatusSuccess {
		t.Fatalf("expected outer success, got %v", receipt.Err)
	}
	if !errors.Is(swallow.seen, errCounter) {
		t.Fatalf("expected inner failure to reach caller, got %v", swallow.seen)
	}
	if got := f.counter(t, f.b); got != 0 {
		t.Fatalf("expected inner writes reverted, got %d", got)
	}
	var marker bool
	if ok, _ := f.host.State().Scoped(ContractStoragePrefix(addr)).KVGet([]byte("marker"), &marker); !ok || !marker {
		t.Fatalf("expected outer write kept")
	}
}

type swallowing struct {
	inner []byte
	seen  error
}

func (s *swallowing) Call(env Env, _ types.Selector, _ []byte) ([]byte, error) {
	if err := env.Storage().KVPut([]byte("marker"), true); err != nil {
		return nil, err
	}
	call, err := decodeForward(s.inner)
	if err != nil {
		return nil, err
	}
	_, s.seen = env.Invoke(call)
	return nil, nil
}

func TestReentryGuard(t *testing.T) {
	f := newFixture(t)
	backToA := encodeForward(f.a, selInc, false, 0, 0, nil)

	denied := f.transact(t, Message{
		From:     f.user,
		To:       f.a,
		Selector: selForward,
		Input:    encodeForward(f.b, selForward, false, 0, 0, backToA),
	})
	if !errors.Is(denied.Err, ErrReentranceDenied) {
		t.Fatalf("expected reentrance denied, got %v", denied.Err)
	}
	if got := f.counter(t, f.a); got != 0 {
		t.Fatalf("expected no increment, got %d", got)
	}

	allowed := f.transact(t, Message{
		From:     f.user,
		To:       f.a,
		Selector: selForward,
		Input:    encodeForward(f.b, selForward, true, 0, 0, backToA),
	})
	if allowed.Err != nil {
		t.Fatalf("expected reentry to succeed, got %v", allowed.Err)
	}
	if got := f.counter(t, f.a); got != 1 {
		t.Fatalf("expected increment through reentry, got %d", got)
	}
}

func TestNestedGasLimit(t *testing.T) {
	f := newFixture(t)
	receipt := f.transact(t, Message{
		From:     f.user,
		To:       f.a,
		Selector: selForward,
		Input:    encodeForward(f.b, selInc, true, 3_000, 0, nil),
	})
	if !errors.Is(receipt.Err, ErrOutOfGas) {
		t.Fatalf("expected out of gas, got %v", receipt.Err)
	}
	if f.counter(t, f.b) != 0 {
		t.Fatalf("expected exhausted frame to revert")
	}

	small := f.transact(t, Message{From: f.user, To: f.a, Selector: selInc, GasLimit: 500})
	if !errors.Is(small.Err, ErrOutOfGas) || small.GasUsed != 500 {
		t.Fatalf("expected top-level out of gas using the full limit, got %v used=%d", small.Err, small.GasUsed)
	}
}

func TestValueTransfer(t *testing.T) {
	f := newFixture(t)
	st := f.host.State()
	if err := st.SetBalance(f.user, uint256.NewInt(100)); err != nil {
		t.Fatalf("set balance: %v", err)
	}
	receipt := f.transact(t, Message{
		From:     f.user,
		To:       f.a,
		Selector: selForward,
		Input:    encodeForward(f.b, selInc, false, 0, 30, nil),
		Value:    uint256.NewInt(50),
	})
	if receipt.Err != nil {
		t.Fatalf("transfer call: %v", receipt.Err)
	}
	for addr, want := range map[crypto.AccountID]uint64{f.user: 50, f.a: 20, f.b: 30} {
		bal, err := st.Balance(addr)
		if err != nil || bal.Uint64() != want {
			t.Fatalf("balance of %s: got %v want %d err=%v", addr, bal, want, err)
		}
	}

	poor := f.transact(t, Message{From: f.user, To: f.a, Selector: selInc, Value: uint256.NewInt(51)})
	if !errors.Is(poor.Err, ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", poor.Err)
	}
}

func TestCallDepthLimit(t *testing.T) {
	f := newFixture(t)
	receipt := f.transact(t, Message{From: f.user, To: f.a, Selector: selRecurse})
	if !errors.Is(receipt.Err, ErrCallDepthExceeded) {
		t.Fatalf("expected call depth exceeded, got %v", receipt.Err)
	}
}

func TestPanicTrapsAndUnknownTargets(t *testing.T) {
	f := newFixture(t)
	if r := f.transact(t, Message{From: f.user, To: f.a, Selector: selPanic}); !errors.Is(r.Err, ErrContractTrapped) {
		t.Fatalf("expected trap, got %v", r.Err)
	}
	if r := f.transact(t, Message{From: f.user, To: f.user}); !errors.Is(r.Err, ErrContractNotFound) {
		t.Fatalf("expected contract not found, got %v", r.Err)
	}
	unknown := types.SelectorFromLabel("missing")
	if r := f.transact(t, Message{From: f.user, To: f.a, Selector: unknown}); !errors.Is(r.Err, ErrUnknownSelector) {
		t.Fatalf("expected unknown selector, got %v", r.Err)
	}
}

func TestNestedCallerIsCallingContract(t *testing.T) {
	f := newFixture(t)
	receipt := f.transact(t, Message{
		From:     f.user,
		To:       f.a,
		Selector: selForward,
		Input:    encodeForward(f.b, selCaller, false, 0, 0, nil),
	})
	if receipt.Err != nil {
		t.Fatalf("caller query: %v", receipt.Err)
	}
	if got, _ := crypto.AccountIDFromBytes(receipt.Output); got != f.a {
		t.Fatalf("expected nested caller %s, got %s", f.a, got)
	}
}

func TestQueryRevertsEverything(t *testing.T) {
	f := newFixture(t)
	receipt, err := f.host.Query(context.Background(), Message{From: f.user, To: f.a, Selector: selInc})
	if err != nil || receipt.Err != nil {
		t.Fatalf("query: %v %v", err, receipt.Err)
	}
	if got := f.counter(t, f.a); got != 0 {
		t.Fatalf("expected query to leave no writes, got %d", got)
	}
}

type failingCtor struct{ counter }

func (failingCtor) Construct(env Env, _ []byte) error {
	if err := env.Storage().KVPut([]byte("n"), uint64(9)); err != nil {
		return err
	}
	return errCounter
}

func TestInstantiateFailureRemovesContract(t *testing.T) {
	f := newFixture(t)
	addr := crypto.ContractAddress("broken")
	receipt, err := f.host.Instantiate(context.Background(), f.user, addr, &failingCtor{}, nil)
	if err != nil {
		t.Fatalf("instantiate: %v", err)
	}
	if !errors.Is(receipt.Err, errCounter) {
		t.Fatalf("expected constructor failure, got %v", receipt.Err)
	}
	if _, ok := f.host.Contract(addr); ok {
		t.Fatalf("expected failed contract to be removed")
	}
	if got := f.counter(t, addr); got != 0 {
		t.Fatalf("expected constructor writes reverted, got %d", got)
	}
	if err := f.host.Deploy(f.a, newCounter()); !errors.Is(err, ErrContractExists) {
		t.Fatalf("expected duplicate deploy to fail, got %v", err)
	}
}
