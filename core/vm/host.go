package vm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/holiman/uint256"

	"metatx/core/events"
	"metatx/core/state"
	"metatx/core/types"
	"metatx/crypto"
)

// MaxCallDepth bounds the number of nested frames in one message.
const MaxCallDepth = 32

var contractPrefix = []byte("contract/")

// ContractStoragePrefix returns the state prefix holding the storage of addr.
func ContractStoragePrefix(addr crypto.AccountID) []byte {
	buf := make([]byte, 0, len(contractPrefix)+len(addr)+1)
	buf = append(buf, contractPrefix...)
	buf = append(buf, addr[:]...)
	return append(buf, '/')
}

// Message is a top-level call submitted to the host.
type Message struct {
	From     crypto.AccountID
	To       crypto.AccountID
	Selector types.Selector
	Input    []byte
	Value    *uint256.Int
	GasLimit uint64
	// Timestamp overrides the host clock, in Unix milliseconds.
	Timestamp uint64
}

// Status is the outcome of a message.
type Status uint8

const (
	StatusFailed Status = iota
	StatusSuccess
)

func (s Status) String() string {
	if s == StatusSuccess {
		return "success"
	}
	return "failed"
}

// Receipt summarises the execution of a message. Events only include those of
// frames that were not reverted.
type Receipt struct {
	Status  Status
	Output  []byte
	Err     error
	GasUsed uint64
	Events  []events.Event
	// Timestamp is the block timestamp the message executed at.
	Timestamp uint64
}

// Host executes native contracts against a journaled state. It is not safe for
// concurrent use.
type Host struct {
	state     *state.Manager
	contracts map[crypto.AccountID]Contract
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Host.
type Option func(*Host)

// WithLogger sets the host logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Host) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithClock overrides the clock used for block timestamps.
func WithClock(now func() time.Time) Option {
	return func(h *Host) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHost creates a host over st.
func NewHost(st *state.Manager, opts ...Option) *Host {
	h := &Host{
		state:     st,
		contracts: make(map[crypto.AccountID]Contract),
		logger:    slog.Default().With(slog.String("component", "vm")),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// State returns the underlying state manager.
func (h *Host) State() *state.Manager { return h.state }

// Deploy registers contract at addr without running a constructor.
func (h *Host) Deploy(addr crypto.AccountID, contract Contract) error {
	if contract == nil {
		return errors.New("vm: nil contract")
	}
	if _, exists := h.contracts[addr]; exists {
		return fmt.Errorf("%w: %s", ErrContractExists, addr)
	}
	h.contracts[addr] = contract
	return nil
}

// Contract returns the contract deployed at addr.
func (h *Host) Contract(addr crypto.AccountID) (Contract, bool) {
	c, ok := h.contracts[addr]
	return c, ok
}

// Instantiate deploys contract at addr and runs its constructor with deployer
// as caller. A failing constructor leaves neither the contract nor its writes.
func (h *Host) Instantiate(ctx context.Context, deployer, addr crypto.AccountID, contract Contract, input []byte) (*Receipt, error) {
	if err := h.Deploy(addr, contract); err != nil {
		return nil, err
	}
	ctor, ok := contract.(Constructor)
	if !ok {
		return &Receipt{Status: StatusSuccess}, nil
	}
	x := h.newExecution(ctx, 0)
	_, used, err := x.run(deployer, addr, nil, DefaultGasLimit, len(input), func(env Env) ([]byte, error) {
		return nil, ctor.Construct(env, input)
	})
	receipt := x.receipt(nil, used, err)
	if err != nil {
		delete(h.contracts, addr)
	}
	return receipt, nil
}

// Transact executes msg. Execution failures are reported through the receipt;
// the returned error is reserved for requests that could not start.
func (h *Host) Transact(ctx context.Context, msg Message) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit := msg.GasLimit
	if limit == 0 {
		limit = DefaultGasLimit
	}
	x := h.newExecution(ctx, msg.Timestamp)
	out, used, err := x.call(msg.From, Call{
		Callee:   msg.To,
		Selector: msg.Selector,
		Input:    msg.Input,
		Value:    msg.Value,
	}, limit)
	return x.receipt(out, used, err), nil
}

// Query executes msg and reverts every state change afterwards.
func (h *Host) Query(ctx context.Context, msg Message) (*Receipt, error) {
	snapshot := h.state.Snapshot()
	defer h.state.RevertToSnapshot(snapshot)
	return h.Transact(ctx, msg)
}

func (h *Host) newExecution(ctx context.Context, timestamp uint64) *execution {
	if ctx == nil {
		ctx = context.Background()
	}
	if timestamp == 0 {
		timestamp = uint64(h.now().UnixMilli())
	}
	return &execution{
		host:      h,
		ctx:       ctx,
		timestamp: timestamp,
		locks:     make(map[crypto.AccountID]int),
	}
}

type execution struct {
	host      *Host
	ctx       context.Context
	timestamp uint64
	locks     map[crypto.AccountID]int
	events    []events.Event
	depth     int
}

func (x *execution) receipt(out []byte, used uint64, err error) *Receipt {
	r := &Receipt{
		Output:    out,
		Err:       err,
		GasUsed:   used,
		Events:    x.events,
		Timestamp: x.timestamp,
	}
	if err == nil {
		r.Status = StatusSuccess
	}
	return r
}

func (x *execution) call(caller crypto.AccountID, c Call, gasLimit uint64) ([]byte, uint64, error) {
	if x.locks[c.Callee] > 0 {
		return nil, 0, ErrReentranceDenied
	}
	contract, ok := x.host.contracts[c.Callee]
	if !ok {
		return nil, 0, fmt.Errorf("%w: %s", ErrContractNotFound, c.Callee)
	}
	return x.run(caller, c.Callee, c.Value, gasLimit, len(c.Input), func(env Env) ([]byte, error) {
		return contract.Call(env, c.Selector, c.Input)
	})
}

// run executes fn inside a new frame. The frame's state writes and events are
// reverted when fn fails, unless the failure was returned through Persist.
func (x *execution) run(caller, self crypto.AccountID, value *uint256.Int, gasLimit uint64, inputLen int, fn func(Env) ([]byte, error)) (out []byte, used uint64, err error) {
	if x.depth >= MaxCallDepth {
		return nil, 0, ErrCallDepthExceeded
	}
	if err := x.ctx.Err(); err != nil {
		return nil, 0, err
	}
	x.depth++
	defer func() { x.depth-- }()

	st := x.host.state
	snapshot := st.Snapshot()
	eventMark := len(x.events)
	if value == nil {
		value = new(uint256.Int)
	}
	f := &frame{
		exec:   x,
		caller: caller,
		self:   self,
		value:  new(uint256.Int).Set(value),
		gas:    NewGasMeter(gasLimit),
	}
	f.storage = &meteredStorage{view: st.Scoped(ContractStoragePrefix(self)), gas: f.gas}

	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("%w: %v", ErrContractTrapped, r)
		}
		used = f.gas.Used()
		if err != nil && !IsPersisted(err) {
			st.RevertToSnapshot(snapshot)
			x.events = x.events[:eventMark]
			x.host.logger.Debug("frame reverted",
				slog.String("contract", self.String()),
				slog.Int("depth", x.depth),
				slog.Any("error", err))
		}
	}()

	if err = f.gas.Consume(GasCallBase, "call"); err != nil {
		return nil, 0, err
	}
	if err = f.gas.Consume(GasPerInputByte*uint64(inputLen), "input"); err != nil {
		return nil, 0, err
	}
	if !value.IsZero() {
		if err = f.gas.Consume(GasValueTransfer, "value transfer"); err != nil {
			return nil, 0, err
		}
		if err = st.Transfer(caller, self, value); err != nil {
			if errors.Is(err, state.ErrInsufficientBalance) {
				err = ErrInsufficientBalance
			}
			return nil, 0, err
		}
	}
	out, err = fn(f)
	return out, 0, err
}

type frame struct {
	exec    *execution
	caller  crypto.AccountID
	self    crypto.AccountID
	value   *uint256.Int
	gas     *GasMeter
	storage *meteredStorage
}

func (f *frame) Caller() crypto.AccountID { return f.caller }

func (f *frame) Self() crypto.AccountID { return f.self }

func (f *frame) TransferredValue() *uint256.Int { return new(uint256.Int).Set(f.value) }

func (f *frame) BlockTimestamp() uint64 { return f.exec.timestamp }

func (f *frame) Storage() Storage { return f.storage }

func (f *frame) GasLeft() uint64 { return f.gas.Remaining() }

func (f *frame) Logger() *slog.Logger {
	return f.exec.host.logger.With(slog.String("contract", f.self.String()))
}

func (f *frame) Emit(evt events.Event) error {
	if evt == nil {
		return nil
	}
	if err := f.gas.Consume(GasEvent, "event"); err != nil {
		return err
	}
	f.exec.events = append(f.exec.events, evt)
	return nil
}

func (f *frame) Balance(addr crypto.AccountID) (*uint256.Int, error) {
	if err := f.gas.Consume(GasStorageRead, "balance"); err != nil {
		return nil, err
	}
	return f.exec.host.state.Balance(addr)
}

func (f *frame) Transfer(addr crypto.AccountID, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return nil
	}
	if err := f.gas.Consume(GasValueTransfer, "value transfer"); err != nil {
		return err
	}
	if err := f.exec.host.state.Transfer(f.self, addr, amount); err != nil {
		if errors.Is(err, state.ErrInsufficientBalance) {
			return ErrInsufficientBalance
		}
		return err
	}
	return nil
}

func (f *frame) Invoke(c Call) ([]byte, error) {
	limit := f.gas.Remaining()
	if c.GasLimit != 0 && c.GasLimit < limit {
		limit = c.GasLimit
	}
	if !c.AllowReentry {
		f.exec.locks[f.self]++
		defer func() { f.exec.locks[f.self]-- }()
	}
	out, used, err := f.exec.call(f.self, c, limit)
	if chargeErr := f.gas.Consume(used, "nested call"); chargeErr != nil && err == nil {
		err = chargeErr
	}
	if p, ok := err.(*persistedError); ok {
		err = p.err
	}
	return out, err
}

type meteredStorage struct {
	view *state.View
	gas  *GasMeter
}

func (s *meteredStorage) KVGet(key []byte, out interface{}) (bool, error) {
	if err := s.gas.Consume(GasStorageRead, "storage read"); err != nil {
		return false, err
	}
	return s.view.KVGet(key, out)
}

func (s *meteredStorage) KVPut(key []byte, value interface{}) error {
	if err := s.gas.Consume(GasStorageWrite, "storage write"); err != nil {
		return err
	}
	return s.view.KVPut(key, value)
}

func (s *meteredStorage) KVDelete(key []byte) error {
	if err := s.gas.Consume(GasStorageWrite, "storage write"); err != nil {
		return err
	}
	return s.view.KVDelete(key)
}
