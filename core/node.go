package core

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"metatx/config"
	"metatx/core/events"
	"metatx/core/state"
	"metatx/core/types"
	"metatx/core/vm"
	"metatx/crypto"
	"metatx/native/flipper"
	"metatx/native/forwarder"
	"metatx/native/metatx"
	"metatx/native/registry"
	"metatx/observability"
	telemetry "metatx/observability/otel"
	"metatx/storage"
)

// Node is the central controller. It owns the state, the execution host and
// the deployed contracts, and serialises every operation.
type Node struct {
	mu      sync.Mutex
	host    *vm.Host
	emitter events.Emitter
	logger  *slog.Logger
	now     func() time.Time
	tracer  trace.Tracer

	forwarder crypto.AccountID
	flipper   crypto.AccountID
	registry  crypto.AccountID

	fwd  *forwarder.Forwarder
	flip *flipper.Flipper
	reg  *registry.Registry
}

// Option configures a Node.
type Option func(*Node)

// WithEmitter receives the events of committed transactions.
func WithEmitter(emitter events.Emitter) Option {
	return func(n *Node) {
		if emitter != nil {
			n.emitter = emitter
		}
	}
}

// WithClock overrides the clock used for block timestamps.
func WithClock(now func() time.Time) Option {
	return func(n *Node) {
		if now != nil {
			n.now = now
		}
	}
}

// WithLogger overrides the node logger.
func WithLogger(logger *slog.Logger) Option {
	return func(n *Node) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// ExecuteResult describes a relayed envelope that reached the forwarder.
type ExecuteResult struct {
	Digest  [crypto.HashLength]byte
	GasUsed uint64
	// NonceConsumed reports whether the signer's nonce advanced. It is true on
	// success and when the nested call failed.
	NonceConsumed bool
	Timestamp     uint64
	Events        []events.Event
}

// NewNode opens the state in db, deploys the forwarder and the consumer
// contracts and applies gen when the database is fresh.
func NewNode(db storage.Database, gen config.ParsedGenesis, opts ...Option) (*Node, error) {
	if db == nil {
		return nil, fmt.Errorf("core: nil database")
	}
	n := &Node{
		emitter:   events.NoopEmitter{},
		logger:    slog.Default().With(slog.String("component", "node")),
		now:       time.Now,
		tracer:    telemetry.Tracer(),
		forwarder: crypto.ContractAddress(LabelForwarder),
		flipper:   crypto.ContractAddress(LabelFlipper),
		registry:  crypto.ContractAddress(LabelRegistry),
		fwd:       forwarder.New(),
		flip:      flipper.New(),
		reg:       registry.New(),
	}
	for _, opt := range opts {
		opt(n)
	}
	n.host = vm.NewHost(state.NewManager(db),
		vm.WithLogger(n.logger.With(slog.String("component", "vm"))),
		vm.WithClock(n.now))

	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.deploy(context.Background(), gen); err != nil {
		return nil, err
	}
	return n, nil
}

func (n *Node) contracts() map[string]vm.Contract {
	return map[string]vm.Contract{
		LabelForwarder: n.fwd,
		LabelFlipper:   n.flip,
		LabelRegistry:  n.reg,
	}
}

// ForwarderAddress returns the address of the forwarder contract.
func (n *Node) ForwarderAddress() crypto.AccountID { return n.forwarder }

// ContractAddress resolves a contract label to its address.
func (n *Node) ContractAddress(label string) (crypto.AccountID, error) {
	switch label {
	case LabelForwarder:
		return n.forwarder, nil
	case LabelFlipper:
		return n.flipper, nil
	case LabelRegistry:
		return n.registry, nil
	}
	return crypto.AccountID{}, fmt.Errorf("%w: %q", ErrUnknownContract, label)
}

func (n *Node) isConsumer(addr crypto.AccountID) bool {
	return addr == n.flipper || addr == n.registry
}

// transact executes msg, commits the resulting state and hands the events
// to the emitter. Callers hold n.mu.
func (n *Node) transact(ctx context.Context, msg vm.Message) (*vm.Receipt, error) {
	receipt, err := n.host.Transact(ctx, msg)
	if err != nil {
		n.host.State().Discard()
		return nil, err
	}
	if err := n.host.State().Commit(); err != nil {
		n.host.State().Discard()
		return nil, fmt.Errorf("core: commit: %w", err)
	}
	for _, evt := range receipt.Events {
		n.emitter.Emit(evt)
	}
	return receipt, nil
}

func (n *Node) query(ctx context.Context, to crypto.AccountID, selector types.Selector, input []byte) ([]byte, error) {
	receipt, err := n.host.Query(ctx, vm.Message{To: to, Selector: selector, Input: input})
	if err != nil {
		return nil, err
	}
	if receipt.Err != nil {
		return nil, receipt.Err
	}
	return receipt.Output, nil
}

// Nonce returns the next nonce the forwarder expects from signer.
func (n *Node) Nonce(ctx context.Context, signer crypto.AccountID) (*uint256.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	out, err := n.query(ctx, n.forwarder, forwarder.SelectorGetNonce, forwarder.EncodeGetNonce(signer))
	if err != nil {
		return nil, err
	}
	return forwarder.DecodeNonce(out)
}

// Verify checks an envelope and signature against the current state without
// changing it.
func (n *Node) Verify(ctx context.Context, env *types.Envelope, sig []byte) error {
	input, err := forwarder.EncodeEnvelopeCall(env, sig)
	if err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	_, err = n.query(ctx, n.forwarder, forwarder.SelectorVerify, input)
	return err
}

// Execute submits env on behalf of relayer with value attached. The result is
// non-nil whenever the forwarder ran, including failures, so callers can tell
// whether the nonce was consumed. The returned error is the execution error.
func (n *Node) Execute(ctx context.Context, relayer crypto.AccountID, env *types.Envelope, sig []byte, value *uint256.Int) (*ExecuteResult, error) {
	started := time.Now()
	ctx, span := n.tracer.Start(ctx, "forwarder.execute", trace.WithAttributes(
		attribute.String("relayer", relayer.String()),
	))
	defer span.End()

	result, err := n.execute(ctx, relayer, env, sig, value)

	kind := ErrorKind(err)
	outcome := "success"
	if kind != "" {
		outcome = kind
		span.RecordError(err)
		span.SetStatus(codes.Error, kind)
	}
	var gasUsed uint64
	consumed := false
	if result != nil {
		gasUsed = result.GasUsed
		consumed = result.NonceConsumed
		span.SetAttributes(
			attribute.String("digest", "0x"+hex.EncodeToString(result.Digest[:])),
			attribute.Int64("gas_used", int64(result.GasUsed)),
			attribute.Bool("nonce_consumed", result.NonceConsumed),
		)
	}
	observability.Forwarder().RecordExecution(outcome, consumed, gasUsed, time.Since(started))
	return result, err
}

func (n *Node) execute(ctx context.Context, relayer crypto.AccountID, env *types.Envelope, sig []byte, value *uint256.Int) (*ExecuteResult, error) {
	if env == nil {
		return nil, fmt.Errorf("%w: nil envelope", forwarder.ErrMalformedCall)
	}
	digest, err := env.Digest()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", forwarder.ErrMalformedCall, err)
	}
	input, err := forwarder.EncodeEnvelopeCall(env, sig)
	if err != nil {
		return nil, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	receipt, err := n.transact(ctx, vm.Message{
		From:     relayer,
		To:       n.forwarder,
		Selector: forwarder.SelectorExecute,
		Input:    input,
		Value:    value,
	})
	if err != nil {
		return nil, err
	}
	result := &ExecuteResult{
		Digest:        digest,
		GasUsed:       receipt.GasUsed,
		NonceConsumed: receipt.Err == nil || vm.IsPersisted(receipt.Err),
		Timestamp:     receipt.Timestamp,
		Events:        receipt.Events,
	}
	logger := n.logger.With(
		slog.String("digest", "0x"+hex.EncodeToString(digest[:])),
		slog.String("signer", env.From.String()),
		slog.String("relayer", relayer.String()))
	if receipt.Err != nil {
		logger.Info("envelope rejected",
			slog.String("kind", ErrorKind(receipt.Err)),
			slog.Bool("nonceConsumed", result.NonceConsumed),
			slog.Any("error", receipt.Err))
		return result, receipt.Err
	}
	logger.Info("envelope executed", slog.Uint64("gasUsed", receipt.GasUsed))
	return result, nil
}

// TrustedForwarder returns the trusted forwarder configured on contract.
func (n *Node) TrustedForwarder(ctx context.Context, contract crypto.AccountID) (crypto.AccountID, bool, error) {
	if !n.isConsumer(contract) {
		return crypto.AccountID{}, false, fmt.Errorf("%w: %s", ErrUnknownContract, contract)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	out, err := n.query(ctx, contract, metatx.SelectorGetTrustedForwarder, nil)
	if err != nil {
		return crypto.AccountID{}, false, err
	}
	return metatx.DecodeOptionalAccount(out)
}

// SetTrustedForwarder replaces the trusted forwarder of contract. caller must
// hold the contract's admin role.
func (n *Node) SetTrustedForwarder(ctx context.Context, caller, contract, fwd crypto.AccountID) error {
	if !n.isConsumer(contract) {
		return fmt.Errorf("%w: %s", ErrUnknownContract, contract)
	}
	return n.call(ctx, caller, contract, metatx.SelectorSetTrustedForwarder, fwd.Bytes())
}

func (n *Node) call(ctx context.Context, caller, contract crypto.AccountID, selector types.Selector, input []byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	receipt, err := n.transact(ctx, vm.Message{From: caller, To: contract, Selector: selector, Input: input})
	if err != nil {
		return err
	}
	return receipt.Err
}

// Flip flips the flipper directly as caller.
func (n *Node) Flip(ctx context.Context, caller crypto.AccountID) error {
	return n.call(ctx, caller, n.flipper, flipper.SelectorFlip, nil)
}

// FlipValue returns the flipper's stored value.
func (n *Node) FlipValue(ctx context.Context) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	out, err := n.query(ctx, n.flipper, flipper.SelectorGet, nil)
	if err != nil {
		return false, err
	}
	value, err := types.NewScaleReader(out).ReadBool()
	if err != nil {
		return false, fmt.Errorf("core: decode flipper value: %w", err)
	}
	return value, nil
}

// Register registers name for caller directly on the registry.
func (n *Node) Register(ctx context.Context, caller crypto.AccountID, name string) error {
	return n.call(ctx, caller, n.registry, registry.SelectorRegister, registry.EncodeRegister(name, nil))
}

// Unregister releases the name owned by caller.
func (n *Node) Unregister(ctx context.Context, caller crypto.AccountID) error {
	return n.call(ctx, caller, n.registry, registry.SelectorUnregister, registry.EncodeUnregister(nil))
}

// NameOf returns the name registered by account.
func (n *Node) NameOf(ctx context.Context, account crypto.AccountID) (string, bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	out, err := n.query(ctx, n.registry, registry.SelectorGetName, account.Bytes())
	if err != nil {
		return "", false, err
	}
	return registry.DecodeOptionalString(out)
}

// OwnerOf returns the account that registered name.
func (n *Node) OwnerOf(ctx context.Context, name string) (crypto.AccountID, bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	out, err := n.query(ctx, n.registry, registry.SelectorGetOwner, registry.EncodeGetOwner(name))
	if err != nil {
		return crypto.AccountID{}, false, err
	}
	return metatx.DecodeOptionalAccount(out)
}

// Balance returns the native balance of account.
func (n *Node) Balance(ctx context.Context, account crypto.AccountID) (*uint256.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.host.State().Balance(account)
}
