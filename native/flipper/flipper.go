package flipper

import (
	"fmt"
	"log/slog"

	"metatx/core/events"
	"metatx/core/types"
	"metatx/core/vm"
	"metatx/crypto"
	"metatx/native/access"
	"metatx/native/metatx"
)

// Message selectors.
var (
	SelectorFlip            = types.SelectorFromLabel("flip")
	SelectorFlipMetaContext = types.SelectorFromLabel("flip_meta_context")
	SelectorGet             = types.SelectorFromLabel("get")
)

var valueKey = []byte("flipper/value")

// Flipper stores a single boolean. It accepts flips relayed through its
// trusted forwarder and records the effective caller of each flip.
type Flipper struct {
	access  *access.Control
	meta    *metatx.Context
	methods vm.Methods
}

// New returns a flipper contract.
func New() *Flipper {
	ctl := access.New()
	f := &Flipper{access: ctl, meta: metatx.New(ctl)}
	f.methods = vm.Methods{
		SelectorFlip: func(env vm.Env, _ []byte) ([]byte, error) {
			return nil, f.Flip(env, env.Caller())
		},
		SelectorFlipMetaContext: func(env vm.Env, input []byte) ([]byte, error) {
			data, err := types.NewScaleReader(input).ReadBytes()
			if err != nil {
				return nil, fmt.Errorf("%w: data: %v", vm.ErrInvalidInput, err)
			}
			return nil, f.FlipMetaContext(env, data)
		},
		SelectorGet: func(env vm.Env, _ []byte) ([]byte, error) {
			value, err := f.Get(env)
			if err != nil {
				return nil, err
			}
			w := types.NewScaleWriter(1)
			w.WriteBool(value)
			return w.Bytes(), nil
		},
	}.Merge(f.meta.Methods()).Merge(ctl.Methods())
	return f
}

// EncodeConstructor encodes the (trustedForwarder, initValue) constructor
// arguments.
func EncodeConstructor(trustedForwarder crypto.AccountID, initValue bool) []byte {
	w := types.NewScaleWriter(crypto.AccountIDLength + 1)
	w.WriteFixed(trustedForwarder[:])
	w.WriteBool(initValue)
	return w.Bytes()
}

// EncodeFlipMetaContext encodes the flip_meta_context argument.
func EncodeFlipMetaContext(data []byte) []byte {
	w := types.NewScaleWriter(len(data) + 5)
	w.WriteBytes(data)
	return w.Bytes()
}

// Construct makes the deployer admin, trusts the given forwarder and stores
// the initial value.
func (f *Flipper) Construct(env vm.Env, input []byte) error {
	r := types.NewScaleReader(input)
	raw, err := r.ReadFixed(crypto.AccountIDLength)
	if err != nil {
		return fmt.Errorf("%w: trusted forwarder: %v", vm.ErrInvalidInput, err)
	}
	initValue, err := r.ReadBool()
	if err != nil {
		return fmt.Errorf("%w: init value: %v", vm.ErrInvalidInput, err)
	}
	if err := r.Done(); err != nil {
		return fmt.Errorf("%w: %v", vm.ErrInvalidInput, err)
	}
	forwarder, _ := crypto.AccountIDFromBytes(raw)

	if err := f.access.InitWithAdmin(env, env.Caller()); err != nil {
		return err
	}
	if err := f.meta.SetTrustedForwarder(env, forwarder); err != nil {
		return err
	}
	return env.Storage().KVPut(valueKey, initValue)
}

// Call implements vm.Contract.
func (f *Flipper) Call(env vm.Env, selector types.Selector, input []byte) ([]byte, error) {
	return f.methods.Dispatch(env, selector, input)
}

// Get returns the stored value.
func (f *Flipper) Get(env vm.Env) (bool, error) {
	var value bool
	if _, err := env.Storage().KVGet(valueKey, &value); err != nil {
		return false, err
	}
	return value, nil
}

// Flip negates the stored value on behalf of caller.
func (f *Flipper) Flip(env vm.Env, caller crypto.AccountID) error {
	value, err := f.Get(env)
	if err != nil {
		return err
	}
	value = !value
	if err := env.Storage().KVPut(valueKey, value); err != nil {
		return err
	}
	return env.Emit(events.Flipped{Contract: env.Self(), Caller: caller, Value: value})
}

// FlipMetaContext flips on behalf of the effective caller resolved from data.
func (f *Flipper) FlipMetaContext(env vm.Env, data []byte) error {
	caller, err := f.meta.ResolveCaller(env, data)
	if err != nil {
		return fmt.Errorf("flipper: meta tx context: %w", err)
	}
	env.Logger().Debug("flip called", slog.String("caller", caller.String()))
	return f.Flip(env, caller)
}
