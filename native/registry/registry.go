package registry

import (
	"errors"
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
	SelectorRegister   = types.SelectorFromLabel("register")
	SelectorUnregister = types.SelectorFromLabel("unregister")
	SelectorGetName    = types.SelectorFromLabel("get_name")
	SelectorGetOwner   = types.SelectorFromLabel("get_owner")
)

var (
	// ErrNameTaken is returned when registering a name owned by another account.
	ErrNameTaken = errors.New("registry: name taken")
	// ErrAlreadyRegistered is returned when the caller already owns a name.
	ErrAlreadyRegistered = errors.New("registry: already registered")
	// ErrNameNotRegistered is returned when unregistering without a name.
	ErrNameNotRegistered = errors.New("registry: name not registered")
)

var (
	namePrefix  = []byte("registry/name/")
	ownerPrefix = []byte("registry/owner/")
)

func nameKey(account crypto.AccountID) []byte {
	return append(append([]byte{}, namePrefix...), account[:]...)
}

func ownerKey(name string) []byte {
	return append(append([]byte{}, ownerPrefix...), name...)
}

// Registry maps accounts to unique names. Each account owns at most one name.
type Registry struct {
	access  *access.Control
	meta    *metatx.Context
	methods vm.Methods
}

// New returns a registry contract.
func New() *Registry {
	ctl := access.New()
	reg := &Registry{access: ctl, meta: metatx.New(ctl)}
	reg.methods = vm.Methods{
		SelectorRegister: func(env vm.Env, input []byte) ([]byte, error) {
			r := types.NewScaleReader(input)
			name, err := r.ReadString()
			if err != nil {
				return nil, fmt.Errorf("%w: name: %v", vm.ErrInvalidInput, err)
			}
			data, err := r.ReadBytes()
			if err != nil {
				return nil, fmt.Errorf("%w: data: %v", vm.ErrInvalidInput, err)
			}
			return nil, reg.Register(env, name, data)
		},
		SelectorUnregister: func(env vm.Env, input []byte) ([]byte, error) {
			data, err := types.NewScaleReader(input).ReadBytes()
			if err != nil {
				return nil, fmt.Errorf("%w: data: %v", vm.ErrInvalidInput, err)
			}
			return nil, reg.Unregister(env, data)
		},
		SelectorGetName: func(env vm.Env, input []byte) ([]byte, error) {
			account, err := crypto.AccountIDFromBytes(input)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", vm.ErrInvalidInput, err)
			}
			name, ok, err := reg.NameOf(env, account)
			if err != nil {
				return nil, err
			}
			return EncodeOptionalString(name, ok), nil
		},
		SelectorGetOwner: func(env vm.Env, input []byte) ([]byte, error) {
			name, err := types.NewScaleReader(input).ReadString()
			if err != nil {
				return nil, fmt.Errorf("%w: name: %v", vm.ErrInvalidInput, err)
			}
			owner, ok, err := reg.OwnerOf(env, name)
			if err != nil {
				return nil, err
			}
			return metatx.EncodeOptionalAccount(owner, ok), nil
		},
	}.Merge(reg.meta.Methods()).Merge(ctl.Methods())
	return reg
}

// Construct makes the deployer admin and trusts the given forwarder.
func (reg *Registry) Construct(env vm.Env, input []byte) error {
	forwarder, err := crypto.AccountIDFromBytes(input)
	if err != nil {
		return fmt.Errorf("%w: trusted forwarder: %v", vm.ErrInvalidInput, err)
	}
	if err := reg.access.InitWithAdmin(env, env.Caller()); err != nil {
		return err
	}
	return reg.meta.SetTrustedForwarder(env, forwarder)
}

// Call implements vm.Contract.
func (reg *Registry) Call(env vm.Env, selector types.Selector, input []byte) ([]byte, error) {
	return reg.methods.Dispatch(env, selector, input)
}

// Register assigns name to the effective caller resolved from data.
func (reg *Registry) Register(env vm.Env, name string, data []byte) error {
	if _, taken, err := reg.OwnerOf(env, name); err != nil {
		return err
	} else if taken {
		return ErrNameTaken
	}
	caller, err := reg.meta.ResolveCaller(env, data)
	if err != nil {
		return fmt.Errorf("registry: meta tx context: %w", err)
	}
	if _, registered, err := reg.NameOf(env, caller); err != nil {
		return err
	} else if registered {
		return ErrAlreadyRegistered
	}
	if err := env.Storage().KVPut(nameKey(caller), name); err != nil {
		return err
	}
	if err := env.Storage().KVPut(ownerKey(name), caller.Bytes()); err != nil {
		return err
	}
	env.Logger().Debug("name registered", slog.String("name", name), slog.String("owner", caller.String()))
	return env.Emit(events.NameRegistered{Contract: env.Self(), Owner: caller, Name: name})
}

// Unregister releases the name of the effective caller resolved from data.
func (reg *Registry) Unregister(env vm.Env, data []byte) error {
	caller, err := reg.meta.ResolveCaller(env, data)
	if err != nil {
		return fmt.Errorf("registry: meta tx context: %w", err)
	}
	name, ok, err := reg.NameOf(env, caller)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNameNotRegistered
	}
	if err := env.Storage().KVDelete(nameKey(caller)); err != nil {
		return err
	}
	if err := env.Storage().KVDelete(ownerKey(name)); err != nil {
		return err
	}
	return env.Emit(events.NameUnregistered{Contract: env.Self(), Owner: caller, Name: name})
}

// NameOf returns the name owned by account.
func (reg *Registry) NameOf(env vm.Env, account crypto.AccountID) (string, bool, error) {
	var name string
	ok, err := env.Storage().KVGet(nameKey(account), &name)
	if err != nil {
		return "", false, err
	}
	return name, ok, nil
}

// OwnerOf returns the account owning name.
func (reg *Registry) OwnerOf(env vm.Env, name string) (crypto.AccountID, bool, error) {
	var raw []byte
	ok, err := env.Storage().KVGet(ownerKey(name), &raw)
	if err != nil || !ok {
		return crypto.AccountID{}, false, err
	}
	owner, err := crypto.AccountIDFromBytes(raw)
	if err != nil {
		return crypto.AccountID{}, false, err
	}
	return owner, true, nil
}
