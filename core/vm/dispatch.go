package vm

import (
	"fmt"

	"metatx/core/types"
)

// Handler implements a single contract message.
type Handler func(env Env, input []byte) ([]byte, error)

// Methods maps selectors to handlers and is the usual way native contracts
// implement Contract.Call.
type Methods map[types.Selector]Handler

// Dispatch runs the handler registered for selector.
func (m Methods) Dispatch(env Env, selector types.Selector, input []byte) ([]byte, error) {
	handler, ok := m[selector]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSelector, selector)
	}
	return handler(env, input)
}

// Merge adds every handler of other that is not already registered.
func (m Methods) Merge(other Methods) Methods {
	for sel, h := range other {
		if _, exists := m[sel]; !exists {
			m[sel] = h
		}
	}
	return m
}

// Call implements Contract so that a Methods table can be deployed directly.
func (m Methods) Call(env Env, selector types.Selector, input []byte) ([]byte, error) {
	return m.Dispatch(env, selector, input)
}
