package core

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sort"

	"metatx/config"
	"metatx/core/vm"
	"metatx/crypto"
	"metatx/native/flipper"
)

// Contract labels. Addresses are crypto.ContractAddress(label).
const (
	LabelForwarder = "forwarder"
	LabelFlipper   = "flipper"
	LabelRegistry  = "registry"
)

var genesisMarkerKey = []byte("genesis/initialized")

// deploy registers the native contracts. On a fresh database the genesis
// allocations are applied and the consumer constructors run with the admin
// as deployer; otherwise the contracts are attached to their existing
// storage.
func (n *Node) deploy(ctx context.Context, gen config.ParsedGenesis) error {
	st := n.host.State()
	initialized, err := st.KVGet(genesisMarkerKey, nil)
	if err != nil {
		return fmt.Errorf("core: read genesis marker: %w", err)
	}
	if initialized {
		for label, contract := range n.contracts() {
			if err := n.host.Deploy(crypto.ContractAddress(label), contract); err != nil {
				return err
			}
		}
		n.logger.Info("attached to existing state")
		return nil
	}

	if gen.Admin == nil {
		return ErrGenesisAdminRequired
	}
	admin := *gen.Admin

	accounts := make([]crypto.AccountID, 0, len(gen.Allocations))
	for account := range gen.Allocations {
		accounts = append(accounts, account)
	}
	sort.Slice(accounts, func(i, j int) bool {
		return bytes.Compare(accounts[i][:], accounts[j][:]) < 0
	})
	for _, account := range accounts {
		if err := st.SetBalance(account, gen.Allocations[account]); err != nil {
			st.Discard()
			return fmt.Errorf("core: allocate %s: %w", account, err)
		}
	}

	steps := []struct {
		label string
		input []byte
	}{
		{LabelForwarder, nil},
		{LabelFlipper, flipper.EncodeConstructor(n.forwarder, gen.FlipperInitValue)},
		{LabelRegistry, n.forwarder.Bytes()},
	}
	contracts := n.contracts()
	for _, step := range steps {
		if err := n.instantiate(ctx, admin, step.label, contracts[step.label], step.input); err != nil {
			st.Discard()
			return err
		}
	}

	if err := st.KVPut(genesisMarkerKey, true); err != nil {
		st.Discard()
		return err
	}
	if err := st.Commit(); err != nil {
		return fmt.Errorf("core: commit genesis: %w", err)
	}
	n.logger.Info("genesis applied",
		slog.String("admin", admin.String()),
		slog.Int("allocations", len(accounts)),
		slog.String("forwarder", n.forwarder.String()))
	return nil
}

func (n *Node) instantiate(ctx context.Context, admin crypto.AccountID, label string, contract vm.Contract, input []byte) error {
	receipt, err := n.host.Instantiate(ctx, admin, crypto.ContractAddress(label), contract, input)
	if err != nil {
		return fmt.Errorf("core: instantiate %s: %w", label, err)
	}
	if receipt.Err != nil {
		return fmt.Errorf("core: instantiate %s: %w", label, receipt.Err)
	}
	return nil
}
