package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"metatx/core/types"
	"metatx/crypto"
	"metatx/rpc"
)

// resolveAccount accepts a contract label or an account id.
func resolveAccount(value string) (crypto.AccountID, error) {
	value = strings.TrimSpace(value)
	switch value {
	case "":
		return crypto.AccountID{}, errors.New("account required")
	case "forwarder", "flipper", "registry":
		return crypto.ContractAddress(value), nil
	}
	return crypto.DecodeAccountID(value)
}

// resolveSelector accepts a 0x hex selector or a message label.
func resolveSelector(value string) (types.Selector, error) {
	value = strings.TrimSpace(value)
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return types.ParseSelector(value)
	}
	if value == "" {
		return types.Selector{}, errors.New("selector required")
	}
	return types.SelectorFromLabel(value), nil
}

func fetchNonce(ctx context.Context, signer crypto.AccountID) (string, error) {
	raw, err := callRPC(ctx, "forwarder_getNonce", false, rpc.SignerParams{Signer: signer.String()})
	if err != nil {
		return "", err
	}
	var result rpc.NonceResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", err
	}
	return result.Nonce, nil
}

func signCmd() *cobra.Command {
	var (
		keyPath      string
		callee       string
		selector     string
		input        string
		value        string
		gasLimit     uint64
		allowReentry bool
		nonce        string
		ttl          time.Duration
	)
	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Build and sign an envelope for a nested call",
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := loadKey(keyPath)
			if err != nil {
				return err
			}
			calleeID, err := resolveAccount(callee)
			if err != nil {
				return fmt.Errorf("callee: %w", err)
			}
			sel, err := resolveSelector(selector)
			if err != nil {
				return err
			}
			inputBytes, err := types.DecodeHexBytes(input)
			if err != nil {
				return fmt.Errorf("input: %w", err)
			}
			amount, err := types.ParseUint128(value)
			if err != nil {
				return fmt.Errorf("value: %w", err)
			}
			if nonce == "" {
				if nonce, err = fetchNonce(cmd.Context(), key.AccountID()); err != nil {
					return fmt.Errorf("fetch nonce: %w", err)
				}
			}
			nonceValue, err := types.ParseUint128(nonce)
			if err != nil {
				return fmt.Errorf("nonce: %w", err)
			}
			if ttl <= 0 {
				return errors.New("ttl must be positive")
			}

			env := &types.Envelope{
				From:             key.AccountID(),
				Callee:           calleeID,
				Selector:         sel,
				Input:            inputBytes,
				TransferredValue: amount,
				GasLimit:         gasLimit,
				AllowReentry:     allowReentry,
				Nonce:            nonceValue,
				Expiration:       uint64(time.Now().Add(ttl).UnixMilli()),
			}
			sig, err := env.Sign(key)
			if err != nil {
				return err
			}
			return printOutput(cmd.OutOrStdout(), rpc.EnvelopeParams{
				Envelope:  env,
				Signature: "0x" + hex.EncodeToString(sig),
				Value:     amount.Dec(),
			})
		},
	}
	cmd.Flags().StringVar(&keyPath, "key", "", "signer keystore path")
	cmd.Flags().StringVar(&callee, "callee", "", "callee contract label or account")
	cmd.Flags().StringVar(&selector, "selector", "", "message label (e.g. flip) or 0x selector")
	cmd.Flags().StringVar(&input, "input", "", "0x hex encoded message arguments")
	cmd.Flags().StringVar(&value, "value", "0", "transferred value")
	cmd.Flags().Uint64Var(&gasLimit, "gas", 1_000_000, "gas limit of the nested call")
	cmd.Flags().BoolVar(&allowReentry, "allow-reentry", false, "allow the callee to call back into the forwarder")
	cmd.Flags().StringVar(&nonce, "nonce", "", "envelope nonce (default: fetched from the node)")
	cmd.Flags().DurationVar(&ttl, "ttl", 10*time.Minute, "validity window")
	_ = cmd.MarkFlagRequired("callee")
	_ = cmd.MarkFlagRequired("selector")
	return cmd
}

// readSigned loads the output of `sign` from path, or stdin when path is "-".
func readSigned(path string) (*rpc.EnvelopeParams, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, err
	}
	var params rpc.EnvelopeParams
	if err := json.Unmarshal(data, &params); err != nil {
		return nil, fmt.Errorf("decode signed envelope: %w", err)
	}
	if params.Envelope == nil {
		return nil, errors.New("signed envelope missing envelope field")
	}
	return &params, nil
}

func verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <signed.json|->",
		Short: "Check a signed envelope against the forwarder without executing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := readSigned(args[0])
			if err != nil {
				return err
			}
			raw, err := callRPC(cmd.Context(), "forwarder_verify", false, params)
			if err != nil {
				return err
			}
			return printOutput(cmd.OutOrStdout(), raw)
		},
	}
}

func relayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "relay <signed.json|->",
		Short: "Submit a signed envelope through the node's relayer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := readSigned(args[0])
			if err != nil {
				return err
			}
			raw, err := callRPC(cmd.Context(), "forwarder_execute", true, params)
			if err != nil {
				return err
			}
			return printOutput(cmd.OutOrStdout(), raw)
		},
	}
}
