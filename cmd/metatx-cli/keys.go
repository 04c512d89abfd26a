package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"metatx/cmd/internal/passphrase"
	"metatx/config"
	"metatx/crypto"
	"metatx/rpc"
)

func keystorePassphrase() (string, error) {
	return passphrase.NewSource(keystorePassEnv, "keystore").Get()
}

func loadKey(path string) (*crypto.PrivateKey, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("keystore path required (--key)")
	}
	pass, err := keystorePassphrase()
	if err != nil {
		return nil, err
	}
	key, err := crypto.LoadFromKeystore(path, pass)
	if err != nil {
		return nil, fmt.Errorf("load keystore %s: %w", path, err)
	}
	return key, nil
}

func keygenCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "keygen <keystore>",
		Short: "Generate a secp256k1 key and write it to an encrypted keystore",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; pass --force to overwrite", path)
			}
			pass, err := keystorePassphrase()
			if err != nil {
				return err
			}
			key, err := crypto.GeneratePrivateKey()
			if err != nil {
				return err
			}
			if err := crypto.SaveToKeystore(path, key, pass); err != nil {
				return err
			}
			return printOutput(cmd.OutOrStdout(), map[string]string{
				"keystore": path,
				"account":  key.AccountID().String(),
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing keystore")
	return cmd
}

func addressCmd() *cobra.Command {
	var keyPath string
	cmd := &cobra.Command{
		Use:   "address [label]",
		Short: "Print the account of a keystore or the address of a contract label",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				return printOutput(cmd.OutOrStdout(), rpc.AddressResult{Address: crypto.ContractAddress(args[0]).String()})
			}
			key, err := loadKey(keyPath)
			if err != nil {
				return err
			}
			id := key.AccountID()
			return printOutput(cmd.OutOrStdout(), map[string]string{"account": id.String(), "hex": id.Hex()})
		},
	}
	cmd.Flags().StringVar(&keyPath, "key", "", "keystore path")
	return cmd
}

func tokenCmd() *cobra.Command {
	var (
		secretEnv string
		issuer    string
		audience  string
		subject   string
		scopes    []string
		ttl       time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an HS256 bearer token for the JSON-RPC server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			secret := os.Getenv(secretEnv)
			if strings.TrimSpace(secret) == "" {
				return fmt.Errorf("%s is not set", secretEnv)
			}
			token, err := rpc.IssueToken(secret, issuer, audience, subject, scopes, ttl, time.Now())
			if err != nil {
				return err
			}
			return printOutput(cmd.OutOrStdout(), map[string]string{
				"token":     token,
				"expiresAt": time.Now().Add(ttl).UTC().Format(time.RFC3339),
			})
		},
	}
	cmd.Flags().StringVar(&secretEnv, "secret-env", config.DefaultJWTSecretEnv, "environment variable holding the HMAC secret")
	cmd.Flags().StringVar(&issuer, "issuer", config.DefaultJWTIssuer, "token issuer")
	cmd.Flags().StringVar(&audience, "audience", "", "token audience")
	cmd.Flags().StringVar(&subject, "subject", "operator", "token subject")
	cmd.Flags().StringSliceVar(&scopes, "scope", []string{rpc.ScopeRelay}, "granted scopes (relay, admin)")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}
