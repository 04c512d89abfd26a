package main

import (
	"github.com/spf13/cobra"

	"metatx/rpc"
)

// queryCmd wraps a read-only RPC method taking a single parameter object.
func queryCmd(use, short, method string, args cobra.PositionalArgs, params func([]string) (interface{}, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			var rpcParams []interface{}
			if params != nil {
				p, err := params(args)
				if err != nil {
					return err
				}
				rpcParams = append(rpcParams, p)
			}
			raw, err := callRPC(cmd.Context(), method, false, rpcParams...)
			if err != nil {
				return err
			}
			return printOutput(cmd.OutOrStdout(), raw)
		},
	}
}

func nonceCmd() *cobra.Command {
	return queryCmd("nonce <account>", "Show the next expected nonce of a signer", "forwarder_getNonce", cobra.ExactArgs(1),
		func(args []string) (interface{}, error) {
			id, err := resolveAccount(args[0])
			if err != nil {
				return nil, err
			}
			return rpc.SignerParams{Signer: id.String()}, nil
		})
}

func balanceCmd() *cobra.Command {
	return queryCmd("balance <account>", "Show an account balance", "account_balance", cobra.ExactArgs(1),
		func(args []string) (interface{}, error) {
			id, err := resolveAccount(args[0])
			if err != nil {
				return nil, err
			}
			return rpc.AccountParams{Account: id.String()}, nil
		})
}

func forwarderCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "forwarder",
		Short: "Inspect the forwarder and the trusted forwarder of consumer contracts",
	}
	history := queryCmd("history <signer>", "List envelopes executed for a signer", "forwarder_listExecuted", cobra.ExactArgs(1),
		func(args []string) (interface{}, error) {
			id, err := resolveAccount(args[0])
			if err != nil {
				return nil, err
			}
			return rpc.SignerParams{Signer: id.String(), Limit: limit}, nil
		})
	history.Flags().IntVar(&limit, "limit", 0, "maximum rows (server default when 0)")

	set := &cobra.Command{
		Use:   "set <contract> <forwarder>",
		Short: "Replace the trusted forwarder of a consumer contract (admin scope)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fwd, err := resolveAccount(args[1])
			if err != nil {
				return err
			}
			raw, err := callRPC(cmd.Context(), "metatx_setTrustedForwarder", true,
				rpc.ContractParams{Contract: args[0], Forwarder: fwd.String()})
			if err != nil {
				return err
			}
			return printOutput(cmd.OutOrStdout(), raw)
		},
	}

	cmd.AddCommand(
		queryCmd("address", "Show the forwarder address", "forwarder_address", cobra.NoArgs, nil),
		queryCmd("get <contract>", "Show the trusted forwarder of a consumer contract", "metatx_getTrustedForwarder", cobra.ExactArgs(1),
			func(args []string) (interface{}, error) {
				return rpc.ContractParams{Contract: args[0]}, nil
			}),
		set,
		history,
	)
	return cmd
}

func flipperCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "flipper", Short: "Query the flipper contract"}
	cmd.AddCommand(queryCmd("get", "Show the flipper value", "flipper_get", cobra.NoArgs, nil))
	return cmd
}

func registryCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "registry", Short: "Query the name registry"}
	cmd.AddCommand(
		queryCmd("name <account>", "Show the name registered by an account", "registry_getName", cobra.ExactArgs(1),
			func(args []string) (interface{}, error) {
				id, err := resolveAccount(args[0])
				if err != nil {
					return nil, err
				}
				return rpc.AccountParams{Account: id.String()}, nil
			}),
		queryCmd("owner <name>", "Show the owner of a name", "registry_getOwner", cobra.ExactArgs(1),
			func(args []string) (interface{}, error) {
				return rpc.NameParams{Name: args[0]}, nil
			}),
	)
	return cmd
}
