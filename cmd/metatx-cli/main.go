package main

import (
	"os"

	"github.com/spf13/cobra"

	"metatx/observability/logging"
)

const (
	defaultRPCEndpoint = "http://127.0.0.1:8545"
	rpcTokenEnv        = "METATX_RPC_TOKEN"
	keystorePassEnv    = "METATX_KEYSTORE_PASS"
)

var (
	rpcEndpoint  string
	rpcToken     string
	outputFormat string
	logLevel     string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "metatx-cli",
		Short:         "Sign, verify and relay meta-transaction envelopes",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if _, _, err := logging.Setup("metatx-cli", logging.Options{Level: logLevel, Output: cmd.ErrOrStderr()}); err != nil {
				return err
			}
			if rpcToken == "" {
				rpcToken = os.Getenv(rpcTokenEnv)
			}
			return validateOutput(outputFormat)
		},
	}
	root.PersistentFlags().StringVar(&rpcEndpoint, "rpc", defaultRPCEndpoint, "JSON-RPC endpoint of metatxd")
	root.PersistentFlags().StringVar(&rpcToken, "token", "", "bearer token for privileged calls (default $"+rpcTokenEnv+")")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level written to stderr")
	root.PersistentFlags().StringVarP(&outputFormat, "output", "o", "json", "output format: json or yaml")

	root.AddCommand(
		keygenCmd(),
		addressCmd(),
		tokenCmd(),
		nonceCmd(),
		signCmd(),
		verifyCmd(),
		relayCmd(),
		forwarderCmd(),
		flipperCmd(),
		registryCmd(),
		balanceCmd(),
	)
	return root
}
