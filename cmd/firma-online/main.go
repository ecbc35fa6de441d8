// Command firma-online is the coordinator role's entrypoint: descriptor
// wallet registration with a Bitcoin full node, address derivation,
// transaction construction, and broadcast. It never holds private key
// material; every operation that needs a signature hands a PSBT record
// back across the air gap instead.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/firma-toolchain/firma/internal/fctx"
	"github.com/firma-toolchain/firma/internal/node"
)

var (
	datadirFlag    string
	networkFlag    string
	walletNameFlag string
	urlFlag        string
	cookieFileFlag string
	logLevelFlag   string
)

var rootCmd = &cobra.Command{
	Use:   "firma-online",
	Short: "Descriptor-wallet coordination with a Bitcoin full node",
	Long: `firma-online is the coordinator role of the firma multisig
toolchain. It registers a multisig wallet's descriptors with a watch-only
Bitcoin Core wallet, derives addresses, constructs and broadcasts PSBTs,
and never itself holds private key material.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&datadirFlag, "firma-datadir", "~/.firma", "Directory holding this role's Wallet/PSBT artifacts")
	rootCmd.PersistentFlags().StringVar(&networkFlag, "network", "mainnet", "Bitcoin network: mainnet, testnet, regtest, or signet")
	rootCmd.PersistentFlags().StringVar(&walletNameFlag, "wallet-name", "", "Name of the active wallet")
	rootCmd.PersistentFlags().StringVar(&urlFlag, "url", "127.0.0.1:8332", "Bitcoin node RPC host:port")
	rootCmd.PersistentFlags().StringVar(&cookieFileFlag, "cookie-file", "", "Path to the node's RPC auth cookie")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "warn", "Log level: trace, debug, info, warn, error")

	rootCmd.AddCommand(createWalletCmd)
	rootCmd.AddCommand(getAddressCmd)
	rootCmd.AddCommand(balanceCmd)
	rootCmd.AddCommand(listCoinsCmd)
	rootCmd.AddCommand(createTxCmd)
	rootCmd.AddCommand(sendTxCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newContext builds the explicit Context (spec.md §9) shared by every
// subcommand from the persistent flags.
func newContext() *fctx.Context {
	return fctx.New(datadirFlag, networkFlag, walletNameFlag, logLevelFlag)
}

// connectNode dials the node RPC collaborator scoped to the active
// wallet, per spec.md §6.
func connectNode() (*node.Client, error) {
	return node.Connect(node.Config{
		Host:       urlFlag + "/wallet/" + walletNameFlag,
		CookieFile: cookieFileFlag,
		DisableTLS: true,
	})
}

// emit writes v to stdout as pretty JSON, the machine-readable success
// contract of spec.md §6.
func emit(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
