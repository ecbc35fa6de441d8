// Command firma-offline is the air-gapped signing role's entrypoint:
// key generation, PSBT inspection, and PSBT signing. It never opens a
// network connection — everything it touches lives on the local datadir.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/firma-toolchain/firma/internal/fctx"
)

var (
	datadirFlag  string
	networkFlag  string
	logLevelFlag string
)

var rootCmd = &cobra.Command{
	Use:   "firma-offline",
	Short: "Air-gapped key generation, PSBT inspection, and PSBT signing",
	Long: `firma-offline is the signing role of the firma multisig toolchain.
It generates extended key material, inspects PSBTs with the same privacy
heuristics the online role uses, and signs PSBTs against a wallet
descriptor carried across the air gap. It never performs network I/O.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&datadirFlag, "firma-datadir", "~/.firma", "Directory holding this role's MasterKey/Wallet/PSBT artifacts")
	rootCmd.PersistentFlags().StringVar(&networkFlag, "network", "mainnet", "Bitcoin network: mainnet, testnet, regtest, or signet")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "warn", "Log level: trace, debug, info, warn, error")

	rootCmd.AddCommand(randomCmd)
	rootCmd.AddCommand(diceCmd)
	rootCmd.AddCommand(mnemonicCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(qrCmd)
	rootCmd.AddCommand(signCmd)
	rootCmd.AddCommand(printCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newContext builds the explicit Context (spec.md §9) shared by every
// subcommand from the persistent flags, with no wallet name: the offline
// role has no concept of "the active wallet", only key names and PSBT ids.
func newContext() *fctx.Context {
	return fctx.New(datadirFlag, networkFlag, "", logLevelFlag)
}

// emit writes v to stdout as pretty JSON, the machine-readable success
// contract of spec.md §6.
func emit(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
