package main

import (
	"github.com/spf13/cobra"

	"github.com/firma-toolchain/firma/internal/keymat"
	"github.com/firma-toolchain/firma/internal/pathresolver"
	"github.com/firma-toolchain/firma/internal/psbtprint"
	"github.com/firma-toolchain/firma/internal/psbtrecord"
	"github.com/firma-toolchain/firma/internal/psbtsign"
	"github.com/firma-toolchain/firma/internal/walletmodel"
)

var (
	psbtIDFlag               string
	signKeyNameFlag          string
	signWalletFlag           string
	signTotalDerivationsFlag int
)

var signCmd = &cobra.Command{
	Use:   "sign",
	Short: "Sign a PSBT with a local master key",
	Long: `This command loads the private key artifact named --key-name,
validates its fingerprint against the wallet descriptor named --wallet,
and attaches partial signatures for every input that key can claim in
the PSBT record --psbt-id. It refuses to run against a public-only key
artifact and refuses to re-sign an input this key has already
contributed a signature to. The pretty-print/privacy view is returned
alongside the signed PSBT so the operator sees it before trusting the
result.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := newContext()

		psbtPath, err := ctx.PSBTPath(psbtIDFlag)
		if err != nil {
			return err
		}
		record, err := psbtrecord.Load(psbtPath)
		if err != nil {
			return err
		}
		packet, err := record.Packet()
		if err != nil {
			return err
		}

		privPath, err := ctx.PrivateKeyPath(signKeyNameFlag)
		if err != nil {
			return err
		}
		priv, err := keymat.LoadPrivate(privPath)
		if err != nil {
			return err
		}

		walletPath, err := descriptorPath(signWalletFlag)
		if err != nil {
			return err
		}
		wallet, err := walletmodel.Load(walletPath)
		if err != nil {
			return err
		}

		params, err := keymat.Params(wallet.Network)
		if err != nil {
			return err
		}

		result, err := psbtsign.Sign(packet, priv, wallet, signTotalDerivationsFlag, params)
		if err != nil {
			return err
		}

		record.PSBT, err = psbtrecord.Encode(result.PSBT)
		if err != nil {
			return err
		}
		if err := psbtrecord.Save(psbtPath, record); err != nil {
			return err
		}

		return emit(result.PrettyPrint)
	},
}

var printWalletFlag string

var printCmd = &cobra.Command{
	Use:   "print",
	Short: "Pretty-print a PSBT and surface its privacy analysis",
	Long: `This command renders the PSBT record --psbt-id into the
canonical per-input/per-output view of spec.md §4.7 and runs the four
privacy heuristics (different script types, round numbers, unnecessary
inputs, address reuse) against it, without signing anything.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := newContext()

		psbtPath, err := ctx.PSBTPath(psbtIDFlag)
		if err != nil {
			return err
		}
		record, err := psbtrecord.Load(psbtPath)
		if err != nil {
			return err
		}
		packet, err := record.Packet()
		if err != nil {
			return err
		}

		walletPath, err := descriptorPath(printWalletFlag)
		if err != nil {
			return err
		}
		wallet, err := walletmodel.Load(walletPath)
		if err != nil {
			return err
		}

		params, err := keymat.Params(wallet.Network)
		if err != nil {
			return err
		}

		result, err := psbtprint.PrettyPrint(packet, params, wallet.Fingerprints, wallet.Threshold)
		if err != nil {
			return err
		}
		return emit(result)
	},
}

func init() {
	for _, cmd := range []*cobra.Command{signCmd, printCmd} {
		cmd.Flags().StringVar(&psbtIDFlag, "psbt-id", "", "Id of the PSBT record to operate on")
		cmd.MarkFlagRequired("psbt-id")
	}

	signCmd.Flags().StringVar(&signKeyNameFlag, "key-name", "", "Name of the private key to sign with")
	signCmd.Flags().StringVar(&signWalletFlag, "wallet", "", "Name of the wallet descriptor to validate against")
	signCmd.Flags().IntVar(&signTotalDerivationsFlag, "total-derivations", psbtsign.DefaultTotalDerivations, "Derivation indices scanned per chain")
	signCmd.MarkFlagRequired("key-name")
	signCmd.MarkFlagRequired("wallet")

	printCmd.Flags().StringVar(&printWalletFlag, "wallet", "", "Name of the wallet descriptor to render against")
	printCmd.MarkFlagRequired("wallet")
}

// descriptorPath resolves a wallet descriptor path by name. The offline
// role has no notion of "the active wallet" (fctx.Context.WalletName is
// online-side state), so sign/print take --wallet explicitly instead of
// going through ctx.WalletDescriptorPath.
func descriptorPath(walletName string) (string, error) {
	return pathresolver.File(datadirFlag, networkFlag, pathresolver.Wallet, walletName, "descriptor.json")
}
