package main

import (
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/firma-toolchain/firma/internal/keymat"
	"github.com/firma-toolchain/firma/internal/psbtbuild"
	"github.com/firma-toolchain/firma/internal/walletmodel"
)

var (
	createThresholdFlag int
	createXpubsFlag     string
)

var createWalletCmd = &cobra.Command{
	Use:   "create-wallet",
	Short: "Register a multisig wallet's descriptors with the node",
	Long: `This command builds the external and change sortedmulti
descriptors for --threshold-of-N over --xpubs, registers a watch-only
descriptor wallet named --wallet-name with the node (zero rescan
window), and persists the wallet and its (0,0) indexes locally. It
refuses to run if a wallet of this name already exists on disk.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := newContext()

		xpubs := splitCSV(createXpubsFlag)
		wallet, err := walletmodel.Build(networkFlag, walletNameFlag, createThresholdFlag, xpubs, time.Now())
		if err != nil {
			return err
		}

		n, err := connectNode()
		if err != nil {
			return err
		}
		defer n.Close()

		if err := n.CreateWallet(walletNameFlag); err != nil {
			return err
		}
		if err := n.ImportDescriptors(walletNameFlag, wallet.External, wallet.Change); err != nil {
			return err
		}

		descriptorPath, err := ctx.WalletDescriptorPath()
		if err != nil {
			return err
		}
		indexesPath, err := ctx.WalletIndexesPath()
		if err != nil {
			return err
		}
		if err := walletmodel.Register(descriptorPath, indexesPath, wallet); err != nil {
			return err
		}

		return emit(wallet)
	},
}

func splitCSV(csv string) []string {
	fields := strings.Split(csv, ",")
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

var getAddressChangeFlag bool

type addressOutput struct {
	Address string `json:"address"`
	Chain   string `json:"chain"`
	Index   uint32 `json:"index"`
}

var getAddressCmd = &cobra.Command{
	Use:   "get-address",
	Short: "Derive and issue the next receiving or change address",
	Long: `This command advances the wallet's external index (or, with
--change, its change index) by one and returns the sortedmulti address
at that derivation, per spec.md §4.5. The index advance is permanent —
spec.md §8 treats "external increased by exactly 1" as an invariant of a
successful call.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := newContext()

		descriptorPath, err := ctx.WalletDescriptorPath()
		if err != nil {
			return err
		}
		wallet, err := walletmodel.Load(descriptorPath)
		if err != nil {
			return err
		}

		indexesPath, err := ctx.WalletIndexesPath()
		if err != nil {
			return err
		}

		var index uint32
		var chain uint32
		var chainName string
		if getAddressChangeFlag {
			index, err = walletmodel.NextChange(indexesPath)
			chain, chainName = psbtbuild.ChangeChain, "change"
		} else {
			index, err = walletmodel.NextExternal(indexesPath)
			chain, chainName = psbtbuild.ExternalChain, "external"
		}
		if err != nil {
			return err
		}

		params, err := keymat.Params(wallet.Network)
		if err != nil {
			return err
		}
		address, err := psbtbuild.DeriveAddress(wallet, chain, index, params)
		if err != nil {
			return err
		}

		return emit(addressOutput{Address: address, Chain: chainName, Index: index})
	},
}

type balanceOutput struct {
	Balance float64 `json:"balance"`
}

var balanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Report the node's confirmed balance for this descriptor wallet",
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := connectNode()
		if err != nil {
			return err
		}
		defer n.Close()

		balance, err := n.GetBalance()
		if err != nil {
			return err
		}
		return emit(balanceOutput{Balance: balance})
	},
}

var listCoinsMinConfFlag int

var listCoinsCmd = &cobra.Command{
	Use:   "list-coins",
	Short: "List the node's visible UTXOs for this descriptor wallet",
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := connectNode()
		if err != nil {
			return err
		}
		defer n.Close()

		utxos, err := n.ListUnspent(listCoinsMinConfFlag)
		if err != nil {
			return err
		}
		return emit(utxos)
	},
}

func init() {
	createWalletCmd.Flags().IntVar(&createThresholdFlag, "threshold", 0, "Number of signatures required")
	createWalletCmd.Flags().StringVar(&createXpubsFlag, "xpubs", "", "Comma-separated ordered list of cosigner xpubs")
	createWalletCmd.MarkFlagRequired("threshold")
	createWalletCmd.MarkFlagRequired("xpubs")

	getAddressCmd.Flags().BoolVar(&getAddressChangeFlag, "change", false, "Issue a change address instead of a receiving address")

	listCoinsCmd.Flags().IntVar(&listCoinsMinConfFlag, "min-conf", 1, "Minimum confirmations a UTXO must have")
}
