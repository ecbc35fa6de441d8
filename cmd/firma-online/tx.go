package main

import (
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/spf13/cobra"

	"github.com/firma-toolchain/firma/internal/ferrors"
	"github.com/firma-toolchain/firma/internal/keymat"
	"github.com/firma-toolchain/firma/internal/psbtbuild"
	"github.com/firma-toolchain/firma/internal/psbtmerge"
	"github.com/firma-toolchain/firma/internal/psbtrecord"
	"github.com/firma-toolchain/firma/internal/walletmodel"
)

var (
	createTxToFlag      []string
	createTxFeeRateFlag float64
)

type createTxOutput struct {
	PSBTID        string   `json:"psbt_id"`
	ChangeAddress string   `json:"change_address"`
	AddressReused []string `json:"address_reused,omitempty"`
}

var createTxCmd = &cobra.Command{
	Use:   "create-tx",
	Short: "Construct an unsigned PSBT paying the given recipients",
	Long: `This command asks the node to fund a transaction paying each
--to address:satoshi recipient, pins the change output to a freshly
derived change address, augments the result with BIP32 derivation
metadata for every input and output this wallet can claim, and flags
any recipient that reuses a previously issued receiving address. The
allocated change index is rolled back if anything fails after it is
claimed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := newContext()

		recipients, err := parseRecipients(createTxToFlag)
		if err != nil {
			return err
		}

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
		indexes, err := walletmodel.LoadIndexes(indexesPath)
		if err != nil {
			return err
		}

		params, err := keymat.Params(wallet.Network)
		if err != nil {
			return err
		}

		n, err := connectNode()
		if err != nil {
			return err
		}
		defer n.Close()

		result, err := psbtbuild.Construct(n, wallet, indexesPath, recipients, createTxFeeRateFlag, indexes.Main, params)
		if err != nil {
			return err
		}

		id := result.PSBT.UnsignedTx.TxHash().String()
		record, err := psbtrecord.New(id, wallet.Network, walletNameFlag, result.PSBT, time.Now())
		if err != nil {
			return err
		}
		psbtPath, err := ctx.PSBTPath(id)
		if err != nil {
			return err
		}
		if err := psbtrecord.Save(psbtPath, record); err != nil {
			return err
		}

		return emit(createTxOutput{
			PSBTID:        id,
			ChangeAddress: result.ChangeAddress,
			AddressReused: result.AddressReused,
		})
	},
}

func parseRecipients(flags []string) ([]psbtbuild.Recipient, error) {
	recipients := make([]psbtbuild.Recipient, 0, len(flags))
	for _, f := range flags {
		parts := strings.SplitN(f, ":", 2)
		if len(parts) != 2 {
			return nil, &ferrors.Parse{Reason: "recipient must be address:satoshi, got " + f}
		}
		satoshi, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return nil, &ferrors.Parse{Reason: "parsing satoshi amount for " + parts[0], Cause: err}
		}
		recipients = append(recipients, psbtbuild.Recipient{Address: parts[0], Satoshi: satoshi})
	}
	return recipients, nil
}

var (
	sendTxPSBTIDsFlag   []string
	sendTxBroadcastFlag bool
)

var sendTxCmd = &cobra.Command{
	Use:   "send-tx",
	Short: "Merge signed PSBT copies, finalize, and broadcast",
	Long: `This command loads the PSBT records named by the repeated
--psbt-id flag, requires their unsigned transactions to be byte-identical
copies of the same base, combines their partial signatures, finalizes
the result, and (unless --broadcast=false) sends it through the node.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := newContext()

		packets := make([]*psbt.Packet, 0, len(sendTxPSBTIDsFlag))
		for _, id := range sendTxPSBTIDsFlag {
			path, err := ctx.PSBTPath(id)
			if err != nil {
				return err
			}
			record, err := psbtrecord.Load(path)
			if err != nil {
				return err
			}
			packet, err := record.Packet()
			if err != nil {
				return err
			}
			packets = append(packets, packet)
		}

		n, err := connectNode()
		if err != nil {
			return err
		}
		defer n.Close()

		result, err := psbtmerge.Run(n, packets, sendTxBroadcastFlag)
		if err != nil {
			return err
		}
		return emit(result)
	},
}

func init() {
	createTxCmd.Flags().StringArrayVar(&createTxToFlag, "to", nil, "Recipient address:satoshi, may be repeated")
	createTxCmd.Flags().Float64Var(&createTxFeeRateFlag, "fee-rate", 0, "Fee rate in sat/vB; 0 lets the node estimate")
	createTxCmd.MarkFlagRequired("to")

	sendTxCmd.Flags().StringArrayVar(&sendTxPSBTIDsFlag, "psbt-id", nil, "PSBT record id to merge, may be repeated")
	sendTxCmd.Flags().BoolVar(&sendTxBroadcastFlag, "broadcast", true, "Broadcast the finalized transaction through the node")
	sendTxCmd.MarkFlagRequired("psbt-id")
}
