package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/firma-toolchain/firma/internal/ferrors"
	"github.com/firma-toolchain/firma/internal/qrcode"
	"github.com/firma-toolchain/firma/internal/store"
)

var (
	qrKindFlag string
	qrNameFlag string
	qrSizeFlag int
)

type qrOutput struct {
	Path string `json:"path"`
}

var qrCmd = &cobra.Command{
	Use:   "qr",
	Short: "Render a public-only artifact as a QR-encoded PNG",
	Long: `This command re-renders the JSON bytes of a MasterKey's public
artifact, a Wallet's descriptor, or a PSBT record as a QR code PNG under
that file's .qr sibling directory, so it can be carried across the air
gap without a USB stick. It refuses artifacts carrying private material:
only MasterKey public.json, Wallet descriptor.json, and PSBT records
are valid --kind values.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := newContext()
		var path string
		var err error

		switch qrKindFlag {
		case "MasterKey":
			path, err = ctx.PublicKeyPath(qrNameFlag)
		case "Wallet":
			path, err = descriptorPath(qrNameFlag)
		case "PSBT":
			path, err = ctx.PSBTPath(qrNameFlag)
		default:
			return &ferrors.Parse{Reason: "qr --kind must be one of MasterKey, Wallet, PSBT"}
		}
		if err != nil {
			return err
		}

		data, err := readArtifact(path)
		if err != nil {
			return err
		}

		qrPath, err := qrcode.WritePNG(path, data, qrSizeFlag)
		if err != nil {
			return err
		}
		return emit(qrOutput{Path: qrPath})
	},
}

func readArtifact(path string) ([]byte, error) {
	var raw json.RawMessage
	if err := store.Load(path, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func init() {
	qrCmd.Flags().StringVar(&qrKindFlag, "kind", "", "Artifact kind: MasterKey, Wallet, or PSBT")
	qrCmd.Flags().StringVar(&qrNameFlag, "name", "", "Key name, wallet name, or PSBT id")
	qrCmd.Flags().IntVar(&qrSizeFlag, "size", qrcode.DefaultSize, "QR PNG side length in pixels")
	qrCmd.MarkFlagRequired("kind")
	qrCmd.MarkFlagRequired("name")
}
