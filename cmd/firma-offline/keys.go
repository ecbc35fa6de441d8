package main

import (
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/spf13/cobra"

	"github.com/firma-toolchain/firma/internal/ferrors"
	"github.com/firma-toolchain/firma/internal/keymat"
)

// keyOutput is the shared success shape of every key-generation subcommand:
// the public artifact plus whatever is needed once to back up the private
// material (a mnemonic phrase, when the source was one).
type keyOutput struct {
	KeyName     string `json:"key_name"`
	Network     string `json:"network"`
	Fingerprint string `json:"fingerprint"`
	Xpub        string `json:"xpub"`
	Mnemonic    string `json:"mnemonic,omitempty"`
}

var keyNameFlag string

func persist(keyName string, key *hdkeychain.ExtendedKey, provenance *keymat.Provenance) (*keymat.Private, *keymat.Public, error) {
	ctx := newContext()
	priv, pub, err := keymat.ToArtifacts(key, ctx.Network, provenance, time.Now())
	if err != nil {
		return nil, nil, err
	}

	privPath, err := ctx.PrivateKeyPath(keyName)
	if err != nil {
		return nil, nil, err
	}
	pubPath, err := ctx.PublicKeyPath(keyName)
	if err != nil {
		return nil, nil, err
	}
	if err := keymat.SaveArtifacts(privPath, pubPath, priv, pub); err != nil {
		return nil, nil, err
	}
	return priv, pub, nil
}

func reportKey(keyName string, priv *keymat.Private, pub *keymat.Public) error {
	out := keyOutput{
		KeyName:     keyName,
		Network:     pub.Network,
		Fingerprint: pub.Fingerprint,
		Xpub:        pub.Xpub,
	}
	if priv.Provenance != nil && priv.Provenance.Source == "mnemonic" {
		out.Mnemonic = priv.Provenance.Mnemonic
	}
	return emit(out)
}

var randomCmd = &cobra.Command{
	Use:   "random",
	Short: "Generate a master key from 256 bits of OS entropy",
	Long: `This command generates a fresh extended private key from the
operating system's CSPRNG and writes its private and public artifacts
under --key-name. Re-running with an existing key name fails rather than
overwriting it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		key, provenance, err := keymat.FromRandomEntropy(networkFlag)
		if err != nil {
			return err
		}
		priv, pub, err := persist(keyNameFlag, key, provenance)
		if err != nil {
			return err
		}
		return reportKey(keyNameFlag, priv, pub)
	},
}

var (
	diceSidesFlag  int
	diceThrowsFlag string
)

var diceCmd = &cobra.Command{
	Use:   "dice",
	Short: "Generate a master key from a sequence of physical dice throws",
	Long: `This command derives an extended private key from a
comma-separated sequence of dice throws (--throws), each in [1, --sides].
It fails with an entropy-floor error if fewer throws are given than the
chosen die needs to cover 256 bits.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		throws, err := parseThrows(diceThrowsFlag)
		if err != nil {
			return err
		}
		key, provenance, err := keymat.FromDice(throws, diceSidesFlag, networkFlag)
		if err != nil {
			return err
		}
		priv, pub, err := persist(keyNameFlag, key, provenance)
		if err != nil {
			return err
		}
		return reportKey(keyNameFlag, priv, pub)
	},
}

func parseThrows(csv string) ([]int, error) {
	fields := strings.Split(csv, ",")
	throws := make([]int, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		n, err := strconv.Atoi(f)
		if err != nil {
			return nil, &ferrors.Parse{Reason: "parsing dice throw " + f, Cause: err}
		}
		throws = append(throws, n)
	}
	return throws, nil
}

var mnemonicCmd = &cobra.Command{
	Use:   "mnemonic",
	Short: "Generate a master key from a freshly created BIP39 mnemonic",
	Long: `This command generates a new 24-word BIP39 mnemonic, derives the
master key it implies, and writes both artifacts under --key-name. The
phrase appears once in this command's output — it is also kept in the
private artifact's provenance for reference, but is not shown again on a
later command.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		key, provenance, err := keymat.NewMnemonic(networkFlag)
		if err != nil {
			return err
		}
		priv, pub, err := persist(keyNameFlag, key, provenance)
		if err != nil {
			return err
		}
		return reportKey(keyNameFlag, priv, pub)
	},
}

var (
	restoreXprvFlag     string
	restoreMnemonicFlag string
)

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Restore a master key from an existing xprv or mnemonic phrase",
	Long: `This command re-derives a master key from material the operator
already has — either --xprv or --mnemonic — and writes its artifacts
under --key-name, exactly as if it had just been generated.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var key *hdkeychain.ExtendedKey
		var provenance *keymat.Provenance
		var err error

		switch {
		case restoreXprvFlag != "":
			key, provenance, err = keymat.FromXprv(restoreXprvFlag, networkFlag)
		case restoreMnemonicFlag != "":
			key, provenance, err = keymat.FromMnemonic(restoreMnemonicFlag, networkFlag)
		default:
			return &ferrors.Parse{Reason: "restore requires either --xprv or --mnemonic"}
		}
		if err != nil {
			return err
		}

		priv, pub, err := persist(keyNameFlag, key, provenance)
		if err != nil {
			return err
		}
		return reportKey(keyNameFlag, priv, pub)
	},
}

func init() {
	for _, cmd := range []*cobra.Command{randomCmd, diceCmd, mnemonicCmd, restoreCmd} {
		cmd.Flags().StringVar(&keyNameFlag, "key-name", "", "Name this key is stored under")
		cmd.MarkFlagRequired("key-name")
	}

	diceCmd.Flags().IntVar(&diceSidesFlag, "sides", 6, "Number of sides on the die thrown")
	diceCmd.Flags().StringVar(&diceThrowsFlag, "throws", "", "Comma-separated dice throws, each in [1,sides]")
	diceCmd.MarkFlagRequired("throws")

	restoreCmd.Flags().StringVar(&restoreXprvFlag, "xprv", "", "Restore from this extended private key")
	restoreCmd.Flags().StringVar(&restoreMnemonicFlag, "mnemonic", "", "Restore from this BIP39 mnemonic phrase")
}
