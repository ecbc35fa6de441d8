// Package keymat generates extended key material for the offline signing
// role and separates it into the private and public artifacts described in
// spec.md §3/§4.3. Derivation itself leans on the same hdkeychain walk the
// reference module uses for its BIP84/BIP86 account keys, generalized here
// to the single-level "account xpub" a multisig cosigner contributes.
package keymat

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"math"
	"math/big"
	"os"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/tyler-smith/go-bip39"

	"github.com/firma-toolchain/firma/internal/ferrors"
	"github.com/firma-toolchain/firma/internal/store"
)

// SeedBits is the entropy width a random or dice-derived seed is normalized
// to, regardless of the entropy source's native width.
const SeedBits = 256

// SeedBytes is SeedBits in bytes.
const SeedBytes = SeedBits / 8

// Provenance records how a master key's private material came to be, for
// display and audit purposes. For the mnemonic source it also holds the
// phrase itself; it is only ever written into the private artifact.
type Provenance struct {
	Source   string `json:"source"`             // "random", "mnemonic", "xprv", "dice"
	Mnemonic string `json:"mnemonic,omitempty"`  // only for Source == "mnemonic"
}

// Private is the on-disk private artifact (PRIVATE.json).
type Private struct {
	Xprv        string      `json:"xprv"`
	Fingerprint string      `json:"fingerprint"`
	Network     string      `json:"network"`
	Provenance  *Provenance `json:"provenance,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

// Public is the on-disk public artifact (public.json). It may be freely
// copied and QR-encoded for transport across the air gap.
type Public struct {
	Xpub        string    `json:"xpub"`
	Fingerprint string    `json:"fingerprint"`
	Network     string    `json:"network"`
	CreatedAt   time.Time `json:"created_at"`
}

// Params resolves a network name used throughout this toolchain ("mainnet",
// "testnet", "regtest", "signet") to the corresponding chaincfg.Params.
func Params(network string) (*chaincfg.Params, error) {
	switch network {
	case "mainnet":
		return &chaincfg.MainNetParams, nil
	case "testnet":
		return &chaincfg.TestNet3Params, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	default:
		return nil, &ferrors.Parse{Reason: fmt.Sprintf("unknown network: %s", network)}
	}
}

func networkParams(network string) (*chaincfg.Params, error) {
	return Params(network)
}

// Fingerprint returns the 4-byte master key fingerprint for an extended key:
// the first four bytes of HASH160 of its serialized public key.
func Fingerprint(key *hdkeychain.ExtendedKey) (string, error) {
	pub, err := key.ECPubKey()
	if err != nil {
		return "", &ferrors.Parse{Reason: "deriving public key for fingerprint", Cause: err}
	}
	hash := btcutil.Hash160(pub.SerializeCompressed())
	return fmt.Sprintf("%x", hash[:4]), nil
}

// FromRandomEntropy generates a fresh 256-bit seed from the OS CSPRNG.
func FromRandomEntropy(network string) (*hdkeychain.ExtendedKey, *Provenance, error) {
	seed := make([]byte, SeedBytes)
	if _, err := rand.Read(seed); err != nil {
		return nil, nil, &ferrors.Parse{Reason: "generating random seed", Cause: err}
	}
	key, err := masterFromSeed(seed, network)
	if err != nil {
		return nil, nil, err
	}
	return key, &Provenance{Source: "random"}, nil
}

// FromMnemonic derives the master key from a BIP39 mnemonic phrase (no
// passphrase, matching the reference module's single-factor model).
func FromMnemonic(phrase, network string) (*hdkeychain.ExtendedKey, *Provenance, error) {
	if !bip39.IsMnemonicValid(phrase) {
		return nil, nil, &ferrors.Parse{Reason: "invalid mnemonic phrase"}
	}
	seed := bip39.NewSeed(phrase, "")
	key, err := masterFromSeed(seed[:SeedBytes], network)
	if err != nil {
		return nil, nil, err
	}
	return key, &Provenance{Source: "mnemonic", Mnemonic: phrase}, nil
}

// NewMnemonic generates a fresh BIP39 mnemonic phrase for offline display
// and returns the master key it derives, so `firma-offline mnemonic` can
// both show the phrase to the operator and persist the resulting key.
func NewMnemonic(network string) (*hdkeychain.ExtendedKey, *Provenance, error) {
	entropy, err := bip39.NewEntropy(SeedBits)
	if err != nil {
		return nil, nil, &ferrors.Parse{Reason: "generating mnemonic entropy", Cause: err}
	}
	phrase, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return nil, nil, &ferrors.Parse{Reason: "encoding mnemonic", Cause: err}
	}
	return FromMnemonic(phrase, network)
}

// FromXprv restores a master key from an already-serialized extended
// private key string.
func FromXprv(xprv, network string) (*hdkeychain.ExtendedKey, *Provenance, error) {
	params, err := networkParams(network)
	if err != nil {
		return nil, nil, err
	}
	key, err := hdkeychain.NewKeyFromString(xprv)
	if err != nil {
		return nil, nil, &ferrors.Parse{Reason: "parsing xprv", Cause: err}
	}
	if !key.IsPrivate() {
		return nil, nil, &ferrors.MissingField{Name: "xprv"}
	}
	if !key.IsForNet(params) {
		return nil, nil, &ferrors.Parse{Reason: fmt.Sprintf("xprv is not for network %s", network)}
	}
	return key, &Provenance{Source: "xprv"}, nil
}

// MinDiceThrows returns ⌈log2(2^256) / log2(sides)⌉, the minimum number of
// throws of a `sides`-sided die needed to cover 256 bits of entropy.
func MinDiceThrows(sides int) int {
	return int(math.Ceil(float64(SeedBits) / math.Log2(float64(sides))))
}

// FromDice derives a master key from a sequence of dice throws, each in
// [1, sides]. Fewer than MinDiceThrows(sides) throws fails with
// InsufficientEntropy.
func FromDice(throws []int, sides int, network string) (*hdkeychain.ExtendedKey, *Provenance, error) {
	need := MinDiceThrows(sides)
	if len(throws) < need {
		return nil, nil, &ferrors.InsufficientEntropy{Got: len(throws), Need: need}
	}

	acc := new(big.Int)
	radix := big.NewInt(int64(sides))
	for _, throw := range throws {
		if throw < 1 || throw > sides {
			return nil, nil, &ferrors.Parse{Reason: fmt.Sprintf("dice throw %d out of range [1,%d]", throw, sides)}
		}
		acc.Mul(acc, radix)
		acc.Add(acc, big.NewInt(int64(throw-1)))
	}

	// Normalize the accumulated mixed-radix number to a 256-bit seed via a
	// single hash, regardless of how many bytes the raw accumulator needed.
	digest := sha256.Sum256(acc.Bytes())

	key, err := masterFromSeed(digest[:], network)
	if err != nil {
		return nil, nil, err
	}
	return key, &Provenance{Source: "dice"}, nil
}

func masterFromSeed(seed []byte, network string) (*hdkeychain.ExtendedKey, error) {
	params, err := networkParams(network)
	if err != nil {
		return nil, err
	}
	key, err := hdkeychain.NewMaster(seed, params)
	if err != nil {
		return nil, &ferrors.Parse{Reason: "deriving master key from seed", Cause: err}
	}
	return key, nil
}

// ToArtifacts builds the Private/Public artifact pair for a freshly derived
// master key.
func ToArtifacts(key *hdkeychain.ExtendedKey, network string, provenance *Provenance, now time.Time) (*Private, *Public, error) {
	fp, err := Fingerprint(key)
	if err != nil {
		return nil, nil, err
	}

	pubKey, err := key.Neuter()
	if err != nil {
		return nil, nil, &ferrors.Parse{Reason: "neutering extended key", Cause: err}
	}

	priv := &Private{
		Xprv:        key.String(),
		Fingerprint: fp,
		Network:     network,
		Provenance:  provenance,
		CreatedAt:   now,
	}
	pub := &Public{
		Xpub:        pubKey.String(),
		Fingerprint: fp,
		Network:     network,
		CreatedAt:   now,
	}
	return priv, pub, nil
}

// SaveArtifacts writes priv and pub to privPath and pubPath via
// save_if_absent, per spec.md §4.3: neither file may clobber an existing
// key_name. If the public write fails after the private write already
// succeeded, the private file is removed so a partial pair never survives
// on disk.
func SaveArtifacts(privPath, pubPath string, priv *Private, pub *Public) error {
	if err := store.SaveIfAbsent(privPath, priv, store.PrivateFileMode); err != nil {
		return err
	}
	if err := store.SaveIfAbsent(pubPath, pub, store.PublicFileMode); err != nil {
		_ = os.Remove(privPath)
		return err
	}
	return nil
}

// LoadPrivate reads a key's private artifact.
func LoadPrivate(path string) (*Private, error) {
	priv := &Private{}
	if err := store.Load(path, priv); err != nil {
		return nil, err
	}
	return priv, nil
}

// LoadPublic reads a key's public artifact.
func LoadPublic(path string) (*Public, error) {
	pub := &Public{}
	if err := store.Load(path, pub); err != nil {
		return nil, err
	}
	return pub, nil
}
