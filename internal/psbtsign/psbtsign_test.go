package psbtsign

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/firma-toolchain/firma/internal/ferrors"
	"github.com/firma-toolchain/firma/internal/keymat"
	"github.com/firma-toolchain/firma/internal/walletmodel"
)

// cosigner bundles an offline key's private/public artifacts for fixture
// setup.
type cosigner struct {
	master *hdkeychain.ExtendedKey
	priv   *keymat.Private
}

func newCosigner(t *testing.T) cosigner {
	t.Helper()
	master, prov, err := keymat.FromRandomEntropy("regtest")
	if err != nil {
		t.Fatalf("FromRandomEntropy() error = %v", err)
	}
	priv, _, err := keymat.ToArtifacts(master, "regtest", prov, time.Unix(0, 0))
	if err != nil {
		t.Fatalf("ToArtifacts() error = %v", err)
	}
	return cosigner{master: master, priv: priv}
}

// buildFixture wires a 1-input, 1-output 2-of-2 PSBT whose sole input is
// owned by the wallet, with hd_keypaths already filled in the way
// psbtbuild would leave them.
func buildFixture(t *testing.T, cosigners []cosigner, threshold int) (*psbt.Packet, *walletmodel.Wallet) {
	t.Helper()

	xpubs := make([]string, len(cosigners))
	for i, c := range cosigners {
		pub, err := c.master.Neuter()
		if err != nil {
			t.Fatalf("Neuter() error = %v", err)
		}
		xpubs[i] = pub.String()
	}
	wallet, err := walletmodel.Build("regtest", "vault", threshold, xpubs, time.Unix(0, 0))
	if err != nil {
		t.Fatalf("walletmodel.Build() error = %v", err)
	}

	const chain, index = uint32(0), uint32(0)
	pubKeys := make([][]byte, len(cosigners))
	for i, c := range cosigners {
		chainKey, err := c.master.Derive(chain)
		if err != nil {
			t.Fatalf("Derive(chain) error = %v", err)
		}
		addrKey, err := chainKey.Derive(index)
		if err != nil {
			t.Fatalf("Derive(index) error = %v", err)
		}
		pub, err := addrKey.ECPubKey()
		if err != nil {
			t.Fatalf("ECPubKey() error = %v", err)
		}
		pubKeys[i] = pub.SerializeCompressed()
	}
	// Sort to match BIP67, the way the online role's PSBT constructor would
	// before embedding these keys in a sortedmulti() script.
	for i := 1; i < len(pubKeys); i++ {
		for j := i; j > 0 && lessKeyBytes(pubKeys[j], pubKeys[j-1]); j-- {
			pubKeys[j], pubKeys[j-1] = pubKeys[j-1], pubKeys[j]
		}
	}

	builder := txscript.NewScriptBuilder()
	builder.AddInt64(int64(threshold))
	for _, pub := range pubKeys {
		builder.AddData(pub)
	}
	builder.AddInt64(int64(len(pubKeys)))
	builder.AddOp(txscript.OP_CHECKMULTISIG)
	witnessScript, err := builder.Script()
	if err != nil {
		t.Fatalf("building witness script: %v", err)
	}

	scriptHash := sha256.Sum256(witnessScript)
	addr, err := btcutil.NewAddressWitnessScriptHash(scriptHash[:], &chaincfg.RegressionNetParams)
	if err != nil {
		t.Fatalf("NewAddressWitnessScriptHash() error = %v", err)
	}
	pkScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		t.Fatalf("PayToAddrScript() error = %v", err)
	}

	prevHash, err := chainhash.NewHashFromStr(strings.Repeat("11", 32))
	if err != nil {
		t.Fatalf("NewHashFromStr() error = %v", err)
	}
	tx := wire.NewMsgTx(2)
	tx.AddTxIn(&wire.TxIn{PreviousOutPoint: wire.OutPoint{Hash: *prevHash, Index: 0}})
	outAddr, err := btcutil.DecodeAddress("bcrt1qw508d6qejxtdg4y5r3zarvary0c5xw7kxpjzsx", &chaincfg.RegressionNetParams)
	if err != nil {
		t.Fatalf("DecodeAddress() error = %v", err)
	}
	outScript, err := txscript.PayToAddrScript(outAddr)
	if err != nil {
		t.Fatalf("PayToAddrScript(out) error = %v", err)
	}
	tx.AddTxOut(&wire.TxOut{Value: 90000, PkScript: outScript})

	p, err := psbt.NewFromUnsignedTx(tx)
	if err != nil {
		t.Fatalf("NewFromUnsignedTx() error = %v", err)
	}
	p.Inputs[0].WitnessUtxo = &wire.TxOut{Value: 100000, PkScript: pkScript}
	p.Inputs[0].WitnessScript = witnessScript

	derivations := make([]*psbt.Bip32Derivation, len(cosigners))
	for i, c := range cosigners {
		var fp uint32
		fmt.Sscanf(c.priv.Fingerprint, "%x", &fp)
		derivations[i] = &psbt.Bip32Derivation{
			PubKey:               pubKeys[findKey(pubKeys, c)],
			MasterKeyFingerprint: fp,
			Bip32Path:            []uint32{chain, index},
		}
	}
	p.Inputs[0].Bip32Derivation = derivations

	return p, wallet
}

func lessKeyBytes(a, b []byte) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

// findKey locates c's pubkey within the (already BIP67-sorted) list, since
// buildFixture re-sorts pubKeys after deriving them in cosigner order.
func findKey(pubKeys [][]byte, c cosigner) int {
	chainKey, _ := c.master.Derive(0)
	addrKey, _ := chainKey.Derive(0)
	pub, _ := addrKey.ECPubKey()
	want := pub.SerializeCompressed()
	for i, k := range pubKeys {
		if bytesEqual(k, want) {
			return i
		}
	}
	return -1
}

func TestSignRejectsKeyWithoutXprv(t *testing.T) {
	cosigners := []cosigner{newCosigner(t), newCosigner(t)}
	p, wallet := buildFixture(t, cosigners, 2)

	publicOnly := &keymat.Private{Fingerprint: cosigners[0].priv.Fingerprint, Network: "regtest"}
	_, err := Sign(p, publicOnly, wallet, DefaultTotalDerivations, &chaincfg.RegressionNetParams)
	var missing *ferrors.MissingField
	if !asType(err, &missing) {
		t.Fatalf("Sign() error = %v, want *ferrors.MissingField", err)
	}
}

func TestSignRejectsUnrelatedKey(t *testing.T) {
	cosigners := []cosigner{newCosigner(t), newCosigner(t)}
	p, wallet := buildFixture(t, cosigners, 2)
	stranger := newCosigner(t)

	_, err := Sign(p, stranger.priv, wallet, DefaultTotalDerivations, &chaincfg.RegressionNetParams)
	var unrelated *ferrors.UnrelatedKey
	if !asType(err, &unrelated) {
		t.Fatalf("Sign() error = %v, want *ferrors.UnrelatedKey", err)
	}
}

func TestSignAttachesPartialSignature(t *testing.T) {
	cosigners := []cosigner{newCosigner(t), newCosigner(t)}
	p, wallet := buildFixture(t, cosigners, 2)

	result, err := Sign(p, cosigners[0].priv, wallet, DefaultTotalDerivations, &chaincfg.RegressionNetParams)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	if len(result.PSBT.Inputs[0].PartialSigs) != 1 {
		t.Fatalf("PartialSigs = %d, want 1", len(result.PSBT.Inputs[0].PartialSigs))
	}
	if result.PrettyPrint == nil || len(result.PrettyPrint.Inputs) != 1 {
		t.Fatalf("PrettyPrint result missing or malformed: %+v", result.PrettyPrint)
	}
}

func TestSignRefusesToSignTwice(t *testing.T) {
	cosigners := []cosigner{newCosigner(t), newCosigner(t)}
	p, wallet := buildFixture(t, cosigners, 2)

	result, err := Sign(p, cosigners[0].priv, wallet, DefaultTotalDerivations, &chaincfg.RegressionNetParams)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	_, err = Sign(result.PSBT, cosigners[0].priv, wallet, DefaultTotalDerivations, &chaincfg.RegressionNetParams)
	var already *ferrors.AlreadySigned
	if !asType(err, &already) {
		t.Fatalf("second Sign() error = %v, want *ferrors.AlreadySigned", err)
	}
}

func TestSignBothCosignersReachesThreshold(t *testing.T) {
	cosigners := []cosigner{newCosigner(t), newCosigner(t)}
	p, wallet := buildFixture(t, cosigners, 2)

	result, err := Sign(p, cosigners[0].priv, wallet, DefaultTotalDerivations, &chaincfg.RegressionNetParams)
	if err != nil {
		t.Fatalf("Sign() (cosigner 0) error = %v", err)
	}
	result, err = Sign(result.PSBT, cosigners[1].priv, wallet, DefaultTotalDerivations, &chaincfg.RegressionNetParams)
	if err != nil {
		t.Fatalf("Sign() (cosigner 1) error = %v", err)
	}
	if len(result.PSBT.Inputs[0].PartialSigs) != 2 {
		t.Fatalf("PartialSigs = %d, want 2", len(result.PSBT.Inputs[0].PartialSigs))
	}
}

func asType(err error, target interface{}) bool {
	switch t := target.(type) {
	case **ferrors.MissingField:
		e, ok := err.(*ferrors.MissingField)
		if ok {
			*t = e
		}
		return ok
	case **ferrors.UnrelatedKey:
		e, ok := err.(*ferrors.UnrelatedKey)
		if ok {
			*t = e
		}
		return ok
	case **ferrors.AlreadySigned:
		e, ok := err.(*ferrors.AlreadySigned)
		if ok {
			*t = e
		}
		return ok
	}
	return false
}
