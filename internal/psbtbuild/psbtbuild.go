// Package psbtbuild implements the online PSBT Constructor of spec.md §4.6:
// derive a fresh change address, ask the node to fund the transaction
// against the registered descriptor wallet, augment the result with BIP32
// derivation metadata for every input/output the wallet can claim, detect
// receiving-address reuse, and roll back the change-index allocation if
// anything after step 1 fails.
package psbtbuild

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"

	"github.com/firma-toolchain/firma/internal/ferrors"
	"github.com/firma-toolchain/firma/internal/node"
	"github.com/firma-toolchain/firma/internal/walletmodel"
)

const (
	externalChain = uint32(0)
	changeChain   = uint32(1)
)

// ExternalChain and ChangeChain expose the BIP32 chain indices sortedmulti
// descriptors walk, for callers (the online CLI's get-address) that need
// to pick a chain without reaching into this package's internals.
const (
	ExternalChain = externalChain
	ChangeChain   = changeChain
)

// DeriveAddress returns the receiving or change address at (chain, index)
// for wallet, the same derivation the PSBT Constructor uses to pin its
// change output.
func DeriveAddress(wallet *walletmodel.Wallet, chain, index uint32, params *chaincfg.Params) (string, error) {
	_, _, address, err := deriveMultisigScript(wallet, chain, index, params)
	return address, err
}

// gapLimit bounds the derivation indices this package scans when trying to
// match a script against a derivation path: indices 0 through gapLimit-1 on
// each chain. Scripts at higher indices are not matched.
const gapLimit = 20

// Recipient is one output this toolchain asks the node to pay.
type Recipient struct {
	Address string
	Satoshi int64
}

// Result is the PSBT Constructor's output.
type Result struct {
	PSBT          *psbt.Packet
	ChangeIndex   uint32
	ChangeAddress string
	AddressReused []string
}

// Construct runs the algorithm of spec.md §4.6 against a registered
// wallet. feeRate is sat/vB; pass 0 to let the node estimate its own.
// issuedExternal is the wallet's external index cursor before this call —
// every index below it has already been handed out by get-address and so
// counts as "previously used" for the address-reuse heuristic.
func Construct(n *node.Client, wallet *walletmodel.Wallet, indexesPath string, recipients []Recipient, feeRate float64, issuedExternal uint32, params *chaincfg.Params) (*Result, error) {
	// Step 1: allocate the change index. Everything after this point must
	// roll it back on failure.
	changeIndex, err := walletmodel.NextChange(indexesPath)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = walletmodel.DecrementChange(indexesPath, changeIndex)
		}
	}()

	_, _, changeAddress, err := deriveMultisigScript(wallet, changeChain, changeIndex, params)
	if err != nil {
		return nil, err
	}

	// Step 2: ask the node to fund against the registered descriptor
	// wallet, pinning the change output.
	outputs := make([]node.FundedPSBTOutput, 0, len(recipients))
	for _, r := range recipients {
		outputs = append(outputs, node.FundedPSBTOutput{r.Address: float64(r.Satoshi) / 1e8})
	}
	funded, err := n.WalletCreateFundedPSBT([]btcjson.TransactionInput{}, outputs, changeAddress, feeRate)
	if err != nil {
		return nil, err
	}

	raw, err := base64.StdEncoding.DecodeString(funded.PSBT)
	if err != nil {
		return nil, &ferrors.Parse{Reason: "decoding walletcreatefundedpsbt base64", Cause: err}
	}
	p, err := psbt.NewFromRawBytes(bytes.NewReader(raw), false)
	if err != nil {
		return nil, &ferrors.Parse{Reason: "parsing funded psbt", Cause: err}
	}

	// Step 3: fill hd_keypaths for every input/output the wallet can claim.
	if err := augmentInputs(p, wallet, params); err != nil {
		return nil, err
	}
	if err := augmentOutputs(p, wallet, params); err != nil {
		return nil, err
	}

	// Step 4: detect reuse of a previously issued receiving address.
	reused, err := detectAddressReuse(recipients, wallet, issuedExternal, params)
	if err != nil {
		return nil, err
	}

	committed = true
	return &Result{
		PSBT:          p,
		ChangeIndex:   changeIndex,
		ChangeAddress: changeAddress,
		AddressReused: reused,
	}, nil
}

// deriveMultisigScript builds the P2WSH sortedmulti witness script, its
// scriptPubKey, and the resulting address for (chain, index) across every
// cosigner xpub in wallet.
func deriveMultisigScript(wallet *walletmodel.Wallet, chain, index uint32, params *chaincfg.Params) (witnessScript, pkScript []byte, address string, err error) {
	pubKeys, err := derivePubKeys(wallet, chain, index)
	if err != nil {
		return nil, nil, "", err
	}

	witnessScript, err = sortedMultisigScript(wallet.Threshold, pubKeys)
	if err != nil {
		return nil, nil, "", err
	}

	scriptHash := sha256.Sum256(witnessScript)
	addr, err := btcutil.NewAddressWitnessScriptHash(scriptHash[:], params)
	if err != nil {
		return nil, nil, "", &ferrors.Parse{Reason: "building p2wsh address", Cause: err}
	}
	pkScript, err = txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, nil, "", &ferrors.Parse{Reason: "building p2wsh scriptPubKey", Cause: err}
	}
	return witnessScript, pkScript, addr.EncodeAddress(), nil
}

func derivePubKeys(wallet *walletmodel.Wallet, chain, index uint32) ([]*btcec.PublicKey, error) {
	pubKeys := make([]*btcec.PublicKey, len(wallet.Xpubs))
	for i, xpub := range wallet.Xpubs {
		key, err := hdkeychain.NewKeyFromString(xpub)
		if err != nil {
			return nil, &ferrors.Parse{Reason: fmt.Sprintf("parsing xpub %d", i), Cause: err}
		}
		chainKey, err := key.Derive(chain)
		if err != nil {
			return nil, &ferrors.Parse{Reason: "deriving chain level", Cause: err}
		}
		addrKey, err := chainKey.Derive(index)
		if err != nil {
			return nil, &ferrors.Parse{Reason: "deriving address level", Cause: err}
		}
		pub, err := addrKey.ECPubKey()
		if err != nil {
			return nil, &ferrors.Parse{Reason: "deriving public key", Cause: err}
		}
		pubKeys[i] = pub
	}
	return pubKeys, nil
}

// sortedMultisigScript builds a BIP67 sorted bare multisig script: keys are
// ordered by their compressed serialization before being embedded, which
// is what makes a sortedmulti() descriptor produce the same script
// regardless of the order cosigners present their keys in.
func sortedMultisigScript(threshold int, pubKeys []*btcec.PublicKey) ([]byte, error) {
	serialized := make([][]byte, len(pubKeys))
	for i, pub := range pubKeys {
		serialized[i] = pub.SerializeCompressed()
	}
	sortSerializedKeys(serialized)

	builder := txscript.NewScriptBuilder()
	builder.AddInt64(int64(threshold))
	for _, key := range serialized {
		builder.AddData(key)
	}
	builder.AddInt64(int64(len(serialized)))
	builder.AddOp(txscript.OP_CHECKMULTISIG)
	return builder.Script()
}

func sortSerializedKeys(keys [][]byte) {
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && lessBytes(keys[j], keys[j-1]); j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
}

func lessBytes(a, b []byte) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

func augmentInputs(p *psbt.Packet, wallet *walletmodel.Wallet, params *chaincfg.Params) error {
	for i, in := range p.Inputs {
		var script []byte
		switch {
		case in.WitnessUtxo != nil:
			script = in.WitnessUtxo.PkScript
		case in.NonWitnessUtxo != nil:
			outIdx := p.UnsignedTx.TxIn[i].PreviousOutPoint.Index
			if int(outIdx) >= len(in.NonWitnessUtxo.TxOut) {
				continue
			}
			script = in.NonWitnessUtxo.TxOut[outIdx].PkScript
		default:
			continue
		}
		if err := matchAndFill(p, false, i, script, wallet, params); err != nil {
			return err
		}
	}
	return nil
}

func augmentOutputs(p *psbt.Packet, wallet *walletmodel.Wallet, params *chaincfg.Params) error {
	for i, out := range p.UnsignedTx.TxOut {
		if err := matchAndFill(p, true, i, out.PkScript, wallet, params); err != nil {
			return err
		}
	}
	return nil
}

// matchAndFill scans both chains up to the gap limit looking for a
// derivation index whose multisig script equals script, filling in
// hd_keypaths (and, for inputs, the witness script the signer needs) for
// every cosigner xpub on the first match.
func matchAndFill(p *psbt.Packet, isOutput bool, index int, script []byte, wallet *walletmodel.Wallet, params *chaincfg.Params) error {
	for _, chain := range []uint32{externalChain, changeChain} {
		for i := uint32(0); i < gapLimit; i++ {
			witnessScript, candidate, _, err := deriveMultisigScript(wallet, chain, i, params)
			if err != nil {
				return err
			}
			if bytes.Equal(candidate, script) {
				if !isOutput {
					p.Inputs[index].WitnessScript = witnessScript
				}
				return setKeypaths(p, isOutput, index, wallet, chain, i)
			}
		}
	}
	return nil
}

func setKeypaths(p *psbt.Packet, isOutput bool, index int, wallet *walletmodel.Wallet, chain, addrIndex uint32) error {
	pubKeys, err := derivePubKeys(wallet, chain, addrIndex)
	if err != nil {
		return err
	}

	entries := make([]*psbt.Bip32Derivation, len(pubKeys))
	for i, pub := range pubKeys {
		var fingerprint uint32
		if _, err := fmt.Sscanf(wallet.Fingerprints[i], "%x", &fingerprint); err != nil {
			return &ferrors.Parse{Reason: "parsing wallet fingerprint", Cause: err}
		}
		entries[i] = &psbt.Bip32Derivation{
			PubKey:               pub.SerializeCompressed(),
			MasterKeyFingerprint: fingerprint,
			Bip32Path:            []uint32{chain, addrIndex},
		}
	}

	if isOutput {
		p.Outputs[index].Bip32Derivation = entries
	} else {
		p.Inputs[index].Bip32Derivation = entries
	}
	return nil
}

// detectAddressReuse flags any recipient whose script_pubkey matches a
// receiving script this wallet has already issued (external indices below
// issuedExternal).
func detectAddressReuse(recipients []Recipient, wallet *walletmodel.Wallet, issuedExternal uint32, params *chaincfg.Params) ([]string, error) {
	issuedScripts := make([][]byte, issuedExternal)
	for i := uint32(0); i < issuedExternal; i++ {
		_, script, _, err := deriveMultisigScript(wallet, externalChain, i, params)
		if err != nil {
			return nil, err
		}
		issuedScripts[i] = script
	}

	var reused []string
	for _, r := range recipients {
		script, err := addressScript(r.Address, params)
		if err != nil {
			return nil, err
		}
		for _, issued := range issuedScripts {
			if bytes.Equal(script, issued) {
				reused = append(reused, r.Address)
				break
			}
		}
	}
	return reused, nil
}

func addressScript(address string, params *chaincfg.Params) ([]byte, error) {
	addr, err := btcutil.DecodeAddress(address, params)
	if err != nil {
		return nil, &ferrors.Parse{Reason: "decoding address", Cause: err}
	}
	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, &ferrors.Parse{Reason: "building script for address", Cause: err}
	}
	return script, nil
}
