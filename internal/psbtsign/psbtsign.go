// Package psbtsign implements the offline PSBT Signer of spec.md §4.8: load
// a private key artifact, validate it against a wallet descriptor, refuse
// to re-sign an input this key has already contributed a signature to, and
// attach partial signatures for every input the key can claim. Grounded on
// the reference module's multisig signing path (trySignByBip32Derivation /
// signMultiSigInput in path_wallet_psbt.go), generalized from "sign
// whatever this node's wallet holds" to "sign whatever hd_keypaths name
// this key's fingerprint."
package psbtsign

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/firma-toolchain/firma/internal/ferrors"
	"github.com/firma-toolchain/firma/internal/keymat"
	"github.com/firma-toolchain/firma/internal/psbtprint"
	"github.com/firma-toolchain/firma/internal/walletmodel"
)

// DefaultTotalDerivations bounds how many indices per chain the signer
// will accept a match against, per spec.md §4.8.
const DefaultTotalDerivations = 20

// Result is the PSBT Signer's output: the signed packet plus the
// pretty-print/privacy view the operator sees at the moment of signing.
type Result struct {
	PSBT        *psbt.Packet
	PrettyPrint *psbtprint.Result
}

// Sign validates key against wallet and attaches partial signatures for
// every input whose hd_keypaths name key's fingerprint, then re-renders
// the PSBT through the pretty-printer.
func Sign(p *psbt.Packet, key *keymat.Private, wallet *walletmodel.Wallet, totalDerivations int, params *chaincfg.Params) (*Result, error) {
	if key.Xprv == "" {
		return nil, &ferrors.MissingField{Name: "xprv"}
	}
	if !wallet.HasFingerprint(key.Fingerprint) {
		return nil, &ferrors.UnrelatedKey{Fingerprint: key.Fingerprint}
	}

	masterKey, err := hdkeychain.NewKeyFromString(key.Xprv)
	if err != nil {
		return nil, &ferrors.Parse{Reason: "parsing xprv", Cause: err}
	}

	var fingerprint uint32
	if _, err := fmt.Sscanf(key.Fingerprint, "%x", &fingerprint); err != nil {
		return nil, &ferrors.Parse{Reason: "parsing key fingerprint", Cause: err}
	}

	// Pre-signing duplicate check: never mutate the file if this key has
	// already contributed a partial signature anywhere in the PSBT.
	for i, input := range p.Inputs {
		for _, deriv := range input.Bip32Derivation {
			if deriv.MasterKeyFingerprint != fingerprint {
				continue
			}
			for _, sig := range input.PartialSigs {
				if bytesEqual(sig.PubKey, deriv.PubKey) {
					return nil, &ferrors.AlreadySigned{Fingerprint: key.Fingerprint}
				}
			}
		}
		_ = i
	}

	sigHashes, err := newSigHashes(p)
	if err != nil {
		return nil, err
	}

	for i, input := range p.Inputs {
		for _, deriv := range input.Bip32Derivation {
			if deriv.MasterKeyFingerprint != fingerprint {
				continue
			}
			if len(deriv.Bip32Path) != 2 {
				continue
			}
			if deriv.Bip32Path[1] >= uint32(totalDerivations) {
				continue
			}
			if err := signInput(p, i, input, masterKey, deriv, sigHashes); err != nil {
				return nil, err
			}
		}
	}

	printed, err := psbtprint.PrettyPrint(p, params, wallet.Fingerprints, wallet.Threshold)
	if err != nil {
		return nil, err
	}
	return &Result{PSBT: p, PrettyPrint: printed}, nil
}

func newSigHashes(p *psbt.Packet) (*txscript.TxSigHashes, error) {
	prevOuts := make(map[wire.OutPoint]*wire.TxOut)
	for i, input := range p.Inputs {
		switch {
		case input.WitnessUtxo != nil:
			prevOuts[p.UnsignedTx.TxIn[i].PreviousOutPoint] = input.WitnessUtxo
		case input.NonWitnessUtxo != nil:
			outIdx := p.UnsignedTx.TxIn[i].PreviousOutPoint.Index
			if int(outIdx) >= len(input.NonWitnessUtxo.TxOut) {
				return nil, &ferrors.PsbtInconsistent{Reason: fmt.Sprintf("input %d: outpoint vout out of range", i)}
			}
			prevOuts[p.UnsignedTx.TxIn[i].PreviousOutPoint] = input.NonWitnessUtxo.TxOut[outIdx]
		default:
			return nil, &ferrors.PsbtInconsistent{Reason: fmt.Sprintf("input %d: neither witness_utxo nor non_witness_utxo present", i)}
		}
	}
	fetcher := txscript.NewMultiPrevOutFetcher(prevOuts)
	return txscript.NewTxSigHashes(p.UnsignedTx, fetcher), nil
}

func signInput(p *psbt.Packet, index int, input psbt.PInput, masterKey *hdkeychain.ExtendedKey, deriv *psbt.Bip32Derivation, sigHashes *txscript.TxSigHashes) error {
	chainKey, err := masterKey.Derive(deriv.Bip32Path[0])
	if err != nil {
		return &ferrors.Parse{Reason: "deriving chain level", Cause: err}
	}
	addrKey, err := chainKey.Derive(deriv.Bip32Path[1])
	if err != nil {
		return &ferrors.Parse{Reason: "deriving address level", Cause: err}
	}
	privKey, err := addrKey.ECPrivKey()
	if err != nil {
		return &ferrors.Parse{Reason: "deriving private key", Cause: err}
	}
	pubKey, err := addrKey.ECPubKey()
	if err != nil {
		return &ferrors.Parse{Reason: "deriving public key", Cause: err}
	}

	var sig []byte
	switch {
	case input.WitnessUtxo != nil && len(input.WitnessScript) > 0:
		// P2WSH multisig: sign against the witness script, not the
		// scriptPubKey (which is just OP_0 <32-byte-hash>).
		sig, err = txscript.RawTxInWitnessSignature(
			p.UnsignedTx, sigHashes, index,
			input.WitnessUtxo.Value, input.WitnessScript,
			txscript.SigHashAll, privKey,
		)
	case input.WitnessUtxo != nil:
		sig, err = txscript.RawTxInWitnessSignature(
			p.UnsignedTx, sigHashes, index,
			input.WitnessUtxo.Value, input.WitnessUtxo.PkScript,
			txscript.SigHashAll, privKey,
		)
	case input.NonWitnessUtxo != nil:
		outIdx := p.UnsignedTx.TxIn[index].PreviousOutPoint.Index
		prevScript := input.NonWitnessUtxo.TxOut[outIdx].PkScript
		sig, err = txscript.RawTxInSignature(p.UnsignedTx, index, prevScript, txscript.SigHashAll, privKey)
	default:
		return &ferrors.PsbtInconsistent{Reason: fmt.Sprintf("input %d: no utxo to sign against", index)}
	}
	if err != nil {
		return &ferrors.Parse{Reason: fmt.Sprintf("signing input %d", index), Cause: err}
	}

	p.Inputs[index].PartialSigs = append(p.Inputs[index].PartialSigs, &psbt.PartialSig{
		PubKey:    pubKey.SerializeCompressed(),
		Signature: sig,
	})
	return nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
