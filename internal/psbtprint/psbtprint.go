// Package psbtprint renders a PSBT into the human-readable view and privacy
// analysis described in spec.md §4.7, ported directly from the pretty-print
// pass of the original implementation (see original_source/print.rs): same
// per-row formats, same four privacy heuristics, same exact warning
// messages anchored to their Wikipedia sections.
package psbtprint

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/firma-toolchain/firma/internal/ferrors"
)

// Size reports the unsigned transaction's serialized vbyte size and the
// upper-bound vbyte size once fully signed.
type Size struct {
	Unsigned  int64 `json:"unsigned"`
	Estimated int64 `json:"estimated"`
}

// Fee reports the absolute fee and the fee rate implied by the estimated
// signed size.
type Fee struct {
	Absolute int64   `json:"absolute"`
	Rate     float64 `json:"rate"`
}

// Result is the structured output of PrettyPrint.
type Result struct {
	Inputs  []string `json:"inputs"`
	Outputs []string `json:"outputs"`
	Sizes   Size     `json:"sizes"`
	Fee     Fee      `json:"fee"`
	Info    []string `json:"info"`
}

const (
	msgDifferentScriptTypes = "Privacy: outputs have different script types https://en.bitcoin.it/wiki/Privacy#Sending_to_a_different_script_type"
	msgRoundNumbers         = "Privacy: outputs have different precision https://en.bitcoin.it/wiki/Privacy#Round_numbers"
	msgUnnecessaryInput     = "Privacy: smallest output is smaller then smallest input https://en.bitcoin.it/wiki/Privacy#Unnecessary_input_heuristic"
	msgAddressReuse         = "Privacy: address reuse https://en.bitcoin.it/wiki/Privacy#Address_reuse"
)

// p2wshSignatureBudgetBytes is the per-signature witness budget used by the
// size estimate, which counts one full-sized signature per required signer
// per input.
const p2wshSignatureBudgetBytes = 73 // DER signature + sighash byte, worst case

// PrettyPrint renders psbt against the wallet's fingerprint set, producing
// the row-by-row view and the privacy heuristics of spec.md §4.7. threshold
// is the wallet's signature threshold, used to upper-bound the witness size
// estimate.
func PrettyPrint(p *psbt.Packet, params *chaincfg.Params, fingerprints []string, threshold int) (*Result, error) {
	tx := p.UnsignedTx

	previousOutputs := make([]*wire.TxOut, len(p.Inputs))
	for i, input := range p.Inputs {
		prevOut, err := previousOutput(p, i, input)
		if err != nil {
			return nil, err
		}
		previousOutputs[i] = prevOut
	}

	result := &Result{}

	for i, txIn := range tx.TxIn {
		result.Inputs = append(result.Inputs, fmt.Sprintf(
			"#%d %s (%s) %d",
			i,
			txIn.PreviousOutPoint.String(),
			derivationPaths(p.Inputs[i].Bip32Derivation),
			previousOutputs[i].Value,
		))
	}

	var outputValues []int64
	for i, txOut := range tx.TxOut {
		address, err := addressForScript(txOut.PkScript, params)
		if err != nil {
			return nil, err
		}
		result.Outputs = append(result.Outputs, fmt.Sprintf(
			"#%d %s %s (%s%s) %d",
			i,
			hex.EncodeToString(txOut.PkScript),
			address,
			derivationPaths(p.Outputs[i].Bip32Derivation),
			isMine(p.Outputs[i].Bip32Derivation, fingerprints),
			txOut.Value,
		))
		outputValues = append(outputValues, txOut.Value)
	}

	analyzePrivacy(result, tx, previousOutputs, outputValues)

	var inputTotal, outputTotal int64
	for _, prevOut := range previousOutputs {
		inputTotal += prevOut.Value
	}
	for _, v := range outputValues {
		outputTotal += v
	}
	fee := inputTotal - outputTotal

	unsignedVBytes := int64(tx.SerializeSize())
	estimatedVBytes := estimatedVBytes(tx, threshold, len(p.Inputs))

	result.Sizes = Size{Unsigned: unsignedVBytes, Estimated: estimatedVBytes}
	result.Fee = Fee{
		Absolute: fee,
		Rate:     float64(fee) / float64(estimatedVBytes),
	}
	return result, nil
}

func previousOutput(p *psbt.Packet, i int, input psbt.PInput) (*wire.TxOut, error) {
	switch {
	case input.NonWitnessUtxo != nil && input.WitnessUtxo == nil:
		outpoint := p.UnsignedTx.TxIn[i].PreviousOutPoint
		if input.NonWitnessUtxo.TxHash() != outpoint.Hash {
			return nil, &ferrors.PsbtInconsistent{Reason: fmt.Sprintf("input %d: non_witness_utxo txid does not match outpoint", i)}
		}
		if int(outpoint.Index) >= len(input.NonWitnessUtxo.TxOut) {
			return nil, &ferrors.PsbtInconsistent{Reason: fmt.Sprintf("input %d: outpoint vout out of range", i)}
		}
		return input.NonWitnessUtxo.TxOut[outpoint.Index], nil
	case input.NonWitnessUtxo == nil && input.WitnessUtxo != nil:
		return input.WitnessUtxo, nil
	default:
		return nil, &ferrors.PsbtInconsistent{Reason: fmt.Sprintf("input %d: witness_utxo and non_witness_utxo are both present or both absent", i)}
	}
}

func addressForScript(script []byte, params *chaincfg.Params) (string, error) {
	_, addrs, _, err := txscript.ExtractPkScriptAddrs(script, params)
	if err != nil || len(addrs) == 0 {
		return "", &ferrors.Parse{Reason: "script has no default address encoding", Cause: err}
	}
	return addrs[0].EncodeAddress(), nil
}

// derivationPaths renders the sorted, de-duplicated set of BIP32 paths a
// set of derivation entries carries, in "m/84'/0'/0'/0/0" form.
func derivationPaths(entries []*psbt.Bip32Derivation) string {
	seen := make(map[string]struct{})
	var paths []string
	for _, entry := range entries {
		path := formatPath(entry.Bip32Path)
		if _, ok := seen[path]; ok {
			continue
		}
		seen[path] = struct{}{}
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return strings.Join(paths, ", ")
}

func formatPath(path []uint32) string {
	var b strings.Builder
	b.WriteString("m")
	for _, step := range path {
		b.WriteString("/")
		if step&0x80000000 != 0 {
			fmt.Fprintf(&b, "%d'", step&0x7fffffff)
		} else {
			fmt.Fprintf(&b, "%d", step)
		}
	}
	return b.String()
}

// isMine returns " MINE" iff entries is non-empty and every fingerprint it
// carries is a member of the wallet's fingerprint set.
func isMine(entries []*psbt.Bip32Derivation, fingerprints []string) string {
	if len(entries) == 0 {
		return ""
	}
	owned := make(map[string]struct{}, len(fingerprints))
	for _, fp := range fingerprints {
		owned[fp] = struct{}{}
	}
	for _, entry := range entries {
		fp := fmt.Sprintf("%08x", entry.MasterKeyFingerprint)
		if _, ok := owned[fp]; !ok {
			return ""
		}
	}
	return " MINE"
}

func analyzePrivacy(result *Result, tx *wire.MsgTx, previousOutputs []*wire.TxOut, outputValues []int64) {
	scriptTypes := make(map[int]struct{})
	for _, txOut := range tx.TxOut {
		if t, ok := ScriptType(txOut.PkScript); ok {
			scriptTypes[t] = struct{}{}
		}
	}
	if len(scriptTypes) > 1 {
		result.Info = append(result.Info, msgDifferentScriptTypes)
	}

	if len(outputValues) > 0 {
		minDiv, maxDiv := BiggestDividingPow(uint64(outputValues[0])), BiggestDividingPow(uint64(outputValues[0]))
		for _, v := range outputValues[1:] {
			d := BiggestDividingPow(uint64(v))
			if d < minDiv {
				minDiv = d
			}
			if d > maxDiv {
				maxDiv = d
			}
		}
		if maxDiv-minDiv >= 3 {
			result.Info = append(result.Info, msgRoundNumbers)
		}
	}

	if len(previousOutputs) > 1 {
		smallest := previousOutputs[0].Value
		for _, o := range previousOutputs[1:] {
			if o.Value < smallest {
				smallest = o.Value
			}
		}
		for _, v := range outputValues {
			if v < smallest {
				result.Info = append(result.Info, msgUnnecessaryInput)
				break
			}
		}
	}

	inputScripts := make(map[string]struct{}, len(previousOutputs))
	for _, o := range previousOutputs {
		inputScripts[string(o.PkScript)] = struct{}{}
	}
	for _, txOut := range tx.TxOut {
		if _, ok := inputScripts[string(txOut.PkScript)]; ok {
			result.Info = append(result.Info, msgAddressReuse)
			break
		}
	}
}

// BiggestDividingPow returns the largest k such that 10^k divides num.
func BiggestDividingPow(num uint64) uint8 {
	if num == 0 {
		// Every power of ten divides zero; the original implementation never
		// exercises this case (transaction outputs are always positive), so
		// this is just a defined stop rather than an infinite loop.
		return 0
	}
	var count uint8
	start := uint64(10)
	for num%start == 0 {
		start *= 10
		count++
	}
	return count
}

// scriptTypeFns is the closed, ordered set of script classifiers: the first
// one that matches wins, mirroring the reference implementation's fixed
// SCRIPT_TYPE_FN table rather than a dynamic dispatch table.
var scriptTypeFns = [...]func([]byte) bool{
	isP2PK,
	isP2PKH,
	isP2SH,
	isV0P2WPKH,
	isV0P2WSH,
}

// ScriptType classifies script against the closed set
// {p2pk, p2pkh, p2sh, v0_p2wpkh, v0_p2wsh} in that fixed order, returning
// the index of the first match. ok is false if none match.
func ScriptType(script []byte) (int, bool) {
	for i, fn := range scriptTypeFns {
		if fn(script) {
			return i, true
		}
	}
	return 0, false
}

func isP2PK(script []byte) bool {
	if len(script) == 35 && script[0] == 0x21 && script[34] == txscript.OP_CHECKSIG {
		return true
	}
	return len(script) == 67 && script[0] == 0x41 && script[66] == txscript.OP_CHECKSIG
}

func isP2PKH(script []byte) bool {
	return len(script) == 25 &&
		script[0] == txscript.OP_DUP &&
		script[1] == txscript.OP_HASH160 &&
		script[2] == 0x14 &&
		script[23] == txscript.OP_EQUALVERIFY &&
		script[24] == txscript.OP_CHECKSIG
}

func isP2SH(script []byte) bool {
	return len(script) == 23 &&
		script[0] == txscript.OP_HASH160 &&
		script[1] == 0x14 &&
		script[22] == txscript.OP_EQUAL
}

func isV0P2WPKH(script []byte) bool {
	return len(script) == 22 && script[0] == txscript.OP_0 && script[1] == 0x14
}

func isV0P2WSH(script []byte) bool {
	return len(script) == 34 && script[0] == txscript.OP_0 && script[1] == 0x20
}

func estimatedVBytes(tx *wire.MsgTx, threshold, inputCount int) int64 {
	// Upper-bounds the witness size by assuming every input needs `threshold`
	// full-sized signatures, the worst case for a sortedmulti(t, ...) script.
	base := int64(tx.SerializeSizeStripped())
	witnessBudget := int64(inputCount) * int64(threshold) * p2wshSignatureBudgetBytes
	totalWeight := base*4 + witnessBudget
	return totalWeight / 4
}
