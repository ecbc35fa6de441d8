// Package psbtmerge implements the online Merger/Finalizer/Broadcaster of
// spec.md §4.9: combine t-of-n signed PSBTs into one, hand them to
// psbt.Finalize/psbt.Extract, and optionally broadcast the result.
// Grounded on the reference module's pathWalletPSBTFinalize, generalized
// from a single already-complete PSBT to a set of independently signed
// PSBTs that must first be combined.
package psbtmerge

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/psbt"

	"github.com/firma-toolchain/firma/internal/ferrors"
	"github.com/firma-toolchain/firma/internal/node"
)

// Result is the Merger/Finalizer/Broadcaster's output.
type Result struct {
	Txid        string
	Hex         string
	Broadcasted bool
}

// Merge combines the partial signatures of packets, which must all carry
// identical unsigned transactions, into the first packet. It returns
// PsbtMismatch if any packet's unsigned transaction disagrees.
func Merge(packets []*psbt.Packet) (*psbt.Packet, error) {
	if len(packets) == 0 {
		return nil, &ferrors.PsbtMismatch{Reason: "no psbts to merge"}
	}

	base := packets[0]
	var baseBuf bytes.Buffer
	if err := base.UnsignedTx.Serialize(&baseBuf); err != nil {
		return nil, &ferrors.Parse{Reason: "serializing base unsigned tx", Cause: err}
	}

	for i, p := range packets[1:] {
		var buf bytes.Buffer
		if err := p.UnsignedTx.Serialize(&buf); err != nil {
			return nil, &ferrors.Parse{Reason: "serializing unsigned tx", Cause: err}
		}
		if !bytes.Equal(buf.Bytes(), baseBuf.Bytes()) {
			return nil, &ferrors.PsbtMismatch{Reason: fmt.Sprintf("psbt %d has a different unsigned transaction than psbt 0", i+1)}
		}
		if len(p.Inputs) != len(base.Inputs) {
			return nil, &ferrors.PsbtMismatch{Reason: fmt.Sprintf("psbt %d has %d inputs, want %d", i+1, len(p.Inputs), len(base.Inputs))}
		}
		for inputIdx := range base.Inputs {
			mergePartialSigs(&base.Inputs[inputIdx], p.Inputs[inputIdx].PartialSigs)
		}
	}

	return base, nil
}

func mergePartialSigs(dst *psbt.PInput, sigs []*psbt.PartialSig) {
	existing := make(map[string]struct{}, len(dst.PartialSigs))
	for _, sig := range dst.PartialSigs {
		existing[string(sig.PubKey)] = struct{}{}
	}
	for _, sig := range sigs {
		if _, ok := existing[string(sig.PubKey)]; ok {
			continue
		}
		dst.PartialSigs = append(dst.PartialSigs, sig)
		existing[string(sig.PubKey)] = struct{}{}
	}
}

// Finalize runs psbt.Finalize over every input and extracts the final,
// broadcastable transaction.
func Finalize(p *psbt.Packet) (txHex, txid string, err error) {
	for i := range p.Inputs {
		if err := psbt.Finalize(p, i); err != nil {
			return "", "", &ferrors.PsbtInconsistent{Reason: fmt.Sprintf("finalizing input %d: %v", i, err)}
		}
	}

	finalTx, err := psbt.Extract(p)
	if err != nil {
		return "", "", &ferrors.PsbtInconsistent{Reason: fmt.Sprintf("extracting final transaction: %v", err)}
	}

	var buf bytes.Buffer
	if err := finalTx.Serialize(&buf); err != nil {
		return "", "", &ferrors.Parse{Reason: "serializing final transaction", Cause: err}
	}
	return hex.EncodeToString(buf.Bytes()), finalTx.TxHash().String(), nil
}

// Run combines packets, finalizes the result, and, if broadcast is true,
// sends it through n. It returns the combined result even when broadcast
// fails, so a caller can report the finalized transaction alongside the
// broadcast error.
func Run(n *node.Client, packets []*psbt.Packet, broadcast bool) (*Result, error) {
	merged, err := Merge(packets)
	if err != nil {
		return nil, err
	}
	txHex, txid, err := Finalize(merged)
	if err != nil {
		return nil, err
	}

	result := &Result{Txid: txid, Hex: txHex}
	if !broadcast {
		return result, nil
	}

	broadcastTxid, err := n.SendRawTransaction(txHex)
	if err != nil {
		return result, err
	}
	result.Txid = broadcastTxid
	result.Broadcasted = true
	return result, nil
}
