package psbtmerge

import (
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/firma-toolchain/firma/internal/ferrors"
)

func unsignedPacket(t *testing.T, prevoutHex string, value int64) *psbt.Packet {
	t.Helper()
	prevHash, err := chainhash.NewHashFromStr(strings.Repeat(prevoutHex, 64/len(prevoutHex)))
	if err != nil {
		t.Fatalf("NewHashFromStr() error = %v", err)
	}
	tx := wire.NewMsgTx(2)
	tx.AddTxIn(&wire.TxIn{PreviousOutPoint: wire.OutPoint{Hash: *prevHash, Index: 0}})
	tx.AddTxOut(&wire.TxOut{Value: value, PkScript: []byte{txscript.OP_0, 0x14}})

	p, err := psbt.NewFromUnsignedTx(tx)
	if err != nil {
		t.Fatalf("NewFromUnsignedTx() error = %v", err)
	}
	p.Inputs[0].WitnessUtxo = &wire.TxOut{Value: value + 1000, PkScript: []byte{txscript.OP_0, 0x20}}
	return p
}

func partialSigForSeed(seedByte byte) *psbt.PartialSig {
	seed := make([]byte, 32)
	for i := range seed {
		seed[i] = seedByte
	}
	_, pub := btcec.PrivKeyFromBytes(seed)
	return &psbt.PartialSig{PubKey: pub.SerializeCompressed(), Signature: []byte{0x30, 0x01}}
}

func TestMergeCombinesPartialSigsAcrossPackets(t *testing.T) {
	a := unsignedPacket(t, "11", 90000)
	b := unsignedPacket(t, "11", 90000)

	sigA := partialSigForSeed(0x01)
	sigB := partialSigForSeed(0x02)
	a.Inputs[0].PartialSigs = []*psbt.PartialSig{sigA}
	b.Inputs[0].PartialSigs = []*psbt.PartialSig{sigB}

	merged, err := Merge([]*psbt.Packet{a, b})
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	if len(merged.Inputs[0].PartialSigs) != 2 {
		t.Fatalf("PartialSigs = %d, want 2", len(merged.Inputs[0].PartialSigs))
	}
}

func TestMergeDeduplicatesSamePubKey(t *testing.T) {
	a := unsignedPacket(t, "11", 90000)
	b := unsignedPacket(t, "11", 90000)

	sig := partialSigForSeed(0x03)
	a.Inputs[0].PartialSigs = []*psbt.PartialSig{sig}
	b.Inputs[0].PartialSigs = []*psbt.PartialSig{sig}

	merged, err := Merge([]*psbt.Packet{a, b})
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	if len(merged.Inputs[0].PartialSigs) != 1 {
		t.Fatalf("PartialSigs = %d, want 1 (deduplicated)", len(merged.Inputs[0].PartialSigs))
	}
}

func TestMergeRejectsDifferentUnsignedTx(t *testing.T) {
	a := unsignedPacket(t, "11", 90000)
	b := unsignedPacket(t, "11", 50000) // different output value -> different unsigned tx

	_, err := Merge([]*psbt.Packet{a, b})
	if _, ok := err.(*ferrors.PsbtMismatch); !ok {
		t.Fatalf("Merge() error = %v, want *ferrors.PsbtMismatch", err)
	}
}

func TestMergeRejectsEmptyInput(t *testing.T) {
	_, err := Merge(nil)
	if _, ok := err.(*ferrors.PsbtMismatch); !ok {
		t.Fatalf("Merge() error = %v, want *ferrors.PsbtMismatch", err)
	}
}
