package psbtrecord

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/btcsuite/btcd/btcutil/psbt"
)

func testPacket(t *testing.T) *psbt.Packet {
	t.Helper()
	tx := wire.NewMsgTx(2)
	hash, err := chainhash.NewHashFromStr("0000000000000000000000000000000000000000000000000000000000aa")
	if err != nil {
		t.Fatalf("NewHashFromStr() error = %v", err)
	}
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(hash, 0), nil, nil))
	tx.AddTxOut(wire.NewTxOut(50000, []byte{0x00, 0x14}))

	p, err := psbt.NewFromUnsignedTx(tx)
	if err != nil {
		t.Fatalf("psbt.NewFromUnsignedTx() error = %v", err)
	}
	return p
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	p := testPacket(t)

	encoded, err := Encode(p)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if decoded.UnsignedTx.TxHash() != p.UnsignedTx.TxHash() {
		t.Error("Decode() did not round-trip the unsigned transaction")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	p := testPacket(t)
	rec, err := New("abc123", "regtest", "vault", p, time.Unix(0, 0))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	path := filepath.Join(t.TempDir(), "abc123.json")
	if err := Save(path, rec); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.ID != rec.ID || loaded.Network != rec.Network || loaded.WalletName != rec.WalletName {
		t.Errorf("Load() = %+v, want %+v", loaded, rec)
	}

	packet, err := loaded.Packet()
	if err != nil {
		t.Fatalf("Packet() error = %v", err)
	}
	if packet.UnsignedTx.TxHash() != p.UnsignedTx.TxHash() {
		t.Error("Packet() did not round-trip the unsigned transaction")
	}
}
