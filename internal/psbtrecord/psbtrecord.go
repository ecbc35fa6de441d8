// Package psbtrecord persists the PSBT Record artifact of spec.md §3/§6: a
// base64-encoded PSBT plus the metadata needed to place it back on a
// datadir (which wallet it belongs to, what id it was saved under). It is
// the file both CLI binaries pass back and forth across the air gap.
package psbtrecord

import (
	"bytes"
	"encoding/base64"
	"time"

	"github.com/btcsuite/btcd/btcutil/psbt"

	"github.com/firma-toolchain/firma/internal/ferrors"
	"github.com/firma-toolchain/firma/internal/store"
)

// Record is the on-disk <kind=PSBT>/<id>.json artifact.
type Record struct {
	ID         string    `json:"id"`
	Network    string    `json:"network"`
	WalletName string    `json:"wallet_name"`
	PSBT       string    `json:"psbt"`
	CreatedAt  time.Time `json:"created_at"`
}

// Encode serializes a PSBT packet to the base64 form stored in a Record.
func Encode(p *psbt.Packet) (string, error) {
	var buf bytes.Buffer
	if err := p.Serialize(&buf); err != nil {
		return "", &ferrors.Parse{Reason: "serializing psbt", Cause: err}
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Decode parses the base64 PSBT carried by a Record back into a packet.
func Decode(encoded string) (*psbt.Packet, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, &ferrors.Parse{Reason: "decoding psbt base64", Cause: err}
	}
	p, err := psbt.NewFromRawBytes(bytes.NewReader(raw), false)
	if err != nil {
		return nil, &ferrors.Parse{Reason: "parsing psbt", Cause: err}
	}
	return p, nil
}

// New builds a Record wrapping p, ready to be persisted.
func New(id, network, walletName string, p *psbt.Packet, now time.Time) (*Record, error) {
	encoded, err := Encode(p)
	if err != nil {
		return nil, err
	}
	return &Record{
		ID:         id,
		Network:    network,
		WalletName: walletName,
		PSBT:       encoded,
		CreatedAt:  now,
	}, nil
}

// Packet decodes the Record's PSBT back into a packet.
func (r *Record) Packet() (*psbt.Packet, error) {
	return Decode(r.PSBT)
}

// Save writes the record, overwriting any existing copy. Unlike wallet and
// key artifacts, PSBT records are expected to be overwritten as a signer
// adds partial signatures to their own copy, so this does not go through
// SaveIfAbsent.
func Save(path string, r *Record) error {
	return store.Save(path, r, store.PublicFileMode)
}

// Load reads a PSBT Record from path.
func Load(path string) (*Record, error) {
	r := &Record{}
	if err := store.Load(path, r); err != nil {
		return nil, err
	}
	return r, nil
}
