// Package walletmodel implements the wallet and index state described in
// spec.md §3/§4.4/§4.5: a descriptor-based multisig wallet identified by
// (network, name), its derivation cursors, and the registration/decrement
// operations the online role performs against them.
package walletmodel

import (
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"

	"github.com/firma-toolchain/firma/internal/descriptor"
	"github.com/firma-toolchain/firma/internal/ferrors"
	"github.com/firma-toolchain/firma/internal/keymat"
	"github.com/firma-toolchain/firma/internal/store"
)

// Wallet is the persisted descriptor.json artifact.
type Wallet struct {
	Network      string   `json:"network"`
	Name         string   `json:"name"`
	Threshold    int      `json:"threshold"`
	Xpubs        []string `json:"xpubs"`
	Fingerprints []string `json:"fingerprints"`
	External     string   `json:"external_descriptor"`
	Change       string   `json:"change_descriptor"`
	CreatedAt    time.Time `json:"created_at"`
}

// Indexes is the persisted indexes.json artifact: the (external, change)
// derivation cursors.
type Indexes struct {
	Main   uint32 `json:"main"`
	Change uint32 `json:"change"`
}

// Build validates (threshold, xpubs) against the invariants in spec.md §3
// and constructs the Wallet value, deriving descriptors and fingerprints.
// It does not touch disk.
func Build(network, name string, threshold int, xpubs []string, now time.Time) (*Wallet, error) {
	if len(xpubs) == 0 {
		return nil, &ferrors.Parse{Reason: "wallet requires at least one xpub"}
	}
	if threshold < 1 || threshold > len(xpubs) {
		return nil, &ferrors.Parse{Reason: fmt.Sprintf("threshold %d out of range [1,%d]", threshold, len(xpubs))}
	}

	fingerprints := make([]string, len(xpubs))
	for i, xpub := range xpubs {
		key, err := hdkeychain.NewKeyFromString(xpub)
		if err != nil {
			return nil, &ferrors.Parse{Reason: fmt.Sprintf("parsing xpub %d", i), Cause: err}
		}
		if key.IsPrivate() {
			return nil, &ferrors.Parse{Reason: fmt.Sprintf("xpub %d is an extended private key, not public", i)}
		}
		fp, err := keymat.Fingerprint(key)
		if err != nil {
			return nil, err
		}
		fingerprints[i] = fp
	}

	pair, err := descriptor.Build(threshold, xpubs)
	if err != nil {
		return nil, err
	}

	return &Wallet{
		Network:      network,
		Name:         name,
		Threshold:    threshold,
		Xpubs:        xpubs,
		Fingerprints: fingerprints,
		External:     pair.External,
		Change:       pair.Change,
		CreatedAt:    now,
	}, nil
}

// HasFingerprint reports whether fp is one of the wallet's signing key
// fingerprints.
func (w *Wallet) HasFingerprint(fp string) bool {
	for _, owned := range w.Fingerprints {
		if owned == fp {
			return true
		}
	}
	return false
}

// Register persists a freshly built wallet via save_if_absent and
// initializes its indexes to (0, 0), per spec.md §4.4. descriptorPath and
// indexesPath are resolved by the caller (fctx.Context), keeping this
// package free of path-resolution concerns.
func Register(descriptorPath, indexesPath string, wallet *Wallet) error {
	if err := store.SaveIfAbsent(descriptorPath, wallet, store.PublicFileMode); err != nil {
		return err
	}
	// The descriptor write is the one that must be create-if-absent; once it
	// has succeeded the wallet is committed, so the indexes file is written
	// unconditionally rather than risking a FileAlreadyExists on retry logic
	// the operator never asked for.
	return store.Save(indexesPath, &Indexes{Main: 0, Change: 0}, store.PublicFileMode)
}

// Load reads a wallet's descriptor.json.
func Load(descriptorPath string) (*Wallet, error) {
	wallet := &Wallet{}
	if err := store.Load(descriptorPath, wallet); err != nil {
		return nil, err
	}
	return wallet, nil
}

// LoadIndexes reads a wallet's indexes.json.
func LoadIndexes(indexesPath string) (*Indexes, error) {
	indexes := &Indexes{}
	if err := store.Load(indexesPath, indexes); err != nil {
		return nil, err
	}
	return indexes, nil
}

// NextExternal returns the current external index and persists it
// incremented by one.
func NextExternal(indexesPath string) (uint32, error) {
	indexes, err := LoadIndexes(indexesPath)
	if err != nil {
		return 0, err
	}
	current := indexes.Main
	indexes.Main++
	if err := store.Save(indexesPath, indexes, store.PublicFileMode); err != nil {
		return 0, err
	}
	return current, nil
}

// NextChange returns the current change index and persists it incremented
// by one.
func NextChange(indexesPath string) (uint32, error) {
	indexes, err := LoadIndexes(indexesPath)
	if err != nil {
		return 0, err
	}
	current := indexes.Change
	indexes.Change++
	if err := store.Save(indexesPath, indexes, store.PublicFileMode); err != nil {
		return 0, err
	}
	return current, nil
}

// DecrementChange rolls the change index back by one. Callers must only
// invoke this for an index that was allocated by NextChange earlier in the
// same operation and never handed to the node or the operator as used —
// spec.md §9 flags unconditional decrement as an off-by-one hazard, so this
// function takes the index the caller allocated and refuses to decrement
// past it, rather than blindly subtracting one from whatever is on disk.
func DecrementChange(indexesPath string, allocated uint32) error {
	indexes, err := LoadIndexes(indexesPath)
	if err != nil {
		return err
	}
	if indexes.Change != allocated+1 {
		// Another operation has already advanced the cursor past what this
		// caller allocated; rolling back now would erase someone else's
		// allocation instead of this caller's own.
		return nil
	}
	indexes.Change = allocated
	return store.Save(indexesPath, indexes, store.PublicFileMode)
}
