// Package pathresolver maps (datadir, network, kind, name) to the canonical
// on-disk layout shared by the offline and online roles. It is a pure
// function library: nothing here touches the filesystem beyond expanding a
// leading "~".
package pathresolver

import (
	"path/filepath"

	homedir "github.com/mitchellh/go-homedir"

	"github.com/firma-toolchain/firma/internal/ferrors"
)

// Kind is one of the three artifact families persisted under a datadir.
type Kind int

const (
	MasterKey Kind = iota
	Wallet
	PSBT
)

func (k Kind) String() string {
	switch k {
	case MasterKey:
		return "MasterKey"
	case Wallet:
		return "Wallet"
	case PSBT:
		return "PSBT"
	default:
		return "unknown"
	}
}

// requiresName reports whether a kind is namespaced by a per-artifact
// subdirectory. PSBT records live directly under the PSBT kind directory,
// named by their own id, so they take no separate name.
func requiresName(k Kind) bool {
	return k == MasterKey || k == Wallet
}

// KindDir resolves the directory for a kind, optionally scoped to name.
// A leading "~" in datadir is expanded against the user's home directory.
func KindDir(datadir, network string, kind Kind, name string) (string, error) {
	expanded, err := homedir.Expand(datadir)
	if err != nil {
		return "", &ferrors.PathExpansion{Cause: err}
	}

	if requiresName(kind) && name == "" {
		return "", &ferrors.MissingName{Kind: kind.String()}
	}

	parts := []string{expanded, network, kind.String()}
	if name != "" {
		parts = append(parts, name)
	}
	return filepath.Join(parts...), nil
}

// File resolves the full path to a file of the given kind.
func File(datadir, network string, kind Kind, name, file string) (string, error) {
	dir, err := KindDir(datadir, network, kind, name)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, file), nil
}

// QRPath returns the PNG sibling of a JSON artifact path, stored in a
// ".qr" directory alongside it.
func QRPath(path string) string {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	return filepath.Join(dir, ".qr", base+".png")
}
