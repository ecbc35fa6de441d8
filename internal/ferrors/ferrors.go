// Package ferrors defines the closed set of error kinds the toolchain can
// surface to the CLI boundary. Every operation returns one of these rather
// than a bare fmt.Errorf, so callers can errors.As their way to a decision
// instead of matching on message text.
package ferrors

import "fmt"

// FileAlreadyExists is returned when a create-if-absent write finds a file
// already at the target path, refusing to clobber wallet/key artifacts.
type FileAlreadyExists struct {
	Path string
}

func (e *FileAlreadyExists) Error() string {
	return fmt.Sprintf("file already exists: %s", e.Path)
}

// FileNotFoundOrCorrupt is returned when a load fails, naming both the file
// and the parse/read cause.
type FileNotFoundOrCorrupt struct {
	Path   string
	Reason string
}

func (e *FileNotFoundOrCorrupt) Error() string {
	return fmt.Sprintf("file not found or corrupt: %s (%s)", e.Path, e.Reason)
}

// PathExpansion is returned when a leading tilde in a datadir cannot be
// resolved against the user's home directory.
type PathExpansion struct {
	Cause error
}

func (e *PathExpansion) Error() string {
	return fmt.Sprintf("path expansion failed: %v", e.Cause)
}

func (e *PathExpansion) Unwrap() error { return e.Cause }

// MissingName is returned when a resolver Kind requires a name and none was
// given.
type MissingName struct {
	Kind string
}

func (e *MissingName) Error() string {
	return fmt.Sprintf("missing name for kind %s", e.Kind)
}

// MissingField is returned when a required JSON field is absent from a
// loaded artifact, most notably "xprv" when a public-only key is handed to
// the signer.
type MissingField struct {
	Name string
}

func (e *MissingField) Error() string {
	return fmt.Sprintf("missing field: %s", e.Name)
}

// UnrelatedKey is returned when a signing key's master fingerprint is not a
// member of the wallet's fingerprint set.
type UnrelatedKey struct {
	Fingerprint string
}

func (e *UnrelatedKey) Error() string {
	return fmt.Sprintf("key fingerprint %s is not part of this wallet", e.Fingerprint)
}

// AlreadySigned is the idempotency guard on sign: this key has already
// contributed a partial signature to the PSBT.
type AlreadySigned struct {
	Fingerprint string
}

func (e *AlreadySigned) Error() string {
	return fmt.Sprintf("already signed by fingerprint %s", e.Fingerprint)
}

// PsbtInconsistent is returned for witness/non-witness UTXO disagreement or
// a prev-tx txid mismatch against the outpoint it is supposed to satisfy.
type PsbtInconsistent struct {
	Reason string
}

func (e *PsbtInconsistent) Error() string {
	return fmt.Sprintf("inconsistent psbt: %s", e.Reason)
}

// PsbtMismatch is returned when merging PSBTs whose unsigned transactions
// differ.
type PsbtMismatch struct {
	Reason string
}

func (e *PsbtMismatch) Error() string {
	return fmt.Sprintf("psbt mismatch: %s", e.Reason)
}

// InsufficientEntropy is returned when a dice roll sequence falls short of
// the entropy floor required for a 256-bit seed.
type InsufficientEntropy struct {
	Got, Need int
}

func (e *InsufficientEntropy) Error() string {
	return fmt.Sprintf("insufficient entropy: got %d throws, need at least %d", e.Got, e.Need)
}

// NodeRPC wraps a failure reported by the external full-node RPC collaborator.
type NodeRPC struct {
	Reason string
	Cause  error
}

func (e *NodeRPC) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("node rpc: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("node rpc: %s", e.Reason)
}

func (e *NodeRPC) Unwrap() error { return e.Cause }

// Parse is returned for descriptor, address, amount, or JSON parse failures.
type Parse struct {
	Reason string
	Cause  error
}

func (e *Parse) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("parse error: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("parse error: %s", e.Reason)
}

func (e *Parse) Unwrap() error { return e.Cause }
