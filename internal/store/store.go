// Package store implements the create-if-absent, read-or-fail-with-reason
// persistence discipline that keeps the offline and online roles in sync
// across an air gap. Every write serializes pretty JSON with Go's natural
// struct-field key order, so diffs between independently-produced copies
// of the same file stay meaningful.
package store

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"github.com/firma-toolchain/firma/internal/ferrors"
)

// PrivateFileMode is used for artifacts that carry private key material.
// Owner-read-only where the filesystem honors unix permission bits.
const PrivateFileMode = 0o600

// PublicFileMode is used for artifacts safe to share across the air gap.
const PublicFileMode = 0o644

// Save serializes value as pretty JSON and writes it to path, creating
// parent directories as needed. It overwrites any existing file.
func Save(path string, value interface{}, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &ferrors.FileNotFoundOrCorrupt{Path: path, Reason: err.Error()}
	}

	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return &ferrors.Parse{Reason: "marshal " + path, Cause: err}
	}
	data = append(data, '\n')

	if err := os.WriteFile(path, data, mode); err != nil {
		return &ferrors.FileNotFoundOrCorrupt{Path: path, Reason: err.Error()}
	}
	return nil
}

// SaveIfAbsent is Save's safe variant: it refuses to clobber an existing
// file, returning FileAlreadyExists so the caller can surface it to the
// operator rather than silently overwrite a wallet or key artifact.
func SaveIfAbsent(path string, value interface{}, mode os.FileMode) error {
	if _, err := os.Stat(path); err == nil {
		return &ferrors.FileAlreadyExists{Path: path}
	} else if !errors.Is(err, os.ErrNotExist) {
		return &ferrors.FileNotFoundOrCorrupt{Path: path, Reason: err.Error()}
	}
	return Save(path, value, mode)
}

// Load reads path and decodes it as JSON into out. Any failure, whether
// the file is missing or the contents don't parse, is reported as
// FileNotFoundOrCorrupt naming both the path and the underlying cause.
func Load(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &ferrors.FileNotFoundOrCorrupt{Path: path, Reason: err.Error()}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return &ferrors.FileNotFoundOrCorrupt{Path: path, Reason: err.Error()}
	}
	return nil
}

// Exists reports whether a file is present at path.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
