// Package qrcode renders an artifact's JSON bytes to a QR-encoded PNG under
// its ".qr" sibling directory, the transport mechanism spec.md §6 uses to
// move public key and PSBT artifacts across the air gap. Grounded on the
// reference module's wallet QR endpoint, generalized from a single BIP21
// address URI to arbitrary artifact bytes and from a Vault HTTP response to
// a file on disk.
package qrcode

import (
	"os"
	"path/filepath"

	"github.com/skip2/go-qrcode"

	"github.com/firma-toolchain/firma/internal/ferrors"
	"github.com/firma-toolchain/firma/internal/pathresolver"
)

// DefaultSize is the PNG side length, in pixels, used when a caller does
// not override it.
const DefaultSize = 256

// MinSize and MaxSize bound the pixel size a caller may request, mirroring
// the reference module's wallet QR endpoint.
const (
	MinSize = 64
	MaxSize = 1024
)

// WritePNG encodes data as a QR code and writes it as a PNG to the ".qr"
// sibling of artifactPath (see pathresolver.QRPath). size must be in
// [MinSize, MaxSize]; pass DefaultSize when the caller has no preference.
func WritePNG(artifactPath string, data []byte, size int) (string, error) {
	if size < MinSize || size > MaxSize {
		return "", &ferrors.Parse{Reason: "qr size must be between 64 and 1024 pixels"}
	}

	png, err := qrcode.Encode(string(data), qrcode.Medium, size)
	if err != nil {
		return "", &ferrors.Parse{Reason: "encoding qr code", Cause: err}
	}

	qrPath := pathresolver.QRPath(artifactPath)
	if err := os.MkdirAll(filepath.Dir(qrPath), 0o755); err != nil {
		return "", &ferrors.FileNotFoundOrCorrupt{Path: qrPath, Reason: err.Error()}
	}
	if err := os.WriteFile(qrPath, png, 0o644); err != nil {
		return "", &ferrors.FileNotFoundOrCorrupt{Path: qrPath, Reason: err.Error()}
	}
	return qrPath, nil
}

// ASCII renders data as a terminal-displayable QR code, for operators
// without a way to view a PNG on the offline machine.
func ASCII(data []byte) (string, error) {
	qr, err := qrcode.New(string(data), qrcode.Medium)
	if err != nil {
		return "", &ferrors.Parse{Reason: "encoding qr code", Cause: err}
	}
	return qr.ToSmallString(false), nil
}
