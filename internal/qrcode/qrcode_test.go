package qrcode

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWritePNGRejectsOutOfRangeSize(t *testing.T) {
	dir := t.TempDir()
	artifact := filepath.Join(dir, "public.json")

	if _, err := WritePNG(artifact, []byte(`{"xpub":"..."}`), 32); err == nil {
		t.Error("WritePNG() with size below MinSize succeeded, want error")
	}
	if _, err := WritePNG(artifact, []byte(`{"xpub":"..."}`), 2048); err == nil {
		t.Error("WritePNG() with size above MaxSize succeeded, want error")
	}
}

func TestWritePNGWritesUnderQRSiblingDir(t *testing.T) {
	dir := t.TempDir()
	artifact := filepath.Join(dir, "public.json")

	path, err := WritePNG(artifact, []byte(`{"xpub":"xpub..."}`), DefaultSize)
	if err != nil {
		t.Fatalf("WritePNG() error = %v", err)
	}
	if filepath.Dir(path) != filepath.Join(dir, ".qr") {
		t.Errorf("WritePNG() path = %q, want under %q", path, filepath.Join(dir, ".qr"))
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("expected PNG at %q: %v", path, err)
	}
}

func TestASCIIProducesNonEmptyOutput(t *testing.T) {
	out, err := ASCII([]byte("hello"))
	if err != nil {
		t.Fatalf("ASCII() error = %v", err)
	}
	if out == "" {
		t.Error("ASCII() returned empty string")
	}
}
