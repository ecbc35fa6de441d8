package psbtprint

import (
	"encoding/hex"
	"testing"
)

func TestBiggestDividingPow(t *testing.T) {
	tests := []struct {
		num  uint64
		want uint8
	}{
		{3, 0},
		{10, 1},
		{11, 0},
		{110, 1},
		{1100, 2},
		{1100030, 1},
	}

	for _, tt := range tests {
		if got := BiggestDividingPow(tt.num); got != tt.want {
			t.Errorf("BiggestDividingPow(%d) = %d, want %d", tt.num, got, tt.want)
		}
	}
}

func TestScriptTypeFirstMatch(t *testing.T) {
	tests := []struct {
		name string
		hex  string
		want int
	}{
		{"p2pk", "21021aeaf2f8638a129a3156fbe7e5ef635226b0bafd495ff03afe2c843d7e3a4b51ac", 0},
		{"p2pkh", "76a91402306a7c23f3e8010de41e9e591348bb83f11daa88ac", 1},
		{"p2sh", "a914acc91e6fef5c7f24e5c8b3f11a664aa8f1352ffd87", 2},
		{"v0_p2wpkh", "00140c3e2a4e0911aac188fe1cba6ef3d808326e6d0a", 3},
		{"v0_p2wsh", "00201775ead41acefa14d2d534d6272da610cc35855d0de4cab0f5c1a3f894921989", 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			script, err := hex.DecodeString(tt.hex)
			if err != nil {
				t.Fatalf("hex.DecodeString(%q) error = %v", tt.hex, err)
			}
			got, ok := ScriptType(script)
			if !ok {
				t.Fatalf("ScriptType(%x) matched nothing, want %d", script, tt.want)
			}
			if got != tt.want {
				t.Errorf("ScriptType(%x) = %d, want %d", script, got, tt.want)
			}
		})
	}
}

func TestScriptTypeUnclassified(t *testing.T) {
	// An OP_RETURN script matches none of the five recognized classes.
	script := []byte{0x6a, 0x04, 0xde, 0xad, 0xbe, 0xef}
	if _, ok := ScriptType(script); ok {
		t.Error("ScriptType() matched an OP_RETURN script, want no match")
	}
}

func TestFormatPathHardenedMarker(t *testing.T) {
	path := []uint32{0x80000000 + 84, 0x80000000 + 0, 0x80000000 + 0, 0, 0}
	got := formatPath(path)
	want := "m/84'/0'/0'/0/0"
	if got != want {
		t.Errorf("formatPath() = %q, want %q", got, want)
	}
}
