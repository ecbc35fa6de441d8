package descriptor

import (
	"strings"
	"testing"
)

func TestChecksumLength(t *testing.T) {
	sum, err := Checksum("wsh(sortedmulti(2,xpubAAA/0/*,xpubBBB/0/*))")
	if err != nil {
		t.Fatalf("Checksum() error = %v", err)
	}
	if len(sum) != 8 {
		t.Errorf("Checksum() length = %d, want 8", len(sum))
	}
	for _, ch := range sum {
		if !strings.ContainsRune(checksumCharset, ch) {
			t.Errorf("Checksum() produced %q outside checksum charset", ch)
		}
	}
}

func TestChecksumDeterministic(t *testing.T) {
	descriptor := "wsh(sortedmulti(2,xpubAAA/0/*,xpubBBB/0/*))"
	sum1, err := Checksum(descriptor)
	if err != nil {
		t.Fatalf("Checksum() error = %v", err)
	}
	sum2, err := Checksum(descriptor)
	if err != nil {
		t.Fatalf("Checksum() error = %v", err)
	}
	if sum1 != sum2 {
		t.Errorf("Checksum() not deterministic: %q != %q", sum1, sum2)
	}
}

func TestChecksumSensitiveToContent(t *testing.T) {
	a, err := Checksum("wsh(sortedmulti(2,xpubAAA/0/*,xpubBBB/0/*))")
	if err != nil {
		t.Fatalf("Checksum() error = %v", err)
	}
	b, err := Checksum("wsh(sortedmulti(2,xpubAAA/0/*,xpubCCC/0/*))")
	if err != nil {
		t.Fatalf("Checksum() error = %v", err)
	}
	if a == b {
		t.Error("Checksum() gave identical results for different descriptors")
	}
}

func TestChecksumRejectsUnsupportedCharacter(t *testing.T) {
	if _, err := Checksum("wsh(sortedmulti(2,xpub€/0/*))"); err == nil {
		t.Error("Checksum() accepted a non-ASCII character, want error")
	}
}

func TestBuildProducesExternalAndChangeChains(t *testing.T) {
	xpubs := []string{"xpubAAA", "xpubBBB", "xpubCCC"}
	pair, err := Build(2, xpubs)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if !strings.Contains(pair.External, "sortedmulti(2,xpubAAA/0/*,xpubBBB/0/*,xpubCCC/0/*)") {
		t.Errorf("External descriptor = %q, missing expected body", pair.External)
	}
	if !strings.Contains(pair.Change, "sortedmulti(2,xpubAAA/1/*,xpubBBB/1/*,xpubCCC/1/*)") {
		t.Errorf("Change descriptor = %q, missing expected body", pair.Change)
	}
	if !strings.Contains(pair.External, "#") || !strings.Contains(pair.Change, "#") {
		t.Error("Build() descriptors missing checksum suffix")
	}
}

func TestBuildRejectsBadThreshold(t *testing.T) {
	xpubs := []string{"xpubAAA", "xpubBBB"}

	tests := []struct {
		name      string
		threshold int
	}{
		{"zero", 0},
		{"exceeds N", 3},
		{"negative", -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Build(tt.threshold, xpubs); err == nil {
				t.Errorf("Build(%d, ...) succeeded, want error", tt.threshold)
			}
		})
	}
}

func TestBuildRejectsEmptyXpubs(t *testing.T) {
	if _, err := Build(1, nil); err == nil {
		t.Error("Build() with no xpubs succeeded, want error")
	}
}
