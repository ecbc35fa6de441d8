package psbtbuild

import (
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg"

	"github.com/firma-toolchain/firma/internal/keymat"
	"github.com/firma-toolchain/firma/internal/walletmodel"
)

func testWallet(t *testing.T, n, threshold int) *walletmodel.Wallet {
	t.Helper()
	xpubs := make([]string, n)
	for i := 0; i < n; i++ {
		key, _, err := keymat.FromRandomEntropy("mainnet")
		if err != nil {
			t.Fatalf("FromRandomEntropy() error = %v", err)
		}
		pub, err := key.Neuter()
		if err != nil {
			t.Fatalf("Neuter() error = %v", err)
		}
		xpubs[i] = pub.String()
	}
	wallet, err := walletmodel.Build("mainnet", "vault", threshold, xpubs, time.Unix(0, 0))
	if err != nil {
		t.Fatalf("walletmodel.Build() error = %v", err)
	}
	return wallet
}

func TestDeriveMultisigScriptDeterministic(t *testing.T) {
	wallet := testWallet(t, 3, 2)

	witness1, pk1, addr1, err := deriveMultisigScript(wallet, externalChain, 0, &chaincfg.MainNetParams)
	if err != nil {
		t.Fatalf("deriveMultisigScript() error = %v", err)
	}
	witness2, pk2, addr2, err := deriveMultisigScript(wallet, externalChain, 0, &chaincfg.MainNetParams)
	if err != nil {
		t.Fatalf("deriveMultisigScript() error = %v", err)
	}

	if string(witness1) != string(witness2) || string(pk1) != string(pk2) || addr1 != addr2 {
		t.Error("deriveMultisigScript() is not deterministic for identical inputs")
	}
}

func TestDeriveMultisigScriptVariesByIndex(t *testing.T) {
	wallet := testWallet(t, 2, 2)

	_, _, addr0, err := deriveMultisigScript(wallet, externalChain, 0, &chaincfg.MainNetParams)
	if err != nil {
		t.Fatalf("deriveMultisigScript() error = %v", err)
	}
	_, _, addr1, err := deriveMultisigScript(wallet, externalChain, 1, &chaincfg.MainNetParams)
	if err != nil {
		t.Fatalf("deriveMultisigScript() error = %v", err)
	}
	if addr0 == addr1 {
		t.Error("deriveMultisigScript() gave the same address for different indices")
	}
}

func TestSortSerializedKeysIsOrderIndependent(t *testing.T) {
	a := []byte{0x01, 0x02}
	b := []byte{0x01, 0x01}
	c := []byte{0x00, 0xff}

	keys1 := [][]byte{append([]byte(nil), a...), append([]byte(nil), b...), append([]byte(nil), c...)}
	keys2 := [][]byte{append([]byte(nil), c...), append([]byte(nil), a...), append([]byte(nil), b...)}

	sortSerializedKeys(keys1)
	sortSerializedKeys(keys2)

	for i := range keys1 {
		if string(keys1[i]) != string(keys2[i]) {
			t.Fatalf("sortSerializedKeys() order depends on input order at %d: %x != %x", i, keys1[i], keys2[i])
		}
	}
}

func TestDetectAddressReuseFlagsIssuedAddress(t *testing.T) {
	wallet := testWallet(t, 2, 2)

	_, _, issuedAddr, err := deriveMultisigScript(wallet, externalChain, 0, &chaincfg.MainNetParams)
	if err != nil {
		t.Fatalf("deriveMultisigScript() error = %v", err)
	}
	_, _, freshAddr, err := deriveMultisigScript(wallet, externalChain, 5, &chaincfg.MainNetParams)
	if err != nil {
		t.Fatalf("deriveMultisigScript() error = %v", err)
	}

	recipients := []Recipient{
		{Address: issuedAddr, Satoshi: 10000},
		{Address: freshAddr, Satoshi: 20000},
	}

	reused, err := detectAddressReuse(recipients, wallet, 1, &chaincfg.MainNetParams)
	if err != nil {
		t.Fatalf("detectAddressReuse() error = %v", err)
	}
	if len(reused) != 1 || reused[0] != issuedAddr {
		t.Errorf("detectAddressReuse() = %v, want [%s]", reused, issuedAddr)
	}
}

func TestDetectAddressReuseEmptyWhenNoIssuedAddresses(t *testing.T) {
	wallet := testWallet(t, 2, 2)
	_, _, addr, err := deriveMultisigScript(wallet, externalChain, 0, &chaincfg.MainNetParams)
	if err != nil {
		t.Fatalf("deriveMultisigScript() error = %v", err)
	}

	reused, err := detectAddressReuse([]Recipient{{Address: addr, Satoshi: 1000}}, wallet, 0, &chaincfg.MainNetParams)
	if err != nil {
		t.Fatalf("detectAddressReuse() error = %v", err)
	}
	if len(reused) != 0 {
		t.Errorf("detectAddressReuse() = %v, want empty with no issued addresses", reused)
	}
}
