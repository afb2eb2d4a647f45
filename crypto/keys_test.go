package crypto

import (
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestBech32RoundTrip(t *testing.T) {
	addr := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	encoded := Bech32(addr)
	if !strings.HasPrefix(encoded, "occr1") {
		t.Fatalf("unexpected encoding %s", encoded)
	}
	decoded, err := ParseAddress(encoded)
	if err != nil {
		t.Fatalf("parse bech32: %v", err)
	}
	if decoded != addr {
		t.Fatalf("round trip mismatch: %s != %s", decoded.Hex(), addr.Hex())
	}
}

func TestParseAddressHex(t *testing.T) {
	addr, err := ParseAddress(" 0x00000000000000000000000000000000000000aa ")
	if err != nil {
		t.Fatalf("parse hex: %v", err)
	}
	if addr != common.HexToAddress("0xaa") {
		t.Fatalf("unexpected address %s", addr.Hex())
	}
	for _, bad := range []string{"", "0x1234", "nope"} {
		if _, err := ParseAddress(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestModuleAddressIsStable(t *testing.T) {
	a := ModuleAddress("occr/lending/pool")
	b := ModuleAddress("occr/lending/pool")
	c := ModuleAddress("occr/score")
	if a != b {
		t.Fatalf("module address not deterministic")
	}
	if a == c {
		t.Fatalf("distinct modules share an address")
	}
}

func TestGeneratedKeyAddress(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	restored, err := PrivateKeyFromBytes(key.Bytes())
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if key.PubKey().Address() != restored.PubKey().Address() {
		t.Fatalf("restored key derives a different address")
	}
}
