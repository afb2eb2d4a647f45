package common

import (
	"errors"
	"math/big"
	"testing"
)

func TestPositiveAmount(t *testing.T) {
	if err := PositiveAmount(big.NewInt(1)); err != nil {
		t.Fatalf("expected 1 to be valid: %v", err)
	}
	tooWide := new(big.Int).Lsh(big.NewInt(1), 256)
	for _, v := range []*big.Int{nil, big.NewInt(0), big.NewInt(-5), tooWide} {
		if err := PositiveAmount(v); !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("expected ErrInvalidAmount for %v, got %v", v, err)
		}
	}
}

func TestParseAmount(t *testing.T) {
	got, err := ParseAmount(" 1000000000000000000 ")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.String() != "1000000000000000000" {
		t.Fatalf("unexpected value %s", got)
	}
	for _, raw := range []string{"", "-1", "1.5", "abc"} {
		if _, err := ParseAmount(raw); !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("expected ErrInvalidAmount for %q, got %v", raw, err)
		}
	}
}
