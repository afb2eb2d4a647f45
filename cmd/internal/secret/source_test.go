package secret

import (
	"os"
	"testing"
)

func TestSourcePrefersEnvironment(t *testing.T) {
	t.Setenv("OCCR_TEST_SIGNING_SECRET", "hunter2")
	src := NewSource("OCCR_TEST_SIGNING_SECRET", "signing secret")
	got, err := src.Get()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != "hunter2" {
		t.Fatalf("unexpected secret %q", got)
	}
	os.Unsetenv("OCCR_TEST_SIGNING_SECRET")
	if again, _ := src.Get(); again != "hunter2" {
		t.Fatalf("expected cached secret, got %q", again)
	}
}

func TestSourceRejectsBlankEnvironment(t *testing.T) {
	t.Setenv("OCCR_TEST_SIGNING_SECRET", "  ")
	if _, err := NewSource("OCCR_TEST_SIGNING_SECRET", "").Get(); err == nil {
		t.Fatal("expected blank secret to be rejected")
	}
}

func TestSourceWithoutTerminal(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer r.Close()
	defer w.Close()
	src := NewSource("OCCR_TEST_UNSET_SECRET", "signing secret")
	src.fd = int(r.Fd())
	if _, err := src.Get(); err == nil {
		t.Fatal("expected error without a terminal")
	}
}
