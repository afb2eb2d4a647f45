package bank

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"occrlend/core/events"
	"occrlend/core/state"
	nativecommon "occrlend/native/common"
	"occrlend/storage"
)

func makeAddress(b byte) common.Address {
	var addr common.Address
	addr[19] = b
	return addr
}

func newTestToken(t *testing.T) (*Token, common.Address) {
	t.Helper()
	minter := makeAddress(0xAA)
	token := NewToken("col", "Collateral", 18, minter)
	token.SetState(state.NewManager(storage.NewMemDB()))
	return token, minter
}

func balance(t *testing.T, token *Token, addr common.Address) int64 {
	t.Helper()
	bal, err := token.BalanceOf(addr)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return bal.Int64()
}

func TestMintRequiresMinter(t *testing.T) {
	token, minter := newTestToken(t)
	user := makeAddress(0x01)
	rec := &events.Recorder{}
	token.SetEmitter(rec)

	if err := token.Mint(user, user, big.NewInt(10)); !errors.Is(err, nativecommon.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := token.Mint(minter, user, big.NewInt(0)); !errors.Is(err, nativecommon.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if err := token.Mint(minter, user, big.NewInt(10)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if got := balance(t, token, user); got != 10 {
		t.Fatalf("expected balance 10, got %d", got)
	}
	supply, _ := token.TotalSupply()
	if supply.Int64() != 10 {
		t.Fatalf("expected supply 10, got %s", supply)
	}
	if len(rec.Events) != 1 || rec.Events[0].EventType() != events.TypeTokenMinted {
		t.Fatalf("expected a mint event, got %v", rec.Types())
	}
	if token.Symbol() != "COL" {
		t.Fatalf("symbol not normalised: %s", token.Symbol())
	}
}

func TestTransferFromConsumesAllowance(t *testing.T) {
	token, minter := newTestToken(t)
	owner, spender, dest := makeAddress(0x01), makeAddress(0x02), makeAddress(0x03)
	if err := token.Mint(minter, owner, big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	ctx := context.Background()

	if err := token.TransferFrom(ctx, spender, owner, dest, big.NewInt(10)); !errors.Is(err, nativecommon.ErrInsufficientBalance) {
		t.Fatalf("expected allowance failure, got %v", err)
	}
	if err := token.Approve(owner, spender, big.NewInt(30)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := token.TransferFrom(ctx, spender, owner, dest, big.NewInt(25)); err != nil {
		t.Fatalf("transferFrom: %v", err)
	}
	allowance, _ := token.Allowance(owner, spender)
	if allowance.Int64() != 5 {
		t.Fatalf("expected remaining allowance 5, got %s", allowance)
	}
	if balance(t, token, owner) != 75 || balance(t, token, dest) != 25 {
		t.Fatalf("unexpected balances owner=%d dest=%d", balance(t, token, owner), balance(t, token, dest))
	}

	// Owners move their own funds without an allowance.
	if err := token.TransferFrom(ctx, owner, owner, dest, big.NewInt(75)); err != nil {
		t.Fatalf("self transferFrom: %v", err)
	}
	if err := token.Transfer(ctx, owner, dest, big.NewInt(1)); !errors.Is(err, nativecommon.ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	if err := token.Approve(owner, spender, big.NewInt(-1)); !errors.Is(err, nativecommon.ErrInvalidAmount) {
		t.Fatalf("expected negative approval rejected, got %v", err)
	}
}

func TestTransferHookCanFailTransfer(t *testing.T) {
	token, minter := newTestToken(t)
	from, to := makeAddress(0x01), makeAddress(0x02)
	if err := token.Mint(minter, from, big.NewInt(5)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	hookErr := errors.New("hostile hook")
	calls := 0
	token.SetTransferHook(func(ctx context.Context, f, tt common.Address, amount *big.Int) error {
		calls++
		if f != from || tt != to || amount.Int64() != 5 {
			t.Fatalf("unexpected hook args %s %s %s", f.Hex(), tt.Hex(), amount)
		}
		return hookErr
	})
	if err := token.Transfer(context.Background(), from, to, big.NewInt(5)); !errors.Is(err, hookErr) {
		t.Fatalf("expected hook error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected one hook call, got %d", calls)
	}
}
