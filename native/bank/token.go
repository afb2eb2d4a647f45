package bank

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"occrlend/core/events"
	nativecommon "occrlend/native/common"
)

var (
	errNilState             = errors.New("bank: state not configured")
	errInsufficientFunds    = fmt.Errorf("%w: bank balance", nativecommon.ErrInsufficientBalance)
	errInsufficientApproval = fmt.Errorf("%w: bank allowance", nativecommon.ErrInsufficientBalance)
)

type tokenState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// TransferHook observes every successful balance movement. Returning an error
// fails the transfer; the caller's transaction is expected to roll back.
type TransferHook func(ctx context.Context, from, to common.Address, amount *big.Int) error

// Token is a fungible balance ledger with ERC-20 style allowances. Each
// instance is keyed by its symbol so several tokens share one state manager.
type Token struct {
	symbol   string
	name     string
	decimals uint8
	minter   common.Address
	state    tokenState
	hook     TransferHook
	emitter  events.Emitter
}

// NewToken constructs a token ledger. minter is the only address allowed to
// create supply.
func NewToken(symbol, name string, decimals uint8, minter common.Address) *Token {
	return &Token{
		symbol:   strings.ToUpper(strings.TrimSpace(symbol)),
		name:     strings.TrimSpace(name),
		decimals: decimals,
		minter:   minter,
		emitter:  events.NoopEmitter{},
	}
}

// SetState wires the token to the persistence layer.
func (t *Token) SetState(state tokenState) { t.state = state }

// SetTransferHook installs a callback invoked after each transfer.
func (t *Token) SetTransferHook(hook TransferHook) { t.hook = hook }

// SetEmitter configures the event emitter. Passing nil installs a no-op.
func (t *Token) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		t.emitter = events.NoopEmitter{}
		return
	}
	t.emitter = emitter
}

func (t *Token) Symbol() string { return t.symbol }
func (t *Token) Name() string { return t.name }
func (t *Token) Decimals() uint8 { return t.decimals }

func (t *Token) balanceKey(addr common.Address) []byte {
	return []byte(fmt.Sprintf("bank/%s/balance/%x", t.symbol, addr.Bytes()))
}

func (t *Token) allowanceKey(owner, spender common.Address) []byte {
	return []byte(fmt.Sprintf("bank/%s/allowance/%x/%x", t.symbol, owner.Bytes(), spender.Bytes()))
}

func (t *Token) supplyKey() []byte {
	return []byte(fmt.Sprintf("bank/%s/supply", t.symbol))
}

func (t *Token) load(key []byte) (*big.Int, error) {
	if t == nil || t.state == nil {
		return nil, errNilState
	}
	value := new(big.Int)
	if _, err := t.state.KVGet(key, value); err != nil {
		return nil, err
	}
	return value, nil
}

func (t *Token) store(key []byte, value *big.Int) error {
	if t == nil || t.state == nil {
		return errNilState
	}
	return t.state.KVPut(key, value)
}

// BalanceOf returns the balance held by addr.
func (t *Token) BalanceOf(addr common.Address) (*big.Int, error) {
	return t.load(t.balanceKey(addr))
}

// TotalSupply returns the amount minted so far.
func (t *Token) TotalSupply() (*big.Int, error) {
	return t.load(t.supplyKey())
}

// Allowance returns how much spender may move on behalf of owner.
func (t *Token) Allowance(owner, spender common.Address) (*big.Int, error) {
	return t.load(t.allowanceKey(owner, spender))
}

// Mint creates amount new units for to.
func (t *Token) Mint(caller, to common.Address, amount *big.Int) error {
	if caller != t.minter {
		return fmt.Errorf("%w: %s is not the %s minter", nativecommon.ErrUnauthorized, caller.Hex(), t.symbol)
	}
	if err := nativecommon.PositiveAmount(amount); err != nil {
		return err
	}
	supply, err := t.TotalSupply()
	if err != nil {
		return err
	}
	balance, err := t.BalanceOf(to)
	if err != nil {
		return err
	}
	supply.Add(supply, amount)
	if err := nativecommon.PositiveAmount(supply); err != nil {
		return err
	}
	if err := t.store(t.supplyKey(), supply); err != nil {
		return err
	}
	if err := t.store(t.balanceKey(to), balance.Add(balance, amount)); err != nil {
		return err
	}
	t.emitter.Emit(events.TokenMinted{Asset: t.symbol, To: to, Amount: new(big.Int).Set(amount)})
	return nil
}

// Approve replaces the allowance granted by owner to spender. Zero revokes.
func (t *Token) Approve(owner, spender common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("%w: allowance must not be negative", nativecommon.ErrInvalidAmount)
	}
	if amount.Sign() > 0 {
		if err := nativecommon.PositiveAmount(amount); err != nil {
			return err
		}
	}
	return t.store(t.allowanceKey(owner, spender), new(big.Int).Set(amount))
}

// Transfer moves amount from the caller's balance to to.
func (t *Token) Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error {
	return t.move(ctx, from, to, amount)
}

// TransferFrom moves amount from from to to on behalf of spender, consuming
// allowance unless spender is the owner.
func (t *Token) TransferFrom(ctx context.Context, spender, from, to common.Address, amount *big.Int) error {
	if err := nativecommon.PositiveAmount(amount); err != nil {
		return err
	}
	balance, err := t.BalanceOf(from)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return errInsufficientFunds
	}
	if spender != from {
		allowance, err := t.Allowance(from, spender)
		if err != nil {
			return err
		}
		if allowance.Cmp(amount) < 0 {
			return errInsufficientApproval
		}
		if err := t.store(t.allowanceKey(from, spender), allowance.Sub(allowance, amount)); err != nil {
			return err
		}
	}
	return t.move(ctx, from, to, amount)
}

func (t *Token) move(ctx context.Context, from, to common.Address, amount *big.Int) error {
	if err := nativecommon.PositiveAmount(amount); err != nil {
		return err
	}
	fromBal, err := t.BalanceOf(from)
	if err != nil {
		return err
	}
	if fromBal.Cmp(amount) < 0 {
		return errInsufficientFunds
	}
	if from != to {
		toBal, err := t.BalanceOf(to)
		if err != nil {
			return err
		}
		if err := t.store(t.balanceKey(from), fromBal.Sub(fromBal, amount)); err != nil {
			return err
		}
		if err := t.store(t.balanceKey(to), toBal.Add(toBal, amount)); err != nil {
			return err
		}
	}
	if t.hook != nil {
		return t.hook(ctx, from, to, new(big.Int).Set(amount))
	}
	return nil
}
