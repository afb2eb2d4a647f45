package core

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"occrlend/native/bank"
	"occrlend/native/identity"
	"occrlend/native/lending"
	"occrlend/native/occr"
)

// --- identity ---

func (n *Node) VerifyIdentity(ctx context.Context, caller common.Address, proof []byte) error {
	return n.execute(ctx, "identity.verify", func(context.Context) error {
		return n.identity.VerifyIdentity(caller, proof)
	})
}

func (n *Node) AdminSetVerified(ctx context.Context, caller, addr common.Address, verified bool) error {
	return n.execute(ctx, "identity.admin_set", func(context.Context) error {
		return n.identity.AdminSetVerified(caller, addr, verified)
	})
}

func (n *Node) IsVerified(addr common.Address) (bool, error) {
	var out bool
	err := n.read(func() error {
		var err error
		out, err = n.identity.IsVerified(addr)
		return err
	})
	return out, err
}

func (n *Node) IdentityRecord(addr common.Address) (identity.Record, bool, error) {
	var (
		rec identity.Record
		ok  bool
	)
	err := n.read(func() error {
		var err error
		rec, ok, err = n.identity.Record(addr)
		return err
	})
	return rec, ok, err
}

// --- score ---

func (n *Node) ScoreRecord(addr common.Address) (*occr.Record, error) {
	var out *occr.Record
	err := n.read(func() error {
		var err error
		out, err = n.score.Record(addr)
		return err
	})
	return out, err
}

func (n *Node) ScoreMicro(addr common.Address) (uint64, error) {
	var out uint64
	err := n.read(func() error {
		var err error
		out, err = n.score.ScoreMicro(addr)
		return err
	})
	return out, err
}

// MaxLTVBps returns the borrow ceiling of addr against the pool's base LTV.
func (n *Node) MaxLTVBps(addr common.Address) (uint64, error) {
	var out uint64
	err := n.read(func() error {
		var err error
		out, err = n.score.MaxLTVBps(addr, n.lending.BaseLTVBps())
		return err
	})
	return out, err
}

// RiskWithin evaluates the score-gated predicate: the risk of addr
// (max score minus score) is at most maxRiskMicro.
func (n *Node) RiskWithin(addr common.Address, maxRiskMicro uint64) (bool, uint64, error) {
	var (
		ok   bool
		risk uint64
	)
	err := n.read(func() error {
		var err error
		ok, risk, err = n.score.RiskWithin(addr, maxRiskMicro)
		return err
	})
	return ok, risk, err
}

// --- lending ---

func (n *Node) Deposit(ctx context.Context, caller common.Address, amount *big.Int) error {
	return n.execute(ctx, "lending.deposit", func(ctx context.Context) error {
		return n.lending.Deposit(ctx, caller, amount)
	})
}

func (n *Node) Withdraw(ctx context.Context, caller common.Address, amount *big.Int) error {
	return n.execute(ctx, "lending.withdraw", func(ctx context.Context) error {
		return n.lending.Withdraw(ctx, caller, amount)
	})
}

func (n *Node) Borrow(ctx context.Context, caller common.Address, amount *big.Int) error {
	return n.execute(ctx, "lending.borrow", func(ctx context.Context) error {
		return n.lending.Borrow(ctx, caller, amount)
	})
}

// Repay returns the amount actually applied to the caller's debt.
func (n *Node) Repay(ctx context.Context, caller common.Address, amount *big.Int) (*big.Int, error) {
	var applied *big.Int
	err := n.execute(ctx, "lending.repay", func(ctx context.Context) error {
		var err error
		applied, err = n.lending.Repay(ctx, caller, amount)
		return err
	})
	return applied, err
}

func (n *Node) RepayOnBehalf(ctx context.Context, caller, borrower common.Address, amount *big.Int) (*big.Int, error) {
	var applied *big.Int
	err := n.execute(ctx, "lending.repay_on_behalf", func(ctx context.Context) error {
		var err error
		applied, err = n.lending.RepayOnBehalf(ctx, caller, borrower, amount)
		return err
	})
	return applied, err
}

func (n *Node) DepositBuffer(ctx context.Context, caller common.Address, amount *big.Int) error {
	return n.execute(ctx, "lending.buffer_deposit", func(ctx context.Context) error {
		return n.lending.DepositBuffer(ctx, caller, amount)
	})
}

func (n *Node) WithdrawBuffer(ctx context.Context, caller common.Address, amount *big.Int) error {
	return n.execute(ctx, "lending.buffer_withdraw", func(ctx context.Context) error {
		return n.lending.WithdrawBuffer(ctx, caller, amount)
	})
}

func (n *Node) RepayFromBuffer(ctx context.Context, caller common.Address, amount *big.Int) error {
	return n.execute(ctx, "lending.repay_from_buffer", func(ctx context.Context) error {
		return n.lending.RepayFromBuffer(ctx, caller, amount)
	})
}

func (n *Node) ProtectWithBuffer(ctx context.Context, caller, borrower common.Address) (*big.Int, error) {
	var applied *big.Int
	err := n.execute(ctx, "lending.protect", func(ctx context.Context) error {
		var err error
		applied, err = n.lending.ProtectWithBuffer(ctx, caller, borrower)
		return err
	})
	return applied, err
}

// Liquidate returns the collateral seized by caller.
func (n *Node) Liquidate(ctx context.Context, caller, borrower common.Address, repayAmount *big.Int) (*big.Int, error) {
	var seized *big.Int
	err := n.execute(ctx, "lending.liquidate", func(ctx context.Context) error {
		var err error
		seized, err = n.lending.Liquidate(ctx, caller, borrower, repayAmount)
		return err
	})
	return seized, err
}

func (n *Node) SetPrice(ctx context.Context, caller common.Address, price *big.Int) error {
	return n.execute(ctx, "lending.set_price", func(ctx context.Context) error {
		return n.lending.SetPrice(ctx, caller, price)
	})
}

func (n *Node) Price() (*lending.PriceRecord, error) {
	var out *lending.PriceRecord
	err := n.read(func() error {
		var err error
		out, err = n.lending.Price()
		return err
	})
	return out, err
}

// PriceAtOrBelow evaluates the stop-loss style price predicate.
func (n *Node) PriceAtOrBelow(threshold *big.Int) (bool, *big.Int, error) {
	return n.priceCheck(n.lending.PriceAtOrBelow, threshold)
}

func (n *Node) PriceAtOrAbove(threshold *big.Int) (bool, *big.Int, error) {
	return n.priceCheck(n.lending.PriceAtOrAbove, threshold)
}

func (n *Node) priceCheck(check func(*big.Int) (bool, *big.Int, error), threshold *big.Int) (bool, *big.Int, error) {
	var (
		ok    bool
		price *big.Int
	)
	err := n.read(func() error {
		var err error
		ok, price, err = check(threshold)
		return err
	})
	return ok, price, err
}

func (n *Node) Position(user common.Address) (*lending.Position, error) {
	var out *lending.Position
	err := n.read(func() error {
		var err error
		out, err = n.lending.GetUserPositions(user)
		return err
	})
	return out, err
}

func (n *Node) IsUnderwater(user common.Address) (bool, error) {
	var out bool
	err := n.read(func() error {
		var err error
		out, err = n.lending.IsUnderwater(user)
		return err
	})
	return out, err
}

func (n *Node) MaxBorrowable(user common.Address) (*big.Int, error) {
	var out *big.Int
	err := n.read(func() error {
		var err error
		out, err = n.lending.MaxBorrowable(user)
		return err
	})
	return out, err
}

func (n *Node) Account(user common.Address) (*lending.Account, error) {
	var out *lending.Account
	err := n.read(func() error {
		var err error
		out, err = n.lending.AccountOf(user)
		return err
	})
	return out, err
}

// Accounts returns the account view of every indexed borrower.
func (n *Node) Accounts() ([]*lending.Account, error) {
	var out []*lending.Account
	err := n.read(func() error {
		borrowers, err := n.lending.Borrowers()
		if err != nil {
			return err
		}
		out = make([]*lending.Account, 0, len(borrowers))
		for _, addr := range borrowers {
			acct, err := n.lending.AccountOf(addr)
			if err != nil {
				return err
			}
			out = append(out, acct)
		}
		return nil
	})
	return out, err
}

func (n *Node) Market() (*lending.Market, error) {
	var out *lending.Market
	err := n.read(func() error {
		var err error
		out, err = n.lending.Market()
		return err
	})
	return out, err
}

// Liquidity is the pool's lendable debt-asset balance.
func (n *Node) Liquidity() (*big.Int, error) {
	var out *big.Int
	err := n.read(func() error {
		var err error
		out, err = n.lending.AvailableLiquidity()
		return err
	})
	return out, err
}

// --- tokens ---

// Token exposes the ledger for symbol. Mutations made directly on the
// returned token bypass the node journal.
func (n *Node) Token(symbol string) (*bank.Token, error) {
	token, ok := n.tokens[strings.ToUpper(strings.TrimSpace(symbol))]
	if !ok {
		return nil, ErrUnknownAsset
	}
	return token, nil
}

func (n *Node) Mint(ctx context.Context, caller common.Address, symbol string, to common.Address, amount *big.Int) error {
	token, err := n.Token(symbol)
	if err != nil {
		return err
	}
	return n.execute(ctx, "token.mint", func(context.Context) error {
		return token.Mint(caller, to, amount)
	})
}

func (n *Node) Approve(ctx context.Context, owner common.Address, symbol string, spender common.Address, amount *big.Int) error {
	token, err := n.Token(symbol)
	if err != nil {
		return err
	}
	return n.execute(ctx, "token.approve", func(context.Context) error {
		return token.Approve(owner, spender, amount)
	})
}

// ApprovePool grants the pool an allowance on symbol so deposits and
// repayments can pull funds from owner.
func (n *Node) ApprovePool(ctx context.Context, owner common.Address, symbol string, amount *big.Int) error {
	return n.Approve(ctx, owner, symbol, n.PoolAddress(), amount)
}

func (n *Node) Transfer(ctx context.Context, from common.Address, symbol string, to common.Address, amount *big.Int) error {
	token, err := n.Token(symbol)
	if err != nil {
		return err
	}
	return n.execute(ctx, "token.transfer", func(ctx context.Context) error {
		return token.Transfer(ctx, from, to, amount)
	})
}

func (n *Node) Balance(symbol string, addr common.Address) (*big.Int, error) {
	token, err := n.Token(symbol)
	if err != nil {
		return nil, err
	}
	var out *big.Int
	err = n.read(func() error {
		var err error
		out, err = token.BalanceOf(addr)
		return err
	})
	return out, err
}

func (n *Node) Allowance(symbol string, owner, spender common.Address) (*big.Int, error) {
	token, err := n.Token(symbol)
	if err != nil {
		return nil, err
	}
	var out *big.Int
	err = n.read(func() error {
		var err error
		out, err = token.Allowance(owner, spender)
		return err
	})
	return out, err
}
