package server

import (
	"encoding/hex"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"occrlend/crypto"
	"occrlend/native/identity"
	"occrlend/native/lending"
	"occrlend/native/occr"
)

type positionView struct {
	Collateral string `json:"collateral"`
	Debt       string `json:"debt"`
	Buffer     string `json:"buffer"`
}

type accountView struct {
	Address       string       `json:"address"`
	Bech32        string       `json:"bech32"`
	Position      positionView `json:"position"`
	ScoreMicro    uint64       `json:"scoreMicro"`
	MaxLTVBps     uint64       `json:"maxLtvBps"`
	MaxBorrowable string       `json:"maxBorrowable"`
	Underwater    bool         `json:"underwater"`
}

type scoreView struct {
	Address       string `json:"address"`
	ScoreMicro    uint64 `json:"scoreMicro"`
	MaxLTVBps     uint64 `json:"maxLtvBps"`
	Borrows       uint64 `json:"borrows"`
	Repayments    uint64 `json:"repayments"`
	Liquidations  uint64 `json:"liquidations"`
	TotalBorrowed string `json:"totalBorrowed"`
	TotalRepaid   string `json:"totalRepaid"`
	UpdatedAt     uint64 `json:"updatedAt"`
}

type identityView struct {
	Address     string `json:"address"`
	Verified    bool   `json:"verified"`
	Revoked     bool   `json:"revoked"`
	VerifiedAt  uint64 `json:"verifiedAt,omitempty"`
	ProofDigest string `json:"proofDigest,omitempty"`
	UpdatedBy   string `json:"updatedBy,omitempty"`
}

type priceView struct {
	Price     string `json:"price"`
	UpdatedAt uint64 `json:"updatedAt"`
	UpdatedBy string `json:"updatedBy"`
}

type marketView struct {
	Pool            string `json:"pool"`
	CollateralAsset string `json:"collateralAsset"`
	DebtAsset       string `json:"debtAsset"`
	TotalCollateral string `json:"totalCollateral"`
	TotalDebt       string `json:"totalDebt"`
	TotalBuffer     string `json:"totalBuffer"`
	Liquidity       string `json:"liquidity"`
	BaseLTVBps      uint64 `json:"baseLtvBps"`
	ThresholdBps    uint64 `json:"liquidationThresholdBps"`
	BonusBps        uint64 `json:"liquidationBonusBps"`
}

type balanceView struct {
	Address string `json:"address"`
	Asset   string `json:"asset"`
	Balance string `json:"balance"`
}

func hexAddr(addr common.Address) string { return strings.ToLower(addr.Hex()) }

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func newPositionView(p *lending.Position) positionView {
	if p == nil {
		return positionView{Collateral: "0", Debt: "0", Buffer: "0"}
	}
	return positionView{
		Collateral: amountString(p.Collateral),
		Debt:       amountString(p.Debt),
		Buffer:     amountString(p.Buffer),
	}
}

func newAccountView(a *lending.Account) accountView {
	return accountView{
		Address:       hexAddr(a.Address),
		Bech32:        crypto.Bech32(a.Address),
		Position:      newPositionView(a.Position),
		ScoreMicro:    a.ScoreMicro,
		MaxLTVBps:     a.MaxLTVBps,
		MaxBorrowable: amountString(a.MaxBorrowable),
		Underwater:    a.Underwater,
	}
}

func newScoreView(addr common.Address, rec *occr.Record, maxLTV uint64) scoreView {
	return scoreView{
		Address:       hexAddr(addr),
		ScoreMicro:    rec.ScoreMicro,
		MaxLTVBps:     maxLTV,
		Borrows:       rec.Borrows,
		Repayments:    rec.Repayments,
		Liquidations:  rec.Liquidations,
		TotalBorrowed: amountString(rec.TotalBorrowed),
		TotalRepaid:   amountString(rec.TotalRepaid),
		UpdatedAt:     rec.UpdatedAt,
	}
}

func newIdentityView(addr common.Address, rec identity.Record, found bool) identityView {
	view := identityView{Address: hexAddr(addr)}
	if !found {
		return view
	}
	view.Verified = rec.Verified
	view.Revoked = rec.Revoked
	view.VerifiedAt = rec.VerifiedAt
	if rec.ProofDigest != ([32]byte{}) {
		view.ProofDigest = "0x" + hex.EncodeToString(rec.ProofDigest[:])
	}
	if rec.UpdatedBy != (common.Address{}) {
		view.UpdatedBy = hexAddr(rec.UpdatedBy)
	}
	return view
}

func newPriceView(p *lending.PriceRecord) priceView {
	return priceView{Price: amountString(p.Price), UpdatedAt: p.UpdatedAt, UpdatedBy: hexAddr(p.UpdatedBy)}
}
