package server

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"occrlend/crypto"
	nativecommon "occrlend/native/common"
	"occrlend/observability/logging"
	"occrlend/services/lending/history"
)

const maxRequestBytes = 64 << 10

type amountRequest struct {
	Amount string `json:"amount"`
}

type borrowerRequest struct {
	Borrower string `json:"borrower"`
	Amount   string `json:"amount,omitempty"`
}

type verifyRequest struct {
	Proof string `json:"proof"`
}

type tokenRequest struct {
	To      string `json:"to,omitempty"`
	Spender string `json:"spender,omitempty"`
	Amount  string `json:"amount"`
}

type priceRequest struct {
	Price string `json:"price"`
}

type adminIdentityRequest struct {
	Address  string `json:"address"`
	Verified bool   `json:"verified"`
}

type mintRequest struct {
	Asset  string `json:"asset"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type mutationResponse struct {
	Applied string      `json:"applied,omitempty"`
	Seized  string      `json:"seized,omitempty"`
	Account accountView `json:"account"`
}

type badRequest struct{ msg string }

func (e badRequest) Error() string { return e.msg }

func decodeBody(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return badRequest{msg: fmt.Sprintf("invalid request body: %v", err)}
	}
	return nil
}

func parseAddressParam(raw, field string) (common.Address, error) {
	addr, err := crypto.ParseAddress(raw)
	if err != nil {
		return common.Address{}, badRequest{msg: fmt.Sprintf("%s: %v", field, err)}
	}
	return addr, nil
}

// fail writes a 400 for request-shape problems and maps everything else
// through the engine taxonomy.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	if br, ok := err.(badRequest); ok {
		writeError(w, http.StatusBadRequest, "bad_request", br.msg)
		return
	}
	s.writeEngineError(w, r, err)
}

func mustCaller(r *http.Request) common.Address {
	caller, _ := CallerFromContext(r.Context())
	return caller
}

func (s *Server) respondAccount(w http.ResponseWriter, r *http.Request, addr common.Address, applied, seized *big.Int) {
	acct, err := s.node.Account(addr)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	resp := mutationResponse{Account: newAccountView(acct)}
	if applied != nil {
		resp.Applied = applied.String()
	}
	if seized != nil {
		resp.Seized = seized.String()
	}
	writeJSON(w, http.StatusOK, resp)
}

// amountOp covers the endpoints whose only input is an amount for the caller.
func (s *Server) amountOp(op func(r *http.Request, caller common.Address, amount *big.Int) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req amountRequest
		if err := decodeBody(r, &req); err != nil {
			s.fail(w, r, err)
			return
		}
		amount, err := nativecommon.ParseAmount(req.Amount)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		caller := mustCaller(r)
		if err := op(r, caller, amount); err != nil {
			s.fail(w, r, err)
			return
		}
		s.respondAccount(w, r, caller, nil, nil)
	}
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	s.amountOp(func(r *http.Request, caller common.Address, amount *big.Int) error {
		return s.node.Deposit(r.Context(), caller, amount)
	})(w, r)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	s.amountOp(func(r *http.Request, caller common.Address, amount *big.Int) error {
		return s.node.Withdraw(r.Context(), caller, amount)
	})(w, r)
}

func (s *Server) handleBorrow(w http.ResponseWriter, r *http.Request) {
	s.amountOp(func(r *http.Request, caller common.Address, amount *big.Int) error {
		return s.node.Borrow(r.Context(), caller, amount)
	})(w, r)
}

func (s *Server) handleBufferDeposit(w http.ResponseWriter, r *http.Request) {
	s.amountOp(func(r *http.Request, caller common.Address, amount *big.Int) error {
		return s.node.DepositBuffer(r.Context(), caller, amount)
	})(w, r)
}

func (s *Server) handleBufferWithdraw(w http.ResponseWriter, r *http.Request) {
	s.amountOp(func(r *http.Request, caller common.Address, amount *big.Int) error {
		return s.node.WithdrawBuffer(r.Context(), caller, amount)
	})(w, r)
}

func (s *Server) handleBufferRepay(w http.ResponseWriter, r *http.Request) {
	s.amountOp(func(r *http.Request, caller common.Address, amount *big.Int) error {
		return s.node.RepayFromBuffer(r.Context(), caller, amount)
	})(w, r)
}

func (s *Server) handleRepay(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	amount, err := nativecommon.ParseAmount(req.Amount)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	caller := mustCaller(r)
	applied, err := s.node.Repay(r.Context(), caller, amount)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondAccount(w, r, caller, applied, nil)
}

func (s *Server) decodeBorrower(r *http.Request, needAmount bool) (common.Address, *big.Int, error) {
	var req borrowerRequest
	if err := decodeBody(r, &req); err != nil {
		return common.Address{}, nil, err
	}
	borrower, err := parseAddressParam(req.Borrower, "borrower")
	if err != nil {
		return common.Address{}, nil, err
	}
	if !needAmount {
		return borrower, nil, nil
	}
	amount, err := nativecommon.ParseAmount(req.Amount)
	if err != nil {
		return common.Address{}, nil, err
	}
	return borrower, amount, nil
}

func (s *Server) handleRepayOnBehalf(w http.ResponseWriter, r *http.Request) {
	borrower, amount, err := s.decodeBorrower(r, true)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	applied, err := s.node.RepayOnBehalf(r.Context(), mustCaller(r), borrower, amount)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondAccount(w, r, borrower, applied, nil)
}

func (s *Server) handleProtect(w http.ResponseWriter, r *http.Request) {
	borrower, _, err := s.decodeBorrower(r, false)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	applied, err := s.node.ProtectWithBuffer(r.Context(), mustCaller(r), borrower)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondAccount(w, r, borrower, applied, nil)
}

func (s *Server) handleLiquidate(w http.ResponseWriter, r *http.Request) {
	borrower, amount, err := s.decodeBorrower(r, true)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	seized, err := s.node.Liquidate(r.Context(), mustCaller(r), borrower, amount)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondAccount(w, r, borrower, amount, seized)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	proof, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(req.Proof), "0x"))
	if err != nil || len(proof) == 0 {
		s.fail(w, r, badRequest{msg: "proof must be non-empty hex"})
		return
	}
	caller := mustCaller(r)
	if err := s.node.VerifyIdentity(r.Context(), caller, proof); err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Debug("identity proof accepted", slog.String("account", hexAddr(caller)), logging.ProofSize(proof))
	s.writeIdentity(w, r, caller)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	amount, err := nativecommon.ParseAmount(req.Amount)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	spender := s.node.PoolAddress()
	if strings.TrimSpace(req.Spender) != "" {
		if spender, err = parseAddressParam(req.Spender, "spender"); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	asset := chi.URLParam(r, "asset")
	caller := mustCaller(r)
	if err := s.node.Approve(r.Context(), caller, asset, spender, amount); err != nil {
		s.fail(w, r, err)
		return
	}
	allowance, err := s.node.Allowance(asset, caller, spender)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"owner":     hexAddr(caller),
		"spender":   hexAddr(spender),
		"asset":     strings.ToUpper(asset),
		"allowance": allowance.String(),
	})
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	to, err := parseAddressParam(req.To, "to")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	amount, err := nativecommon.ParseAmount(req.Amount)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	asset := chi.URLParam(r, "asset")
	caller := mustCaller(r)
	if err := s.node.Transfer(r.Context(), caller, asset, to, amount); err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeBalance(w, r, caller, asset)
}

// --- admin ---

func (s *Server) handleSetPrice(w http.ResponseWriter, r *http.Request) {
	var req priceRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	price, err := nativecommon.ParseAmount(req.Price)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.node.SetPrice(r.Context(), mustCaller(r), price); err != nil {
		s.fail(w, r, err)
		return
	}
	s.handlePrice(w, r)
}

func (s *Server) handleAdminIdentity(w http.ResponseWriter, r *http.Request) {
	var req adminIdentityRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	addr, err := parseAddressParam(req.Address, "address")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.node.AdminSetVerified(r.Context(), mustCaller(r), addr, req.Verified); err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeIdentity(w, r, addr)
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	var req mintRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	to, err := parseAddressParam(req.To, "to")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	amount, err := nativecommon.ParseAmount(req.Amount)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.node.Mint(r.Context(), mustCaller(r), req.Asset, to, amount); err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeBalance(w, r, to, req.Asset)
}

// --- reads ---

func (s *Server) handleMarket(w http.ResponseWriter, r *http.Request) {
	market, err := s.node.Market()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	liquidity, err := s.node.Liquidity()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	params := s.node.LendingParams()
	writeJSON(w, http.StatusOK, marketView{
		Pool:            hexAddr(s.node.PoolAddress()),
		CollateralAsset: s.node.CollateralSymbol(),
		DebtAsset:       s.node.DebtSymbol(),
		TotalCollateral: amountString(market.TotalCollateral),
		TotalDebt:       amountString(market.TotalDebt),
		TotalBuffer:     amountString(market.TotalBuffer),
		Liquidity:       amountString(liquidity),
		BaseLTVBps:      params.BaseLTVBps,
		ThresholdBps:    params.LiquidationThresholdBps,
		BonusBps:        params.LiquidationBonusBps,
	})
}

func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request) {
	price, err := s.node.Price()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newPriceView(price))
}

func (s *Server) handleAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.node.Accounts()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	underwaterOnly := r.URL.Query().Get("underwater") == "true"
	out := make([]accountView, 0, len(accounts))
	for _, acct := range accounts {
		if underwaterOnly && !acct.Underwater {
			continue
		}
		out = append(out, newAccountView(acct))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"accounts": out})
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddressParam(chi.URLParam(r, "address"), "address")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	acct, err := s.node.Account(addr)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newAccountView(acct))
}

func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddressParam(chi.URLParam(r, "address"), "address")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	rec, err := s.node.ScoreRecord(addr)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	maxLTV, err := s.node.MaxLTVBps(addr)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newScoreView(addr, rec, maxLTV))
}

func (s *Server) handleIdentity(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddressParam(chi.URLParam(r, "address"), "address")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeIdentity(w, r, addr)
}

func (s *Server) writeIdentity(w http.ResponseWriter, r *http.Request, addr common.Address) {
	rec, found, err := s.node.IdentityRecord(addr)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newIdentityView(addr, rec, found))
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddressParam(chi.URLParam(r, "address"), "address")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeBalance(w, r, addr, chi.URLParam(r, "asset"))
}

func (s *Server) writeBalance(w http.ResponseWriter, r *http.Request, addr common.Address, asset string) {
	balance, err := s.node.Balance(asset, addr)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceView{Address: hexAddr(addr), Asset: strings.ToUpper(strings.TrimSpace(asset)), Balance: balance.String()})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, nativecommon.KindNotConfigured, "history index disabled")
		return
	}
	q := r.URL.Query()
	filter := history.Filter{Type: q.Get("type")}
	if raw := strings.TrimSpace(q.Get("account")); raw != "" {
		addr, err := parseAddressParam(raw, "account")
		if err != nil {
			s.fail(w, r, err)
			return
		}
		filter.Account = hexAddr(addr)
	}
	if raw := q.Get("after"); raw != "" {
		after, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			s.fail(w, r, badRequest{msg: "after must be an unsigned integer"})
			return
		}
		filter.AfterID = after
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			s.fail(w, r, badRequest{msg: "limit must be a non-negative integer"})
			return
		}
		filter.Limit = limit
	}
	records, err := s.history.List(r.Context(), filter)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if records == nil {
		records = []history.EventRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": records})
}
