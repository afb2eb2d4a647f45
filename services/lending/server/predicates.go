package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	nativecommon "occrlend/native/common"
	"occrlend/native/occr"
)

type riskPredicateView struct {
	Address      string `json:"address"`
	RiskMicro    uint64 `json:"riskMicro"`
	MaxRiskMicro uint64 `json:"maxRiskMicro"`
	Holds        bool   `json:"holds"`
}

type pricePredicateView struct {
	Op        string `json:"op"`
	Threshold string `json:"threshold"`
	Price     string `json:"price"`
	Holds     bool   `json:"holds"`
}

// handleRiskPredicate answers whether an account's risk (max score minus
// score) is within ?max=, defaulting to occr.DefaultMaxRiskMicro.
func (s *Server) handleRiskPredicate(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddressParam(chi.URLParam(r, "address"), "address")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	maxRisk := occr.DefaultMaxRiskMicro
	if raw := strings.TrimSpace(r.URL.Query().Get("max")); raw != "" {
		maxRisk, err = strconv.ParseUint(raw, 10, 64)
		if err != nil {
			s.fail(w, r, badRequest{msg: "max: must be an unsigned integer"})
			return
		}
	}
	holds, risk, err := s.node.RiskWithin(addr, maxRisk)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, riskPredicateView{
		Address:      hexAddr(addr),
		RiskMicro:    risk,
		MaxRiskMicro: maxRisk,
		Holds:        holds,
	})
}

// handlePricePredicate compares the pool price against exactly one of ?lte=
// or ?gte=.
func (s *Server) handlePricePredicate(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	lte, gte := strings.TrimSpace(query.Get("lte")), strings.TrimSpace(query.Get("gte"))
	if (lte == "") == (gte == "") {
		s.fail(w, r, badRequest{msg: "exactly one of lte or gte is required"})
		return
	}
	op, raw, check := "lte", lte, s.node.PriceAtOrBelow
	if gte != "" {
		op, raw, check = "gte", gte, s.node.PriceAtOrAbove
	}
	threshold, err := nativecommon.ParseAmount(raw)
	if err != nil {
		s.fail(w, r, badRequest{msg: op + ": " + err.Error()})
		return
	}
	holds, price, err := check(threshold)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pricePredicateView{
		Op:        op,
		Threshold: threshold.String(),
		Price:     price.String(),
		Holds:     holds,
	})
}
