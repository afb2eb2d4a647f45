package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Client provides a thin wrapper around the lending service HTTP API.
type Client struct {
	base  *url.URL
	token string
	http  *http.Client
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the default instrumented HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithToken sets the bearer token sent with every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = strings.TrimSpace(token) }
}

// New initialises a client for the service at endpoint.
func New(endpoint string, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(endpoint), "/"))
	if err != nil {
		return nil, fmt.Errorf("client: parse endpoint: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("client: endpoint must be http or https, got %q", endpoint)
	}
	c := &Client{
		base: base,
		http: &http.Client{Timeout: 15 * time.Second, Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// APIError is a non-2xx response from the service.
type APIError struct {
	Status  int
	Kind    string `json:"error"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("lending api: status %d", e.Status)
	}
	return fmt.Sprintf("lending api: %s (%d): %s", e.Kind, e.Status, e.Message)
}

type Position struct {
	Collateral string `json:"collateral"`
	Debt       string `json:"debt"`
	Buffer     string `json:"buffer"`
}

type Account struct {
	Address       string   `json:"address"`
	Bech32        string   `json:"bech32"`
	Position      Position `json:"position"`
	ScoreMicro    uint64   `json:"scoreMicro"`
	MaxLTVBps     uint64   `json:"maxLtvBps"`
	MaxBorrowable string   `json:"maxBorrowable"`
	Underwater    bool     `json:"underwater"`
}

// Result is returned by every position-changing call.
type Result struct {
	Applied string  `json:"applied,omitempty"`
	Seized  string  `json:"seized,omitempty"`
	Account Account `json:"account"`
}

type Market struct {
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

type Price struct {
	Price     string `json:"price"`
	UpdatedAt uint64 `json:"updatedAt"`
	UpdatedBy string `json:"updatedBy"`
}

type RiskPredicate struct {
	Address      string `json:"address"`
	RiskMicro    uint64 `json:"riskMicro"`
	MaxRiskMicro uint64 `json:"maxRiskMicro"`
	Holds        bool   `json:"holds"`
}

type PricePredicate struct {
	Op        string `json:"op"`
	Threshold string `json:"threshold"`
	Price     string `json:"price"`
	Holds     bool   `json:"holds"`
}

type Event struct {
	ID         uint64            `json:"id"`
	Type       string            `json:"type"`
	Account    string            `json:"account,omitempty"`
	Attributes map[string]string `json:"attributes"`
	CreatedAt  time.Time         `json:"createdAt"`
}

func (c *Client) Market(ctx context.Context) (*Market, error) {
	var out Market
	return &out, c.do(ctx, http.MethodGet, "/v1/market", nil, &out)
}

func (c *Client) Price(ctx context.Context) (*Price, error) {
	var out Price
	return &out, c.do(ctx, http.MethodGet, "/v1/price", nil, &out)
}

// RiskWithin evaluates the score-gated predicate for address. A zero
// maxRiskMicro uses the server default.
func (c *Client) RiskWithin(ctx context.Context, address string, maxRiskMicro uint64) (*RiskPredicate, error) {
	path := "/v1/predicates/risk/" + url.PathEscape(address)
	if maxRiskMicro > 0 {
		path += "?max=" + strconv.FormatUint(maxRiskMicro, 10)
	}
	var out RiskPredicate
	return &out, c.do(ctx, http.MethodGet, path, nil, &out)
}

// PriceAtOrBelow reports whether the pool price is at most threshold.
func (c *Client) PriceAtOrBelow(ctx context.Context, threshold *big.Int) (*PricePredicate, error) {
	return c.pricePredicate(ctx, "lte", threshold)
}

// PriceAtOrAbove reports whether the pool price is at least threshold.
func (c *Client) PriceAtOrAbove(ctx context.Context, threshold *big.Int) (*PricePredicate, error) {
	return c.pricePredicate(ctx, "gte", threshold)
}

func (c *Client) pricePredicate(ctx context.Context, op string, threshold *big.Int) (*PricePredicate, error) {
	if threshold == nil {
		return nil, fmt.Errorf("threshold required")
	}
	var out PricePredicate
	return &out, c.do(ctx, http.MethodGet, "/v1/predicates/price?"+op+"="+threshold.String(), nil, &out)
}

func (c *Client) Account(ctx context.Context, address string) (*Account, error) {
	var out Account
	return &out, c.do(ctx, http.MethodGet, "/v1/accounts/"+url.PathEscape(address), nil, &out)
}

// Accounts lists indexed borrowers, optionally only the liquidatable ones.
func (c *Client) Accounts(ctx context.Context, underwaterOnly bool) ([]Account, error) {
	path := "/v1/accounts"
	if underwaterOnly {
		path += "?underwater=true"
	}
	var out struct {
		Accounts []Account `json:"accounts"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Accounts, nil
}

func (c *Client) History(ctx context.Context, account, eventType string, after uint64, limit int) ([]Event, error) {
	q := url.Values{}
	if account != "" {
		q.Set("account", account)
	}
	if eventType != "" {
		q.Set("type", eventType)
	}
	if after > 0 {
		q.Set("after", strconv.FormatUint(after, 10))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/v1/history"
	if encoded := q.Encode(); encoded != "" {
		path += "?" + encoded
	}
	var out struct {
		Events []Event `json:"events"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Events, nil
}

func (c *Client) Deposit(ctx context.Context, amount *big.Int) (*Result, error) {
	return c.amountCall(ctx, "/v1/collateral/deposit", amount)
}

func (c *Client) Withdraw(ctx context.Context, amount *big.Int) (*Result, error) {
	return c.amountCall(ctx, "/v1/collateral/withdraw", amount)
}

func (c *Client) Borrow(ctx context.Context, amount *big.Int) (*Result, error) {
	return c.amountCall(ctx, "/v1/borrow", amount)
}

func (c *Client) Repay(ctx context.Context, amount *big.Int) (*Result, error) {
	return c.amountCall(ctx, "/v1/repay", amount)
}

func (c *Client) DepositBuffer(ctx context.Context, amount *big.Int) (*Result, error) {
	return c.amountCall(ctx, "/v1/buffer/deposit", amount)
}

func (c *Client) WithdrawBuffer(ctx context.Context, amount *big.Int) (*Result, error) {
	return c.amountCall(ctx, "/v1/buffer/withdraw", amount)
}

func (c *Client) RepayFromBuffer(ctx context.Context, amount *big.Int) (*Result, error) {
	return c.amountCall(ctx, "/v1/buffer/repay", amount)
}

func (c *Client) RepayOnBehalf(ctx context.Context, borrower string, amount *big.Int) (*Result, error) {
	var out Result
	body := map[string]string{"borrower": borrower, "amount": amount.String()}
	return &out, c.do(ctx, http.MethodPost, "/v1/repay-on-behalf", body, &out)
}

func (c *Client) Protect(ctx context.Context, borrower string) (*Result, error) {
	var out Result
	return &out, c.do(ctx, http.MethodPost, "/v1/protect", map[string]string{"borrower": borrower}, &out)
}

func (c *Client) Liquidate(ctx context.Context, borrower string, amount *big.Int) (*Result, error) {
	var out Result
	body := map[string]string{"borrower": borrower, "amount": amount.String()}
	return &out, c.do(ctx, http.MethodPost, "/v1/liquidate", body, &out)
}

// Verify submits an identity proof for the token's subject.
func (c *Client) Verify(ctx context.Context, proofHex string) error {
	return c.do(ctx, http.MethodPost, "/v1/identity/verify", map[string]string{"proof": proofHex}, nil)
}

// ApprovePool grants the pool an allowance over asset.
func (c *Client) ApprovePool(ctx context.Context, asset string, amount *big.Int) error {
	return c.do(ctx, http.MethodPost, "/v1/tokens/"+url.PathEscape(asset)+"/approve", map[string]string{"amount": amount.String()}, nil)
}

func (c *Client) SetPrice(ctx context.Context, price *big.Int) (*Price, error) {
	var out Price
	return &out, c.do(ctx, http.MethodPost, "/v1/admin/price", map[string]string{"price": price.String()}, &out)
}

func (c *Client) Mint(ctx context.Context, asset, to string, amount *big.Int) error {
	body := map[string]string{"asset": asset, "to": to, "amount": amount.String()}
	return c.do(ctx, http.MethodPost, "/v1/admin/mint", body, nil)
}

func (c *Client) amountCall(ctx context.Context, path string, amount *big.Int) (*Result, error) {
	if amount == nil {
		return nil, fmt.Errorf("client: amount required")
	}
	var out Result
	return &out, c.do(ctx, http.MethodPost, path, map[string]string{"amount": amount.String()}, &out)
}

// do issues the request. POSTs carry a fresh idempotency key so transport
// retries cannot double-apply an operation.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method == http.MethodPost {
		req.Header.Set("Idempotency-Key", uuid.NewString())
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(apiErr)
		return apiErr
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
