package client

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"occrlend/core"
	"occrlend/native/lending"
	"occrlend/native/occr"
	"occrlend/services/lending/server"
	"occrlend/storage"
)

var (
	admin = common.HexToAddress("0x00000000000000000000000000000000000000a0")
	alice = common.HexToAddress("0x0000000000000000000000000000000000000001")
)

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

func newServer(t *testing.T) (*httptest.Server, server.AuthConfig) {
	t.Helper()
	node, err := core.NewNode(storage.NewMemDB(), core.Options{
		Admin:      admin,
		Collateral: core.AssetSpec{Symbol: "ETH", Decimals: 18},
		Debt:       core.AssetSpec{Symbol: "USD", Decimals: 18},
		Lending:    lending.DefaultParams(),
		Score:      occr.DefaultParams(),
	})
	require.NoError(t, err)
	t.Cleanup(node.Close)
	auth := server.AuthConfig{Enabled: true, HMACSecret: "client-secret"}
	srv, err := server.New(server.Config{Node: node, Auth: auth})
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, auth
}

func clientFor(t *testing.T, url string, auth server.AuthConfig, who common.Address, scopes ...string) *Client {
	t.Helper()
	tok, err := server.IssueToken(auth, who, scopes, time.Hour, time.Now())
	require.NoError(t, err)
	c, err := New(url, WithToken(tok), WithHTTPClient(http.DefaultClient))
	require.NoError(t, err)
	return c
}

func TestClientBorrowFlow(t *testing.T) {
	ts, auth := newServer(t)
	ctx := context.Background()
	adminClient := clientFor(t, ts.URL, auth, admin, server.ScopeAdmin)
	aliceClient := clientFor(t, ts.URL, auth, alice, server.ScopeLending)

	market, err := aliceClient.Market(ctx)
	require.NoError(t, err)
	require.NoError(t, adminClient.Mint(ctx, "ETH", alice.Hex(), ether(2)))
	require.NoError(t, adminClient.Mint(ctx, "USD", market.Pool, ether(10_000)))
	price, err := adminClient.SetPrice(ctx, ether(1500))
	require.NoError(t, err)
	require.Equal(t, ether(1500).String(), price.Price)

	require.NoError(t, aliceClient.ApprovePool(ctx, "ETH", ether(2)))
	require.NoError(t, aliceClient.Verify(ctx, "0x01"))
	_, err = aliceClient.Deposit(ctx, ether(2))
	require.NoError(t, err)

	res, err := aliceClient.Borrow(ctx, ether(1500))
	require.NoError(t, err)
	require.Equal(t, ether(1500).String(), res.Account.Position.Debt)

	acct, err := aliceClient.Account(ctx, alice.Hex())
	require.NoError(t, err)
	require.False(t, acct.Underwater)

	all, err := aliceClient.Accounts(ctx, false)
	require.NoError(t, err)
	require.Len(t, all, 1)

	stop, err := aliceClient.PriceAtOrBelow(ctx, ether(1500))
	require.NoError(t, err)
	require.True(t, stop.Holds)
	above, err := aliceClient.PriceAtOrAbove(ctx, ether(1501))
	require.NoError(t, err)
	require.False(t, above.Holds)

	risk, err := aliceClient.RiskWithin(ctx, alice.Hex(), 0)
	require.NoError(t, err)
	require.False(t, risk.Holds)
	require.Less(t, risk.RiskMicro, uint64(1_000_000))
}

func TestClientSurfacesAPIErrors(t *testing.T) {
	ts, auth := newServer(t)
	c := clientFor(t, ts.URL, auth, alice, server.ScopeLending)

	_, err := c.Borrow(context.Background(), ether(1))
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusForbidden, apiErr.Status)
	require.Equal(t, "identity_not_verified", apiErr.Kind)

	_, err = c.SetPrice(context.Background(), ether(1))
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusForbidden, apiErr.Status)

	_, err = c.History(context.Background(), "", "", 0, 0)
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusServiceUnavailable, apiErr.Status)
}

func TestNewRejectsBadEndpoint(t *testing.T) {
	_, err := New("ftp://example")
	require.Error(t, err)
}
