package providers_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"RampEngine/internal/errs"
	"RampEngine/internal/models"
	"RampEngine/internal/providers"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBankVerifier(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/accounts/resolve", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		if r.URL.Query().Get("account_number") != "0123456789" {
			http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"accountName": " ADA LOVELACE ",
			"bankName":    "Test Bank",
			"bankCode":    r.URL.Query().Get("bank_code"),
		})
	}))
	defer srv.Close()

	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	v := &providers.HTTPBankVerifier{
		Client:   providers.NewClient(srv.URL, "secret", time.Second),
		Provider: "testbank",
		Now:      func() time.Time { return fixed },
	}

	acct, err := v.Verify(context.Background(), "0123456789", "058")
	require.NoError(t, err)
	assert.Equal(t, "ADA LOVELACE", acct.AccountName)
	assert.Equal(t, "0123456789", acct.AccountNumber)
	assert.Equal(t, "058", acct.BankCode)
	assert.Equal(t, "testbank", acct.Provider)
	assert.Equal(t, fixed, acct.VerifiedAt)

	_, err = v.Verify(context.Background(), "999", "058")
	require.Error(t, err)
	assert.Equal(t, errs.CodeValidation, errs.CodeOf(err))
}

func TestBankVerifierUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	v := &providers.HTTPBankVerifier{Client: providers.NewClient(srv.URL, "", time.Second)}
	_, err := v.Verify(context.Background(), "0123456789", "058")
	require.Error(t, err)
	assert.Equal(t, errs.CodeUpstreamUnavailable, errs.CodeOf(err))
}

func TestClientTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := providers.NewClient(srv.URL, "", 50*time.Millisecond)
	err := c.GetJSON(context.Background(), "/slow", nil, nil)
	require.Error(t, err)
}

type counter struct{ n int64 }

func (c *counter) NextDerivationIndex(ctx context.Context) (int64, error) {
	c.n++
	return c.n, nil
}

type fixedProvisioner struct{ addr string }

func (f fixedProvisioner) Provision(ctx context.Context, network models.Network) (providers.Wallet, error) {
	return providers.Wallet{Address: f.addr, Network: network}, nil
}

func TestNetworkRouter(t *testing.T) {
	r := providers.NetworkRouter{
		models.NetworkSolana: fixedProvisioner{addr: "So1ana"},
	}
	w, err := r.Provision(context.Background(), models.NetworkSolana)
	require.NoError(t, err)
	assert.Equal(t, "So1ana", w.Address)

	_, err = r.Provision(context.Background(), models.NetworkBase)
	require.Error(t, err)
	assert.Equal(t, errs.CodeValidation, errs.CodeOf(err))
}

func TestHDWalletsRejectNonEVM(t *testing.T) {
	w := &providers.HDWallets{Indexes: &counter{}}
	_, err := w.Provision(context.Background(), models.NetworkSolana)
	require.Error(t, err)
}

func TestCustody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "solana", req["network"])
		_ = json.NewEncoder(w).Encode(map[string]string{"address": "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU", "keyRef": "kms:abc"})
	}))
	defer srv.Close()

	c := &providers.HTTPCustody{Client: providers.NewClient(srv.URL, "", time.Second)}
	w, err := c.Provision(context.Background(), models.NetworkSolana)
	require.NoError(t, err)
	assert.Equal(t, "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU", w.Address)
	assert.Equal(t, "kms:abc", w.EncryptedKeyRef)
	assert.Equal(t, models.NetworkSolana, w.Network)
}

func TestSettlement(t *testing.T) {
	var gotSwap, gotPayout map[string]string
	mux := http.NewServeMux()
	mux.HandleFunc("/swaps", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotSwap))
		_ = json.NewEncoder(w).Encode(map[string]string{"reference": "swp-1", "route": "uniswap-v3"})
	})
	mux.HandleFunc("/payouts", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayout))
		_ = json.NewEncoder(w).Encode(map[string]string{"reference": "pay-1"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	received := decimal.RequireFromString("101.5")
	order := &models.Order{
		OrderID:     "ord-1",
		Reference:   "OFR-1",
		Token:       "USDC",
		Network:     models.NetworkBase,
		TokenAmount: decimal.NewFromInt(100),
		Pricing: models.Pricing{
			NetFiatAmount: decimal.NewFromInt(162525),
			FiatCurrency:  "NGN",
		},
		Bank:   models.BankAccount{AccountNumber: "0123456789", AccountName: "ADA", BankCode: "058"},
		Wallet: models.DepositWallet{Address: "0xabc", ReceivedAmount: &received},
	}

	s := &providers.HTTPSettlement{Client: providers.NewClient(srv.URL, "", time.Second)}
	swap, err := s.Swap(context.Background(), order)
	require.NoError(t, err)
	assert.Equal(t, "swp-1", swap.Reference)
	assert.Equal(t, "uniswap-v3", swap.Route)
	assert.Equal(t, "101.5", gotSwap["amount"])

	payout, err := s.Initiate(context.Background(), order)
	require.NoError(t, err)
	assert.Equal(t, "pay-1", payout.Reference)
	assert.Equal(t, "162525.00", gotPayout["amount"])
	assert.Equal(t, "NGN", gotPayout["currency"])
	assert.Equal(t, "OFR-1", gotPayout["reference"])
}

func TestStaticCatalog(t *testing.T) {
	c := providers.NewStaticCatalog([]providers.Token{
		{Symbol: "usdc", Network: models.NetworkBase, ContractAddress: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", Decimals: 6},
	})
	tok, err := c.Lookup(context.Background(), "USDC", models.NetworkBase)
	require.NoError(t, err)
	assert.Equal(t, 6, tok.Decimals)

	_, err = c.Lookup(context.Background(), "USDC", models.NetworkSolana)
	require.Error(t, err)
	assert.Equal(t, errs.CodeValidation, errs.CodeOf(err))
}
