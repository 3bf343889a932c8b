package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"RampEngine/internal/errs"
	"RampEngine/internal/fees"
	"RampEngine/internal/models"
	"RampEngine/internal/pricing"
	"RampEngine/internal/providers"
	"RampEngine/internal/services"
	"RampEngine/internal/store"
	"RampEngine/internal/webhook"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOrders struct {
	order    *models.Order
	err      error
	business string
	filter   store.ListFilter
	deposit  services.DepositConfirmation
	payout   services.PayoutStatus
	created  services.CreateOrderInput
}

func (f *fakeOrders) Quote(ctx context.Context, businessID string, in services.QuoteInput) (services.QuoteOutput, error) {
	f.business = businessID
	if f.err != nil {
		return services.QuoteOutput{}, f.err
	}
	return services.QuoteOutput{
		Quote: pricing.Quote{
			Rate:            decimal.NewFromInt(1650),
			TokenAmount:     in.Amount,
			PricePerUnit:    decimal.NewFromInt(1),
			ReferenceValue:  in.Amount,
			FiatRate:        decimal.NewFromInt(1650),
			GrossFiatAmount: in.Amount.Mul(decimal.NewFromInt(1650)),
			FiatCurrency:    "NGN",
			Source:          "stable_peg/rate_api",
			TTL:             5 * time.Minute,
		},
		Fees: fees.Breakdown{
			Gross:      decimal.NewFromInt(165000),
			Percentage: decimal.RequireFromString("1.5"),
			Fee:        decimal.NewFromInt(2475),
			Net:        decimal.NewFromInt(162525),
		},
		Token: providers.Token{Symbol: "USDC", Network: in.Network},
	}, nil
}

func (f *fakeOrders) CreateOrder(ctx context.Context, businessID string, in services.CreateOrderInput) (*models.Order, error) {
	f.business = businessID
	f.created = in
	return f.order, f.err
}

func (f *fakeOrders) GetOrder(ctx context.Context, businessID, orderID string) (*models.Order, error) {
	f.business = businessID
	if f.err != nil {
		return nil, f.err
	}
	if orderID != f.order.OrderID {
		return nil, errs.ErrOrderNotFound
	}
	return f.order, nil
}

func (f *fakeOrders) GetOrderByReference(ctx context.Context, businessID, reference string) (*models.Order, error) {
	f.business = businessID
	if reference != f.order.Reference {
		return nil, errs.ErrOrderNotFound
	}
	return f.order, nil
}

func (f *fakeOrders) ListOrders(ctx context.Context, businessID string, filter store.ListFilter) ([]*models.Order, error) {
	f.business = businessID
	f.filter = filter
	return []*models.Order{f.order}, f.err
}

func (f *fakeOrders) CancelOrder(ctx context.Context, businessID, orderID string) (*models.Order, error) {
	return f.order, f.err
}

func (f *fakeOrders) RetryOrder(ctx context.Context, businessID, orderID string) (*models.Order, error) {
	return f.order, f.err
}

func (f *fakeOrders) HandleDeposit(ctx context.Context, dep services.DepositConfirmation) (*models.Order, error) {
	f.deposit = dep
	return f.order, f.err
}

func (f *fakeOrders) HandlePayoutStatus(ctx context.Context, ps services.PayoutStatus) (*models.Order, error) {
	f.payout = ps
	return f.order, f.err
}

func sampleOrder() *models.Order {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &models.Order{
		OrderID:     "ord-1",
		Reference:   "OFR-ABC123",
		BusinessID:  "biz-1",
		Status:      models.OrderPendingDeposit,
		TokenAmount: decimal.NewFromInt(100),
		Token:       "USDC",
		Network:     models.Network("base"),
		Wallet:      models.DepositWallet{Address: "0xabc", ExpiresAt: now.Add(24 * time.Hour)},
		Pricing: models.Pricing{
			GrossFiatAmount: decimal.NewFromInt(165000),
			FeeAmount:       decimal.NewFromInt(2475),
			NetFiatAmount:   decimal.NewFromInt(162525),
			FiatCurrency:    "NGN",
		},
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(24 * time.Hour),
	}
}

func newTestServer(t *testing.T, orders *fakeOrders, secret []byte) *httptest.Server {
	t.Helper()
	s := NewServer(NewHandler(orders, nil, secret), http.NotFoundHandler())
	srv := httptest.NewServer(s.Router)
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, srv *httptest.Server, method, path, body string, header map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

var biz = map[string]string{BusinessHeader: "biz-1"}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, &fakeOrders{}, nil)
	resp, body := do(t, srv, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestBusinessHeaderRequired(t *testing.T) {
	srv := newTestServer(t, &fakeOrders{order: sampleOrder()}, nil)
	resp, body := do(t, srv, http.MethodGet, "/v1/offramp/orders/ord-1", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, string(errs.CodeUnauthorized), body["error"])
}

func TestQuote(t *testing.T) {
	orders := &fakeOrders{}
	srv := newTestServer(t, orders, nil)
	resp, body := do(t, srv, http.MethodPost, "/v1/offramp/quote", `{"amount":"100","token":"USDC","network":"base"}`, biz)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "biz-1", orders.business)
	assert.Equal(t, "162525", body["netFiatAmount"])
	assert.Equal(t, "2475", body["feeAmount"])
	assert.EqualValues(t, 300, body["expiresInSeconds"])
	breakdown := body["breakdown"].(map[string]any)
	assert.Equal(t, "stable_peg/rate_api", breakdown["source"])
}

func TestCreateOrder(t *testing.T) {
	orders := &fakeOrders{order: sampleOrder()}
	srv := newTestServer(t, orders, nil)
	payload := `{"customerEmail":"ada@example.com","customerName":"Ada","tokenAmount":"100","targetToken":"USDC","targetNetwork":"base","recipientAccountNumber":"0123456789","recipientBankCode":"058"}`
	resp, body := do(t, srv, http.MethodPost, "/v1/offramp/orders", payload, biz)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "ord-1", body["orderId"])
	assert.Equal(t, "0xabc", body["depositWalletAddress"])
	assert.Equal(t, "100", body["exactTokenAmount"])
	assert.Equal(t, "USDC", orders.created.Token)
	assert.Equal(t, "058", orders.created.BankCode)
	assert.True(t, orders.created.TokenAmount.Equal(decimal.NewFromInt(100)))
}

func TestCreateOrderErrors(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		err    error
		status int
		code   errs.Code
	}{
		{"bad json", `{`, nil, http.StatusBadRequest, errs.CodeValidation},
		{"empty body", ``, nil, http.StatusBadRequest, errs.CodeValidation},
		{"duplicate", `{}`, errs.ErrDuplicateReference, http.StatusConflict, errs.CodeDuplicateReference},
		{"upstream", `{}`, errs.Upstream("bank verification failed", context.DeadlineExceeded), http.StatusBadGateway, errs.CodeUpstreamUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := newTestServer(t, &fakeOrders{err: tc.err}, nil)
			resp, body := do(t, srv, http.MethodPost, "/v1/offramp/orders", tc.body, biz)
			assert.Equal(t, tc.status, resp.StatusCode)
			assert.Equal(t, string(tc.code), body["error"])
			assert.NotEmpty(t, body["message"])
		})
	}
}

func TestGetOrder(t *testing.T) {
	srv := newTestServer(t, &fakeOrders{order: sampleOrder()}, nil)

	resp, body := do(t, srv, http.MethodGet, "/v1/offramp/orders/ord-1", "", biz)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OFR-ABC123", body["businessOrderReference"])
	assert.Equal(t, string(models.OrderPendingDeposit), body["status"])

	resp, body = do(t, srv, http.MethodGet, "/v1/offramp/orders/reference/OFR-ABC123", "", biz)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ord-1", body["orderId"])

	resp, body = do(t, srv, http.MethodGet, "/v1/offramp/orders/ord-2", "", biz)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, string(errs.CodeOrderNotFound), body["error"])
}

func TestListOrders(t *testing.T) {
	orders := &fakeOrders{order: sampleOrder()}
	srv := newTestServer(t, orders, nil)

	resp, body := do(t, srv, http.MethodGet, "/v1/offramp/orders?status=PENDING_DEPOSIT&limit=10&offset=5", "", biz)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, models.OrderPendingDeposit, orders.filter.Status)
	assert.Equal(t, 10, orders.filter.Limit)
	assert.Equal(t, 5, orders.filter.Offset)
	assert.Len(t, body["orders"], 1)

	resp, _ = do(t, srv, http.MethodGet, "/v1/offramp/orders?limit=abc", "", biz)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCancelConflict(t *testing.T) {
	srv := newTestServer(t, &fakeOrders{err: errs.ErrInvalidOrderStatus}, nil)
	resp, body := do(t, srv, http.MethodPost, "/v1/offramp/orders/ord-1/cancel", "", biz)
	assert.Equal(t, errs.HTTPStatus(errs.CodeInvalidOrderStatus), resp.StatusCode)
	assert.Equal(t, string(errs.CodeInvalidOrderStatus), body["error"])
}

func TestDepositWebhook(t *testing.T) {
	orders := &fakeOrders{order: sampleOrder()}
	srv := newTestServer(t, orders, nil)

	resp, body := do(t, srv, http.MethodPost, "/v1/webhooks/deposit",
		`{"walletAddress":"0xabc","transactionHash":"0xtx","amount":"100.5","network":" BASE "}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, models.Network("base"), orders.deposit.Network)
	assert.True(t, orders.deposit.Amount.Equal(decimal.RequireFromString("100.5")))

	resp, body = do(t, srv, http.MethodPost, "/v1/webhooks/deposit",
		`{"walletAddress":"0xabc","transactionHash":"0xtx","amount":"lots","network":"base"}`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, string(errs.CodeValidation), body["error"])
}

func TestSignedPayoutWebhook(t *testing.T) {
	secret := []byte("inbound-secret")
	orders := &fakeOrders{order: sampleOrder()}
	srv := newTestServer(t, orders, secret)
	payload := `{"reference":"pay-1","status":"successful","transactionId":"tx-9"}`

	resp, _ := do(t, srv, http.MethodPost, "/v1/webhooks/payout", payload, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Empty(t, orders.payout.Reference)

	resp, _ = do(t, srv, http.MethodPost, "/v1/webhooks/payout", payload,
		map[string]string{webhook.SignatureHeader: webhook.Sign(secret, []byte(payload))})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "pay-1", orders.payout.Reference)
	assert.Equal(t, "tx-9", orders.payout.TransactionID)
}
