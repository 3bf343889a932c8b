package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"RampEngine/internal/errs"
	"RampEngine/internal/models"
	"RampEngine/internal/services"
	"RampEngine/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Orders is the service surface the handlers need.
type Orders interface {
	Quote(ctx context.Context, businessID string, in services.QuoteInput) (services.QuoteOutput, error)
	CreateOrder(ctx context.Context, businessID string, in services.CreateOrderInput) (*models.Order, error)
	GetOrder(ctx context.Context, businessID, orderID string) (*models.Order, error)
	GetOrderByReference(ctx context.Context, businessID, reference string) (*models.Order, error)
	ListOrders(ctx context.Context, businessID string, filter store.ListFilter) ([]*models.Order, error)
	CancelOrder(ctx context.Context, businessID, orderID string) (*models.Order, error)
	RetryOrder(ctx context.Context, businessID, orderID string) (*models.Order, error)
	HandleDeposit(ctx context.Context, dep services.DepositConfirmation) (*models.Order, error)
	HandlePayoutStatus(ctx context.Context, ps services.PayoutStatus) (*models.Order, error)
}

type Handler struct {
	Orders        Orders
	Logger        *zap.Logger
	InboundSecret []byte
}

func NewHandler(orders Orders, logger *zap.Logger, inboundSecret []byte) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{Orders: orders, Logger: logger, InboundSecret: inboundSecret}
}

type quoteRequest struct {
	Amount     decimal.Decimal `json:"amount"`
	FiatAmount decimal.Decimal `json:"fiatAmount"`
	Token      string          `json:"token"`
	Network    models.Network  `json:"network"`
}

type quoteBreakdown struct {
	Token          string            `json:"token"`
	Network        models.Network    `json:"network"`
	ReferenceValue decimal.Decimal   `json:"referenceValue"`
	PricePerUnit   decimal.Decimal   `json:"pricePerUnit"`
	FiatRate       decimal.Decimal   `json:"fiatRate"`
	Source         string            `json:"source"`
	Discrepancy    bool              `json:"discrepancy"`
	Provenance     map[string]string `json:"provenance,omitempty"`
}

type quoteResponse struct {
	TokenAmount      decimal.Decimal `json:"tokenAmount"`
	GrossFiatAmount  decimal.Decimal `json:"grossFiatAmount"`
	FeePercentage    decimal.Decimal `json:"feePercentage"`
	FeeAmount        decimal.Decimal `json:"feeAmount"`
	NetFiatAmount    decimal.Decimal `json:"netFiatAmount"`
	ExchangeRate     decimal.Decimal `json:"exchangeRate"`
	FiatCurrency     string          `json:"fiatCurrency"`
	Breakdown        quoteBreakdown  `json:"breakdown"`
	ExpiresInSeconds int             `json:"expiresInSeconds"`
}

func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeErr(w, h.Logger, r, err)
		return
	}
	out, err := h.Orders.Quote(r.Context(), businessID(r), services.QuoteInput{
		Amount:     req.Amount,
		FiatAmount: req.FiatAmount,
		Token:      req.Token,
		Network:    req.Network,
	})
	if err != nil {
		writeErr(w, h.Logger, r, err)
		return
	}
	q := out.Quote
	writeJSON(w, http.StatusOK, quoteResponse{
		TokenAmount:     q.TokenAmount,
		GrossFiatAmount: out.Fees.Gross,
		FeePercentage:   out.Fees.Percentage,
		FeeAmount:       out.Fees.Fee,
		NetFiatAmount:   out.Fees.Net,
		ExchangeRate:    q.Rate,
		FiatCurrency:    q.FiatCurrency,
		Breakdown: quoteBreakdown{
			Token:          out.Token.Symbol,
			Network:        out.Token.Network,
			ReferenceValue: q.ReferenceValue,
			PricePerUnit:   q.PricePerUnit,
			FiatRate:       q.FiatRate,
			Source:         q.Source,
			Discrepancy:    q.Discrepancy,
			Provenance:     q.Provenance,
		},
		ExpiresInSeconds: q.ExpiresInSeconds(),
	})
}

type createOrderRequest struct {
	CustomerEmail          string            `json:"customerEmail"`
	CustomerName           string            `json:"customerName"`
	CustomerPhone          string            `json:"customerPhone"`
	TokenAmount            decimal.Decimal   `json:"tokenAmount"`
	TargetToken            string            `json:"targetToken"`
	TargetNetwork          models.Network    `json:"targetNetwork"`
	RecipientAccountNumber string            `json:"recipientAccountNumber"`
	RecipientBankCode      string            `json:"recipientBankCode"`
	WebhookURL             string            `json:"webhookUrl"`
	Reference              string            `json:"reference"`
	Metadata               map[string]string `json:"metadata"`
}

type createOrderResponse struct {
	OrderID              string             `json:"orderId"`
	Reference            string             `json:"businessOrderReference"`
	Status               models.OrderStatus `json:"status"`
	DepositWalletAddress string             `json:"depositWalletAddress"`
	Network              models.Network     `json:"network"`
	Token                string             `json:"token"`
	ExactTokenAmount     decimal.Decimal    `json:"exactTokenAmount"`
	DepositExpiresAt     string             `json:"depositExpiresAt"`
	GrossFiatAmount      decimal.Decimal    `json:"grossFiatAmount"`
	FeeAmount            decimal.Decimal    `json:"feeAmount"`
	NetFiatAmount        decimal.Decimal    `json:"netFiatAmount"`
	FiatCurrency         string             `json:"fiatCurrency"`
	BankDetails          models.BankView    `json:"bankDetails"`
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeErr(w, h.Logger, r, err)
		return
	}
	order, err := h.Orders.CreateOrder(r.Context(), businessID(r), services.CreateOrderInput{
		CustomerEmail: req.CustomerEmail,
		CustomerName:  req.CustomerName,
		CustomerPhone: req.CustomerPhone,
		TokenAmount:   req.TokenAmount,
		Token:         req.TargetToken,
		Network:       req.TargetNetwork,
		AccountNumber: req.RecipientAccountNumber,
		BankCode:      req.RecipientBankCode,
		WebhookURL:    req.WebhookURL,
		Reference:     req.Reference,
		Metadata:      req.Metadata,
	})
	if err != nil {
		writeErr(w, h.Logger, r, err)
		return
	}
	v := order.View()
	writeJSON(w, http.StatusCreated, createOrderResponse{
		OrderID:              v.OrderID,
		Reference:            v.Reference,
		Status:               v.Status,
		DepositWalletAddress: v.DepositWalletAddress,
		Network:              v.Network,
		Token:                v.Token,
		ExactTokenAmount:     v.TokenAmount,
		DepositExpiresAt:     v.DepositExpiresAt.Format(time.RFC3339),
		GrossFiatAmount:      v.GrossFiatAmount,
		FeeAmount:            v.FeeAmount,
		NetFiatAmount:        v.NetFiatAmount,
		FiatCurrency:         v.FiatCurrency,
		BankDetails:          v.BankDetails,
	})
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.Orders.GetOrder(r.Context(), businessID(r), chi.URLParam(r, "orderId"))
	h.writeOrder(w, r, order, err)
}

func (h *Handler) GetOrderByReference(w http.ResponseWriter, r *http.Request) {
	order, err := h.Orders.GetOrderByReference(r.Context(), businessID(r), chi.URLParam(r, "reference"))
	h.writeOrder(w, r, order, err)
}

func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.Orders.CancelOrder(r.Context(), businessID(r), chi.URLParam(r, "orderId"))
	h.writeOrder(w, r, order, err)
}

func (h *Handler) RetryOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.Orders.RetryOrder(r.Context(), businessID(r), chi.URLParam(r, "orderId"))
	h.writeOrder(w, r, order, err)
}

type listOrdersResponse struct {
	Orders []models.OrderView `json:"orders"`
	Limit  int                `json:"limit"`
	Offset int                `json:"offset"`
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.ListFilter{Status: models.OrderStatus(q.Get("status"))}
	var err error
	if filter.Limit, err = intParam(q.Get("limit"), store.DefaultListLimit); err != nil {
		writeErr(w, h.Logger, r, err)
		return
	}
	if filter.Offset, err = intParam(q.Get("offset"), 0); err != nil {
		writeErr(w, h.Logger, r, err)
		return
	}
	orders, err := h.Orders.ListOrders(r.Context(), businessID(r), filter)
	if err != nil {
		writeErr(w, h.Logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listOrdersResponse{
		Orders: lo.Map(orders, func(o *models.Order, _ int) models.OrderView { return o.View() }),
		Limit:  filter.Limit,
		Offset: filter.Offset,
	})
}

func (h *Handler) writeOrder(w http.ResponseWriter, r *http.Request, order *models.Order, err error) {
	if err != nil {
		writeErr(w, h.Logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order.View())
}

func intParam(v string, fallback int) (int, error) {
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errs.Newf(errs.CodeValidation, "invalid integer %q", v)
	}
	return n, nil
}
