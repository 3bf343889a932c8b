package providers

import (
	"context"

	"RampEngine/internal/errs"
	"RampEngine/internal/models"
)

// HTTPSettlement drives the swap and payout legs through the settlement
// service.
type HTTPSettlement struct {
	Client *Client
}

type swapRequest struct {
	OrderID         string `json:"orderId"`
	Network         string `json:"network"`
	Token           string `json:"token"`
	ContractAddress string `json:"contractAddress"`
	Amount          string `json:"amount"`
	DepositAddress  string `json:"depositAddress"`
	KeyRef          string `json:"keyRef"`
}

type swapResponse struct {
	Reference string `json:"reference"`
	Route     string `json:"route"`
}

func (s *HTTPSettlement) Swap(ctx context.Context, order *models.Order) (SwapResult, error) {
	amount := order.TokenAmount
	if order.Wallet.ReceivedAmount != nil {
		amount = *order.Wallet.ReceivedAmount
	}
	req := swapRequest{
		OrderID:         order.OrderID,
		Network:         string(order.Network),
		Token:           order.Token,
		ContractAddress: order.ContractAddress,
		Amount:          amount.String(),
		DepositAddress:  order.Wallet.Address,
		KeyRef:          order.Wallet.EncryptedKeyRef,
	}
	var resp swapResponse
	if err := s.Client.PostJSON(ctx, "/swaps", req, &resp); err != nil {
		return SwapResult{}, upstreamErr("token swap", err)
	}
	if resp.Reference == "" {
		return SwapResult{}, errs.Upstream("token swap returned no reference", nil)
	}
	return SwapResult{Reference: resp.Reference, Route: resp.Route}, nil
}

type payoutRequest struct {
	OrderID       string `json:"orderId"`
	Reference     string `json:"reference"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	AccountNumber string `json:"accountNumber"`
	AccountName   string `json:"accountName"`
	BankCode      string `json:"bankCode"`
	Narration     string `json:"narration"`
}

type payoutResponse struct {
	Reference string `json:"reference"`
}

func (s *HTTPSettlement) Initiate(ctx context.Context, order *models.Order) (PayoutResult, error) {
	req := payoutRequest{
		OrderID:       order.OrderID,
		Reference:     order.Reference,
		Amount:        order.Pricing.NetFiatAmount.StringFixed(2),
		Currency:      order.Pricing.FiatCurrency,
		AccountNumber: order.Bank.AccountNumber,
		AccountName:   order.Bank.AccountName,
		BankCode:      order.Bank.BankCode,
		Narration:     "Offramp " + order.Reference,
	}
	var resp payoutResponse
	if err := s.Client.PostJSON(ctx, "/payouts", req, &resp); err != nil {
		return PayoutResult{}, upstreamErr("bank payout", err)
	}
	ref := resp.Reference
	if ref == "" {
		ref = order.Reference
	}
	return PayoutResult{Reference: ref}, nil
}
