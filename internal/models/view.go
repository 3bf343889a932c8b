package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type BankView struct {
	AccountNumber string `json:"accountNumber"`
	AccountName   string `json:"accountName"`
	BankCode      string `json:"bankCode"`
	BankName      string `json:"bankName,omitempty"`
}

// OrderView is the business-facing JSON shape of an order, shared by the
// API and outbound notifications.
type OrderView struct {
	OrderID              string            `json:"orderId"`
	Reference            string            `json:"businessOrderReference"`
	Status               OrderStatus       `json:"status"`
	CustomerEmail        string            `json:"customerEmail"`
	CustomerName         string            `json:"customerName"`
	TokenAmount          decimal.Decimal   `json:"tokenAmount"`
	Token                string            `json:"token"`
	Network              Network           `json:"network"`
	DepositWalletAddress string            `json:"depositWalletAddress"`
	DepositExpiresAt     time.Time         `json:"depositExpiresAt"`
	TokensReceived       bool              `json:"tokensReceived"`
	ReceivedAmount       *decimal.Decimal  `json:"receivedAmount,omitempty"`
	DepositTxHash        string            `json:"depositTxHash,omitempty"`
	ExchangeRate         decimal.Decimal   `json:"exchangeRate"`
	GrossFiatAmount      decimal.Decimal   `json:"grossFiatAmount"`
	FeePercentage        decimal.Decimal   `json:"feePercentage"`
	FeeAmount            decimal.Decimal   `json:"feeAmount"`
	NetFiatAmount        decimal.Decimal   `json:"netFiatAmount"`
	FiatCurrency         string            `json:"fiatCurrency"`
	BankDetails          BankView          `json:"bankDetails"`
	RetryCount           int               `json:"retryCount"`
	FailureReason        string            `json:"failureReason,omitempty"`
	FailureStage         FailureStage      `json:"failureStage,omitempty"`
	SwapReference        string            `json:"swapReference,omitempty"`
	PayoutReference      string            `json:"payoutReference,omitempty"`
	Metadata             map[string]string `json:"metadata,omitempty"`
	CreatedAt            time.Time         `json:"createdAt"`
	UpdatedAt            time.Time         `json:"updatedAt"`
	ExpiresAt            time.Time         `json:"expiresAt"`
	CompletedAt          *time.Time        `json:"completedAt,omitempty"`
}

func (o *Order) View() OrderView {
	c := o.Clone()
	return OrderView{
		OrderID:              c.OrderID,
		Reference:            c.Reference,
		Status:               c.Status,
		CustomerEmail:        c.Customer.Email,
		CustomerName:         c.Customer.Name,
		TokenAmount:          c.TokenAmount,
		Token:                c.Token,
		Network:              c.Network,
		DepositWalletAddress: c.Wallet.Address,
		DepositExpiresAt:     c.Wallet.ExpiresAt,
		TokensReceived:       c.Wallet.TokensReceived,
		ReceivedAmount:       c.Wallet.ReceivedAmount,
		DepositTxHash:        c.Wallet.TxHash,
		ExchangeRate:         c.Pricing.ExchangeRate,
		GrossFiatAmount:      c.Pricing.GrossFiatAmount,
		FeePercentage:        c.Pricing.FeePercentage,
		FeeAmount:            c.Pricing.FeeAmount,
		NetFiatAmount:        c.Pricing.NetFiatAmount,
		FiatCurrency:         c.Pricing.FiatCurrency,
		BankDetails: BankView{
			AccountNumber: c.Bank.AccountNumber,
			AccountName:   c.Bank.AccountName,
			BankCode:      c.Bank.BankCode,
			BankName:      c.Bank.BankName,
		},
		RetryCount:      c.RetryCount,
		FailureReason:   c.FailureReason,
		FailureStage:    c.FailureStage,
		SwapReference:   c.SwapReference,
		PayoutReference: c.PayoutReference,
		Metadata:        c.Metadata,
		CreatedAt:       c.CreatedAt,
		UpdatedAt:       c.UpdatedAt,
		ExpiresAt:       c.ExpiresAt,
		CompletedAt:     c.CompletedAt,
	}
}
