package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderPendingDeposit  OrderStatus = "PENDING_DEPOSIT"
	OrderDepositReceived OrderStatus = "DEPOSIT_RECEIVED"
	OrderProcessing      OrderStatus = "PROCESSING"
	OrderPendingPayout   OrderStatus = "PENDING_PAYOUT"
	OrderCompleted       OrderStatus = "COMPLETED"
	OrderFailed          OrderStatus = "FAILED"
	OrderExpired         OrderStatus = "EXPIRED"
	OrderCancelled       OrderStatus = "CANCELLED"
)

// IsTerminal reports whether no further lifecycle event applies. FAILED is
// terminal unless the order is explicitly retried.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderCompleted, OrderFailed, OrderExpired, OrderCancelled:
		return true
	}
	return false
}

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderPendingDeposit, OrderDepositReceived, OrderProcessing, OrderPendingPayout,
		OrderCompleted, OrderFailed, OrderExpired, OrderCancelled:
		return true
	}
	return false
}

type Network string

const (
	NetworkBase     Network = "base"
	NetworkSolana   Network = "solana"
	NetworkEthereum Network = "ethereum"
)

func (n Network) Valid() bool {
	switch n {
	case NetworkBase, NetworkSolana, NetworkEthereum:
		return true
	}
	return false
}

// IsEVM reports whether deposit addresses on the network are secp256k1/keccak.
func (n Network) IsEVM() bool {
	return n == NetworkBase || n == NetworkEthereum
}

type FailureStage string

const (
	StageTokenSwap       FailureStage = "token_swap"
	StageBankPayout      FailureStage = "bank_payout"
	StageStuckProcessing FailureStage = "stuck_processing"
)

const MaxRetries = 3

type Customer struct {
	Email string
	Name  string
	Phone string
}

type Pricing struct {
	ExchangeRate    decimal.Decimal
	GrossFiatAmount decimal.Decimal
	FeePercentage   decimal.Decimal
	FeeAmount       decimal.Decimal
	NetFiatAmount   decimal.Decimal
	FiatCurrency    string
}

type BankAccount struct {
	AccountNumber string
	AccountName   string
	BankCode      string
	BankName      string
	Provider      string
	VerifiedAt    time.Time
}

type DepositWallet struct {
	Address         string
	Network         Network
	EncryptedKeyRef string
	GeneratedAt     time.Time
	ExpiresAt       time.Time
	TokensReceived  bool
	ReceivedAmount  *decimal.Decimal
	ReceivedAt      *time.Time
	TxHash          string
}

type WebhookTracking struct {
	URL           string
	Attempts      int
	LastAttemptAt *time.Time
	LastOutcome   string
}

type Order struct {
	OrderID         string
	Reference       string
	BusinessID      string
	Customer        Customer
	TokenAmount     decimal.Decimal
	Token           string
	Network         Network
	ContractAddress string
	Pricing         Pricing
	Bank            BankAccount
	Wallet          DepositWallet
	Status          OrderStatus
	Webhook         WebhookTracking
	// Version increments on every lifecycle save.
	Version int64

	RetryCount      int
	FailureReason   string
	FailureStage    FailureStage
	SwapReference   string
	PayoutReference string
	PayoutTxID      string
	Metadata        map[string]string

	CreatedAt           time.Time
	UpdatedAt           time.Time
	ExpiresAt           time.Time
	DepositReceivedAt   *time.Time
	ProcessingStartedAt *time.Time
	PayoutInitiatedAt   *time.Time
	CompletedAt         *time.Time
	FailedAt            *time.Time
	CancelledAt         *time.Time
}

// Clone returns a deep copy so callers never share pointers or the metadata
// map with a repository.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	if o.Metadata != nil {
		c.Metadata = make(map[string]string, len(o.Metadata))
		for k, v := range o.Metadata {
			c.Metadata[k] = v
		}
	}
	c.Wallet.ReceivedAmount = clonePtr(o.Wallet.ReceivedAmount)
	c.Wallet.ReceivedAt = clonePtr(o.Wallet.ReceivedAt)
	c.Webhook.LastAttemptAt = clonePtr(o.Webhook.LastAttemptAt)
	c.DepositReceivedAt = clonePtr(o.DepositReceivedAt)
	c.ProcessingStartedAt = clonePtr(o.ProcessingStartedAt)
	c.PayoutInitiatedAt = clonePtr(o.PayoutInitiatedAt)
	c.CompletedAt = clonePtr(o.CompletedAt)
	c.FailedAt = clonePtr(o.FailedAt)
	c.CancelledAt = clonePtr(o.CancelledAt)
	return &c
}

// Metadata keys read outside the component that writes them.
const (
	MetaDepositClassification = "deposit_classification"
	DepositUnderpaid          = "underpaid"
)

// Underpaid reports whether the deposit was classified short of the order
// amount. Such orders are held for manual review.
func (o *Order) Underpaid() bool {
	return o.Metadata[MetaDepositClassification] == DepositUnderpaid
}

func (o *Order) SetMeta(key, value string) {
	if o.Metadata == nil {
		o.Metadata = map[string]string{}
	}
	o.Metadata[key] = value
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// WebhookDelivery is the outcome of one outbound notification attempt.
type WebhookDelivery struct {
	AttemptedAt time.Time
	Outcome     string
}
