package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Event string

const (
	EventDepositReceived Event = "deposit_received"
	EventSwapStarted     Event = "swap_started"
	EventSwapCompleted   Event = "swap_completed"
	EventPayoutCompleted Event = "payout_completed"
	EventFailed          Event = "failed"
	EventExpired         Event = "expired"
	EventCancelled       Event = "cancelled"
	EventRetried         Event = "retried"
)

// Details carries the stage-specific data recorded with a transition. Only
// the fields relevant to the event are read.
type Details struct {
	TxHash         string
	ReceivedAmount decimal.Decimal
	ReceivedAt     time.Time

	SwapReference   string
	PayoutReference string
	PayoutTxID      string

	FailureReason string
	FailureStage  FailureStage
	// StaleBefore, when set, makes a failure apply only to an order last
	// updated before it.
	StaleBefore time.Time

	Metadata map[string]string
}

// Business-facing webhook event names.
const (
	WebhookDepositReceived = "order.deposit_received"
	WebhookProcessing      = "order.processing"
	WebhookPendingPayout   = "order.pending_payout"
	WebhookCompleted       = "order.completed"
	WebhookFailed          = "order.failed"
	WebhookExpired         = "order.expired"
	WebhookCancelled       = "order.cancelled"
	WebhookRetrying        = "order.retrying"
)

// WebhookEventFor maps the status an order just entered to its webhook name.
func WebhookEventFor(status OrderStatus, event Event) string {
	if event == EventRetried {
		return WebhookRetrying
	}
	switch status {
	case OrderDepositReceived:
		return WebhookDepositReceived
	case OrderProcessing:
		return WebhookProcessing
	case OrderPendingPayout:
		return WebhookPendingPayout
	case OrderCompleted:
		return WebhookCompleted
	case OrderFailed:
		return WebhookFailed
	case OrderExpired:
		return WebhookExpired
	case OrderCancelled:
		return WebhookCancelled
	}
	return "order.updated"
}

// Change describes a persisted transition handed to observers.
type Change struct {
	Order *Order
	From  OrderStatus
	Event Event
	At    time.Time
}
