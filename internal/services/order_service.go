package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"net/url"
	"strings"
	"sync"
	"time"

	"RampEngine/internal/errs"
	"RampEngine/internal/fees"
	"RampEngine/internal/lifecycle"
	"RampEngine/internal/models"
	"RampEngine/internal/payments"
	"RampEngine/internal/pricing"
	"RampEngine/internal/providers"
	"RampEngine/internal/store"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	DefaultOrderTTL        = 24 * time.Hour
	DefaultProviderTimeout = 10 * time.Second
	DefaultProcessTimeout  = 5 * time.Minute

	maxReferenceLength = 64
)

// Quoter prices a token amount in fiat.
type Quoter interface {
	Quote(ctx context.Context, req pricing.Request) (pricing.Quote, error)
}

// Recorder receives business metrics from the service.
type Recorder interface {
	OrderCreated(order *models.Order)
	QuoteResolved(fiatSource string, discrepancy bool)
}

type QuoteInput struct {
	Amount     decimal.Decimal
	FiatAmount decimal.Decimal
	Token      string
	Network    models.Network
}

type QuoteOutput struct {
	Quote pricing.Quote
	Fees  fees.Breakdown
	Token providers.Token
}

type CreateOrderInput struct {
	CustomerEmail string
	CustomerName  string
	CustomerPhone string
	TokenAmount   decimal.Decimal
	Token         string
	Network       models.Network
	AccountNumber string
	BankCode      string
	WebhookURL    string
	Reference     string
	Metadata      map[string]string
}

// DepositConfirmation is a confirmed transfer into a deposit wallet, from
// the chain watcher webhook or the deposit feed.
type DepositConfirmation struct {
	WalletAddress string
	TxHash        string
	Amount        decimal.Decimal
	Network       models.Network
	ReceivedAt    time.Time
}

// PayoutStatus is a payment processor callback. Reference is the business
// order reference sent with the payout, or the order id.
type PayoutStatus struct {
	Reference     string
	Status        string
	TransactionID string
	FailureReason string
}

// OrderService glues quoting, creation and the processing pipeline onto the
// lifecycle manager.
type OrderService struct {
	Store     store.Repository
	Lifecycle *lifecycle.Manager
	Quotes    Quoter
	Fees      fees.Source
	Tokens    providers.TokenCatalog
	Banks     providers.BankVerifier
	Wallets   providers.WalletProvisioner
	Swapper   providers.TokenSwapper
	Payouts   providers.PayoutSender
	Metrics   Recorder
	Logger    *zap.Logger

	OrderTTL        time.Duration
	ProviderTimeout time.Duration
	ProcessTimeout  time.Duration
	Now             func() time.Time

	wg sync.WaitGroup
}

func (s *OrderService) Quote(ctx context.Context, businessID string, in QuoteInput) (QuoteOutput, error) {
	if businessID == "" {
		return QuoteOutput{}, errs.New(errs.CodeUnauthorized, "missing business id")
	}
	if !in.Amount.IsPositive() && !in.FiatAmount.IsPositive() {
		return QuoteOutput{}, errs.Validation("amount or fiatAmount must be positive")
	}
	if in.Amount.IsPositive() && in.FiatAmount.IsPositive() {
		return QuoteOutput{}, errs.Validation("amount and fiatAmount are mutually exclusive")
	}
	token, err := s.lookupToken(ctx, in.Token, in.Network)
	if err != nil {
		return QuoteOutput{}, err
	}
	q, err := s.Quotes.Quote(ctx, pricing.Request{
		Token:           token.Symbol,
		Network:         token.Network,
		ContractAddress: token.ContractAddress,
		Amount:          in.Amount,
		FiatTarget:      in.FiatAmount,
	})
	if err != nil {
		return QuoteOutput{}, err
	}
	if s.Metrics != nil {
		s.Metrics.QuoteResolved(q.Provenance["fiat_source"], q.Discrepancy)
	}
	table, err := s.Fees.FeeTable(ctx, businessID)
	if err != nil {
		return QuoteOutput{}, fmt.Errorf("fee table for %s: %w", businessID, err)
	}
	return QuoteOutput{Quote: q, Fees: table.Apply(token.ContractAddress, q.GrossFiatAmount), Token: token}, nil
}

// CreateOrder quotes, verifies the bank account, provisions a deposit
// wallet and persists the order. Nothing is stored unless every step
// succeeds.
func (s *OrderService) CreateOrder(ctx context.Context, businessID string, in CreateOrderInput) (*models.Order, error) {
	if err := validateCreate(businessID, in); err != nil {
		return nil, err
	}

	reference := strings.TrimSpace(in.Reference)
	if reference == "" {
		reference = NewReference()
	} else if _, err := s.Store.GetByReference(ctx, reference); err == nil {
		return nil, errs.ErrDuplicateReference
	} else if !errors.Is(err, errs.ErrOrderNotFound) {
		return nil, err
	}

	out, err := s.Quote(ctx, businessID, QuoteInput{Amount: in.TokenAmount, Token: in.Token, Network: in.Network})
	if err != nil {
		return nil, err
	}
	if !out.Fees.Net.IsPositive() {
		return nil, errs.Validation("net fiat amount after fees must be positive")
	}

	vctx, cancel := context.WithTimeout(ctx, s.providerTimeout())
	bank, err := s.Banks.Verify(vctx, strings.TrimSpace(in.AccountNumber), strings.TrimSpace(in.BankCode))
	cancel()
	if err != nil {
		return nil, upstream("bank verification", err)
	}

	wctx, cancel := context.WithTimeout(ctx, s.providerTimeout())
	wallet, err := s.Wallets.Provision(wctx, out.Token.Network)
	cancel()
	if err != nil {
		return nil, upstream("wallet provisioning", err)
	}

	now := s.now()
	expires := now.Add(s.orderTTL())
	meta := lo.Assign(in.Metadata, map[string]string{"pricing_source": out.Quote.Source})
	for k, v := range out.Quote.Provenance {
		meta["quote_"+k] = v
	}
	order := &models.Order{
		OrderID:    uuid.NewString(),
		Reference:  reference,
		BusinessID: businessID,
		Customer: models.Customer{
			Email: strings.TrimSpace(in.CustomerEmail),
			Name:  strings.TrimSpace(in.CustomerName),
			Phone: strings.TrimSpace(in.CustomerPhone),
		},
		TokenAmount:     in.TokenAmount,
		Token:           out.Token.Symbol,
		Network:         out.Token.Network,
		ContractAddress: out.Token.ContractAddress,
		Pricing: models.Pricing{
			ExchangeRate:    out.Quote.Rate,
			GrossFiatAmount: out.Fees.Gross,
			FeePercentage:   out.Fees.Percentage,
			FeeAmount:       out.Fees.Fee,
			NetFiatAmount:   out.Fees.Net,
			FiatCurrency:    out.Quote.FiatCurrency,
		},
		Bank: bank,
		Wallet: models.DepositWallet{
			Address:         wallet.Address,
			Network:         wallet.Network,
			EncryptedKeyRef: wallet.EncryptedKeyRef,
			GeneratedAt:     now,
			ExpiresAt:       expires,
		},
		Status:    models.OrderPendingDeposit,
		Webhook:   models.WebhookTracking{URL: strings.TrimSpace(in.WebhookURL)},
		Metadata:  meta,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: expires,
	}
	if err := s.Store.Create(ctx, order); err != nil {
		return nil, err
	}

	s.logger().Info("order created",
		zap.String("order_id", order.OrderID),
		zap.String("reference", order.Reference),
		zap.String("business_id", businessID),
		zap.String("token", order.Token),
		zap.String("network", string(order.Network)),
		zap.String("net_fiat", order.Pricing.NetFiatAmount.String()),
	)
	if s.Metrics != nil {
		s.Metrics.OrderCreated(order)
	}
	return order, nil
}

func (s *OrderService) GetOrder(ctx context.Context, businessID, orderID string) (*models.Order, error) {
	o, err := s.Store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return owned(o, businessID)
}

func (s *OrderService) GetOrderByReference(ctx context.Context, businessID, reference string) (*models.Order, error) {
	o, err := s.Store.GetByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	return owned(o, businessID)
}

func (s *OrderService) ListOrders(ctx context.Context, businessID string, filter store.ListFilter) ([]*models.Order, error) {
	if businessID == "" {
		return nil, errs.New(errs.CodeUnauthorized, "missing business id")
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, errs.Newf(errs.CodeValidation, "unknown status %q", filter.Status)
	}
	if filter.Offset < 0 {
		return nil, errs.Validation("offset must not be negative")
	}
	return s.Store.ListByBusiness(ctx, businessID, filter)
}

func (s *OrderService) CancelOrder(ctx context.Context, businessID, orderID string) (*models.Order, error) {
	if _, err := s.GetOrder(ctx, businessID, orderID); err != nil {
		return nil, err
	}
	return s.Lifecycle.Cancel(ctx, orderID)
}

// RetryOrder resets a failed order and re-runs the step that failed in the
// background.
func (s *OrderService) RetryOrder(ctx context.Context, businessID, orderID string) (*models.Order, error) {
	if _, err := s.GetOrder(ctx, businessID, orderID); err != nil {
		return nil, err
	}
	o, err := s.Lifecycle.Retry(ctx, orderID)
	if err != nil {
		return nil, err
	}
	s.logger().Info("order retried",
		zap.String("order_id", orderID),
		zap.Int("retry_count", o.RetryCount),
		zap.String("status", string(o.Status)),
	)
	s.background(ctx, o)
	return o, nil
}

// HandleDeposit records a confirmed deposit and starts processing unless
// the deposit fell short of the order amount.
func (s *OrderService) HandleDeposit(ctx context.Context, dep DepositConfirmation) (*models.Order, error) {
	if strings.TrimSpace(dep.WalletAddress) == "" || strings.TrimSpace(dep.TxHash) == "" {
		return nil, errs.Validation("walletAddress and transactionHash are required")
	}
	if !dep.Amount.IsPositive() {
		return nil, errs.Validation("amount must be positive")
	}
	o, err := s.Store.GetByDepositAddress(ctx, dep.WalletAddress)
	if err != nil {
		return nil, err
	}
	if dep.Network != "" && dep.Network != o.Network {
		return nil, errs.Newf(errs.CodeValidation, "deposit on %s does not match order network %s", dep.Network, o.Network)
	}

	a := payments.Assess(o, dep.Amount)
	o, applied, err := s.Lifecycle.Fire(ctx, o.OrderID, models.EventDepositReceived, models.Details{
		TxHash:         strings.TrimSpace(dep.TxHash),
		ReceivedAmount: dep.Amount,
		ReceivedAt:     dep.ReceivedAt,
		Metadata:       a.Metadata(),
	})
	if err != nil {
		return nil, err
	}
	if !applied {
		return o, nil
	}

	log := s.logger().With(zap.String("order_id", o.OrderID), zap.String("tx_hash", dep.TxHash))
	if !a.Proceed() {
		log.Warn("underpaid deposit held for review",
			zap.String("expected", a.Expected.String()),
			zap.String("received", a.Received.String()),
		)
		return o, nil
	}
	log.Info("deposit received", zap.String("classification", string(a.Classification)))
	s.background(ctx, o)
	return o, nil
}

func (s *OrderService) HandlePayoutStatus(ctx context.Context, ps PayoutStatus) (*models.Order, error) {
	ref := strings.TrimSpace(ps.Reference)
	if ref == "" {
		return nil, errs.Validation("reference is required")
	}
	o, err := s.Store.GetByReference(ctx, ref)
	if errors.Is(err, errs.ErrOrderNotFound) {
		o, err = s.Store.Get(ctx, ref)
	}
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(strings.TrimSpace(ps.Status)) {
	case "successful", "success", "completed":
		return s.Lifecycle.Transition(ctx, o.OrderID, models.EventPayoutCompleted, models.Details{
			PayoutTxID: ps.TransactionID,
		})
	case "failed", "reversed":
		reason := lo.Ternary(ps.FailureReason == "", "bank payout failed", ps.FailureReason)
		return s.Lifecycle.Transition(ctx, o.OrderID, models.EventFailed, models.Details{
			FailureReason: reason,
			FailureStage:  models.StageBankPayout,
			Metadata:      map[string]string{"payout_tx_id": ps.TransactionID},
		})
	case "pending", "processing":
		return o, nil
	default:
		return nil, errs.Newf(errs.CodeValidation, "unknown payout status %q", ps.Status)
	}
}

// Wait blocks until background processing has drained.
func (s *OrderService) Wait() {
	s.wg.Wait()
}

func (s *OrderService) background(ctx context.Context, o *models.Order) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.processTimeout())
		defer cancel()
		s.process(ctx, o)
	}()
}

// process drives the order from its current status through swap and payout
// initiation. Completion arrives later through HandlePayoutStatus.
func (s *OrderService) process(ctx context.Context, o *models.Order) {
	log := s.logger().With(zap.String("order_id", o.OrderID))
	if o.Underpaid() {
		log.Warn("underpaid order not processed", zap.String("status", string(o.Status)))
		return
	}
	var applied bool
	var err error

	switch o.Status {
	case models.OrderDepositReceived:
		o, applied, err = s.Lifecycle.Fire(ctx, o.OrderID, models.EventSwapStarted, models.Details{})
		if err != nil {
			log.Error("start swap failed", zap.Error(err))
			return
		}
		if !applied {
			return
		}
		fallthrough

	case models.OrderProcessing:
		swapRef := o.SwapReference
		var meta map[string]string
		if swapRef == "" {
			sctx, cancel := context.WithTimeout(ctx, s.providerTimeout())
			res, err := s.Swapper.Swap(sctx, o)
			cancel()
			if err != nil {
				s.fail(ctx, o.OrderID, models.StageTokenSwap, "token swap failed", err)
				return
			}
			swapRef = res.Reference
			if res.Route != "" {
				meta = map[string]string{"swap_route": res.Route}
			}
		}
		o, applied, err = s.Lifecycle.Fire(ctx, o.OrderID, models.EventSwapCompleted, models.Details{
			SwapReference: swapRef,
			Metadata:      meta,
		})
		if err != nil {
			log.Error("complete swap failed", zap.Error(err))
			return
		}
		if !applied {
			return
		}
		fallthrough

	case models.OrderPendingPayout:
		pctx, cancel := context.WithTimeout(ctx, s.providerTimeout())
		res, err := s.Payouts.Initiate(pctx, o)
		cancel()
		if err != nil {
			s.fail(ctx, o.OrderID, models.StageBankPayout, "bank payout initiation failed", err)
			return
		}
		if _, err := s.Lifecycle.Annotate(ctx, o.OrderID, models.Details{PayoutReference: res.Reference}); err != nil {
			log.Error("record payout reference failed", zap.Error(err))
			return
		}
		log.Info("payout initiated", zap.String("payout_reference", res.Reference))

	default:
		log.Debug("nothing to process", zap.String("status", string(o.Status)))
	}
}

func (s *OrderService) fail(ctx context.Context, orderID string, stage models.FailureStage, what string, cause error) {
	s.logger().Warn(what, zap.String("order_id", orderID), zap.Error(cause))
	reason := what
	var e *errs.Error
	if errors.As(cause, &e) {
		reason += ": " + e.Message
	}
	_, err := s.Lifecycle.Transition(ctx, orderID, models.EventFailed, models.Details{
		FailureReason: reason,
		FailureStage:  stage,
	})
	if err != nil {
		s.logger().Error("mark order failed", zap.String("order_id", orderID), zap.Error(err))
	}
}

func (s *OrderService) lookupToken(ctx context.Context, symbol string, network models.Network) (providers.Token, error) {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return providers.Token{}, errs.Validation("token is required")
	}
	network = models.Network(strings.ToLower(strings.TrimSpace(string(network))))
	if !network.Valid() {
		return providers.Token{}, errs.Newf(errs.CodeValidation, "unsupported network %q", network)
	}
	return s.Tokens.Lookup(ctx, symbol, network)
}

func validateCreate(businessID string, in CreateOrderInput) error {
	if businessID == "" {
		return errs.New(errs.CodeUnauthorized, "missing business id")
	}
	if _, err := mail.ParseAddress(strings.TrimSpace(in.CustomerEmail)); err != nil {
		return errs.Validation("customerEmail is invalid")
	}
	if strings.TrimSpace(in.CustomerName) == "" {
		return errs.Validation("customerName is required")
	}
	if !in.TokenAmount.IsPositive() {
		return errs.Validation("tokenAmount must be positive")
	}
	if strings.TrimSpace(in.AccountNumber) == "" || strings.TrimSpace(in.BankCode) == "" {
		return errs.Validation("recipientAccountNumber and recipientBankCode are required")
	}
	if len(strings.TrimSpace(in.Reference)) > maxReferenceLength {
		return errs.Newf(errs.CodeValidation, "reference must be at most %d characters", maxReferenceLength)
	}
	if raw := strings.TrimSpace(in.WebhookURL); raw != "" {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return errs.Validation("webhookUrl must be an absolute http(s) URL")
		}
	}
	return nil
}

// NewReference returns a business order reference of the form OFR-<12 hex>.
func NewReference() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "OFR-" + strings.ToUpper(id[:12])
}

func owned(o *models.Order, businessID string) (*models.Order, error) {
	if businessID == "" {
		return nil, errs.New(errs.CodeUnauthorized, "missing business id")
	}
	if o.BusinessID != businessID {
		return nil, errs.ErrOrderNotFound
	}
	return o, nil
}

// upstream keeps typed errors and wraps everything else, including
// timeouts, as an unavailable collaborator.
func upstream(what string, err error) error {
	var e *errs.Error
	if errors.As(err, &e) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errs.Upstream(what+" timed out", err)
	}
	return errs.Upstream(what+" unavailable", err)
}

func (s *OrderService) orderTTL() time.Duration {
	if s.OrderTTL > 0 {
		return s.OrderTTL
	}
	return DefaultOrderTTL
}

func (s *OrderService) providerTimeout() time.Duration {
	if s.ProviderTimeout > 0 {
		return s.ProviderTimeout
	}
	return DefaultProviderTimeout
}

func (s *OrderService) processTimeout() time.Duration {
	if s.ProcessTimeout > 0 {
		return s.ProcessTimeout
	}
	return DefaultProcessTimeout
}

func (s *OrderService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *OrderService) logger() *zap.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return zap.NewNop()
}
