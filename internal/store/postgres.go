package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"RampEngine/internal/errs"
	"RampEngine/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

const uniqueViolation = "23505"

// Postgres is the pgx-backed Repository.
type Postgres struct {
	Pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{Pool: pool}
}

const orderColumns = `
	order_id, reference, business_id,
	customer_email, customer_name, customer_phone,
	token_amount, token, network, contract_address,
	exchange_rate, gross_fiat_amount, fee_percentage, fee_amount, net_fiat_amount, fiat_currency,
	bank_account_number, bank_account_name, bank_code, bank_name, bank_provider, bank_verified_at,
	deposit_address, deposit_network, deposit_key_ref, deposit_generated_at, deposit_expires_at,
	tokens_received, received_amount, received_at, deposit_tx_hash,
	status,
	webhook_url, webhook_attempts, webhook_last_attempt_at, webhook_last_outcome,
	retry_count, failure_reason, failure_stage, swap_reference, payout_reference, payout_tx_id, metadata,
	created_at, updated_at, expires_at,
	deposit_received_at, processing_started_at, payout_initiated_at, completed_at, failed_at, cancelled_at,
	version`

func (s *Postgres) NextDerivationIndex(ctx context.Context) (int64, error) {
	var idx int64
	if err := s.Pool.QueryRow(ctx, "SELECT nextval('order_derivation_index_seq')").Scan(&idx); err != nil {
		return 0, fmt.Errorf("nextval: %w", err)
	}
	return idx, nil
}

func (s *Postgres) Create(ctx context.Context, o *models.Order) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,
			$21,$22,$23,$24,$25,$26,$27,$28,$29,$30,$31,$32,$33,$34,$35,$36,$37,$38,$39,$40,
			$41,$42,$43,$44,$45,$46,$47,$48,$49,$50,$51,$52,$53)
	`,
		o.OrderID, o.Reference, o.BusinessID,
		o.Customer.Email, o.Customer.Name, o.Customer.Phone,
		o.TokenAmount, o.Token, o.Network, o.ContractAddress,
		o.Pricing.ExchangeRate, o.Pricing.GrossFiatAmount, o.Pricing.FeePercentage, o.Pricing.FeeAmount, o.Pricing.NetFiatAmount, o.Pricing.FiatCurrency,
		o.Bank.AccountNumber, o.Bank.AccountName, o.Bank.BankCode, o.Bank.BankName, o.Bank.Provider, o.Bank.VerifiedAt,
		o.Wallet.Address, o.Wallet.Network, o.Wallet.EncryptedKeyRef, o.Wallet.GeneratedAt, o.Wallet.ExpiresAt,
		o.Wallet.TokensReceived, o.Wallet.ReceivedAmount, o.Wallet.ReceivedAt, o.Wallet.TxHash,
		o.Status,
		o.Webhook.URL, o.Webhook.Attempts, o.Webhook.LastAttemptAt, o.Webhook.LastOutcome,
		o.RetryCount, o.FailureReason, o.FailureStage, o.SwapReference, o.PayoutReference, o.PayoutTxID, metadataOf(o),
		o.CreatedAt, o.UpdatedAt, o.ExpiresAt,
		o.DepositReceivedAt, o.ProcessingStartedAt, o.PayoutInitiatedAt, o.CompletedAt, o.FailedAt, o.CancelledAt,
		o.Version,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == "orders_reference_key" {
			return fmt.Errorf("insert order: %w", errs.ErrDuplicateReference)
		}
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (s *Postgres) Get(ctx context.Context, orderID string) (*models.Order, error) {
	return s.getOne(ctx, "get order", `SELECT `+orderColumns+` FROM orders WHERE order_id=$1`, orderID)
}

func (s *Postgres) GetByReference(ctx context.Context, reference string) (*models.Order, error) {
	return s.getOne(ctx, "get order by reference", `SELECT `+orderColumns+` FROM orders WHERE reference=$1`, reference)
}

func (s *Postgres) GetByDepositAddress(ctx context.Context, address string) (*models.Order, error) {
	return s.getOne(ctx, "get order by address", `SELECT `+orderColumns+` FROM orders WHERE lower(deposit_address)=lower($1)`, address)
}

func (s *Postgres) Save(ctx context.Context, o *models.Order, expected int64) error {
	res, err := s.Pool.Exec(ctx, `
		UPDATE orders SET
			status=$3,
			tokens_received=$4, received_amount=$5, received_at=$6, deposit_tx_hash=$7,
			retry_count=$8, failure_reason=$9, failure_stage=$10,
			swap_reference=$11, payout_reference=$12, payout_tx_id=$13, metadata=$14,
			updated_at=$15,
			deposit_received_at=$16, processing_started_at=$17, payout_initiated_at=$18,
			completed_at=$19, failed_at=$20, cancelled_at=$21,
			version=version+1
		WHERE order_id=$1 AND version=$2
	`,
		o.OrderID, expected,
		o.Status,
		o.Wallet.TokensReceived, o.Wallet.ReceivedAmount, o.Wallet.ReceivedAt, o.Wallet.TxHash,
		o.RetryCount, o.FailureReason, o.FailureStage,
		o.SwapReference, o.PayoutReference, o.PayoutTxID, metadataOf(o),
		o.UpdatedAt,
		o.DepositReceivedAt, o.ProcessingStartedAt, o.PayoutInitiatedAt,
		o.CompletedAt, o.FailedAt, o.CancelledAt,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if res.RowsAffected() > 0 {
		return nil
	}
	var exists bool
	if err := s.Pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE order_id=$1)`, o.OrderID).Scan(&exists); err != nil {
		return fmt.Errorf("check order: %w", err)
	}
	if !exists {
		return fmt.Errorf("update order: %w", errs.ErrOrderNotFound)
	}
	return ErrStale
}

func (s *Postgres) RecordWebhookAttempt(ctx context.Context, orderID string, d models.WebhookDelivery) error {
	res, err := s.Pool.Exec(ctx, `
		UPDATE orders
		SET webhook_attempts=webhook_attempts+1, webhook_last_attempt_at=$2, webhook_last_outcome=$3
		WHERE order_id=$1
	`, orderID, d.AttemptedAt, d.Outcome)
	if err != nil {
		return fmt.Errorf("record webhook attempt: %w", err)
	}
	if res.RowsAffected() == 0 {
		return fmt.Errorf("record webhook attempt: %w", errs.ErrOrderNotFound)
	}
	return nil
}

func (s *Postgres) FindExpired(ctx context.Context, now time.Time, limit int) ([]*models.Order, error) {
	return s.list(ctx, "find expired", `
		SELECT `+orderColumns+` FROM orders
		WHERE status = ANY($1) AND expires_at < $2
		ORDER BY expires_at
		LIMIT $3
	`, statusStrings(ExpirableStatuses), now, limitOr(limit))
}

func (s *Postgres) FindStuck(ctx context.Context, updatedBefore time.Time, limit int) ([]*models.Order, error) {
	return s.list(ctx, "find stuck", `
		SELECT `+orderColumns+` FROM orders
		WHERE status = ANY($1) AND updated_at < $2 AND retry_count < $3
		ORDER BY updated_at
		LIMIT $4
	`, statusStrings(StuckStatuses), updatedBefore, models.MaxRetries, limitOr(limit))
}

func (s *Postgres) FindRetryable(ctx context.Context, now time.Time, limit int) ([]*models.Order, error) {
	return s.list(ctx, "find retryable", `
		SELECT `+orderColumns+` FROM orders
		WHERE status=$1 AND retry_count < $2 AND expires_at > $3
			AND metadata->>$5::text IS DISTINCT FROM $6::text
		ORDER BY updated_at
		LIMIT $4
	`, models.OrderFailed, models.MaxRetries, now, limitOr(limit), models.MetaDepositClassification, models.DepositUnderpaid)
}

func (s *Postgres) ListByBusiness(ctx context.Context, businessID string, filter ListFilter) ([]*models.Order, error) {
	return s.list(ctx, "list orders", `
		SELECT `+orderColumns+` FROM orders
		WHERE business_id=$1 AND ($2::text = '' OR status=$2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`, businessID, string(filter.Status), filter.limit(), filter.Offset)
}

func (s *Postgres) getOne(ctx context.Context, op, query string, arg any) (*models.Order, error) {
	o, err := scanOrder(s.Pool.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, errs.ErrOrderNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return o, nil
}

func (s *Postgres) list(ctx context.Context, op, query string, args ...any) ([]*models.Order, error) {
	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	orders := make([]*models.Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return orders, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*models.Order, error) {
	var o models.Order
	var received decimal.NullDecimal
	err := row.Scan(
		&o.OrderID, &o.Reference, &o.BusinessID,
		&o.Customer.Email, &o.Customer.Name, &o.Customer.Phone,
		&o.TokenAmount, &o.Token, &o.Network, &o.ContractAddress,
		&o.Pricing.ExchangeRate, &o.Pricing.GrossFiatAmount, &o.Pricing.FeePercentage, &o.Pricing.FeeAmount, &o.Pricing.NetFiatAmount, &o.Pricing.FiatCurrency,
		&o.Bank.AccountNumber, &o.Bank.AccountName, &o.Bank.BankCode, &o.Bank.BankName, &o.Bank.Provider, &o.Bank.VerifiedAt,
		&o.Wallet.Address, &o.Wallet.Network, &o.Wallet.EncryptedKeyRef, &o.Wallet.GeneratedAt, &o.Wallet.ExpiresAt,
		&o.Wallet.TokensReceived, &received, &o.Wallet.ReceivedAt, &o.Wallet.TxHash,
		&o.Status,
		&o.Webhook.URL, &o.Webhook.Attempts, &o.Webhook.LastAttemptAt, &o.Webhook.LastOutcome,
		&o.RetryCount, &o.FailureReason, &o.FailureStage, &o.SwapReference, &o.PayoutReference, &o.PayoutTxID, &o.Metadata,
		&o.CreatedAt, &o.UpdatedAt, &o.ExpiresAt,
		&o.DepositReceivedAt, &o.ProcessingStartedAt, &o.PayoutInitiatedAt, &o.CompletedAt, &o.FailedAt, &o.CancelledAt,
		&o.Version,
	)
	if err != nil {
		return nil, err
	}
	if received.Valid {
		o.Wallet.ReceivedAmount = lo.ToPtr(received.Decimal)
	}
	return &o, nil
}

func metadataOf(o *models.Order) map[string]string {
	return lo.Assign(map[string]string{}, o.Metadata)
}

func statusStrings(statuses []models.OrderStatus) []string {
	return lo.Map(statuses, func(s models.OrderStatus, _ int) string { return string(s) })
}

func limitOr(limit int) int {
	if limit <= 0 {
		return 100
	}
	return limit
}
