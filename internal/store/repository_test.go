package store_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"RampEngine/internal/errs"
	"RampEngine/internal/models"
	"RampEngine/internal/store"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
)

// repositorySuite is the behavioural contract shared by every Repository.
type repositorySuite struct {
	suite.Suite

	newRepo func() store.Repository
	repo    store.Repository
}

func (s *repositorySuite) SetupTest() {
	s.repo = s.newRepo()
}

func TestMemoryRepository(t *testing.T) {
	suite.Run(t, &repositorySuite{newRepo: func() store.Repository { return store.NewMemory() }})
}

func fakeOrder(businessID string, now time.Time) *models.Order {
	gross := decimal.NewFromInt(int64(gofakeit.Number(1000, 500000)))
	pct := decimal.RequireFromString("1.5")
	fee := gross.Mul(pct).Div(decimal.NewFromInt(100)).Round(0)
	return &models.Order{
		OrderID:    uuid.NewString(),
		Reference:  "OFR-" + strings.ToUpper(gofakeit.LetterN(12)),
		BusinessID: businessID,
		Customer: models.Customer{
			Email: gofakeit.Email(),
			Name:  gofakeit.Name(),
			Phone: gofakeit.Phone(),
		},
		TokenAmount:     decimal.RequireFromString("100.5"),
		Token:           "USDC",
		Network:         models.NetworkBase,
		ContractAddress: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		Pricing: models.Pricing{
			ExchangeRate:    decimal.NewFromInt(1650),
			GrossFiatAmount: gross,
			FeePercentage:   pct,
			FeeAmount:       fee,
			NetFiatAmount:   gross.Sub(fee),
			FiatCurrency:    "NGN",
		},
		Bank: models.BankAccount{
			AccountNumber: gofakeit.DigitN(10),
			AccountName:   gofakeit.Name(),
			BankCode:      "058",
			BankName:      "Test Bank",
			Provider:      "fake",
			VerifiedAt:    now,
		},
		Wallet: models.DepositWallet{
			Address:         fmt.Sprintf("0x%040x", gofakeit.Uint64()),
			Network:         models.NetworkBase,
			EncryptedKeyRef: "hd:1",
			GeneratedAt:     now,
			ExpiresAt:       now.Add(24 * time.Hour),
		},
		Status:    models.OrderPendingDeposit,
		Webhook:   models.WebhookTracking{URL: gofakeit.URL()},
		Metadata:  map[string]string{"pricing_source": "stable_peg/rate_api"},
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(24 * time.Hour),
	}
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

func (s *repositorySuite) create(o *models.Order) *models.Order {
	s.Require().NoError(s.repo.Create(context.Background(), o))
	return o
}

func (s *repositorySuite) TestCreateAndGet() {
	ctx := context.Background()
	o := s.create(fakeOrder("biz-1", now()))

	got, err := s.repo.Get(ctx, o.OrderID)
	s.Require().NoError(err)
	s.Equal(o.Reference, got.Reference)
	s.Equal(o.Customer, got.Customer)
	s.Equal(models.OrderPendingDeposit, got.Status)
	s.True(o.Pricing.NetFiatAmount.Equal(got.Pricing.NetFiatAmount))
	s.True(o.TokenAmount.Equal(got.TokenAmount))
	s.True(o.ExpiresAt.Equal(got.ExpiresAt))
	s.Equal("stable_peg/rate_api", got.Metadata["pricing_source"])
	s.Nil(got.Wallet.ReceivedAmount)

	byRef, err := s.repo.GetByReference(ctx, o.Reference)
	s.Require().NoError(err)
	s.Equal(o.OrderID, byRef.OrderID)

	byAddr, err := s.repo.GetByDepositAddress(ctx, strings.ToUpper(o.Wallet.Address))
	s.Require().NoError(err)
	s.Equal(o.OrderID, byAddr.OrderID)

	got.Metadata["pricing_source"] = "mutated"
	again, err := s.repo.Get(ctx, o.OrderID)
	s.Require().NoError(err)
	s.Equal("stable_peg/rate_api", again.Metadata["pricing_source"])
}

func (s *repositorySuite) TestDuplicateReference() {
	o := s.create(fakeOrder("biz-1", now()))
	dup := fakeOrder("biz-1", now())
	dup.Reference = o.Reference

	err := s.repo.Create(context.Background(), dup)
	s.Require().Error(err)
	s.ErrorIs(err, errs.ErrDuplicateReference)
}

func (s *repositorySuite) TestNotFound() {
	ctx := context.Background()
	_, err := s.repo.Get(ctx, uuid.NewString())
	s.ErrorIs(err, errs.ErrOrderNotFound)
	_, err = s.repo.GetByReference(ctx, "OFR-MISSING")
	s.ErrorIs(err, errs.ErrOrderNotFound)
	_, err = s.repo.GetByDepositAddress(ctx, "0xmissing")
	s.ErrorIs(err, errs.ErrOrderNotFound)
	err = s.repo.RecordWebhookAttempt(ctx, uuid.NewString(), models.WebhookDelivery{AttemptedAt: now(), Outcome: "delivered"})
	s.ErrorIs(err, errs.ErrOrderNotFound)
}

func (s *repositorySuite) TestSaveCompareAndSet() {
	ctx := context.Background()
	o := s.create(fakeOrder("biz-1", now()))

	cur, err := s.repo.Get(ctx, o.OrderID)
	s.Require().NoError(err)
	received := decimal.RequireFromString("100.5")
	at := now()
	cur.Status = models.OrderDepositReceived
	cur.Wallet.TokensReceived = true
	cur.Wallet.ReceivedAmount = &received
	cur.Wallet.ReceivedAt = &at
	cur.Wallet.TxHash = "0xfeed"
	cur.DepositReceivedAt = &at
	cur.UpdatedAt = at
	cur.SetMeta("deposit_classification", "exact")

	s.Require().NoError(s.repo.Save(ctx, cur, cur.Version))

	got, err := s.repo.Get(ctx, o.OrderID)
	s.Require().NoError(err)
	s.Equal(models.OrderDepositReceived, got.Status)
	s.Equal(cur.Version+1, got.Version)
	s.True(got.Wallet.TokensReceived)
	s.Require().NotNil(got.Wallet.ReceivedAmount)
	s.True(received.Equal(*got.Wallet.ReceivedAmount))
	s.Equal("0xfeed", got.Wallet.TxHash)
	s.Equal("exact", got.Metadata["deposit_classification"])
	s.Require().NotNil(got.DepositReceivedAt)

	err = s.repo.Save(ctx, cur, cur.Version)
	s.ErrorIs(err, store.ErrStale)

	ghost := fakeOrder("biz-1", now())
	err = s.repo.Save(ctx, ghost, 0)
	s.ErrorIs(err, errs.ErrOrderNotFound)
}

func (s *repositorySuite) TestSaveRejectsStaleReadAfterStatusRoundTrip() {
	ctx := context.Background()
	o := s.create(fakeOrder("biz-1", now()))
	s.setStatus(o, models.OrderProcessing, now())

	stale, err := s.repo.Get(ctx, o.OrderID)
	s.Require().NoError(err)

	cur, err := s.repo.Get(ctx, o.OrderID)
	s.Require().NoError(err)
	cur.Status = models.OrderFailed
	s.Require().NoError(s.repo.Save(ctx, cur, cur.Version))
	cur, err = s.repo.Get(ctx, o.OrderID)
	s.Require().NoError(err)
	cur.Status = models.OrderProcessing
	cur.RetryCount = 1
	s.Require().NoError(s.repo.Save(ctx, cur, cur.Version))

	stale.Status = models.OrderFailed
	stale.FailureStage = models.StageStuckProcessing
	err = s.repo.Save(ctx, stale, stale.Version)
	s.ErrorIs(err, store.ErrStale)

	got, err := s.repo.Get(ctx, o.OrderID)
	s.Require().NoError(err)
	s.Equal(models.OrderProcessing, got.Status)
	s.Equal(1, got.RetryCount)
	s.Equal(stale.Version+2, got.Version)
}

func (s *repositorySuite) TestSaveLeavesWebhookTracking() {
	ctx := context.Background()
	o := s.create(fakeOrder("biz-1", now()))

	stale, err := s.repo.Get(ctx, o.OrderID)
	s.Require().NoError(err)

	at := now()
	s.Require().NoError(s.repo.RecordWebhookAttempt(ctx, o.OrderID, models.WebhookDelivery{AttemptedAt: at, Outcome: "http 500"}))
	s.Require().NoError(s.repo.RecordWebhookAttempt(ctx, o.OrderID, models.WebhookDelivery{AttemptedAt: at, Outcome: "delivered"}))

	stale.Status = models.OrderCancelled
	stale.CancelledAt = &at
	s.Require().NoError(s.repo.Save(ctx, stale, stale.Version), "webhook attempts do not bump the version")

	got, err := s.repo.Get(ctx, o.OrderID)
	s.Require().NoError(err)
	s.Equal(models.OrderCancelled, got.Status)
	s.Equal(2, got.Webhook.Attempts)
	s.Equal("delivered", got.Webhook.LastOutcome)
	s.Require().NotNil(got.Webhook.LastAttemptAt)
	s.True(at.Equal(*got.Webhook.LastAttemptAt))
}

func (s *repositorySuite) setStatus(o *models.Order, status models.OrderStatus, updatedAt time.Time) {
	cur, err := s.repo.Get(context.Background(), o.OrderID)
	s.Require().NoError(err)
	cur.Status = status
	cur.UpdatedAt = updatedAt
	s.Require().NoError(s.repo.Save(context.Background(), cur, cur.Version))
}

func (s *repositorySuite) TestFindExpired() {
	ctx := context.Background()
	base := now()

	old := fakeOrder("biz-1", base.Add(-48*time.Hour))
	s.create(old)
	oldProcessing := fakeOrder("biz-1", base.Add(-30*time.Hour))
	s.create(oldProcessing)
	s.setStatus(oldProcessing, models.OrderProcessing, base.Add(-25*time.Hour))
	oldPayout := fakeOrder("biz-1", base.Add(-30*time.Hour))
	s.create(oldPayout)
	s.setStatus(oldPayout, models.OrderPendingPayout, base.Add(-25*time.Hour))
	s.create(fakeOrder("biz-1", base))

	got, err := s.repo.FindExpired(ctx, base, 10)
	s.Require().NoError(err)
	ids := orderIDs(got)
	s.ElementsMatch([]string{old.OrderID, oldProcessing.OrderID}, ids)
	s.Equal(old.OrderID, ids[0], "oldest expiry first")
}

func (s *repositorySuite) TestFindStuck() {
	ctx := context.Background()
	base := now()

	stuck := s.create(fakeOrder("biz-1", base.Add(-3*time.Hour)))
	s.setStatus(stuck, models.OrderProcessing, base.Add(-2*time.Hour))

	fresh := s.create(fakeOrder("biz-1", base.Add(-3*time.Hour)))
	s.setStatus(fresh, models.OrderProcessing, base.Add(-10*time.Minute))

	exhausted := s.create(fakeOrder("biz-1", base.Add(-3*time.Hour)))
	cur, err := s.repo.Get(ctx, exhausted.OrderID)
	s.Require().NoError(err)
	cur.Status = models.OrderPendingPayout
	cur.RetryCount = models.MaxRetries
	cur.UpdatedAt = base.Add(-2 * time.Hour)
	s.Require().NoError(s.repo.Save(ctx, cur, cur.Version))

	waiting := s.create(fakeOrder("biz-1", base.Add(-3*time.Hour)))
	s.setStatus(waiting, models.OrderPendingDeposit, base.Add(-2*time.Hour))

	got, err := s.repo.FindStuck(ctx, base.Add(-time.Hour), 10)
	s.Require().NoError(err)
	s.Equal([]string{stuck.OrderID}, orderIDs(got))
}

func (s *repositorySuite) TestFindRetryable() {
	ctx := context.Background()
	base := now()

	failed := s.create(fakeOrder("biz-1", base))
	s.setStatus(failed, models.OrderFailed, base)

	expired := s.create(fakeOrder("biz-1", base.Add(-48*time.Hour)))
	s.setStatus(expired, models.OrderFailed, base)

	underpaid := s.create(fakeOrder("biz-1", base))
	cur, err := s.repo.Get(ctx, underpaid.OrderID)
	s.Require().NoError(err)
	cur.Status = models.OrderFailed
	cur.SetMeta(models.MetaDepositClassification, models.DepositUnderpaid)
	s.Require().NoError(s.repo.Save(ctx, cur, cur.Version))

	s.create(fakeOrder("biz-1", base))

	got, err := s.repo.FindRetryable(ctx, base, 10)
	s.Require().NoError(err)
	s.Equal([]string{failed.OrderID}, orderIDs(got))
}

func (s *repositorySuite) TestListByBusiness() {
	ctx := context.Background()
	base := now()
	var mine []*models.Order
	for i := 0; i < 3; i++ {
		mine = append(mine, s.create(fakeOrder("biz-1", base.Add(time.Duration(i)*time.Minute))))
	}
	s.create(fakeOrder("biz-2", base))
	s.setStatus(mine[0], models.OrderCancelled, base)

	all, err := s.repo.ListByBusiness(ctx, "biz-1", store.ListFilter{})
	s.Require().NoError(err)
	s.Equal([]string{mine[2].OrderID, mine[1].OrderID, mine[0].OrderID}, orderIDs(all))

	page, err := s.repo.ListByBusiness(ctx, "biz-1", store.ListFilter{Limit: 1, Offset: 1})
	s.Require().NoError(err)
	s.Equal([]string{mine[1].OrderID}, orderIDs(page))

	cancelled, err := s.repo.ListByBusiness(ctx, "biz-1", store.ListFilter{Status: models.OrderCancelled})
	s.Require().NoError(err)
	s.Equal([]string{mine[0].OrderID}, orderIDs(cancelled))

	none, err := s.repo.ListByBusiness(ctx, "biz-3", store.ListFilter{})
	s.Require().NoError(err)
	s.Empty(none)
}

func (s *repositorySuite) TestNextDerivationIndex() {
	ctx := context.Background()
	a, err := s.repo.NextDerivationIndex(ctx)
	s.Require().NoError(err)
	b, err := s.repo.NextDerivationIndex(ctx)
	s.Require().NoError(err)
	s.Greater(b, a)
}

func orderIDs(orders []*models.Order) []string {
	out := make([]string, 0, len(orders))
	for _, o := range orders {
		out = append(out, o.OrderID)
	}
	return out
}
