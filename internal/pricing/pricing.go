package pricing

import (
	"context"
	"errors"
	"strings"
	"time"

	"RampEngine/internal/errs"
	"RampEngine/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Fiat rate sources, in fallback order.
const (
	SourceRateAPI   = "rate_api"
	SourceStatic    = "static_config"
	SourceEmergency = "emergency"
)

// SourceStablePeg tags reference values priced 1:1 without a DEX lookup.
const SourceStablePeg = "stable_peg"

const (
	DefaultTimeout = 10 * time.Second
	DefaultTTL     = 300 * time.Second
)

var (
	EmergencyRate         = decimal.NewFromInt(1500)
	MinimumReferenceValue = decimal.RequireFromString("0.5")

	discrepancyTolerance = decimal.RequireFromString("0.01")
)

// Valuation is the reference-asset value of a token amount.
type Valuation struct {
	ReferenceValue decimal.Decimal
	PricePerUnit   decimal.Decimal
	Source         string
}

// PriceOracle values a token amount in the reference asset (USD stable).
type PriceOracle interface {
	Value(ctx context.Context, network models.Network, contract string, amount decimal.Decimal) (Valuation, error)
}

// RateSource returns the reference-asset to fiat rate.
type RateSource interface {
	Rate(ctx context.Context) (decimal.Decimal, error)
}

type Request struct {
	Token           string
	Network         models.Network
	ContractAddress string
	Amount          decimal.Decimal
	// FiatTarget, when positive, asks for the token amount that yields this
	// gross fiat figure. Amount is ignored.
	FiatTarget decimal.Decimal
}

type Quote struct {
	Rate            decimal.Decimal
	TokenAmount     decimal.Decimal
	PricePerUnit    decimal.Decimal
	ReferenceValue  decimal.Decimal
	FiatRate        decimal.Decimal
	GrossFiatAmount decimal.Decimal
	FiatCurrency    string
	Source          string
	Provenance      map[string]string
	Discrepancy     bool
	QuotedAt        time.Time
	TTL             time.Duration
}

func (q Quote) ExpiresInSeconds() int {
	return int(q.TTL / time.Second)
}

type Resolver struct {
	Oracle       PriceOracle
	Rates        RateSource
	StaticRate   decimal.Decimal
	Stablecoins  []string
	FiatCurrency string
	Timeout      time.Duration
	TTL          time.Duration
	Logger       *zap.Logger
	Now          func() time.Time
}

func (r *Resolver) Quote(ctx context.Context, req Request) (Quote, error) {
	if !req.Network.Valid() {
		return Quote{}, errs.Newf(errs.CodeValidation, "unsupported network %q", req.Network)
	}
	inverse := req.FiatTarget.IsPositive()
	if !inverse && !req.Amount.IsPositive() {
		return Quote{}, errs.Validation("amount must be positive")
	}

	prov := map[string]string{}

	fiatRate, fiatSource := r.fiatRate(ctx, prov)

	amount := req.Amount
	var val Valuation
	var err error
	if inverse {
		val, err = r.value(ctx, req, decimal.NewFromInt(1))
		if err != nil {
			return Quote{}, err
		}
		unitFiat := val.PricePerUnit.Mul(fiatRate)
		if !unitFiat.IsPositive() {
			return Quote{}, errs.Upstream("price oracle returned a non-positive price", nil)
		}
		amount = req.FiatTarget.DivRound(unitFiat, 16).RoundUp(8)
		val.ReferenceValue = val.PricePerUnit.Mul(amount)
		prov["mode"] = "fiat_target"
		prov["fiat_target"] = req.FiatTarget.String()
	} else {
		val, err = r.value(ctx, req, amount)
		if err != nil {
			return Quote{}, err
		}
	}
	prov["dex_source"] = val.Source
	prov["price_per_unit"] = val.PricePerUnit.String()
	prov["reference_value"] = val.ReferenceValue.String()

	if val.ReferenceValue.LessThan(MinimumReferenceValue) {
		return Quote{}, errs.Wrap(errs.CodeBelowMinimumValue,
			"order value "+val.ReferenceValue.StringFixed(2)+" is below the minimum of "+MinimumReferenceValue.String(),
			errs.ErrBelowMinimumValue)
	}

	rate := val.PricePerUnit.Mul(fiatRate)
	gross := val.ReferenceValue.Mul(fiatRate)
	expected := rate.Mul(amount)
	discrepancy := false
	if expected.IsPositive() && gross.Sub(expected).Abs().GreaterThan(expected.Mul(discrepancyTolerance)) {
		r.logger().Warn("quote gross inconsistent with rate",
			zap.String("token", req.Token),
			zap.String("network", string(req.Network)),
			zap.String("upstream_gross", gross.String()),
			zap.String("rate_gross", expected.String()),
		)
		prov["discrepancy"] = "true"
		prov["upstream_gross"] = gross.String()
		gross = expected
		discrepancy = true
	}

	return Quote{
		Rate:            rate,
		TokenAmount:     amount,
		PricePerUnit:    val.PricePerUnit,
		ReferenceValue:  val.ReferenceValue,
		FiatRate:        fiatRate,
		GrossFiatAmount: gross.Round(2),
		FiatCurrency:    r.FiatCurrency,
		Source:          val.Source + "/" + fiatSource,
		Provenance:      prov,
		Discrepancy:     discrepancy,
		QuotedAt:        r.now(),
		TTL:             r.ttl(),
	}, nil
}

func (r *Resolver) value(ctx context.Context, req Request, amount decimal.Decimal) (Valuation, error) {
	if r.isStable(req.Token) {
		return Valuation{ReferenceValue: amount, PricePerUnit: decimal.NewFromInt(1), Source: SourceStablePeg}, nil
	}
	if r.Oracle == nil {
		return Valuation{}, errs.Upstream("price oracle is not configured", nil)
	}
	cctx, cancel := context.WithTimeout(ctx, r.timeout())
	defer cancel()
	val, err := r.Oracle.Value(cctx, req.Network, req.ContractAddress, amount)
	if err != nil {
		r.logger().Warn("price oracle failed",
			zap.String("token", req.Token),
			zap.String("network", string(req.Network)),
			zap.Error(err),
		)
		return Valuation{}, errs.Upstream("price oracle unavailable", err)
	}
	if !val.PricePerUnit.IsPositive() || val.ReferenceValue.IsNegative() {
		return Valuation{}, errs.Upstream("price oracle returned an invalid price", nil)
	}
	if val.Source == "" {
		val.Source = "dex"
	}
	return val, nil
}

// fiatRate walks rate_api, static_config then emergency. It never fails.
func (r *Resolver) fiatRate(ctx context.Context, prov map[string]string) (decimal.Decimal, string) {
	var err error
	if r.Rates != nil {
		cctx, cancel := context.WithTimeout(ctx, r.timeout())
		var rate decimal.Decimal
		rate, err = r.Rates.Rate(cctx)
		cancel()
		if err == nil && rate.IsPositive() {
			prov["fiat_source"] = SourceRateAPI
			prov["fiat_rate"] = rate.String()
			return rate, SourceRateAPI
		}
		if err == nil {
			err = errors.New("non-positive rate")
		}
		prov["fiat_error"] = err.Error()
		r.logger().Warn("fiat rate endpoint failed, falling back", zap.Error(err))
	}
	if r.StaticRate.IsPositive() {
		prov["fiat_source"] = SourceStatic
		prov["fiat_rate"] = r.StaticRate.String()
		return r.StaticRate, SourceStatic
	}
	r.logger().Error("no fiat rate available, using emergency rate", zap.String("rate", EmergencyRate.String()))
	prov["fiat_source"] = SourceEmergency
	prov["fiat_rate"] = EmergencyRate.String()
	return EmergencyRate, SourceEmergency
}

func (r *Resolver) isStable(token string) bool {
	for _, s := range r.Stablecoins {
		if strings.EqualFold(strings.TrimSpace(s), strings.TrimSpace(token)) {
			return true
		}
	}
	return false
}

func (r *Resolver) timeout() time.Duration {
	if r.Timeout > 0 {
		return r.Timeout
	}
	return DefaultTimeout
}

func (r *Resolver) ttl() time.Duration {
	if r.TTL > 0 {
		return r.TTL
	}
	return DefaultTTL
}

func (r *Resolver) now() time.Time {
	if r.Now != nil {
		return r.Now().UTC()
	}
	return time.Now().UTC()
}

func (r *Resolver) logger() *zap.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return zap.NewNop()
}
