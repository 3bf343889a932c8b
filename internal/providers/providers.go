package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"RampEngine/internal/errs"
	"RampEngine/internal/models"
)

// BankVerifier resolves an account number and bank code to a verified
// account holder.
type BankVerifier interface {
	Verify(ctx context.Context, accountNumber, bankCode string) (models.BankAccount, error)
}

type Wallet struct {
	Address         string
	Network         models.Network
	EncryptedKeyRef string
}

// WalletProvisioner hands out a fresh single-use deposit address.
type WalletProvisioner interface {
	Provision(ctx context.Context, network models.Network) (Wallet, error)
}

type SwapResult struct {
	Reference string
	Route     string
}

// TokenSwapper converts the deposited tokens into settlement currency.
type TokenSwapper interface {
	Swap(ctx context.Context, order *models.Order) (SwapResult, error)
}

type PayoutResult struct {
	Reference string
}

// PayoutSender initiates the fiat transfer to the verified bank account.
// Completion is reported asynchronously through the payout webhook.
type PayoutSender interface {
	Initiate(ctx context.Context, order *models.Order) (PayoutResult, error)
}

type Token struct {
	Symbol          string
	Network         models.Network
	ContractAddress string
	Decimals        int
}

// TokenCatalog resolves a token symbol on a network.
type TokenCatalog interface {
	Lookup(ctx context.Context, symbol string, network models.Network) (Token, error)
}

// StaticCatalog serves tokens from configuration.
type StaticCatalog struct {
	tokens map[string]Token
}

func NewStaticCatalog(tokens []Token) *StaticCatalog {
	c := &StaticCatalog{tokens: make(map[string]Token, len(tokens))}
	for _, t := range tokens {
		t.Symbol = strings.ToUpper(strings.TrimSpace(t.Symbol))
		c.tokens[catalogKey(t.Symbol, t.Network)] = t
	}
	return c
}

func (c *StaticCatalog) Lookup(ctx context.Context, symbol string, network models.Network) (Token, error) {
	t, ok := c.tokens[catalogKey(symbol, network)]
	if !ok {
		return Token{}, errs.Newf(errs.CodeValidation, "token %s is not supported on %s", strings.ToUpper(symbol), network)
	}
	return t, nil
}

func catalogKey(symbol string, network models.Network) string {
	return strings.ToUpper(strings.TrimSpace(symbol)) + "@" + string(network)
}

// NetworkRouter dispatches provisioning to a per-network provisioner.
type NetworkRouter map[models.Network]WalletProvisioner

func (r NetworkRouter) Provision(ctx context.Context, network models.Network) (Wallet, error) {
	p, ok := r[network]
	if !ok {
		return Wallet{}, errs.Newf(errs.CodeValidation, "deposit wallets are not available on %s", network)
	}
	return p.Provision(ctx, network)
}

// upstreamErr classifies adapter failures: 4xx responses are the caller's
// fault, everything else means the provider is unavailable.
func upstreamErr(what string, err error) error {
	var se *StatusError
	if errors.As(err, &se) && se.StatusCode >= 400 && se.StatusCode < 500 {
		return errs.Wrap(errs.CodeValidation, fmt.Sprintf("%s rejected the request", what), err)
	}
	return errs.Upstream(fmt.Sprintf("%s unavailable", what), err)
}
