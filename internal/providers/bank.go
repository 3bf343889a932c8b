package providers

import (
	"context"
	"net/url"
	"strings"
	"time"

	"RampEngine/internal/errs"
	"RampEngine/internal/models"
)

// HTTPBankVerifier resolves accounts against a bank-verification API.
type HTTPBankVerifier struct {
	Client   *Client
	Provider string
	Now      func() time.Time
}

type resolveAccountResponse struct {
	AccountNumber string `json:"accountNumber"`
	AccountName   string `json:"accountName"`
	BankCode      string `json:"bankCode"`
	BankName      string `json:"bankName"`
}

func (v *HTTPBankVerifier) Verify(ctx context.Context, accountNumber, bankCode string) (models.BankAccount, error) {
	q := url.Values{}
	q.Set("account_number", accountNumber)
	q.Set("bank_code", bankCode)

	var resp resolveAccountResponse
	if err := v.Client.GetJSON(ctx, "/accounts/resolve", q, &resp); err != nil {
		return models.BankAccount{}, upstreamErr("bank verification", err)
	}
	if strings.TrimSpace(resp.AccountName) == "" {
		return models.BankAccount{}, errs.Validation("bank account could not be verified")
	}

	now := time.Now
	if v.Now != nil {
		now = v.Now
	}
	acct := models.BankAccount{
		AccountNumber: accountNumber,
		AccountName:   strings.TrimSpace(resp.AccountName),
		BankCode:      bankCode,
		BankName:      resp.BankName,
		Provider:      v.Provider,
		VerifiedAt:    now().UTC(),
	}
	if resp.AccountNumber != "" {
		acct.AccountNumber = resp.AccountNumber
	}
	return acct, nil
}
