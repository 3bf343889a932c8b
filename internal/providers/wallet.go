package providers

import (
	"context"
	"fmt"
	"strings"

	"RampEngine/internal/chain"
	"RampEngine/internal/errs"
	"RampEngine/internal/models"
)

// IndexSource hands out unique HD derivation indexes.
type IndexSource interface {
	NextDerivationIndex(ctx context.Context) (int64, error)
}

// HDWallets derives EVM deposit addresses from the configured xpub. The
// signing key never leaves the custody system; the key reference records
// only the derivation index.
type HDWallets struct {
	Deriver chain.AddressDeriver
	Indexes IndexSource
}

func (w *HDWallets) Provision(ctx context.Context, network models.Network) (Wallet, error) {
	if !network.IsEVM() {
		return Wallet{}, errs.Newf(errs.CodeValidation, "hd wallets do not support %s", network)
	}
	idx, err := w.Indexes.NextDerivationIndex(ctx)
	if err != nil {
		return Wallet{}, fmt.Errorf("hd wallets: next index: %w", err)
	}
	addr, err := w.Deriver.Derive(uint32(idx))
	if err != nil {
		return Wallet{}, fmt.Errorf("hd wallets: derive %d: %w", idx, err)
	}
	return Wallet{
		Address:         addr,
		Network:         network,
		EncryptedKeyRef: fmt.Sprintf("hd:%d", idx),
	}, nil
}

// HTTPCustody asks the custody service for a fresh deposit wallet.
type HTTPCustody struct {
	Client *Client
}

type createWalletRequest struct {
	Network string `json:"network"`
}

type createWalletResponse struct {
	Address string `json:"address"`
	KeyRef  string `json:"keyRef"`
}

func (c *HTTPCustody) Provision(ctx context.Context, network models.Network) (Wallet, error) {
	var resp createWalletResponse
	if err := c.Client.PostJSON(ctx, "/wallets", createWalletRequest{Network: string(network)}, &resp); err != nil {
		return Wallet{}, upstreamErr("wallet provisioning", err)
	}
	if strings.TrimSpace(resp.Address) == "" {
		return Wallet{}, errs.Upstream("wallet provisioning returned no address", nil)
	}
	return Wallet{
		Address:         strings.TrimSpace(resp.Address),
		Network:         network,
		EncryptedKeyRef: resp.KeyRef,
	}, nil
}
