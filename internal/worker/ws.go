package worker

import (
	"context"
	"errors"
	"time"

	"RampEngine/internal/chain"
	"RampEngine/internal/errs"
	"RampEngine/internal/models"
	"RampEngine/internal/payments"
	"RampEngine/internal/services"

	"go.uber.org/zap"
)

const defaultReconnectDelay = 3 * time.Second

// DepositHandler records a confirmed deposit, e.g. the order service.
type DepositHandler interface {
	HandleDeposit(ctx context.Context, dep services.DepositConfirmation) (*models.Order, error)
}

// DepositFeed subscribes to the chain watcher's deposit stream as an
// alternative to the inbound deposit webhook. After FailoverThreshold
// consecutive connection failures it moves to the next endpoint.
type DepositFeed struct {
	Endpoints         []string
	Networks          []string
	MinConfirmations  int
	FailoverThreshold int
	ReconnectDelay    time.Duration
	Handler           DepositHandler
	Logger            *zap.Logger
}

func (f *DepositFeed) Run(ctx context.Context) {
	if len(f.Endpoints) == 0 {
		f.logger().Info("deposit feed disabled: no ws endpoints")
		return
	}
	threshold := f.FailoverThreshold
	if threshold <= 0 {
		threshold = 3
	}

	idx, failures := 0, 0
	for {
		if ctx.Err() != nil {
			return
		}
		endpoint := f.Endpoints[idx]
		if err := f.session(ctx, endpoint); err != nil && ctx.Err() == nil {
			failures++
			f.logger().Warn("deposit feed disconnected",
				zap.String("endpoint", endpoint),
				zap.Int("failures", failures),
				zap.Error(err),
			)
			if failures >= threshold && len(f.Endpoints) > 1 {
				idx = (idx + 1) % len(f.Endpoints)
				failures = 0
				f.logger().Warn("deposit feed failover", zap.String("endpoint", f.Endpoints[idx]))
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(f.reconnectDelay()):
		}
	}
}

// session runs one connection until it drops.
func (f *DepositFeed) session(ctx context.Context, endpoint string) error {
	client := chain.NewWSClient(endpoint)
	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer client.Close()
	f.logger().Info("deposit feed connected", zap.String("endpoint", endpoint))

	if err := client.Subscribe(ctx, f.Networks, f.MinConfirmations); err != nil {
		return err
	}
	for {
		msg, err := client.Read(ctx)
		if err != nil {
			return err
		}
		f.handle(ctx, msg)
	}
}

func (f *DepositFeed) handle(ctx context.Context, msg []byte) {
	dep, ok, err := chain.ParseDeposit(msg)
	if err != nil {
		f.logger().Warn("deposit feed parse failed", zap.Error(err))
		return
	}
	if !ok {
		return
	}
	log := f.logger().With(zap.String("address", dep.Address), zap.String("tx_hash", dep.TxHash))
	amount, err := payments.ParseAmount(dep.Amount)
	if err != nil {
		log.Warn("deposit feed amount invalid", zap.String("amount", dep.Amount))
		return
	}
	_, err = f.Handler.HandleDeposit(ctx, services.DepositConfirmation{
		WalletAddress: dep.Address,
		TxHash:        dep.TxHash,
		Amount:        amount,
		Network:       models.Network(dep.Network),
		ReceivedAt:    dep.Timestamp,
	})
	switch {
	case errors.Is(err, errs.ErrOrderNotFound):
		log.Debug("deposit to unknown address ignored")
	case err != nil:
		log.Error("apply deposit failed", zap.Error(err))
	}
}

func (f *DepositFeed) reconnectDelay() time.Duration {
	if f.ReconnectDelay > 0 {
		return f.ReconnectDelay
	}
	return defaultReconnectDelay
}

func (f *DepositFeed) logger() *zap.Logger {
	if f.Logger != nil {
		return f.Logger
	}
	return zap.NewNop()
}
