// Package app assembles the order engine from configuration. Both the API
// and the worker binaries run on the same graph.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"RampEngine/internal/chain"
	"RampEngine/internal/config"
	"RampEngine/internal/db"
	"RampEngine/internal/events"
	"RampEngine/internal/lifecycle"
	"RampEngine/internal/metrics"
	"RampEngine/internal/models"
	"RampEngine/internal/pricing"
	"RampEngine/internal/providers"
	"RampEngine/internal/services"
	"RampEngine/internal/store"
	"RampEngine/internal/webhook"
	"RampEngine/internal/worker"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

type App struct {
	Config     *config.Config
	Logger     *zap.Logger
	Store      store.Repository
	Lifecycle  *lifecycle.Manager
	Orders     *services.OrderService
	Dispatcher *webhook.Dispatcher
	Publisher  *events.Publisher
	Metrics    *metrics.OrderMetrics

	pool *db.Pool
}

// Build connects storage and wires every collaborator. Call Close when done.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger, reg prometheus.Registerer) (*App, error) {
	a := &App{Config: cfg, Logger: logger, Metrics: metrics.New(reg)}

	if cfg.DB.InMemory {
		logger.Warn("using in-memory order store")
		a.Store = store.NewMemory()
	} else {
		pool, err := db.Connect(ctx, cfg.DB.DSN)
		if err != nil {
			return nil, fmt.Errorf("db connect: %w", err)
		}
		a.pool = pool
		a.Store = store.NewPostgres(pool)
	}

	quotes, err := buildResolver(cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	feeSource, err := cfg.FeeSource()
	if err != nil {
		a.Close()
		return nil, err
	}
	wallets, err := buildWallets(cfg, a.Store)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Dispatcher = webhook.NewDispatcher(webhook.Options{
		Secrets:  webhookSecrets(cfg),
		Recorder: a.Store,
		Observer: a.Metrics,
		Logger:   logger.Named("webhook"),
		Timeout:  cfg.WebhookTimeout(),
	})

	observers := []lifecycle.Observer{a.Dispatcher, a.Metrics}
	if len(cfg.Kafka.Brokers) > 0 {
		a.Publisher = events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger.Named("events"))
		observers = append(observers, a.Publisher)
	}
	a.Lifecycle = &lifecycle.Manager{
		Store:     a.Store,
		Observers: observers,
		Logger:    logger.Named("lifecycle"),
	}

	timeout := cfg.ProviderTimeout()
	settlement := &providers.HTTPSettlement{
		Client: providers.NewClient(cfg.Providers.SettlementAPIURL, cfg.Providers.SettlementAPIKey, timeout),
	}
	a.Orders = &services.OrderService{
		Store:     a.Store,
		Lifecycle: a.Lifecycle,
		Quotes:    quotes,
		Fees:      feeSource,
		Tokens:    providers.NewStaticCatalog(cfg.TokenList()),
		Banks: &providers.HTTPBankVerifier{
			Client:   providers.NewClient(cfg.Providers.BankAPIURL, cfg.Providers.BankAPIKey, timeout),
			Provider: cfg.Providers.BankProvider,
		},
		Wallets:         wallets,
		Swapper:         settlement,
		Payouts:         settlement,
		Metrics:         a.Metrics,
		Logger:          logger.Named("orders"),
		OrderTTL:        cfg.OrderTTL(),
		ProviderTimeout: timeout,
		ProcessTimeout:  cfg.ProcessTimeout(),
	}
	return a, nil
}

// Monitor returns the reconciliation monitor over this graph.
func (a *App) Monitor() *worker.Monitor {
	return &worker.Monitor{
		Store:      a.Store,
		Lifecycle:  a.Lifecycle,
		Retrier:    a.Orders,
		AutoRetry:  a.Config.Worker.AutoRetry,
		Observer:   a.Metrics,
		Logger:     a.Logger.Named("monitor"),
		Interval:   a.Config.WorkerInterval(),
		StuckAfter: a.Config.StuckAfter(),
		BatchSize:  a.Config.Worker.BatchSize,
	}
}

func (a *App) DepositFeed() *worker.DepositFeed {
	return &worker.DepositFeed{
		Endpoints:         a.Config.Worker.WSEndpoints,
		Networks:          a.Config.Worker.WSNetworks,
		MinConfirmations:  a.Config.Worker.MinConfirmations,
		FailoverThreshold: a.Config.Worker.WSFailoverThreshold,
		Handler:           a.Orders,
		Logger:            a.Logger.Named("deposits"),
	}
}

// Close drains in-flight processing and notifications, then releases
// connections.
func (a *App) Close() {
	if a.Orders != nil {
		a.Orders.Wait()
	}
	if a.Dispatcher != nil {
		a.Dispatcher.Wait()
	}
	if a.Publisher != nil {
		if err := a.Publisher.Close(); err != nil {
			a.Logger.Warn("event publisher close failed", zap.Error(err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

func buildResolver(cfg *config.Config, logger *zap.Logger) (*pricing.Resolver, error) {
	oracles := pricing.NetworkOracles{ByNetwork: map[models.Network]pricing.PriceOracle{}}
	timeout := cfg.ProviderTimeout()
	if len(cfg.Pricing.OracleEndpoints) > 0 {
		o, err := pricing.NewHTTPMultiOracle(cfg.Pricing.OracleEndpoints, cfg.Pricing.OracleAPIKey, timeout, cfg.Pricing.OracleFailThreshold)
		if err != nil {
			return nil, fmt.Errorf("price oracle: %w", err)
		}
		oracles.Default = o
	}
	for network, endpoints := range cfg.Pricing.NetworkOracles {
		o, err := pricing.NewHTTPMultiOracle(endpoints, cfg.Pricing.OracleAPIKey, timeout, cfg.Pricing.OracleFailThreshold)
		if err != nil {
			return nil, fmt.Errorf("price oracle for %s: %w", network, err)
		}
		oracles.ByNetwork[models.Network(strings.ToLower(network))] = o
	}

	r := &pricing.Resolver{
		Oracle:       oracles,
		StaticRate:   cfg.StaticRate(),
		Stablecoins:  cfg.Pricing.Stablecoins,
		FiatCurrency: cfg.Pricing.FiatCurrency,
		Timeout:      timeout,
		TTL:          cfg.QuoteTTL(),
		Logger:       logger.Named("pricing"),
	}
	if cfg.Pricing.RateAPIURL != "" {
		r.Rates = &pricing.HTTPRates{
			Client:   providers.NewClient(cfg.Pricing.RateAPIURL, cfg.Pricing.RateAPIKey, timeout),
			Base:     cfg.Pricing.RateBase,
			Currency: cfg.Pricing.FiatCurrency,
		}
	}
	return r, nil
}

func buildWallets(cfg *config.Config, indexes providers.IndexSource) (providers.NetworkRouter, error) {
	router := providers.NetworkRouter{}
	if len(cfg.Wallet.HDNetworks) > 0 {
		hd := &providers.HDWallets{Deriver: chain.AddressDeriver{XPub: cfg.Wallet.XPub}, Indexes: indexes}
		for _, n := range cfg.Wallet.HDNetworks {
			router[models.Network(strings.ToLower(n))] = hd
		}
	}
	if len(cfg.Wallet.CustodyNetworks) > 0 {
		custody := &providers.HTTPCustody{
			Client: providers.NewClient(cfg.Providers.CustodyAPIURL, cfg.Providers.CustodyAPIKey, cfg.ProviderTimeout()),
		}
		for _, n := range cfg.Wallet.CustodyNetworks {
			router[models.Network(strings.ToLower(n))] = custody
		}
	}
	if len(router) == 0 {
		return nil, errors.New("no wallet provisioner configured: set wallet.hd_networks or wallet.custody_networks")
	}
	return router, nil
}

// webhookSecrets prefers per-business derived secrets. With neither key set,
// deliveries are recorded as failed rather than sent unsigned.
func webhookSecrets(cfg *config.Config) webhook.SecretSource {
	if cfg.Webhooks.MasterKey != "" {
		return webhook.DerivedSecrets{Master: []byte(cfg.Webhooks.MasterKey), Salt: []byte(cfg.Webhooks.Salt)}
	}
	return webhook.StaticSecret(cfg.Webhooks.Secret)
}
