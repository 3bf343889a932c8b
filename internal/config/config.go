package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"RampEngine/internal/fees"
	"RampEngine/internal/models"
	"RampEngine/internal/providers"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type TokenConfig struct {
	Symbol   string `yaml:"symbol"`
	Network  string `yaml:"network"`
	Contract string `yaml:"contract"`
	Decimals int    `yaml:"decimals"`
}

type FeeConfig struct {
	Contract   string `yaml:"contract"`
	Percentage string `yaml:"percentage"`
	Active     bool   `yaml:"active"`
}

type Config struct {
	Server struct {
		Addr                string `yaml:"addr"`
		ReadTimeoutSeconds  int    `yaml:"read_timeout_seconds"`
		WriteTimeoutSeconds int    `yaml:"write_timeout_seconds"`
	} `yaml:"server"`
	DB struct {
		DSN      string `yaml:"dsn"`
		InMemory bool   `yaml:"in_memory"`
	} `yaml:"db"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Pricing struct {
		OracleEndpoints     []string            `yaml:"oracle_endpoints"`
		NetworkOracles      map[string][]string `yaml:"network_oracles"`
		OracleAPIKey        string              `yaml:"oracle_api_key"`
		OracleFailThreshold int                 `yaml:"oracle_fail_threshold"`
		RateAPIURL          string              `yaml:"rate_api_url"`
		RateAPIKey          string              `yaml:"rate_api_key"`
		RateBase            string              `yaml:"rate_base"`
		FiatCurrency        string              `yaml:"fiat_currency"`
		StaticRate          string              `yaml:"static_rate"`
		Stablecoins         []string            `yaml:"stablecoins"`
		QuoteTTLSeconds     int                 `yaml:"quote_ttl_seconds"`
	} `yaml:"pricing"`
	Orders struct {
		TTLMinutes int `yaml:"ttl_minutes"`
	} `yaml:"orders"`
	Providers struct {
		TimeoutSeconds        int    `yaml:"timeout_seconds"`
		ProcessTimeoutSeconds int    `yaml:"process_timeout_seconds"`
		BankAPIURL            string `yaml:"bank_api_url"`
		BankAPIKey            string `yaml:"bank_api_key"`
		BankProvider          string `yaml:"bank_provider"`
		SettlementAPIURL      string `yaml:"settlement_api_url"`
		SettlementAPIKey      string `yaml:"settlement_api_key"`
		CustodyAPIURL         string `yaml:"custody_api_url"`
		CustodyAPIKey         string `yaml:"custody_api_key"`
	} `yaml:"providers"`
	Wallet struct {
		XPub            string   `yaml:"xpub"`
		HDNetworks      []string `yaml:"hd_networks"`
		CustodyNetworks []string `yaml:"custody_networks"`
	} `yaml:"wallet"`
	Webhooks struct {
		MasterKey      string `yaml:"master_key"`
		Salt           string `yaml:"salt"`
		Secret         string `yaml:"secret"`
		InboundSecret  string `yaml:"inbound_secret"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"webhooks"`
	Worker struct {
		IntervalSeconds     int      `yaml:"interval_seconds"`
		StuckAfterMinutes   int      `yaml:"stuck_after_minutes"`
		BatchSize           int      `yaml:"batch_size"`
		AutoRetry           bool     `yaml:"auto_retry"`
		WSEndpoints         []string `yaml:"ws_endpoints"`
		WSNetworks          []string `yaml:"ws_networks"`
		MinConfirmations    int      `yaml:"min_confirmations"`
		WSFailoverThreshold int      `yaml:"ws_failover_threshold"`
		MetricsAddr         string   `yaml:"metrics_addr"`
	} `yaml:"worker"`
	Kafka struct {
		Brokers []string `yaml:"brokers"`
		Topic   string   `yaml:"topic"`
	} `yaml:"kafka"`
	Tokens []TokenConfig `yaml:"tokens"`
	Fees   struct {
		Default    []FeeConfig            `yaml:"default"`
		ByBusiness map[string][]FeeConfig `yaml:"by_business"`
	} `yaml:"fees"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = "configs/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML, applies environment overrides and defaults, and
// validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	if c.DB.DSN == "" && !c.DB.InMemory {
		return errors.New("db.dsn is required")
	}
	if c.Providers.BankAPIURL == "" || c.Providers.SettlementAPIURL == "" {
		return errors.New("providers config is incomplete")
	}
	if len(c.Wallet.HDNetworks) > 0 && c.Wallet.XPub == "" {
		return errors.New("wallet.xpub is required for hd_networks")
	}
	if len(c.Wallet.CustodyNetworks) > 0 && c.Providers.CustodyAPIURL == "" {
		return errors.New("providers.custody_api_url is required for custody_networks")
	}
	if len(c.Tokens) == 0 {
		return errors.New("at least one token is required")
	}
	if c.Pricing.StaticRate != "" {
		if _, err := decimal.NewFromString(c.Pricing.StaticRate); err != nil {
			return fmt.Errorf("pricing.static_rate: %w", err)
		}
	}
	if _, err := c.FeeSource(); err != nil {
		return err
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.ReadTimeoutSeconds == 0 {
		cfg.Server.ReadTimeoutSeconds = 15
	}
	if cfg.Server.WriteTimeoutSeconds == 0 {
		cfg.Server.WriteTimeoutSeconds = 15
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Pricing.OracleFailThreshold == 0 {
		cfg.Pricing.OracleFailThreshold = 3
	}
	if cfg.Pricing.RateBase == "" {
		cfg.Pricing.RateBase = "USD"
	}
	if cfg.Pricing.FiatCurrency == "" {
		cfg.Pricing.FiatCurrency = "NGN"
	}
	if len(cfg.Pricing.Stablecoins) == 0 {
		cfg.Pricing.Stablecoins = []string{"USDC", "USDT"}
	}
	if cfg.Pricing.QuoteTTLSeconds == 0 {
		cfg.Pricing.QuoteTTLSeconds = 300
	}
	if cfg.Orders.TTLMinutes == 0 {
		cfg.Orders.TTLMinutes = 24 * 60
	}
	if cfg.Providers.TimeoutSeconds == 0 {
		cfg.Providers.TimeoutSeconds = 10
	}
	if cfg.Providers.ProcessTimeoutSeconds == 0 {
		cfg.Providers.ProcessTimeoutSeconds = 300
	}
	if cfg.Webhooks.TimeoutSeconds == 0 {
		cfg.Webhooks.TimeoutSeconds = 10
	}
	if cfg.Worker.IntervalSeconds == 0 {
		cfg.Worker.IntervalSeconds = 60
	}
	if cfg.Worker.StuckAfterMinutes == 0 {
		cfg.Worker.StuckAfterMinutes = 60
	}
	if cfg.Worker.BatchSize == 0 {
		cfg.Worker.BatchSize = 100
	}
	if cfg.Worker.WSFailoverThreshold == 0 {
		cfg.Worker.WSFailoverThreshold = 3
	}
	if cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = "offramp.order-events"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("DB_DSN"); v != "" {
		cfg.DB.DSN = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("ORACLE_ENDPOINTS"); v != "" {
		cfg.Pricing.OracleEndpoints = splitCommaList(v)
	}
	if v := os.Getenv("ORACLE_API_KEY"); v != "" {
		cfg.Pricing.OracleAPIKey = v
	}
	if v := os.Getenv("RATE_API_URL"); v != "" {
		cfg.Pricing.RateAPIURL = v
	}
	if v := os.Getenv("RATE_API_KEY"); v != "" {
		cfg.Pricing.RateAPIKey = v
	}
	if v := os.Getenv("STATIC_RATE"); v != "" {
		cfg.Pricing.StaticRate = v
	}
	if v := os.Getenv("ORDER_TTL_MINUTES"); v != "" {
		cfg.Orders.TTLMinutes = atoiOr(cfg.Orders.TTLMinutes, v)
	}
	if v := os.Getenv("PROVIDER_TIMEOUT_SECONDS"); v != "" {
		cfg.Providers.TimeoutSeconds = atoiOr(cfg.Providers.TimeoutSeconds, v)
	}
	if v := os.Getenv("BANK_API_URL"); v != "" {
		cfg.Providers.BankAPIURL = v
	}
	if v := os.Getenv("BANK_API_KEY"); v != "" {
		cfg.Providers.BankAPIKey = v
	}
	if v := os.Getenv("SETTLEMENT_API_URL"); v != "" {
		cfg.Providers.SettlementAPIURL = v
	}
	if v := os.Getenv("SETTLEMENT_API_KEY"); v != "" {
		cfg.Providers.SettlementAPIKey = v
	}
	if v := os.Getenv("CUSTODY_API_URL"); v != "" {
		cfg.Providers.CustodyAPIURL = v
	}
	if v := os.Getenv("CUSTODY_API_KEY"); v != "" {
		cfg.Providers.CustodyAPIKey = v
	}
	if v := os.Getenv("WALLET_XPUB"); v != "" {
		cfg.Wallet.XPub = v
	}
	if v := os.Getenv("WEBHOOK_MASTER_KEY"); v != "" {
		cfg.Webhooks.MasterKey = v
	}
	if v := os.Getenv("WEBHOOK_SECRET"); v != "" {
		cfg.Webhooks.Secret = v
	}
	if v := os.Getenv("WEBHOOK_INBOUND_SECRET"); v != "" {
		cfg.Webhooks.InboundSecret = v
	}
	if v := os.Getenv("WORKER_INTERVAL_SECONDS"); v != "" {
		cfg.Worker.IntervalSeconds = atoiOr(cfg.Worker.IntervalSeconds, v)
	}
	if v := os.Getenv("WORKER_STUCK_AFTER_MINUTES"); v != "" {
		cfg.Worker.StuckAfterMinutes = atoiOr(cfg.Worker.StuckAfterMinutes, v)
	}
	if v := os.Getenv("WORKER_AUTO_RETRY"); v != "" {
		cfg.Worker.AutoRetry = boolOr(cfg.Worker.AutoRetry, v)
	}
	if v := os.Getenv("WS_ENDPOINTS"); v != "" {
		cfg.Worker.WSEndpoints = splitCommaList(v)
	}
	if v := os.Getenv("WORKER_WS_FAILOVER_THRESHOLD"); v != "" {
		cfg.Worker.WSFailoverThreshold = atoiOr(cfg.Worker.WSFailoverThreshold, v)
	}
	if v := os.Getenv("WORKER_METRICS_ADDR"); v != "" {
		cfg.Worker.MetricsAddr = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = splitCommaList(v)
	}
	if v := os.Getenv("KAFKA_TOPIC"); v != "" {
		cfg.Kafka.Topic = v
	}
}

func (c *Config) OrderTTL() time.Duration {
	return time.Duration(c.Orders.TTLMinutes) * time.Minute
}

func (c *Config) ProviderTimeout() time.Duration {
	return time.Duration(c.Providers.TimeoutSeconds) * time.Second
}

func (c *Config) ProcessTimeout() time.Duration {
	return time.Duration(c.Providers.ProcessTimeoutSeconds) * time.Second
}

func (c *Config) QuoteTTL() time.Duration {
	return time.Duration(c.Pricing.QuoteTTLSeconds) * time.Second
}

func (c *Config) WebhookTimeout() time.Duration {
	return time.Duration(c.Webhooks.TimeoutSeconds) * time.Second
}

func (c *Config) WorkerInterval() time.Duration {
	return time.Duration(c.Worker.IntervalSeconds) * time.Second
}

func (c *Config) StuckAfter() time.Duration {
	return time.Duration(c.Worker.StuckAfterMinutes) * time.Minute
}

// StaticRate returns the configured fallback fiat rate, zero when unset.
func (c *Config) StaticRate() decimal.Decimal {
	d, err := decimal.NewFromString(c.Pricing.StaticRate)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func (c *Config) TokenList() []providers.Token {
	out := make([]providers.Token, 0, len(c.Tokens))
	for _, t := range c.Tokens {
		out = append(out, providers.Token{
			Symbol:          strings.ToUpper(t.Symbol),
			Network:         models.Network(strings.ToLower(t.Network)),
			ContractAddress: t.Contract,
			Decimals:        t.Decimals,
		})
	}
	return out
}

func (c *Config) FeeSource() (fees.StaticSource, error) {
	def, err := feeTable(c.Fees.Default)
	if err != nil {
		return fees.StaticSource{}, fmt.Errorf("fees.default: %w", err)
	}
	src := fees.StaticSource{Default: def, ByBusiness: map[string]fees.Table{}}
	for biz, entries := range c.Fees.ByBusiness {
		t, err := feeTable(entries)
		if err != nil {
			return fees.StaticSource{}, fmt.Errorf("fees.by_business.%s: %w", biz, err)
		}
		src.ByBusiness[biz] = t
	}
	return src, nil
}

func feeTable(entries []FeeConfig) (fees.Table, error) {
	m := make(map[string]fees.Entry, len(entries))
	for _, e := range entries {
		pct, err := decimal.NewFromString(e.Percentage)
		if err != nil {
			return nil, fmt.Errorf("contract %s: invalid percentage %q", e.Contract, e.Percentage)
		}
		if pct.IsNegative() || pct.GreaterThan(decimal.NewFromInt(100)) {
			return nil, fmt.Errorf("contract %s: percentage %s out of range", e.Contract, pct)
		}
		m[e.Contract] = fees.Entry{Percentage: pct, Active: e.Active}
	}
	return fees.NewTable(m), nil
}

func splitCommaList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func atoiOr(fallback int, v string) int {
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func boolOr(fallback bool, v string) bool {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
