package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/gregtusar/coveredcalls/internal/logging"
	"github.com/gregtusar/coveredcalls/pkg/deribit"
	"github.com/gregtusar/coveredcalls/pkg/ibkr"
	"github.com/gregtusar/coveredcalls/pkg/ledger"
	"github.com/gregtusar/coveredcalls/pkg/models"
	"github.com/gregtusar/coveredcalls/pkg/risk"
	"github.com/gregtusar/coveredcalls/pkg/secrets"
	"github.com/gregtusar/coveredcalls/pkg/sizing"
	"github.com/gregtusar/coveredcalls/pkg/strategy"
)

const EnvPrefix = "CC"

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	Server   ServerConfig           `mapstructure:"server"`
	IBKR     ibkr.Options           `mapstructure:"ibkr"`
	Deribit  DeribitConfig          `mapstructure:"deribit"`
	Trading  TradingConfig          `mapstructure:"trading"`
	Scoring  strategy.ScoringPolicy `mapstructure:"scoring"`
	Kelly    sizing.Calculator      `mapstructure:"kelly"`
	Entry    EntryConfig            `mapstructure:"entry"`
	Earnings EarningsConfig         `mapstructure:"earnings"`
	Risk     risk.Limits            `mapstructure:"risk"`
	Safety   risk.TradingLimits     `mapstructure:"safety"`
	Database ledger.Options         `mapstructure:"database"`
	Logging  logging.Options        `mapstructure:"logging"`
	Auth     AuthConfig             `mapstructure:"auth"`
	GCP      GCPConfig              `mapstructure:"gcp"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	CORSOrigins  []string      `mapstructure:"cors_origins"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type DeribitConfig struct {
	deribit.Options `mapstructure:",squash"`
	Enabled         bool     `mapstructure:"enabled"`
	Currencies      []string `mapstructure:"currencies"`
}

// TradingConfig selects the broker and the automation loops. Mode is one of
// DEMO, PAPER or LIVE. Broker is "demo" or "ibkr"; PAPER mode wraps the
// chosen broker's market data with simulated fills.
type TradingConfig struct {
	Mode                  string        `mapstructure:"mode"`
	Broker                string        `mapstructure:"broker"`
	AutoTrade             bool          `mapstructure:"auto_trade"`
	RiskLevel             string        `mapstructure:"risk_level"`
	Symbols               []string      `mapstructure:"symbols"`
	ScanInterval          time.Duration `mapstructure:"scan_interval"`
	MonitorInterval       time.Duration `mapstructure:"monitor_interval"`
	MaxPositions          int           `mapstructure:"max_positions"`
	TopN                  int           `mapstructure:"top_n"`
	MaxDTE                int           `mapstructure:"max_dte"`
	RollThresholdPct      float64       `mapstructure:"roll_threshold_pct"`
	CommissionPerContract float64       `mapstructure:"commission_per_contract"`
	RiskFreeRate          float64       `mapstructure:"risk_free_rate"`
	HistoryDays           int           `mapstructure:"history_days"`
	ChainCacheTTL         time.Duration `mapstructure:"chain_cache_ttl"`
	OrderTimeout          time.Duration `mapstructure:"order_timeout"`
	OrderPollInterval     time.Duration `mapstructure:"order_poll_interval"`
}

type EntryConfig struct {
	Enabled  bool    `mapstructure:"enabled"`
	MinScore float64 `mapstructure:"min_score"`
}

type EarningsConfig struct {
	URLTemplate string        `mapstructure:"url_template"`
	UserAgent   string        `mapstructure:"user_agent"`
	CacheTTL    time.Duration `mapstructure:"cache_ttl"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

type GCPConfig struct {
	ProjectID       string              `mapstructure:"project_id"`
	UseSecrets      bool                `mapstructure:"use_secrets"`
	CredentialsFile string              `mapstructure:"credentials_file"`
	SecretNames     secrets.SecretNames `mapstructure:"secret_names"`
}

// Load reads configuration from configPath (or config.yaml in the usual
// places), a .env file, and CC_ prefixed environment variables, in
// increasing order of precedence.
func Load(configPath string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/coveredcalls")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	overrideFromEnv(&config)

	if config.GCP.UseSecrets && config.GCP.ProjectID != "" {
		ctx := context.Background()
		logger := logrus.New()
		sm, err := secrets.NewGCPSecretManager(ctx, config.GCP.ProjectID, config.GCP.CredentialsFile, logger)
		if err != nil {
			return nil, fmt.Errorf("error loading secrets from GCP: %w", err)
		}
		defer sm.Close()
		LoadSecrets(ctx, &config, sm, logger)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)

	ib := ibkr.DefaultOptions()
	v.SetDefault("ibkr.base_url", ib.BaseURL)
	v.SetDefault("ibkr.account_id", "")
	v.SetDefault("ibkr.requests_per_second", ib.RequestsPerSecond)
	v.SetDefault("ibkr.timeout", ib.Timeout)
	v.SetDefault("ibkr.insecure_skip_verify", ib.InsecureSkipVerify)
	v.SetDefault("ibkr.snapshot_delay", ib.SnapshotDelay)
	v.SetDefault("ibkr.strike_range_pct", ib.StrikeRangePct)

	v.SetDefault("deribit.enabled", false)
	v.SetDefault("deribit.url", deribit.TestnetURL)
	v.SetDefault("deribit.client_id", "")
	v.SetDefault("deribit.client_secret", "")
	v.SetDefault("deribit.timeout", 10*time.Second)
	v.SetDefault("deribit.ping_interval", 30*time.Second)
	v.SetDefault("deribit.risk_free_rate", deribit.DefaultRiskFreeRate)
	v.SetDefault("deribit.currencies", []string{"BTC", "ETH"})

	v.SetDefault("trading.mode", string(risk.ModeDemo))
	v.SetDefault("trading.broker", "demo")
	v.SetDefault("trading.auto_trade", false)
	v.SetDefault("trading.risk_level", string(models.RiskModerate))
	v.SetDefault("trading.symbols", []string{"AAPL", "MSFT", "TSLA"})
	v.SetDefault("trading.scan_interval", 15*time.Minute)
	v.SetDefault("trading.monitor_interval", time.Minute)
	v.SetDefault("trading.max_positions", 5)
	v.SetDefault("trading.top_n", 5)
	v.SetDefault("trading.max_dte", 60)
	v.SetDefault("trading.roll_threshold_pct", strategy.DefaultRollThresholdPct)
	v.SetDefault("trading.commission_per_contract", 0.65)
	v.SetDefault("trading.risk_free_rate", 0.05)
	v.SetDefault("trading.history_days", 180)
	v.SetDefault("trading.chain_cache_ttl", 30*time.Second)
	v.SetDefault("trading.order_timeout", 30*time.Second)
	v.SetDefault("trading.order_poll_interval", time.Second)

	p := strategy.DefaultPolicy()
	v.SetDefault("scoring.premium_cap", p.PremiumCap)
	v.SetDefault("scoring.premium_divisor", p.PremiumDivisor)
	v.SetDefault("scoring.delta_in_range", p.DeltaInRange)
	v.SetDefault("scoring.delta_below", p.DeltaBelow)
	v.SetDefault("scoring.delta_above", p.DeltaAbove)
	v.SetDefault("scoring.liquidity", p.Liquidity)
	v.SetDefault("scoring.spread_bonus", p.SpreadBonus)
	v.SetDefault("scoring.spread_bonus_max_pct", p.SpreadBonusMaxPct)
	v.SetDefault("scoring.iv_band_low", p.IVBandLow)
	v.SetDefault("scoring.iv_band_high", p.IVBandHigh)
	v.SetDefault("scoring.iv_in_band", p.IVInBand)
	v.SetDefault("scoring.iv_rich", p.IVRich)
	v.SetDefault("scoring.iv_thin", p.IVThin)
	v.SetDefault("scoring.time_window_min_dte", p.TimeWindowMinDTE)
	v.SetDefault("scoring.time_in_window", p.TimeInWindow)
	v.SetDefault("scoring.time_short", p.TimeShort)
	v.SetDefault("scoring.min_rank_dte", p.MinRankDTE)
	v.SetDefault("scoring.max_score", p.MaxScore)

	k := sizing.NewCalculator()
	v.SetDefault("kelly.fraction", k.Fraction)
	v.SetDefault("kelly.cap", k.Cap)
	v.SetDefault("kelly.default", k.Default)
	v.SetDefault("kelly.min_trades", k.MinTrades)

	v.SetDefault("entry.enabled", true)
	v.SetDefault("entry.min_score", 80.0)

	v.SetDefault("earnings.url_template", "")
	v.SetDefault("earnings.user_agent", "Mozilla/5.0 (compatible; coveredcalls)")
	v.SetDefault("earnings.cache_ttl", 12*time.Hour)

	rl := risk.DefaultLimits()
	v.SetDefault("risk.max_position_pct", rl.MaxPositionPct)
	v.SetDefault("risk.max_covered_pct", rl.MaxCoveredPct)
	v.SetDefault("risk.min_cash_reserve", rl.MinCashReserve)
	v.SetDefault("risk.max_delta", rl.MaxDelta)
	v.SetDefault("risk.min_dte_warning", rl.MinDTEWarning)

	tl := risk.DefaultTradingLimits()
	v.SetDefault("safety.max_trades_per_day", tl.MaxTradesPerDay)
	v.SetDefault("safety.max_contracts_per_trade", tl.MaxContractsPerTrade)
	v.SetDefault("safety.min_dte", tl.MinDTE)
	v.SetDefault("safety.max_dte", tl.MaxDTE)
	v.SetDefault("safety.min_delta", tl.MinDelta)
	v.SetDefault("safety.max_delta", tl.MaxDelta)
	v.SetDefault("safety.min_premium", tl.MinPremium)

	v.SetDefault("database.driver", ledger.DriverSQLite)
	v.SetDefault("database.dsn", "./data/coveredcalls.db")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file", "")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", 24*time.Hour)

	v.SetDefault("gcp.use_secrets", false)
	v.SetDefault("gcp.project_id", "")
	v.SetDefault("gcp.credentials_file", "")

	names := secrets.DefaultSecretNames()
	v.SetDefault("gcp.secret_names.ibkr_account_id", names.IBKRAccountID)
	v.SetDefault("gcp.secret_names.deribit_client_id", names.DeribitClientID)
	v.SetDefault("gcp.secret_names.deribit_client_secret", names.DeribitClientSecret)
	v.SetDefault("gcp.secret_names.jwt_secret", names.JWTSecret)
	v.SetDefault("gcp.secret_names.database_dsn", names.DatabaseDSN)
}

// overrideFromEnv accepts the unprefixed variable names used by the gateway
// and venue tooling.
func overrideFromEnv(config *Config) {
	if accountID := os.Getenv("IBKR_ACCOUNT_ID"); accountID != "" {
		config.IBKR.AccountID = accountID
	}
	if clientID := os.Getenv("DERIBIT_CLIENT_ID"); clientID != "" {
		config.Deribit.ClientID = clientID
	}
	if clientSecret := os.Getenv("DERIBIT_CLIENT_SECRET"); clientSecret != "" {
		config.Deribit.ClientSecret = clientSecret
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		config.Auth.JWTSecret = secret
	}
	if projectID := os.Getenv("GCP_PROJECT_ID"); projectID != "" {
		config.GCP.ProjectID = projectID
	}
	if useSecrets := os.Getenv("GCP_USE_SECRETS"); useSecrets == "true" {
		config.GCP.UseSecrets = true
	}
}

// LoadSecrets fills credentials that are still empty from the secret store.
func LoadSecrets(ctx context.Context, config *Config, store secrets.Getter, logger *logrus.Logger) {
	names := config.GCP.SecretNames

	if config.IBKR.AccountID == "" {
		config.IBKR.AccountID = secrets.GetWithDefault(ctx, store, names.IBKRAccountID, "", logger)
	}
	if config.Deribit.ClientID == "" {
		config.Deribit.ClientID = secrets.GetWithDefault(ctx, store, names.DeribitClientID, "", logger)
	}
	if config.Deribit.ClientSecret == "" {
		config.Deribit.ClientSecret = secrets.GetWithDefault(ctx, store, names.DeribitClientSecret, "", logger)
	}
	if config.Auth.JWTSecret == "" {
		config.Auth.JWTSecret = secrets.GetWithDefault(ctx, store, names.JWTSecret, "", logger)
	}
	if config.Database.Driver == ledger.DriverPostgres {
		config.Database.DSN = secrets.GetWithDefault(ctx, store, names.DatabaseDSN, config.Database.DSN, logger)
	}

	logger.Info("Loaded secrets from GCP Secret Manager")
}

// Validate checks the enumerated settings.
func (c *Config) Validate() error {
	var errs []error
	if _, err := risk.ParseTradingMode(c.Trading.Mode); err != nil {
		errs = append(errs, err)
	}
	if _, err := models.ParseRiskLevel(c.Trading.RiskLevel); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.Trading.Broker) {
	case "demo", "ibkr":
	default:
		errs = append(errs, fmt.Errorf("unknown broker %q", c.Trading.Broker))
	}
	switch strings.ToLower(c.Database.Driver) {
	case ledger.DriverSQLite, ledger.DriverPostgres:
	default:
		errs = append(errs, fmt.Errorf("%w: %s", ledger.ErrUnsupportedDriver, c.Database.Driver))
	}
	if c.Server.Port <= 0 {
		errs = append(errs, fmt.Errorf("server port must be positive, got %d", c.Server.Port))
	}
	if err := c.Kelly.Validate(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

func (c *Config) TradingMode() risk.TradingMode {
	mode, _ := risk.ParseTradingMode(c.Trading.Mode)
	return mode
}

func (c *Config) RiskLevel() models.RiskLevel {
	level, _ := models.ParseRiskLevel(c.Trading.RiskLevel)
	return level
}
