package config

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gregtusar/coveredcalls/pkg/ledger"
	"github.com/gregtusar/coveredcalls/pkg/models"
	"github.com/gregtusar/coveredcalls/pkg/risk"
	"github.com/gregtusar/coveredcalls/pkg/sizing"
)

type fakeSecrets map[string]string

func (f fakeSecrets) GetSecret(_ context.Context, name string) (string, error) {
	v, ok := f[name]
	if !ok {
		return "", errors.New("not found")
	}
	return v, nil
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := Load(writeConfig(t, "server:\n  port: 9090\n"))
		require.NoError(t, err)

		assert.Equal(t, 9090, cfg.Server.Port)
		assert.Equal(t, risk.ModeDemo, cfg.TradingMode())
		assert.Equal(t, models.RiskModerate, cfg.RiskLevel())
		assert.Equal(t, 15*time.Minute, cfg.Trading.ScanInterval)
		assert.Equal(t, 30*time.Second, cfg.Trading.OrderTimeout)
		assert.Equal(t, time.Second, cfg.Trading.OrderPollInterval)
		assert.Equal(t, []string{"AAPL", "MSFT", "TSLA"}, cfg.Trading.Symbols)
		assert.Equal(t, 30.0, cfg.Scoring.PremiumCap)
		assert.Equal(t, 0.25, cfg.Kelly.Fraction)
		assert.Equal(t, risk.DefaultLimits(), cfg.Risk)
		assert.Equal(t, risk.DefaultTradingLimits(), cfg.Safety)
		assert.Equal(t, ledger.DriverSQLite, cfg.Database.Driver)
		assert.Equal(t, "json", cfg.Logging.Format)
		assert.Equal(t, "ibkr-account-id", cfg.GCP.SecretNames.IBKRAccountID)
	})

	t.Run("file values", func(t *testing.T) {
		cfg, err := Load(writeConfig(t, `
trading:
  mode: paper
  risk_level: conservative
  symbols: [NVDA, AMD]
  scan_interval: 5m
scoring:
  premium_cap: 40
deribit:
  enabled: true
  client_id: abc
`))
		require.NoError(t, err)

		assert.Equal(t, risk.ModePaper, cfg.TradingMode())
		assert.Equal(t, models.RiskConservative, cfg.RiskLevel())
		assert.Equal(t, []string{"NVDA", "AMD"}, cfg.Trading.Symbols)
		assert.Equal(t, 5*time.Minute, cfg.Trading.ScanInterval)
		assert.Equal(t, 40.0, cfg.Scoring.PremiumCap)
		assert.Equal(t, 25.0, cfg.Scoring.DeltaInRange)
		assert.True(t, cfg.Deribit.Enabled)
		assert.Equal(t, "abc", cfg.Deribit.ClientID)
	})

	t.Run("environment overrides", func(t *testing.T) {
		t.Setenv("CC_TRADING_RISK_LEVEL", "aggressive")
		t.Setenv("CC_SERVER_PORT", "7000")
		t.Setenv("IBKR_ACCOUNT_ID", "U123")

		cfg, err := Load(writeConfig(t, "trading:\n  risk_level: conservative\n"))
		require.NoError(t, err)
		assert.Equal(t, models.RiskAggressive, cfg.RiskLevel())
		assert.Equal(t, 7000, cfg.Server.Port)
		assert.Equal(t, "U123", cfg.IBKR.AccountID)
	})

	t.Run("invalid values", func(t *testing.T) {
		_, err := Load(writeConfig(t, "trading:\n  mode: yolo\n  broker: robinhood\ndatabase:\n  driver: mysql\n"))
		require.ErrorIs(t, err, ErrInvalidConfig)
		assert.ErrorIs(t, err, ledger.ErrUnsupportedDriver)
		assert.Contains(t, err.Error(), "robinhood")
	})

	t.Run("kelly cap above the hard limit", func(t *testing.T) {
		_, err := Load(writeConfig(t, "kelly:\n  cap: 0.9\n  fraction: 1\n"))
		require.ErrorIs(t, err, ErrInvalidConfig)
		assert.ErrorIs(t, err, sizing.ErrInvalidCalculator)
		assert.Contains(t, err.Error(), "cap must be in")
	})

	t.Run("missing explicit file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
}

func TestLoadSecrets(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	cfg := &Config{}
	cfg.GCP.SecretNames.IBKRAccountID = "ibkr"
	cfg.GCP.SecretNames.JWTSecret = "jwt"
	cfg.GCP.SecretNames.DeribitClientID = "deribit-id"
	cfg.Deribit.ClientID = "already-set"

	store := fakeSecrets{"ibkr": " U999\n", "jwt": "s3cret", "deribit-id": "ignored"}
	LoadSecrets(context.Background(), cfg, store, logger)

	assert.Equal(t, "U999", cfg.IBKR.AccountID)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	assert.Equal(t, "already-set", cfg.Deribit.ClientID)
	assert.Empty(t, cfg.Deribit.ClientSecret)
}
