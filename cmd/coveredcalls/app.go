package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/gregtusar/coveredcalls/internal/config"
	"github.com/gregtusar/coveredcalls/internal/logging"
	"github.com/gregtusar/coveredcalls/pkg/broker"
	"github.com/gregtusar/coveredcalls/pkg/earnings"
	"github.com/gregtusar/coveredcalls/pkg/entry"
	"github.com/gregtusar/coveredcalls/pkg/ibkr"
	"github.com/gregtusar/coveredcalls/pkg/ledger"
	"github.com/gregtusar/coveredcalls/pkg/risk"
	"github.com/gregtusar/coveredcalls/pkg/trader"
)

// app holds the process-wide dependencies every command builds from config.
type app struct {
	cfg    *config.Config
	logger *logrus.Logger
	broker broker.Broker
	ibkr   *ibkr.Client
	ledger *ledger.Ledger
	engine *trader.Engine
}

func loadConfig() (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// newApp wires the broker, ledger and engine. overrides run on the loaded
// config before anything is built from it.
func newApp(ctx context.Context, overrides ...func(*config.Config)) (*app, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}
	for _, override := range overrides {
		override(cfg)
	}
	a := &app{cfg: cfg, logger: logger}

	if err := a.openBroker(ctx); err != nil {
		return nil, err
	}
	if err := a.openLedger(); err != nil {
		return nil, err
	}

	opts := []trader.Option{
		trader.WithLedger(a.ledger),
		trader.WithRiskManager(risk.NewManager(cfg.Risk)),
		trader.WithSafetyManager(risk.NewSafetyManager(cfg.TradingMode(), cfg.Safety)),
		trader.WithKelly(cfg.Kelly),
		trader.WithPolicy(cfg.Scoring),
	}
	if cfg.Entry.Enabled {
		opts = append(opts, trader.WithEntryFilter(a.entryFilter()))
	}
	a.engine = trader.New(a.broker, a.engineConfig(), logger, opts...)

	logger.WithFields(logrus.Fields{
		"mode":   cfg.TradingMode(),
		"broker": cfg.Trading.Broker,
		"ledger": cfg.Database.Driver,
	}).Debug("Application ready")
	return a, nil
}

// openBroker builds the configured broker. PAPER mode simulates fills on top
// of the broker's market data.
func (a *app) openBroker(ctx context.Context) error {
	var b broker.Broker
	switch strings.ToLower(a.cfg.Trading.Broker) {
	case "ibkr":
		client := ibkr.NewClient(a.cfg.IBKR, a.logger)
		account, err := client.Account(ctx)
		if err != nil {
			return fmt.Errorf("failed to reach IBKR gateway: %w", err)
		}
		a.logger.WithField("account", account).Info("Connected to IBKR gateway")
		a.ibkr = client
		b = broker.NewCached(client, a.cfg.Trading.ChainCacheTTL)
	default:
		b = broker.NewDemo(nil)
	}

	if a.cfg.TradingMode() == risk.ModePaper {
		b = broker.NewPaper(b, a.logger)
	}
	a.broker = b
	return nil
}

func (a *app) openLedger() error {
	opts := a.cfg.Database
	if strings.EqualFold(opts.Driver, ledger.DriverSQLite) && opts.DSN != ":memory:" && !strings.HasPrefix(opts.DSN, "file:") {
		if dir := filepath.Dir(opts.DSN); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	l, err := ledger.Open(opts, a.logger)
	if err != nil {
		return err
	}
	a.ledger = l
	return nil
}

func (a *app) entryFilter() *entry.Filter {
	var provider earnings.Provider = earnings.StaticProvider{}
	if a.cfg.Earnings.URLTemplate != "" {
		provider = earnings.NewHTMLProvider(a.cfg.Earnings.URLTemplate, a.cfg.Earnings.UserAgent)
	}
	calendar := earnings.NewCalendar(provider, a.cfg.Earnings.CacheTTL, a.logger)
	return entry.NewFilter(a.broker, calendar, a.cfg.Entry.MinScore, a.logger)
}

func (a *app) engineConfig() trader.Config {
	t := a.cfg.Trading
	return trader.Config{
		RiskLevel:             a.cfg.RiskLevel(),
		Symbols:               t.Symbols,
		AutoTrade:             t.AutoTrade,
		ScanInterval:          t.ScanInterval,
		MonitorInterval:       t.MonitorInterval,
		MaxPositions:          t.MaxPositions,
		TopN:                  t.TopN,
		MaxDTE:                t.MaxDTE,
		RollThresholdPct:      t.RollThresholdPct,
		CommissionPerContract: t.CommissionPerContract,
		OrderTimeout:          t.OrderTimeout,
		OrderPollInterval:     t.OrderPollInterval,
	}
}

func (a *app) Close() error {
	if a.engine != nil {
		a.engine.Stop()
	}
	var errs []error
	if a.ledger != nil {
		errs = append(errs, a.ledger.Close())
	}
	return errors.Join(errs...)
}
