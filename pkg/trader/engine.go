// Package trader runs the covered-call engine: it sells calls against held
// stock, tracks the resulting positions and watches them for rolls, expiry
// and alerts.
package trader

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/sirupsen/logrus"

	"github.com/gregtusar/coveredcalls/pkg/broker"
	"github.com/gregtusar/coveredcalls/pkg/entry"
	"github.com/gregtusar/coveredcalls/pkg/ledger"
	"github.com/gregtusar/coveredcalls/pkg/models"
	"github.com/gregtusar/coveredcalls/pkg/portfolio"
	"github.com/gregtusar/coveredcalls/pkg/risk"
	"github.com/gregtusar/coveredcalls/pkg/sizing"
	"github.com/gregtusar/coveredcalls/pkg/strategy"
)

var (
	ErrNoStockPosition  = errors.New("no stock position for symbol")
	ErrTradeBlocked     = errors.New("trade blocked by safety checks")
	ErrRiskRejected     = errors.New("trade rejected by risk limits")
	ErrOrderRejected    = errors.New("order was not filled")
	ErrOrderTimeout     = errors.New("order not filled before timeout")
	ErrContractUnknown  = errors.New("contract not found in option chain")
	ErrContractMismatch = errors.New("option does not match request")
	ErrNoCandidates     = errors.New("no eligible option candidates")
)

// Config controls the engine loops and order defaults.
type Config struct {
	RiskLevel             models.RiskLevel
	Symbols               []string
	AutoTrade             bool
	ScanInterval          time.Duration
	MonitorInterval       time.Duration
	MaxPositions          int
	TopN                  int
	MaxDTE                int
	RollThresholdPct      float64
	CommissionPerContract float64

	// working orders are polled every OrderPollInterval and cancelled once
	// OrderTimeout passes without a fill
	OrderTimeout      time.Duration
	OrderPollInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.RiskLevel == "" {
		c.RiskLevel = models.RiskModerate
	}
	if c.ScanInterval <= 0 {
		c.ScanInterval = 15 * time.Minute
	}
	if c.MonitorInterval <= 0 {
		c.MonitorInterval = time.Minute
	}
	if c.MaxPositions <= 0 {
		c.MaxPositions = 5
	}
	if c.TopN <= 0 {
		c.TopN = 5
	}
	if c.MaxDTE <= 0 {
		c.MaxDTE = 60
	}
	if c.RollThresholdPct <= 0 {
		c.RollThresholdPct = strategy.DefaultRollThresholdPct
	}
	if c.OrderTimeout <= 0 {
		c.OrderTimeout = 30 * time.Second
	}
	if c.OrderPollInterval <= 0 {
		c.OrderPollInterval = time.Second
	}
	return c
}

type Engine struct {
	broker    broker.Broker
	ledger    *ledger.Ledger
	portfolio *portfolio.Manager
	risk      *risk.Manager
	safety    *risk.SafetyManager
	entry     *entry.Filter
	kelly     sizing.Calculator
	policy    strategy.ScoringPolicy
	bus       EventBus.Bus
	cfg       Config
	logger    *logrus.Logger
	now       func() time.Time

	mu          sync.RWMutex
	alerts      []portfolio.Alert
	suggested   map[string]bool
	symbolLocks map[string]*sync.Mutex

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type Option func(*Engine)

// WithLedger persists every opened and closed position.
func WithLedger(l *ledger.Ledger) Option {
	return func(e *Engine) { e.ledger = l }
}

// WithEntryFilter gates automated entries on the smart entry checks.
func WithEntryFilter(f *entry.Filter) Option {
	return func(e *Engine) { e.entry = f }
}

func WithRiskManager(m *risk.Manager) Option {
	return func(e *Engine) { e.risk = m }
}

func WithSafetyManager(s *risk.SafetyManager) Option {
	return func(e *Engine) { e.safety = s }
}

func WithKelly(c sizing.Calculator) Option {
	return func(e *Engine) { e.kelly = c }
}

func WithPolicy(p strategy.ScoringPolicy) Option {
	return func(e *Engine) { e.policy = p }
}

func WithBus(bus EventBus.Bus) Option {
	return func(e *Engine) { e.bus = bus }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func New(b broker.Broker, cfg Config, logger *logrus.Logger, opts ...Option) *Engine {
	e := &Engine{
		broker:    b,
		portfolio: portfolio.NewManager(logger),
		kelly:     sizing.NewCalculator(),
		policy:    strategy.DefaultPolicy(),
		bus:       EventBus.New(),
		cfg:       cfg.withDefaults(),
		logger:    logger,
		now:       time.Now,
		suggested: make(map[string]bool),
		stopCh:    make(chan struct{}),

		symbolLocks: make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.risk == nil {
		e.risk = risk.NewManager(risk.DefaultLimits())
	}
	if e.safety == nil {
		e.safety = risk.NewSafetyManagerWithClock(risk.ModeDemo, risk.DefaultTradingLimits(), e.now)
	}
	return e
}

// Bus exposes the event bus so transports can subscribe to engine events.
func (e *Engine) Bus() EventBus.BusSubscriber {
	return e.bus
}

func (e *Engine) Mode() risk.TradingMode {
	return e.safety.Mode()
}

func (e *Engine) Safety() risk.SafetySummary {
	return e.safety.Summary()
}

// Start restores open positions from the ledger and launches the position
// monitor, plus the scan loop when auto trading is on.
func (e *Engine) Start(ctx context.Context) error {
	e.logger.WithFields(logrus.Fields{
		"mode":       e.safety.Mode(),
		"risk_level": e.cfg.RiskLevel,
		"auto_trade": e.cfg.AutoTrade,
	}).Info("Starting covered call engine")

	if err := e.Restore(ctx); err != nil {
		return err
	}

	e.wg.Add(1)
	go e.monitorPositions(ctx)

	if e.cfg.AutoTrade {
		e.wg.Add(1)
		go e.scanLoop(ctx)
	}
	return nil
}

func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.logger.Info("Stopping covered call engine")
		close(e.stopCh)
	})
	e.wg.Wait()
}

// Restore loads the ledger's open trades into the portfolio. Positions
// already tracked are skipped.
func (e *Engine) Restore(ctx context.Context) error {
	if e.ledger == nil {
		return nil
	}
	trades, err := e.ledger.OpenTrades(ctx)
	if err != nil {
		return err
	}

	restored := 0
	for _, t := range trades {
		if t.PositionID == "" {
			continue
		}
		err := e.portfolio.Add(t.CoveredCall())
		if errors.Is(err, portfolio.ErrDuplicatePosition) {
			continue
		}
		if err != nil {
			return err
		}
		restored++
	}
	if restored > 0 {
		e.logger.WithField("positions", restored).Info("Restored open positions from ledger")
	}
	return nil
}

func (e *Engine) monitorPositions(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.MonitorInterval)
	defer ticker.Stop()

	e.Refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.Refresh(ctx)
		}
	}
}

func (e *Engine) scanLoop(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		case <-ticker.C:
			if _, err := e.ScanAndTrade(ctx); err != nil {
				e.logger.WithError(err).Warn("Scan finished with errors")
			}
		}
	}
}

func (e *Engine) Positions() []models.CoveredCall {
	return e.portfolio.Open()
}

func (e *Engine) ClosedPositions() []models.CoveredCall {
	return e.portfolio.Closed()
}

func (e *Engine) Position(id string) (models.CoveredCall, bool) {
	return e.portfolio.Get(id)
}

func (e *Engine) Metrics() portfolio.Metrics {
	return e.portfolio.Metrics(e.now())
}

// Alerts returns the alerts raised by the latest refresh.
func (e *Engine) Alerts() []portfolio.Alert {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]portfolio.Alert, len(e.alerts))
	copy(out, e.alerts)
	return out
}

func (e *Engine) Portfolio() *portfolio.Manager {
	return e.portfolio
}

func (e *Engine) strategy(level models.RiskLevel) (*strategy.Strategy, error) {
	if level == "" {
		level = e.cfg.RiskLevel
	}
	return strategy.New(level, strategy.WithPolicy(e.policy), strategy.WithClock(e.now))
}

// coveredShares counts shares already committed to open calls on symbol.
func (e *Engine) coveredShares(symbol string) int {
	n := 0
	for _, p := range e.portfolio.Open() {
		if p.Stock.Symbol == symbol {
			n += p.SharesCovered()
		}
	}
	return n
}
