// Package ledger persists covered-call trades and derives performance
// statistics from them.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/montanaflynn/stats"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/gregtusar/coveredcalls/internal/logging"
	"github.com/gregtusar/coveredcalls/pkg/models"
)

var (
	ErrTradeNotFound     = errors.New("trade not found")
	ErrUnsupportedDriver = errors.New("unsupported database driver")
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Options struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type Ledger struct {
	db     *gorm.DB
	logger *logrus.Logger
	now    func() time.Time
}

// Open connects to the configured database and migrates the trades table.
func Open(opts Options, logger *logrus.Logger) (*Ledger, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(opts.Driver) {
	case "", DriverSQLite:
		dialector = sqlite.Open(opts.DSN)
	case DriverPostgres:
		dialector = postgres.Open(opts.DSN)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, opts.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:  logging.NewGormLogger(logger, logging.DefaultSlowQuery),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if opts.Driver == "" || strings.EqualFold(opts.Driver, DriverSQLite) {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to access database handle: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(&Trade{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Ledger{db: db, logger: logger, now: time.Now}, nil
}

func (l *Ledger) Close() error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// RecordTrade inserts t and returns its ID.
func (l *Ledger) RecordTrade(ctx context.Context, t *Trade) (uint, error) {
	if err := l.db.WithContext(ctx).Create(t).Error; err != nil {
		return 0, fmt.Errorf("failed to record trade: %w", err)
	}

	l.logger.WithFields(logrus.Fields{
		"trade_id":  t.ID,
		"symbol":    t.Symbol,
		"strike":    t.Strike.String(),
		"contracts": t.Contracts,
	}).Info("Recorded trade")
	return t.ID, nil
}

// UpdateStatus stamps the close date and stores the close price and P&L.
func (l *Ledger) UpdateStatus(ctx context.Context, id uint, status models.PositionStatus, closePrice, profitLoss decimal.Decimal) error {
	closed := l.now().UTC()
	res := l.db.WithContext(ctx).Model(&Trade{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":      status,
		"close_date":  closed,
		"close_price": decimal.NewNullDecimal(closePrice),
		"profit_loss": decimal.NewNullDecimal(profitLoss),
	})
	if res.Error != nil {
		return fmt.Errorf("failed to update trade %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %d", ErrTradeNotFound, id)
	}

	l.logger.WithFields(logrus.Fields{
		"trade_id": id,
		"status":   status,
		"pnl":      profitLoss.String(),
	}).Info("Updated trade status")
	return nil
}

func (l *Ledger) Trade(ctx context.Context, id uint) (*Trade, error) {
	var t Trade
	err := l.db.WithContext(ctx).First(&t, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrTradeNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load trade %d: %w", id, err)
	}
	return &t, nil
}

// TradeByPosition returns the ledger row recorded for a portfolio position.
func (l *Ledger) TradeByPosition(ctx context.Context, positionID string) (*Trade, error) {
	var t Trade
	err := l.db.WithContext(ctx).Where("position_id = ?", positionID).Order("id DESC").First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: position %s", ErrTradeNotFound, positionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load trade for position %s: %w", positionID, err)
	}
	return &t, nil
}

func (l *Ledger) OpenTrades(ctx context.Context) ([]Trade, error) {
	var trades []Trade
	err := l.db.WithContext(ctx).
		Where("status = ?", models.PositionStatusOpen).
		Order("expiration ASC").
		Find(&trades).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load open trades: %w", err)
	}
	return trades, nil
}

// History returns trades created after since, newest first. An empty symbol
// matches every symbol.
func (l *Ledger) History(ctx context.Context, since time.Time, symbol string) ([]Trade, error) {
	q := l.db.WithContext(ctx).Where("created_at > ?", since.UTC())
	if symbol != "" {
		q = q.Where("symbol = ?", symbol)
	}

	var trades []Trade
	if err := q.Order("created_at DESC").Order("id DESC").Find(&trades).Error; err != nil {
		return nil, fmt.Errorf("failed to load trade history: %w", err)
	}
	return trades, nil
}

// ProfitLosses returns realized P&L of closed trades, oldest first.
func (l *Ledger) ProfitLosses(ctx context.Context, symbol string, since time.Time) ([]float64, error) {
	outcomes, err := l.Outcomes(ctx, symbol, since)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(outcomes))
	for i, o := range outcomes {
		out[i] = o.ProfitLoss
	}
	return out, nil
}

// Outcomes returns closed trades with realized P&L, oldest first.
func (l *Ledger) Outcomes(ctx context.Context, symbol string, since time.Time) ([]models.TradeOutcome, error) {
	q := l.db.WithContext(ctx).
		Where("created_at > ?", since.UTC()).
		Where("status <> ?", models.PositionStatusOpen).
		Where("profit_loss IS NOT NULL")
	if symbol != "" {
		q = q.Where("symbol = ?", symbol)
	}

	var trades []Trade
	if err := q.Order("id ASC").Find(&trades).Error; err != nil {
		return nil, fmt.Errorf("failed to load closed trades: %w", err)
	}

	out := make([]models.TradeOutcome, 0, len(trades))
	for _, t := range trades {
		if o, ok := t.Outcome(); ok {
			out = append(out, o)
		}
	}
	return out, nil
}

type Summary struct {
	TotalTrades     int             `json:"total_trades"`
	OpenTrades      int             `json:"open_trades"`
	WinningTrades   int             `json:"winning_trades"`
	LosingTrades    int             `json:"losing_trades"`
	WinRate         float64         `json:"win_rate"`
	TotalPremium    decimal.Decimal `json:"total_premium"`
	TotalPnL        decimal.Decimal `json:"total_pnl"`
	AvgPnL          decimal.Decimal `json:"avg_pnl"`
	AvgAnnualReturn float64         `json:"avg_annual_return"`
	MaxDrawdown     decimal.Decimal `json:"max_drawdown"`
}

// PerformanceSummary aggregates every trade created after since. WinRate is
// the percentage of winners among trades with non-zero P&L, rounded to one decimal.
func (l *Ledger) PerformanceSummary(ctx context.Context, since time.Time) (Summary, error) {
	trades, err := l.History(ctx, since, "")
	if err != nil {
		return Summary{}, err
	}

	s := Summary{
		TotalTrades:  len(trades),
		TotalPremium: decimal.Zero,
		TotalPnL:     decimal.Zero,
		AvgPnL:       decimal.Zero,
		MaxDrawdown:  decimal.Zero,
	}
	if len(trades) == 0 {
		return s, nil
	}

	var annual []float64
	pnlCount := 0
	for _, t := range trades {
		if t.Status == models.PositionStatusOpen {
			s.OpenTrades++
		}
		s.TotalPremium = s.TotalPremium.Add(t.Premium)
		annual = append(annual, t.AnnualizedReturn)

		if !t.ProfitLoss.Valid {
			continue
		}
		pnl := t.ProfitLoss.Decimal
		s.TotalPnL = s.TotalPnL.Add(pnl)
		pnlCount++
		switch pnl.Sign() {
		case 1:
			s.WinningTrades++
		case -1:
			s.LosingTrades++
		}
	}

	if pnlCount > 0 {
		s.AvgPnL = s.TotalPnL.Div(decimal.NewFromInt(int64(pnlCount)))
	}
	if decided := s.WinningTrades + s.LosingTrades; decided > 0 {
		rate, _ := stats.Round(float64(s.WinningTrades)/float64(decided)*100, 1)
		s.WinRate = rate
	}
	s.AvgAnnualReturn, _ = stats.Mean(annual)
	s.MaxDrawdown = maxDrawdown(trades)
	return s, nil
}

// maxDrawdown is the largest peak-to-trough drop of cumulative realized P&L,
// in dollars, walking trades by close date.
func maxDrawdown(trades []Trade) decimal.Decimal {
	closed := make([]Trade, 0, len(trades))
	for _, t := range trades {
		if t.ProfitLoss.Valid && t.CloseDate != nil {
			closed = append(closed, t)
		}
	}
	sort.SliceStable(closed, func(i, j int) bool {
		return closed[i].CloseDate.Before(*closed[j].CloseDate)
	})

	cumulative, peak, worst := decimal.Zero, decimal.Zero, decimal.Zero
	for _, t := range closed {
		cumulative = cumulative.Add(t.ProfitLoss.Decimal)
		if cumulative.GreaterThan(peak) {
			peak = cumulative
		}
		if dd := peak.Sub(cumulative); dd.GreaterThan(worst) {
			worst = dd
		}
	}
	return worst
}

type LevelStats struct {
	RiskLevel       models.RiskLevel `json:"risk_level"`
	Trades          int              `json:"trades"`
	TotalPnL        decimal.Decimal  `json:"total_pnl"`
	TotalPremium    decimal.Decimal  `json:"total_premium"`
	AvgAnnualReturn float64          `json:"avg_annual_return"`
	WinRate         float64          `json:"win_rate"`
}

// ByRiskLevel groups trades created after since by the risk level they were
// opened with.
func (l *Ledger) ByRiskLevel(ctx context.Context, since time.Time) ([]LevelStats, error) {
	trades, err := l.History(ctx, since, "")
	if err != nil {
		return nil, err
	}

	groups := make(map[models.RiskLevel][]Trade)
	for _, t := range trades {
		groups[t.RiskLevel] = append(groups[t.RiskLevel], t)
	}

	out := make([]LevelStats, 0, len(groups))
	for level, group := range groups {
		ls := LevelStats{RiskLevel: level, Trades: len(group), TotalPnL: decimal.Zero, TotalPremium: decimal.Zero}
		var annual []float64
		wins := 0
		for _, t := range group {
			ls.TotalPremium = ls.TotalPremium.Add(t.Premium)
			annual = append(annual, t.AnnualizedReturn)
			if t.ProfitLoss.Valid {
				ls.TotalPnL = ls.TotalPnL.Add(t.ProfitLoss.Decimal)
				if t.ProfitLoss.Decimal.IsPositive() {
					wins++
				}
			}
		}
		ls.AvgAnnualReturn, _ = stats.Mean(annual)
		ls.WinRate = float64(wins) / float64(len(group)) * 100
		out = append(out, ls)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RiskLevel < out[j].RiskLevel })
	return out, nil
}
