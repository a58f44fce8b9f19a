package trader

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/gregtusar/coveredcalls/pkg/broker"
	"github.com/gregtusar/coveredcalls/pkg/ledger"
	"github.com/gregtusar/coveredcalls/pkg/models"
	"github.com/gregtusar/coveredcalls/pkg/portfolio"
	"github.com/gregtusar/coveredcalls/pkg/risk"
	"github.com/gregtusar/coveredcalls/pkg/sizing"
	"github.com/gregtusar/coveredcalls/pkg/strategy"
)

type Recommendation struct {
	Symbol      string                  `json:"symbol"`
	StockPrice  float64                 `json:"stock_price"`
	RiskLevel   models.RiskLevel        `json:"risk_level"`
	Options     []strategy.ScoredOption `json:"recommendations"`
	GeneratedAt time.Time               `json:"generated_at"`
}

// SellRequest opens a covered call. The contract is always read from the
// broker's current chain: by ContractID, or by the strike and expiration of
// Option when no ID is given. Prices and Greeks on Option are ignored. A zero
// LimitPrice sells at the mid.
type SellRequest struct {
	Symbol     string                 `json:"symbol"`
	ContractID string                 `json:"contract_id"`
	Option     *models.OptionContract `json:"option,omitempty"`
	Contracts  int                    `json:"contracts"`
	LimitPrice float64                `json:"limit_price"`
	RiskLevel  models.RiskLevel       `json:"risk_level,omitempty"`
	Notes      string                 `json:"notes,omitempty"`
}

// Recommend ranks the current call chain for symbol.
func (e *Engine) Recommend(ctx context.Context, symbol string, level models.RiskLevel, topN int) (Recommendation, error) {
	s, err := e.strategy(level)
	if err != nil {
		return Recommendation{}, err
	}
	symbol = strings.ToUpper(symbol)

	price, err := e.broker.StockPrice(ctx, symbol)
	if err != nil {
		return Recommendation{}, fmt.Errorf("failed to get price for %s: %w", symbol, err)
	}

	chain, err := e.broker.OptionChain(ctx, symbol, s.Profile().MaxDTE)
	if err != nil {
		return Recommendation{}, fmt.Errorf("failed to get option chain for %s: %w", symbol, err)
	}

	ranked, err := s.Rank(chain, price, topN)
	if err != nil {
		return Recommendation{}, err
	}

	return Recommendation{
		Symbol:      symbol,
		StockPrice:  price,
		RiskLevel:   s.Profile().Level,
		Options:     ranked,
		GeneratedAt: e.now(),
	}, nil
}

func (e *Engine) findContract(ctx context.Context, symbol, contractID string) (models.OptionContract, error) {
	chain, err := e.broker.OptionChain(ctx, symbol, e.cfg.MaxDTE)
	if err != nil {
		return models.OptionContract{}, fmt.Errorf("failed to get option chain for %s: %w", symbol, err)
	}
	for _, o := range chain {
		if o.ContractID == contractID {
			return o, nil
		}
	}
	return models.OptionContract{}, fmt.Errorf("%w: %s %s", ErrContractUnknown, symbol, contractID)
}

// resolveContract turns the contract a request names into the broker's
// quote for it.
func (e *Engine) resolveContract(ctx context.Context, symbol string, req SellRequest) (models.OptionContract, error) {
	id := req.ContractID
	selector := req.Option
	if selector != nil {
		if selector.Symbol != "" && !strings.EqualFold(selector.Symbol, symbol) {
			return models.OptionContract{}, fmt.Errorf("%w: option on %s for %s", ErrContractMismatch, selector.Symbol, symbol)
		}
		if selector.Type != "" && selector.Type != models.OptionTypeCall {
			return models.OptionContract{}, fmt.Errorf("%w: %s is not a call", ErrContractMismatch, selector.Type)
		}
		switch {
		case selector.ContractID == "":
		case id == "":
			id = selector.ContractID
		case id != selector.ContractID:
			return models.OptionContract{}, fmt.Errorf("%w: contract %s and option %s", ErrContractMismatch, id, selector.ContractID)
		}
	}

	if id != "" {
		option, err := e.findContract(ctx, symbol, id)
		if err != nil {
			return models.OptionContract{}, err
		}
		if selector != nil && selector.Strike > 0 && math.Abs(selector.Strike-option.Strike) > 1e-6 {
			return models.OptionContract{}, fmt.Errorf("%w: %s has strike %.2f, not %.2f", ErrContractMismatch, id, option.Strike, selector.Strike)
		}
		return option, nil
	}
	if selector == nil || selector.Strike <= 0 || selector.Expiration.IsZero() {
		return models.OptionContract{}, fmt.Errorf("%w: %s needs a contract id or strike and expiration", ErrContractUnknown, symbol)
	}

	chain, err := e.broker.OptionChain(ctx, symbol, e.cfg.MaxDTE)
	if err != nil {
		return models.OptionContract{}, fmt.Errorf("failed to get option chain for %s: %w", symbol, err)
	}
	day := selector.Expiration.UTC().Format("2006-01-02")
	for _, o := range chain {
		if o.Type == models.OptionTypeCall && o.ContractID != "" &&
			math.Abs(o.Strike-selector.Strike) <= 1e-6 &&
			o.Expiration.UTC().Format("2006-01-02") == day {
			return o, nil
		}
	}
	return models.OptionContract{}, fmt.Errorf("%w: %s %.2f call %s", ErrContractUnknown, symbol, selector.Strike, day)
}

func (e *Engine) stockPosition(ctx context.Context, symbol string) (models.StockPosition, error) {
	stocks, err := e.broker.StockPositions(ctx)
	if err != nil {
		return models.StockPosition{}, fmt.Errorf("failed to get stock positions: %w", err)
	}
	for _, s := range stocks {
		if strings.EqualFold(s.Symbol, symbol) {
			return s, nil
		}
	}
	return models.StockPosition{}, fmt.Errorf("%w: %s", ErrNoStockPosition, symbol)
}

// SellCoveredCall validates and places a sell-to-open order, then records the
// filled position.
func (e *Engine) SellCoveredCall(ctx context.Context, req SellRequest) (models.CoveredCall, error) {
	symbol := strings.ToUpper(req.Symbol)

	option, err := e.resolveContract(ctx, symbol, req)
	if err != nil {
		return models.CoveredCall{}, err
	}

	defer e.lockSymbol(symbol)()

	stock, err := e.stockPosition(ctx, symbol)
	if err != nil {
		return models.CoveredCall{}, err
	}

	level := req.RiskLevel
	if level == "" {
		level = e.cfg.RiskLevel
	}

	return e.open(ctx, openRequest{
		stock:     stock,
		option:    option,
		contracts: req.Contracts,
		limit:     req.LimitPrice,
		level:     level,
		notes:     req.Notes,
	})
}

type openRequest struct {
	stock     models.StockPosition
	option    models.OptionContract
	contracts int
	limit     float64
	level     models.RiskLevel
	notes     string

	// position being rolled out of, its shares count as available
	replacing *models.CoveredCall
	rollFrom  *uint
}

func limitPrice(o models.OptionContract, limit float64) float64 {
	if limit > 0 {
		return round2(limit)
	}
	if mid := o.MidPrice(); mid > 0 {
		return round2(mid)
	}
	return round2(o.Premium)
}

// validate runs coverage, safety and risk checks for a new short call.
func (e *Engine) validate(ctx context.Context, req openRequest) error {
	available := req.stock
	available.Shares -= e.coveredShares(req.stock.Symbol)
	if req.replacing != nil {
		available.Shares += req.replacing.SharesCovered()
	}
	if err := risk.ValidateCoverage(available, req.contracts); err != nil {
		return err
	}

	price := limitPrice(req.option, req.limit)
	approved, messages := e.safety.PreTradeValidation(risk.TradeRequest{
		Symbol:    req.stock.Symbol,
		Contracts: req.contracts,
		Delta:     req.option.Delta,
		DTE:       req.option.DaysToExpirationAt(e.now()),
		Premium:   price,
		Strike:    req.option.Strike,
	})
	if !approved {
		return fmt.Errorf("%w: %s", ErrTradeBlocked, strings.Join(blockedMessages(messages), "; "))
	}

	if req.replacing != nil {
		return nil
	}

	account, err := e.broker.AccountSummary(ctx)
	if err != nil {
		return fmt.Errorf("failed to get account summary: %w", err)
	}
	holdings, err := e.holdings(ctx, req.stock.Symbol)
	if err != nil {
		return err
	}
	ok, msg := e.risk.ValidateNewPosition(req.stock.Symbol, req.contracts, req.stock.CurrentPrice, account.NetLiquidation, holdings)
	if !ok {
		return fmt.Errorf("%w: %s", ErrRiskRejected, msg)
	}
	return nil
}

func blockedMessages(messages []string) []string {
	var out []string
	for _, m := range messages {
		if strings.HasPrefix(m, "BLOCKED: ") {
			out = append(out, strings.TrimPrefix(m, "BLOCKED: "))
		}
	}
	return out
}

func (e *Engine) open(ctx context.Context, req openRequest) (models.CoveredCall, error) {
	if err := e.validate(ctx, req); err != nil {
		return models.CoveredCall{}, err
	}

	price := limitPrice(req.option, req.limit)
	order, err := e.broker.PlaceOrder(ctx, &models.OrderRequest{
		ContractID:  req.option.ContractID,
		Symbol:      req.stock.Symbol,
		Side:        models.OrderSideSell,
		Type:        models.OrderTypeLimit,
		Price:       price,
		Quantity:    req.contracts,
		TimeInForce: "DAY",
	})
	if err != nil {
		return models.CoveredCall{}, fmt.Errorf("failed to place sell order: %w", err)
	}
	if order, err = e.awaitFill(ctx, order); err != nil {
		return models.CoveredCall{}, err
	}

	fill := order.AvgFillPrice
	if fill <= 0 {
		fill = price
	}
	contracts := req.contracts
	if order.FilledQuantity > 0 && order.FilledQuantity < contracts {
		contracts = order.FilledQuantity
	}

	now := e.now()
	position := models.CoveredCall{
		ID:               uuid.NewString(),
		Stock:            req.stock,
		Option:           req.option,
		Contracts:        contracts,
		EntryDate:        now,
		Status:           models.PositionStatusOpen,
		PremiumCollected: fill * float64(contracts*models.SharesPerContract),
		Commission:       e.cfg.CommissionPerContract * float64(contracts),
		Notes:            req.notes,
	}

	if err := e.portfolio.Add(position); err != nil {
		return models.CoveredCall{}, err
	}
	e.safety.RecordExecution()

	if e.ledger != nil {
		trade := ledger.NewTrade(position, req.level, string(e.safety.Mode()), now)
		trade.RollFromID = req.rollFrom
		if _, err := e.ledger.RecordTrade(ctx, trade); err != nil {
			e.logger.WithError(err).WithField("position_id", position.ID).Error("Failed to record trade")
		}
	}

	e.logger.WithFields(logrus.Fields{
		"position_id": position.ID,
		"symbol":      position.Stock.Symbol,
		"strike":      position.Option.Strike,
		"expiration":  position.Option.Expiration.Format("2006-01-02"),
		"contracts":   position.Contracts,
		"premium":     position.PremiumCollected,
		"order_id":    order.OrderID,
	}).Info("Sold covered call")

	e.publish(TopicPositionOpened, position)
	return position, nil
}

// ClosePosition ends an open position. CLOSED buys the call back at
// closePrice; EXPIRED and ASSIGNED only settle the books.
func (e *Engine) ClosePosition(ctx context.Context, id string, status models.PositionStatus, closePrice float64) (models.CoveredCall, error) {
	position, err := e.openPosition(id)
	if err != nil {
		return models.CoveredCall{}, err
	}
	defer e.lockSymbol(position.Stock.Symbol)()
	if position, err = e.openPosition(id); err != nil {
		return models.CoveredCall{}, err
	}
	if !status.IsTerminal() {
		return models.CoveredCall{}, fmt.Errorf("%w: %s", portfolio.ErrInvalidStatus, status)
	}

	if status == models.PositionStatusClosed || status == models.PositionStatusRolled {
		if err := e.buyToClose(ctx, position, closePrice); err != nil {
			return models.CoveredCall{}, err
		}
	}
	return e.settle(ctx, position, status, closePrice)
}

func (e *Engine) buyToClose(ctx context.Context, position models.CoveredCall, price float64) error {
	if price <= 0 {
		return fmt.Errorf("%w: buy to close needs a positive price", broker.ErrInvalidOrder)
	}
	order, err := e.broker.PlaceOrder(ctx, &models.OrderRequest{
		ContractID:  position.Option.ContractID,
		Symbol:      position.Stock.Symbol,
		Side:        models.OrderSideBuy,
		Type:        models.OrderTypeLimit,
		Price:       round2(price),
		Quantity:    position.Contracts,
		TimeInForce: "DAY",
	})
	if err != nil {
		return fmt.Errorf("failed to place buy to close order: %w", err)
	}
	if order, err = e.awaitFill(ctx, order); err != nil {
		return err
	}
	if order.Status != models.OrderStatusFilled && order.FilledQuantity < position.Contracts {
		e.logger.WithFields(logrus.Fields{
			"position_id": position.ID,
			"order_id":    order.OrderID,
			"filled":      order.FilledQuantity,
			"contracts":   position.Contracts,
		}).Error("Buy to close only partially filled")
		return fmt.Errorf("%w: %s bought back %d of %d contracts", ErrOrderRejected, order.OrderID, order.FilledQuantity, position.Contracts)
	}
	return nil
}

// profitLoss for assignment includes the stock gain at the strike.
func profitLoss(position models.CoveredCall, status models.PositionStatus, closePrice float64) float64 {
	switch status {
	case models.PositionStatusAssigned:
		return position.MaxProfit()
	case models.PositionStatusExpired:
		return position.RealizedPnL(0)
	default:
		return position.RealizedPnL(closePrice)
	}
}

func (e *Engine) settle(ctx context.Context, position models.CoveredCall, status models.PositionStatus, closePrice float64) (models.CoveredCall, error) {
	closed, err := e.portfolio.Close(position.ID, status, closePrice, e.now())
	if err != nil {
		return models.CoveredCall{}, err
	}
	pnl := profitLoss(closed, status, closePrice)

	if e.ledger != nil {
		if err := e.updateLedger(ctx, closed.ID, status, closePrice, pnl); err != nil {
			e.logger.WithError(err).WithField("position_id", closed.ID).Error("Failed to update trade")
		}
	}

	e.mu.Lock()
	delete(e.suggested, closed.ID)
	e.mu.Unlock()

	e.logger.WithFields(logrus.Fields{
		"position_id": closed.ID,
		"symbol":      closed.Stock.Symbol,
		"status":      status,
		"pnl":         pnl,
	}).Info("Closed covered call")

	e.publish(TopicPositionClosed, ClosedPosition{Position: closed, ProfitLoss: pnl})
	return closed, nil
}

func (e *Engine) updateLedger(ctx context.Context, positionID string, status models.PositionStatus, closePrice, pnl float64) error {
	trade, err := e.ledger.TradeByPosition(ctx, positionID)
	if err != nil {
		return err
	}
	return e.ledger.UpdateStatus(ctx, trade.ID, status, decimal.NewFromFloat(closePrice), decimal.NewFromFloat(pnl).Round(2))
}

// RollPosition buys back the call of position id and sells next against the
// same shares. The new leg is validated before anything is bought back. If
// the new leg then fails to open, the old one is settled as CLOSED.
func (e *Engine) RollPosition(ctx context.Context, id string, next models.OptionContract) (models.CoveredCall, error) {
	position, err := e.openPosition(id)
	if err != nil {
		return models.CoveredCall{}, err
	}
	defer e.lockSymbol(position.Stock.Symbol)()
	if position, err = e.openPosition(id); err != nil {
		return models.CoveredCall{}, err
	}
	if next.Symbol != "" && !strings.EqualFold(next.Symbol, position.Stock.Symbol) {
		return models.CoveredCall{}, fmt.Errorf("%w: cannot roll %s into %s", ErrContractMismatch, position.Stock.Symbol, next.Symbol)
	}

	stock := position.Stock
	if current, err := e.stockPosition(ctx, stock.Symbol); err == nil {
		stock = current
	}

	req := openRequest{
		stock:     stock,
		option:    next,
		contracts: position.Contracts,
		level:     e.cfg.RiskLevel,
		notes:     "Rolled from " + position.ID,
		replacing: &position,
	}
	if err := e.validate(ctx, req); err != nil {
		return models.CoveredCall{}, err
	}

	closePrice := position.Option.Ask
	if closePrice <= 0 {
		closePrice = position.Option.MidPrice()
	}
	if closePrice <= 0 {
		closePrice = position.Option.Premium
	}
	if err := e.buyToClose(ctx, position, closePrice); err != nil {
		return models.CoveredCall{}, err
	}

	if e.ledger != nil {
		if trade, err := e.ledger.TradeByPosition(ctx, position.ID); err == nil {
			req.rollFrom = &trade.ID
		}
	}

	opened, err := e.open(ctx, req)
	if err != nil {
		e.logger.WithError(err).WithFields(logrus.Fields{
			"position_id": position.ID,
			"contract":    next.ContractID,
		}).Error("Roll bought back the call but the new leg failed, closing position")
		if _, serr := e.settle(ctx, position, models.PositionStatusClosed, closePrice); serr != nil {
			e.logger.WithError(serr).WithField("position_id", position.ID).Error("Failed to settle position after failed roll")
		}
		return models.CoveredCall{}, fmt.Errorf("roll of %s closed the old call but did not open %s: %w", position.ID, next.ContractID, err)
	}

	if _, err := e.settle(ctx, position, models.PositionStatusRolled, closePrice); err != nil {
		e.logger.WithError(err).WithField("position_id", position.ID).Error("Failed to settle rolled position")
	}
	return opened, nil
}

// openPosition returns the open position with id.
func (e *Engine) openPosition(id string) (models.CoveredCall, error) {
	position, ok := e.portfolio.Get(id)
	if !ok || position.Status != models.PositionStatusOpen {
		return models.CoveredCall{}, fmt.Errorf("%w: %s", portfolio.ErrPositionNotFound, id)
	}
	return position, nil
}

// RollToContract rolls position id into contractID from the current chain.
func (e *Engine) RollToContract(ctx context.Context, id, contractID string) (models.CoveredCall, error) {
	position, err := e.openPosition(id)
	if err != nil {
		return models.CoveredCall{}, err
	}
	next, err := e.findContract(ctx, position.Stock.Symbol, contractID)
	if err != nil {
		return models.CoveredCall{}, err
	}
	return e.RollPosition(ctx, id, next)
}

// ScanAndTrade sells one call per held symbol that still has uncovered round
// lots, up to the position limit. Failures on one symbol do not stop the scan.
func (e *Engine) ScanAndTrade(ctx context.Context) ([]models.CoveredCall, error) {
	stocks, err := e.broker.StockPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get stock positions: %w", err)
	}

	wanted := make(map[string]bool, len(e.cfg.Symbols))
	for _, s := range e.cfg.Symbols {
		wanted[strings.ToUpper(s)] = true
	}

	var (
		opened []models.CoveredCall
		errs   []error
	)
	for _, stock := range stocks {
		if len(wanted) > 0 && !wanted[strings.ToUpper(stock.Symbol)] {
			continue
		}
		if len(e.portfolio.Open()) >= e.cfg.MaxPositions {
			e.logger.WithField("max_positions", e.cfg.MaxPositions).Info("Position limit reached, ending scan")
			break
		}

		position, err := e.scanSymbol(ctx, stock)
		if errors.Is(err, ErrNoCandidates) {
			e.logger.WithField("symbol", stock.Symbol).Debug("No candidates")
			continue
		}
		if err != nil {
			e.logger.WithError(err).WithField("symbol", stock.Symbol).Warn("Scan skipped symbol")
			errs = append(errs, fmt.Errorf("%s: %w", stock.Symbol, err))
			continue
		}
		opened = append(opened, position)
	}

	e.logger.WithFields(logrus.Fields{
		"opened": len(opened),
		"errors": len(errs),
	}).Info("Scan complete")
	return opened, errors.Join(errs...)
}

func (e *Engine) scanSymbol(ctx context.Context, stock models.StockPosition) (models.CoveredCall, error) {
	defer e.lockSymbol(stock.Symbol)()

	available := (stock.Shares - e.coveredShares(stock.Symbol)) / models.SharesPerContract
	if available <= 0 {
		return models.CoveredCall{}, ErrNoCandidates
	}

	rec, err := e.Recommend(ctx, stock.Symbol, e.cfg.RiskLevel, e.cfg.TopN)
	if err != nil {
		return models.CoveredCall{}, err
	}
	stock.CurrentPrice = rec.StockPrice

	size, err := e.Kelly(ctx, stock.Symbol, 0, rec.StockPrice)
	if err != nil {
		return models.CoveredCall{}, err
	}
	contracts := max(1, min(available, size.Contracts))

	for _, candidate := range rec.Options {
		approved, _ := e.safety.PreTradeValidation(risk.TradeRequest{
			Symbol:    stock.Symbol,
			Contracts: contracts,
			Delta:     candidate.Option.Delta,
			DTE:       candidate.DTE,
			Premium:   limitPrice(candidate.Option, 0),
			Strike:    candidate.Option.Strike,
		})
		if !approved {
			continue
		}

		if e.entry != nil {
			decision, err := e.entry.Evaluate(ctx, candidate.Option, rec.StockPrice)
			if err != nil {
				return models.CoveredCall{}, err
			}
			if !decision.ShouldTrade {
				e.logger.WithFields(logrus.Fields{
					"symbol":   stock.Symbol,
					"contract": candidate.Option.ContractID,
					"score":    decision.Score,
				}).Info("Entry filter declined candidate")
				continue
			}
		}

		return e.open(ctx, openRequest{
			stock:     stock,
			option:    candidate.Option,
			contracts: contracts,
			level:     e.cfg.RiskLevel,
			notes:     fmt.Sprintf("Auto scan score %.1f", candidate.Score),
		})
	}
	return models.CoveredCall{}, ErrNoCandidates
}

// Kelly sizes a new position from the symbol's closed trades. A non-positive
// portfolio value is read from the account; a non-positive stock price from
// the broker.
func (e *Engine) Kelly(ctx context.Context, symbol string, portfolioValue, stockPrice float64) (sizing.Size, error) {
	symbol = strings.ToUpper(symbol)

	var profits []float64
	if e.ledger != nil {
		var err error
		if profits, err = e.ledger.ProfitLosses(ctx, symbol, time.Time{}); err != nil {
			return sizing.Size{}, err
		}
	}

	if portfolioValue <= 0 {
		account, err := e.broker.AccountSummary(ctx)
		if err != nil {
			return sizing.Size{}, fmt.Errorf("failed to get account summary: %w", err)
		}
		portfolioValue = account.NetLiquidation
	}
	if stockPrice <= 0 && symbol != "" {
		if price, err := e.broker.StockPrice(ctx, symbol); err == nil {
			stockPrice = price
		}
	}

	size, err := e.kelly.PositionSize(profits, portfolioValue, stockPrice)
	if err != nil {
		return sizing.Size{}, err
	}
	size.Symbol = symbol
	return size, nil
}

// holdings describes the account's stock for risk checks, leaving out
// exclude.
func (e *Engine) holdings(ctx context.Context, exclude string) ([]risk.Holding, error) {
	stocks, err := e.broker.StockPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get stock positions: %w", err)
	}

	now := e.now()
	open := e.portfolio.Open()
	out := make([]risk.Holding, 0, len(stocks))
	for _, s := range stocks {
		if exclude != "" && strings.EqualFold(s.Symbol, exclude) {
			continue
		}
		h := risk.Holding{Symbol: s.Symbol, Shares: s.Shares, Price: s.CurrentPrice}
		for _, p := range open {
			if p.Stock.Symbol != s.Symbol {
				continue
			}
			dte := p.Option.DaysToExpirationAt(now)
			if !h.HasCoveredCall || p.Option.Delta > h.OptionDelta {
				h.OptionDelta = p.Option.Delta
			}
			if !h.HasCoveredCall || dte < h.DaysToExpiry {
				h.DaysToExpiry = dte
			}
			h.HasCoveredCall = true
		}
		out = append(out, h)
	}
	return out, nil
}

// RiskAnalysis runs the portfolio risk checks over the live account.
func (e *Engine) RiskAnalysis(ctx context.Context) (risk.Analysis, error) {
	account, err := e.broker.AccountSummary(ctx)
	if err != nil {
		return risk.Analysis{}, fmt.Errorf("failed to get account summary: %w", err)
	}
	holdings, err := e.holdings(ctx, "")
	if err != nil {
		return risk.Analysis{}, err
	}
	return e.risk.AnalyzePortfolio(account.NetLiquidation, account.TotalCash, holdings)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
