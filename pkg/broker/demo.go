package broker

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/gregtusar/coveredcalls/pkg/greeks"
	"github.com/gregtusar/coveredcalls/pkg/models"
)

const (
	demoVolatility = 0.30
	demoRate       = 0.05
	demoStrikeStep = 5.0
)

var demoPrices = map[string]float64{
	"AAPL": 182.30,
	"MSFT": 392.15,
	"TSLA": 248.50,
	"NVDA": 875.50,
}

// Demo serves a fixed account and synthetic Black-Scholes option chains. It
// never talks to a venue. Orders are accepted and filled at once.
type Demo struct {
	now func() time.Time

	mu     sync.Mutex
	orders map[string]*models.Order
	seq    int
}

func NewDemo(now func() time.Time) *Demo {
	if now == nil {
		now = time.Now
	}
	return &Demo{now: now, orders: make(map[string]*models.Order)}
}

func (d *Demo) AccountSummary(_ context.Context) (*models.AccountSummary, error) {
	return &models.AccountSummary{
		AccountID:      "DEMO",
		NetLiquidation: 125750.50,
		TotalCash:      45250.00,
		BuyingPower:    250000.00,
		UnrealizedPnL:  3250.75,
		RealizedPnL:    1850.25,
		UpdatedAt:      d.now(),
	}, nil
}

func (d *Demo) StockPositions(_ context.Context) ([]models.StockPosition, error) {
	return []models.StockPosition{
		{Symbol: "AAPL", Shares: 200, AverageCost: 175.50, CurrentPrice: demoPrices["AAPL"]},
		{Symbol: "MSFT", Shares: 100, AverageCost: 385.00, CurrentPrice: demoPrices["MSFT"]},
		{Symbol: "TSLA", Shares: 300, AverageCost: 245.75, CurrentPrice: demoPrices["TSLA"]},
	}, nil
}

func (d *Demo) StockPrice(_ context.Context, symbol string) (float64, error) {
	if p, ok := demoPrices[strings.ToUpper(symbol)]; ok {
		return p, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrSymbolNotFound, symbol)
}

// OptionChain prices ten strikes around spot for expirations 15, 30 and 45
// days out, keeping those within maxDTE.
func (d *Demo) OptionChain(ctx context.Context, symbol string, maxDTE int) ([]models.OptionContract, error) {
	spot, err := d.StockPrice(ctx, symbol)
	if err != nil {
		return nil, err
	}

	now := d.now()
	base := math.Round(spot/demoStrikeStep) * demoStrikeStep

	var chain []models.OptionContract
	for _, dte := range []int{15, 30, 45} {
		if dte > maxDTE {
			continue
		}
		expiration := now.Add(time.Duration(dte)*24*time.Hour + time.Hour)
		for i := -4; i <= 5; i++ {
			strike := base + float64(i)*demoStrikeStep
			in := greeks.Inputs{
				Spot:       spot,
				Strike:     strike,
				Years:      greeks.YearsUntil(expiration, now),
				Rate:       demoRate,
				Volatility: demoVolatility,
				Type:       models.OptionTypeCall,
			}
			price, err := greeks.Price(in)
			if err != nil {
				return nil, fmt.Errorf("pricing %s %.0f: %w", symbol, strike, err)
			}
			g, err := greeks.Compute(in)
			if err != nil {
				return nil, fmt.Errorf("greeks %s %.0f: %w", symbol, strike, err)
			}

			price = math.Max(price, 0.05)
			bid := round2(price * 0.97)
			chain = append(chain, models.OptionContract{
				Symbol:            strings.ToUpper(symbol),
				ContractID:        fmt.Sprintf("%s-%s-C-%.0f", strings.ToUpper(symbol), expiration.Format("20060102"), strike),
				Strike:            strike,
				Expiration:        expiration,
				Type:              models.OptionTypeCall,
				Premium:           round2(price),
				ImpliedVolatility: demoVolatility * 100,
				Delta:             g.Delta,
				Gamma:             g.Gamma,
				Theta:             g.Theta,
				Vega:              g.Vega,
				Volume:            int64(200 + 50*(5-absInt(i))),
				OpenInterest:      int64(1000 + 200*(5-absInt(i))),
				Bid:               bid,
				Ask:               bid + math.Max(0.01, round2(price*0.06)),
			})
		}
	}
	return chain, nil
}

// IVHistory oscillates between 20 and 40 percent so the current demo IV of
// 30 ranks near the middle.
func (d *Demo) IVHistory(ctx context.Context, symbol string, days int) ([]float64, error) {
	if _, err := d.StockPrice(ctx, symbol); err != nil {
		return nil, err
	}
	out := make([]float64, days)
	for i := range out {
		out[i] = 30 + 10*math.Sin(float64(i)/5)
	}
	return out, nil
}

func (d *Demo) PlaceOrder(_ context.Context, req *models.OrderRequest) (*models.Order, error) {
	if err := ValidateOrder(req); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.seq++
	now := d.now()
	order := &models.Order{
		OrderID:        fmt.Sprintf("demo-%d", d.seq),
		ContractID:     req.ContractID,
		Symbol:         req.Symbol,
		Side:           req.Side,
		Type:           req.Type,
		Price:          req.Price,
		Quantity:       req.Quantity,
		FilledQuantity: req.Quantity,
		AvgFillPrice:   req.Price,
		Status:         models.OrderStatusFilled,
		TimeInForce:    req.TimeInForce,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	d.orders[order.OrderID] = order
	copied := *order
	return &copied, nil
}

func (d *Demo) CancelOrder(_ context.Context, orderID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.orders[orderID]; !ok {
		return fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	return fmt.Errorf("%w: %s", ErrOrderDone, orderID)
}

func (d *Demo) GetOrder(_ context.Context, orderID string) (*models.Order, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	order, ok := d.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	copied := *order
	return &copied, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
