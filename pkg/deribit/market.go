package deribit

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gregtusar/coveredcalls/pkg/greeks"
	"github.com/gregtusar/coveredcalls/pkg/models"
	"github.com/sirupsen/logrus"
)

// DefaultRiskFreeRate is used for Greeks when Options.RiskFreeRate is unset.
const DefaultRiskFreeRate = greeks.DefaultRiskFreeRate

// Options expire at 08:00 UTC on the listed date.
const expiryHourUTC = 8

type bookSummary struct {
	InstrumentName  string   `json:"instrument_name"`
	BaseCurrency    string   `json:"base_currency"`
	BidPrice        *float64 `json:"bid_price"`
	AskPrice        *float64 `json:"ask_price"`
	Last            *float64 `json:"last"`
	MarkPrice       float64  `json:"mark_price"`
	MarkIV          float64  `json:"mark_iv"`
	Volume          float64  `json:"volume"`
	OpenInterest    float64  `json:"open_interest"`
	UnderlyingPrice float64  `json:"underlying_price"`
}

type indexPrice struct {
	IndexPrice float64 `json:"index_price"`
}

// Instrument is a parsed option instrument name such as BTC-31MAY24-50000-C.
type Instrument struct {
	Name       string
	Currency   string
	Expiration time.Time
	Strike     float64
	Type       models.OptionType
}

func ParseInstrument(name string) (Instrument, error) {
	parts := strings.Split(name, "-")
	if len(parts) != 4 {
		return Instrument{}, fmt.Errorf("unexpected instrument name %q", name)
	}

	date, err := parseExpiry(parts[1])
	if err != nil {
		return Instrument{}, fmt.Errorf("instrument %q: %w", name, err)
	}

	strike, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return Instrument{}, fmt.Errorf("instrument %q strike: %w", name, err)
	}

	var typ models.OptionType
	switch parts[3] {
	case "C":
		typ = models.OptionTypeCall
	case "P":
		typ = models.OptionTypePut
	default:
		return Instrument{}, fmt.Errorf("instrument %q: unknown option type %q", name, parts[3])
	}

	return Instrument{
		Name:       name,
		Currency:   parts[0],
		Expiration: date,
		Strike:     strike,
		Type:       typ,
	}, nil
}

// parseExpiry reads dates like 7JUN24 or 31MAY24.
func parseExpiry(s string) (time.Time, error) {
	if len(s) < 6 {
		return time.Time{}, fmt.Errorf("bad expiry %q", s)
	}
	day := s[:len(s)-5]
	month := s[len(s)-5 : len(s)-2]
	year := s[len(s)-2:]
	normalized := day + month[:1] + strings.ToLower(month[1:]) + year

	t, err := time.Parse("2Jan06", normalized)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad expiry %q: %w", s, err)
	}
	return t.Add(expiryHourUTC * time.Hour), nil
}

func (c *Client) IndexPrice(ctx context.Context, currency string) (float64, error) {
	var out indexPrice
	params := map[string]interface{}{
		"index_name": strings.ToLower(currency) + "_usd",
	}
	if err := c.call(ctx, "public/get_index_price", params, &out); err != nil {
		return 0, err
	}
	return out.IndexPrice, nil
}

// OptionChain returns the listed calls for currency with DTE in
// [minDTE, maxDTE], priced in USD. Deribit quotes option prices in the
// underlying coin, so they are scaled by the underlying price.
func (c *Client) OptionChain(ctx context.Context, currency string, minDTE, maxDTE int) ([]models.OptionContract, error) {
	var summaries []bookSummary
	params := map[string]interface{}{
		"currency": strings.ToUpper(currency),
		"kind":     "option",
	}
	if err := c.call(ctx, "public/get_book_summary_by_currency", params, &summaries); err != nil {
		return nil, err
	}

	index := 0.0
	now := c.now()
	rate := c.opts.RiskFreeRate
	if rate == 0 {
		rate = DefaultRiskFreeRate
	}

	var chain []models.OptionContract
	for _, s := range summaries {
		inst, err := ParseInstrument(s.InstrumentName)
		if err != nil {
			c.logger.WithError(err).Debug("Skipping instrument")
			continue
		}
		if inst.Type != models.OptionTypeCall {
			continue
		}

		contract := models.OptionContract{
			Symbol:            inst.Currency,
			ContractID:        inst.Name,
			Strike:            inst.Strike,
			Expiration:        inst.Expiration,
			Type:              inst.Type,
			ImpliedVolatility: s.MarkIV,
			Volume:            int64(math.Round(s.Volume)),
			OpenInterest:      int64(math.Round(s.OpenInterest)),
		}
		dte := contract.DaysToExpirationAt(now)
		if dte < minDTE || dte > maxDTE {
			continue
		}

		underlying := s.UnderlyingPrice
		if underlying <= 0 {
			if index == 0 {
				if index, err = c.IndexPrice(ctx, currency); err != nil {
					return nil, err
				}
			}
			underlying = index
		}

		contract.Bid = usd(s.BidPrice, underlying)
		contract.Ask = usd(s.AskPrice, underlying)
		contract.Premium = s.MarkPrice * underlying
		if s.Last != nil && *s.Last > 0 {
			contract.Premium = *s.Last * underlying
		}

		if s.MarkIV > 0 {
			g, err := greeks.Compute(greeks.FromContract(contract, underlying, rate, now))
			if err == nil {
				contract.Delta = g.Delta
				contract.Gamma = g.Gamma
				contract.Theta = g.Theta
				contract.Vega = g.Vega
			}
		}

		chain = append(chain, contract)
	}

	sort.Slice(chain, func(i, j int) bool {
		if !chain[i].Expiration.Equal(chain[j].Expiration) {
			return chain[i].Expiration.Before(chain[j].Expiration)
		}
		return chain[i].Strike < chain[j].Strike
	})

	c.logger.WithFields(logrus.Fields{
		"currency":  currency,
		"contracts": len(chain),
	}).Debug("Fetched Deribit option chain")

	return chain, nil
}

func usd(price *float64, underlying float64) float64 {
	if price == nil {
		return 0
	}
	return *price * underlying
}
