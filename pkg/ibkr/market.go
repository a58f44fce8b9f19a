package ibkr

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/sirupsen/logrus"

	"github.com/gregtusar/coveredcalls/pkg/broker"
	"github.com/gregtusar/coveredcalls/pkg/models"
)

const (
	realizedVolWindow = 20
	tradingDays       = 252
)

// searchUnderlying resolves symbol to its stock conid and the option months
// listed for it.
func (c *Client) searchUnderlying(ctx context.Context, symbol string) (int64, []string, error) {
	var results []searchResult
	path := "/iserver/secdef/search?symbol=" + url.QueryEscape(symbol)
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &results); err != nil {
		return 0, nil, err
	}
	if len(results) == 0 {
		return 0, nil, fmt.Errorf("%w: %s", broker.ErrSymbolNotFound, symbol)
	}

	for _, r := range results {
		conid, err := parseConID(r.ConID)
		if err != nil {
			continue
		}
		for _, s := range r.Sections {
			if s.SecType == "OPT" {
				return conid, splitMonths(s.Months), nil
			}
		}
	}

	conid, err := parseConID(results[0].ConID)
	if err != nil {
		return 0, nil, err
	}
	return conid, nil, nil
}

func splitMonths(raw string) []string {
	var out []string
	for _, m := range strings.Split(raw, ";") {
		if m = strings.TrimSpace(m); m != "" {
			out = append(out, m)
		}
	}
	return out
}

func (c *Client) conid(ctx context.Context, symbol string) (int64, error) {
	key := strings.ToUpper(symbol)

	c.mu.Lock()
	id, ok := c.conids[key]
	c.mu.Unlock()
	if ok {
		return id, nil
	}

	id, _, err := c.searchUnderlying(ctx, key)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	c.conids[key] = id
	c.mu.Unlock()
	return id, nil
}

// snapshot requests fields for conids. The gateway answers the first request
// for a conid with an empty body, so a preflight is sent and the real request
// follows after SnapshotDelay.
func (c *Client) snapshot(ctx context.Context, conids []int64, fields string) (map[int64]map[string]interface{}, error) {
	ids := make([]string, len(conids))
	for i, id := range conids {
		ids[i] = strconv.FormatInt(id, 10)
	}
	path := fmt.Sprintf("/iserver/marketdata/snapshot?conids=%s&fields=%s", strings.Join(ids, ","), fields)

	if err := c.doRequest(ctx, http.MethodGet, path, nil, nil); err != nil {
		return nil, fmt.Errorf("snapshot preflight: %w", err)
	}
	if c.opts.SnapshotDelay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.opts.SnapshotDelay):
		}
	}

	var raw []map[string]interface{}
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return nil, err
	}

	out := make(map[int64]map[string]interface{}, len(raw))
	for _, item := range raw {
		out[int64(parseFieldValue(item["conid"]))] = item
	}
	return out, nil
}

func (c *Client) StockPrice(ctx context.Context, symbol string) (float64, error) {
	id, err := c.conid(ctx, symbol)
	if err != nil {
		return 0, err
	}

	data, err := c.snapshot(ctx, []int64{id}, strings.Join([]string{fieldLast, fieldBid, fieldAsk}, ","))
	if err != nil {
		return 0, err
	}

	item := data[id]
	if last := parseFieldValue(item[fieldLast]); last > 0 {
		return last, nil
	}
	bid, ask := parseFieldValue(item[fieldBid]), parseFieldValue(item[fieldAsk])
	if bid > 0 && ask > 0 {
		return (bid + ask) / 2, nil
	}
	return 0, fmt.Errorf("no price available for %s", symbol)
}

// parseMonth reads option month codes such as "JUN24".
func parseMonth(code string) (time.Time, error) {
	if len(code) != 5 {
		return time.Time{}, fmt.Errorf("invalid option month %q", code)
	}
	titled := code[:1] + strings.ToLower(code[1:3]) + code[3:]
	return time.Parse("Jan06", titled)
}

// OptionChain collects calls expiring within maxDTE days whose strikes lie
// within StrikeRangePct of the current price.
func (c *Client) OptionChain(ctx context.Context, symbol string, maxDTE int) ([]models.OptionContract, error) {
	symbol = strings.ToUpper(symbol)
	underlying, months, err := c.searchUnderlying(ctx, symbol)
	if err != nil {
		return nil, err
	}

	spot, err := c.StockPrice(ctx, symbol)
	if err != nil {
		return nil, err
	}

	now := c.now()
	horizon := now.AddDate(0, 0, maxDTE)
	low, high := spot*(1-c.opts.StrikeRangePct/100), spot*(1+c.opts.StrikeRangePct/100)

	contracts := make(map[int64]contractInfo)
	for _, month := range months {
		start, err := parseMonth(month)
		if err != nil {
			c.logger.WithError(err).Debug("Skipping option month")
			continue
		}
		if start.After(horizon) || !start.AddDate(0, 1, 0).After(now) {
			continue
		}

		var s strikes
		path := fmt.Sprintf("/iserver/secdef/strikes?conid=%d&sectype=OPT&month=%s", underlying, month)
		if err := c.doRequest(ctx, http.MethodGet, path, nil, &s); err != nil {
			return nil, err
		}

		for _, strike := range s.Call {
			if strike < low || strike > high {
				continue
			}
			var infos []contractInfo
			path := fmt.Sprintf("/iserver/secdef/info?conid=%d&sectype=OPT&month=%s&strike=%s&right=C",
				underlying, month, strconv.FormatFloat(strike, 'f', -1, 64))
			if err := c.doRequest(ctx, http.MethodGet, path, nil, &infos); err != nil {
				c.logger.WithError(err).WithField("strike", strike).Warn("Failed to get contract info")
				continue
			}
			for _, info := range infos {
				expiry, err := time.ParseInLocation("20060102", info.MaturityDate, now.Location())
				if err != nil {
					continue
				}
				expiry = expiry.Add(16 * time.Hour)
				if !expiry.After(now) || expiry.After(horizon) {
					continue
				}
				contracts[info.ConID] = info
			}
		}
	}

	if len(contracts) == 0 {
		return []models.OptionContract{}, nil
	}

	ids := make([]int64, 0, len(contracts))
	for id := range contracts {
		ids = append(ids, id)
	}
	data, err := c.snapshot(ctx, ids, optionFields)
	if err != nil {
		return nil, err
	}

	chain := make([]models.OptionContract, 0, len(ids))
	for _, id := range ids {
		info := contracts[id]
		item := data[id]
		expiry, _ := time.ParseInLocation("20060102", info.MaturityDate, now.Location())

		o := models.OptionContract{
			Symbol:            symbol,
			ContractID:        strconv.FormatInt(id, 10),
			Strike:            info.Strike,
			Expiration:        expiry.Add(16 * time.Hour),
			Type:              models.OptionTypeCall,
			ImpliedVolatility: parseFieldValue(item[fieldImpliedVol]),
			Delta:             parseFieldValue(item[fieldDelta]),
			Gamma:             parseFieldValue(item[fieldGamma]),
			Theta:             parseFieldValue(item[fieldTheta]),
			Vega:              parseFieldValue(item[fieldVega]),
			Volume:            int64(parseFieldValue(item[fieldVolume])),
			OpenInterest:      int64(parseFieldValue(item[fieldOpenInterest])),
			Bid:               parseFieldValue(item[fieldBid]),
			Ask:               parseFieldValue(item[fieldAsk]),
		}
		o.Premium = parseFieldValue(item[fieldLast])
		if o.Premium <= 0 {
			o.Premium = o.MidPrice()
		}
		chain = append(chain, o)
	}

	c.logger.WithFields(logrus.Fields{
		"symbol":    symbol,
		"contracts": len(chain),
		"max_dte":   maxDTE,
	}).Info("Retrieved option chain")
	return chain, nil
}

// PriceHistory returns daily bars for the last days calendar days.
func (c *Client) PriceHistory(ctx context.Context, symbol string, days int) ([]models.PriceBar, error) {
	id, err := c.conid(ctx, symbol)
	if err != nil {
		return nil, err
	}

	var h history
	path := fmt.Sprintf("/iserver/marketdata/history?conid=%d&period=%dd&bar=1d", id, days)
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &h); err != nil {
		return nil, err
	}

	bars := make([]models.PriceBar, 0, len(h.Data))
	for _, b := range h.Data {
		bars = append(bars, models.PriceBar{
			Date:   time.UnixMilli(b.Time).UTC(),
			Open:   b.Open,
			High:   b.High,
			Low:    b.Low,
			Close:  b.Close,
			Volume: int64(b.Volume),
		})
	}
	return bars, nil
}

// IVHistory approximates implied volatility history with rolling 20-day
// realized volatility of daily closes, annualized, in percent.
func (c *Client) IVHistory(ctx context.Context, symbol string, days int) ([]float64, error) {
	bars, err := c.PriceHistory(ctx, symbol, days+realizedVolWindow*2)
	if err != nil {
		return nil, err
	}

	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}
	vols := RealizedVolatility(closes, realizedVolWindow)
	if len(vols) > days {
		vols = vols[len(vols)-days:]
	}
	return vols, nil
}

// RealizedVolatility returns one annualized volatility (percent) per day that
// has window prior log returns.
func RealizedVolatility(closes []float64, window int) []float64 {
	if window < 2 || len(closes) <= window {
		return []float64{}
	}

	returns := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] <= 0 || closes[i] <= 0 {
			returns = append(returns, 0)
			continue
		}
		returns = append(returns, math.Log(closes[i]/closes[i-1]))
	}

	out := make([]float64, 0, len(returns)-window+1)
	for end := window; end <= len(returns); end++ {
		sd, err := stats.StandardDeviationSample(returns[end-window : end])
		if err != nil {
			continue
		}
		out = append(out, sd*math.Sqrt(tradingDays)*100)
	}
	return out
}
