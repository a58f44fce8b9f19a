// Package ibkr talks to the Interactive Brokers Client Portal Gateway REST API.
package ibkr

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/gregtusar/coveredcalls/pkg/broker"
	"github.com/gregtusar/coveredcalls/pkg/models"
)

const DefaultBaseURL = "https://localhost:5001/v1/api"

var (
	ErrNoAccount = errors.New("no brokerage account available")
	ErrAPI       = errors.New("ibkr api error")
)

// Options configure the gateway connection. InsecureSkipVerify accepts the
// gateway's self-signed certificate.
type Options struct {
	BaseURL            string        `mapstructure:"base_url"`
	AccountID          string        `mapstructure:"account_id"`
	RequestsPerSecond  float64       `mapstructure:"requests_per_second"`
	Timeout            time.Duration `mapstructure:"timeout"`
	InsecureSkipVerify bool          `mapstructure:"insecure_skip_verify"`
	SnapshotDelay      time.Duration `mapstructure:"snapshot_delay"`
	StrikeRangePct     float64       `mapstructure:"strike_range_pct"`
}

func DefaultOptions() Options {
	return Options{
		BaseURL:            DefaultBaseURL,
		RequestsPerSecond:  10,
		Timeout:            30 * time.Second,
		InsecureSkipVerify: true,
		SnapshotDelay:      500 * time.Millisecond,
		StrikeRangePct:     20,
	}
}

type Client struct {
	opts       Options
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *logrus.Logger
	now        func() time.Time

	mu        sync.Mutex
	accountID string
	conids    map[string]int64
}

var _ broker.Broker = (*Client)(nil)

func NewClient(opts Options, logger *logrus.Logger) *Client {
	defaults := DefaultOptions()
	if opts.BaseURL == "" {
		opts.BaseURL = defaults.BaseURL
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = defaults.RequestsPerSecond
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaults.Timeout
	}
	if opts.StrikeRangePct <= 0 {
		opts.StrikeRangePct = defaults.StrikeRangePct
	}

	tr := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: opts.InsecureSkipVerify},
	}

	return &Client{
		opts: opts,
		httpClient: &http.Client{
			Transport: tr,
			Timeout:   opts.Timeout,
		},
		limiter:   rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1),
		logger:    logger,
		now:       time.Now,
		accountID: opts.AccountID,
		conids:    make(map[string]int64),
	}
}

// doRequest sends a throttled request and decodes a JSON response into out
// when out is non-nil.
func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.opts.BaseURL, "/")+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 300 {
		return fmt.Errorf("%w: %s %s returned %d: %s", ErrAPI, method, path, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parsing %s response: %w", path, err)
	}
	return nil
}

// Account returns the configured account, or the first one the gateway lists.
func (c *Client) Account(ctx context.Context) (string, error) {
	c.mu.Lock()
	id := c.accountID
	c.mu.Unlock()
	if id != "" {
		return id, nil
	}

	var accounts []account
	if err := c.doRequest(ctx, http.MethodGet, "/portfolio/accounts", nil, &accounts); err != nil {
		return "", err
	}
	if len(accounts) == 0 {
		return "", ErrNoAccount
	}

	id = accounts[0].ID
	if id == "" {
		id = accounts[0].AccountID
	}

	c.mu.Lock()
	c.accountID = id
	c.mu.Unlock()
	return id, nil
}

func (c *Client) AccountSummary(ctx context.Context) (*models.AccountSummary, error) {
	id, err := c.Account(ctx)
	if err != nil {
		return nil, err
	}

	var s accountSummary
	if err := c.doRequest(ctx, http.MethodGet, "/portfolio/"+id+"/summary", nil, &s); err != nil {
		return nil, err
	}

	return &models.AccountSummary{
		AccountID:      id,
		NetLiquidation: s.NetLiquidation.Amount,
		TotalCash:      s.TotalCash.Amount,
		BuyingPower:    s.BuyingPower.Amount,
		UnrealizedPnL:  s.UnrealizedPnL.Amount,
		RealizedPnL:    s.RealizedPnL.Amount,
		UpdatedAt:      c.now(),
	}, nil
}

// StockPositions lists long stock lines of the account.
func (c *Client) StockPositions(ctx context.Context) ([]models.StockPosition, error) {
	id, err := c.Account(ctx)
	if err != nil {
		return nil, err
	}

	var positions []position
	if err := c.doRequest(ctx, http.MethodGet, "/portfolio/"+id+"/positions/0", nil, &positions); err != nil {
		return nil, err
	}

	out := make([]models.StockPosition, 0, len(positions))
	for _, p := range positions {
		if p.AssetClass != "STK" || p.Position <= 0 {
			continue
		}
		symbol := p.Ticker
		if symbol == "" {
			symbol = p.ContractDesc
		}
		out = append(out, models.StockPosition{
			Symbol:       symbol,
			Shares:       int(p.Position),
			AverageCost:  p.AverageCost,
			CurrentPrice: p.MarketPrice,
		})

		c.mu.Lock()
		c.conids[strings.ToUpper(symbol)] = p.ConID
		c.mu.Unlock()
	}
	return out, nil
}
