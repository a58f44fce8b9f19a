package deribit

import (
	"context"
	"fmt"
	"strings"
	"time"
)

type authResult struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope"`
}

// Position is an open derivative position on the account.
type Position struct {
	Instrument   string  `json:"instrument_name"`
	Kind         string  `json:"kind"`
	Direction    string  `json:"direction"`
	Size         float64 `json:"size"`
	AveragePrice float64 `json:"average_price"`
	MarkPrice    float64 `json:"mark_price"`
	IndexPrice   float64 `json:"index_price"`
	Delta        float64 `json:"delta"`
	TotalPnL     float64 `json:"total_profit_loss"`
	FloatingPnL  float64 `json:"floating_profit_loss"`
	RealizedPnL  float64 `json:"realized_profit_loss"`
}

// Authenticate signs the current connection in with client credentials.
// Private methods on the same connection are authorized afterwards.
func (c *Client) Authenticate(ctx context.Context) (time.Time, error) {
	if c.opts.ClientID == "" || c.opts.ClientSecret == "" {
		return time.Time{}, fmt.Errorf("%w: client credentials not configured", ErrNotAuthenticated)
	}

	var out authResult
	params := map[string]interface{}{
		"grant_type":    "client_credentials",
		"client_id":     c.opts.ClientID,
		"client_secret": c.opts.ClientSecret,
	}
	if err := c.call(ctx, "public/auth", params, &out); err != nil {
		return time.Time{}, err
	}
	if out.AccessToken == "" {
		return time.Time{}, fmt.Errorf("%w: empty access token", ErrNotAuthenticated)
	}

	c.mu.Lock()
	c.authenticated = true
	c.mu.Unlock()

	expires := c.now().Add(time.Duration(out.ExpiresIn) * time.Second)
	c.logger.WithField("expires", expires).Info("Authenticated with Deribit")
	return expires, nil
}

func (c *Client) Authenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated
}

func (c *Client) Positions(ctx context.Context, currency string) ([]Position, error) {
	if !c.Authenticated() {
		return nil, ErrNotAuthenticated
	}

	var out []Position
	params := map[string]interface{}{
		"currency": strings.ToUpper(currency),
	}
	if err := c.call(ctx, "private/get_positions", params, &out); err != nil {
		return nil, err
	}
	return out, nil
}
