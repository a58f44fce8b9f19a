// Package earnings finds upcoming earnings announcements so calls are not
// sold across a report.
package earnings

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
)

var ErrNoEarningsDate = errors.New("no upcoming earnings date")

// warnWindowDays flags earnings that land shortly after expiration.
const warnWindowDays = 7

type Provider interface {
	NextEarnings(ctx context.Context, symbol string) (time.Time, error)
}

type Check struct {
	Symbol         string     `json:"symbol"`
	Safe           bool       `json:"safe"`
	Reason         string     `json:"reason"`
	Recommendation string     `json:"recommendation"`
	EarningsDate   *time.Time `json:"earnings_date,omitempty"`
	DaysToEarnings *int       `json:"days_to_earnings,omitempty"`
}

type Calendar struct {
	provider Provider
	cache    *cache.Cache
	logger   *logrus.Logger
	now      func() time.Time
}

func NewCalendar(provider Provider, ttl time.Duration, logger *logrus.Logger) *Calendar {
	return &Calendar{
		provider: provider,
		cache:    cache.New(ttl, 2*ttl),
		logger:   logger,
		now:      time.Now,
	}
}

// WithClock replaces the calendar's time source.
func (c *Calendar) WithClock(now func() time.Time) *Calendar {
	c.now = now
	return c
}

func (c *Calendar) NextEarnings(ctx context.Context, symbol string) (time.Time, error) {
	key := strings.ToUpper(symbol)
	if v, ok := c.cache.Get(key); ok {
		return v.(time.Time), nil
	}

	date, err := c.provider.NextEarnings(ctx, key)
	if err != nil {
		return time.Time{}, err
	}
	c.cache.SetDefault(key, date)
	return date, nil
}

// CheckBeforeTrade reports whether selling a call with dte days left is safe
// with respect to the next earnings date. A missing date is allowed with a
// warning.
func (c *Calendar) CheckBeforeTrade(ctx context.Context, symbol string, dte int) Check {
	check := Check{Symbol: symbol}

	date, err := c.NextEarnings(ctx, symbol)
	if err != nil {
		c.logger.WithError(err).WithField("symbol", symbol).Warn("Earnings date unavailable")
		check.Safe = true
		check.Reason = "Earnings date unavailable - exercise caution"
		check.Recommendation = "Consider checking earnings manually"
		return check
	}

	days := int(math.Floor(date.Sub(c.now()).Hours() / 24))
	check.EarningsDate = &date
	check.DaysToEarnings = &days
	day := date.Format("2006-01-02")

	switch {
	case days >= 0 && days <= dte:
		check.Safe = false
		check.Reason = fmt.Sprintf("Earnings in %d days (before expiration)", days)
		check.Recommendation = fmt.Sprintf("Wait until after earnings (%s)", day)
	case days >= 0 && days < warnWindowDays:
		check.Safe = true
		check.Reason = fmt.Sprintf("Earnings in %d days (after expiration)", days)
		check.Recommendation = fmt.Sprintf("Earnings soon (%s) - consider shorter DTE", day)
	default:
		check.Safe = true
		check.Reason = fmt.Sprintf("Earnings in ~%d days", days)
		check.Recommendation = "Safe to trade"
	}
	return check
}

// StaticProvider serves dates from a fixed table, keyed by upper-case symbol.
type StaticProvider map[string]time.Time

func (p StaticProvider) NextEarnings(_ context.Context, symbol string) (time.Time, error) {
	date, ok := p[strings.ToUpper(symbol)]
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %s", ErrNoEarningsDate, symbol)
	}
	return date, nil
}
