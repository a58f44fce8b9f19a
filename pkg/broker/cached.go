package broker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/gregtusar/coveredcalls/pkg/models"
)

// DefaultChainTTL keeps option chains for one monitor tick.
const DefaultChainTTL = time.Minute

// Cached wraps a Broker and memoizes option chains and IV history for ttl.
// Account, position, price and order calls always reach the upstream broker.
type Cached struct {
	Broker
	chains *cache.Cache
}

func NewCached(upstream Broker, ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = DefaultChainTTL
	}
	return &Cached{Broker: upstream, chains: cache.New(ttl, 2*ttl)}
}

func (c *Cached) OptionChain(ctx context.Context, symbol string, maxDTE int) ([]models.OptionContract, error) {
	key := fmt.Sprintf("chain|%s|%d", strings.ToUpper(symbol), maxDTE)
	if v, ok := c.chains.Get(key); ok {
		return copyChain(v.([]models.OptionContract)), nil
	}

	chain, err := c.Broker.OptionChain(ctx, symbol, maxDTE)
	if err != nil {
		return nil, err
	}
	c.chains.SetDefault(key, copyChain(chain))
	return chain, nil
}

func (c *Cached) IVHistory(ctx context.Context, symbol string, days int) ([]float64, error) {
	key := fmt.Sprintf("iv|%s|%d", strings.ToUpper(symbol), days)
	if v, ok := c.chains.Get(key); ok {
		return append([]float64(nil), v.([]float64)...), nil
	}

	history, err := c.Broker.IVHistory(ctx, symbol, days)
	if err != nil {
		return nil, err
	}
	c.chains.SetDefault(key, append([]float64(nil), history...))
	return history, nil
}

// Flush drops every cached entry.
func (c *Cached) Flush() {
	c.chains.Flush()
}

func copyChain(chain []models.OptionContract) []models.OptionContract {
	out := make([]models.OptionContract, len(chain))
	copy(out, chain)
	return out
}
