// Package greeks prices European options and their sensitivities with the
// Black-Scholes model.
package greeks

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/gregtusar/coveredcalls/pkg/models"
	"gonum.org/v1/gonum/stat/distuv"
)

var (
	ErrNonPositiveTime       = errors.New("time to expiry must be positive")
	ErrNonPositiveVolatility = errors.New("volatility must be positive")
	ErrNonPositivePrice      = errors.New("spot and strike must be positive")
	ErrNoConvergence         = errors.New("implied volatility did not converge")
)

// DefaultRiskFreeRate is used when callers have no rate of their own.
const DefaultRiskFreeRate = 0.05

const (
	daysPerYear = 365.0

	minImpliedVol = 0.001
	maxImpliedVol = 5.0
	ivTolerance   = 1e-6
	ivMaxIter     = 200
)

// Inputs describes one option for pricing. Years is the time to expiry in
// years, Rate and Volatility are decimals (0.05, 0.20).
type Inputs struct {
	Spot       float64
	Strike     float64
	Years      float64
	Rate       float64
	Volatility float64
	Type       models.OptionType
}

// Greeks holds first and second order sensitivities. Theta is per calendar
// day, Vega per volatility point and Rho per rate point.
type Greeks struct {
	Delta float64 `json:"delta"`
	Gamma float64 `json:"gamma"`
	Theta float64 `json:"theta"`
	Vega  float64 `json:"vega"`
	Rho   float64 `json:"rho"`
}

func (in Inputs) validate() error {
	if !(in.Years > 0) {
		return ErrNonPositiveTime
	}
	if !(in.Volatility > 0) {
		return ErrNonPositiveVolatility
	}
	if !(in.Spot > 0) || !(in.Strike > 0) {
		return ErrNonPositivePrice
	}
	return nil
}

func (in Inputs) isPut() bool {
	return in.Type == models.OptionTypePut
}

func (in Inputs) d1d2() (float64, float64) {
	sqrtT := math.Sqrt(in.Years)
	d1 := (math.Log(in.Spot/in.Strike) + (in.Rate+in.Volatility*in.Volatility/2)*in.Years) / (in.Volatility * sqrtT)
	return d1, d1 - in.Volatility*sqrtT
}

func Compute(in Inputs) (Greeks, error) {
	if err := in.validate(); err != nil {
		return Greeks{}, err
	}

	d1, d2 := in.d1d2()
	sqrtT := math.Sqrt(in.Years)
	pdf := distuv.UnitNormal.Prob(d1)
	discount := in.Strike * math.Exp(-in.Rate*in.Years)
	decay := -(in.Spot * pdf * in.Volatility) / (2 * sqrtT)

	g := Greeks{
		Gamma: pdf / (in.Spot * in.Volatility * sqrtT),
		Vega:  in.Spot * pdf * sqrtT / 100,
	}
	if in.isPut() {
		g.Delta = distuv.UnitNormal.CDF(d1) - 1
		g.Theta = (decay + in.Rate*discount*distuv.UnitNormal.CDF(-d2)) / daysPerYear
		g.Rho = -in.Years * discount * distuv.UnitNormal.CDF(-d2) / 100
	} else {
		g.Delta = distuv.UnitNormal.CDF(d1)
		g.Theta = (decay - in.Rate*discount*distuv.UnitNormal.CDF(d2)) / daysPerYear
		g.Rho = in.Years * discount * distuv.UnitNormal.CDF(d2) / 100
	}
	return g, nil
}

func Price(in Inputs) (float64, error) {
	if err := in.validate(); err != nil {
		return 0, err
	}

	d1, d2 := in.d1d2()
	discount := in.Strike * math.Exp(-in.Rate*in.Years)
	if in.isPut() {
		return discount*distuv.UnitNormal.CDF(-d2) - in.Spot*distuv.UnitNormal.CDF(-d1), nil
	}
	return in.Spot*distuv.UnitNormal.CDF(d1) - discount*distuv.UnitNormal.CDF(d2), nil
}

// ImpliedVolatility solves for the volatility that reproduces marketPrice by
// bisection. The Volatility field of in is ignored.
func ImpliedVolatility(marketPrice float64, in Inputs) (float64, error) {
	if !(marketPrice > 0) {
		return 0, fmt.Errorf("%w: market price %v", ErrNonPositivePrice, marketPrice)
	}

	priceAt := func(vol float64) (float64, error) {
		in.Volatility = vol
		return Price(in)
	}

	lo, hi := minImpliedVol, maxImpliedVol
	pLo, err := priceAt(lo)
	if err != nil {
		return 0, err
	}
	pHi, err := priceAt(hi)
	if err != nil {
		return 0, err
	}
	if marketPrice < pLo || marketPrice > pHi {
		return 0, fmt.Errorf("%w: price %.4f outside [%.4f, %.4f]", ErrNoConvergence, marketPrice, pLo, pHi)
	}

	for i := 0; i < ivMaxIter; i++ {
		mid := (lo + hi) / 2
		p, err := priceAt(mid)
		if err != nil {
			return 0, err
		}
		if math.Abs(p-marketPrice) < ivTolerance {
			return mid, nil
		}
		if p < marketPrice {
			lo = mid
		} else {
			hi = mid
		}
	}
	return (lo + hi) / 2, nil
}

// YearsUntil converts the time between now and expiration into years.
func YearsUntil(expiration, now time.Time) float64 {
	return expiration.Sub(now).Hours() / 24 / daysPerYear
}

// FromContract builds pricing inputs for a listed contract, reading its
// implied volatility as a percentage.
func FromContract(o models.OptionContract, spot, rate float64, now time.Time) Inputs {
	return Inputs{
		Spot:       spot,
		Strike:     o.Strike,
		Years:      YearsUntil(o.Expiration, now),
		Rate:       rate,
		Volatility: o.ImpliedVolatility / 100,
		Type:       o.Type,
	}
}
