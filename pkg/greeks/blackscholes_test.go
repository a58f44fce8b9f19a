package greeks

import (
	"testing"
	"time"

	"github.com/gregtusar/coveredcalls/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func atmCall() Inputs {
	return Inputs{Spot: 100, Strike: 100, Years: 1, Rate: 0.05, Volatility: 0.20, Type: models.OptionTypeCall}
}

func TestCompute(t *testing.T) {
	t.Run("at the money call", func(t *testing.T) {
		g, err := Compute(atmCall())
		require.NoError(t, err)

		assert.Greater(t, g.Delta, 0.5)
		assert.Less(t, g.Delta, 0.65)
		assert.InDelta(t, 0.6368, g.Delta, 1e-3)
		assert.Greater(t, g.Gamma, 0.0)
		assert.Greater(t, g.Vega, 0.0)
		assert.Less(t, g.Theta, 0.0)
		assert.Greater(t, g.Rho, 0.0)
	})

	t.Run("put delta is call delta minus one", func(t *testing.T) {
		call, err := Compute(atmCall())
		require.NoError(t, err)

		in := atmCall()
		in.Type = models.OptionTypePut
		put, err := Compute(in)
		require.NoError(t, err)

		assert.InDelta(t, call.Delta-1, put.Delta, 1e-12)
		assert.InDelta(t, call.Gamma, put.Gamma, 1e-12)
		assert.InDelta(t, call.Vega, put.Vega, 1e-12)
		assert.Less(t, put.Rho, 0.0)
	})

	t.Run("theta is daily", func(t *testing.T) {
		g, err := Compute(atmCall())
		require.NoError(t, err)
		// annual call theta for these inputs is about -6.41
		assert.InDelta(t, -6.414/365, g.Theta, 1e-4)
	})

	t.Run("rejects degenerate inputs", func(t *testing.T) {
		in := atmCall()
		in.Years = 0
		_, err := Compute(in)
		assert.ErrorIs(t, err, ErrNonPositiveTime)

		in = atmCall()
		in.Volatility = 0
		_, err = Compute(in)
		assert.ErrorIs(t, err, ErrNonPositiveVolatility)

		in = atmCall()
		in.Spot = -1
		_, err = Compute(in)
		assert.ErrorIs(t, err, ErrNonPositivePrice)
	})
}

func TestPrice(t *testing.T) {
	call, err := Price(atmCall())
	require.NoError(t, err)
	assert.InDelta(t, 10.4506, call, 1e-3)

	in := atmCall()
	in.Type = models.OptionTypePut
	put, err := Price(in)
	require.NoError(t, err)

	// put-call parity: C - P = S - K e^{-rT}
	assert.InDelta(t, 100-100*0.951229, call-put, 1e-3)
}

func TestImpliedVolatility(t *testing.T) {
	in := atmCall()
	price, err := Price(in)
	require.NoError(t, err)

	in.Volatility = 0
	vol, err := ImpliedVolatility(price, in)
	require.NoError(t, err)
	assert.InDelta(t, 0.20, vol, 1e-4)

	_, err = ImpliedVolatility(150, in)
	assert.ErrorIs(t, err, ErrNoConvergence)

	_, err = ImpliedVolatility(0, in)
	assert.ErrorIs(t, err, ErrNonPositivePrice)

	expired := in
	expired.Years = 0
	_, err = ImpliedVolatility(price, expired)
	assert.ErrorIs(t, err, ErrNonPositiveTime)

	noStrike := in
	noStrike.Strike = 0
	_, err = ImpliedVolatility(price, noStrike)
	assert.ErrorIs(t, err, ErrNonPositivePrice)
}

func TestFromContract(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	o := models.OptionContract{
		Strike:            110,
		Expiration:        now.AddDate(0, 0, 73),
		Type:              models.OptionTypeCall,
		ImpliedVolatility: 30,
	}

	in := FromContract(o, 100, 0.05, now)
	assert.InDelta(t, 0.2, in.Years, 1e-9)
	assert.InDelta(t, 0.30, in.Volatility, 1e-12)
	assert.Equal(t, 110.0, in.Strike)
}
