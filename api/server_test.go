package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gregtusar/coveredcalls/internal/config"
	"github.com/gregtusar/coveredcalls/pkg/broker"
	"github.com/gregtusar/coveredcalls/pkg/models"
	"github.com/gregtusar/coveredcalls/pkg/trader"
)

const (
	testSecret   = "test-secret"
	aapl190Month = "AAPL-20240703-C-190"
	aapl195Roll  = "AAPL-20240718-C-195"
	aapl190Short = "AAPL-20240618-C-190"
)

var testNow = time.Date(2024, 6, 3, 14, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T, secret string) *Server {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	clock := func() time.Time { return testNow }
	engine := trader.New(broker.NewDemo(clock), trader.Config{CommissionPerContract: 0.65}, logger, trader.WithClock(clock))
	s := NewServer(engine, config.ServerConfig{Port: 0}, NewAuth(secret, time.Hour), logger)
	s.now = clock
	return s
}

func do(t *testing.T, h http.Handler, method, target string, body interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(dst), rec.Body.String())
}

func token(t *testing.T, s *Server) string {
	t.Helper()
	tok, err := s.auth.GenerateToken("tester", "operator")
	require.NoError(t, err)
	return tok
}

func TestReadEndpoints(t *testing.T) {
	s := newTestServer(t, testSecret)
	h := s.Handler()

	t.Run("health", func(t *testing.T) {
		rec := do(t, h, http.MethodGet, "/api/health", nil, "")
		require.Equal(t, http.StatusOK, rec.Code)

		var body map[string]interface{}
		decode(t, rec, &body)
		assert.Equal(t, "healthy", body["status"])
		assert.Equal(t, "DEMO", body["mode"])
	})

	t.Run("recommendations", func(t *testing.T) {
		rec := do(t, h, http.MethodGet, "/api/recommendations?symbol=AAPL&risk_level=moderate&top_n=2", nil, "")
		require.Equal(t, http.StatusOK, rec.Code)

		var body trader.Recommendation
		decode(t, rec, &body)
		assert.Equal(t, "AAPL", body.Symbol)
		assert.Equal(t, models.RiskModerate, body.RiskLevel)
		assert.Len(t, body.Options, 2)
	})

	t.Run("recommendation errors", func(t *testing.T) {
		assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/recommendations", nil, "").Code)
		assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/recommendations?symbol=AAPL&risk_level=yolo", nil, "").Code)
		assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/api/recommendations?symbol=ZZZZ", nil, "").Code)
	})

	t.Run("greeks", func(t *testing.T) {
		rec := do(t, h, http.MethodGet, "/api/greeks?spot=100&strike=100&days=365&volatility=0.2", nil, "")
		require.Equal(t, http.StatusOK, rec.Code)

		var body greeksResponse
		decode(t, rec, &body)
		assert.Greater(t, body.Delta, 0.5)
		assert.Less(t, body.Delta, 0.65)
		assert.Greater(t, body.Price, 0.0)
		assert.Less(t, body.Theta, 0.0)

		put := do(t, h, http.MethodGet, "/api/greeks?spot=100&strike=100&days=365&volatility=0.2&rate=0&type=put", nil, "")
		require.Equal(t, http.StatusOK, put.Code)
		var putBody greeksResponse
		decode(t, put, &putBody)
		assert.Less(t, putBody.Delta, 0.0)

		assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/greeks?spot=100&strike=100&days=30&volatility=0.2&type=straddle", nil, "").Code)
		assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/greeks?spot=100&strike=100&days=30&volatility=0", nil, "").Code)
		assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/greeks?spot=abc", nil, "").Code)
	})

	t.Run("kelly", func(t *testing.T) {
		rec := do(t, h, http.MethodGet, "/api/kelly?symbol=AAPL&portfolio_value=100000", nil, "")
		require.Equal(t, http.StatusOK, rec.Code)

		var body map[string]interface{}
		decode(t, rec, &body)
		assert.Equal(t, 0.10, body["kelly_fraction"])
		assert.Equal(t, "AAPL", body["symbol"])
	})

	t.Run("portfolio views", func(t *testing.T) {
		for _, path := range []string{"/api/positions", "/api/positions/closed", "/api/portfolio/metrics", "/api/alerts", "/api/risk", "/api/safety"} {
			rec := do(t, h, http.MethodGet, path, nil, "")
			assert.Equal(t, http.StatusOK, rec.Code, path)
		}
		assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/api/positions/missing", nil, "").Code)
	})
}

func TestOrderEndpoints(t *testing.T) {
	s := newTestServer(t, testSecret)
	h := s.Handler()
	tok := token(t, s)

	t.Run("requires token", func(t *testing.T) {
		sell := trader.SellRequest{Symbol: "AAPL", ContractID: aapl190Month, Contracts: 1}
		assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodPost, "/api/orders", sell, "").Code)
		assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodPost, "/api/orders", sell, "not-a-jwt").Code)

		other := NewAuth("other-secret", time.Hour)
		forged, err := other.GenerateToken("mallory", "operator")
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodPost, "/api/orders", sell, forged).Code)
		assert.Empty(t, s.engine.Positions())
	})

	var opened models.CoveredCall
	t.Run("sell", func(t *testing.T) {
		rec := do(t, h, http.MethodPost, "/api/orders", trader.SellRequest{Symbol: "aapl", ContractID: aapl190Month, Contracts: 1}, tok)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		decode(t, rec, &opened)
		assert.Equal(t, "AAPL", opened.Stock.Symbol)
		assert.Equal(t, 190.0, opened.Option.Strike)

		rec = do(t, h, http.MethodGet, "/api/positions/"+opened.ID, nil, "")
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("sell rejections", func(t *testing.T) {
		rec := do(t, h, http.MethodPost, "/api/orders", trader.SellRequest{Symbol: "AAPL", ContractID: aapl190Short, Contracts: 1}, tok)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

		rec = do(t, h, http.MethodPost, "/api/orders", trader.SellRequest{Symbol: "AAPL", ContractID: "AAPL-nope", Contracts: 1}, tok)
		assert.Equal(t, http.StatusNotFound, rec.Code)

		rec = do(t, h, http.MethodPost, "/api/orders", trader.SellRequest{Symbol: "AAPL"}, tok)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	var rolled models.CoveredCall
	t.Run("roll", func(t *testing.T) {
		rec := do(t, h, http.MethodPost, "/api/positions/"+opened.ID+"/roll", rollRequest{ContractID: aapl195Roll}, tok)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		decode(t, rec, &rolled)
		assert.Equal(t, 195.0, rolled.Option.Strike)

		rec = do(t, h, http.MethodPost, "/api/positions/"+opened.ID+"/roll", rollRequest{ContractID: aapl195Roll}, tok)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("close", func(t *testing.T) {
		rec := do(t, h, http.MethodPost, "/api/positions/"+rolled.ID+"/close", closeRequest{Status: "open"}, tok)
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = do(t, h, http.MethodPost, "/api/positions/"+rolled.ID+"/close", closeRequest{Status: "closed", ClosePrice: 1.25}, tok)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var closed models.CoveredCall
		decode(t, rec, &closed)
		assert.Equal(t, models.PositionStatusClosed, closed.Status)
		assert.Empty(t, s.engine.Positions())

		rec = do(t, h, http.MethodPost, "/api/positions/missing/close", closeRequest{Status: "expired"}, tok)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestSellIgnoresClientQuote(t *testing.T) {
	s := newTestServer(t, testSecret)
	h := s.Handler()
	tok := token(t, s)

	forged := models.OptionContract{
		Symbol:     "AAPL",
		ContractID: aapl190Month,
		Strike:     190,
		Type:       models.OptionTypeCall,
		Premium:    50,
		Bid:        49.9,
		Ask:        50.1,
		Delta:      0.01,
	}

	t.Run("quote comes from the broker", func(t *testing.T) {
		rec := do(t, h, http.MethodPost, "/api/orders", trader.SellRequest{Symbol: "AAPL", Option: &forged, Contracts: 1}, tok)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		var opened models.CoveredCall
		decode(t, rec, &opened)
		assert.Equal(t, aapl190Month, opened.Option.ContractID)
		assert.NotEqual(t, 0.01, opened.Option.Delta)
		assert.NotEqual(t, 50.0, opened.Option.Premium)
		assert.Less(t, opened.PremiumCollected, 5000.0)
	})

	t.Run("option for another symbol", func(t *testing.T) {
		tsla := forged
		tsla.Symbol = "TSLA"
		rec := do(t, h, http.MethodPost, "/api/orders", trader.SellRequest{Symbol: "AAPL", Option: &tsla, Contracts: 1}, tok)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("option not in the chain", func(t *testing.T) {
		unlisted := models.OptionContract{Symbol: "AAPL", Strike: 191.5, Expiration: testNow.AddDate(0, 0, 30)}
		rec := do(t, h, http.MethodPost, "/api/orders", trader.SellRequest{Symbol: "AAPL", Option: &unlisted, Contracts: 1}, tok)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	assert.Len(t, s.engine.Positions(), 1)
}

func TestOrderEndpointsDisabledWithoutSecret(t *testing.T) {
	s := newTestServer(t, "")
	h := s.Handler()

	rec := do(t, h, http.MethodPost, "/api/orders", trader.SellRequest{Symbol: "AAPL", ContractID: aapl190Month}, "anything")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	_, err := s.auth.GenerateToken("tester", "operator")
	assert.ErrorIs(t, err, ErrAuthDisabled)
}

func TestAuthExpiry(t *testing.T) {
	a := NewAuth(testSecret, time.Minute)
	issued := time.Date(2024, 6, 3, 14, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return issued }

	tok, err := a.GenerateToken("tester", "operator")
	require.NoError(t, err)

	claims, err := a.ValidateToken(tok)
	require.NoError(t, err)
	assert.Equal(t, "tester", claims.Subject)
	assert.Equal(t, "operator", claims.Role)

	a.now = func() time.Time { return issued.Add(2 * time.Minute) }
	_, err = a.ValidateToken(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestCORS(t *testing.T) {
	s := newTestServer(t, testSecret)
	s.cfg.CORSOrigins = []string{"http://localhost:8501"}
	h := s.Handler()

	req := httptest.NewRequest(http.MethodOptions, "/api/orders", nil)
	req.Header.Set("Origin", "http://localhost:8501")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "http://localhost:8501", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestStream(t *testing.T) {
	s := newTestServer(t, testSecret)
	require.NoError(t, s.hub.Start())
	defer s.hub.Close()

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return s.hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	rec := do(t, s.Handler(), http.MethodPost, "/api/orders", trader.SellRequest{Symbol: "AAPL", ContractID: aapl190Month, Contracts: 1}, token(t, s))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev struct {
		Type string             `json:"type"`
		Data models.CoveredCall `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, trader.TopicPositionOpened, ev.Type)
	assert.Equal(t, "AAPL", ev.Data.Stock.Symbol)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return s.hub.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}
