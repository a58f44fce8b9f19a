package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/gregtusar/coveredcalls/pkg/broker"
	"github.com/gregtusar/coveredcalls/pkg/greeks"
	"github.com/gregtusar/coveredcalls/pkg/models"
	"github.com/gregtusar/coveredcalls/pkg/portfolio"
	"github.com/gregtusar/coveredcalls/pkg/risk"
	"github.com/gregtusar/coveredcalls/pkg/sizing"
	"github.com/gregtusar/coveredcalls/pkg/strategy"
	"github.com/gregtusar/coveredcalls/pkg/trader"
)

const defaultTopN = 5

var errBadRequest = errors.New("bad request")

type recommendationQuery struct {
	Symbol    string `schema:"symbol,required"`
	RiskLevel string `schema:"risk_level"`
	TopN      int    `schema:"top_n"`
}

type greeksQuery struct {
	Spot       float64  `schema:"spot,required"`
	Strike     float64  `schema:"strike,required"`
	Days       float64  `schema:"days,required"`
	Rate       *float64 `schema:"rate"`
	Volatility float64  `schema:"volatility,required"`
	Type       string   `schema:"type"`
}

type greeksResponse struct {
	Price float64 `json:"price"`
	greeks.Greeks
}

type kellyQuery struct {
	Symbol         string  `schema:"symbol"`
	PortfolioValue float64 `schema:"portfolio_value"`
	StockPrice     float64 `schema:"stock_price"`
}

type closeRequest struct {
	Status     string  `json:"status"`
	ClosePrice float64 `json:"close_price"`
}

type rollRequest struct {
	ContractID string `json:"contract_id"`
}

// errorStatus maps engine errors onto HTTP statuses.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, models.ErrUnknownRiskLevel),
		errors.Is(err, portfolio.ErrInvalidStatus),
		errors.Is(err, broker.ErrInvalidOrder),
		errors.Is(err, greeks.ErrNonPositiveTime),
		errors.Is(err, greeks.ErrNonPositiveVolatility),
		errors.Is(err, greeks.ErrNonPositivePrice),
		errors.Is(err, sizing.ErrInvalidPortfolioValue),
		errors.Is(err, strategy.ErrInvalidUnderlyingPrice),
		errors.Is(err, trader.ErrContractMismatch):
		return http.StatusBadRequest
	case errors.Is(err, portfolio.ErrPositionNotFound),
		errors.Is(err, trader.ErrContractUnknown),
		errors.Is(err, trader.ErrNoStockPosition),
		errors.Is(err, broker.ErrSymbolNotFound):
		return http.StatusNotFound
	case errors.Is(err, risk.ErrInsufficientShares),
		errors.Is(err, trader.ErrTradeBlocked),
		errors.Is(err, trader.ErrRiskRejected),
		errors.Is(err, trader.ErrOrderRejected),
		errors.Is(err, trader.ErrOrderTimeout):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	entry := s.logger.WithError(err).WithFields(logrus.Fields{
		"method": r.Method,
		"path":   r.URL.Path,
		"status": status,
	})
	if status >= http.StatusInternalServerError {
		entry.Error("Request failed")
	} else {
		entry.Debug("Request rejected")
	}
	writeError(w, status, err)
}

func (s *Server) decodeQuery(r *http.Request, dst interface{}) error {
	if err := s.decoder.Decode(dst, r.URL.Query()); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func decodeBody(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "healthy",
		"mode":           s.engine.Mode(),
		"open_positions": len(s.engine.Positions()),
		"stream_clients": s.hub.Clients(),
		"timestamp":      s.now().UTC(),
	})
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.Positions())
}

func (s *Server) handleClosedPositions(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.ClosedPositions())
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	position, ok := s.engine.Position(id)
	if !ok {
		s.fail(w, r, fmt.Errorf("%w: %s", portfolio.ErrPositionNotFound, id))
		return
	}
	s.writeJSON(w, http.StatusOK, position)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.Metrics())
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.Alerts())
}

func (s *Server) handleRisk(w http.ResponseWriter, r *http.Request) {
	analysis, err := s.engine.RiskAnalysis(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, analysis)
}

func (s *Server) handleSafety(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.Safety())
}

func (s *Server) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	var q recommendationQuery
	if err := s.decodeQuery(r, &q); err != nil {
		s.fail(w, r, err)
		return
	}

	var level models.RiskLevel
	if q.RiskLevel != "" {
		var err error
		if level, err = models.ParseRiskLevel(q.RiskLevel); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	if q.TopN <= 0 {
		q.TopN = defaultTopN
	}

	rec, err := s.engine.Recommend(r.Context(), q.Symbol, level, q.TopN)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleGreeks(w http.ResponseWriter, r *http.Request) {
	var q greeksQuery
	if err := s.decodeQuery(r, &q); err != nil {
		s.fail(w, r, err)
		return
	}

	optionType := models.OptionTypeCall
	switch strings.ToUpper(q.Type) {
	case "", string(models.OptionTypeCall):
	case string(models.OptionTypePut):
		optionType = models.OptionTypePut
	default:
		s.fail(w, r, fmt.Errorf("%w: unknown option type %q", errBadRequest, q.Type))
		return
	}

	rate := greeks.DefaultRiskFreeRate
	if q.Rate != nil {
		rate = *q.Rate
	}

	in := greeks.Inputs{
		Spot:       q.Spot,
		Strike:     q.Strike,
		Years:      q.Days / 365,
		Rate:       rate,
		Volatility: q.Volatility,
		Type:       optionType,
	}
	g, err := greeks.Compute(in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	price, err := greeks.Price(in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, greeksResponse{Price: price, Greeks: g})
}

func (s *Server) handleKelly(w http.ResponseWriter, r *http.Request) {
	var q kellyQuery
	if err := s.decodeQuery(r, &q); err != nil {
		s.fail(w, r, err)
		return
	}

	size, err := s.engine.Kelly(r.Context(), q.Symbol, q.PortfolioValue, q.StockPrice)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, size)
}

func (s *Server) handleSell(w http.ResponseWriter, r *http.Request) {
	var req trader.SellRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.Symbol == "" || (req.ContractID == "" && req.Option == nil) {
		s.fail(w, r, fmt.Errorf("%w: symbol and contract_id are required", errBadRequest))
		return
	}
	if req.Contracts <= 0 {
		req.Contracts = 1
	}
	if req.RiskLevel != "" {
		level, err := models.ParseRiskLevel(string(req.RiskLevel))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		req.RiskLevel = level
	}

	s.logger.WithFields(logrus.Fields{
		"subject":   subject(r.Context()),
		"symbol":    req.Symbol,
		"contract":  req.ContractID,
		"contracts": req.Contracts,
	}).Info("Order requested")

	position, err := s.engine.SellCoveredCall(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, position)
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req closeRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	status := models.PositionStatus(strings.ToUpper(req.Status))
	if status == "" {
		status = models.PositionStatusClosed
	}

	s.logger.WithFields(logrus.Fields{
		"subject":     subject(r.Context()),
		"position_id": id,
		"status":      status,
	}).Info("Close requested")

	position, err := s.engine.ClosePosition(r.Context(), id, status, req.ClosePrice)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, position)
}

func (s *Server) handleRoll(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req rollRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.ContractID == "" {
		s.fail(w, r, fmt.Errorf("%w: contract_id is required", errBadRequest))
		return
	}

	s.logger.WithFields(logrus.Fields{
		"subject":     subject(r.Context()),
		"position_id": id,
		"contract":    req.ContractID,
	}).Info("Roll requested")

	position, err := s.engine.RollToContract(r.Context(), id, req.ContractID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, position)
}
