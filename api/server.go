// Package api serves the dashboard HTTP API and the engine event stream.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/schema"
	"github.com/sirupsen/logrus"

	"github.com/gregtusar/coveredcalls/internal/config"
	"github.com/gregtusar/coveredcalls/pkg/trader"
)

type Server struct {
	engine  *trader.Engine
	auth    *Auth
	hub     *Hub
	decoder *schema.Decoder
	cfg     config.ServerConfig
	logger  *logrus.Logger
	now     func() time.Time

	httpServer *http.Server
}

func NewServer(engine *trader.Engine, cfg config.ServerConfig, auth *Auth, logger *logrus.Logger) *Server {
	decoder := schema.NewDecoder()
	decoder.IgnoreUnknownKeys(true)

	return &Server{
		engine:  engine,
		auth:    auth,
		hub:     NewHub(engine.Bus(), cfg.CORSOrigins, logger),
		decoder: decoder,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// Handler builds the routed handler with CORS applied.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	api := router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	api.HandleFunc("/positions", s.handlePositions).Methods(http.MethodGet)
	api.HandleFunc("/positions/closed", s.handleClosedPositions).Methods(http.MethodGet)
	api.HandleFunc("/positions/{id}", s.handlePosition).Methods(http.MethodGet)
	api.HandleFunc("/portfolio/metrics", s.handleMetrics).Methods(http.MethodGet)
	api.HandleFunc("/alerts", s.handleAlerts).Methods(http.MethodGet)
	api.HandleFunc("/risk", s.handleRisk).Methods(http.MethodGet)
	api.HandleFunc("/safety", s.handleSafety).Methods(http.MethodGet)
	api.HandleFunc("/recommendations", s.handleRecommendations).Methods(http.MethodGet)
	api.HandleFunc("/greeks", s.handleGreeks).Methods(http.MethodGet)
	api.HandleFunc("/kelly", s.handleKelly).Methods(http.MethodGet)
	api.Handle("/stream", s.hub).Methods(http.MethodGet)

	orders := api.NewRoute().Subrouter()
	orders.Use(s.auth.Authenticate)
	orders.HandleFunc("/orders", s.handleSell).Methods(http.MethodPost)
	orders.HandleFunc("/positions/{id}/close", s.handleClose).Methods(http.MethodPost)
	orders.HandleFunc("/positions/{id}/roll", s.handleRoll).Methods(http.MethodPost)

	return corsMiddleware(s.cfg.CORSOrigins, router)
}

func (s *Server) Start() error {
	if err := s.hub.Start(); err != nil {
		return fmt.Errorf("failed to subscribe event stream: %w", err)
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Port),
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	s.logger.Infof("Starting API server on port %d", s.cfg.Port)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func corsMiddleware(origins []string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		switch {
		case len(origins) == 0:
			w.Header().Set("Access-Control-Allow-Origin", "*")
		case origin != "" && originAllowed(origins, origin):
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithError(err).Error("Failed to encode JSON response")
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: err.Error()})
}
