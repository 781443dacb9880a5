package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server exposes health, version, metrics, and per-wallet reward
// totals over HTTP.
type Server struct {
	log     *slog.Logger
	cfg     Config
	httpSrv *http.Server
}

func New(cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Server{
		log: cfg.Logger,
		cfg: cfg,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
	}))

	r.Get("/healthz", s.healthzHandler)
	r.Get("/readyz", s.readyzHandler)
	r.Get("/version", s.versionHandler)
	r.Get("/rewards/{wallet}", s.rewardsHandler)
	r.Handle("/metrics", promhttp.Handler())

	s.httpSrv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	return s, nil
}

// Run serves until ctx is cancelled, then drains connections within
// the configured shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	serveErrCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("server: http server error", "error", err)
			serveErrCh <- fmt.Errorf("failed to listen and serve: %w", err)
		}
	}()

	s.log.Info("server: http listening", "address", s.cfg.ListenAddr)

	select {
	case <-ctx.Done():
		s.log.Info("server: stopping", "reason", ctx.Err(), "address", s.cfg.ListenAddr)
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer shutdownCancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shutdown server: %w", err)
		}
		s.log.Info("server: http server shutdown complete")
		return nil
	case err := <-serveErrCh:
		return err
	}
}

func (s *Server) healthzHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok\n")); err != nil {
		s.log.Error("failed to write healthz response", "error", err)
	}
}

func (s *Server) readyzHandler(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.View.Ready() {
		s.log.Debug("readyz: indexer not ready")
		w.WriteHeader(http.StatusServiceUnavailable)
		if _, err := w.Write([]byte("indexer not ready\n")); err != nil {
			s.log.Error("failed to write readyz response", "error", err)
		}
		return
	}

	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok\n")); err != nil {
		s.log.Error("failed to write readyz response", "error", err)
	}
}

func (s *Server) versionHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(s.cfg.VersionInfo); err != nil {
		s.log.Error("failed to write version response", "error", err)
	}
}

type rewardsResponse struct {
	Wallet       string          `json:"wallet"`
	SolTotalRaw  uint64          `json:"solTotalRaw"`
	USDCTotalRaw uint64          `json:"usdcTotalRaw"`
	LastUpdated  time.Time       `json:"lastUpdated"`
	Tokens       []tokenResponse `json:"tokens,omitempty"`
}

type tokenResponse struct {
	Mint     string `json:"mint"`
	Symbol   string `json:"symbol,omitempty"`
	TotalRaw uint64 `json:"totalRaw"`
	Decimals uint8  `json:"decimals"`
}

func (s *Server) rewardsHandler(w http.ResponseWriter, r *http.Request) {
	wallet := chi.URLParam(r, "wallet")
	if _, err := solana.PublicKeyFromBase58(wallet); err != nil {
		http.Error(w, "invalid wallet address", http.StatusBadRequest)
		return
	}

	totals, err := s.cfg.Totals.GetWalletTotals(r.Context(), wallet)
	if err != nil {
		s.log.Error("rewards: failed to read totals", "wallet", wallet, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if totals == nil {
		http.Error(w, "wallet has no recorded rewards", http.StatusNotFound)
		return
	}

	resp := rewardsResponse{
		Wallet:       totals.Wallet,
		SolTotalRaw:  totals.SolTotalRaw,
		USDCTotalRaw: totals.USDCTotalRaw,
		LastUpdated:  totals.LastUpdated,
	}
	for _, tt := range totals.Tokens {
		resp.Tokens = append(resp.Tokens, tokenResponse{
			Mint:     tt.TokenMint,
			Symbol:   tt.TokenSymbol,
			TotalRaw: tt.TotalRaw,
			Decimals: tt.Decimals,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.log.Error("failed to write rewards response", "error", err)
	}
}
