package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"crypto-price-alerts/internal/oracle"
	"crypto-price-alerts/internal/storage"
)

// Options tune the HTTP server.
type Options struct {
	ListenAddr      string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	HourlyWindow    time.Duration
}

// Server exposes the blockchain price API.
type Server struct {
	opts    Options
	samples storage.SampleStore
	alerts  storage.AlertStore
	prices  oracle.PriceFetcher
	logger  zerolog.Logger
	srv     *http.Server
}

// NewServer wires the REST surface over the stores and the oracle.
func NewServer(opts Options, samples storage.SampleStore, alerts storage.AlertStore, prices oracle.PriceFetcher, logger zerolog.Logger) *Server {
	if opts.ListenAddr == "" {
		opts.ListenAddr = ":8080"
	}
	if opts.HourlyWindow <= 0 {
		opts.HourlyWindow = 24 * time.Hour
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 5 * time.Second
	}
	return &Server{
		opts:    opts,
		samples: samples,
		alerts:  alerts,
		prices:  prices,
		logger:  logger.With().Str("component", "api").Logger(),
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	group := engine.Group("/api/v1/blockchain")
	{
		group.GET("/get-hourly", s.handleGetHourly)
		group.GET("/swap-rate", s.handleSwapRate)
		group.POST("/alert-pricing", s.handleAlertPricing)
	}

	return engine
}

// Start blocks serving HTTP until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.srv = &http.Server{
		Addr:         s.opts.ListenAddr,
		Handler:      s.Router(),
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
	}

	ln, err := net.Listen("tcp", s.opts.ListenAddr)
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error().Err(err).Msg("http shutdown failed")
		}
	}()

	s.logger.Info().Str("addr", s.opts.ListenAddr).Msg("http server starting")
	if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
