// Package api exposes the trading coordinator over HTTP and a websocket event stream.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"leverage-core/internal/balance"
	"leverage-core/internal/coordinator"
	"leverage-core/internal/engine"
	"leverage-core/internal/monitor"
	"leverage-core/internal/risk"
	"leverage-core/pkg/db"
	"leverage-core/pkg/errors"
)

// Deps are the components the server reads from and drives. Balances and Queries are
// optional; their endpoints answer 503 when nil.
type Deps struct {
	Coordinator *coordinator.Coordinator
	Engine      *engine.Engine
	Risk        *risk.Manager
	Balances    *balance.Manager
	Queries     *db.Queries
	Metrics     *monitor.SystemMetrics
}

// Options tune the HTTP surface.
type Options struct {
	JWTSecret      string
	RateLimit      float64
	RateBurst      int
	RequestTimeout time.Duration
	Version        string
}

// Server wires HTTP endpoints around the coordinator.
type Server struct {
	Router *gin.Engine
	deps   Deps
	opts   Options
	log    *zap.Logger
}

// NewServer builds the router. Coordinator, Engine and Risk are required.
func NewServer(deps Deps, opts Options, log *zap.Logger) (*Server, error) {
	if deps.Coordinator == nil || deps.Engine == nil || deps.Risk == nil {
		return nil, errors.New(errors.ErrCodeInvalidConfiguration, "api needs coordinator, engine and risk manager")
	}
	if opts.JWTSecret == "" {
		return nil, errors.New(errors.ErrCodeInvalidConfiguration, "api needs a JWT secret")
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("api")

	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(log, deps.Metrics))
	r.Use(RateLimitMiddleware(newIPLimiter(opts.RateLimit, opts.RateBurst), log))
	r.Use(TimeoutMiddleware(opts.RequestTimeout))
	r.Use(CORSMiddleware())

	s := &Server{Router: r, deps: deps, opts: opts, log: log}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", AuthMiddleware(s.opts.JWTSecret), s.websocket)

	api := s.Router.Group("/api")
	api.Use(AuthMiddleware(s.opts.JWTSecret))
	{
		api.GET("/status", s.getStatus)
		api.GET("/report", s.getReport)
		api.GET("/performance", s.getPerformance)
		api.GET("/market", s.getMarket)
		api.GET("/metrics", s.getMetrics)
		api.GET("/balances", s.getBalances)
		api.GET("/sessions", s.getSessions)

		api.GET("/positions", s.getPositions)
		api.POST("/positions/close-all", s.closeAllPositions)
		api.POST("/positions/:symbol/close", s.closePosition)

		api.GET("/orders", s.getOrders)
		api.GET("/orders/pending", s.getPendingOrders)
		api.GET("/orders/:id", s.getOrder)
		api.POST("/orders", s.placeOrder)
		api.DELETE("/orders/:id", s.cancelOrder)

		api.GET("/risk", s.getRiskReport)
		api.GET("/risk/history", s.getRiskHistory)
		api.GET("/risk/limits", s.getRiskLimits)
		api.PUT("/risk/limits", s.updateRiskLimits)
		api.POST("/risk/emergency/reset", s.resetEmergency)
		api.GET("/alerts", s.getAlerts)
		api.POST("/alerts/:id/resolve", s.resolveAlert)

		trading := api.Group("/trading")
		{
			trading.POST("/start", s.startTrading)
			trading.POST("/pause", s.pauseTrading)
			trading.POST("/resume", s.resumeTrading)
			trading.POST("/stop", s.stopTrading)
			trading.POST("/emergency-stop", s.emergencyStop)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"state":   s.deps.Coordinator.State(),
		"version": s.opts.Version,
	})
}

// Run serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("api listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return errors.Wrap(errors.ErrCodeStartupFailed, "api server", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(errors.ErrCodeShutdownFailed, "api shutdown", err)
		}
		return nil
	}
}
