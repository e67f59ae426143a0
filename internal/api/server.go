package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nrbontha/spherepay/internal/domain"
	"github.com/nrbontha/spherepay/internal/engine"
	"github.com/nrbontha/spherepay/pkg/logger"
)

var (
	apiRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sphere_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	apiRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sphere_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)
)

// TransferService is the transaction lifecycle surface the API exposes.
type TransferService interface {
	CreateTransaction(ctx context.Context, req engine.CreateRequest) (*domain.Transaction, error)
	GetTransaction(ctx context.Context, id int64) (*domain.Transaction, error)
}

// RateService is the FX rate store surface the API exposes.
type RateService interface {
	RecordRate(ctx context.Context, pair, rate string, timestamp time.Time) (*domain.FxRate, error)
	LatestRate(ctx context.Context, base, quote string) (*domain.FxRate, error)
}

// PoolService lists pool balances for operational inspection.
type PoolService interface {
	ListPools(ctx context.Context) ([]domain.LiquidityPool, error)
}

// Pinger reports database reachability for health checks.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Config holds API server configuration.
type Config struct {
	Port string
}

// Server is the HTTP boundary over the engine and stores.
type Server struct {
	cfg       Config
	transfers TransferService
	rates     RateService
	pools     PoolService
	db        Pinger
	log       *logger.Logger
	router    *gin.Engine
	server    *http.Server
}

// NewServer creates the API server and registers all routes.
func NewServer(cfg Config, transfers TransferService, rates RateService, pools PoolService, db Pinger, log *logger.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		cfg:       cfg,
		transfers: transfers,
		rates:     rates,
		pools:     pools,
		db:        db,
		log:       log,
		router:    router,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		apiRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		apiRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())

		s.log.Info("Handled request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	})
}

func (s *Server) setupRoutes() {
	s.router.POST("/fx-rate", s.handleRecordRate)
	s.router.GET("/fx-rate/:pair", s.handleLatestRate)
	s.router.POST("/transfer", s.handleCreateTransfer)
	s.router.GET("/transfer/:id", s.handleGetTransfer)
	s.router.GET("/pools", s.handleListPools)
	s.router.GET("/health", s.handleHealth)
}

// Router exposes the handler tree for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start serves HTTP until Stop is called.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    ":" + s.cfg.Port,
		Handler: s.router,
	}
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully drains in-flight requests.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
