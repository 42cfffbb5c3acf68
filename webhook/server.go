// Package webhook exposes the payment-processor webhook and the purchase quote
// endpoint over HTTP.
package webhook

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/vitwit/onramp/logger"
	"github.com/vitwit/onramp/metrics"
	"github.com/vitwit/onramp/ratelimit"
	"github.com/vitwit/onramp/types"
	"github.com/vitwit/onramp/verification"
)

const (
	PaymentPath = "/api/webhook/payment"
	QuotePath   = "/api/purchase/quote"
	HealthPath  = "/healthz"
	MetricsPath = "/metrics"
)

// Settler settles validated payment events.
type Settler interface {
	Settle(ctx context.Context, event *types.PaymentEvent) (*types.SettlementResult, error)
}

// Quoter prices interactive purchase requests.
type Quoter interface {
	Quote(ctx context.Context, usd decimal.Decimal) (types.Quote, error)
}

type Config struct {
	Secret          types.Secret
	SignatureHeader string
	BodyLimit       int
	// AccessLog enables per-request logging through fiber's logger middleware.
	AccessLog bool
}

type Server struct {
	app *fiber.App
	cfg Config

	limiter   *ratelimit.Limiter
	validator *verification.Validator
	settler   Settler
	quoter    Quoter
	gatherer  prometheus.Gatherer

	log     logger.Logger
	metrics metrics.Recorder
}

type Option func(*Server)

func WithQuoter(q Quoter) Option {
	return func(s *Server) { s.quoter = q }
}

// WithGatherer serves the gatherer's metrics on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

func WithLogger(l logger.Logger) Option {
	return func(s *Server) { s.log = l }
}

func WithMetrics(m metrics.Recorder) Option {
	return func(s *Server) { s.metrics = m }
}

// NewServer builds the fiber app and registers all routes.
func NewServer(cfg Config, limiter *ratelimit.Limiter, validator *verification.Validator, settler Settler, opts ...Option) *Server {
	if cfg.SignatureHeader == "" {
		cfg.SignatureHeader = "X-Processor-Signature"
	}
	if cfg.BodyLimit <= 0 {
		cfg.BodyLimit = 1 << 20
	}

	s := &Server{
		cfg:       cfg,
		limiter:   limiter,
		validator: validator,
		settler:   settler,
		log:       logger.NoopLogger{},
		metrics:   metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}

	s.app = fiber.New(fiber.Config{
		AppName:               "onramp",
		BodyLimit:             cfg.BodyLimit,
		DisableStartupMessage: true,
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          3 * time.Minute,
	})

	// recovery and logging
	s.app.Use(recover.New())
	if cfg.AccessLog {
		s.app.Use(fiberlogger.New())
	}

	s.app.All(PaymentPath, s.handlePayment)
	if s.quoter != nil {
		s.app.Post(QuotePath, s.handleQuote)
	}
	s.app.Get(HealthPath, func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	if s.gatherer != nil {
		s.app.Get(MetricsPath, adaptor.HTTPHandler(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	return s
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App { return s.app }

func (s *Server) Listen(addr string) error {
	s.log.Info("webhook server listening", map[string]any{"addr": addr})
	return s.app.Listen(addr)
}

// Shutdown stops accepting connections and waits for in-flight requests until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}
