package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/campusmart/marketplace/internal/cache"
	"github.com/campusmart/marketplace/internal/domain/cart"
	"github.com/campusmart/marketplace/internal/domain/checkout"
	"github.com/campusmart/marketplace/internal/domain/coupon"
	"github.com/campusmart/marketplace/internal/domain/order"
	"github.com/campusmart/marketplace/internal/domain/pricing"
	"github.com/campusmart/marketplace/internal/handler"
	"github.com/campusmart/marketplace/internal/outbox"
	"github.com/campusmart/marketplace/internal/repository"
	"github.com/campusmart/marketplace/pkg/health"
	"github.com/campusmart/marketplace/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	srv, err := newServer(ctx, lg, cfg, m.TracerProvider(), m.MeterProvider())
	if err != nil {
		return err
	}
	defer srv.close()

	srv.health.Start(ctx, 10*time.Second)
	srv.health.SetReady(true)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           srv.handler,
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		srv.health.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		srv.health.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	<-srv.pollerDone
	return nil
}

// server is the wired application minus the listener.
type server struct {
	handler    http.Handler
	health     *health.Health
	pollerDone chan struct{}
	closers    []func()
}

func (s *server) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// newServer connects storage, migrates, and builds the HTTP handler. The
// outbox poller, when configured, runs until ctx is done.
func newServer(
	ctx context.Context,
	lg *zap.Logger,
	cfg *Config,
	tp trace.TracerProvider,
	mp metric.MeterProvider,
) (_ *server, rerr error) {
	srv := &server{pollerDone: make(chan struct{})}
	defer func() {
		if rerr != nil {
			srv.close()
		}
	}()

	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "create db pool")
	}
	srv.closers = append(srv.closers, pool.Close)

	if err := repository.RunMigrations(pool); err != nil {
		return nil, errors.Wrap(err, "run migrations")
	}

	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	srv.health = healthSvc

	// Redis backs the state shared between instances. Without it a single
	// instance keeps that state in process.
	var (
		applied coupon.AppliedStore
		locker  checkout.Locker = checkout.NopLocker{}
		limiter httpmiddleware.Limiter
	)
	if cfg.Redis.URL != "" {
		client, err := cache.NewClient(cfg.Redis.URL)
		if err != nil {
			return nil, errors.Wrap(err, "create redis client")
		}
		srv.closers = append(srv.closers, func() { _ = client.Close() })

		applied = cache.NewAppliedCoupons(client, cfg.Checkout.AppliedCouponTTL)
		locker = cache.NewLocker(client)
		limiter = httpmiddleware.NewRedisLimiter(client, cfg.RateLimit.Max, cfg.RateLimit.Window)
		healthSvc.AddReadinessCheck("redis", 2*time.Second, health.RedisCheck(client))
	} else {
		lg.Warn("Redis not configured, checkout lock and applied coupons are local to this instance")
		applied = cache.NewMemoryAppliedCoupons(cfg.Checkout.AppliedCouponTTL)
		ml := httpmiddleware.NewMemoryLimiter(cfg.RateLimit.Max, cfg.RateLimit.Window)
		go ml.Run(ctx)
		limiter = ml
	}

	// Repositories.
	productRepo := repository.NewProductRepository(pool)
	cartRepo := repository.NewCartRepository(pool)
	couponRepo := repository.NewCouponRepository(pool)
	orderRepo := repository.NewOrderRepository(pool)
	apikeyRepo := repository.NewAPIKeyRepository(pool)
	outboxRepo := repository.NewOutboxRepository(pool)

	// Domain services.
	fee, err := cfg.Checkout.deliveryFee()
	if err != nil {
		return nil, err
	}
	cartReader := cart.NewReader(cartRepo)
	checkoutSvc, err := checkout.NewService(checkout.Params{
		Carts:          cartReader,
		Coupons:        coupon.NewValidator(couponRepo),
		Applied:        applied,
		Calculator:     pricing.NewCalculator(fee),
		Store:          repository.NewSettlementStore(pool),
		Orders:         orderRepo,
		Locker:         locker,
		LockTTL:        cfg.Checkout.LockTTL,
		StaleAfter:     cfg.Checkout.StaleAfter,
		MeterProvider:  mp,
		TracerProvider: tp,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create checkout service")
	}
	cartSvc := cart.NewService(cartRepo, productRepo, cartReader)
	orderSvc := order.NewService(orderRepo)

	// Outbox relay.
	if len(cfg.Kafka.Brokers) > 0 {
		writer := outbox.NewKafkaWriter(cfg.Kafka.Topic, cfg.Kafka.Brokers...)
		srv.closers = append(srv.closers, func() { _ = writer.Close() })

		poller := outbox.NewPoller(outboxRepo, writer, cfg.Kafka.PollInterval, cfg.Kafka.BatchSize)
		go func() {
			defer close(srv.pollerDone)
			_ = poller.Run(ctx)
		}()
		healthSvc.AddLivenessCheck("outbox_poller", time.Second,
			health.Since("outbox poller", 10*cfg.Kafka.PollInterval+time.Minute, poller.LastFlush))
		healthSvc.AddLivenessCheck("outbox_backlog", 5*time.Second,
			health.BacklogCheck("outbox", cfg.Kafka.MaxBacklog, outboxRepo.CountUnpublished))
	} else {
		lg.Warn("Kafka not configured, order events stay in the outbox table")
		close(srv.pollerDone)
	}

	api := handler.New(productRepo, cartSvc, checkoutSvc, orderSvc,
		handler.NewAuthenticator(apikeyRepo, []byte(cfg.APIKeyPepper)),
	)

	r := chi.NewRouter()
	r.Use(httpmiddleware.LogRequests(), httpmiddleware.Labeler())
	r.Get("/livez", healthSvc.LiveEndpoint)
	r.Get("/readyz", healthSvc.ReadyEndpoint)
	r.Route("/api", api.Register)

	srv.handler = httpmiddleware.Wrap(r,
		httpmiddleware.Recovery(),
		httpmiddleware.CORS(httpmiddleware.CORSConfig{
			AllowOrigins:     cfg.CORS.Origins,
			AllowHeaders:     []string{"Content-Type", "Authorization", "api_key", "Idempotency-Key"},
			ExposeHeaders:    []string{"X-Request-ID", "Idempotency-Key", "Retry-After"},
			AllowCredentials: cfg.CORS.AllowCredentials,
			MaxAge:           86400,
		}),
		httpmiddleware.RateLimit(httpmiddleware.RateLimitConfig{
			Max:     cfg.RateLimit.Max,
			Window:  cfg.RateLimit.Window,
			Limiter: limiter,
		}),
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(zctx.From(ctx)),
		httpmiddleware.Instrument("marketplace-api", tp, mp),
	)
	return srv, nil
}
