package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/md-rashed-zaman/apptbook/libs/auth"
	"github.com/md-rashed-zaman/apptbook/libs/config"
	"github.com/md-rashed-zaman/apptbook/libs/db"
	"github.com/md-rashed-zaman/apptbook/libs/httpx"
	"github.com/md-rashed-zaman/apptbook/libs/kafkax"
	otelx "github.com/md-rashed-zaman/apptbook/libs/otel"
	"github.com/md-rashed-zaman/apptbook/libs/runtime"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/appointment"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/audit"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/clock"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/handlers"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/ledger"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/reaper"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/reservation"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/storage"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/migrations"
)

type settings struct {
	service         string
	port            string
	databaseURL     string
	dbMaxConns      int
	migrateOnStart  bool
	reservationTTL  int
	reapInterval    time.Duration
	maxAdvanceDays  int
	kafkaBrokers    []string
	outboxPoll      time.Duration
	outboxBatch     int
	redisAddr       string
	redisPassword   string
	redisDB         int
	ratePerMinute   int
	rateFailOpen    bool
	jwtSecret       string
	corsOrigins     []string
	requestTimeout  time.Duration
	shutdownTimeout time.Duration
	maxBodyBytes    int64
}

func loadSettings() (settings, error) {
	s := settings{
		service:        config.String("SERVICE_NAME", "booking-service"),
		migrateOnStart: config.Bool("MIGRATE_ON_START", true),
		kafkaBrokers:   kafkax.SplitBrokers(config.String("KAFKA_BROKERS", "")),
		redisAddr:      config.String("REDIS_ADDR", ""),
		redisPassword:  config.String("REDIS_PASSWORD", ""),
		rateFailOpen:   config.Bool("RATE_LIMIT_FAIL_OPEN", true),
		jwtSecret:      config.String("JWT_SECRET", ""),
		corsOrigins:    config.List("CORS_ALLOWED_ORIGINS", ""),
		maxBodyBytes:   1 << 20,
	}
	var err error
	if s.port, err = config.Port("PORT", "8083"); err != nil {
		return s, err
	}
	if s.databaseURL, err = config.RequiredString("DATABASE_URL"); err != nil {
		return s, err
	}
	ints := []struct {
		dst      *int
		key      string
		fallback int
		min      int
	}{
		{&s.dbMaxConns, "DB_MAX_CONNS", 10, 1},
		{&s.reservationTTL, "RESERVATION_TTL_MINUTES", int(reservation.DefaultTTL / time.Minute), int(reservation.MinTTL / time.Minute)},
		{&s.maxAdvanceDays, "MAX_ADVANCE_DAYS", availability.MaxAdvanceDays, 1},
		{&s.outboxBatch, "OUTBOX_BATCH_SIZE", 50, 1},
		{&s.redisDB, "REDIS_DB", 0, 0},
		{&s.ratePerMinute, "RATE_LIMIT_PER_MINUTE", 60, 0},
	}
	for _, i := range ints {
		if *i.dst, err = config.Int(i.key, i.fallback, i.min); err != nil {
			return s, err
		}
	}
	if time.Duration(s.reservationTTL)*time.Minute > reservation.MaxTTL {
		return s, fmt.Errorf("RESERVATION_TTL_MINUTES must be at most %d", int(reservation.MaxTTL/time.Minute))
	}
	durations := []struct {
		dst      *time.Duration
		key      string
		fallback time.Duration
	}{
		{&s.reapInterval, "RESERVATION_REAP_INTERVAL", time.Minute},
		{&s.outboxPoll, "OUTBOX_POLL_INTERVAL", 2 * time.Second},
		{&s.requestTimeout, "REQUEST_TIMEOUT", 10 * time.Second},
		{&s.shutdownTimeout, "SHUTDOWN_TIMEOUT", 10 * time.Second},
	}
	for _, d := range durations {
		if *d.dst, err = config.Duration(d.key, d.fallback); err != nil {
			return s, err
		}
	}
	return s, nil
}

func main() {
	if err := config.LoadDotenv(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg, err := loadSettings()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger := runtime.NewLogger(cfg.service, config.String("LOG_LEVEL", "info"))
	if err := run(cfg, logger); err != nil {
		logger.Error("booking service exited", "err", err)
		os.Exit(1)
	}
}

func run(cfg settings, logger *slog.Logger) error {
	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(cfg.service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	pool, err := db.Open(ctx, cfg.databaseURL, db.Options{MaxConns: int32(cfg.dbMaxConns)})
	if err != nil {
		return fmt.Errorf("db connection: %w", err)
	}
	defer pool.Close()

	if cfg.migrateOnStart {
		if err := migrations.Apply(ctx, pool.Pool); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		logger.Info("migrations applied")
	}

	clk := clock.NewSystem()
	repo := storage.NewBookingRepository(pool)
	auditRepo := audit.NewRepository(pool)
	outboxRepo := outbox.NewRepository(pool)
	capacity := ledger.New(repo)

	calculator := availability.NewCalculator(repo, clk, availability.WithMaxAdvanceDays(cfg.maxAdvanceDays))
	reservations := reservation.NewManager(repo, capacity, clk,
		reservation.WithDefaultTTL(time.Duration(cfg.reservationTTL)*time.Minute))
	appointments := appointment.NewManager(repo, capacity, auditRepo, outboxRepo, clk)

	go reaper.NewWorker(reservations, logger, cfg.reapInterval).Run(ctx)

	if len(cfg.kafkaBrokers) > 0 {
		writer := kafkax.NewWriter(cfg.kafkaBrokers)
		defer func() { _ = writer.Close() }()
		publisher := outbox.NewPublisher(outboxRepo, writer, logger, outbox.PublisherConfig{
			PollEvery: cfg.outboxPoll,
			BatchSize: cfg.outboxBatch,
		})
		go publisher.Run(ctx)
	} else {
		logger.Warn("KAFKA_BROKERS not set; outbox events stay unpublished")
	}

	limiter, redisCheck, closeRedis := newLimiter(cfg)
	defer closeRedis()

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(cfg.kafkaBrokers)},
		runtime.ReadyCheck{Name: "redis", Check: redisCheck},
	)

	var public httpx.Middleware
	if limiter != nil {
		public = httpx.RateLimit(limiter, logger, cfg.rateFailOpen)
	}
	bookingHandler := handlers.NewBookingHandler(calculator, reservations, appointments, auditRepo, logger, clk)
	bookingHandler.Register(mux, handlers.Routes{
		Public: public,
		Staff:  auth.RequireActor(cfg.jwtSecret),
	})

	httpHandler := httpx.Chain(mux,
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: cfg.corsOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", "Authorization", "Idempotency-Key", httpx.RequestIDHeader},
			MaxAge:         10 * time.Minute,
		}),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecover(logger),
		httpx.WithTimeout(cfg.requestTimeout),
		httpx.WithBodyLimit(cfg.maxBodyBytes),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "booking")

	srv := &http.Server{
		Addr:              ":" + cfg.port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return runtime.ServeHTTP(ctx, srv, logger, cfg.shutdownTimeout)
}

// newLimiter picks the shared Redis limiter when REDIS_ADDR is set and the
// per-process one otherwise. A zero rate disables limiting.
func newLimiter(cfg settings) (httpx.Limiter, func(context.Context) error, func()) {
	if cfg.ratePerMinute == 0 {
		return nil, nil, func() {}
	}
	if cfg.redisAddr == "" {
		return httpx.NewMemoryLimiter(cfg.ratePerMinute, time.Minute), nil, func() {}
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.redisAddr,
		Password: cfg.redisPassword,
		DB:       cfg.redisDB,
	})
	check := func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	limiter := httpx.NewRedisLimiter(rdb, cfg.ratePerMinute, time.Minute, "booking:ratelimit:")
	return limiter, check, func() { _ = rdb.Close() }
}
