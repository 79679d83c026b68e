package trackerservice

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"bus-track/internal/auth"
	"bus-track/internal/broadcast"
	"bus-track/internal/config"
	"bus-track/internal/fallback"
	"bus-track/internal/logger"
	"bus-track/internal/postgres"
	"bus-track/internal/rabbitmq"
	"bus-track/internal/routes"
	"bus-track/internal/session"
	"bus-track/internal/validate"
	"bus-track/internal/websocket"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

// fallbackTTL bounds how long a cached last-known position may serve as a
// degraded answer before it simply expires.
const fallbackTTL = 15 * time.Minute

func Run(ctx context.Context, maxConcurrent int) error {
	// set up a new logger for the tracker service with a static request ID for startup logs
	logger := logger.New("tracker-service")
	ctx = logger.WithRequestID(ctx, "startup-001")

	// load configuration
	cfg, err := config.LoadFromFile("./config/config.yaml")
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	// set up a Postgres connection pool
	pool, err := postgres.NewPool(ctx, cfg, logger)
	if err != nil {
		logger.Error(ctx, "db_connection_failed", "Failed to initialize Postgres pool", err, nil)
		return err
	}
	defer pool.Close()

	// connect to RabbitMQ
	rmq, err := rabbitmq.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error(ctx, "rabbitmq_connection_failed", "Failed to connect to RabbitMQ", err, nil)
		return err
	}
	defer rmq.Close()

	// set up the RabbitMQ publisher for the location fanout mirror
	pub := rabbitmq.NewPublisher(rmq)

	// last-known-position cache: shared Redis when configured, in-process otherwise
	var cache fallback.Store = fallback.NewMemoryStore()
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Error(ctx, "redis_connection_failed", "Failed to reach Redis, using in-process fallback cache", err, nil)
		} else {
			cache = fallback.NewRedisStore(rdb, fallbackTTL)
			defer rdb.Close()
		}
	}
	// set up the JWT manager and the auth gate
	jwtManager := auth.NewManager(cfg.JWT.SecretKey, 2*time.Hour)
	profileRepo := postgres.NewProfileRepo(pool)
	assignmentRepo := postgres.NewAssignmentRepo(pool)
	gate := auth.NewGate(jwtManager, profileRepo, assignmentRepo, auth.RoleFromClaimOrProfile)

	// session registry and sample validator
	sessions := session.NewManager()
	validator := validate.New(cfg.MaxPastSkew(), cfg.MaxFutureSkew())

	// WebSocket endpoints
	ws := websocket.NewServer(logger, gate, sessions, validator, assignmentRepo,
		cfg.MinSampleInterval(), cfg.PingInterval(), cfg.ReadTimeout())

	// broadcast pipeline: persist, enrich with ETA/near-stop, fan out
	enricher := routes.NewEnricher(postgres.NewStopRepo(pool), 0, cfg.Tracking.NearStopThresholdKm)
	fanout := broadcast.New(postgres.NewLocationRepo(pool), enricher, ws, pub, logger).WithCache(cache)
	ws.AttachFanout(fanout)

	// set up the HTTP handler and its routes
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/driver", ws.ServeDriver)
	mux.HandleFunc("/ws/viewer", ws.ServeViewer)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// concurrency limiter (global) — blocks when capacity is full
	limitedHandler := withConcurrencyLimit(maxConcurrent, mux)

	// set up the server configurations
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.WebSocket.Port),            // listen on the specified port
		Handler:           limitedHandler,                                    // apply the concurrency limiter to HTTP handler
		ReadHeaderTimeout: 5 * time.Second,                                   // time to read headers
		IdleTimeout:       60 * time.Second,                                  // keep-alive window
		BaseContext:       func(net.Listener) context.Context { return ctx }, // pass base ctx to all handlers
	}

	// log service start
	logger.Info(ctx, "service_started",
		fmt.Sprintf("Tracker Service started on port %d", cfg.WebSocket.Port),
		map[string]any{"port": cfg.WebSocket.Port, "max_concurrent": maxConcurrent},
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		// graceful HTTP shutdown on context cancel
		shCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shCtx); err != nil && err != http.ErrServerClosed {
			logger.Error(ctx, "http_shutdown_failed", "Failed to gracefully shut down HTTP server", err, nil)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error(ctx, "http_server_error", "HTTP server terminated with error", err, map[string]any{"port": cfg.WebSocket.Port})
		return err
	}

	return nil
}

// withConcurrencyLimit wraps an http.Handler with a semaphore-based limiter.
// It controls how many HTTP requests can be in-progress at the same time.
func withConcurrencyLimit(n int, next http.Handler) http.Handler {
	if n <= 0 {
		return next
	}
	sem := make(chan struct{}, n)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case sem <- struct{}{}: // acquire
			defer func() { <-sem }() // release
			next.ServeHTTP(w, r)
		case <-r.Context().Done():
			// client canceled or server is shutting down
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		}
	})
}
