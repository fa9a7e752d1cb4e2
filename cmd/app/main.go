package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/crawlplane/crawlplane/internal/discovery"
	"github.com/crawlplane/crawlplane/internal/frontier"
	"github.com/crawlplane/crawlplane/internal/history"
	"github.com/crawlplane/crawlplane/internal/queue"
	"github.com/crawlplane/crawlplane/internal/reconcile"
	"github.com/crawlplane/crawlplane/internal/robots"
	"github.com/crawlplane/crawlplane/internal/store"
)

// Config holds the application configuration loaded from environment variables
type Config struct {
	Port        string // HTTP port to listen on
	Env         string // Environment (development/production)
	SentryDSN   string // Sentry DSN for error tracking
	LogLevel    string // Log level (debug, info, warn, error)
	RedisAddr   string // Redis address for the coordination store
	DatabaseURL string // Postgres URL for the crawl-history store (optional)
	UserAgent   string // User agent sent on robots and sitemap fetches
}

func main() {
	// Load .env files - .env.local takes priority for development
	godotenv.Load(".env.local", ".env")

	config := &Config{
		Port:        getEnvWithDefault("PORT", "8080"),
		Env:         getEnvWithDefault("APP_ENV", "development"),
		SentryDSN:   os.Getenv("SENTRY_DSN"),
		LogLevel:    getEnvWithDefault("LOG_LEVEL", "info"),
		RedisAddr:   getEnvWithDefault("REDIS_ADDR", "localhost:6379"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		UserAgent:   getEnvWithDefault("USER_AGENT", "CrawlPlane/1.0"),
	}

	setupLogging(config)

	// Initialise Sentry for error tracking and performance monitoring
	if config.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:         config.SentryDSN,
			Environment: config.Env,
			TracesSampleRate: func() float64 {
				if config.Env == "production" {
					return 0.1 // 10% sampling in production
				}
				return 1.0 // 100% sampling in development
			}(),
			AttachStacktrace: true,
			Debug:            config.Env == "development",
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialise Sentry")
		} else {
			log.Info().Str("environment", config.Env).Msg("Sentry initialised successfully")
			defer sentry.Flush(2 * time.Second)
		}
	} else {
		log.Warn().Msg("Sentry DSN not configured, error tracking disabled")
	}

	ctx := context.Background()

	// Connect to Redis, the coordination store
	coordStore, err := store.NewRedisStore(ctx, store.RedisOptions{Addr: config.RedisAddr})
	if err != nil {
		sentry.CaptureException(err)
		log.Fatal().Err(err).Str("addr", config.RedisAddr).Msg("Failed to connect to Redis")
	}
	defer coordStore.Close()

	// Connect to Postgres for the crawl-history store. History is
	// optional: without it crawls finish without the straggler check.
	var historyStore history.Store
	if config.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, config.DatabaseURL)
		if err != nil {
			sentry.CaptureException(err)
			log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL database")
		}
		defer pool.Close()
		historyStore = history.NewPGStore(pool)
		log.Info().Msg("Connected to PostgreSQL database")
	} else {
		log.Warn().Msg("DATABASE_URL not configured, straggler reconciliation disabled")
	}

	robotsChecker := robots.NewChecker(nil, config.UserAgent)
	engine := discovery.NewEngine(coordStore, frontier.New(coordStore), nil, config.UserAgent)
	fetchQueue := queue.NewRedisQueue(coordStore.Client())

	coordinator := reconcile.NewCoordinator(reconcile.Options{
		Store:   coordStore,
		Queue:   fetchQueue,
		Robots:  robotsChecker,
		Engine:  engine,
		History: historyStore,
		Agents:  []string{config.UserAgent, "crawlplane"},
	})

	// Consume worker results until shutdown.
	runCtx, stopRun := context.WithCancel(ctx)
	defer stopRun()
	go coordinator.Run(runCtx, fetchQueue)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := coordStore.Ping(r.Context()); err != nil {
			http.Error(w, "store unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:              ":" + config.Port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Channel to listen for termination signals
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})

	go func() {
		<-stop
		log.Info().Msg("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			sentry.CaptureException(err)
			log.Error().Err(err).Msg("Server forced to shutdown")
		}
		close(done)
	}()

	log.Info().Str("port", config.Port).Msg("Starting server")
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		sentry.CaptureException(err)
		log.Fatal().Err(err).Msg("Server error")
	}

	<-done
	log.Info().Msg("Server stopped")
}

// getEnvWithDefault retrieves an environment variable or returns a default value if not set
func getEnvWithDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// setupLogging configures the logging system
func setupLogging(config *Config) {
	level, err := zerolog.ParseLevel(config.LogLevel)
	if err != nil {
		level = zerolog.WarnLevel
	}
	zerolog.SetGlobalLevel(level)

	// Use console writer in development
	if config.Env == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	} else {
		log.Logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Str("service", "crawlplane").
			Logger()
	}
}
