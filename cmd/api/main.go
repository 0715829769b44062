package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/patient-registry/internal/config"
	"github.com/jwalitptl/patient-registry/internal/email"
	"github.com/jwalitptl/patient-registry/internal/handler/health"
	patientHandler "github.com/jwalitptl/patient-registry/internal/handler/patient"
	queryHandler "github.com/jwalitptl/patient-registry/internal/handler/query"
	"github.com/jwalitptl/patient-registry/internal/handler/web"
	"github.com/jwalitptl/patient-registry/internal/live"
	"github.com/jwalitptl/patient-registry/internal/middleware"
	"github.com/jwalitptl/patient-registry/internal/repository/store"
	"github.com/jwalitptl/patient-registry/internal/router"
	"github.com/jwalitptl/patient-registry/internal/service/export"
	patientService "github.com/jwalitptl/patient-registry/internal/service/patient"
	"github.com/jwalitptl/patient-registry/pkg/logger"
	"github.com/jwalitptl/patient-registry/pkg/messaging"
	"github.com/jwalitptl/patient-registry/pkg/messaging/redis"
	"github.com/jwalitptl/patient-registry/pkg/metrics"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to config file")
	pflag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	lg := logger.NewLogger(&logger.Config{
		Level:  logger.ParseLevel(cfg.Log.Level),
		Format: cfg.Log.Format,
	})
	log.Logger = lg.Zerolog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize database
	db, err := store.NewDB(ctx, store.Config{
		Driver:       cfg.Database.Driver,
		DSN:          cfg.Database.DSN,
		Host:         cfg.Database.Host,
		Port:         cfg.Database.Port,
		User:         cfg.Database.User,
		Password:     cfg.Database.Password,
		Name:         cfg.Database.Name,
		SSLMode:      cfg.Database.SSLMode,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		BusyTimeout:  cfg.Database.BusyTimeout,
	})
	if err != nil {
		lg.Fatal(err, "failed to connect to database")
	}
	defer db.Close()

	// Initialize repositories
	patientRepo := store.NewPatientRepository(db)
	queryRepo := store.NewQueryRepository(db)

	broker, err := newBroker(ctx, cfg.Broker, lg)
	if err != nil {
		lg.Fatal(err, "failed to initialize message broker")
	}
	defer broker.Close()

	m := metrics.New("patreg")

	// Initialize services
	patientSvc := patientService.NewService(patientRepo, queryRepo, patientService.Options{
		Broker: broker,
		Email: email.NewService(email.Config{
			Enabled:  cfg.Email.Enabled,
			Host:     cfg.Email.Host,
			Port:     cfg.Email.Port,
			Username: cfg.Email.Username,
			Password: cfg.Email.Password,
			From:     cfg.Email.From,
			To:       cfg.Email.To,
		}),
		Logger:   lg,
		Metrics:  m,
		CacheTTL: cfg.Cache.TTL,
		Source:   "api",
	})
	if err := patientSvc.WatchChanges(ctx); err != nil {
		lg.Fatal(err, "failed to watch patient changes")
	}
	exportSvc := export.NewService(m)

	hub := live.NewHub(queryRepo, broker, lg, m)
	if err := hub.Start(ctx); err != nil {
		lg.Fatal(err, "failed to start live query hub")
	}
	defer hub.Close()

	renderer, err := web.NewRenderer()
	if err != nil {
		lg.Fatal(err, "failed to load templates")
	}

	corsConfig := middleware.DefaultCORSConfig()
	corsConfig.AllowOrigins = cfg.Server.AllowedOrigins

	// Setup router
	r := router.NewRouter(router.Handlers{
		Health:  health.NewHandler(db),
		Patient: patientHandler.NewHandler(patientSvc),
		Query:   queryHandler.NewHandler(patientSvc, exportSvc, hub),
		Web:     web.NewHandler(patientSvc, cfg.Server.RepositoryURL),
	}, renderer, router.RouterConfig{
		Mode:           cfg.Server.Mode,
		RateLimit:      rate.Limit(cfg.Server.RateLimit),
		RateBurst:      cfg.Server.RateBurst,
		RequestTimeout: cfg.Server.RequestTimeout,
		BodyLimit:      cfg.Server.BodyLimit,
		CORSConfig:     corsConfig,
		Logger:         lg,
		Metrics:        m,
	})
	r.Setup()

	// Create server
	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      r.Engine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server
	go func() {
		lg.Info("server listening", "addr", srv.Addr, "database", db.Dialect.Name, "broker", cfg.Broker.Kind)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Fatal(err, "failed to start server")
		}
	}()

	<-ctx.Done()
	stop()
	lg.Info("shutting down server...")

	// Ends open event streams so Shutdown does not wait on them.
	hub.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		lg.Error(err, "server forced to shutdown")
	}

	lg.Info("server exited properly")
}

func newBroker(ctx context.Context, cfg config.BrokerConfig, lg *logger.Logger) (messaging.Broker, error) {
	if strings.ToLower(cfg.Kind) != "redis" {
		return messaging.NewMemoryBroker(0), nil
	}
	return redis.NewRedisBroker(ctx, redis.Config{
		URL:          cfg.Redis.URL,
		Prefix:       cfg.Redis.Prefix,
		MaxRetries:   cfg.Redis.MaxRetries,
		RetryBackoff: cfg.Redis.RetryBackoff,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
	}, lg)
}
