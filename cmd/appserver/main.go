// Package main implements the application lifecycle server: REST API over
// the application engine, backed by memory or Postgres, fronted by the
// identity, rate limit, and CORS middleware.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	app "github.com/lendcore/application_layer/internal/app"
	"github.com/lendcore/application_layer/internal/app/httpapi"
	"github.com/lendcore/application_layer/internal/app/storage/postgres"
	"github.com/lendcore/application_layer/internal/config"
	"github.com/lendcore/application_layer/internal/directory"
	"github.com/lendcore/application_layer/internal/middleware"
	"github.com/lendcore/application_layer/internal/platform/migrations"
	"github.com/lendcore/application_layer/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	flag.Parse()

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		logger.NewDefault("appserver").WithError(err).Fatal("load configuration")
	}

	log := logger.New("appserver", logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	stores, closeStore, err := buildStores(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("initialise storage")
	}
	defer closeStore()

	dirs := buildDirectories(cfg, log)

	application, err := app.New(stores, dirs, log)
	if err != nil {
		log.WithError(err).Fatal("initialise application")
	}

	handler, err := httpapi.NewHandler(application, log, httpapi.Options{
		AuditSize:     cfg.Audit.Size,
		AuditFile:     cfg.Audit.File,
		InternalToken: cfg.Auth.InternalToken,
	})
	if err != nil {
		log.WithError(err).Fatal("initialise handler")
	}

	identity := middleware.NewActorIdentity([]byte(cfg.Auth.JWTSecret), log)
	limiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, log)
	if err := application.Attach(limiter); err != nil {
		log.WithError(err).Fatal("attach rate limiter")
	}
	cors := middleware.NewCORSMiddleware(cfg.CORS.Origins)

	chain := limiter.Handler(handler)
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if shared := middleware.NewRedisLimiter(client, cfg.RateLimit.RedisLimit, cfg.RateLimit.RedisWindow, log); shared != nil {
			chain = shared.Handler(chain)
			log.WithField("addr", cfg.Redis.Addr).Info("shared rate limiter enabled")
		}
	}
	chain = identity.Handler(chain)
	chain = cors.Handler(chain)

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := application.Start(ctx); err != nil {
		log.WithError(err).Fatal("start application")
	}

	go func() {
		log.WithField("addr", cfg.Server.Addr).Info("listening")
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			log.WithError(err).Fatal("server error")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("server shutdown")
	}
	if err := application.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("application shutdown")
	}
}

func buildStores(cfg *config.Config, log *logger.Logger) (app.Stores, func(), error) {
	if cfg.Database.Driver != "postgres" {
		log.Info("using in-memory storage")
		return app.Stores{}, func() {}, nil
	}

	ctx := context.Background()
	db, err := postgres.Open(ctx, cfg.Database.DSN)
	if err != nil {
		return app.Stores{}, nil, err
	}
	if err := migrations.Apply(db.DB); err != nil {
		db.Close()
		return app.Stores{}, nil, err
	}
	store := postgres.New(db)
	log.Info("using postgres storage")
	return app.Stores{Applications: store, Tags: store}, func() { db.Close() }, nil
}

func buildDirectories(cfg *config.Config, log *logger.Logger) app.Directories {
	var dirs app.Directories

	if cfg.Directories.UsersURL != "" {
		users, err := directory.NewHTTPUserDirectory(nil, cfg.Directories.UsersURL, log)
		if err != nil {
			log.WithError(err).Warn("configure user directory; falling back to fail-closed")
		} else {
			dirs.Users = users
		}
	}
	if cfg.Directories.ProductsURL != "" {
		products, err := directory.NewHTTPProductDirectory(nil, cfg.Directories.ProductsURL, log)
		if err != nil {
			log.WithError(err).Warn("configure product directory; falling back to fail-closed")
		} else {
			dirs.Products = products
		}
	}
	if cfg.Directories.TagsURL != "" {
		tags, err := directory.NewHTTPTagDirectory(nil, cfg.Directories.TagsURL, log)
		if err != nil {
			log.WithError(err).Warn("configure tag directory; falling back to in-process tags")
		} else {
			dirs.Tags = tags
		}
	}
	return dirs
}
