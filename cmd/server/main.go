package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/teresa-solution/link-forwarding-service/internal/config"
	"github.com/teresa-solution/link-forwarding-service/internal/crypto"
	"github.com/teresa-solution/link-forwarding-service/internal/dialog"
	"github.com/teresa-solution/link-forwarding-service/internal/forwarder"
	"github.com/teresa-solution/link-forwarding-service/internal/logging"
	"github.com/teresa-solution/link-forwarding-service/internal/monitoring"
	"github.com/teresa-solution/link-forwarding-service/internal/server"
	"github.com/teresa-solution/link-forwarding-service/internal/service"
	"github.com/teresa-solution/link-forwarding-service/internal/session"
	"github.com/teresa-solution/link-forwarding-service/internal/stats"
	"github.com/teresa-solution/link-forwarding-service/internal/store"
	"github.com/teresa-solution/link-forwarding-service/internal/tenantlock"
)

const healthInterval = 10 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "Path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logCloser, err := logging.Setup(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open store")
	}
	defer st.Close()

	sessions, closeSessions := openSessionCache(ctx, cfg)
	defer closeSessions()

	monitoring.InitMetrics()

	agg := stats.NewAggregator(st)
	fwd := forwarder.New(forwarder.Options{
		Timeout:        cfg.Forwarder.Timeout,
		LoginPath:      cfg.Forwarder.LoginPath,
		SubmissionPath: cfg.Forwarder.SubmissionPath,
		LinkField:      cfg.Forwarder.LinkField,
	}, sessions, st, agg, tenantlock.New())
	dlg := dialog.NewEngine(st, fwd, sessions, dialog.Options{
		SubmissionPath: cfg.Forwarder.SubmissionPath,
		IdleTimeout:    cfg.Dialog.IdleTimeout,
	})
	engine := service.NewEngine(st, fwd, dlg, agg)
	admin := service.NewAdminService(st)

	if cfg.Server.AdminToken == "" {
		log.Warn().Msg("No admin token configured, admin API is disabled")
	}
	router := server.NewRouter(server.NewHandlers(engine, admin, st, cfg.Server.AdminToken))
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to listen")
	}
	grpcServer, hs := server.NewGRPCServer()
	go server.WatchHealth(ctx, hs, st, healthInterval)

	go func() {
		log.Info().Msgf("gRPC health server listening at %v", lis.Addr())
		if err := grpcServer.Serve(lis); err != nil {
			log.Error().Err(err).Msg("gRPC server error")
		}
	}()

	go func() {
		log.Info().Msgf("HTTP server listening on port %d", cfg.Server.HTTPPort)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server error")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	grpcServer.GracefulStop()
	log.Info().Msg("Server exiting")
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	if cfg.Database.Driver == "memory" {
		log.Warn().Msg("Using in-memory store, data is lost on restart")
		return store.NewMemoryStore(), nil
	}

	var box *crypto.SecretBox
	if cfg.Security.SecretKey != "" {
		b, err := crypto.NewSecretBox([]byte(cfg.Security.SecretKey))
		if err != nil {
			return nil, err
		}
		box = b
	} else {
		log.Warn().Msg("No secret key configured, tenant secrets are stored unsealed")
	}

	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	repo, err := store.NewTenantRepository(connectCtx, cfg.Database.DSN(), store.PoolOptions{
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
		MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
	}, box)
	if err != nil {
		return nil, err
	}
	if cfg.Database.AutoMigrate {
		if err := repo.Migrate(); err != nil {
			repo.Close()
			return nil, err
		}
	}
	log.Info().Str("host", cfg.Database.Host).Str("database", cfg.Database.Name).Msg("Connected to database")
	return repo, nil
}

// openSessionCache prefers Redis when enabled and falls back to memory
// if Redis cannot be reached at startup.
func openSessionCache(ctx context.Context, cfg *config.Config) (session.Cache, func()) {
	if cfg.Redis.Enabled {
		client, err := session.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err == nil {
			log.Info().Str("addr", cfg.Redis.Addr).Msg("Using Redis session cache")
			cache := session.NewRedisCache(client, cfg.Session.TokenTTL)
			return cache, func() { _ = cache.Close() }
		}
		log.Error().Err(err).Msg("Redis unavailable, falling back to in-memory session cache")
	}
	return session.NewMemoryCache(cfg.Session.TokenTTL), func() {}
}
