package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"mdcatalog/internal/api"
	"mdcatalog/internal/catalog"
	"mdcatalog/internal/config"
	"mdcatalog/internal/events"
	"mdcatalog/internal/logger"
	"mdcatalog/internal/masterdata"
	"mdcatalog/internal/store"
	"mdcatalog/internal/store/memory"
	"mdcatalog/internal/store/sqlstore"
	"mdcatalog/internal/worker"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	v := config.New()
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the catalog HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.dslDir != "" || opts.enumsDir != "" {
				v.Set("catalog.dsl_dir", opts.dslDir)
				v.Set("catalog.enums_dir", opts.enumsDir)
			}
			cfg, err := config.Load(v, opts.configFile)
			if err != nil {
				return err
			}
			return runServer(cmd.Context(), cfg)
		},
	}

	f := cmd.Flags()
	f.Int("port", 8080, "HTTP listen port")
	f.String("store-driver", config.DriverMemory, "catalog store (memory|postgres|sqlite)")
	f.String("store-dsn", "", "database DSN for sql stores")
	f.String("nats-url", "", "NATS server URL for change events (empty disables events)")
	f.Bool("strict", false, "refuse new references to blocked entities by default")
	f.String("log-level", "info", "log level (debug|info|warn|error)")
	bindFlags(v, cmd, map[string]string{
		"server.port":               "port",
		"store.driver":              "store-driver",
		"store.dsn":                 "store-dsn",
		"events.nats_url":           "nats-url",
		"catalog.strict_references": "strict",
		"log.level":                 "log-level",
	})
	return cmd
}

func bindFlags(v *viper.Viper, cmd *cobra.Command, keys map[string]string) {
	for key, flag := range keys {
		_ = v.BindPFlag(key, cmd.Flags().Lookup(flag))
	}
}

// app is the wired service.
type app struct {
	cfg    *config.Config
	store  store.Store
	pub    events.Publisher
	pool   *worker.Pool
	router *gin.Engine
}

// bootstrap wires the catalog from configuration. Callers must call close.
func bootstrap(ctx context.Context, cfg *config.Config) (*app, error) {
	cat, err := masterdata.LoadDir(cfg.Catalog.DSLDir, cfg.Catalog.EnumsDir)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	logger.Info("Catalog loaded",
		zap.Int("kinds", cat.Registry.Len()),
		zap.Int("enums", len(cat.Enums)),
	)
	for _, is := range cat.Registry.Lint() {
		logger.Warn("Schema issue",
			zap.String("kind", is.Kind),
			zap.String("field", is.Field),
			zap.String("code", is.Code),
			zap.String("message", is.Message),
		)
	}

	a := &app{cfg: cfg}
	var health func(context.Context) error
	switch cfg.Store.Driver {
	case config.DriverMemory:
		a.store = memory.New(cat.Registry)
	default:
		st, err := sqlstore.Open(ctx, sqlstore.Options{
			Driver:          cfg.Store.Driver,
			DSN:             cfg.Store.DSN,
			MaxOpenConns:    cfg.Store.MaxOpenConns,
			MaxIdleConns:    cfg.Store.MaxIdleConns,
			ConnMaxLifetime: cfg.Store.ConnMaxLifetime,
			AutoMigrate:     cfg.Store.AutoMigrate,
		}, cat.Registry, logger.Named("store"))
		if err != nil {
			return nil, fmt.Errorf("open %s store: %w", cfg.Store.Driver, err)
		}
		a.store = st
		health = st.Ping
	}

	if cfg.Events.NATSURL != "" {
		pub, err := events.NewNATSPublisher(cfg.Events.NATSURL)
		if err != nil {
			_ = a.store.Close()
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		a.pub = pub
		logger.Info("Events enabled", zap.String("nats_url", cfg.Events.NATSURL))
	} else {
		a.pub = &events.NoopPublisher{}
		logger.Info("Events disabled, events.nats_url not set")
	}

	a.pool, err = worker.New("bulk", cfg.Worker.PoolSize)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("create worker pool: %w", err)
	}

	engine := catalog.New(cat.Registry, a.store,
		catalog.WithPublisher(a.pub, cfg.Events.SubjectPrefix),
		catalog.WithPool(a.pool),
		catalog.WithLogger(logger.Named("catalog")),
	)
	srv := &api.Server{
		Catalog:       engine,
		Enums:         cat.Enums,
		StrictDefault: cfg.Catalog.StrictReferences,
		Health:        health,
		Stats:         func() map[string]any { return map[string]any{"workers": a.pool.Metrics()} },
	}
	a.router = api.NewRouter(srv, api.RouterConfig{
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		RequestTimeout: cfg.Server.RequestTimeout,
		Logger:         logger.Named("http"),
	})
	return a, nil
}

// close releases resources in reverse start order.
func (a *app) close() {
	if a.pool != nil {
		a.pool.Shutdown(5 * time.Second)
	}
	if a.pub != nil {
		if err := a.pub.Close(); err != nil {
			logger.Warn("Close publisher", zap.Error(err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logger.Warn("Close store", zap.Error(err))
		}
	}
}

func runServer(ctx context.Context, cfg *config.Config) error {
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	gin.SetMode(gin.ReleaseMode)

	logger.Info("Starting mdcatalog",
		zap.Int("port", cfg.Server.Port),
		zap.String("store", cfg.Store.Driver),
		zap.String("log_level", cfg.Log.Level),
	)

	a, err := bootstrap(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      a.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logger.Info("Server started", zap.String("addr", srv.Addr))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		logger.Info("Shutdown signal received", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	logger.Info("Shutting down server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	logger.Info("Server stopped gracefully")
	return nil
}
