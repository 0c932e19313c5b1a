package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"golang.org/x/sync/errgroup"

	"igps/internal/config"
	"igps/internal/infrastructure"
	"igps/internal/license"
	"igps/internal/services"
	handlers "igps/internal/transport/http"
)

const (
	Version = "1.0.0"
	AppName = "IGPS Conversion Service"
)

// Application is the composition root. Everything is constructed once here
// and handed down; there is no global state besides the logger.
type Application struct {
	Config         *config.Config
	Router         *chi.Mux
	Server         *http.Server
	LicenseManager *license.Manager
	LicenseService services.LicenseService
	Logger         *slog.Logger
	OTelProviders  *infrastructure.OTelProviders
}

// NewApplication creates a new application instance with dependency injection
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	logger.Info("application starting",
		slog.String("name", AppName),
		slog.String("version", Version),
	)

	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to ensure directories: %w", err)
	}

	if !config.FileExists(cfg.Paths.StateFile) {
		logger.Info("license state file not found, starting with fresh trial",
			slog.String("path", cfg.Paths.StateFile),
		)
	}

	otelProviders, err := infrastructure.InitializeOTel(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	app := &Application{
		Config:        cfg,
		Logger:        logger,
		OTelProviders: otelProviders,
	}

	if err := app.initializeServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.setupRouter()
	app.createServer()

	return app, nil
}

// initializeServices constructs the license manager and the service layer
func (a *Application) initializeServices() error {
	manager, err := license.NewManager(a.Config.License, a.Config.Paths.StateFile, a.Config.Paths.AuditFile)
	if err != nil {
		return fmt.Errorf("failed to initialize license manager: %w", err)
	}

	metrics, err := license.NewMetrics(a.OTelProviders.Meter)
	if err != nil {
		a.Logger.Error("failed to create license metrics, continuing without",
			slog.String("error", err.Error()),
		)
	} else {
		manager.SetMetrics(metrics)
	}

	a.LicenseManager = manager
	a.LicenseService = services.NewLicenseService(manager, a.Logger)

	status := manager.Status(context.Background())
	a.Logger.Info("license state at startup",
		slog.String("state", string(status.Kind)),
		slog.String("message", status.Message()),
	)

	return nil
}

// setupRouter configures the HTTP router with all routes
func (a *Application) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", a.handleHealthz)

	// Scrape endpoint stays outside the timeout group
	if a.OTelProviders.PrometheusHTTP != nil {
		r.Handle("/metrics", a.OTelProviders.PrometheusHTTP)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.Mount("/license", handlers.NewLicenseHandler(a.LicenseService, a.Logger).Routes())
	})

	a.Router = r
}

// createServer creates the HTTP server
func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", a.Config.Server.Bind, a.Config.Server.Port),
		Handler:      a.Router,
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
		IdleTimeout:  a.Config.Server.IdleTimeout,
	}
}

func (a *Application) handleHealthz(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]any{
		"status":  "ok",
		"name":    AppName,
		"version": Version,
		"time":    time.Now().UTC(),
	})
}

// Run starts the server and blocks until a shutdown signal or server error
func (a *Application) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.Info("server listening",
			slog.String("address", a.Server.Addr),
		)
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		return a.Stop(context.Background())
	})

	return g.Wait()
}

// Stop gracefully stops the application
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.Info("shutting down application")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	if err := a.OTelProviders.Shutdown(shutdownCtx); err != nil {
		a.Logger.Warn("metrics shutdown error", slog.String("error", err.Error()))
	}

	infrastructure.CloseLogFile()
	a.Logger.Info("application stopped")
	return nil
}
