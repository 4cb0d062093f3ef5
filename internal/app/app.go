// Package app provides application initialization and lifecycle management.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/bissquit/status-dashboard/internal/availability"
	"github.com/bissquit/status-dashboard/internal/catalog"
	catalogpostgres "github.com/bissquit/status-dashboard/internal/catalog/postgres"
	"github.com/bissquit/status-dashboard/internal/config"
	"github.com/bissquit/status-dashboard/internal/identity"
	"github.com/bissquit/status-dashboard/internal/incidents"
	incidentspostgres "github.com/bissquit/status-dashboard/internal/incidents/postgres"
	"github.com/bissquit/status-dashboard/internal/notifications"
	notificationsredis "github.com/bissquit/status-dashboard/internal/notifications/redis"
	"github.com/bissquit/status-dashboard/internal/pkg/ctxlog"
	"github.com/bissquit/status-dashboard/internal/pkg/httputil"
	"github.com/bissquit/status-dashboard/internal/pkg/metrics"
	"github.com/bissquit/status-dashboard/internal/pkg/postgres"
	"github.com/bissquit/status-dashboard/internal/version"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const rateLimiterIdle = 10 * time.Minute

// App represents the application instance.
type App struct {
	config        *config.Config
	logger        *slog.Logger
	db            *pgxpool.Pool
	server        *http.Server
	metricsServer *http.Server
	metricsCancel context.CancelFunc
	closers       []io.Closer
	notifier      *notifications.Worker

	engine   *incidents.Engine
	resolver *catalog.Resolver
}

// New creates a new application instance.
func New(cfg *config.Config) (*App, error) {
	logger := initLogger(cfg.Log)

	connectCtx, connectCancel := context.WithTimeout(context.Background(), cfg.Database.ConnectTimeout)
	defer connectCancel()

	db, err := postgres.Connect(connectCtx, postgres.Config{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnectAttempts: cfg.Database.ConnectAttempts,
		LockTimeout:     cfg.Database.LockTimeout,
		ApplicationName: "status-dashboard",
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	metricsCtx, metricsCancel := context.WithCancel(context.Background())

	app := &App{
		config:        cfg,
		logger:        logger,
		db:            db,
		metricsCancel: metricsCancel,
	}

	go metrics.CollectDBPoolMetrics(metricsCtx, db, 15*time.Second)

	router, err := app.setupRouter(connectCtx)
	if err != nil {
		app.closeAll()
		db.Close()
		metricsCancel()
		return nil, fmt.Errorf("setup router: %w", err)
	}

	app.notifier.Start(context.Background())

	app.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	// Metrics server on separate port
	metricsRouter := chi.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.Handler())

	app.metricsServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           metricsRouter,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return app, nil
}

// Run starts the HTTP servers.
func (a *App) Run() error {
	go func() {
		a.logger.Info("starting metrics server",
			"host", a.config.Server.Host,
			"port", a.config.Server.MetricsPort,
		)
		if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("metrics server error", "error", err)
		}
	}()

	a.logger.Info("starting server",
		"host", a.config.Server.Host,
		"port", a.config.Server.Port,
		"version", version.Version,
	)

	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the application.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down servers")

	a.metricsCancel()

	var wg sync.WaitGroup
	var errs []error
	var mu sync.Mutex

	wg.Add(2)

	go func() {
		defer wg.Done()
		if err := a.server.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown server: %w", err))
			mu.Unlock()
		}
	}()

	go func() {
		defer wg.Done()
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown metrics server: %w", err))
			mu.Unlock()
		}
	}()

	wg.Wait()

	// Queued transitions are delivered before the publishers close.
	if err := a.notifier.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop notification worker: %w", err))
	}
	errs = append(errs, a.closeAll())
	a.db.Close()

	return errors.Join(errs...)
}

func (a *App) closeAll() error {
	var errs []error
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Router returns the HTTP handler for testing.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

// Engine returns the reconciliation engine.
func (a *App) Engine() *incidents.Engine {
	return a.engine
}

// Resolver returns the component resolver.
func (a *App) Resolver() *catalog.Resolver {
	return a.resolver
}

func (a *App) setupRouter(ctx context.Context) (*chi.Mux, error) {
	r := chi.NewRouter()

	// Metrics middleware must be first to measure full request time
	r.Use(httputil.MetricsMiddleware)

	// CORS must be early to handle preflight requests before other middleware
	r.Use(httputil.CORSMiddleware(a.config.CORS.AllowedOrigins))
	r.Use(middleware.RequestID)
	r.Use(httputil.RequestLoggerMiddleware(a.logger))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(a.config.Server.RequestTimeout))

	r.Get("/healthz", a.healthzHandler)
	r.Get("/readyz", a.readyzHandler)
	r.Get("/version", a.versionHandler)

	r.Get("/api/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-yaml")
		http.ServeFile(w, r, "api/openapi/openapi.yaml")
	})

	r.Get("/docs", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<!DOCTYPE html>
<html>
<head>
    <title>Status Dashboard API</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
</head>
<body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
    <script>
        SwaggerUIBundle({
            url: "/api/openapi.yaml",
            dom_id: '#swagger-ui',
            presets: [SwaggerUIBundle.presets.apis, SwaggerUIBundle.SwaggerUIStandalonePreset],
            layout: "BaseLayout"
        });
    </script>
</body>
</html>`))
	})

	if err := a.setupNotifier(ctx); err != nil {
		return nil, err
	}

	impacts := a.config.ImpactSet()

	a.resolver = catalog.NewResolver(catalogpostgres.NewRepository(a.db))
	incidentsRepo := incidentspostgres.NewRepository(a.db)

	a.engine = incidents.NewEngine(incidentsRepo, a.resolver, incidents.Config{
		Impacts:            impacts,
		Statuses:           a.config.Statuses,
		MaxConflictRetries: a.config.Reconciliation.MaxConflictRetries,
	}, incidents.WithNotifier(a.notifier))

	calculator := availability.NewCalculator(incidentsRepo, availability.Config{
		Impacts:   impacts,
		MaxMonths: a.config.Availability.MaxMonths,
	})

	authenticator, err := identity.NewAuthenticator(identity.Config{
		SecretKey:     a.config.Auth.SecretKey,
		AllowedUsers:  a.config.Auth.AllowedUsers,
		TokenDuration: a.config.Auth.TokenDuration,
	})
	if err != nil {
		return nil, fmt.Errorf("create authenticator: %w", err)
	}

	catalogHandler := catalog.NewHandler(a.resolver, a.engine)
	incidentsHandler := incidents.NewHandler(a.engine)
	availabilityHandler := availability.NewHandler(calculator, a.resolver, a.config.Availability.DefaultMonths)

	r.Route("/api/v1", func(r chi.Router) {
		catalogHandler.RegisterRoutes(r)
		incidentsHandler.RegisterRoutes(r)
		availabilityHandler.RegisterRoutes(r)

		r.Group(func(r chi.Router) {
			if a.config.RateLimit.Enabled {
				limiter := httputil.NewRateLimiter(a.config.RateLimit.RPS, a.config.RateLimit.Burst, rateLimiterIdle)
				r.Use(limiter.Middleware)
			}
			r.Use(httputil.AuthMiddleware(authenticator))

			incidentsHandler.RegisterWriteRoutes(r)
		})
	})

	return r, nil
}

func (a *App) setupNotifier(ctx context.Context) error {
	cfg := a.config.Notifications

	publishers := []notifications.Publisher{notifications.NewLogPublisher(a.logger)}

	a.logger.Info("notifications configured",
		"redis_enabled", cfg.Enabled,
		"channel", cfg.Channel,
	)

	if cfg.Enabled {
		publisher, err := notificationsredis.NewPublisher(ctx, notificationsredis.Config{
			URL:     cfg.RedisURL,
			Channel: cfg.Channel,
		})
		if err != nil {
			return fmt.Errorf("create redis publisher: %w", err)
		}
		a.closers = append(a.closers, publisher)
		publishers = append(publishers, publisher)
	}

	dispatcher := notifications.NewDispatcher(notifications.DispatcherConfig{
		Timeout:     cfg.PublishTimeout,
		MaxAttempts: cfg.MaxAttempts,
	}, publishers...)
	a.notifier = notifications.NewWorker(notifications.WorkerConfig{QueueSize: cfg.QueueSize}, dispatcher)
	return nil
}

func (a *App) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.db.Ping(ctx); err != nil {
		ctxlog.FromContext(r.Context()).Error("readiness check failed", "error", err)
		httputil.Text(w, http.StatusServiceUnavailable, "Database unavailable")
		return
	}

	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) versionHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, map[string]string{
		"version":    version.Version,
		"commit":     version.GitCommit,
		"build_date": version.BuildDate,
	})
}

// NewLogger builds the process logger from configuration.
func NewLogger(cfg config.LogConfig) *slog.Logger {
	return initLogger(cfg)
}

func initLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
