package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"driveadmin-go/internal/auth"
	"driveadmin-go/internal/config"
	"driveadmin-go/internal/drive"
	"driveadmin-go/internal/session"
	"driveadmin-go/internal/storage"
	"driveadmin-go/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Application holds all the major components of the service.
type Application struct {
	Config        *config.Config
	Logger        *log.Logger
	Storage       *storage.SQLiteStorage
	Credentials   *storage.CredentialStore
	Auth          *auth.Manager
	Coordinator   *auth.Coordinator
	Accessor      *auth.Accessor
	Drive         *drive.Service
	SessionStore  session.Store
	WorkerPool    *worker.Pool
	Sweeper       *auth.RefreshSweeper
	HttpServer    *http.Server
	MetricsServer *http.Server

	sweepCancel context.CancelFunc
}

// New creates and initializes a new Application instance.
func New(cfg *config.Config) (*Application, error) {
	logger := log.New(os.Stdout, "driveadmin: ", log.LstdFlags)

	// Setup: Database
	dbConfig := storage.DefaultConfig()
	dbConfig.Path = cfg.DBPath
	store, err := storage.Open(dbConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := store.Migrate(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	// Setup: Credential store
	credentials, err := storage.NewCredentialStore(store, []byte(cfg.EncryptionKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create credential store: %w", err)
	}

	// Setup: Auth Manager
	stateStore := auth.NewInMemoryStateStore()
	manager, err := auth.NewManager(auth.Config{
		ClientID:     cfg.Auth.ClientID,
		ClientSecret: cfg.Auth.ClientSecret,
		RedirectURL:  cfg.Auth.RedirectURL,
		Scopes:       cfg.Auth.Scopes,
	}, credentials, stateStore, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create auth manager: %w", err)
	}

	// Setup: Refresh Coordinator and Accessor
	coordinator := auth.NewCoordinator(credentials, manager.Exchanger(), cfg.Refresh.Margin.Duration, logger)
	accessor := auth.NewAccessor(coordinator)

	// Setup: Drive service
	driveService := drive.NewService(accessor, logger)

	// Setup: WorkerPool and background refresh sweeper
	pool := worker.NewPool(cfg.NumWorkers, 32, 3)
	sweeper := auth.NewRefreshSweeper(credentials, coordinator, pool,
		cfg.Refresh.SweepInterval.Duration, cfg.Refresh.SweepLookahead.Duration, logger)

	// Setup: Session Store
	sessionStore := session.NewInMemoryStore()

	// Setup: HTTP Server for metrics
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler: metricsMux,
	}

	// Setup: Main HTTP Server
	httpMux := http.NewServeMux()
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: httpMux,
	}

	app := &Application{
		Config:        cfg,
		Logger:        logger,
		Storage:       store,
		Credentials:   credentials,
		Auth:          manager,
		Coordinator:   coordinator,
		Accessor:      accessor,
		Drive:         driveService,
		SessionStore:  sessionStore,
		WorkerPool:    pool,
		Sweeper:       sweeper,
		HttpServer:    httpServer,
		MetricsServer: metricsServer,
	}

	// Register HTTP handlers
	httpMux.HandleFunc("/login", app.handleLogin)
	httpMux.HandleFunc("/logout", app.handleLogout)
	httpMux.HandleFunc("/auth/callback", app.handleAuthCallback)

	// Protected routes
	httpMux.Handle("/dashboard", app.requireAuth(http.HandlerFunc(app.handleDashboard)))
	httpMux.Handle("/api/auth/url", app.requireAuth(http.HandlerFunc(app.handleAuthURL)))
	httpMux.Handle("/api/auth/disconnect", app.requireAuth(http.HandlerFunc(app.handleDisconnect)))
	httpMux.Handle("/api/drive/about", app.requireAuth(http.HandlerFunc(app.handleDriveAbout)))
	httpMux.Handle("/", app.requireAuth(http.RedirectHandler("/dashboard", http.StatusTemporaryRedirect)))

	return app, nil
}

// Start begins the application's services.
func (a *Application) Start(ctx context.Context) error {
	a.Logger.Println("Starting application services...")

	a.WorkerPool.Start()
	a.Logger.Println("Worker pool started.")

	sweepCtx, cancel := context.WithCancel(context.Background())
	a.sweepCancel = cancel
	go a.Sweeper.Run(sweepCtx)
	a.Logger.Println("Refresh sweeper started.")

	go func() {
		a.Logger.Printf("Starting metrics server on %s", a.MetricsServer.Addr)
		if err := a.MetricsServer.ListenAndServe(); err != http.ErrServerClosed {
			a.Logger.Fatalf("Metrics server ListenAndServe: %v", err)
		}
	}()

	go func() {
		a.Logger.Printf("Starting HTTP server on %s", a.HttpServer.Addr)
		if err := a.HttpServer.ListenAndServe(); err != http.ErrServerClosed {
			a.Logger.Fatalf("HTTP server ListenAndServe: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the application's services.
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.Println("Stopping application services...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := a.HttpServer.Shutdown(shutdownCtx); err != nil {
		a.Logger.Printf("HTTP server shutdown error: %v", err)
	}
	if err := a.MetricsServer.Shutdown(shutdownCtx); err != nil {
		a.Logger.Printf("Metrics server shutdown error: %v", err)
	}

	if a.sweepCancel != nil {
		a.sweepCancel()
	}
	a.Logger.Println("Refresh sweeper stopped.")

	a.WorkerPool.Stop()
	a.Logger.Println("Worker pool stopped.")

	if err := a.Storage.Close(); err != nil {
		a.Logger.Printf("Error closing database: %v", err)
	}

	a.Logger.Println("Application stopped gracefully.")
	return nil
}
