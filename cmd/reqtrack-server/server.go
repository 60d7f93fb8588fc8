package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/reqtrack/reqtrack/pkg/audit"
	"github.com/reqtrack/reqtrack/pkg/authz"
	"github.com/reqtrack/reqtrack/pkg/ha"
	"github.com/reqtrack/reqtrack/pkg/notify"
	"github.com/reqtrack/reqtrack/pkg/requests"
)

// app holds the wired components of a running server.
type app struct {
	db          *gorm.DB
	workflow    *requests.Workflow
	roles       *requests.RoleStore
	resolver    *authz.CachedRoleResolver
	auditStore  *audit.Store
	auditCfg    *audit.AuditConfig
	outboxStore *notify.OutboxStore
	outboxCfg   *notify.OutboxConfig
	authCfg     authz.Config
	corsOrigins []string
	logger      *slog.Logger
	started     time.Time
}

func run(ctx context.Context, cfg *serverConfig) error {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("starting requirement request server",
		"listen", cfg.ListenAddr,
		"dbType", cfg.DatabaseType,
		"workflowConfig", cfg.WorkflowConfig)

	wfCfg, err := requests.LoadConfig(cfg.WorkflowConfig)
	if err != nil {
		glog.Fatalf("Failed to load workflow config: %v", err)
	}

	db, err := openDatabase(cfg.DatabaseType, cfg.DatabaseDSN)
	if err != nil {
		glog.Fatalf("Failed to connect to database: %v", err)
	}

	sender, closeSenders, err := deliverySenders(cfg, logger)
	if err != nil {
		glog.Fatalf("Failed to set up notification transports: %v", err)
	}
	defer closeSenders()

	a, err := newApp(ctx, db, wfCfg, sender, logger)
	if err != nil {
		glog.Fatalf("Failed to initialize server: %v", err)
	}
	a.corsOrigins = cfg.CORSOrigins

	router, err := a.routes()
	if err != nil {
		glog.Fatalf("Failed to build routes: %v", err)
	}

	var wg sync.WaitGroup
	if a.outboxCfg.Enabled {
		pool := notify.NewWorkerPool(a.outboxStore, sender, a.outboxCfg, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			pool.Run(ctx)
		}()
	}
	if a.auditCfg.Enabled {
		retention := audit.NewRetentionWorker(a.auditStore, a.auditCfg, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			retention.Run(ctx)
		}()
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			glog.Fatalf("HTTP server error: %v", err)
		}
	}()
	logger.Info("requirement request server ready", "listen", cfg.ListenAddr)

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}
	wg.Wait()

	logger.Info("requirement request server stopped")
	return nil
}

// newApp migrates the schema, seeds roles and builds the workflow. When the
// outbox is enabled, transitions enqueue notifications and the worker pool
// delivers them through sender; otherwise sender is called inline.
func newApp(ctx context.Context, db *gorm.DB, wfCfg *requests.Config, sender notify.Sender, logger *slog.Logger) (*app, error) {
	a := &app{
		db:         db,
		roles:      requests.NewRoleStore(db),
		auditStore: audit.NewStore(db),
		auditCfg:   audit.AuditConfigFromEnv(),
		outboxCfg:  notify.OutboxConfigFromEnv(),
		authCfg:    authz.ConfigFromEnv(),
		logger:     logger,
		started:    time.Now(),
	}
	a.outboxStore = notify.NewOutboxStore(db, a.outboxCfg)
	requestStore := requests.NewRequestStore(db)
	noteStore := requests.NewNoteStore(db)

	locker := ha.NewMigrationLocker(db, ha.MigrationLockConfigFromEnv())
	err := locker.WithLock(ctx, func() error {
		if err := requestStore.AutoMigrate(); err != nil {
			return fmt.Errorf("migrate request tables: %w", err)
		}
		if err := a.outboxStore.AutoMigrate(); err != nil {
			return fmt.Errorf("migrate notification outbox: %w", err)
		}
		if err := a.auditStore.AutoMigrate(); err != nil {
			return fmt.Errorf("migrate audit events: %w", err)
		}
		return a.roles.Seed(ctx, wfCfg.RoleAssignments())
	})
	if err != nil {
		return nil, err
	}

	var notifier requests.Notifier = sender
	if a.outboxCfg.Enabled {
		notifier = notify.NewOutboxSender(a.outboxStore)
	}

	a.workflow, err = requests.NewWorkflow(requests.WorkflowDeps{
		Repository: requestStore,
		Notes:      noteStore,
		Directory:  a.roles,
		Notifier:   notifier,
		Logger:     logger,
		Config:     wfCfg,
	})
	if err != nil {
		return nil, err
	}
	a.resolver = authz.NewCachedRoleResolver(authz.RoleResolverFunc(a.roles.RoleTags), a.authCfg.RoleCacheTTL)
	return a, nil
}

func (a *app) routes() (chi.Router, error) {
	extractor, err := authz.NewIdentityExtractor(a.authCfg)
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	origins := a.corsOrigins
	if len(origins) == 0 {
		origins = []string{"https://*", "http://*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "If-Match", "X-Correlation-ID", "X-Remote-User", "X-Remote-Name", "X-Remote-Group"},
		ExposedHeaders:   []string{"ETag"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", a.healthHandler)
	r.Get("/livez", a.healthHandler)
	r.Get("/readyz", a.readyHandler)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(authz.IdentityMiddleware(extractor))
		r.Use(authz.RolesMiddleware(a.resolver, a.authCfg.TrustTokenRoles, a.logger))
		if a.auditCfg.Enabled {
			r.Use(audit.AuditMiddleware(a.auditStore, a.auditCfg, a.logger))
			a.logger.Info("audit middleware enabled",
				"logDenied", a.auditCfg.LogDenied,
				"retentionDays", a.auditCfg.RetentionDays)
		}

		r.Mount("/api/requests/v1", requests.NewRouter(a.workflow, requests.RouterOptions{
			Roles:          a.roles,
			OnRolesChanged: a.resolver.Invalidate,
		}))
		r.Mount("/api/audit/v1", audit.Router(a.auditStore,
			string(requests.RoleAdministrator), string(requests.RoleComplianceOfficer)))
	})

	return r, nil
}

func (a *app) healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "alive",
		"uptime": time.Since(a.started).Round(time.Second).String(),
	})
}

func (a *app) readyHandler(w http.ResponseWriter, r *http.Request) {
	sqlDB, err := a.db.DB()
	if err == nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
