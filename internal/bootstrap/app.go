package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"insight-gateway/internal/compute"
	"insight-gateway/internal/compute/rest"
	"insight-gateway/internal/insights"
	"insight-gateway/internal/services/health"
	"insight-gateway/internal/shared/config"
	"insight-gateway/internal/shared/metrics"
	"insight-gateway/internal/shared/server"
	"insight-gateway/internal/shared/storage/artifact"
	artifactlocal "insight-gateway/internal/shared/storage/artifact/local"
	artifactmemory "insight-gateway/internal/shared/storage/artifact/memory"
)

// App holds shared dependencies for the gateway binaries.
type App struct {
	Config   config.Config
	Router   *gin.Engine
	Compute  compute.Client
	Store    artifact.Store
	Session  artifact.Store
	Insights *insights.Service
	Handler  *insights.Handler
	Health   *health.Service

	// gcStore is set only for the badger-backed store; its value-log GC
	// loop runs from cmd/gateway.
	gcStore *artifactlocal.Store
}

// Build prepares shared dependencies and wires the router.
func Build(cfg config.Config) (*App, error) {
	client := rest.New(rest.Config{
		BaseURL: cfg.Compute.BaseURL,
		Timeout: time.Duration(cfg.Compute.Timeout),
	})

	store, gcStore, err := buildArtifactStore(cfg)
	if err != nil {
		return nil, err
	}
	session := artifactmemory.Unbounded()

	registry := insights.NewRegistry()
	visibility := insights.NewVisibility(client, func(analysisID string, isActive bool) {
		// Keep the read model in step with applies and reverts alike.
		_ = registry.SetActive(context.Background(), analysisID, isActive)
	})

	svc := &insights.Service{
		Client:          client,
		Registry:        registry,
		Jobs:            insights.NewJobTracker(),
		Visibility:      visibility,
		Store:           store,
		Session:         session,
		Interval:        time.Duration(cfg.Poll.Interval),
		MaxAttempts:     cfg.Poll.MaxAttempts,
		SlotConcurrency: cfg.Poll.SlotConcurrency,
		HistoryPageSize: cfg.History.PageSize,
	}

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	app := &App{
		Config:   cfg,
		Compute:  client,
		Store:    store,
		Session:  session,
		Insights: svc,
		Handler:  insights.NewHandler(svc, time.Duration(cfg.Poll.StatusWindow)),
		Health:   health.NewService(client, store),
		gcStore:  gcStore,
	}
	app.Router = server.NewRouter(server.RouterDeps{
		Config:   cfg,
		Insights: app.Handler,
		Health:   app.Health,
	})

	return app, nil
}

func buildArtifactStore(cfg config.Config) (artifact.Store, *artifactlocal.Store, error) {
	if cfg.Artifacts.InMemory {
		return artifactmemory.New(cfg.Artifacts.CapacityBytes, cfg.Artifacts.MaxEntryBytes), nil, nil
	}
	store, err := artifactlocal.Open(artifactlocal.Config{
		Dir:           cfg.Artifacts.Dir,
		CapacityBytes: cfg.Artifacts.CapacityBytes,
		MaxEntryBytes: cfg.Artifacts.MaxEntryBytes,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("open artifact store: %w", err)
	}
	return store, store, nil
}

// RunArtifactGC runs the badger value-log GC loop until ctx is done. No-op
// when the store is in-memory.
func (a *App) RunArtifactGC(ctx context.Context) {
	if a.gcStore == nil {
		return
	}
	a.gcStore.RunGC(ctx, time.Duration(a.Config.Artifacts.GCInterval))
}

// Close releases the artifact stores.
func (a *App) Close() error {
	var firstErr error
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			firstErr = err
		}
	}
	if a.Session != nil {
		if err := a.Session.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
