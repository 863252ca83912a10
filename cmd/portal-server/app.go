package main

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/labportal/portal/internal/config"
	"github.com/labportal/portal/internal/domain/accesslog"
	"github.com/labportal/portal/internal/domain/labconfig"
	"github.com/labportal/portal/internal/domain/logo"
	"github.com/labportal/portal/internal/domain/portal"
	"github.com/labportal/portal/internal/domain/registry"
	"github.com/labportal/portal/internal/domain/results"
	"github.com/labportal/portal/internal/platform/auth"
	"github.com/labportal/portal/internal/platform/blobstore"
	"github.com/labportal/portal/internal/platform/db"
	"github.com/labportal/portal/internal/platform/drive"
	"github.com/labportal/portal/internal/platform/google"
	"github.com/labportal/portal/internal/platform/metrics"
	"github.com/labportal/portal/internal/platform/sheets"
)

// app holds the wired collaborators shared by serve and the lab commands.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger

	files    drive.FileStore
	sheets   sheets.Client
	registry *registry.SheetStore
	labs     *labconfig.Provider
	logos    *logo.Resolver
	// snapshotPing checks the postgres or redis snapshot store.
	snapshotPing db.Pinger

	promRegistry *prometheus.Registry
	metrics      *metrics.Metrics

	closers []func() error
}

func buildApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	a.promRegistry = prometheus.NewRegistry()
	a.promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = metrics.New(a.promRegistry)

	factory := google.NewFactory(cfg.ServiceAccountJSON)
	clients, err := factory.Clients(ctx)
	if err != nil {
		return nil, fmt.Errorf("google clients: %w", err)
	}
	logger.Info().Str("service_account", clients.ServiceAccountEmail).Msg("google clients ready")

	a.files = drive.NewGoogleStore(clients.Drive)
	a.sheets = sheets.NewGoogleClient(clients.Sheets)
	a.registry = registry.NewSheetStore(a.sheets, cfg.RegistrySheetID, cfg.RegistrySheetTab)

	opts := blobstore.Options{
		Backend:  cfg.SnapshotBackend,
		Name:     cfg.RegistryBlobsStore,
		RedisURL: cfg.RedisURL,
		S3: blobstore.S3Config{
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			PathStyle: cfg.S3PathStyle,
		},
	}
	switch cfg.SnapshotBackend {
	case blobstore.BackendGCS:
		ts, err := factory.TokenSource(storage.ScopeReadWrite)
		if err != nil {
			return nil, fmt.Errorf("gcs credentials: %w", err)
		}
		opts.TokenSource = ts
	case blobstore.BackendPostgres:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, err
		}
		a.snapshotPing = pool
		a.closers = append(a.closers, func() error { pool.Close(); return nil })
		opts.Postgres = pool
		logger.Info().Msg("connected to snapshot database")
	}

	store, closeStore, err := blobstore.Open(ctx, opts)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("snapshot store: %w", err)
	}
	a.closers = append(a.closers, closeStore)
	if pinger, ok := store.(db.Pinger); ok && a.snapshotPing == nil {
		a.snapshotPing = pinger
	}

	var snapshots labconfig.Snapshots
	if cfg.SnapshotBackend != blobstore.BackendNone {
		snapshots = labconfig.NewBlobSnapshots(store)
	}
	a.labs = labconfig.NewProvider(a.registry, snapshots, labconfig.Options{
		TTL:               cfg.CacheTTL(),
		ValidateSnapshots: cfg.SnapshotValidate,
		Logger:            logger,
		Metrics:           a.metrics,
	})
	a.logos = logo.NewResolver(a.files, cfg.LogoCacheTTL(), nil)
	return a, nil
}

// serverOptions wires the HTTP-facing services on top of the app.
func (a *app) serverOptions() serverOptions {
	opts := serverOptions{
		Config: a.cfg,
		Logger: a.logger,
		Portal: portal.Deps{
			Labs:      a.labs,
			Logos:     a.logos,
			Results:   results.NewService(a.files, a.metrics),
			AccessLog: accesslog.NewWriter(a.sheets, a.cfg.LabLogTabName, a.logger, a.metrics),
			Admin: auth.NewAuthenticator(auth.AdminConfig{
				Token:     a.cfg.RegistryAdminToken,
				JWTSecret: []byte(a.cfg.AdminJWTSecret),
				Issuer:    a.cfg.AdminJWTIssuer,
			}),
			Logger: a.logger,
		},
		Metrics:  a.metrics,
		Gatherer: a.promRegistry,
	}
	if a.snapshotPing != nil {
		opts.DB = a.snapshotPing
		opts.DBStore = a.cfg.SnapshotBackend
	}
	return opts
}

// startCleanup sweeps expired lab and logo cache entries until ctx is done.
func (a *app) startCleanup(ctx context.Context) {
	a.labs.StartCleanup(ctx, a.cfg.CacheTTL())
	a.logos.StartCleanup(ctx, a.cfg.LogoCacheTTL())
}

// Close releases backend resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn().Err(err).Msg("close failed")
		}
	}
	a.closers = nil
}
