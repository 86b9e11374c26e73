// Package main is the entry point for the projectbrowser server and CLI
package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"projectbrowser/internal/activation"
	"projectbrowser/internal/cache"
	"projectbrowser/internal/catalog"
	"projectbrowser/internal/cli"
	"projectbrowser/internal/command"
	"projectbrowser/internal/config"
	"projectbrowser/internal/database"
	"projectbrowser/internal/installer"
	"projectbrowser/internal/keyvalue"
	"projectbrowser/internal/logging"
	"projectbrowser/internal/progress"
	"projectbrowser/internal/server"
	"projectbrowser/internal/stage"
	"projectbrowser/internal/systemcheck"
	"projectbrowser/internal/telemetry"
	"projectbrowser/internal/worker"
)

// Source ids, also the suffix of each source's storage collection.
const (
	remoteSourceID = "remote"
	localSourceID  = "local"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	// Load .env file if it exists (for development)
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(stderr, "Warning: failed to load .env: %v\n", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Version and hash-token need no configuration or database.
	if len(args) > 0 {
		switch args[0] {
		case "version", "--version":
			return cli.ExecuteContext(ctx, []string{"version"}, cli.NewManagerAdapter(cli.Services{}), stdout, stderr)
		case "hash-token":
			return cli.ExecuteContext(ctx, args, cli.NewManagerAdapter(cli.Services{}), stdout, stderr)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load configuration: %v\n", err)
		return cli.ExitRuntimeError
	}

	if err := logging.Initialize(cfg.LogDir, cfg.LogLevel); err != nil {
		fmt.Fprintf(stderr, "Warning: failed to initialize file logging: %v\n", err)
	}
	defer func() { _ = logging.Close() }()
	logging.Debugf("Loaded configuration: %s", cfg)

	if telemetry.Enabled() {
		shutdown, err := telemetry.Initialize(ctx)
		if err != nil {
			logging.Warnf("Failed to initialize telemetry: %v", err)
		} else {
			defer func() {
				if err := shutdown(context.WithoutCancel(ctx)); err != nil {
					logging.Errorf("Error shutting down telemetry: %v", err)
				}
			}()
		}
	}

	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to initialize database: %v\n", err)
		return cli.ExitRuntimeError
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Errorf("Failed to close database: %v", err)
		}
	}()

	services, cleanup, err := wire(cfg, db)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to start: %v\n", err)
		return cli.ExitRuntimeError
	}
	defer cleanup()

	return cli.ExecuteContext(ctx, args, cli.NewManagerAdapter(services), stdout, stderr)
}

// wire builds every collaborator from configuration. The returned cleanup
// releases in-memory caches.
func wire(cfg *config.Config, db *sql.DB) (cli.Services, func(), error) {
	kv := keyvalue.NewFactory(db)
	cleanup := func() {}

	var storage catalog.StorageFactory
	switch cfg.CacheBackend {
	case config.CacheBackendMemory:
		// Entries carry their own expiry; stored projects must not expire.
		pool := cache.NewPool(0)
		storage = func(collection string) catalog.Storage { return pool.Get(collection) }
		cleanup = pool.Close
	default:
		storage = func(collection string) catalog.Storage { return kv.Get(collection) }
	}

	sources, err := buildSources(cfg)
	if err != nil {
		cleanup()
		return cli.Services{}, nil, err
	}
	catalogHandler := catalog.NewEnabledSourceHandler(storage, cfg.CacheTTL, sources...)

	drushRunner := command.ExecRunner{}
	activator := activation.NewManager(
		activation.NewRecipeActivator(cfg.DrushBinary, cfg.ProjectRoot, drushRunner, kv.Get(activation.AppliedCollection)),
		activation.NewModuleActivator(cfg.DrushBinary, cfg.ProjectRoot, drushRunner),
	)

	stages := stage.NewManager(db, stage.Options{
		Owner:          cfg.LockOwner,
		ProjectRoot:    cfg.ProjectRoot,
		StagingRoot:    cfg.StagingRoot,
		ComposerBinary: cfg.ComposerBinary,
	})
	tracker := progress.NewTracker(kv.Get(progress.Collection))
	checker := systemcheck.NewRunner(cfg)
	inst := installer.New(stages, tracker, catalogHandler, activator, checker)

	srv, err := server.New(cfg, server.Deps{
		DB:        db,
		Installer: inst,
		Catalog:   catalogHandler,
		Status:    activator,
		Checker:   checker,
	})
	if err != nil {
		cleanup()
		return cli.Services{}, nil, err
	}

	w := worker.New()
	if err := worker.RegisterMaintenance(w, cfg.GCSchedule, kv, cfg.CacheClearSchedule, catalogHandler); err != nil {
		cleanup()
		return cli.Services{}, nil, err
	}

	return cli.Services{
		Installer: inst,
		Catalog:   catalogHandler,
		Checker:   checker,
		Server:    srv,
		Worker:    w,
	}, cleanup, nil
}

func buildSources(cfg *config.Config) ([]catalog.Source, error) {
	var sources []catalog.Source
	if cfg.CatalogURL != "" {
		sources = append(sources, catalog.NewHTTPSource(remoteSourceID, "Remote catalog", cfg.CatalogURL, nil))
	}
	if cfg.CatalogFile != "" {
		local, err := catalog.LoadYAMLSource(localSourceID, cfg.CatalogFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load catalog file: %w", err)
		}
		sources = append(sources, local)
	}
	if len(sources) == 0 {
		logging.Warnf("No catalog sources configured; set catalog_url or catalog_file")
	}
	return sources, nil
}
