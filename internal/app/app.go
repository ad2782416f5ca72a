// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 stevedore contributors
// https://github.com/stevedore-io/stevedore

// Package app wires the daemon together: configuration, storage, object
// store, services, orchestrator, scheduler and the API server.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/stevedore-io/stevedore/internal/api"
	"github.com/stevedore-io/stevedore/internal/api/handlers"
	"github.com/stevedore-io/stevedore/internal/dispatcher"
	"github.com/stevedore-io/stevedore/internal/observability"
	"github.com/stevedore-io/stevedore/internal/pkg/filters"
	"github.com/stevedore-io/stevedore/internal/pkg/logger"
	"github.com/stevedore-io/stevedore/internal/repository/postgres"
	"github.com/stevedore-io/stevedore/internal/runtime"
	"github.com/stevedore-io/stevedore/internal/scheduler"
	"github.com/stevedore-io/stevedore/internal/scheduler/workers"
	containersvc "github.com/stevedore-io/stevedore/internal/services/container"
	imagesvc "github.com/stevedore-io/stevedore/internal/services/image"
	networksvc "github.com/stevedore-io/stevedore/internal/services/network"
	prunesvc "github.com/stevedore-io/stevedore/internal/services/prune"
	swarmsvc "github.com/stevedore-io/stevedore/internal/services/swarm"
	volumesvc "github.com/stevedore-io/stevedore/internal/services/volume"
	"github.com/stevedore-io/stevedore/internal/storage"
)

// Version information, injected at build time via -ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = ""
)

// Application owns every daemon subsystem.
type Application struct {
	Config *Config
	Logger *logger.Logger

	DB     *postgres.DB
	Driver storage.Driver
	Layers *storage.LayerStore

	NATS      *dispatcher.Client
	Collector *observability.Collector

	Containers *containersvc.Service
	Images     *imagesvc.Service
	Volumes    *volumesvc.Service
	Networks   *networksvc.Service
	Pruner     *prunesvc.Service
	Swarm      *swarmsvc.Service

	Scheduler *scheduler.Scheduler
	Server    *api.Server

	agent            *dispatcher.Agent
	cancelBackground context.CancelFunc
}

// Run loads configuration, bootstraps the daemon and blocks until a
// termination signal arrives.
func Run(cfgFile string, flags *pflag.FlagSet) error {
	cfg, err := LoadConfig(cfgFile, flags)
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer log.Sync()

	app := &Application{Config: cfg, Logger: log}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := app.Bootstrap(ctx); err != nil {
		return err
	}

	reloader := NewReloader(cfgFile, cfg, app.applyReload, log)
	go func() {
		if err := reloader.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("config reloader stopped", "error", err)
		}
	}()

	log.Info("daemon started",
		"version", Version,
		"driver", app.Driver.Name(),
		"data_root", cfg.DataRoot,
	)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	log.Info("shutting down", "signal", s.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Engine.ShutdownTimeout)
	defer shutdownCancel()
	return app.Shutdown(shutdownCtx)
}

// Bootstrap brings up every subsystem in dependency order: object store,
// storage driver, services, cluster, dispatcher, orchestrator, scheduler
// and finally the API server.
func (app *Application) Bootstrap(ctx context.Context) error {
	cfg := app.Config
	log := app.Logger

	// Object store.
	db, err := postgres.New(ctx, cfg.Database.URL, postgres.Options{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	})
	if err != nil {
		return fmt.Errorf("connect object store: %w", err)
	}
	app.DB = db
	if err := postgres.Migrate(ctx, db); err != nil {
		return fmt.Errorf("migrate object store: %w", err)
	}

	// Storage driver. Invalid driver or options are fatal before any
	// store opens.
	driver, err := storage.New(cfg.Storage.Driver, filepath.Join(cfg.DataRoot, "graph"), cfg.Storage.Opts, log)
	if err != nil {
		return err
	}
	app.Driver = driver
	app.Layers = storage.NewLayerStore(driver, log)

	app.Collector = observability.NewCollector()

	// Repositories.
	containerRepo := postgres.NewContainerRepository(db)
	imageRepo := postgres.NewImageRepository(db)
	networkRepo := postgres.NewNetworkRepository(db)
	volumeRepo := postgres.NewVolumeRepository(db)
	serviceRepo := postgres.NewServiceRepository(db)
	taskRepo := postgres.NewTaskRepository(db)
	nodeRepo := postgres.NewNodeRepository(db)
	eventRepo := postgres.NewEventRepository(db)

	// Resource services.
	app.Volumes = volumesvc.NewService(volumeRepo, cfg.DataRoot, log)
	app.Networks = networksvc.NewService(networkRepo, log)
	if err := app.Networks.EnsureBuiltin(ctx); err != nil {
		return fmt.Errorf("create builtin networks: %w", err)
	}

	rt := runtime.NewHostRuntime(log)
	app.Containers = containersvc.NewService(
		containerRepo,
		imageRepo,
		app.Layers,
		app.Volumes,
		app.Networks,
		rt,
		eventRepo,
		containersvc.DefaultConfig(),
		log,
	)

	var transport imagesvc.Transport
	if cfg.Registry.URL != "" {
		transport = imagesvc.NewRegistryTransport(cfg.Registry.URL)
	}
	app.Images = imagesvc.NewService(imageRepo, containerRepo, app.Layers, transport, imagesvc.ServiceConfig{
		MaxConcurrentDownloads: cfg.Engine.MaxConcurrentDownloads,
		MaxConcurrentUploads:   cfg.Engine.MaxConcurrentUploads,
	}, log)

	app.Pruner = prunesvc.NewService(app.Containers, app.Images, app.Volumes, app.Networks, log)

	// Cluster + orchestrator. Dispatch stays in-process unless NATS is
	// configured.
	cluster, err := swarmsvc.NewCluster(nodeRepo, cfg.DataRoot, log)
	if err != nil {
		return fmt.Errorf("load cluster state: %w", err)
	}

	var disp swarmsvc.Dispatcher
	local := dispatcher.NewLocal(app.Containers, log)
	if cfg.NATS.URL != "" {
		clientCfg := dispatcher.DefaultClientConfig()
		clientCfg.URL = cfg.NATS.URL
		clientCfg.Token = cfg.NATS.Token
		clientCfg.Username = cfg.NATS.Username
		clientCfg.Password = cfg.NATS.Password
		clientCfg.MaxReconnects = cfg.NATS.MaxReconnects
		clientCfg.ReconnectWait = cfg.NATS.ReconnectWait
		client := dispatcher.NewClient(clientCfg, log)
		if err := client.Connect(); err != nil {
			return fmt.Errorf("connect task transport: %w", err)
		}
		app.NATS = client
		disp = dispatcher.NewRemote(client, log)

		// This node also executes its own assignments over the bus.
		// Joining a swarm later requires a restart to pick up the node
		// identity.
		if nodeID, err := cluster.NodeID(); err == nil {
			app.agent = dispatcher.NewAgent(client, local, nodeID.String(), log)
			if err := app.agent.Start(ctx); err != nil {
				return fmt.Errorf("start task agent: %w", err)
			}
		} else {
			log.Info("task agent idle until node joins a swarm")
		}
	} else {
		disp = local
	}

	app.Swarm = swarmsvc.NewService(serviceRepo, taskRepo, nodeRepo, cluster, disp, eventRepo, swarmsvc.ServiceConfig{
		ReconcileInterval: cfg.Swarm.ReconcileInterval,
	}, log)

	// Background loops: reconciler and restore.
	bgCtx, bgCancel := context.WithCancel(context.Background())
	app.cancelBackground = bgCancel
	go app.Swarm.Reconciler().Run(bgCtx)

	if err := app.Containers.Restore(ctx); err != nil {
		log.Error("container restore failed", "error", err)
	}

	// Maintenance scheduler.
	if err := app.startScheduler(ctx); err != nil {
		return err
	}

	// API server last, so every handler dependency is live before the
	// socket answers.
	return app.startServer()
}

// startScheduler registers and schedules the maintenance workers.
func (app *Application) startScheduler(ctx context.Context) error {
	cfg := app.Config
	sched := scheduler.New(scheduler.DefaultConfig(), app.Logger)
	app.Scheduler = sched

	workers.RegisterDefaultWorkers(sched.Registry(), &workers.Dependencies{
		Reconciler:     app.Swarm.Reconciler(),
		TaskReaper:     postgres.NewTaskRepository(app.DB),
		EventTrimmer:   postgres.NewEventRepository(app.DB),
		ImagePruner:    app.Pruner,
		TaskRetention:  cfg.Swarm.TaskRetention,
		EventRetention: cfg.Swarm.EventRetention,
		Logger:         app.Logger,
	})

	schedules := map[string]string{
		"reconcile_sync": "*/5 * * * *",
		"task_reaper":    "17 * * * *",
		"event_trim":     "0 3 * * *",
		"image_gc":       "30 4 * * *",
	}
	for name, spec := range schedules {
		if err := sched.Schedule(spec, name); err != nil {
			return fmt.Errorf("schedule %s: %w", name, err)
		}
	}
	return sched.Start(ctx)
}

// startServer assembles the handlers and opens the listeners.
func (app *Application) startServer() error {
	cfg := app.Config
	log := app.Logger

	system := handlers.NewSystemHandler(Version, Commit, BuildTime, log)
	system.SetStorageInfo(app.Driver.Name(), app.Driver.Status)
	system.SetDataDir(cfg.DataRoot)
	system.SetDiskUsageLister(handlers.DiskUsageLister{
		Containers: app.Containers,
		Images:     app.Images,
		Volumes:    app.Volumes,
	})
	system.SetEventStreamer(postgres.NewEventRepository(app.DB))
	system.SetSwarmInfo(app.Swarm.Cluster())
	system.RegisterHealthChecker("database", dbHealth{app.DB})

	h := &api.Handlers{
		System:    system,
		WebSocket: handlers.NewWebSocketHandler(postgres.NewEventRepository(app.DB), log),
		Container: handlers.NewContainerHandler(app.Containers, app.Pruner, log),
		Image:     handlers.NewImageHandler(app.Images, app.Pruner, log),
		Volume:    handlers.NewVolumeHandler(app.Volumes, app.Pruner, log),
		Network:   handlers.NewNetworkHandler(app.Networks, app.Pruner, log),
		Service:   handlers.NewServiceHandler(app.Swarm, log),
		Swarm:     handlers.NewSwarmHandler(app.Swarm.Cluster(), log),
		Prune:     handlers.NewPruneHandler(app.Pruner, log),
	}

	serverCfg := api.DefaultServerConfig()
	serverCfg.SocketPath = cfg.Listen.Socket
	serverCfg.TCPAddr = cfg.Listen.TCP
	serverCfg.ShutdownTimeout = cfg.Engine.ShutdownTimeout
	serverCfg.RouterConfig.Logger = log.Named("http")
	serverCfg.RouterConfig.Collector = app.Collector
	serverCfg.RouterConfig.MetricsEnabled = cfg.Metrics.Enabled
	serverCfg.RouterConfig.MetricsPath = cfg.Metrics.Path

	app.Server = api.NewServer(serverCfg, h, log)
	return app.Server.Start()
}

// applyReload pushes accepted config changes into live components.
func (app *Application) applyReload(old, next *Config) {
	app.Config = next
	if old.Logging.Level != next.Logging.Level {
		if err := app.Logger.SetLevel(next.Logging.Level); err != nil {
			app.Logger.Error("failed to apply new log level", "level", next.Logging.Level, "error", err)
		}
	}
	// Concurrency and retention changes take effect on the next pull or
	// scheduler pass respectively; the services read them per operation.
}

// Shutdown stops subsystems in reverse bootstrap order within ctx's
// deadline.
func (app *Application) Shutdown(ctx context.Context) error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if app.Server != nil {
		keep(app.Server.Shutdown(ctx))
	}
	if !app.Config.Engine.LiveRestore && app.Containers != nil {
		app.stopAllContainers(ctx)
	}
	if app.Scheduler != nil {
		app.Scheduler.Stop()
	}
	if app.cancelBackground != nil {
		app.cancelBackground()
	}
	if app.agent != nil {
		app.agent.Stop()
	}
	if app.NATS != nil {
		app.NATS.Close()
	}
	if app.Driver != nil {
		keep(app.Driver.Cleanup())
	}
	if app.DB != nil {
		app.DB.Close()
	}
	return firstErr
}

// stopAllContainers stops every running container before the daemon
// exits. Skipped when live restore is enabled, in which case workloads
// outlive the daemon and are re-attached on the next boot.
func (app *Application) stopAllContainers(ctx context.Context) {
	running, err := app.Containers.List(ctx, filters.NewArgs(), false)
	if err != nil {
		app.Logger.Error("list containers for shutdown", "error", err)
		return
	}
	var wg sync.WaitGroup
	for _, c := range running {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := app.Containers.Stop(ctx, id, nil); err != nil {
				app.Logger.Warn("stop container on shutdown", "id", id, "error", err)
			}
		}(c.ID)
	}
	wg.Wait()
}

// dbHealth adapts the connection pool to the health-check interface.
type dbHealth struct {
	db *postgres.DB
}

func (h dbHealth) HealthCheck(ctx context.Context) error {
	return h.db.Ping(ctx)
}
