// Package main runs the survey capture service: the local REST API, the
// connectivity monitor, the background sync scheduler and the optional
// inbox watcher.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cbotelho/reurb-coleta-dados-p1swk2ke1-sub001/cmd/coleta/handlers"
	"github.com/cbotelho/reurb-coleta-dados-p1swk2ke1-sub001/internal/config"
	"github.com/cbotelho/reurb-coleta-dados-p1swk2ke1-sub001/internal/db"
	"github.com/cbotelho/reurb-coleta-dados-p1swk2ke1-sub001/internal/inbox"
	"github.com/cbotelho/reurb-coleta-dados-p1swk2ke1-sub001/internal/logging"
	"github.com/cbotelho/reurb-coleta-dados-p1swk2ke1-sub001/internal/notify"
	"github.com/cbotelho/reurb-coleta-dados-p1swk2ke1-sub001/internal/pending"
	"github.com/cbotelho/reurb-coleta-dados-p1swk2ke1-sub001/internal/photo"
	syncpkg "github.com/cbotelho/reurb-coleta-dados-p1swk2ke1-sub001/internal/sync"
	"github.com/cbotelho/reurb-coleta-dados-p1swk2ke1-sub001/internal/sync/connectivity"
	"github.com/cbotelho/reurb-coleta-dados-p1swk2ke1-sub001/internal/sync/rowstore"
	"github.com/cbotelho/reurb-coleta-dados-p1swk2ke1-sub001/internal/sync/s3"
	"github.com/cbotelho/reurb-coleta-dados-p1swk2ke1-sub001/internal/sync/scheduler"
)

// Version is set at build time
var Version = "0.1.0"

func main() {
	cfg := config.Load()
	logging.Init(os.Stdout, logging.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logging.Error("coleta stopped with error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	logging.Info("coleta starting", map[string]interface{}{
		"version":   Version,
		"http_addr": cfg.HTTPAddr,
		"data_dir":  cfg.DataDir,
	})

	store, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	gateway, closeRemote := buildGateway(ctx, cfg)
	defer closeRemote()

	monitor := connectivity.New(gateway, connectivity.Config{
		Interval: cfg.ProbeInterval,
		Timeout:  cfg.ProbeTimeout,
	})

	hub := notify.NewHub(cfg.CORSAllowedOrigins)
	defer hub.Close()
	unsubscribe := broadcastConnectivity(monitor, hub)
	defer unsubscribe()

	orch := syncpkg.NewOrchestrator(store, gateway, monitor, syncpkg.Options{
		Table:       cfg.SurveysTable,
		PhotoField:  cfg.PhotoField,
		PhotoPrefix: cfg.PhotoPrefix,
	})
	orch.SetValidator(syncpkg.RequireFields(cfg.RequiredFields...))
	orch.SetPhotoPreparer(photo.NewPreparer(cfg.PhotoMaxDimension, cfg.PhotoJPEGQuality))
	orch.SetEventHandler(hub)

	sinks := notify.Multi{notify.LogNotifier{}, hub}
	var history handlers.NotificationHistory
	if cfg.RedisURL != "" {
		rn, err := notify.NewRedisNotifier(cfg.RedisURL, cfg.NotifyChannel)
		if err != nil {
			logging.Warn("redis notifications disabled", map[string]interface{}{"error": err.Error()})
		} else {
			defer rn.Close()
			sinks = append(sinks, rn)
			history = rn
		}
	}
	orch.SetNotifier(sinks)

	sched := scheduler.NewScheduler(orch, monitor, store, &scheduler.SchedulerConfig{
		SyncInterval: cfg.SyncInterval,
		SyncTimeout:  cfg.SyncTimeout,
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return monitor.Run(gctx) })

	sched.Start(gctx)
	defer sched.Stop()

	if cfg.InboxDir != "" {
		watcher := inbox.New(cfg.InboxDir, store, 0)
		watcher.OnImport(func(id string) {
			hub.Broadcast(notify.EventSurveyCaptured, map[string]interface{}{"id": id, "source": "inbox"})
			if monitor.IsOnline() {
				sched.TriggerSync()
			}
		})
		g.Go(func() error { return watcher.Run(gctx) })
	}

	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: (&server{
			allowedOrigins: cfg.CORSAllowedOrigins,
			store:          store,
			syncer:         sched,
			discarder:      orch,
			monitor:        monitor,
			history:        orch,
			notifications:  history,
			hub:            hub,
		}).routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g.Go(func() error {
		logging.Info("listening", map[string]interface{}{"addr": cfg.HTTPAddr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	logging.Info("coleta shutting down", nil)
	return err
}

// broadcastConnectivity forwards monitor transitions to WebSocket clients.
// The monitor logs each transition itself.
func broadcastConnectivity(monitor *connectivity.Monitor, b handlers.Broadcaster) func() {
	return monitor.OnTransition(func(online bool) {
		b.Broadcast(notify.EventConnectivityChanged, map[string]interface{}{"online": online})
	})
}

// openStore opens the pending store named by DATA_DIR. ":memory:" keeps
// surveys in process memory; they are lost on exit.
func openStore(cfg config.Config) (pending.Store, func(), error) {
	if cfg.Ephemeral() {
		logging.Warn("ephemeral mode: pending surveys are not persisted", nil)
		return pending.NewMemoryStore(), func() {}, nil
	}

	database, err := db.OpenAndMigrate(cfg.DataDir)
	if err != nil {
		return nil, nil, err
	}
	return pending.NewSQLiteStore(database.DB), func() { database.Close() }, nil
}

// buildGateway wires the object store and the row store. Missing or
// broken remote settings leave the gateway half-configured; its Ping
// then fails and the device stays offline.
func buildGateway(ctx context.Context, cfg config.Config) (*syncpkg.RemoteGateway, func()) {
	var (
		blobs syncpkg.BlobStore
		rows  syncpkg.RowStore
	)
	closeFn := func() {}

	if !cfg.RemoteConfigured() {
		logging.Warn("remote backend not configured; surveys stay local", map[string]interface{}{
			"database_url_set": cfg.DatabaseURL != "",
			"s3_provider":      cfg.S3Provider,
		})
		return syncpkg.NewGateway(nil, nil), closeFn
	}

	objects, err := s3.NewForProvider(cfg.S3Provider, s3.Config{
		Endpoint:      cfg.S3Endpoint,
		BucketName:    cfg.S3Bucket,
		AccessKey:     cfg.S3AccessKey,
		SecretKey:     cfg.S3SecretKey,
		Region:        cfg.S3Region,
		UseSSL:        cfg.S3UseSSL,
		PublicBaseURL: cfg.S3PublicBaseURL,
	})
	if err != nil {
		logging.Error("object storage misconfigured", err, map[string]interface{}{"provider": cfg.S3Provider})
	} else {
		blobs = objects
	}

	openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	table, err := rowstore.Open(openCtx, cfg.DatabaseURL)
	if err != nil {
		logging.Error("row store misconfigured", err)
	} else {
		rows = table
		closeFn = table.Close
	}

	return syncpkg.NewGateway(blobs, rows), closeFn
}
