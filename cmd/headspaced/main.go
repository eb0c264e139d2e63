// Package main is headspace's single binary: Hook Receiver, Transcript
// Watcher, State Machine, Event Broadcaster, and Terminal Input Bridge
// wired together behind one gin router, following the teacher's
// sequential-wiring-then-graceful-shutdown composition root
// (cmd/kandev/main.go).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/samotage/claude-headspace-sub014/internal/bridge"
	"github.com/samotage/claude-headspace-sub014/internal/broadcast"
	"github.com/samotage/claude-headspace-sub014/internal/config"
	"github.com/samotage/claude-headspace-sub014/internal/correlator"
	"github.com/samotage/claude-headspace-sub014/internal/events/bus"
	"github.com/samotage/claude-headspace-sub014/internal/hooks"
	"github.com/samotage/claude-headspace-sub014/internal/httpapi"
	"github.com/samotage/claude-headspace-sub014/internal/httpmw"
	"github.com/samotage/claude-headspace-sub014/internal/infer"
	"github.com/samotage/claude-headspace-sub014/internal/logging"
	"github.com/samotage/claude-headspace-sub014/internal/statemachine"
	"github.com/samotage/claude-headspace-sub014/internal/statemachine/intent"
	"github.com/samotage/claude-headspace-sub014/internal/store"
	"github.com/samotage/claude-headspace-sub014/internal/store/postgres"
	"github.com/samotage/claude-headspace-sub014/internal/store/sqlite"
	"github.com/samotage/claude-headspace-sub014/internal/transcript"
	"github.com/samotage/claude-headspace-sub014/internal/worker"

	_ "github.com/mattn/go-sqlite3"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New(logging.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logging.SetDefault(log)
	log.Info("starting headspace")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var eventBus bus.EventBus
	if cfg.Events.NatsURL != "" {
		log.Info("connecting to NATS", zap.String("url", cfg.Events.NatsURL))
		natsBus, err := bus.NewNATSEventBus(cfg.Events, log)
		if err != nil {
			log.Fatal("failed to connect to NATS", zap.Error(err))
		}
		eventBus = natsBus
		defer natsBus.Close()
	} else {
		log.Info("using in-memory event bus")
		eventBus = bus.NewMemoryEventBus(log)
	}
	defer eventBus.Close()

	st, closeStore, err := openStore(ctx, cfg.Database)
	if err != nil {
		log.Fatal("failed to open store", zap.Error(err), zap.String("driver", cfg.Database.Driver))
	}
	defer closeStore()
	log.Info("store ready", zap.String("driver", cfg.Database.Driver))

	corr := correlator.New(st, log, time.Duration(cfg.StateMachine.SessionIdleTTLSec)*time.Second)
	if err := corr.Warm(ctx); err != nil {
		log.Fatal("failed to warm session correlator", zap.Error(err))
	}
	classifier := intent.New(cfg.StateMachine.QuestionPatterns, cfg.StateMachine.CompletionPatterns)

	var inferer infer.Client
	if cfg.Inference.URL != "" {
		inferer = infer.NewHTTPClient(cfg.Inference, log)
	} else {
		log.Warn("inference.url not set - task instruction and completion summaries will not be generated")
		inferer = infer.NewUnavailable()
	}

	sm := statemachine.New(st, eventBus, log, classifier, inferer)
	defer sm.Close()

	hookPool := worker.NewPool(ctx, 8, 256, log)
	defer hookPool.Close()

	watcher := transcript.New(st, corr, sm, eventBus, log)
	receiver := hooks.New(st, corr, sm, hookPool, log, watcher.NoteHookAccepted)
	if err := watcher.Start(ctx); err != nil {
		log.Fatal("failed to start transcript watcher", zap.Error(err))
	}
	defer watcher.Stop()

	hub := broadcast.NewHub(eventBus, cfg.Broadcast.MaxSubscribers, cfg.Broadcast.SubscriberBufferSize, log)
	go hub.Run(ctx)
	broadcastServer := broadcast.NewServer(hub, cfg.Broadcast.HeartbeatIntervalSec, log)

	br := bridge.New(st, sm, cfg.Bridge, log)
	prober := bridge.NewProber(st, eventBus, log)

	reaper := worker.NewNamed("broadcast-reaper", 30*time.Second, func(ctx context.Context) error {
		grace := time.Duration(cfg.Broadcast.WriteGraceSec) * time.Second
		hub.ReapStale(grace)
		return nil
	}, log)
	reaper.Start(ctx)
	defer reaper.Stop()

	probeInterval := time.Duration(cfg.Bridge.ProbeIntervalSec) * time.Second
	if probeInterval <= 0 {
		probeInterval = 15 * time.Second
	}
	proberWorker := worker.NewNamed("bridge-prober", probeInterval, prober.ProbeAll, log)
	proberWorker.Start(ctx)
	defer proberWorker.Stop()

	namedWorkers := map[string]*worker.Named{
		"broadcast-reaper": reaper,
		"bridge-prober":    proberWorker,
	}

	sessionHandler := httpapi.NewSessionHandler(st, corr, eventBus, log)
	respondHandler := httpapi.NewRespondHandler(st, br, log)
	healthHandler := httpapi.NewHealthHandler(st, hub, namedWorkers)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(httpmw.RequestLogger(log, "headspace"))
	router.Use(httpmw.OtelTracing("headspace"))
	router.Use(httpmw.ErrorMapper())

	healthHandler.RegisterRoutes(router.Group(""))

	api := router.Group("/api")
	sessionHandler.RegisterRoutes(api)
	respondHandler.RegisterRoutes(api)
	receiver.RegisterRoutes(router.Group(""))
	broadcastServer.RegisterRoutes(api)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		log.Info("http server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("http server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down headspace")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown error", zap.Error(err))
	}

	log.Info("headspace stopped")
}

// openStore opens the configured Persistence Store backend. sqlite is the
// default embedded driver; postgres is available for operators who want a
// shared database (internal/store/postgres).
func openStore(ctx context.Context, cfg config.DatabaseConfig) (store.Store, func(), error) {
	switch cfg.Driver {
	case "postgres":
		pg, err := postgres.Open(ctx, cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres store: %w", err)
		}
		return pg, func() { _ = pg.Close() }, nil
	default:
		db, err := sqlx.Connect("sqlite3", cfg.Path+"?_foreign_keys=on&_journal_mode=WAL")
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite database: %w", err)
		}
		st, err := sqlite.NewWithDB(db)
		if err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("init sqlite schema: %w", err)
		}
		return st, func() { _ = db.Close() }, nil
	}
}
