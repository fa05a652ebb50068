package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"SceneForge-server/config"
	"SceneForge-server/logger"
	"SceneForge-server/models"
	"SceneForge-server/routers"
	"SceneForge-server/routers/api"
	"SceneForge-server/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	flag.Parse()

	if err := config.InitConfig(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	cfg := config.AppConfig

	log, err := logger.New(logger.Config{Level: cfg.Log.Level, Encoding: cfg.Log.Encoding})
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := service.NewMetrics()
	hub := service.NewHub()
	notifier := service.MultiNotifier{service.LogNotifier{Logger: log}, hub}

	var persister service.Persister
	var repo *models.Repository
	if cfg.MySQL.DSN != "" {
		db, err := models.InitDB(cfg.MySQL.DSN)
		if err != nil {
			log.Fatal("database init failed", zap.Error(err))
		}
		repo = models.NewRepository(db)
		persister = repo
		log.Info("database initialized")
	} else {
		log.Warn("mysql dsn not set, state is kept in memory only")
	}

	store := service.NewStore(log, notifier, metrics, persister)
	if repo != nil {
		projects, scenes, err := repo.LoadProjects(ctx)
		if err != nil {
			log.Fatal("load projects failed", zap.Error(err))
		}
		store.Load(projects, scenes)
		log.Info("state restored", zap.Int("projects", len(projects)), zap.Int("scenes", len(scenes)))
	}

	dispatcher := service.NewDispatcher(service.NewHTTPProviders(cfg, log), metrics, log)
	poller := service.NewPoller(dispatcher, service.PollerConfig{
		Interval:    cfg.PollInterval(),
		MaxAttempts: cfg.Poller.MaxAttempts,
		Concurrency: cfg.Poller.Concurrency,
	}, metrics, log)
	coordinator := service.NewCoordinator(store, dispatcher, poller, notifier, log)

	if cfg.MinIO.Enabled {
		mirror, err := service.NewMinIOMirror(cfg.MinIO, log)
		if err != nil {
			log.Fatal("minio init failed", zap.Error(err))
		}
		coordinator.SetMirror(mirror)
		log.Info("minio mirror enabled", zap.String("bucket", cfg.MinIO.Bucket))
	}

	if cfg.Planner.APIKey != "" {
		planner, err := service.NewOpenAIPlanner(service.OpenAIPlannerConfig{
			APIKey:  cfg.Planner.APIKey,
			BaseURL: cfg.Planner.BaseURL,
			Model:   cfg.Planner.Model,
		}, log)
		if err != nil {
			log.Fatal("planner init failed", zap.Error(err))
		}
		coordinator.SetPlanner(planner)
	}

	stitcher := service.NewQueueStitcher(service.QueueConfig{
		RedisAddr:     cfg.Redis.Addr,
		RedisPassword: cfg.Redis.Password,
		Queue:         cfg.Stitch.Queue,
		Timeout:       time.Duration(cfg.Stitch.TimeoutMin) * time.Minute,
	}, log)
	defer stitcher.Close()
	gate := service.NewGate(store, stitcher, notifier, metrics, log)

	go poller.Run(ctx)

	gin.SetMode(cfg.Server.Mode)
	r := routers.InitRouter(&api.Services{
		Store:       store,
		Coordinator: coordinator,
		Poller:      poller,
		Gate:        gate,
		Hub:         hub,
		Logger:      log,
	}, metrics)

	srv := &http.Server{Addr: cfg.Server.Port, Handler: r}
	go func() {
		log.Info("server starting", zap.String("addr", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown failed", zap.Error(err))
	}
}
