package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"tradeup-scout/internal/api"
	"tradeup-scout/internal/config"
	"tradeup-scout/internal/engine"
	"tradeup-scout/internal/floatdb"
	"tradeup-scout/internal/logger"
	"tradeup-scout/internal/skins"
	"tradeup-scout/internal/steam"
	"tradeup-scout/internal/store"
	"tradeup-scout/internal/worker"
)

var version = "dev"

func main() {
	port := flag.Int("port", 0, "HTTP server port (overrides PORT)")
	flag.Parse()

	logger.Banner(version)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("Config", fmt.Sprintf("Load failed: %v", err))
		os.Exit(1)
	}
	if *port > 0 {
		cfg.Port = *port
	}
	logger.SetLevel(cfg.LogLevel)

	os.MkdirAll(cfg.DataDir, 0755)

	floats, err := floatdb.Load()
	if err != nil {
		logger.Error("Floats", fmt.Sprintf("Load failed: %v", err))
		os.Exit(1)
	}
	floats.SetRemote(cfg.FloatSourceURL)

	// Open SQLite catalog
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		logger.Error("DB", fmt.Sprintf("Failed to open catalog: %v", err))
		os.Exit(1)
	}
	defer st.Close()

	fetcher := steam.NewFetcher(steam.Pacing{
		StartMs: cfg.RateMs,
		MinMs:   cfg.RateMinMs,
		MaxMs:   cfg.RateMaxMs,
	})
	client := steam.NewClient(fetcher)

	svc := skins.NewService(st, client, floats, cfg.DataDir, cfg.MaxAutoLimit)

	calc := engine.NewCalculator(client, floats, svc)
	calc.BuyerToNetRate = cfg.BuyerToNetRate

	// Redis backs both the job records and the sync queue.
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Error("Redis", fmt.Sprintf("Bad REDIS_URL: %v", err))
		os.Exit(1)
	}
	rdb := redis.NewClient(redisOpts)
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	err = rdb.Ping(pingCtx).Err()
	cancel()
	if err != nil {
		logger.Error("Redis", fmt.Sprintf("Ping failed: %v", err))
		os.Exit(1)
	}

	asynqOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		logger.Error("Redis", fmt.Sprintf("Bad REDIS_URL: %v", err))
		os.Exit(1)
	}

	jobs := worker.NewJobStore(rdb, cfg.SyncQueue)
	syncer := worker.NewSyncer(client, st, floats, jobs, cfg.PageSize, cfg.MaxAutoLimit)
	wrk := worker.New(asynqOpt, jobs, syncer, cfg.SyncQueue, cfg.SyncConcurrency, svc.InvalidateReady)
	if err := wrk.Start(); err != nil {
		logger.Error("Worker", fmt.Sprintf("Start failed: %v", err))
		os.Exit(1)
	}

	srv := api.NewServer(svc, client, calc, wrk, fetcher, version)

	httpSrv := &http.Server{
		Addr:    cfg.Addr(),
		Handler: srv.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Server(httpSrv.Addr)
		errCh <- httpSrv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		logger.Info("Server", fmt.Sprintf("Caught %s, shutting down", sig))
	case err := <-errCh:
		logger.Error("Server", fmt.Sprintf("Failed: %v", err))
		wrk.Shutdown()
		os.Exit(1)
	}

	shutCtx, cancelShut := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShut()
	if err := httpSrv.Shutdown(shutCtx); err != nil {
		logger.Warn("Server", fmt.Sprintf("Shutdown: %v", err))
	}
	wrk.Shutdown()
	logger.Success("Server", "Stopped")
}
