package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/mashrufahmed/chat-app-f-sathi/internal/config"
	"github.com/mashrufahmed/chat-app-f-sathi/internal/handler"
	"github.com/mashrufahmed/chat-app-f-sathi/internal/logger"
	"github.com/mashrufahmed/chat-app-f-sathi/internal/server"
	"github.com/mashrufahmed/chat-app-f-sathi/internal/startup"
	"github.com/mashrufahmed/chat-app-f-sathi/internal/storage"
	"github.com/mashrufahmed/chat-app-f-sathi/internal/storage/memory"
)

func main() {
	logger.SetPrefix("server")
	dev := flag.Bool("dev", false, "use the in-memory store (no Redis required)")
	flag.Parse()

	logger.Info("starting chat server")
	cfg := config.Load("config/server.yaml")

	var store storage.Store
	if *dev || cfg.RedisURL == "" {
		logger.Info("using in-memory store")
		store = memory.New()
	} else {
		store = startup.ConnectRedisWithRetry(cfg.RedisURL, 60*time.Second)
		logger.Info("redis connected")
	}
	defer store.Close()

	hubCtx, hubCancel := context.WithCancel(context.Background())
	hub := server.NewHub(store, cfg.MaxWSConnections)
	var hubWg sync.WaitGroup
	hubWg.Add(1)
	go func() {
		defer hubWg.Done()
		hub.Run(hubCtx)
	}()

	registry := server.NewPollRegistry(hub, cfg.PollWait, cfg.PollIdleTimeout)
	router := handler.NewRouter(hub, registry, store, cfg.CORSAllowedOrigins)

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	// Long-poll requests outlive the usual write timeout.
	if srv.WriteTimeout < cfg.PollWait+5*time.Second {
		srv.WriteTimeout = cfg.PollWait + 5*time.Second
	}

	go func() {
		logger.Infof("listening on %s", cfg.ServerAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("listen: %v", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("http shutdown: %v", err)
	}
	hubCancel()
	hubWg.Wait()
	logger.Info("bye")
}
