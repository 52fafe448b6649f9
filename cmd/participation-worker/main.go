package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/brightkids/participation-api/internal/repository"
	"github.com/brightkids/participation-api/internal/service"
	"github.com/brightkids/participation-api/pkg/config"
	"github.com/brightkids/participation-api/pkg/database"
	"github.com/brightkids/participation-api/pkg/events"
	"github.com/brightkids/participation-api/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := events.NewClient(cfg.Redis)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to redis", "error", err)
	}
	defer redisClient.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bus := events.NewRedisBus(redisClient, cfg.Events.ChannelPrefix)
	dispatcher := events.NewDispatcher(bus, cfg.Events, logr)
	dispatcher.Start(ctx)
	defer dispatcher.Stop()

	validate := validator.New()
	metrics := service.NewMetricsService()

	participationRepo := repository.NewParticipationRepository(db)
	noteRepo := repository.NewNoteRepository(db)
	noteService := service.NewNoteService(noteRepo, participationRepo, dispatcher, validate, metrics, logr)

	subscriber := events.NewSubscriber(redisClient, cfg.Events.ErasureChannel, noteService.AnonymizeChild, logr)
	go func() {
		if err := subscriber.Run(ctx); err != nil && ctx.Err() == nil {
			logr.Sugar().Errorw("erasure subscriber stopped", "error", err)
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, `{"status":"ok"}`)
	})

	server := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Port), Handler: mux}
	go func() {
		logr.Sugar().Infow("worker starting", "addr", server.Addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("worker failed", "error", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("shutdown failed", "error", err)
	}
	logr.Sugar().Infow("worker stopped")
}
