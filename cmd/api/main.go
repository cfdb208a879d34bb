package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"fashion-trends-backend/internal/api"
	"fashion-trends-backend/internal/auth"
	"fashion-trends-backend/internal/blob"
	"fashion-trends-backend/internal/config"
	"fashion-trends-backend/internal/logging"
	"fashion-trends-backend/internal/pipeline"
	"fashion-trends-backend/internal/progress"
	"fashion-trends-backend/internal/store"
)

func main() {
	cfg := config.Load()
	logging.Init(cfg.LogLevel, cfg.Env)
	log := logging.WithComponent("api")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		log.Fatal().Err(err).Msg("migrations")
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	tracker := progress.NewTracker(redisClient, cfg.ProgressTTL)

	signer, err := blob.NewIssuer(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("init presigner")
	}

	orchestrator := pipeline.NewOrchestrator(cfg, pipeline.NewRunner(), st, signer, logging.WithComponent("pipeline"))

	verifier := auth.StaticVerifier(cfg.AuthTokens)
	server := api.New(cfg, st, st, orchestrator, tracker, verifier, signer, log)

	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	log.Info().Str("port", cfg.HTTPPort).Msg("api listening")
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}
