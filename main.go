package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"gifconv/cluster"
	"gifconv/config"
	"gifconv/dispatch"
	"gifconv/server"
	"gifconv/services"
	"gifconv/store"
	"gifconv/syncer"
)

func main() {
	cfg := config.Load()
	setupLogging(cfg)

	log.Info().Msg("starting gifconv conversion orchestrator")

	// Redis status mirror is optional; without an address the cache is a
	// no-op.
	var statusCache *services.StatusCache
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer redisClient.Close()
		statusCache = services.NewStatusCache(redisClient, cfg.RedisPrefix)
		log.Info().Str("addr", cfg.RedisAddr).Msg("connected to redis")
	}

	jobStore := buildStore(cfg)

	objects := services.NewObjectStore(cfg)

	clusterClient := cluster.NewClient(cluster.Config{
		Endpoint:  cfg.ClusterEndpoint,
		ProjectID: cfg.ProjectID,
		Namespace: cfg.Namespace,
		UserAgent: cfg.UserAgent,
		Credentials: cluster.Credentials{
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
		},
	})

	dispatcher := dispatch.NewDispatcher(jobStore, clusterClient, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sync := syncer.NewSyncer(jobStore, clusterClient, objects, statusCache,
		time.Duration(cfg.SyncIntervalSeconds)*time.Second)
	go sync.Run(ctx)

	srv := server.New(jobStore, objects, dispatcher, statusCache, cfg.UploadPrefix, cfg.OutputPrefix)
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Start(cfg.ListenAddr)
	}()

	log.Info().Str("addr", cfg.ListenAddr).Msg("http server listening")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		log.Info().Msg("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			log.Error().Err(err).Msg("http server failed")
		}
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown failed")
	}

	log.Info().Msg("conversion orchestrator stopped")
}

func buildStore(cfg *config.Config) store.Store {
	switch cfg.StoreBackend {
	case "memory":
		log.Warn().Msg("using in-memory job store; records will not survive restarts")
		return store.NewMemoryStore()
	default:
		pgStore, err := store.NewPostgresStore(cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		log.Info().Msg("connected to database")
		return pgStore
	}
}

func setupLogging(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.LogFormat == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}
