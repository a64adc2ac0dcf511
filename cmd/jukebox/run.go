package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/hometv/jukebox/internal/config"
	"github.com/hometv/jukebox/internal/controller"
	"github.com/hometv/jukebox/internal/httpapi"
	"github.com/hometv/jukebox/internal/ingest"
	"github.com/hometv/jukebox/internal/media/kafka"
	"github.com/hometv/jukebox/internal/media/outbox"
	"github.com/hometv/jukebox/internal/media/repository"
	"github.com/hometv/jukebox/internal/media/store"
	"github.com/hometv/jukebox/internal/storage/postgres"
	"github.com/hometv/jukebox/internal/tuner"
)

func run(ctx context.Context) error {
	cfg := config.Load()
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()

	// Dependencies
	var (
		repo       repository.VideoRepository
		outboxRepo *postgres.OutboxRepo
	)
	if cfg.DatabaseURL != "" {
		db, err := postgres.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("db connect: %w", err)
		}
		defer db.Close()

		if err := postgres.Migrate(db); err != nil {
			return fmt.Errorf("db migrate: %w", err)
		}
		repo = postgres.NewVideoRepo(db)
		outboxRepo = postgres.NewOutboxRepo(db)
	} else {
		logger.Warn().Msg("DATABASE_URL is empty, using in-memory repository")
		repo = repository.NewMemoryRepository()
	}

	st := store.New(repo, logger)

	pipeline, err := ingest.New(ingest.Config{
		Store:          st,
		Runner:         ingest.ExecRunner{},
		Dir:            cfg.DownloadDir,
		FetchBin:       cfg.FetchBin,
		ConvertBin:     cfg.ConvertBin,
		ThumbnailWidth: cfg.ThumbnailWidth,
		Logger:         logger,
	})
	if err != nil {
		return fmt.Errorf("ingest pipeline: %w", err)
	}
	pipeline.Bind(st)

	engine := tuner.NewEngine(st, logger)
	engine.Bind(st)

	hub := tuner.NewHub(engine, logger)

	h := httpapi.New(st, pipeline, cfg.DownloadDir, logger)
	router := httpapi.NewRouter(h, hub, cfg.AuthUsername, cfg.AuthPassword)

	errCh := make(chan error, 1)

	go func() {
		if err := pipeline.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("ingest pipeline: %w", err)
		}
	}()

	// Kafka export is optional: without brokers the outbox rows simply
	// accumulate unprocessed (memory mode has no outbox at all).
	if outboxRepo != nil && len(cfg.KafkaBrokers) > 0 {
		producer, err := kafka.NewProducer(kafka.ProducerConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
			Logger:  logger,
		})
		if err != nil {
			return fmt.Errorf("kafka producer: %w", err)
		}
		defer producer.Close()

		publisher, err := outbox.NewPublisher(outbox.PublisherConfig{
			OutboxRepo: outboxRepo,
			Producer:   producer,
			Interval:   cfg.OutboxInterval,
			BatchSize:  cfg.OutboxBatch,
			Logger:     logger,
		})
		if err != nil {
			return fmt.Errorf("outbox publisher: %w", err)
		}
		go func() {
			if err := publisher.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("outbox publisher: %w", err)
			}
		}()
	}

	if cfg.UDPAddr != "" {
		bridge := controller.NewBridge(engine, cfg.UDPAddr, logger)
		go func() {
			if err := bridge.Listen(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("controller bridge: %w", err)
			}
		}()
	}

	// Забытые недокачанные записи с прошлого запуска. Пайплайн уже
	// работает, поэтому событие удаления он получит.
	if err := st.Cleanup(ctx); err != nil {
		logger.Error().Err(err).Msg("startup cleanup failed")
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil {
			errCh <- err
		}
	}()
	logger.Info().Str("addr", cfg.HTTPAddr).Msg("jukebox listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil

	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
