package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"speaker-notes-go/internal/api"
	"speaker-notes-go/internal/audio"
	"speaker-notes-go/internal/auth"
	"speaker-notes-go/internal/config"
	"speaker-notes-go/internal/generation"
	"speaker-notes-go/internal/logger"
	"speaker-notes-go/internal/narration"
	"speaker-notes-go/internal/openai"
	"speaker-notes-go/internal/pipeline"
	"speaker-notes-go/internal/retry"
	"speaker-notes-go/internal/settings"
	"speaker-notes-go/internal/storage"
)

func main() {
	_ = godotenv.Load() // loads .env

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		logger.New().WithError(err).Fatal("failed to load config")
	}

	log := logger.Configure(os.Stdout, cfg.Environment, cfg.LogLevel)
	log.WithField("service", "speaker-notes-go").WithField("environment", cfg.Environment).Info("starting service")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := settings.NewStore(cfg.SettingsPath)
	if err != nil {
		log.WithError(err).Fatal("failed to load settings")
	}
	out, err := storage.NewLocal(cfg.OutputDir)
	if err != nil {
		log.WithError(err).Fatal("failed to prepare output dir")
	}

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	policy := retry.DefaultPolicy()
	policy.MaxRetries = cfg.MaxRetries

	backend, err := newBackend(cfg, httpClient, policy, log)
	if err != nil {
		log.WithError(err).Fatal("failed to init backend")
	}
	log.WithField("backend", cfg.Backend).Info("backend ready")

	var publisher storage.Publisher
	if cfg.S3.Endpoint != "" {
		s3, err := storage.NewS3(ctx, storage.S3Config(cfg.S3))
		if err != nil {
			log.WithError(err).Fatal("failed to init S3 publisher")
		}
		publisher = s3
		log.WithField("bucket", cfg.S3.Bucket).Info("publishing artifacts to S3")
	}

	driver := pipeline.NewDriver(pipeline.Options{
		Backend: backend,
		Output:  out,
		Joiner:  audio.NewFFmpeg(cfg.FFmpegPath, cfg.FFprobePath, log),
		Narration: narration.Config{
			ChunkSize:   cfg.ChunkSize,
			Concurrency: cfg.SynthesisConcurrency,
			WorkDir:     cfg.WorkDir,
		},
		Publisher: publisher,
		Log:       log,
	})

	uploads := filepath.Join(os.TempDir(), "speaker-notes-uploads")
	if cfg.WorkDir != "" {
		uploads = filepath.Join(cfg.WorkDir, "uploads")
	}
	h := api.NewHandler(ctx, driver, store, pipeline.NewTracker(), uploads, log)

	addr := fmt.Sprintf(":%s", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      api.NewRouter(h),
		ReadTimeout:  5 * time.Minute,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Error("shutdown failed")
		}
	}()

	log.WithField("addr", addr).Info("listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Fatal("server terminated")
	}
}

func newBackend(cfg config.Config, client *http.Client, policy retry.Policy, log *logger.Logger) (pipeline.Backend, error) {
	if cfg.Backend == config.BackendOpenAI {
		c, err := openai.New(openai.Config{
			APIKey:      cfg.OpenAI.APIKey,
			BaseURL:     cfg.OpenAI.BaseURL,
			ChatModel:   cfg.OpenAI.ChatModel,
			SpeechModel: cfg.OpenAI.SpeechModel,
		}, client, policy, log)
		if err != nil {
			return nil, err
		}
		return &pipeline.OpenAI{Client: c}, nil
	}
	return &pipeline.Watson{
		Auth:       auth.NewProvider(cfg.IdentityURL, client, policy),
		Client:     client,
		Policy:     policy,
		Generation: generation.Config{URL: cfg.GenerationURL, ModelID: cfg.ModelID},
		STTModel:   cfg.STTModel,
		Log:        log,
	}, nil
}
