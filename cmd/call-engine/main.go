package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	callengine "github.com/snarg/call-engine"
	"github.com/snarg/call-engine/internal/api"
	"github.com/snarg/call-engine/internal/config"
	"github.com/snarg/call-engine/internal/database"
	"github.com/snarg/call-engine/internal/ingest"
	"github.com/snarg/call-engine/internal/llm"
	"github.com/snarg/call-engine/internal/mqttclient"
	"github.com/snarg/call-engine/internal/pipeline"
	"github.com/snarg/call-engine/internal/score"
	"github.com/snarg/call-engine/internal/storage"
	"github.com/snarg/call-engine/internal/summarize"
	"github.com/snarg/call-engine/internal/transcribe"
	"github.com/snarg/call-engine/internal/worker"
)

var version = "dev"

func main() {
	startTime := time.Now()

	var overrides config.Overrides
	flag.StringVar(&overrides.EnvFile, "env", "", "path to .env file")
	flag.StringVar(&overrides.HTTPAddr, "addr", "", "HTTP listen address")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
	flag.StringVar(&overrides.DatabaseURL, "db", "", "PostgreSQL connection URL")
	flag.StringVar(&overrides.AudioDir, "audio-dir", "", "local audio archive directory")
	flag.IntVar(&overrides.Workers, "workers", 0, "pipeline worker count")
	flag.Parse()

	cfg, err := config.Load(overrides)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().Str("version", version).Msg("call-engine starting")

	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Database
	dbLog := log.With().Str("component", "database").Logger()
	db, err := database.Connect(ctx, cfg.DatabaseURL, dbLog)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if err := db.InitSchema(ctx, callengine.SchemaSQL); err != nil {
		log.Fatal().Err(err).Msg("schema init failed")
	}
	if err := db.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("schema migration failed")
	}

	// Audio archive
	store, err := storage.New(cfg.S3, cfg.AudioDir, log.With().Str("component", "storage").Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("audio store init failed")
	}

	// Pipeline stages
	var primary, fallback transcribe.Provider
	whisper := transcribe.NewWhisperClient(cfg.WhisperURL, cfg.OpenAIAPIKey, cfg.WhisperModel, cfg.TranscribeTimeout)
	if cfg.DeepgramAPIKey != "" {
		primary = transcribe.NewDeepgramClient(cfg.DeepgramAPIKey, cfg.DeepgramModel, cfg.TranscribeTimeout)
		if cfg.OpenAIAPIKey != "" {
			fallback = whisper
		}
	} else {
		primary = whisper
		if cfg.OpenAIAPIKey == "" {
			log.Warn().Msg("no transcription provider configured; audio submissions will fail")
		}
	}

	chat := llm.NewClient(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel, cfg.LLMTimeout)

	sequencer := pipeline.NewSequencer(
		pipeline.Policy{MaxRetries: cfg.MaxRetries},
		log.With().Str("component", "pipeline").Logger(),
		transcribe.NewStage(primary, fallback, cfg.Language, log),
		summarize.NewStage(chat, log),
		score.NewStage(chat, log),
	)

	// Worker pool
	pool := worker.NewPool(worker.Options{
		Store:     db,
		Sequencer: sequencer,
		Workers:   cfg.Workers,
		QueueSize: cfg.QueueSize,
		Log:       log.With().Str("component", "worker").Logger(),
	})
	pool.Start()

	// Optional MQTT ingest
	var mqtt *mqttclient.Client
	if cfg.MQTTBrokerURL != "" {
		mqttLog := log.With().Str("component", "mqtt").Logger()
		mqtt, err = mqttclient.Connect(mqttclient.Options{
			BrokerURL: cfg.MQTTBrokerURL,
			ClientID:  cfg.MQTTClientID,
			Topics:    cfg.MQTTTopics,
			Username:  cfg.MQTTUsername,
			Password:  cfg.MQTTPassword,
			Log:       mqttLog,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to mqtt broker")
		}

		handler := ingest.NewHandler(pool, store, log.With().Str("component", "ingest").Logger())
		mqtt.SetMessageHandler(handler.HandleMessage)
	}

	// Retention
	if cfg.Retention > 0 {
		go purgeLoop(ctx, db, store, cfg.Retention, log.With().Str("component", "retention").Logger())
	}

	// HTTP server
	httpLog := log.With().Str("component", "http").Logger()
	srv := api.NewServer(cfg, api.Deps{
		DB:         db,
		MQTT:       mqtt,
		Queue:      pool,
		AudioStore: store,
		Version:    version,
		StartTime:  startTime,
	}, httpLog)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	// Graceful shutdown: stop all intake first, then drain the queue.
	// MQTT must disconnect before pool.Stop() closes the jobs channel,
	// otherwise a message arriving in between would enqueue on a closed
	// channel.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}
	if mqtt != nil {
		mqtt.Close()
	}
	pool.Stop()
	log.Info().Msg("call-engine stopped")
}

func purgeLoop(ctx context.Context, db *database.DB, store storage.AudioStore, retention time.Duration, log zerolog.Logger) {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purgeExpired(ctx, db, store, retention, log)
		}
	}
}

// purgeExpired removes archived audio for expiring calls, then the rows.
// Object deletes come first so a failure leaves the row (and its key) in
// place for the next pass instead of orphaning the object.
func purgeExpired(ctx context.Context, db *database.DB, store storage.AudioStore, retention time.Duration, log zerolog.Logger) {
	keys, err := db.ExpiredAudioKeys(ctx, retention)
	if err != nil {
		log.Error().Err(err).Msg("retention key scan failed")
		return
	}
	for _, key := range keys {
		if err := store.Delete(ctx, key); err != nil {
			log.Error().Err(err).Str("audio_key", key).Msg("audio delete failed, deferring row purge")
			return
		}
	}

	n, err := db.PurgeCallsOlderThan(ctx, retention)
	if err != nil {
		log.Error().Err(err).Msg("retention purge failed")
		return
	}
	if n > 0 {
		log.Info().Int64("deleted", n).Int("audio_objects", len(keys)).Dur("retention", retention).Msg("old calls purged")
	}
}
