package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/ollama-chat/backend/internal/config"
	"github.com/zhouzirui/ollama-chat/backend/internal/handler"
	"github.com/zhouzirui/ollama-chat/backend/internal/handler/stream"
	"github.com/zhouzirui/ollama-chat/backend/internal/model/persona"
	speechModel "github.com/zhouzirui/ollama-chat/backend/internal/model/speech"
	"github.com/zhouzirui/ollama-chat/backend/internal/service/ai"
	"github.com/zhouzirui/ollama-chat/backend/internal/service/chat"
	"github.com/zhouzirui/ollama-chat/backend/internal/service/ollama"
	"github.com/zhouzirui/ollama-chat/backend/internal/service/speech"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger := newLogger(cfg.Log)
	log.Logger = logger
	if envErr != nil {
		logger.Debug().Err(envErr).Msg("no .env file, using system environment only")
	}

	client := ollama.NewClient(ollama.Config{
		BaseURL: cfg.Ollama.BaseURL,
		Timeout: cfg.Ollama.Timeout,
		Logger:  logger,
	})

	// Without a reachable server and at least one model there is nothing to chat with.
	defaultModel, err := pickDefaultModel(ctx, client, cfg.Ollama.DefaultModel)
	if err != nil {
		logger.Fatal().Err(err).Str("host", cfg.Ollama.BaseURL).Msg("ollama is not usable")
	}
	logger.Info().Str("host", cfg.Ollama.BaseURL).Str("model", defaultModel).Msg("connected to ollama")

	aiService, err := ai.NewService(ctx, ollama.NewChatModel(client, defaultModel), logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize AI service")
	}

	personaStore := persona.NewMemoryStore(persona.Seed())
	chatService := chat.NewService()

	// Initialize Speech service
	var speechService *speech.Service
	if cfg.Speech.Enabled {
		speechService = speech.NewService(&speechModel.SpeechConfig{
			AppID:       cfg.Speech.AppID,
			AccessToken: cfg.Speech.AccessToken,
			ASRLanguage: cfg.Speech.ASRLanguage,
			TTSVoice:    cfg.Speech.TTSVoice,
			TTSSpeed:    cfg.Speech.TTSSpeed,
			TTSVolume:   cfg.Speech.TTSVolume,
			TTSLanguage: cfg.Speech.TTSLanguage,
			ASREndpoint: cfg.Speech.ASREndpoint,
			TTSEndpoint: cfg.Speech.TTSEndpoint,
			FFmpegPath:  cfg.Speech.FFmpegPath,
			Timeout:     cfg.Speech.Timeout,
		}, logger)
		logger.Info().Bool("ffmpeg", cfg.Speech.FFmpegPath != "").Msg("speech service initialized")
	} else {
		logger.Info().Msg("语音服务凭证未配置，跳过语音功能初始化")
	}

	router := handler.NewRouter(handler.Dependencies{
		Logger:         logger,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Personas:       personaStore,
		Chat:           chatService,
		Models:         client,
		Generator:      aiService,
		Speech:         speechService,
		Stream: stream.Options{
			DefaultModel: defaultModel,
			Temperature:  cfg.Chat.Temperature,
		},
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info().Str("addr", srv.Addr).Msg("ollama chat backend listening")
	if err := runServer(ctx, srv); err != nil {
		logger.Fatal().Err(err).Msg("server error")
	}
	logger.Info().Msg("server stopped")
}

func newLogger(cfg config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.Pretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stdout)
	}
	return logger.Level(level).With().Timestamp().Logger()
}

// pickDefaultModel prefers the configured model when it is installed and
// falls back to the first one reported by the server.
func pickDefaultModel(ctx context.Context, client *ollama.Client, preferred string) (string, error) {
	names, err := client.ModelNames(ctx)
	if err != nil {
		return "", err
	}
	if len(names) == 0 {
		return "", fmt.Errorf("no models installed, pull one with `ollama pull <model>`")
	}
	if preferred != "" {
		if slices.Contains(names, preferred) {
			return preferred, nil
		}
		log.Warn().Str("model", preferred).Strs("installed", names).Msg("configured default model is not installed")
	}
	return names[0], nil
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
