package speech

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/zhouzirui/ollama-chat/backend/internal/metrics"
	"github.com/zhouzirui/ollama-chat/backend/internal/model/speech"
)

var (
	// ErrUnintelligible means the recognizer answered but heard no speech.
	ErrUnintelligible = errors.New("could not understand audio")
	// ErrUnreachable means the speech service could not be reached or
	// rejected the request.
	ErrUnreachable = errors.New("speech service unavailable")
	// ErrEmptyText is returned when there is nothing to synthesize.
	ErrEmptyText = errors.New("text is required")
)

// recognizer and synthesizer are satisfied by the Volcengine clients.
type recognizer interface {
	Transcribe(ctx context.Context, req *speech.ASRRequest) (*speech.ASRResponse, error)
}

type synthesizer interface {
	Synthesize(ctx context.Context, req *speech.TTSRequest) (*speech.TTSResponse, error)
}

// Service 语音服务核心业务逻辑
type Service struct {
	config     *speech.SpeechConfig
	asr        recognizer
	tts        synthesizer
	transcoder *Transcoder
	logger     zerolog.Logger
}

// NewService 创建语音服务实例
func NewService(config *speech.SpeechConfig, logger zerolog.Logger) *Service {
	if config == nil {
		config = &speech.SpeechConfig{}
	}
	return &Service{
		config:     config,
		asr:        NewVolcengineASRClient(config, logger),
		tts:        NewVolcengineTTSClient(config, logger),
		transcoder: NewTranscoder(config.FFmpegPath, logger),
		logger:     logger.With().Str("component", "speech").Logger(),
	}
}

// Enabled reports whether credentials are configured.
func (s *Service) Enabled() bool {
	_, _, err := resolveCredentials(s.config)
	return err == nil
}

// Health describes speech availability for the health endpoint.
func (s *Service) Health() map[string]any {
	return map[string]any{
		"enabled":    s.Enabled(),
		"transcoder": s.transcoder != nil,
		"voice":      s.config.TTSVoice,
	}
}

// DefaultVoice is the configured speaker.
func (s *Service) DefaultVoice() string {
	return s.config.TTSVoice
}

// TranscribeAudio 语音转文字。Browser formats are converted to WAV first
// when ffmpeg is configured.
func (s *Service) TranscribeAudio(ctx context.Context, req *speech.ASRRequest) (*speech.ASRResponse, error) {
	if !s.Enabled() {
		return nil, ErrNotConfigured
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if s.transcoder != nil && NeedsTranscode(req.Format) {
		audio, err := io.ReadAll(req.AudioData)
		if err != nil {
			return nil, fmt.Errorf("read audio: %w", err)
		}
		wav, err := s.transcoder.ToWAV(ctx, audio, req.Format)
		if err != nil {
			metrics.UpstreamFailures.WithLabelValues("ffmpeg").Inc()
			return nil, err
		}
		converted := *req
		converted.AudioData = bytes.NewReader(wav)
		converted.Format = "wav"
		req = &converted
	}

	start := time.Now()
	resp, err := s.asr.Transcribe(ctx, req)
	metrics.SpeechLatency.WithLabelValues("asr").Observe(time.Since(start).Seconds())
	if err != nil {
		if !errors.Is(err, ErrUnintelligible) {
			metrics.UpstreamFailures.WithLabelValues("asr").Inc()
		}
		s.logger.Warn().Err(err).Str("session", req.SessionID).Msg("transcription failed")
		return nil, err
	}
	return resp, nil
}

// SynthesizeSpeech 文字转语音
func (s *Service) SynthesizeSpeech(ctx context.Context, req *speech.TTSRequest) (*speech.TTSResponse, error) {
	if !s.Enabled() {
		return nil, ErrNotConfigured
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	resp, err := s.tts.Synthesize(ctx, req)
	metrics.SpeechLatency.WithLabelValues("tts").Observe(time.Since(start).Seconds())
	if err != nil {
		if !errors.Is(err, ErrEmptyText) {
			metrics.UpstreamFailures.WithLabelValues("tts").Inc()
		}
		s.logger.Warn().Err(err).Str("session", req.SessionID).Msg("synthesis failed")
		return nil, err
	}
	return resp, nil
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.config.Timeout > 0 {
		return context.WithTimeout(ctx, s.config.Timeout)
	}
	return context.WithCancel(ctx)
}
