package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ollama_chat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ollama_chat_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.005, .01, .05, .1, .5, 1, 5, 15, 60},
		},
		[]string{"method", "path"},
	)

	// Generation metrics
	Generations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ollama_chat_generations_total",
			Help: "Completed generations by outcome",
		},
		[]string{"model", "outcome"}, // "ok" or "error"
	)

	GeneratedTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ollama_chat_generated_tokens_total",
			Help: "Whitespace-delimited tokens streamed to clients",
		},
		[]string{"model"},
	)

	TokensPerSecond = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ollama_chat_tokens_per_second",
			Help:    "Displayed generation throughput",
			Buckets: []float64{1, 5, 10, 20, 40, 80, 160},
		},
		[]string{"model", "source"}, // "ollama" or "local"
	)

	// Upstream metrics
	UpstreamFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ollama_chat_upstream_failures_total",
			Help: "Failed calls to external services",
		},
		[]string{"service"}, // "ollama", "asr", "tts", "ffmpeg"
	)

	SpeechLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ollama_chat_speech_latency_seconds",
			Help:    "Speech service round trip latency",
			Buckets: []float64{.1, .25, .5, 1, 2, 5, 10, 30},
		},
		[]string{"service"},
	)
)
