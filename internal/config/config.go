package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server ServerConfig
	Log    LogConfig
	Ollama OllamaConfig
	Chat   ChatConfig
	Speech SpeechConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ollama, err := loadOllamaConfig()
	if err != nil {
		return nil, err
	}

	chat, err := loadChatConfig()
	if err != nil {
		return nil, err
	}

	speech, err := loadSpeechConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server: server,
		Log:    loadLogConfig(),
		Ollama: ollama,
		Chat:   chat,
		Speech: speech,
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	origins := splitList(getEnvOrDefault("CORS_ALLOWED_ORIGINS", "*"))

	if strings.Contains(port, ":") {
		// Accept ":8080" or "127.0.0.1:8080" as-is.
		return ServerConfig{Addr: port, AllowedOrigins: origins}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port, AllowedOrigins: origins}, nil
}

// LogConfig controls the zerolog root logger.
type LogConfig struct {
	Level  string
	Pretty bool
}

func loadLogConfig() LogConfig {
	return LogConfig{
		Level:  strings.ToLower(getEnvOrDefault("LOG_LEVEL", "info")),
		Pretty: strings.EqualFold(getEnvOrDefault("LOG_FORMAT", "json"), "console"),
	}
}

// OllamaConfig 描述本地推理服务的连接参数。
type OllamaConfig struct {
	BaseURL      string
	Timeout      time.Duration
	DefaultModel string
}

func loadOllamaConfig() (OllamaConfig, error) {
	timeout, err := parseDurationEnv("OLLAMA_TIMEOUT", 30*time.Second)
	if err != nil {
		return OllamaConfig{}, err
	}

	host := getEnvOrDefault("OLLAMA_HOST", "http://127.0.0.1:11434")
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		// Ollama's own CLI accepts a bare host:port in OLLAMA_HOST.
		host = "http://" + host
	}

	return OllamaConfig{
		BaseURL:      strings.TrimRight(host, "/"),
		Timeout:      timeout,
		DefaultModel: strings.TrimSpace(os.Getenv("OLLAMA_DEFAULT_MODEL")),
	}, nil
}

// ChatConfig 描述生成请求的默认参数。
type ChatConfig struct {
	Temperature float64
}

func loadChatConfig() (ChatConfig, error) {
	temperature, err := parseOptionalFloatEnv("CHAT_TEMPERATURE")
	if err != nil {
		return ChatConfig{}, err
	}

	cfg := ChatConfig{Temperature: 0.7}
	if temperature != nil {
		if !(*temperature >= 0 && *temperature <= 1) {
			return ChatConfig{}, fmt.Errorf("invalid CHAT_TEMPERATURE value %v: must be within [0, 1]", *temperature)
		}
		cfg.Temperature = *temperature
	}
	return cfg, nil
}

// SpeechConfig 描述语音服务相关配置
type SpeechConfig struct {
	AppID       string
	AccessToken string
	ASRLanguage string
	TTSVoice    string
	TTSSpeed    float32
	TTSVolume   float32
	TTSLanguage string
	ASREndpoint string
	TTSEndpoint string
	FFmpegPath  string
	Timeout     time.Duration
	Enabled     bool
}

func loadSpeechConfig() (SpeechConfig, error) {
	timeout, err := parseDurationEnv("SPEECH_TIMEOUT", 30*time.Second)
	if err != nil {
		return SpeechConfig{}, err
	}

	speed, err := parseOptionalFloat32Env("SPEECH_TTS_SPEED")
	if err != nil {
		return SpeechConfig{}, err
	}
	ttsSpeed := float32(1.0)
	if speed != nil {
		ttsSpeed = *speed
	}

	volume, err := parseOptionalFloat32Env("SPEECH_TTS_VOLUME")
	if err != nil {
		return SpeechConfig{}, err
	}
	ttsVolume := float32(1.0)
	if volume != nil {
		ttsVolume = *volume
	}

	appID := strings.TrimSpace(os.Getenv("SPEECH_APP_ID"))
	accessToken := strings.TrimSpace(os.Getenv("SPEECH_ACCESS_TOKEN"))

	return SpeechConfig{
		AppID:       appID,
		AccessToken: accessToken,
		ASRLanguage: getEnvOrDefault("SPEECH_ASR_LANGUAGE", "en-US"),
		TTSVoice:    getEnvOrDefault("SPEECH_TTS_VOICE", "en_female_amy_jupiter_bigtts"),
		TTSSpeed:    ttsSpeed,
		TTSVolume:   ttsVolume,
		TTSLanguage: getEnvOrDefault("SPEECH_TTS_LANGUAGE", "en-US"),
		ASREndpoint: strings.TrimSpace(os.Getenv("SPEECH_ASR_ENDPOINT")),
		TTSEndpoint: strings.TrimSpace(os.Getenv("SPEECH_TTS_ENDPOINT")),
		FFmpegPath:  strings.TrimSpace(os.Getenv("SPEECH_FFMPEG_PATH")),
		Timeout:     timeout,
		Enabled:     appID != "" && accessToken != "",
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// parseDurationEnv accepts Go durations ("45s") or a bare number of seconds.
func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	if seconds, err := strconv.Atoi(raw); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalFloat32Env(key string) (*float32, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	result := float32(val)
	return &result, nil
}
