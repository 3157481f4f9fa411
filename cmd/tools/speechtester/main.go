package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/ollama-chat/backend/internal/config"
	"github.com/zhouzirui/ollama-chat/backend/internal/model/persona"
	speechmodel "github.com/zhouzirui/ollama-chat/backend/internal/model/speech"
	"github.com/zhouzirui/ollama-chat/backend/internal/service/speech"
)

func main() {
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.StampMicro}).With().Timestamp().Logger()

	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("无法加载 .env，改用系统环境变量")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("配置加载失败")
	}

	if !cfg.Speech.Enabled {
		log.Fatal().Msg("语音服务未启用，请先配置 SPEECH_APP_ID 与 SPEECH_ACCESS_TOKEN")
	}

	mode := flag.String("mode", "", "测试模式: asr 或 tts")
	audioPath := flag.String("audio", "", "ASR 输入音频文件路径")
	text := flag.String("text", "", "TTS 输入文本")
	outputPath := flag.String("out", "", "TTS 输出音频文件路径 (默认根据格式自动生成)")
	format := flag.String("format", "", "音频格式 (ASR: 输入格式; TTS: 输出格式)")
	language := flag.String("lang", "", "语言代码，默认使用配置中的语言")
	voice := flag.String("voice", "", "TTS 声音 ID，默认使用配置中的 TTSVoice")
	personaID := flag.String("persona", "", "使用该 persona 的声音 (pirate, therapist, comedian)")
	session := flag.String("session", "", "自定义 sessionID，留空则自动生成")
	timeout := flag.Duration("timeout", 45*time.Second, "请求超时时间")

	flag.Parse()

	if *mode != "asr" && *mode != "tts" {
		flag.Usage()
		log.Fatal().Msg("请通过 -mode=asr 或 -mode=tts 指定测试模式")
	}

	sessionID := *session
	if sessionID == "" {
		sessionID = fmt.Sprintf("manual-%d", time.Now().UnixNano())
	}

	svc := speech.NewService(&speechmodel.SpeechConfig{
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
		Timeout:     *timeout,
	}, log.Logger)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch *mode {
	case "asr":
		runASR(ctx, svc, sessionID, *audioPath, *format, *language)
	case "tts":
		if *voice == "" && *personaID != "" {
			p, ok := persona.NewMemoryStore(persona.Seed()).FindByID(*personaID)
			if !ok {
				log.Fatal().Str("persona", *personaID).Msg("未知 persona")
			}
			*voice = p.VoiceID
		}
		runTTS(ctx, svc, sessionID, *text, *voice, *format, *language, *outputPath)
	}
}

func runASR(ctx context.Context, svc *speech.Service, sessionID, audioPath, format, language string) {
	if audioPath == "" {
		log.Fatal().Msg("ASR 模式需要通过 -audio 指定音频文件路径")
	}

	file, err := os.Open(audioPath)
	if err != nil {
		log.Fatal().Err(err).Msg("打开音频文件失败")
	}
	defer file.Close()

	if format == "" {
		format = strings.TrimPrefix(strings.ToLower(filepath.Ext(audioPath)), ".")
		if format == "" {
			format = "wav"
		}
	}

	log.Info().Str("session", sessionID).Str("format", format).Str("language", language).Msg("开始进行 ASR 测试")

	resp, err := svc.TranscribeAudio(ctx, &speechmodel.ASRRequest{
		SessionID: sessionID,
		AudioData: file,
		Format:    format,
		Language:  language,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("ASR 调用失败")
	}

	log.Info().Str("text", resp.Text).Int64("duration_ms", resp.Duration).Msg("ASR 识别成功")
}

func runTTS(ctx context.Context, svc *speech.Service, sessionID, text, voice, format, language, outputPath string) {
	if strings.TrimSpace(text) == "" {
		log.Fatal().Msg("TTS 模式需要通过 -text 提供待合成文本")
	}

	if format == "" {
		format = "mp3"
	}

	if outputPath == "" {
		outputPath = fmt.Sprintf("tts-output-%d.%s", time.Now().Unix(), format)
	}

	log.Info().Str("session", sessionID).Str("voice", speech.NormalizeVoice(voice, svc.DefaultVoice())).Str("format", format).Msg("开始进行 TTS 测试")

	resp, err := svc.SynthesizeSpeech(ctx, &speechmodel.TTSRequest{
		SessionID: sessionID,
		Text:      text,
		Voice:     voice,
		Format:    format,
		Language:  language,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("TTS 调用失败")
	}

	if err := os.WriteFile(outputPath, resp.AudioData, 0o644); err != nil {
		log.Fatal().Err(err).Msg("写入音频文件失败")
	}

	log.Info().Str("out", outputPath).Int64("duration_ms", resp.Duration).Int("bytes", len(resp.AudioData)).Msg("TTS 合成成功")
}
