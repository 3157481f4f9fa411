package speech

import "time"

// SpeechConfig 语音服务配置
type SpeechConfig struct {
	// Volcengine credentials.
	AppID       string `json:"appId"`
	AccessToken string `json:"accessToken"`

	ASRLanguage string `json:"asrLanguage"`

	TTSVoice    string  `json:"ttsVoice"`
	TTSSpeed    float32 `json:"ttsSpeed"`
	TTSVolume   float32 `json:"ttsVolume"`
	TTSLanguage string  `json:"ttsLanguage"`

	// Websocket endpoints; empty selects the public Volcengine hosts.
	ASREndpoint string `json:"asrEndpoint,omitempty"`
	TTSEndpoint string `json:"ttsEndpoint,omitempty"`

	// FFmpegPath enables transcoding of browser recordings before ASR.
	FFmpegPath string `json:"ffmpegPath,omitempty"`

	Timeout time.Duration `json:"timeout"`
}
