package speech

import (
	"errors"
	"strings"

	speechmodel "github.com/zhouzirui/ollama-chat/backend/internal/model/speech"
)

// ErrNotConfigured is returned when Volcengine credentials are missing.
var ErrNotConfigured = errors.New("speech service is not configured")

// resolveCredentials 返回规范化后的 AppID 与 AccessToken，缺失时返回 ErrNotConfigured。
func resolveCredentials(cfg *speechmodel.SpeechConfig) (appID, token string, err error) {
	if cfg == nil {
		return "", "", ErrNotConfigured
	}

	appID = strings.TrimSpace(cfg.AppID)
	token = strings.TrimSpace(cfg.AccessToken)
	if appID == "" || token == "" {
		return "", "", ErrNotConfigured
	}
	return appID, token, nil
}
