package speech

import "time"

// ASRResponse 语音识别响应
type ASRResponse struct {
	SessionID string    `json:"sessionId"`
	Text      string    `json:"text"`
	Duration  int64     `json:"duration"` // milliseconds of audio
	RequestID string    `json:"requestId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// TTSResponse 语音合成响应
type TTSResponse struct {
	SessionID string    `json:"sessionId"`
	AudioData []byte    `json:"-"`
	Duration  int64     `json:"duration"` // milliseconds
	Format    string    `json:"format"`
	RequestID string    `json:"requestId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}
