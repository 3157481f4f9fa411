package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	speechmodel "github.com/zhouzirui/ollama-chat/backend/internal/model/speech"
)

const defaultTTSEndpoint = "wss://openspeech.bytedance.com/api/v3/tts/unidirectional/stream"

// ttsSuccessCode marks the final status message of a synthesis session.
const ttsSuccessCode = 20000000

// VolcengineTTSClient 火山引擎TTS WebSocket客户端
type VolcengineTTSClient struct {
	config   *speechmodel.SpeechConfig
	endpoint string
	dialer   *websocket.Dialer
	logger   zerolog.Logger
}

type ttsRequestBody struct {
	User struct {
		UID string `json:"uid"`
	} `json:"user"`
	ReqParams struct {
		Speaker     string         `json:"speaker"`
		Text        string         `json:"text"`
		AudioParams ttsAudioParams `json:"audio_params"`
		Additions   string         `json:"additions,omitempty"`
		Language    string         `json:"language,omitempty"`
	} `json:"req_params"`
}

type ttsAudioParams struct {
	Format      string  `json:"format"`
	SampleRate  int     `json:"sample_rate"`
	SpeedRatio  float32 `json:"speed_ratio,omitempty"`
	VolumeRatio float32 `json:"volume_ratio,omitempty"`
}

type ttsServerMessage struct {
	ReqID    string `json:"reqid"`
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Sequence int    `json:"sequence"`
	Data     string `json:"data"`
	Addition struct {
		Duration string `json:"duration,omitempty"`
	} `json:"addition,omitempty"`
}

// NewVolcengineTTSClient 创建火山引擎TTS客户端
func NewVolcengineTTSClient(config *speechmodel.SpeechConfig, logger zerolog.Logger) *VolcengineTTSClient {
	endpoint := defaultTTSEndpoint
	if config != nil && strings.TrimSpace(config.TTSEndpoint) != "" {
		endpoint = strings.TrimSpace(config.TTSEndpoint)
	}

	return &VolcengineTTSClient{
		config:   config,
		endpoint: endpoint,
		dialer:   &websocket.Dialer{HandshakeTimeout: 30 * time.Second},
		logger:   logger.With().Str("component", "tts").Logger(),
	}
}

// Synthesize converts req.Text to audio. Audio arrives either as binary
// frames or base64 in JSON frames; both are concatenated in order.
func (c *VolcengineTTSClient) Synthesize(ctx context.Context, req *speechmodel.TTSRequest) (*speechmodel.TTSResponse, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, ErrEmptyText
	}

	appID, token, err := resolveCredentials(c.config)
	if err != nil {
		return nil, err
	}

	speaker := NormalizeVoice(req.Voice, c.config.TTSVoice)
	format := strings.TrimSpace(req.Format)
	if format == "" || format == "wav" {
		format = "mp3"
	}

	connectID := uuid.NewString()
	header := http.Header{}
	header.Set("X-Api-App-Key", appID)
	header.Set("X-Api-Access-Key", token)
	header.Set("X-Api-Resource-Id", resourceForVoice(speaker))
	header.Set("X-Api-Connect-Id", connectID)

	conn, resp, err := c.dialer.DialContext(ctx, c.endpoint, header)
	if err != nil {
		return nil, fmt.Errorf("%w: dial TTS: %v", ErrUnreachable, err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if resp != nil {
		if logID := resp.Header.Get("X-Tt-Logid"); logID != "" {
			c.logger.Debug().Str("logid", logID).Str("speaker", speaker).Msg("TTS connected")
		}
	}

	body, err := json.Marshal(c.buildRequest(req, speaker, format))
	if err != nil {
		return nil, fmt.Errorf("marshal TTS request: %w", err)
	}
	first, err := newRequestFrame(body, false)
	if err != nil {
		return nil, err
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, first.marshal()); err != nil {
		return nil, fmt.Errorf("%w: send TTS request: %v", ErrUnreachable, err)
	}

	out, err := c.receive(conn, connectID)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	out.SessionID = req.SessionID
	out.Format = format
	return out, nil
}

func (c *VolcengineTTSClient) buildRequest(req *speechmodel.TTSRequest, speaker, format string) *ttsRequestBody {
	body := &ttsRequestBody{}

	body.User.UID = strings.TrimSpace(req.SessionID)
	if body.User.UID == "" {
		body.User.UID = uuid.NewString()
	}
	body.ReqParams.Speaker = speaker
	body.ReqParams.Text = req.Text
	body.ReqParams.AudioParams.Format = format
	body.ReqParams.AudioParams.SampleRate = 24000

	speed := req.Speed
	if speed <= 0 {
		speed = c.config.TTSSpeed
	}
	if speed > 0 && speed != 1 {
		body.ReqParams.AudioParams.SpeedRatio = speed
	}

	volume := req.Volume
	if volume <= 0 {
		volume = c.config.TTSVolume
	}
	if volume > 0 && volume != 1 {
		body.ReqParams.AudioParams.VolumeRatio = volume
	}

	body.ReqParams.Language = strings.TrimSpace(req.Language)
	if body.ReqParams.Language == "" {
		body.ReqParams.Language = strings.TrimSpace(c.config.TTSLanguage)
	}

	// Model replies are markdown; let the service strip it before speaking.
	body.ReqParams.Additions = `{"disable_markdown_filter":false}`
	return body
}

func (c *VolcengineTTSClient) receive(conn *websocket.Conn, connectID string) (*speechmodel.TTSResponse, error) {
	var (
		audio    bytes.Buffer
		reqID    string
		duration int64
	)

	finish := func() (*speechmodel.TTSResponse, error) {
		if audio.Len() == 0 {
			return nil, fmt.Errorf("%w: TTS returned no audio", ErrUnreachable)
		}
		if reqID == "" {
			reqID = connectID
		}
		return &speechmodel.TTSResponse{
			AudioData: audio.Bytes(),
			Duration:  duration,
			RequestID: reqID,
			CreatedAt: time.Now(),
		}, nil
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("%w: read TTS response: %v", ErrUnreachable, err)
		}

		f, err := parseFrame(data)
		if err != nil {
			return nil, fmt.Errorf("%w: decode TTS frame: %v", ErrUnreachable, err)
		}

		switch f.Type {
		case frameError:
			payload, _ := f.body()
			return nil, fmt.Errorf("%w: TTS error %d: %s", ErrUnreachable, f.ErrorCode, payload)

		case frameAudioOnlyResponse:
			chunk, err := f.body()
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
			}
			audio.Write(chunk)
			if f.isLast() {
				return finish()
			}

		case frameFullServerResponse:
			if f.hasEvent() && f.Event == eventSessionFailed {
				payload, _ := f.body()
				return nil, fmt.Errorf("%w: TTS session failed: %s", ErrUnreachable, payload)
			}

			payload, err := f.body()
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
			}

			var msg ttsServerMessage
			if len(payload) > 0 {
				if err := json.Unmarshal(payload, &msg); err != nil {
					c.logger.Warn().Err(err).Msg("skipping undecodable TTS payload")
				} else {
					if msg.Code != 0 && msg.Code != ttsSuccessCode && msg.Code != 3000 {
						return nil, fmt.Errorf("%w: TTS error %d: %s", ErrUnreachable, msg.Code, msg.Message)
					}
					if msg.ReqID != "" {
						reqID = msg.ReqID
					}
					if ms, err := strconv.ParseInt(msg.Addition.Duration, 10, 64); err == nil {
						duration = ms
					}
					if msg.Data != "" {
						chunk, err := base64.StdEncoding.DecodeString(msg.Data)
						if err != nil {
							return nil, fmt.Errorf("%w: bad audio chunk: %v", ErrUnreachable, err)
						}
						audio.Write(chunk)
					}
				}
			}

			sessionDone := f.hasEvent() && f.Event == eventSessionFinished
			if sessionDone || msg.Code == ttsSuccessCode || f.isLast() || msg.Sequence < 0 {
				return finish()
			}
		}
	}
}
