package speech

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	speechmodel "github.com/zhouzirui/ollama-chat/backend/internal/model/speech"
)

const (
	defaultASREndpoint = "wss://openspeech.bytedance.com/api/v3/sauc/bigmodel_nostream"
	asrResourceID      = "volc.bigasr.sauc.duration"

	// 16 kHz, 16 bit, mono: 200 ms of audio per packet.
	asrChunkSize = 6400
)

// asrSuccessCode is returned by the service alongside normal results.
const asrSuccessCode = 20000000

// VolcengineASRClient 火山引擎ASR WebSocket客户端
type VolcengineASRClient struct {
	config   *speechmodel.SpeechConfig
	endpoint string
	dialer   *websocket.Dialer
	logger   zerolog.Logger

	chunkSize int
	// pace is the delay between audio packets.
	pace time.Duration
}

type asrRequestBody struct {
	User struct {
		UID string `json:"uid,omitempty"`
	} `json:"user"`
	Audio struct {
		Language string `json:"language,omitempty"`
		Format   string `json:"format"`
		Codec    string `json:"codec,omitempty"`
		Rate     int    `json:"rate,omitempty"`
		Bits     int    `json:"bits,omitempty"`
		Channel  int    `json:"channel,omitempty"`
	} `json:"audio"`
	Request struct {
		ModelName      string `json:"model_name"`
		EnableITN      bool   `json:"enable_itn,omitempty"`
		EnablePunc     bool   `json:"enable_punc,omitempty"`
		ShowUtterances bool   `json:"show_utterances,omitempty"`
		ResultType     string `json:"result_type,omitempty"`
		EndWindowSize  int    `json:"end_window_size,omitempty"`
	} `json:"request"`
}

type asrUtterance struct {
	Text     string `json:"text"`
	Definite bool   `json:"definite"`
}

type asrServerMessage struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Sequence int    `json:"sequence"`
	Result   struct {
		Text       string         `json:"text"`
		Utterances []asrUtterance `json:"utterances,omitempty"`
	} `json:"result"`
	AudioInfo struct {
		Duration int64 `json:"duration"`
	} `json:"audio_info"`
}

// NewVolcengineASRClient 创建火山引擎ASR客户端
func NewVolcengineASRClient(config *speechmodel.SpeechConfig, logger zerolog.Logger) *VolcengineASRClient {
	endpoint := defaultASREndpoint
	if config != nil && strings.TrimSpace(config.ASREndpoint) != "" {
		endpoint = strings.TrimSpace(config.ASREndpoint)
	}

	return &VolcengineASRClient{
		config:    config,
		endpoint:  endpoint,
		dialer:    &websocket.Dialer{HandshakeTimeout: 30 * time.Second},
		logger:    logger.With().Str("component", "asr").Logger(),
		chunkSize: asrChunkSize,
		pace:      200 * time.Millisecond,
	}
}

// Transcribe sends req's audio and waits for the final transcript.
func (c *VolcengineASRClient) Transcribe(ctx context.Context, req *speechmodel.ASRRequest) (*speechmodel.ASRResponse, error) {
	appID, token, err := resolveCredentials(c.config)
	if err != nil {
		return nil, err
	}

	audio, err := io.ReadAll(req.AudioData)
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, ErrUnintelligible
	}

	connectID := uuid.NewString()
	header := http.Header{}
	header.Set("X-Api-App-Key", appID)
	header.Set("X-Api-Access-Key", token)
	header.Set("X-Api-Resource-Id", asrResourceID)
	header.Set("X-Api-Connect-Id", connectID)

	conn, resp, err := c.dialer.DialContext(ctx, c.endpoint, header)
	if err != nil {
		return nil, fmt.Errorf("%w: dial ASR: %v", ErrUnreachable, err)
	}
	defer conn.Close()

	if resp != nil {
		if logID := resp.Header.Get("X-Tt-Logid"); logID != "" {
			c.logger.Debug().Str("logid", logID).Str("session", req.SessionID).Msg("ASR connected")
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	// Unblocks ReadMessage once the caller gives up.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	body, err := json.Marshal(c.buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("marshal ASR request: %w", err)
	}
	first, err := newRequestFrame(body, true)
	if err != nil {
		return nil, err
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, first.marshal()); err != nil {
		return nil, fmt.Errorf("%w: send ASR request: %v", ErrUnreachable, err)
	}

	sendErr := make(chan error, 1)
	go func() {
		sendErr <- c.sendAudio(ctx, conn, audio)
	}()

	type result struct {
		resp *speechmodel.ASRResponse
		err  error
	}
	recv := make(chan result, 1)
	go func() {
		r, err := c.receive(conn, req.SessionID, connectID)
		recv <- result{r, err}
	}()

	for {
		select {
		case err := <-sendErr:
			if err != nil {
				return nil, fmt.Errorf("%w: send audio: %v", ErrUnreachable, err)
			}
			sendErr = nil
		case r := <-recv:
			if r.err != nil && ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return r.resp, r.err
		}
	}
}

func (c *VolcengineASRClient) buildRequest(req *speechmodel.ASRRequest) *asrRequestBody {
	body := &asrRequestBody{}
	body.User.UID = req.SessionID

	body.Audio.Format = strings.TrimSpace(req.Format)
	if body.Audio.Format == "" {
		body.Audio.Format = "wav"
	}
	body.Audio.Language = strings.TrimSpace(req.Language)
	if body.Audio.Language == "" && c.config != nil {
		body.Audio.Language = c.config.ASRLanguage
	}
	body.Audio.Codec = "raw"
	body.Audio.Rate = 16000
	body.Audio.Bits = 16
	body.Audio.Channel = 1

	body.Request.ModelName = "bigmodel"
	body.Request.EnableITN = true
	body.Request.EnablePunc = true
	body.Request.ShowUtterances = true
	body.Request.ResultType = "full"
	body.Request.EndWindowSize = 800
	return body
}

// sendAudio streams audio in fixed-size packets. Sequence 1 belongs to
// the request frame, so audio starts at 2.
func (c *VolcengineASRClient) sendAudio(ctx context.Context, conn *websocket.Conn, audio []byte) error {
	seq := int32(2)
	for offset := 0; offset < len(audio); offset += c.chunkSize {
		end := min(offset+c.chunkSize, len(audio))
		last := end == len(audio)

		f, err := newAudioFrame(audio[offset:end], seq, last)
		if err != nil {
			return err
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, f.marshal()); err != nil {
			return err
		}
		if last {
			return nil
		}
		seq++

		if c.pace > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.pace):
			}
		}
	}
	return nil
}

func (c *VolcengineASRClient) receive(conn *websocket.Conn, sessionID, connectID string) (*speechmodel.ASRResponse, error) {
	var (
		text     string
		duration int64
	)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("%w: read ASR response: %v", ErrUnreachable, err)
		}

		f, err := parseFrame(data)
		if err != nil {
			return nil, fmt.Errorf("%w: decode ASR frame: %v", ErrUnreachable, err)
		}

		switch f.Type {
		case frameError:
			payload, _ := f.body()
			return nil, fmt.Errorf("%w: ASR error %d: %s", ErrUnreachable, f.ErrorCode, payload)

		case frameFullServerResponse:
			payload, err := f.body()
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
			}

			var msg asrServerMessage
			if err := json.Unmarshal(payload, &msg); err != nil {
				c.logger.Warn().Err(err).Msg("skipping undecodable ASR payload")
				continue
			}
			if msg.Code != 0 && msg.Code != asrSuccessCode {
				return nil, fmt.Errorf("%w: ASR error %d: %s", ErrUnreachable, msg.Code, msg.Message)
			}

			if candidate := transcriptOf(msg); candidate != "" {
				text = candidate
			}
			if msg.AudioInfo.Duration > 0 {
				duration = msg.AudioInfo.Duration
			}

			if f.isLast() || msg.Sequence < 0 {
				if strings.TrimSpace(text) == "" {
					return nil, ErrUnintelligible
				}
				return &speechmodel.ASRResponse{
					SessionID: sessionID,
					Text:      strings.TrimSpace(text),
					Duration:  duration,
					RequestID: connectID,
					CreatedAt: time.Now(),
				}, nil
			}
		}
	}
}

func transcriptOf(msg asrServerMessage) string {
	if msg.Result.Text != "" {
		return msg.Result.Text
	}

	parts := make([]string, 0, len(msg.Result.Utterances))
	for _, u := range msg.Result.Utterances {
		if t := strings.TrimSpace(u.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}
