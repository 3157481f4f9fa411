package ollama

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

const maxLineSize = 1 << 20

var _ model.BaseChatModel = (*ChatModel)(nil)

// ChatModel adapts the /api/chat endpoint to eino's BaseChatModel so it
// can sit behind a compose chain. The model id and temperature are taken
// from the per-call options.
type ChatModel struct {
	client       *Client
	defaultModel string
}

// NewChatModel wraps client. defaultModel is used when a call does not
// name a model.
func NewChatModel(client *Client, defaultModel string) *ChatModel {
	return &ChatModel{client: client, defaultModel: defaultModel}
}

// Generate returns the complete assistant reply.
func (m *ChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	resp, err := m.client.Chat(ctx, m.buildRequest(input, opts...))
	if err != nil {
		return nil, err
	}
	return toSchemaMessage(resp), nil
}

// Stream returns the assistant reply as it is generated, one message per
// NDJSON line. The final message carries usage and throughput.
func (m *ChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	resp, err := m.client.openChatStream(ctx, m.buildRequest(input, opts...))
	if err != nil {
		return nil, err
	}

	sr, sw := schema.Pipe[*schema.Message](1)
	go func() {
		defer resp.Body.Close()
		defer sw.Close()
		defer func() {
			if r := recover(); r != nil {
				sw.Send(nil, fmt.Errorf("ollama stream panicked: %v", r))
			}
		}()

		m.pump(resp, sw)
	}()

	return sr, nil
}

func (m *ChatModel) pump(resp *http.Response, sw *schema.StreamWriter[*schema.Message]) {
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var chunk ChatResponse
		if err := json.Unmarshal([]byte(line), &chunk); err != nil {
			m.client.logger.Warn().Err(err).Str("line", line).Msg("skipping malformed stream line")
			continue
		}
		if chunk.Error != "" {
			sw.Send(nil, &ClientError{Type: ErrTypeInvalidResponse, Message: chunk.Error})
			return
		}

		if closed := sw.Send(toSchemaMessage(&chunk), nil); closed {
			// Reader went away; closing the body aborts the upstream request.
			return
		}
		if chunk.Done {
			return
		}
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		sw.Send(nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "stream interrupted", Cause: err})
		return
	}
	sw.Send(nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "stream ended before completion"})
}

func (m *ChatModel) buildRequest(input []*schema.Message, opts ...model.Option) ChatRequest {
	defaultModel := m.defaultModel
	common := model.GetCommonOptions(&model.Options{Model: &defaultModel}, opts...)

	req := ChatRequest{
		Messages: make([]Message, 0, len(input)),
	}
	if common.Model != nil {
		req.Model = *common.Model
	}

	for _, msg := range input {
		if msg == nil {
			continue
		}
		req.Messages = append(req.Messages, Message{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}

	if common.Temperature != nil || common.TopP != nil || common.MaxTokens != nil || len(common.Stop) > 0 {
		req.Options = &Options{
			Temperature: common.Temperature,
			TopP:        common.TopP,
			NumPredict:  common.MaxTokens,
			Stop:        common.Stop,
		}
	}
	return req
}

func toSchemaMessage(resp *ChatResponse) *schema.Message {
	msg := &schema.Message{
		Role:    schema.Assistant,
		Content: resp.Message.Content,
	}

	if !resp.Done {
		return msg
	}

	msg.ResponseMeta = &schema.ResponseMeta{
		FinishReason: resp.DoneReason,
		Usage: &schema.TokenUsage{
			PromptTokens:     resp.PromptEvalCount,
			CompletionTokens: resp.EvalCount,
			TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
		},
	}
	if tps, ok := resp.TokensPerSecond(); ok {
		msg.Extra = map[string]any{ExtraTokensPerSecond: tps}
	}
	return msg
}
