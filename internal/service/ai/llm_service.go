package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/ollama-chat/backend/internal/model/chat"
	"github.com/zhouzirui/ollama-chat/backend/internal/service/ollama"
)

var (
	// ErrModelRequired is returned when a generation names no model.
	ErrModelRequired = errors.New("model is required")
	// ErrInvalidTemperature is returned for temperatures outside [0, 1].
	ErrInvalidTemperature = errors.New("temperature must be between 0 and 1")
)

// GenerationRequest is everything one reply is conditioned on.
type GenerationRequest struct {
	Model        string
	Temperature  float32
	SystemPrompt string
	// History is sent verbatim and must already end with the user's turn.
	History []chat.Message
}

// Validate checks the request parameters.
func (r GenerationRequest) Validate() error {
	if strings.TrimSpace(r.Model) == "" {
		return ErrModelRequired
	}
	if !(r.Temperature >= 0 && r.Temperature <= 1) {
		return fmt.Errorf("%w: got %.2f", ErrInvalidTemperature, r.Temperature)
	}
	return nil
}

// Service encapsulates AI-powered chat functionality
type Service struct {
	chain  compose.Runnable[map[string]any, *schema.Message]
	logger zerolog.Logger
}

// NewService compiles the prompt chain in front of chatModel.
func NewService(ctx context.Context, chatModel model.BaseChatModel, logger zerolog.Logger) (*Service, error) {
	if chatModel == nil {
		return nil, errors.New("chat model is required")
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", false),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &Service{
		chain:  runnable,
		logger: logger.With().Str("component", "ai").Logger(),
	}, nil
}

// StreamResponse starts a generation and returns its fragments. The caller
// must Close the returned stream.
func (s *Service) StreamResponse(ctx context.Context, req GenerationRequest) (*schema.StreamReader[Fragment], error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	stream, err := s.chain.Stream(ctx, buildChainInput(req),
		compose.WithChatModelOption(
			model.WithModel(req.Model),
			model.WithTemperature(req.Temperature),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to stream AI chain output: %w", err)
	}

	s.logger.Debug().
		Str("model", req.Model).
		Float32("temperature", req.Temperature).
		Int("history", len(req.History)).
		Msg("generation started")

	return schema.StreamReaderWithConvert(stream, toFragment), nil
}

func buildChainInput(req GenerationRequest) map[string]any {
	return map[string]any{
		"system":  req.SystemPrompt,
		"history": buildHistoryMessages(req.History),
	}
}

// buildHistoryMessages converts the stored conversation without dropping
// or reordering turns.
func buildHistoryMessages(messages []chat.Message) []*schema.Message {
	history := make([]*schema.Message, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case chat.RoleUser:
			history = append(history, schema.UserMessage(msg.Content))
		case chat.RoleAssistant:
			history = append(history, schema.AssistantMessage(msg.Content, nil))
		case chat.RoleSystem:
			history = append(history, schema.SystemMessage(msg.Content))
		}
	}
	return history
}

func toFragment(msg *schema.Message) (Fragment, error) {
	if msg == nil {
		return Fragment{}, schema.ErrNoValue
	}

	frag := Fragment{Text: msg.Content}
	if v, ok := msg.Extra[ollama.ExtraTokensPerSecond]; ok {
		if tps, ok := v.(float64); ok {
			frag.TokensPerSecond = &tps
		}
	}
	return frag, nil
}
