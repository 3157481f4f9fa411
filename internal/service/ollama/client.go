// Package ollama talks to a local Ollama server: model listing over
// /api/tags and chat generation over /api/chat.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ErrorType categorizes client errors for handling.
type ErrorType int

const (
	ErrTypeUnknown ErrorType = iota
	ErrTypeNotRunning
	ErrTypeTimeout
	ErrTypeModelNotFound
	ErrTypeInvalidResponse
)

// ClientError represents an error from the Ollama client.
type ClientError struct {
	Type    ErrorType
	Message string
	Cause   error
}

func (e *ClientError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *ClientError) Unwrap() error {
	return e.Cause
}

// Is matches on the error category so wrapped instances compare equal to
// the sentinels below.
func (e *ClientError) Is(target error) bool {
	var other *ClientError
	if !errors.As(target, &other) {
		return false
	}
	return e.Type == other.Type
}

// Sentinel errors for errors.Is checks.
var (
	ErrNotRunning    = &ClientError{Type: ErrTypeNotRunning, Message: "Ollama is not running"}
	ErrTimeout       = &ClientError{Type: ErrTypeTimeout, Message: "request timed out"}
	ErrModelNotFound = &ClientError{Type: ErrTypeModelNotFound, Message: "model not found"}
)

// Config holds configuration options for the Ollama client.
type Config struct {
	BaseURL string
	// Timeout bounds non-streaming calls. Streams are bounded by their context.
	Timeout time.Duration
	Logger  zerolog.Logger
}

// Client handles communication with the Ollama API. It is safe for
// concurrent use.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	streamClient *http.Client
	logger       zerolog.Logger
}

// NewClient creates a client for the server at cfg.BaseURL.
func NewClient(cfg Config) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:11434"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		baseURL:      baseURL,
		httpClient:   &http.Client{Timeout: timeout},
		streamClient: &http.Client{},
		logger:       cfg.Logger.With().Str("component", "ollama").Logger(),
	}
}

// ListModels retrieves all installed models.
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, &ClientError{Type: ErrTypeUnknown, Message: "failed to create request", Cause: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &ClientError{
			Type:    ErrTypeInvalidResponse,
			Message: "failed to list models: " + resp.Status,
		}
	}

	var result listModelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to decode model list", Cause: err}
	}

	c.logger.Debug().Int("count", len(result.Models)).Msg("listed models")
	return result.Models, nil
}

// ModelNames lists the identifiers of installed models.
func (c *Client) ModelNames(ctx context.Context) ([]string, error) {
	models, err := c.ListModels(ctx)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(models))
	for _, m := range models {
		if id := m.Identifier(); id != "" {
			names = append(names, id)
		}
	}
	return names, nil
}

// Chat performs a non-streaming chat request.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	req.Stream = false

	resp, err := c.postChat(ctx, c.httpClient, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to decode response", Cause: err}
	}
	if result.Error != "" {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: result.Error}
	}
	return &result, nil
}

// openChatStream starts a streaming chat request. The caller owns the
// returned response body.
func (c *Client) openChatStream(ctx context.Context, req ChatRequest) (*http.Response, error) {
	req.Stream = true
	return c.postChat(ctx, c.streamClient, req)
}

func (c *Client) postChat(ctx context.Context, hc *http.Client, reqBody ChatRequest) (*http.Response, error) {
	if strings.TrimSpace(reqBody.Model) == "" {
		return nil, &ClientError{Type: ErrTypeModelNotFound, Message: "model is required"}
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, &ClientError{Type: ErrTypeUnknown, Message: "failed to marshal request", Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, &ClientError{Type: ErrTypeUnknown, Message: "failed to create request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}

	if resp.StatusCode == http.StatusOK {
		return resp, nil
	}
	defer resp.Body.Close()

	var apiErr errorResponse
	_ = json.NewDecoder(resp.Body).Decode(&apiErr)

	if resp.StatusCode == http.StatusNotFound {
		return nil, &ClientError{Type: ErrTypeModelNotFound, Message: fmt.Sprintf("model %q not found", reqBody.Model)}
	}
	if apiErr.Error != "" {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: apiErr.Error}
	}
	return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "chat request failed: " + resp.Status}
}

func classifyTransportError(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &ClientError{Type: ErrTypeTimeout, Message: "request timed out", Cause: err}
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &ClientError{Type: ErrTypeNotRunning, Message: "Ollama is not running", Cause: err}
}
