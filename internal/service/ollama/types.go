package ollama

import "time"

// ExtraTokensPerSecond is the schema.Message Extra key under which the
// final streamed chunk carries Ollama's own generation throughput.
const ExtraTokensPerSecond = "ollama_tokens_per_second"

// Message is a chat turn in Ollama's wire format.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options are the model parameters forwarded with a chat request.
type Options struct {
	Temperature *float32 `json:"temperature,omitempty"`
	TopP        *float32 `json:"top_p,omitempty"`
	NumPredict  *int     `json:"num_predict,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

// ChatRequest is the request body for /api/chat.
type ChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
	Options  *Options  `json:"options,omitempty"`
}

// ChatResponse is one NDJSON line of /api/chat, or the whole body when
// streaming is off.
type ChatResponse struct {
	Model              string    `json:"model"`
	CreatedAt          time.Time `json:"created_at"`
	Message            Message   `json:"message"`
	Done               bool      `json:"done"`
	DoneReason         string    `json:"done_reason,omitempty"`
	TotalDuration      int64     `json:"total_duration,omitempty"`
	LoadDuration       int64     `json:"load_duration,omitempty"`
	PromptEvalCount    int       `json:"prompt_eval_count,omitempty"`
	PromptEvalDuration int64     `json:"prompt_eval_duration,omitempty"`
	EvalCount          int       `json:"eval_count,omitempty"`
	EvalDuration       int64     `json:"eval_duration,omitempty"` // nanoseconds
	Error              string    `json:"error,omitempty"`
}

// TokensPerSecond is Ollama's generation speed for a finished response.
// ok is false when the server did not report timing.
func (r *ChatResponse) TokensPerSecond() (tps float64, ok bool) {
	if r.EvalDuration <= 0 || r.EvalCount <= 0 {
		return 0, false
	}
	return float64(r.EvalCount) / (float64(r.EvalDuration) / float64(time.Second)), true
}

// ModelInfo describes an installed model as reported by /api/tags.
type ModelInfo struct {
	Name       string       `json:"name"`
	Model      string       `json:"model"`
	ModifiedAt time.Time    `json:"modified_at"`
	Size       int64        `json:"size"`
	Digest     string       `json:"digest"`
	Details    ModelDetails `json:"details,omitempty"`
}

// ModelDetails contains detailed information about a model.
type ModelDetails struct {
	Format            string `json:"format"`
	Family            string `json:"family"`
	ParameterSize     string `json:"parameter_size"`
	QuantizationLevel string `json:"quantization_level"`
}

// Identifier is the name used to address the model in chat requests.
func (m ModelInfo) Identifier() string {
	if m.Model != "" {
		return m.Model
	}
	return m.Name
}

type listModelsResponse struct {
	Models []ModelInfo `json:"models"`
}

type errorResponse struct {
	Error string `json:"error"`
}
