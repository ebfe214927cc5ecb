package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type ChatRequest struct {
	Model       string
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

type Usage struct {
	PromptTokens int64
	TotalTokens  int64
}

type ChatResponse struct {
	ID      string
	Model   string
	Content string
	Usage   Usage
}

var (
	ErrPermanent = errors.New("permanent error")
	ErrTransient = errors.New("transient error")
)

// Client is an OpenAI-compatible chat completion client. A fallback model
// is tried once when the primary fails transiently.
type Client struct {
	BaseURL       string
	Model         string
	FallbackModel string
	MaxTokens     int

	api openai.Client
}

type Options struct {
	BaseURL       string
	APIKey        string
	Model         string
	FallbackModel string
	MaxTokens     int
	Timeout       time.Duration
	HTTP          *http.Client
}

func NewClient(o Options) *Client {
	if o.BaseURL == "" {
		o.BaseURL = "http://127.0.0.1:8000/v1"
	}
	if o.Model == "" {
		o.Model = "local"
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = 150
	}
	if o.Timeout <= 0 {
		o.Timeout = 20 * time.Second
	}
	if o.HTTP == nil {
		o.HTTP = &http.Client{Timeout: o.Timeout}
	}
	opts := []option.RequestOption{
		option.WithBaseURL(strings.TrimRight(o.BaseURL, "/") + "/"),
		option.WithHTTPClient(o.HTTP),
		option.WithRequestTimeout(o.Timeout),
		// the pipeline drops failed replies instead of retrying
		option.WithMaxRetries(0),
	}
	if o.APIKey != "" {
		opts = append(opts, option.WithAPIKey(o.APIKey))
	}
	return &Client{
		BaseURL:       strings.TrimRight(o.BaseURL, "/"),
		Model:         o.Model,
		FallbackModel: o.FallbackModel,
		MaxTokens:     o.MaxTokens,
		api:           openai.NewClient(opts...),
	}
}

func (c *Client) CreateChatCompletion(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = c.Model
	}
	resp, err := c.complete(ctx, model, req)
	if err != nil && errors.Is(err, ErrTransient) && c.FallbackModel != "" && c.FallbackModel != model {
		select {
		case <-ctx.Done():
			return ChatResponse{}, fmt.Errorf("%w: %v", ErrTransient, ctx.Err())
		case <-time.After(250 * time.Millisecond):
		}
		return c.complete(ctx, c.FallbackModel, req)
	}
	return resp, err
}

func (c *Client) complete(ctx context.Context, model string, req ChatRequest) (ChatResponse, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 || maxTokens > c.MaxTokens {
		maxTokens = c.MaxTokens
	}
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			msgs = append(msgs, openai.SystemMessage(m.Content))
		case RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		default:
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}
	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(model),
		Messages:    msgs,
		MaxTokens:   openai.Int(int64(maxTokens)),
		Temperature: openai.Float(req.Temperature),
	}

	out, err := c.api.Chat.Completions.New(ctx, params)
	if err != nil {
		return ChatResponse{}, classify(err)
	}
	if len(out.Choices) == 0 {
		return ChatResponse{}, fmt.Errorf("%w: response has no choices", ErrTransient)
	}
	return ChatResponse{
		ID:      out.ID,
		Model:   model,
		Content: strings.TrimSpace(out.Choices[0].Message.Content),
		Usage: Usage{
			PromptTokens: out.Usage.PromptTokens,
			TotalTokens:  out.Usage.TotalTokens,
		},
	}, nil
}

// classify maps 429 and 5xx to ErrTransient, other statuses to ErrPermanent,
// and transport failures to ErrTransient.
func classify(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500 {
			return fmt.Errorf("%w: status %d", ErrTransient, apiErr.StatusCode)
		}
		return fmt.Errorf("%w: status %d", ErrPermanent, apiErr.StatusCode)
	}
	return fmt.Errorf("%w: %v", ErrTransient, err)
}
