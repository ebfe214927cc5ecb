package conversation

import (
	"context"
	"fmt"
	"time"

	"github.com/discord-voice-reply/internal/logging"
	"github.com/discord-voice-reply/llm"
)

// Apology is delivered whenever the model call fails or returns nothing.
const Apology = "Sorry, I couldn't come up with a reply just now."

// Completer is the subset of llm.Client the generator needs.
type Completer interface {
	CreateChatCompletion(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error)
}

type Reply struct {
	Text    string
	Failed  bool
	Model   string
	Usage   llm.Usage
	Latency time.Duration
}

// Generator turns a combined utterance into a short spoken-style reply.
type Generator struct {
	LLM         Completer
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

func SystemPrompt(speakerName string) string {
	return fmt.Sprintf("You are a friendly participant in a Discord voice channel. You are currently talking with %s. "+
		"Your reply will be read in the channel chat, so answer in one or two short, natural spoken sentences without markdown.", speakerName)
}

// Generate is safe to call off the session loop: history is a snapshot and
// is not modified. It never returns an error; failures yield Apology.
func (g *Generator) Generate(ctx context.Context, utterance string, history []llm.Message, speakerName string) Reply {
	msgs := make([]llm.Message, 0, len(history)+2)
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: SystemPrompt(speakerName)})
	msgs = append(msgs, history...)
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: utterance})

	timeout := g.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	maxTokens := g.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 150
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	resp, err := g.LLM.CreateChatCompletion(cctx, llm.ChatRequest{
		Messages:    msgs,
		MaxTokens:   maxTokens,
		Temperature: g.Temperature,
	})
	latency := time.Since(start)
	if err != nil {
		logging.WarnwCtx(ctx, "reply: model call failed", "err", err, "latency_ms", latency.Milliseconds())
		return Reply{Text: Apology, Failed: true, Latency: latency}
	}
	if resp.Content == "" {
		logging.WarnwCtx(ctx, "reply: model returned empty content", "model", resp.Model)
		return Reply{Text: Apology, Failed: true, Model: resp.Model, Latency: latency}
	}
	logging.InfowCtx(ctx, "reply: generated", "model", resp.Model, "reply_len", len(resp.Content),
		"prompt_tokens", resp.Usage.PromptTokens, "total_tokens", resp.Usage.TotalTokens, "latency_ms", latency.Milliseconds())
	return Reply{Text: resp.Content, Model: resp.Model, Usage: resp.Usage, Latency: latency}
}
