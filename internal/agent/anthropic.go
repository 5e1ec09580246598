package agent

import (
	"context"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicAgent invokes a single Claude model as a roundtable
// participant: one user message in, the concatenated text blocks out. It
// calls Messages.New directly — a roundtable turn is a single tool-free
// exchange, so none of the streaming or tool-call plumbing a full
// orchestrator needs applies here.
type AnthropicAgent struct {
	client    anthropic.Client
	modelName string
	maxTokens int64
}

// NewAnthropicAgent constructs a Claude-backed agent for modelName.
func NewAnthropicAgent(modelName, apiKey string) *AnthropicAgent {
	return &AnthropicAgent{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		modelName: modelName,
		maxTokens: 4096,
	}
}

// Invoke sends prompt as a single user turn and waits for the complete
// response, bounded by deadline.
func (a *AnthropicAgent) Invoke(ctx context.Context, prompt string, deadline time.Time) (Response, error) {
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	start := time.Now()
	msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.modelName),
		MaxTokens: a.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	latency := time.Since(start)
	if err != nil {
		return Response{Latency: latency}, err
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	answer := strings.TrimSpace(text.String())
	if answer == "" {
		return Response{Latency: latency}, ErrEmptyResponse
	}

	return Response{
		Text:       answer,
		Confidence: confidenceFromStop(string(msg.StopReason)),
		Latency:    latency,
	}, nil
}

// confidenceFromStop derives a coarse confidence score from how the model
// ended its turn. A clean end_turn or stop_sequence is treated as fully
// confident; a truncated answer is discounted.
func confidenceFromStop(stopReason string) float64 {
	switch stopReason {
	case "end_turn", "stop_sequence":
		return 1.0
	case "max_tokens":
		return 0.6
	default:
		return 0.7
	}
}
