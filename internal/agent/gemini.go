package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	adkmodel "google.golang.org/adk/model"
	"google.golang.org/adk/model/gemini"
	"google.golang.org/genai"
)

// GeminiAgent invokes a Gemini model as a roundtable participant, the
// second LLM vendor wired alongside AnthropicAgent: the same narrow
// single-turn shim over a different backend.
type GeminiAgent struct {
	llm adkmodel.LLM
}

// NewGeminiAgent constructs a Gemini-backed agent for modelName.
func NewGeminiAgent(ctx context.Context, modelName, apiKey string) (*GeminiAgent, error) {
	llm, err := gemini.NewModel(ctx, modelName, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("agent: create gemini model: %w", err)
	}
	return &GeminiAgent{llm: llm}, nil
}

// Invoke sends prompt as a single user turn and waits for the first
// response the adkmodel.LLM yields. AnthropicAgent.Invoke calls the
// Anthropic client directly rather than through adkmodel.LLM.
func (a *GeminiAgent) Invoke(ctx context.Context, prompt string, deadline time.Time) (Response, error) {
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	req := &adkmodel.LLMRequest{
		Contents: []*genai.Content{
			{
				Role:  "user",
				Parts: []*genai.Part{{Text: prompt}},
			},
		},
	}

	start := time.Now()
	var text string
	var finishReason genai.FinishReason
	var turnComplete bool
	var callErr error

	for resp, err := range a.llm.GenerateContent(ctx, req, false) {
		if err != nil {
			callErr = err
			break
		}
		if resp == nil {
			continue
		}
		finishReason = resp.FinishReason
		turnComplete = resp.TurnComplete
		if resp.Content != nil {
			for _, part := range resp.Content.Parts {
				if part.Text != "" {
					text += part.Text
				}
			}
		}
		break
	}
	latency := time.Since(start)

	if callErr != nil {
		return Response{Latency: latency}, callErr
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Response{Latency: latency}, ErrEmptyResponse
	}

	return Response{
		Text:       text,
		Confidence: confidenceFromFinish(finishReason, turnComplete),
		Latency:    latency,
	}, nil
}

// confidenceFromFinish derives a coarse confidence score from how the
// Gemini turn ended, mirroring confidenceFromStop's treatment of
// Anthropic's stop reasons. An incomplete turn is discounted regardless
// of finish reason; a clean stop is fully confident; a truncated answer
// is discounted.
func confidenceFromFinish(reason genai.FinishReason, complete bool) float64 {
	if !complete {
		return 0.5
	}
	switch reason {
	case genai.FinishReasonStop:
		return 1.0
	case genai.FinishReasonMaxTokens:
		return 0.6
	default:
		return 0.7
	}
}
