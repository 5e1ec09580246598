// Package agent wraps model backends behind the narrow invocation surface
// the roundtable executor needs: a single prompt in, a timed text response
// out, nothing else.
package agent

import (
	"context"
	"errors"
	"time"
)

// Response is one agent's answer to a single prompt.
type Response struct {
	Text       string
	Confidence float64
	Latency    time.Duration
}

// Capability invokes an agent with a prompt and a hard deadline. Invoke
// must return by deadline or report a context error; it never blocks past
// it.
type Capability interface {
	Invoke(ctx context.Context, prompt string, deadline time.Time) (Response, error)
}

// ErrEmptyResponse is returned when a backend answers with no usable text.
var ErrEmptyResponse = errors.New("agent: backend produced no text")
