package audit

import (
	"context"

	"github.com/google/uuid"
)

type traceContextKey struct{}

// TraceContext correlates every audit entry and policy decision produced
// on behalf of one top-level request. The executor stamps its TraceID
// into roundtable payloads and into the action contexts it hands the
// policy engine, so the trace-required rule has something to check.
type TraceContext struct {
	// TraceID is the top-level request identifier.
	TraceID string `json:"trace_id"`

	// ParentID is the event id of the immediate parent entry, when an
	// entry was caused by another (a vote entry caused by a start entry).
	ParentID string `json:"parent_id,omitempty"`

	// Origin identifies where the request entered the system: "cli",
	// "roundtable", or "api".
	Origin string `json:"origin"`

	// Principal is the authenticated caller identity, when known.
	Principal string `json:"principal,omitempty"`
}

// NewTraceID generates a fresh trace id.
func NewTraceID() string {
	return "tr_" + uuid.New().String()[:12]
}

// NewTraceContext creates the trace context for a top-level request.
func NewTraceContext(origin, principal string) *TraceContext {
	return &TraceContext{
		TraceID:   NewTraceID(),
		Origin:    origin,
		Principal: principal,
	}
}

// Child derives a trace context naming parentEventID as the cause.
func (tc *TraceContext) Child(parentEventID string) *TraceContext {
	return &TraceContext{
		TraceID:   tc.TraceID,
		ParentID:  parentEventID,
		Origin:    tc.Origin,
		Principal: tc.Principal,
	}
}

// WithTraceContext attaches tc to ctx.
func WithTraceContext(ctx context.Context, tc *TraceContext) context.Context {
	return context.WithValue(ctx, traceContextKey{}, tc)
}

// TraceContextFromContext extracts the trace context from ctx, or nil.
func TraceContextFromContext(ctx context.Context) *TraceContext {
	tc, _ := ctx.Value(traceContextKey{}).(*TraceContext)
	return tc
}

// TraceIDFromContext extracts just the trace id from ctx, or "".
func TraceIDFromContext(ctx context.Context) string {
	if tc := TraceContextFromContext(ctx); tc != nil {
		return tc.TraceID
	}
	return ""
}
