package api

import (
	"context"
	"net/http"

	"dirmirror/internal/otel"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const streamSpanName = "observe.stream"

// startStreamSpan covers the lifetime of one observe stream. The HTTP span
// ends when the handler returns; this one carries the session attributes.
func startStreamSpan(r *http.Request, transport, session, path string) (context.Context, trace.Span) {
	return otel.StartSpan(r.Context(), streamSpanName,
		attribute.String("observe.transport", transport),
		attribute.String("observe.session", session),
		attribute.String("observe.path", path),
		attribute.String("user_agent", r.UserAgent()),
	)
}
