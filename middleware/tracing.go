package middleware

import (
	"context"
	"fmt"

	"github.com/GoCodeAlone/actormesh/envelope"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// extractSpanContext rebuilds a remote trace.SpanContext from the
// envelope's TraceContext, if present, so the child span this
// middleware starts is correctly parented across the wire. A missing or
// malformed TraceContext leaves ctx unchanged, so the span started
// against it becomes a new root unless ctx already carries a span.
func extractSpanContext(ctx context.Context, tc *envelope.TraceContext) context.Context {
	if tc == nil {
		return ctx
	}
	traceID, err := trace.TraceIDFromHex(tc.TraceID)
	if err != nil {
		return ctx
	}
	spanID, err := trace.SpanIDFromHex(tc.SpanID)
	if err != nil {
		return ctx
	}
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	})
	return trace.ContextWithSpanContext(ctx, sc)
}

// Tracing returns a middleware that extracts the envelope's
// TraceContext (constructing a root span context if absent), starts a
// child span named "<actorID>.<targetIdentifier>" with kind=server and
// attributes {actor.id, actor.target}, and ends it with a status
// matching the handler's outcome (§4.M).
func Tracing(tracerName string) Middleware {
	tracer := otel.Tracer(tracerName)
	return func(next Handler) Handler {
		return func(mctx *Context) *envelope.Envelope {
			env := mctx.Envelope
			spanName := fmt.Sprintf("%s.%s", env.ActorID.ID, env.TargetIdentifier)

			parentCtx := extractSpanContext(mctx.Context, env.TraceContext)
			ctx, span := tracer.Start(parentCtx, spanName,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("actor.id", env.ActorID.ID),
					attribute.String("actor.target", env.TargetIdentifier),
				),
			)
			defer span.End()

			resp := next(mctx.WithContext(ctx))

			if resp.ErrorMessage != nil {
				span.SetStatus(codes.Error, *resp.ErrorMessage)
				span.SetAttributes(attribute.Bool("error", true))
			} else {
				span.SetStatus(codes.Ok, "")
			}

			return resp
		}
	}
}
