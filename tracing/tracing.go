// Package tracing wraps OpenTelemetry spans around the stages of a resolve
// call. It is optional: without a TracerProvider the global (no-op by
// default) provider is used.
package tracing

import (
	"context"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const instrumentation = "github.com/Keksclan/spawncache"

// Stage names used for child spans.
const (
	StageEmbed   = "embed"
	StageL1      = "l1.lookup"
	StageL2      = "l2.lookup"
	StageFactory = "factory"
	StageStore   = "l2.store"
	StageSweep   = "l2.sweep"
)

// Attribute keys.
const (
	AttrKind        = attribute.Key("spawn.kind")
	AttrContentHash = attribute.Key("spawn.content_hash")
	AttrTier        = attribute.Key("spawn.cache.tier")
	AttrCached      = attribute.Key("spawn.cache.hit")
	AttrSimilarity  = attribute.Key("spawn.cache.similarity")
	AttrQuality     = attribute.Key("spawn.cache.quality")
	AttrRecordID    = attribute.Key("spawn.cache.record_id")
	AttrFallback    = attribute.Key("spawn.embedding.fallback")
	AttrCoalesced   = attribute.Key("spawn.cache.coalesced")
)

// Tracer starts cache spans.
type Tracer struct {
	t trace.Tracer
}

// New returns a Tracer from tp, or from the global provider when tp is nil.
func New(tp trace.TracerProvider) *Tracer {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Tracer{t: tp.Tracer(instrumentation)}
}

// StartResolve opens the root span of a resolve call.
func (t *Tracer) StartResolve(ctx context.Context, kind, contentHash string) (context.Context, trace.Span) {
	return t.t.Start(ctx, "spawncache.resolve",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(AttrKind.String(kind), AttrContentHash.String(contentHash)),
	)
}

// StartStage opens a child span named after one of the Stage constants.
func (t *Tracer) StartStage(ctx context.Context, stage string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.t.Start(ctx, "spawncache."+stage, trace.WithAttributes(attrs...))
}

// End records err (if any) as the span status and ends the span.
func End(span trace.Span, err error) {
	RecordStatus(span, err)
	span.End()
}

// RecordStatus sets the span status from err.
func RecordStatus(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
}

// NewStdoutProvider builds a TracerProvider that pretty-prints spans to w.
// Callers must Shutdown it to flush.
func NewStdoutProvider(w io.Writer) (*sdktrace.TracerProvider, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}
	return sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter)), nil
}
