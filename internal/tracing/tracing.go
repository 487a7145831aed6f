// Package tracing is a thin wrapper around OpenTelemetry so the scheduler
// can open spans around steps, evaluations and saves without importing otel
// directly. Until Init is called spans are no-ops.
package tracing

import (
	"context"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/danielpatrickdp/asr-multitask/go-trainer"

// ShutdownFunc flushes and stops the installed provider.
type ShutdownFunc func(context.Context) error

// Init installs a stdout exporter writing to outputFile, or os.Stdout when
// outputFile is empty.
func Init(serviceName, serviceVersion, outputFile string) (ShutdownFunc, error) {
	var w io.Writer = os.Stdout
	var f *os.File
	if outputFile != "" {
		var err error
		f, err = os.Create(outputFile)
		if err != nil {
			return nil, err
		}
		w = f
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		if f != nil {
			f.Close()
		}
		return nil, err
	}
	shutdown, err := InitWithExporter(serviceName, serviceVersion, exporter)
	if err != nil {
		if f != nil {
			f.Close()
		}
		return nil, err
	}
	return func(ctx context.Context) error {
		err := shutdown(ctx)
		if f != nil {
			if cerr := f.Close(); err == nil {
				err = cerr
			}
		}
		return err
	}, nil
}

// InitWithExporter installs exporter as the global trace provider.
func InitWithExporter(serviceName, serviceVersion string, exporter sdktrace.SpanExporter) (ShutdownFunc, error) {
	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			attribute.String("service.name", serviceName),
			attribute.String("service.version", serviceVersion),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// Span wraps an OpenTelemetry span.
type Span struct {
	span trace.Span
}

// WithAttributes attaches string attributes to the span.
func (s *Span) WithAttributes(attrs map[string]string) *Span {
	if s == nil || len(attrs) == 0 {
		return s
	}
	otelAttrs := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		otelAttrs = append(otelAttrs, attribute.String(k, v))
	}
	s.span.SetAttributes(otelAttrs...)
	return s
}

// SetInt64 attaches a numeric attribute.
func (s *Span) SetInt64(key string, v int64) {
	if s == nil {
		return
	}
	s.span.SetAttributes(attribute.Int64(key, v))
}

// SetFloat64 attaches a numeric attribute.
func (s *Span) SetFloat64(key string, v float64) {
	if s == nil {
		return
	}
	s.span.SetAttributes(attribute.Float64(key, v))
}

// SetStatus records err on the span, or an OK status when err is nil.
func (s *Span) SetStatus(err error) {
	if s == nil {
		return
	}
	if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	} else {
		s.span.SetStatus(codes.Ok, "")
	}
}

// StartSpan starts an internal child span.
func StartSpan(ctx context.Context, name string) (context.Context, *Span) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, name, trace.WithSpanKind(trace.SpanKindInternal))
	return ctx, &Span{span: span}
}

// EndSpan records status from err and ends the span.
func EndSpan(sp *Span, err error) {
	if sp == nil {
		return
	}
	sp.SetStatus(err)
	sp.span.End()
}
