// Package observability provides the dispatcher pipeline's outermost
// decorator: an OpenTelemetry span per dispatch plus duration/outcome
// metrics, wired to the go.opentelemetry.io/otel stack the teacher's go.mod
// already declares (no teacher package exercises it directly — this is the
// home that stack was missing). Any pipeline built from dispatcher.Next can
// install Decorator.
package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/dmitrymomot/heromessaging/dispatcher"
	"github.com/dmitrymomot/heromessaging/message"
)

// InstrumentationName is the tracer/meter name every HeroMessaging span and
// instrument is registered under.
const InstrumentationName = "github.com/dmitrymomot/heromessaging"

// Recorder holds the tracer and metric instruments shared by every
// instrumented pipeline in a process. Build one with New and reuse it.
type Recorder struct {
	tracer   trace.Tracer
	duration metric.Float64Histogram
	total    metric.Int64Counter
	failures metric.Int64Counter
}

// New builds a Recorder from the global otel providers. Call
// otel.SetTracerProvider/otel.SetMeterProvider before constructing a
// Recorder that should export anywhere; the zero-value providers otel
// defaults to are a safe no-op for tests and processes that don't configure
// observability.
func New() (*Recorder, error) {
	tracer := otel.Tracer(InstrumentationName)
	meter := otel.Meter(InstrumentationName)

	duration, err := meter.Float64Histogram(
		"heromessaging.dispatch.duration",
		metric.WithDescription("Dispatch latency in seconds, by message kind and name"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	total, err := meter.Int64Counter(
		"heromessaging.dispatch.count",
		metric.WithDescription("Total dispatches, by message kind and name"),
	)
	if err != nil {
		return nil, err
	}
	failures, err := meter.Int64Counter(
		"heromessaging.dispatch.failures",
		metric.WithDescription("Failed dispatches, by message kind and name"),
	)
	if err != nil {
		return nil, err
	}

	return &Recorder{tracer: tracer, duration: duration, total: total, failures: failures}, nil
}

// Decorator returns the dispatcher.Decorator that should wrap every other
// decorator (the outermost stage in HeroMessaging's canonical Observability,
// Resilience, Transaction, Idempotency, Batching order), opening one span
// per dispatch and recording duration/outcome metrics against it.
func (r *Recorder) Decorator() dispatcher.Decorator {
	return func(next dispatcher.Next) dispatcher.Next {
		return func(ctx context.Context, env message.Envelope, payload any) (any, error) {
			ctx, span := r.tracer.Start(ctx, spanName(env),
				trace.WithAttributes(
					attribute.String("messaging.kind", string(env.Kind)),
					attribute.String("messaging.message_id", env.MessageID),
				),
			)
			defer span.End()

			start := time.Now()
			result, err := next(ctx, env, payload)
			elapsed := time.Since(start).Seconds()

			attrs := metric.WithAttributes(
				attribute.String("messaging.kind", string(env.Kind)),
				attribute.String("messaging.name", env.Name),
			)
			r.duration.Record(ctx, elapsed, attrs)
			r.total.Add(ctx, 1, attrs)

			if err != nil {
				r.failures.Add(ctx, 1, attrs)
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			} else {
				span.SetStatus(codes.Ok, "")
			}
			return result, err
		}
	}
}

func spanName(env message.Envelope) string {
	if env.Name == "" {
		return "heromessaging." + string(env.Kind)
	}
	return "heromessaging." + string(env.Kind) + "." + env.Name
}
