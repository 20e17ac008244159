package telemetry

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry bundles logging, tracing, metrics and events.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config
}

// telemetryContextKey is the context key for telemetry instances.
type telemetryContextKey struct{}

// NewTelemetry creates a new telemetry instance from configuration.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion)
	if err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	events, err := NewEventPublisher(cfg.Events)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Events:  events,
		Config:  cfg,
	}, nil
}

// Nop returns telemetry that records nothing.
func Nop() *Telemetry {
	cfg := NopConfig()
	tracer, _ := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion)
	metrics, _ := NewMetrics(cfg.Metrics)
	events, _ := NewEventPublisher(cfg.Events)
	return &Telemetry{
		Logger:  NopLogger(),
		Tracer:  tracer,
		Metrics: metrics,
		Events:  events,
		Config:  cfg,
	}
}

// WithContext adds the telemetry instance and its logger to the context.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, telemetryContextKey{}, t)
	return t.Logger.WithContext(ctx)
}

// FromTelemetryContext retrieves the telemetry instance from the context.
// If no telemetry is found, it returns nil.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	if t, ok := ctx.Value(telemetryContextKey{}).(*Telemetry); ok {
		return t
	}
	return nil
}

// Shutdown stops the event publisher and flushes the tracer.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(
		t.Events.Shutdown(ctx),
		t.Tracer.Shutdown(ctx),
	)
}

// InstrumentedContext is an operation in progress with its span, logger
// and timer.
type InstrumentedContext struct {
	Ctx    context.Context
	Span   trace.Span
	Logger *Logger
	Timer  *Timer
}

// StartOperation begins an instrumented operation with logging, tracing, and timing.
func StartOperation(ctx context.Context, operation string, attrs ...attribute.KeyValue) *InstrumentedContext {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return &InstrumentedContext{
			Ctx:    ctx,
			Logger: FromContext(ctx),
			Timer:  NewTimer(),
		}
	}

	spanCtx, span := tel.Tracer.StartSpan(ctx, operation, attrs...)
	return tel.instrument(spanCtx, span, tel.Logger.WithField("operation", operation))
}

// StartQuery begins an optimizer query.
func (t *Telemetry) StartQuery(ctx context.Context, query string, dimension int) *InstrumentedContext {
	spanCtx, span := t.Tracer.StartQuerySpan(ctx, query, dimension)
	return t.instrument(spanCtx, span, t.Logger.WithQuery(query))
}

// EndQuery finishes a query started with StartQuery.
func (t *Telemetry) EndQuery(ic *InstrumentedContext, query string, err error) {
	status := "succeeded"
	if err != nil {
		status = "failed"
	}
	t.Metrics.RecordQuery(query, status, ic.Timer.Duration())
	ic.End(err)
}

// StartStage begins a solver stage of a design.
func (t *Telemetry) StartStage(ctx context.Context, design int, stage string) *InstrumentedContext {
	spanCtx, span := t.Tracer.StartStageSpan(ctx, stage, design)
	_ = t.Events.PublishStageStarted(design, stage)
	return t.instrument(spanCtx, span, t.Logger.WithDesign(design).WithStage(stage))
}

// EndStage finishes a stage started with StartStage, recording metrics
// and events.
func (t *Telemetry) EndStage(ic *InstrumentedContext, design int, stage string, err error) {
	duration := ic.Timer.Duration()
	if err != nil {
		t.Metrics.RecordStageRun(stage, "failed", duration)
		_ = t.Events.PublishStageFailed(design, stage, err.Error())
	} else {
		t.Metrics.RecordStageRun(stage, "succeeded", duration)
		_ = t.Events.PublishStageCompleted(design, stage, duration)
	}
	ic.End(err)
}

func (t *Telemetry) instrument(ctx context.Context, span trace.Span, logger *Logger) *InstrumentedContext {
	if span.SpanContext().IsValid() {
		logger = logger.WithFields(map[string]interface{}{
			"trace_id": span.SpanContext().TraceID().String(),
			"span_id":  span.SpanContext().SpanID().String(),
		})
	}
	return &InstrumentedContext{
		Ctx:    logger.WithContext(ctx),
		Span:   span,
		Logger: logger,
		Timer:  NewTimer(),
	}
}

// End finishes the instrumented operation, recording success or failure.
func (ic *InstrumentedContext) End(err error) {
	if ic.Span == nil {
		return
	}
	if err != nil {
		RecordError(ic.Span, err)
	} else {
		RecordSuccess(ic.Span)
	}
	ic.Span.End()
}
