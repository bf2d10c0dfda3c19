package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

const (
	// Trace operation names
	TraceScalingDecision = "dbpool.scaling.decision"
	TraceHealthPass      = "dbpool.health.pass"
	TraceLoadTest        = "dbpool.loadtest.run"
	TracePoolCreate      = "dbpool.pool.create"

	// Attribute keys
	AttrPoolName      = "dbpool.pool.name"
	AttrScalingAction = "dbpool.scaling.action"
	AttrCurrentMax    = "dbpool.scaling.current_max"
	AttrTargetMax     = "dbpool.scaling.target_max"
	AttrConcurrency   = "dbpool.loadtest.concurrency"
	AttrErrorType     = "dbpool.error.type"
)

// TraceHelper wraps span creation for the pool manager's operations.
type TraceHelper struct {
	tracer oteltrace.Tracer
}

// NewTraceHelper creates a trace helper on the named tracer.
func NewTraceHelper(serviceName string) *TraceHelper {
	return &TraceHelper{tracer: otel.Tracer(serviceName)}
}

// StartSpan starts a span with the given attributes.
func (th *TraceHelper) StartSpan(ctx context.Context, operationName string, attrs ...attribute.KeyValue) (context.Context, oteltrace.Span) {
	return th.tracer.Start(ctx, operationName, oteltrace.WithAttributes(attrs...))
}

// RecordError marks the span failed and records err.
func (th *TraceHelper) RecordError(span oteltrace.Span, err error, description string) {
	if err != nil {
		span.SetStatus(codes.Error, description)
		span.RecordError(err, oteltrace.WithAttributes(
			attribute.String(AttrErrorType, description),
		))
	}
}

// SetSpanSuccess marks the span successful.
func (th *TraceHelper) SetSpanSuccess(span oteltrace.Span) {
	span.SetStatus(codes.Ok, "Success")
}

// TracePoolCreateFunc traces pool creation and warmup.
func (th *TraceHelper) TracePoolCreateFunc(ctx context.Context, poolName string, fn func(context.Context) error) error {
	return th.traced(ctx, TracePoolCreate, "pool creation failed", fn,
		attribute.String(AttrPoolName, poolName))
}

// TraceScalingDecisionFunc traces one scaling evaluation.
func (th *TraceHelper) TraceScalingDecisionFunc(ctx context.Context, poolName string, currentMax, targetMax int, action string, fn func(context.Context) error) error {
	return th.traced(ctx, TraceScalingDecision, "scaling decision failed", fn,
		attribute.String(AttrPoolName, poolName),
		attribute.Int(AttrCurrentMax, currentMax),
		attribute.Int(AttrTargetMax, targetMax),
		attribute.String(AttrScalingAction, action))
}

// TraceHealthPassFunc traces one health validation pass.
func (th *TraceHelper) TraceHealthPassFunc(ctx context.Context, poolName string, fn func(context.Context) error) error {
	return th.traced(ctx, TraceHealthPass, "health pass failed", fn,
		attribute.String(AttrPoolName, poolName))
}

// TraceLoadTestFunc traces a load test run.
func (th *TraceHelper) TraceLoadTestFunc(ctx context.Context, poolName string, concurrency int, fn func(context.Context) error) error {
	return th.traced(ctx, TraceLoadTest, "load test failed", fn,
		attribute.String(AttrPoolName, poolName),
		attribute.Int(AttrConcurrency, concurrency))
}

func (th *TraceHelper) traced(ctx context.Context, name, errDesc string, fn func(context.Context) error, attrs ...attribute.KeyValue) error {
	ctx, span := th.StartSpan(ctx, name, attrs...)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	span.SetAttributes(attribute.Int64("duration_ms", time.Since(start).Milliseconds()))

	if err != nil {
		th.RecordError(span, err, errDesc)
		return err
	}
	th.SetSpanSuccess(span)
	return nil
}
