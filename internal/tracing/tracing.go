// Package tracing initializes OpenTelemetry for X-Ray export.
package tracing

import (
	"context"

	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-lambda-go/otellambda/xrayconfig"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Init creates a tracer provider configured for the Lambda X-Ray collector.
func Init(ctx context.Context) (*sdktrace.TracerProvider, error) {
	return xrayconfig.NewTracerProvider(ctx)
}

// Tracer returns a named tracer from the global provider.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}
