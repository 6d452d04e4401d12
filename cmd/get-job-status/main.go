// Package main implements the get-job-status API Gateway Lambda. Clients
// poll this endpoint to observe asynchronous provisioning progress; the
// submission APIs only ever return an immediate accept.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-lambda-go/otellambda"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-lambda-go/otellambda/xrayconfig"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-sdk-go-v2/otelaws"
	"go.opentelemetry.io/otel"

	"github.com/stackloom/tenant-control-plane/internal/logging"
	"github.com/stackloom/tenant-control-plane/internal/registry"
	"github.com/stackloom/tenant-control-plane/internal/tracing"
)

var logger = logging.New()

// RegistryReader defines the registry operations the status lookup needs.
type RegistryReader interface {
	Get(ctx context.Context, id string) (*registry.Record, error)
}

// handler implements the job status lookup.
type handler struct {
	registry RegistryReader
}

// newHandler creates a new handler.
func newHandler(registry RegistryReader) *handler {
	return &handler{registry: registry}
}

// handle returns the status of one resource record.
func (h *handler) handle(ctx context.Context, request events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	tracer := tracing.Tracer("get-job-status")
	ctx, span := tracer.Start(ctx, "GetJobStatusHandler")
	defer span.End()

	jobID := request.PathParameters["id"]
	if jobID == "" {
		return jsonResponse(400, map[string]string{"error": "resource id is empty"})
	}

	record, err := h.registry.Get(ctx, jobID)
	if errors.Is(err, registry.ErrNotFound) {
		return jsonResponse(404, map[string]string{"error": "resource not found"})
	}
	if err != nil {
		logger.ErrorContext(ctx, "Failed to get resource record",
			slog.String("resource_id", jobID),
			slog.String("error", err.Error()),
		)
		return jsonResponse(500, map[string]string{"error": "failed to get job status"})
	}

	return jsonResponse(200, map[string]string{
		"id":     record.ID,
		"status": string(record.Status),
	})
}

func jsonResponse(status int, body any) (events.APIGatewayProxyResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return events.APIGatewayProxyResponse{StatusCode: 500}, nil
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(payload),
	}, nil
}

func main() {
	ctx := context.Background()

	tp, err := tracing.Init(ctx)
	if err != nil {
		logger.Error("FATAL: Failed to initialize tracer provider", slog.String("error", err.Error()))
		panic(err)
	}
	otel.SetTracerProvider(tp)

	tableName := os.Getenv("TABLE_NAME")
	if tableName == "" {
		panic("TABLE_NAME must be set")
	}

	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		logger.Error("FATAL: Failed to load AWS config", slog.String("error", err.Error()))
		panic(err)
	}
	otelaws.AppendMiddlewares(&cfg.APIOptions)

	repo := registry.NewRepository(dynamodb.NewFromConfig(cfg), tableName)

	h := newHandler(repo)
	lambda.Start(otellambda.InstrumentHandler(h.handle, xrayconfig.WithRecommendedOptions(tp)...))
}
