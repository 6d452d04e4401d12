// Package main implements the list-resources API Gateway Lambda.
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"time"

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

// RegistryReader defines the registry operations the listing needs.
type RegistryReader interface {
	Scan(ctx context.Context) ([]registry.Record, error)
}

// resourceView is the client-facing shape of a record.
type resourceView struct {
	ID              string `json:"id"`
	Status          string `json:"status"`
	ConsumerRoleArn string `json:"consumerRoleArn,omitempty"`
	CreatedAt       string `json:"createdAt,omitempty"`
	LastPollAt      string `json:"lastPollAt,omitempty"`
}

// handler implements the listing logic.
type handler struct {
	registry RegistryReader
}

// newHandler creates a new handler.
func newHandler(registry RegistryReader) *handler {
	return &handler{registry: registry}
}

// handle returns all resource records, optionally filtered by a ?status=
// query parameter. The underlying scan is O(n) over all records including
// logically deleted ones.
func (h *handler) handle(ctx context.Context, request events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	tracer := tracing.Tracer("list-resources")
	ctx, span := tracer.Start(ctx, "ListResourcesHandler")
	defer span.End()

	statusFilter := request.QueryStringParameters["status"]

	records, err := h.registry.Scan(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to scan resource records", slog.String("error", err.Error()))
		return jsonResponse(500, map[string]string{"error": "failed to list resources"})
	}

	views := make([]resourceView, 0, len(records))
	for _, record := range records {
		if statusFilter != "" && string(record.Status) != statusFilter {
			continue
		}
		views = append(views, resourceView{
			ID:              record.ID,
			Status:          string(record.Status),
			ConsumerRoleArn: record.ConsumerRoleArn,
			CreatedAt:       formatTime(record.CreatedAt),
			LastPollAt:      formatTime(record.LastPollAt),
		})
	}

	return jsonResponse(200, views)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
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
