// Package main wires the provision-create SQS consumer Lambda.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-lambda-go/otellambda"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-lambda-go/otellambda/xrayconfig"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-sdk-go-v2/otelaws"
	"go.opentelemetry.io/otel"

	"github.com/stackloom/tenant-control-plane/internal/logging"
	"github.com/stackloom/tenant-control-plane/internal/provisioner"
	"github.com/stackloom/tenant-control-plane/internal/registry"
	"github.com/stackloom/tenant-control-plane/internal/tracing"
	"github.com/stackloom/tenant-control-plane/internal/worker"
)

var logger = logging.New()

func main() {
	ctx := context.Background()

	tp, err := tracing.Init(ctx)
	if err != nil {
		logger.Error("FATAL: Failed to initialize tracer provider", slog.String("error", err.Error()))
		panic(err)
	}
	otel.SetTracerProvider(tp)

	tableName := os.Getenv("TABLE_NAME")
	templateURL := os.Getenv("TEMPLATE_URL")
	if tableName == "" || templateURL == "" {
		panic("TABLE_NAME and TEMPLATE_URL must be set")
	}

	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		logger.Error("FATAL: Failed to load AWS config", slog.String("error", err.Error()))
		panic(err)
	}
	otelaws.AppendMiddlewares(&cfg.APIOptions)

	repo := registry.NewRepository(dynamodb.NewFromConfig(cfg), tableName)
	backend := provisioner.NewBackend(cloudformation.NewFromConfig(cfg), templateURL, tableName)

	h := worker.NewCreateHandler(repo, backend, logger)
	lambda.Start(otellambda.InstrumentHandler(h.Handle, xrayconfig.WithRecommendedOptions(tp)...))
}
