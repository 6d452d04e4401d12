// Package main implements the tenant-poller scheduled Lambda. One poller is
// deployed per tenant stack, parameterized entirely through the environment
// at deployment time. Every invocation assumes the tenant's cross-account
// role before touching anything tenant-owned.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/kinesis"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-lambda-go/otellambda"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-lambda-go/otellambda/xrayconfig"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-sdk-go-v2/otelaws"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"

	"github.com/stackloom/tenant-control-plane/internal/logging"
	"github.com/stackloom/tenant-control-plane/internal/poller"
	"github.com/stackloom/tenant-control-plane/internal/registry"
	"github.com/stackloom/tenant-control-plane/internal/tenantauth"
	"github.com/stackloom/tenant-control-plane/internal/tracing"
)

var logger = logging.New()

func requireEnv(key string) string {
	value := os.Getenv(key)
	if value == "" {
		panic("environment variable " + key + " is not set")
	}
	return value
}

// newClientFactory builds the per-invocation tenant client factory. The
// capability, and the clients built from it, exist only for the duration of
// one invocation; an acquisition failure yields no clients at all.
func newClientFactory(stsClient tenantauth.STSAPI, roleArn string, base aws.Config) poller.ClientFactory {
	return func(ctx context.Context, sessionName string) (*poller.TenantClients, error) {
		capability, err := tenantauth.Acquire(ctx, stsClient, roleArn, sessionName)
		if err != nil {
			return nil, err
		}
		scoped := capability.Config(base)
		return &poller.TenantClients{
			Secrets: secretsmanager.NewFromConfig(scoped),
			Stream:  kinesis.NewFromConfig(scoped),
		}, nil
	}
}

func main() {
	ctx := context.Background()

	tp, err := tracing.Init(ctx)
	if err != nil {
		logger.Error("FATAL: Failed to initialize tracer provider", slog.String("error", err.Error()))
		panic(err)
	}
	otel.SetTracerProvider(tp)

	pollerCfg := poller.Config{
		RegistryKey:        requireEnv("DYNAMODB_PRIMARY_KEY"),
		TargetURL:          requireEnv("TARGET_SYSTEM_URL"),
		SecretArn:          requireEnv("SECRETS_MANAGER_SECRET"),
		StreamArn:          requireEnv("STREAM_ARN"),
		StreamPartitionKey: requireEnv("STREAM_PARTITION_KEY"),
	}
	tableName := requireEnv("DYNAMODB_TABLE_NAME")
	tenantRoleArn := requireEnv("TENANT_ROLE_ARN")

	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		logger.Error("FATAL: Failed to load AWS config", slog.String("error", err.Error()))
		panic(err)
	}
	otelaws.AppendMiddlewares(&cfg.APIOptions)

	factory := newClientFactory(sts.NewFromConfig(cfg), tenantRoleArn, cfg)

	repo := registry.NewRepository(dynamodb.NewFromConfig(cfg), tableName)
	httpClient := &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}

	p := poller.New(pollerCfg, factory, httpClient, repo, logger)
	lambda.Start(otellambda.InstrumentHandler(func(ctx context.Context) error {
		return p.Poll(ctx)
	}, xrayconfig.WithRecommendedOptions(tp)...))
}
