// Package main implements the submit-request operator CLI. It enqueues
// provisioning requests on the intake queue with the same message shape the
// API Gateway integration produces, for local testing and manual operations.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/stackloom/tenant-control-plane/internal/intake"
	"github.com/stackloom/tenant-control-plane/internal/registry"
)

// requestPublisher defines the intake operations the CLI needs.
type requestPublisher interface {
	PublishCreate(ctx context.Context, req *intake.Request) (string, error)
	PublishDelete(ctx context.Context, resourceID string) error
}

// submit enqueues one request and returns the line printed to the operator.
func submit(ctx context.Context, publisher requestPublisher, action intake.Action, req *intake.Request) (string, error) {
	switch action {
	case intake.ActionCreate:
		msgID, err := publisher.PublishCreate(ctx, req)
		if err != nil {
			return "", err
		}
		return "create request enqueued, message id " + msgID, nil
	case intake.ActionDelete:
		if err := publisher.PublishDelete(ctx, req.TenantID); err != nil {
			return "", err
		}
		return "delete request enqueued for " + req.TenantID, nil
	default:
		return "", fmt.Errorf("unknown action %q", action)
	}
}

func main() {
	var (
		queueURL     = flag.String("queue", os.Getenv("INTAKE_QUEUE_URL"), "intake queue URL")
		action       = flag.String("action", "create", "create or delete")
		tenantID     = flag.String("tenant", "", "tenant id")
		pollSchedule = flag.String("schedule", "rate(5 minutes)", "poll schedule expression")
		targetURL    = flag.String("target-url", "", "external system URL to poll")
		secretArn    = flag.String("secret-arn", "", "tenant credential secret ARN")
		roleArn      = flag.String("role-arn", "", "tenant cross-account role ARN")
		streamArn    = flag.String("stream-arn", "", "output stream ARN")
		partitionKey = flag.String("partition-key", "001", "output stream partition key")
	)
	flag.Parse()

	if *queueURL == "" {
		fmt.Fprintln(os.Stderr, "submit-request: -queue or INTAKE_QUEUE_URL is required")
		os.Exit(2)
	}

	ctx := context.Background()
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "submit-request: failed to load AWS config: %v\n", err)
		os.Exit(1)
	}
	publisher := intake.NewPublisher(sqs.NewFromConfig(cfg), *queueURL)

	req := &intake.Request{
		TenantID: *tenantID,
		Configuration: registry.Configuration{
			PollSchedule:       *pollSchedule,
			TargetURL:          *targetURL,
			SecretArn:          *secretArn,
			TenantRoleArn:      *roleArn,
			StreamArn:          *streamArn,
			StreamPartitionKey: *partitionKey,
		},
	}
	result, err := submit(ctx, publisher, intake.Action(*action), req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "submit-request: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(result)
}
