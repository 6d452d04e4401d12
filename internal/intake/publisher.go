package intake

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// SQSSender abstracts SQS send operations for dependency inversion.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// Publisher enqueues provisioning requests on the intake queue. In
// production the API Gateway SQS integration does this; the publisher exists
// for the operator CLI and tests.
type Publisher struct {
	client   SQSSender
	queueURL string
}

// NewPublisher creates a new Publisher.
func NewPublisher(client SQSSender, queueURL string) *Publisher {
	return &Publisher{
		client:   client,
		queueURL: queueURL,
	}
}

// PublishCreate enqueues a create request and returns the queue message id.
func (p *Publisher) PublishCreate(ctx context.Context, req *Request) (string, error) {
	req.Action = ActionCreate
	if err := req.Validate(); err != nil {
		return "", err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", err
	}

	output, err := p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return "", fmt.Errorf("failed to enqueue create request: %w", err)
	}
	return aws.ToString(output.MessageId), nil
}

// PublishDelete enqueues a delete request. The resource id travels as a
// message attribute so the consumer can route it without parsing the body.
func (p *Publisher) PublishDelete(ctx context.Context, resourceID string) error {
	req := &Request{Action: ActionDelete, TenantID: resourceID}
	if err := req.Validate(); err != nil {
		return err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return err
	}

	_, err = p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			AttributeResourceID: {
				DataType:    aws.String("String"),
				StringValue: aws.String(resourceID),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue delete request: %w", err)
	}
	return nil
}
