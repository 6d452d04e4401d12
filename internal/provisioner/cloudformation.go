// Package provisioner submits tenant stack operations to CloudFormation.
// Submissions are fire-and-forget: completion arrives later as stack status
// change events handled by the status reconciler.
package provisioner

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation/types"

	"github.com/stackloom/tenant-control-plane/internal/registry"
)

// StackNamePrefix marks stacks managed by this control plane. The status
// reconciler ignores stacks without it.
const StackNamePrefix = "tenant-"

// TagTenantID is the stack tag carrying the owning tenant id.
const TagTenantID = "TenantId"

// OutputConsumerRoleArn is the tenant stack output exposing the role the
// platform uses to access the tenant's resources.
const OutputConsumerRoleArn = "ProjectConsumerRoleArn"

// consumerRoleUnset is stored while the stack has not exposed its role yet.
const consumerRoleUnset = "NOT_PROVISIONED"

// CloudFormationAPI abstracts the CloudFormation operations the backend
// uses, for dependency inversion.
type CloudFormationAPI interface {
	CreateStack(ctx context.Context, params *cloudformation.CreateStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.CreateStackOutput, error)
	DeleteStack(ctx context.Context, params *cloudformation.DeleteStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DeleteStackOutput, error)
	DescribeStacks(ctx context.Context, params *cloudformation.DescribeStacksInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStacksOutput, error)
}

// StackInfo is the subset of stack metadata the reconciler needs.
type StackInfo struct {
	TenantID        string
	ConsumerRoleArn string
}

// Backend submits tenant stack operations.
type Backend struct {
	client      CloudFormationAPI
	templateURL string
	tableName   string
}

// NewBackend creates a new Backend. templateURL points at the data-plane
// template; tableName is passed into the stack so the poller can find its
// registry row.
func NewBackend(client CloudFormationAPI, templateURL, tableName string) *Backend {
	return &Backend{
		client:      client,
		templateURL: templateURL,
		tableName:   tableName,
	}
}

// StackName returns the managed stack name for a resource id.
func StackName(id string) string {
	return StackNamePrefix + id
}

// SubmitCreate submits a tenant stack creation and returns the stack id.
// It does not wait for the stack to converge.
func (b *Backend) SubmitCreate(ctx context.Context, record *registry.Record) (string, error) {
	cfg := record.Configuration
	output, err := b.client.CreateStack(ctx, &cloudformation.CreateStackInput{
		StackName:   aws.String(StackName(record.ID)),
		TemplateURL: aws.String(b.templateURL),
		Parameters: []types.Parameter{
			{ParameterKey: aws.String("TenantId"), ParameterValue: aws.String(record.ID)},
			{ParameterKey: aws.String("PollSchedule"), ParameterValue: aws.String(cfg.PollSchedule)},
			{ParameterKey: aws.String("DynamoDBTableName"), ParameterValue: aws.String(b.tableName)},
			{ParameterKey: aws.String("DynamoDBPrimaryKey"), ParameterValue: aws.String(record.ID)},
			{ParameterKey: aws.String("TargetSystemURL"), ParameterValue: aws.String(cfg.TargetURL)},
			{ParameterKey: aws.String("SecretsManagerArn"), ParameterValue: aws.String(cfg.SecretArn)},
			{ParameterKey: aws.String("TenantAccountRoleArn"), ParameterValue: aws.String(cfg.TenantRoleArn)},
			{ParameterKey: aws.String("StreamArn"), ParameterValue: aws.String(cfg.StreamArn)},
			{ParameterKey: aws.String("StreamPartitionKey"), ParameterValue: aws.String(cfg.StreamPartitionKey)},
		},
		Capabilities: []types.Capability{
			types.CapabilityCapabilityIam,
			types.CapabilityCapabilityNamedIam,
		},
		Tags: []types.Tag{
			{Key: aws.String(TagTenantID), Value: aws.String(record.ID)},
		},
	})
	if err != nil {
		var exists *types.AlreadyExistsException
		if errors.As(err, &exists) {
			// A redelivered request after a crash between the submission and
			// the status write. The stack is live; recover its id so the
			// caller can finish the status transition instead of looping.
			return b.recoverStackID(ctx, record.ID)
		}
		return "", fmt.Errorf("failed to submit stack creation: %w", err)
	}
	return aws.ToString(output.StackId), nil
}

func (b *Backend) recoverStackID(ctx context.Context, id string) (string, error) {
	output, err := b.client.DescribeStacks(ctx, &cloudformation.DescribeStacksInput{
		StackName: aws.String(StackName(id)),
	})
	if err != nil {
		return "", fmt.Errorf("failed to recover existing stack id: %w", err)
	}
	if len(output.Stacks) == 0 {
		return "", fmt.Errorf("stack %s reported existing but was not found", StackName(id))
	}
	return aws.ToString(output.Stacks[0].StackId), nil
}

// SubmitTeardown submits deletion of a tenant stack by name or stack id.
// DeleteStack is idempotent on the backend side, so resubmission after a
// redelivered message is safe.
func (b *Backend) SubmitTeardown(ctx context.Context, stackName string) error {
	_, err := b.client.DeleteStack(ctx, &cloudformation.DeleteStackInput{
		StackName: aws.String(stackName),
	})
	if err != nil {
		return fmt.Errorf("failed to submit stack teardown: %w", err)
	}
	return nil
}

// Describe resolves a stack id to the tenant it belongs to and the consumer
// role it exported, if any.
func (b *Backend) Describe(ctx context.Context, stackID string) (*StackInfo, error) {
	output, err := b.client.DescribeStacks(ctx, &cloudformation.DescribeStacksInput{
		StackName: aws.String(stackID),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe stack: %w", err)
	}
	if len(output.Stacks) == 0 {
		return nil, fmt.Errorf("stack %s not found", stackID)
	}
	stack := output.Stacks[0]

	info := &StackInfo{ConsumerRoleArn: consumerRoleUnset}
	for _, tag := range stack.Tags {
		if aws.ToString(tag.Key) == TagTenantID {
			info.TenantID = aws.ToString(tag.Value)
		}
	}
	for _, out := range stack.Outputs {
		if aws.ToString(out.OutputKey) == OutputConsumerRoleArn {
			info.ConsumerRoleArn = aws.ToString(out.OutputValue)
		}
	}
	return info, nil
}
