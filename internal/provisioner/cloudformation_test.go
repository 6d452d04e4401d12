package provisioner

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation/types"

	"github.com/stackloom/tenant-control-plane/internal/registry"
)

// mockCloudFormation implements CloudFormationAPI for testing.
type mockCloudFormation struct {
	createFunc   func(ctx context.Context, params *cloudformation.CreateStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.CreateStackOutput, error)
	deleteFunc   func(ctx context.Context, params *cloudformation.DeleteStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DeleteStackOutput, error)
	describeFunc func(ctx context.Context, params *cloudformation.DescribeStacksInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStacksOutput, error)
}

func (m *mockCloudFormation) CreateStack(ctx context.Context, params *cloudformation.CreateStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.CreateStackOutput, error) {
	if m.createFunc != nil {
		return m.createFunc(ctx, params, optFns...)
	}
	return &cloudformation.CreateStackOutput{}, nil
}

func (m *mockCloudFormation) DeleteStack(ctx context.Context, params *cloudformation.DeleteStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DeleteStackOutput, error) {
	if m.deleteFunc != nil {
		return m.deleteFunc(ctx, params, optFns...)
	}
	return &cloudformation.DeleteStackOutput{}, nil
}

func (m *mockCloudFormation) DescribeStacks(ctx context.Context, params *cloudformation.DescribeStacksInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStacksOutput, error) {
	if m.describeFunc != nil {
		return m.describeFunc(ctx, params, optFns...)
	}
	return &cloudformation.DescribeStacksOutput{}, nil
}

func TestBackend_SubmitCreate(t *testing.T) {
	var captured *cloudformation.CreateStackInput
	mock := &mockCloudFormation{
		createFunc: func(ctx context.Context, params *cloudformation.CreateStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.CreateStackOutput, error) {
			captured = params
			return &cloudformation.CreateStackOutput{
				StackId: aws.String("arn:aws:cloudformation:eu-central-1:1:stack/tenant-t1/abc"),
			}, nil
		},
	}

	backend := NewBackend(mock, "https://templates.example.com/template.yaml", "resource-table")
	stackID, err := backend.SubmitCreate(context.Background(), &registry.Record{
		ID: "t1",
		Configuration: registry.Configuration{
			PollSchedule:       "rate(5 minutes)",
			TargetURL:          "https://example.com/api",
			SecretArn:          "arn:secret",
			TenantRoleArn:      "arn:role",
			StreamArn:          "arn:stream",
			StreamPartitionKey: "001",
		},
	})
	if err != nil {
		t.Fatalf("SubmitCreate failed: %v", err)
	}
	if stackID != "arn:aws:cloudformation:eu-central-1:1:stack/tenant-t1/abc" {
		t.Errorf("stackID = %q, want stack arn", stackID)
	}

	if *captured.StackName != "tenant-t1" {
		t.Errorf("StackName = %q, want %q", *captured.StackName, "tenant-t1")
	}
	params := map[string]string{}
	for _, p := range captured.Parameters {
		params[*p.ParameterKey] = *p.ParameterValue
	}
	if params["TenantId"] != "t1" {
		t.Errorf("TenantId parameter = %q, want %q", params["TenantId"], "t1")
	}
	if params["DynamoDBTableName"] != "resource-table" {
		t.Errorf("DynamoDBTableName parameter = %q, want %q", params["DynamoDBTableName"], "resource-table")
	}
	if params["TenantAccountRoleArn"] != "arn:role" {
		t.Errorf("TenantAccountRoleArn parameter = %q, want %q", params["TenantAccountRoleArn"], "arn:role")
	}

	var tagged bool
	for _, tag := range captured.Tags {
		if *tag.Key == TagTenantID && *tag.Value == "t1" {
			tagged = true
		}
	}
	if !tagged {
		t.Error("stack is missing the TenantId tag")
	}
}

func TestBackend_SubmitCreate_Error(t *testing.T) {
	mock := &mockCloudFormation{
		createFunc: func(ctx context.Context, params *cloudformation.CreateStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.CreateStackOutput, error) {
			return nil, errors.New("throttled")
		},
	}

	backend := NewBackend(mock, "https://templates.example.com/template.yaml", "resource-table")
	_, err := backend.SubmitCreate(context.Background(), &registry.Record{ID: "t1"})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestBackend_SubmitCreate_RecoverAfterCrash(t *testing.T) {
	// The stack was submitted by an earlier delivery that crashed before the
	// status write; CloudFormation rejects the resubmission. The existing
	// stack id is recovered so the caller can finish the transition.
	mock := &mockCloudFormation{
		createFunc: func(ctx context.Context, params *cloudformation.CreateStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.CreateStackOutput, error) {
			return nil, &types.AlreadyExistsException{Message: aws.String("Stack [tenant-t1] already exists")}
		},
		describeFunc: func(ctx context.Context, params *cloudformation.DescribeStacksInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStacksOutput, error) {
			if *params.StackName != "tenant-t1" {
				t.Errorf("StackName = %q, want %q", *params.StackName, "tenant-t1")
			}
			return &cloudformation.DescribeStacksOutput{
				Stacks: []types.Stack{{
					StackId: aws.String("arn:aws:cloudformation:eu-central-1:1:stack/tenant-t1/abc"),
				}},
			}, nil
		},
	}

	backend := NewBackend(mock, "https://templates.example.com/template.yaml", "resource-table")
	stackID, err := backend.SubmitCreate(context.Background(), &registry.Record{ID: "t1"})
	if err != nil {
		t.Fatalf("SubmitCreate must absorb an existing stack, got %v", err)
	}
	if stackID != "arn:aws:cloudformation:eu-central-1:1:stack/tenant-t1/abc" {
		t.Errorf("stackID = %q, want the recovered stack arn", stackID)
	}
}

func TestBackend_SubmitCreate_RecoverDescribeFails(t *testing.T) {
	mock := &mockCloudFormation{
		createFunc: func(ctx context.Context, params *cloudformation.CreateStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.CreateStackOutput, error) {
			return nil, &types.AlreadyExistsException{}
		},
		describeFunc: func(ctx context.Context, params *cloudformation.DescribeStacksInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStacksOutput, error) {
			return nil, errors.New("throttled")
		},
	}

	backend := NewBackend(mock, "https://templates.example.com/template.yaml", "resource-table")
	if _, err := backend.SubmitCreate(context.Background(), &registry.Record{ID: "t1"}); err == nil {
		t.Fatal("expected error so the message is redelivered, got nil")
	}
}

func TestBackend_Describe(t *testing.T) {
	mock := &mockCloudFormation{
		describeFunc: func(ctx context.Context, params *cloudformation.DescribeStacksInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStacksOutput, error) {
			return &cloudformation.DescribeStacksOutput{
				Stacks: []types.Stack{{
					StackName: aws.String("tenant-t1"),
					Tags: []types.Tag{
						{Key: aws.String(TagTenantID), Value: aws.String("t1")},
					},
					Outputs: []types.Output{
						{OutputKey: aws.String(OutputConsumerRoleArn), OutputValue: aws.String("arn:aws:iam::1:role/consumer")},
					},
				}},
			}, nil
		},
	}

	backend := NewBackend(mock, "https://templates.example.com/template.yaml", "resource-table")
	info, err := backend.Describe(context.Background(), "arn:stack/tenant-t1/abc")
	if err != nil {
		t.Fatalf("Describe failed: %v", err)
	}
	if info.TenantID != "t1" {
		t.Errorf("TenantID = %q, want %q", info.TenantID, "t1")
	}
	if info.ConsumerRoleArn != "arn:aws:iam::1:role/consumer" {
		t.Errorf("ConsumerRoleArn = %q, want consumer role arn", info.ConsumerRoleArn)
	}
}

func TestBackend_Describe_NoOutputs(t *testing.T) {
	mock := &mockCloudFormation{
		describeFunc: func(ctx context.Context, params *cloudformation.DescribeStacksInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStacksOutput, error) {
			return &cloudformation.DescribeStacksOutput{
				Stacks: []types.Stack{{
					StackName: aws.String("tenant-t1"),
					Tags: []types.Tag{
						{Key: aws.String(TagTenantID), Value: aws.String("t1")},
					},
				}},
			}, nil
		},
	}

	backend := NewBackend(mock, "https://templates.example.com/template.yaml", "resource-table")
	info, err := backend.Describe(context.Background(), "arn:stack/tenant-t1/abc")
	if err != nil {
		t.Fatalf("Describe failed: %v", err)
	}
	if info.ConsumerRoleArn != "NOT_PROVISIONED" {
		t.Errorf("ConsumerRoleArn = %q, want NOT_PROVISIONED", info.ConsumerRoleArn)
	}
}

func TestBackend_SubmitTeardown(t *testing.T) {
	var captured string
	mock := &mockCloudFormation{
		deleteFunc: func(ctx context.Context, params *cloudformation.DeleteStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DeleteStackOutput, error) {
			captured = *params.StackName
			return &cloudformation.DeleteStackOutput{}, nil
		},
	}

	backend := NewBackend(mock, "https://templates.example.com/template.yaml", "resource-table")
	if err := backend.SubmitTeardown(context.Background(), StackName("t1")); err != nil {
		t.Fatalf("SubmitTeardown failed: %v", err)
	}
	if captured != "tenant-t1" {
		t.Errorf("StackName = %q, want %q", captured, "tenant-t1")
	}
}
