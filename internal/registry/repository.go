package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/stackloom/tenant-control-plane/internal/dynamo"
)

// Error types for repository operations.
var (
	// ErrNotFound is returned when no record exists for the id.
	ErrNotFound = errors.New("resource record not found")
	// ErrAlreadyExists is returned by Create when the id is taken.
	ErrAlreadyExists = errors.New("resource record already exists")
	// ErrStaleTransition is returned when a conditional status write finds
	// the record in a different state than expected. Callers discard the
	// triggering event rather than treating this as a failure.
	ErrStaleTransition = errors.New("stale status transition")
)

// Repository handles resource record operations against the registry table.
type Repository struct {
	client    dynamo.Client
	tableName string
}

// NewRepository creates a new Repository.
func NewRepository(client dynamo.Client, tableName string) *Repository {
	return &Repository{
		client:    client,
		tableName: tableName,
	}
}

// Get retrieves the record for id, or ErrNotFound.
func (r *Repository) Get(ctx context.Context, id string) (*Record, error) {
	output, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			dynamo.AttrID: &types.AttributeValueMemberS{Value: id},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get resource record: %w", err)
	}
	if output.Item == nil {
		return nil, ErrNotFound
	}
	return unmarshalRecord(output.Item), nil
}

// Create writes a new record, conditional on the id not existing. A
// duplicate delivery of the same create request surfaces as
// ErrAlreadyExists and the caller decides whether it is a no-op.
func (r *Repository) Create(ctx context.Context, record *Record) error {
	_, err := r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.tableName),
		ConditionExpression: aws.String("attribute_not_exists(" + dynamo.AttrID + ")"),
		Item:                marshalRecord(record),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to create resource record: %w", err)
	}
	return nil
}

// TransitionOption sets additional attributes written alongside a status
// transition.
type TransitionOption func(*TransitionUpdate)

// TransitionUpdate collects the extra attributes a transition writes. It is
// exported so fake registries in tests can apply options the same way the
// repository does.
type TransitionUpdate struct {
	StackID         string
	ConsumerRoleArn string
}

// WithStackID records the backend stack identifier with the transition.
func WithStackID(stackID string) TransitionOption {
	return func(u *TransitionUpdate) { u.StackID = stackID }
}

// WithConsumerRoleArn records the tenant stack's consumer role output with
// the transition.
func WithConsumerRoleArn(arn string) TransitionOption {
	return func(u *TransitionUpdate) { u.ConsumerRoleArn = arn }
}

// TransitionStatus applies expected -> next as a compare-and-swap. The write
// succeeds only if the stored status still equals expected; otherwise
// ErrStaleTransition is returned and nothing changes. Edges not on the
// status graph are rejected the same way without touching the table.
func (r *Repository) TransitionStatus(ctx context.Context, id string, expected, next Status, opts ...TransitionOption) error {
	if !ValidTransition(expected, next) {
		return ErrStaleTransition
	}

	update := &TransitionUpdate{}
	for _, opt := range opts {
		opt(update)
	}

	expr := "SET #status = :next, #transitionedAt = :now"
	names := map[string]string{
		"#status":         AttrStatus,
		"#transitionedAt": AttrLastTransitionAt,
	}
	values := map[string]types.AttributeValue{
		":next":     &types.AttributeValueMemberS{Value: string(next)},
		":expected": &types.AttributeValueMemberS{Value: string(expected)},
		":now":      &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339)},
	}
	if update.StackID != "" {
		expr += ", #stackId = :stackId"
		names["#stackId"] = AttrStackID
		values[":stackId"] = &types.AttributeValueMemberS{Value: update.StackID}
	}
	if update.ConsumerRoleArn != "" {
		expr += ", #consumerRoleArn = :consumerRoleArn"
		names["#consumerRoleArn"] = AttrConsumerRoleArn
		values[":consumerRoleArn"] = &types.AttributeValueMemberS{Value: update.ConsumerRoleArn}
	}

	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			dynamo.AttrID: &types.AttributeValueMemberS{Value: id},
		},
		ConditionExpression:       aws.String("attribute_exists(" + dynamo.AttrID + ") AND #status = :expected"),
		UpdateExpression:          aws.String(expr),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return ErrStaleTransition
		}
		return fmt.Errorf("failed to transition status: %w", err)
	}
	return nil
}

// UpdatePollState records the last successful poll timestamp and cursor.
// This is the only registry write the poller performs.
func (r *Repository) UpdatePollState(ctx context.Context, id string, at time.Time, cursor string) error {
	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			dynamo.AttrID: &types.AttributeValueMemberS{Value: id},
		},
		ConditionExpression: aws.String("attribute_exists(" + dynamo.AttrID + ")"),
		UpdateExpression:    aws.String("SET #pollAt = :at, #cursor = :cursor"),
		ExpressionAttributeNames: map[string]string{
			"#pollAt": AttrLastPollAt,
			"#cursor": AttrPollCursor,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":at":     &types.AttributeValueMemberS{Value: at.UTC().Format(time.RFC3339)},
			":cursor": &types.AttributeValueMemberS{Value: cursor},
		},
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to update poll state: %w", err)
	}
	return nil
}

// Scan returns every record in the table. This walks the full table and is
// O(n) in record count including logically deleted rows; acceptable at
// current scale, listed as a known limitation.
func (r *Repository) Scan(ctx context.Context) ([]Record, error) {
	var records []Record
	var startKey map[string]types.AttributeValue

	for {
		output, err := r.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:         aws.String(r.tableName),
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scan resource records: %w", err)
		}
		for _, item := range output.Items {
			records = append(records, *unmarshalRecord(item))
		}
		if output.LastEvaluatedKey == nil {
			break
		}
		startKey = output.LastEvaluatedKey
	}

	return records, nil
}

func marshalRecord(record *Record) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		dynamo.AttrID: &types.AttributeValueMemberS{Value: record.ID},
		AttrStatus:    &types.AttributeValueMemberS{Value: string(record.Status)},
		AttrConfiguration: &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{
			AttrPollSchedule:       &types.AttributeValueMemberS{Value: record.Configuration.PollSchedule},
			AttrTargetURL:          &types.AttributeValueMemberS{Value: record.Configuration.TargetURL},
			AttrSecretArn:          &types.AttributeValueMemberS{Value: record.Configuration.SecretArn},
			AttrTenantRoleArn:      &types.AttributeValueMemberS{Value: record.Configuration.TenantRoleArn},
			AttrStreamArn:          &types.AttributeValueMemberS{Value: record.Configuration.StreamArn},
			AttrStreamPartitionKey: &types.AttributeValueMemberS{Value: record.Configuration.StreamPartitionKey},
		}},
		AttrCreatedAt:        &types.AttributeValueMemberS{Value: record.CreatedAt.UTC().Format(time.RFC3339)},
		AttrLastTransitionAt: &types.AttributeValueMemberS{Value: record.CreatedAt.UTC().Format(time.RFC3339)},
	}
	if record.StackID != "" {
		item[AttrStackID] = &types.AttributeValueMemberS{Value: record.StackID}
	}
	return item
}

func unmarshalRecord(item map[string]types.AttributeValue) *Record {
	record := &Record{
		ID:              stringAttr(item, dynamo.AttrID),
		Status:          Status(stringAttr(item, AttrStatus)),
		StackID:         stringAttr(item, AttrStackID),
		ConsumerRoleArn: stringAttr(item, AttrConsumerRoleArn),
		PollCursor:      stringAttr(item, AttrPollCursor),
	}
	record.CreatedAt = timeAttr(item, AttrCreatedAt)
	record.LastTransitionAt = timeAttr(item, AttrLastTransitionAt)
	record.LastPollAt = timeAttr(item, AttrLastPollAt)

	if v, ok := item[AttrConfiguration].(*types.AttributeValueMemberM); ok {
		record.Configuration = Configuration{
			PollSchedule:       stringAttr(v.Value, AttrPollSchedule),
			TargetURL:          stringAttr(v.Value, AttrTargetURL),
			SecretArn:          stringAttr(v.Value, AttrSecretArn),
			TenantRoleArn:      stringAttr(v.Value, AttrTenantRoleArn),
			StreamArn:          stringAttr(v.Value, AttrStreamArn),
			StreamPartitionKey: stringAttr(v.Value, AttrStreamPartitionKey),
		}
	}
	return record
}

func stringAttr(item map[string]types.AttributeValue, key string) string {
	if v, ok := item[key].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func timeAttr(item map[string]types.AttributeValue, key string) time.Time {
	if v, ok := item[key].(*types.AttributeValueMemberS); ok {
		if t, err := time.Parse(time.RFC3339, v.Value); err == nil {
			return t
		}
	}
	return time.Time{}
}
