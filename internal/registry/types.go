// Package registry stores tenant resource records and enforces the
// provisioning status graph with conditional DynamoDB writes.
package registry

import "time"

// Status is the lifecycle state of a tenant resource.
type Status string

const (
	// StatusPending means the request is durably recorded but the stack
	// submission has not been confirmed yet.
	StatusPending Status = "PENDING"
	// StatusCreateInProgress means the stack submission was accepted.
	StatusCreateInProgress Status = "CREATE_IN_PROGRESS"
	// StatusCreateComplete means the backend confirmed stack creation.
	StatusCreateComplete Status = "CREATE_COMPLETE"
	// StatusCreateFailed means the backend reported stack creation failure.
	StatusCreateFailed Status = "CREATE_FAILED"
	// StatusUpdateInProgress means a stack update was submitted.
	StatusUpdateInProgress Status = "UPDATE_IN_PROGRESS"
	// StatusUpdateComplete means the backend confirmed a stack update.
	StatusUpdateComplete Status = "UPDATE_COMPLETE"
	// StatusUpdateFailed means the backend reported a stack update failure.
	StatusUpdateFailed Status = "UPDATE_FAILED"
	// StatusDeleteInProgress means teardown was accepted.
	StatusDeleteInProgress Status = "DELETE_IN_PROGRESS"
	// StatusDeleteComplete means the backend confirmed teardown. The record
	// is kept for audit; deletion is logical.
	StatusDeleteComplete Status = "DELETE_COMPLETE"
	// StatusDeleteFailed means the backend reported teardown failure.
	StatusDeleteFailed Status = "DELETE_FAILED"
)

// Configuration is the tenant-supplied provisioning parameter set. It is
// validated at intake and immutable after creation.
type Configuration struct {
	PollSchedule       string `json:"pollSchedule"`
	TargetURL          string `json:"targetUrl"`
	SecretArn          string `json:"secretArn"`
	TenantRoleArn      string `json:"tenantRoleArn"`
	StreamArn          string `json:"streamArn"`
	StreamPartitionKey string `json:"streamPartitionKey"`
}

// Record is one tenant resource row. ID doubles as the tenant id and the
// table partition key.
type Record struct {
	ID               string
	Status           Status
	Configuration    Configuration
	StackID          string
	ConsumerRoleArn  string
	CreatedAt        time.Time
	LastTransitionAt time.Time
	LastPollAt       time.Time
	PollCursor       string
}
