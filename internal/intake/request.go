// Package intake defines the provisioning request messages carried on the
// intake queue and their validation.
package intake

import (
	"fmt"
	"strings"

	"github.com/stackloom/tenant-control-plane/internal/registry"
)

// Action is the requested operation.
type Action string

const (
	// ActionCreate requests provisioning of a tenant stack.
	ActionCreate Action = "create"
	// ActionDelete requests teardown of a tenant stack.
	ActionDelete Action = "delete"
)

// AttributeResourceID is the SQS message attribute carrying the resource id
// on delete messages, so consumers can route without deserializing the body.
const AttributeResourceID = "projectId"

// Request is the intake queue message body.
type Request struct {
	Action        Action                 `json:"action"`
	TenantID      string                 `json:"tenantId"`
	Configuration registry.Configuration `json:"configuration"`
}

// ValidationError reports a malformed or incomplete request. Requests
// failing validation are dropped, never retried.
type ValidationError struct {
	Missing []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid provisioning request: missing %s", strings.Join(e.Missing, ", "))
}

// Validate checks that a create request carries every field the tenant
// stack needs. Delete requests only need the tenant id.
func (r *Request) Validate() error {
	var missing []string
	if r.TenantID == "" {
		missing = append(missing, "tenantId")
	}
	if r.Action == ActionCreate {
		cfg := r.Configuration
		if cfg.PollSchedule == "" {
			missing = append(missing, "configuration.pollSchedule")
		}
		if cfg.TargetURL == "" {
			missing = append(missing, "configuration.targetUrl")
		}
		if cfg.SecretArn == "" {
			missing = append(missing, "configuration.secretArn")
		}
		if cfg.TenantRoleArn == "" {
			missing = append(missing, "configuration.tenantRoleArn")
		}
		if cfg.StreamArn == "" {
			missing = append(missing, "configuration.streamArn")
		}
	}
	if len(missing) > 0 {
		return &ValidationError{Missing: missing}
	}
	return nil
}
