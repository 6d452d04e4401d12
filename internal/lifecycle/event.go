// Package lifecycle parses CloudFormation stack status change events
// delivered through EventBridge.
package lifecycle

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/stackloom/tenant-control-plane/internal/provisioner"
	"github.com/stackloom/tenant-control-plane/internal/registry"
)

// Source is the EventBridge source field for CloudFormation events.
const Source = "aws.cloudformation"

// StatusChange is the detail payload of a "CloudFormation Stack Status
// Change" event.
type StatusChange struct {
	StackID       string `json:"stack-id"`
	StatusDetails struct {
		Status       string `json:"status"`
		StatusReason string `json:"status-reason"`
	} `json:"status-details"`
}

// ParseStatusChange decodes the event detail.
func ParseStatusChange(detail json.RawMessage) (*StatusChange, error) {
	var sc StatusChange
	if err := json.Unmarshal(detail, &sc); err != nil {
		return nil, fmt.Errorf("failed to parse stack status change: %w", err)
	}
	if sc.StackID == "" {
		return nil, fmt.Errorf("stack status change has no stack-id")
	}
	return &sc, nil
}

// Status returns the registry status the event maps to. CloudFormation's
// terminal and in-progress stack statuses use the same vocabulary as the
// registry's state graph, so the mapping is direct.
func (sc *StatusChange) Status() registry.Status {
	return registry.Status(sc.StatusDetails.Status)
}

// Managed reports whether the event refers to a stack this control plane
// owns. Events for unmanaged stacks are skipped, not dead-lettered.
func (sc *StatusChange) Managed() bool {
	return strings.Contains(sc.StackID, "/"+provisioner.StackNamePrefix)
}
