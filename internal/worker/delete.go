package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-lambda-go/events"

	"github.com/stackloom/tenant-control-plane/internal/intake"
	"github.com/stackloom/tenant-control-plane/internal/provisioner"
	"github.com/stackloom/tenant-control-plane/internal/registry"
	"github.com/stackloom/tenant-control-plane/internal/tracing"
)

// maxCASAttempts bounds re-reads when the delete transition loses a race
// with another writer. An accepted delete request must not be dropped, so
// exhausting the attempts returns an error and SQS redelivers.
const maxCASAttempts = 3

// StackRemover submits tenant stack teardowns to the backend.
type StackRemover interface {
	SubmitTeardown(ctx context.Context, stackName string) error
}

// DeleteHandler consumes delete requests from the intake queue. Deletes are
// logical: the record transitions to DELETE_IN_PROGRESS and the stack
// teardown is submitted; the record itself is kept after DELETE_COMPLETE.
type DeleteHandler struct {
	registry RegistryWriter
	backend  StackRemover
	logger   *slog.Logger
}

// NewDeleteHandler creates a new DeleteHandler.
func NewDeleteHandler(registry RegistryWriter, backend StackRemover, logger *slog.Logger) *DeleteHandler {
	return &DeleteHandler{
		registry: registry,
		backend:  backend,
		logger:   logger,
	}
}

// Handle processes a batch of delete messages. The resource id travels as a
// message attribute so no body parsing is needed.
func (h *DeleteHandler) Handle(ctx context.Context, event events.SQSEvent) error {
	tracer := tracing.Tracer("provision-delete")
	ctx, span := tracer.Start(ctx, "ProvisionDeleteHandler")
	defer span.End()

	for _, message := range event.Records {
		resourceID := ""
		if attr, ok := message.MessageAttributes[intake.AttributeResourceID]; ok && attr.StringValue != nil {
			resourceID = *attr.StringValue
		}
		if resourceID == "" {
			h.logger.ErrorContext(ctx, "Dropping delete request with no resource id",
				slog.String("message_id", message.MessageId),
			)
			continue
		}
		if err := h.processDelete(ctx, resourceID); err != nil {
			return err
		}
	}
	return nil
}

func (h *DeleteHandler) processDelete(ctx context.Context, resourceID string) error {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		record, err := h.registry.Get(ctx, resourceID)
		if errors.Is(err, registry.ErrNotFound) {
			// Idempotent: deleting a resource that never existed succeeds.
			h.logger.InfoContext(ctx, "Delete for unknown resource, nothing to do",
				slog.String("resource_id", resourceID),
			)
			return nil
		}
		if err != nil {
			return err
		}

		switch {
		case record.Status == registry.StatusDeleteInProgress:
			// Redelivered delete: the transition already happened but the
			// teardown submission may not have, so submit again. DeleteStack
			// is idempotent on the backend.
		case registry.ValidTransition(record.Status, registry.StatusDeleteInProgress):
			err := h.registry.TransitionStatus(ctx, resourceID, record.Status, registry.StatusDeleteInProgress)
			if errors.Is(err, registry.ErrStaleTransition) {
				// Another writer moved the record between the read and the
				// write. The delete is still owed; re-read and try the edge
				// from the new state.
				continue
			}
			if err != nil {
				return err
			}
		default:
			// Already DELETE_COMPLETE (or another state with no delete edge).
			h.logger.InfoContext(ctx, "Resource not deletable in its current state",
				slog.String("resource_id", resourceID),
				slog.String("status", string(record.Status)),
			)
			return nil
		}

		stackName := record.StackID
		if stackName == "" {
			stackName = provisioner.StackName(resourceID)
		}
		if err := h.backend.SubmitTeardown(ctx, stackName); err != nil {
			return err
		}

		h.logger.InfoContext(ctx, "Tenant stack teardown submitted",
			slog.String("resource_id", resourceID),
			slog.String("stack", stackName),
		)
		return nil
	}

	return fmt.Errorf("delete of %s lost the status race %d times, leaving for redelivery", resourceID, maxCASAttempts)
}
