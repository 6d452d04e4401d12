// Package worker implements the SQS-driven provisioning workers. The create
// worker records requests durably before touching the backend; the delete
// worker accepts teardown requests from any live state. Terminal statuses
// are only ever written by the status reconciler.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"github.com/stackloom/tenant-control-plane/internal/intake"
	"github.com/stackloom/tenant-control-plane/internal/registry"
	"github.com/stackloom/tenant-control-plane/internal/tracing"
)

// RegistryWriter defines the registry operations the workers need.
type RegistryWriter interface {
	Get(ctx context.Context, id string) (*registry.Record, error)
	Create(ctx context.Context, record *registry.Record) error
	TransitionStatus(ctx context.Context, id string, expected, next registry.Status, opts ...registry.TransitionOption) error
}

// StackSubmitter submits tenant stack creations to the backend.
type StackSubmitter interface {
	SubmitCreate(ctx context.Context, record *registry.Record) (string, error)
}

// CreateHandler consumes create requests from the intake queue.
type CreateHandler struct {
	registry RegistryWriter
	backend  StackSubmitter
	logger   *slog.Logger
}

// NewCreateHandler creates a new CreateHandler.
func NewCreateHandler(registry RegistryWriter, backend StackSubmitter, logger *slog.Logger) *CreateHandler {
	return &CreateHandler{
		registry: registry,
		backend:  backend,
		logger:   logger,
	}
}

// Handle processes a batch of intake queue messages. Validation failures are
// dropped; transient failures fail the batch so SQS redelivers.
func (h *CreateHandler) Handle(ctx context.Context, event events.SQSEvent) error {
	tracer := tracing.Tracer("provision-create")
	ctx, span := tracer.Start(ctx, "ProvisionCreateHandler")
	defer span.End()

	for _, message := range event.Records {
		if err := h.processMessage(ctx, message); err != nil {
			return err
		}
	}
	return nil
}

func (h *CreateHandler) processMessage(ctx context.Context, message events.SQSMessage) error {
	var req intake.Request
	if err := json.Unmarshal([]byte(message.Body), &req); err != nil {
		h.logger.ErrorContext(ctx, "Dropping malformed request body",
			slog.String("message_id", message.MessageId),
			slog.String("error", err.Error()),
		)
		return nil
	}
	if err := req.Validate(); err != nil {
		h.logger.ErrorContext(ctx, "Dropping invalid create request",
			slog.String("message_id", message.MessageId),
			slog.String("tenant_id", req.TenantID),
			slog.String("error", err.Error()),
		)
		return nil
	}

	record := &registry.Record{
		ID:            req.TenantID,
		Status:        registry.StatusPending,
		Configuration: req.Configuration,
		CreatedAt:     time.Now().UTC(),
	}

	// Storage-first: the record exists in PENDING before any backend call.
	if err := h.registry.Create(ctx, record); err != nil {
		if !errors.Is(err, registry.ErrAlreadyExists) {
			return err
		}
		existing, err := h.registry.Get(ctx, req.TenantID)
		if err != nil {
			return err
		}
		// Past PENDING, or PENDING with a stack already submitted: a
		// duplicate delivery, done. PENDING without a stack means an earlier
		// attempt crashed between the record write and the submission, so
		// resume from the submission.
		if existing.Status != registry.StatusPending || existing.StackID != "" {
			h.logger.InfoContext(ctx, "Duplicate create request, resource already provisioned",
				slog.String("tenant_id", req.TenantID),
				slog.String("status", string(existing.Status)),
			)
			return nil
		}
		record = existing
	}

	stackID, err := h.backend.SubmitCreate(ctx, record)
	if err != nil {
		// Record stays PENDING; redelivery retries the submission.
		return err
	}

	err = h.registry.TransitionStatus(ctx, record.ID,
		registry.StatusPending, registry.StatusCreateInProgress,
		registry.WithStackID(stackID))
	if errors.Is(err, registry.ErrStaleTransition) {
		// A concurrent worker or an early lifecycle event moved the record
		// on; the stack exists either way.
		h.logger.InfoContext(ctx, "Record advanced concurrently after stack submission",
			slog.String("tenant_id", record.ID),
			slog.String("stack_id", stackID),
		)
		return nil
	}
	if err != nil {
		return err
	}

	h.logger.InfoContext(ctx, "Tenant stack submitted",
		slog.String("tenant_id", record.ID),
		slog.String("stack_id", stackID),
	)
	return nil
}
