// Package reconciler applies CloudFormation stack status change events to
// the resource registry. It is the only writer of terminal statuses: stack
// convergence is asynchronous and only CloudFormation's own event stream can
// confirm it. Transient failures are returned so EventBridge redelivers (the
// target is configured with a bounded retry, ten attempts, before its
// failure destination); events that can never be attributed to a tenant go
// to the dead-letter sink instead of looping.
package reconciler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"github.com/stackloom/tenant-control-plane/internal/deadletter"
	"github.com/stackloom/tenant-control-plane/internal/lifecycle"
	"github.com/stackloom/tenant-control-plane/internal/provisioner"
	"github.com/stackloom/tenant-control-plane/internal/registry"
	"github.com/stackloom/tenant-control-plane/internal/tracing"
)

// maxCASAttempts bounds re-reads when a transition loses a compare-and-swap
// race. Losing repeatedly means another writer owns the record's progress
// and this event is stale.
const maxCASAttempts = 3

// RegistryWriter defines the registry operations the reconciler needs.
type RegistryWriter interface {
	Get(ctx context.Context, id string) (*registry.Record, error)
	TransitionStatus(ctx context.Context, id string, expected, next registry.Status, opts ...registry.TransitionOption) error
}

// StackDescriber resolves a stack to its tenant and outputs.
type StackDescriber interface {
	Describe(ctx context.Context, stackID string) (*provisioner.StackInfo, error)
}

// Handler applies lifecycle events to the registry.
type Handler struct {
	registry   RegistryWriter
	backend    StackDescriber
	deadletter deadletter.Publisher
	logger     *slog.Logger
}

// New creates a new Handler.
func New(registry RegistryWriter, backend StackDescriber, dlq deadletter.Publisher, logger *slog.Logger) *Handler {
	return &Handler{
		registry:   registry,
		backend:    backend,
		deadletter: dlq,
		logger:     logger,
	}
}

// Handle processes one CloudFormation stack status change event.
func (h *Handler) Handle(ctx context.Context, event events.CloudWatchEvent) error {
	tracer := tracing.Tracer("status-reconciler")
	ctx, span := tracer.Start(ctx, "StatusReconcilerHandler")
	defer span.End()

	if event.Source != lifecycle.Source {
		return nil
	}

	change, err := lifecycle.ParseStatusChange(event.Detail)
	if err != nil {
		// Retrying cannot fix a malformed event.
		h.logger.ErrorContext(ctx, "Dropping unparseable lifecycle event",
			slog.String("error", err.Error()),
		)
		return nil
	}
	if !change.Managed() {
		h.logger.InfoContext(ctx, "Skipping event for unmanaged stack",
			slog.String("stack_id", change.StackID),
		)
		return nil
	}

	next := change.Status()
	if !registry.KnownStatus(next) {
		h.logger.InfoContext(ctx, "Skipping event with unhandled stack status",
			slog.String("stack_id", change.StackID),
			slog.String("status", string(next)),
		)
		return nil
	}

	info, err := h.backend.Describe(ctx, change.StackID)
	if err != nil {
		return err
	}
	if info.TenantID == "" {
		return h.divert(ctx, change, "stack has no TenantId tag")
	}

	return h.reconcile(ctx, change, info, next)
}

func (h *Handler) reconcile(ctx context.Context, change *lifecycle.StatusChange, info *provisioner.StackInfo, next registry.Status) error {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		record, err := h.registry.Get(ctx, info.TenantID)
		if errors.Is(err, registry.ErrNotFound) {
			return h.divert(ctx, change, "no registry record for tenant "+info.TenantID)
		}
		if err != nil {
			return err
		}

		if !registry.ValidTransition(record.Status, next) {
			// Out-of-order or duplicate delivery; expected, not a failure.
			h.logger.InfoContext(ctx, "Discarding stale lifecycle event",
				slog.String("tenant_id", info.TenantID),
				slog.String("current_status", string(record.Status)),
				slog.String("event_status", string(next)),
			)
			return nil
		}

		var opts []registry.TransitionOption
		if next == registry.StatusCreateComplete || next == registry.StatusUpdateComplete {
			opts = append(opts, registry.WithConsumerRoleArn(info.ConsumerRoleArn))
		}

		err = h.registry.TransitionStatus(ctx, info.TenantID, record.Status, next, opts...)
		if errors.Is(err, registry.ErrStaleTransition) {
			// Lost the CAS race; re-read and re-evaluate the edge.
			continue
		}
		if err != nil {
			return err
		}

		h.logger.InfoContext(ctx, "Reconciled resource status",
			slog.String("tenant_id", info.TenantID),
			slog.String("from", string(record.Status)),
			slog.String("to", string(next)),
		)
		return nil
	}

	h.logger.InfoContext(ctx, "Discarding lifecycle event after repeated CAS losses",
		slog.String("tenant_id", info.TenantID),
		slog.String("event_status", string(next)),
	)
	return nil
}

// divert routes an unattributable event to the dead-letter sink so an
// operator sees it instead of it being silently dropped.
func (h *Handler) divert(ctx context.Context, change *lifecycle.StatusChange, reason string) error {
	h.logger.ErrorContext(ctx, "Diverting lifecycle event to dead-letter sink",
		slog.String("stack_id", change.StackID),
		slog.String("reason", reason),
	)
	return h.deadletter.PublishUndeliverable(ctx, deadletter.Entry{
		StackID:    change.StackID,
		Status:     change.StatusDetails.Status,
		Reason:     reason,
		ReceivedAt: time.Now().UTC(),
	})
}
