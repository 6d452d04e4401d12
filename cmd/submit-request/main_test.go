package main

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stackloom/tenant-control-plane/internal/intake"
	"github.com/stackloom/tenant-control-plane/internal/registry"
)

// mockPublisher implements requestPublisher for testing.
type mockPublisher struct {
	createFunc func(ctx context.Context, req *intake.Request) (string, error)
	deleted    []string
}

func (m *mockPublisher) PublishCreate(ctx context.Context, req *intake.Request) (string, error) {
	if m.createFunc != nil {
		return m.createFunc(ctx, req)
	}
	return "msg-1", nil
}

func (m *mockPublisher) PublishDelete(ctx context.Context, resourceID string) error {
	m.deleted = append(m.deleted, resourceID)
	return nil
}

func validRequest() *intake.Request {
	return &intake.Request{
		TenantID: "t1",
		Configuration: registry.Configuration{
			PollSchedule:       "rate(5 minutes)",
			TargetURL:          "https://x",
			SecretArn:          "arn:secret",
			TenantRoleArn:      "arn:role",
			StreamArn:          "arn:stream",
			StreamPartitionKey: "001",
		},
	}
}

func TestSubmit_Create(t *testing.T) {
	pub := &mockPublisher{}
	result, err := submit(context.Background(), pub, intake.ActionCreate, validRequest())
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if !strings.Contains(result, "msg-1") {
		t.Errorf("result = %q, want the message id reported", result)
	}
}

func TestSubmit_Delete(t *testing.T) {
	pub := &mockPublisher{}
	result, err := submit(context.Background(), pub, intake.ActionDelete, validRequest())
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if len(pub.deleted) != 1 || pub.deleted[0] != "t1" {
		t.Errorf("deleted = %v, want [t1]", pub.deleted)
	}
	if !strings.Contains(result, "t1") {
		t.Errorf("result = %q, want the tenant id reported", result)
	}
}

func TestSubmit_UnknownAction(t *testing.T) {
	pub := &mockPublisher{}
	if _, err := submit(context.Background(), pub, intake.Action("drop"), validRequest()); err == nil {
		t.Fatal("expected error for unknown action, got nil")
	}
}

func TestSubmit_PublishFailure(t *testing.T) {
	pub := &mockPublisher{
		createFunc: func(ctx context.Context, req *intake.Request) (string, error) {
			return "", errors.New("queue unavailable")
		},
	}
	if _, err := submit(context.Background(), pub, intake.ActionCreate, validRequest()); err == nil {
		t.Fatal("expected error when the enqueue fails, got nil")
	}
}
