package poller

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kinesis"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	"github.com/stackloom/tenant-control-plane/internal/logging"
)

// mockSecrets implements SecretsAPI for testing.
type mockSecrets struct {
	getFunc func(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

func (m *mockSecrets) GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	if m.getFunc != nil {
		return m.getFunc(ctx, params, optFns...)
	}
	return &secretsmanager.GetSecretValueOutput{SecretString: aws.String("api-key")}, nil
}

// mockStream implements StreamAPI for testing.
type mockStream struct {
	putFunc func(ctx context.Context, params *kinesis.PutRecordInput, optFns ...func(*kinesis.Options)) (*kinesis.PutRecordOutput, error)
}

func (m *mockStream) PutRecord(ctx context.Context, params *kinesis.PutRecordInput, optFns ...func(*kinesis.Options)) (*kinesis.PutRecordOutput, error) {
	if m.putFunc != nil {
		return m.putFunc(ctx, params, optFns...)
	}
	return &kinesis.PutRecordOutput{SequenceNumber: aws.String("seq-1")}, nil
}

// mockRegistry implements RegistryUpdater for testing.
type mockRegistry struct {
	updateFunc func(ctx context.Context, id string, at time.Time, cursor string) error
	calls      []string
}

func (m *mockRegistry) UpdatePollState(ctx context.Context, id string, at time.Time, cursor string) error {
	m.calls = append(m.calls, id)
	if m.updateFunc != nil {
		return m.updateFunc(ctx, id, at, cursor)
	}
	return nil
}

func testConfig(targetURL string) Config {
	return Config{
		RegistryKey:        "t1",
		TargetURL:          targetURL,
		SecretArn:          "arn:secret:t1",
		StreamArn:          "arn:stream:ingest",
		StreamPartitionKey: "001",
	}
}

func staticFactory(clients *TenantClients) ClientFactory {
	return func(ctx context.Context, sessionName string) (*TenantClients, error) {
		return clients, nil
	}
}

func TestPoller_Poll_Success(t *testing.T) {
	var gotAuth string
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"temperature":22.0}`))
	}))
	defer target.Close()

	var putInput *kinesis.PutRecordInput
	stream := &mockStream{
		putFunc: func(ctx context.Context, params *kinesis.PutRecordInput, optFns ...func(*kinesis.Options)) (*kinesis.PutRecordOutput, error) {
			putInput = params
			return &kinesis.PutRecordOutput{SequenceNumber: aws.String("seq-7")}, nil
		},
	}
	reg := &mockRegistry{}
	var gotCursor string
	reg.updateFunc = func(ctx context.Context, id string, at time.Time, cursor string) error {
		gotCursor = cursor
		return nil
	}

	p := New(testConfig(target.URL), staticFactory(&TenantClients{Secrets: &mockSecrets{}, Stream: stream}), target.Client(), reg, logging.New())
	if err := p.Poll(context.Background()); err != nil {
		t.Fatalf("Poll failed: %v", err)
	}

	if gotAuth != "Bearer api-key" {
		t.Errorf("Authorization = %q, want %q", gotAuth, "Bearer api-key")
	}
	if *putInput.StreamARN != "arn:stream:ingest" {
		t.Errorf("StreamARN = %q, want configured stream", *putInput.StreamARN)
	}
	if *putInput.PartitionKey != "001" {
		t.Errorf("PartitionKey = %q, want %q", *putInput.PartitionKey, "001")
	}
	if string(putInput.Data) != `{"temperature":22.0}` {
		t.Errorf("Data = %q, want target payload", putInput.Data)
	}
	if gotCursor != "seq-7" {
		t.Errorf("cursor = %q, want %q", gotCursor, "seq-7")
	}
}

func TestPoller_Poll_FailsClosedWithoutCapability(t *testing.T) {
	targetCalled := false
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		targetCalled = true
	}))
	defer target.Close()

	reg := &mockRegistry{}
	factory := func(ctx context.Context, sessionName string) (*TenantClients, error) {
		return nil, errors.New("access denied")
	}

	p := New(testConfig(target.URL), factory, target.Client(), reg, logging.New())
	if err := p.Poll(context.Background()); err == nil {
		t.Fatal("expected error, got nil")
	}

	if targetCalled {
		t.Error("target must not be called without a tenant capability")
	}
	if len(reg.calls) != 0 {
		t.Error("registry must not be written without a tenant capability")
	}
}

func TestPoller_Poll_TargetFailureNoWrites(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer target.Close()

	streamCalled := false
	stream := &mockStream{
		putFunc: func(ctx context.Context, params *kinesis.PutRecordInput, optFns ...func(*kinesis.Options)) (*kinesis.PutRecordOutput, error) {
			streamCalled = true
			return &kinesis.PutRecordOutput{}, nil
		},
	}
	reg := &mockRegistry{}

	p := New(testConfig(target.URL), staticFactory(&TenantClients{Secrets: &mockSecrets{}, Stream: stream}), target.Client(), reg, logging.New())
	if err := p.Poll(context.Background()); err == nil {
		t.Fatal("expected error, got nil")
	}

	if streamCalled {
		t.Error("stream must not be written when the target call fails")
	}
	if len(reg.calls) != 0 {
		t.Error("registry must not be written when the target call fails")
	}
}

func TestPoller_Poll_StreamFailureSkipsRegistry(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{}"))
	}))
	defer target.Close()

	stream := &mockStream{
		putFunc: func(ctx context.Context, params *kinesis.PutRecordInput, optFns ...func(*kinesis.Options)) (*kinesis.PutRecordOutput, error) {
			return nil, errors.New("throughput exceeded")
		},
	}
	reg := &mockRegistry{}

	p := New(testConfig(target.URL), staticFactory(&TenantClients{Secrets: &mockSecrets{}, Stream: stream}), target.Client(), reg, logging.New())
	if err := p.Poll(context.Background()); err == nil {
		t.Fatal("expected error, got nil")
	}
	if len(reg.calls) != 0 {
		t.Error("registry must not advance the cursor when the stream write fails")
	}
}

func TestPoller_Poll_RegistryFailureIsAbsorbed(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{}"))
	}))
	defer target.Close()

	reg := &mockRegistry{
		updateFunc: func(ctx context.Context, id string, at time.Time, cursor string) error {
			return errors.New("registry unavailable")
		},
	}

	p := New(testConfig(target.URL), staticFactory(&TenantClients{Secrets: &mockSecrets{}, Stream: &mockStream{}}), target.Client(), reg, logging.New())
	if err := p.Poll(context.Background()); err != nil {
		t.Fatalf("Poll should absorb a registry update failure, got %v", err)
	}
}

func TestPoller_Poll_WritesOnlyConfiguredTenant(t *testing.T) {
	// Two pollers configured for different tenants must never touch each
	// other's registry key or stream, even when run concurrently.
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{}"))
	}))
	defer target.Close()

	type write struct{ stream, key string }
	writes := make(chan write, 2)

	newPoller := func(tenant string) *Poller {
		cfg := Config{
			RegistryKey:        tenant,
			TargetURL:          target.URL,
			SecretArn:          "arn:secret:" + tenant,
			StreamArn:          "arn:stream:" + tenant,
			StreamPartitionKey: "001",
		}
		stream := &mockStream{
			putFunc: func(ctx context.Context, params *kinesis.PutRecordInput, optFns ...func(*kinesis.Options)) (*kinesis.PutRecordOutput, error) {
				writes <- write{stream: *params.StreamARN, key: cfg.RegistryKey}
				return &kinesis.PutRecordOutput{SequenceNumber: aws.String("seq")}, nil
			},
		}
		return New(cfg, staticFactory(&TenantClients{Secrets: &mockSecrets{}, Stream: stream}), target.Client(), &mockRegistry{}, logging.New())
	}

	pa, pb := newPoller("tenant-a"), newPoller("tenant-b")
	done := make(chan error, 2)
	go func() { done <- pa.Poll(context.Background()) }()
	go func() { done <- pb.Poll(context.Background()) }()
	for i := 0; i < 2; i++ {
		if err := <-done; err != nil {
			t.Fatalf("Poll failed: %v", err)
		}
	}

	close(writes)
	for w := range writes {
		if w.stream != "arn:stream:"+w.key {
			t.Errorf("tenant %s wrote to stream %s", w.key, w.stream)
		}
	}
}
