// Package poller implements one scheduled poll invocation for a single
// tenant: assume the tenant role, fetch the tenant credential, call the
// tenant's external system, and forward the result to the output stream.
package poller

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kinesis"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/google/uuid"
)

// maxResponseBytes caps how much of the target response is forwarded.
// Kinesis rejects records above 1 MiB anyway.
const maxResponseBytes = 1 << 20

// Config is the static per-tenant deployment configuration.
type Config struct {
	RegistryKey        string
	TargetURL          string
	SecretArn          string
	StreamArn          string
	StreamPartitionKey string
}

// SecretsAPI abstracts the Secrets Manager call made with tenant-scoped
// credentials.
type SecretsAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// StreamAPI abstracts the Kinesis call made with tenant-scoped credentials.
type StreamAPI interface {
	PutRecord(ctx context.Context, params *kinesis.PutRecordInput, optFns ...func(*kinesis.Options)) (*kinesis.PutRecordOutput, error)
}

// TenantClients are the clients built on an assumed tenant capability. They
// are valid for a single invocation only.
type TenantClients struct {
	Secrets SecretsAPI
	Stream  StreamAPI
}

// ClientFactory assumes the tenant role and returns scoped clients. An error
// means the cross-account boundary could not be crossed and the invocation
// must stop with no writes.
type ClientFactory func(ctx context.Context, sessionName string) (*TenantClients, error)

// RegistryUpdater records poll progress on the tenant's registry row.
type RegistryUpdater interface {
	UpdatePollState(ctx context.Context, id string, at time.Time, cursor string) error
}

// Poller runs poll invocations for one tenant.
type Poller struct {
	cfg        Config
	newClients ClientFactory
	httpClient *http.Client
	registry   RegistryUpdater
	logger     *slog.Logger
}

// New creates a new Poller.
func New(cfg Config, newClients ClientFactory, httpClient *http.Client, registry RegistryUpdater, logger *slog.Logger) *Poller {
	return &Poller{
		cfg:        cfg,
		newClients: newClients,
		httpClient: httpClient,
		registry:   registry,
		logger:     logger,
	}
}

// Poll runs one invocation. The stream write happens before the registry
// update; a failed registry update is logged and absorbed, so the worst case
// is a duplicate stream record on the next tick, which downstream consumers
// already tolerate under at-least-once delivery.
func (p *Poller) Poll(ctx context.Context) error {
	sessionName := "poll-" + uuid.NewString()

	clients, err := p.newClients(ctx, sessionName)
	if err != nil {
		return fmt.Errorf("tenant capability unavailable: %w", err)
	}

	secret, err := clients.Secrets.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(p.cfg.SecretArn),
	})
	if err != nil {
		return fmt.Errorf("failed to fetch tenant secret: %w", err)
	}

	payload, err := p.callTarget(ctx, aws.ToString(secret.SecretString))
	if err != nil {
		return err
	}

	output, err := clients.Stream.PutRecord(ctx, &kinesis.PutRecordInput{
		StreamARN:    aws.String(p.cfg.StreamArn),
		PartitionKey: aws.String(p.cfg.StreamPartitionKey),
		Data:         payload,
	})
	if err != nil {
		return fmt.Errorf("failed to put stream record: %w", err)
	}
	cursor := aws.ToString(output.SequenceNumber)

	if err := p.registry.UpdatePollState(ctx, p.cfg.RegistryKey, time.Now().UTC(), cursor); err != nil {
		p.logger.ErrorContext(ctx, "Failed to record poll state, next tick will re-poll",
			slog.String("registry_key", p.cfg.RegistryKey),
			slog.String("error", err.Error()),
		)
	}

	p.logger.InfoContext(ctx, "Poll completed",
		slog.String("registry_key", p.cfg.RegistryKey),
		slog.String("cursor", cursor),
		slog.Int("payload_bytes", len(payload)),
	)
	return nil
}

// callTarget fetches one payload from the tenant's external system using the
// tenant credential.
func (p *Poller) callTarget(ctx context.Context, secret string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.TargetURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build target request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+secret)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call target system: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("target system returned status %d", resp.StatusCode)
	}

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read target response: %w", err)
	}
	return payload, nil
}
