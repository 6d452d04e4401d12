// Package tenantauth issues short-lived cross-account capabilities for
// tenant-scoped AWS access. A capability is acquired per invocation and per
// tenant, never cached and never shared across tenants.
package tenantauth

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// SessionDuration is the lifetime requested for assumed-role credentials.
// Kept at the STS minimum so a leaked capability expires quickly.
const SessionDuration = 15 * time.Minute

// STSAPI abstracts the AssumeRole call for dependency inversion.
type STSAPI interface {
	AssumeRole(ctx context.Context, params *sts.AssumeRoleInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleOutput, error)
}

// Capability holds tenant-scoped credentials obtained across the account
// boundary.
type Capability struct {
	RoleArn     string
	credentials aws.Credentials
}

// Acquire assumes the tenant role and returns a capability. It fails closed:
// any error means no capability and the caller must not touch tenant
// resources.
func Acquire(ctx context.Context, client STSAPI, roleArn, sessionName string) (*Capability, error) {
	output, err := client.AssumeRole(ctx, &sts.AssumeRoleInput{
		RoleArn:         aws.String(roleArn),
		RoleSessionName: aws.String(sessionName),
		DurationSeconds: aws.Int32(int32(SessionDuration.Seconds())),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to assume tenant role %s: %w", roleArn, err)
	}
	creds := output.Credentials
	if creds == nil {
		return nil, fmt.Errorf("assume role %s returned no credentials", roleArn)
	}

	return &Capability{
		RoleArn: roleArn,
		credentials: aws.Credentials{
			AccessKeyID:     aws.ToString(creds.AccessKeyId),
			SecretAccessKey: aws.ToString(creds.SecretAccessKey),
			SessionToken:    aws.ToString(creds.SessionToken),
			CanExpire:       true,
			Expires:         aws.ToTime(creds.Expiration),
		},
	}, nil
}

// Config returns a copy of base that authenticates as the tenant. Clients
// built from it can only reach what the tenant role permits.
func (c *Capability) Config(base aws.Config) aws.Config {
	scoped := base.Copy()
	scoped.Credentials = credentials.NewStaticCredentialsProvider(
		c.credentials.AccessKeyID,
		c.credentials.SecretAccessKey,
		c.credentials.SessionToken,
	)
	return scoped
}
