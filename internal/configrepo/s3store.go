package configrepo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/fleetcontrol/agent-control/internal/agenttype"
	"github.com/fleetcontrol/agent-control/internal/remoteconfig"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Backend implements Repository's remote-config half (LoadRemote,
// StoreRemote, UpdateState, GetRemote, DeleteRemote) against an S3
// bucket, for fleets that want a shared remote-config store instead of
// per-host files. LoadLocal always reports no local config — S3Backend
// is meant to be composed with a FileBackend's LoadLocal via
// CompositeBackend when a local fallback is still wanted. Adapted from
// the prior config-store's S3 client, narrowed from "poll for node config changes
// via ETag" to "persist one JSON record per agent key."
type S3Backend struct {
	client *s3.Client
	bucket string
	prefix string
}

// S3BackendConfig mirrors the prior config-store's S3 client options.
type S3BackendConfig struct {
	Bucket      string
	Prefix      string
	Region      string
	EndpointURL string
}

// NewS3Backend resolves AWS credentials from the standard chain and
// returns a ready S3Backend.
func NewS3Backend(ctx context.Context, cfg S3BackendConfig) (*S3Backend, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.EndpointURL != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
			o.UsePathStyle = true
		})
	}

	return &S3Backend{client: s3.NewFromConfig(awsCfg, s3Opts...), bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (b *S3Backend) key(agentID agenttype.AgentID) string {
	return b.prefix + "remote/" + string(agentID) + ".json"
}

// LoadLocal always reports absence; S3Backend only ever backs the
// remote half of Repository.
func (b *S3Backend) LoadLocal(context.Context, agenttype.AgentID) (YamlConfig, bool, error) {
	return YamlConfig{}, false, nil
}

func (b *S3Backend) LoadRemote(ctx context.Context, agentID agenttype.AgentID) (remoteconfig.Record, bool, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(b.bucket), Key: aws.String(b.key(agentID))})
	var notFound *s3types.NoSuchKey
	if errors.As(err, &notFound) {
		return remoteconfig.Record{}, false, nil
	}
	if err != nil {
		return remoteconfig.Record{}, false, fmt.Errorf("fetching s3://%s/%s: %w", b.bucket, b.key(agentID), err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return remoteconfig.Record{}, false, fmt.Errorf("reading s3://%s/%s: %w", b.bucket, b.key(agentID), err)
	}
	var rec remoteconfig.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return remoteconfig.Record{}, false, fmt.Errorf("decoding remote config for %s: %w", agentID, err)
	}
	return rec, true, nil
}

func (b *S3Backend) GetRemote(ctx context.Context, agentID agenttype.AgentID) (remoteconfig.Record, bool, error) {
	return b.LoadRemote(ctx, agentID)
}

func (b *S3Backend) StoreRemote(ctx context.Context, agentID agenttype.AgentID, rec remoteconfig.Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding remote config for %s: %w", agentID, err)
	}
	_, err = b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(agentID)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("storing s3://%s/%s: %w", b.bucket, b.key(agentID), err)
	}
	return nil
}

func (b *S3Backend) UpdateState(ctx context.Context, agentID agenttype.AgentID, state remoteconfig.State, message string) error {
	rec, ok, err := b.LoadRemote(ctx, agentID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("update_state called with no persisted remote config for %s", agentID)
	}
	rec.State = state
	rec.Message = message
	return b.StoreRemote(ctx, agentID, rec)
}

func (b *S3Backend) DeleteRemote(ctx context.Context, agentID agenttype.AgentID) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(b.bucket), Key: aws.String(b.key(agentID))})
	if err != nil {
		return fmt.Errorf("deleting s3://%s/%s: %w", b.bucket, b.key(agentID), err)
	}
	return nil
}
