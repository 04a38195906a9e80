package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/twmb/franz-go/pkg/sr"

	"github.com/dataflowhq/control-plane/internal/models"
)

type SchemaRegistryConfig struct {
	URL       string
	APIKey    string
	APISecret string
}

// SchemaRegistryClient wraps the Confluent-compatible registry API.
type SchemaRegistryClient struct {
	client *sr.Client
}

func NewSchemaRegistryClient(cfg SchemaRegistryConfig) (*SchemaRegistryClient, error) {
	opts := []sr.ClientOpt{sr.URLs(cfg.URL)}
	if cfg.APIKey != "" && cfg.APISecret != "" {
		opts = append(opts, sr.BasicAuth(cfg.APIKey, cfg.APISecret))
	}

	client, err := sr.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("create schema registry client: %w", err)
	}

	return &SchemaRegistryClient{client: client}, nil
}

func (s *SchemaRegistryClient) Register(ctx context.Context, subject, schema string, typ sr.SchemaType) (int, error) {
	ss, err := s.client.CreateSchema(ctx, subject, sr.Schema{Schema: schema, Type: typ})
	if err != nil {
		return 0, fmt.Errorf("register schema for subject %s: %w", subject, err)
	}
	return ss.ID, nil
}

// LatestSchemaID returns the id of the latest registered schema for a
// subject, or models.ErrNotFound when the subject has never been registered.
// The orchestrator uses this to emit schema-id-referencing stream DDL and
// avoid duplicate registration on pipeline recreation.
func (s *SchemaRegistryClient) LatestSchemaID(ctx context.Context, subject string) (int, error) {
	ss, err := s.client.SchemaByVersion(ctx, subject, -1)
	if err != nil {
		if errors.Is(err, sr.ErrSubjectNotFound) || errors.Is(err, sr.ErrSchemaNotFound) {
			return 0, fmt.Errorf("%w: subject %q", models.ErrNotFound, subject)
		}
		return 0, fmt.Errorf("get latest schema for subject %s: %w", subject, err)
	}
	return ss.ID, nil
}

func (s *SchemaRegistryClient) CheckCompatibility(ctx context.Context, subject, schema string, typ sr.SchemaType) (bool, error) {
	res, err := s.client.CheckCompatibility(ctx, subject, -1, sr.Schema{Schema: schema, Type: typ})
	if err != nil {
		return false, fmt.Errorf("check compatibility for subject %s: %w", subject, err)
	}
	return res.Is, nil
}

// DeleteSubject soft-deletes then, when permanent is set, hard-deletes the
// subject. Missing subjects are treated as already deleted.
func (s *SchemaRegistryClient) DeleteSubject(ctx context.Context, subject string, permanent bool) error {
	_, err := s.client.DeleteSubject(ctx, subject, sr.SoftDelete)
	if err != nil && !errors.Is(err, sr.ErrSubjectNotFound) {
		return fmt.Errorf("soft delete subject %s: %w", subject, err)
	}

	if permanent {
		_, err = s.client.DeleteSubject(ctx, subject, sr.HardDelete)
		if err != nil && !errors.Is(err, sr.ErrSubjectNotFound) {
			return fmt.Errorf("hard delete subject %s: %w", subject, err)
		}
	}

	return nil
}
