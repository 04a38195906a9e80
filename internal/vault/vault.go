package vault

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/dataflowhq/control-plane/internal/models"
)

type CredentialStore interface {
	InsertCredential(ctx context.Context, c models.Credential) error
	GetCredential(ctx context.Context, userID string, id uuid.UUID) (*models.Credential, error)
	ListCredentials(ctx context.Context, userID string) ([]models.Credential, error)
	DeleteCredential(ctx context.Context, userID string, id uuid.UUID) error
}

// Prober opens a short-timeout connection to the source and runs a trivial
// query. Results are returned to the caller and never persisted.
type Prober interface {
	Probe(ctx context.Context, kind string, secret models.SourceSecret) models.ProbeResult
}

type Vault struct {
	sealer *sealer
	store  CredentialStore
	prober Prober
	log    *slog.Logger
}

func New(key []byte, store CredentialStore, prober Prober, log *slog.Logger) (*Vault, error) {
	s, err := newSealer(key)
	if err != nil {
		return nil, fmt.Errorf("init sealer: %w", err)
	}

	return &Vault{sealer: s, store: store, prober: prober, log: log}, nil
}

// Store seals and persists a source secret. With probe set, connectivity is
// verified first and a failed probe rejects the credential.
func (v *Vault) Store(ctx context.Context, userID, name, kind string, secret models.SourceSecret, probe bool) (*models.Credential, error) {
	now := time.Now().UTC()
	cred := models.Credential{
		ID:         uuid.New(),
		UserID:     userID,
		Name:       name,
		SourceKind: kind,
		Host:       secret.Host,
		Port:       secret.Port,
		Database:   secret.Database,
		CreatedAt:  now,
	}

	if probe {
		res := v.prober.Probe(ctx, kind, secret)
		if !res.Success {
			return nil, fmt.Errorf("%w: %s", models.ErrInvalidCreds, res.Error)
		}
		cred.Validated = true
		cred.LastValidated = &now
	}

	plaintext, err := json.Marshal(secret)
	if err != nil {
		return nil, fmt.Errorf("encode secret: %w", err)
	}

	cred.Ciphertext, cred.IV, cred.Tag, err = v.sealer.Seal(plaintext)
	if err != nil {
		return nil, fmt.Errorf("seal secret: %w", err)
	}

	if err := v.store.InsertCredential(ctx, cred); err != nil {
		return nil, fmt.Errorf("persist credential: %w", err)
	}

	return &cred, nil
}

// Open returns the decrypted secret to the caller in memory only.
func (v *Vault) Open(ctx context.Context, userID string, id uuid.UUID) (models.SourceSecret, error) {
	var secret models.SourceSecret

	cred, err := v.store.GetCredential(ctx, userID, id)
	if err != nil {
		return secret, fmt.Errorf("load credential: %w", err)
	}

	plaintext, err := v.sealer.Open(cred.Ciphertext, cred.IV, cred.Tag)
	if err != nil {
		v.log.ErrorContext(ctx, "credential decryption failed",
			slog.String("credential_id", id.String()),
			slog.String("user_id", userID))
		return secret, err
	}

	if err := json.Unmarshal(plaintext, &secret); err != nil {
		return secret, fmt.Errorf("decode secret: %w", err)
	}

	return secret, nil
}

// Test probes connectivity for an unsaved secret.
func (v *Vault) Test(ctx context.Context, kind string, secret models.SourceSecret) models.ProbeResult {
	return v.prober.Probe(ctx, kind, secret)
}

func (v *Vault) List(ctx context.Context, userID string) ([]models.Credential, error) {
	creds, err := v.store.ListCredentials(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	return creds, nil
}

func (v *Vault) Delete(ctx context.Context, userID string, id uuid.UUID) error {
	if err := v.store.DeleteCredential(ctx, userID, id); err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	return nil
}
