package models

import (
	"time"

	"github.com/google/uuid"
)

// Credential is a stored source connection. The secret lives only as
// AES-GCM output; plaintext is decrypted transiently by the vault and never
// persisted or logged.
type Credential struct {
	ID            uuid.UUID
	UserID        string
	Name          string
	SourceKind    string
	Ciphertext    []byte
	IV            []byte
	Tag           []byte
	Host          string
	Port          int
	Database      string
	Validated     bool
	LastValidated *time.Time
	CreatedAt     time.Time
}

// SourceSecret is the plaintext shape sealed into a Credential.
type SourceSecret struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Database string `json:"database"`
	User     string `json:"user"`
	Password string `json:"password"`
	SSLMode  string `json:"sslmode,omitempty"`
}

// ProbeResult is the outcome of a connectivity probe; never persisted.
type ProbeResult struct {
	Success       bool
	ServerVersion string
	Error         string
}
