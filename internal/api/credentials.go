package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/dataflowhq/control-plane/internal/models"
)

type credentialRequest struct {
	Name       string `json:"name"`
	SourceKind string `json:"source_kind"`
	Host       string `json:"host"`
	Port       int    `json:"port"`
	Database   string `json:"database"`
	User       string `json:"user"`
	Password   string `json:"password"`
	SSLMode    string `json:"sslmode,omitempty"`
	Probe      *bool  `json:"probe,omitempty"` // default true
}

// credentialJSON is the wire shape of a credential; the sealed secret never
// leaves the vault.
type credentialJSON struct {
	ID            uuid.UUID  `json:"id"`
	Name          string     `json:"name"`
	SourceKind    string     `json:"source_kind"`
	Host          string     `json:"host"`
	Port          int        `json:"port"`
	Database      string     `json:"database"`
	Validated     bool       `json:"validated"`
	LastValidated *time.Time `json:"last_validated,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

func toCredentialJSON(c models.Credential) credentialJSON {
	return credentialJSON{
		ID:            c.ID,
		Name:          c.Name,
		SourceKind:    c.SourceKind,
		Host:          c.Host,
		Port:          c.Port,
		Database:      c.Database,
		Validated:     c.Validated,
		LastValidated: c.LastValidated,
		CreatedAt:     c.CreatedAt,
	}
}

func (h *handler) createCredential(w http.ResponseWriter, r *http.Request) {
	req, err := parseRequest[credentialRequest](w, r)
	if err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Name == "" || req.Host == "" {
		jsonError(w, http.StatusUnprocessableEntity, "credential needs a name and a host")
		return
	}

	probe := req.Probe == nil || *req.Probe
	secret := models.SourceSecret{
		Host:     req.Host,
		Port:     req.Port,
		Database: req.Database,
		User:     req.User,
		Password: req.Password,
		SSLMode:  req.SSLMode,
	}

	cred, err := h.vault.Store(r.Context(), userID(r), req.Name, req.SourceKind, secret, probe)
	if err != nil {
		h.respondError(w, err)
		return
	}

	jsonResponse(w, http.StatusCreated, toCredentialJSON(*cred))
}

func (h *handler) listCredentials(w http.ResponseWriter, r *http.Request) {
	creds, err := h.vault.List(r.Context(), userID(r))
	if err != nil {
		h.respondError(w, err)
		return
	}

	out := make([]credentialJSON, 0, len(creds))
	for _, c := range creds {
		out = append(out, toCredentialJSON(c))
	}
	jsonResponse(w, http.StatusOK, out)
}

// testCredential probes connectivity without persisting anything.
func (h *handler) testCredential(w http.ResponseWriter, r *http.Request) {
	req, err := parseRequest[credentialRequest](w, r)
	if err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	result := h.vault.Test(r.Context(), req.SourceKind, models.SourceSecret{
		Host:     req.Host,
		Port:     req.Port,
		Database: req.Database,
		User:     req.User,
		Password: req.Password,
		SSLMode:  req.SSLMode,
	})

	jsonResponse(w, http.StatusOK, result)
}

func (h *handler) deleteCredential(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.vault.Delete(r.Context(), userID(r), id); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
