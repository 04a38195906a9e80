package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/dataflowhq/control-plane/internal/models"
	"github.com/dataflowhq/control-plane/internal/orchestrator"
)

// PipelineService is the orchestrator surface the API consumes.
type PipelineService interface {
	Create(ctx context.Context, userID string, spec orchestrator.CreateSpec) (*models.Pipeline, error)
	Start(ctx context.Context, userID string, id uuid.UUID) (*models.Pipeline, error)
	Pause(ctx context.Context, userID string, id uuid.UUID) (*models.Pipeline, error)
	Resume(ctx context.Context, userID string, id uuid.UUID) (*models.Pipeline, error)
	Stop(ctx context.Context, userID string, id uuid.UUID) (*models.Pipeline, error)
	Delete(ctx context.Context, userID string, id uuid.UUID, opts orchestrator.DeleteOptions) (*orchestrator.DeleteResult, error)
}

// MetadataStore is the read/write slice of the metadata store the handlers
// touch directly, bypassing the orchestrator.
type MetadataStore interface {
	ListPipelines(ctx context.Context, userID string) ([]models.Pipeline, error)
	GetPipeline(ctx context.Context, userID string, id uuid.UUID) (*models.Pipeline, error)
	ListEvents(ctx context.Context, pipelineID uuid.UUID, limit int) ([]models.PipelineEvent, error)
	ListDiscoveredTables(ctx context.Context, credentialID uuid.UUID) ([]models.DiscoveredTable, error)
	InsertEnrichment(ctx context.Context, e models.Enrichment) error
	ListEnrichments(ctx context.Context, pipelineID uuid.UUID) ([]models.Enrichment, error)
	InsertAlertRule(ctx context.Context, r models.AlertRule) error
	GetAlertRule(ctx context.Context, userID string, id uuid.UUID) (*models.AlertRule, error)
	ListAlertRules(ctx context.Context, userID string) ([]models.AlertRule, error)
	SetRuleActive(ctx context.Context, userID string, id uuid.UUID, active bool) error
	DeleteAlertRule(ctx context.Context, ruleID uuid.UUID) error
	ListAlertHistory(ctx context.Context, userID string, limit int) ([]models.AlertHistory, error)
}

// CredentialService is the vault surface the API consumes.
type CredentialService interface {
	Store(ctx context.Context, userID, name, kind string, secret models.SourceSecret, probe bool) (*models.Credential, error)
	Open(ctx context.Context, userID string, id uuid.UUID) (models.SourceSecret, error)
	Test(ctx context.Context, kind string, secret models.SourceSecret) models.ProbeResult
	List(ctx context.Context, userID string) ([]models.Credential, error)
	Delete(ctx context.Context, userID string, id uuid.UUID) error
}

type ResourceLedger interface {
	Active(pipelineID uuid.UUID) []models.TrackedResource
	Residual(pipelineID uuid.UUID) []models.TrackedResource
}

type AlertTester interface {
	Test(ctx context.Context, rule models.AlertRule) (bool, error)
}

type HealthChecker interface {
	CheckNow(ctx context.Context, pipelineID *uuid.UUID) error
}

type handler struct {
	log *slog.Logger

	pipelines PipelineService
	store     MetadataStore
	vault     CredentialService
	ledger    ResourceLedger
	alerts    AlertTester
	monitor   HealthChecker

	aux Aux
}

// NewRouter wires every endpoint. Aux carries the self-contained helpers
// (registry, planners, estimator, conversation cursor) that need no
// interface seam.
func NewRouter(log *slog.Logger, pipelines PipelineService, store MetadataStore,
	vault CredentialService, ledger ResourceLedger, alerts AlertTester,
	monitor HealthChecker, aux Aux,
) http.Handler {
	aux.defaults()

	h := handler{
		log:       log,
		pipelines: pipelines,
		store:     store,
		vault:     vault,
		ledger:    ledger,
		alerts:    alerts,
		monitor:   monitor,
		aux:       aux,
	}

	r := mux.NewRouter()

	r.HandleFunc("/api/v1/healthz", h.healthz).Methods("GET")

	r.HandleFunc("/api/v1/credentials", h.createCredential).Methods("POST")
	r.HandleFunc("/api/v1/credentials", h.listCredentials).Methods("GET")
	r.HandleFunc("/api/v1/credentials/test", h.testCredential).Methods("POST")
	r.HandleFunc("/api/v1/credentials/{id}", h.deleteCredential).Methods("DELETE")
	r.HandleFunc("/api/v1/credentials/{id}/discovery", h.runDiscovery).Methods("POST")
	r.HandleFunc("/api/v1/credentials/{id}/tables", h.listTables).Methods("GET")
	r.HandleFunc("/api/v1/credentials/{id}/readiness", h.checkReadiness).Methods("POST")
	r.HandleFunc("/api/v1/credentials/{id}/filter-plan", h.planFilter).Methods("POST")
	r.HandleFunc("/api/v1/credentials/{id}/filter-preview", h.previewFilter).Methods("POST")

	r.HandleFunc("/api/v1/pipelines", h.createPipeline).Methods("POST")
	r.HandleFunc("/api/v1/pipelines", h.listPipelines).Methods("GET")
	r.HandleFunc("/api/v1/pipelines/{id}", h.getPipeline).Methods("GET")
	r.HandleFunc("/api/v1/pipelines/{id}", h.deletePipeline).Methods("DELETE")
	r.HandleFunc("/api/v1/pipelines/{id}/start", h.startPipeline).Methods("POST")
	r.HandleFunc("/api/v1/pipelines/{id}/pause", h.pausePipeline).Methods("POST")
	r.HandleFunc("/api/v1/pipelines/{id}/resume", h.resumePipeline).Methods("POST")
	r.HandleFunc("/api/v1/pipelines/{id}/stop", h.stopPipeline).Methods("POST")
	r.HandleFunc("/api/v1/pipelines/{id}/events", h.listPipelineEvents).Methods("GET")
	r.HandleFunc("/api/v1/pipelines/{id}/resources", h.listPipelineResources).Methods("GET")
	r.HandleFunc("/api/v1/pipelines/{id}/health", h.checkPipelineHealth).Methods("POST")
	r.HandleFunc("/api/v1/pipelines/{id}/enrichments", h.createEnrichment).Methods("POST")
	r.HandleFunc("/api/v1/pipelines/{id}/enrichments", h.listEnrichments).Methods("GET")

	r.HandleFunc("/api/v1/transform/preview", h.previewTransform).Methods("POST")
	r.HandleFunc("/api/v1/cost/estimate", h.estimateCost).Methods("POST")
	r.HandleFunc("/api/v1/cost/compare", h.compareCost).Methods("POST")

	r.HandleFunc("/api/v1/alert-rules", h.createAlertRule).Methods("POST")
	r.HandleFunc("/api/v1/alert-rules", h.listAlertRules).Methods("GET")
	r.HandleFunc("/api/v1/alert-rules/{id}", h.deleteAlertRule).Methods("DELETE")
	r.HandleFunc("/api/v1/alert-rules/{id}/active", h.setAlertRuleActive).Methods("PUT")
	r.HandleFunc("/api/v1/alert-rules/{id}/test", h.testAlertRule).Methods("POST")
	r.HandleFunc("/api/v1/alert-history", h.listAlertHistory).Methods("GET")

	r.HandleFunc("/api/v1/conversation", h.startConversation).Methods("POST")
	r.HandleFunc("/api/v1/conversation/{session}", h.getConversation).Methods("GET")
	r.HandleFunc("/api/v1/conversation/{session}", h.cancelConversation).Methods("DELETE")
	r.HandleFunc("/api/v1/conversation/{session}/advance", h.advanceConversation).Methods("POST")

	r.Use(Recovery(log), RequestLogging(log))

	return r
}
