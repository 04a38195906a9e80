package api

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dataflowhq/control-plane/internal/conversation"
	"github.com/dataflowhq/control-plane/internal/cost"
	"github.com/dataflowhq/control-plane/internal/models"
	"github.com/dataflowhq/control-plane/internal/orchestrator"
)

type fakePipelineService struct {
	pipelines map[uuid.UUID]*models.Pipeline
	startErr  error
}

func newFakePipelineService() *fakePipelineService {
	return &fakePipelineService{pipelines: make(map[uuid.UUID]*models.Pipeline)}
}

func (f *fakePipelineService) Create(_ context.Context, userID string, spec orchestrator.CreateSpec) (*models.Pipeline, error) {
	if spec.Name == "" || len(spec.Tables) == 0 {
		return nil, fmt.Errorf("pipeline needs a name and at least one table")
	}
	p := &models.Pipeline{
		ID:           uuid.New(),
		UserID:       userID,
		Name:         spec.Name,
		CredentialID: spec.CredentialID,
		SourceKind:   spec.SourceKind,
		Tables:       spec.Tables,
		SinkKind:     spec.SinkKind,
		SinkConfig:   spec.SinkConfig,
		Status:       models.PipelineStatusPending,
		CreatedAt:    time.Now().UTC(),
	}
	f.pipelines[p.ID] = p
	return p, nil
}

func (f *fakePipelineService) Start(_ context.Context, userID string, id uuid.UUID) (*models.Pipeline, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	p, ok := f.pipelines[id]
	if !ok || p.UserID != userID {
		return nil, models.ErrNotFound
	}
	p.Status = models.PipelineStatusRunning
	return p, nil
}

func (f *fakePipelineService) Pause(_ context.Context, _ string, id uuid.UUID) (*models.Pipeline, error) {
	p, ok := f.pipelines[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	if p.Status != models.PipelineStatusRunning {
		return nil, &models.InvalidTransitionError{Current: p.Status, Requested: models.PipelineStatusPaused}
	}
	p.Status = models.PipelineStatusPaused
	return p, nil
}

func (f *fakePipelineService) Resume(_ context.Context, _ string, id uuid.UUID) (*models.Pipeline, error) {
	p, ok := f.pipelines[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	p.Status = models.PipelineStatusRunning
	return p, nil
}

func (f *fakePipelineService) Stop(_ context.Context, _ string, id uuid.UUID) (*models.Pipeline, error) {
	p, ok := f.pipelines[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	p.Status = models.PipelineStatusStopped
	return p, nil
}

func (f *fakePipelineService) Delete(_ context.Context, _ string, id uuid.UUID, _ orchestrator.DeleteOptions) (*orchestrator.DeleteResult, error) {
	p, ok := f.pipelines[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	p.Status = models.PipelineStatusDeleted
	return &orchestrator.DeleteResult{Pipeline: p, DailySavings: 4.5}, nil
}

type fakeMetadataStore struct {
	pipelines map[uuid.UUID]*models.Pipeline
	rules     map[uuid.UUID]*models.AlertRule
	history   []models.AlertHistory
	tables    []models.DiscoveredTable
}

func newFakeMetadataStore() *fakeMetadataStore {
	return &fakeMetadataStore{
		pipelines: make(map[uuid.UUID]*models.Pipeline),
		rules:     make(map[uuid.UUID]*models.AlertRule),
	}
}

func (f *fakeMetadataStore) ListPipelines(_ context.Context, userID string) ([]models.Pipeline, error) {
	var out []models.Pipeline
	for _, p := range f.pipelines {
		if p.UserID == userID && p.Status != models.PipelineStatusDeleted {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakeMetadataStore) GetPipeline(_ context.Context, userID string, id uuid.UUID) (*models.Pipeline, error) {
	p, ok := f.pipelines[id]
	if !ok || p.UserID != userID {
		return nil, models.ErrNotFound
	}
	return p, nil
}

func (f *fakeMetadataStore) ListEvents(context.Context, uuid.UUID, int) ([]models.PipelineEvent, error) {
	return nil, nil
}

func (f *fakeMetadataStore) ListDiscoveredTables(context.Context, uuid.UUID) ([]models.DiscoveredTable, error) {
	return f.tables, nil
}

func (f *fakeMetadataStore) InsertEnrichment(context.Context, models.Enrichment) error { return nil }

func (f *fakeMetadataStore) ListEnrichments(context.Context, uuid.UUID) ([]models.Enrichment, error) {
	return nil, nil
}

func (f *fakeMetadataStore) InsertAlertRule(_ context.Context, r models.AlertRule) error {
	f.rules[r.ID] = &r
	return nil
}

func (f *fakeMetadataStore) GetAlertRule(_ context.Context, userID string, id uuid.UUID) (*models.AlertRule, error) {
	r, ok := f.rules[id]
	if !ok || r.UserID != userID {
		return nil, models.ErrNotFound
	}
	return r, nil
}

func (f *fakeMetadataStore) ListAlertRules(_ context.Context, userID string) ([]models.AlertRule, error) {
	var out []models.AlertRule
	for _, r := range f.rules {
		if r.UserID == userID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (f *fakeMetadataStore) SetRuleActive(_ context.Context, userID string, id uuid.UUID, active bool) error {
	r, ok := f.rules[id]
	if !ok || r.UserID != userID {
		return models.ErrNotFound
	}
	r.Active = active
	return nil
}

func (f *fakeMetadataStore) DeleteAlertRule(_ context.Context, id uuid.UUID) error {
	delete(f.rules, id)
	return nil
}

func (f *fakeMetadataStore) ListAlertHistory(context.Context, string, int) ([]models.AlertHistory, error) {
	return f.history, nil
}

type fakeCredentialService struct {
	creds []models.Credential
}

func (f *fakeCredentialService) Store(_ context.Context, userID, name, kind string, secret models.SourceSecret, _ bool) (*models.Credential, error) {
	c := models.Credential{
		ID: uuid.New(), UserID: userID, Name: name, SourceKind: kind,
		Host: secret.Host, Port: secret.Port, Database: secret.Database,
		Validated: true, CreatedAt: time.Now().UTC(),
	}
	f.creds = append(f.creds, c)
	return &c, nil
}

func (f *fakeCredentialService) Open(_ context.Context, userID string, id uuid.UUID) (models.SourceSecret, error) {
	for _, c := range f.creds {
		if c.ID == id && c.UserID == userID {
			return models.SourceSecret{Host: c.Host}, nil
		}
	}
	return models.SourceSecret{}, models.ErrNotFound
}

func (f *fakeCredentialService) Test(context.Context, string, models.SourceSecret) models.ProbeResult {
	return models.ProbeResult{Success: true, ServerVersion: "16.1"}
}

func (f *fakeCredentialService) List(_ context.Context, userID string) ([]models.Credential, error) {
	var out []models.Credential
	for _, c := range f.creds {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeCredentialService) Delete(context.Context, string, uuid.UUID) error { return nil }

type fakeLedger struct {
	active []models.TrackedResource
}

func (f *fakeLedger) Active(uuid.UUID) []models.TrackedResource   { return f.active }
func (f *fakeLedger) Residual(uuid.UUID) []models.TrackedResource { return nil }

type fakeAlertTester struct {
	tested []uuid.UUID
}

func (f *fakeAlertTester) Test(_ context.Context, rule models.AlertRule) (bool, error) {
	f.tested = append(f.tested, rule.ID)
	return true, nil
}

type fakeHealthChecker struct {
	checked []uuid.UUID
}

func (f *fakeHealthChecker) CheckNow(_ context.Context, id *uuid.UUID) error {
	if id != nil {
		f.checked = append(f.checked, *id)
	}
	return nil
}

type testEnv struct {
	router    http.Handler
	pipelines *fakePipelineService
	store     *fakeMetadataStore
	vault     *fakeCredentialService
	alerts    *fakeAlertTester
	health    *fakeHealthChecker
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		pipelines: newFakePipelineService(),
		store:     newFakeMetadataStore(),
		vault:     &fakeCredentialService{},
		alerts:    &fakeAlertTester{},
		health:    &fakeHealthChecker{},
	}

	env.router = NewRouter(slog.Default(), env.pipelines, env.store, env.vault,
		&fakeLedger{}, env.alerts, env.health, Aux{
			Estimator: cost.New(cost.Rates{ConnectorTaskPerDay: 1.50}),
			Cursor:    conversation.NewCursor(),
		})

	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("X-User-ID", "user-1")

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/v1/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreatePipeline(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/pipelines", map[string]any{
		"name":          "orders sync",
		"credential_id": uuid.New(),
		"source_kind":   "postgres",
		"tables":        []string{"public.orders"},
		"sink_kind":     "clickhouse",
		"sink_config":   map[string]any{"host": "ch.example", "password": "hunter2"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp pipelineJSON
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "orders sync", resp.Name)
	assert.Equal(t, models.PipelineStatusPending, resp.Status)
	// Sink credentials never leave the server.
	assert.NotContains(t, rec.Body.String(), "hunter2")
}

func TestGetPipelineUnknownIs404(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/v1/pipelines/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPipelineScopedToUser(t *testing.T) {
	env := newTestEnv(t)

	p := &models.Pipeline{ID: uuid.New(), UserID: "someone-else", Status: models.PipelineStatusRunning}
	env.store.pipelines[p.ID] = p

	rec := env.do(t, http.MethodGet, "/api/v1/pipelines/"+p.ID.String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInvalidTransitionIs409(t *testing.T) {
	env := newTestEnv(t)

	p := &models.Pipeline{ID: uuid.New(), UserID: "user-1", Status: models.PipelineStatusPending}
	env.pipelines.pipelines[p.ID] = p
	env.store.pipelines[p.ID] = p

	rec := env.do(t, http.MethodPost, "/api/v1/pipelines/"+p.ID.String()+"/pause", nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "pending", resp.Details["current_status"])
}

func TestExternalFailureIs502(t *testing.T) {
	env := newTestEnv(t)
	env.pipelines.startErr = fmt.Errorf("submit connector: %w", models.ErrExternalSystem)

	p := &models.Pipeline{ID: uuid.New(), UserID: "user-1", Status: models.PipelineStatusPending}
	env.pipelines.pipelines[p.ID] = p

	rec := env.do(t, http.MethodPost, "/api/v1/pipelines/"+p.ID.String()+"/start", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestDeletePipelineReportsSavings(t *testing.T) {
	env := newTestEnv(t)

	p := &models.Pipeline{ID: uuid.New(), UserID: "user-1", Status: models.PipelineStatusRunning}
	env.pipelines.pipelines[p.ID] = p

	rec := env.do(t, http.MethodDelete, "/api/v1/pipelines/"+p.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp deleteResultJSON
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 4.5, resp.DailySavings)
	assert.Equal(t, models.PipelineStatusDeleted, resp.Pipeline.Status)
}

func TestCreateAlertRuleValidation(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/alert-rules", map[string]any{
		"name": "missing bits",
		"kind": "volume_spike",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/alert-rules", map[string]any{
		"name":         "spike watch",
		"kind":         "volume_spike",
		"recipients":   []string{"ops@example.com"},
		"enabled_days": []int{9},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestAlertRuleLifecycle(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/alert-rules", map[string]any{
		"name":             "spike watch",
		"kind":             "volume_spike",
		"recipients":       []string{"ops@example.com"},
		"cooldown_seconds": 1800,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var rule models.AlertRule
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rule))
	assert.True(t, rule.Active)
	assert.Equal(t, 30*time.Minute, rule.Cooldown)

	rec = env.do(t, http.MethodPost, "/api/v1/alert-rules/"+rule.ID.String()+"/test", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []uuid.UUID{rule.ID}, env.alerts.tested)

	rec = env.do(t, http.MethodDelete, "/api/v1/alert-rules/"+rule.ID.String(), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestCostEstimateEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/cost/estimate", map[string]any{
		"events_per_day": 100000,
		"table_count":    2,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var est cost.Estimate
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &est))
	assert.Positive(t, est.DailyTotal)
}

func TestPipelineHealthCheckTriggersMonitor(t *testing.T) {
	env := newTestEnv(t)

	p := &models.Pipeline{ID: uuid.New(), UserID: "user-1", Status: models.PipelineStatusRunning}
	env.store.pipelines[p.ID] = p

	rec := env.do(t, http.MethodPost, "/api/v1/pipelines/"+p.ID.String()+"/health", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []uuid.UUID{p.ID}, env.health.checked)
}

func TestConversationFlow(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.vault.Store(context.Background(), "user-1", "production", "postgres",
		models.SourceSecret{Host: "db.example"}, false)
	require.NoError(t, err)

	rec := env.do(t, http.MethodPost, "/api/v1/conversation", map[string]any{
		"session_id": "sess-1",
		"request":    "stream orders from the production database into clickhouse",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp conversationJSON
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, conversation.StepSourceIdentification, resp.CurrentStep)
	assert.Equal(t, "production", resp.Requirements.SourceHint)
	require.NotNil(t, resp.CredentialMatch)
	assert.Equal(t, "production", resp.CredentialMatch.Credential.Name)

	rec = env.do(t, http.MethodPost, "/api/v1/conversation/sess-1/advance", map[string]any{
		"step": "table_selection",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, conversation.StepTableSelection, resp.CurrentStep)

	rec = env.do(t, http.MethodPost, "/api/v1/conversation/sess-1/advance", map[string]any{
		"step": "not_a_step",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = env.do(t, http.MethodDelete, "/api/v1/conversation/sess-1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/conversation/sess-1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
