package conversation

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dataflowhq/control-plane/internal/models"
)

// Step is one stage of the guided pipeline-creation flow.
type Step string

const (
	StepSourceIdentification Step = "source_identification"
	StepTableSelection       Step = "table_selection"
	StepDataFilter           Step = "data_filter"
	StepSchemaValidation     Step = "schema_validation"
	StepTopicNaming          Step = "topic_naming"
	StepDestinationSelection Step = "destination_selection"
	StepDestinationSchema    Step = "destination_schema"
	StepResourceCreation     Step = "resource_creation"
	StepAlertConfiguration   Step = "alert_configuration"
	StepCostEstimation       Step = "cost_estimation"
	StepFinalConfirmation    Step = "final_confirmation"
)

// workflowOrder is the canonical step sequence; navigation validates
// against it.
var workflowOrder = []Step{
	StepSourceIdentification,
	StepTableSelection,
	StepDataFilter,
	StepSchemaValidation,
	StepTopicNaming,
	StepDestinationSelection,
	StepDestinationSchema,
	StepResourceCreation,
	StepAlertConfiguration,
	StepCostEstimation,
	StepFinalConfirmation,
}

func stepIndex(s Step) int {
	for i, step := range workflowOrder {
		if step == s {
			return i
		}
	}
	return -1
}

// Context is one session's workflow state. The key is (session, user); the
// same session id under a different user is a distinct context.
type Context struct {
	SessionID       string
	UserID          string
	OriginalRequest string
	Requirements    Requirements
	CurrentStep     Step
	CompletedSteps  []Step

	CredentialID *uuid.UUID
	Tables       []string
	Filter       *models.FilterConfig
	Destination  map[string]any
	AlertRuleIDs []uuid.UUID
	CostEstimate map[string]any
	PipelineID   *uuid.UUID

	StartedAt time.Time
	UpdatedAt time.Time
}

type contextKey struct {
	session string
	user    string
}

// Cursor holds the live workflow contexts, keyed (session, user). Evicted
// on pipeline completion or explicit cancel.
type Cursor struct {
	mu       sync.Mutex
	contexts map[contextKey]*Context
}

func NewCursor() *Cursor {
	return &Cursor{contexts: make(map[contextKey]*Context)}
}

// Start opens (or returns) the context for a session and records the
// original request and its extracted requirements on first contact.
func (c *Cursor) Start(sessionID, userID, request string) *Context {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := contextKey{sessionID, userID}
	if ctx, ok := c.contexts[key]; ok {
		return ctx
	}

	now := time.Now().UTC()
	ctx := &Context{
		SessionID:       sessionID,
		UserID:          userID,
		OriginalRequest: request,
		Requirements:    Extract(request),
		CurrentStep:     StepSourceIdentification,
		StartedAt:       now,
		UpdatedAt:       now,
	}
	c.contexts[key] = ctx
	return ctx
}

func (c *Cursor) Get(sessionID, userID string) (*Context, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, ok := c.contexts[contextKey{sessionID, userID}]
	return ctx, ok
}

// Advance moves a session to the given step, recording the current step as
// completed. Moving backward truncates completed steps from the target
// onward so redone work is not double-counted.
func (c *Cursor) Advance(sessionID, userID string, to Step) (*Context, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, ok := c.contexts[contextKey{sessionID, userID}]
	if !ok {
		return nil, fmt.Errorf("%w: no workflow context for session %s", models.ErrNotFound, sessionID)
	}

	target := stepIndex(to)
	if target < 0 {
		return nil, fmt.Errorf("unknown workflow step %q", to)
	}

	current := stepIndex(ctx.CurrentStep)
	if target > current {
		ctx.CompletedSteps = append(ctx.CompletedSteps, ctx.CurrentStep)
	} else {
		// Back-navigation: everything from the target onward is redone.
		kept := ctx.CompletedSteps[:0]
		for _, s := range ctx.CompletedSteps {
			if stepIndex(s) < target {
				kept = append(kept, s)
			}
		}
		ctx.CompletedSteps = kept
	}

	ctx.CurrentStep = to
	ctx.UpdatedAt = time.Now().UTC()
	return ctx, nil
}

// Complete records the created pipeline and evicts the context.
func (c *Cursor) Complete(sessionID, userID string, pipelineID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := contextKey{sessionID, userID}
	if ctx, ok := c.contexts[key]; ok {
		ctx.PipelineID = &pipelineID
	}
	delete(c.contexts, key)
}

// Cancel evicts the context without a pipeline.
func (c *Cursor) Cancel(sessionID, userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.contexts, contextKey{sessionID, userID})
}
