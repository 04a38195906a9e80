package api

import (
	"context"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dataflowhq/control-plane/internal/client"
	"github.com/dataflowhq/control-plane/internal/conversation"
	"github.com/dataflowhq/control-plane/internal/cost"
	"github.com/dataflowhq/control-plane/internal/discovery"
	"github.com/dataflowhq/control-plane/internal/models"
	"github.com/dataflowhq/control-plane/internal/readiness"
	"github.com/dataflowhq/control-plane/internal/registry"
)

// Aux bundles the self-contained helpers handlers call directly. OpenSource
// is swappable so tests never dial a database.
type Aux struct {
	Registry   *registry.Registry
	Discoverer *discovery.Discoverer
	Prober     *readiness.Prober
	Estimator  *cost.Estimator
	Cursor     *conversation.Cursor

	OpenSource func(ctx context.Context, secret models.SourceSecret) (*pgxpool.Pool, error)
}

func (a *Aux) defaults() {
	if a.OpenSource == nil {
		a.OpenSource = client.OpenSource
	}
	if a.Cursor == nil {
		a.Cursor = conversation.NewCursor()
	}
}

func (*handler) healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}
