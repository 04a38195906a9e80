package models

import (
	"time"

	"github.com/google/uuid"
)

// TransformTemplate is a reusable ordered list of transformation configs
// plus an anomaly-detection config; pipelines may reference one at creation.
type TransformTemplate struct {
	ID              uuid.UUID
	UserID          string
	Name            string
	Transformations []map[string]any
	AnomalyConfig   map[string]any
	CreatedAt       time.Time
}
