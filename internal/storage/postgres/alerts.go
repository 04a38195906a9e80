package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dataflowhq/control-plane/internal/models"
)

const alertRuleColumns = `id, user_id, pipeline_id, name, kind, thresholds,
	enabled_days, enabled_hours, cooldown_seconds, severity, recipients,
	active, last_triggered, trigger_count, created_at`

func (s *Store) InsertAlertRule(ctx context.Context, r models.AlertRule) error {
	thresholds, err := marshalJSON(r.Thresholds)
	if err != nil {
		return err
	}
	days, err := marshalJSON(r.EnabledDays)
	if err != nil {
		return err
	}
	hours, err := marshalJSON(r.EnabledHours)
	if err != nil {
		return err
	}
	recipients, err := marshalJSON(r.Recipients)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO alert_rules (id, user_id, pipeline_id, name, kind, thresholds,
			enabled_days, enabled_hours, cooldown_seconds, severity, recipients,
			active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, r.ID, r.UserID, r.PipelineID, r.Name, r.Kind, thresholds,
		days, hours, int64(r.Cooldown.Seconds()), r.Severity, recipients,
		r.Active, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert alert rule: %w", err)
	}
	return nil
}

func (s *Store) GetAlertRule(ctx context.Context, userID string, id uuid.UUID) (*models.AlertRule, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+alertRuleColumns+` FROM alert_rules WHERE id = $1 AND user_id = $2`,
		id, userID)

	r, err := scanAlertRule(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: alert rule %s", models.ErrNotFound, id)
		}
		return nil, fmt.Errorf("get alert rule: %w", err)
	}
	return r, nil
}

func (s *Store) ListAlertRules(ctx context.Context, userID string) ([]models.AlertRule, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+alertRuleColumns+` FROM alert_rules WHERE user_id = $1 ORDER BY created_at DESC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("list alert rules: %w", err)
	}
	defer rows.Close()

	return collectAlertRules(rows)
}

// ActiveRules returns the rules the monitor evaluates for one pipeline: rules
// bound to it plus the user's pipeline-wide rules (NULL pipeline_id).
func (s *Store) ActiveRules(ctx context.Context, userID string, pipelineID uuid.UUID) ([]models.AlertRule, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+alertRuleColumns+` FROM alert_rules
		 WHERE user_id = $1 AND active AND (pipeline_id = $2 OR pipeline_id IS NULL)`,
		userID, pipelineID)
	if err != nil {
		return nil, fmt.Errorf("list active alert rules: %w", err)
	}
	defer rows.Close()

	return collectAlertRules(rows)
}

// SetRuleActive toggles a rule without touching its definition.
func (s *Store) SetRuleActive(ctx context.Context, userID string, id uuid.UUID, active bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE alert_rules SET active = $1 WHERE id = $2 AND user_id = $3`,
		active, id, userID)
	if err != nil {
		return fmt.Errorf("toggle alert rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: alert rule %s", models.ErrNotFound, id)
	}
	return nil
}

func (s *Store) DeleteAlertRule(ctx context.Context, ruleID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM alert_rules WHERE id = $1`, ruleID)
	if err != nil {
		return fmt.Errorf("delete alert rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: alert rule %s", models.ErrNotFound, ruleID)
	}
	return nil
}

func (s *Store) MarkRuleTriggered(ctx context.Context, ruleID uuid.UUID, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE alert_rules SET last_triggered = $1, trigger_count = trigger_count + 1
		WHERE id = $2
	`, at, ruleID)
	if err != nil {
		return fmt.Errorf("mark rule triggered: %w", err)
	}
	return nil
}

func (s *Store) AppendAlertHistory(ctx context.Context, h models.AlertHistory) error {
	details, err := marshalJSON(h.Details)
	if err != nil {
		return err
	}
	recipients, err := marshalJSON(h.Recipients)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO alert_history (id, rule_id, kind, severity, title, body, details,
			email_sent, delivered_at, recipients, delivery_error, triggered_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, h.ID, h.RuleID, h.Kind, h.Severity, h.Title, h.Body, details,
		h.EmailSent, h.DeliveredAt, recipients, h.DeliveryError, h.TriggeredAt)
	if err != nil {
		return fmt.Errorf("append alert history: %w", err)
	}
	return nil
}

// ListAlertHistory returns a user's recent alert deliveries, newest first.
func (s *Store) ListAlertHistory(ctx context.Context, userID string, limit int) ([]models.AlertHistory, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT h.id, h.rule_id, h.kind, h.severity, h.title, h.body, h.details,
			h.email_sent, h.delivered_at, h.recipients, h.delivery_error, h.triggered_at
		FROM alert_history h
		JOIN alert_rules r ON r.id = h.rule_id
		WHERE r.user_id = $1
		ORDER BY h.triggered_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list alert history: %w", err)
	}
	defer rows.Close()

	var out []models.AlertHistory
	for rows.Next() {
		var h models.AlertHistory
		var details, recipients []byte
		if err := rows.Scan(&h.ID, &h.RuleID, &h.Kind, &h.Severity, &h.Title, &h.Body, &details,
			&h.EmailSent, &h.DeliveredAt, &recipients, &h.DeliveryError, &h.TriggeredAt); err != nil {
			return nil, fmt.Errorf("scan alert history: %w", err)
		}
		if err := unmarshalJSON(details, &h.Details); err != nil {
			return nil, err
		}
		if err := unmarshalJSON(recipients, &h.Recipients); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func scanAlertRule(row pgx.Row) (*models.AlertRule, error) {
	var r models.AlertRule
	var thresholds, days, hours, recipients []byte
	var cooldownSeconds int64

	err := row.Scan(&r.ID, &r.UserID, &r.PipelineID, &r.Name, &r.Kind, &thresholds,
		&days, &hours, &cooldownSeconds, &r.Severity, &recipients,
		&r.Active, &r.LastTriggered, &r.TriggerCount, &r.CreatedAt)
	if err != nil {
		return nil, err
	}

	r.Cooldown = time.Duration(cooldownSeconds) * time.Second
	if err := unmarshalJSON(thresholds, &r.Thresholds); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(days, &r.EnabledDays); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(hours, &r.EnabledHours); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(recipients, &r.Recipients); err != nil {
		return nil, err
	}

	return &r, nil
}

func collectAlertRules(rows pgx.Rows) ([]models.AlertRule, error) {
	var out []models.AlertRule
	for rows.Next() {
		r, err := scanAlertRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan alert rule: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}
