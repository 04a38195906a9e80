package alert

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dataflowhq/control-plane/internal/models"
)

type HistoryStore interface {
	AppendAlertHistory(ctx context.Context, h models.AlertHistory) error
	MarkRuleTriggered(ctx context.Context, ruleID uuid.UUID, at time.Time) error
}

// Dispatcher gates anomalies through a rule's schedule and delivers the
// survivors by mail. Delivery failures are recorded in history, never
// raised.
type Dispatcher struct {
	mailer Mailer
	store  HistoryStore
	log    *slog.Logger
	now    func() time.Time
}

func NewDispatcher(mailer Mailer, store HistoryStore, log *slog.Logger) *Dispatcher {
	return &Dispatcher{mailer: mailer, store: store, log: log, now: time.Now}
}

// Send dispatches one anomaly under one rule. The returned bool reports
// whether the alert passed the gates; a gated alert writes no history row
// and sends nothing.
func (d *Dispatcher) Send(ctx context.Context, rule models.AlertRule, anomaly models.Anomaly, bypassSchedule bool) (bool, error) {
	if !rule.Active {
		return false, nil
	}

	now := d.now().UTC()
	if !bypassSchedule {
		if !rule.ScheduledToday(now) || !rule.ScheduledHour(now) || rule.InCooldown(now) {
			d.log.DebugContext(ctx, "alert gated by schedule",
				slog.String("rule_id", rule.ID.String()),
				slog.String("kind", string(rule.Kind)))
			return false, nil
		}
	}

	subject := fmt.Sprintf("[%s] %s", rule.Severity, anomaly.Title)
	textBody := renderText(rule, anomaly)
	htmlBody := renderHTML(rule, anomaly)

	history := models.AlertHistory{
		ID:          uuid.New(),
		RuleID:      rule.ID,
		Kind:        anomaly.Kind,
		Severity:    anomaly.Severity,
		Title:       anomaly.Title,
		Body:        textBody,
		Details:     anomaly.Details,
		Recipients:  rule.Recipients,
		TriggeredAt: now,
	}

	if len(rule.Recipients) > 0 {
		if err := d.mailer.Send(ctx, rule.Recipients, subject, textBody, htmlBody); err != nil {
			history.DeliveryError = err.Error()
			d.log.ErrorContext(ctx, "alert delivery failed",
				slog.String("rule_id", rule.ID.String()),
				slog.Any("error", err))
		} else {
			history.EmailSent = true
			history.DeliveredAt = &now
		}
	}

	if err := d.store.AppendAlertHistory(ctx, history); err != nil {
		return true, fmt.Errorf("record alert history: %w", err)
	}
	if err := d.store.MarkRuleTriggered(ctx, rule.ID, now); err != nil {
		return true, fmt.Errorf("update rule trigger state: %w", err)
	}

	return true, nil
}

// Test sends a synthetic anomaly bypassing the schedule, so operators can
// verify recipients and SMTP settings.
func (d *Dispatcher) Test(ctx context.Context, rule models.AlertRule) (bool, error) {
	anomaly := models.Anomaly{
		Kind:     rule.Kind,
		Severity: models.SeverityInfo,
		Title:    "Test alert",
		Message:  fmt.Sprintf("Test notification for rule %q. If you can read this, delivery works.", rule.Name),
		Details:  map[string]any{"test": true},
	}
	return d.Send(ctx, rule, anomaly, true)
}

func renderText(rule models.AlertRule, anomaly models.Anomaly) string {
	return fmt.Sprintf("%s\n\nRule: %s\nSeverity: %s\n\n%s\n", anomaly.Title, rule.Name, anomaly.Severity, anomaly.Message)
}

func renderHTML(rule models.AlertRule, anomaly models.Anomaly) string {
	color := "#d97706"
	switch anomaly.Severity {
	case models.SeverityCritical:
		color = "#dc2626"
	case models.SeverityInfo:
		color = "#2563eb"
	}

	return fmt.Sprintf(`<html><body style="font-family:sans-serif">
<h2 style="color:%s">%s</h2>
<p><b>Rule:</b> %s<br><b>Severity:</b> %s</p>
<p>%s</p>
</body></html>`,
		color,
		html.EscapeString(anomaly.Title),
		html.EscapeString(rule.Name),
		anomaly.Severity,
		html.EscapeString(anomaly.Message))
}
