package alert

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dataflowhq/control-plane/internal/models"
)

type fakeMailer struct {
	sent []string // subjects
	err  error
}

func (f *fakeMailer) Send(_ context.Context, _ []string, subject, _, _ string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, subject)
	return nil
}

type fakeHistoryStore struct {
	history   []models.AlertHistory
	triggered []uuid.UUID
}

func (f *fakeHistoryStore) AppendAlertHistory(_ context.Context, h models.AlertHistory) error {
	f.history = append(f.history, h)
	return nil
}

func (f *fakeHistoryStore) MarkRuleTriggered(_ context.Context, ruleID uuid.UUID, _ time.Time) error {
	f.triggered = append(f.triggered, ruleID)
	return nil
}

// tuesdayNoon is a fixed dispatch instant so weekday and hour gates are
// deterministic.
var tuesdayNoon = time.Date(2026, 3, 3, 12, 0, 0, 0, time.UTC)

func testDispatcher(mailer *fakeMailer, store *fakeHistoryStore) *Dispatcher {
	d := NewDispatcher(mailer, store, slog.Default())
	d.now = func() time.Time { return tuesdayNoon }
	return d
}

func testRule() models.AlertRule {
	return models.AlertRule{
		ID:         uuid.New(),
		Name:       "gap watch",
		Kind:       models.RuleGapDetection,
		Severity:   models.SeverityWarning,
		Recipients: []string{"ops@example.com"},
		Cooldown:   30 * time.Minute,
		Active:     true,
	}
}

func testAnomaly() models.Anomaly {
	return models.Anomaly{
		Kind:     models.RuleGapDetection,
		Severity: models.SeverityWarning,
		Title:    "Event gap detected",
		Message:  "public.orders: no events for 6m0s",
	}
}

func TestSendDeliversAndRecords(t *testing.T) {
	mailer := &fakeMailer{}
	store := &fakeHistoryStore{}
	d := testDispatcher(mailer, store)

	rule := testRule()
	sent, err := d.Send(context.Background(), rule, testAnomaly(), false)
	require.NoError(t, err)
	assert.True(t, sent)

	require.Len(t, store.history, 1)
	assert.True(t, store.history[0].EmailSent)
	assert.Equal(t, rule.ID, store.history[0].RuleID)
	assert.Equal(t, []uuid.UUID{rule.ID}, store.triggered)
	require.Len(t, mailer.sent, 1)
	assert.Contains(t, mailer.sent[0], "Event gap detected")
}

func TestSendGatedWritesNothing(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*models.AlertRule)
	}{
		{"inactive", func(r *models.AlertRule) { r.Active = false }},
		{"wrong weekday", func(r *models.AlertRule) { r.EnabledDays = []time.Weekday{time.Saturday} }},
		{"wrong hour", func(r *models.AlertRule) { r.EnabledHours = []int{3} }},
		{"in cooldown", func(r *models.AlertRule) {
			last := tuesdayNoon.Add(-10 * time.Minute)
			r.LastTriggered = &last
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			mailer := &fakeMailer{}
			store := &fakeHistoryStore{}
			d := testDispatcher(mailer, store)

			rule := testRule()
			tc.mutate(&rule)

			sent, err := d.Send(context.Background(), rule, testAnomaly(), false)
			require.NoError(t, err)
			assert.False(t, sent)
			assert.Empty(t, mailer.sent)
			assert.Empty(t, store.history)
			assert.Empty(t, store.triggered)
		})
	}
}

func TestSendCooldownExpired(t *testing.T) {
	mailer := &fakeMailer{}
	store := &fakeHistoryStore{}
	d := testDispatcher(mailer, store)

	rule := testRule()
	last := tuesdayNoon.Add(-31 * time.Minute)
	rule.LastTriggered = &last

	sent, err := d.Send(context.Background(), rule, testAnomaly(), false)
	require.NoError(t, err)
	assert.True(t, sent)
}

func TestSendDeliveryFailureRecorded(t *testing.T) {
	mailer := &fakeMailer{err: errors.New("connection refused")}
	store := &fakeHistoryStore{}
	d := testDispatcher(mailer, store)

	sent, err := d.Send(context.Background(), testRule(), testAnomaly(), false)
	require.NoError(t, err)
	assert.True(t, sent)

	require.Len(t, store.history, 1)
	assert.False(t, store.history[0].EmailSent)
	assert.Contains(t, store.history[0].DeliveryError, "connection refused")
}

func TestTestBypassesSchedule(t *testing.T) {
	mailer := &fakeMailer{}
	store := &fakeHistoryStore{}
	d := testDispatcher(mailer, store)

	rule := testRule()
	rule.EnabledDays = []time.Weekday{time.Saturday} // would gate a normal send

	sent, err := d.Test(context.Background(), rule)
	require.NoError(t, err)
	assert.True(t, sent)
	require.Len(t, store.history, 1)
}

func TestBuildMessageMultipart(t *testing.T) {
	msg, err := buildMessage("alerts@example.com", []string{"ops@example.com"}, "subject", "text", "<p>html</p>")
	require.NoError(t, err)

	s := string(msg)
	assert.Contains(t, s, "multipart/alternative")
	assert.Contains(t, s, "text/plain")
	assert.Contains(t, s, "text/html")
	assert.Contains(t, s, "<p>html</p>")
}
