package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/shiksha-erp/shiksha-erp/internal/roster"
	"github.com/shiksha-erp/shiksha-erp/internal/shared"
)

// DuesReminderJob notifies guardians of students carrying outstanding dues.
type DuesReminderJob struct {
	roster *roster.Service
	client *Client
	logger *slog.Logger
}

// NewDuesReminderJob constructs a DuesReminderJob. client may be nil, in
// which case reminders are only logged.
func NewDuesReminderJob(rosterService *roster.Service, client *Client, logger *slog.Logger) *DuesReminderJob {
	return &DuesReminderJob{roster: rosterService, client: client, logger: logger}
}

// Handle processes TaskDuesReminder tasks.
func (j *DuesReminderJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload DuesReminderPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.SessionID == 0 {
		return asynq.SkipRetry
	}

	defaulters, err := j.roster.Defaulters(ctx, payload.SessionID)
	if err != nil {
		return err
	}

	for _, d := range defaulters {
		amount := shared.FormatAmount(d.Balance)
		j.logger.Info("dues reminder",
			slog.String("admission_no", d.Student.AdmissionNo),
			slog.String("student", d.Student.Name),
			slog.String("guardian", d.Student.GuardianName),
			slog.String("outstanding", amount))
		if j.client == nil {
			continue
		}
		// Guardian contact details are not on the roster yet; the reminder
		// mail goes to the school office for manual follow-up.
		_, err := j.client.EnqueueSendEmail(ctx, SendEmailPayload{
			To:      "office@school.local",
			Subject: "Fee dues reminder: " + d.Student.Name,
			Body:    d.Student.Name + " (" + d.Student.AdmissionNo + ") has outstanding dues of " + amount + ".",
		})
		if err != nil {
			j.logger.Warn("enqueue reminder mail", slog.Any("error", err))
		}
	}

	j.logger.Info("dues reminder run finished",
		slog.Int64("session_id", payload.SessionID),
		slog.Int("defaulters", len(defaulters)))
	return nil
}
