package jobs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeSendEmail is the task type for sending transactional emails.
	TaskTypeSendEmail = "mail:send"
	// TaskLedgerIntegrityCheck verifies running balances against the
	// chronological prefix sum for every student ledger.
	TaskLedgerIntegrityCheck = "ledger:integrity_check"
	// TaskDuesReminder emails guardians of students with outstanding dues.
	TaskDuesReminder = "dues:reminder"
)

// SendEmailPayload describes the information required to send an email.
type SendEmailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// NewSendEmailTask constructs an Asynq task.
func NewSendEmailTask(payload SendEmailPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSendEmail, data), nil
}

// HandleSendEmailTask processes TaskTypeSendEmail tasks.
func HandleSendEmailTask(ctx context.Context, t *asynq.Task) error {
	var payload SendEmailPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	// Placeholder: integrate with SMTP once the mail gateway lands.
	fmt.Printf("[jobs] send email to %s subject=%s\n", payload.To, payload.Subject)
	return nil
}

// IntegrityCheckPayload scopes a ledger integrity sweep.
type IntegrityCheckPayload struct {
	// SessionID limits the sweep to one session; zero checks everything.
	SessionID int64 `json:"session_id"`
}

// NewIntegrityCheckTask constructs a ledger integrity sweep task.
func NewIntegrityCheckTask(sessionID int64) (*asynq.Task, error) {
	data, err := json.Marshal(IntegrityCheckPayload{SessionID: sessionID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerIntegrityCheck, data), nil
}

// DuesReminderPayload scopes a dues reminder run to one session.
type DuesReminderPayload struct {
	SessionID int64 `json:"session_id"`
}

// NewDuesReminderTask constructs a dues reminder task.
func NewDuesReminderTask(sessionID int64) (*asynq.Task, error) {
	data, err := json.Marshal(DuesReminderPayload{SessionID: sessionID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskDuesReminder, data), nil
}
