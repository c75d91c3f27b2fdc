package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeSendEmail sends one transactional email.
	TaskTypeSendEmail = "mail:send"
	// TaskTypeRelockSweep relocks expired amendment windows.
	TaskTypeRelockSweep = "periods:relock_sweep"
	// TaskTypeGLIntegrity verifies the ledger balance invariant per tenant.
	TaskTypeGLIntegrity = "ledger:gl_integrity"
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

// NewRelockSweepTask constructs the periodic relock sweep task.
func NewRelockSweepTask() *asynq.Task {
	return asynq.NewTask(TaskTypeRelockSweep, nil)
}

// NewGLIntegrityTask constructs the periodic ledger integrity task.
func NewGLIntegrityTask() *asynq.Task {
	return asynq.NewTask(TaskTypeGLIntegrity, nil)
}

// Mailer delivers one email. The SMTP implementation lives in mailer.go;
// tests inject fakes.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// NewSendEmailHandler returns the handler processing TaskTypeSendEmail.
// A nil mailer logs and drops the message, which keeps dev environments
// working without an SMTP endpoint.
func NewSendEmailHandler(mailer Mailer, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload SendEmailPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		if mailer == nil {
			logger.Info("mail dropped, no mailer configured",
				slog.String("to", payload.To), slog.String("subject", payload.Subject))
			return nil
		}
		if err := mailer.Send(ctx, payload.To, payload.Subject, payload.Body); err != nil {
			logger.Error("send mail", slog.String("to", payload.To), slog.Any("error", err))
			return err
		}
		return nil
	}
}
