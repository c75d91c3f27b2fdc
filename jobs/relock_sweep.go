package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/gearbox-erp/gearbox-erp/internal/jobs"
	"github.com/gearbox-erp/gearbox-erp/internal/ledger/periods"
)

// Sweeper is the period service surface the sweep needs.
type Sweeper interface {
	SweepExpired(ctx context.Context) ([]periods.Period, error)
}

// NoticeRecipients resolves who gets told a period auto-relocked. A nil
// func disables notices.
type NoticeRecipients func(ctx context.Context, orgID int64) ([]string, error)

// Enqueuer submits follow-up tasks from inside a handler.
type Enqueuer interface {
	EnqueueSendEmail(ctx context.Context, payload SendEmailPayload) (*asynq.TaskInfo, error)
}

// NewRelockSweepHandler returns the handler that flips expired amendment
// windows back to LOCKED and notifies tenant admins. The sweep backs up
// the lazy relock done on the posting path, so periods close on time even
// when nobody posts into them.
func NewRelockSweepHandler(sweeper Sweeper, enqueuer Enqueuer, recipients NoticeRecipients,
	logger *slog.Logger, metrics *jobmetrics.Metrics) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		tracker := metrics.Track("relock_sweep")
		relocked, err := sweeper.SweepExpired(ctx)
		if err != nil {
			logger.Error("relock sweep", slog.Any("error", err))
			return tracker.End(err)
		}
		for _, p := range relocked {
			logger.Info("amendment window expired, period relocked",
				slog.Int64("org_id", p.OrgID), slog.String("period", p.Key()))
			if enqueuer == nil || recipients == nil {
				continue
			}
			to, err := recipients(ctx, p.OrgID)
			if err != nil {
				logger.Warn("relock notice recipients", slog.Int64("org_id", p.OrgID), slog.Any("error", err))
				continue
			}
			for _, addr := range to {
				_, err := enqueuer.EnqueueSendEmail(ctx, SendEmailPayload{
					To:      addr,
					Subject: fmt.Sprintf("Accounting period %s relocked", p.Key()),
					Body: fmt.Sprintf("The amendment window for period %s expired and the period is locked again. "+
						"Further corrections need a new unlock with a documented reason.", p.Key()),
				})
				if err != nil {
					logger.Warn("enqueue relock notice", slog.String("to", addr), slog.Any("error", err))
				}
			}
		}
		if len(relocked) > 0 {
			logger.Info("relock sweep done", slog.Int("relocked", len(relocked)))
		}
		return tracker.End(nil)
	}
}
