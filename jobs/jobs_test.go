package jobs

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/gearbox-erp/gearbox-erp/internal/ledger/periods"
)

type fakeSweeper struct {
	relocked []periods.Period
	err      error
}

func (s *fakeSweeper) SweepExpired(ctx context.Context) ([]periods.Period, error) {
	return s.relocked, s.err
}

type fakeEnqueuer struct {
	sent []SendEmailPayload
}

func (e *fakeEnqueuer) EnqueueSendEmail(ctx context.Context, payload SendEmailPayload) (*asynq.TaskInfo, error) {
	e.sent = append(e.sent, payload)
	return &asynq.TaskInfo{}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRelockSweepNotifiesAdmins(t *testing.T) {
	sweeper := &fakeSweeper{relocked: []periods.Period{
		{OrgID: 1, Year: 2026, Month: time.February, Status: periods.StatusLocked},
		{OrgID: 2, Year: 2026, Month: time.March, Status: periods.StatusLocked},
	}}
	enqueuer := &fakeEnqueuer{}
	recipients := func(ctx context.Context, orgID int64) ([]string, error) {
		if orgID == 1 {
			return []string{"owner@garage-one.test"}, nil
		}
		return nil, nil
	}

	handler := NewRelockSweepHandler(sweeper, enqueuer, recipients, discardLogger(), nil)
	err := handler(context.Background(), NewRelockSweepTask())
	require.NoError(t, err)
	require.Len(t, enqueuer.sent, 1)
	require.Equal(t, "owner@garage-one.test", enqueuer.sent[0].To)
	require.Contains(t, enqueuer.sent[0].Subject, "2026-02")
}

func TestRelockSweepWithoutNotifier(t *testing.T) {
	sweeper := &fakeSweeper{relocked: []periods.Period{{OrgID: 1, Year: 2026, Month: time.January}}}
	handler := NewRelockSweepHandler(sweeper, nil, nil, discardLogger(), nil)
	require.NoError(t, handler(context.Background(), NewRelockSweepTask()))
}

type fakeTotals struct {
	totals []OrgLedgerTotals
}

func (f *fakeTotals) LedgerTotals(ctx context.Context) ([]OrgLedgerTotals, error) {
	return f.totals, nil
}

func TestGLIntegrityPassesOnBalancedLedger(t *testing.T) {
	repo := &fakeTotals{totals: []OrgLedgerTotals{
		{OrgID: 1, Debit: 10000, Credit: 10000},
		{OrgID: 2, Debit: 0, Credit: 0},
	}}
	handler := NewGLIntegrityHandler(repo, discardLogger(), nil)
	require.NoError(t, handler(context.Background(), NewGLIntegrityTask()))
}

func TestGLIntegrityLogsImbalanceWithoutFailing(t *testing.T) {
	repo := &fakeTotals{totals: []OrgLedgerTotals{{OrgID: 1, Debit: 10000, Credit: 9999}}}
	handler := NewGLIntegrityHandler(repo, discardLogger(), nil)
	// An imbalance is an alert, not a retryable task failure.
	require.NoError(t, handler(context.Background(), NewGLIntegrityTask()))
}

func TestSendEmailHandlerSkipsBadPayload(t *testing.T) {
	handler := NewSendEmailHandler(nil, discardLogger())
	err := handler(context.Background(), asynq.NewTask(TaskTypeSendEmail, []byte("{not json")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}
