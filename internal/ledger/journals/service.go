package journals

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gearbox-erp/gearbox-erp/internal/ledger/periods"
	"github.com/gearbox-erp/gearbox-erp/internal/ledger/shared"
	internalShared "github.com/gearbox-erp/gearbox-erp/internal/shared"
)

// AuditPort records posting activity.
type AuditPort interface {
	Record(ctx context.Context, log internalShared.AuditLog) error
}

// Service is the posting engine. It validates the balance contract, gates
// on the period lock inside the same transaction that persists the entry,
// and exposes reversal as the only correction path.
type Service struct {
	repo  Repository
	audit AuditPort
	now   func() time.Time
}

func NewService(repo Repository, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit, now: time.Now}
}

// WithNow overrides the clock for tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// List returns the tenant's journal, newest first.
func (s *Service) List(ctx context.Context, orgID int64) ([]JournalEntry, error) {
	return s.repo.List(ctx, orgID)
}

// Post validates and persists one balanced journal entry atomically.
// A retried posting with the same source reference returns
// ErrSourceAlreadyLinked instead of double-posting.
func (s *Service) Post(ctx context.Context, input PostingInput) (JournalEntry, error) {
	if err := input.Validate(); err != nil {
		return JournalEntry{}, err
	}
	var entry JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := s.gatePeriod(ctx, tx, input.OrgID, input.Date); err != nil {
			return err
		}
		if err := s.resolveAccounts(ctx, tx, input); err != nil {
			return err
		}
		inserted, err := tx.InsertJournalEntry(ctx, input)
		if err != nil {
			return err
		}
		if err := tx.InsertJournalLines(ctx, inserted.ID, input.Lines); err != nil {
			return err
		}
		if err := tx.LinkSource(ctx, input.OrgID, input.SourceModule, input.SourceID, inserted.ID); err != nil {
			if errors.Is(err, shared.ErrSourceConflict) {
				return shared.ErrSourceAlreadyLinked
			}
			return err
		}
		inserted.Lines = toJournalLines(inserted.ID, input.Lines, s.now())
		entry = inserted
		return nil
	})
	if err != nil {
		return JournalEntry{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, internalShared.AuditLog{
			OrgID:    entry.OrgID,
			ActorID:  input.PostedBy,
			Action:   "journal.post",
			Entity:   "journal_entry",
			EntityID: fmt.Sprintf("%d", entry.ID),
			Meta: map[string]any{
				"number":        entry.Number,
				"source_module": input.SourceModule,
				"source_id":     input.SourceID.String(),
				"total":         entry.TotalDebit(),
			},
			At: s.now(),
		})
	}
	return entry, nil
}

// Reverse posts a new entry with debit and credit sides swapped,
// referencing the original. Posted entries themselves are never touched.
func (s *Service) Reverse(ctx context.Context, input ReverseInput) (JournalEntry, error) {
	if input.EntryID == 0 {
		return JournalEntry{}, errors.New("ledger: entry id required")
	}
	var posting PostingInput
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		original, lines, err := tx.GetJournalWithLines(ctx, input.OrgID, input.EntryID)
		if err != nil {
			return err
		}
		targetDate := original.Date
		if input.TargetDate != nil {
			targetDate = *input.TargetDate
		}
		originalID := original.ID
		posting = PostingInput{
			OrgID:        input.OrgID,
			Date:         targetDate,
			SourceModule: original.SourceModule + ":REVERSAL",
			SourceID:     uuid.New(),
			Memo:         defaultReversalMemo(input.Memo, original.Number),
			PostedBy:     input.ActorID,
			ReversalOf:   &originalID,
			Lines:        reverseLines(lines),
		}
		return nil
	})
	if err != nil {
		return JournalEntry{}, err
	}
	return s.Post(ctx, posting)
}

// gatePeriod enforces the period lock with the row held FOR UPDATE,
// lazily relocking an expired amendment window first. An absent row means
// the period was never locked.
func (s *Service) gatePeriod(ctx context.Context, tx TxRepository, orgID int64, date time.Time) error {
	year, month := periods.PeriodOf(date)
	p, err := tx.GetPeriodForUpdate(ctx, orgID, year, month)
	if err != nil {
		if errors.Is(err, shared.ErrPeriodNotFound) {
			return nil
		}
		return err
	}
	now := s.now()
	if p.AmendmentExpired(now) {
		if err := tx.RelockPeriod(ctx, p.ID); err != nil {
			return err
		}
		p.Status = periods.StatusLocked
	}
	if !p.Writable(now) {
		return &shared.PeriodLockedError{
			Year:      p.Year,
			Month:     p.Month,
			Status:    string(p.Status),
			ExpiresAt: p.UnlockExpiresAt,
		}
	}
	return nil
}

// resolveAccounts verifies every line references the tenant's active
// chart. Balance validation proves the arithmetic; this proves the
// accounts are real and belong to the posting tenant.
func (s *Service) resolveAccounts(ctx context.Context, tx TxRepository, input PostingInput) error {
	seen := make(map[int64]struct{}, len(input.Lines))
	for _, line := range input.Lines {
		if _, ok := seen[line.AccountID]; ok {
			continue
		}
		seen[line.AccountID] = struct{}{}
		exists, err := tx.AccountExists(ctx, input.OrgID, line.AccountID)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("ledger: account %d: %w", line.AccountID, shared.ErrAccountNotFound)
		}
	}
	return nil
}

func reverseLines(lines []JournalLine) []PostingLineInput {
	out := make([]PostingLineInput, 0, len(lines))
	for _, line := range lines {
		out = append(out, PostingLineInput{
			AccountID: line.AccountID,
			Debit:     line.Credit,
			Credit:    line.Debit,
			Memo:      line.Memo,
		})
	}
	return out
}

func toJournalLines(entryID int64, lines []PostingLineInput, ts time.Time) []JournalLine {
	out := make([]JournalLine, 0, len(lines))
	for _, line := range lines {
		out = append(out, JournalLine{
			JournalID: entryID,
			AccountID: line.AccountID,
			Debit:     line.Debit,
			Credit:    line.Credit,
			Memo:      line.Memo,
			CreatedAt: ts,
		})
	}
	return out
}

func defaultReversalMemo(memo string, number int64) string {
	if memo != "" {
		return memo
	}
	return fmt.Sprintf("Reversal of JE %d", number)
}
