package periods

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gearbox-erp/gearbox-erp/internal/ledger/shared"
	internalShared "github.com/gearbox-erp/gearbox-erp/internal/shared"
)

// AuditPort records lock transitions.
type AuditPort interface {
	Record(ctx context.Context, log internalShared.AuditLog) error
}

// Service owns the period lock state machine:
//
//	UNLOCKED -(lock)-> LOCKED -(unlock)-> AMENDMENT -(relock|expiry)-> LOCKED
//
// Expiry is evaluated lazily on every writability check and proactively by
// the relock sweep; both paths are idempotent.
type Service struct {
	repo  Repository
	audit AuditPort
	now   func() time.Time
}

func NewService(repo Repository, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit, now: time.Now}
}

// WithNow overrides the clock, used by tests to advance time.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// LockInput carries an explicit lock request.
type LockInput struct {
	OrgID  int64
	Year   int
	Month  time.Month
	Actor  internalShared.Identity
	Reason string
}

// UnlockInput opens an amendment window on a locked period.
type UnlockInput struct {
	OrgID       int64
	Year        int
	Month       time.Month
	Actor       internalShared.Identity
	Reason      string
	WindowHours int
}

// ExtendInput lengthens an open amendment window.
type ExtendInput struct {
	OrgID           int64
	Year            int
	Month           time.Month
	Actor           internalShared.Identity
	AdditionalHours int
}

// FiscalYearInput locks twelve consecutive months in one call.
type FiscalYearInput struct {
	StartYear  int
	StartMonth time.Month
	OrgID      int64
	Actor      internalShared.Identity
	Reason     string
}

// Lock moves a period to LOCKED. Permitted from UNLOCKED and AMENDMENT;
// locking an absent row provisions it locked.
func (s *Service) Lock(ctx context.Context, input LockInput) (Period, error) {
	if err := validateMonth(input.Year, input.Month); err != nil {
		return Period{}, err
	}
	if !input.Actor.CanLockPeriods() {
		return Period{}, fmt.Errorf("lock period: %w", ErrForbidden)
	}
	var out Period
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := s.lockOne(ctx, tx, input.OrgID, input.Year, input.Month, input.Actor.UserID, input.Reason)
		if err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return Period{}, err
	}
	s.recordAudit(ctx, out, input.Actor.UserID, "period.lock", map[string]any{"reason": input.Reason})
	return out, nil
}

// Unlock opens an amendment window on a LOCKED period. The reason is
// mandatory and must carry at least ten characters.
func (s *Service) Unlock(ctx context.Context, input UnlockInput) (Period, error) {
	if err := validateMonth(input.Year, input.Month); err != nil {
		return Period{}, err
	}
	if !input.Actor.CanUnlockPeriods() {
		return Period{}, fmt.Errorf("unlock period: %w", ErrForbidden)
	}
	if len(strings.TrimSpace(input.Reason)) < 10 {
		return Period{}, shared.ErrUnlockReasonTooShort
	}
	if input.WindowHours <= 0 {
		return Period{}, errors.New("ledger: unlock window hours must be positive")
	}
	now := s.now()
	var out Period
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.GetForUpdate(ctx, input.OrgID, input.Year, input.Month)
		if err != nil {
			return err
		}
		if err := s.relockIfExpired(ctx, tx, &p); err != nil {
			return err
		}
		if p.Status != StatusLocked {
			return &shared.TransitionError{Entity: "period " + p.Key(), Current: string(p.Status), Attempted: string(StatusAmendment)}
		}
		expires := now.Add(time.Duration(input.WindowHours) * time.Hour)
		actorID := input.Actor.UserID
		p.Status = StatusAmendment
		p.UnlockedBy = &actorID
		p.UnlockReason = strings.TrimSpace(input.Reason)
		p.UnlockExpiresAt = &expires
		if err := tx.Update(ctx, p); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return Period{}, err
	}
	s.recordAudit(ctx, out, input.Actor.UserID, "period.unlock", map[string]any{
		"reason":       out.UnlockReason,
		"window_hours": input.WindowHours,
		"expires_at":   out.UnlockExpiresAt,
	})
	return out, nil
}

// Extend pushes an open amendment window further out.
func (s *Service) Extend(ctx context.Context, input ExtendInput) (Period, error) {
	if err := validateMonth(input.Year, input.Month); err != nil {
		return Period{}, err
	}
	if !input.Actor.CanUnlockPeriods() {
		return Period{}, fmt.Errorf("extend unlock: %w", ErrForbidden)
	}
	if input.AdditionalHours <= 0 {
		return Period{}, errors.New("ledger: additional hours must be positive")
	}
	var out Period
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.GetForUpdate(ctx, input.OrgID, input.Year, input.Month)
		if err != nil {
			return err
		}
		if err := s.relockIfExpired(ctx, tx, &p); err != nil {
			return err
		}
		if p.Status != StatusAmendment || p.UnlockExpiresAt == nil {
			return &shared.TransitionError{Entity: "period " + p.Key(), Current: string(p.Status), Attempted: string(StatusAmendment)}
		}
		expires := p.UnlockExpiresAt.Add(time.Duration(input.AdditionalHours) * time.Hour)
		p.UnlockExpiresAt = &expires
		if err := tx.Update(ctx, p); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return Period{}, err
	}
	s.recordAudit(ctx, out, input.Actor.UserID, "period.extend_unlock", map[string]any{
		"additional_hours": input.AdditionalHours,
		"expires_at":       out.UnlockExpiresAt,
	})
	return out, nil
}

// Relock closes an amendment window early.
func (s *Service) Relock(ctx context.Context, input LockInput) (Period, error) {
	if err := validateMonth(input.Year, input.Month); err != nil {
		return Period{}, err
	}
	if !input.Actor.CanLockPeriods() {
		return Period{}, fmt.Errorf("relock period: %w", ErrForbidden)
	}
	now := s.now()
	var out Period
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.GetForUpdate(ctx, input.OrgID, input.Year, input.Month)
		if err != nil {
			return err
		}
		if p.Status != StatusAmendment {
			return &shared.TransitionError{Entity: "period " + p.Key(), Current: string(p.Status), Attempted: string(StatusLocked)}
		}
		actorID := input.Actor.UserID
		p.Status = StatusLocked
		p.LockedBy = &actorID
		p.LockedAt = &now
		p.UnlockExpiresAt = nil
		if err := tx.Update(ctx, p); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return Period{}, err
	}
	s.recordAudit(ctx, out, input.Actor.UserID, "period.relock", map[string]any{"reason": input.Reason})
	return out, nil
}

// LockFiscalYear locks twelve consecutive periods all-or-nothing. Any month
// not currently UNLOCKED (or absent) fails the whole call and no month's
// status changes.
func (s *Service) LockFiscalYear(ctx context.Context, input FiscalYearInput) ([]Period, error) {
	if err := validateMonth(input.StartYear, input.StartMonth); err != nil {
		return nil, err
	}
	if !input.Actor.CanLockPeriods() {
		return nil, fmt.Errorf("lock fiscal year: %w", ErrForbidden)
	}
	var out []Period
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		year, month := input.StartYear, input.StartMonth
		for i := 0; i < 12; i++ {
			p, err := s.lockOne(ctx, tx, input.OrgID, year, month, input.Actor.UserID, input.Reason)
			if err != nil {
				return fmt.Errorf("fiscal year lock %04d-%02d: %w", year, int(month), err)
			}
			out = append(out, p)
			if month == time.December {
				year, month = year+1, time.January
			} else {
				month++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, p := range out {
		s.recordAudit(ctx, p, input.Actor.UserID, "period.lock", map[string]any{"reason": input.Reason, "fiscal_year": input.StartYear})
	}
	return out, nil
}

// AssertWritable gates postings dated inside the period, lazily relocking an
// expired amendment window before deciding.
func (s *Service) AssertWritable(ctx context.Context, orgID int64, date time.Time) error {
	year, month := PeriodOf(date)
	p, err := s.repo.Get(ctx, orgID, year, month)
	if err != nil {
		if errors.Is(err, shared.ErrPeriodNotFound) {
			// Never locked: writable.
			return nil
		}
		return err
	}
	now := s.now()
	if p.AmendmentExpired(now) {
		err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			fresh, err := tx.GetForUpdate(ctx, orgID, year, month)
			if err != nil {
				return err
			}
			if err := s.relockIfExpired(ctx, tx, &fresh); err != nil {
				return err
			}
			p = fresh
			return nil
		})
		if err != nil {
			return err
		}
	}
	if !p.Writable(now) {
		return lockedError(p)
	}
	return nil
}

// Status returns the period's current state with expiry applied as a view.
func (s *Service) Status(ctx context.Context, orgID int64, year int, month time.Month) (Period, error) {
	p, err := s.repo.Get(ctx, orgID, year, month)
	if err != nil {
		if errors.Is(err, shared.ErrPeriodNotFound) {
			return Period{OrgID: orgID, Year: year, Month: month, Status: StatusUnlocked}, nil
		}
		return Period{}, err
	}
	if p.AmendmentExpired(s.now()) {
		p.Status = StatusLocked
		p.UnlockExpiresAt = nil
	}
	return p, nil
}

// List returns all lock rows for the tenant.
func (s *Service) List(ctx context.Context, orgID int64) ([]Period, error) {
	return s.repo.List(ctx, orgID)
}

// SweepExpired flips every expired amendment window back to LOCKED and
// returns the periods it relocked. Re-running on already-locked periods is
// a no-op.
func (s *Service) SweepExpired(ctx context.Context) ([]Period, error) {
	now := s.now()
	expired, err := s.repo.ListExpiredAmendments(ctx, now)
	if err != nil {
		return nil, err
	}
	var relocked []Period
	for _, p := range expired {
		err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			fresh, err := tx.GetForUpdate(ctx, p.OrgID, p.Year, p.Month)
			if err != nil {
				return err
			}
			if !fresh.AmendmentExpired(now) {
				return nil
			}
			if err := s.relockIfExpired(ctx, tx, &fresh); err != nil {
				return err
			}
			relocked = append(relocked, fresh)
			return nil
		})
		if err != nil {
			return relocked, err
		}
	}
	return relocked, nil
}

func (s *Service) lockOne(ctx context.Context, tx TxRepository, orgID int64, year int, month time.Month, actorID int64, reason string) (Period, error) {
	now := s.now()
	p, err := tx.GetForUpdate(ctx, orgID, year, month)
	if errors.Is(err, shared.ErrPeriodNotFound) {
		created := Period{
			OrgID:      orgID,
			Year:       year,
			Month:      month,
			Status:     StatusLocked,
			LockedBy:   &actorID,
			LockedAt:   &now,
			LockReason: reason,
		}
		return tx.Insert(ctx, created)
	}
	if err != nil {
		return Period{}, err
	}
	if err := s.relockIfExpired(ctx, tx, &p); err != nil {
		return Period{}, err
	}
	if p.Status != StatusUnlocked {
		return Period{}, &shared.TransitionError{Entity: "period " + p.Key(), Current: string(p.Status), Attempted: string(StatusLocked)}
	}
	p.Status = StatusLocked
	p.LockedBy = &actorID
	p.LockedAt = &now
	p.LockReason = reason
	p.UnlockedBy = nil
	p.UnlockReason = ""
	p.UnlockExpiresAt = nil
	if err := tx.Update(ctx, p); err != nil {
		return Period{}, err
	}
	return p, nil
}

// relockIfExpired applies the lazy auto-relock inside an open transaction.
// The period stays AMENDMENT in storage only while its window is open. A
// failed write aborts the caller's transaction so the in-memory status and
// the stored row never diverge.
func (s *Service) relockIfExpired(ctx context.Context, tx TxRepository, p *Period) error {
	if !p.AmendmentExpired(s.now()) {
		return nil
	}
	p.Status = StatusLocked
	p.UnlockExpiresAt = nil
	return tx.Update(ctx, *p)
}

func (s *Service) recordAudit(ctx context.Context, p Period, actorID int64, action string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, internalShared.AuditLog{
		OrgID:    p.OrgID,
		ActorID:  actorID,
		Action:   action,
		Entity:   "period_lock",
		EntityID: p.Key(),
		Meta:     meta,
		At:       s.now(),
	})
}

func lockedError(p Period) error {
	return &shared.PeriodLockedError{
		Year:      p.Year,
		Month:     p.Month,
		Status:    string(p.Status),
		ExpiresAt: p.UnlockExpiresAt,
	}
}

func validateMonth(year int, month time.Month) error {
	if year < 2000 || year > 2200 {
		return errors.New("ledger: year out of range")
	}
	if month < time.January || month > time.December {
		return errors.New("ledger: month out of range")
	}
	return nil
}

var ErrForbidden = errors.New("ledger: role not permitted")
