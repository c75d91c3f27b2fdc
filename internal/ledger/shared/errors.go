package shared

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnbalanced indicates debit != credit.
	ErrUnbalanced = errors.New("ledger: journal lines must balance")
	// ErrTooFewLines indicates less than two lines.
	ErrTooFewLines = errors.New("ledger: journal requires at least two lines")
	// ErrMixedSides indicates a line carrying both a debit and a credit.
	ErrMixedSides = errors.New("ledger: line must be debit or credit, not both")
	// ErrAccountNotFound indicates no provisioned account for the tenant.
	ErrAccountNotFound = errors.New("ledger: account not found")
	// ErrPeriodLocked indicates the target period rejects postings.
	ErrPeriodLocked = errors.New("ledger: period locked")
	// ErrPeriodNotFound indicates no period row for the tenant and month.
	ErrPeriodNotFound = errors.New("ledger: period not found")
	// ErrInvalidTransition indicates a state-machine violation.
	ErrInvalidTransition = errors.New("ledger: invalid status transition")
	// ErrConcurrentModification indicates the optimistic retry budget ran out.
	ErrConcurrentModification = errors.New("ledger: concurrent modification, retry the operation")
	// ErrJournalNotFound indicates missing entry.
	ErrJournalNotFound = errors.New("ledger: journal entry not found")
	// ErrSourceAlreadyLinked indicates idempotency conflict.
	ErrSourceAlreadyLinked = errors.New("ledger: source already linked")
	// ErrSourceConflict indicates the source link already exists.
	ErrSourceConflict = errors.New("ledger: source link conflict")
	// ErrUnlockReasonTooShort rejects unlock reasons under ten characters.
	ErrUnlockReasonTooShort = errors.New("ledger: unlock reason must be at least 10 characters")
)

// PeriodLockedError carries enough structure for an actionable UI message.
type PeriodLockedError struct {
	Year      int
	Month     time.Month
	Status    string
	ExpiresAt *time.Time
}

func (e *PeriodLockedError) Error() string {
	if e.ExpiresAt != nil {
		return fmt.Sprintf("ledger: period %d-%02d is %s, amendment window expired %s", e.Year, e.Month, e.Status, e.ExpiresAt.Format(time.RFC3339))
	}
	return fmt.Sprintf("ledger: period %d-%02d is %s", e.Year, e.Month, e.Status)
}

// Unwrap makes the error match ErrPeriodLocked.
func (e *PeriodLockedError) Unwrap() error { return ErrPeriodLocked }

// TransitionError names the current and attempted states.
type TransitionError struct {
	Entity    string
	Current   string
	Attempted string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("ledger: %s cannot move from %s to %s", e.Entity, e.Current, e.Attempted)
}

// Unwrap makes the error match ErrInvalidTransition.
func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }
