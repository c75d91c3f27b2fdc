package periods

import (
	"fmt"
	"time"
)

// Status enumerates valid period lock states.
type Status string

const (
	// StatusUnlocked accepts postings.
	StatusUnlocked Status = "UNLOCKED"
	// StatusLocked rejects postings dated inside the period.
	StatusLocked Status = "LOCKED"
	// StatusAmendment is a time-boxed exception on a locked period.
	StatusAmendment Status = "AMENDMENT"
)

// Period represents the lock state for one tenant calendar month.
type Period struct {
	ID              int64
	OrgID           int64
	Year            int
	Month           time.Month
	Status          Status
	LockedBy        *int64
	LockedAt        *time.Time
	LockReason      string
	UnlockedBy      *int64
	UnlockReason    string
	UnlockExpiresAt *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Key renders the period as YYYY-MM.
func (p Period) Key() string {
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}

// AmendmentExpired reports whether an amendment window has lapsed.
func (p Period) AmendmentExpired(now time.Time) bool {
	return p.Status == StatusAmendment && p.UnlockExpiresAt != nil && now.After(*p.UnlockExpiresAt)
}

// Writable reports whether the period accepts postings at the given instant.
// An expired amendment window counts as locked even before the row is
// flipped back; callers persist the relock when they hold a write handle.
func (p Period) Writable(now time.Time) bool {
	switch p.Status {
	case StatusUnlocked:
		return true
	case StatusAmendment:
		return !p.AmendmentExpired(now)
	default:
		return false
	}
}

// PeriodOf resolves the calendar month a posting date falls into.
func PeriodOf(date time.Time) (int, time.Month) {
	return date.Year(), date.Month()
}
