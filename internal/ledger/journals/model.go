package journals

import (
	"time"

	"github.com/google/uuid"
)

// JournalEntry is an append-only record of a balanced financial event.
// Entries are never edited or deleted after posting; corrections are new
// reversing entries referencing the original.
type JournalEntry struct {
	ID           int64
	OrgID        int64
	Number       int64
	Date         time.Time
	SourceModule string
	SourceID     uuid.UUID
	Memo         string
	PostedBy     int64
	PostedAt     time.Time
	ReversalOf   *int64
	CreatedAt    time.Time
	Lines        []JournalLine
}

// JournalLine stores a debit or credit amount, in minor units, for one
// account. Exactly one of the two sides is non-zero.
type JournalLine struct {
	ID        int64
	JournalID int64
	AccountID int64
	Debit     int64
	Credit    int64
	Memo      string
	CreatedAt time.Time
}

// TotalDebit sums the entry's debit side.
func (e JournalEntry) TotalDebit() int64 {
	var total int64
	for _, line := range e.Lines {
		total += line.Debit
	}
	return total
}

// TotalCredit sums the entry's credit side.
func (e JournalEntry) TotalCredit() int64 {
	var total int64
	for _, line := range e.Lines {
		total += line.Credit
	}
	return total
}
