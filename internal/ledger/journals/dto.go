package journals

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gearbox-erp/gearbox-erp/internal/ledger/shared"
)

// PostingLineInput describes a journal line for a posting request.
// Amounts are int64 minor units; the balance check is exact integer
// equality, epsilon zero.
type PostingLineInput struct {
	AccountID int64
	Debit     int64
	Credit    int64
	Memo      string
}

// PostingInput groups fields required to create a journal entry.
type PostingInput struct {
	OrgID        int64
	Date         time.Time
	SourceModule string
	SourceID     uuid.UUID
	Memo         string
	PostedBy     int64
	ReversalOf   *int64
	Lines        []PostingLineInput
}

// Validate ensures posting input meets the balance contract before any
// write happens.
func (in PostingInput) Validate() error {
	if in.OrgID == 0 {
		return errors.New("ledger: org required")
	}
	if in.Date.IsZero() {
		return errors.New("ledger: date required")
	}
	if len(in.Lines) < 2 {
		return shared.ErrTooFewLines
	}
	var debit, credit int64
	for idx, line := range in.Lines {
		if line.AccountID == 0 {
			return fmt.Errorf("ledger: line %d missing account", idx)
		}
		if line.Debit < 0 || line.Credit < 0 {
			return fmt.Errorf("ledger: line %d negative amount", idx)
		}
		if line.Debit > 0 && line.Credit > 0 {
			return fmt.Errorf("ledger: line %d: %w", idx, shared.ErrMixedSides)
		}
		if line.Debit == 0 && line.Credit == 0 {
			return fmt.Errorf("ledger: line %d has no amount", idx)
		}
		debit += line.Debit
		credit += line.Credit
	}
	if debit != credit {
		return shared.ErrUnbalanced
	}
	if in.SourceModule == "" {
		return errors.New("ledger: source module required")
	}
	if in.SourceID == uuid.Nil {
		return errors.New("ledger: source id required")
	}
	return nil
}

// ReverseInput wraps parameters for a reversing entry.
type ReverseInput struct {
	OrgID   int64
	EntryID int64
	ActorID int64
	Memo    string
	// Date of the reversing entry; defaults to the original's date.
	TargetDate *time.Time
}
