package journals

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gearbox-erp/gearbox-erp/internal/ledger/periods"
	"github.com/gearbox-erp/gearbox-erp/internal/ledger/shared"
)

// Repository encapsulates DB operations for journals.
type Repository interface {
	List(ctx context.Context, orgID int64) ([]JournalEntry, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes methods available within a posting transaction.
// Period access lives here too so the lock gate and the insert commit or
// roll back together.
type TxRepository interface {
	InsertJournalEntry(ctx context.Context, in PostingInput) (JournalEntry, error)
	InsertJournalLines(ctx context.Context, entryID int64, lines []PostingLineInput) error
	LinkSource(ctx context.Context, orgID int64, module string, ref uuid.UUID, entryID int64) error
	GetJournalWithLines(ctx context.Context, orgID, entryID int64) (JournalEntry, []JournalLine, error)
	AccountExists(ctx context.Context, orgID, accountID int64) (bool, error)

	GetPeriodForUpdate(ctx context.Context, orgID int64, year int, month time.Month) (periods.Period, error)
	RelockPeriod(ctx context.Context, periodID int64) error
}

type repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

func (r *repository) List(ctx context.Context, orgID int64) ([]JournalEntry, error) {
	rows, err := r.db.Query(ctx, `SELECT id, org_id, number, date, source_module, source_id, memo, posted_by, posted_at, reversal_of, created_at
FROM journal_entries WHERE org_id=$1 ORDER BY number DESC`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []JournalEntry
	for rows.Next() {
		var e JournalEntry
		err := rows.Scan(&e.ID, &e.OrgID, &e.Number, &e.Date, &e.SourceModule, &e.SourceID, &e.Memo, &e.PostedBy, &e.PostedAt, &e.ReversalOf, &e.CreatedAt)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	wrapper := &txRepository{tx: tx}
	if err := fn(ctx, wrapper); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) InsertJournalEntry(ctx context.Context, in PostingInput) (JournalEntry, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO journal_entries (org_id, date, source_module, source_id, memo, posted_by, reversal_of)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id, number, posted_at, created_at`,
		in.OrgID, in.Date, in.SourceModule, in.SourceID, in.Memo, in.PostedBy, in.ReversalOf)
	var entry JournalEntry
	entry.OrgID = in.OrgID
	entry.Date = in.Date
	entry.SourceModule = in.SourceModule
	entry.SourceID = in.SourceID
	entry.Memo = in.Memo
	entry.PostedBy = in.PostedBy
	entry.ReversalOf = in.ReversalOf
	if err := row.Scan(&entry.ID, &entry.Number, &entry.PostedAt, &entry.CreatedAt); err != nil {
		return JournalEntry{}, err
	}
	return entry, nil
}

func (r *txRepository) InsertJournalLines(ctx context.Context, entryID int64, lines []PostingLineInput) error {
	for _, line := range lines {
		if _, err := r.tx.Exec(ctx, `INSERT INTO journal_lines (je_id, account_id, debit, credit, memo)
VALUES ($1,$2,$3,$4,$5)`, entryID, line.AccountID, line.Debit, line.Credit, line.Memo); err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepository) LinkSource(ctx context.Context, orgID int64, module string, ref uuid.UUID, entryID int64) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO source_links (org_id, module, ref_id, je_id) VALUES ($1,$2,$3,$4)`, orgID, module, ref, entryID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.ConstraintName == "uq_source_links" {
			return shared.ErrSourceConflict
		}
		return err
	}
	return nil
}

func (r *txRepository) GetJournalWithLines(ctx context.Context, orgID, entryID int64) (JournalEntry, []JournalLine, error) {
	var entry JournalEntry
	err := r.tx.QueryRow(ctx, `SELECT id, org_id, number, date, source_module, source_id, memo, posted_by, posted_at, reversal_of, created_at
FROM journal_entries WHERE org_id=$1 AND id=$2`, orgID, entryID).
		Scan(&entry.ID, &entry.OrgID, &entry.Number, &entry.Date, &entry.SourceModule, &entry.SourceID, &entry.Memo, &entry.PostedBy, &entry.PostedAt, &entry.ReversalOf, &entry.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return JournalEntry{}, nil, shared.ErrJournalNotFound
		}
		return JournalEntry{}, nil, err
	}
	rows, err := r.tx.Query(ctx, `SELECT id, je_id, account_id, debit, credit, memo, created_at
FROM journal_lines WHERE je_id=$1 ORDER BY id ASC`, entryID)
	if err != nil {
		return JournalEntry{}, nil, err
	}
	defer rows.Close()
	var lines []JournalLine
	for rows.Next() {
		var line JournalLine
		if err := rows.Scan(&line.ID, &line.JournalID, &line.AccountID, &line.Debit, &line.Credit, &line.Memo, &line.CreatedAt); err != nil {
			return JournalEntry{}, nil, err
		}
		lines = append(lines, line)
	}
	return entry, lines, rows.Err()
}

// AccountExists reports whether the account is part of the tenant's
// active chart. Checked inside the posting transaction so an id from
// another tenant, or none at all, never reaches journal_lines.
func (r *txRepository) AccountExists(ctx context.Context, orgID, accountID int64) (bool, error) {
	var exists bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE org_id=$1 AND id=$2 AND is_active)`,
		orgID, accountID).Scan(&exists)
	return exists, err
}

// GetPeriodForUpdate fetches the period lock row inside the posting
// transaction so a concurrent lock transition cannot slip between the gate
// check and the insert.
func (r *txRepository) GetPeriodForUpdate(ctx context.Context, orgID int64, year int, month time.Month) (periods.Period, error) {
	var p periods.Period
	var m int
	err := r.tx.QueryRow(ctx, `SELECT id, org_id, year, month, status, unlock_expires_at
FROM period_locks WHERE org_id=$1 AND year=$2 AND month=$3 FOR UPDATE`, orgID, year, int(month)).
		Scan(&p.ID, &p.OrgID, &p.Year, &m, &p.Status, &p.UnlockExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return periods.Period{}, shared.ErrPeriodNotFound
		}
		return periods.Period{}, err
	}
	p.Month = time.Month(m)
	return p, nil
}

func (r *txRepository) RelockPeriod(ctx context.Context, periodID int64) error {
	_, err := r.tx.Exec(ctx, `UPDATE period_locks SET status=$2, unlock_expires_at=NULL, updated_at=NOW() WHERE id=$1`, periodID, periods.StatusLocked)
	return err
}
