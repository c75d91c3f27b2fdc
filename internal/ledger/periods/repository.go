package periods

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gearbox-erp/gearbox-erp/internal/ledger/shared"
)

// Repository encapsulates DB operations for period locks.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, orgID int64, year int, month time.Month) (Period, error)
	List(ctx context.Context, orgID int64) ([]Period, error)
	ListExpiredAmendments(ctx context.Context, now time.Time) ([]Period, error)
}

// TxRepository exposes methods available within a transaction.
type TxRepository interface {
	GetForUpdate(ctx context.Context, orgID int64, year int, month time.Month) (Period, error)
	Insert(ctx context.Context, p Period) (Period, error)
	Update(ctx context.Context, p Period) error
}

type repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

const periodColumns = `id, org_id, year, month, status, locked_by, locked_at, lock_reason, unlocked_by, unlock_reason, unlock_expires_at, created_at, updated_at`

func scanPeriod(row pgx.Row) (Period, error) {
	var p Period
	var month int
	err := row.Scan(&p.ID, &p.OrgID, &p.Year, &month, &p.Status, &p.LockedBy, &p.LockedAt, &p.LockReason, &p.UnlockedBy, &p.UnlockReason, &p.UnlockExpiresAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return Period{}, err
	}
	p.Month = time.Month(month)
	return p, nil
}

func (r *repository) Get(ctx context.Context, orgID int64, year int, month time.Month) (Period, error) {
	p, err := scanPeriod(r.db.QueryRow(ctx, `SELECT `+periodColumns+` FROM period_locks WHERE org_id=$1 AND year=$2 AND month=$3`, orgID, year, int(month)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Period{}, shared.ErrPeriodNotFound
		}
		return Period{}, err
	}
	return p, nil
}

func (r *repository) List(ctx context.Context, orgID int64) ([]Period, error) {
	rows, err := r.db.Query(ctx, `SELECT `+periodColumns+` FROM period_locks WHERE org_id=$1 ORDER BY year DESC, month DESC`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Period
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *repository) ListExpiredAmendments(ctx context.Context, now time.Time) ([]Period, error) {
	rows, err := r.db.Query(ctx, `SELECT `+periodColumns+` FROM period_locks WHERE status=$1 AND unlock_expires_at < $2`, StatusAmendment, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Period
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
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

func (r *txRepository) GetForUpdate(ctx context.Context, orgID int64, year int, month time.Month) (Period, error) {
	p, err := scanPeriod(r.tx.QueryRow(ctx, `SELECT `+periodColumns+` FROM period_locks WHERE org_id=$1 AND year=$2 AND month=$3 FOR UPDATE`, orgID, year, int(month)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Period{}, shared.ErrPeriodNotFound
		}
		return Period{}, err
	}
	return p, nil
}

func (r *txRepository) Insert(ctx context.Context, p Period) (Period, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO period_locks (org_id, year, month, status, locked_by, locked_at, lock_reason, unlocked_by, unlock_reason, unlock_expires_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) RETURNING id, created_at, updated_at`,
		p.OrgID, p.Year, int(p.Month), p.Status, p.LockedBy, p.LockedAt, p.LockReason, p.UnlockedBy, p.UnlockReason, p.UnlockExpiresAt)
	if err := row.Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return Period{}, err
	}
	return p, nil
}

func (r *txRepository) Update(ctx context.Context, p Period) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE period_locks SET status=$2, locked_by=$3, locked_at=$4, lock_reason=$5, unlocked_by=$6, unlock_reason=$7, unlock_expires_at=$8, updated_at=NOW() WHERE id=$1`,
		p.ID, p.Status, p.LockedBy, p.LockedAt, p.LockReason, p.UnlockedBy, p.UnlockReason, p.UnlockExpiresAt)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.ErrPeriodNotFound
	}
	return nil
}
