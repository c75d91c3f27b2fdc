package adjustments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ValueMovement is one item's absolute adjusted value inside a window,
// feeding the ABC classification.
type ValueMovement struct {
	ItemID int64
	SKU    string
	Name   string
	Value  int64
}

// Repository persists adjustments, their per-tenant reason list and the
// ADJ number sequence.
type Repository interface {
	Create(ctx context.Context, adj Adjustment) (Adjustment, error)
	Get(ctx context.Context, orgID, id int64) (Adjustment, error)
	List(ctx context.Context, orgID int64) ([]Adjustment, error)
	Update(ctx context.Context, adj Adjustment) error
	Delete(ctx context.Context, orgID, id int64) error
	NextNumber(ctx context.Context, orgID int64) (int64, error)
	ListReasons(ctx context.Context, orgID int64) ([]string, error)
	AddReason(ctx context.Context, orgID int64, reason string) error
	ValueMovements(ctx context.Context, orgID int64, since time.Time) ([]ValueMovement, error)
}

type repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, adj Adjustment) (Adjustment, error) {
	trail, err := json.Marshal(adj.Trail)
	if err != nil {
		return Adjustment{}, err
	}
	err = r.db.QueryRow(ctx, `INSERT INTO inventory_adjustments
(org_id, number, type, date, reason, account_key, status, ticket_ref, trail, created_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,NOW(),NOW())
RETURNING id, created_at, updated_at`,
		adj.OrgID, adj.Number, adj.Type, adj.Date, adj.Reason, adj.AccountKey,
		adj.Status, adj.TicketRef, trail, adj.CreatedBy).
		Scan(&adj.ID, &adj.CreatedAt, &adj.UpdatedAt)
	if err != nil {
		return Adjustment{}, err
	}
	for i := range adj.Lines {
		line := &adj.Lines[i]
		line.AdjustmentID = adj.ID
		err = r.db.QueryRow(ctx, `INSERT INTO inventory_adjustment_lines
(adjustment_id, item_id, qty_available, new_qty, current_value, new_value, qty_delta, value_delta)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id`,
			adj.ID, line.ItemID, line.QtyAvailable, line.NewQty,
			line.CurrentValue, line.NewValue, line.QtyDelta, line.ValueDelta).
			Scan(&line.ID)
		if err != nil {
			return Adjustment{}, err
		}
	}
	return adj, nil
}

func (r *repository) Get(ctx context.Context, orgID, id int64) (Adjustment, error) {
	var adj Adjustment
	var trail []byte
	err := r.db.QueryRow(ctx, `SELECT id, org_id, number, type, date, reason, account_key, status,
ticket_ref, trail, journal_entry_id, reversal_entry_id, created_by, created_at, updated_at
FROM inventory_adjustments WHERE org_id=$1 AND id=$2`, orgID, id).
		Scan(&adj.ID, &adj.OrgID, &adj.Number, &adj.Type, &adj.Date, &adj.Reason,
			&adj.AccountKey, &adj.Status, &adj.TicketRef, &trail,
			&adj.JournalEntryID, &adj.ReversalEntryID, &adj.CreatedBy, &adj.CreatedAt, &adj.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Adjustment{}, ErrNotFound
		}
		return Adjustment{}, err
	}
	if len(trail) > 0 {
		if err := json.Unmarshal(trail, &adj.Trail); err != nil {
			return Adjustment{}, fmt.Errorf("decode trail: %w", err)
		}
	}
	lines, err := r.lines(ctx, adj.ID)
	if err != nil {
		return Adjustment{}, err
	}
	adj.Lines = lines
	return adj, nil
}

func (r *repository) lines(ctx context.Context, adjustmentID int64) ([]Line, error) {
	rows, err := r.db.Query(ctx, `SELECT id, adjustment_id, item_id, qty_available, new_qty,
current_value, new_value, qty_delta, value_delta
FROM inventory_adjustment_lines WHERE adjustment_id=$1 ORDER BY id ASC`, adjustmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []Line
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.AdjustmentID, &l.ItemID, &l.QtyAvailable, &l.NewQty,
			&l.CurrentValue, &l.NewValue, &l.QtyDelta, &l.ValueDelta); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (r *repository) List(ctx context.Context, orgID int64) ([]Adjustment, error) {
	rows, err := r.db.Query(ctx, `SELECT id, org_id, number, type, date, reason, account_key, status,
ticket_ref, journal_entry_id, reversal_entry_id, created_by, created_at, updated_at
FROM inventory_adjustments WHERE org_id=$1 ORDER BY id DESC`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Adjustment
	for rows.Next() {
		var adj Adjustment
		if err := rows.Scan(&adj.ID, &adj.OrgID, &adj.Number, &adj.Type, &adj.Date, &adj.Reason,
			&adj.AccountKey, &adj.Status, &adj.TicketRef,
			&adj.JournalEntryID, &adj.ReversalEntryID, &adj.CreatedBy, &adj.CreatedAt, &adj.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, adj)
	}
	return out, rows.Err()
}

func (r *repository) Update(ctx context.Context, adj Adjustment) error {
	trail, err := json.Marshal(adj.Trail)
	if err != nil {
		return err
	}
	cmd, err := r.db.Exec(ctx, `UPDATE inventory_adjustments SET type=$3, date=$4, reason=$5,
account_key=$6, status=$7, ticket_ref=$8, trail=$9, journal_entry_id=$10, reversal_entry_id=$11, updated_at=NOW()
WHERE org_id=$1 AND id=$2`,
		adj.OrgID, adj.ID, adj.Type, adj.Date, adj.Reason, adj.AccountKey,
		adj.Status, adj.TicketRef, trail, adj.JournalEntryID, adj.ReversalEntryID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	if _, err := r.db.Exec(ctx, `DELETE FROM inventory_adjustment_lines WHERE adjustment_id=$1`, adj.ID); err != nil {
		return err
	}
	for i := range adj.Lines {
		line := &adj.Lines[i]
		line.AdjustmentID = adj.ID
		err := r.db.QueryRow(ctx, `INSERT INTO inventory_adjustment_lines
(adjustment_id, item_id, qty_available, new_qty, current_value, new_value, qty_delta, value_delta)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id`,
			adj.ID, line.ItemID, line.QtyAvailable, line.NewQty,
			line.CurrentValue, line.NewValue, line.QtyDelta, line.ValueDelta).
			Scan(&line.ID)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *repository) Delete(ctx context.Context, orgID, id int64) error {
	cmd, err := r.db.Exec(ctx, `DELETE FROM inventory_adjustments WHERE org_id=$1 AND id=$2`, orgID, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	_, err = r.db.Exec(ctx, `DELETE FROM inventory_adjustment_lines WHERE adjustment_id=$1`, id)
	return err
}

func (r *repository) NextNumber(ctx context.Context, orgID int64) (int64, error) {
	var n int64
	err := r.db.QueryRow(ctx, `INSERT INTO number_sequences (org_id, kind, value)
VALUES ($1, 'adjustment', 1)
ON CONFLICT (org_id, kind) DO UPDATE SET value = number_sequences.value + 1
RETURNING value`, orgID).Scan(&n)
	return n, err
}

func (r *repository) ListReasons(ctx context.Context, orgID int64) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT reason FROM adjustment_reasons WHERE org_id=$1 ORDER BY reason ASC`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var reasons []string
	for rows.Next() {
		var reason string
		if err := rows.Scan(&reason); err != nil {
			return nil, err
		}
		reasons = append(reasons, reason)
	}
	return reasons, rows.Err()
}

func (r *repository) AddReason(ctx context.Context, orgID int64, reason string) error {
	_, err := r.db.Exec(ctx, `INSERT INTO adjustment_reasons (org_id, reason)
VALUES ($1,$2) ON CONFLICT (org_id, reason) DO NOTHING`, orgID, reason)
	return err
}

func (r *repository) ValueMovements(ctx context.Context, orgID int64, since time.Time) ([]ValueMovement, error) {
	rows, err := r.db.Query(ctx, `SELECT l.item_id, i.sku, i.name, COALESCE(SUM(ABS(l.value_delta)), 0)
FROM inventory_adjustment_lines l
JOIN inventory_adjustments a ON a.id = l.adjustment_id
JOIN items i ON i.id = l.item_id AND i.org_id = a.org_id
WHERE a.org_id=$1 AND a.status <> 'DRAFT' AND a.date >= $2
GROUP BY l.item_id, i.sku, i.name
ORDER BY 4 DESC`, orgID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ValueMovement
	for rows.Next() {
		var m ValueMovement
		if err := rows.Scan(&m.ItemID, &m.SKU, &m.Name, &m.Value); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
