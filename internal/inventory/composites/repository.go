package composites

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists composite definitions and build history.
type Repository interface {
	Create(ctx context.Context, comp Composite) (Composite, error)
	Get(ctx context.Context, orgID, id int64) (Composite, error)
	List(ctx context.Context, orgID int64) ([]Composite, error)
	Update(ctx context.Context, comp Composite) error
	Delete(ctx context.Context, orgID, id int64) error
	CreateBuildRecord(ctx context.Context, record BuildRecord) (BuildRecord, error)
	ListBuildRecords(ctx context.Context, orgID, compositeID int64) ([]BuildRecord, error)
}

type repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, comp Composite) (Composite, error) {
	err := r.db.QueryRow(ctx, `INSERT INTO composite_items
(org_id, item_id, name, kind, pricing_mode, fixed_price, markup_pct, track_accounting, auto_build, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW(),NOW())
RETURNING id, created_at, updated_at`,
		comp.OrgID, comp.ItemID, comp.Name, comp.Kind, comp.PricingMode,
		comp.FixedPrice, comp.MarkupPct, comp.TrackAccounting, comp.AutoBuild).
		Scan(&comp.ID, &comp.CreatedAt, &comp.UpdatedAt)
	if err != nil {
		return Composite{}, err
	}
	if err := r.insertComponents(ctx, &comp); err != nil {
		return Composite{}, err
	}
	return comp, nil
}

func (r *repository) insertComponents(ctx context.Context, comp *Composite) error {
	for i := range comp.Components {
		c := &comp.Components[i]
		c.CompositeID = comp.ID
		err := r.db.QueryRow(ctx, `INSERT INTO composite_components
(composite_id, item_id, qty_per_unit, waste_pct)
VALUES ($1,$2,$3,$4) RETURNING id`,
			comp.ID, c.ItemID, c.QtyPerUnit, c.WastePct).Scan(&c.ID)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *repository) Get(ctx context.Context, orgID, id int64) (Composite, error) {
	var comp Composite
	err := r.db.QueryRow(ctx, `SELECT id, org_id, item_id, name, kind, pricing_mode, fixed_price,
markup_pct, track_accounting, auto_build, created_at, updated_at
FROM composite_items WHERE org_id=$1 AND id=$2`, orgID, id).
		Scan(&comp.ID, &comp.OrgID, &comp.ItemID, &comp.Name, &comp.Kind, &comp.PricingMode,
			&comp.FixedPrice, &comp.MarkupPct, &comp.TrackAccounting, &comp.AutoBuild,
			&comp.CreatedAt, &comp.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Composite{}, ErrCompositeNotFound
		}
		return Composite{}, err
	}
	rows, err := r.db.Query(ctx, `SELECT id, composite_id, item_id, qty_per_unit, waste_pct
FROM composite_components WHERE composite_id=$1 ORDER BY id ASC`, comp.ID)
	if err != nil {
		return Composite{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var c Component
		if err := rows.Scan(&c.ID, &c.CompositeID, &c.ItemID, &c.QtyPerUnit, &c.WastePct); err != nil {
			return Composite{}, err
		}
		comp.Components = append(comp.Components, c)
	}
	return comp, rows.Err()
}

func (r *repository) List(ctx context.Context, orgID int64) ([]Composite, error) {
	rows, err := r.db.Query(ctx, `SELECT id, org_id, item_id, name, kind, pricing_mode, fixed_price,
markup_pct, track_accounting, auto_build, created_at, updated_at
FROM composite_items WHERE org_id=$1 ORDER BY name ASC`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Composite
	for rows.Next() {
		var comp Composite
		if err := rows.Scan(&comp.ID, &comp.OrgID, &comp.ItemID, &comp.Name, &comp.Kind, &comp.PricingMode,
			&comp.FixedPrice, &comp.MarkupPct, &comp.TrackAccounting, &comp.AutoBuild,
			&comp.CreatedAt, &comp.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, comp)
	}
	return out, rows.Err()
}

func (r *repository) Update(ctx context.Context, comp Composite) error {
	cmd, err := r.db.Exec(ctx, `UPDATE composite_items SET item_id=$3, name=$4, kind=$5, pricing_mode=$6,
fixed_price=$7, markup_pct=$8, track_accounting=$9, auto_build=$10, updated_at=NOW()
WHERE org_id=$1 AND id=$2`,
		comp.OrgID, comp.ID, comp.ItemID, comp.Name, comp.Kind, comp.PricingMode,
		comp.FixedPrice, comp.MarkupPct, comp.TrackAccounting, comp.AutoBuild)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrCompositeNotFound
	}
	if _, err := r.db.Exec(ctx, `DELETE FROM composite_components WHERE composite_id=$1`, comp.ID); err != nil {
		return err
	}
	return r.insertComponents(ctx, &comp)
}

func (r *repository) Delete(ctx context.Context, orgID, id int64) error {
	cmd, err := r.db.Exec(ctx, `DELETE FROM composite_items WHERE org_id=$1 AND id=$2`, orgID, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrCompositeNotFound
	}
	_, err = r.db.Exec(ctx, `DELETE FROM composite_components WHERE composite_id=$1`, id)
	return err
}

func (r *repository) CreateBuildRecord(ctx context.Context, record BuildRecord) (BuildRecord, error) {
	components, err := json.Marshal(record.Components)
	if err != nil {
		return BuildRecord{}, err
	}
	err = r.db.QueryRow(ctx, `INSERT INTO composite_builds
(org_id, composite_id, kind, qty, unit_cost, total_value, journal_entry_id, components, notes, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,NOW())
RETURNING id, created_at`,
		record.OrgID, record.CompositeID, record.Kind, record.Qty, record.UnitCost,
		record.TotalValue, record.JournalEntryID, components, record.Notes, record.CreatedBy).
		Scan(&record.ID, &record.CreatedAt)
	if err != nil {
		return BuildRecord{}, err
	}
	return record, nil
}

func (r *repository) ListBuildRecords(ctx context.Context, orgID, compositeID int64) ([]BuildRecord, error) {
	rows, err := r.db.Query(ctx, `SELECT id, org_id, composite_id, kind, qty, unit_cost, total_value,
journal_entry_id, components, notes, created_by, created_at
FROM composite_builds WHERE org_id=$1 AND composite_id=$2 ORDER BY id DESC`, orgID, compositeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []BuildRecord
	for rows.Next() {
		var record BuildRecord
		var components []byte
		if err := rows.Scan(&record.ID, &record.OrgID, &record.CompositeID, &record.Kind,
			&record.Qty, &record.UnitCost, &record.TotalValue,
			&record.JournalEntryID, &components, &record.Notes, &record.CreatedBy, &record.CreatedAt); err != nil {
			return nil, err
		}
		if len(components) > 0 {
			if err := json.Unmarshal(components, &record.Components); err != nil {
				return nil, fmt.Errorf("decode build components: %w", err)
			}
		}
		out = append(out, record)
	}
	return out, rows.Err()
}
