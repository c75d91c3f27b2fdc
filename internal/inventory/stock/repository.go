package stock

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides item stock access with conditional writes.
type Repository interface {
	Get(ctx context.Context, orgID, itemID int64) (Item, error)
	List(ctx context.Context, orgID int64) ([]Item, error)
	// UpdateStock writes qty/unit cost conditionally on the version the
	// item was read at, returning ErrVersionConflict when it lost a race.
	UpdateStock(ctx context.Context, item Item) (Item, error)
}

type repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

func (r *repository) Get(ctx context.Context, orgID, itemID int64) (Item, error) {
	var it Item
	err := r.db.QueryRow(ctx, `SELECT id, org_id, sku, name, qty, unit_cost, version, created_at, updated_at
FROM items WHERE org_id=$1 AND id=$2`, orgID, itemID).
		Scan(&it.ID, &it.OrgID, &it.SKU, &it.Name, &it.Qty, &it.UnitCost, &it.Version, &it.CreatedAt, &it.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, ErrItemNotFound
		}
		return Item{}, err
	}
	return it, nil
}

func (r *repository) List(ctx context.Context, orgID int64) ([]Item, error) {
	rows, err := r.db.Query(ctx, `SELECT id, org_id, sku, name, qty, unit_cost, version, created_at, updated_at
FROM items WHERE org_id=$1 ORDER BY sku ASC`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.OrgID, &it.SKU, &it.Name, &it.Qty, &it.UnitCost, &it.Version, &it.CreatedAt, &it.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *repository) UpdateStock(ctx context.Context, item Item) (Item, error) {
	cmd, err := r.db.Exec(ctx, `UPDATE items SET qty=$3, unit_cost=$4, version=version+1, updated_at=NOW()
WHERE org_id=$1 AND id=$2 AND version=$5`, item.OrgID, item.ID, item.Qty, item.UnitCost, item.Version)
	if err != nil {
		return Item{}, err
	}
	if cmd.RowsAffected() == 0 {
		// Either the item vanished or the version moved under us.
		if _, getErr := r.Get(ctx, item.OrgID, item.ID); getErr != nil {
			return Item{}, getErr
		}
		return Item{}, ErrVersionConflict
	}
	item.Version++
	return item, nil
}
